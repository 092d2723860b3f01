package inmemory

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/sharetube/watchsync/internal/repository/connection"
	"golang.org/x/exp/maps"
)

type repo struct {
	members map[connection.Conn]connection.Member
	conns   map[string]connection.Conn
	rooms   map[string]map[string]connection.Conn
	mu      sync.RWMutex
	logger  *slog.Logger
}

// NewRepo creates the process-wide connection registry. It is created once at
// start and injected into the relay.
func NewRepo(logger *slog.Logger) *repo {
	return &repo{
		members: make(map[connection.Conn]connection.Member),
		conns:   make(map[string]connection.Conn),
		rooms:   make(map[string]map[string]connection.Conn),
		logger:  logger,
	}
}

// Add registers conn for the peer. A peer that resumes while its previous
// connection is still registered replaces it; the old connection is closed.
func (r *repo) Add(conn connection.Conn, member connection.Member) error {
	funcName := "connection.inmemory.Add"
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.Debug(funcName, "room_id", member.RoomID, "peer_id", member.PeerID)
	if _, ok := r.members[conn]; ok {
		r.logger.Info(funcName, "error", connection.ErrAlreadyExists)
		return connection.ErrAlreadyExists
	}

	if old, ok := r.conns[member.PeerID]; ok {
		r.logger.Info(funcName, "result", "replacing stale connection", "peer_id", member.PeerID)
		r.removeLocked(old)
		old.Close()
	}

	r.members[conn] = member
	r.conns[member.PeerID] = conn
	room, ok := r.rooms[member.RoomID]
	if !ok {
		room = make(map[string]connection.Conn)
		r.rooms[member.RoomID] = room
	}
	room[member.PeerID] = conn

	r.logger.Debug(funcName, "result", "OK")
	return nil
}

func (r *repo) RemoveByConn(conn connection.Conn) (connection.Member, error) {
	funcName := "connection.inmemory.RemoveByConn"
	r.mu.Lock()
	defer r.mu.Unlock()

	member, ok := r.members[conn]
	if !ok {
		r.logger.Debug(funcName, "error", connection.ErrNotFound)
		return connection.Member{}, connection.ErrNotFound
	}
	r.removeLocked(conn)
	conn.Close()

	r.logger.Debug(funcName, "result", member.PeerID)
	return member, nil
}

func (r *repo) RemoveByPeerID(peerID string) error {
	funcName := "connection.inmemory.RemoveByPeerID"
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.Debug(funcName, "peer_id", peerID)
	conn, ok := r.conns[peerID]
	if !ok {
		r.logger.Info(funcName, "error", connection.ErrNotFound)
		return connection.ErrNotFound
	}
	r.removeLocked(conn)
	conn.Close()

	r.logger.Debug(funcName, "result", "OK")
	return nil
}

func (r *repo) GetMember(conn connection.Conn) (connection.Member, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	member, ok := r.members[conn]
	if !ok {
		return connection.Member{}, connection.ErrNotFound
	}

	return member, nil
}

func (r *repo) GetConn(peerID string) (connection.Conn, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[peerID]
	if !ok {
		return nil, connection.ErrNotFound
	}

	return conn, nil
}

// ListRoomConns returns every connection in the room except the one of
// exceptPeerID, which may be empty.
func (r *repo) ListRoomConns(roomID, exceptPeerID string) []connection.Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room := r.rooms[roomID]
	peerIDs := maps.Keys(room)
	sort.Strings(peerIDs)

	conns := make([]connection.Conn, 0, len(peerIDs))
	for _, peerID := range peerIDs {
		if peerID == exceptPeerID {
			continue
		}
		conns = append(conns, room[peerID])
	}

	return conns
}

func (r *repo) RoomSize(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.rooms[roomID])
}

func (r *repo) RoomIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := maps.Keys(r.rooms)
	sort.Strings(ids)
	return ids
}

func (r *repo) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.members)
}

func (r *repo) removeLocked(conn connection.Conn) {
	member := r.members[conn]
	delete(r.members, conn)
	if r.conns[member.PeerID] == conn {
		delete(r.conns, member.PeerID)
	}

	room := r.rooms[member.RoomID]
	if room[member.PeerID] == conn {
		delete(room, member.PeerID)
	}
	if len(room) == 0 {
		delete(r.rooms, member.RoomID)
	}
}
