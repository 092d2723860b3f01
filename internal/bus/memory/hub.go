package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sharetube/watchsync/internal/bus"
	"github.com/sharetube/watchsync/internal/clock"
	"github.com/sharetube/watchsync/internal/domain"
	"github.com/sharetube/watchsync/internal/repository/connection"
	"github.com/sharetube/watchsync/internal/service/relay"
)

type relayService interface {
	ConnectPeer(context.Context, *relay.ConnectPeerParams) (relay.ConnectPeerResponse, error)
	DisconnectPeer(context.Context, connection.Conn) error
	HandleEvent(context.Context, *relay.HandleEventParams) (relay.HandleEventResponse, error)
	GetSnapshot(context.Context, string) (domain.PlaybackState, error)
	SetSource(context.Context, *relay.SetSourceParams) (relay.SetSourceResponse, error)
}

// DropFunc decides whether the relay loses a delivery from one peer to another.
type DropFunc func(from, to domain.PeerID, ev domain.SyncEvent) bool

// Hub runs a relay in-process. Buses joined through it behave like remote
// peers: every delivery is scheduled on the clock and never runs inside
// Publish.
type Hub struct {
	relay  relayService
	clock  clock.Clock
	logger *slog.Logger

	mu          sync.RWMutex
	latency     time.Duration
	drop        DropFunc
	snapshotErr error

	relayed atomic.Int64
}

func NewHub(svc relayService, clk clock.Clock, logger *slog.Logger) *Hub {
	return &Hub{
		relay:  svc,
		clock:  clk,
		logger: logger,
	}
}

// SetLatency delays every relay-to-peer delivery by d.
func (h *Hub) SetLatency(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.latency = d
}

func (h *Hub) SetDrop(fn DropFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.drop = fn
}

// SetSnapshotErr makes every snapshot request fail with err, the way a relay
// that answers ERROR or never answers does. nil restores normal answers.
func (h *Hub) SetSnapshotErr(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snapshotErr = err
}

// Relayed counts deliveries handed to peer connections, dropped ones excluded.
func (h *Hub) Relayed() int {
	return int(h.relayed.Load())
}

// Join connects a new peer to roomID.
func (h *Hub) Join(ctx context.Context, roomID domain.RoomID) (*Bus, error) {
	b := &Bus{
		hub:  h,
		room: roomID,
		subs: make(map[int]bus.Handler),
	}
	if err := b.connect(ctx, ""); err != nil {
		return nil, err
	}

	return b, nil
}

// SetSource gives the room a video and fans the snapshot out to every member.
func (h *Hub) SetSource(ctx context.Context, roomID domain.RoomID, sourceURL string, kind domain.SourceKind) (domain.PlaybackState, error) {
	resp, err := h.relay.SetSource(ctx, &relay.SetSourceParams{
		RoomID:     string(roomID),
		SourceURL:  sourceURL,
		SourceKind: kind,
	})
	if err != nil {
		return domain.PlaybackState{}, fmt.Errorf("failed to set source: %w", err)
	}

	h.fanOut(resp.Conns, resp.Event)

	return resp.State, nil
}

func (h *Hub) fanOut(conns []connection.Conn, ev domain.SyncEvent) {
	for _, conn := range conns {
		if err := conn.WriteJSON(ev); err != nil {
			h.logger.Debug("failed to write to conn", "error", err)
		}
	}
}

func (h *Hub) settings() (time.Duration, DropFunc) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latency, h.drop
}

// memConn is the relay-side end of an in-process peer.
type memConn struct {
	hub    *Hub
	bus    *Bus
	peer   domain.PeerID
	closed atomic.Bool
}

func (c *memConn) WriteJSON(v any) error {
	if c.closed.Load() {
		return bus.ErrNotConnected
	}

	ev, ok := v.(domain.SyncEvent)
	if !ok {
		return fmt.Errorf("unexpected message %T", v)
	}

	latency, drop := c.hub.settings()
	if drop != nil && drop(ev.InitiatedBy, c.peer, ev) {
		c.hub.logger.Debug("delivery dropped", "from", ev.InitiatedBy, "to", c.peer, "kind", ev.Kind)
		return nil
	}

	c.hub.relayed.Add(1)
	c.hub.clock.AfterFunc(latency, func() {
		if c.closed.Load() {
			return
		}
		c.bus.deliver(ev)
	})

	return nil
}

func (c *memConn) Close() error {
	c.closed.Store(true)
	return nil
}

// Bus is a peer's handle on a Hub room.
type Bus struct {
	hub  *Hub
	room domain.RoomID

	mu        sync.RWMutex
	conn      *memConn
	peer      domain.PeerID
	token     string
	subs      map[int]bus.Handler
	nextSub   int
	onConnect []func()
	closed    bool
}

var _ bus.Bus = (*Bus)(nil)

func (b *Bus) connect(ctx context.Context, token string) error {
	conn := &memConn{hub: b.hub, bus: b}
	resp, err := b.hub.relay.ConnectPeer(ctx, &relay.ConnectPeerParams{
		Conn:      conn,
		RoomID:    string(b.room),
		PeerToken: token,
	})
	if err != nil {
		return fmt.Errorf("failed to connect peer: %w", err)
	}
	conn.peer = domain.PeerID(resp.PeerID)

	b.mu.Lock()
	b.conn = conn
	b.peer = conn.peer
	b.token = resp.PeerToken
	callbacks := append([]func(){}, b.onConnect...)
	b.mu.Unlock()

	for _, fn := range callbacks {
		b.hub.clock.AfterFunc(0, fn)
	}

	return nil
}

// Reconnect drops the relay connection and resumes it with the peer token.
func (b *Bus) Reconnect(ctx context.Context) error {
	b.mu.RLock()
	conn, token, closed := b.conn, b.token, b.closed
	b.mu.RUnlock()

	if closed {
		return bus.ErrClosed
	}
	if conn != nil {
		if err := b.hub.relay.DisconnectPeer(ctx, conn); err != nil {
			return err
		}
	}

	return b.connect(ctx, token)
}

func (b *Bus) PeerID() domain.PeerID {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.peer
}

func (b *Bus) RoomID() domain.RoomID {
	return b.room
}

func (b *Bus) Publish(ctx context.Context, ev domain.SyncEvent) error {
	b.mu.RLock()
	closed, peer := b.closed, b.peer
	b.mu.RUnlock()

	if closed {
		return bus.ErrClosed
	}

	resp, err := b.hub.relay.HandleEvent(ctx, &relay.HandleEventParams{
		Event:    ev,
		SenderID: string(peer),
		RoomID:   string(b.room),
	})
	if err != nil {
		return fmt.Errorf("failed to handle event: %w", err)
	}

	b.hub.fanOut(resp.Conns, resp.Event)

	return nil
}

func (b *Bus) Subscribe(h bus.Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextSub
	b.nextSub++
	b.subs[id] = h

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

func (b *Bus) RequestSnapshot(ctx context.Context) (domain.PlaybackState, error) {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()

	if closed {
		return domain.PlaybackState{}, bus.ErrClosed
	}

	b.hub.mu.RLock()
	injected := b.hub.snapshotErr
	b.hub.mu.RUnlock()
	if injected != nil {
		return domain.PlaybackState{}, injected
	}

	state, err := b.hub.relay.GetSnapshot(ctx, string(b.room))
	if err != nil {
		if errors.Is(err, relay.ErrStateNotFound) {
			return domain.PlaybackState{}, bus.ErrNoPlayback
		}
		return domain.PlaybackState{}, err
	}

	return state, nil
}

// OnConnect registers fn for every later (re)connection. The bus is connected
// from Join on, so fn is also scheduled once right away.
func (b *Bus) OnConnect(fn func()) {
	b.mu.Lock()
	b.onConnect = append(b.onConnect, fn)
	connected := b.conn != nil && !b.closed
	b.mu.Unlock()

	if connected {
		b.hub.clock.AfterFunc(0, fn)
	}
}

func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	conn := b.conn
	b.mu.Unlock()

	if conn == nil {
		return nil
	}

	return b.hub.relay.DisconnectPeer(context.Background(), conn)
}

func (b *Bus) deliver(ev domain.SyncEvent) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	handlers := make([]bus.Handler, 0, len(b.subs))
	for _, h := range b.subs {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}
