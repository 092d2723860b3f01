package wsbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sharetube/watchsync/internal/bus"
	"github.com/sharetube/watchsync/internal/domain"
)

type Config struct {
	// ServerURL is the relay base url, e.g. ws://localhost:8080.
	ServerURL     string
	RoomID        domain.RoomID
	JoinTimeout   time.Duration
	WriteTimeout  time.Duration
	AliveInterval time.Duration
	ReconnectMin  time.Duration
	ReconnectMax  time.Duration
}

func DefaultConfig(serverURL string, roomID domain.RoomID) Config {
	return Config{
		ServerURL:     serverURL,
		RoomID:        roomID,
		JoinTimeout:   5 * time.Second,
		WriteTimeout:  5 * time.Second,
		AliveInterval: 15 * time.Second,
		ReconnectMin:  500 * time.Millisecond,
		ReconnectMax:  10 * time.Second,
	}
}

type snapshotReply struct {
	state *domain.PlaybackState
	err   error
}

// Bus is a room channel over a relay websocket. It reconnects on its own and
// resumes the same peer id with the token handed out on join.
type Bus struct {
	cfg    Config
	dialer *websocket.Dialer
	logger *slog.Logger

	mu        sync.RWMutex
	conn      *websocket.Conn
	peer      domain.PeerID
	token     string
	subs      map[int]bus.Handler
	nextSub   int
	onConnect []func()
	closed    bool

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan snapshotReply

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

var _ bus.Bus = (*Bus)(nil)

// Dial joins the room and keeps the connection alive until Close.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Bus, error) {
	if logger == nil {
		logger = slog.Default()
	}

	b := &Bus{
		cfg:     cfg,
		dialer:  websocket.DefaultDialer,
		logger:  logger.With("room_id", cfg.RoomID),
		subs:    make(map[int]bus.Handler),
		pending: make(map[string]chan snapshotReply),
		done:    make(chan struct{}),
	}
	b.ctx, b.cancel = context.WithCancel(context.Background())

	conn, err := b.connect(ctx)
	if err != nil {
		b.cancel()
		return nil, err
	}

	go b.run(conn)

	return b, nil
}

func (b *Bus) endpoint() (string, error) {
	u, err := url.Parse(strings.TrimRight(b.cfg.ServerURL, "/"))
	if err != nil {
		return "", fmt.Errorf("failed to parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path += "/api/v1/ws/room/" + string(b.cfg.RoomID)

	b.mu.RLock()
	token := b.token
	b.mu.RUnlock()

	if token != "" {
		q := u.Query()
		q.Set("peer-token", token)
		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}

func (b *Bus) connect(ctx context.Context) (*websocket.Conn, error) {
	endpoint, err := b.endpoint()
	if err != nil {
		return nil, err
	}

	conn, _, err := b.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial relay: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(b.cfg.JoinTimeout))
	var msg inbound
	if err := conn.ReadJSON(&msg); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to read join message: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	if msg.Type != typeJoined {
		conn.Close()
		return nil, fmt.Errorf("unexpected first message %q", msg.Type)
	}

	var joined joinedPayload
	if err := json.Unmarshal(msg.Payload, &joined); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to decode join message: %w", err)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		conn.Close()
		return nil, bus.ErrClosed
	}
	if b.peer != "" && b.peer != domain.PeerID(joined.PeerID) {
		b.logger.Warn("relay assigned a new peer id", "old_peer_id", b.peer, "peer_id", joined.PeerID)
	}
	b.conn = conn
	b.peer = domain.PeerID(joined.PeerID)
	b.token = joined.PeerToken
	callbacks := append([]func(){}, b.onConnect...)
	b.mu.Unlock()

	b.logger.Info("joined room", "peer_id", joined.PeerID)

	for _, fn := range callbacks {
		go fn()
	}

	return conn, nil
}

func (b *Bus) run(conn *websocket.Conn) {
	defer close(b.done)

	for {
		stopAlive := b.keepAlive(conn)
		err := b.readLoop(conn)
		stopAlive()

		b.mu.Lock()
		if b.conn == conn {
			b.conn = nil
		}
		closed := b.closed
		b.mu.Unlock()
		conn.Close()
		b.failPending(bus.ErrSnapshotLost)

		if closed {
			return
		}
		b.logger.Warn("relay connection lost", "error", err)

		conn = b.reconnect()
		if conn == nil {
			return
		}
	}
}

func (b *Bus) reconnect() *websocket.Conn {
	delay := b.cfg.ReconnectMin
	for {
		select {
		case <-b.ctx.Done():
			return nil
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(b.ctx, b.cfg.JoinTimeout)
		conn, err := b.connect(ctx)
		cancel()
		if err == nil {
			return conn
		}

		b.logger.Info("reconnect failed", "error", err, "retry_in", delay)
		delay = min(delay*2, b.cfg.ReconnectMax)
	}
}

func (b *Bus) keepAlive(conn *websocket.Conn) (stop func()) {
	if b.cfg.AliveInterval <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(b.cfg.AliveInterval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := b.write(conn, outbound{Type: typeAlive}); err != nil {
					b.logger.Debug("failed to send alive", "error", err)
				}
			}
		}
	}()

	return func() { close(done) }
}

func (b *Bus) readLoop(conn *websocket.Conn) error {
	for {
		var msg inbound
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}

		switch msg.Type {
		case typeSyncEvent:
			var ev domain.SyncEvent
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				b.logger.Warn("failed to decode sync event", "error", err)
				continue
			}
			b.dispatch(ev)
		case typeSnapshot:
			var p snapshotPayload
			if err := json.Unmarshal(msg.Payload, &p); err != nil {
				b.logger.Warn("failed to decode snapshot", "error", err)
				continue
			}
			b.resolve(p.RequestID, snapshotReply{state: p.State})
		case typeError:
			var p errorPayload
			if err := json.Unmarshal(msg.Payload, &p); err != nil {
				b.logger.Warn("failed to decode error message", "error", err)
				continue
			}
			b.logger.Info("relay error", "message", p.Message, "request_id", p.RequestID)
			if p.RequestID != "" {
				b.resolve(p.RequestID, snapshotReply{err: errors.New(p.Message)})
			}
		default:
			b.logger.Debug("ignoring message", "type", msg.Type)
		}
	}
}

func (b *Bus) dispatch(ev domain.SyncEvent) {
	b.mu.RLock()
	handlers := make([]bus.Handler, 0, len(b.subs))
	for _, h := range b.subs {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

func (b *Bus) write(conn *websocket.Conn, msg outbound) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	if b.cfg.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(b.cfg.WriteTimeout))
	}

	return conn.WriteJSON(msg)
}

func (b *Bus) current() (*websocket.Conn, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, bus.ErrClosed
	}
	if b.conn == nil {
		return nil, bus.ErrNotConnected
	}

	return b.conn, nil
}

func (b *Bus) PeerID() domain.PeerID {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.peer
}

func (b *Bus) RoomID() domain.RoomID {
	return b.cfg.RoomID
}

func (b *Bus) Publish(_ context.Context, ev domain.SyncEvent) error {
	conn, err := b.current()
	if err != nil {
		return err
	}

	return b.write(conn, outbound{Type: typeSyncEvent, Payload: ev})
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
	conn, err := b.current()
	if err != nil {
		return domain.PlaybackState{}, err
	}

	id := uuid.NewString()
	ch := make(chan snapshotReply, 1)
	b.pendingMu.Lock()
	b.pending[id] = ch
	b.pendingMu.Unlock()
	defer func() {
		b.pendingMu.Lock()
		delete(b.pending, id)
		b.pendingMu.Unlock()
	}()

	if err := b.write(conn, outbound{
		Type:    typeRequestSnapshot,
		Payload: requestSnapshotPayload{RequestID: id},
	}); err != nil {
		return domain.PlaybackState{}, fmt.Errorf("failed to request snapshot: %w", err)
	}

	select {
	case <-ctx.Done():
		return domain.PlaybackState{}, ctx.Err()
	case reply := <-ch:
		if reply.err != nil {
			return domain.PlaybackState{}, reply.err
		}
		if reply.state == nil {
			return domain.PlaybackState{}, bus.ErrNoPlayback
		}
		return *reply.state, nil
	}
}

func (b *Bus) resolve(id string, reply snapshotReply) {
	b.pendingMu.Lock()
	ch, ok := b.pending[id]
	delete(b.pending, id)
	b.pendingMu.Unlock()

	if ok {
		ch <- reply
	}
}

func (b *Bus) failPending(err error) {
	b.pendingMu.Lock()
	pending := b.pending
	b.pending = make(map[string]chan snapshotReply)
	b.pendingMu.Unlock()

	for _, ch := range pending {
		ch <- snapshotReply{err: err}
	}
}

// OnConnect registers fn for every later reconnection. The bus is already
// connected when Dial returns, so fn also runs once right away.
func (b *Bus) OnConnect(fn func()) {
	b.mu.Lock()
	b.onConnect = append(b.onConnect, fn)
	connected := b.conn != nil && !b.closed
	b.mu.Unlock()

	if connected {
		go fn()
	}
}

// Drop closes the current connection without closing the bus, which then
// reconnects. Used to exercise resume.
func (b *Bus) Drop() {
	b.mu.RLock()
	conn := b.conn
	b.mu.RUnlock()

	if conn != nil {
		conn.Close()
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

	b.cancel()
	if conn != nil {
		b.writeMu.Lock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		b.writeMu.Unlock()
		conn.Close()
	}
	<-b.done

	return nil
}
