package wsbus

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sharetube/watchsync/internal/bus"
	"github.com/sharetube/watchsync/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRelay joins every connection as peer-1 and hands each inbound message
// to onMessage.
type fakeRelay struct {
	mu        sync.Mutex
	tokens    []string
	onMessage func(conn *websocket.Conn, msg inbound)
}

func (f *fakeRelay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	f.mu.Lock()
	f.tokens = append(f.tokens, r.URL.Query().Get("peer-token"))
	f.mu.Unlock()

	if err := conn.WriteJSON(outbound{Type: typeJoined, Payload: joinedPayload{
		PeerID:    "peer-1",
		PeerToken: "token-1",
		RoomID:    "room-1",
	}}); err != nil {
		return
	}

	for {
		var msg inbound
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if f.onMessage != nil {
			f.onMessage(conn, msg)
		}
	}
}

func (f *fakeRelay) seenTokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.tokens...)
}

func dial(t *testing.T, relay *fakeRelay) *Bus {
	t.Helper()

	srv := httptest.NewServer(relay)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig(srv.URL, "room-1")
	cfg.ReconnectMin = 10 * time.Millisecond
	cfg.ReconnectMax = 50 * time.Millisecond

	b, err := Dial(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	return b
}

func TestEndpoint(t *testing.T) {
	b := &Bus{cfg: Config{ServerURL: "https://relay.example.com/", RoomID: "movie night"}}

	endpoint, err := b.endpoint()
	require.NoError(t, err)
	assert.Equal(t, "wss://relay.example.com/api/v1/ws/room/movie%20night", endpoint)

	b.token = "abc"
	endpoint, err = b.endpoint()
	require.NoError(t, err)
	assert.Equal(t, "wss://relay.example.com/api/v1/ws/room/movie%20night?peer-token=abc", endpoint)
}

func TestSnapshotReplies(t *testing.T) {
	relay := &fakeRelay{onMessage: func(conn *websocket.Conn, msg inbound) {
		if msg.Type != typeRequestSnapshot {
			return
		}
		var p requestSnapshotPayload
		json.Unmarshal(msg.Payload, &p)
		conn.WriteJSON(outbound{Type: typeSnapshot, Payload: snapshotPayload{RequestID: p.RequestID}})
	}}
	b := dial(t, relay)

	assert.Equal(t, "peer-1", string(b.PeerID()))

	_, err := b.RequestSnapshot(context.Background())
	assert.ErrorIs(t, err, bus.ErrNoPlayback)
}

func TestSnapshotError(t *testing.T) {
	relay := &fakeRelay{onMessage: func(conn *websocket.Conn, msg inbound) {
		var p requestSnapshotPayload
		json.Unmarshal(msg.Payload, &p)
		conn.WriteJSON(outbound{Type: typeError, Payload: errorPayload{RequestID: p.RequestID, Message: "store unavailable"}})
	}}
	b := dial(t, relay)

	_, err := b.RequestSnapshot(context.Background())
	assert.EqualError(t, err, "store unavailable")
}

func TestSnapshotLostOnDisconnect(t *testing.T) {
	relay := &fakeRelay{onMessage: func(conn *websocket.Conn, msg inbound) {
		if msg.Type == typeRequestSnapshot {
			conn.Close()
		}
	}}
	b := dial(t, relay)

	_, err := b.RequestSnapshot(context.Background())
	assert.ErrorIs(t, err, bus.ErrSnapshotLost)

	require.Eventually(t, func() bool { return len(relay.seenTokens()) >= 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"", "token-1"}, relay.seenTokens()[:2], "reconnect presents the issued token")
}

func TestClosedBus(t *testing.T) {
	b := dial(t, &fakeRelay{})
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	assert.ErrorIs(t, b.Publish(context.Background(), domain.SyncEvent{Kind: domain.EventKindPlay}), bus.ErrClosed)
}
