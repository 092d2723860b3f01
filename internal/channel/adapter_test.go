package channel

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/sharetube/watchsync/internal/bus"
	"github.com/sharetube/watchsync/internal/bus/memory"
	"github.com/sharetube/watchsync/internal/clock"
	"github.com/sharetube/watchsync/internal/domain"
	"github.com/sharetube/watchsync/internal/media"
	connInmemory "github.com/sharetube/watchsync/internal/repository/connection/inmemory"
	playbackInmemory "github.com/sharetube/watchsync/internal/repository/playback/inmemory"
	"github.com/sharetube/watchsync/internal/service/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testRoom   domain.RoomID = "room"
	testSource               = "https://cdn.example.com/movie.mp4"
)

var start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type peer struct {
	engine  *media.SimEngine
	backend *media.Backend
	bus     *memory.Bus
	adapter *Adapter
}

func (p *peer) time() float64 {
	return p.engine.Time()
}

type room struct {
	t      *testing.T
	clk    *clock.Mock
	hub    *memory.Hub
	logger *slog.Logger
}

func newRoom(t *testing.T) *room {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clock.NewMock(start)
	svc := relay.NewService(playbackInmemory.NewRepo(), connInmemory.NewRepo(logger), nil, clk, relay.Config{Secret: "s"}, logger)

	return &room{t: t, clk: clk, hub: memory.NewHub(svc, clk, logger), logger: logger}
}

func (r *room) join(opts media.SimOptions) *peer {
	r.t.Helper()

	b, err := r.hub.Join(context.Background(), testRoom)
	require.NoError(r.t, err)

	engine := media.NewSimEngine(r.clk, opts)
	backend := media.NewBackend(engine, r.clk, media.DefaultConfig(), nil, r.logger)
	adapter := Attach(b, backend, r.clk, DefaultConfig(), r.logger)
	r.t.Cleanup(adapter.Detach)

	return &peer{engine: engine, backend: backend, bus: b, adapter: adapter}
}

func (r *room) setSource() {
	r.t.Helper()

	_, err := r.hub.SetSource(context.Background(), testRoom, testSource, "")
	require.NoError(r.t, err)
}

func (r *room) run(d time.Duration) {
	r.clk.Step(d, 50*time.Millisecond)
}

func assertConverged(t *testing.T, ref *peer, peers ...*peer) {
	t.Helper()

	for _, p := range peers {
		assert.Equal(t, ref.engine.Playing(), p.engine.Playing(), "playing state")
		assert.InDelta(t, ref.time(), p.time(), 0.5, "position")
		assert.Equal(t, ref.engine.Rate(), p.engine.Rate(), "rate")
	}
}

func TestConvergence(t *testing.T) {
	r := newRoom(t)
	a := r.join(media.SimOptions{})
	b := r.join(media.SimOptions{})
	c := r.join(media.SimOptions{})

	r.setSource()
	r.run(3 * time.Second)
	for _, p := range []*peer{a, b, c} {
		require.Equal(t, testSource, p.engine.Source())
		require.False(t, p.engine.Playing())
	}

	require.NoError(t, a.engine.Play())
	r.run(3 * time.Second)
	assert.True(t, b.engine.Playing())
	assertConverged(t, a, b, c)

	require.NoError(t, b.engine.Seek(40))
	r.run(3 * time.Second)
	assert.InDelta(t, 43.0, a.time(), 0.5)
	assertConverged(t, b, a, c)

	require.NoError(t, c.engine.SetRate(1.5))
	r.run(3 * time.Second)
	assertConverged(t, c, a, b)

	require.NoError(t, c.engine.Pause())
	r.run(3 * time.Second)
	assert.False(t, a.engine.Playing())
	assertConverged(t, c, a, b)
}

func TestDriftBound(t *testing.T) {
	r := newRoom(t)
	a := r.join(media.SimOptions{})
	b := r.join(media.SimOptions{Skew: 1.02})
	c := r.join(media.SimOptions{Skew: 0.98})
	b.adapter.SetPeriodicCorrection(false)
	c.adapter.SetPeriodicCorrection(false)

	r.setSource()
	r.run(3 * time.Second)
	require.NoError(t, a.engine.Play())
	r.run(time.Second)

	worst := 0.0
	for i := 0; i < 300; i++ {
		r.clk.Advance(100 * time.Millisecond)
		for _, p := range []*peer{b, c} {
			worst = math.Max(worst, math.Abs(p.time()-a.time()))
		}
	}

	// threshold plus two seconds of two percent skew
	assert.LessOrEqual(t, worst, 0.5+2*0.02+0.05)
	assert.True(t, b.engine.Playing())
	assert.True(t, c.engine.Playing())
}

func TestNoCascade(t *testing.T) {
	r := newRoom(t)
	peers := []*peer{r.join(media.SimOptions{}), r.join(media.SimOptions{}), r.join(media.SimOptions{})}
	for _, p := range peers {
		p.adapter.SetPeriodicCorrection(false)
	}

	r.setSource()
	r.run(3 * time.Second)
	require.NoError(t, peers[0].engine.Play())
	r.run(3 * time.Second)

	before := r.hub.Relayed()
	require.NoError(t, peers[1].engine.Seek(60))
	r.run(10 * time.Second)

	assert.Equal(t, len(peers)-1, r.hub.Relayed()-before, "one user action is relayed once to each other peer")
	assert.Equal(t, 1, peers[0].adapter.Status().Sent, "applying the seek is not re-announced")
	assert.Zero(t, peers[2].adapter.Status().Sent)
	assertConverged(t, peers[1], peers[0], peers[2])
}

func TestSimultaneousPauseNoCascade(t *testing.T) {
	r := newRoom(t)
	a := r.join(media.SimOptions{})
	b := r.join(media.SimOptions{})
	a.adapter.SetPeriodicCorrection(false)
	b.adapter.SetPeriodicCorrection(false)

	r.setSource()
	r.run(3 * time.Second)
	require.NoError(t, a.engine.Play())
	r.run(3 * time.Second)
	require.True(t, b.engine.Playing())

	sentA, sentB := a.adapter.Status().Sent, b.adapter.Status().Sent
	before := r.hub.Relayed()
	require.NoError(t, a.engine.Pause())
	require.NoError(t, b.engine.Pause())
	r.run(5 * time.Second)

	assert.LessOrEqual(t, a.adapter.Status().Sent-sentA, 1)
	assert.LessOrEqual(t, b.adapter.Status().Sent-sentB, 1)
	assert.LessOrEqual(t, r.hub.Relayed()-before, 2, "each pause is relayed once and never re-announced")
	assert.False(t, a.engine.Playing())
	assert.False(t, b.engine.Playing())
	assertConverged(t, a, b)
}

func TestSlowJoinerDoesNotPullRoomBack(t *testing.T) {
	r := newRoom(t)
	a := r.join(media.SimOptions{})

	r.setSource()
	r.run(3 * time.Second)
	require.NoError(t, a.engine.Seek(10))
	require.NoError(t, a.engine.Play())
	r.run(0)

	late := r.join(media.SimOptions{ReadyDelay: 3 * time.Second})
	late.adapter.SetPeriodicCorrection(false)
	before := a.time()
	seeks := a.engine.Calls("seek")
	r.run(6 * time.Second)

	assert.Zero(t, late.adapter.Status().Sent, "catching up is never announced to the room")
	assert.InDelta(t, before+6, a.time(), 0.05)
	assert.Equal(t, seeks, a.engine.Calls("seek"))
	assert.True(t, late.engine.Playing())
	assertConverged(t, a, late)
}

func TestLateJoinLandsAtLivePosition(t *testing.T) {
	r := newRoom(t)
	a := r.join(media.SimOptions{})

	r.setSource()
	r.run(3 * time.Second)
	require.NoError(t, a.engine.Seek(10))
	require.NoError(t, a.engine.Play())
	r.run(0)
	r.clk.Step(5*time.Second, 100*time.Millisecond)

	late := r.join(media.SimOptions{ReadyDelay: 300 * time.Millisecond})
	r.run(500 * time.Millisecond)

	assert.Equal(t, testSource, late.engine.Source())
	assert.True(t, late.engine.Playing())
	assert.InDelta(t, 15.0, late.time(), 1.0)

	r.run(2 * time.Second)
	assert.InDelta(t, a.time(), late.time(), 0.5)
}

func TestLateJoinWithBlockedAutoplay(t *testing.T) {
	r := newRoom(t)
	a := r.join(media.SimOptions{})

	r.setSource()
	r.run(3 * time.Second)
	require.NoError(t, a.engine.Play())
	r.run(3 * time.Second)

	late := r.join(media.SimOptions{BlockAutoplay: true})
	r.run(2 * time.Second)
	assert.False(t, late.engine.Playing())
	assert.True(t, late.adapter.Status().AutoplayBlocked)

	late.adapter.UserGesture()
	r.run(3 * time.Second)
	assert.False(t, late.adapter.Status().AutoplayBlocked)
	assertConverged(t, a, late)
}

func TestReconnectResyncs(t *testing.T) {
	r := newRoom(t)
	a := r.join(media.SimOptions{})
	b := r.join(media.SimOptions{})

	r.setSource()
	r.run(3 * time.Second)
	require.NoError(t, a.engine.Play())
	r.run(3 * time.Second)

	// b misses a seek while its connection is lost
	r.hub.SetDrop(func(_, to domain.PeerID, _ domain.SyncEvent) bool { return to == b.bus.PeerID() })
	require.NoError(t, a.engine.Seek(100))
	r.run(time.Second)
	assert.Less(t, b.time(), 50.0)

	r.hub.SetDrop(nil)
	peerID := b.bus.PeerID()
	require.NoError(t, b.bus.Reconnect(context.Background()))
	r.run(3 * time.Second)

	assert.Equal(t, peerID, b.bus.PeerID())
	assertConverged(t, a, b)
}

func TestSnapshotRetriedAfterFailure(t *testing.T) {
	r := newRoom(t)
	a := r.join(media.SimOptions{})

	r.setSource()
	r.run(3 * time.Second)
	require.NoError(t, a.engine.Play())
	r.run(time.Second)

	r.hub.SetSnapshotErr(bus.ErrSnapshotLost)
	late := r.join(media.SimOptions{})
	late.adapter.SetPeriodicCorrection(false)
	r.run(2500 * time.Millisecond)
	assert.Empty(t, late.engine.Source())

	r.hub.SetSnapshotErr(nil)
	r.run(3 * time.Second)
	assert.Equal(t, testSource, late.engine.Source())
	assert.True(t, late.engine.Playing())
	assertConverged(t, a, late)
}

func TestDetachStopsSnapshotRetry(t *testing.T) {
	r := newRoom(t)
	r.setSource()

	r.hub.SetSnapshotErr(bus.ErrSnapshotLost)
	late := r.join(media.SimOptions{})
	r.run(100 * time.Millisecond)
	late.adapter.Detach()

	r.hub.SetSnapshotErr(nil)
	r.run(5 * time.Second)
	assert.Empty(t, late.engine.Source())
}

func TestDetachStopsReconciliation(t *testing.T) {
	r := newRoom(t)
	a := r.join(media.SimOptions{})
	b := r.join(media.SimOptions{})

	r.setSource()
	r.run(3 * time.Second)

	b.adapter.Detach()
	assert.False(t, b.adapter.Attached())

	require.NoError(t, a.engine.Play())
	r.run(3 * time.Second)
	assert.False(t, b.engine.Playing())

	require.NoError(t, b.engine.Seek(30))
	r.run(3 * time.Second)
	assert.Less(t, a.time(), 10.0)
}
