package media

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sharetube/watchsync/internal/clock"
	"github.com/sharetube/watchsync/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type recorder struct {
	mu      sync.Mutex
	errs    []*Error
	actions []domain.EventKind
	ready   int
	ended   int
}

func (r *recorder) attach(b *Backend) {
	b.OnError(func(e *Error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.errs = append(r.errs, e)
	})
	b.OnAction(func(k domain.EventKind) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.actions = append(r.actions, k)
	})
	b.OnReady(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.ready++
	})
	b.OnEndedOutOfBand(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.ended++
	})
}

type staticFetcher struct {
	data []byte
	err  error
}

func (f staticFetcher) FetchManifest(context.Context, string) ([]byte, error) {
	return f.data, f.err
}

func newTestBackend(opts SimOptions, fetcher ManifestFetcher) (*Backend, *SimEngine, *clock.Mock, *recorder) {
	clk := clock.NewMock(start)
	engine := NewSimEngine(clk, opts)
	b := NewBackend(engine, clk, DefaultConfig(), fetcher, nil)
	rec := &recorder{}
	rec.attach(b)

	return b, engine, clk, rec
}

func TestBackendReplaysQueuedCallsOnReady(t *testing.T) {
	b, engine, clk, rec := newTestBackend(SimOptions{ReadyDelay: time.Second}, nil)

	b.Load("https://cdn.example.com/movie.mp4", "")
	b.Play()
	b.Seek(42)

	assert.False(t, b.IsReady())
	assert.Equal(t, 0, engine.Calls("play"), "play must be queued before ready")

	clk.Advance(time.Second)

	require.True(t, b.IsReady())
	assert.True(t, engine.Playing())
	assert.InDelta(t, 42, engine.Time(), 0.001)
	assert.Equal(t, 1, rec.ready)
	assert.Empty(t, rec.actions, "signals raised by replayed calls are not user actions")
	assert.Empty(t, rec.errs)

	b.Pause()
	engine.Seek(50)
	clk.Advance(0)
	assert.Equal(t, []domain.EventKind{domain.EventKindPause, domain.EventKindSeek}, rec.actions,
		"calls made once ready are reported again")
}

func TestBackendRecoveredReplayIsNotReported(t *testing.T) {
	b, engine, clk, rec := newTestBackend(SimOptions{NeverReady: true}, nil)

	b.Load("https://cdn.example.com/movie.mp4", "")
	b.Seek(10)
	b.Play()
	clk.Advance(3 * time.Second)

	engine.MakeReady()
	clk.Advance(0)

	require.True(t, b.IsReady())
	assert.True(t, engine.Playing())
	assert.InDelta(t, 10, engine.Time(), 0.001)
	assert.Empty(t, rec.actions)
}

func TestBackendAttemptsQueuedCallsAfterReadyWait(t *testing.T) {
	b, engine, clk, rec := newTestBackend(SimOptions{NeverReady: true}, nil)

	b.Load("https://cdn.example.com/movie.mp4", "")
	b.Play()

	clk.Advance(4 * time.Second)
	assert.Equal(t, 0, engine.Calls("play"))

	clk.Advance(time.Second)
	assert.Equal(t, 1, engine.Calls("play"), "queued call must be attempted once the wait elapses")
	require.Len(t, rec.errs, 1)
	assert.True(t, errors.Is(rec.errs[0], ErrNotReadyYet))
	assert.False(t, b.IsReady())
}

func TestBackendQueuedCallsSurviveRecovery(t *testing.T) {
	b, engine, clk, _ := newTestBackend(SimOptions{NeverReady: true}, nil)

	b.Load("https://cdn.example.com/movie.mp4", "")
	b.Pause()
	b.SetRate(1.5)
	clk.Advance(2 * time.Second)

	engine.MakeReady()
	clk.Advance(0)

	assert.True(t, b.IsReady())
	assert.Equal(t, 1.5, engine.Rate())
	assert.Equal(t, 1, engine.Calls("pause"))
}

func TestBackendWhenReady(t *testing.T) {
	t.Run("times out", func(t *testing.T) {
		b, _, clk, _ := newTestBackend(SimOptions{NeverReady: true}, nil)
		b.Load("https://cdn.example.com/movie.mp4", "")

		var got []bool
		b.WhenReady(time.Second, func(ready bool) { got = append(got, ready) })

		clk.Advance(999 * time.Millisecond)
		assert.Empty(t, got)

		clk.Advance(time.Millisecond)
		assert.Equal(t, []bool{false}, got)
	})

	t.Run("fires on ready", func(t *testing.T) {
		b, _, clk, _ := newTestBackend(SimOptions{ReadyDelay: 300 * time.Millisecond}, nil)
		b.Load("https://cdn.example.com/movie.mp4", "")

		var got []bool
		b.WhenReady(time.Second, func(ready bool) { got = append(got, ready) })

		clk.Advance(time.Second)
		assert.Equal(t, []bool{true}, got)
	})

	t.Run("already ready is still asynchronous", func(t *testing.T) {
		b, _, clk, _ := newTestBackend(SimOptions{}, nil)
		b.Load("https://cdn.example.com/movie.mp4", "")

		var got []bool
		b.WhenReady(time.Second, func(ready bool) { got = append(got, ready) })
		assert.Empty(t, got)

		clk.Advance(0)
		assert.Equal(t, []bool{true}, got)
	})
}

func TestBackendAutoplayRejected(t *testing.T) {
	b, engine, clk, rec := newTestBackend(SimOptions{BlockAutoplay: true}, nil)
	b.Load("https://cdn.example.com/movie.mp4", "")

	b.Play()
	clk.Advance(0)

	require.Len(t, rec.errs, 1)
	assert.Equal(t, ErrorKindRemoteRejected, rec.errs[0].Kind)
	assert.False(t, engine.Playing())

	b.UserGesture()
	b.Play()
	clk.Advance(0)

	assert.True(t, engine.Playing())
	assert.Len(t, rec.errs, 1)
}

func TestBackendEndedOutOfBand(t *testing.T) {
	b, _, clk, rec := newTestBackend(SimOptions{Duration: 10}, nil)
	b.Load("https://cdn.example.com/movie.mp4", "")
	b.Seek(8)
	b.Play()

	clk.Advance(3 * time.Second)

	assert.Equal(t, 1, rec.ended)
	assert.False(t, b.Playing())
	assert.InDelta(t, 10, b.Time(), 0.001)
}

func TestBackendHLSWaitsForManifest(t *testing.T) {
	manifest := []byte("#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=800000\nlow/index.m3u8\n")
	b, _, clk, _ := newTestBackend(SimOptions{}, staticFetcher{data: manifest})

	b.Load("https://cdn.example.com/live/master.m3u8", "")
	assert.Equal(t, domain.SourceKindHLS, b.Kind())

	require.Eventually(t, b.IsReady, time.Second, 5*time.Millisecond)
	clk.Advance(0)
}

func TestBackendHLSBadManifest(t *testing.T) {
	b, _, clk, rec := newTestBackend(SimOptions{}, staticFetcher{data: []byte("<html></html>")})

	b.Load("https://cdn.example.com/live/master.m3u8", "")

	require.Eventually(t, func() bool {
		clk.Advance(0)
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.errs) == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, ErrorKindUnsupportedFormat, rec.errs[0].Kind)
	assert.False(t, b.IsReady())
}

func TestBackendLoadFailure(t *testing.T) {
	b, _, clk, rec := newTestBackend(SimOptions{LoadErr: ErrDecode}, nil)

	b.Load("https://cdn.example.com/movie.mp4", "")
	clk.Advance(0)

	require.Len(t, rec.errs, 1)
	assert.Equal(t, ErrorKindDecode, rec.errs[0].Kind)
	assert.Equal(t, "load", rec.errs[0].Op)
}
