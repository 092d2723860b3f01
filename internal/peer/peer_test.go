package peer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sharetube/watchsync/internal/clock"
	"github.com/sharetube/watchsync/internal/controller"
	connInmemory "github.com/sharetube/watchsync/internal/repository/connection/inmemory"
	playbackInmemory "github.com/sharetube/watchsync/internal/repository/playback/inmemory"
	"github.com/sharetube/watchsync/internal/service/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSource = "https://cdn.example.com/movie.mp4"

func newRelay(t *testing.T) *httptest.Server {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := relay.NewService(playbackInmemory.NewRepo(), connInmemory.NewRepo(logger), nil, clock.New(), relay.Config{Secret: "s"}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go svc.Run(ctx)

	srv := httptest.NewServer(controller.NewController(svc, controller.Config{}, logger).GetMux())
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})

	return srv
}

func start(t *testing.T, cfg Config) *Peer {
	t.Helper()

	p := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("peer did not stop")
		}
	})

	return p
}

func playingNear(p *Peer, target func() float64, delta float64) bool {
	status, ok := p.Status()
	if !ok || !status.Playing {
		return false
	}
	return math.Abs(status.Time-target()) <= delta
}

// A late joiner over the websocket relay lands at the live position.
func TestLateJoinOverRelay(t *testing.T) {
	srv := newRelay(t)

	driver := start(t, Config{
		ServerURL:      srv.URL,
		RoomID:         "room-1",
		Source:         testSource,
		StartAt:        10,
		Periodic:       true,
		StatusInterval: time.Hour,
	})

	driverTime := func() float64 {
		status, _ := driver.Status()
		return status.Time
	}
	require.Eventually(t, func() bool {
		return playingNear(driver, func() float64 { return 10 }, 1)
	}, 8*time.Second, 20*time.Millisecond, "driver starts at 10")

	time.Sleep(time.Second)

	late := start(t, Config{
		ServerURL:      srv.URL,
		RoomID:         "room-1",
		ReadyDelay:     100 * time.Millisecond,
		StatusInterval: time.Hour,
	})

	require.Eventually(t, func() bool {
		return playingNear(late, driverTime, 0.5)
	}, 5*time.Second, 20*time.Millisecond)

	status, _ := late.Status()
	assert.Equal(t, testSource, status.Source)
	assert.GreaterOrEqual(t, status.Time, 11.0)
}

func TestResumeAfterDrop(t *testing.T) {
	srv := newRelay(t)

	driver := start(t, Config{
		ServerURL:      srv.URL,
		RoomID:         "room-1",
		Source:         testSource,
		Periodic:       true,
		StatusInterval: time.Hour,
	})
	follower := start(t, Config{
		ServerURL:      srv.URL,
		RoomID:         "room-1",
		DropEvery:      1500 * time.Millisecond,
		StatusInterval: time.Hour,
	})

	driverTime := func() float64 {
		status, _ := driver.Status()
		return status.Time
	}
	require.Eventually(t, func() bool {
		return playingNear(follower, driverTime, 0.5)
	}, 8*time.Second, 20*time.Millisecond)

	time.Sleep(2 * time.Second)
	assert.True(t, playingNear(follower, driverTime, 0.6), "follower stays in sync across reconnects")
}

func TestDriverRejectedSource(t *testing.T) {
	srv := newRelay(t)

	p := New(Config{
		ServerURL:      srv.URL,
		RoomID:         "room-1",
		Source:         "not a url",
		StatusInterval: time.Hour,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := p.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.False(t, errors.Is(err, context.DeadlineExceeded))
}

func TestRestURL(t *testing.T) {
	p := New(Config{ServerURL: "wss://relay.example.com/"}, slog.Default())

	u, err := p.restURL("/api/v1/rooms/a/source")
	require.NoError(t, err)
	assert.Equal(t, "https://relay.example.com/api/v1/rooms/a/source", u)
}
