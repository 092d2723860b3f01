package channel

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sharetube/watchsync/internal/bus"
	"github.com/sharetube/watchsync/internal/clock"
	"github.com/sharetube/watchsync/internal/media"
	"github.com/sharetube/watchsync/internal/syncer"
)

type Config struct {
	Sync            syncer.Config
	SnapshotTimeout time.Duration
	// A failed snapshot request is retried while attached, backing off from
	// SnapshotRetry up to SnapshotRetryMax.
	SnapshotRetry    time.Duration
	SnapshotRetryMax time.Duration
}

func DefaultConfig() Config {
	return Config{
		Sync:             syncer.DefaultConfig(),
		SnapshotTimeout:  5 * time.Second,
		SnapshotRetry:    time.Second,
		SnapshotRetryMax: 30 * time.Second,
	}
}

// Adapter binds one media backend to one room bus through a sync controller.
// It owns the subscription and the backend callbacks until Detach.
type Adapter struct {
	bus     bus.Bus
	backend *media.Backend
	ctrl    *syncer.Controller
	clock   clock.Clock
	cfg     Config
	logger  *slog.Logger

	mu          sync.Mutex
	unsubscribe func()
	attached    bool
	retryTimer  clock.Timer
	retryDelay  time.Duration
	resyncGen   uint64
}

func Attach(b bus.Bus, backend *media.Backend, clk clock.Clock, cfg Config, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}

	a := &Adapter{
		bus:     b,
		backend: backend,
		clock:   clk,
		cfg:     cfg,
		logger:  logger.With("peer_id", b.PeerID(), "room_id", b.RoomID()),
	}
	a.ctrl = syncer.New(b.PeerID(), b.RoomID(), backend, b, clk, cfg.Sync, logger)

	backend.OnAction(a.ctrl.HandleLocalAction)
	backend.OnError(a.ctrl.HandleBackendError)
	backend.OnEndedOutOfBand(a.ctrl.HandleEnded)

	a.mu.Lock()
	a.unsubscribe = b.Subscribe(a.ctrl.HandleRemoteEvent)
	a.attached = true
	a.mu.Unlock()

	b.OnConnect(a.resync)
	a.ctrl.Start()

	a.logger.Info("attached to room channel")

	return a
}

// Detach stops reconciliation. The backend keeps whatever state it is in.
func (a *Adapter) Detach() {
	a.mu.Lock()
	if !a.attached {
		a.mu.Unlock()
		return
	}
	a.attached = false
	unsubscribe := a.unsubscribe
	a.unsubscribe = nil
	a.stopRetryLocked()
	a.mu.Unlock()

	unsubscribe()
	a.backend.OnAction(nil)
	a.backend.OnError(nil)
	a.backend.OnEndedOutOfBand(nil)
	a.ctrl.Close()

	a.logger.Info("detached from room channel")
}

func (a *Adapter) Attached() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.attached
}

func (a *Adapter) Controller() *syncer.Controller {
	return a.ctrl
}

func (a *Adapter) Status() syncer.Status {
	return a.ctrl.Status()
}

func (a *Adapter) UserGesture() {
	a.ctrl.UserGesture()
}

func (a *Adapter) SetPeriodicCorrection(enabled bool) {
	a.ctrl.SetPeriodicCorrection(enabled)
}

// resync pulls the room state after every (re)connection.
func (a *Adapter) resync() {
	a.mu.Lock()
	if !a.attached {
		a.mu.Unlock()
		return
	}
	a.stopRetryLocked()
	a.retryDelay = 0
	a.resyncGen++
	gen := a.resyncGen
	a.mu.Unlock()

	a.requestSnapshot(gen)
}

func (a *Adapter) requestSnapshot(gen uint64) {
	requestedAt := a.ctrl.BeginSnapshotRequest()

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.SnapshotTimeout)
	defer cancel()

	state, err := a.bus.RequestSnapshot(ctx)
	if err != nil {
		switch {
		case errors.Is(err, bus.ErrNoPlayback):
			a.logger.Debug("room has no playback yet")
		case errors.Is(err, bus.ErrClosed):
			a.logger.Debug("bus closed, not requesting snapshot")
		default:
			a.scheduleRetry(gen, err)
		}
		return
	}

	if a.ctrl.ApplySnapshot(state, requestedAt) {
		a.logger.Info("converging to room snapshot", "source", state.SourceURL, "current_time", state.CurrentTime, "playing", state.IsPlaying)
	}
}

func (a *Adapter) scheduleRetry(gen uint64, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.attached || gen != a.resyncGen || a.cfg.SnapshotRetry <= 0 {
		a.logger.Warn("failed to request snapshot", "error", err)
		return
	}

	if a.retryDelay == 0 {
		a.retryDelay = a.cfg.SnapshotRetry
	} else {
		a.retryDelay = min(2*a.retryDelay, a.cfg.SnapshotRetryMax)
	}
	a.logger.Warn("failed to request snapshot, retrying", "error", err, "retry_in", a.retryDelay)

	a.retryTimer = a.clock.AfterFunc(a.retryDelay, func() {
		a.mu.Lock()
		if !a.attached || gen != a.resyncGen {
			a.mu.Unlock()
			return
		}
		a.retryTimer = nil
		a.mu.Unlock()

		a.requestSnapshot(gen)
	})
}

func (a *Adapter) stopRetryLocked() {
	if a.retryTimer != nil {
		a.retryTimer.Stop()
		a.retryTimer = nil
	}
}
