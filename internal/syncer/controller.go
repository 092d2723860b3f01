package syncer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sharetube/watchsync/internal/clock"
	"github.com/sharetube/watchsync/internal/domain"
	"github.com/sharetube/watchsync/internal/media"
)

// Backend is the media control surface the controller drives.
type Backend interface {
	Load(source string, kind domain.SourceKind)
	Play()
	Pause()
	Seek(t float64)
	SetRate(r float64)
	Time() float64
	Rate() float64
	Playing() bool
	IsReady() bool
	Source() string
	WhenReady(timeout time.Duration, fn func(ready bool))
	UserGesture()
}

type Publisher interface {
	Publish(ctx context.Context, ev domain.SyncEvent) error
}

// Flags are the per-attachment reconciliation flags. They are never persisted.
type Flags struct {
	SyncInProgress         bool
	SuppressNextLocalEvent bool
	LastAppliedKey         domain.EventKey
	LastAppliedAt          time.Time
}

type Status struct {
	Source          string
	Ready           bool
	Playing         bool
	Time            float64
	Rate            float64
	AutoplayBlocked bool
	SyncInProgress  bool
	Ended           bool
	LastError       string
	Sent            int
	Applied         int
	Dropped         int
}

type emitted struct {
	at   time.Time
	time float64
}

const pendingOwnSize = 64

// Controller is the per-attachment reconciliation state machine. Every entry
// point takes mu, so bus deliveries, backend notifications and timers are
// handled one at a time. Publishing happens after mu is released.
type Controller struct {
	peer    domain.PeerID
	room    domain.RoomID
	backend Backend
	pub     Publisher
	clock   clock.Clock
	cfg     Config
	logger  *slog.Logger

	mu          sync.Mutex
	flags       Flags
	clearTimer  clock.Timer
	clearGen    uint64
	applyGen    uint64
	nextEventID uint64
	lastEmit    map[domain.EventKind]emitted
	pendingOwn  []uint64
	// highestApplied is the newest event key applied per sender. Anything at
	// or below it arrived out of order and is already superseded.
	highestApplied map[domain.PeerID]uint64

	autoplayBlocked bool
	roomPlaying     bool
	ended           bool
	lastErr         string

	snapshotRequestedAt time.Time
	lastLiveAppliedAt   time.Time
	snapshotSeq         uint64

	driftTimer clock.Timer
	started    bool
	closed     bool

	sent    int
	applied int
	dropped int
}

func New(peer domain.PeerID, room domain.RoomID, backend Backend, pub Publisher, clk clock.Clock, cfg Config, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}

	return &Controller{
		peer:    peer,
		room:    room,
		backend: backend,
		pub:     pub,
		clock:   clk,
		cfg:     cfg,
		logger:  logger.With("peer_id", peer, "room_id", room),
		// Seeded from the clock so a re-attached sender keeps counting upward
		// past the ids its previous controller used.
		nextEventID:    uint64(clk.Now().UnixMicro()),
		lastEmit:       make(map[domain.EventKind]emitted),
		highestApplied: make(map[domain.PeerID]uint64),
	}
}

// Start arms the periodic drift-correction tick.
func (c *Controller) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started || c.closed {
		return
	}
	c.started = true
	c.scheduleDriftLocked()
}

// Close stops every timer. Later deliveries are ignored.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	c.applyGen++
	if c.clearTimer != nil {
		c.clearTimer.Stop()
		c.clearTimer = nil
	}
	if c.driftTimer != nil {
		c.driftTimer.Stop()
		c.driftTimer = nil
	}
}

func (c *Controller) PeerID() domain.PeerID {
	return c.peer
}

func (c *Controller) Flags() Flags {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.flags
}

// AutoplayBlocked reports that the backend refused a programmatic play and is
// waiting for a user gesture.
func (c *Controller) AutoplayBlocked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.autoplayBlocked
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Status{
		Source:          c.backend.Source(),
		Ready:           c.backend.IsReady(),
		Playing:         c.backend.Playing(),
		Time:            c.backend.Time(),
		Rate:            c.backend.Rate(),
		AutoplayBlocked: c.autoplayBlocked,
		SyncInProgress:  c.flags.SyncInProgress,
		Ended:           c.ended,
		LastError:       c.lastErr,
		Sent:            c.sent,
		Applied:         c.applied,
		Dropped:         c.dropped,
	}
}

// HandleBackendError records a backend failure. None of them are fatal.
func (c *Controller) HandleBackendError(e *media.Error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastErr = e.Error()
	if e.Kind == media.ErrorKindRemoteRejected {
		if !c.autoplayBlocked {
			c.logger.Info("autoplay blocked, waiting for user gesture", "op", e.Op)
		}
		c.autoplayBlocked = true
		return
	}

	c.logger.Warn("backend error", "op", e.Op, "kind", e.Kind, "error", e.Err)
}

func (c *Controller) HandleEnded() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ended = true
	c.logger.Debug("playback ended out of band", "time", c.backend.Time())
}

// UserGesture unlocks a blocked backend. If the room is playing, local
// playback resumes without announcing it.
func (c *Controller) UserGesture() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.backend.UserGesture()
	if !c.autoplayBlocked {
		return
	}

	c.autoplayBlocked = false
	c.lastErr = ""
	if c.roomPlaying {
		c.flags.SuppressNextLocalEvent = true
		c.armClearLocked(c.cfg.FlagClear)
		c.backend.Play()
	}
}

func (c *Controller) armClearLocked(d time.Duration) {
	if c.clearTimer != nil {
		c.clearTimer.Stop()
	}

	c.clearGen++
	gen := c.clearGen
	c.clearTimer = c.clock.AfterFunc(d, func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		if gen != c.clearGen {
			return
		}
		c.flags.SyncInProgress = false
		c.flags.SuppressNextLocalEvent = false
		c.clearTimer = nil
	})
}

func (c *Controller) publish(ev domain.SyncEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.PublishTimeout)
	defer cancel()

	if err := c.pub.Publish(ctx, ev); err != nil {
		c.logger.Warn("failed to publish sync event", "kind", ev.Kind, "event_id", ev.EventID, "error", err)
		return
	}

	c.logger.Debug("sync event published", "kind", ev.Kind, "event_id", ev.EventID, "current_time", ev.CurrentTime, "periodic", ev.IsPeriodic)
}
