package media

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/sharetube/watchsync/internal/clock"
)

type SimOptions struct {
	// ReadyDelay is the time between Load and the ready signal.
	ReadyDelay time.Duration
	// NeverReady keeps the engine loading forever.
	NeverReady bool
	// BlockAutoplay refuses Play until UserGesture is called.
	BlockAutoplay bool
	// Duration in seconds. Zero means unbounded.
	Duration float64
	// Skew scales how fast the playhead advances against the clock, to model a
	// player that drifts. Zero means 1.
	Skew    float64
	LoadErr error
}

// SimEngine is a virtual playhead driven by a clock. The headless peer plays
// through it, and it stands in for real players in tests.
type SimEngine struct {
	clock clock.Clock
	opts  SimOptions

	mu         sync.Mutex
	listener   func(Signal)
	source     string
	loaded     bool
	ready      bool
	playing    bool
	pos        float64
	since      time.Time
	rate       float64
	gestured   bool
	gen        uint64
	readyTimer clock.Timer
	endTimer   clock.Timer
	calls      map[string]int
}

func NewSimEngine(clk clock.Clock, opts SimOptions) *SimEngine {
	if opts.Skew == 0 {
		opts.Skew = 1
	}

	return &SimEngine{
		clock: clk,
		opts:  opts,
		rate:  1,
		calls: make(map[string]int),
	}
}

func (e *SimEngine) SetListener(fn func(Signal)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listener = fn
}

func (e *SimEngine) Load(_ context.Context, source string) error {
	e.mu.Lock()
	e.calls["load"]++
	e.gen++
	gen := e.gen
	e.stopTimersLocked()
	e.source = source
	e.loaded = false
	e.ready = false
	e.playing = false
	e.pos = 0
	e.since = e.clock.Now()
	e.rate = 1

	if e.opts.LoadErr != nil {
		e.mu.Unlock()
		return e.opts.LoadErr
	}
	e.loaded = true

	if e.opts.NeverReady {
		e.mu.Unlock()
		return nil
	}

	if e.opts.ReadyDelay <= 0 {
		e.ready = true
		e.mu.Unlock()
		e.signal(Signal{Type: SignalReady})
		return nil
	}

	e.readyTimer = e.clock.AfterFunc(e.opts.ReadyDelay, func() {
		e.mu.Lock()
		if gen != e.gen {
			e.mu.Unlock()
			return
		}
		e.ready = true
		e.mu.Unlock()
		e.signal(Signal{Type: SignalReady})
	})
	e.mu.Unlock()

	return nil
}

func (e *SimEngine) Play() error {
	e.mu.Lock()
	e.calls["play"]++
	if err := e.usableLocked(); err != nil {
		e.mu.Unlock()
		return err
	}
	if e.opts.BlockAutoplay && !e.gestured {
		e.mu.Unlock()
		return ErrRemoteRejected
	}
	if e.playing {
		e.mu.Unlock()
		return nil
	}

	e.rebaseLocked()
	e.playing = true
	e.scheduleEndLocked()
	e.mu.Unlock()

	e.signal(Signal{Type: SignalPlay})
	return nil
}

func (e *SimEngine) Pause() error {
	e.mu.Lock()
	e.calls["pause"]++
	if err := e.usableLocked(); err != nil {
		e.mu.Unlock()
		return err
	}
	if !e.playing {
		e.mu.Unlock()
		return nil
	}

	e.rebaseLocked()
	e.playing = false
	e.stopEndLocked()
	e.mu.Unlock()

	e.signal(Signal{Type: SignalPause})
	return nil
}

func (e *SimEngine) Seek(t float64) error {
	e.mu.Lock()
	e.calls["seek"]++
	if err := e.usableLocked(); err != nil {
		e.mu.Unlock()
		return err
	}

	e.pos = e.clampLocked(t)
	e.since = e.clock.Now()
	if e.playing {
		e.scheduleEndLocked()
	}
	e.mu.Unlock()

	e.signal(Signal{Type: SignalSeeked})
	return nil
}

func (e *SimEngine) SetRate(r float64) error {
	e.mu.Lock()
	e.calls["set_rate"]++
	if err := e.usableLocked(); err != nil {
		e.mu.Unlock()
		return err
	}
	if r <= 0 {
		e.mu.Unlock()
		return ErrUnsupportedFormat
	}
	if r == e.rate {
		e.mu.Unlock()
		return nil
	}

	e.rebaseLocked()
	e.rate = r
	if e.playing {
		e.scheduleEndLocked()
	}
	e.mu.Unlock()

	e.signal(Signal{Type: SignalRateChanged})
	return nil
}

func (e *SimEngine) Time() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.positionLocked()
}

func (e *SimEngine) Rate() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.rate
}

func (e *SimEngine) Playing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.playing
}

func (e *SimEngine) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.ready
}

func (e *SimEngine) UserGesture() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.gestured = true
}

// MakeReady flips a NeverReady engine to ready, as a stuck player that
// eventually recovers would.
func (e *SimEngine) MakeReady() {
	e.mu.Lock()
	if e.ready || !e.loaded {
		e.mu.Unlock()
		return
	}
	e.ready = true
	e.mu.Unlock()

	e.signal(Signal{Type: SignalReady})
}

func (e *SimEngine) Source() string {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.source
}

// Calls reports how many times op was invoked, for assertions.
func (e *SimEngine) Calls(op string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.calls[op]
}

func (e *SimEngine) usableLocked() error {
	if !e.loaded {
		return ErrNoSource
	}
	if !e.ready {
		return ErrNotReadyYet
	}

	return nil
}

func (e *SimEngine) positionLocked() float64 {
	if !e.playing {
		return e.pos
	}

	elapsed := e.clock.Now().Sub(e.since).Seconds()
	return e.clampLocked(e.pos + elapsed*e.rate*e.opts.Skew)
}

func (e *SimEngine) rebaseLocked() {
	e.pos = e.positionLocked()
	e.since = e.clock.Now()
}

func (e *SimEngine) clampLocked(t float64) float64 {
	t = math.Max(t, 0)
	if e.opts.Duration > 0 {
		t = math.Min(t, e.opts.Duration)
	}

	return t
}

func (e *SimEngine) scheduleEndLocked() {
	e.stopEndLocked()
	if e.opts.Duration <= 0 {
		return
	}

	remaining := (e.opts.Duration - e.pos) / (e.rate * e.opts.Skew)
	gen := e.gen
	e.endTimer = e.clock.AfterFunc(time.Duration(remaining*float64(time.Second)), func() {
		e.mu.Lock()
		if gen != e.gen || !e.playing {
			e.mu.Unlock()
			return
		}
		e.pos = e.opts.Duration
		e.since = e.clock.Now()
		e.playing = false
		e.endTimer = nil
		e.mu.Unlock()

		e.signal(Signal{Type: SignalEnded})
	})
}

func (e *SimEngine) stopEndLocked() {
	if e.endTimer != nil {
		e.endTimer.Stop()
		e.endTimer = nil
	}
}

func (e *SimEngine) stopTimersLocked() {
	if e.readyTimer != nil {
		e.readyTimer.Stop()
		e.readyTimer = nil
	}
	e.stopEndLocked()
}

func (e *SimEngine) signal(s Signal) {
	e.mu.Lock()
	fn := e.listener
	e.mu.Unlock()

	if fn != nil {
		fn(s)
	}
}
