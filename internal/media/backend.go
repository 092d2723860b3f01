package media

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sharetube/watchsync/internal/clock"
	"github.com/sharetube/watchsync/internal/domain"
)

type Config struct {
	// ReadyWait bounds how long control calls stay queued before they are
	// attempted against a backend that never reported ready.
	ReadyWait       time.Duration
	PollInterval    time.Duration
	MaxPollInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		ReadyWait:       5 * time.Second,
		PollInterval:    100 * time.Millisecond,
		MaxPollInterval: time.Second,
	}
}

type call struct {
	op string
	fn func() error
}

type waiter struct {
	fn    func(ready bool)
	timer clock.Timer
	done  bool
}

type handlers struct {
	ready  func()
	err    func(*Error)
	ended  func()
	action func(domain.EventKind)
}

// Backend is the uniform control surface over an Engine. Control calls are
// fire-and-forget: before the engine is ready they are queued and replayed on
// ready, or attempted anyway once ReadyWait elapses. Every notification is
// delivered asynchronously and in order, never from inside a control call.
// Native playback signals raised by a replayed call are not reported through
// OnAction: by the time the replay runs, nobody is waiting to recognise them
// as programmatic.
type Backend struct {
	engine  Engine
	clock   clock.Clock
	cfg     Config
	fetcher ManifestFetcher
	logger  *slog.Logger

	mu           sync.Mutex
	source       string
	kind         domain.SourceKind
	generation   uint64
	engineReady  bool
	manifestOK   bool
	ready        bool
	loadedAt     time.Time
	pending      []call
	pendingTimer clock.Timer
	waiters      []*waiter
	pollTimer    clock.Timer
	pollDelay    time.Duration

	replaying atomic.Int32

	hMu sync.RWMutex
	h   handlers

	evMu     sync.Mutex
	queue    []func()
	draining bool
}

func NewBackend(engine Engine, clk clock.Clock, cfg Config, fetcher ManifestFetcher, logger *slog.Logger) *Backend {
	if fetcher == nil {
		fetcher = NewHTTPManifestFetcher(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}

	b := &Backend{
		engine:     engine,
		clock:      clk,
		cfg:        cfg,
		fetcher:    fetcher,
		logger:     logger,
		manifestOK: true,
	}
	engine.SetListener(b.onSignal)

	return b
}

func (b *Backend) OnReady(fn func()) {
	b.hMu.Lock()
	defer b.hMu.Unlock()
	b.h.ready = fn
}

func (b *Backend) OnError(fn func(*Error)) {
	b.hMu.Lock()
	defer b.hMu.Unlock()
	b.h.err = fn
}

// OnEndedOutOfBand is raised when playback stops on its own at the end of the
// media, without any control call.
func (b *Backend) OnEndedOutOfBand(fn func()) {
	b.hMu.Lock()
	defer b.hMu.Unlock()
	b.h.ended = fn
}

// OnAction receives the native play/pause/seeked/ratechange notifications.
func (b *Backend) OnAction(fn func(domain.EventKind)) {
	b.hMu.Lock()
	defer b.hMu.Unlock()
	b.h.action = fn
}

func (b *Backend) handlers() handlers {
	b.hMu.RLock()
	defer b.hMu.RUnlock()
	return b.h
}

// Load switches the engine to a new source and starts the readiness policy of
// its kind. Calls queued for the previous source stay queued.
func (b *Backend) Load(source string, kind domain.SourceKind) {
	kind = ResolveSourceKind(source, kind)

	b.mu.Lock()
	b.generation++
	gen := b.generation
	b.source = source
	b.kind = kind
	b.ready = false
	b.engineReady = false
	b.manifestOK = kind != domain.SourceKindHLS
	b.loadedAt = b.clock.Now()
	b.stopPollLocked()
	b.mu.Unlock()

	b.logger.Debug("loading source", "source", source, "kind", kind)

	if kind == domain.SourceKindHLS {
		go b.probeManifest(gen, source)
	}

	if err := b.engine.Load(context.Background(), source); err != nil {
		b.emitError("load", err)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if gen != b.generation {
		return
	}

	if b.engine.Ready() {
		b.engineReady = true
	} else {
		b.pollDelay = b.cfg.PollInterval
		b.schedulePollLocked(gen)
	}
	b.checkReadyLocked()
}

func (b *Backend) Play() {
	b.do("play", b.engine.Play)
}

func (b *Backend) Pause() {
	b.do("pause", b.engine.Pause)
}

func (b *Backend) Seek(t float64) {
	if t < 0 {
		t = 0
	}
	b.do("seek", func() error { return b.engine.Seek(t) })
}

func (b *Backend) SetRate(r float64) {
	b.do("set_rate", func() error { return b.engine.SetRate(r) })
}

func (b *Backend) Time() float64 {
	return b.engine.Time()
}

func (b *Backend) Rate() float64 {
	return b.engine.Rate()
}

func (b *Backend) Playing() bool {
	return b.engine.Playing()
}

func (b *Backend) IsReady() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.ready
}

func (b *Backend) Source() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.source
}

func (b *Backend) Kind() domain.SourceKind {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.kind
}

// UserGesture forwards a user interaction to engines that gate autoplay.
func (b *Backend) UserGesture() {
	if g, ok := b.engine.(GestureReceiver); ok {
		g.UserGesture()
	}
}

// WhenReady calls fn(true) once the backend is ready, or fn(false) if timeout
// elapses first. fn always runs asynchronously.
func (b *Backend) WhenReady(timeout time.Duration, fn func(ready bool)) {
	b.mu.Lock()
	if b.ready {
		b.mu.Unlock()
		b.emit(func() { fn(true) })
		return
	}

	w := &waiter{fn: fn}
	w.timer = b.clock.AfterFunc(timeout, func() {
		b.mu.Lock()
		if w.done {
			b.mu.Unlock()
			return
		}
		w.done = true
		b.removeWaiterLocked(w)
		b.mu.Unlock()

		b.emit(func() { fn(false) })
	})
	b.waiters = append(b.waiters, w)
	b.mu.Unlock()
}

// Close drops queued calls and stops every timer owned by the backend.
func (b *Backend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.generation++
	b.stopPollLocked()
	if b.pendingTimer != nil {
		b.pendingTimer.Stop()
		b.pendingTimer = nil
	}
	b.pending = nil
	for _, w := range b.waiters {
		w.done = true
		w.timer.Stop()
	}
	b.waiters = nil
}

func (b *Backend) do(op string, fn func() error) {
	b.mu.Lock()
	if !b.ready {
		b.pending = append(b.pending, call{op: op, fn: fn})
		if b.pendingTimer == nil {
			b.pendingTimer = b.clock.AfterFunc(b.cfg.ReadyWait, b.flushUnready)
		}
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	b.run(call{op: op, fn: fn})
}

func (b *Backend) run(c call) {
	if err := c.fn(); err != nil {
		b.emitError(c.op, err)
	}
}

// flushUnready attempts queued calls after ReadyWait even though the engine
// never reported ready. Some engines recover and accept them.
func (b *Backend) flushUnready() {
	b.mu.Lock()
	b.pendingTimer = nil
	if b.ready || len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	calls := b.pending
	b.pending = nil
	b.mu.Unlock()

	b.logger.Warn("backend not ready after wait, attempting queued calls", "calls", len(calls), "wait", b.cfg.ReadyWait)
	b.replay(calls)
}

func (b *Backend) replay(calls []call) {
	if len(calls) == 0 {
		return
	}

	b.replaying.Add(1)
	defer b.replaying.Add(-1)

	for _, c := range calls {
		b.run(c)
	}
}

func (b *Backend) checkReadyLocked() {
	if b.ready || !b.engineReady || !b.manifestOK {
		return
	}

	b.ready = true
	b.stopPollLocked()
	if b.pendingTimer != nil {
		b.pendingTimer.Stop()
		b.pendingTimer = nil
	}

	calls := b.pending
	b.pending = nil
	waiters := b.waiters
	b.waiters = nil
	gen := b.generation

	// Replay outside the lock: the engine may signal back into the backend.
	b.mu.Unlock()
	b.replay(calls)
	for _, w := range waiters {
		w.timer.Stop()
		if !w.done {
			w.done = true
			fn := w.fn
			b.emit(func() { fn(true) })
		}
	}
	b.emit(func() {
		if h := b.handlers().ready; h != nil {
			h()
		}
	})
	b.mu.Lock()

	if gen == b.generation {
		b.logger.Debug("backend ready", "source", b.source, "kind", b.kind, "replayed", len(calls))
	}
}

func (b *Backend) schedulePollLocked(gen uint64) {
	if b.clock.Now().Sub(b.loadedAt) >= b.cfg.ReadyWait {
		return
	}

	b.pollTimer = b.clock.AfterFunc(b.pollDelay, func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		if gen != b.generation || b.ready {
			return
		}

		if b.engine.Ready() {
			b.engineReady = true
			b.checkReadyLocked()
			return
		}

		// Embedded players need a polling loop; back off so a slow iframe is
		// not hammered for the whole wait.
		if b.kind == domain.SourceKindEmbedded {
			b.pollDelay = min(b.pollDelay*2, b.cfg.MaxPollInterval)
		}
		b.schedulePollLocked(gen)
	})
}

func (b *Backend) stopPollLocked() {
	if b.pollTimer != nil {
		b.pollTimer.Stop()
		b.pollTimer = nil
	}
}

func (b *Backend) removeWaiterLocked(w *waiter) {
	for i, other := range b.waiters {
		if other == w {
			b.waiters = append(b.waiters[:i], b.waiters[i+1:]...)
			return
		}
	}
}

func (b *Backend) onSignal(s Signal) {
	switch s.Type {
	case SignalReady:
		b.mu.Lock()
		b.engineReady = true
		b.checkReadyLocked()
		b.mu.Unlock()
	case SignalError:
		b.emitError("engine", s.Err)
	case SignalEnded:
		b.emit(func() {
			if h := b.handlers().ended; h != nil {
				h()
			}
		})
	case SignalPlay:
		b.emitAction(domain.EventKindPlay)
	case SignalPause:
		b.emitAction(domain.EventKindPause)
	case SignalSeeked:
		b.emitAction(domain.EventKindSeek)
	case SignalRateChanged:
		b.emitAction(domain.EventKindRateChange)
	}
}

func (b *Backend) emitAction(kind domain.EventKind) {
	if b.replaying.Load() > 0 {
		b.logger.Debug("dropping signal raised by replayed call", "kind", kind)
		return
	}

	b.emit(func() {
		if h := b.handlers().action; h != nil {
			h(kind)
		}
	})
}

func (b *Backend) emitError(op string, err error) {
	e := &Error{Kind: KindOf(err), Op: op, Err: err}
	b.logger.Info("backend error", "op", op, "kind", e.Kind, "error", err)
	b.emit(func() {
		if h := b.handlers().err; h != nil {
			h(e)
		}
	})
}

func (b *Backend) emit(fn func()) {
	b.evMu.Lock()
	b.queue = append(b.queue, fn)
	if b.draining {
		b.evMu.Unlock()
		return
	}
	b.draining = true
	b.evMu.Unlock()

	b.clock.AfterFunc(0, b.drain)
}

func (b *Backend) drain() {
	for {
		b.evMu.Lock()
		if len(b.queue) == 0 {
			b.draining = false
			b.evMu.Unlock()
			return
		}
		fn := b.queue[0]
		b.queue = b.queue[1:]
		b.evMu.Unlock()

		fn()
	}
}
