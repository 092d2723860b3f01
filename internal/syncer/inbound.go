package syncer

import (
	"math"
	"time"

	"github.com/sharetube/watchsync/internal/domain"
)

// requestedSnapshotPeer keys snapshots pulled from the relay, which carry no
// sender of their own.
const requestedSnapshotPeer domain.PeerID = "~snapshot"

// HandleRemoteEvent is the bus delivery entry point.
func (c *Controller) HandleRemoteEvent(ev domain.SyncEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	key := ev.Key()
	if key == c.flags.LastAppliedKey {
		if !c.flags.SyncInProgress {
			c.drop(ev, "duplicate")
			return
		}

		// Re-delivered while the first copy is still being applied: keep the
		// flags up, leave the application in flight alone.
		c.flags.SuppressNextLocalEvent = true
		c.armClearLocked(c.cfg.FlagClear)
		c.logger.Debug("remote event re-delivered during sync", "kind", ev.Kind, "key", key)
		return
	}

	if ev.Kind == domain.EventKindStateSnapshot {
		if ev.State == nil {
			c.drop(ev, "snapshot without state")
			return
		}
		c.applySnapshotLocked(key, *ev.State, c.clock.Now())
		return
	}

	if !ev.Kind.Live() {
		c.drop(ev, "unknown kind")
		return
	}

	// The origin never applies its own events, periodic ones included.
	if ev.InitiatedBy == c.peer {
		if c.pendingEchoLocked(ev) {
			c.drop(ev, "own echo")
		} else {
			c.drop(ev, "self")
		}
		return
	}

	if high, ok := c.highestApplied[key.Peer]; ok && key.ID <= high {
		c.drop(ev, "out of order")
		return
	}
	c.highestApplied[key.Peer] = key.ID

	if ev.IsPeriodic && c.inSyncLocked(ev) {
		c.flags.LastAppliedKey = key
		c.roomPlaying = true
		return
	}

	c.beginApplyLocked(key, c.cfg.FlagClear)
	c.lastLiveAppliedAt = c.clock.Now()
	c.applied++

	c.logger.Debug("applying remote event",
		"kind", ev.Kind,
		"from", ev.InitiatedBy,
		"event_id", ev.EventID,
		"current_time", ev.CurrentTime,
		"local_time", c.backend.Time(),
		"periodic", ev.IsPeriodic,
	)

	if !c.backend.IsReady() {
		c.applyWhenReadyLocked(ev, c.clock.Now())
		return
	}
	c.applyLiveLocked(ev)
}

func (c *Controller) applyLiveLocked(ev domain.SyncEvent) {
	switch ev.Kind {
	case domain.EventKindPlay:
		c.applyPlayLocked(ev)
	case domain.EventKindPause:
		c.applyPauseLocked(ev)
	case domain.EventKindSeek:
		c.backend.Seek(ev.CurrentTime)
	case domain.EventKindRateChange:
		if ev.Rate != nil {
			c.backend.SetRate(*ev.Rate)
		}
	}
}

// applyWhenReadyLocked holds a live event until the backend can take it. Calls
// queued in the backend would land on a position the room has already left.
func (c *Controller) applyWhenReadyLocked(ev domain.SyncEvent, receivedAt time.Time) {
	gen := c.applyGen
	c.backend.WhenReady(c.cfg.ReadyWait, func(ready bool) {
		c.mu.Lock()
		defer c.mu.Unlock()

		if gen != c.applyGen || c.closed {
			return
		}
		if !ready {
			c.logger.Warn("backend not ready, applying remote event anyway", "kind", ev.Kind, "wait", c.cfg.ReadyWait)
		}

		ev = c.carryForwardLocked(ev, c.clock.Now().Sub(receivedAt))
		c.flags.SyncInProgress = true
		c.flags.SuppressNextLocalEvent = true
		c.armClearLocked(c.cfg.FlagClear)
		c.applyLiveLocked(ev)
	})
}

// carryForwardLocked moves the position of a held event by the time the room
// kept playing while it waited.
func (c *Controller) carryForwardLocked(ev domain.SyncEvent, elapsed time.Duration) domain.SyncEvent {
	switch {
	case ev.Kind == domain.EventKindPlay:
	case ev.Kind == domain.EventKindSeek && c.roomPlaying:
	default:
		return ev
	}

	rate := c.backend.Rate()
	if ev.Rate != nil && *ev.Rate > 0 {
		rate = *ev.Rate
	}
	ev.CurrentTime += elapsed.Seconds() * rate

	return ev
}

// BeginSnapshotRequest marks the moment a snapshot was requested. A live event
// applied after this point makes the answer stale.
func (c *Controller) BeginSnapshotRequest() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.snapshotRequestedAt = c.clock.Now()
	return c.snapshotRequestedAt
}

// ApplySnapshot converges the backend to a relay snapshot requested at
// requestedAt. Snapshots are never self-filtered.
func (c *Controller) ApplySnapshot(state domain.PlaybackState, requestedAt time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	if c.lastLiveAppliedAt.After(requestedAt) {
		c.logger.Info("discarding stale snapshot, a live event was applied after the request",
			"requested_at", requestedAt, "live_applied_at", c.lastLiveAppliedAt)
		c.dropped++
		return false
	}

	if !state.HasSource() {
		c.logger.Debug("snapshot has no source yet")
		return false
	}

	c.snapshotSeq++
	c.applySnapshotLocked(domain.EventKey{ID: c.snapshotSeq, Peer: requestedSnapshotPeer}, state, c.clock.Now())
	return true
}

func (c *Controller) beginApplyLocked(key domain.EventKey, clear time.Duration) {
	c.flags.SyncInProgress = true
	c.flags.SuppressNextLocalEvent = true
	c.flags.LastAppliedKey = key
	c.flags.LastAppliedAt = c.clock.Now()
	c.applyGen++
	c.armClearLocked(clear)
}

// inSyncLocked reports whether a periodic PLAY would change nothing locally.
func (c *Controller) inSyncLocked(ev domain.SyncEvent) bool {
	if !c.backend.IsReady() || (!c.backend.Playing() && !c.autoplayBlocked) {
		return false
	}
	if ev.Rate != nil && *ev.Rate != c.backend.Rate() {
		return false
	}

	return math.Abs(c.backend.Time()-ev.CurrentTime) <= c.cfg.DriftThreshold
}

func (c *Controller) applyPlayLocked(ev domain.SyncEvent) {
	c.roomPlaying = true
	c.ended = false

	if ev.Rate != nil && *ev.Rate != c.backend.Rate() {
		c.backend.SetRate(*ev.Rate)
	}

	if math.Abs(c.backend.Time()-ev.CurrentTime) > c.cfg.DriftThreshold {
		c.backend.Seek(ev.CurrentTime)
		c.afterLocked(c.cfg.PlaySettle, c.playLocked)
		return
	}

	if !c.backend.Playing() {
		c.playLocked()
	}
}

func (c *Controller) applyPauseLocked(ev domain.SyncEvent) {
	c.roomPlaying = false

	if math.Abs(c.backend.Time()-ev.CurrentTime) > c.cfg.DriftThreshold {
		c.backend.Seek(ev.CurrentTime)
	}
	c.backend.Pause()

	for i := 1; i <= c.cfg.PauseRetries; i++ {
		i := i
		c.afterLocked(time.Duration(i)*c.cfg.PauseRetryInterval, func() {
			if c.backend.Playing() {
				c.logger.Debug("backend resumed after pause, pausing again", "retry", i)
				c.backend.Pause()
			}
		})
	}
}

func (c *Controller) playLocked() {
	if c.autoplayBlocked {
		c.logger.Debug("not playing, autoplay blocked")
		return
	}
	if !c.backend.Playing() {
		c.backend.Play()
	}
}

func (c *Controller) applySnapshotLocked(key domain.EventKey, state domain.PlaybackState, receivedAt time.Time) {
	c.beginApplyLocked(key, c.cfg.snapshotClear())
	c.applied++
	c.roomPlaying = state.IsPlaying
	c.ended = false

	if c.backend.Source() != state.SourceURL {
		c.logger.Info("loading room source", "source", state.SourceURL, "kind", state.SourceKind)
		c.backend.Load(state.SourceURL, state.SourceKind)
	}

	// The relay stamped the state when it answered. Clocks are not shared, so
	// the position is carried forward from local receipt instead.
	state.LastUpdated = receivedAt.UnixMilli()

	gen := c.applyGen
	c.backend.WhenReady(c.cfg.SnapshotSettle, func(ready bool) {
		c.mu.Lock()
		defer c.mu.Unlock()

		if gen != c.applyGen || c.closed {
			return
		}
		if ready || c.cfg.ReadyWait <= 0 {
			if !ready {
				c.logger.Warn("backend not ready within snapshot settle, applying anyway", "settle", c.cfg.SnapshotSettle)
			}
			c.applyStateLocked(state)
			return
		}

		// Calls issued now would sit in the backend queue while the room moves
		// on. Hold the flags and take the position once the backend is ready.
		c.logger.Info("backend not ready within snapshot settle, waiting", "settle", c.cfg.SnapshotSettle, "wait", c.cfg.ReadyWait)
		c.armClearLocked(c.cfg.ReadyWait + c.cfg.PlaySettle)
		c.backend.WhenReady(c.cfg.ReadyWait, func(ready bool) {
			c.mu.Lock()
			defer c.mu.Unlock()

			if gen != c.applyGen || c.closed {
				return
			}
			if !ready {
				c.logger.Warn("backend still not ready, applying snapshot anyway", "wait", c.cfg.ReadyWait)
			}

			c.flags.SyncInProgress = true
			c.flags.SuppressNextLocalEvent = true
			c.armClearLocked(c.cfg.FlagClear)
			c.applyStateLocked(state)
		})
	})
}

// applyStateLocked moves the backend to where state says the room is now.
func (c *Controller) applyStateLocked(state domain.PlaybackState) {
	target := state.PositionAt(c.clock.Now())
	c.logger.Debug("applying snapshot", "target", target, "playing", state.IsPlaying, "rate", state.PlaybackRate)

	c.backend.Seek(target)
	if state.IsPlaying {
		c.playLocked()
	} else {
		c.backend.Pause()
	}
	if state.PlaybackRate > 0 && state.PlaybackRate != c.backend.Rate() {
		c.backend.SetRate(state.PlaybackRate)
	}
}

// afterLocked schedules fn under mu unless a newer remote event has been
// applied in the meantime.
func (c *Controller) afterLocked(d time.Duration, fn func()) {
	gen := c.applyGen
	c.clock.AfterFunc(d, func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		if gen != c.applyGen || c.closed {
			return
		}
		fn()
	})
}

func (c *Controller) drop(ev domain.SyncEvent, reason string) {
	c.dropped++
	c.logger.Debug("remote event dropped", "reason", reason, "kind", ev.Kind, "from", ev.InitiatedBy, "event_id", ev.EventID)
}
