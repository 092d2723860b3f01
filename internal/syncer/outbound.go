package syncer

import (
	"math"
	"slices"

	"github.com/sharetube/watchsync/internal/domain"
)

// HandleLocalAction is called for every native play/pause/seeked/ratechange
// notification of the local backend and decides whether to broadcast it.
func (c *Controller) HandleLocalAction(kind domain.EventKind) {
	c.mu.Lock()
	ev, ok := c.outboundLocked(kind)
	c.mu.Unlock()

	if ok {
		c.publish(ev)
	}
}

func (c *Controller) outboundLocked(kind domain.EventKind) (domain.SyncEvent, bool) {
	if c.closed || !kind.Live() {
		return domain.SyncEvent{}, false
	}

	if c.flags.SyncInProgress {
		c.logger.Debug("local action suppressed, sync in progress", "kind", kind)
		return domain.SyncEvent{}, false
	}

	if c.flags.SuppressNextLocalEvent {
		c.flags.SuppressNextLocalEvent = false
		c.logger.Debug("local action suppressed", "kind", kind)
		return domain.SyncEvent{}, false
	}

	now := c.clock.Now()
	last, seen := c.lastEmit[kind]
	if seen && now.Sub(last.at) < c.cfg.debounce(kind) {
		c.logger.Debug("local action debounced", "kind", kind)
		return domain.SyncEvent{}, false
	}

	if !c.backend.IsReady() {
		c.logger.Debug("local action ignored, backend not ready", "kind", kind)
		return domain.SyncEvent{}, false
	}

	t := c.backend.Time()
	if seen && (kind == domain.EventKindPlay || kind == domain.EventKindPause) &&
		now.Sub(last.at) < c.cfg.RepeatWindow && math.Abs(t-last.time) < c.cfg.DriftThreshold {
		c.logger.Debug("local action repeats last emit", "kind", kind)
		return domain.SyncEvent{}, false
	}

	c.nextEventID++
	ev := domain.SyncEvent{
		Kind:        kind,
		RoomID:      c.room,
		CurrentTime: t,
		InitiatedBy: c.peer,
		EventID:     c.nextEventID,
		EmittedAt:   now.UnixMilli(),
	}
	if kind == domain.EventKindRateChange || kind == domain.EventKindPlay {
		ev.Rate = domain.Float(c.backend.Rate())
	}

	c.lastEmit[kind] = emitted{at: now, time: t}
	c.rememberOwnLocked(ev.EventID)
	c.sent++

	switch kind {
	case domain.EventKindPlay:
		c.roomPlaying = true
		c.ended = false
	case domain.EventKindPause:
		c.roomPlaying = false
	}

	return ev, true
}

func (c *Controller) rememberOwnLocked(id uint64) {
	if len(c.pendingOwn) == pendingOwnSize {
		c.pendingOwn = c.pendingOwn[1:]
	}
	c.pendingOwn = append(c.pendingOwn, id)
}

// pendingEchoLocked reports whether ev is the relay reflecting one of our own
// recent events back to us.
func (c *Controller) pendingEchoLocked(ev domain.SyncEvent) bool {
	return ev.InitiatedBy == c.peer && slices.Contains(c.pendingOwn, ev.EventID)
}
