package syncer

import (
	"github.com/sharetube/watchsync/internal/domain"
)

func (c *Controller) scheduleDriftLocked() {
	if c.cfg.DriftInterval <= 0 {
		return
	}

	c.driftTimer = c.clock.AfterFunc(c.cfg.DriftInterval, c.driftTick)
}

// SetPeriodicCorrection turns the drift-correction broadcast on or off. The
// tick keeps running either way.
func (c *Controller) SetPeriodicCorrection(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cfg.PeriodicCorrection = enabled
}

func (c *Controller) driftTick() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.scheduleDriftLocked()

	ev, ok := c.periodicLocked()
	c.mu.Unlock()

	if ok {
		c.publish(ev)
	}
}

func (c *Controller) periodicLocked() (domain.SyncEvent, bool) {
	if !c.cfg.PeriodicCorrection || c.flags.SyncInProgress || c.autoplayBlocked {
		return domain.SyncEvent{}, false
	}
	if !c.backend.IsReady() || !c.backend.Playing() {
		return domain.SyncEvent{}, false
	}

	now := c.clock.Now()
	c.nextEventID++
	c.rememberOwnLocked(c.nextEventID)
	c.sent++

	return domain.SyncEvent{
		Kind:        domain.EventKindPlay,
		RoomID:      c.room,
		CurrentTime: c.backend.Time(),
		Rate:        domain.Float(c.backend.Rate()),
		InitiatedBy: c.peer,
		EventID:     c.nextEventID,
		EmittedAt:   now.UnixMilli(),
		IsPeriodic:  true,
	}, true
}
