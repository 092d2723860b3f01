package domain

import (
	"fmt"
	"time"
)

type (
	PeerID string
	RoomID string
)

type EventKind string

const (
	EventKindPlay          EventKind = "PLAY"
	EventKindPause         EventKind = "PAUSE"
	EventKindSeek          EventKind = "SEEK"
	EventKindRateChange    EventKind = "RATE_CHANGE"
	EventKindStateSnapshot EventKind = "STATE_SNAPSHOT"
)

// Live reports whether the kind is a control action a peer may publish.
func (k EventKind) Live() bool {
	switch k {
	case EventKindPlay, EventKindPause, EventKindSeek, EventKindRateChange:
		return true
	}

	return false
}

// SyncEvent is one control action travelling over the room channel.
// InitiatedBy is the only sender identity field.
type SyncEvent struct {
	Kind        EventKind `json:"kind"`
	RoomID      RoomID    `json:"room_id"`
	CurrentTime float64   `json:"current_time"`
	Rate        *float64  `json:"rate"`
	InitiatedBy PeerID    `json:"initiated_by"`
	// EventID is monotonic per sender. Zero means the sender did not assign one.
	EventID    uint64         `json:"event_id"`
	EmittedAt  int64          `json:"emitted_at"`
	IsPeriodic bool           `json:"is_periodic"`
	State      *PlaybackState `json:"state"`
}

// EventKey identifies a single delivery for deduplication.
type EventKey struct {
	ID   uint64
	Peer PeerID
}

func (e SyncEvent) Key() EventKey {
	id := e.EventID
	if id == 0 {
		id = uint64(e.EmittedAt)
	}

	return EventKey{ID: id, Peer: e.InitiatedBy}
}

func (k EventKey) String() string {
	return fmt.Sprintf("%s#%d", k.Peer, k.ID)
}

func (k EventKey) IsZero() bool {
	return k.ID == 0 && k.Peer == ""
}

func NewSnapshotEvent(roomID RoomID, state PlaybackState, eventID uint64, initiatedBy PeerID, now time.Time) SyncEvent {
	rate := state.PlaybackRate
	return SyncEvent{
		Kind:        EventKindStateSnapshot,
		RoomID:      roomID,
		CurrentTime: state.CurrentTime,
		Rate:        &rate,
		InitiatedBy: initiatedBy,
		EventID:     eventID,
		EmittedAt:   now.UnixMilli(),
		State:       &state,
	}
}

func Float(f float64) *float64 {
	return &f
}
