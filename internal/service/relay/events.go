package relay

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/sharetube/watchsync/internal/domain"
	"github.com/sharetube/watchsync/internal/repository/connection"
)

type HandleEventParams struct {
	Event    domain.SyncEvent
	SenderID string
	RoomID   string
}

type HandleEventResponse struct {
	Event domain.SyncEvent
	State domain.PlaybackState
	Conns []connection.Conn
}

func validateEvent(ev domain.SyncEvent) error {
	if !ev.Kind.Live() {
		return fmt.Errorf("%w: kind %q", ErrInvalidEvent, ev.Kind)
	}
	if math.IsNaN(ev.CurrentTime) || math.IsInf(ev.CurrentTime, 0) || ev.CurrentTime < 0 {
		return fmt.Errorf("%w: current_time %v", ErrInvalidEvent, ev.CurrentTime)
	}
	if ev.Rate != nil && (*ev.Rate < domain.MinPlaybackRate || *ev.Rate > domain.MaxPlaybackRate) {
		return fmt.Errorf("%w: rate %v", ErrInvalidEvent, *ev.Rate)
	}
	if ev.Kind == domain.EventKindRateChange && ev.Rate == nil {
		return fmt.Errorf("%w: rate change without rate", ErrInvalidEvent)
	}

	return nil
}

// HandleEvent applies a live event to the room state, last writer wins by
// arrival, and returns the connections it must be fanned out to.
func (s *service) HandleEvent(ctx context.Context, params *HandleEventParams) (HandleEventResponse, error) {
	ev := params.Event
	ev.InitiatedBy = domain.PeerID(params.SenderID)
	ev.RoomID = domain.RoomID(params.RoomID)
	ev.State = nil

	if err := validateEvent(ev); err != nil {
		eventsRejected.Inc()
		return HandleEventResponse{}, err
	}

	now := s.clock.Now()
	if ev.EmittedAt == 0 {
		ev.EmittedAt = now.UnixMilli()
	}

	r := s.room(params.RoomID)
	r.mu.Lock()
	if err := s.loadLocked(ctx, params.RoomID, r); err != nil && !errors.Is(err, ErrStateNotFound) {
		s.logger.WarnContext(ctx, "failed to load playback state, starting empty", "room_id", params.RoomID, "error", err)
	}
	if !r.known {
		r.state = domain.NewPlaybackState("", "", now)
		r.known = true
	}

	state := r.state
	switch ev.Kind {
	case domain.EventKindPlay:
		state.IsPlaying = true
		state.CurrentTime = ev.CurrentTime
		if ev.Rate != nil {
			state.PlaybackRate = *ev.Rate
		}
	case domain.EventKindPause:
		state.IsPlaying = false
		state.CurrentTime = ev.CurrentTime
	case domain.EventKindSeek:
		state.CurrentTime = ev.CurrentTime
	case domain.EventKindRateChange:
		// Carry the playhead forward at the old rate before switching.
		state = state.Extrapolated(now)
		state.PlaybackRate = *ev.Rate
	}
	state.LastUpdated = now.UnixMilli()
	r.state = state
	r.mu.Unlock()

	s.store(params.RoomID, state)
	eventsTotal.WithLabelValues(string(ev.Kind)).Inc()

	s.logger.DebugContext(ctx, "sync event accepted",
		"room_id", params.RoomID,
		"sender_id", params.SenderID,
		"kind", ev.Kind,
		"event_id", ev.EventID,
		"current_time", ev.CurrentTime,
		"periodic", ev.IsPeriodic,
	)

	return HandleEventResponse{
		Event: ev,
		State: state,
		Conns: s.connRepo.ListRoomConns(params.RoomID, params.SenderID),
	}, nil
}
