package relay

import (
	"context"

	"github.com/sharetube/watchsync/internal/domain"
)

// GetSnapshot answers a point read of the room state, extrapolated to now.
func (s *service) GetSnapshot(ctx context.Context, roomID string) (domain.PlaybackState, error) {
	r := s.room(roomID)
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := s.loadLocked(ctx, roomID, r); err != nil {
		snapshotsTotal.WithLabelValues("miss").Inc()
		return domain.PlaybackState{}, err
	}

	snapshotsTotal.WithLabelValues("hit").Inc()

	return r.state.Extrapolated(s.clock.Now()), nil
}
