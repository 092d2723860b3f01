package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sharetube/watchsync/internal/domain"
	"github.com/sharetube/watchsync/internal/repository/playback"
)

// persister writes room state behind the event path. Only the latest state of
// each room is kept while a write is pending, so writes never reorder.
type persister struct {
	repo    iStateRepo
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	pending map[string]domain.PlaybackState
	wake    chan struct{}
}

func newPersister(repo iStateRepo, timeout time.Duration, logger *slog.Logger) *persister {
	return &persister{
		repo:    repo,
		timeout: timeout,
		logger:  logger,
		pending: make(map[string]domain.PlaybackState),
		wake:    make(chan struct{}, 1),
	}
}

func (p *persister) enqueue(roomID string, state domain.PlaybackState) {
	p.mu.Lock()
	p.pending[roomID] = state
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *persister) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.flush()
			return
		case <-p.wake:
			p.flush()
		}
	}
}

func (p *persister) flush() {
	p.mu.Lock()
	batch := p.pending
	p.pending = make(map[string]domain.PlaybackState)
	p.mu.Unlock()

	for roomID, state := range batch {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		start := time.Now()
		err := p.repo.SetState(ctx, &playback.SetStateParams{
			RoomID: roomID,
			State:  playback.FromDomain(state),
		})
		cancel()
		persistDuration.Observe(time.Since(start).Seconds())

		if err != nil {
			persistFailures.Inc()
			p.logger.Warn("failed to persist playback state", "room_id", roomID, "error", err)
		}
	}
}
