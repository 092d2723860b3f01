package inmemory

import (
	"context"
	"sync"

	"github.com/sharetube/watchsync/internal/repository/playback"
)

type repo struct {
	states map[string]playback.State
	mu     sync.RWMutex
}

func NewRepo() *repo {
	return &repo{
		states: make(map[string]playback.State),
	}
}

func (r *repo) SetState(_ context.Context, params *playback.SetStateParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.states[params.RoomID] = params.State
	return nil
}

func (r *repo) GetState(_ context.Context, roomID string) (playback.State, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.states[roomID]
	if !ok {
		return playback.State{}, playback.ErrStateNotFound
	}

	return s, nil
}

func (r *repo) RemoveState(_ context.Context, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.states[roomID]; !ok {
		return playback.ErrStateNotFound
	}
	delete(r.states, roomID)

	return nil
}
