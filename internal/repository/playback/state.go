package playback

import (
	"github.com/sharetube/watchsync/internal/domain"
)

// State is the stored form of a room's PlaybackState.
type State struct {
	SourceURL    string  `redis:"source_url"`
	SourceKind   string  `redis:"source_kind"`
	Title        string  `redis:"title"`
	CurrentTime  float64 `redis:"current_time"`
	IsPlaying    bool    `redis:"is_playing"`
	PlaybackRate float64 `redis:"playback_rate"`
	LastUpdated  int64   `redis:"last_updated"`
}

type SetStateParams struct {
	RoomID string
	State  State
}

func FromDomain(s domain.PlaybackState) State {
	return State{
		SourceURL:    s.SourceURL,
		SourceKind:   string(s.SourceKind),
		Title:        s.Title,
		CurrentTime:  s.CurrentTime,
		IsPlaying:    s.IsPlaying,
		PlaybackRate: s.PlaybackRate,
		LastUpdated:  s.LastUpdated,
	}
}

func (s State) ToDomain() domain.PlaybackState {
	return domain.PlaybackState{
		SourceURL:    s.SourceURL,
		SourceKind:   domain.SourceKind(s.SourceKind),
		Title:        s.Title,
		CurrentTime:  s.CurrentTime,
		IsPlaying:    s.IsPlaying,
		PlaybackRate: s.PlaybackRate,
		LastUpdated:  s.LastUpdated,
	}
}
