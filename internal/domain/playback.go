package domain

import (
	"time"
)

type SourceKind string

const (
	SourceKindDirect   SourceKind = "direct"
	SourceKindHLS      SourceKind = "hls"
	SourceKindEmbedded SourceKind = "embedded"
)

func (k SourceKind) Valid() bool {
	switch k {
	case SourceKindDirect, SourceKindHLS, SourceKindEmbedded:
		return true
	}

	return false
}

const (
	DefaultPlaybackRate = 1.0
	MinPlaybackRate     = 0.0625
	MaxPlaybackRate     = 16.0
)

// PlaybackState is the room-wide playback record. The relay holds the
// authoritative copy; clients hold approximations of it.
type PlaybackState struct {
	SourceURL    string     `json:"source_url"`
	SourceKind   SourceKind `json:"source_kind"`
	Title        string     `json:"title,omitempty"`
	CurrentTime  float64    `json:"current_time"`
	IsPlaying    bool       `json:"is_playing"`
	PlaybackRate float64    `json:"playback_rate"`
	// LastUpdated is relay-local unix milliseconds. It is never compared across
	// processes for ordering.
	LastUpdated int64 `json:"last_updated"`
}

func NewPlaybackState(sourceURL string, kind SourceKind, now time.Time) PlaybackState {
	return PlaybackState{
		SourceURL:    sourceURL,
		SourceKind:   kind,
		CurrentTime:  0,
		IsPlaying:    false,
		PlaybackRate: DefaultPlaybackRate,
		LastUpdated:  now.UnixMilli(),
	}
}

// PositionAt extrapolates the playhead to now using the stored rate. A paused
// state does not move.
func (s PlaybackState) PositionAt(now time.Time) float64 {
	if !s.IsPlaying || s.LastUpdated == 0 {
		return s.CurrentTime
	}

	elapsed := now.Sub(time.UnixMilli(s.LastUpdated)).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}

	rate := s.PlaybackRate
	if rate <= 0 {
		rate = DefaultPlaybackRate
	}

	return s.CurrentTime + elapsed*rate
}

// Extrapolated returns a copy rebased to now.
func (s PlaybackState) Extrapolated(now time.Time) PlaybackState {
	s.CurrentTime = s.PositionAt(now)
	s.LastUpdated = now.UnixMilli()

	return s
}

func (s PlaybackState) HasSource() bool {
	return s.SourceURL != ""
}
