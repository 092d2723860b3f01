package syncer

import (
	"time"

	"github.com/sharetube/watchsync/internal/domain"
)

type Config struct {
	// FlagClear force-clears the reconciliation flags after a live event.
	FlagClear time.Duration
	// SnapshotSettle is how long a snapshot waits for the backend to become
	// ready before it is applied anyway.
	SnapshotSettle time.Duration
	// ReadyWait bounds how long a remote event, or a snapshot that missed
	// SnapshotSettle, is held for a backend that is not ready. The position is
	// computed when the backend turns ready, not when the event arrived.
	ReadyWait  time.Duration
	PlaySettle time.Duration

	PlayDebounce  time.Duration
	PauseDebounce time.Duration
	SeekDebounce  time.Duration
	RateDebounce  time.Duration
	// RepeatWindow drops a play or pause that repeats the previous outbound
	// event of the same kind at roughly the same position.
	RepeatWindow time.Duration

	DriftThreshold     float64
	DriftInterval      time.Duration
	PeriodicCorrection bool

	PauseRetries       int
	PauseRetryInterval time.Duration
	PublishTimeout     time.Duration
}

func DefaultConfig() Config {
	return Config{
		FlagClear:          2500 * time.Millisecond,
		SnapshotSettle:     1500 * time.Millisecond,
		ReadyWait:          5 * time.Second,
		PlaySettle:         300 * time.Millisecond,
		PlayDebounce:       800 * time.Millisecond,
		PauseDebounce:      1500 * time.Millisecond,
		SeekDebounce:       1500 * time.Millisecond,
		RateDebounce:       0,
		RepeatWindow:       1500 * time.Millisecond,
		DriftThreshold:     0.5,
		DriftInterval:      2 * time.Second,
		PeriodicCorrection: true,
		PauseRetries:       2,
		PauseRetryInterval: 100 * time.Millisecond,
		PublishTimeout:     5 * time.Second,
	}
}

func (c Config) debounce(kind domain.EventKind) time.Duration {
	switch kind {
	case domain.EventKindPlay:
		return c.PlayDebounce
	case domain.EventKindPause:
		return c.PauseDebounce
	case domain.EventKindSeek:
		return c.SeekDebounce
	case domain.EventKindRateChange:
		return c.RateDebounce
	}

	return 0
}

// snapshotClear is the flag lifetime for a snapshot apply: the longer of the
// live timeout and the settle delay plus the play settle.
func (c Config) snapshotClear() time.Duration {
	return max(c.FlagClear, c.SnapshotSettle+c.PlaySettle)
}
