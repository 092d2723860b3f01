package media

import (
	"context"
	"testing"
	"time"

	"github.com/sharetube/watchsync/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimEnginePlayhead(t *testing.T) {
	clk := clock.NewMock(start)
	e := NewSimEngine(clk, SimOptions{Skew: 1.02})

	var signals []SignalType
	e.SetListener(func(s Signal) { signals = append(signals, s.Type) })

	require.NoError(t, e.Load(context.Background(), "file.mp4"))
	require.NoError(t, e.Play())
	clk.Advance(10 * time.Second)
	assert.InDelta(t, 10.2, e.Time(), 0.001)

	require.NoError(t, e.SetRate(2))
	clk.Advance(time.Second)
	assert.InDelta(t, 12.24, e.Time(), 0.001)

	require.NoError(t, e.Pause())
	require.NoError(t, e.Pause())
	clk.Advance(time.Minute)
	assert.InDelta(t, 12.24, e.Time(), 0.001)

	assert.Equal(t, []SignalType{SignalReady, SignalPlay, SignalRateChanged, SignalPause}, signals,
		"repeated pause must not raise a second signal")
}

func TestSimEngineRefusesBeforeReady(t *testing.T) {
	clk := clock.NewMock(start)
	e := NewSimEngine(clk, SimOptions{ReadyDelay: time.Second})

	assert.ErrorIs(t, e.Play(), ErrNoSource)

	require.NoError(t, e.Load(context.Background(), "file.mp4"))
	assert.ErrorIs(t, e.Seek(3), ErrNotReadyYet)

	clk.Advance(time.Second)
	assert.NoError(t, e.Seek(3))
	assert.Equal(t, 3.0, e.Time())
}
