package media

import (
	"context"
)

type SignalType int

const (
	SignalReady SignalType = iota
	SignalError
	SignalEnded
	// Native playback notifications. Engines raise them for user actions and
	// for programmatic calls alike, the way an HTML media element does.
	SignalPlay
	SignalPause
	SignalSeeked
	SignalRateChanged
)

func (t SignalType) String() string {
	switch t {
	case SignalReady:
		return "ready"
	case SignalError:
		return "error"
	case SignalEnded:
		return "ended"
	case SignalPlay:
		return "play"
	case SignalPause:
		return "pause"
	case SignalSeeked:
		return "seeked"
	case SignalRateChanged:
		return "ratechange"
	}

	return "unknown"
}

type Signal struct {
	Type SignalType
	Err  error
}

// Engine is the raw control surface of one underlying player. Engines may
// refuse calls before they are ready; Backend smooths that over.
type Engine interface {
	Load(ctx context.Context, source string) error
	Play() error
	Pause() error
	Seek(t float64) error
	SetRate(r float64) error
	Time() float64
	Rate() float64
	Playing() bool
	Ready() bool
	// SetListener installs the callback for engine signals. The engine may call
	// it from any goroutine. A playback signal caused by a control call must be
	// raised before that call returns.
	SetListener(func(Signal))
}

// GestureReceiver is implemented by engines that gate autoplay on a user
// gesture.
type GestureReceiver interface {
	UserGesture()
}
