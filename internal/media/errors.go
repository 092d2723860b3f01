package media

import (
	"errors"
)

type ErrorKind string

const (
	ErrorKindNetwork           ErrorKind = "NetworkError"
	ErrorKindDecode            ErrorKind = "DecodeError"
	ErrorKindUnsupportedFormat ErrorKind = "UnsupportedFormat"
	ErrorKindRemoteRejected    ErrorKind = "RemoteRejected"
)

var (
	ErrNotReadyYet       = errors.New("backend not ready yet")
	ErrNetwork           = errors.New("network error")
	ErrDecode            = errors.New("decode error")
	ErrUnsupportedFormat = errors.New("unsupported format")
	// ErrRemoteRejected is a policy refusal, e.g. autoplay without a user gesture.
	ErrRemoteRejected = errors.New("rejected by playback policy")
	ErrNoSource       = errors.New("no source loaded")
)

// KindOf maps an engine error onto the coarse kind surfaced to the controller.
func KindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrRemoteRejected):
		return ErrorKindRemoteRejected
	case errors.Is(err, ErrDecode):
		return ErrorKindDecode
	case errors.Is(err, ErrUnsupportedFormat):
		return ErrorKindUnsupportedFormat
	default:
		return ErrorKindNetwork
	}
}

// Error is what OnError handlers receive.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return e.Op + ": " + string(e.Kind) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}
