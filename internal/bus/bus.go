package bus

import (
	"context"
	"errors"

	"github.com/sharetube/watchsync/internal/domain"
)

var (
	ErrClosed       = errors.New("bus closed")
	ErrNotConnected = errors.New("bus not connected")
	ErrNoPlayback   = errors.New("room has no playback state")
	ErrSnapshotLost = errors.New("snapshot request lost")
)

type Handler func(domain.SyncEvent)

// Bus is one peer's view of a room channel. Delivery is best effort with no
// ordering guarantee. Handlers may be called from any goroutine.
type Bus interface {
	PeerID() domain.PeerID
	RoomID() domain.RoomID
	Publish(ctx context.Context, ev domain.SyncEvent) error
	Subscribe(h Handler) (unsubscribe func())
	// RequestSnapshot is a point read of the relay's current state for the room.
	RequestSnapshot(ctx context.Context) (domain.PlaybackState, error)
	// OnConnect is called after every (re)connection, including the first one.
	OnConnect(fn func())
	Close() error
}
