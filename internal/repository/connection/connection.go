package connection

import "errors"

var (
	ErrAlreadyExists = errors.New("connection already exists")
	ErrNotFound      = errors.New("connection not found")
)

// Conn is a peer connection the relay can write messages to.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

type Member struct {
	RoomID string
	PeerID string
}
