package wsbus

import (
	"encoding/json"

	"github.com/sharetube/watchsync/internal/domain"
)

const (
	typeSyncEvent       = "SYNC_EVENT"
	typeRequestSnapshot = "REQUEST_SNAPSHOT"
	typeAlive           = "ALIVE"
	typeJoined          = "JOINED"
	typeSnapshot        = "SNAPSHOT"
	typeError           = "ERROR"
)

type outbound struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type inbound struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type joinedPayload struct {
	PeerID    string `json:"peer_id"`
	PeerToken string `json:"peer_token"`
	RoomID    string `json:"room_id"`
}

type requestSnapshotPayload struct {
	RequestID string `json:"request_id"`
}

type snapshotPayload struct {
	RequestID string                `json:"request_id"`
	State     *domain.PlaybackState `json:"state"`
}

type errorPayload struct {
	RequestID string `json:"request_id,omitempty"`
	Message   string `json:"message"`
}
