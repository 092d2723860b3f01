package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sharetube/watchsync/internal/repository/connection"
)

type ConnectPeerParams struct {
	Conn      connection.Conn
	RoomID    string
	PeerToken string
}

type ConnectPeerResponse struct {
	PeerID    string
	PeerToken string
	Resumed   bool
}

// ConnectPeer registers conn in its room. A valid peer token for the same room
// resumes the peer id it was issued for.
func (s *service) ConnectPeer(ctx context.Context, params *ConnectPeerParams) (ConnectPeerResponse, error) {
	var (
		peerID  string
		resumed bool
	)
	if params.PeerToken != "" {
		claims, err := s.parseJWT(params.PeerToken)
		switch {
		case err != nil:
			s.logger.InfoContext(ctx, "ignoring peer token", "error", err)
		case claims.RoomID != params.RoomID:
			s.logger.InfoContext(ctx, "ignoring peer token issued for another room", "token_room_id", claims.RoomID)
		default:
			peerID = claims.PeerID
			resumed = true
		}
	}
	if peerID == "" {
		peerID = uuid.NewString()
	}

	token, err := s.generateJWT(peerID, params.RoomID)
	if err != nil {
		return ConnectPeerResponse{}, fmt.Errorf("failed to generate peer token: %w", err)
	}

	if err := s.connRepo.Add(params.Conn, connection.Member{
		RoomID: params.RoomID,
		PeerID: peerID,
	}); err != nil {
		return ConnectPeerResponse{}, fmt.Errorf("failed to add conn: %w", err)
	}
	peersConnected.Set(float64(s.connRepo.Count()))

	s.logger.InfoContext(ctx, "peer connected", "room_id", params.RoomID, "peer_id", peerID, "resumed", resumed)

	return ConnectPeerResponse{
		PeerID:    peerID,
		PeerToken: token,
		Resumed:   resumed,
	}, nil
}

// DisconnectPeer drops conn from the registry. The room state outlives its
// members.
func (s *service) DisconnectPeer(ctx context.Context, conn connection.Conn) error {
	member, err := s.connRepo.RemoveByConn(conn)
	if err != nil {
		if errors.Is(err, connection.ErrNotFound) {
			return nil
		}

		return fmt.Errorf("failed to remove conn: %w", err)
	}
	peersConnected.Set(float64(s.connRepo.Count()))

	s.logger.InfoContext(ctx, "peer disconnected", "room_id", member.RoomID, "peer_id", member.PeerID,
		"room_size", s.connRepo.RoomSize(member.RoomID))

	return nil
}

// Member resolves the peer behind a registered conn.
func (s *service) Member(conn connection.Conn) (connection.Member, error) {
	return s.connRepo.GetMember(conn)
}

// RoomConns lists the member connections of a room, optionally without one peer.
func (s *service) RoomConns(roomID, exceptPeerID string) []connection.Conn {
	return s.connRepo.ListRoomConns(roomID, exceptPeerID)
}
