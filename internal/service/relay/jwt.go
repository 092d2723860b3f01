package relay

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

type Claims struct {
	PeerID string `json:"peer_id"`
	RoomID string `json:"room_id"`
}

func (s *service) generateJWT(peerID, roomID string) (string, error) {
	claims := jwt.MapClaims{
		"peer_id": peerID,
		"room_id": roomID,
		"iat":     s.clock.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	return token.SignedString(s.secret)
}

func (s *service) parseJWT(tokenString string) (*Claims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	peerID, _ := claims["peer_id"].(string)
	roomID, _ := claims["room_id"].(string)
	if peerID == "" || roomID == "" {
		return nil, ErrInvalidToken
	}

	return &Claims{
		PeerID: peerID,
		RoomID: roomID,
	}, nil
}
