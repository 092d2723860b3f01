package controller

import "context"

type contextKey int

const (
	roomIdCtxKey contextKey = iota
	peerIdCtxKey
)

func (c *controller) getRoomIdFromCtx(ctx context.Context) string {
	roomId, ok := ctx.Value(roomIdCtxKey).(string)
	if !ok {
		return ""
	}

	return roomId
}

func (c *controller) getPeerIdFromCtx(ctx context.Context) string {
	peerId, ok := ctx.Value(peerIdCtxKey).(string)
	if !ok {
		return ""
	}

	return peerId
}
