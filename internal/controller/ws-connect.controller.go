package controller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/sharetube/watchsync/internal/service/relay"
	"github.com/sharetube/watchsync/pkg/ctxlogger"
)

type joinedOutput struct {
	PeerID    string `json:"peer_id"`
	PeerToken string `json:"peer_token"`
	RoomID    string `json:"room_id"`
	Resumed   bool   `json:"resumed"`
}

func (c *controller) joinRoom(w http.ResponseWriter, r *http.Request) {
	roomId := chi.URLParam(r, "room-id")
	if roomId == "" {
		c.logger.DebugContext(r.Context(), "empty room id")
		http.Error(w, "room id is required", http.StatusBadRequest)
		return
	}

	peerToken := r.URL.Query().Get("peer-token")

	wsConn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.logger.WarnContext(r.Context(), "failed to upgrade to websocket", "error", err)
		return
	}
	conn := newWSConn(wsConn, c.cfg.WriteTimeout, c.cfg.ReadTimeout)
	defer conn.Close()

	// the request context is not cancelled by websocket close
	ctx := context.WithoutCancel(r.Context())

	connectResp, err := c.relayService.ConnectPeer(ctx, &relay.ConnectPeerParams{
		Conn:      conn,
		RoomID:    roomId,
		PeerToken: peerToken,
	})
	if err != nil {
		c.logger.WarnContext(ctx, "failed to connect peer", "error", err)
		return
	}
	defer c.disconnect(ctx, conn)

	if err := c.writeToConn(ctx, conn, &Output{
		Type: "JOINED",
		Payload: joinedOutput{
			PeerID:    connectResp.PeerID,
			PeerToken: connectResp.PeerToken,
			RoomID:    roomId,
			Resumed:   connectResp.Resumed,
		},
	}); err != nil {
		c.logger.WarnContext(ctx, "failed to write joined", "error", err)
		return
	}

	ctx = context.WithValue(ctx, roomIdCtxKey, roomId)
	ctx = context.WithValue(ctx, peerIdCtxKey, connectResp.PeerID)
	ctx = ctxlogger.AppendCtx(ctx, slog.String("room_id", roomId))
	ctx = ctxlogger.AppendCtx(ctx, slog.String("peer_id", connectResp.PeerID))

	if err := c.wsmux.ServeConn(ctx, conn); err != nil && !isNormalClose(err) {
		c.logger.InfoContext(ctx, "websocket closed", "error", err)
	}
}

func (c *controller) disconnect(ctx context.Context, conn *wsConn) {
	if err := c.relayService.DisconnectPeer(ctx, conn); err != nil {
		c.logger.WarnContext(ctx, "failed to disconnect peer", "error", err)
	}
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || errors.Is(err, io.EOF)
}
