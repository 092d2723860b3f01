package controller

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sharetube/watchsync/internal/domain"
	"github.com/sharetube/watchsync/internal/repository/connection"
	"github.com/sharetube/watchsync/internal/service/relay"
	"github.com/sharetube/watchsync/pkg/validator"
	"github.com/sharetube/watchsync/pkg/wsrouter"
)

type iRelayService interface {
	ConnectPeer(context.Context, *relay.ConnectPeerParams) (relay.ConnectPeerResponse, error)
	DisconnectPeer(context.Context, connection.Conn) error
	HandleEvent(context.Context, *relay.HandleEventParams) (relay.HandleEventResponse, error)
	GetSnapshot(context.Context, string) (domain.PlaybackState, error)
	SetSource(context.Context, *relay.SetSourceParams) (relay.SetSourceResponse, error)
}

type Config struct {
	WriteTimeout time.Duration
	// ReadTimeout closes a connection that sent nothing, ALIVE included, for
	// this long.
	ReadTimeout time.Duration
}

type controller struct {
	relayService iRelayService
	upgrader     websocket.Upgrader
	wsmux        *wsrouter.WSRouter
	validate     *validator.Validator
	logger       *slog.Logger
	cfg          Config
	idCounter    atomic.Uint32
}

func NewController(relayService iRelayService, cfg Config, logger *slog.Logger) *controller {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}

	c := &controller{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		relayService: relayService,
		validate:     validator.NewValidator(),
		logger:       logger,
		cfg:          cfg,
	}
	c.wsmux = c.getWSRouter()

	return c
}
