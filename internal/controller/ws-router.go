package controller

import (
	"context"
	"errors"

	"github.com/sharetube/watchsync/pkg/wsrouter"
)

func (c *controller) getWSRouter() *wsrouter.WSRouter {
	mux := wsrouter.New()
	mux.Use(c.wsRequestIdWSMw(), c.loggerWSMw())
	mux.SetErrorHandler(c.handleWSError)

	wsrouter.Handle(mux, "ALIVE", c.handleAlive)
	wsrouter.Handle(mux, "SYNC_EVENT", c.handleSyncEvent)
	wsrouter.Handle(mux, "REQUEST_SNAPSHOT", c.handleRequestSnapshot)

	return mux
}

type errorOutput struct {
	RequestID string `json:"request_id,omitempty"`
	Message   string `json:"message"`
	Errors    any    `json:"errors,omitempty"`
}

type requestError struct {
	requestID string
	err       error
}

func (e *requestError) Error() string { return e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

type validationError struct {
	errors any
}

func (e *validationError) Error() string { return "validation error" }

func (c *controller) handleWSError(ctx context.Context, conn wsrouter.Conn, err error) {
	c.logger.InfoContext(ctx, "websocket message failed", "error", err)

	out := errorOutput{Message: err.Error()}

	var reqErr *requestError
	if errors.As(err, &reqErr) {
		out.RequestID = reqErr.requestID
	}

	var valErr *validationError
	if errors.As(err, &valErr) {
		out.Errors = valErr.errors
	}

	if err := conn.WriteJSON(&Output{Type: "ERROR", Payload: out}); err != nil {
		c.logger.DebugContext(ctx, "failed to write error", "error", err)
	}
}
