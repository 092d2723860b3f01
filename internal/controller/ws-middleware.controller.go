package controller

import (
	"context"
	"log/slog"
	"time"

	"github.com/sharetube/watchsync/pkg/ctxlogger"
	"github.com/sharetube/watchsync/pkg/wsrouter"
)

func (c *controller) wsRequestIdWSMw() wsrouter.Middleware {
	return func(next wsrouter.HandlerFunc[any]) wsrouter.HandlerFunc[any] {
		return func(ctx context.Context, conn wsrouter.Conn, payload any) error {
			ctx = ctxlogger.AppendCtx(ctx, slog.String("ws_request_id", c.generateTimeBasedId()))
			return next(ctx, conn, payload)
		}
	}
}

func (c *controller) loggerWSMw() wsrouter.Middleware {
	return func(next wsrouter.HandlerFunc[any]) wsrouter.HandlerFunc[any] {
		return func(ctx context.Context, conn wsrouter.Conn, payload any) error {
			messageType := wsrouter.GetMessageTypeFromCtx(ctx)
			ctx = ctxlogger.AppendCtx(ctx, slog.String("message_type", messageType))

			// ALIVE arrives every few seconds from every peer
			if messageType != "ALIVE" {
				c.logger.DebugContext(ctx, "websocket message received", "payload", payload)
			}

			start := time.Now()
			err := next(ctx, conn, payload)

			if messageType != "ALIVE" {
				c.logger.DebugContext(ctx, "websocket message handled",
					"processing_time_us", time.Since(start).Microseconds(),
				)
			}

			return err
		}
	}
}
