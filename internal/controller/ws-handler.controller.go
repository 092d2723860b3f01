package controller

import (
	"context"
	"errors"
	"fmt"

	"github.com/sharetube/watchsync/internal/domain"
	"github.com/sharetube/watchsync/internal/service/relay"
	"github.com/sharetube/watchsync/pkg/wsrouter"
)

type EmptyInput struct{}

func (c *controller) handleAlive(_ context.Context, _ wsrouter.Conn, _ EmptyInput) error {
	return nil
}

type SyncEventInput struct {
	Kind        domain.EventKind `json:"kind" validate:"required,oneof=PLAY PAUSE SEEK RATE_CHANGE"`
	CurrentTime float64          `json:"current_time" validate:"gte=0"`
	Rate        *float64         `json:"rate" validate:"omitempty,gte=0.0625,lte=16"`
	EventID     uint64           `json:"event_id"`
	EmittedAt   int64            `json:"emitted_at"`
	IsPeriodic  bool             `json:"is_periodic"`
}

func (c *controller) handleSyncEvent(ctx context.Context, _ wsrouter.Conn, input SyncEventInput) error {
	roomId := c.getRoomIdFromCtx(ctx)
	peerId := c.getPeerIdFromCtx(ctx)

	if validationErrors, ok := c.validate.Validate(input); !ok {
		return &validationError{errors: validationErrors}
	}

	handleEventResp, err := c.relayService.HandleEvent(ctx, &relay.HandleEventParams{
		Event: domain.SyncEvent{
			Kind:        input.Kind,
			CurrentTime: input.CurrentTime,
			Rate:        input.Rate,
			EventID:     input.EventID,
			EmittedAt:   input.EmittedAt,
			IsPeriodic:  input.IsPeriodic,
		},
		SenderID: peerId,
		RoomID:   roomId,
	})
	if err != nil {
		return fmt.Errorf("failed to handle sync event: %w", err)
	}

	if err := c.broadcast(ctx, handleEventResp.Conns, &Output{
		Type:    "SYNC_EVENT",
		Payload: handleEventResp.Event,
	}); err != nil {
		// one dead peer must not turn into an error for the sender
		c.logger.InfoContext(ctx, "failed to broadcast sync event", "error", err)
	}

	return nil
}

type RequestSnapshotInput struct {
	RequestID string `json:"request_id" validate:"required,max=64"`
}

type snapshotOutput struct {
	RequestID string                `json:"request_id"`
	State     *domain.PlaybackState `json:"state"`
}

func (c *controller) handleRequestSnapshot(ctx context.Context, conn wsrouter.Conn, input RequestSnapshotInput) error {
	roomId := c.getRoomIdFromCtx(ctx)

	if validationErrors, ok := c.validate.Validate(input); !ok {
		return &validationError{errors: validationErrors}
	}

	out := snapshotOutput{RequestID: input.RequestID}

	state, err := c.relayService.GetSnapshot(ctx, roomId)
	switch {
	case errors.Is(err, relay.ErrStateNotFound):
	case err != nil:
		return &requestError{requestID: input.RequestID, err: fmt.Errorf("failed to get snapshot: %w", err)}
	default:
		out.State = &state
	}

	return c.writeToConn(ctx, conn, &Output{
		Type:    "SNAPSHOT",
		Payload: out,
	})
}
