package controller

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sharetube/watchsync/internal/repository/connection"
)

type Output struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

func (c *controller) generateTimeBasedId() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 36) + "-" + strconv.FormatUint(uint64(c.idCounter.Add(1)), 36)
}

func (c *controller) writeToConn(ctx context.Context, conn connection.Conn, output *Output) error {
	if err := conn.WriteJSON(output); err != nil {
		c.logger.DebugContext(ctx, "failed to write to conn", "type", output.Type, "error", err)
		return err
	}

	return nil
}

// broadcast writes output to every conn. A failing conn does not stop the
// others; its error is reported after all writes.
func (c *controller) broadcast(ctx context.Context, conns []connection.Conn, output *Output) error {
	var errs []error
	for _, conn := range conns {
		if err := c.writeToConn(ctx, conn, output); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("failed to write to %d of %d conns: %w", len(errs), len(conns), errors.Join(errs...))
	}

	return nil
}
