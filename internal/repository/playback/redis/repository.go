package redis

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sharetube/watchsync/internal/repository/playback"
)

type repo struct {
	rc             *redis.Client
	expireDuration time.Duration
	logger         *slog.Logger
}

func NewRepo(rc *redis.Client, expireDuration time.Duration, logger *slog.Logger) *repo {
	return &repo{
		rc:             rc,
		expireDuration: expireDuration,
		logger:         logger,
	}
}

func (r repo) getStateKey(roomID string) string {
	return "room:" + roomID + ":playback"
}

func (r repo) SetState(ctx context.Context, params *playback.SetStateParams) error {
	pipe := r.rc.TxPipeline()

	stateKey := r.getStateKey(params.RoomID)
	if err := r.hSetStruct(ctx, pipe, stateKey, params.State); err != nil {
		return fmt.Errorf("failed to set playback state: %w", err)
	}
	pipe.Expire(ctx, stateKey, r.expireDuration)

	if err := r.executePipe(ctx, pipe); err != nil {
		return fmt.Errorf("failed to set playback state: %w", err)
	}

	r.logger.DebugContext(ctx, "playback state stored", "room_id", params.RoomID, "current_time", params.State.CurrentTime, "is_playing", params.State.IsPlaying)
	return nil
}

func (r repo) GetState(ctx context.Context, roomID string) (playback.State, error) {
	stateKey := r.getStateKey(roomID)

	cmd := r.rc.HGetAll(ctx, stateKey)
	if err := cmd.Err(); err != nil {
		return playback.State{}, fmt.Errorf("failed to get playback state: %w", err)
	}
	if len(cmd.Val()) == 0 {
		return playback.State{}, playback.ErrStateNotFound
	}

	var state playback.State
	if err := cmd.Scan(&state); err != nil {
		return playback.State{}, fmt.Errorf("failed to scan playback state: %w", err)
	}

	r.rc.Expire(ctx, stateKey, r.expireDuration)

	return state, nil
}

func (r repo) RemoveState(ctx context.Context, roomID string) error {
	res, err := r.rc.Del(ctx, r.getStateKey(roomID)).Result()
	if err != nil {
		return fmt.Errorf("failed to remove playback state: %w", err)
	}

	if res == 0 {
		return playback.ErrStateNotFound
	}

	return nil
}

func (r repo) hSetStruct(ctx context.Context, c redis.Pipeliner, key string, value any) error {
	v := reflect.ValueOf(value)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}

	t := v.Type()
	fields := make([]any, 0, 2*v.NumField())
	for i := 0; i < v.NumField(); i++ {
		tag := t.Field(i).Tag.Get("redis")
		if tag == "" {
			tag = t.Field(i).Name
		}

		fields = append(fields, tag, v.Field(i).Interface())
	}

	return c.HSet(ctx, key, fields...).Err()
}

func (r repo) executePipe(ctx context.Context, pipe redis.Pipeliner) error {
	cmds, err := pipe.Exec(ctx)
	if err != nil {
		for _, cmd := range cmds {
			if err := cmd.Err(); err != nil {
				return err
			}
		}

		return err
	}

	return nil
}
