package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/sharetube/watchsync/internal/domain"
	"github.com/sharetube/watchsync/internal/repository/playback"
	"github.com/sharetube/watchsync/pkg/ctxlogger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() AppConfig {
	return AppConfig{
		Secret:    "secret",
		Host:      "0.0.0.0",
		Port:      8080,
		LogLevel:  "info",
		Store:     StoreMemory,
		StateTTL:  time.Hour,
		RedisHost: "localhost",
		RedisPort: 6379,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*AppConfig)
		wantErr string
	}{
		{name: "valid", modify: func(*AppConfig) {}},
		{name: "no secret", modify: func(c *AppConfig) { c.Secret = "" }, wantErr: "secret must be set"},
		{name: "bad port", modify: func(c *AppConfig) { c.Port = 0 }, wantErr: "port 0 out of range"},
		{name: "bad log level", modify: func(c *AppConfig) { c.LogLevel = "loud" }, wantErr: "invalid log level"},
		{name: "unknown store", modify: func(c *AppConfig) { c.Store = "s3" }, wantErr: `unknown store "s3"`},
		{name: "sqlite without path", modify: func(c *AppConfig) { c.Store = StoreSqlite }, wantErr: "sqlite path must be set"},
		{name: "redis without ttl", modify: func(c *AppConfig) {
			c.Store = StoreRedis
			c.StateTTL = 0
		}, wantErr: "state ttl must be greater than 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := validConfig()
	cfg.Secret = ""
	cfg.Port = 70000

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "secret must be set")
	assert.Contains(t, err.Error(), "port 70000 out of range")
}

func TestOpenStateRepo(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	mr := miniredis.RunT(t)
	redisPort, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	configs := map[string]func(*AppConfig){
		StoreMemory: func(*AppConfig) {},
		StoreSqlite: func(c *AppConfig) { c.SqlitePath = filepath.Join(t.TempDir(), "state.db") },
		StoreRedis: func(c *AppConfig) {
			c.RedisHost = mr.Host()
			c.RedisPort = redisPort
		},
	}

	for store, modify := range configs {
		t.Run(store, func(t *testing.T) {
			cfg := validConfig()
			cfg.Store = store
			modify(&cfg)
			require.NoError(t, cfg.Validate())

			repo, closer, err := openStateRepo(&cfg, logger)
			require.NoError(t, err)
			defer closer.Close()

			ctx := context.Background()
			_, err = repo.GetState(ctx, "room-1")
			assert.ErrorIs(t, err, playback.ErrStateNotFound)

			state := domain.PlaybackState{
				SourceURL:    "https://cdn.example.com/a.mp4",
				SourceKind:   domain.SourceKindDirect,
				CurrentTime:  42,
				IsPlaying:    true,
				PlaybackRate: 1.5,
				LastUpdated:  1700000000000,
			}
			require.NoError(t, repo.SetState(ctx, &playback.SetStateParams{
				RoomID: "room-1",
				State:  playback.FromDomain(state),
			}))

			got, err := repo.GetState(ctx, "room-1")
			require.NoError(t, err)
			assert.Equal(t, state, got.ToDomain())
		})
	}
}

func TestOpenStateRepoRedisUnavailable(t *testing.T) {
	cfg := validConfig()
	cfg.Store = StoreRedis
	cfg.RedisHost = "127.0.0.1"
	cfg.RedisPort = 1

	_, _, err := openStateRepo(&cfg, slog.Default())
	assert.ErrorContains(t, err, "failed to create redis client")
}

func TestLoggerAddsContextAttrs(t *testing.T) {
	cfg := validConfig()
	cfg.LogLevel = "debug"

	var buf bytes.Buffer
	logger, err := newLogger(&cfg, &buf)
	require.NoError(t, err)

	ctx := ctxlogger.AppendCtx(context.Background(), slog.String("request_id", "abc"))
	logger.DebugContext(ctx, "hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "abc", entry["request_id"])
	assert.Equal(t, "DEBUG", entry["level"])
}
