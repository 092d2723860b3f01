package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sharetube/watchsync/internal/clock"
	"github.com/sharetube/watchsync/internal/controller"
	"github.com/sharetube/watchsync/internal/repository/connection/inmemory"
	"github.com/sharetube/watchsync/internal/repository/playback"
	playbackInmemory "github.com/sharetube/watchsync/internal/repository/playback/inmemory"
	playbackRedis "github.com/sharetube/watchsync/internal/repository/playback/redis"
	playbackSqlite "github.com/sharetube/watchsync/internal/repository/playback/sqlite"
	"github.com/sharetube/watchsync/internal/service/relay"
	"github.com/sharetube/watchsync/pkg/ctxlogger"
	"github.com/sharetube/watchsync/pkg/redisclient"
	"github.com/sharetube/watchsync/pkg/ytvideodata"
)

const (
	StoreRedis  = "redis"
	StoreSqlite = "sqlite"
	StoreMemory = "memory"
)

type AppConfig struct {
	Secret         string        `json:"-"`
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	LogLevel       string        `json:"log_level"`
	Store          string        `json:"store"`
	StateTTL       time.Duration `json:"state_ttl"`
	PersistTimeout time.Duration `json:"persist_timeout"`
	SqlitePath     string        `json:"sqlite_path"`
	RedisPort      int           `json:"redis_port"`
	RedisHost      string        `json:"redis_host"`
	RedisPassword  string        `json:"-"`
	RedisDB        int           `json:"redis_db"`
}

func (cfg *AppConfig) Validate() error {
	var errs []error
	if cfg.Secret == "" {
		errs = append(errs, errors.New("secret must be set"))
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", cfg.Port))
	}
	if _, err := parseLogLevel(cfg.LogLevel); err != nil {
		errs = append(errs, err)
	}

	switch cfg.Store {
	case StoreRedis:
		if cfg.RedisHost == "" {
			errs = append(errs, errors.New("redis host must be set"))
		}
		if cfg.StateTTL <= 0 {
			errs = append(errs, errors.New("state ttl must be greater than 0"))
		}
	case StoreSqlite:
		if cfg.SqlitePath == "" {
			errs = append(errs, errors.New("sqlite path must be set"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown store %q, want one of %s, %s, %s", cfg.Store, StoreRedis, StoreSqlite, StoreMemory))
	}

	return errors.Join(errs...)
}

func parseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return level, fmt.Errorf("invalid log level %q: %w", s, err)
	}

	return level, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

type stateRepo interface {
	SetState(context.Context, *playback.SetStateParams) error
	GetState(context.Context, string) (playback.State, error)
}

// openStateRepo opens the configured playback store. The returned closer
// releases it.
func openStateRepo(cfg *AppConfig, logger *slog.Logger) (stateRepo, io.Closer, error) {
	switch cfg.Store {
	case StoreRedis:
		rc, err := redisclient.NewRedisClient(&redisclient.Config{
			Port:     cfg.RedisPort,
			Host:     cfg.RedisHost,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create redis client: %w", err)
		}
		return playbackRedis.NewRepo(rc, cfg.StateTTL, logger), rc, nil
	case StoreSqlite:
		repo, err := playbackSqlite.Open(cfg.SqlitePath, playbackSqlite.Options{BusyTimeout: 5 * time.Second}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return repo, repo, nil
	case StoreMemory:
		return playbackInmemory.NewRepo(), nopCloser{}, nil
	}

	return nil, nil, fmt.Errorf("unknown store %q", cfg.Store)
}

func newLogger(cfg *AppConfig, w io.Writer) (*slog.Logger, error) {
	logLevel, err := parseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	h := ctxlogger.ContextHandler{
		Handler: slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:     logLevel,
			AddSource: true,
		}),
	}

	return slog.New(&h), nil
}

func Run(ctx context.Context, cfg *AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, err := newLogger(cfg, os.Stdout)
	if err != nil {
		return err
	}

	stateRepo, closer, err := openStateRepo(cfg, logger)
	if err != nil {
		return err
	}
	defer closer.Close()

	connectionRepo := inmemory.NewRepo(logger)
	relayService := relay.NewService(
		stateRepo,
		connectionRepo,
		ytvideodata.New(&http.Client{Timeout: 5 * time.Second}),
		clock.New(),
		relay.Config{
			Secret:         cfg.Secret,
			PersistTimeout: cfg.PersistTimeout,
		},
		logger,
	)
	controller := controller.NewController(relayService, controller.Config{}, logger)
	server := &http.Server{Addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port), Handler: controller.GetMux()}

	relayCtx, stopRelay := context.WithCancel(context.Background())
	relayDone := make(chan struct{})
	go func() {
		relayService.Run(relayCtx)
		close(relayDone)
	}()
	// flush pending state writes before the store is closed
	defer func() {
		stopRelay()
		<-relayDone
	}()

	// graceful shutdown
	serverCtx, serverStopCtx := context.WithCancel(ctx)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		select {
		case <-sig:
		case <-ctx.Done():
		}

		shutdownCtx, c := context.WithTimeout(context.Background(), 30*time.Second)
		defer c()

		go func() {
			<-shutdownCtx.Done()
			if shutdownCtx.Err() == context.DeadlineExceeded {
				log.Fatal("graceful shutdown timed out.. forcing exit.")
			}
		}()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shut down server", "error", err)
		}
		serverStopCtx()
	}()

	logger.InfoContext(serverCtx, "starting server", "address", server.Addr, "store", cfg.Store)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	<-serverCtx.Done()

	return nil
}
