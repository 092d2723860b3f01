package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sharetube/watchsync/internal/domain"
	"github.com/sharetube/watchsync/internal/peer"
	"github.com/sharetube/watchsync/pkg/ctxlogger"
)

type configVar[T any] struct {
	envKey       string
	flagKey      string
	defaultValue T
	usage        string
}

var (
	serverURL = configVar[string]{
		envKey:       "PEER_SERVER_URL",
		flagKey:      "server-url",
		defaultValue: "http://localhost:80",
		usage:        "Relay base url",
	}
	roomID = configVar[string]{
		envKey:       "PEER_ROOM_ID",
		flagKey:      "room",
		defaultValue: "",
		usage:        "Room to join",
	}
	source = configVar[string]{
		envKey:       "PEER_SOURCE",
		flagKey:      "source",
		defaultValue: "",
		usage:        "Video to set as the room source; makes this peer the driver",
	}
	sourceKind = configVar[string]{
		envKey:       "PEER_SOURCE_KIND",
		flagKey:      "source-kind",
		defaultValue: "",
		usage:        "Source kind (direct, hls, embedded); guessed from the url when empty",
	}
	startAt = configVar[float64]{
		envKey:       "PEER_START_AT",
		flagKey:      "start-at",
		defaultValue: 0,
		usage:        "Position in seconds the driver starts playing from",
	}
	skew = configVar[float64]{
		envKey:       "PEER_SKEW",
		flagKey:      "skew",
		defaultValue: 1,
		usage:        "Playhead speed against wall time, to simulate a drifting player",
	}
	readyDelay = configVar[time.Duration]{
		envKey:       "PEER_READY_DELAY",
		flagKey:      "ready-delay",
		defaultValue: 200 * time.Millisecond,
		usage:        "Simulated load time of a source",
	}
	blockAutoplay = configVar[bool]{
		envKey:       "PEER_BLOCK_AUTOPLAY",
		flagKey:      "block-autoplay",
		defaultValue: false,
		usage:        "Refuse programmatic play until a gesture",
	}
	periodic = configVar[bool]{
		envKey:       "PEER_PERIODIC",
		flagKey:      "periodic",
		defaultValue: true,
		usage:        "Broadcast periodic drift corrections",
	}
	statusInterval = configVar[time.Duration]{
		envKey:       "PEER_STATUS_INTERVAL",
		flagKey:      "status-interval",
		defaultValue: 5 * time.Second,
		usage:        "How often the local state is logged",
	}
	dropEvery = configVar[time.Duration]{
		envKey:       "PEER_DROP_EVERY",
		flagKey:      "drop-every",
		defaultValue: 0,
		usage:        "Drop the relay connection on this interval to exercise resume",
	}
	logLevel = configVar[string]{
		envKey:       "PEER_LOG_LEVEL",
		flagKey:      "log-level",
		defaultValue: "INFO",
		usage:        "Logging level",
	}
)

func loadConfig() (peer.Config, string) {
	pflag.String(serverURL.flagKey, serverURL.defaultValue, serverURL.usage)
	pflag.String(roomID.flagKey, roomID.defaultValue, roomID.usage)
	pflag.String(source.flagKey, source.defaultValue, source.usage)
	pflag.String(sourceKind.flagKey, sourceKind.defaultValue, sourceKind.usage)
	pflag.Float64(startAt.flagKey, startAt.defaultValue, startAt.usage)
	pflag.Float64(skew.flagKey, skew.defaultValue, skew.usage)
	pflag.Duration(readyDelay.flagKey, readyDelay.defaultValue, readyDelay.usage)
	pflag.Bool(blockAutoplay.flagKey, blockAutoplay.defaultValue, blockAutoplay.usage)
	pflag.Bool(periodic.flagKey, periodic.defaultValue, periodic.usage)
	pflag.Duration(statusInterval.flagKey, statusInterval.defaultValue, statusInterval.usage)
	pflag.Duration(dropEvery.flagKey, dropEvery.defaultValue, dropEvery.usage)
	pflag.String(logLevel.flagKey, logLevel.defaultValue, logLevel.usage)
	pflag.Parse()

	viper.BindPFlags(pflag.CommandLine)

	for _, v := range [][2]string{
		{serverURL.flagKey, serverURL.envKey},
		{roomID.flagKey, roomID.envKey},
		{source.flagKey, source.envKey},
		{sourceKind.flagKey, sourceKind.envKey},
		{startAt.flagKey, startAt.envKey},
		{skew.flagKey, skew.envKey},
		{readyDelay.flagKey, readyDelay.envKey},
		{blockAutoplay.flagKey, blockAutoplay.envKey},
		{periodic.flagKey, periodic.envKey},
		{statusInterval.flagKey, statusInterval.envKey},
		{dropEvery.flagKey, dropEvery.envKey},
		{logLevel.flagKey, logLevel.envKey},
	} {
		viper.BindEnv(v[0], v[1])
	}

	return peer.Config{
		ServerURL:      viper.GetString(serverURL.flagKey),
		RoomID:         domain.RoomID(viper.GetString(roomID.flagKey)),
		Source:         viper.GetString(source.flagKey),
		SourceKind:     domain.SourceKind(viper.GetString(sourceKind.flagKey)),
		StartAt:        viper.GetFloat64(startAt.flagKey),
		Skew:           viper.GetFloat64(skew.flagKey),
		ReadyDelay:     viper.GetDuration(readyDelay.flagKey),
		BlockAutoplay:  viper.GetBool(blockAutoplay.flagKey),
		Periodic:       viper.GetBool(periodic.flagKey),
		StatusInterval: viper.GetDuration(statusInterval.flagKey),
		DropEvery:      viper.GetDuration(dropEvery.flagKey),
	}, viper.GetString(logLevel.flagKey)
}

func main() {
	cfg, level := loadConfig()
	if cfg.RoomID == "" {
		log.Fatal("room must be set")
	}

	var logLevel slog.Level
	if err := logLevel.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		log.Fatal(err)
	}
	logger := slog.New(&ctxlogger.ContextHandler{
		Handler: slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := peer.New(cfg, logger).Run(ctx); err != nil {
		log.Fatal(err)
	}
}
