package peer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sharetube/watchsync/internal/bus/wsbus"
	"github.com/sharetube/watchsync/internal/channel"
	"github.com/sharetube/watchsync/internal/clock"
	"github.com/sharetube/watchsync/internal/domain"
	"github.com/sharetube/watchsync/internal/media"
	"github.com/sharetube/watchsync/internal/syncer"
)

var ErrSourceNotReady = errors.New("source did not become ready")

type Config struct {
	ServerURL string
	RoomID    domain.RoomID
	// Source makes the peer a driver: it sets the room source and starts
	// playback at StartAt.
	Source     string
	SourceKind domain.SourceKind
	StartAt    float64

	Skew          float64
	ReadyDelay    time.Duration
	BlockAutoplay bool
	// Periodic turns on drift correction broadcasts.
	Periodic       bool
	StatusInterval time.Duration
	// DropEvery closes the relay connection on this interval to exercise
	// resume. Zero disables it.
	DropEvery  time.Duration
	ReadyWait  time.Duration
	HTTPClient *http.Client
}

// Peer is a headless room member playing through a simulated engine.
type Peer struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.RWMutex
	engine  *media.SimEngine
	adapter *channel.Adapter
}

func New(cfg Config, logger *slog.Logger) *Peer {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = 5 * time.Second
	}
	if cfg.ReadyWait <= 0 {
		cfg.ReadyWait = 10 * time.Second
	}

	return &Peer{cfg: cfg, logger: logger}
}

// Run joins the room and plays until ctx is done.
func (p *Peer) Run(ctx context.Context) error {
	b, err := wsbus.Dial(ctx, wsbus.DefaultConfig(p.cfg.ServerURL, p.cfg.RoomID), p.logger)
	if err != nil {
		return fmt.Errorf("failed to join room: %w", err)
	}
	defer b.Close()

	logger := p.logger.With("peer_id", b.PeerID())

	clk := clock.New()
	engine := media.NewSimEngine(clk, media.SimOptions{
		ReadyDelay:    p.cfg.ReadyDelay,
		BlockAutoplay: p.cfg.BlockAutoplay,
		Skew:          p.cfg.Skew,
	})
	backend := media.NewBackend(engine, clk, media.DefaultConfig(), media.NewHTTPManifestFetcher(p.cfg.HTTPClient), logger)
	defer backend.Close()

	adapter := channel.Attach(b, backend, clk, channel.DefaultConfig(), logger)
	defer adapter.Detach()
	adapter.SetPeriodicCorrection(p.cfg.Periodic)

	p.mu.Lock()
	p.engine = engine
	p.adapter = adapter
	p.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.reportStatus(ctx, logger)
	})
	if p.cfg.Source != "" {
		g.Go(func() error {
			return p.drive(ctx, engine, logger)
		})
	}
	if p.cfg.DropEvery > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(p.cfg.DropEvery)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					logger.Info("dropping relay connection")
					b.Drop()
				}
			}
		})
	}

	return g.Wait()
}

// Status reports the local playback state. ok is false until Run has joined.
func (p *Peer) Status() (status syncer.Status, ok bool) {
	p.mu.RLock()
	adapter := p.adapter
	p.mu.RUnlock()

	if adapter == nil {
		return syncer.Status{}, false
	}

	return adapter.Status(), true
}

// UserGesture unlocks a peer started with a blocked autoplay.
func (p *Peer) UserGesture() {
	p.mu.RLock()
	adapter := p.adapter
	p.mu.RUnlock()

	if adapter != nil {
		adapter.UserGesture()
	}
}

func (p *Peer) reportStatus(ctx context.Context, logger *slog.Logger) error {
	ticker := time.NewTicker(p.cfg.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			status, _ := p.Status()
			logger.Info("status",
				"source", status.Source,
				"ready", status.Ready,
				"playing", status.Playing,
				"time", status.Time,
				"rate", status.Rate,
				"autoplay_blocked", status.AutoplayBlocked,
				"sent", status.Sent,
				"applied", status.Applied,
				"dropped", status.Dropped,
				"last_error", status.LastError,
			)
		}
	}
}

func (p *Peer) drive(ctx context.Context, engine *media.SimEngine, logger *slog.Logger) error {
	if err := p.setSource(ctx); err != nil {
		return err
	}

	// the source arrives back as a room snapshot
	if err := p.waitSource(ctx, engine); err != nil {
		return err
	}

	if p.cfg.StartAt > 0 {
		if err := engine.Seek(p.cfg.StartAt); err != nil {
			logger.Warn("failed to seek", "error", err)
		}
	}
	if err := engine.Play(); err != nil {
		logger.Warn("failed to start playback", "error", err)
	}

	return nil
}

func (p *Peer) waitSource(ctx context.Context, engine *media.SimEngine) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.ReadyWait)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		status, _ := p.Status()
		if engine.Source() == p.cfg.Source && status.Ready && !status.SyncInProgress {
			return nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ErrSourceNotReady
			}
			return nil
		case <-ticker.C:
		}
	}
}

type setSourceRequest struct {
	SourceURL  string `json:"source_url"`
	SourceKind string `json:"source_kind,omitempty"`
}

func (p *Peer) setSource(ctx context.Context) error {
	endpoint, err := p.restURL("/api/v1/rooms/" + url.PathEscape(string(p.cfg.RoomID)) + "/source")
	if err != nil {
		return err
	}

	body, err := json.Marshal(setSourceRequest{SourceURL: p.cfg.Source, SourceKind: string(p.cfg.SourceKind)})
	if err != nil {
		return fmt.Errorf("failed to encode source: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.cfg.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to set source: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("failed to set source: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	return nil
}

func (p *Peer) restURL(path string) (string, error) {
	u, err := url.Parse(strings.TrimRight(p.cfg.ServerURL, "/"))
	if err != nil {
		return "", fmt.Errorf("failed to parse server url: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}

	return u.String() + path, nil
}
