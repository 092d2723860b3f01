package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sharetube/watchsync/internal/repository/playback"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS playback_state (
	room_id       TEXT PRIMARY KEY,
	source_url    TEXT NOT NULL,
	source_kind   TEXT NOT NULL,
	title         TEXT NOT NULL DEFAULT '',
	position      REAL NOT NULL DEFAULT 0,
	is_playing    INTEGER NOT NULL DEFAULT 0,
	playback_rate REAL NOT NULL DEFAULT 1,
	last_updated  INTEGER NOT NULL DEFAULT 0
)`

type Options struct {
	BusyTimeout time.Duration
}

type repo struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (and migrates) a file-backed store. ":memory:" is accepted for
// tests and pinned to a single connection.
func Open(path string, options Options, logger *slog.Logger) (*repo, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable wal: %w", err)
	}

	busyTimeoutMs := int(options.BusyTimeout / time.Millisecond)
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeoutMs)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &repo{db: db, logger: logger}, nil
}

func (r *repo) Close() error {
	return r.db.Close()
}

func (r *repo) SetState(ctx context.Context, params *playback.SetStateParams) error {
	s := params.State
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO playback_state (room_id, source_url, source_kind, title, position, is_playing, playback_rate, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(room_id) DO UPDATE SET
			source_url = excluded.source_url,
			source_kind = excluded.source_kind,
			title = excluded.title,
			position = excluded.position,
			is_playing = excluded.is_playing,
			playback_rate = excluded.playback_rate,
			last_updated = excluded.last_updated
	`, params.RoomID, s.SourceURL, s.SourceKind, s.Title, s.CurrentTime, s.IsPlaying, s.PlaybackRate, s.LastUpdated)
	if err != nil {
		return fmt.Errorf("failed to set playback state: %w", err)
	}

	r.logger.DebugContext(ctx, "playback state stored", "room_id", params.RoomID, "current_time", s.CurrentTime, "is_playing", s.IsPlaying)
	return nil
}

func (r *repo) GetState(ctx context.Context, roomID string) (playback.State, error) {
	var s playback.State
	err := r.db.QueryRowContext(ctx, `
		SELECT source_url, source_kind, title, position, is_playing, playback_rate, last_updated
		FROM playback_state
		WHERE room_id = ?
	`, roomID).Scan(&s.SourceURL, &s.SourceKind, &s.Title, &s.CurrentTime, &s.IsPlaying, &s.PlaybackRate, &s.LastUpdated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return playback.State{}, playback.ErrStateNotFound
		}
		return playback.State{}, fmt.Errorf("failed to get playback state: %w", err)
	}

	return s, nil
}

func (r *repo) RemoveState(ctx context.Context, roomID string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM playback_state WHERE room_id = ?", roomID)
	if err != nil {
		return fmt.Errorf("failed to remove playback state: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to remove playback state: %w", err)
	}
	if n == 0 {
		return playback.ErrStateNotFound
	}

	return nil
}
