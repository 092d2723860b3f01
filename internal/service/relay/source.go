package relay

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/sharetube/watchsync/internal/domain"
	"github.com/sharetube/watchsync/internal/media"
	"github.com/sharetube/watchsync/internal/repository/connection"
)

type SetSourceParams struct {
	RoomID     string
	SourceURL  string
	SourceKind domain.SourceKind
	// ContentType is an optional MIME hint such as application/vnd.apple.mpegurl.
	ContentType string
}

type SetSourceResponse struct {
	State domain.PlaybackState
	Event domain.SyncEvent
	Conns []connection.Conn
}

// SetSource gives a room its video. Time, playing and rate are reset and the
// returned snapshot event goes to every member.
func (s *service) SetSource(ctx context.Context, params *SetSourceParams) (SetSourceResponse, error) {
	u, err := url.Parse(strings.TrimSpace(params.SourceURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return SetSourceResponse{}, fmt.Errorf("%w: %q", ErrInvalidSource, params.SourceURL)
	}
	if params.SourceKind != "" && !params.SourceKind.Valid() {
		return SetSourceResponse{}, fmt.Errorf("%w: kind %q", ErrInvalidSource, params.SourceKind)
	}

	sourceURL := u.String()
	kind := media.ClassifySource(sourceURL, params.SourceKind, params.ContentType)
	title := s.lookupTitle(ctx, sourceURL, kind)

	now := s.clock.Now()
	state := domain.NewPlaybackState(sourceURL, kind, now)
	state.Title = title

	r := s.room(params.RoomID)
	r.mu.Lock()
	r.state = state
	r.known = true
	r.mu.Unlock()

	s.store(params.RoomID, state)
	sourcesTotal.WithLabelValues(string(kind)).Inc()

	s.logger.InfoContext(ctx, "room source set", "room_id", params.RoomID, "source", sourceURL, "kind", kind, "title", title)

	return SetSourceResponse{
		State: state,
		Event: domain.NewSnapshotEvent(domain.RoomID(params.RoomID), state, s.nextEventID(), Initiator, now),
		Conns: s.connRepo.ListRoomConns(params.RoomID, ""),
	}, nil
}

func (s *service) lookupTitle(ctx context.Context, sourceURL string, kind domain.SourceKind) string {
	if kind != domain.SourceKindEmbedded || s.videoData == nil {
		return ""
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.TitleTimeout)
	defer cancel()

	data, err := s.videoData.Get(ctx, sourceURL)
	if err != nil {
		s.logger.InfoContext(ctx, "failed to get video data", "source", sourceURL, "error", err)
		return ""
	}

	return data.Title
}
