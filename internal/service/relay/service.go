package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sharetube/watchsync/internal/clock"
	"github.com/sharetube/watchsync/internal/domain"
	"github.com/sharetube/watchsync/internal/repository/connection"
	"github.com/sharetube/watchsync/internal/repository/playback"
	"github.com/sharetube/watchsync/pkg/ytvideodata"
)

var (
	ErrStateNotFound = errors.New("playback state not found")
	ErrInvalidEvent  = errors.New("invalid sync event")
	ErrInvalidSource = errors.New("invalid source")
	ErrInvalidToken  = errors.New("invalid peer token")
)

// Initiator stamped on events the relay originates itself.
const Initiator domain.PeerID = "relay"

type iStateRepo interface {
	SetState(context.Context, *playback.SetStateParams) error
	GetState(context.Context, string) (playback.State, error)
}

type iConnRepo interface {
	Add(connection.Conn, connection.Member) error
	RemoveByConn(connection.Conn) (connection.Member, error)
	GetMember(connection.Conn) (connection.Member, error)
	ListRoomConns(roomID, exceptPeerID string) []connection.Conn
	RoomSize(roomID string) int
	Count() int
}

type iVideoDataFetcher interface {
	Get(ctx context.Context, videoURL string) (*ytvideodata.VideoData, error)
}

type Config struct {
	Secret         string
	PersistTimeout time.Duration
	TitleTimeout   time.Duration
}

type roomState struct {
	mu    sync.Mutex
	state domain.PlaybackState
	known bool
}

type service struct {
	stateRepo iStateRepo
	connRepo  iConnRepo
	videoData iVideoDataFetcher
	clock     clock.Clock
	secret    []byte
	cfg       Config
	logger    *slog.Logger
	persister *persister

	roomsMu sync.Mutex
	rooms   map[string]*roomState

	eventSeq atomic.Uint64
}

// NewService builds the relay. videoData may be nil, in which case embedded
// sources get no title.
func NewService(stateRepo iStateRepo, connRepo iConnRepo, videoData iVideoDataFetcher, clk clock.Clock, cfg Config, logger *slog.Logger) *service {
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 2 * time.Second
	}
	if cfg.TitleTimeout <= 0 {
		cfg.TitleTimeout = 3 * time.Second
	}

	s := service{
		stateRepo: stateRepo,
		connRepo:  connRepo,
		videoData: videoData,
		clock:     clk,
		secret:    []byte(cfg.Secret),
		cfg:       cfg,
		logger:    logger,
		persister: newPersister(stateRepo, cfg.PersistTimeout, logger),
		rooms:     make(map[string]*roomState),
	}
	s.eventSeq.Store(uint64(clk.Now().UnixNano()))

	return &s
}

// Run writes queued state to the repository until ctx is done, then flushes
// what is left.
func (s *service) Run(ctx context.Context) {
	s.persister.run(ctx)
}

func (s *service) room(roomID string) *roomState {
	s.roomsMu.Lock()
	defer s.roomsMu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		r = &roomState{}
		s.rooms[roomID] = r
	}

	return r
}

// loadLocked fills r from the repository the first time the room is touched.
// r.mu must be held.
func (s *service) loadLocked(ctx context.Context, roomID string, r *roomState) error {
	if r.known {
		return nil
	}

	stored, err := s.stateRepo.GetState(ctx, roomID)
	if err != nil {
		if errors.Is(err, playback.ErrStateNotFound) {
			return ErrStateNotFound
		}

		return err
	}

	r.state = stored.ToDomain()
	r.known = true

	return nil
}

func (s *service) nextEventID() uint64 {
	return s.eventSeq.Add(1)
}

func (s *service) store(roomID string, state domain.PlaybackState) {
	s.persister.enqueue(roomID, state)
}
