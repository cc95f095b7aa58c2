package game

import (
	"context"
	"crypto/rand"
	"log/slog"
	mrand "math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"example.com/karuta-mvp/internal/catalog"
)

// ClueRecord is what the analytics side-channel receives per accepted
// submission.
type ClueRecord struct {
	SessionID  string
	Round      int
	AuthorID   string
	OpponentID string
	TargetID   string
	Clue       string
}

// ClueSink is the best-effort analytics contract: failures are logged
// and swallowed, never surfaced to players.
type ClueSink interface {
	RecordClue(ctx context.Context, rec ClueRecord) error
}

// RoomService owns the live-room registry. It is the only process-wide
// mutable state; everything else hangs off individual rooms.
type RoomService struct {
	mu    sync.Mutex
	rooms map[string]*Room

	cfg      Config
	catalog  *catalog.Catalog
	resolver catalog.Resolver
	sinks    []ClueSink
	log      *slog.Logger
}

func NewRoomService(cfg Config, cat *catalog.Catalog, resolver catalog.Resolver, sinks []ClueSink, log *slog.Logger) *RoomService {
	if log == nil {
		log = slog.Default()
	}
	if cfg.AdvanceDelay == 0 {
		cfg.AdvanceDelay = 5 * time.Second
	}
	if cfg.ReapDelay == 0 {
		cfg.ReapDelay = 5 * time.Second
	}
	return &RoomService{
		rooms:    make(map[string]*Room),
		cfg:      cfg,
		catalog:  cat,
		resolver: resolver,
		sinks:    sinks,
		log:      log,
	}
}

// Create resolves the version preference against the catalog (first
// known version when the preference is unknown) and registers a fresh
// room. Fails up front when the catalog is empty rather than at the
// first round.
func (s *RoomService) Create(versionPreference string) (*Room, error) {
	versions := s.catalog.Versions()
	if len(versions) == 0 {
		return nil, ErrNoVersions
	}

	selected := versions[0]
	if s.catalog.HasVersion(versionPreference) {
		selected = versionPreference
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := newRoomID()
	for {
		if _, taken := s.rooms[id]; !taken {
			break
		}
		id = newRoomID()
	}

	room := newRoom(id, selected, s.cfg, s.log)
	room.drawCard = func() (catalog.Card, bool) {
		pool := s.catalog.CardsFor(selected)
		if len(pool) == 0 {
			return catalog.Card{}, false
		}
		// uniform, with replacement across rounds
		return pool[mrand.IntN(len(pool))], true
	}
	room.imageURL = func(relPath string) string {
		return s.resolver.ImageURL(nil, relPath)
	}
	room.record = func(rec ClueRecord) {
		go s.recordClue(rec)
	}

	s.rooms[id] = room
	return room, nil
}

func (s *RoomService) Get(id string) (*Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	return r, ok
}

func (s *RoomService) Delete(id string) {
	s.mu.Lock()
	r, ok := s.rooms[id]
	delete(s.rooms, id)
	s.mu.Unlock()

	if ok {
		r.Close()
	}
}

func (s *RoomService) List() []RoomSummary {
	s.mu.Lock()
	rooms := make([]*Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, r)
	}
	s.mu.Unlock()

	out := make([]RoomSummary, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, r.Summary())
	}
	return out
}

// ScheduleReap arms the disconnect grace timer: if nobody in the room
// has a live connection once it fires, the room is deleted. The timer
// callback re-checks the registry so a room deleted in the meantime is
// a clean no-op.
func (s *RoomService) ScheduleReap(roomID string) {
	time.AfterFunc(s.cfg.ReapDelay, func() {
		s.mu.Lock()
		r, ok := s.rooms[roomID]
		if !ok || r.HasLiveConnection() {
			s.mu.Unlock()
			return
		}
		delete(s.rooms, roomID)
		s.mu.Unlock()

		s.log.Info("room reaped after disconnect grace", "room", roomID)
		r.Close()
	})
}

func (s *RoomService) recordClue(rec ClueRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, sink := range s.sinks {
		if err := sink.RecordClue(ctx, rec); err != nil {
			s.log.Error("clue sink write failed",
				"room", rec.SessionID, "round", rec.Round, "err", err)
		}
	}
}

// NewPlayerID mints a stable player identity; clients hold on to it
// across reconnects.
func NewPlayerID() string {
	return uuid.NewString()
}

const roomIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func newRoomID() string {
	b := make([]byte, 6)
	_, _ = rand.Read(b)
	for i := range b {
		b[i] = roomIDAlphabet[int(b[i])%len(roomIDAlphabet)]
	}
	return string(b)
}
