package game

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"example.com/karuta-mvp/internal/catalog"
)

// TotalRounds is fixed game-wide; a room never outlives round 5.
const TotalRounds = 5

const maxPlayers = 2

// Config holds the timing knobs. Both delays are UX pacing, not
// correctness: tests shrink them to milliseconds.
type Config struct {
	AdvanceDelay time.Duration // pause between roundResult and the next round
	ReapDelay    time.Duration // grace before an empty room is deleted
}

type Player struct {
	id    string
	name  string
	score int // pair-based scoring leaves this at 0; kept for client compat

	conn *ClientConn // nil while disconnected; membership survives
}

// Room is the aggregate of one game session. Every mutation goes
// through r.mu; methods suffixed Locked assume the caller holds it.
type Room struct {
	id              string
	selectedVersion string

	mu sync.Mutex

	players  []*Player
	started  bool
	finished bool
	closed   bool // reaped from the registry; timers must no-op

	currentRound int
	totalRounds  int
	pairScore    int

	assignments  map[string]Assignment
	cluesBy      map[string]string
	pendingClues map[string]struct{}
	history      []RoundResult

	advanceTimer *time.Timer
	advanceToken int64

	// wired by RoomService
	drawCard func() (catalog.Card, bool)
	imageURL func(relPath string) string
	record   func(rec ClueRecord) // best-effort analytics, must not block

	log *slog.Logger
	cfg Config
}

func newRoom(id, version string, cfg Config, log *slog.Logger) *Room {
	if log == nil {
		log = slog.Default()
	}
	return &Room{
		id:              id,
		selectedVersion: version,
		totalRounds:     TotalRounds,
		assignments:     make(map[string]Assignment),
		cluesBy:         make(map[string]string),
		pendingClues:    make(map[string]struct{}),
		cfg:             cfg,
		log:             log,
	}
}

func (r *Room) ID() string { return r.id }

func (r *Room) SelectedVersion() string { return r.selectedVersion }

// CurrentRound is 0 until the game starts.
func (r *Room) CurrentRound() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentRound
}

// Join adds a member via the REST path (no live connection yet).
// Joining with a known player id is idempotent.
func (r *Room) Join(playerID, name string) (PlayerInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p := r.memberLocked(playerID); p != nil {
		return PlayerInfo{ID: p.id, Name: p.name, Score: p.score}, nil
	}
	if len(r.players) >= maxPlayers {
		return PlayerInfo{}, ErrRoomFull
	}

	p := &Player{id: playerID, name: name}
	if p.name == "" {
		p.name = "Player"
	}
	r.players = append(r.players, p)

	r.broadcastLocked(Envelope{Type: "lobbyUpdate", Payload: mustJSON(r.publicStateLocked())})
	r.tryStartLocked()
	return PlayerInfo{ID: p.id, Name: p.name, Score: p.score}, nil
}

// Bind attaches a live connection. A known player id is a rebind
// (reconnect); otherwise the player joins if there is a free seat.
func (r *Room) Bind(playerID, name string, cc *ClientConn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRoomNotFound
	}

	if p := r.memberLocked(playerID); p != nil {
		p.conn = cc
		if name != "" {
			p.name = name
		}
	} else if len(r.players) < maxPlayers {
		if name == "" {
			name = "Player"
		}
		r.players = append(r.players, &Player{id: playerID, name: name, conn: cc})
	} else {
		return ErrRoomFull
	}

	r.broadcastLocked(Envelope{Type: "lobbyUpdate", Payload: mustJSON(r.publicStateLocked())})
	r.tryStartLocked()

	// late binder catches up on an already-running game
	if r.started {
		r.sendLocked(cc, Envelope{Type: "gameStart", Payload: mustJSON(r.publicStateLocked())})
		r.sendLocked(cc, Envelope{Type: "update", Payload: mustJSON(r.stateForLocked(playerID))})
	}
	return nil
}

// Detach clears the connection handle if cc is still the current one
// (a page refresh can bind the new socket before the old reader exits).
func (r *Room) Detach(playerID string, cc *ClientConn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.memberLocked(playerID)
	if p != nil && p.conn == cc {
		p.conn = nil
	}
	r.broadcastLocked(Envelope{Type: "lobbyUpdate", Payload: mustJSON(r.publicStateLocked())})
}

// TryStart re-runs the start check; callers may invoke it redundantly.
func (r *Room) TryStart() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tryStartLocked()
}

// SubmitClue accepts a clue from a player who still owes one this
// round. Anything else (duplicate, wrong round, unknown author) is a
// silent no-op: duplicates are expected under at-most-once delivery.
func (r *Room) SubmitClue(authorID, rawClue string) {
	var rec *ClueRecord

	r.mu.Lock()
	if r.closed || !r.started || r.finished {
		r.mu.Unlock()
		return
	}
	if _, pending := r.pendingClues[authorID]; !pending {
		r.mu.Unlock()
		return
	}

	clue := NormalizeClue(rawClue)
	r.cluesBy[authorID] = clue
	delete(r.pendingClues, authorID)

	if a, ok := r.assignments[authorID]; ok {
		rec = &ClueRecord{
			SessionID:  r.id,
			Round:      r.currentRound,
			AuthorID:   authorID,
			OpponentID: a.OpponentID,
			TargetID:   a.WriteTarget,
			Clue:       clue,
		}
	}

	if len(r.pendingClues) == 0 {
		r.resolveRoundLocked()
	}
	r.mu.Unlock()

	if rec != nil && r.record != nil {
		r.record(*rec)
	}
}

func (r *Room) tryStartLocked() {
	if r.started || r.closed {
		return
	}
	if len(r.players) != maxPlayers {
		return
	}
	if len(r.activeLocked()) != maxPlayers {
		return
	}

	r.started = true
	r.finished = false
	r.currentRound = 1
	r.pairScore = 0
	r.history = nil

	r.broadcastLocked(Envelope{Type: "gameStart", Payload: mustJSON(r.publicStateLocked())})
	r.startRoundLocked()
}

func (r *Room) startRoundLocked() {
	active := r.activeLocked()
	if len(active) < 2 {
		// a player dropped between the start check and here; back to waiting
		// without touching score or round counters
		r.cluesBy = make(map[string]string)
		r.assignments = make(map[string]Assignment)
		r.pendingClues = make(map[string]struct{})
		r.broadcastLocked(Envelope{Type: "update", Payload: mustJSON(r.publicStateLocked())})
		return
	}

	card, ok := r.drawCard()
	if !ok {
		// no client-visible event here; the round simply never begins
		r.log.Error("no cards available for version",
			"room", r.id, "version", r.selectedVersion, "round", r.currentRound)
		return
	}

	r.cluesBy = make(map[string]string)
	r.assignments = make(map[string]Assignment, len(active))
	r.pendingClues = make(map[string]struct{}, len(active))

	for _, pl := range active {
		opponentID := ""
		for _, other := range active {
			if other.id != pl.id {
				opponentID = other.id
				break
			}
		}
		r.assignments[pl.id] = Assignment{
			WriteTarget:         card.ID,
			WriteTargetName:     card.Name,
			WriteTargetImageURL: r.imageURL(card.RelPath),
			OpponentID:          opponentID,
		}
		r.pendingClues[pl.id] = struct{}{}
	}

	for _, pl := range active {
		r.sendLocked(pl.conn, Envelope{Type: "update", Payload: mustJSON(r.stateForLocked(pl.id))})
	}
	r.broadcastLocked(Envelope{Type: "lobbyUpdate", Payload: mustJSON(r.publicStateLocked())})
}

func (r *Room) resolveRoundLocked() {
	active := r.activeLocked()
	if len(active) < 2 {
		// stalls until the missing player rebinds; pendingClues is already
		// empty, so the resolution re-fires on the next submission path only
		// if play resumes
		return
	}

	p1, p2 := active[0], active[1]
	clue1 := r.cluesBy[p1.id]
	clue2 := r.cluesBy[p2.id]
	matched := CluesMatch(clue1, clue2)
	if matched {
		r.pairScore++
	}

	summary := make([]RoundResult, 0, len(active))
	for _, pl := range active {
		a := r.assignments[pl.id]
		summary = append(summary, RoundResult{
			PlayerID:       pl.id,
			PlayerName:     pl.name,
			Correct:        matched,
			Target:         a.WriteTarget,
			TargetName:     a.WriteTargetName,
			TargetImageURL: a.WriteTargetImageURL,
			Clue:           r.cluesBy[pl.id],
			Round:          r.currentRound,
		})
	}

	r.broadcastLocked(Envelope{Type: "roundResult", Payload: mustJSON(RoundResultPayload{
		Summary:   summary,
		PairScore: r.pairScore,
		Matched:   matched,
		Clues:     map[string]string{p1.id: clue1, p2.id: clue2},
	})})

	r.history = append(r.history, summary...)
	r.scheduleAdvanceLocked()
}

func (r *Room) scheduleAdvanceLocked() {
	r.advanceToken++
	token := r.advanceToken

	if r.advanceTimer != nil {
		r.advanceTimer.Stop()
	}
	r.advanceTimer = time.AfterFunc(r.cfg.AdvanceDelay, func() {
		r.onAdvance(token)
	})
}

func (r *Room) onAdvance(token int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// the room may have been reaped while the timer was pending
	if r.closed || token != r.advanceToken || !r.started || r.finished {
		return
	}

	r.currentRound++
	if r.currentRound > r.totalRounds {
		r.finished = true
		r.broadcastLocked(Envelope{Type: "update", Payload: mustJSON(r.publicStateLocked())})
		r.broadcastLocked(Envelope{Type: "gameFinished", Payload: mustJSON(r.publicStateLocked())})
		return
	}
	r.startRoundLocked()
}

// SendCluesTo pushes the opponent's stored clue for the current round
// to the requesting connection (explicit pull by the guesser).
func (r *Room) SendCluesTo(cc *ClientConn, playerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.assignments[playerID]
	if !ok || a.OpponentID == "" {
		return
	}
	clues := []string{}
	if c := r.cluesBy[a.OpponentID]; c != "" {
		clues = append(clues, c)
	}
	r.sendLocked(cc, Envelope{Type: "clues", Payload: mustJSON(CluesPushPayload{
		From:  a.OpponentID,
		To:    playerID,
		Clues: clues,
	})})
}

func (r *Room) SendLobbyTo(cc *ClientConn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sendLocked(cc, Envelope{Type: "lobbyUpdate", Payload: mustJSON(r.publicStateLocked())})
}

// HasLiveConnection reports whether any member can still be reached.
func (r *Room) HasLiveConnection() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.players {
		if p.conn != nil {
			return true
		}
	}
	return false
}

// Close marks the room dead after reaping: pending timers become
// no-ops and a closure notice goes out to whoever is still listening.
func (r *Room) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	if r.advanceTimer != nil {
		r.advanceTimer.Stop()
	}
	r.broadcastLocked(Envelope{Type: "roomClosed", Payload: mustJSON(RoomClosedPayload{RoomID: r.id})})
}

func (r *Room) PublicState() PublicState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.publicStateLocked()
}

func (r *Room) StateFor(playerID string) PlayerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stateForLocked(playerID)
}

func (r *Room) Summary() RoomSummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	players := make([]PlayerInfo, 0, len(r.players))
	for _, p := range r.players {
		players = append(players, PlayerInfo{ID: p.id, Name: p.name, Score: p.score})
	}
	return RoomSummary{
		ID:              r.id,
		SelectedVersion: r.selectedVersion,
		Started:         r.started,
		Finished:        r.finished,
		Players:         players,
	}
}

// History returns a copy of the full round log, two rows per round.
func (r *Room) History() []RoundResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RoundResult, len(r.history))
	copy(out, r.history)
	return out
}

func (r *Room) publicStateLocked() PublicState {
	players := make([]PlayerInfo, 0, len(r.players))
	for _, p := range r.players {
		players = append(players, PlayerInfo{ID: p.id, Name: p.name, Score: p.score})
	}
	return PublicState{
		ID:              r.id,
		SelectedVersion: r.selectedVersion,
		Players:         players,
		Started:         r.started,
		Finished:        r.finished,
		CurrentRound:    r.currentRound,
		TotalRounds:     r.totalRounds,
		PairScore:       r.pairScore,
	}
}

func (r *Room) stateForLocked(playerID string) PlayerState {
	st := PlayerState{PublicState: r.publicStateLocked()}
	if a, ok := r.assignments[playerID]; ok {
		st.MyAssignment = &a
	}
	return st
}

func (r *Room) memberLocked(playerID string) *Player {
	for _, p := range r.players {
		if p.id == playerID {
			return p
		}
	}
	return nil
}

func (r *Room) activeLocked() []*Player {
	var active []*Player
	for _, p := range r.players {
		if p.conn != nil {
			active = append(active, p)
		}
	}
	return active
}

func (r *Room) sendLocked(conn *ClientConn, env Envelope) {
	if conn == nil {
		return
	}
	b, _ := json.Marshal(env)
	select {
	case conn.send <- b:
	default:
		// slow reader: drop rather than stall the room
	}
}

func (r *Room) broadcastLocked(env Envelope) {
	for _, p := range r.players {
		if p.conn != nil {
			r.sendLocked(p.conn, env)
		}
	}
}
