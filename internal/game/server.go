package game

import (
	"encoding/json"
	mrand "math/rand/v2"
	"net/http"
	"strconv"
	"strings"

	"example.com/karuta-mvp/internal/catalog"
)

type Server struct {
	rooms    *RoomService
	catalog  *catalog.Catalog
	resolver catalog.Resolver
	steps    StepStore // nil => marking endpoints answer 501
}

func NewServer(rooms *RoomService, cat *catalog.Catalog, resolver catalog.Resolver, steps StepStore) *Server {
	return &Server{
		rooms:    rooms,
		catalog:  cat,
		resolver: resolver,
		steps:    steps,
	}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/rooms", s.handleRooms)
	mux.HandleFunc("/api/rooms/", s.handleRoomAction)
	mux.HandleFunc("/api/session/", s.handleSession)
	mux.HandleFunc("/api/versions", s.handleVersions)
	mux.HandleFunc("/api/cards/next", s.handleCardsNext)
	mux.HandleFunc("/api/characters", s.handleCharacters)
	mux.HandleFunc("/api/characters/", s.handleCharacter)
	mux.HandleFunc("/ws", s.handleWS)
}

// PublicCard is a catalog card serialized for clients, image URL fully
// resolved against the incoming request.
type PublicCard struct {
	ID       string `json:"id"`
	Version  string `json:"version"`
	Name     string `json:"name"`
	ImageURL string `json:"imageUrl"`
}

func (s *Server) toPublicCard(r *http.Request, card catalog.Card) PublicCard {
	return PublicCard{
		ID:       card.ID,
		Version:  card.Version,
		Name:     card.Name,
		ImageURL: s.resolver.ImageURL(r, card.RelPath),
	}
}

type createRoomRequest struct {
	Version string `json:"version"`
}

type joinRequest struct {
	Name     string `json:"name"`
	PlayerID string `json:"playerId"`
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.rooms.List())

	case http.MethodPost:
		var req createRoomRequest
		_ = json.NewDecoder(r.Body).Decode(&req) // empty body => no preference

		room, err := s.rooms.Create(strings.TrimSpace(req.Version))
		if err != nil {
			writeError(w, http.StatusBadRequest, "no image versions found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"roomId":          room.ID(),
			"selectedVersion": room.SelectedVersion(),
			"totalRounds":     TotalRounds,
		})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleRoomAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	roomID, action, ok := pathIDAction(r.URL.Path, "/api/rooms/")
	if !ok {
		http.NotFound(w, r)
		return
	}

	room, found := s.rooms.Get(roomID)
	if !found {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}

	switch action {
	case "join":
		var req joinRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		playerID := req.PlayerID
		if playerID == "" {
			playerID = NewPlayerID()
		}
		player, err := room.Join(playerID, strings.TrimSpace(req.Name))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"roomId": room.ID(),
			"player": player,
		})

	case "ready":
		// redundant re-invocations of the start check are fine
		room.TryStart()
		writeJSON(w, http.StatusOK, room.PublicState())

	case "cancelReady":
		writeJSON(w, http.StatusOK, room.PublicState())

	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	// the one three-segment session path
	if sessionID, ok := stepsSummaryPath(r.URL.Path); ok {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.handleStepsSummary(w, r, sessionID)
		return
	}

	sessionID, action, ok := pathIDAction(r.URL.Path, "/api/session/")
	if !ok {
		http.NotFound(w, r)
		return
	}

	switch action {
	case "guess":
		// documented dead path: kept for old clients, intentionally
		// disabled. Only POST was ever registered for it.
		if r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		writeError(w, http.StatusGone, "guess phase disabled in current game mode")
		return

	case "step":
		s.handleStep(w, r, sessionID)
		return
	}

	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if action == "steps" {
		s.handleSteps(w, r, sessionID)
		return
	}

	room, found := s.rooms.Get(sessionID)
	if !found {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}

	switch action {
	case "state":
		playerID := r.URL.Query().Get("playerId")
		if playerID == "" {
			writeJSON(w, http.StatusOK, room.PublicState())
			return
		}
		writeJSON(w, http.StatusOK, room.StateFor(playerID))

	case "cards":
		pool := s.catalog.CardsFor(room.SelectedVersion())
		cards := make([]PublicCard, 0, len(pool))
		for _, card := range pool {
			cards = append(cards, s.toPublicCard(r, card))
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"cards":           cards,
			"selectedVersion": room.SelectedVersion(),
		})

	case "history":
		writeJSON(w, http.StatusOK, map[string]any{
			"history": room.History(),
			"source":  "memory",
		})

	default:
		http.NotFound(w, r)
	}
}

type stepRequest struct {
	PlayerID    string `json:"playerId"`
	HintIndex   *int   `json:"hintIndex"`
	HintText    string `json:"hintText"`
	CharacterID string `json:"characterId"`
}

// handleStep toggles a guesser marking: POST writes it, DELETE takes it
// back (the client's second click on the same card).
func (s *Server) handleStep(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodPost && r.Method != http.MethodDelete {
		http.NotFound(w, r)
		return
	}
	if s.steps == nil {
		writeError(w, http.StatusNotImplemented, "db not configured")
		return
	}

	var req stepRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.PlayerID == "" || req.HintIndex == nil || req.CharacterID == "" {
		writeError(w, http.StatusBadRequest, "playerId, hintIndex, characterId are required")
		return
	}

	rec := StepRecord{
		SessionID:   sessionID,
		PlayerID:    req.PlayerID,
		HintIndex:   *req.HintIndex,
		HintText:    req.HintText,
		CharacterID: req.CharacterID,
	}
	// markings outside a live session are kept with no round attached
	if room, ok := s.rooms.Get(sessionID); ok {
		round := room.CurrentRound()
		rec.Round = &round
	}

	if r.Method == http.MethodPost {
		if err := s.steps.RecordStep(r.Context(), rec); err != nil {
			writeError(w, http.StatusInternalServerError, "insert failed")
			return
		}
	} else {
		if err := s.steps.DeleteStep(r.Context(), rec); err != nil {
			writeError(w, http.StatusInternalServerError, "delete failed")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleSteps(w http.ResponseWriter, r *http.Request, sessionID string) {
	if s.steps == nil {
		writeError(w, http.StatusNotImplemented, "db not configured")
		return
	}

	playerID := r.URL.Query().Get("playerId")
	var round *int
	if v := r.URL.Query().Get("round"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			round = &n
		}
	}

	steps, err := s.steps.Steps(r.Context(), sessionID, playerID, round)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if steps == nil {
		steps = []StepRow{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"steps": steps})
}

func (s *Server) handleStepsSummary(w http.ResponseWriter, r *http.Request, sessionID string) {
	if s.steps == nil {
		writeError(w, http.StatusNotImplemented, "db not configured")
		return
	}

	summary, err := s.steps.StepsSummary(r.Context(), sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "summary failed")
		return
	}
	if summary == nil {
		summary = map[string]StepCharacterSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"summary": summary})
}

// stepsSummaryPath matches /api/session/<id>/steps/summary.
func stepsSummaryPath(path string) (sessionID string, ok bool) {
	rest, found := strings.CutPrefix(path, "/api/session/")
	if !found {
		return "", false
	}
	id, found := strings.CutSuffix(rest, "/steps/summary")
	if !found || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

// handleCardsNext deals a shuffled hand from a version's pool, minus
// the ids the client already holds.
func (s *Server) handleCardsNext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	limit := 10
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n != 0 {
		limit = n
	}
	if limit < 0 {
		limit = 0
	}

	version := strings.TrimSpace(r.URL.Query().Get("version"))

	exclude := make(map[string]bool)
	for _, id := range strings.Split(r.URL.Query().Get("exclude"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			exclude[id] = true
		}
	}

	var pool []catalog.Card
	for _, card := range s.catalog.CardsFor(version) {
		if !exclude[card.ID] {
			pool = append(pool, card)
		}
	}
	mrand.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	if len(pool) > limit {
		pool = pool[:limit]
	}

	cards := make([]PublicCard, 0, len(pool))
	for _, card := range pool {
		cards = append(cards, s.toPublicCard(r, card))
	}

	var selectedVersion any
	if version != "" {
		selectedVersion = version
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cards":           cards,
		"selectedVersion": selectedVersion,
	})
}

func (s *Server) handleVersions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": s.catalog.Versions()})
}

type characterName struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Character lookup is an identity map here; display names come from
// card file names already. Kept so old clients resolve labels.
func (s *Server) handleCharacter(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/characters/")
	writeJSON(w, http.StatusOK, characterName{ID: id, Name: id})
}

func (s *Server) handleCharacters(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("ids")
	out := []characterName{}
	for _, id := range strings.Split(raw, ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		out = append(out, characterName{ID: id, Name: id})
	}
	writeJSON(w, http.StatusOK, out)
}

// pathIDAction extracts "<id>/<action>" after prefix; exactly two
// non-empty segments or nothing.
func pathIDAction(path, prefix string) (id, action string, ok bool) {
	rest, found := strings.CutPrefix(path, prefix)
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError keeps the legacy {"error": "..."} shape the frontend
// already understands.
func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
