package game

import "encoding/json"

// Envelope ws envelope: {"type":"...","payload":{...}}
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// PlayerInfo is the public view of a room member.
type PlayerInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Score int    `json:"score"`
}

// PublicState is broadcast to the whole room (lobbyUpdate, gameStart,
// gameFinished). It never contains assignments.
type PublicState struct {
	ID              string       `json:"id"`
	SelectedVersion string       `json:"selectedVersion"`
	Players         []PlayerInfo `json:"players"`
	Started         bool         `json:"started"`
	Finished        bool         `json:"finished"`
	CurrentRound    int          `json:"currentRound"`
	TotalRounds     int          `json:"totalRounds"`
	PairScore       int          `json:"pairScore"`
}

// Assignment is one player's view of the current round: their own
// target plus who they are paired with. The opponent's copy is never
// included in a payload addressed to this player.
type Assignment struct {
	WriteTarget         string `json:"writeTarget"`
	WriteTargetName     string `json:"writeTargetName"`
	WriteTargetImageURL string `json:"writeTargetImageUrl"`
	OpponentID          string `json:"opponentId"`
}

// PlayerState is the personalized "update" payload.
type PlayerState struct {
	PublicState
	MyAssignment *Assignment `json:"myAssignment"`
}

// RoundResult is one history row; two are appended per resolved round.
type RoundResult struct {
	PlayerID       string `json:"playerId"`
	PlayerName     string `json:"playerName"`
	Correct        bool   `json:"correct"`
	Target         string `json:"target"`
	TargetName     string `json:"targetName"`
	TargetImageURL string `json:"targetImageUrl"`
	Clue           string `json:"clue"`
	Round          int    `json:"round"`
}

// RoundResultPayload is the roundResult broadcast.
type RoundResultPayload struct {
	Summary   []RoundResult     `json:"summary"`
	PairScore int               `json:"pairScore"`
	Matched   bool              `json:"matched"`
	Clues     map[string]string `json:"clues"`
}

// ClueText accepts either a bare string or an array of strings; legacy
// clients sent arrays and only the first entry ever counted.
type ClueText string

func (c *ClueText) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = ClueText(s)
		return nil
	}
	var arr []string
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	if len(arr) > 0 {
		*c = ClueText(arr[0])
	} else {
		*c = ""
	}
	return nil
}

// SubmitCluesPayload incoming "clues" message.
type SubmitCluesPayload struct {
	SessionID string   `json:"sessionId"`
	AuthorID  string   `json:"authorId"`
	Clues     ClueText `json:"clues"`
}

// FetchCluesPayload incoming "fetchClues" message.
type FetchCluesPayload struct {
	SessionID string `json:"sessionId"`
	PlayerID  string `json:"playerId"`
}

// FetchLobbyPayload incoming "fetchLobby" message.
type FetchLobbyPayload struct {
	RoomID string `json:"roomId"`
}

// CluesPushPayload outgoing "clues" push: the opponent's stored clue
// for the current round, on request.
type CluesPushPayload struct {
	From  string   `json:"from"`
	To    string   `json:"to"`
	Clues []string `json:"clues"`
}

// RoomClosedPayload outgoing "roomClosed".
type RoomClosedPayload struct {
	RoomID string `json:"roomId"`
}

// RoomErrorPayload outgoing "roomError".
type RoomErrorPayload struct {
	Message string `json:"message"`
}

// RoomSummary is the lobby-browsing projection (GET /api/rooms).
type RoomSummary struct {
	ID              string       `json:"id"`
	SelectedVersion string       `json:"selectedVersion"`
	Started         bool         `json:"started"`
	Finished        bool         `json:"finished"`
	Players         []PlayerInfo `json:"players"`
}
