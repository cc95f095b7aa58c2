package game

import (
	"context"
	"time"
)

// StepRecord identifies one guesser marking: player marked characterID
// as a candidate for the clue at hintIndex. Round is nil when the
// session is not (or no longer) live.
type StepRecord struct {
	SessionID   string
	Round       *int
	PlayerID    string
	HintIndex   int
	HintText    string
	CharacterID string
}

// StepRow is a stored marking as served back to clients.
type StepRow struct {
	ID          int64     `json:"id"`
	SessionID   string    `json:"sessionId"`
	Round       *int      `json:"round"`
	PlayerID    string    `json:"playerId"`
	HintIndex   int       `json:"hintIndex"`
	HintText    string    `json:"hintText"`
	CharacterID string    `json:"characterId"`
	CreatedAt   time.Time `json:"createdAt"`
}

type StepHint struct {
	HintIndex int    `json:"hintIndex"`
	HintText  string `json:"hintText"`
}

// StepCharacterSummary groups a session's markings per character.
type StepCharacterSummary struct {
	CharacterID string     `json:"characterId"`
	Name        string     `json:"name"`
	Hints       []StepHint `json:"hints"`
}

// StepStore persists guesser markings. Unlike the clue sinks these are
// request/response: the client toggles marks and reads them back, so
// errors surface to the caller instead of being swallowed.
type StepStore interface {
	RecordStep(ctx context.Context, rec StepRecord) error
	DeleteStep(ctx context.Context, rec StepRecord) error
	Steps(ctx context.Context, sessionID, playerID string, round *int) ([]StepRow, error)
	StepsSummary(ctx context.Context, sessionID string) (map[string]StepCharacterSummary, error)
}
