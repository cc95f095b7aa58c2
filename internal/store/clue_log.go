package store

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/karuta-mvp/internal/game"
)

// ClueLog writes accepted clue submissions to hint_logs. It implements
// game.ClueSink; callers treat failures as best-effort.
type ClueLog struct {
	db *pgxpool.Pool
}

func NewClueLog(db *pgxpool.Pool) *ClueLog {
	return &ClueLog{db: db}
}

func (s *ClueLog) RecordClue(ctx context.Context, rec game.ClueRecord) error {
	// clues is jsonb; historical rows hold either a JSON string or an
	// array, so new writes keep the JSON-string form
	clues, err := json.Marshal(rec.Clue)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO hint_logs (session_id, round, author_id, opponent_id, target_char, clues)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.SessionID, rec.Round, rec.AuthorID, rec.OpponentID, rec.TargetID, string(clues))
	return err
}
