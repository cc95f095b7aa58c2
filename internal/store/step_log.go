package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/karuta-mvp/internal/game"
)

// StepLog persists guesser markings in guess_steps. It implements
// game.StepStore.
type StepLog struct {
	db *pgxpool.Pool
}

func NewStepLog(db *pgxpool.Pool) *StepLog {
	return &StepLog{db: db}
}

func (s *StepLog) RecordStep(ctx context.Context, rec game.StepRecord) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO guess_steps (session_id, round, player_id, hint_index, hint_text, selected_char)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.SessionID, rec.Round, rec.PlayerID, rec.HintIndex, rec.HintText, rec.CharacterID)
	return err
}

// DeleteStep removes the mark written by the matching RecordStep; the
// round comparison is null-safe because markings taken outside a live
// session carry no round.
func (s *StepLog) DeleteStep(ctx context.Context, rec game.StepRecord) error {
	_, err := s.db.Exec(ctx, `
		DELETE FROM guess_steps
		WHERE session_id = $1
		  AND (round = $2 OR ($2::int IS NULL AND round IS NULL))
		  AND player_id = $3
		  AND hint_index = $4
		  AND selected_char = $5
	`, rec.SessionID, rec.Round, rec.PlayerID, rec.HintIndex, rec.CharacterID)
	return err
}

func (s *StepLog) Steps(ctx context.Context, sessionID, playerID string, round *int) ([]game.StepRow, error) {
	q := `
		SELECT id, session_id, round, player_id, hint_index, hint_text, selected_char, created_at
		FROM guess_steps
		WHERE session_id = $1`
	args := []any{sessionID}

	if playerID != "" {
		args = append(args, playerID)
		q += fmt.Sprintf(" AND player_id = $%d", len(args))
	}
	if round != nil {
		args = append(args, *round)
		q += fmt.Sprintf(" AND round = $%d", len(args))
	}
	q += " ORDER BY created_at ASC, id ASC"

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []game.StepRow
	for rows.Next() {
		var r game.StepRow
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Round, &r.PlayerID, &r.HintIndex, &r.HintText, &r.CharacterID, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// StepsSummary groups a session's markings per character, hints in
// hint-index order. Character names are the card ids themselves; the
// catalog does not keep a separate display name.
func (s *StepLog) StepsSummary(ctx context.Context, sessionID string) (map[string]game.StepCharacterSummary, error) {
	rows, err := s.db.Query(ctx, `
		SELECT selected_char, hint_index, hint_text
		FROM guess_steps
		WHERE session_id = $1
		ORDER BY selected_char ASC, hint_index ASC, id ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]game.StepCharacterSummary)
	for rows.Next() {
		var char string
		var hint game.StepHint
		if err := rows.Scan(&char, &hint.HintIndex, &hint.HintText); err != nil {
			return nil, err
		}
		sum, ok := out[char]
		if !ok {
			sum = game.StepCharacterSummary{CharacterID: char, Name: char}
		}
		sum.Hints = append(sum.Hints, hint)
		out[char] = sum
	}
	return out, rows.Err()
}
