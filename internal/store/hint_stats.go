package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// clueTextSQL extracts the clue text from the jsonb column, tolerating
// both the JSON-string and legacy array forms, blank-stripped to NULL.
const clueTextSQL = `NULLIF(BTRIM(CASE
	WHEN jsonb_typeof(clues) = 'array' THEN clues->>0
	ELSE clues #>> '{}'
END), '')`

// HintFilter narrows admin queries; zero values mean "all".
type HintFilter struct {
	Version   string
	Character string
}

type HintSummaryRow struct {
	Version       string `json:"version"`
	CharacterName string `json:"characterName"`
	ClueText      string `json:"clueText"`
	Count         int    `json:"count"`
}

type HintLogRow struct {
	ID            int64     `json:"id"`
	SessionID     string    `json:"sessionId"`
	Round         *int      `json:"round"`
	Version       string    `json:"version"`
	CharacterName string    `json:"characterName"`
	ClueText      string    `json:"clueText"`
	CreatedAt     time.Time `json:"createdAt"`
}

type HintMeta struct {
	TotalHints       int `json:"totalHints"`
	UniqueCharacters int `json:"uniqueCharacters"`
	UniqueKeywords   int `json:"uniqueKeywords"`
}

// HintStats is the read side of the analytics channel: aggregations
// over hint_logs for the admin UI. Card ids are "<version>::<name>",
// so split_part recovers both halves.
type HintStats struct {
	db *pgxpool.Pool
}

func NewHintStats(db *pgxpool.Pool) *HintStats {
	return &HintStats{db: db}
}

func (f HintFilter) where() (string, []any) {
	conds := []string{
		`target_char LIKE '%::%'`,
		clueTextSQL + ` IS NOT NULL`,
	}
	var args []any
	if f.Version != "" {
		args = append(args, f.Version)
		conds = append(conds, fmt.Sprintf(`split_part(target_char, '::', 1) = $%d`, len(args)))
	}
	if f.Character != "" {
		args = append(args, f.Character)
		conds = append(conds, fmt.Sprintf(`split_part(target_char, '::', 2) = $%d`, len(args)))
	}

	where := conds[0]
	for _, c := range conds[1:] {
		where += " AND " + c
	}
	return where, args
}

// Summary groups clue texts per (version, character), most frequent
// first. limit <= 0 means unlimited.
func (s *HintStats) Summary(ctx context.Context, f HintFilter, limit int) ([]HintSummaryRow, error) {
	where, args := f.where()

	q := fmt.Sprintf(`
		WITH base AS (
			SELECT
				split_part(target_char, '::', 1) AS version,
				split_part(target_char, '::', 2) AS character_name,
				%s AS clue_text
			FROM hint_logs
			WHERE %s
		)
		SELECT version, character_name, clue_text, COUNT(*)::int AS cnt
		FROM base
		GROUP BY version, character_name, clue_text
		ORDER BY version ASC, character_name ASC, cnt DESC, clue_text ASC
	`, clueTextSQL, where)
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HintSummaryRow
	for rows.Next() {
		var r HintSummaryRow
		if err := rows.Scan(&r.Version, &r.CharacterName, &r.ClueText, &r.Count); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Recent lists the newest matching log rows.
func (s *HintStats) Recent(ctx context.Context, f HintFilter, limit int) ([]HintLogRow, error) {
	where, args := f.where()

	q := fmt.Sprintf(`
		SELECT
			id,
			session_id,
			round,
			split_part(target_char, '::', 1) AS version,
			split_part(target_char, '::', 2) AS character_name,
			%s AS clue_text,
			created_at
		FROM hint_logs
		WHERE %s
		ORDER BY created_at DESC
	`, clueTextSQL, where)
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HintLogRow
	for rows.Next() {
		var r HintLogRow
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Round, &r.Version, &r.CharacterName, &r.ClueText, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *HintStats) Meta(ctx context.Context, f HintFilter) (HintMeta, error) {
	where, args := f.where()

	var m HintMeta
	err := s.db.QueryRow(ctx, fmt.Sprintf(`
		SELECT
			COUNT(*)::int,
			COUNT(DISTINCT split_part(target_char, '::', 2))::int,
			COUNT(DISTINCT %s)::int
		FROM hint_logs
		WHERE %s
	`, clueTextSQL, where), args...).Scan(&m.TotalHints, &m.UniqueCharacters, &m.UniqueKeywords)
	return m, err
}

// Versions lists every version that ever appeared in the log, so the
// admin filter still offers versions whose images were since removed.
func (s *HintStats) Versions(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT DISTINCT split_part(target_char, '::', 1) AS version
		FROM hint_logs
		WHERE target_char LIKE '%::%'
		ORDER BY version ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		if v != "" {
			out = append(out, v)
		}
	}
	return out, rows.Err()
}

// Characters lists distinct logged characters, optionally per version.
func (s *HintStats) Characters(ctx context.Context, version string) ([]string, error) {
	f := HintFilter{Version: version}
	where, args := f.where()

	rows, err := s.db.Query(ctx, fmt.Sprintf(`
		SELECT DISTINCT split_part(target_char, '::', 2) AS character_name
		FROM hint_logs
		WHERE %s
		ORDER BY character_name ASC
	`, where), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		if c != "" {
			out = append(out, c)
		}
	}
	return out, rows.Err()
}
