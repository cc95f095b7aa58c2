package game

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClueFeed keeps a capped per-room list of recent clue
// submissions for the admin live view. It is a ClueSink: writes are
// best-effort and never gate round progression. Game state itself is
// never stored here.
type RedisClueFeed struct {
	rdb *redis.Client
	ttl time.Duration
	max int64
}

// FeedEntry is one row of the live feed.
type FeedEntry struct {
	SessionID string    `json:"sessionId"`
	Round     int       `json:"round"`
	AuthorID  string    `json:"authorId"`
	TargetID  string    `json:"targetId"`
	Clue      string    `json:"clue"`
	At        time.Time `json:"at"`
}

func NewRedisClueFeed(rdb *redis.Client, ttl time.Duration, max int64) *RedisClueFeed {
	if max <= 0 {
		max = 100
	}
	return &RedisClueFeed{rdb: rdb, ttl: ttl, max: max}
}

func (f *RedisClueFeed) key(roomID string) string {
	return fmt.Sprintf("room:%s:cluefeed", roomID)
}

func (f *RedisClueFeed) RecordClue(ctx context.Context, rec ClueRecord) error {
	b, err := json.Marshal(FeedEntry{
		SessionID: rec.SessionID,
		Round:     rec.Round,
		AuthorID:  rec.AuthorID,
		TargetID:  rec.TargetID,
		Clue:      rec.Clue,
		At:        time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	key := f.key(rec.SessionID)
	pipe := f.rdb.TxPipeline()
	pipe.LPush(ctx, key, b)
	pipe.LTrim(ctx, key, 0, f.max-1)
	pipe.Expire(ctx, key, f.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

// Recent returns the newest-first feed for a room; empty when the key
// expired or never existed.
func (f *RedisClueFeed) Recent(ctx context.Context, roomID string, limit int64) ([]FeedEntry, error) {
	if limit <= 0 || limit > f.max {
		limit = f.max
	}

	vals, err := f.rdb.LRange(ctx, f.key(roomID), 0, limit-1).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	out := make([]FeedEntry, 0, len(vals))
	for _, v := range vals {
		var e FeedEntry
		if json.Unmarshal([]byte(v), &e) == nil {
			out = append(out, e)
		}
	}
	return out, nil
}
