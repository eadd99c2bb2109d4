package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// HistoryEntry is one played-source record (§3, §4.7).
type HistoryEntry struct {
	Identifier    string
	Title         string
	Channel       string
	Thumbnail     string
	PlayCount     int
	FirstPlayedAt time.Time
	LastPlayedAt  time.Time
}

// RecordPlay upserts a history row for item: first play inserts with
// play_count=1, subsequent plays increment play_count and bump
// last_played_at (§4.7). Only called once a source item's metadata has
// resolved, never eagerly at ingest start.
func (s *Store) RecordPlay(ctx context.Context, item SourceItem, playedAt time.Time) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if err := upsertSourceItemTx(ctx, tx, item); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO history (identifier, title, channel, thumbnail, play_count, first_played_at, last_played_at)
			VALUES ($1, $2, $3, $4, 1, $5, $5)
			ON CONFLICT (identifier) DO UPDATE SET
				title = EXCLUDED.title,
				channel = EXCLUDED.channel,
				thumbnail = EXCLUDED.thumbnail,
				play_count = history.play_count + 1,
				last_played_at = EXCLUDED.last_played_at
		`, item.Identifier, item.Title, item.Channel, item.Thumbnail, playedAt)
		if err != nil {
			return fmt.Errorf("record play %q: %w", item.Identifier, err)
		}
		return nil
	})
}

// RecentHistory returns up to limit rows ordered by last_played_at
// descending (§4.7, §6).
func (s *Store) RecentHistory(ctx context.Context, limit int) ([]HistoryEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT identifier, title, channel, thumbnail, play_count, first_played_at, last_played_at
		FROM history
		ORDER BY last_played_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent history: %w", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		if err := rows.Scan(&h.Identifier, &h.Title, &h.Channel, &h.Thumbnail,
			&h.PlayCount, &h.FirstPlayedAt, &h.LastPlayedAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// ClearHistory deletes every history row.
func (s *Store) ClearHistory(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM history`)
	if err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}
