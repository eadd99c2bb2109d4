package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// SourceItem is the stable external source record (§3): created on first
// encounter, updated on replay.
type SourceItem struct {
	Identifier string
	Title      string
	Channel    string
	Thumbnail  string
}

// UpsertSourceItem creates or refreshes a SourceItem row. The same upsert
// runs inside RecordPlay (ingest's play record after metadata resolution,
// §4.2 step 2) and Append (so a QueueEntry's foreign key always resolves).
func (s *Store) UpsertSourceItem(ctx context.Context, item SourceItem) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		return upsertSourceItemTx(ctx, tx, item)
	})
}

// GetSourceItem looks up a source item's metadata by identifier. The
// pipeline's summarize/publish stages use this to recover the title and
// channel recorded at ingest time (§4.5 steps 3-4).
func (s *Store) GetSourceItem(ctx context.Context, identifier string) (SourceItem, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT identifier, title, channel, thumbnail FROM source_items WHERE identifier = $1
	`, identifier)

	var item SourceItem
	if err := row.Scan(&item.Identifier, &item.Title, &item.Channel, &item.Thumbnail); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SourceItem{}, false, nil
		}
		return SourceItem{}, false, fmt.Errorf("get source item %q: %w", identifier, err)
	}
	return item, true, nil
}

func upsertSourceItemTx(ctx context.Context, tx pgx.Tx, item SourceItem) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO source_items (identifier, title, channel, thumbnail, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (identifier) DO UPDATE SET
			title = EXCLUDED.title,
			channel = EXCLUDED.channel,
			thumbnail = EXCLUDED.thumbnail,
			updated_at = now()
	`, item.Identifier, item.Title, item.Channel, item.Thumbnail)
	if err != nil {
		return fmt.Errorf("upsert source item %q: %w", item.Identifier, err)
	}
	return nil
}
