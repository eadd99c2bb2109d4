package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrEntryNotFound is returned by Remove when no row matches entryID.
var ErrEntryNotFound = errors.New("store: queue entry not found")

// ErrSetMismatch is returned by Reorder when the given identifiers are not
// exactly the current set of entry IDs.
var ErrSetMismatch = errors.New("store: reorder set does not match current queue")

// QueueKind distinguishes a primary source item from a generated summary
// item on the playlist (§3).
type QueueKind string

const (
	QueueKindPrimary QueueKind = "primary"
	QueueKindSummary QueueKind = "summary"
)

// QueueEntry is one row of the ordered playlist (§3).
type QueueEntry struct {
	ID         int64
	Identifier string
	Kind       QueueKind
	WeekTag    string
	Position   int
	CreatedAt  time.Time

	// Denormalised source metadata, joined for read convenience.
	Title     string
	Channel   string
	Thumbnail string
}

// Append assigns position = max(position)+1 (or 0 if empty) and inserts a
// new row (§4.6). item must already exist (or be upserted transactionally
// here) as a source_items row.
func (s *Store) Append(ctx context.Context, item SourceItem, kind QueueKind, weekTag string) (QueueEntry, error) {
	var entry QueueEntry
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if err := upsertSourceItemTx(ctx, tx, item); err != nil {
			return err
		}

		var nextPos int
		if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(position) + 1, 0) FROM queue`).Scan(&nextPos); err != nil {
			return fmt.Errorf("compute next position: %w", err)
		}

		row := tx.QueryRow(ctx, `
			INSERT INTO queue (identifier, kind, week_tag, position)
			VALUES ($1, $2, NULLIF($3, ''), $4)
			RETURNING id, identifier, kind, COALESCE(week_tag, ''), position, created_at
		`, item.Identifier, string(kind), weekTag, nextPos)

		var e QueueEntry
		var k string
		if err := row.Scan(&e.ID, &e.Identifier, &k, &e.WeekTag, &e.Position, &e.CreatedAt); err != nil {
			return fmt.Errorf("insert queue entry: %w", err)
		}
		e.Kind = QueueKind(k)
		e.Title, e.Channel, e.Thumbnail = item.Title, item.Channel, item.Thumbnail
		entry = e
		return nil
	})
	return entry, err
}

// List returns every queue row ordered by position ascending, joined with
// source item metadata.
func (s *Store) List(ctx context.Context) ([]QueueEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT q.id, q.identifier, q.kind, COALESCE(q.week_tag, ''), q.position, q.created_at,
		       si.title, si.channel, si.thumbnail
		FROM queue q
		JOIN source_items si ON si.identifier = q.identifier
		ORDER BY q.position ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	defer rows.Close()

	var out []QueueEntry
	for rows.Next() {
		var e QueueEntry
		var k string
		if err := rows.Scan(&e.ID, &e.Identifier, &k, &e.WeekTag, &e.Position, &e.CreatedAt,
			&e.Title, &e.Channel, &e.Thumbnail); err != nil {
			return nil, fmt.Errorf("scan queue row: %w", err)
		}
		e.Kind = QueueKind(k)
		out = append(out, e)
	}
	return out, rows.Err()
}

// renumberTx rewrites positions to a dense 0..N-1 sequence following the
// current position order, inside tx. Called after any delete so the
// invariant "positions are {0,...,N-1}" (§8) always holds once the
// transaction commits.
func renumberTx(ctx context.Context, tx pgx.Tx) error {
	rows, err := tx.Query(ctx, `SELECT id FROM queue ORDER BY position ASC`)
	if err != nil {
		return fmt.Errorf("renumber: list ids: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("renumber: scan id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	// Shift into a temporary negative range first to avoid colliding with
	// the UNIQUE(position) constraint while renumbering in place.
	for i, id := range ids {
		if _, err := tx.Exec(ctx, `UPDATE queue SET position = $1 WHERE id = $2`, -(i + 1), id); err != nil {
			return fmt.Errorf("renumber: stage %d: %w", id, err)
		}
	}
	for i, id := range ids {
		if _, err := tx.Exec(ctx, `UPDATE queue SET position = $1 WHERE id = $2`, i, id); err != nil {
			return fmt.Errorf("renumber: commit %d: %w", id, err)
		}
	}
	return nil
}

// Remove deletes the row with the given entry ID and renumbers the
// remaining rows so positions stay contiguous (§4.6).
func (s *Store) Remove(ctx context.Context, entryID int64) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM queue WHERE id = $1`, entryID)
		if err != nil {
			return fmt.Errorf("remove queue entry %d: %w", entryID, err)
		}
		if tag.RowsAffected() == 0 {
			return ErrEntryNotFound
		}
		return renumberTx(ctx, tx)
	})
}

// Reorder atomically rewrites positions according to orderedIDs. Rejects
// with ErrSetMismatch if orderedIDs is not exactly the current set of row
// IDs (§4.6).
func (s *Store) Reorder(ctx context.Context, orderedIDs []int64) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT id FROM queue`)
		if err != nil {
			return fmt.Errorf("reorder: list current ids: %w", err)
		}
		current := make(map[int64]bool)
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			current[id] = true
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		if len(orderedIDs) != len(current) {
			return ErrSetMismatch
		}
		seen := make(map[int64]bool, len(orderedIDs))
		for _, id := range orderedIDs {
			if !current[id] || seen[id] {
				return ErrSetMismatch
			}
			seen[id] = true
		}

		// Stage into negative positions first to dodge the UNIQUE constraint.
		for i, id := range orderedIDs {
			if _, err := tx.Exec(ctx, `UPDATE queue SET position = $1 WHERE id = $2`, -(i + 1), id); err != nil {
				return fmt.Errorf("reorder: stage %d: %w", id, err)
			}
		}
		for i, id := range orderedIDs {
			if _, err := tx.Exec(ctx, `UPDATE queue SET position = $1 WHERE id = $2`, i, id); err != nil {
				return fmt.Errorf("reorder: commit %d: %w", id, err)
			}
		}
		return nil
	})
}

// PopCurrent removes the entry at position 0 and renumbers, returning it.
// Returns ErrEntryNotFound if the queue is empty.
func (s *Store) PopCurrent(ctx context.Context) (QueueEntry, error) {
	var entry QueueEntry
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			SELECT q.id, q.identifier, q.kind, COALESCE(q.week_tag, ''), q.position, q.created_at,
			       si.title, si.channel, si.thumbnail
			FROM queue q
			JOIN source_items si ON si.identifier = q.identifier
			WHERE q.position = 0
		`)
		var e QueueEntry
		var k string
		if err := row.Scan(&e.ID, &e.Identifier, &k, &e.WeekTag, &e.Position, &e.CreatedAt,
			&e.Title, &e.Channel, &e.Thumbnail); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrEntryNotFound
			}
			return fmt.Errorf("pop current: %w", err)
		}
		e.Kind = QueueKind(k)

		if _, err := tx.Exec(ctx, `DELETE FROM queue WHERE id = $1`, e.ID); err != nil {
			return fmt.Errorf("pop current: delete: %w", err)
		}
		if err := renumberTx(ctx, tx); err != nil {
			return err
		}
		entry = e
		return nil
	})
	return entry, err
}

// PeekNext returns the row at position 1, if any.
func (s *Store) PeekNext(ctx context.Context) (QueueEntry, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT q.id, q.identifier, q.kind, COALESCE(q.week_tag, ''), q.position, q.created_at,
		       si.title, si.channel, si.thumbnail
		FROM queue q
		JOIN source_items si ON si.identifier = q.identifier
		WHERE q.position = 1
	`)
	var e QueueEntry
	var k string
	if err := row.Scan(&e.ID, &e.Identifier, &k, &e.WeekTag, &e.Position, &e.CreatedAt,
		&e.Title, &e.Channel, &e.Thumbnail); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return QueueEntry{}, false, nil
		}
		return QueueEntry{}, false, fmt.Errorf("peek next: %w", err)
	}
	e.Kind = QueueKind(k)
	return e, true, nil
}

// Clear deletes every row in the queue table.
func (s *Store) Clear(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM queue`)
	if err != nil {
		return fmt.Errorf("clear queue: %w", err)
	}
	return nil
}
