package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// migrations is an ordered, idempotent list of DDL statements. Each is
// CREATE ... IF NOT EXISTS so re-running migrate on an already-initialised
// database is a no-op, matching the teacher's playlist.Store's tolerance for
// being pointed at an existing file.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS source_items (
		identifier   TEXT PRIMARY KEY,
		title        TEXT NOT NULL,
		channel      TEXT NOT NULL,
		thumbnail    TEXT NOT NULL DEFAULT '',
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS queue (
		id           BIGSERIAL PRIMARY KEY,
		identifier   TEXT NOT NULL REFERENCES source_items(identifier),
		kind         TEXT NOT NULL DEFAULT 'primary',
		week_tag     TEXT,
		position     INTEGER NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (position)
	)`,
	`CREATE TABLE IF NOT EXISTS history (
		identifier       TEXT PRIMARY KEY REFERENCES source_items(identifier),
		title            TEXT NOT NULL,
		channel          TEXT NOT NULL,
		thumbnail        TEXT NOT NULL DEFAULT '',
		play_count       INTEGER NOT NULL DEFAULT 1,
		first_played_at  TIMESTAMPTZ NOT NULL,
		last_played_at   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS usage_records (
		id                       BIGSERIAL PRIMARY KEY,
		provider                 TEXT NOT NULL,
		model                    TEXT NOT NULL,
		feature                  TEXT NOT NULL,
		prompt_tokens            INTEGER NOT NULL DEFAULT 0,
		response_tokens          INTEGER NOT NULL DEFAULT 0,
		reasoning_tokens         INTEGER NOT NULL DEFAULT 0,
		audio_duration_seconds   DOUBLE PRECISION,
		identifier               TEXT REFERENCES source_items(identifier),
		created_at               TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_history_last_played ON history (last_played_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_queue_position ON queue (position)`,
}

// migrate applies every statement in migrations, in order, inside one
// transaction.
func (s *Store) migrate(ctx context.Context) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		for i, stmt := range migrations {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("migration step %d: %w", i, err)
			}
		}
		return nil
	})
}
