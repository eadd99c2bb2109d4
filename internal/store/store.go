// Package store is the sole writer of the relational tables behind the
// persistent queue, history, and usage ledger (SPEC_FULL §3, §6). It is
// grounded on ProhibitedTV-BitRiver-Live's internal/storage package: a
// pgxpool-backed repository with an explicit pool-config struct, a bounded
// withConn helper, and transactional multi-statement writes.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Config describes how the Store establishes and bounds its connection pool.
type Config struct {
	DSN                 string
	MaxConnections      int32
	MinConnections      int32
	MaxConnLifetime     time.Duration
	MaxConnIdleTime     time.Duration
	HealthCheckInterval time.Duration
	AcquireTimeout      time.Duration
}

// Store wraps a pgx connection pool and exposes the queue/history/usage
// table operations. Every write made through withTx (queue append, remove,
// reorder and pop; history and source-item upserts; migrations) holds a
// store-level mutex for the whole transaction, so those writes are totally
// ordered (§4.6, §5). Clear, ClearHistory and InsertUsageRecord are single
// statements issued without the mutex.
type Store struct {
	mu             sync.Mutex
	pool           *pgxpool.Pool
	acquireTimeout time.Duration
}

// Open establishes the connection pool and runs migrations. The returned
// Store must be closed with Close at process shutdown.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database DSN: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections > 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	s := &Store{pool: pool, acquireTimeout: cfg.AcquireTimeout}
	if s.acquireTimeout <= 0 {
		s.acquireTimeout = 10 * time.Second
	}

	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// Close releases the connection pool. Idempotent.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// withTx runs fn inside a transaction, rolling back on any error (including
// a panic, which is re-raised after rollback) and committing otherwise.
func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acquireCtx, cancel := context.WithTimeout(ctx, s.acquireTimeout)
	defer cancel()

	tx, err := s.pool.Begin(acquireCtx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
