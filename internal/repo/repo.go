// Package repo implements the relational store on PostgreSQL.
//
// One Repository wraps a pgx connection pool. Statement helpers take a
// Querier so the same code runs against the pool or a transaction; the
// lifecycle processor wraps each chat event in a single transaction via
// WithTx, everything else runs as standalone statements.
package repo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"signal-relay/internal/config"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("repo: not found")

// Querier is the subset of pgx operations shared by the pool and a
// transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// Repository is the PostgreSQL-backed store for rooms, messages, signals,
// replies, copy setups, and trades.
type Repository struct {
	pool   *pgxpool.Pool
	url    string
	logger *slog.Logger
}

// New connects the pool. Connections are pinged on acquire and recycled
// after cfg.MaxConnLifetime so stale sockets never reach a caller.
func New(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*Repository, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	poolCfg.BeforeAcquire = func(ctx context.Context, conn *pgx.Conn) bool {
		return conn.Ping(ctx) == nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	return &Repository{
		pool:   pool,
		url:    cfg.URL,
		logger: logger.With("component", "repo"),
	}, nil
}

// Pool exposes the underlying pool as a Querier for single-statement
// operations outside a transaction.
func (r *Repository) Pool() Querier { return r.pool }

// Ping verifies database connectivity.
func (r *Repository) Ping(ctx context.Context) error { return r.pool.Ping(ctx) }

// Close releases all pooled connections.
func (r *Repository) Close() { r.pool.Close() }

// WithTx runs fn inside a transaction, committing on nil error and rolling
// back otherwise.
func (r *Repository) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Stats carries row counts for the status surface.
type Stats struct {
	ChatRooms     int64 `json:"chat_rooms"`
	Messages      int64 `json:"messages"`
	Signals       int64 `json:"signals"`
	SignalReplies int64 `json:"signal_replies"`
	Trades        int64 `json:"trades"`
}

// GetStats counts the main tables in one round-trip.
func (r *Repository) GetStats(ctx context.Context) (Stats, error) {
	const q = `
SELECT
	(SELECT count(*) FROM chat_rooms),
	(SELECT count(*) FROM messages),
	(SELECT count(*) FROM signals),
	(SELECT count(*) FROM signal_replies),
	(SELECT count(*) FROM trades)`

	var s Stats
	err := r.pool.QueryRow(ctx, q).Scan(&s.ChatRooms, &s.Messages, &s.Signals, &s.SignalReplies, &s.Trades)
	if err != nil {
		return Stats{}, fmt.Errorf("count tables: %w", err)
	}
	return s, nil
}

// notFound converts pgx.ErrNoRows to ErrNotFound and passes everything
// else through.
func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
