package tlog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/realitylog/internal/merkle"
	"go.uber.org/zap"
)

// advisoryLockKey is a stable PostgreSQL advisory lock key used to serialise
// Append calls across connections. The value is arbitrary but must be
// consistent across all log daemon instances.
const advisoryLockKey = int64(1_302_775_519)

const createEntriesTable = `
CREATE TABLE IF NOT EXISTS tlog_entries (
	idx         BIGINT      PRIMARY KEY,
	received_at TIMESTAMPTZ NOT NULL,
	payload     BYTEA       NOT NULL,
	leaf_hash   BYTEA       NOT NULL CHECK (octet_length(leaf_hash) = 32)
)`

// PostgresBackend persists the log to a PostgreSQL database.
// It implements the Backend interface.
type PostgresBackend struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresBackend creates a PostgresBackend backed by the given connection pool.
func NewPostgresBackend(pool *pgxpool.Pool, logger *zap.Logger) *PostgresBackend {
	return &PostgresBackend{pool: pool, logger: logger}
}

// EnsureSchema creates the entries table if it does not exist.
func (b *PostgresBackend) EnsureSchema(ctx context.Context) error {
	if _, err := b.pool.Exec(ctx, createEntriesTable); err != nil {
		return fmt.Errorf("create tlog_entries: %w", err)
	}
	return nil
}

// Leaves implements Backend. Only the leaf hash column is read.
func (b *PostgresBackend) Leaves(ctx context.Context, fn func(Leaf) error) error {
	rows, err := b.pool.Query(ctx, "SELECT idx, leaf_hash FROM tlog_entries ORDER BY idx ASC")
	if err != nil {
		return fmt.Errorf("query leaves: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var idx int64
		var hash []byte
		if err := rows.Scan(&idx, &hash); err != nil {
			return fmt.Errorf("scan leaf row: %w", err)
		}
		leaf := Leaf{Index: uint64(idx)}
		if len(hash) != merkle.Size {
			return fmt.Errorf("%w: leaf %d is %d bytes", ErrCorrupt, idx, len(hash))
		}
		copy(leaf.Hash[:], hash)
		if err := fn(leaf); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Append implements Backend.
// It acquires a transaction-scoped advisory lock, checks that e extends the
// stored tail, and inserts it. The entry is durable once the commit returns.
func (b *PostgresBackend) Append(ctx context.Context, e Entry) error {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}

	var next int64
	if err := tx.QueryRow(ctx, "SELECT COALESCE(MAX(idx) + 1, 0) FROM tlog_entries").Scan(&next); err != nil {
		return fmt.Errorf("read log tail: %w", err)
	}
	if uint64(next) != e.Index {
		return fmt.Errorf("non-contiguous append: have %d entries, got index %d", next, e.Index)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO tlog_entries (idx, received_at, payload, leaf_hash)
		 VALUES ($1, $2, $3, $4)`,
		int64(e.Index), e.ReceivedAt, e.Payload, e.LeafHash[:],
	); err != nil {
		return fmt.Errorf("insert log entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit log tx: %w", err)
	}

	b.logger.Debug("log entry persisted", zap.Uint64("idx", e.Index))
	return nil
}

// Entry implements Backend.
func (b *PostgresBackend) Entry(ctx context.Context, index uint64) (Entry, error) {
	var (
		idx        int64
		receivedAt time.Time
		payload    []byte
		hash       []byte
	)
	err := b.pool.QueryRow(ctx,
		`SELECT idx, received_at, payload, leaf_hash FROM tlog_entries WHERE idx = $1`,
		int64(index),
	).Scan(&idx, &receivedAt, &payload, &hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, ErrOutOfRange
	}
	if err != nil {
		return Entry{}, fmt.Errorf("get log entry %d: %w", index, err)
	}

	e := Entry{Index: uint64(idx), ReceivedAt: receivedAt.UTC(), Payload: payload}
	if len(hash) != merkle.Size {
		return Entry{}, fmt.Errorf("%w: leaf %d is %d bytes", ErrCorrupt, idx, len(hash))
	}
	copy(e.LeafHash[:], hash)
	return e, nil
}

// Close implements Backend. The pool is owned by the caller.
func (b *PostgresBackend) Close() error { return nil }
