package anchor

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmerrifield20/realitylog/internal/merkle"
	_ "modernc.org/sqlite" // Import SQLite driver for database/sql
)

// SQLiteStore keeps anchor records in a SQLite database.
type SQLiteStore struct{ db *sql.DB }

// OpenSQLiteStore opens/creates a SQLite DB and ensures schema + PRAGMAs.
// synchronous=FULL makes every committed anchor durable before Append returns.
func OpenSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	for _, p := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set %s: %w", p, err)
		}
	}
	schema := `
CREATE TABLE IF NOT EXISTS anchors (
  seq             INTEGER PRIMARY KEY AUTOINCREMENT,
  tree_size       INTEGER NOT NULL,
  root            TEXT    NOT NULL,
  timestamp_nanos INTEGER NOT NULL,
  txid            TEXT    NOT NULL
);
`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Append implements Store.
func (s *SQLiteStore) Append(ctx context.Context, r Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO anchors (tree_size, root, timestamp_nanos, txid) VALUES (?, ?, ?, ?)`,
		int64(r.TreeSize), r.Root.String(), int64(r.TimestampNanos), r.TxID.String(),
	)
	if err != nil {
		return fmt.Errorf("%w: insert anchor: %w", ErrStorageFailure, err)
	}
	return nil
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tree_size, root, timestamp_nanos, txid FROM anchors ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("query anchors: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			size, nanos int64
			root, txid  string
		)
		if err := rows.Scan(&size, &root, &nanos, &txid); err != nil {
			return nil, fmt.Errorf("scan anchor: %w", err)
		}
		r := Record{TreeSize: uint64(size), TimestampNanos: uint64(nanos)}
		if r.Root, err = merkle.ParseDigest(root); err != nil {
			return nil, fmt.Errorf("%w: anchor %d root: %v", ErrCorrupt, len(out), err)
		}
		if r.TxID, err = merkle.ParseDigest(txid); err != nil {
			return nil, fmt.Errorf("%w: anchor %d txid: %v", ErrCorrupt, len(out), err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
