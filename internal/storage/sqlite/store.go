// Package sqlite is LTMC's relational DAL: schema ownership, forward-only
// migrations, CRUD, and the monotonic vector-id sequence allocator.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	ltmcerrors "ltmc/internal/errors"
)

// Store wraps the relational primary store at <data_dir>/primary.db.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path, enables
// WAL mode for concurrent readers and foreign key enforcement, and runs
// every pending migration. It refuses to return a Store if migration
// cannot complete or the schema is not one it recognizes.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, ltmcerrors.Storage(ltmcerrors.BackendRelational, fmt.Errorf("opening %s: %w", path, err))
	}
	// A single writer connection avoids SQLITE_BUSY under the
	// coordinator's own per-resource locking; concurrent reads still
	// fan out over WAL.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, ltmcerrors.Storage(ltmcerrors.BackendRelational, fmt.Errorf("pinging %s: %w", path, err))
	}

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

// BeginTx starts a relational transaction used by the coordinator's
// atomic write protocol (§4.1 Phase A / Phase D).
func (s *Store) BeginTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, ltmcerrors.Storage(ltmcerrors.BackendRelational, err)
	}
	return tx, nil
}

// DB exposes the underlying *sql.DB for read-only queries that don't
// need transactional semantics.
func (s *Store) DB() *sql.DB { return s.db }

// AllocateVectorID performs the atomic "next value" read-modify-write
// against the single-row vector_id_sequence counter, inside tx. Because
// it runs within the caller's transaction against a single-writer
// connection, concurrent allocations serialize and never collide —
// satisfying I5 (globally unique, strictly increasing).
func AllocateVectorID(ctx context.Context, tx *sql.Tx) (int64, error) {
	if _, err := tx.ExecContext(ctx,
		`UPDATE vector_id_sequence SET last_vector_id = last_vector_id + 1 WHERE id = 1`); err != nil {
		return 0, ltmcerrors.Storage(ltmcerrors.BackendRelational, err)
	}
	var id int64
	if err := tx.QueryRowContext(ctx, `SELECT last_vector_id FROM vector_id_sequence WHERE id = 1`).Scan(&id); err != nil {
		return 0, ltmcerrors.Storage(ltmcerrors.BackendRelational, err)
	}
	return id, nil
}
