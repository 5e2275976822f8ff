package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists documents in one SQLite table. SQLite serializes
// writers, so the per-transaction guarantees come for free; BEGIN
// IMMEDIATE keeps writer conflicts at the start of the transaction
// instead of at commit.
type SQLiteStore struct {
	db    *sql.DB
	clock func() time.Time
}

// OpenSQLite opens (or creates) the store at path and runs migrations.
// Use ":memory:" for throwaway stores.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("docstore: open %s: %w", path, err)
	}
	// database/sql pooling breaks :memory: databases and gains nothing
	// for file-backed SQLite.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, clock: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore wraps an already-open database without migrating. For
// callers that manage the connection themselves (and for mock-backed
// failure tests).
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, clock: time.Now}
}

// WithClock overrides the clock for deterministic tests.
func (s *SQLiteStore) WithClock(clock func() time.Time) *SQLiteStore {
	s.clock = clock
	return s
}

func (s *SQLiteStore) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS documents (
        collection TEXT NOT NULL,
        id TEXT NOT NULL,
        data JSON NOT NULL,
        updated_at TEXT NOT NULL,
        PRIMARY KEY (collection, id)
    );
    CREATE INDEX IF NOT EXISTS idx_documents_updated
        ON documents (collection, updated_at DESC);`
	_, err := s.db.ExecContext(context.Background(), query)
	if err != nil {
		return fmt.Errorf("docstore: migrate: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RunTransaction(ctx context.Context, fn func(tx Tx) error) error {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("docstore: begin: %w", err)
	}
	wrapped := &sqliteTx{ctx: ctx, tx: dbTx, clock: s.clock}
	if err := fn(wrapped); err != nil {
		_ = dbTx.Rollback()
		return err
	}
	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("docstore: commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, collection, id string) (Doc, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT data FROM documents WHERE collection = ? AND id = ?`, collection, id)
	return scanDoc(row)
}

func (s *SQLiteStore) List(ctx context.Context, collection string, limit int) ([]Doc, error) {
	query := `SELECT data FROM documents WHERE collection = ? ORDER BY updated_at DESC, rowid DESC`
	args := []any{collection}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("docstore: list %s: %w", collection, err)
	}
	defer func() { _ = rows.Close() }()

	var docs []Doc
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var doc Doc
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, fmt.Errorf("docstore: corrupt document in %s: %w", collection, err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

type sqliteTx struct {
	ctx   context.Context
	tx    *sql.Tx
	clock func() time.Time
}

func (t *sqliteTx) Get(collection, id string) (Doc, bool, error) {
	row := t.tx.QueryRowContext(t.ctx,
		`SELECT data FROM documents WHERE collection = ? AND id = ?`, collection, id)
	return scanDoc(row)
}

func (t *sqliteTx) Create(collection, id string, doc Doc) error {
	if _, exists, err := t.Get(collection, id); err != nil {
		return err
	} else if exists {
		return ErrExists
	}
	return t.write(collection, id, doc)
}

func (t *sqliteTx) Set(collection, id string, doc Doc) error {
	return t.write(collection, id, doc)
}

func (t *sqliteTx) Delete(collection, id string) error {
	_, err := t.tx.ExecContext(t.ctx,
		`DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id)
	return err
}

func (t *sqliteTx) write(collection, id string, doc Doc) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("docstore: marshal %s/%s: %w", collection, id, err)
	}
	_, err = t.tx.ExecContext(t.ctx, `
        INSERT INTO documents (collection, id, data, updated_at)
        VALUES (?, ?, ?, ?)
        ON CONFLICT (collection, id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		collection, id, string(raw), t.clock().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("docstore: write %s/%s: %w", collection, id, err)
	}
	return nil
}

func scanDoc(row *sql.Row) (Doc, bool, error) {
	var raw string
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var doc Doc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, false, fmt.Errorf("docstore: corrupt document: %w", err)
	}
	return doc, true, nil
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Tx    = (*sqliteTx)(nil)
)
