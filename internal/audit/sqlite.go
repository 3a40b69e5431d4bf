package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps entries in an SQLite table ordered by an increasing
// sequence number. Each append is a single transaction.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and ensures the
// entries table exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, &InitError{Err: fmt.Errorf("create directory: %w", err)}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &InitError{Err: fmt.Errorf("open %s: %w", path, err)}
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, &InitError{Err: fmt.Errorf("migrate %s: %w", path, err)}
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	ctx := context.Background()
	for _, stmt := range []string{
		`PRAGMA journal_mode=WAL`,
		`PRAGMA synchronous=FULL`,
		`CREATE TABLE IF NOT EXISTS audit_entries (
			seq       INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT    NOT NULL,
			actor     TEXT    NOT NULL,
			action    TEXT    NOT NULL,
			case_id   INTEGER NOT NULL,
			metadata  TEXT    NOT NULL,
			prev_hash TEXT    NOT NULL,
			hash      TEXT    NOT NULL
		)`,
	} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Load() ([]Entry, error) {
	rows, err := s.db.QueryContext(context.Background(), `
		SELECT seq, timestamp, actor, action, case_id, metadata, prev_hash, hash
		FROM audit_entries
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var (
			e    Entry
			seq  int64
			meta string
		)
		if err := rows.Scan(&seq, &e.Timestamp, &e.Actor, &e.Action, &e.CaseID, &meta, &e.PrevHash, &e.Hash); err != nil {
			return nil, &InitError{Err: fmt.Errorf("scan entry: %w", err)}
		}
		if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
			return nil, &InitError{Err: fmt.Errorf("parse metadata of entry seq %d: %w", seq, err)}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

func (s *SQLiteStore) Append(e Entry) error {
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO audit_entries (timestamp, actor, action, case_id, metadata, prev_hash, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.Timestamp, e.Actor, e.Action, e.CaseID, string(meta), e.PrevHash, e.Hash); err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
