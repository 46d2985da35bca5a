package defect

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const indexSchema = `
CREATE TABLE IF NOT EXISTS fingerprints (
	fingerprint TEXT NOT NULL,
	test_key    TEXT NOT NULL,
	bug_key     TEXT NOT NULL,
	run_id      TEXT NOT NULL,
	recorded_at TEXT NOT NULL,
	PRIMARY KEY (fingerprint, test_key, bug_key)
);
CREATE INDEX IF NOT EXISTS idx_fingerprints_test ON fingerprints(test_key);
`

// Index is a local cache of fingerprint to defect key. It narrows the
// candidates checked first; a hit is always confirmed against the defect
// text before it suppresses filing.
type Index struct {
	db *sql.DB
}

// OpenIndex opens or creates the index database at path. ":memory:" keeps
// it in memory.
func OpenIndex(path string) (*Index, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating index directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening index: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(indexSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing index: %w", err)
	}
	return &Index{db: db}, nil
}

// Close releases the database.
func (x *Index) Close() error {
	if x == nil || x.db == nil {
		return nil
	}
	return x.db.Close()
}

// Lookup returns the defect keys recorded for a fingerprint of testKey,
// newest first.
func (x *Index) Lookup(ctx context.Context, fingerprint, testKey string) ([]string, error) {
	rows, err := x.db.QueryContext(ctx,
		`SELECT bug_key FROM fingerprints WHERE fingerprint = ? AND test_key = ? ORDER BY recorded_at DESC`,
		fingerprint, testKey)
	if err != nil {
		return nil, fmt.Errorf("querying index: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scanning index: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Record stores a fingerprint to defect association.
func (x *Index) Record(ctx context.Context, fingerprint, testKey, bugKey, runID string) error {
	_, err := x.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO fingerprints (fingerprint, test_key, bug_key, run_id, recorded_at) VALUES (?, ?, ?, ?, ?)`,
		fingerprint, testKey, bugKey, runID, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("recording fingerprint: %w", err)
	}
	return nil
}

// Forget drops one fingerprint to defect association, after the defect
// text stopped matching the fingerprint it was recorded under.
func (x *Index) Forget(ctx context.Context, fingerprint, testKey, bugKey string) error {
	_, err := x.db.ExecContext(ctx,
		`DELETE FROM fingerprints WHERE fingerprint = ? AND test_key = ? AND bug_key = ?`,
		fingerprint, testKey, bugKey)
	if err != nil {
		return fmt.Errorf("forgetting %s: %w", bugKey, err)
	}
	return nil
}
