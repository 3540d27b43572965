// Package store implements the kernel's persistence: policies, signals,
// evaluations, exceptions, decisions, evidence packs, the append-only
// audit ledger, replay namespaces and the coprocessor approval queue.
//
// All uniqueness guarantees (evaluation input hashes, open-exception
// fingerprints, one evidence pack per decision) live in the schema, so
// concurrent writers race on constraints instead of check-then-insert.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tracelight-io/tracelight/pkg/contracts"
)

// Store wraps the kernel database. All methods are safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) a kernel database at the given DSN and
// applies migrations.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// OpenMemory opens an in-memory database for tests. A single connection is
// used so every caller sees the same database.
func OpenMemory() (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// formatTime is the canonical storage encoding for timestamps.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}

// mapWriteErr classifies low-level write failures. Trigger aborts from the
// immutability guards surface as ErrState.
func mapWriteErr(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "immutable") {
		return fmt.Errorf("%w: %v", contracts.ErrState, err)
	}
	return err
}
