// Package store provides the persistence layer over one environment's
// content database. Each entity type gets its own small store exposing the
// natural-key capability set the import engine needs: find-by-natural-key,
// upsert, delete.
package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/mgreer/stagesync/internal/db"
	"github.com/mgreer/stagesync/internal/events"
)

// Store is the root store that provides access to entity-specific stores.
type Store struct {
	db *db.DB

	Posts      *PostStore
	Users      *UserStore
	Terms      *TermStore
	Taxonomies *TaxonomyStore
}

// New creates a new Store wrapping the given database connection.
func New(database *db.DB) *Store {
	s := &Store{db: database}
	s.Posts = &PostStore{store: s}
	s.Users = &UserStore{store: s}
	s.Terms = &TermStore{store: s}
	s.Taxonomies = &TaxonomyStore{store: s}
	return s
}

// DB returns the underlying database connection (for read-only queries).
func (s *Store) DB() *db.DB {
	return s.db
}

// withTx executes fn within a transaction. If fn returns nil, the
// transaction is committed; otherwise it is rolled back.
func (s *Store) withTx(fn func(tx *sql.Tx, ew *events.Writer) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ew := events.NewWriter(s.db.DB)
	if err := fn(tx, ew); err != nil {
		return err
	}

	return tx.Commit()
}

const timeLayout = "2006-01-02T15:04:05Z"

// fmtTime formats a timestamp the way the schema defaults do.
func fmtTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

// parseTime parses a stored timestamp, tolerating the zero value.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}
		}
	}
	return t.UTC()
}
