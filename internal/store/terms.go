package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/mgreer/stagesync/internal/domain"
	"github.com/mgreer/stagesync/internal/events"
)

// TermStore handles term persistence operations.
type TermStore struct {
	store *Store
}

// GetByID retrieves a term by local ID.
func (ts *TermStore) GetByID(id int64) (*domain.Term, error) {
	t := &domain.Term{}
	err := ts.store.db.QueryRow(
		"SELECT id, name, slug, term_group FROM terms WHERE id = ?", id,
	).Scan(&t.ID, &t.Name, &t.Slug, &t.Group)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("term %d: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get term: %w", err)
	}
	return t, nil
}

// FindBySlug retrieves a term by slug, the natural key across environments.
// Returns domain.ErrNotFound when no term matches.
func (ts *TermStore) FindBySlug(slug string) (*domain.Term, error) {
	t := &domain.Term{}
	err := ts.store.db.QueryRow(
		"SELECT id, name, slug, term_group FROM terms WHERE slug = ?", slug,
	).Scan(&t.ID, &t.Name, &t.Slug, &t.Group)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("term slug %q: %w", slug, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find term by slug: %w", err)
	}
	return t, nil
}

// Insert creates a new term and returns its new local ID.
func (ts *TermStore) Insert(term *domain.Term) (int64, error) {
	var newID int64

	err := ts.store.withTx(func(tx *sql.Tx, ew *events.Writer) error {
		res, err := tx.Exec(
			"INSERT INTO terms (name, slug, term_group) VALUES (?, ?, ?)",
			term.Name, term.Slug, term.Group,
		)
		if err != nil {
			return fmt.Errorf("failed to insert term: %w", err)
		}

		newID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get term id: %w", err)
		}

		return ew.LogEntityImported(tx, "term", newID, true, map[string]interface{}{
			"slug": term.Slug,
		})
	})

	return newID, err
}

// Update overwrites an existing term's name, slug, and group.
func (ts *TermStore) Update(id int64, term *domain.Term) error {
	return ts.store.withTx(func(tx *sql.Tx, ew *events.Writer) error {
		res, err := tx.Exec(
			"UPDATE terms SET name = ?, slug = ?, term_group = ? WHERE id = ?",
			term.Name, term.Slug, term.Group, id,
		)
		if err != nil {
			return fmt.Errorf("failed to update term: %w", err)
		}
		affected, _ := res.RowsAffected()
		if affected == 0 {
			return fmt.Errorf("term %d: %w", id, domain.ErrNotFound)
		}

		return ew.LogEntityImported(tx, "term", id, false, map[string]interface{}{
			"slug": term.Slug,
		})
	})
}

// TaxonomyStore handles term-taxonomy persistence operations, including
// the denormalized term hierarchy side index.
type TaxonomyStore struct {
	store *Store
}

const taxonomyColumns = `id, term_id, taxonomy, description, parent_term_id, count`

func scanTaxonomy(row interface{ Scan(...interface{}) error }) (*domain.TermTaxonomy, error) {
	tt := &domain.TermTaxonomy{}
	err := row.Scan(&tt.ID, &tt.TermID, &tt.Taxonomy, &tt.Description,
		&tt.ParentTermID, &tt.Count)
	if err != nil {
		return nil, err
	}
	return tt, nil
}

// GetByID retrieves a term taxonomy by local ID.
func (xs *TaxonomyStore) GetByID(id int64) (*domain.TermTaxonomy, error) {
	row := xs.store.db.QueryRow("SELECT "+taxonomyColumns+" FROM term_taxonomy WHERE id = ?", id)
	tt, err := scanTaxonomy(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("term taxonomy %d: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get term taxonomy: %w", err)
	}
	return tt, nil
}

// FindByTermAndTaxonomy retrieves a taxonomy entry by its natural key:
// the (term id, taxonomy name) pair, both environment-relative.
func (xs *TaxonomyStore) FindByTermAndTaxonomy(termID int64, taxonomy string) (*domain.TermTaxonomy, error) {
	row := xs.store.db.QueryRow(
		"SELECT "+taxonomyColumns+" FROM term_taxonomy WHERE term_id = ? AND taxonomy = ?",
		termID, taxonomy,
	)
	tt, err := scanTaxonomy(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("term taxonomy (%d, %q): %w", termID, taxonomy, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find term taxonomy: %w", err)
	}
	return tt, nil
}

// Insert creates a new taxonomy entry and maintains the hierarchy index.
// TermID and ParentTermID must already be target-relative.
func (xs *TaxonomyStore) Insert(tt *domain.TermTaxonomy) (int64, error) {
	var newID int64

	err := xs.store.withTx(func(tx *sql.Tx, ew *events.Writer) error {
		res, err := tx.Exec(`
			INSERT INTO term_taxonomy (term_id, taxonomy, description, parent_term_id, count)
			VALUES (?, ?, ?, ?, ?)
		`, tt.TermID, tt.Taxonomy, tt.Description, tt.ParentTermID, tt.Count)
		if err != nil {
			return fmt.Errorf("failed to insert term taxonomy: %w", err)
		}

		newID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get term taxonomy id: %w", err)
		}

		if err := maintainHierarchy(tx, tt); err != nil {
			return err
		}

		return ew.LogEntityImported(tx, "term_taxonomy", newID, true, map[string]interface{}{
			"taxonomy": tt.Taxonomy,
			"term_id":  tt.TermID,
		})
	})

	return newID, err
}

// Update overwrites an existing taxonomy entry and maintains the hierarchy
// index.
func (xs *TaxonomyStore) Update(id int64, tt *domain.TermTaxonomy) error {
	return xs.store.withTx(func(tx *sql.Tx, ew *events.Writer) error {
		res, err := tx.Exec(`
			UPDATE term_taxonomy
			SET term_id = ?, taxonomy = ?, description = ?, parent_term_id = ?, count = ?
			WHERE id = ?
		`, tt.TermID, tt.Taxonomy, tt.Description, tt.ParentTermID, tt.Count, id)
		if err != nil {
			return fmt.Errorf("failed to update term taxonomy: %w", err)
		}
		affected, _ := res.RowsAffected()
		if affected == 0 {
			return fmt.Errorf("term taxonomy %d: %w", id, domain.ErrNotFound)
		}

		if err := maintainHierarchy(tx, tt); err != nil {
			return err
		}

		return ew.LogEntityImported(tx, "term_taxonomy", id, false, map[string]interface{}{
			"taxonomy": tt.Taxonomy,
			"term_id":  tt.TermID,
		})
	})
}

// Children returns the hierarchy index's child term IDs for a parent term
// within a taxonomy.
func (xs *TaxonomyStore) Children(taxonomy string, parentTermID int64) ([]int64, error) {
	rows, err := xs.store.db.Query(`
		SELECT child_term_id FROM term_hierarchy
		WHERE taxonomy = ? AND parent_term_id = ?
		ORDER BY child_term_id
	`, taxonomy, parentTermID)
	if err != nil {
		return nil, fmt.Errorf("failed to query term hierarchy: %w", err)
	}
	defer rows.Close()

	var children []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan term hierarchy: %w", err)
		}
		children = append(children, id)
	}
	return children, rows.Err()
}

// RebuildHierarchy regenerates the side index for one taxonomy from the
// authoritative term_taxonomy table.
func (xs *TaxonomyStore) RebuildHierarchy(taxonomy string) error {
	return xs.store.withTx(func(tx *sql.Tx, ew *events.Writer) error {
		if _, err := tx.Exec("DELETE FROM term_hierarchy WHERE taxonomy = ?", taxonomy); err != nil {
			return fmt.Errorf("failed to clear term hierarchy: %w", err)
		}
		if _, err := tx.Exec(`
			INSERT INTO term_hierarchy (taxonomy, parent_term_id, child_term_id)
			SELECT taxonomy, parent_term_id, term_id FROM term_taxonomy
			WHERE taxonomy = ? AND parent_term_id != 0
		`, taxonomy); err != nil {
			return fmt.Errorf("failed to rebuild term hierarchy: %w", err)
		}
		return nil
	})
}

// maintainHierarchy keeps the side index consistent with one taxonomy
// entry: registers the child under its parent if missing, and removes any
// stale parent links when the entry has no parent. Idempotent regardless
// of the order entries are processed in.
func maintainHierarchy(tx *sql.Tx, tt *domain.TermTaxonomy) error {
	// Drop links that no longer match the entry's parent.
	if _, err := tx.Exec(`
		DELETE FROM term_hierarchy
		WHERE taxonomy = ? AND child_term_id = ? AND parent_term_id != ?
	`, tt.Taxonomy, tt.TermID, tt.ParentTermID); err != nil {
		return fmt.Errorf("failed to prune term hierarchy: %w", err)
	}

	if tt.ParentTermID == 0 {
		return nil
	}

	if _, err := tx.Exec(`
		INSERT INTO term_hierarchy (taxonomy, parent_term_id, child_term_id)
		VALUES (?, ?, ?)
		ON CONFLICT(taxonomy, parent_term_id, child_term_id) DO NOTHING
	`, tt.Taxonomy, tt.ParentTermID, tt.TermID); err != nil {
		return fmt.Errorf("failed to add term hierarchy link: %w", err)
	}

	return nil
}
