package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/mgreer/stagesync/internal/domain"
	"github.com/mgreer/stagesync/internal/events"
)

// PostStore handles post persistence operations.
type PostStore struct {
	store *Store
}

const postColumns = `id, guid, author_id, posted_at, modified_at, title, content,
	excerpt, status, type, parent_id, menu_order`

func scanPost(row interface{ Scan(...interface{}) error }) (*domain.Post, error) {
	p := &domain.Post{}
	var postedAt, modifiedAt string
	err := row.Scan(
		&p.ID, &p.GUID, &p.AuthorID, &postedAt, &modifiedAt, &p.Title,
		&p.Content, &p.Excerpt, &p.Status, &p.Type, &p.ParentID, &p.MenuOrder,
	)
	if err != nil {
		return nil, err
	}
	p.PostedAt = parseTime(postedAt)
	p.ModifiedAt = parseTime(modifiedAt)
	return p, nil
}

// GetByID retrieves a post by its local ID.
func (ps *PostStore) GetByID(id int64) (*domain.Post, error) {
	row := ps.store.db.QueryRow("SELECT "+postColumns+" FROM posts WHERE id = ?", id)
	post, err := scanPost(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("post %d: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get post: %w", err)
	}
	return post, nil
}

// FindByGUID retrieves a post by its global unique identifier.
// Returns domain.ErrNotFound when no post matches.
func (ps *PostStore) FindByGUID(guid string) (*domain.Post, error) {
	row := ps.store.db.QueryRow("SELECT "+postColumns+" FROM posts WHERE guid = ?", guid)
	post, err := scanPost(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("post guid %q: %w", guid, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find post by guid: %w", err)
	}
	return post, nil
}

// Insert creates a new post and returns its new local ID. The post's
// source-side ID and parent reference are ignored; parent linkage is
// resolved in a later pass.
func (ps *PostStore) Insert(post *domain.Post) (int64, error) {
	var newID int64

	err := ps.store.withTx(func(tx *sql.Tx, ew *events.Writer) error {
		res, err := tx.Exec(`
			INSERT INTO posts (guid, author_id, posted_at, modified_at, title,
			                   content, excerpt, status, type, parent_id, menu_order)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)
		`, post.GUID, post.AuthorID, fmtTime(post.PostedAt), fmtTime(post.ModifiedAt),
			post.Title, post.Content, post.Excerpt, post.Status, post.Type, post.MenuOrder)
		if err != nil {
			return fmt.Errorf("failed to insert post: %w", err)
		}

		newID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get post id: %w", err)
		}

		return ew.LogEntityImported(tx, "post", newID, true, map[string]interface{}{
			"guid":   post.GUID,
			"status": post.Status,
		})
	})

	return newID, err
}

// Update overwrites an existing post's editable fields.
func (ps *PostStore) Update(id int64, post *domain.Post) error {
	return ps.store.withTx(func(tx *sql.Tx, ew *events.Writer) error {
		res, err := tx.Exec(`
			UPDATE posts
			SET author_id = ?, posted_at = ?, modified_at = ?, title = ?,
			    content = ?, excerpt = ?, status = ?, type = ?, menu_order = ?
			WHERE id = ?
		`, post.AuthorID, fmtTime(post.PostedAt), fmtTime(post.ModifiedAt),
			post.Title, post.Content, post.Excerpt, post.Status, post.Type,
			post.MenuOrder, id)
		if err != nil {
			return fmt.Errorf("failed to update post: %w", err)
		}
		affected, _ := res.RowsAffected()
		if affected == 0 {
			return fmt.Errorf("post %d: %w", id, domain.ErrNotFound)
		}

		return ew.LogEntityImported(tx, "post", id, false, map[string]interface{}{
			"guid":   post.GUID,
			"status": post.Status,
		})
	})
}

// UpdateStatus sets a post's status. Used for deferred publication.
func (ps *PostStore) UpdateStatus(id int64, status string) error {
	return ps.store.withTx(func(tx *sql.Tx, ew *events.Writer) error {
		if _, err := tx.Exec("UPDATE posts SET status = ? WHERE id = ?", status, id); err != nil {
			return fmt.Errorf("failed to update post status: %w", err)
		}
		return ew.LogEntityImported(tx, "post", id, false, map[string]interface{}{
			"status": status,
		})
	})
}

// SetParent sets a post's parent reference to a local post ID.
func (ps *PostStore) SetParent(id, parentID int64) error {
	_, err := ps.store.db.Exec("UPDATE posts SET parent_id = ? WHERE id = ?", parentID, id)
	if err != nil {
		return fmt.Errorf("failed to set post parent: %w", err)
	}
	return nil
}

// MetaForPost returns all metadata pairs for a post, ordered by insertion.
func (ps *PostStore) MetaForPost(postID int64) ([]domain.PostMeta, error) {
	rows, err := ps.store.db.Query(`
		SELECT id, post_id, key, value FROM post_meta
		WHERE post_id = ? ORDER BY id
	`, postID)
	if err != nil {
		return nil, fmt.Errorf("failed to query post meta: %w", err)
	}
	defer rows.Close()

	var meta []domain.PostMeta
	for rows.Next() {
		var m domain.PostMeta
		if err := rows.Scan(&m.ID, &m.PostID, &m.Key, &m.Value); err != nil {
			return nil, fmt.Errorf("failed to scan post meta: %w", err)
		}
		meta = append(meta, m)
	}
	return meta, rows.Err()
}

// DeleteMeta removes all metadata for a post. Post meta is fully replaced
// on re-import, unlike user meta.
func (ps *PostStore) DeleteMeta(postID int64) error {
	_, err := ps.store.db.Exec("DELETE FROM post_meta WHERE post_id = ?", postID)
	if err != nil {
		return fmt.Errorf("failed to delete post meta: %w", err)
	}
	return nil
}

// InsertMeta inserts a single metadata pair for a post.
func (ps *PostStore) InsertMeta(postID int64, key, value string) error {
	_, err := ps.store.db.Exec(
		"INSERT INTO post_meta (post_id, key, value) VALUES (?, ?, ?)",
		postID, key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to insert post meta: %w", err)
	}
	return nil
}

// TaxonomiesForPost returns a post's taxonomy assignments ordered by
// term_order.
func (ps *PostStore) TaxonomiesForPost(postID int64) ([]domain.TaxonomyAssignment, error) {
	rows, err := ps.store.db.Query(`
		SELECT term_taxonomy_id, term_order FROM term_relationships
		WHERE post_id = ? ORDER BY term_order, term_taxonomy_id
	`, postID)
	if err != nil {
		return nil, fmt.Errorf("failed to query post taxonomies: %w", err)
	}
	defer rows.Close()

	var assignments []domain.TaxonomyAssignment
	for rows.Next() {
		var a domain.TaxonomyAssignment
		if err := rows.Scan(&a.TermTaxonomyID, &a.Order); err != nil {
			return nil, fmt.Errorf("failed to scan taxonomy assignment: %w", err)
		}
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

// UpsertRelationship creates or updates the link between a post and a term
// taxonomy, keyed by the pair.
func (ps *PostStore) UpsertRelationship(postID, termTaxonomyID int64, order int) error {
	_, err := ps.store.db.Exec(`
		INSERT INTO term_relationships (post_id, term_taxonomy_id, term_order)
		VALUES (?, ?, ?)
		ON CONFLICT(post_id, term_taxonomy_id) DO UPDATE SET
			term_order = excluded.term_order
	`, postID, termTaxonomyID, order)
	if err != nil {
		return fmt.Errorf("failed to upsert term relationship: %w", err)
	}
	return nil
}
