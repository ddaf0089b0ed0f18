package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/mgreer/stagesync/internal/domain"
	"github.com/mgreer/stagesync/internal/events"
)

// UserStore handles user persistence operations.
type UserStore struct {
	store *Store
}

const userColumns = `id, login, pass, email, display_name, url, registered_at`

func scanUser(row interface{ Scan(...interface{}) error }) (*domain.User, error) {
	u := &domain.User{}
	var registeredAt string
	err := row.Scan(&u.ID, &u.Login, &u.Pass, &u.Email, &u.DisplayName, &u.URL, &registeredAt)
	if err != nil {
		return nil, err
	}
	u.RegisteredAt = parseTime(registeredAt)
	return u, nil
}

// GetByID retrieves a user by local ID.
func (us *UserStore) GetByID(id int64) (*domain.User, error) {
	row := us.store.db.QueryRow("SELECT "+userColumns+" FROM users WHERE id = ?", id)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %d: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// FindByLogin retrieves a user by login, the natural key across
// environments. Returns domain.ErrNotFound when no user matches.
func (us *UserStore) FindByLogin(login string) (*domain.User, error) {
	row := us.store.db.QueryRow("SELECT "+userColumns+" FROM users WHERE login = ?", login)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user login %q: %w", login, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find user by login: %w", err)
	}
	return user, nil
}

// Insert creates a new user with its metadata and returns the new local ID.
func (us *UserStore) Insert(user *domain.User) (int64, error) {
	var newID int64

	err := us.store.withTx(func(tx *sql.Tx, ew *events.Writer) error {
		res, err := tx.Exec(`
			INSERT INTO users (login, pass, email, display_name, url, registered_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, user.Login, user.Pass, user.Email, user.DisplayName, user.URL,
			fmtTime(user.RegisteredAt))
		if err != nil {
			return fmt.Errorf("failed to insert user: %w", err)
		}

		newID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get user id: %w", err)
		}

		for _, m := range user.Meta {
			if _, err := tx.Exec(
				"INSERT INTO user_meta (user_id, key, value) VALUES (?, ?, ?)",
				newID, m.Key, m.Value,
			); err != nil {
				return fmt.Errorf("failed to insert user meta: %w", err)
			}
		}

		return ew.LogEntityImported(tx, "user", newID, true, map[string]interface{}{
			"login": user.Login,
		})
	})

	return newID, err
}

// Update overwrites an existing user's editable fields and reconciles its
// metadata with a three-way diff against the incoming set.
func (us *UserStore) Update(id int64, user *domain.User) error {
	return us.store.withTx(func(tx *sql.Tx, ew *events.Writer) error {
		res, err := tx.Exec(`
			UPDATE users
			SET pass = ?, email = ?, display_name = ?, url = ?, registered_at = ?
			WHERE id = ?
		`, user.Pass, user.Email, user.DisplayName, user.URL,
			fmtTime(user.RegisteredAt), id)
		if err != nil {
			return fmt.Errorf("failed to update user: %w", err)
		}
		affected, _ := res.RowsAffected()
		if affected == 0 {
			return fmt.Errorf("user %d: %w", id, domain.ErrNotFound)
		}

		existing, err := metaForUserTx(tx, id)
		if err != nil {
			return err
		}

		diff := DiffUserMeta(existing, user.Meta)
		if err := applyMetaDiff(tx, id, diff); err != nil {
			return err
		}

		return ew.LogEntityImported(tx, "user", id, false, map[string]interface{}{
			"login": user.Login,
		})
	})
}

// MetaForUser returns all metadata pairs for a user, ordered by insertion.
func (us *UserStore) MetaForUser(userID int64) ([]domain.UserMeta, error) {
	rows, err := us.store.db.Query(`
		SELECT id, user_id, key, value FROM user_meta
		WHERE user_id = ? ORDER BY id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query user meta: %w", err)
	}
	defer rows.Close()
	return scanUserMeta(rows)
}

func metaForUserTx(tx *sql.Tx, userID int64) ([]domain.UserMeta, error) {
	rows, err := tx.Query(`
		SELECT id, user_id, key, value FROM user_meta
		WHERE user_id = ? ORDER BY id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query user meta: %w", err)
	}
	defer rows.Close()
	return scanUserMeta(rows)
}

func scanUserMeta(rows *sql.Rows) ([]domain.UserMeta, error) {
	var meta []domain.UserMeta
	for rows.Next() {
		var m domain.UserMeta
		if err := rows.Scan(&m.ID, &m.UserID, &m.Key, &m.Value); err != nil {
			return nil, fmt.Errorf("failed to scan user meta: %w", err)
		}
		meta = append(meta, m)
	}
	return meta, rows.Err()
}

// applyMetaDiff executes a metadata diff: deletes, then inserts, then
// updates, in that order.
func applyMetaDiff(tx *sql.Tx, userID int64, diff MetaDiff) error {
	for _, d := range diff.Deletes {
		if _, err := tx.Exec("DELETE FROM user_meta WHERE id = ?", d.ID); err != nil {
			return fmt.Errorf("failed to delete user meta: %w", err)
		}
	}
	for _, i := range diff.Inserts {
		if _, err := tx.Exec(
			"INSERT INTO user_meta (user_id, key, value) VALUES (?, ?, ?)",
			userID, i.Key, i.Value,
		); err != nil {
			return fmt.Errorf("failed to insert user meta: %w", err)
		}
	}
	for _, u := range diff.Updates {
		if _, err := tx.Exec(
			"UPDATE user_meta SET value = ? WHERE id = ?",
			u.Incoming.Value, u.Existing.ID,
		); err != nil {
			return fmt.Errorf("failed to update user meta: %w", err)
		}
	}
	return nil
}
