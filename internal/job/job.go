// Package job manages the durable record of one import run: its status,
// ordered message log, payload, and single-use authorization key.
package job

import (
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mgreer/stagesync/internal/db"
	"github.com/mgreer/stagesync/internal/domain"
	"github.com/mgreer/stagesync/internal/events"
)

// ErrAlreadyImported is returned by Claim when the job has already
// completed. Completed is sticky; failed jobs may be retried.
var ErrAlreadyImported = errors.New("import job already completed")

// ErrBadKey is returned by Authorize when the presented key does not match
// the job's current one-time key.
var ErrBadKey = errors.New("invalid one-time key")

// Store handles import job persistence.
type Store struct {
	db *db.DB
}

// NewStore creates a job store over the given database.
func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

const timeLayout = "2006-01-02T15:04:05Z"

// newKey derives a fresh one-time key from the job id, its modification
// timestamp, and a random nonce. Regenerated on every update so a key
// authorizes at most one trigger.
func newKey(jobID int64, updatedAt string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s", jobID, updatedAt, uuid.NewString())
	return hex.EncodeToString(h.Sum(nil))
}

// Create persists a new import job in the not-started state and returns it
// with its initial one-time key.
func (s *Store) Create(createdBy string, payload []byte) (*domain.ImportJob, error) {
	now := time.Now().UTC().Format(timeLayout)

	res, err := s.db.Exec(`
		INSERT INTO import_jobs (created_by, created_at, updated_at, payload, status, one_time_key)
		VALUES (?, ?, ?, ?, ?, '')
	`, createdBy, now, now, payload, int(domain.StatusNotStarted))
	if err != nil {
		return nil, fmt.Errorf("failed to create import job: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get job id: %w", err)
	}

	key := newKey(id, now)
	if _, err := s.db.Exec("UPDATE import_jobs SET one_time_key = ? WHERE id = ?", key, id); err != nil {
		return nil, fmt.Errorf("failed to set job key: %w", err)
	}

	ew := events.NewWriter(s.db.DB)
	if err := ew.LogJobTransition(nil, id, domain.StatusNotStarted); err != nil {
		return nil, err
	}

	return s.Get(id)
}

// Get retrieves a job by id, without its message log.
func (s *Store) Get(id int64) (*domain.ImportJob, error) {
	j := &domain.ImportJob{}
	var createdAt, updatedAt string
	var status int
	var retired int
	err := s.db.QueryRow(`
		SELECT id, created_by, created_at, updated_at, payload, status, one_time_key, retired
		FROM import_jobs WHERE id = ?
	`, id).Scan(&j.ID, &j.CreatedBy, &createdAt, &updatedAt, &j.Payload,
		&status, &j.OneTimeKey, &retired)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("import job %d: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get import job: %w", err)
	}

	j.CreatedAt = parseTime(createdAt)
	j.UpdatedAt = parseTime(updatedAt)
	j.Status = domain.JobStatus(status)
	j.Retired = retired != 0
	return j, nil
}

// List returns all jobs, newest first, without payloads or messages.
func (s *Store) List() ([]domain.ImportJob, error) {
	rows, err := s.db.Query(`
		SELECT id, created_by, created_at, updated_at, status, retired
		FROM import_jobs ORDER BY id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list import jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.ImportJob
	for rows.Next() {
		var j domain.ImportJob
		var createdAt, updatedAt string
		var status, retired int
		if err := rows.Scan(&j.ID, &j.CreatedBy, &createdAt, &updatedAt, &status, &retired); err != nil {
			return nil, fmt.Errorf("failed to scan import job: %w", err)
		}
		j.CreatedAt = parseTime(createdAt)
		j.UpdatedAt = parseTime(updatedAt)
		j.Status = domain.JobStatus(status)
		j.Retired = retired != 0
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// Claim transitions a job into the importing state. The guard lives in the
// WHERE clause: a completed job is never re-claimed, a failed one may be.
// Claiming while another run holds the importing state also fails.
func (s *Store) Claim(id int64) error {
	now := time.Now().UTC().Format(timeLayout)
	key := newKey(id, now)

	res, err := s.db.Exec(`
		UPDATE import_jobs
		SET status = ?, updated_at = ?, one_time_key = ?
		WHERE id = ? AND status IN (?, ?)
	`, int(domain.StatusImporting), now, key, id,
		int(domain.StatusNotStarted), int(domain.StatusFailed))
	if err != nil {
		return fmt.Errorf("failed to claim import job: %w", err)
	}

	affected, _ := res.RowsAffected()
	if affected == 0 {
		job, err := s.Get(id)
		if err != nil {
			return err
		}
		return fmt.Errorf("job %d in state %s: %w", id, job.Status, ErrAlreadyImported)
	}

	ew := events.NewWriter(s.db.DB)
	return ew.LogJobTransition(nil, id, domain.StatusImporting)
}

// Authorize checks a presented one-time key against the job's current key
// and immediately regenerates it, invalidating the presented key.
func (s *Store) Authorize(id int64, key string) error {
	job, err := s.Get(id)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(job.OneTimeKey), []byte(key)) {
		return fmt.Errorf("job %d: %w", id, ErrBadKey)
	}
	return s.touch(id)
}

// Log appends a message to the job's ordered log.
func (s *Store) Log(id int64, level domain.MessageLevel, message string) error {
	if _, err := s.db.Exec(
		"INSERT INTO import_messages (job_id, level, message) VALUES (?, ?, ?)",
		id, string(level), message,
	); err != nil {
		return fmt.Errorf("failed to log job message: %w", err)
	}
	return s.touch(id)
}

// Logf appends a formatted message to the job's log.
func (s *Store) Logf(id int64, level domain.MessageLevel, format string, args ...interface{}) error {
	return s.Log(id, level, fmt.Sprintf(format, args...))
}

// Finish moves the job into a terminal state.
func (s *Store) Finish(id int64, status domain.JobStatus) error {
	if !status.Terminal() {
		return fmt.Errorf("finish requires a terminal status, got %s", status)
	}

	now := time.Now().UTC().Format(timeLayout)
	key := newKey(id, now)
	if _, err := s.db.Exec(`
		UPDATE import_jobs SET status = ?, updated_at = ?, one_time_key = ? WHERE id = ?
	`, int(status), now, key, id); err != nil {
		return fmt.Errorf("failed to finish import job: %w", err)
	}

	ew := events.NewWriter(s.db.DB)
	return ew.LogJobTransition(nil, id, status)
}

// Retire soft-retires a job: the heavy payload is cleared while status and
// messages remain for audit. Jobs are never hard-deleted.
func (s *Store) Retire(id int64) error {
	now := time.Now().UTC().Format(timeLayout)
	key := newKey(id, now)
	if _, err := s.db.Exec(`
		UPDATE import_jobs
		SET payload = NULL, retired = 1, updated_at = ?, one_time_key = ?
		WHERE id = ?
	`, now, key, id); err != nil {
		return fmt.Errorf("failed to retire import job: %w", err)
	}
	return nil
}

// Messages returns the job's full ordered message log.
func (s *Store) Messages(id int64) ([]domain.JobMessage, error) {
	return s.MessagesSince(id, 0)
}

// MessagesSince returns messages with an ID greater than afterID, in
// order. Used by the polling endpoint to report increments.
func (s *Store) MessagesSince(id, afterID int64) ([]domain.JobMessage, error) {
	rows, err := s.db.Query(`
		SELECT id, job_id, level, message, created_at
		FROM import_messages
		WHERE job_id = ? AND id > ?
		ORDER BY id
	`, id, afterID)
	if err != nil {
		return nil, fmt.Errorf("failed to query job messages: %w", err)
	}
	defer rows.Close()

	var messages []domain.JobMessage
	for rows.Next() {
		var m domain.JobMessage
		var level, createdAt string
		if err := rows.Scan(&m.ID, &m.JobID, &level, &m.Message, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan job message: %w", err)
		}
		m.Level = domain.MessageLevel(level)
		m.CreatedAt = parseTime(createdAt)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// touch bumps the job's modification timestamp and regenerates its
// one-time key. Every update path routes through here or sets the key
// itself, so no stale key survives an update.
func (s *Store) touch(id int64) error {
	now := time.Now().UTC().Format(timeLayout)
	key := newKey(id, now)
	if _, err := s.db.Exec(
		"UPDATE import_jobs SET updated_at = ?, one_time_key = ? WHERE id = ?",
		now, key, id,
	); err != nil {
		return fmt.Errorf("failed to touch import job: %w", err)
	}
	return nil
}

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
