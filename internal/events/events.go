// Package events writes entries to the audit event log.
package events

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/mgreer/stagesync/internal/domain"
)

// Writer handles writing events to the event log
type Writer struct {
	db *sql.DB
}

// NewWriter creates a new event writer
func NewWriter(db *sql.DB) *Writer {
	return &Writer{db: db}
}

// LogEvent writes an event to the event log
func (w *Writer) LogEvent(tx *sql.Tx, event *domain.Event) error {
	query := `
		INSERT INTO event_log (resource_type, resource_id, event_type, payload)
		VALUES (?, ?, ?, ?)
	`

	executor := w.getExecutor(tx)
	_, err := executor.Exec(query, event.ResourceType, event.ResourceID, event.EventType, event.Payload)
	if err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}

	return nil
}

// LogEntityImported logs an entity insert or update performed by the
// import engine. resourceType is one of post, user, term, term_taxonomy.
func (w *Writer) LogEntityImported(tx *sql.Tx, resourceType string, resourceID int64, created bool, fields map[string]interface{}) error {
	eventType := resourceType + ".updated"
	if created {
		eventType = resourceType + ".created"
	}

	var payloadStr *string
	if len(fields) > 0 {
		payload, err := json.Marshal(fields)
		if err != nil {
			return err
		}
		s := string(payload)
		payloadStr = &s
	}

	return w.LogEvent(tx, &domain.Event{
		ResourceType: resourceType,
		ResourceID:   &resourceID,
		EventType:    eventType,
		Payload:      payloadStr,
	})
}

// LogJobTransition logs an import job status change.
func (w *Writer) LogJobTransition(tx *sql.Tx, jobID int64, status domain.JobStatus) error {
	payload := fmt.Sprintf(`{"status":%d}`, int(status))
	return w.LogEvent(tx, &domain.Event{
		ResourceType: "import_job",
		ResourceID:   &jobID,
		EventType:    "import_job." + status.String(),
		Payload:      &payload,
	})
}

// getExecutor returns the appropriate executor (tx or db)
func (w *Writer) getExecutor(tx *sql.Tx) interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
} {
	if tx != nil {
		return tx
	}
	return w.db
}
