package domain

import (
	"encoding/json"
	"time"
)

// JobStatus represents the lifecycle state of an import job.
// Terminal states are StatusFailed and StatusCompleted; StatusCompleted is
// sticky, StatusFailed may be retried.
type JobStatus int

const (
	StatusNotStarted JobStatus = 0
	StatusImporting  JobStatus = 1
	StatusFailed     JobStatus = 2
	StatusCompleted  JobStatus = 3
)

// Terminal reports whether the status is one of the two terminal states.
func (s JobStatus) Terminal() bool {
	return s == StatusFailed || s == StatusCompleted
}

func (s JobStatus) String() string {
	switch s {
	case StatusNotStarted:
		return "not_started"
	case StatusImporting:
		return "importing"
	case StatusFailed:
		return "failed"
	case StatusCompleted:
		return "completed"
	}
	return "unknown"
}

// MessageLevel represents the severity of an import job message.
type MessageLevel string

const (
	LevelSuccess MessageLevel = "success"
	LevelInfo    MessageLevel = "info"
	LevelWarning MessageLevel = "warning"
	LevelError   MessageLevel = "error"
)

// Post statuses with import semantics. Any other status string is written
// through unchanged.
const (
	PostStatusPublish = "publish"
	PostStatusDraft   = "draft"
)

// PostTypeAttachment marks posts whose files must be copied between
// environments.
const PostTypeAttachment = "attachment"

// PostMeta is one key/value pair attached to a post. Keys are not unique
// per post; order is preserved by ID.
type PostMeta struct {
	ID     int64  `json:"id" db:"id"`
	PostID int64  `json:"post_id" db:"post_id"`
	Key    string `json:"key" db:"key"`
	Value  string `json:"value" db:"value"`
}

// TaxonomyAssignment links a post to a term taxonomy with an ordering.
// The TermTaxonomyID is source-relative inside a batch and must be remapped
// on import.
type TaxonomyAssignment struct {
	TermTaxonomyID int64 `json:"term_taxonomy_id" db:"term_taxonomy_id"`
	Order          int   `json:"term_order" db:"term_order"`
}

// Post is a content entry. IDs are environment-local; the GUID is the
// stable cross-environment identity. ParentGUID carries the parent
// reference on the wire because the parent's ID differs per environment.
type Post struct {
	ID         int64     `json:"id" db:"id"`
	GUID       string    `json:"guid" db:"guid"`
	AuthorID   int64     `json:"author_id" db:"author_id"`
	PostedAt   time.Time `json:"posted_at" db:"posted_at"`
	ModifiedAt time.Time `json:"modified_at" db:"modified_at"`
	Title      string    `json:"title" db:"title"`
	Content    string    `json:"content" db:"content"`
	Excerpt    string    `json:"excerpt" db:"excerpt"`
	Status     string    `json:"status" db:"status"`
	Type       string    `json:"type" db:"type"`
	ParentID   int64     `json:"parent_id,omitempty" db:"parent_id"`
	ParentGUID string    `json:"parent_guid,omitempty" db:"parent_guid"`
	MenuOrder  int       `json:"menu_order" db:"menu_order"`

	// Populated when the post travels inside a batch.
	Meta       []PostMeta           `json:"meta,omitempty"`
	Taxonomies []TaxonomyAssignment `json:"taxonomies,omitempty"`
}

// UserMeta is one key/value pair attached to a user. Keys are not unique
// per user.
type UserMeta struct {
	ID     int64  `json:"id" db:"id"`
	UserID int64  `json:"user_id" db:"user_id"`
	Key    string `json:"key" db:"key"`
	Value  string `json:"value" db:"value"`
}

// User is an author identity. Login is the natural key across environments.
type User struct {
	ID           int64     `json:"id" db:"id"`
	Login        string    `json:"login" db:"login"`
	Pass         string    `json:"pass" db:"pass"`
	Email        string    `json:"email" db:"email"`
	DisplayName  string    `json:"display_name" db:"display_name"`
	URL          string    `json:"url,omitempty" db:"url"`
	RegisteredAt time.Time `json:"registered_at" db:"registered_at"`

	Meta []UserMeta `json:"meta,omitempty"`
}

// Term is a classification label. Slug is the natural key across
// environments.
type Term struct {
	ID    int64  `json:"id" db:"id"`
	Name  string `json:"name" db:"name"`
	Slug  string `json:"slug" db:"slug"`
	Group int64  `json:"term_group" db:"term_group"`
}

// TermTaxonomy is one usage of a term within a named taxonomy. The pair
// (term, taxonomy) is the natural key. ParentTermID references the parent
// taxonomy's term and is source-relative inside a batch.
type TermTaxonomy struct {
	ID           int64  `json:"id" db:"id"`
	TermID       int64  `json:"term_id" db:"term_id"`
	Taxonomy     string `json:"taxonomy" db:"taxonomy"`
	Description  string `json:"description" db:"description"`
	ParentTermID int64  `json:"parent_term_id,omitempty" db:"parent_term_id"`
	Count        int64  `json:"count" db:"count"`

	// Term travels alongside on the wire so the receiving side can match
	// by slug without a separate lookup table.
	Term Term `json:"term"`
}

// Attachment describes a media post's files: the original plus every
// generated size variant, each addressable by a source-side URL.
type Attachment struct {
	PostGUID string   `json:"post_guid"`
	Dir      string   `json:"dir"`
	URLs     []string `json:"urls"`
}

// BatchSchemaVersion is bumped when the wire shape of Batch changes.
const BatchSchemaVersion = 1

// Batch is the self-contained transfer unit between environments. Every
// foreign reference inside it is expressed via source-side IDs or GUIDs
// and never assumed valid on the target.
type Batch struct {
	SchemaVersion int       `json:"schema_version"`
	BatchID       string    `json:"batch_id"`
	Title         string    `json:"title,omitempty"`
	CreatedBy     string    `json:"created_by,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	ModifiedAt    time.Time `json:"modified_at"`

	Posts       []Post         `json:"posts"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	Users       []User         `json:"users,omitempty"`
	Terms       []TermTaxonomy `json:"terms,omitempty"`

	// Custom is an extension point for collaborators; the core carries it
	// opaquely and hands it to the post-import hook.
	Custom map[string]json.RawMessage `json:"custom,omitempty"`
}

// JobMessage is one entry in an import job's ordered message log.
type JobMessage struct {
	ID        int64        `json:"id" db:"id"`
	JobID     int64        `json:"job_id" db:"job_id"`
	Level     MessageLevel `json:"level" db:"level"`
	Message   string       `json:"message" db:"message"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
}

// ImportJob is the durable record of one import run. Payload holds the
// encoded batch until the job is retired; the one-time key is regenerated
// on every update so it can authorize at most one trigger.
type ImportJob struct {
	ID         int64     `json:"id" db:"id"`
	CreatedBy  string    `json:"created_by" db:"created_by"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
	Payload    []byte    `json:"-" db:"payload"`
	Status     JobStatus `json:"status" db:"status"`
	OneTimeKey string    `json:"-" db:"one_time_key"`
	Retired    bool      `json:"retired" db:"retired"`

	Messages []JobMessage `json:"messages,omitempty"`
}

// Event represents an entry in the audit event log.
type Event struct {
	ID           int64     `json:"id" db:"id"`
	Timestamp    time.Time `json:"timestamp" db:"timestamp"`
	ResourceType string    `json:"resource_type" db:"resource_type"`
	ResourceID   *int64    `json:"resource_id,omitempty" db:"resource_id"`
	EventType    string    `json:"event_type" db:"event_type"`
	Payload      *string   `json:"payload,omitempty" db:"payload"`
}
