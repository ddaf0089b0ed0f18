// Package transport carries batches between environments over an
// authenticated request/response channel.
package transport

import (
	"bytes"
	"compress/gzip"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/mgreer/stagesync/internal/domain"
)

// Actions a batch request may carry.
const (
	ActionSend      = "send"
	ActionPreflight = "preflight"
)

// Request is the wire form of one batch call. Payload is the encoded
// batch, base64 via encoding/json's []byte handling; Token authenticates
// the payload bytes.
type Request struct {
	Action  string `json:"action"`
	Payload []byte `json:"payload"`
	Token   string `json:"token"`
}

// Message is one line of a preflight report or an error response.
type Message struct {
	Level   domain.MessageLevel `json:"level"`
	Message string              `json:"message"`
}

// Response is the wire form of a batch call's result. Send responses
// carry the job ID and a polling URL; preflight responses carry the
// report messages.
type Response struct {
	JobID     int64     `json:"job_id,omitempty"`
	StatusURL string    `json:"status_url,omitempty"`
	Messages  []Message `json:"messages,omitempty"`
}

// StatusResponse is the wire form of one job status poll.
type StatusResponse struct {
	Status          domain.JobStatus    `json:"status"`
	Retired         bool                `json:"retired"`
	Messages        []domain.JobMessage `json:"messages"`
	NewMessageCount int                 `json:"new_message_count"`
}

// EncodeBatch serializes a batch to its compressed wire form.
func EncodeBatch(b *domain.Batch) ([]byte, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch: %w", err)
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("failed to compress batch: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress batch: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeBatch reverses EncodeBatch and rejects payloads whose schema
// version this build does not understand.
func DecodeBatch(payload []byte) (*domain.Batch, error) {
	zr, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress batch: %w", err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress batch: %w", err)
	}

	b := &domain.Batch{}
	if err := json.Unmarshal(raw, b); err != nil {
		return nil, fmt.Errorf("failed to unmarshal batch: %w", err)
	}
	if b.SchemaVersion > domain.BatchSchemaVersion {
		return nil, fmt.Errorf("unsupported batch schema version %d", b.SchemaVersion)
	}
	return b, nil
}

// Sign computes the hex HMAC-SHA256 of the payload under the shared
// secret.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether token authenticates the payload. Constant time.
func Verify(secret string, payload []byte, token string) bool {
	want := Sign(secret, payload)
	return hmac.Equal([]byte(want), []byte(token))
}
