// Package webhooks notifies external endpoints when an import job
// reaches a terminal state. Dispatch is fire-and-forget; a dead endpoint
// never blocks or fails the import.
package webhooks

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/mgreer/stagesync/internal/domain"
	"github.com/mgreer/stagesync/internal/job"
)

const (
	defaultTimeout     = 500 * time.Millisecond
	defaultConcurrency = 4
)

// Payload is the notification body for a finished import job.
type Payload struct {
	JobID    int64     `json:"job_id"`
	Status   string    `json:"status"`
	Messages []Message `json:"messages"`
}

// Message mirrors one job log entry.
type Message struct {
	Level   domain.MessageLevel `json:"level"`
	Message string              `json:"message"`
}

// DispatchJob loads the job's final state and notifies every configured
// URL. Call it only after the job is terminal.
func DispatchJob(jobs *job.Store, jobID int64, urls []string) {
	j, err := jobs.Get(jobID)
	if err != nil {
		log.Printf("webhooks: lookup job %d failed: %v", jobID, err)
		return
	}
	msgs, err := jobs.Messages(jobID)
	if err != nil {
		log.Printf("webhooks: lookup messages for job %d failed: %v", jobID, err)
		return
	}

	payload := Payload{
		JobID:  j.ID,
		Status: j.Status.String(),
	}
	for _, m := range msgs {
		payload.Messages = append(payload.Messages, Message{Level: m.Level, Message: m.Message})
	}

	dispatchURLs(normalizeURLs(urls, payload), payload)
}

func normalizeURLs(urls []string, payload Payload) []string {
	if len(urls) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(urls))
	var normalized []string

	for _, raw := range urls {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		templated := strings.ReplaceAll(trimmed, "{job_id}", fmt.Sprintf("%d", payload.JobID))
		templated = strings.TrimRight(templated, "/")
		if templated == "" {
			continue
		}
		if !isValidURL(templated) {
			log.Printf("webhooks: skipping invalid url %q", templated)
			continue
		}
		if _, ok := seen[templated]; ok {
			continue
		}
		seen[templated] = struct{}{}
		normalized = append(normalized, templated)
	}

	return normalized
}

func isValidURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}
	return parsed.Host != ""
}

func dispatchURLs(urls []string, payload Payload) {
	if len(urls) == 0 {
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("webhooks: failed to encode payload: %v", err)
		return
	}

	client := &http.Client{Timeout: defaultTimeout}
	workers := defaultConcurrency
	if len(urls) < workers {
		workers = len(urls)
	}

	targets := make(chan string)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for endpoint := range targets {
				send(client, endpoint, body)
			}
		}()
	}

	for _, endpoint := range urls {
		targets <- endpoint
	}
	close(targets)
	wg.Wait()
}

func send(client *http.Client, endpoint string, body []byte) {
	req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		log.Printf("webhooks: build request %q failed: %v", endpoint, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		log.Printf("webhooks: request to %q failed: %v", endpoint, err)
		return
	}
	_ = resp.Body.Close()
}
