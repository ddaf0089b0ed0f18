package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client talks to a stagesyncd instance.
type Client struct {
	BaseURL    string
	Secret     string
	HTTPClient *http.Client
}

// NewClient builds a client for the daemon at baseURL.
func NewClient(baseURL, secret string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Secret:  secret,
		HTTPClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Send transmits an encoded batch for import. The daemon answers
// immediately with the job ID; the import itself runs detached.
func (c *Client) Send(ctx context.Context, payload []byte) (*Response, error) {
	return c.post(ctx, ActionSend, payload)
}

// Preflight submits an encoded batch for validation only. Nothing is
// persisted on the target.
func (c *Client) Preflight(ctx context.Context, payload []byte) (*Response, error) {
	return c.post(ctx, ActionPreflight, payload)
}

func (c *Client) post(ctx context.Context, action string, payload []byte) (*Response, error) {
	body, err := json.Marshal(Request{
		Action:  action,
		Payload: payload,
		Token:   Sign(c.Secret, payload),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/batch", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	out := &Response{}
	if err := decodeResponse(resp, out); err != nil {
		return nil, err
	}
	return out, nil
}

// JobStatus polls one job, returning only messages after afterID.
func (c *Client) JobStatus(ctx context.Context, jobID, afterID int64) (*StatusResponse, error) {
	q := url.Values{}
	q.Set("id", strconv.FormatInt(jobID, 10))
	if afterID > 0 {
		q.Set("after", strconv.FormatInt(afterID, 10))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.BaseURL+"/v1/jobs/status?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.Secret)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	out := &StatusResponse{}
	if err := decodeResponse(resp, out); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeResponse(resp *http.Response, out interface{}) error {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}
