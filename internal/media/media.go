// Package media copies attachment files between environments. Files live
// under media_dir/<attachment dir>/<filename>, mirroring the source layout.
package media

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/mgreer/stagesync/internal/domain"
)

const defaultTimeout = 30 * time.Second

// Fetcher downloads attachment size variants from the source environment
// into the target media directory.
type Fetcher struct {
	Client   *http.Client
	MediaDir string
}

// NewFetcher creates a fetcher writing under mediaDir.
func NewFetcher(mediaDir string) *Fetcher {
	return &Fetcher{
		Client:   &http.Client{Timeout: defaultTimeout},
		MediaDir: mediaDir,
	}
}

// Result summarizes one attachment's copy outcome. Checksums maps each
// copied file name to its sha256 hex digest.
type Result struct {
	Copied    int
	Skipped   []string
	Bytes     int64
	Checksums map[string]string
}

// Import creates the attachment's directory (idempotent) and copies every
// size variant by its source URL. A failed fetch skips that file and
// continues; the attachment may end up partially copied.
func (f *Fetcher) Import(ctx context.Context, att domain.Attachment) (*Result, error) {
	dir := filepath.Join(f.MediaDir, filepath.FromSlash(att.Dir))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create media directory: %w", err)
	}

	res := &Result{Checksums: make(map[string]string)}
	for _, rawURL := range att.URLs {
		name, n, sum, err := f.fetchOne(ctx, rawURL, dir)
		if err != nil {
			log.Printf("media: fetch %q failed: %v", rawURL, err)
			res.Skipped = append(res.Skipped, rawURL)
			continue
		}
		res.Copied++
		res.Bytes += n
		res.Checksums[name] = sum
	}

	return res, nil
}

// Reachable performs a HEAD-equivalent check on a source URL. Used by
// preflight; no bytes are written.
func (f *Fetcher) Reachable(ctx context.Context, rawURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach %q: %w", rawURL, err)
	}
	resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%q returned status %d", rawURL, resp.StatusCode)
	}
	return nil
}

func (f *Fetcher) fetchOne(ctx context.Context, rawURL, dir string) (string, int64, string, error) {
	name, err := fileName(rawURL)
	if err != nil {
		return "", 0, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", 0, "", fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return "", 0, "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	dst, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return "", 0, "", fmt.Errorf("failed to create file: %w", err)
	}
	defer dst.Close()

	hasher := sha256.New()
	n, err := io.Copy(io.MultiWriter(dst, hasher), resp.Body)
	if err != nil {
		return "", 0, "", fmt.Errorf("failed to write file: %w", err)
	}

	return name, n, fmt.Sprintf("%x", hasher.Sum(nil)), nil
}

// fileName extracts the final path segment of a URL.
func fileName(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	name := filepath.Base(parsed.Path)
	if name == "." || name == "/" || name == "" {
		return "", fmt.Errorf("url %q has no file name", rawURL)
	}
	return name, nil
}
