package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mgreer/stagesync/internal/config"
	"github.com/mgreer/stagesync/internal/db"
	"github.com/mgreer/stagesync/internal/domain"
	"github.com/mgreer/stagesync/internal/importer"
	"github.com/mgreer/stagesync/internal/job"
	"github.com/mgreer/stagesync/internal/media"
	"github.com/mgreer/stagesync/internal/runner"
	"github.com/mgreer/stagesync/internal/store"
	"github.com/mgreer/stagesync/internal/transport"
)

// DaemonOptions configures the stagesyncd daemon.
type DaemonOptions struct {
	Addr     string
	Unix     string
	Secret   string
	DBPath   string
	MediaDir string
}

// ServeDaemon starts the production-side HTTP daemon.
func ServeDaemon(opts DaemonOptions) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if opts.DBPath != "" {
		cfg.DBPath = opts.DBPath
	}
	if opts.MediaDir != "" {
		cfg.MediaDir = opts.MediaDir
	}
	if opts.Secret != "" {
		cfg.SharedSecret = opts.Secret
	}
	if cfg.SharedSecret == "" {
		return fmt.Errorf("no shared secret configured: set STAGESYNC_SECRET or --secret")
	}

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	_, pending, err := database.MigrationStatus()
	if err != nil {
		database.Close()
		return fmt.Errorf("failed to check migration status: %w", err)
	}
	if len(pending) > 0 {
		database.Close()
		return fmt.Errorf("database requires migration: %d pending migration(s). Run 'stagesyncd migrate' to update", len(pending))
	}

	selfPath, err := os.Executable()
	if err != nil {
		database.Close()
		return fmt.Errorf("failed to resolve own binary path: %w", err)
	}

	server := &daemonServer{
		db:       database,
		cfg:      cfg,
		store:    store.New(database),
		jobs:     job.NewStore(database),
		selfPath: selfPath,
	}

	mux := http.NewServeMux()
	server.registerRoutes(mux)

	httpServer := &http.Server{
		Handler:      mux,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	if opts.Unix != "" {
		_ = os.Remove(opts.Unix)
		listener, err := net.Listen("unix", opts.Unix)
		if err != nil {
			database.Close()
			return fmt.Errorf("failed to listen on unix socket: %w", err)
		}
		defer listener.Close()
		return httpServer.Serve(listener)
	}

	addr := opts.Addr
	if addr == "" {
		addr = "127.0.0.1:7373"
	}
	httpServer.Addr = addr

	return httpServer.ListenAndServe()
}

type daemonServer struct {
	db       *db.DB
	cfg      *config.Config
	store    *store.Store
	jobs     *job.Store
	selfPath string

	// launch is swapped out in tests to run the worker in-process.
	launch func(jobID int64) error
}

func (s *daemonServer) registerRoutes(mux *http.ServeMux) {
	// /v1/batch authenticates per request via the payload token, not the
	// bearer header.
	mux.HandleFunc("/v1/batch", s.handleBatch)
	// /v1/jobs/trigger authenticates via the job's one-time key.
	mux.HandleFunc("/v1/jobs/trigger", s.handleJobTrigger)
	mux.HandleFunc("/v1/jobs/status", s.withAuth(s.handleJobStatus))
	mux.HandleFunc("/v1/health", s.withAuth(s.handleHealth))
}

func (s *daemonServer) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("Authorization")
		token = strings.TrimPrefix(token, "Bearer ")
		if token != s.cfg.SharedSecret {
			s.writeError(w, http.StatusUnauthorized, fmt.Errorf("unauthorized"))
			return
		}
		next(w, r)
	}
}

func (s *daemonServer) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *daemonServer) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]interface{}{
		"error": err.Error(),
	})
}

func (s *daemonServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":   true,
		"time": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *daemonServer) handleBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}

	var req transport.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	// The token is checked before any store access; a forged payload
	// never creates a job.
	if !transport.Verify(s.cfg.SharedSecret, req.Payload, req.Token) {
		s.writeError(w, http.StatusUnauthorized, fmt.Errorf("auth failed"))
		return
	}

	switch req.Action {
	case transport.ActionPreflight:
		s.handlePreflight(w, r, req.Payload)
	case transport.ActionSend:
		s.handleSend(w, r, req.Payload)
	default:
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("unknown action %q", req.Action))
	}
}

func (s *daemonServer) handlePreflight(w http.ResponseWriter, r *http.Request, payload []byte) {
	b, err := transport.DecodeBatch(payload)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	fetcher := media.NewFetcher(s.cfg.MediaDir)
	msgs := importer.Preflight(r.Context(), s.store, fetcher, b)
	s.writeJSON(w, http.StatusOK, transport.Response{Messages: msgs})
}

func (s *daemonServer) handleSend(w http.ResponseWriter, r *http.Request, payload []byte) {
	createdBy := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		createdBy = host
	}

	j, err := s.jobs.Create(createdBy, payload)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	if err := s.startWorker(j.ID); err != nil {
		s.jobs.Logf(j.ID, domain.LevelError, "failed to start import worker: %v", err)
		s.jobs.Finish(j.ID, domain.StatusFailed)
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.writeJSON(w, http.StatusOK, transport.Response{
		JobID:     j.ID,
		StatusURL: fmt.Sprintf("/v1/jobs/status?id=%d", j.ID),
	})
}

// handleJobTrigger starts (or retries) an import using the job's one-time
// key instead of the shared secret. The key is spent on use, so a trigger
// URL works at most once.
func (s *daemonServer) handleJobTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}

	id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid job id"))
		return
	}

	j, err := s.jobs.Get(id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if j.Status == domain.StatusCompleted {
		s.writeError(w, http.StatusConflict, fmt.Errorf("job %d already imported", id))
		return
	}

	if err := s.jobs.Authorize(id, r.URL.Query().Get("key")); err != nil {
		if errors.Is(err, job.ErrBadKey) {
			s.writeError(w, http.StatusUnauthorized, fmt.Errorf("auth failed"))
			return
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	if err := s.startWorker(id); err != nil {
		s.jobs.Logf(id, domain.LevelError, "failed to start import worker: %v", err)
		s.jobs.Finish(id, domain.StatusFailed)
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.writeJSON(w, http.StatusOK, transport.Response{
		JobID:     id,
		StatusURL: fmt.Sprintf("/v1/jobs/status?id=%d", id),
	})
}

// startWorker launches the detached import worker for a job. The worker
// outlives this request.
func (s *daemonServer) startWorker(jobID int64) error {
	if s.launch != nil {
		return s.launch(jobID)
	}
	env := []string{
		"STAGESYNC_DB_PATH=" + s.cfg.DBPath,
		"STAGESYNC_MEDIA_DIR=" + s.cfg.MediaDir,
		"STAGESYNC_SECRET=" + s.cfg.SharedSecret,
	}
	_, err := runner.RunDetached(s.selfPath, jobID, s.cfg.StateDir(), env)
	return err
}

func (s *daemonServer) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}

	id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid job id"))
		return
	}
	var afterID int64
	if after := r.URL.Query().Get("after"); after != "" {
		afterID, err = strconv.ParseInt(after, 10, 64)
		if err != nil || afterID < 0 {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid after id"))
			return
		}
	}

	j, err := s.jobs.Get(id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	msgs, err := s.jobs.MessagesSince(id, afterID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.writeJSON(w, http.StatusOK, transport.StatusResponse{
		Status:          j.Status,
		Retired:         j.Retired,
		Messages:        msgs,
		NewMessageCount: len(msgs),
	})
}
