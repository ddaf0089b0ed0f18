// Package runner launches import workers as detached processes so a run
// survives the HTTP request that triggered it.
package runner

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
)

// RunDetached re-invokes the daemon binary as an import worker for one
// job. The child gets its own session, its stdio goes to a per-job log
// file under stateDir, and the parent releases the handle immediately.
// The returned pid is informational; the worker's fate is read from the
// job record, not the process.
func RunDetached(selfPath string, jobID int64, stateDir string, env []string) (int, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create state dir: %w", err)
	}

	logPath := filepath.Join(stateDir, fmt.Sprintf("import-%d.log", jobID))
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("failed to open worker log: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command(selfPath, "import-worker", "--job", strconv.FormatInt(jobID, 10))
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdin = nil
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start import worker: %w", err)
	}

	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		return pid, fmt.Errorf("failed to release import worker: %w", err)
	}
	return pid, nil
}

// Alive reports whether a previously launched worker process still runs.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
