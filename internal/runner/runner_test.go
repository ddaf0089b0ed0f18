package runner

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRunDetachedWritesWorkerLog(t *testing.T) {
	echo, err := exec.LookPath("echo")
	if err != nil {
		t.Skip("echo not available")
	}

	stateDir := filepath.Join(t.TempDir(), "state")
	pid, err := RunDetached(echo, 42, stateDir, nil)
	if err != nil {
		t.Fatalf("RunDetached failed: %v", err)
	}
	if pid <= 0 {
		t.Errorf("pid = %d", pid)
	}

	logPath := filepath.Join(stateDir, "import-42.log")
	deadline := time.Now().Add(5 * time.Second)
	for {
		data, err := os.ReadFile(logPath)
		if err == nil && strings.Contains(string(data), "import-worker") {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("worker log never appeared: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestAlive(t *testing.T) {
	if !Alive(os.Getpid()) {
		t.Error("current process should be alive")
	}
	if Alive(0) {
		t.Error("pid 0 should not be considered alive")
	}
	if Alive(-1) {
		t.Error("negative pid should not be considered alive")
	}
}
