package webhooks

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"

	"github.com/mgreer/stagesync/internal/domain"
	"github.com/mgreer/stagesync/internal/job"
	"github.com/mgreer/stagesync/internal/testutil"
)

func TestNormalizeURLs(t *testing.T) {
	payload := Payload{JobID: 7}

	urls := normalizeURLs([]string{
		"http://example.com/hook/{job_id}",
		"ftp://invalid.example.com/hook",
		"http://example.com/hook/{job_id}",
		"  http://example.com/other/  ",
		"",
	}, payload)

	expected := []string{
		"http://example.com/hook/7",
		"http://example.com/other",
	}
	if !reflect.DeepEqual(urls, expected) {
		t.Fatalf("unexpected urls\nexpected: %v\nactual:   %v", expected, urls)
	}
}

func TestDispatchJob(t *testing.T) {
	jobs := job.NewStore(testutil.TempDB(t))

	j, err := jobs.Create("tester", []byte("payload"))
	testutil.AssertNoError(t, err)
	testutil.AssertNoError(t, jobs.Claim(j.ID))
	testutil.AssertNoError(t, jobs.Log(j.ID, domain.LevelSuccess, "import completed"))
	testutil.AssertNoError(t, jobs.Finish(j.ID, domain.StatusCompleted))

	var mu sync.Mutex
	var received []Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var p Payload
		if err := json.Unmarshal(body, &p); err != nil {
			t.Errorf("bad payload: %v", err)
			return
		}
		mu.Lock()
		received = append(received, p)
		mu.Unlock()
	}))
	defer srv.Close()

	DispatchJob(jobs, j.ID, []string{srv.URL + "/hook/{job_id}"})

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(received))
	}
	got := received[0]
	if got.JobID != j.ID {
		t.Errorf("job id = %d", got.JobID)
	}
	if got.Status != "completed" {
		t.Errorf("status = %q", got.Status)
	}
	if len(got.Messages) != 1 || got.Messages[0].Level != domain.LevelSuccess {
		t.Errorf("messages = %v", got.Messages)
	}
}
