package importer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mgreer/stagesync/internal/domain"
	"github.com/mgreer/stagesync/internal/media"
	"github.com/mgreer/stagesync/internal/testutil"
)

func TestPreflightCleanBatch(t *testing.T) {
	_, s, _ := setup(t)

	a := wirePost(10, "guid-a", "A", domain.PostStatusPublish)
	b := wirePost(11, "guid-b", "B", domain.PostStatusPublish)
	b.ParentGUID = "guid-a"

	msgs := Preflight(context.Background(), s, nil, &domain.Batch{
		Posts: []domain.Post{a, b},
	})

	if len(msgs) != 1 || msgs[0].Level != domain.LevelSuccess {
		t.Errorf("expected single success message, got %v", msgs)
	}
}

func TestPreflightMissingParent(t *testing.T) {
	_, s, _ := setup(t)

	b := wirePost(11, "guid-b", "B", domain.PostStatusPublish)
	b.ParentGUID = "guid-nowhere"

	msgs := Preflight(context.Background(), s, nil, &domain.Batch{
		Posts: []domain.Post{b},
	})

	var found bool
	for _, m := range msgs {
		if m.Level == domain.LevelError && strings.Contains(m.Message, "guid-nowhere") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected missing-parent error, got %v", msgs)
	}
}

func TestPreflightParentOnTarget(t *testing.T) {
	_, s, _ := setup(t)

	_, err := s.Posts.Insert(&domain.Post{GUID: "guid-parent", Status: domain.PostStatusPublish, Type: "post"})
	testutil.AssertNoError(t, err)

	b := wirePost(11, "guid-b", "B", domain.PostStatusPublish)
	b.ParentGUID = "guid-parent"

	msgs := Preflight(context.Background(), s, nil, &domain.Batch{
		Posts: []domain.Post{b},
	})
	for _, m := range msgs {
		if m.Level == domain.LevelError {
			t.Errorf("unexpected error: %s", m.Message)
		}
	}
}

func TestPreflightReportsContentDrift(t *testing.T) {
	_, s, _ := setup(t)

	_, err := s.Posts.Insert(&domain.Post{
		GUID: "guid-a", Content: "old content\n", Status: domain.PostStatusPublish, Type: "post",
	})
	testutil.AssertNoError(t, err)

	p := wirePost(10, "guid-a", "A", domain.PostStatusPublish)
	p.Content = "new content\n"

	msgs := Preflight(context.Background(), s, nil, &domain.Batch{Posts: []domain.Post{p}})

	var found bool
	for _, m := range msgs {
		if m.Level == domain.LevelInfo &&
			strings.Contains(m.Message, "-old content") &&
			strings.Contains(m.Message, "+new content") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected drift diff, got %v", msgs)
	}
}

func TestPreflightUnreachableAttachment(t *testing.T) {
	_, s, _ := setup(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	fetcher := media.NewFetcher(t.TempDir())
	msgs := Preflight(context.Background(), s, fetcher, &domain.Batch{
		Attachments: []domain.Attachment{
			{PostGUID: "guid-att", URLs: []string{srv.URL + "/missing.jpg"}},
		},
	})

	var found bool
	for _, m := range msgs {
		if m.Level == domain.LevelWarning {
			found = true
		}
	}
	if !found {
		t.Errorf("expected warning, got %v", msgs)
	}
}
