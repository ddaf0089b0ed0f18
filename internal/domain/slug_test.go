package domain

import (
	"strings"
	"testing"
)

func TestNormalizeSlug(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"Hello World", "hello-world", false},
		{"already-a-slug", "already-a-slug", false},
		{"Mixed_Case With  Spaces", "mixed-case-with--spaces", false},
		{"--leading-and-trailing--", "leading-and-trailing", false},
		{"Ünïcode Dröps", "ncode-drps", false},
		{"", "", true},
		{"---", "", true},
	}

	for _, tc := range cases {
		got, err := NormalizeSlug(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("NormalizeSlug(%q): expected error, got %q", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("NormalizeSlug(%q): unexpected error: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("NormalizeSlug(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeSlugMaxLength(t *testing.T) {
	long := strings.Repeat("a", 500)
	if _, err := NormalizeSlug(long); err == nil {
		t.Error("expected error for slug over max length")
	}
}

func TestValidateSlug(t *testing.T) {
	if err := ValidateSlug("valid-slug-1"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateSlug("Invalid Slug"); err == nil {
		t.Error("expected error for invalid slug")
	}
	if err := ValidateSlug(""); err == nil {
		t.Error("expected error for empty slug")
	}
}

func TestJobStatusTerminal(t *testing.T) {
	if StatusNotStarted.Terminal() || StatusImporting.Terminal() {
		t.Error("non-terminal statuses reported terminal")
	}
	if !StatusFailed.Terminal() || !StatusCompleted.Terminal() {
		t.Error("terminal statuses not reported terminal")
	}
}

func TestJobStatusString(t *testing.T) {
	cases := map[JobStatus]string{
		StatusNotStarted: "not_started",
		StatusImporting:  "importing",
		StatusFailed:     "failed",
		StatusCompleted:  "completed",
		JobStatus(9):     "unknown",
	}
	for status, want := range cases {
		if got := status.String(); got != want {
			t.Errorf("JobStatus(%d).String() = %q, want %q", int(status), got, want)
		}
	}
}
