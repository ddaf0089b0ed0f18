package store

import (
	"testing"

	"github.com/mgreer/stagesync/internal/domain"
)

func meta(id int64, key, value string) domain.UserMeta {
	return domain.UserMeta{ID: id, Key: key, Value: value}
}

func TestDiffUserMetaBasic(t *testing.T) {
	existing := []domain.UserMeta{
		meta(1, "A", "1"),
		meta(2, "B", "2"),
		meta(3, "C", "3"),
	}
	incoming := []domain.UserMeta{
		{Key: "A", Value: "1"},
		{Key: "B", Value: "9"},
		{Key: "D", Value: "4"},
	}

	diff := DiffUserMeta(existing, incoming)

	if len(diff.Deletes) != 1 || diff.Deletes[0].Key != "C" {
		t.Errorf("expected delete of C, got %+v", diff.Deletes)
	}
	if len(diff.Inserts) != 1 || diff.Inserts[0].Key != "D" {
		t.Errorf("expected insert of D, got %+v", diff.Inserts)
	}
	if len(diff.Updates) != 2 {
		t.Fatalf("expected 2 updates, got %+v", diff.Updates)
	}
	for _, u := range diff.Updates {
		switch u.Existing.Key {
		case "A":
			if u.Incoming.Value != "1" {
				t.Errorf("A updated to %q, want 1", u.Incoming.Value)
			}
		case "B":
			if u.Incoming.Value != "9" {
				t.Errorf("B updated to %q, want 9", u.Incoming.Value)
			}
		default:
			t.Errorf("unexpected update for key %q", u.Existing.Key)
		}
	}
}

func TestDiffUserMetaDuplicateIncomingKeysAlwaysInserted(t *testing.T) {
	existing := []domain.UserMeta{
		meta(1, "roles", "editor"),
	}
	incoming := []domain.UserMeta{
		{Key: "roles", Value: "editor"},
		{Key: "roles", Value: "author"},
	}

	diff := DiffUserMeta(existing, incoming)

	if len(diff.Updates) != 0 {
		t.Errorf("duplicate keys must never be matched for update, got %+v", diff.Updates)
	}
	if len(diff.Inserts) != 2 {
		t.Errorf("expected both duplicates inserted, got %+v", diff.Inserts)
	}
	// The existing record collides with an insert-routed key.
	if len(diff.Deletes) != 1 || diff.Deletes[0].ID != 1 {
		t.Errorf("expected existing record deleted, got %+v", diff.Deletes)
	}
}

func TestDiffUserMetaEmptyIncoming(t *testing.T) {
	existing := []domain.UserMeta{meta(1, "A", "1"), meta(2, "B", "2")}

	diff := DiffUserMeta(existing, nil)

	if len(diff.Deletes) != 2 {
		t.Errorf("expected all existing deleted, got %+v", diff.Deletes)
	}
	if len(diff.Inserts) != 0 || len(diff.Updates) != 0 {
		t.Errorf("expected no inserts or updates, got %+v / %+v", diff.Inserts, diff.Updates)
	}
}

func TestDiffUserMetaDuplicateExistingKeys(t *testing.T) {
	existing := []domain.UserMeta{
		meta(1, "A", "old-1"),
		meta(2, "A", "old-2"),
	}
	incoming := []domain.UserMeta{
		{Key: "A", Value: "new"},
	}

	diff := DiffUserMeta(existing, incoming)

	// Only one existing record may claim the unique incoming pair; the
	// other is deleted.
	if len(diff.Updates) != 1 || diff.Updates[0].Existing.ID != 1 {
		t.Errorf("expected first existing record matched, got %+v", diff.Updates)
	}
	if len(diff.Deletes) != 1 || diff.Deletes[0].ID != 2 {
		t.Errorf("expected second existing record deleted, got %+v", diff.Deletes)
	}
}
