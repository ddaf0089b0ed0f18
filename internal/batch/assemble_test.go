package batch

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/mgreer/stagesync/internal/domain"
	"github.com/mgreer/stagesync/internal/hooks"
	"github.com/mgreer/stagesync/internal/store"
	"github.com/mgreer/stagesync/internal/testutil"
)

func newPost(guid, title string) *domain.Post {
	return &domain.Post{
		GUID:       guid,
		Title:      title,
		Status:     domain.PostStatusPublish,
		Type:       "post",
		PostedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		ModifiedAt: time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
	}
}

func TestAssembleSinglePost(t *testing.T) {
	s := store.New(testutil.TempDB(t))

	id, err := s.Posts.Insert(newPost("guid-a", "Post A"))
	testutil.AssertNoError(t, err)
	testutil.AssertNoError(t, s.Posts.InsertMeta(id, "color", "blue"))

	b, err := Assemble(context.Background(), s, &hooks.Points{}, []int64{id})
	testutil.AssertNoError(t, err)

	if b.SchemaVersion != domain.BatchSchemaVersion {
		t.Errorf("schema version = %d", b.SchemaVersion)
	}
	if b.BatchID == "" {
		t.Error("expected batch id")
	}
	if len(b.Posts) != 1 {
		t.Fatalf("expected 1 post, got %d", len(b.Posts))
	}
	p := b.Posts[0]
	if p.GUID != "guid-a" {
		t.Errorf("guid = %q", p.GUID)
	}
	if len(p.Meta) != 1 || p.Meta[0].Key != "color" {
		t.Errorf("unexpected meta %v", p.Meta)
	}
}

func TestAssembleUnresolvableRoot(t *testing.T) {
	s := store.New(testutil.TempDB(t))

	id, err := s.Posts.Insert(newPost("guid-a", "Post A"))
	testutil.AssertNoError(t, err)

	_, err = Assemble(context.Background(), s, &hooks.Points{}, []int64{id, 999})
	if err == nil {
		t.Fatal("expected assembly to fail on unresolvable root")
	}
}

func TestAssembleParentBecomesGUID(t *testing.T) {
	s := store.New(testutil.TempDB(t))

	parentID, err := s.Posts.Insert(newPost("guid-parent", "Parent"))
	testutil.AssertNoError(t, err)
	childID, err := s.Posts.Insert(newPost("guid-child", "Child"))
	testutil.AssertNoError(t, err)
	testutil.AssertNoError(t, s.Posts.SetParent(childID, parentID))

	b, err := Assemble(context.Background(), s, &hooks.Points{}, []int64{childID})
	testutil.AssertNoError(t, err)

	if len(b.Posts) != 1 {
		t.Fatalf("expected 1 post, got %d", len(b.Posts))
	}
	p := b.Posts[0]
	if p.ParentGUID != "guid-parent" {
		t.Errorf("parent guid = %q", p.ParentGUID)
	}
	if p.ParentID != 0 {
		t.Errorf("parent id should be zeroed on the wire, got %d", p.ParentID)
	}
}

func TestAssembleTransitivePullIsCycleSafe(t *testing.T) {
	s := store.New(testutil.TempDB(t))

	aID, err := s.Posts.Insert(newPost("guid-a", "A"))
	testutil.AssertNoError(t, err)
	bID, err := s.Posts.Insert(newPost("guid-b", "B"))
	testutil.AssertNoError(t, err)

	// A and B reference each other through the thumbnail key.
	testutil.AssertNoError(t, s.Posts.InsertMeta(aID, "_thumbnail_id", fmt.Sprintf("%d", bID)))
	testutil.AssertNoError(t, s.Posts.InsertMeta(bID, "_thumbnail_id", fmt.Sprintf("%d", aID)))

	b, err := Assemble(context.Background(), s, &hooks.Points{}, []int64{aID})
	testutil.AssertNoError(t, err)

	if len(b.Posts) != 2 {
		t.Fatalf("expected both posts, got %d", len(b.Posts))
	}
}

func TestAssembleMissingTransitiveReferenceSkipped(t *testing.T) {
	s := store.New(testutil.TempDB(t))

	id, err := s.Posts.Insert(newPost("guid-a", "A"))
	testutil.AssertNoError(t, err)
	testutil.AssertNoError(t, s.Posts.InsertMeta(id, "_thumbnail_id", "12345"))

	b, err := Assemble(context.Background(), s, &hooks.Points{}, []int64{id})
	testutil.AssertNoError(t, err)
	if len(b.Posts) != 1 {
		t.Fatalf("expected 1 post, got %d", len(b.Posts))
	}
}

func TestAssembleAttachmentRegistersVariants(t *testing.T) {
	s := store.New(testutil.TempDB(t))

	att := newPost("https://stage.example.com/uploads/2026/03/photo.jpg", "Photo")
	att.Type = domain.PostTypeAttachment
	id, err := s.Posts.Insert(att)
	testutil.AssertNoError(t, err)
	testutil.AssertNoError(t, s.Posts.InsertMeta(id, MetaFileKey, "2026/03/photo.jpg"))
	testutil.AssertNoError(t, s.Posts.InsertMeta(id, MetaSizesKey, `["photo-150x150.jpg","photo-300x200.jpg"]`))

	b, err := Assemble(context.Background(), s, &hooks.Points{}, []int64{id})
	testutil.AssertNoError(t, err)

	if len(b.Attachments) != 1 {
		t.Fatalf("expected 1 attachment, got %d", len(b.Attachments))
	}
	a := b.Attachments[0]
	if a.Dir != "2026/03" {
		t.Errorf("dir = %q", a.Dir)
	}
	want := []string{
		"https://stage.example.com/uploads/2026/03/photo.jpg",
		"https://stage.example.com/uploads/2026/03/photo-150x150.jpg",
		"https://stage.example.com/uploads/2026/03/photo-300x200.jpg",
	}
	if len(a.URLs) != len(want) {
		t.Fatalf("urls = %v", a.URLs)
	}
	for i := range want {
		if a.URLs[i] != want[i] {
			t.Errorf("url[%d] = %q, want %q", i, a.URLs[i], want[i])
		}
	}
}

func TestAssembleCollectsAuthorsWithMeta(t *testing.T) {
	s := store.New(testutil.TempDB(t))

	uid, err := s.Users.Insert(&domain.User{
		Login:       "alice",
		Email:       "alice@example.com",
		DisplayName: "Alice",
		Meta:        []domain.UserMeta{{Key: "role", Value: "editor"}},
	})
	testutil.AssertNoError(t, err)

	p1 := newPost("guid-a", "A")
	p1.AuthorID = uid
	aID, err := s.Posts.Insert(p1)
	testutil.AssertNoError(t, err)

	p2 := newPost("guid-b", "B")
	p2.AuthorID = uid
	bID, err := s.Posts.Insert(p2)
	testutil.AssertNoError(t, err)

	b, err := Assemble(context.Background(), s, &hooks.Points{}, []int64{aID, bID})
	testutil.AssertNoError(t, err)

	if len(b.Users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(b.Users))
	}
	u := b.Users[0]
	if u.Login != "alice" {
		t.Errorf("login = %q", u.Login)
	}
	if len(u.Meta) != 1 || u.Meta[0].Key != "role" {
		t.Errorf("unexpected user meta %v", u.Meta)
	}
}

func TestAssembleCollectsTermAncestry(t *testing.T) {
	s := store.New(testutil.TempDB(t))

	parentTermID, err := s.Terms.Insert(&domain.Term{Name: "News", Slug: "news"})
	testutil.AssertNoError(t, err)
	childTermID, err := s.Terms.Insert(&domain.Term{Name: "Local", Slug: "local"})
	testutil.AssertNoError(t, err)

	_, err = s.Taxonomies.Insert(&domain.TermTaxonomy{
		TermID: parentTermID, Taxonomy: "category",
	})
	testutil.AssertNoError(t, err)
	childTTID, err := s.Taxonomies.Insert(&domain.TermTaxonomy{
		TermID: childTermID, Taxonomy: "category", ParentTermID: parentTermID,
	})
	testutil.AssertNoError(t, err)

	pid, err := s.Posts.Insert(newPost("guid-a", "A"))
	testutil.AssertNoError(t, err)
	testutil.AssertNoError(t, s.Posts.UpsertRelationship(pid, childTTID, 0))

	b, err := Assemble(context.Background(), s, &hooks.Points{}, []int64{pid})
	testutil.AssertNoError(t, err)

	if len(b.Terms) != 2 {
		t.Fatalf("expected child and ancestor, got %d terms", len(b.Terms))
	}
	slugs := map[string]bool{}
	for _, tt := range b.Terms {
		slugs[tt.Term.Slug] = true
	}
	if !slugs["news"] || !slugs["local"] {
		t.Errorf("expected news and local, got %v", slugs)
	}
	if len(b.Posts[0].Taxonomies) != 1 {
		t.Errorf("expected 1 assignment, got %v", b.Posts[0].Taxonomies)
	}
}

func TestAssembleRootFilterHook(t *testing.T) {
	s := store.New(testutil.TempDB(t))

	aID, err := s.Posts.Insert(newPost("guid-a", "A"))
	testutil.AssertNoError(t, err)
	bID, err := s.Posts.Insert(newPost("guid-b", "B"))
	testutil.AssertNoError(t, err)

	pts := &hooks.Points{
		FilterRootPosts: func(ids []int64) []int64 {
			// Drop everything but the first selection.
			return ids[:1]
		},
	}
	b, err := Assemble(context.Background(), s, pts, []int64{aID, bID})
	testutil.AssertNoError(t, err)

	if len(b.Posts) != 1 || b.Posts[0].ID != aID {
		t.Fatalf("expected only post %d, got %v", aID, b.Posts)
	}
}
