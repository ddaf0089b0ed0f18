package store

import (
	"errors"
	"testing"
	"time"

	"github.com/mgreer/stagesync/internal/domain"
	"github.com/mgreer/stagesync/internal/testutil"
)

func TestPostInsertAndFindByGUID(t *testing.T) {
	s := New(testutil.TempDB(t))

	id, err := s.Posts.Insert(&domain.Post{
		GUID:     "https://stage.example.com/?p=10",
		AuthorID: 3,
		Title:    "Hello",
		Content:  "body",
		Status:   "draft",
		Type:     "post",
		PostedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero id")
	}

	post, err := s.Posts.FindByGUID("https://stage.example.com/?p=10")
	if err != nil {
		t.Fatalf("FindByGUID failed: %v", err)
	}
	if post.ID != id || post.Title != "Hello" {
		t.Errorf("unexpected post: %+v", post)
	}
	if post.ParentID != 0 {
		t.Errorf("insert must not carry source parent id, got %d", post.ParentID)
	}

	_, err = s.Posts.FindByGUID("https://stage.example.com/?p=404")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPostUpdateOverwritesFields(t *testing.T) {
	s := New(testutil.TempDB(t))

	id, err := s.Posts.Insert(&domain.Post{GUID: "g1", Title: "Old", Status: "draft", Type: "post"})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	if err := s.Posts.Update(id, &domain.Post{GUID: "g1", Title: "New", Status: "publish", Type: "post"}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	post, err := s.Posts.GetByID(id)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if post.Title != "New" || post.Status != "publish" {
		t.Errorf("update did not overwrite fields: %+v", post)
	}

	if err := s.Posts.Update(9999, &domain.Post{}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing post, got %v", err)
	}
}

func TestPostMetaReplace(t *testing.T) {
	s := New(testutil.TempDB(t))

	id, err := s.Posts.Insert(&domain.Post{GUID: "g-meta", Status: "draft", Type: "post"})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	if err := s.Posts.InsertMeta(id, "color", "red"); err != nil {
		t.Fatalf("InsertMeta failed: %v", err)
	}
	if err := s.Posts.InsertMeta(id, "color", "blue"); err != nil {
		t.Fatalf("InsertMeta failed: %v", err)
	}

	meta, err := s.Posts.MetaForPost(id)
	if err != nil {
		t.Fatalf("MetaForPost failed: %v", err)
	}
	if len(meta) != 2 {
		t.Fatalf("expected 2 meta rows, got %d", len(meta))
	}

	if err := s.Posts.DeleteMeta(id); err != nil {
		t.Fatalf("DeleteMeta failed: %v", err)
	}
	meta, err = s.Posts.MetaForPost(id)
	if err != nil {
		t.Fatalf("MetaForPost failed: %v", err)
	}
	if len(meta) != 0 {
		t.Errorf("expected no meta after delete, got %d", len(meta))
	}
}

func TestUserUpsertByLogin(t *testing.T) {
	s := New(testutil.TempDB(t))

	id, err := s.Users.Insert(&domain.User{
		Login:       "alice",
		Email:       "alice@stage.example.com",
		DisplayName: "Alice",
		Meta: []domain.UserMeta{
			{Key: "A", Value: "1"},
			{Key: "B", Value: "2"},
		},
	})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	// Simulate target-side extension data.
	if _, err := s.db.Exec(
		"INSERT INTO user_meta (user_id, key, value) VALUES (?, 'C', '3')", id,
	); err != nil {
		t.Fatalf("seed meta failed: %v", err)
	}

	err = s.Users.Update(id, &domain.User{
		Login:       "alice",
		Email:       "alice@prod.example.com",
		DisplayName: "Alice P",
		Meta: []domain.UserMeta{
			{Key: "A", Value: "1"},
			{Key: "B", Value: "9"},
			{Key: "D", Value: "4"},
		},
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	user, err := s.Users.FindByLogin("alice")
	if err != nil {
		t.Fatalf("FindByLogin failed: %v", err)
	}
	if user.Email != "alice@prod.example.com" {
		t.Errorf("email not overwritten: %q", user.Email)
	}

	meta, err := s.Users.MetaForUser(id)
	if err != nil {
		t.Fatalf("MetaForUser failed: %v", err)
	}
	got := make(map[string]string)
	for _, m := range meta {
		got[m.Key] = m.Value
	}
	want := map[string]string{"A": "1", "B": "9", "D": "4"}
	if len(got) != len(want) {
		t.Fatalf("meta diff result = %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("meta[%s] = %q, want %q", k, got[k], v)
		}
	}
}

func TestTermUpsertBySlug(t *testing.T) {
	s := New(testutil.TempDB(t))

	id, err := s.Terms.Insert(&domain.Term{Name: "News", Slug: "news"})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	term, err := s.Terms.FindBySlug("news")
	if err != nil {
		t.Fatalf("FindBySlug failed: %v", err)
	}
	if term.ID != id {
		t.Errorf("unexpected term id %d, want %d", term.ID, id)
	}

	if err := s.Terms.Update(id, &domain.Term{Name: "World News", Slug: "news"}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	term, _ = s.Terms.FindBySlug("news")
	if term.Name != "World News" {
		t.Errorf("name not overwritten: %q", term.Name)
	}
}

func TestTaxonomyHierarchyMaintenance(t *testing.T) {
	s := New(testutil.TempDB(t))

	parentTerm, _ := s.Terms.Insert(&domain.Term{Name: "Parent", Slug: "parent"})
	childTerm, _ := s.Terms.Insert(&domain.Term{Name: "Child", Slug: "child"})

	if _, err := s.Taxonomies.Insert(&domain.TermTaxonomy{
		TermID: parentTerm, Taxonomy: "category",
	}); err != nil {
		t.Fatalf("Insert parent taxonomy failed: %v", err)
	}

	childTaxID, err := s.Taxonomies.Insert(&domain.TermTaxonomy{
		TermID: childTerm, Taxonomy: "category", ParentTermID: parentTerm,
	})
	if err != nil {
		t.Fatalf("Insert child taxonomy failed: %v", err)
	}

	children, err := s.Taxonomies.Children("category", parentTerm)
	if err != nil {
		t.Fatalf("Children failed: %v", err)
	}
	if len(children) != 1 || children[0] != childTerm {
		t.Errorf("expected child %d under parent, got %v", childTerm, children)
	}

	// Re-running the same update must not duplicate the link.
	if err := s.Taxonomies.Update(childTaxID, &domain.TermTaxonomy{
		TermID: childTerm, Taxonomy: "category", ParentTermID: parentTerm,
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	children, _ = s.Taxonomies.Children("category", parentTerm)
	if len(children) != 1 {
		t.Errorf("hierarchy link duplicated: %v", children)
	}

	// Detaching the parent removes the stale link.
	if err := s.Taxonomies.Update(childTaxID, &domain.TermTaxonomy{
		TermID: childTerm, Taxonomy: "category", ParentTermID: 0,
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	children, _ = s.Taxonomies.Children("category", parentTerm)
	if len(children) != 0 {
		t.Errorf("expected stale link removed, got %v", children)
	}
}

func TestRebuildHierarchy(t *testing.T) {
	s := New(testutil.TempDB(t))

	a, _ := s.Terms.Insert(&domain.Term{Name: "A", Slug: "a"})
	b, _ := s.Terms.Insert(&domain.Term{Name: "B", Slug: "b"})
	c, _ := s.Terms.Insert(&domain.Term{Name: "C", Slug: "c"})

	s.Taxonomies.Insert(&domain.TermTaxonomy{TermID: a, Taxonomy: "category"})
	s.Taxonomies.Insert(&domain.TermTaxonomy{TermID: b, Taxonomy: "category", ParentTermID: a})
	s.Taxonomies.Insert(&domain.TermTaxonomy{TermID: c, Taxonomy: "category", ParentTermID: b})

	// Corrupt the side index, then rebuild from the authoritative table.
	if _, err := s.db.Exec("DELETE FROM term_hierarchy"); err != nil {
		t.Fatalf("failed to corrupt index: %v", err)
	}
	if err := s.Taxonomies.RebuildHierarchy("category"); err != nil {
		t.Fatalf("RebuildHierarchy failed: %v", err)
	}

	children, _ := s.Taxonomies.Children("category", a)
	if len(children) != 1 || children[0] != b {
		t.Errorf("expected a -> [b], got %v", children)
	}
	children, _ = s.Taxonomies.Children("category", b)
	if len(children) != 1 || children[0] != c {
		t.Errorf("expected b -> [c], got %v", children)
	}
}

func TestUpsertRelationship(t *testing.T) {
	s := New(testutil.TempDB(t))

	postID, _ := s.Posts.Insert(&domain.Post{GUID: "g-rel", Status: "draft", Type: "post"})
	termID, _ := s.Terms.Insert(&domain.Term{Name: "T", Slug: "t"})
	taxID, _ := s.Taxonomies.Insert(&domain.TermTaxonomy{TermID: termID, Taxonomy: "category"})

	if err := s.Posts.UpsertRelationship(postID, taxID, 1); err != nil {
		t.Fatalf("UpsertRelationship failed: %v", err)
	}
	if err := s.Posts.UpsertRelationship(postID, taxID, 5); err != nil {
		t.Fatalf("second UpsertRelationship failed: %v", err)
	}

	assignments, err := s.Posts.TaxonomiesForPost(postID)
	if err != nil {
		t.Fatalf("TaxonomiesForPost failed: %v", err)
	}
	if len(assignments) != 1 {
		t.Fatalf("expected single relationship, got %d", len(assignments))
	}
	if assignments[0].Order != 5 {
		t.Errorf("expected order updated to 5, got %d", assignments[0].Order)
	}
}
