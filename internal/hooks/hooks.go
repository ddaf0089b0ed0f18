// Package hooks defines the typed extension points external collaborators
// plug into. A Points value is injected into the assembler and the import
// engine at construction; nil funcs are simply skipped.
package hooks

import (
	"context"

	"github.com/mgreer/stagesync/internal/domain"
)

// RemapTables carries the source-id to target-id mappings built during one
// import run. Scope is a single run; never shared across imports.
type RemapTables struct {
	Posts      map[int64]int64
	Users      map[int64]int64
	Terms      map[int64]int64
	Taxonomies map[int64]int64
}

// NewRemapTables returns empty remap tables for one run.
func NewRemapTables() *RemapTables {
	return &RemapTables{
		Posts:      make(map[int64]int64),
		Users:      make(map[int64]int64),
		Terms:      make(map[int64]int64),
		Taxonomies: make(map[int64]int64),
	}
}

// Points is the set of extension hooks. All fields are optional.
type Points struct {
	// FilterRootPosts may transform the selected post IDs before batch
	// assembly begins.
	FilterRootPosts func(ids []int64) []int64

	// Pre-send filters may transform the assembled lists before a batch
	// is serialized.
	FilterPosts       func(posts []domain.Post) []domain.Post
	FilterAttachments func(atts []domain.Attachment) []domain.Attachment
	FilterUsers       func(users []domain.User) []domain.User
	FilterTerms       func(terms []domain.TermTaxonomy) []domain.TermTaxonomy

	// RelationshipKeys declares which post meta keys encode post-to-post
	// references. Consumed by the assembler (transitive pull) and the
	// engine (value remapping). When nil the configured defaults apply.
	RelationshipKeys func() []string

	// ImportCustomData runs after post relationships are written and
	// before parent resolution, with the completed remap tables.
	ImportCustomData func(ctx context.Context, batch *domain.Batch, ids *RemapTables) error

	// PostImported fires after each post row is written in the post
	// import step. Observability hook; used by tests to inspect
	// mid-import state.
	PostImported func(targetID int64, post domain.Post)
}

// RootPosts applies the root-post filter, if registered.
func (p *Points) RootPosts(ids []int64) []int64 {
	if p == nil || p.FilterRootPosts == nil {
		return ids
	}
	return p.FilterRootPosts(ids)
}

// Keys returns the declared relationship keys, or fallback when the hook
// is not registered.
func (p *Points) Keys(fallback []string) []string {
	if p == nil || p.RelationshipKeys == nil {
		return fallback
	}
	return p.RelationshipKeys()
}
