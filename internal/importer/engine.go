// Package importer reconciles an incoming batch against the target store.
package importer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/mgreer/stagesync/internal/domain"
	"github.com/mgreer/stagesync/internal/hooks"
	"github.com/mgreer/stagesync/internal/job"
	"github.com/mgreer/stagesync/internal/media"
	"github.com/mgreer/stagesync/internal/store"
	"github.com/mgreer/stagesync/internal/transport"
)

// Engine runs one import. The remap tables and the deferred publish list
// are private single-run state; build a fresh Engine per run and never
// share one across concurrent imports.
type Engine struct {
	store   *store.Store
	jobs    *job.Store
	media   *media.Fetcher
	hooks   *hooks.Points
	relKeys map[string]bool

	jobID     int64
	ids       *hooks.RemapTables
	toPublish []int64
	// target post id -> pending parent GUID, resolved in a late pass
	// because the parent may land anywhere in the batch or already
	// exist on the target.
	parents map[int64]string
}

// New builds an engine for one run. relKeys is the configured set of post
// metadata keys whose values reference other posts; the hook points may
// override it.
func New(st *store.Store, jobs *job.Store, fetcher *media.Fetcher, pts *hooks.Points, relKeys []string) *Engine {
	if pts == nil {
		pts = &hooks.Points{}
	}
	keys := make(map[string]bool)
	for _, k := range pts.Keys(relKeys) {
		keys[k] = true
	}
	return &Engine{
		store:   st,
		jobs:    jobs,
		media:   fetcher,
		hooks:   pts,
		relKeys: keys,
	}
}

// Run claims the job, decodes its payload, and executes the import steps
// in their fixed order. A job that cannot be loaded or whose payload does
// not decode fails before any write; per-entity resolution failures are
// logged on the job and skipped.
func (e *Engine) Run(ctx context.Context, jobID int64) error {
	j, err := e.jobs.Get(jobID)
	if err != nil {
		return fmt.Errorf("failed to load job %d: %w", jobID, err)
	}

	if err := e.jobs.Claim(jobID); err != nil {
		return err
	}

	batch, err := transport.DecodeBatch(j.Payload)
	if err != nil {
		e.jobs.Logf(jobID, domain.LevelError, "batch payload failed to decode: %v", err)
		e.jobs.Finish(jobID, domain.StatusFailed)
		return fmt.Errorf("job %d: %w", jobID, err)
	}

	e.jobID = jobID
	e.ids = hooks.NewRemapTables()
	e.toPublish = nil
	e.parents = make(map[int64]string)

	steps := []func(context.Context, *domain.Batch) error{
		e.importAttachments,
		e.importUsers,
		e.importTerms,
		e.importTaxonomies,
		e.importPosts,
		e.importPostMeta,
		e.importRelationships,
		e.importCustomData,
		e.resolveParents,
		e.publishDeferred,
	}
	for _, step := range steps {
		if err := step(ctx, batch); err != nil {
			e.jobs.Logf(jobID, domain.LevelError, "import aborted: %v", err)
			e.jobs.Finish(jobID, domain.StatusFailed)
			return fmt.Errorf("job %d: %w", jobID, err)
		}
	}

	if err := e.jobs.Finish(jobID, domain.StatusCompleted); err != nil {
		return fmt.Errorf("job %d: %w", jobID, err)
	}
	e.jobs.Logf(jobID, domain.LevelSuccess, "import completed: %d posts, %d users, %d terms",
		len(batch.Posts), len(batch.Users), len(batch.Terms))

	if err := e.jobs.Retire(jobID); err != nil {
		return fmt.Errorf("job %d: %w", jobID, err)
	}
	return nil
}

// importAttachments copies every registered file variant into the media
// root. Unreachable files are warnings; the content still imports.
func (e *Engine) importAttachments(ctx context.Context, b *domain.Batch) error {
	atts := b.Attachments
	if e.hooks.FilterAttachments != nil {
		atts = e.hooks.FilterAttachments(atts)
	}
	if len(atts) == 0 || e.media == nil {
		return nil
	}
	e.jobs.Logf(e.jobID, domain.LevelInfo, "copying files for %d attachments", len(atts))

	for _, att := range atts {
		res, err := e.media.Import(ctx, att)
		if err != nil {
			e.jobs.Logf(e.jobID, domain.LevelWarning, "attachment %s: %v", att.PostGUID, err)
			continue
		}
		for _, skipped := range res.Skipped {
			e.jobs.Logf(e.jobID, domain.LevelWarning, "attachment %s: could not fetch %s", att.PostGUID, skipped)
		}
		names := make([]string, 0, len(res.Checksums))
		for name := range res.Checksums {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			e.jobs.Logf(e.jobID, domain.LevelInfo,
				"attachment %s: copied %s sha256=%s", att.PostGUID, name, res.Checksums[name])
		}
	}
	return nil
}

// importUsers matches users by login. New logins are inserted; matched
// users are overwritten and their metadata reconciled with a three-way
// diff so target-side extension records survive.
func (e *Engine) importUsers(ctx context.Context, b *domain.Batch) error {
	users := b.Users
	if e.hooks.FilterUsers != nil {
		users = e.hooks.FilterUsers(users)
	}
	if len(users) > 0 {
		e.jobs.Logf(e.jobID, domain.LevelInfo, "importing %d users", len(users))
	}

	for i := range users {
		u := users[i]
		existing, err := e.store.Users.FindByLogin(u.Login)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			newID, err := e.store.Users.Insert(&u)
			if err != nil {
				return err
			}
			e.ids.Users[u.ID] = newID
		case err != nil:
			return err
		default:
			if err := e.store.Users.Update(existing.ID, &u); err != nil {
				return err
			}
			e.ids.Users[u.ID] = existing.ID
		}
	}
	return nil
}

// importTerms matches terms by slug, the cross-environment natural key.
// Incoming slugs are normalized before the match so both sides compare in
// canonical form; a term whose slug cannot normalize is logged and skipped.
func (e *Engine) importTerms(ctx context.Context, b *domain.Batch) error {
	terms := b.Terms
	if e.hooks.FilterTerms != nil {
		terms = e.hooks.FilterTerms(terms)
	}
	b.Terms = terms

	for i := range terms {
		term := terms[i].Term
		if _, done := e.ids.Terms[term.ID]; done {
			continue
		}
		slug, err := domain.NormalizeSlug(term.Slug)
		if err != nil {
			e.jobs.Logf(e.jobID, domain.LevelError,
				"term %q: slug %q: %v, term skipped", term.Name, term.Slug, err)
			continue
		}
		term.Slug = slug
		existing, err := e.store.Terms.FindBySlug(term.Slug)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			newID, err := e.store.Terms.Insert(&term)
			if err != nil {
				return err
			}
			e.ids.Terms[term.ID] = newID
		case err != nil:
			return err
		default:
			if err := e.store.Terms.Update(existing.ID, &term); err != nil {
				return err
			}
			e.ids.Terms[term.ID] = existing.ID
		}
	}
	return nil
}

// importTaxonomies persists term-taxonomy entries parents-first so the
// hierarchy side index is built in dependency order. Entries whose term
// reference does not resolve are logged and skipped.
func (e *Engine) importTaxonomies(ctx context.Context, b *domain.Batch) error {
	// b.Terms was already filtered by importTerms.
	terms := b.Terms
	if len(terms) > 0 {
		e.jobs.Logf(e.jobID, domain.LevelInfo, "importing %d taxonomy entries", len(terms))
	}

	for _, tt := range sortTaxonomies(terms) {
		termID, ok := e.ids.Terms[tt.TermID]
		if !ok {
			e.jobs.Logf(e.jobID, domain.LevelError,
				"taxonomy %q: term %d not found in batch, entry skipped", tt.Taxonomy, tt.TermID)
			continue
		}

		parentTermID := int64(0)
		if tt.ParentTermID != 0 {
			mapped, found := e.ids.Terms[tt.ParentTermID]
			if !found {
				e.jobs.Logf(e.jobID, domain.LevelError,
					"taxonomy %q term %d: parent term %d not found in batch, imported without parent",
					tt.Taxonomy, tt.TermID, tt.ParentTermID)
				parentTermID = 0
			} else {
				parentTermID = mapped
			}
		}

		resolved := tt
		resolved.TermID = termID
		resolved.ParentTermID = parentTermID

		existing, err := e.store.Taxonomies.FindByTermAndTaxonomy(termID, tt.Taxonomy)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			newID, err := e.store.Taxonomies.Insert(&resolved)
			if err != nil {
				return err
			}
			e.ids.Taxonomies[tt.ID] = newID
		case err != nil:
			return err
		default:
			if err := e.store.Taxonomies.Update(existing.ID, &resolved); err != nil {
				return err
			}
			e.ids.Taxonomies[tt.ID] = existing.ID
		}
	}
	return nil
}

// importPosts matches posts by GUID. Incoming publish status is written
// as draft first; publication happens after metadata, relationships, and
// parent linkage are complete. Matched posts get their fields overwritten
// and their metadata fully replaced.
func (e *Engine) importPosts(ctx context.Context, b *domain.Batch) error {
	posts := b.Posts
	if e.hooks.FilterPosts != nil {
		posts = e.hooks.FilterPosts(posts)
	}
	b.Posts = posts
	if len(posts) > 0 {
		e.jobs.Logf(e.jobID, domain.LevelInfo, "importing %d posts", len(posts))
	}

	for i := range posts {
		p := posts[i]
		deferred := false
		if p.Status == domain.PostStatusPublish {
			p.Status = domain.PostStatusDraft
			deferred = true
		}

		var targetID int64
		matched := false
		existing, err := e.store.Posts.FindByGUID(p.GUID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			targetID, err = e.store.Posts.Insert(&p)
			if err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			matched = true
			targetID = existing.ID
			if err := e.store.Posts.Update(targetID, &p); err != nil {
				return err
			}
			if err := e.store.Posts.DeleteMeta(targetID); err != nil {
				return err
			}
		}

		e.ids.Posts[posts[i].ID] = targetID
		if deferred {
			e.toPublish = append(e.toPublish, targetID)
		}
		// A matched post with no incoming parent registers an empty
		// resolution so a stage-side un-parenting overwrites the target.
		if p.ParentGUID != "" || matched {
			e.parents[targetID] = p.ParentGUID
		}
		if e.hooks.PostImported != nil {
			e.hooks.PostImported(targetID, posts[i])
		}
	}
	return nil
}

// importPostMeta runs after every post in the batch is mapped, because a
// relationship-key value may reference any post in the batch. Values that
// do not resolve are logged and written unrewritten rather than dropped.
func (e *Engine) importPostMeta(ctx context.Context, b *domain.Batch) error {
	for i := range b.Posts {
		p := b.Posts[i]
		targetID, ok := e.ids.Posts[p.ID]
		if !ok {
			continue
		}
		for _, m := range p.Meta {
			value := m.Value
			if e.relKeys[m.Key] {
				value = e.remapRelationshipValue(p.GUID, m.Key, m.Value)
			}
			if err := e.store.Posts.InsertMeta(targetID, m.Key, value); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) remapRelationshipValue(guid, key, value string) string {
	ref, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || ref <= 0 {
		e.jobs.Logf(e.jobID, domain.LevelError,
			"post %s meta %s: value %q is not a post reference, written as-is", guid, key, value)
		return value
	}
	mapped, ok := e.ids.Posts[ref]
	if !ok {
		e.jobs.Logf(e.jobID, domain.LevelError,
			"post %s meta %s: referenced post %d not in batch, written as-is", guid, key, ref)
		return value
	}
	return strconv.FormatInt(mapped, 10)
}

// importRelationships links posts to their taxonomy entries through the
// step mappings. Associations whose taxonomy did not import are logged
// and lost; the batch continues.
func (e *Engine) importRelationships(ctx context.Context, b *domain.Batch) error {
	for i := range b.Posts {
		p := b.Posts[i]
		targetID, ok := e.ids.Posts[p.ID]
		if !ok {
			continue
		}
		for _, tas := range p.Taxonomies {
			ttID, ok := e.ids.Taxonomies[tas.TermTaxonomyID]
			if !ok {
				e.jobs.Logf(e.jobID, domain.LevelError,
					"post %s: taxonomy entry %d not imported, relationship skipped",
					p.GUID, tas.TermTaxonomyID)
				continue
			}
			if err := e.store.Posts.UpsertRelationship(targetID, ttID, tas.Order); err != nil {
				return err
			}
		}
	}
	return nil
}

// importCustomData hands the batch's opaque extension payload to the
// collaborator hook with the completed id mappings.
func (e *Engine) importCustomData(ctx context.Context, b *domain.Batch) error {
	if e.hooks.ImportCustomData == nil || len(b.Custom) == 0 {
		return nil
	}
	if err := e.hooks.ImportCustomData(ctx, b, e.ids); err != nil {
		e.jobs.Logf(e.jobID, domain.LevelError, "custom data import: %v", err)
	}
	return nil
}

// resolveParents looks each pending parent GUID up against the target
// store, because the parent may predate this batch on the target.
func (e *Engine) resolveParents(ctx context.Context, b *domain.Batch) error {
	ids := make([]int64, 0, len(e.parents))
	for id := range e.parents {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		guid := e.parents[id]
		if guid == "" {
			if err := e.store.Posts.SetParent(id, 0); err != nil {
				return err
			}
			continue
		}
		parent, err := e.store.Posts.FindByGUID(guid)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				e.jobs.Logf(e.jobID, domain.LevelError,
					"post %d: parent %s not found on target, left unparented", id, guid)
				continue
			}
			return err
		}
		if err := e.store.Posts.SetParent(id, parent.ID); err != nil {
			return err
		}
	}
	return nil
}

// publishDeferred flips every downgraded post from draft to publish, the
// second phase of the hidden-insert-then-reveal write.
func (e *Engine) publishDeferred(ctx context.Context, b *domain.Batch) error {
	if len(e.toPublish) > 0 {
		e.jobs.Logf(e.jobID, domain.LevelInfo, "publishing %d posts", len(e.toPublish))
	}
	for _, id := range e.toPublish {
		if err := e.store.Posts.UpdateStatus(id, domain.PostStatusPublish); err != nil {
			return err
		}
	}
	return nil
}

// sortTaxonomies orders entries parents-first within each taxonomy.
// Parent references that do not resolve inside the slice, including
// cycles, break the chain and the entry is emitted where the walk stands;
// the hierarchy side index stays consistent either way.
func sortTaxonomies(terms []domain.TermTaxonomy) []domain.TermTaxonomy {
	type key struct {
		taxonomy string
		termID   int64
	}
	byKey := make(map[key]int, len(terms))
	for i, tt := range terms {
		byKey[key{tt.Taxonomy, tt.TermID}] = i
	}

	out := make([]domain.TermTaxonomy, 0, len(terms))
	state := make([]int, len(terms))
	var visit func(i int)
	visit = func(i int) {
		if state[i] != 0 {
			return
		}
		state[i] = 1
		tt := terms[i]
		if tt.ParentTermID != 0 {
			if j, ok := byKey[key{tt.Taxonomy, tt.ParentTermID}]; ok && state[j] == 0 {
				visit(j)
			}
		}
		state[i] = 2
		out = append(out, terms[i])
	}
	for i := range terms {
		visit(i)
	}
	return out
}
