// Package batch builds self-contained transfer units from a set of root
// posts on the source environment.
package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mgreer/stagesync/internal/config"
	"github.com/mgreer/stagesync/internal/domain"
	"github.com/mgreer/stagesync/internal/hooks"
	"github.com/mgreer/stagesync/internal/store"
)

// Meta keys the assembler interprets on attachment posts. MetaFileKey
// holds the upload-relative path of the original file; MetaSizesKey holds
// a JSON array of generated variant file names in the same directory.
const (
	MetaFileKey  = "_stagesync_file"
	MetaSizesKey = "_stagesync_sizes"
)

// Assemble walks the given root posts and their transitive references on
// the source store and produces one batch. An unresolvable root ID fails
// the whole assembly; no partial batch is returned.
func Assemble(ctx context.Context, src *store.Store, pts *hooks.Points, rootIDs []int64) (*domain.Batch, error) {
	rootIDs = pts.RootPosts(rootIDs)
	relKeys := make(map[string]bool)
	for _, k := range pts.Keys(config.DefaultRelationshipKeys) {
		relKeys[k] = true
	}

	a := &assembly{
		src:     src,
		relKeys: relKeys,
		seen:    make(map[int64]bool),
		users:   make(map[int64]*domain.User),
		terms:   make(map[int64]*domain.TermTaxonomy),
	}

	for _, id := range rootIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := a.pullPost(id, true); err != nil {
			return nil, fmt.Errorf("root post %d: %w", id, err)
		}
	}

	if err := a.collectUsers(); err != nil {
		return nil, err
	}

	sort.Slice(a.posts, func(i, j int) bool { return a.posts[i].ID < a.posts[j].ID })
	sort.Slice(a.attachments, func(i, j int) bool {
		return a.attachments[i].PostGUID < a.attachments[j].PostGUID
	})

	now := time.Now().UTC()
	b := &domain.Batch{
		SchemaVersion: domain.BatchSchemaVersion,
		BatchID:       uuid.New().String(),
		CreatedAt:     now,
		ModifiedAt:    now,
		Posts:         a.posts,
		Attachments:   a.attachments,
		Users:         sortedUsers(a.users),
		Terms:         sortedTerms(a.terms),
	}

	if pts.FilterPosts != nil {
		b.Posts = pts.FilterPosts(b.Posts)
	}
	if pts.FilterAttachments != nil {
		b.Attachments = pts.FilterAttachments(b.Attachments)
	}
	if pts.FilterUsers != nil {
		b.Users = pts.FilterUsers(b.Users)
	}
	if pts.FilterTerms != nil {
		b.Terms = pts.FilterTerms(b.Terms)
	}

	return b, nil
}

// assembly is the working state of one batch build. It is never shared
// between builds; the seen set makes transitive pulls cycle-safe.
type assembly struct {
	src     *store.Store
	relKeys map[string]bool

	seen        map[int64]bool
	posts       []domain.Post
	attachments []domain.Attachment
	users       map[int64]*domain.User
	terms       map[int64]*domain.TermTaxonomy
}

// pullPost loads one post with its metadata and taxonomy associations and
// appends it, then recurses into any posts referenced by relationship-key
// metadata values. Missing roots fail; missing transitive references are
// skipped and surface later as unrewritten values on import.
func (a *assembly) pullPost(id int64, root bool) error {
	if a.seen[id] {
		return nil
	}
	a.seen[id] = true

	post, err := a.src.Posts.GetByID(id)
	if err != nil {
		if !root {
			return nil
		}
		return err
	}

	post.Meta, err = a.src.Posts.MetaForPost(id)
	if err != nil {
		return err
	}
	post.Taxonomies, err = a.src.Posts.TaxonomiesForPost(id)
	if err != nil {
		return err
	}

	// The parent travels as a GUID; its local ID means nothing on the
	// target.
	if post.ParentID != 0 {
		parent, err := a.src.Posts.GetByID(post.ParentID)
		if err == nil {
			post.ParentGUID = parent.GUID
		}
		post.ParentID = 0
	}

	if post.Type == domain.PostTypeAttachment {
		a.attachments = append(a.attachments, attachmentFor(post))
	}

	for _, tas := range post.Taxonomies {
		if err := a.pullTaxonomy(tas.TermTaxonomyID); err != nil {
			return err
		}
	}

	a.posts = append(a.posts, *post)

	for _, m := range post.Meta {
		if !a.relKeys[m.Key] {
			continue
		}
		ref, err := strconv.ParseInt(strings.TrimSpace(m.Value), 10, 64)
		if err != nil || ref <= 0 {
			continue
		}
		if err := a.pullPost(ref, false); err != nil {
			return err
		}
	}

	return nil
}

// pullTaxonomy loads one term-taxonomy entry with its embedded term and
// walks up the parent chain so the batch carries every ancestor needed to
// rebuild the hierarchy on the target.
func (a *assembly) pullTaxonomy(id int64) error {
	if _, ok := a.terms[id]; ok {
		return nil
	}

	tt, err := a.src.Taxonomies.GetByID(id)
	if err != nil {
		return err
	}
	term, err := a.src.Terms.GetByID(tt.TermID)
	if err != nil {
		return err
	}
	tt.Term = *term
	a.terms[id] = tt

	if tt.ParentTermID != 0 {
		parent, err := a.src.Taxonomies.FindByTermAndTaxonomy(tt.ParentTermID, tt.Taxonomy)
		if err != nil {
			// A dangling parent reference is the source's problem;
			// the importer treats the entry as a root.
			return nil
		}
		return a.pullTaxonomy(parent.ID)
	}
	return nil
}

// collectUsers loads the distinct authors of every included post, with
// their metadata. Authors missing on the source are skipped.
func (a *assembly) collectUsers() error {
	for _, p := range a.posts {
		if p.AuthorID == 0 {
			continue
		}
		if _, ok := a.users[p.AuthorID]; ok {
			continue
		}
		user, err := a.src.Users.GetByID(p.AuthorID)
		if err != nil {
			continue
		}
		user.Meta, err = a.src.Users.MetaForUser(user.ID)
		if err != nil {
			return err
		}
		a.users[p.AuthorID] = user
	}
	return nil
}

// attachmentFor derives the file transfer record for an attachment post.
// The post GUID is the source URL of the original file; variant file
// names come from the sizes meta and live in the same directory.
func attachmentFor(post *domain.Post) domain.Attachment {
	att := domain.Attachment{PostGUID: post.GUID}

	var file string
	var sizes []string
	for _, m := range post.Meta {
		switch m.Key {
		case MetaFileKey:
			file = m.Value
		case MetaSizesKey:
			// Malformed sizes meta leaves only the original URL.
			_ = json.Unmarshal([]byte(m.Value), &sizes)
		}
	}

	if dir := path.Dir(file); dir != "." && dir != "/" {
		att.Dir = dir
	}

	att.URLs = append(att.URLs, post.GUID)
	if base := path.Dir(post.GUID); base != "." {
		for _, name := range sizes {
			att.URLs = append(att.URLs, base+"/"+name)
		}
	}
	return att
}

func sortedUsers(m map[int64]*domain.User) []domain.User {
	out := make([]domain.User, 0, len(m))
	for _, u := range m {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sortedTerms(m map[int64]*domain.TermTaxonomy) []domain.TermTaxonomy {
	out := make([]domain.TermTaxonomy, 0, len(m))
	for _, tt := range m {
		out = append(out, *tt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
