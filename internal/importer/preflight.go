package importer

import (
	"context"
	"errors"
	"fmt"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/mgreer/stagesync/internal/domain"
	"github.com/mgreer/stagesync/internal/media"
	"github.com/mgreer/stagesync/internal/store"
	"github.com/mgreer/stagesync/internal/transport"
)

// Preflight validates a batch against the target without writing
// anything: every parent must exist on the target or inside the batch,
// every attachment file must answer a reachability probe, and content
// drift on already-matched posts is reported so an operator sees what an
// import would overwrite.
func Preflight(ctx context.Context, s *store.Store, fetcher *media.Fetcher, b *domain.Batch) []transport.Message {
	var msgs []transport.Message

	inBatch := make(map[string]bool, len(b.Posts))
	for _, p := range b.Posts {
		inBatch[p.GUID] = true
	}

	for _, p := range b.Posts {
		if p.ParentGUID != "" && !inBatch[p.ParentGUID] {
			if _, err := s.Posts.FindByGUID(p.ParentGUID); err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					msgs = append(msgs, transport.Message{
						Level: domain.LevelError,
						Message: fmt.Sprintf("post %s: parent %s is neither on the target nor in the batch",
							p.GUID, p.ParentGUID),
					})
					continue
				}
				msgs = append(msgs, transport.Message{
					Level:   domain.LevelError,
					Message: fmt.Sprintf("post %s: parent lookup failed: %v", p.GUID, err),
				})
			}
		}

		if drift := contentDrift(s, p); drift != "" {
			msgs = append(msgs, transport.Message{Level: domain.LevelInfo, Message: drift})
		}
	}

	if fetcher != nil {
		for _, att := range b.Attachments {
			for _, u := range att.URLs {
				if err := fetcher.Reachable(ctx, u); err != nil {
					msgs = append(msgs, transport.Message{
						Level:   domain.LevelWarning,
						Message: fmt.Sprintf("attachment %s: %v", att.PostGUID, err),
					})
				}
			}
		}
	}

	if len(msgs) == 0 {
		msgs = append(msgs, transport.Message{
			Level:   domain.LevelSuccess,
			Message: fmt.Sprintf("preflight clean: %d posts, %d attachments", len(b.Posts), len(b.Attachments)),
		})
	}
	return msgs
}

// contentDrift returns a unified diff of target vs batch content for a
// post that already exists on the target, or "" when identical or new.
func contentDrift(s *store.Store, p domain.Post) string {
	existing, err := s.Posts.FindByGUID(p.GUID)
	if err != nil || existing.Content == p.Content {
		return ""
	}

	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(existing.Content),
		B:        difflib.SplitLines(p.Content),
		FromFile: "target",
		ToFile:   "batch",
		Context:  3,
	})
	if err != nil {
		return ""
	}
	return fmt.Sprintf("post %s differs from target, import will overwrite:\n%s", p.GUID, diff)
}
