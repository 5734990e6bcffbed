package remote

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"thingsync/internal/infra/persistence/memory"
	"thingsync/pkg/thing"
	"thingsync/pkg/transport"
)

// Fetch returns the subtree rooted at req.Root (the catalog when Nil)
// together with its ancestors. Records referenced from the result are added
// when Scope.IncludeReferences is set. A positive Scope.SinceRevision limits
// the result to records changed after it and reports later deletions in
// Removed. The domain filter is accepted but does not narrow the result.
func (s *Server) Fetch(ctx context.Context, req transport.FetchRequest) (thing.Graph, error) {
	var g thing.Graph
	err := s.store.View(ctx, func(v memory.View) error {
		rootID := req.Root
		if rootID == uuid.Nil {
			rootID = v.Catalog()
		}
		root, ok := v.Get(rootID)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, rootID)
		}
		top, ok := topLevel(v, root)
		if !ok {
			return fmt.Errorf("%w: context of %s", ErrNotFound, rootID)
		}
		g.Root = rootID
		g.Revision = top.Revision

		seen := make(map[uuid.UUID]struct{})
		var records []thing.Record
		add := func(r thing.Record) {
			if _, dup := seen[r.ID]; dup {
				return
			}
			seen[r.ID] = struct{}{}
			records = append(records, r)
		}
		ancestors := []thing.Record{}
		for id := root.Container; id != uuid.Nil; {
			parent, ok := v.Get(id)
			if !ok {
				break
			}
			ancestors = append(ancestors, parent)
			id = parent.Container
		}
		for i := len(ancestors) - 1; i >= 0; i-- {
			add(ancestors[i])
		}
		for _, r := range subtree(v, rootID) {
			add(r)
		}
		if req.Scope.IncludeReferences {
			for _, r := range append([]thing.Record(nil), records...) {
				for _, name := range sortedRefNames(r.Refs) {
					if target, ok := v.Get(r.Refs[name]); ok {
						add(target)
					}
				}
			}
		}

		since := req.Scope.SinceRevision
		if since <= 0 {
			g.Records = records
			return nil
		}
		for _, r := range records {
			if r.Revision > since {
				g.Records = append(g.Records, r)
			}
		}
		for _, t := range v.TombstonesSince(top.ID, since) {
			g.Removed = append(g.Removed, t.ID)
		}
		return nil
	})
	if err != nil {
		return thing.Graph{}, err
	}
	return g, nil
}

func sortedRefNames(refs map[string]uuid.UUID) []string {
	names := make([]string, 0, len(refs))
	for name := range refs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
