package thing

import (
	"github.com/google/uuid"

	"thingsync/pkg/ordered"
)

// Clone returns a detached, mutable copy of t.
//
// A shallow clone copies t's own attributes, references and container link;
// its collections keep their keys but still hold the live children. A deep
// clone also clones every Thing below t, so no node of the returned subtree
// is shared with the original. The original is never modified and the clone
// is never registered anywhere.
//
// Clone reads t without locking; copy a cached Thing with cache.Clone while
// operations may be merging into it.
func Clone(t *Thing, deep bool) *Thing {
	if t == nil {
		return nil
	}
	cp := cloneOwn(t)
	cp.container = t.container
	cloneCollections(t, cp, deep)
	return cp
}

// Clone is shorthand for Clone(t, deep).
func (t *Thing) Clone(deep bool) *Thing { return Clone(t, deep) }

func cloneOwn(t *Thing) *Thing {
	return &Thing{
		ID:         t.ID,
		Kind:       t.Kind,
		Revision:   t.Revision,
		ModifiedOn: t.ModifiedOn,
		Attributes: cloneAttributes(t.Attributes),
		Refs:       cloneRefs(t.Refs),
	}
}

func cloneCollections(src, dst *Thing, deep bool) {
	if len(src.contained) == 0 {
		return
	}
	dst.contained = make(map[Kind]*ordered.List[*Thing], len(src.contained))
	for kind, l := range src.contained {
		if !deep {
			dst.contained[kind] = ordered.Map(l, func(c *Thing) *Thing { return c })
			continue
		}
		dst.contained[kind] = ordered.Map(l, func(c *Thing) *Thing {
			child := cloneOwn(c)
			child.container = dst
			cloneCollections(c, child, true)
			return child
		})
	}
}

func cloneAttributes(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneAttributes(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	case []float64:
		return append([]float64(nil), val...)
	default:
		return v
	}
}

func cloneRefs(in map[string]uuid.UUID) map[string]uuid.UUID {
	out := make(map[string]uuid.UUID, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
