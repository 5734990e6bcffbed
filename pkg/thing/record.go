package thing

import (
	"time"

	"github.com/google/uuid"

	"thingsync/pkg/ordered"
)

// Record is the serialized form of a Thing exchanged with the remote store.
// Containment is carried twice: the child names its container, the container
// lists its children per kind as (key, id) pairs in position order.
type Record struct {
	ID         uuid.UUID                          `json:"iid"`
	Kind       Kind                               `json:"classKind"`
	Revision   int64                              `json:"revisionNumber"`
	ModifiedOn time.Time                          `json:"modifiedOn"`
	Container  uuid.UUID                          `json:"container"`
	Attributes map[string]any                     `json:"attributes,omitempty"`
	Refs       map[string]uuid.UUID               `json:"refs,omitempty"`
	Contained  map[Kind][]ordered.Item[uuid.UUID] `json:"contained,omitempty"`
}

// Graph is a set of records returned by a fetch or a write. Removed lists
// ids the store no longer holds; Revision is the context root's revision the
// graph reflects.
type Graph struct {
	Root     uuid.UUID   `json:"root"`
	Revision int64       `json:"revision"`
	Records  []Record    `json:"records"`
	Removed  []uuid.UUID `json:"removed,omitempty"`
}

// ToRecord serializes t without following containment.
func ToRecord(t *Thing) Record {
	r := Record{
		ID:         t.ID,
		Kind:       t.Kind,
		Revision:   t.Revision,
		ModifiedOn: t.ModifiedOn,
		Attributes: cloneAttributes(t.Attributes),
		Refs:       cloneRefs(t.Refs),
	}
	if t.container != nil {
		r.Container = t.container.ID
	}
	if len(t.contained) > 0 {
		r.Contained = make(map[Kind][]ordered.Item[uuid.UUID], len(t.contained))
		for kind, l := range t.contained {
			r.Contained[kind] = ordered.Map(l, func(c *Thing) uuid.UUID { return c.ID }).Items()
		}
	}
	return r
}

// Clone returns a copy of r sharing no maps or slices with it.
func (r Record) Clone() Record {
	out := r
	out.Attributes = cloneAttributes(r.Attributes)
	out.Refs = cloneRefs(r.Refs)
	if r.Contained != nil {
		out.Contained = make(map[Kind][]ordered.Item[uuid.UUID], len(r.Contained))
		for kind, items := range r.Contained {
			out.Contained[kind] = append([]ordered.Item[uuid.UUID](nil), items...)
		}
	}
	return out
}

// SubtreeRecords serializes t and everything contained below it.
func SubtreeRecords(t *Thing) []Record {
	var out []Record
	t.Walk(func(n *Thing) bool {
		out = append(out, ToRecord(n))
		return true
	})
	return out
}

// FromRecord builds an unlinked Thing carrying the record's content.
func FromRecord(r Record) *Thing {
	t := NewWithID(r.ID, r.Kind)
	t.Assign(r)
	return t
}

// Assign replaces t's content with the record's, leaving links untouched.
func (t *Thing) Assign(r Record) {
	if t.Kind != r.Kind {
		t.Kind = r.Kind
	}
	t.Revision = r.Revision
	t.ModifiedOn = r.ModifiedOn
	t.Attributes = cloneAttributes(r.Attributes)
	t.Refs = cloneRefs(r.Refs)
}

// Relink points t at the record's container and rebuilds its collections
// from the record's (key, id) lists. Ids resolve cannot find are skipped and
// returned; an unresolved container keeps the current link only when it
// already points at the same id.
func (t *Thing) Relink(r Record, resolve func(uuid.UUID) (*Thing, bool)) []uuid.UUID {
	var missing []uuid.UUID
	if r.Container == uuid.Nil {
		t.container = nil
	} else if c, ok := resolve(r.Container); ok {
		t.container = c
	} else {
		if t.container != nil && t.container.ID != r.Container {
			t.container = nil
		}
		missing = append(missing, r.Container)
	}
	contained := make(map[Kind]*ordered.List[*Thing], len(r.Contained))
	for kind, refs := range r.Contained {
		items := make([]ordered.Item[*Thing], 0, len(refs))
		for _, ref := range refs {
			child, ok := resolve(ref.Value)
			if !ok {
				missing = append(missing, ref.Value)
				continue
			}
			child.container = t
			items = append(items, ordered.Item[*Thing]{Key: ref.Key, Value: child})
		}
		l := &ordered.List[*Thing]{}
		if err := l.Reset(items); err != nil {
			_ = l.AddItems(dedupe(items))
		}
		contained[kind] = l
	}
	t.contained = contained
	return missing
}

func dedupe(items []ordered.Item[*Thing]) []ordered.Item[*Thing] {
	seen := make(map[int64]struct{}, len(items))
	out := items[:0:0]
	for _, it := range items {
		if _, ok := seen[it.Key]; ok {
			continue
		}
		seen[it.Key] = struct{}{}
		out = append(out, it)
	}
	return out
}
