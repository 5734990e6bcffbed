// Package thing defines the uniquely identified records that make up the
// synchronized object graph, their containment tree, and the clone engine
// used to stage changes against it.
package thing

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"thingsync/pkg/ordered"
)

// Kind tags the shape of a Thing.
type Kind string

// Thing is a node of the containment tree. Attributes and Refs carry the
// per-kind payload; containment is held in one ordered collection per child
// kind. A Thing is not safe for concurrent use: live instances are only
// written by the cache under its lock, clones belong to whoever requested
// them. ID never changes once a Thing is cached.
type Thing struct {
	ID         uuid.UUID
	Kind       Kind
	Revision   int64
	ModifiedOn time.Time
	Attributes map[string]any
	Refs       map[string]uuid.UUID

	container *Thing
	contained map[Kind]*ordered.List[*Thing]
}

// New returns a Thing of the given kind with a random id.
func New(kind Kind) *Thing {
	return NewWithID(uuid.New(), kind)
}

// NewWithID returns a Thing of the given kind with an explicit id.
func NewWithID(id uuid.UUID, kind Kind) *Thing {
	return &Thing{
		ID:         id,
		Kind:       kind,
		Attributes: map[string]any{},
		Refs:       map[string]uuid.UUID{},
	}
}

func (t *Thing) String() string {
	if t == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s(%s)", t.Kind, t.ID)
}

// Container returns the parent of t, nil for a top-level Thing.
func (t *Thing) Container() *Thing { return t.container }

// SetContainer points t at a parent without registering t in the parent's
// collections. Used to describe where a Thing lives before it is read.
func (t *Thing) SetContainer(c *Thing) { t.container = c }

// IsTopLevel reports whether t has no container.
func (t *Thing) IsTopLevel() bool { return t.container == nil }

// Attr returns the named attribute.
func (t *Thing) Attr(name string) (any, bool) {
	v, ok := t.Attributes[name]
	return v, ok
}

// StringAttr returns the named attribute when it holds a string.
func (t *Thing) StringAttr(name string) string {
	s, _ := t.Attributes[name].(string)
	return s
}

// SetAttr stores a scalar or collection attribute.
func (t *Thing) SetAttr(name string, v any) {
	if t.Attributes == nil {
		t.Attributes = map[string]any{}
	}
	t.Attributes[name] = v
}

// Ref returns the id of a non-containment reference.
func (t *Thing) Ref(name string) (uuid.UUID, bool) {
	id, ok := t.Refs[name]
	return id, ok
}

// SetRef stores a non-containment reference. A nil id clears it.
func (t *Thing) SetRef(name string, id uuid.UUID) {
	if id == uuid.Nil {
		delete(t.Refs, name)
		return
	}
	if t.Refs == nil {
		t.Refs = map[string]uuid.UUID{}
	}
	t.Refs[name] = id
}

// Collection returns the ordered collection holding children of the given
// kind, creating an empty one on first use.
func (t *Thing) Collection(kind Kind) *ordered.List[*Thing] {
	if t.contained == nil {
		t.contained = map[Kind]*ordered.List[*Thing]{}
	}
	l, ok := t.contained[kind]
	if !ok {
		l = &ordered.List[*Thing]{}
		t.contained[kind] = l
	}
	return l
}

// Children returns the children of the given kind in collection order.
func (t *Thing) Children(kind Kind) []*Thing {
	l, ok := t.contained[kind]
	if !ok {
		return nil
	}
	return l.Values()
}

// Slots returns the kinds t currently holds collections for, sorted.
func (t *Thing) Slots() []Kind {
	out := make([]Kind, 0, len(t.contained))
	for k := range t.contained {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Contains reports whether child is held directly by t, by id.
func (t *Thing) Contains(child *Thing) bool {
	_, ok := t.keyOf(child.ID, child.Kind)
	return ok
}

// KeyOf returns the key child is held under in t.
func (t *Thing) KeyOf(child *Thing) (int64, bool) {
	return t.keyOf(child.ID, child.Kind)
}

func (t *Thing) keyOf(id uuid.UUID, kind Kind) (int64, bool) {
	l, ok := t.contained[kind]
	if !ok {
		return 0, false
	}
	for _, it := range l.Items() {
		if it.Value.ID == id {
			return it.Key, true
		}
	}
	return 0, false
}

// Adopt makes t the container of child and appends child to the matching
// collection. A child already held (by id) keeps its key and position.
func (t *Thing) Adopt(child *Thing) int64 {
	child.container = t
	if key, ok := t.keyOf(child.ID, child.Kind); ok {
		t.contained[child.Kind].Set(key, child)
		return key
	}
	return t.Collection(child.Kind).Insert(child)
}

// Release removes child from t's collections. The child's container link is
// cleared when it pointed at t.
func (t *Thing) Release(child *Thing) bool {
	l, ok := t.contained[child.Kind]
	if !ok {
		return false
	}
	n := l.RemoveFunc(func(c *Thing) bool { return c.ID == child.ID })
	if child.container == t {
		child.container = nil
	}
	return n > 0
}

// Walk visits t and every Thing contained below it, depth first in
// collection order, until fn returns false.
func (t *Thing) Walk(fn func(*Thing) bool) bool {
	if !fn(t) {
		return false
	}
	for _, kind := range t.Slots() {
		for _, child := range t.contained[kind].Values() {
			if !child.Walk(fn) {
				return false
			}
		}
	}
	return true
}

// ContextRoot returns the top-level ancestor of t.
func ContextRoot(t *Thing) *Thing {
	root := t
	for root.container != nil {
		root = root.container
	}
	return root
}

// InContext reports whether t lives in the subtree whose top-level ancestor
// has the given id.
func InContext(t *Thing, root uuid.UUID) bool {
	if t == nil {
		return false
	}
	return ContextRoot(t).ID == root
}

// Ancestors returns the chain of containers from t's parent up to the root.
func Ancestors(t *Thing) []*Thing {
	var out []*Thing
	for c := t.container; c != nil; c = c.container {
		out = append(out, c)
	}
	return out
}
