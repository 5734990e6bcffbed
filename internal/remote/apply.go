package remote

import (
	"fmt"

	"github.com/google/uuid"

	"thingsync/internal/infra/persistence/memory"
	"thingsync/pkg/ordered"
	"thingsync/pkg/thing"
	"thingsync/pkg/transport"
	"thingsync/pkg/txn"
)

type reorder struct {
	index     int
	id        uuid.UUID
	contained map[thing.Kind][]ordered.Item[uuid.UUID]
}

// applier runs one batch against a transactional copy of the store.
type applier struct {
	tx       *memory.Transaction
	req      SubmitRequest
	root     uuid.UUID
	revision int64

	touched  map[uuid.UUID]struct{}
	order    []uuid.UUID
	deleted  map[uuid.UUID]struct{}
	removed  []uuid.UUID
	reorders []reorder
}

func newApplier(tx *memory.Transaction, req SubmitRequest) *applier {
	return &applier{
		tx:      tx,
		req:     req,
		root:    req.ContextRoot,
		touched: make(map[uuid.UUID]struct{}),
		deleted: make(map[uuid.UUID]struct{}),
	}
}

func (a *applier) run() (thing.Graph, error) {
	root, ok := a.tx.Get(a.root)
	if !ok {
		return thing.Graph{}, rejectBatch("unknown context root %s", a.root)
	}
	if root.Container != uuid.Nil {
		return thing.Graph{}, rejectBatch("context root %s is not top level", a.root)
	}
	if root.Revision != a.req.BaseRevision {
		return thing.Graph{}, fmt.Errorf("%w: %s is at revision %d, batch built on %d", transport.ErrConflict, a.root, root.Revision, a.req.BaseRevision)
	}
	if len(a.req.Operations) == 0 {
		return thing.Graph{Root: a.root, Revision: root.Revision}, nil
	}
	a.revision = root.Revision + 1
	a.touch(a.root)

	// creates are inserted before any is linked so a batch may create a
	// child ahead of its new container
	for i, op := range a.req.Operations {
		if op.Kind == txn.OpCreate {
			if err := a.insert(i, op); err != nil {
				return thing.Graph{}, err
			}
		}
	}
	for i, op := range a.req.Operations {
		var err error
		switch op.Kind {
		case txn.OpCreate:
			err = a.link(i, op)
		case txn.OpUpdate:
			err = a.update(i, op)
		case txn.OpDelete:
			err = a.remove(i, op)
		default:
			err = reject(i, op.Kind, op.Record.ID, "unknown operation kind")
		}
		if err != nil {
			return thing.Graph{}, err
		}
	}
	for _, r := range a.reorders {
		if err := a.applyReorder(r); err != nil {
			return thing.Graph{}, err
		}
	}
	if err := a.checkRefs(); err != nil {
		return thing.Graph{}, err
	}
	return a.stamp()
}

func (a *applier) touch(id uuid.UUID) {
	if _, ok := a.touched[id]; ok {
		return
	}
	a.touched[id] = struct{}{}
	a.order = append(a.order, id)
}

func (a *applier) insert(i int, op txn.Operation) error {
	r := op.Record.Clone()
	if r.ID == uuid.Nil {
		return reject(i, op.Kind, r.ID, "missing id")
	}
	if r.Kind == "" {
		return reject(i, op.Kind, r.ID, "missing kind")
	}
	if op.Container == uuid.Nil || op.Container == r.ID {
		return reject(i, op.Kind, r.ID, "invalid container %s", op.Container)
	}
	r.Container = op.Container
	r.Contained = nil
	if err := a.tx.Create(r); err != nil {
		return reject(i, op.Kind, r.ID, "%v", err)
	}
	a.touch(r.ID)
	return nil
}

func (a *applier) link(i int, op txn.Operation) error {
	id := op.Record.ID
	container, ok := a.tx.Get(op.Container)
	if !ok {
		return reject(i, op.Kind, id, "unknown container %s", op.Container)
	}
	if !inContext(a.tx, container.ID, a.root) {
		return reject(i, op.Kind, id, "container %s is outside context %s", container.ID, a.root)
	}
	items := container.Contained[op.Record.Kind]
	var key int64
	free := true
	highest := int64(-1)
	for _, it := range items {
		if it.Key == op.Key {
			free = false
		}
		if it.Key > highest {
			highest = it.Key
		}
	}
	if op.Keyed && free {
		key = op.Key
	} else {
		key = highest + 1
	}
	if container.Contained == nil {
		container.Contained = make(map[thing.Kind][]ordered.Item[uuid.UUID])
	}
	container.Contained[op.Record.Kind] = append(items, ordered.Item[uuid.UUID]{Key: key, Value: id})
	if err := a.tx.Update(container); err != nil {
		return reject(i, op.Kind, id, "%v", err)
	}
	a.touch(container.ID)
	return nil
}

func (a *applier) update(i int, op txn.Operation) error {
	r := op.Record
	cur, ok := a.tx.Get(r.ID)
	if !ok {
		return reject(i, op.Kind, r.ID, "unknown record")
	}
	if !inContext(a.tx, r.ID, a.root) {
		return reject(i, op.Kind, r.ID, "record is outside context %s", a.root)
	}
	if cur.Kind != r.Kind {
		return reject(i, op.Kind, r.ID, "kind %s cannot become %s", cur.Kind, r.Kind)
	}
	if cur.Container != r.Container {
		return reject(i, op.Kind, r.ID, "moving from %s to %s is not supported", cur.Container, r.Container)
	}
	next := r.Clone()
	cur.Attributes = next.Attributes
	cur.Refs = next.Refs
	if err := a.tx.Update(cur); err != nil {
		return reject(i, op.Kind, r.ID, "%v", err)
	}
	a.touch(r.ID)
	if len(next.Contained) > 0 {
		a.reorders = append(a.reorders, reorder{index: i, id: r.ID, contained: next.Contained})
	}
	return nil
}

func (a *applier) remove(i int, op txn.Operation) error {
	id := op.Record.ID
	if _, gone := a.deleted[id]; gone {
		return nil
	}
	cur, ok := a.tx.Get(id)
	if !ok {
		return reject(i, op.Kind, id, "unknown record")
	}
	if cur.Container == uuid.Nil {
		return reject(i, op.Kind, id, "top-level records cannot be deleted")
	}
	if cur.Container != op.Container {
		return reject(i, op.Kind, id, "contained by %s, not %s", cur.Container, op.Container)
	}
	if !inContext(a.tx, id, a.root) {
		return reject(i, op.Kind, id, "record is outside context %s", a.root)
	}
	container, ok := a.tx.Get(cur.Container)
	if !ok {
		return reject(i, op.Kind, id, "unknown container %s", cur.Container)
	}
	items := container.Contained[cur.Kind]
	kept := items[:0:0]
	for _, it := range items {
		if it.Value != id {
			kept = append(kept, it)
		}
	}
	if container.Contained != nil {
		container.Contained[cur.Kind] = kept
	}
	if err := a.tx.Update(container); err != nil {
		return reject(i, op.Kind, id, "%v", err)
	}
	a.touch(container.ID)

	for _, r := range subtree(a.tx, id) {
		if _, err := a.tx.Delete(r.ID); err != nil {
			return reject(i, op.Kind, r.ID, "%v", err)
		}
		a.tx.Bury(memory.Tombstone{ID: r.ID, Root: a.root, Revision: a.revision})
		a.deleted[r.ID] = struct{}{}
		a.removed = append(a.removed, r.ID)
	}
	return nil
}

// applyReorder rewrites the order and keys of the children an update names.
// Children it does not name keep their key and follow in current order.
func (a *applier) applyReorder(r reorder) error {
	if _, gone := a.deleted[r.id]; gone {
		return nil
	}
	cur, ok := a.tx.Get(r.id)
	if !ok {
		return nil
	}
	changed := false
	for _, kind := range slotKinds(thing.Record{Contained: r.contained}) {
		current := cur.Contained[kind]
		present := make(map[uuid.UUID]int64, len(current))
		for _, it := range current {
			present[it.Value] = it.Key
		}
		next := make([]ordered.Item[uuid.UUID], 0, len(current))
		named := make(map[uuid.UUID]struct{}, len(current))
		keys := make(map[int64]struct{}, len(current))
		for _, it := range r.contained[kind] {
			if _, ok := present[it.Value]; !ok {
				if _, gone := a.deleted[it.Value]; gone {
					continue
				}
				return reject(r.index, txn.OpUpdate, r.id, "%s is not a %s child", it.Value, kind)
			}
			if _, dup := named[it.Value]; dup {
				return reject(r.index, txn.OpUpdate, r.id, "%s listed twice", it.Value)
			}
			named[it.Value] = struct{}{}
			next = append(next, it)
		}
		for _, it := range current {
			if _, ok := named[it.Value]; !ok {
				next = append(next, it)
			}
		}
		for _, it := range next {
			if _, dup := keys[it.Key]; dup {
				return reject(r.index, txn.OpUpdate, r.id, "key %d used twice in %s", it.Key, kind)
			}
			keys[it.Key] = struct{}{}
		}
		if !sameItems(current, next) {
			cur.Contained[kind] = next
			changed = true
		}
	}
	if !changed {
		return nil
	}
	if err := a.tx.Update(cur); err != nil {
		return reject(r.index, txn.OpUpdate, r.id, "%v", err)
	}
	a.touch(r.id)
	return nil
}

func (a *applier) checkRefs() error {
	for _, id := range a.order {
		if _, gone := a.deleted[id]; gone {
			continue
		}
		r, ok := a.tx.Get(id)
		if !ok {
			continue
		}
		for _, name := range sortedRefNames(r.Refs) {
			target := r.Refs[name]
			if _, ok := a.tx.Get(target); !ok {
				return rejectBatch("%s references unknown %s %s", r.ID, name, target)
			}
		}
	}
	return nil
}

// stamp sets the new revision on every touched record and builds the
// response graph.
func (a *applier) stamp() (thing.Graph, error) {
	g := thing.Graph{Root: a.root, Revision: a.revision, Removed: a.removed}
	now := a.tx.Now()
	for _, id := range a.order {
		if _, gone := a.deleted[id]; gone {
			continue
		}
		r, ok := a.tx.Get(id)
		if !ok {
			continue
		}
		r.Revision = a.revision
		r.ModifiedOn = now
		if err := a.tx.Update(r); err != nil {
			return thing.Graph{}, err
		}
		g.Records = append(g.Records, r)
	}
	return g, nil
}

func sameItems(a, b []ordered.Item[uuid.UUID]) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
