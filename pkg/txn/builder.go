package txn

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"thingsync/pkg/thing"
)

var (
	// ErrInvalidContext is returned when an operation targets a Thing outside
	// the builder's context root.
	ErrInvalidContext = errors.New("txn: thing outside transaction context")
	// ErrAlreadyFinalized is returned when a finalized builder is reused.
	ErrAlreadyFinalized = errors.New("txn: transaction already finalized")
	// ErrDuplicateOperation is returned when a Thing is staged with two
	// incompatible intents.
	ErrDuplicateOperation = errors.New("txn: conflicting operations for thing")
)

// Lookup resolves live Things by id and runs reads of live Things while
// merges are held off. *cache.Cache satisfies it.
type Lookup interface {
	Get(id uuid.UUID) (*thing.Thing, bool)
	View(fn func())
}

type staged struct {
	kind      OpKind
	target    *thing.Thing
	container *thing.Thing
}

// Builder accumulates operations for one context root. The Things handed to
// it are owned by the builder until FinalizeTransaction snapshots them.
type Builder struct {
	live         Lookup
	root         *thing.Thing
	baseRevision int64
	ops          []staged
	index        map[uuid.UUID]int
	finalized    bool
}

// NewBuilder resolves the context root of context (its top-level ancestor)
// and returns an empty builder scoped to it.
func NewBuilder(live Lookup, context *thing.Thing) (*Builder, error) {
	if context == nil {
		return nil, fmt.Errorf("%w: nil context", ErrInvalidContext)
	}
	b := &Builder{live: live, index: make(map[uuid.UUID]int)}
	b.view(func() {
		b.root = thing.ContextRoot(context)
		b.baseRevision = b.root.Revision
	})
	return b, nil
}

// ContextRoot returns the resolved top-level Thing.
func (b *Builder) ContextRoot() *thing.Thing { return b.root }

// Len returns the number of staged operations.
func (b *Builder) Len() int { return len(b.ops) }

// Create stages the insertion of t under container and links t to it.
func (b *Builder) Create(t, container *thing.Thing) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	if t == nil || container == nil {
		return fmt.Errorf("%w: create needs a thing and a container", ErrInvalidContext)
	}
	if !b.inContext(container) {
		return fmt.Errorf("%w: container %s is not under %s", ErrInvalidContext, container, b.root)
	}
	if err := b.checkRestage(t, OpCreate); err != nil {
		return err
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if b.isLive(container) {
		// never link into a cached instance, the write response does that
		t.SetContainer(container)
	} else {
		container.Adopt(t)
	}
	b.stage(OpCreate, t, container)
	return nil
}

// Update stages t as a replacement of the Thing with the same id.
func (b *Builder) Update(t *thing.Thing) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	if t == nil || !b.inContext(t) {
		return fmt.Errorf("%w: update of %s", ErrInvalidContext, t)
	}
	if err := b.checkRestage(t, OpUpdate); err != nil {
		return err
	}
	b.stage(OpUpdate, t, t.Container())
	return nil
}

// CreateOrUpdate stages an update when t's id is already live in the
// context, otherwise a create under t's own container.
func (b *Builder) CreateOrUpdate(t *thing.Thing) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	if t == nil {
		return fmt.Errorf("%w: nil thing", ErrInvalidContext)
	}
	if b.live != nil {
		if existing, ok := b.live.Get(t.ID); ok && b.inContext(existing) {
			return b.Update(t)
		}
	}
	if t.Container() == nil {
		return fmt.Errorf("%w: %s has no container", ErrInvalidContext, t)
	}
	return b.Create(t, t.Container())
}

// Delete stages the removal of t from container.
func (b *Builder) Delete(t, container *thing.Thing) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	if t == nil || container == nil {
		return fmt.Errorf("%w: delete needs a thing and a container", ErrInvalidContext)
	}
	if !b.inContext(container) {
		return fmt.Errorf("%w: container %s is not under %s", ErrInvalidContext, container, b.root)
	}
	if parent := t.Container(); parent != nil && parent.ID != container.ID {
		return fmt.Errorf("%w: %s is contained by %s, not %s", ErrInvalidContext, t, parent, container)
	}
	if err := b.checkRestage(t, OpDelete); err != nil {
		return err
	}
	if !b.isLive(container) {
		// the released child may be live, its container link is read
		b.view(func() { container.Release(t) })
	}
	b.stage(OpDelete, t, container)
	return nil
}

// FinalizeTransaction snapshots every staged Thing into an immutable batch.
// The builder cannot be used afterwards.
func (b *Builder) FinalizeTransaction() (*Batch, error) {
	if b.finalized {
		return nil, ErrAlreadyFinalized
	}
	b.finalized = true
	batch := &Batch{
		id:           uuid.New(),
		root:         b.root.ID,
		baseRevision: b.baseRevision,
		ops:          make([]Operation, 0, len(b.ops)),
	}
	b.view(func() {
		for _, s := range b.ops {
			op := Operation{Kind: s.kind, Record: thing.ToRecord(s.target)}
			if s.container != nil {
				op.Container = s.container.ID
				if s.kind == OpCreate {
					op.Key, op.Keyed = s.container.KeyOf(s.target)
				}
			}
			batch.ops = append(batch.ops, op)
		}
	})
	b.ops = nil
	return batch, nil
}

func (b *Builder) checkOpen() error {
	if b.finalized {
		return ErrAlreadyFinalized
	}
	return nil
}

// checkRestage allows staging the same intent twice and rejects mixing.
func (b *Builder) checkRestage(t *thing.Thing, kind OpKind) error {
	i, ok := b.index[t.ID]
	if !ok {
		return nil
	}
	prev := b.ops[i].kind
	if prev == kind || (prev == OpCreate && kind == OpUpdate) {
		return nil
	}
	return fmt.Errorf("%w: %s staged as %s, then %s", ErrDuplicateOperation, t, prev, kind)
}

func (b *Builder) stage(kind OpKind, t, container *thing.Thing) {
	if i, ok := b.index[t.ID]; ok {
		b.ops[i].target = t
		if kind == b.ops[i].kind && container != nil {
			b.ops[i].container = container
		}
		return
	}
	b.index[t.ID] = len(b.ops)
	b.ops = append(b.ops, staged{kind: kind, target: t, container: container})
}

// view runs fn under the live cache's read lock. Staged Things may link to
// live containers, so every walk up or across containment goes through it.
func (b *Builder) view(fn func()) {
	if b.live == nil {
		fn()
		return
	}
	b.live.View(fn)
}

func (b *Builder) inContext(t *thing.Thing) bool {
	var ok bool
	b.view(func() { ok = thing.InContext(t, b.root.ID) })
	return ok
}

func (b *Builder) isLive(t *thing.Thing) bool {
	if b.live == nil {
		return false
	}
	live, ok := b.live.Get(t.ID)
	return ok && live == t
}
