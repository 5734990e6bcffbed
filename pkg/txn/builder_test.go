package txn

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"thingsync/pkg/cache"
	"thingsync/pkg/thing"
)

type fixture struct {
	live      *cache.Cache
	model     *thing.Thing
	iteration *thing.Thing
	element   *thing.Thing
	other     *thing.Thing
}

func newFixture() fixture {
	model := thing.New(thing.KindEngineeringModel)
	model.Revision = 7
	iteration := thing.New(thing.KindIteration)
	model.Adopt(iteration)
	element := thing.New(thing.KindElementDefinition)
	iteration.Adopt(element)
	other := thing.New(thing.KindEngineeringModel)

	live := cache.New()
	live.MergeGraph(thing.Graph{Records: thing.SubtreeRecords(model)})
	live.MergeGraph(thing.Graph{Records: thing.SubtreeRecords(other)})
	f := fixture{live: live}
	f.model, _ = live.Get(model.ID)
	f.iteration, _ = live.Get(iteration.ID)
	f.element, _ = live.Get(element.ID)
	f.other, _ = live.Get(other.ID)
	return f
}

func TestNewBuilderResolvesContextRoot(t *testing.T) {
	f := newFixture()
	b, err := NewBuilder(f.live, f.element.Clone(false))
	if err != nil {
		t.Fatalf("new builder: %v", err)
	}
	if b.ContextRoot() != f.model {
		t.Fatalf("expected model as context root, got %s", b.ContextRoot())
	}
	if _, err := NewBuilder(f.live, nil); !errors.Is(err, ErrInvalidContext) {
		t.Fatalf("expected ErrInvalidContext for nil context, got %v", err)
	}
}

func TestCreateLinksCloneAndStagesOperation(t *testing.T) {
	f := newFixture()
	iterationClone := f.iteration.Clone(false)
	b, _ := NewBuilder(f.live, iterationClone)

	param := thing.New(thing.KindParameter)
	elementClone := f.element.Clone(false)
	if err := b.Create(param, elementClone); err != nil {
		t.Fatalf("create: %v", err)
	}
	if param.Container() != elementClone || !elementClone.Contains(param) {
		t.Fatalf("create did not link the new thing under its container")
	}
	if len(f.element.Children(thing.KindParameter)) != 0 {
		t.Fatalf("live container mutated by staging")
	}

	batch, err := b.FinalizeTransaction()
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if batch.ContextRoot() != f.model.ID || batch.BaseRevision() != 7 {
		t.Fatalf("unexpected batch scope %s@%d", batch.ContextRoot(), batch.BaseRevision())
	}
	ops := batch.Operations()
	if len(ops) != 1 || ops[0].Kind != OpCreate {
		t.Fatalf("unexpected operations %+v", ops)
	}
	if ops[0].Container != f.element.ID || !ops[0].Keyed || ops[0].Record.Container != f.element.ID {
		t.Fatalf("create operation lost its container: %+v", ops[0])
	}
}

func TestCreateUnderLiveContainerDoesNotTouchCache(t *testing.T) {
	f := newFixture()
	b, _ := NewBuilder(f.live, f.iteration)
	param := thing.New(thing.KindParameter)
	if err := b.Create(param, f.element); err != nil {
		t.Fatalf("create: %v", err)
	}
	if f.element.Contains(param) {
		t.Fatalf("live container adopted a staged thing")
	}
	if param.Container() != f.element {
		t.Fatalf("staged thing should still name its container")
	}
}

func TestContextScoping(t *testing.T) {
	f := newFixture()
	b, _ := NewBuilder(f.live, f.iteration.Clone(false))
	if err := b.Create(thing.New(thing.KindParameter), f.element.Clone(false)); err != nil {
		t.Fatalf("create inside context: %v", err)
	}

	foreign := thing.New(thing.KindIteration)
	foreign.SetContainer(f.other)
	err := b.Create(thing.New(thing.KindElementDefinition), foreign)
	if !errors.Is(err, ErrInvalidContext) {
		t.Fatalf("expected ErrInvalidContext, got %v", err)
	}
	if b.Len() != 1 {
		t.Fatalf("failed staging changed pending operations: %d", b.Len())
	}
	if err := b.Update(f.other.Clone(false)); !errors.Is(err, ErrInvalidContext) {
		t.Fatalf("expected ErrInvalidContext for foreign update, got %v", err)
	}
}

func TestCreateOrUpdateChoosesByLiveCache(t *testing.T) {
	f := newFixture()
	b, _ := NewBuilder(f.live, f.iteration)

	existing := f.element.Clone(false)
	existing.SetAttr(thing.AttrName, "renamed")
	if err := b.CreateOrUpdate(existing); err != nil {
		t.Fatalf("create or update existing: %v", err)
	}

	fresh := thing.New(thing.KindElementDefinition)
	fresh.SetContainer(f.iteration.Clone(false))
	if err := b.CreateOrUpdate(fresh); err != nil {
		t.Fatalf("create or update fresh: %v", err)
	}

	orphan := thing.New(thing.KindElementDefinition)
	if err := b.CreateOrUpdate(orphan); !errors.Is(err, ErrInvalidContext) {
		t.Fatalf("expected ErrInvalidContext for a thing without container, got %v", err)
	}

	batch, err := b.FinalizeTransaction()
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	ops := batch.Operations()
	if len(ops) != 2 || ops[0].Kind != OpUpdate || ops[1].Kind != OpCreate {
		t.Fatalf("unexpected operations %+v", ops)
	}
	if ops[0].Record.Attributes[thing.AttrName] != "renamed" {
		t.Fatalf("update did not snapshot the clone")
	}
}

func TestDeleteChecksContainer(t *testing.T) {
	f := newFixture()
	iterationClone := f.iteration.Clone(false)
	b, _ := NewBuilder(f.live, iterationClone)

	if err := b.Delete(f.element, f.model); !errors.Is(err, ErrInvalidContext) {
		t.Fatalf("expected ErrInvalidContext for wrong container, got %v", err)
	}
	if err := b.Delete(f.element, iterationClone); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if iterationClone.Contains(f.element) {
		t.Fatalf("clone still holds deleted element")
	}
	if !f.iteration.Contains(f.element) {
		t.Fatalf("live iteration lost its element before the write")
	}
	if err := b.Update(f.element.Clone(false)); !errors.Is(err, ErrDuplicateOperation) {
		t.Fatalf("expected ErrDuplicateOperation after delete, got %v", err)
	}
}

func TestBuilderSingleUse(t *testing.T) {
	f := newFixture()
	b, _ := NewBuilder(f.live, f.iteration)
	if _, err := b.FinalizeTransaction(); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if _, err := b.FinalizeTransaction(); !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("expected ErrAlreadyFinalized, got %v", err)
	}
	if err := b.Create(thing.New(thing.KindParameter), f.element.Clone(false)); !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("expected ErrAlreadyFinalized on staging, got %v", err)
	}
}

func TestBatchSnapshotsAtFinalize(t *testing.T) {
	f := newFixture()
	b, _ := NewBuilder(f.live, f.iteration)
	clone := f.element.Clone(false)
	clone.SetAttr(thing.AttrName, "before")
	if err := b.Update(clone); err != nil {
		t.Fatalf("update: %v", err)
	}
	batch, _ := b.FinalizeTransaction()
	clone.SetAttr(thing.AttrName, "after")
	if got := batch.Operations()[0].Record.Attributes[thing.AttrName]; got != "before" {
		t.Fatalf("batch observed a later mutation: %v", got)
	}
	if err := batch.Consume(); err != nil {
		t.Fatalf("first consume: %v", err)
	}
	if err := batch.Consume(); !errors.Is(err, ErrBatchConsumed) {
		t.Fatalf("expected ErrBatchConsumed, got %v", err)
	}
}

func TestRejectedCreateLeavesThingUntouched(t *testing.T) {
	f := newFixture()
	b, _ := NewBuilder(f.live, f.iteration.Clone(false))

	orphan := thing.NewWithID(uuid.Nil, thing.KindParameter)
	if err := b.Create(orphan, f.other.Clone(false)); !errors.Is(err, ErrInvalidContext) {
		t.Fatalf("expected ErrInvalidContext, got %v", err)
	}
	if orphan.ID != uuid.Nil || orphan.Container() != nil {
		t.Fatalf("rejected create modified its argument: %s in %s", orphan, orphan.Container())
	}

	element := f.element.Clone(false)
	if err := b.Delete(element, f.iteration.Clone(false)); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := b.Create(element, f.iteration.Clone(false)); !errors.Is(err, ErrDuplicateOperation) {
		t.Fatalf("expected ErrDuplicateOperation, got %v", err)
	}
	if b.Len() != 1 {
		t.Fatalf("rejected create was staged")
	}

	if err := b.Create(orphan, f.element.Clone(false)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if orphan.ID == uuid.Nil {
		t.Fatalf("accepted create did not assign an id")
	}
}

func TestOperationsDoNotAliasBatch(t *testing.T) {
	f := newFixture()
	b, _ := NewBuilder(f.live, f.iteration)
	clone := f.element.Clone(false)
	clone.SetAttr(thing.AttrName, "kept")
	clone.SetRef(thing.RefOwner, f.other.ID)
	if err := b.Update(clone); err != nil {
		t.Fatalf("update: %v", err)
	}
	batch, _ := b.FinalizeTransaction()

	ops := batch.Operations()
	ops[0].Record.Attributes[thing.AttrName] = "changed"
	ops[0].Record.Refs[thing.RefOwner] = uuid.Nil
	ops[0].Kind = OpDelete

	again := batch.Operations()[0]
	if again.Record.Attributes[thing.AttrName] != "kept" || again.Record.Refs[thing.RefOwner] != f.other.ID || again.Kind != OpUpdate {
		t.Fatalf("finalized batch changed through Operations: %+v", again)
	}
}
