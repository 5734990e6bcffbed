package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"thingsync/pkg/thing"
)

func record(kind thing.Kind, container uuid.UUID) thing.Record {
	return thing.Record{ID: uuid.New(), Kind: kind, Container: container, Attributes: map[string]any{}}
}

func TestStoreRunInTransactionAndSnapshots(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	root := record(thing.KindSiteDirectory, uuid.Nil)
	changes, err := store.RunInTransaction(ctx, func(tx *Transaction) error {
		tx.SetCatalog(root.ID)
		if err := tx.Create(root); err != nil {
			return err
		}
		if _, ok := tx.Get(root.ID); !ok {
			t.Fatalf("created record not visible inside transaction")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("run transaction: %v", err)
	}
	if len(changes) != 1 || changes[0].Action != ActionCreate {
		t.Fatalf("unexpected changes %+v", changes)
	}

	snapshot := store.ExportState()
	store.ImportState(Snapshot{})
	_ = store.View(ctx, func(v View) error {
		if v.Len() != 0 {
			t.Fatalf("expected cleared state")
		}
		return nil
	})
	store.ImportState(snapshot)
	_ = store.View(ctx, func(v View) error {
		if v.Len() != 1 || v.Catalog() != root.ID {
			t.Fatalf("expected restored state")
		}
		return nil
	})
}

func TestFailedTransactionLeavesStateUntouched(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	first := record(thing.KindEngineeringModel, uuid.Nil)
	if _, err := store.RunInTransaction(ctx, func(tx *Transaction) error { return tx.Create(first) }); err != nil {
		t.Fatalf("seed: %v", err)
	}

	boom := errors.New("boom")
	_, err := store.RunInTransaction(ctx, func(tx *Transaction) error {
		if err := tx.Create(record(thing.KindEngineeringModel, uuid.Nil)); err != nil {
			return err
		}
		if _, err := tx.Delete(first.ID); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	_ = store.View(ctx, func(v View) error {
		if v.Len() != 1 {
			t.Fatalf("partial transaction leaked: %d records", v.Len())
		}
		if _, ok := v.Get(first.ID); !ok {
			t.Fatalf("delete leaked out of a failed transaction")
		}
		return nil
	})
}

func TestTransactionErrors(t *testing.T) {
	store := NewStore()
	r := record(thing.KindPerson, uuid.Nil)
	_, err := store.RunInTransaction(context.Background(), func(tx *Transaction) error {
		if err := tx.Update(r); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound on update, got %v", err)
		}
		if _, err := tx.Delete(r.ID); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound on delete, got %v", err)
		}
		if err := tx.Create(r); err != nil {
			return err
		}
		if err := tx.Create(r); !errors.Is(err, ErrExists) {
			t.Fatalf("expected ErrExists, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
}

func TestGetReturnsCopies(t *testing.T) {
	store := NewStore()
	r := record(thing.KindPerson, uuid.Nil)
	r.Attributes[thing.AttrName] = "ada"
	_, _ = store.RunInTransaction(context.Background(), func(tx *Transaction) error { return tx.Create(r) })
	r.Attributes[thing.AttrName] = "changed by caller"
	_ = store.View(context.Background(), func(v View) error {
		got, _ := v.Get(r.ID)
		if got.Attributes[thing.AttrName] != "ada" {
			t.Fatalf("store shares maps with callers")
		}
		got.Attributes[thing.AttrName] = "changed by reader"
		again, _ := v.Get(r.ID)
		if again.Attributes[thing.AttrName] != "ada" {
			t.Fatalf("view shares maps with readers")
		}
		return nil
	})
}

func TestTombstonesSince(t *testing.T) {
	store := NewStore()
	root := uuid.New()
	_, _ = store.RunInTransaction(context.Background(), func(tx *Transaction) error {
		tx.Bury(Tombstone{ID: uuid.New(), Root: root, Revision: 2})
		tx.Bury(Tombstone{ID: uuid.New(), Root: root, Revision: 5})
		tx.Bury(Tombstone{ID: uuid.New(), Root: uuid.New(), Revision: 9})
		return nil
	})
	_ = store.View(context.Background(), func(v View) error {
		if got := v.TombstonesSince(root, 2); len(got) != 1 || got[0].Revision != 5 {
			t.Fatalf("unexpected tombstones %+v", got)
		}
		return nil
	})
}

func TestCancelledContext(t *testing.T) {
	store := NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.RunInTransaction(ctx, func(*Transaction) error { return nil }); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestCommitFailureLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	rec := thing.Record{ID: uuid.New(), Kind: thing.KindPerson}
	boom := errors.New("disk full")

	var seen int
	_, err := store.RunInTransactionThen(ctx, func(tx *Transaction) error {
		return tx.Create(rec)
	}, func(s Snapshot) error {
		seen = len(s.Records)
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected commit error, got %v", err)
	}
	if seen != 1 {
		t.Fatalf("commit did not see the transaction state")
	}
	if len(store.ExportState().Records) != 0 {
		t.Fatalf("state swapped despite commit failure")
	}

	if _, err := store.RunInTransactionThen(ctx, func(tx *Transaction) error {
		return tx.Create(rec)
	}, func(Snapshot) error { return nil }); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, ok := store.ExportState().Records[rec.ID]; !ok {
		t.Fatalf("committed record missing")
	}
}
