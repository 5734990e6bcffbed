package postgres

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/google/uuid"

	"thingsync/internal/infra/persistence/memory"
	"thingsync/internal/infra/persistence/postgres/testutil"
	"thingsync/pkg/thing"
)

func TestStorePersistsAndRehydrates(t *testing.T) {
	ctx := context.Background()
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(testutil.Opener(db))
	defer restore()

	store, err := NewStore(ctx, "")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	root := thing.Record{ID: uuid.New(), Kind: thing.KindSiteDirectory, Revision: 1}
	if _, err := store.RunInTransaction(ctx, func(tx *memory.Transaction) error {
		tx.SetCatalog(root.ID)
		return tx.Create(root)
	}); err != nil {
		t.Fatalf("run transaction: %v", err)
	}
	if got := conn.Buckets(); !reflect.DeepEqual(got, []string{"catalog", "records", "tombstones"}) {
		t.Fatalf("unexpected buckets %v", got)
	}
	if !strings.HasPrefix(conn.Execs[0], "CREATE TABLE IF NOT EXISTS state") {
		t.Fatalf("state table not ensured first: %v", conn.Execs)
	}

	again, err := NewStore(ctx, "postgres://ignored")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	_ = again.View(ctx, func(v memory.View) error {
		if _, ok := v.Get(root.ID); !ok || v.Catalog() != root.ID {
			t.Fatalf("snapshot not rehydrated")
		}
		return nil
	})
}

func TestPersistFailureSurfaces(t *testing.T) {
	ctx := context.Background()
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(testutil.Opener(db))
	defer restore()

	store, err := NewStore(ctx, "")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	person := thing.Record{ID: uuid.New(), Kind: thing.KindPerson}
	conn.FailCommit = true
	_, err = store.RunInTransaction(ctx, func(tx *memory.Transaction) error {
		return tx.Create(person)
	})
	if err == nil || !strings.Contains(err.Error(), "commit") {
		t.Fatalf("expected commit failure, got %v", err)
	}
	if len(conn.Buckets()) != 0 {
		t.Fatalf("failed commit left rows behind")
	}
	_ = store.View(ctx, func(v memory.View) error {
		if _, ok := v.Get(person.ID); ok {
			t.Fatalf("record visible after failed commit")
		}
		return nil
	})

	conn.FailCommit = false
	if _, err := store.RunInTransaction(ctx, func(tx *memory.Transaction) error {
		return tx.Create(person)
	}); err != nil {
		t.Fatalf("retry after failed commit: %v", err)
	}
	_ = store.View(ctx, func(v memory.View) error {
		if _, ok := v.Get(person.ID); !ok {
			t.Fatalf("record missing after successful commit")
		}
		return nil
	})
}

func TestNewStorePingFailure(t *testing.T) {
	db, conn := testutil.NewStubDB()
	conn.FailPing = true
	restore := OverrideSQLOpen(testutil.Opener(db))
	defer restore()
	if _, err := NewStore(context.Background(), ""); err == nil || !strings.Contains(err.Error(), "ping") {
		t.Fatalf("expected ping failure, got %v", err)
	}
}
