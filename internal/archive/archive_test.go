package archive

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"thingsync/internal/archive/core"
	"thingsync/internal/infra/blob/s3"
	"thingsync/internal/infra/persistence/memory"
	"thingsync/internal/platform/config"
	"thingsync/pkg/thing"
)

func sampleSnapshot() memory.Snapshot {
	root := thing.Record{ID: uuid.New(), Kind: thing.KindSiteDirectory, Revision: 3, Attributes: map[string]any{thing.AttrName: "site"}}
	return memory.Snapshot{
		Catalog: root.ID,
		Records: map[uuid.UUID]thing.Record{root.ID: root},
		Tombstones: []memory.Tombstone{
			{ID: uuid.New(), Root: root.ID, Revision: 2},
		},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	for _, store := range []core.Store{mustOpen(t, config.Archive{}), s3.NewMockForTests()} {
		a := New(store)
		snap := sampleSnapshot()
		entry, err := a.Save(ctx, "backups/1.json", snap)
		if err != nil {
			t.Fatalf("%s: save: %v", store.Driver(), err)
		}
		if entry.Metadata["records"] != "1" || entry.ContentType != contentType {
			t.Fatalf("%s: unexpected entry %+v", store.Driver(), entry)
		}
		got, err := a.Load(ctx, "backups/1.json")
		if err != nil {
			t.Fatalf("%s: load: %v", store.Driver(), err)
		}
		if got.Catalog != snap.Catalog || len(got.Records) != 1 || len(got.Tombstones) != 1 {
			t.Fatalf("%s: unexpected snapshot %+v", store.Driver(), got)
		}
		if got.Records[snap.Catalog].Attributes[thing.AttrName] != "site" {
			t.Fatalf("%s: attributes lost", store.Driver())
		}
	}
}

func TestSourceDefaultsToSeedKey(t *testing.T) {
	ctx := context.Background()
	a := New(mustOpen(t, config.Archive{Driver: "fs", FSRoot: t.TempDir()}))
	src := a.Source("")
	if src.Key() != SeedKey {
		t.Fatalf("expected default seed key, got %s", src.Key())
	}
	if _, err := src.Seed(ctx); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound before seeding, got %v", err)
	}
	snap := sampleSnapshot()
	if _, err := a.Save(ctx, SeedKey, snap); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := src.Seed(ctx)
	if err != nil || got.Catalog != snap.Catalog {
		t.Fatalf("seed: %+v %v", got, err)
	}
	list, _ := a.List(ctx, "seed/")
	if len(list) != 1 {
		t.Fatalf("expected one seed entry, got %d", len(list))
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), config.Archive{Driver: "gcs"}); err == nil || !strings.Contains(err.Error(), "unknown archive driver") {
		t.Fatalf("expected unknown driver error, got %v", err)
	}
	if _, err := Open(context.Background(), config.Archive{Driver: "s3"}); err == nil {
		t.Fatalf("expected missing bucket error")
	}
}

func mustOpen(t *testing.T, cfg config.Archive) core.Store {
	t.Helper()
	a, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("open %s: %v", cfg.Driver, err)
	}
	return a.Store()
}
