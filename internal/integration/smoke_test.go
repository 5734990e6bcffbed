// Package integration runs the session engine end to end against every
// in-process storage backend and archive driver.
package integration

import (
	"context"
	"path/filepath"
	"testing"

	"thingsync/internal/archive"
	"thingsync/internal/archive/core"
	blobfs "thingsync/internal/infra/blob/fs"
	blobmemory "thingsync/internal/infra/blob/memory"
	blobs3 "thingsync/internal/infra/blob/s3"
	"thingsync/internal/infra/persistence"
	"thingsync/internal/infra/persistence/memory"
	"thingsync/internal/infra/persistence/sqlite"
	"thingsync/internal/remote"
	"thingsync/pkg/session"
	"thingsync/pkg/thing"
	"thingsync/pkg/txn"
)

// TestIntegrationSmoke seeds an archive, serves it from each store, commits
// one person through a session and backs the result up again.
func TestIntegrationSmoke(t *testing.T) {
	ctx := context.Background()

	storeVariants := []struct {
		name string
		open func(t *testing.T) persistence.Store
	}{
		{
			name: "memory-store",
			open: func(_ *testing.T) persistence.Store { return memory.NewStore() },
		},
		{
			name: "sqlite-store",
			open: func(t *testing.T) persistence.Store {
				s, err := sqlite.NewStore(filepath.Join(t.TempDir(), "state.db"))
				if err != nil {
					t.Skipf("sqlite unavailable: %v", err)
				}
				return s
			},
		},
	}

	archiveVariants := []struct {
		name string
		open func(t *testing.T) core.Store
	}{
		{
			name: "memory-archive",
			open: func(_ *testing.T) core.Store { return blobmemory.New() },
		},
		{
			name: "filesystem-archive",
			open: func(t *testing.T) core.Store {
				s, err := blobfs.New(t.TempDir())
				if err != nil {
					t.Fatalf("fs archive: %v", err)
				}
				return s
			},
		},
		{
			name: "s3-archive",
			open: func(_ *testing.T) core.Store { return blobs3.NewMockForTests() },
		},
	}

	for _, sv := range storeVariants {
		for _, av := range archiveVariants {
			t.Run(sv.name+"/"+av.name, func(t *testing.T) {
				store := sv.open(t)
				defer func() { _ = store.Close() }()
				a := archive.New(av.open(t))

				if _, err := a.Save(ctx, archive.SeedKey, remote.DefaultSnapshot()); err != nil {
					t.Fatalf("save seed: %v", err)
				}
				server, err := remote.NewServer(ctx, store, remote.WithSeedSource(a.Source("")))
				if err != nil {
					t.Fatalf("new server: %v", err)
				}
				sess := session.New(remote.NewLoopback(server))
				if _, err := sess.Open(ctx); err != nil {
					t.Fatalf("open: %v", err)
				}

				site, ok := sess.Catalog()
				if !ok {
					t.Fatalf("catalog not cached")
				}
				siteClone, ok := sess.Cache().Clone(site.ID, false)
				if !ok {
					t.Fatalf("catalog clone failed")
				}
				b, err := txn.NewBuilder(sess.Cache(), siteClone)
				if err != nil {
					t.Fatalf("builder: %v", err)
				}
				person := thing.New(thing.KindPerson)
				person.SetAttr(thing.AttrShortName, "smoke")
				if err := b.Create(person, siteClone); err != nil {
					t.Fatalf("create: %v", err)
				}
				batch, err := b.FinalizeTransaction()
				if err != nil {
					t.Fatalf("finalize: %v", err)
				}
				res, err := sess.Write(ctx, batch)
				if err != nil {
					t.Fatalf("write: %v", err)
				}
				if res.Revision != 2 {
					t.Fatalf("expected revision 2, got %d", res.Revision)
				}

				entry, err := a.Save(ctx, "backup/latest.json", server.Snapshot())
				if err != nil {
					t.Fatalf("backup: %v", err)
				}
				if entry.Digest == "" || entry.Size == 0 {
					t.Fatalf("backup entry incomplete: %+v", entry)
				}
				restored, err := a.Load(ctx, "backup/latest.json")
				if err != nil {
					t.Fatalf("load backup: %v", err)
				}
				rec, ok := restored.Records[person.ID]
				if !ok || rec.Revision != 2 || rec.Container != site.ID {
					t.Fatalf("person missing from backup: %+v", rec)
				}
				entries, err := a.List(ctx, "")
				if err != nil || len(entries) != 2 {
					t.Fatalf("expected seed and backup listed, got %d %v", len(entries), err)
				}
				if _, err := sess.Close(ctx); err != nil {
					t.Fatalf("close: %v", err)
				}
			})
		}
	}
}
