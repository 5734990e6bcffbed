// Package archive stores reference-store snapshots (seeds and backups) as
// JSON objects in an archive backend.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"thingsync/internal/archive/core"
	"thingsync/internal/infra/persistence/memory"
)

const (
	contentType = "application/json"
	// SeedKey is where the default seed snapshot lives.
	SeedKey = "seed/default.json"
)

// Archive reads and writes snapshots through a core.Store.
type Archive struct {
	store core.Store
}

// New wraps store.
func New(store core.Store) *Archive { return &Archive{store: store} }

// Store returns the backing object store.
func (a *Archive) Store() core.Store { return a.store }

// Save writes snapshot under key, replacing any previous version.
func (a *Archive) Save(ctx context.Context, key string, snapshot memory.Snapshot) (core.Entry, error) {
	b, err := json.Marshal(snapshot)
	if err != nil {
		return core.Entry{}, fmt.Errorf("encode snapshot: %w", err)
	}
	md := map[string]string{
		"records": strconv.Itoa(len(snapshot.Records)),
		"catalog": snapshot.Catalog.String(),
	}
	entry, err := a.store.Write(ctx, key, bytes.NewReader(b), core.WriteOptions{ContentType: contentType, Metadata: md})
	if err != nil {
		return core.Entry{}, fmt.Errorf("save snapshot %s: %w", key, err)
	}
	return entry, nil
}

// Load reads the snapshot stored under key. A missing key wraps
// core.ErrNotFound.
func (a *Archive) Load(ctx context.Context, key string) (memory.Snapshot, error) {
	_, rc, err := a.store.Read(ctx, key)
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("load snapshot %s: %w", key, err)
	}
	defer func() { _ = rc.Close() }()
	var snapshot memory.Snapshot
	if err := json.NewDecoder(rc).Decode(&snapshot); err != nil {
		return memory.Snapshot{}, fmt.Errorf("decode snapshot %s: %w", key, err)
	}
	return snapshot, nil
}

// List returns the snapshot entries under prefix.
func (a *Archive) List(ctx context.Context, prefix string) ([]core.Entry, error) {
	return a.store.List(ctx, prefix)
}

// Source adapts one archived snapshot to the seed source the reference
// store restores from.
type Source struct {
	archive *Archive
	key     string
}

// Source returns a seed source reading key. An empty key selects SeedKey.
func (a *Archive) Source(key string) Source {
	if key == "" {
		key = SeedKey
	}
	return Source{archive: a, key: key}
}

// Key returns the archived object the source reads.
func (s Source) Key() string { return s.key }

// Seed loads the snapshot.
func (s Source) Seed(ctx context.Context) (memory.Snapshot, error) {
	return s.archive.Load(ctx, s.key)
}
