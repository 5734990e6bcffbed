// Package remote implements an in-process authoritative store for Things and
// a loopback transport that talks to it through a JSON wire codec.
package remote

import (
	"context"
	"fmt"
	"sort"

	"github.com/golang/glog"
	"github.com/google/uuid"

	"thingsync/internal/infra/persistence"
	"thingsync/internal/infra/persistence/memory"
	"thingsync/pkg/thing"
	"thingsync/pkg/transport"
	"thingsync/pkg/txn"
)

// Version is reported to connecting sessions.
const Version = "1.0.0"

// SeedSource yields the snapshot Restore resets the store to.
type SeedSource interface {
	Seed(ctx context.Context) (memory.Snapshot, error)
}

// SubmitRequest is the wire form of a batch.
type SubmitRequest struct {
	ID           uuid.UUID       `json:"id"`
	ContextRoot  uuid.UUID       `json:"contextRoot"`
	BaseRevision int64           `json:"baseRevision"`
	Operations   []txn.Operation `json:"operations"`
}

// NewSubmitRequest captures the batch's content.
func NewSubmitRequest(b *txn.Batch) SubmitRequest {
	return SubmitRequest{
		ID:           b.ID(),
		ContextRoot:  b.ContextRoot(),
		BaseRevision: b.BaseRevision(),
		Operations:   b.Operations(),
	}
}

// Option configures a Server.
type Option func(*Server)

// WithSeedSource replaces the built-in seed.
func WithSeedSource(src SeedSource) Option {
	return func(s *Server) {
		if src != nil {
			s.seed = src
		}
	}
}

// WithVersion overrides the reported version.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// Server owns the authoritative records: one catalog root plus any number
// of model roots. Each committed batch bumps its context root's revision.
type Server struct {
	store   persistence.Store
	seed    SeedSource
	version string
}

// NewServer wraps store. An empty store is restored from the seed.
func NewServer(ctx context.Context, store persistence.Store, opts ...Option) (*Server, error) {
	s := &Server{store: store, seed: BuiltinSeed{}, version: Version}
	for _, opt := range opts {
		opt(s)
	}
	empty := false
	if err := store.View(ctx, func(v memory.View) error {
		empty = v.Len() == 0
		return nil
	}); err != nil {
		return nil, err
	}
	if empty {
		if err := s.Restore(ctx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Info describes the catalog.
func (s *Server) Info(ctx context.Context) (transport.CatalogInfo, error) {
	info := transport.CatalogInfo{Version: s.version}
	err := s.store.View(ctx, func(v memory.View) error {
		info.Catalog = v.Catalog()
		root, ok := v.Get(info.Catalog)
		if !ok {
			return fmt.Errorf("%w: catalog %s", ErrNotFound, info.Catalog)
		}
		info.Revision = root.Revision
		return nil
	})
	return info, err
}

// Restore resets the store to the seed snapshot.
func (s *Server) Restore(ctx context.Context) error {
	snapshot, err := s.seed.Seed(ctx)
	if err != nil {
		return fmt.Errorf("load seed: %w", err)
	}
	if _, ok := snapshot.Records[snapshot.Catalog]; !ok {
		return fmt.Errorf("seed has no catalog record %s", snapshot.Catalog)
	}
	if _, err := s.store.RunInTransaction(ctx, func(tx *memory.Transaction) error {
		tx.Reset(snapshot)
		return nil
	}); err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	glog.Infof("remote: restored %d records, catalog %s", len(snapshot.Records), snapshot.Catalog)
	return nil
}

// Snapshot exports the current state.
func (s *Server) Snapshot() memory.Snapshot { return s.store.ExportState() }

// Apply validates and commits a batch atomically. A stale base revision
// yields transport.ErrConflict; structural problems yield a RejectedError.
// Either way nothing is stored.
func (s *Server) Apply(ctx context.Context, req SubmitRequest) (thing.Graph, error) {
	var out thing.Graph
	_, err := s.store.RunInTransaction(ctx, func(tx *memory.Transaction) error {
		a := newApplier(tx, req)
		g, err := a.run()
		if err != nil {
			return err
		}
		out = g
		return nil
	})
	if err != nil {
		glog.Warningf("remote: batch %s on %s: %v", req.ID, req.ContextRoot, err)
		return thing.Graph{}, err
	}
	glog.V(1).Infof("remote: batch %s committed %d operations, %s now at revision %d", req.ID, len(req.Operations), req.ContextRoot, out.Revision)
	return out, nil
}

type reader interface {
	Get(id uuid.UUID) (thing.Record, bool)
}

// topLevel follows container links up to the record without a container.
func topLevel(r reader, rec thing.Record) (thing.Record, bool) {
	seen := map[uuid.UUID]struct{}{rec.ID: {}}
	for rec.Container != uuid.Nil {
		parent, ok := r.Get(rec.Container)
		if !ok {
			return thing.Record{}, false
		}
		if _, loop := seen[parent.ID]; loop {
			return thing.Record{}, false
		}
		seen[parent.ID] = struct{}{}
		rec = parent
	}
	return rec, true
}

func inContext(r reader, id, root uuid.UUID) bool {
	rec, ok := r.Get(id)
	if !ok {
		return false
	}
	top, ok := topLevel(r, rec)
	return ok && top.ID == root
}

// subtree lists id and its descendants depth first in collection order.
func subtree(r reader, id uuid.UUID) []thing.Record {
	var out []thing.Record
	var walk func(uuid.UUID)
	walk = func(id uuid.UUID) {
		rec, ok := r.Get(id)
		if !ok {
			return
		}
		out = append(out, rec)
		for _, kind := range slotKinds(rec) {
			for _, it := range rec.Contained[kind] {
				walk(it.Value)
			}
		}
	}
	walk(id)
	return out
}

func slotKinds(r thing.Record) []thing.Kind {
	kinds := make([]thing.Kind, 0, len(r.Contained))
	for k := range r.Contained {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
