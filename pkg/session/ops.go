package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"thingsync/pkg/cache"
	"thingsync/pkg/thing"
	"thingsync/pkg/transport"
	"thingsync/pkg/txn"
)

var (
	errNilBatch = errors.New("session: nil batch")
	errNilRoot  = errors.New("session: read needs a root id")
)

// Result is what a write merged into the cache.
type Result struct {
	Revision int64
	Things   []*thing.Thing
	Removed  []uuid.UUID
	Merge    cache.MergeResult
}

// Open connects and reads the catalog. It is a no-op on an open session.
func (s *Session) Open(ctx context.Context) (State, error) {
	return s.OpenAsync(ctx).Wait(ctx)
}

// OpenAsync is the non-blocking form of Open.
func (s *Session) OpenAsync(ctx context.Context) *Pending[State] {
	s.mu.Lock()
	switch s.state {
	case StateOpen:
		s.mu.Unlock()
		return resolved(StateOpen, nil)
	case StateFailed:
		s.mu.Unlock()
		return resolved(StateFailed, ErrFailed)
	case StateOpening, StateClosing:
		st := s.state
		s.mu.Unlock()
		return resolved(st, ErrBusy)
	}
	s.state = StateOpening
	s.mu.Unlock()
	return launch(ctx, s, "open", s.open)
}

func (s *Session) open(ctx context.Context) (State, error) {
	info, err := s.transport.Connect(ctx)
	if err != nil {
		return s.abortOpen(ctx, err, false)
	}
	g, err := s.transport.Fetch(ctx, transport.FetchRequest{Scope: transport.Scope{IncludeReferences: true}})
	if err != nil {
		return s.abortOpen(ctx, err, true)
	}
	res := s.cache.MergeGraph(g)

	s.mu.Lock()
	s.info = info
	if s.info.Catalog == uuid.Nil {
		s.info.Catalog = g.Root
	}
	s.catalogRevision = g.Revision
	s.contexts = make(map[uuid.UUID]openContext)
	s.state = StateOpen
	catalog := s.info.Catalog
	s.mu.Unlock()

	glog.Infof("session: opened catalog %s at revision %d (%d added, %d cached)", catalog, g.Revision, res.Added, s.cache.Size())
	return StateOpen, nil
}

func (s *Session) abortOpen(ctx context.Context, err error, connected bool) (State, error) {
	if connected {
		if cerr := s.transport.Close(ctx); cerr != nil {
			glog.Warningf("session: close after failed open: %v", cerr)
		}
	}
	s.mu.Lock()
	if transport.IsFatal(err) {
		s.state = StateFailed
	} else {
		s.state = StateClosed
	}
	st := s.state
	s.mu.Unlock()
	glog.Errorf("session: open failed (now %s): %v", st, err)
	return st, fmt.Errorf("session: open: %w", err)
}

// Read fetches the subtree below root, merges it, and records root as an
// open context with scope.Domain. It returns the live root.
func (s *Session) Read(ctx context.Context, root uuid.UUID, scope transport.Scope) (*thing.Thing, error) {
	return s.ReadAsync(ctx, root, scope).Wait(ctx)
}

// ReadAsync is the non-blocking form of Read.
func (s *Session) ReadAsync(ctx context.Context, root uuid.UUID, scope transport.Scope) *Pending[*thing.Thing] {
	if err := s.requireOpen(); err != nil {
		return resolved[*thing.Thing](nil, err)
	}
	if root == uuid.Nil {
		return resolved[*thing.Thing](nil, errNilRoot)
	}
	return launch(ctx, s, "read", func(ctx context.Context) (*thing.Thing, error) {
		return s.read(ctx, root, scope)
	})
}

func (s *Session) read(ctx context.Context, root uuid.UUID, scope transport.Scope) (*thing.Thing, error) {
	g, err := s.transport.Fetch(ctx, transport.FetchRequest{Root: root, Scope: scope})
	if err != nil {
		s.noteFailure(err)
		return nil, fmt.Errorf("session: read %s: %w", root, err)
	}
	res := s.cache.MergeGraph(g)
	live, ok := s.cache.Get(root)
	if !ok {
		return nil, fmt.Errorf("session: read %s: root missing from response", root)
	}

	s.mu.Lock()
	if root != s.info.Catalog && s.state == StateOpen {
		oc := s.contexts[root]
		oc.domain = scope.Domain
		if g.Revision > oc.revision {
			oc.revision = g.Revision
		}
		s.contexts[root] = oc
	}
	s.mu.Unlock()
	s.trackRevision(root, g.Revision)

	glog.V(1).Infof("session: read %s at revision %d: %+v", live, g.Revision, res)
	return live, nil
}

// Refresh fetches what changed on every open root and the catalog since the
// last merged revision.
func (s *Session) Refresh(ctx context.Context) (cache.MergeResult, error) {
	return s.RefreshAsync(ctx).Wait(ctx)
}

// RefreshAsync is the non-blocking form of Refresh.
func (s *Session) RefreshAsync(ctx context.Context) *Pending[cache.MergeResult] {
	if err := s.requireOpen(); err != nil {
		return resolved(cache.MergeResult{}, err)
	}
	return launch(ctx, s, "refresh", func(ctx context.Context) (cache.MergeResult, error) {
		return s.sync(ctx, false)
	})
}

// Reload fetches every open root and the catalog in full, merges them
// unconditionally and drops cached Things the store no longer reports.
func (s *Session) Reload(ctx context.Context) (cache.MergeResult, error) {
	return s.ReloadAsync(ctx).Wait(ctx)
}

// ReloadAsync is the non-blocking form of Reload.
func (s *Session) ReloadAsync(ctx context.Context) *Pending[cache.MergeResult] {
	if err := s.requireOpen(); err != nil {
		return resolved(cache.MergeResult{}, err)
	}
	return launch(ctx, s, "reload", func(ctx context.Context) (cache.MergeResult, error) {
		return s.sync(ctx, true)
	})
}

// fetchPlan lists the catalog first, then every open root.
func (s *Session) fetchPlan(full bool) []transport.FetchRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	reqs := make([]transport.FetchRequest, 0, len(s.contexts)+1)
	catalog := transport.FetchRequest{Scope: transport.Scope{IncludeReferences: true}}
	if !full {
		catalog.Scope.SinceRevision = s.catalogRevision
	}
	reqs = append(reqs, catalog)
	for _, id := range s.sortedContextsLocked() {
		oc := s.contexts[id]
		req := transport.FetchRequest{Root: id, Scope: transport.Scope{Domain: oc.domain, IncludeReferences: true}}
		if !full {
			req.Scope.SinceRevision = oc.revision
		}
		reqs = append(reqs, req)
	}
	return reqs
}

func (s *Session) sync(ctx context.Context, full bool) (cache.MergeResult, error) {
	op := "refresh"
	if full {
		op = "reload"
	}
	reqs := s.fetchPlan(full)
	graphs := make([]thing.Graph, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fetchLimit)
	for i, req := range reqs {
		g.Go(func() error {
			graph, err := s.transport.Fetch(gctx, req)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", describeRoot(req.Root), err)
			}
			graphs[i] = graph
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.noteFailure(err)
		return cache.MergeResult{}, fmt.Errorf("session: %s: %w", op, err)
	}

	var total cache.MergeResult
	for i, graph := range graphs {
		if full {
			total.Add(s.cache.ReloadGraph(graph))
		} else {
			total.Add(s.cache.MergeGraph(graph))
		}
		root := reqs[i].Root
		if root == uuid.Nil {
			root = graph.Root
		}
		s.trackRevision(root, graph.Revision)
	}
	glog.V(1).Infof("session: %s of %d roots: %+v", op, len(reqs), total)
	return total, nil
}

// Write submits a finalized batch and merges the store's authoritative
// response. On conflict nothing is merged. If ctx ends while the submission
// is in flight the error wraps ErrOutcomeUnknown.
func (s *Session) Write(ctx context.Context, batch *txn.Batch) (Result, error) {
	return s.WriteAsync(ctx, batch).Wait(ctx)
}

// WriteAsync is the non-blocking form of Write. The batch is consumed when
// the submission is dispatched.
func (s *Session) WriteAsync(ctx context.Context, batch *txn.Batch) *Pending[Result] {
	if err := s.requireOpen(); err != nil {
		return resolved(Result{}, err)
	}
	if batch == nil {
		return resolved(Result{}, errNilBatch)
	}
	if err := ctx.Err(); err != nil {
		return resolved(Result{}, err)
	}
	if err := batch.Consume(); err != nil {
		return resolved(Result{}, err)
	}
	p := launch(ctx, s, "write", func(ctx context.Context) (Result, error) {
		return s.write(ctx, batch)
	})
	p.abandon = func(err error) error {
		return fmt.Errorf("%w: batch %s: %w", ErrOutcomeUnknown, batch.ID(), err)
	}
	return p
}

func (s *Session) write(ctx context.Context, batch *txn.Batch) (Result, error) {
	g, err := s.transport.Submit(ctx, batch)
	if err != nil {
		if errors.Is(err, transport.ErrConflict) {
			glog.Warningf("session: batch %s on %s@%d rejected as stale", batch.ID(), batch.ContextRoot(), batch.BaseRevision())
		} else {
			s.noteFailure(err)
		}
		return Result{}, fmt.Errorf("session: write %s: %w", batch.ID(), err)
	}
	res := s.cache.MergeGraph(g)
	s.trackRevision(batch.ContextRoot(), g.Revision)

	out := Result{Revision: g.Revision, Removed: g.Removed, Merge: res}
	for _, r := range g.Records {
		if live, ok := s.cache.Get(r.ID); ok {
			out.Things = append(out.Things, live)
		}
	}
	glog.V(1).Infof("session: batch %s committed %d operations at revision %d", batch.ID(), batch.Len(), g.Revision)
	return out, nil
}

// Close releases the connection and forgets the open roots. Cached Things
// stay readable but are no longer refreshed.
func (s *Session) Close(ctx context.Context) (State, error) {
	return s.CloseAsync(ctx).Wait(ctx)
}

// CloseAsync is the non-blocking form of Close.
func (s *Session) CloseAsync(ctx context.Context) *Pending[State] {
	s.mu.Lock()
	switch s.state {
	case StateOpen:
		s.state = StateClosing
	case StateOpening, StateClosing:
		st := s.state
		s.mu.Unlock()
		return resolved(st, ErrBusy)
	default:
		st := s.state
		s.mu.Unlock()
		return resolved(st, fmt.Errorf("%w (state %s)", ErrNotOpen, st))
	}
	s.mu.Unlock()
	return launch(ctx, s, "close", s.close)
}

func (s *Session) close(ctx context.Context) (State, error) {
	err := s.transport.Close(ctx)
	s.mu.Lock()
	s.contexts = make(map[uuid.UUID]openContext)
	s.state = StateClosed
	s.mu.Unlock()
	if err != nil {
		glog.Warningf("session: close: %v", err)
		return StateClosed, fmt.Errorf("session: close: %w", err)
	}
	glog.Infof("session: closed, %d things left stale in cache", s.cache.Size())
	return StateClosed, nil
}

func (s *Session) sortedContextsLocked() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(s.contexts))
	for id := range s.contexts {
		out = append(out, id)
	}
	sortIDs(out)
	return out
}

func describeRoot(id uuid.UUID) string {
	if id == uuid.Nil {
		return "catalog"
	}
	return id.String()
}
