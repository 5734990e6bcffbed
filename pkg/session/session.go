// Package session keeps a Thing cache synchronized with a remote store
// through a transport, and submits transaction batches against it.
package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"thingsync/pkg/cache"
	"thingsync/pkg/thing"
	"thingsync/pkg/transport"
)

// State of a session.
type State int

const (
	StateClosed State = iota
	StateOpening
	StateOpen
	StateClosing
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrNotOpen is returned, before any I/O, by operations that need an
	// open session.
	ErrNotOpen = errors.New("session: not open")
	// ErrBusy is returned when Open or Close is called during a transition.
	ErrBusy = errors.New("session: state transition in progress")
	// ErrFailed is returned by Open once the session hit a fatal transport
	// error.
	ErrFailed = errors.New("session: failed")
	// ErrOutcomeUnknown is returned when the wait for a dispatched write was
	// abandoned. The write may still commit remotely.
	ErrOutcomeUnknown = errors.New("session: write outcome unknown")
)

// Option configures a Session.
type Option func(*Session)

// WithCache shares an existing cache instead of creating one.
func WithCache(c *cache.Cache) Option {
	return func(s *Session) {
		if c != nil {
			s.cache = c
		}
	}
}

// WithMetricsRecorder installs a recorder observing every operation.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(s *Session) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithTracer installs a tracer spanning every operation.
func WithTracer(t Tracer) Option {
	return func(s *Session) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithFetchConcurrency bounds the fetches Refresh and Reload run at once.
func WithFetchConcurrency(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.fetchLimit = n
		}
	}
}

// openContext is the bookkeeping kept per open root.
type openContext struct {
	domain   uuid.UUID
	revision int64
}

// Session owns the cache and the connection to one remote store.
type Session struct {
	transport  transport.Transport
	cache      *cache.Cache
	metrics    MetricsRecorder
	tracer     Tracer
	fetchLimit int

	mu              sync.Mutex
	state           State
	info            transport.CatalogInfo
	catalogRevision int64
	contexts        map[uuid.UUID]openContext
}

// New returns a closed session talking through tr.
func New(tr transport.Transport, opts ...Option) *Session {
	s := &Session{
		transport:  tr,
		cache:      cache.New(),
		metrics:    noopMetrics{},
		tracer:     noopTracer{},
		fetchLimit: 4,
		contexts:   make(map[uuid.UUID]openContext),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Cache returns the shared cache. Callers read from it and clone; they never
// mutate live Things.
func (s *Session) Cache() *cache.Cache { return s.cache }

// Info returns what Connect reported.
func (s *Session) Info() transport.CatalogInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// Catalog returns the live catalog root once the session has been opened.
func (s *Session) Catalog() (*thing.Thing, bool) {
	s.mu.Lock()
	id := s.info.Catalog
	s.mu.Unlock()
	if id == uuid.Nil {
		return nil, false
	}
	return s.cache.Get(id)
}

// OpenContexts returns the ids of the roots read since Open, sorted.
func (s *Session) OpenContexts() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uuid.UUID, 0, len(s.contexts))
	for id := range s.contexts {
		out = append(out, id)
	}
	sortIDs(out)
	return out
}

func sortIDs(ids []uuid.UUID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
}

// Domain returns the domain an open root was read with.
func (s *Session) Domain(root uuid.UUID) (uuid.UUID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	oc, ok := s.contexts[root]
	return oc.domain, ok
}

// Revision returns the last revision merged for an open root.
func (s *Session) Revision(root uuid.UUID) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	oc, ok := s.contexts[root]
	return oc.revision, ok
}

func (s *Session) requireOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpen {
		return fmt.Errorf("%w (state %s)", ErrNotOpen, s.state)
	}
	return nil
}

// noteFailure moves an open or opening session to Failed on a fatal error.
func (s *Session) noteFailure(err error) {
	if !transport.IsFatal(err) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateOpen || s.state == StateOpening {
		s.state = StateFailed
	}
}

func (s *Session) trackRevision(root uuid.UUID, revision int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if root == s.info.Catalog {
		if revision > s.catalogRevision {
			s.catalogRevision = revision
		}
		return
	}
	if oc, ok := s.contexts[root]; ok && revision > oc.revision {
		oc.revision = revision
		s.contexts[root] = oc
	}
}
