// Package memory implements the transactional record store behind the
// reference remote. Durable backends embed it and snapshot its state after
// every committed transaction.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"thingsync/pkg/thing"
)

var (
	// ErrNotFound is returned when a record id is unknown.
	ErrNotFound = errors.New("memory: record not found")
	// ErrExists is returned when creating a record whose id is taken.
	ErrExists = errors.New("memory: record already exists")
)

// Tombstone remembers a deleted record so delta fetches can report it.
type Tombstone struct {
	ID       uuid.UUID `json:"id"`
	Root     uuid.UUID `json:"root"`
	Revision int64     `json:"revision"`
}

// Snapshot is the exported form of the store state.
type Snapshot struct {
	Catalog    uuid.UUID                  `json:"catalog"`
	Records    map[uuid.UUID]thing.Record `json:"records"`
	Tombstones []Tombstone                `json:"tombstones,omitempty"`
}

// Action names the kind of a Change.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Change describes one record mutation within a transaction.
type Change struct {
	Action Action
	ID     uuid.UUID
	Before *thing.Record
	After  *thing.Record
}

type state struct {
	catalog    uuid.UUID
	records    map[uuid.UUID]thing.Record
	tombstones []Tombstone
}

func newState() state {
	return state{records: make(map[uuid.UUID]thing.Record)}
}

func (s state) clone() state {
	cloned := newState()
	cloned.catalog = s.catalog
	for id, r := range s.records {
		cloned.records[id] = r.Clone()
	}
	cloned.tombstones = append([]Tombstone(nil), s.tombstones...)
	return cloned
}

// Store is an in-memory transactional store of records.
type Store struct {
	mu    sync.RWMutex
	state state
	nowFn func() time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		state: newState(),
		nowFn: func() time.Time { return time.Now().UTC() },
	}
}

// Transaction is a mutable copy of the state. It replaces the live state
// only when the transaction function returns nil.
type Transaction struct {
	state   state
	changes []Change
	now     time.Time
}

// RunInTransaction executes fn within a transactional copy of the store state.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx *Transaction) error) ([]Change, error) {
	return s.RunInTransactionThen(ctx, fn, nil)
}

// RunInTransactionThen is RunInTransaction with a commit step. commit sees the
// transaction's final state and the live state is replaced only when it
// returns nil. The snapshot is only valid during the call.
func (s *Store) RunInTransactionThen(ctx context.Context, fn func(tx *Transaction) error, commit func(Snapshot) error) ([]Change, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Transaction{state: s.state.clone(), now: s.nowFn()}
	if err := fn(tx); err != nil {
		return nil, err
	}
	if commit != nil {
		snapshot := Snapshot{Catalog: tx.state.catalog, Records: tx.state.records, Tombstones: tx.state.tombstones}
		if err := commit(snapshot); err != nil {
			return nil, err
		}
	}
	s.state = tx.state
	return tx.changes, nil
}

// View executes fn against the current state under a read lock.
func (s *Store) View(ctx context.Context, fn func(View) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(View{state: &s.state})
}

// ExportState returns a deep copy of the state.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := s.state.clone()
	return Snapshot{Catalog: cp.catalog, Records: cp.records, Tombstones: cp.tombstones}
}

// ImportState replaces the state with a copy of snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = fromSnapshot(snapshot)
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }

func fromSnapshot(snapshot Snapshot) state {
	st := newState()
	st.catalog = snapshot.Catalog
	for id, r := range snapshot.Records {
		st.records[id] = r.Clone()
	}
	st.tombstones = append([]Tombstone(nil), snapshot.Tombstones...)
	return st
}

// Now returns the commit time of the transaction.
func (tx *Transaction) Now() time.Time { return tx.now }

// Catalog returns the id of the catalog root.
func (tx *Transaction) Catalog() uuid.UUID { return tx.state.catalog }

// SetCatalog marks id as the catalog root.
func (tx *Transaction) SetCatalog(id uuid.UUID) { tx.state.catalog = id }

// Get returns a copy of the record.
func (tx *Transaction) Get(id uuid.UUID) (thing.Record, bool) {
	r, ok := tx.state.records[id]
	if !ok {
		return thing.Record{}, false
	}
	return r.Clone(), true
}

// Create stores a new record.
func (tx *Transaction) Create(r thing.Record) error {
	if _, exists := tx.state.records[r.ID]; exists {
		return fmt.Errorf("%w: %s", ErrExists, r.ID)
	}
	tx.state.records[r.ID] = r.Clone()
	after := r.Clone()
	tx.changes = append(tx.changes, Change{Action: ActionCreate, ID: r.ID, After: &after})
	return nil
}

// Update replaces an existing record.
func (tx *Transaction) Update(r thing.Record) error {
	current, ok := tx.state.records[r.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, r.ID)
	}
	tx.state.records[r.ID] = r.Clone()
	after := r.Clone()
	tx.changes = append(tx.changes, Change{Action: ActionUpdate, ID: r.ID, Before: &current, After: &after})
	return nil
}

// Delete removes a record and returns its last content.
func (tx *Transaction) Delete(id uuid.UUID) (thing.Record, error) {
	current, ok := tx.state.records[id]
	if !ok {
		return thing.Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(tx.state.records, id)
	tx.changes = append(tx.changes, Change{Action: ActionDelete, ID: id, Before: &current})
	return current.Clone(), nil
}

// Bury records a tombstone.
func (tx *Transaction) Bury(t Tombstone) {
	tx.state.tombstones = append(tx.state.tombstones, t)
}

// Reset replaces the whole state with snapshot inside the transaction.
func (tx *Transaction) Reset(snapshot Snapshot) {
	tx.state = fromSnapshot(snapshot)
	tx.changes = nil
}

// Changes returns the mutations recorded so far.
func (tx *Transaction) Changes() []Change {
	return append([]Change(nil), tx.changes...)
}

// View is a read-only window on the state.
type View struct {
	state *state
}

// Catalog returns the id of the catalog root.
func (v View) Catalog() uuid.UUID { return v.state.catalog }

// Len returns the number of records.
func (v View) Len() int { return len(v.state.records) }

// Get returns a copy of the record.
func (v View) Get(id uuid.UUID) (thing.Record, bool) {
	r, ok := v.state.records[id]
	if !ok {
		return thing.Record{}, false
	}
	return r.Clone(), true
}

// IDs returns every record id, sorted.
func (v View) IDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(v.state.records))
	for id := range v.state.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// TombstonesSince returns tombstones of root newer than revision.
func (v View) TombstonesSince(root uuid.UUID, revision int64) []Tombstone {
	var out []Tombstone
	for _, t := range v.state.tombstones {
		if t.Root == root && t.Revision > revision {
			out = append(out, t)
		}
	}
	return out
}
