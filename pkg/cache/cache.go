// Package cache holds the single live instance of every Thing a session has
// seen. All writes go through one lock so merges from concurrently finishing
// operations never interleave.
package cache

import (
	"sort"
	"sync"

	"github.com/golang/glog"
	"github.com/google/uuid"

	"thingsync/pkg/thing"
)

// MergeResult summarizes one merge.
type MergeResult struct {
	Added   int
	Updated int
	Skipped int
	Removed int
	// Missing lists referenced ids that could not be resolved in the cache.
	Missing []uuid.UUID
}

// Add accumulates o into r.
func (r *MergeResult) Add(o MergeResult) {
	r.Added += o.Added
	r.Updated += o.Updated
	r.Skipped += o.Skipped
	r.Removed += o.Removed
	r.Missing = append(r.Missing, o.Missing...)
}

// Cache maps ids to live Things. Overwrites happen in place: a pointer handed
// out by Get keeps observing later merges. While an operation may be merging,
// live Things are only read inside View or copied with Clone.
type Cache struct {
	mu     sync.RWMutex
	things map[uuid.UUID]*thing.Thing
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{things: make(map[uuid.UUID]*thing.Thing)}
}

// Get returns the live instance for id.
func (c *Cache) Get(id uuid.UUID) (*thing.Thing, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.things[id]
	return t, ok
}

// Clone copies the live Thing with the given id while merges are held off.
// See thing.Clone for what deep means.
func (c *Cache) Clone(id uuid.UUID, deep bool) (*thing.Thing, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.things[id]
	if !ok {
		return nil, false
	}
	return thing.Clone(t, deep), true
}

// View runs fn while merges are held off. fn must not call back into c.
func (c *Cache) View(fn func()) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fn()
}

// Size returns the number of cached Things.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.things)
}

// Each calls fn for every cached Thing in id order until fn returns false.
// fn runs outside the lock.
func (c *Cache) Each(fn func(*thing.Thing) bool) {
	for _, t := range c.sorted() {
		if !fn(t) {
			return
		}
	}
}

// OfKind returns the cached Things of the given kind in id order.
func (c *Cache) OfKind(kind thing.Kind) []*thing.Thing {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*thing.Thing
	for _, id := range c.idsLocked() {
		if t := c.things[id]; t.Kind == kind {
			out = append(out, t)
		}
	}
	return out
}

// Snapshot serializes every cached Thing, ordered by id.
func (c *Cache) Snapshot() []thing.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := c.idsLocked()
	out := make([]thing.Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, thing.ToRecord(c.things[id]))
	}
	return out
}

func (c *Cache) sorted() []*thing.Thing {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := c.idsLocked()
	out := make([]*thing.Thing, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.things[id])
	}
	return out
}

func (c *Cache) idsLocked() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(c.things))
	for id := range c.things {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// Put registers t, or overwrites the live instance with t's content.
func (c *Cache) Put(t *thing.Thing) *thing.Thing {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mergeLocked([]thing.Record{thing.ToRecord(t)}, true)
	return c.things[t.ID]
}

// Merge puts every Thing in one step.
func (c *Cache) Merge(things []*thing.Thing) MergeResult {
	records := make([]thing.Record, 0, len(things))
	for _, t := range things {
		records = append(records, thing.ToRecord(t))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mergeLocked(records, true)
}

// MergeGraph applies a graph received from the remote store. Records older
// than the cached revision are skipped so a late response cannot roll back a
// newer one; removed ids are dropped.
func (c *Cache) MergeGraph(g thing.Graph) MergeResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	res := c.mergeLocked(g.Records, false)
	for _, id := range g.Removed {
		if c.removeLocked(id) {
			res.Removed++
		}
	}
	return res
}

// ReloadGraph applies g unconditionally and drops every cached Thing below
// g.Root that g no longer reports.
func (c *Cache) ReloadGraph(g thing.Graph) MergeResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	var stale []uuid.UUID
	if _, ok := c.things[g.Root]; ok {
		reported := make(map[uuid.UUID]struct{}, len(g.Records))
		for _, r := range g.Records {
			reported[r.ID] = struct{}{}
		}
		// container links are followed upwards so a Thing already dropped
		// from its parent's collection by an earlier merge is still found
		for _, id := range c.idsLocked() {
			if _, ok := reported[id]; ok {
				continue
			}
			if below(c.things[id], g.Root) {
				stale = append(stale, id)
			}
		}
	}
	res := c.mergeLocked(g.Records, true)
	for _, id := range append(stale, g.Removed...) {
		if c.removeLocked(id) {
			res.Removed++
		}
	}
	return res
}

// Remove drops the Thing with the given id and detaches it from its container.
func (c *Cache) Remove(id uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeLocked(id)
}

// RemoveSubtree drops the Thing and everything contained below it.
func (c *Cache) RemoveSubtree(id uuid.UUID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.things[id]
	if !ok {
		return 0
	}
	var ids []uuid.UUID
	t.Walk(func(n *thing.Thing) bool {
		ids = append(ids, n.ID)
		return true
	})
	n := 0
	for i := len(ids) - 1; i >= 0; i-- {
		if c.removeLocked(ids[i]) {
			n++
		}
	}
	return n
}

// Clear drops every Thing.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.things = make(map[uuid.UUID]*thing.Thing)
}

func (c *Cache) removeLocked(id uuid.UUID) bool {
	t, ok := c.things[id]
	if !ok {
		return false
	}
	if parent := t.Container(); parent != nil {
		parent.Release(t)
	}
	delete(c.things, id)
	return true
}

func below(t *thing.Thing, root uuid.UUID) bool {
	for n := t; n != nil; n = n.Container() {
		if n.ID == root {
			return true
		}
	}
	return false
}

func (c *Cache) resolve(id uuid.UUID) (*thing.Thing, bool) {
	t, ok := c.things[id]
	return t, ok
}

func (c *Cache) mergeLocked(records []thing.Record, force bool) MergeResult {
	var res MergeResult
	applied := make([]thing.Record, 0, len(records))
	for _, r := range records {
		live, ok := c.things[r.ID]
		if !ok {
			c.things[r.ID] = thing.FromRecord(r)
			res.Added++
			applied = append(applied, r)
			continue
		}
		if !force && live.Revision > r.Revision {
			glog.V(2).Infof("cache: skip %s at revision %d, cached %d", live, r.Revision, live.Revision)
			res.Skipped++
			continue
		}
		if parent := live.Container(); parent != nil && parent.ID != r.Container {
			parent.Release(live)
		}
		live.Assign(r)
		res.Updated++
		applied = append(applied, r)
	}
	for _, r := range applied {
		live := c.things[r.ID]
		res.Missing = append(res.Missing, live.Relink(r, c.resolve)...)
	}
	// a child whose container was not part of the merge still has to show up
	// in the container's collection
	for _, r := range applied {
		live := c.things[r.ID]
		if parent := live.Container(); parent != nil && !parent.Contains(live) {
			parent.Adopt(live)
		}
	}
	if len(res.Missing) > 0 {
		glog.V(1).Infof("cache: %d unresolved references after merging %d records", len(res.Missing), len(records))
	}
	return res
}
