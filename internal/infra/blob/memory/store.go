// Package memory implements an in-process archive store.
package memory

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"thingsync/internal/archive/core"
)

type object struct {
	entry core.Entry
	data  []byte
}

// Store keeps objects in a map guarded by a RWMutex.
type Store struct {
	mu    sync.RWMutex
	objs  map[string]object
	nowFn func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{objs: make(map[string]object), nowFn: func() time.Time { return time.Now().UTC() }}
}

// Driver reports core.DriverMemory.
func (s *Store) Driver() core.Driver { return core.DriverMemory }

// Write stores the object, replacing any previous version.
func (s *Store) Write(_ context.Context, key string, r io.Reader, opts core.WriteOptions) (core.Entry, error) {
	k, err := core.CleanKey(key)
	if err != nil {
		return core.Entry{}, err
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return core.Entry{}, fmt.Errorf("read %s: %w", k, err)
	}
	sum := sha256.Sum256(b)
	entry := core.Entry{
		Key:          k,
		Size:         int64(len(b)),
		ContentType:  opts.ContentType,
		Digest:       hex.EncodeToString(sum[:]),
		Metadata:     core.CloneMetadata(opts.Metadata),
		LastModified: s.nowFn(),
	}
	s.mu.Lock()
	s.objs[k] = object{entry: entry, data: b}
	s.mu.Unlock()
	return copyEntry(entry), nil
}

// Read returns the object and a reader over a private copy of its bytes.
func (s *Store) Read(_ context.Context, key string) (core.Entry, io.ReadCloser, error) {
	obj, err := s.lookup(key)
	if err != nil {
		return core.Entry{}, nil, err
	}
	data := make([]byte, len(obj.data))
	copy(data, obj.data)
	return copyEntry(obj.entry), io.NopCloser(bytes.NewReader(data)), nil
}

// Stat returns the object's entry.
func (s *Store) Stat(_ context.Context, key string) (core.Entry, error) {
	obj, err := s.lookup(key)
	if err != nil {
		return core.Entry{}, err
	}
	return copyEntry(obj.entry), nil
}

// Delete removes the object and reports whether it existed.
func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	k, err := core.CleanKey(key)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objs[k]
	delete(s.objs, k)
	return ok, nil
}

// List returns the entries under prefix ordered by key.
func (s *Store) List(_ context.Context, prefix string) ([]core.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Entry, 0, len(s.objs))
	for k, obj := range s.objs {
		if strings.HasPrefix(k, prefix) {
			out = append(out, copyEntry(obj.entry))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Store) lookup(key string) (object, error) {
	k, err := core.CleanKey(key)
	if err != nil {
		return object{}, err
	}
	s.mu.RLock()
	obj, ok := s.objs[k]
	s.mu.RUnlock()
	if !ok {
		return object{}, fmt.Errorf("%w: %s", core.ErrNotFound, k)
	}
	return obj, nil
}

func copyEntry(e core.Entry) core.Entry {
	e.Metadata = core.CloneMetadata(e.Metadata)
	return e
}
