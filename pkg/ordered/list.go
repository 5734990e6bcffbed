// Package ordered provides a keyed sequence whose integer keys stay attached
// to their values across inserts, removals and reorders.
package ordered

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrOutOfRange is returned when a position is outside [0, Len()).
	ErrOutOfRange = errors.New("ordered: position out of range")
	// ErrKeyNotFound is returned when a key is not present in the list.
	ErrKeyNotFound = errors.New("ordered: key not found")
	// ErrDuplicateKey is returned when AddItems would bind the same key twice.
	ErrDuplicateKey = errors.New("ordered: duplicate key")
)

// Item binds a stable key to a value.
type Item[T any] struct {
	Key   int64 `json:"k"`
	Value T     `json:"v"`
}

// List is a sequence of items. Iteration follows position; keys are labels
// that survive moves. A list laid out by AddItems is in ascending key order.
// The zero value is an empty list ready to use. List is not safe for
// concurrent mutation.
type List[T any] struct {
	items []Item[T]
}

// New returns a list holding the given items laid out by key.
func New[T any](items ...Item[T]) (*List[T], error) {
	l := &List[T]{}
	if err := l.AddItems(items); err != nil {
		return nil, err
	}
	return l, nil
}

// Len returns the number of items.
func (l *List[T]) Len() int { return len(l.items) }

func (l *List[T]) nextKey() int64 {
	if len(l.items) == 0 {
		return 0
	}
	highest := l.items[0].Key
	for _, it := range l.items[1:] {
		if it.Key > highest {
			highest = it.Key
		}
	}
	return highest + 1
}

// Insert appends v and returns the key assigned to it.
func (l *List[T]) Insert(v T) int64 {
	key := l.nextKey()
	l.items = append(l.items, Item[T]{Key: key, Value: v})
	return key
}

// InsertAt places v at position pos (0 <= pos <= Len()) and returns its key.
func (l *List[T]) InsertAt(pos int, v T) (int64, error) {
	if pos < 0 || pos > len(l.items) {
		return 0, fmt.Errorf("%w: insert at %d with %d items", ErrOutOfRange, pos, len(l.items))
	}
	key := l.nextKey()
	l.items = append(l.items, Item[T]{})
	copy(l.items[pos+1:], l.items[pos:])
	l.items[pos] = Item[T]{Key: key, Value: v}
	return key, nil
}

// Remove deletes the item bound to key.
func (l *List[T]) Remove(key int64) error {
	pos := l.indexOf(key)
	if pos < 0 {
		return fmt.Errorf("%w: %d", ErrKeyNotFound, key)
	}
	l.items = append(l.items[:pos], l.items[pos+1:]...)
	return nil
}

// RemoveFunc deletes every item whose value matches and reports how many went.
func (l *List[T]) RemoveFunc(match func(T) bool) int {
	kept := l.items[:0]
	removed := 0
	for _, it := range l.items {
		if match(it.Value) {
			removed++
			continue
		}
		kept = append(kept, it)
	}
	var zero Item[T]
	for i := len(kept); i < len(l.items); i++ {
		l.items[i] = zero
	}
	l.items = kept
	return removed
}

// Move relocates the item at position from to position to, shifting the
// items in between by one. Keys travel with their values.
func (l *List[T]) Move(from, to int) error {
	n := len(l.items)
	if from < 0 || from >= n || to < 0 || to >= n {
		return fmt.Errorf("%w: move %d->%d with %d items", ErrOutOfRange, from, to, n)
	}
	if from == to {
		return nil
	}
	it := l.items[from]
	if from < to {
		copy(l.items[from:to], l.items[from+1:to+1])
	} else {
		copy(l.items[to+1:from+1], l.items[to:from])
	}
	l.items[to] = it
	return nil
}

// Get returns the value bound to key.
func (l *List[T]) Get(key int64) (T, bool) {
	pos := l.indexOf(key)
	if pos < 0 {
		var zero T
		return zero, false
	}
	return l.items[pos].Value, true
}

// Set rebinds key to v in place and reports whether key was present.
func (l *List[T]) Set(key int64, v T) bool {
	pos := l.indexOf(key)
	if pos < 0 {
		return false
	}
	l.items[pos].Value = v
	return true
}

// At returns the item at position pos.
func (l *List[T]) At(pos int) (Item[T], error) {
	if pos < 0 || pos >= len(l.items) {
		return Item[T]{}, fmt.Errorf("%w: %d with %d items", ErrOutOfRange, pos, len(l.items))
	}
	return l.items[pos], nil
}

// Values returns the values in position order.
func (l *List[T]) Values() []T {
	out := make([]T, len(l.items))
	for i, it := range l.items {
		out[i] = it.Value
	}
	return out
}

// Items returns a copy of the items in position order.
func (l *List[T]) Items() []Item[T] {
	out := make([]Item[T], len(l.items))
	copy(out, l.items)
	return out
}

// Keys returns the keys in position order.
func (l *List[T]) Keys() []int64 {
	out := make([]int64, len(l.items))
	for i, it := range l.items {
		out[i] = it.Key
	}
	return out
}

// Clear empties the list.
func (l *List[T]) Clear() { l.items = nil }

// AddItems merges items into the list and lays the result out in ascending
// key order. Nothing changes when a key would be bound twice.
func (l *List[T]) AddItems(items []Item[T]) error {
	seen := make(map[int64]struct{}, len(l.items)+len(items))
	for _, it := range l.items {
		seen[it.Key] = struct{}{}
	}
	for _, it := range items {
		if _, dup := seen[it.Key]; dup {
			return fmt.Errorf("%w: %d", ErrDuplicateKey, it.Key)
		}
		seen[it.Key] = struct{}{}
	}
	merged := make([]Item[T], 0, len(l.items)+len(items))
	merged = append(merged, l.items...)
	merged = append(merged, items...)
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Key < merged[j].Key })
	l.items = merged
	return nil
}

// Reset replaces the content with items, keeping the given positions.
func (l *List[T]) Reset(items []Item[T]) error {
	seen := make(map[int64]struct{}, len(items))
	for _, it := range items {
		if _, dup := seen[it.Key]; dup {
			return fmt.Errorf("%w: %d", ErrDuplicateKey, it.Key)
		}
		seen[it.Key] = struct{}{}
	}
	l.items = append(make([]Item[T], 0, len(items)), items...)
	return nil
}

// Map returns a new list holding fn applied to every value, keys and
// positions unchanged.
func Map[T, U any](l *List[T], fn func(T) U) *List[U] {
	out := &List[U]{items: make([]Item[U], len(l.items))}
	for i, it := range l.items {
		out.items[i] = Item[U]{Key: it.Key, Value: fn(it.Value)}
	}
	return out
}

func (l *List[T]) indexOf(key int64) int {
	for i, it := range l.items {
		if it.Key == key {
			return i
		}
	}
	return -1
}
