package ordered

import (
	"errors"
	"reflect"
	"testing"
)

func mustList(t *testing.T, items ...Item[string]) *List[string] {
	t.Helper()
	l, err := New(items...)
	if err != nil {
		t.Fatalf("new list: %v", err)
	}
	return l
}

func TestInsertAssignsIncreasingKeys(t *testing.T) {
	var l List[string]
	if k := l.Insert("a"); k != 0 {
		t.Fatalf("expected first key 0, got %d", k)
	}
	if k := l.Insert("b"); k != 1 {
		t.Fatalf("expected second key 1, got %d", k)
	}
	if err := l.Remove(0); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if k := l.Insert("c"); k != 2 {
		t.Fatalf("expected key above highest remaining, got %d", k)
	}
	if got := l.Values(); !reflect.DeepEqual(got, []string{"b", "c"}) {
		t.Fatalf("unexpected values %v", got)
	}
}

func TestInsertAt(t *testing.T) {
	l := mustList(t, Item[string]{Key: 0, Value: "a"}, Item[string]{Key: 1, Value: "c"})
	key, err := l.InsertAt(1, "b")
	if err != nil {
		t.Fatalf("insert at: %v", err)
	}
	if key != 2 {
		t.Fatalf("expected fresh key 2, got %d", key)
	}
	if got := l.Values(); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("unexpected values %v", got)
	}
	if _, err := l.InsertAt(5, "x"); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected out of range, got %v", err)
	}
}

func TestRemoveMissingKey(t *testing.T) {
	l := mustList(t, Item[string]{Key: 4, Value: "a"})
	if err := l.Remove(9); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected key not found, got %v", err)
	}
	if l.Len() != 1 {
		t.Fatalf("list changed on failed remove")
	}
}

func TestMove(t *testing.T) {
	cases := []struct {
		name     string
		from, to int
		want     []string
		keys     []int64
	}{
		{name: "forward", from: 0, to: 2, want: []string{"b", "c", "a", "d"}, keys: []int64{1, 2, 0, 3}},
		{name: "backward", from: 3, to: 1, want: []string{"a", "d", "b", "c"}, keys: []int64{0, 3, 1, 2}},
		{name: "self", from: 2, to: 2, want: []string{"a", "b", "c", "d"}, keys: []int64{0, 1, 2, 3}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var l List[string]
			for _, v := range []string{"a", "b", "c", "d"} {
				l.Insert(v)
			}
			if err := l.Move(tc.from, tc.to); err != nil {
				t.Fatalf("move: %v", err)
			}
			if got := l.Values(); !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("values: want %v got %v", tc.want, got)
			}
			if got := l.Keys(); !reflect.DeepEqual(got, tc.keys) {
				t.Fatalf("keys: want %v got %v", tc.keys, got)
			}
		})
	}
}

func TestMoveOutOfRangeLeavesListUnchanged(t *testing.T) {
	l := mustList(t, Item[string]{Key: 0, Value: "a"}, Item[string]{Key: 1, Value: "b"})
	before := l.Items()
	for _, pair := range [][2]int{{-1, 0}, {0, 2}, {2, 0}, {1, -3}} {
		if err := l.Move(pair[0], pair[1]); !errors.Is(err, ErrOutOfRange) {
			t.Fatalf("move %v: expected out of range, got %v", pair, err)
		}
	}
	if !reflect.DeepEqual(before, l.Items()) {
		t.Fatalf("list mutated by failed move: %v", l.Items())
	}
	var empty List[string]
	if err := empty.Move(0, 0); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected out of range on empty list, got %v", err)
	}
}

func TestAddItemsSortsByKeyAndRejectsDuplicates(t *testing.T) {
	var l List[string]
	if err := l.AddItems([]Item[string]{{Key: 7, Value: "z"}, {Key: 2, Value: "x"}}); err != nil {
		t.Fatalf("add items: %v", err)
	}
	if got := l.Values(); !reflect.DeepEqual(got, []string{"x", "z"}) {
		t.Fatalf("expected key order, got %v", got)
	}
	if err := l.AddItems([]Item[string]{{Key: 3, Value: "y"}, {Key: 7, Value: "dup"}}); !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("expected duplicate key error, got %v", err)
	}
	if l.Len() != 2 {
		t.Fatalf("failed add items changed list: %v", l.Items())
	}
}

type node struct{ id string }

func TestRebuildPreservesKeysThenRotates(t *testing.T) {
	a, b := &node{id: "A"}, &node{id: "B"}
	original, err := New(Item[*node]{Key: 0, Value: a}, Item[*node]{Key: 1, Value: b})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	identity := func(n *node) string { return n.id }
	keys := CaptureKeys(original, identity)

	// a rebuilt copy holds fresh instances with the same identities
	a2, b2 := &node{id: "A"}, &node{id: "B"}
	rebuilt := &List[*node]{}
	rebuilt.Insert(b2) // provisional ordering and keys are discarded
	rebuilt.Insert(a2)
	if err := Rebuild(rebuilt, rebuilt.Values(), keys, identity); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if err := rebuilt.Move(1, 0); err != nil {
		t.Fatalf("move: %v", err)
	}
	items := rebuilt.Items()
	if len(items) != 2 || items[0].Key != 1 || items[0].Value.id != "B" || items[1].Key != 0 || items[1].Value.id != "A" {
		t.Fatalf("expected {(1,B),(0,A)}, got %+v %+v", items[0], items[1])
	}
}

func TestRebuildAssignsFreshKeysAboveCapturedRange(t *testing.T) {
	l := mustList(t, Item[string]{Key: 5, Value: "a"})
	keys := CaptureKeys(l, func(s string) string { return s })
	if err := Rebuild(l, []string{"new", "a"}, keys, func(s string) string { return s }); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if got := l.Items(); !reflect.DeepEqual(got, []Item[string]{{Key: 5, Value: "a"}, {Key: 6, Value: "new"}}) {
		t.Fatalf("unexpected items %v", got)
	}
}

func TestMapKeepsKeys(t *testing.T) {
	l := mustList(t, Item[string]{Key: 3, Value: "a"}, Item[string]{Key: 9, Value: "bb"})
	lengths := Map(l, func(s string) int { return len(s) })
	if got := lengths.Items(); !reflect.DeepEqual(got, []Item[int]{{Key: 3, Value: 1}, {Key: 9, Value: 2}}) {
		t.Fatalf("unexpected mapped items %v", got)
	}
}

func TestRemoveFunc(t *testing.T) {
	l := mustList(t, Item[string]{Key: 0, Value: "a"}, Item[string]{Key: 1, Value: "b"}, Item[string]{Key: 2, Value: "a"})
	if n := l.RemoveFunc(func(s string) bool { return s == "a" }); n != 2 {
		t.Fatalf("expected 2 removed, got %d", n)
	}
	if got := l.Keys(); !reflect.DeepEqual(got, []int64{1}) {
		t.Fatalf("unexpected keys %v", got)
	}
}
