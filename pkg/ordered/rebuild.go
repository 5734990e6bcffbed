package ordered

// CaptureKeys records the key currently bound to each value, indexed by the
// value's identity. Take it before a list is rebuilt so Rebuild can restore
// the original keys.
func CaptureKeys[T any, I comparable](l *List[T], identity func(T) I) map[I]int64 {
	keys := make(map[I]int64, len(l.items))
	for _, it := range l.items {
		keys[identity(it.Value)] = it.Key
	}
	return keys
}

// Rebuild replaces the content of l with values. Every value whose identity
// was captured gets its original key back; the others get fresh keys above
// the captured range in the order they were supplied. The committed list is
// laid out in key order.
func Rebuild[T any, I comparable](l *List[T], values []T, keys map[I]int64, identity func(T) I) error {
	var next int64
	for _, k := range keys {
		if k >= next {
			next = k + 1
		}
	}
	items := make([]Item[T], 0, len(values))
	for _, v := range values {
		key, ok := keys[identity(v)]
		if !ok {
			key = next
			next++
		}
		items = append(items, Item[T]{Key: key, Value: v})
	}
	staged := &List[T]{}
	if err := staged.AddItems(items); err != nil {
		return err
	}
	l.items = staged.items
	return nil
}
