package transaction

// Entry is one key of a Mapping. Present=false means the key has no value:
// a delete when written, never included when read.
type Entry[K comparable, V any] struct {
	Key     K
	Value   V
	Present bool
}

// Put builds an entry that sets key to val.
func Put[K comparable, V any](key K, val V) Entry[K, V] {
	return Entry[K, V]{Key: key, Value: val, Present: true}
}

// Del builds an entry that deletes key.
func Del[K comparable, V any](key K) Entry[K, V] {
	return Entry[K, V]{Key: key}
}

// Mapping is a batch of key to optional-value entries exchanged between a
// transaction and the protocol driving it.
type Mapping[K comparable, V any] []Entry[K, V]

// Lookup returns the last entry for key. found reports whether the key is in
// the batch at all.
func (m Mapping[K, V]) Lookup(key K) (val V, present bool, found bool) {
	for i := len(m) - 1; i >= 0; i-- {
		if m[i].Key == key {
			return m[i].Value, m[i].Present, true
		}
	}
	return val, false, false
}

// Keys lists the keys of the batch in order.
func (m Mapping[K, V]) Keys() []K {
	keys := make([]K, 0, len(m))
	for _, e := range m {
		keys = append(keys, e.Key)
	}
	return keys
}

// Proposition selects the data a read wants to observe.
type Proposition[K comparable, V any] interface {
	// Keys returns the selected keys when the proposition is an indexing
	// query. ok is false for pure filters.
	Keys() (keys []K, ok bool)
	// Match reports whether a stored pair satisfies the proposition.
	Match(key K, val V) bool
}

// KeySet is an indexing proposition over a fixed list of keys.
type KeySet[K comparable, V any] []K

func (s KeySet[K, V]) Keys() ([]K, bool) {
	return s, true
}

func (s KeySet[K, V]) Match(key K, _ V) bool {
	for _, k := range s {
		if k == key {
			return true
		}
	}
	return false
}

// Filter is a non-indexing proposition; it can only be served by a scan.
type Filter[K comparable, V any] func(key K, val V) bool

func (f Filter[K, V]) Keys() ([]K, bool) {
	return nil, false
}

func (f Filter[K, V]) Match(key K, val V) bool {
	return f(key, val)
}
