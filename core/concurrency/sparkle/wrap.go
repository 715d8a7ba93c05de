package sparkle

import (
	"github.com/sushant-115/detdb/core/transaction"
)

// Granularity selects how the per-transaction bookkeeping is discarded on
// reset.
type Granularity uint8

const (
	// Whole replaces the read and write sets with fresh ones (Sparkle).
	Whole Granularity = iota
	// Split clears the read and write sets one by one and keeps their
	// allocations for the next attempt (Splice).
	Split
)

func (g Granularity) String() string {
	if g == Split {
		return "splice"
	}
	return "sparkle"
}

type readRec[I transaction.ID, V any] struct {
	value   V
	present bool
	ver     I // writer id of the version read, zero for the durable store
}

type writeRec[V any] struct {
	value     V
	present   bool
	published bool
}

// aux is what the protocol remembers about one attempt of a transaction.
// A key in writes shadows the same key in reads.
type aux[I transaction.ID, K comparable, V any] struct {
	reads     map[K]readRec[I, V]
	writes    map[K]*writeRec[V]
	order     []K // write keys in first-write order
	published bool
}

func newAux[I transaction.ID, K comparable, V any]() aux[I, K, V] {
	return aux[I, K, V]{
		reads:  make(map[K]readRec[I, V]),
		writes: make(map[K]*writeRec[V]),
	}
}

// local serves key from the attempt's own writes, then its own reads.
func (a *aux[I, K, V]) local(key K) (val V, present bool, ok bool) {
	if w, ok := a.writes[key]; ok {
		return w.value, w.present, true
	}
	if r, ok := a.reads[key]; ok {
		return r.value, r.present, true
	}
	return val, false, false
}

func (a *aux[I, K, V]) clear(g Granularity) {
	if g == Whole {
		*a = newAux[I, K, V]()
		return
	}
	clear(a.reads)
	clear(a.writes)
	a.order = a.order[:0]
	a.published = false
}

// txn is a transaction as the protocol sees it: the submitted transaction
// plus the bookkeeping of its current attempt.
type txn[I transaction.ID, K comparable, V any, O any] struct {
	inner transaction.Txn[I, K, V, O]
	aux   aux[I, K, V]
}

func (t *txn[I, K, V, O]) ID() I {
	return t.inner.ID()
}

func (t *txn[I, K, V, O]) Go() (transaction.Txn[I, K, V, O], transaction.Event[K, V]) {
	inner, ev := t.inner.Go()
	t.inner = inner
	return t, ev
}

func (t *txn[I, K, V, O]) Op() transaction.Txn[I, K, V, O] {
	t.inner = t.inner.Op()
	return t
}

func (t *txn[I, K, V, O]) Rd(m transaction.Mapping[K, V]) transaction.Txn[I, K, V, O] {
	t.inner = t.inner.Rd(m)
	return t
}

func (t *txn[I, K, V, O]) Wr() transaction.Txn[I, K, V, O] {
	t.inner = t.inner.Wr()
	return t
}

func (t *txn[I, K, V, O]) Cl() (O, bool) {
	return t.inner.Cl()
}

func (t *txn[I, K, V, O]) Checkpoint() transaction.Checkpoint {
	return t.inner.Checkpoint()
}

func (t *txn[I, K, V, O]) Restore(c transaction.Checkpoint) transaction.Txn[I, K, V, O] {
	t.inner = t.inner.Restore(c)
	return t
}
