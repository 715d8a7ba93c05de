// Package transaction defines the resumable transaction contract shared by the
// concurrency-control protocols, the durability stores and the service.
package transaction

// ID is the ordering key of a transaction. Lower ids have higher priority and
// must commit earlier. The zero value is reserved for "as provided by the
// durable store" and is never assigned to a submitted transaction.
type ID interface {
	~uint | ~uint16 | ~uint32 | ~uint64 | ~int | ~int16 | ~int32 | ~int64
}

// Succ returns the id that directly follows id.
func Succ[I ID](id I) I {
	return id + 1
}

// Kind tells which boundary a transaction stopped at.
type Kind uint8

const (
	KindOp Kind = iota // Internal computation, no I/O
	KindRd             // Wants to read the keys selected by a proposition
	KindWr             // Wants to write a key to optional-value batch
	KindCl             // Wants to close with an End
)

func (k Kind) String() string {
	switch k {
	case KindOp:
		return "op"
	case KindRd:
		return "rd"
	case KindWr:
		return "wr"
	case KindCl:
		return "cl"
	default:
		return "unknown"
	}
}

// End is how a transaction asks to close.
type End uint8

const (
	Ready End = iota // Ready to commit
	Abort            // Ready to abort, writes are dropped
)

func (e End) String() string {
	if e == Abort {
		return "abort"
	}
	return "ready"
}

// Event is what a transaction yields when it is driven with Go.
// Only the field matching Kind is meaningful.
type Event[K comparable, V any] struct {
	Kind Kind
	Prop Proposition[K, V]
	Map  Mapping[K, V]
	End  End
}

// OpEvent asks the driver to resume the transaction with Op.
func OpEvent[K comparable, V any]() Event[K, V] {
	return Event[K, V]{Kind: KindOp}
}

// RdEvent asks the driver to resolve prop and resume with Rd.
func RdEvent[K comparable, V any](prop Proposition[K, V]) Event[K, V] {
	return Event[K, V]{Kind: KindRd, Prop: prop}
}

// WrEvent asks the driver to accept m and resume with Wr.
func WrEvent[K comparable, V any](m Mapping[K, V]) Event[K, V] {
	return Event[K, V]{Kind: KindWr, Map: m}
}

// ClEvent asks the driver to close the transaction.
func ClEvent[K comparable, V any](end End) Event[K, V] {
	return Event[K, V]{Kind: KindCl, End: end}
}

// Checkpoint is an opaque snapshot of a transaction's start state.
type Checkpoint any

// Txn is a resumable computation. Every resumption consumes the receiver and
// returns the value to continue with; callers must not keep using the old value.
//
// Go must be repeatable: calling Go on the value it returned yields the same
// event again. A transaction that is suspended on a write lock is retried
// this way.
type Txn[I ID, K comparable, V any, O any] interface {
	ID() I
	Go() (Txn[I, K, V, O], Event[K, V])
	Op() Txn[I, K, V, O]
	Rd(m Mapping[K, V]) Txn[I, K, V, O]
	Wr() Txn[I, K, V, O]
	Cl() (O, bool)
	// Checkpoint captures the state to restart the current attempt from.
	Checkpoint() Checkpoint
	// Restore rewinds the transaction to a checkpoint it produced earlier.
	Restore(c Checkpoint) Txn[I, K, V, O]
}

// Result is what a protocol reports when asked to close a transaction.
type Result[O any] struct {
	Closed bool // The transaction finalized in commit order
	Value  O    // Output, valid when Ok
	Ok     bool // Cl produced an output
}
