// Package durability describes the store of record behind the protocols.
//
// A Store answers reads that no in-memory version can serve and receives the
// final write set of every committed transaction.
package durability

import (
	"fmt"

	"github.com/sushant-115/detdb/core/transaction"
)

// Store is the durability contract. Implementations must be safe for
// concurrent use.
type Store[I transaction.ID, K comparable, V any, O any] interface {
	// Open is told about a transaction before it runs. Best-effort.
	Open(tx transaction.Txn[I, K, V, O]) error
	// Done is told how a transaction ended.
	Done(tx transaction.Txn[I, K, V, O], end transaction.End) error
	// Rd returns the stored pairs selected by prop. Absent keys are omitted.
	Rd(prop transaction.Proposition[K, V]) (transaction.Mapping[K, V], error)
	// Wr persists the write set of tx. Entries with Present=false delete.
	Wr(tx transaction.Txn[I, K, V, O], m transaction.Mapping[K, V]) error
}

// ExternalError wraps a failure reported by a Store.
type ExternalError struct {
	Op  string
	Err error
}

func (e *ExternalError) Error() string {
	return fmt.Sprintf("durability %s: %v", e.Op, e.Err)
}

func (e *ExternalError) Unwrap() error {
	return e.Err
}

// External wraps err as an *ExternalError, or returns nil.
func External(op string, err error) error {
	if err == nil {
		return nil
	}
	return &ExternalError{Op: op, Err: err}
}
