// Package concurrency defines the contract every concurrency-control protocol
// implements, so that the service can drive any of them.
//
// Rd, Wr and Done return the transaction the caller should continue with.
// That may be the one passed in, a different transaction the protocol decided
// is runnable now, or nil when this call chain has nothing further to do.
package concurrency

import (
	"errors"

	"github.com/sushant-115/detdb/core/durability"
	"github.com/sushant-115/detdb/core/transaction"
)

var (
	// ErrUnindexedProposition is returned by protocols that can only serve
	// reads naming their keys.
	ErrUnindexedProposition = errors.New("concurrency: proposition does not name its keys")
	// ErrForeignTxn is returned when a protocol is handed a transaction it
	// did not wrap.
	ErrForeignTxn = errors.New("concurrency: transaction was not wrapped by this protocol")
)

// Control is safe for concurrent use by many workers.
type Control[I transaction.ID, K comparable, V any, O any] interface {
	// Wrap turns a submitted transaction into the protocol's representation.
	Wrap(tx transaction.Txn[I, K, V, O]) transaction.Txn[I, K, V, O]
	// Open registers a wrapped transaction before it is first driven.
	Open(tx transaction.Txn[I, K, V, O], store durability.Store[I, K, V, O]) error
	Rd(tx transaction.Txn[I, K, V, O], prop transaction.Proposition[K, V], store durability.Store[I, K, V, O]) (transaction.Txn[I, K, V, O], error)
	Wr(tx transaction.Txn[I, K, V, O], m transaction.Mapping[K, V], store durability.Store[I, K, V, O]) (transaction.Txn[I, K, V, O], error)
	Done(tx transaction.Txn[I, K, V, O], end transaction.End, store durability.Store[I, K, V, O]) (transaction.Txn[I, K, V, O], transaction.Result[O], error)
	// Next hands out a parked transaction that can make progress, or nil.
	// Idle workers poll it so that no parked transaction is stranded.
	Next() transaction.Txn[I, K, V, O]
}
