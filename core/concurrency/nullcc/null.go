// Package nullcc is the baseline protocol with no concurrency control: every
// call goes straight to the durable store.
package nullcc

import (
	"go.uber.org/zap"

	"github.com/sushant-115/detdb/core/durability"
	"github.com/sushant-115/detdb/core/transaction"
)

type Control[I transaction.ID, K comparable, V any, O any] struct {
	logger *zap.Logger
}

// New returns the protocol. A nil logger discards.
func New[I transaction.ID, K comparable, V any, O any](logger *zap.Logger) *Control[I, K, V, O] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Control[I, K, V, O]{logger: logger.Named("nullcc")}
}

func (*Control[I, K, V, O]) Wrap(tx transaction.Txn[I, K, V, O]) transaction.Txn[I, K, V, O] {
	return tx
}

// Open ignores store errors; the hook is best-effort.
func (c *Control[I, K, V, O]) Open(tx transaction.Txn[I, K, V, O], store durability.Store[I, K, V, O]) error {
	if err := store.Open(tx); err != nil {
		c.logger.Debug("store open hook failed", zap.Any("tid", tx.ID()), zap.Error(err))
	}
	return nil
}

func (*Control[I, K, V, O]) Rd(tx transaction.Txn[I, K, V, O], prop transaction.Proposition[K, V], store durability.Store[I, K, V, O]) (transaction.Txn[I, K, V, O], error) {
	m, err := store.Rd(prop)
	if err != nil {
		return nil, durability.External("read", err)
	}
	return tx.Rd(m), nil
}

func (*Control[I, K, V, O]) Wr(tx transaction.Txn[I, K, V, O], m transaction.Mapping[K, V], store durability.Store[I, K, V, O]) (transaction.Txn[I, K, V, O], error) {
	if err := store.Wr(tx, m); err != nil {
		return nil, durability.External("write", err)
	}
	return tx.Wr(), nil
}

func (*Control[I, K, V, O]) Done(tx transaction.Txn[I, K, V, O], end transaction.End, store durability.Store[I, K, V, O]) (transaction.Txn[I, K, V, O], transaction.Result[O], error) {
	if err := store.Done(tx, end); err != nil {
		return nil, transaction.Result[O]{}, durability.External("done", err)
	}
	out, ok := tx.Cl()
	return nil, transaction.Result[O]{Closed: true, Value: out, Ok: ok}, nil
}

func (*Control[I, K, V, O]) Next() transaction.Txn[I, K, V, O] {
	return nil
}
