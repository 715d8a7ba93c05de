package txservice

import (
	"context"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/sushant-115/detdb/core/transaction"
	internaltelemetry "github.com/sushant-115/detdb/internal/telemetry"
)

// Handle submits transactions to a service and collects their outputs. It is
// cheap to copy and safe to use from any goroutine, also after the service
// is closed.
type Handle[I transaction.ID, K comparable, V any, O any] struct {
	queue   chan transaction.Txn[I, K, V, O]
	quit    <-chan struct{}
	results cmap.ConcurrentMap[I, transaction.Result[O]]
	metrics *internaltelemetry.ServiceMetrics
}

// Put blocks until the queue accepts tx or the service closes.
func (h Handle[I, K, V, O]) Put(tx transaction.Txn[I, K, V, O]) error {
	return h.PutContext(context.Background(), tx)
}

// PutContext is Put bounded by ctx.
func (h Handle[I, K, V, O]) PutContext(ctx context.Context, tx transaction.Txn[I, K, V, O]) error {
	select {
	case <-h.quit:
		return &SendError[transaction.Txn[I, K, V, O]]{Txn: tx, Err: ErrNoSenderOpen}
	default:
	}
	select {
	case h.queue <- tx:
		h.metrics.SubmittedCounter.Add(ctx, 1)
		return nil
	case <-h.quit:
		return &SendError[transaction.Txn[I, K, V, O]]{Txn: tx, Err: ErrNoSenderOpen}
	case <-ctx.Done():
		return &SendError[transaction.Txn[I, K, V, O]]{Txn: tx, Err: ctx.Err()}
	}
}

// TryPut never blocks; it fails with ErrQueueFull instead.
func (h Handle[I, K, V, O]) TryPut(tx transaction.Txn[I, K, V, O]) error {
	select {
	case <-h.quit:
		return &SendError[transaction.Txn[I, K, V, O]]{Txn: tx, Err: ErrNoSenderOpen}
	default:
	}
	select {
	case h.queue <- tx:
		h.metrics.SubmittedCounter.Add(context.Background(), 1)
		return nil
	default:
		return &SendError[transaction.Txn[I, K, V, O]]{Txn: tx, Err: ErrQueueFull}
	}
}

// Get returns the output of transaction id and forgets it. ok is false when
// the transaction closed without output. ErrPending means it has not closed.
func (h Handle[I, K, V, O]) Get(id I) (out O, ok bool, err error) {
	res, found := h.results.Pop(id)
	if !found {
		return out, false, ErrPending
	}
	return res.Value, res.Ok, nil
}
