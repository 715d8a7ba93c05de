// Package serial is the non-speculative baseline: transactions run one at a
// time, strictly in id order.
//
// A transaction that is not next in line is parked until the previous one
// commits. Writes are buffered per transaction and reach the store in one
// batch at commit, so an aborted transaction leaves no trace.
package serial

import (
	"context"
	"fmt"
	"sync"

	cmap "github.com/orcaman/concurrent-map/v2"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/sushant-115/detdb/core/concurrency"
	"github.com/sushant-115/detdb/core/durability"
	"github.com/sushant-115/detdb/core/transaction"
	commonutils "github.com/sushant-115/detdb/internal/common_utils"
	internaltelemetry "github.com/sushant-115/detdb/internal/telemetry"
)

type Control[I transaction.ID, K comparable, V any, O any] struct {
	parked  cmap.ConcurrentMap[I, transaction.Txn[I, K, V, O]]
	waiting cmap.ConcurrentMap[I, transaction.Mapping[K, V]]

	mu       sync.Mutex
	progress I

	logger  *zap.Logger
	metrics *internaltelemetry.ProtocolMetrics
}

var _ concurrency.Control[uint64, string, int, int] = (*Control[uint64, string, int, int])(nil)

// New returns a protocol expecting Succ(0) as the first id. A nil logger or
// meter falls back to a no-op one.
func New[I transaction.ID, K comparable, V any, O any](logger *zap.Logger, meter metric.Meter) (*Control[I, K, V, O], error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if meter == nil {
		meter = internaltelemetry.NoopMeter()
	}
	metrics, err := internaltelemetry.NewProtocolMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create protocol metrics: %w", err)
	}
	return &Control[I, K, V, O]{
		parked:  commonutils.NewMap[I, transaction.Txn[I, K, V, O]](),
		waiting: commonutils.NewMap[I, transaction.Mapping[K, V]](),
		logger:  logger.Named("serial"),
		metrics: metrics,
	}, nil
}

func (c *Control[I, K, V, O]) Progress() I {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress
}

func (c *Control[I, K, V, O]) Wrap(tx transaction.Txn[I, K, V, O]) transaction.Txn[I, K, V, O] {
	return tx
}

func (c *Control[I, K, V, O]) Open(tx transaction.Txn[I, K, V, O], store durability.Store[I, K, V, O]) error {
	if err := store.Open(tx); err != nil {
		c.logger.Debug("store open hook failed", zap.Any("tid", tx.ID()), zap.Error(err))
	}
	return nil
}

// turn reports whether tx is next in line, and parks it otherwise. Checking
// and parking happen under the same lock that advances progress, so a
// transaction cannot be parked after its predecessor looked for it.
func (c *Control[I, K, V, O]) turn(tx transaction.Txn[I, K, V, O]) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if transaction.Succ(c.progress) == tx.ID() {
		return true
	}
	c.parked.Set(tx.ID(), tx)
	c.metrics.SuspensionsCounter.Add(context.Background(), 1)
	return false
}

func (c *Control[I, K, V, O]) Rd(tx transaction.Txn[I, K, V, O], prop transaction.Proposition[K, V], store durability.Store[I, K, V, O]) (transaction.Txn[I, K, V, O], error) {
	if !c.turn(tx) {
		return c.Next(), nil
	}
	m, err := store.Rd(prop)
	if err != nil {
		return nil, durability.External("read", err)
	}
	if buf, ok := c.waiting.Get(tx.ID()); ok {
		m = overlay(m, buf, prop)
	}
	return tx.Rd(m), nil
}

// overlay applies the buffered writes of a transaction to what the store
// returned, so it reads its own writes.
func overlay[K comparable, V any](m, buf transaction.Mapping[K, V], prop transaction.Proposition[K, V]) transaction.Mapping[K, V] {
	latest := make(map[K]transaction.Entry[K, V], len(buf))
	for _, e := range buf {
		latest[e.Key] = e
	}
	out := make(transaction.Mapping[K, V], 0, len(m))
	for _, e := range m {
		if _, ok := latest[e.Key]; !ok {
			out = append(out, e)
		}
	}
	if keys, ok := prop.Keys(); ok {
		for _, k := range keys {
			if e, ok := latest[k]; ok && e.Present {
				out = append(out, e)
				delete(latest, k)
			}
		}
		return out
	}
	for k, e := range latest {
		if e.Present && prop.Match(k, e.Value) {
			out = append(out, e)
		}
	}
	return out
}

func (c *Control[I, K, V, O]) Wr(tx transaction.Txn[I, K, V, O], m transaction.Mapping[K, V], _ durability.Store[I, K, V, O]) (transaction.Txn[I, K, V, O], error) {
	if !c.turn(tx) {
		return c.Next(), nil
	}
	c.waiting.Upsert(tx.ID(), m, func(exist bool, cur, add transaction.Mapping[K, V]) transaction.Mapping[K, V] {
		if !exist {
			return append(transaction.Mapping[K, V](nil), add...)
		}
		return append(cur, add...)
	})
	return tx.Wr(), nil
}

func (c *Control[I, K, V, O]) Done(tx transaction.Txn[I, K, V, O], end transaction.End, store durability.Store[I, K, V, O]) (transaction.Txn[I, K, V, O], transaction.Result[O], error) {
	var none transaction.Result[O]
	if !c.turn(tx) {
		return c.Next(), none, nil
	}
	tid := tx.ID()
	buf, _ := c.waiting.Pop(tid)
	if end == transaction.Ready && len(buf) > 0 {
		if err := store.Wr(tx, buf); err != nil {
			return nil, none, durability.External("write", err)
		}
	}
	if err := store.Done(tx, end); err != nil {
		return nil, none, durability.External("done", err)
	}
	out, ok := tx.Cl()

	c.mu.Lock()
	c.progress = tid
	c.mu.Unlock()
	c.metrics.CommitsCounter.Add(context.Background(), 1)
	return c.Next(), transaction.Result[O]{Closed: true, Value: out, Ok: ok}, nil
}

// Next hands out the parked transaction that is next in line, if any.
func (c *Control[I, K, V, O]) Next() transaction.Txn[I, K, V, O] {
	tx, ok := c.parked.Pop(transaction.Succ(c.Progress()))
	if !ok {
		return nil
	}
	return tx
}
