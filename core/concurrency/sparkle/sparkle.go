// Package sparkle implements the speculative deterministic protocols.
//
// Transactions run ahead of their commit turn. Their writes are published
// into a shared versioned table as soon as they close, so that later
// transactions can read them before they are durable. Lower ids win every
// write-lock conflict. Whenever a lower id invalidates data a higher id has
// already consumed, the higher id is marked, and at its next protocol call it
// undoes its reads and writes and replays from its checkpoint. Marks cascade
// to whoever read the undone writes. Final commits happen strictly in id
// order, one after the other.
//
// The Splice variant differs only in how the bookkeeping of an attempt is
// discarded, see Granularity.
package sparkle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	cmap "github.com/orcaman/concurrent-map/v2"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/sushant-115/detdb/core/concurrency"
	"github.com/sushant-115/detdb/core/durability"
	"github.com/sushant-115/detdb/core/transaction"
	"github.com/sushant-115/detdb/core/transaction/txpool"
	"github.com/sushant-115/detdb/core/write_engine/memtable"
	commonutils "github.com/sushant-115/detdb/internal/common_utils"
	internaltelemetry "github.com/sushant-115/detdb/internal/telemetry"
)

type options struct {
	granularity Granularity
	logger      *zap.Logger
	meter       metric.Meter
	steal       txpool.StealPolicy
}

// Option configures a Control.
type Option func(*options)

func WithGranularity(g Granularity) Option {
	return func(o *options) { o.granularity = g }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithMeter(m metric.Meter) Option {
	return func(o *options) { o.meter = m }
}

// WithStealPolicy sets the pool's policy for handing out other transactions
// while the one whose turn it is cannot run.
func WithStealPolicy(p txpool.StealPolicy) Option {
	return func(o *options) { o.steal = p }
}

// Control is safe for concurrent use.
type Control[I transaction.ID, K comparable, V any, O any] struct {
	granularity Granularity
	table       *memtable.VersionedTable[I, K, V]
	pool        *txpool.Pool[I, *txn[I, K, V, O]]
	resets      cmap.ConcurrentMap[I, struct{}]
	ckpts       cmap.ConcurrentMap[I, transaction.Checkpoint]

	// commit serializes final commits and every decision that depends on
	// whose turn it is.
	commit   sync.Mutex
	progMu   sync.RWMutex
	progress I

	subMu         sync.Mutex
	lastSubmitted I

	logger  *zap.Logger
	metrics *internaltelemetry.ProtocolMetrics
}

var _ concurrency.Control[uint64, string, int, int] = (*Control[uint64, string, int, int])(nil)

// New returns a protocol whose progress watermark starts at zero, so the
// first transaction to commit must have id Succ(0).
func New[I transaction.ID, K comparable, V any, O any](opts ...Option) (*Control[I, K, V, O], error) {
	o := options{
		granularity: Whole,
		logger:      zap.NewNop(),
		meter:       internaltelemetry.NoopMeter(),
		steal:       txpool.CoinFlip,
	}
	for _, opt := range opts {
		opt(&o)
	}
	metrics, err := internaltelemetry.NewProtocolMetrics(o.meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create protocol metrics: %w", err)
	}
	return &Control[I, K, V, O]{
		granularity: o.granularity,
		table:       memtable.New[I, K, V](),
		pool:        txpool.New[I, *txn[I, K, V, O]](txpool.WithStealPolicy(o.steal)),
		resets:      commonutils.NewMap[I, struct{}](),
		ckpts:       commonutils.NewMap[I, transaction.Checkpoint](),
		logger:      o.logger.Named(o.granularity.String()),
		metrics:     metrics,
	}, nil
}

// Progress returns the id of the last committed transaction.
func (c *Control[I, K, V, O]) Progress() I {
	c.progMu.RLock()
	defer c.progMu.RUnlock()
	return c.progress
}

// LastSubmitted returns the highest id opened so far.
func (c *Control[I, K, V, O]) LastSubmitted() I {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	return c.lastSubmitted
}

// Table exposes the versioned table for inspection.
func (c *Control[I, K, V, O]) Table() *memtable.VersionedTable[I, K, V] {
	return c.table
}

func (c *Control[I, K, V, O]) Wrap(tx transaction.Txn[I, K, V, O]) transaction.Txn[I, K, V, O] {
	if w, ok := tx.(*txn[I, K, V, O]); ok {
		return w
	}
	return &txn[I, K, V, O]{inner: tx, aux: newAux[I, K, V]()}
}

func (c *Control[I, K, V, O]) unwrap(tx transaction.Txn[I, K, V, O]) (*txn[I, K, V, O], error) {
	w, ok := tx.(*txn[I, K, V, O])
	if !ok {
		return nil, concurrency.ErrForeignTxn
	}
	return w, nil
}

// Open stores the checkpoint the transaction will be rewound to. The store's
// Open hook is best-effort.
func (c *Control[I, K, V, O]) Open(tx transaction.Txn[I, K, V, O], store durability.Store[I, K, V, O]) error {
	w, err := c.unwrap(tx)
	if err != nil {
		return err
	}
	tid := w.ID()
	c.subMu.Lock()
	if tid > c.lastSubmitted {
		c.lastSubmitted = tid
	}
	c.subMu.Unlock()
	c.ckpts.Set(tid, w.Checkpoint())
	if err := store.Open(w); err != nil {
		c.logger.Debug("store open hook failed", zap.Any("tid", tid), zap.Error(err))
	}
	return nil
}

func (c *Control[I, K, V, O]) Rd(tx transaction.Txn[I, K, V, O], prop transaction.Proposition[K, V], store durability.Store[I, K, V, O]) (transaction.Txn[I, K, V, O], error) {
	w, err := c.unwrap(tx)
	if err != nil {
		return nil, err
	}
	if c.marked(w.ID()) {
		return c.reset(w), nil
	}
	keys, ok := prop.Keys()
	if !ok {
		return nil, concurrency.ErrUnindexedProposition
	}

	tid := w.ID()
	out := make(transaction.Mapping[K, V], 0, len(keys))
	var missed []K
	for _, k := range keys {
		if val, present, ok := w.aux.local(k); ok {
			if present {
				out = append(out, transaction.Put(k, val))
			}
			continue
		}
		val, present, ver, err := c.table.Read(k, tid)
		switch {
		case errors.Is(err, memtable.ErrDurableMiss):
			// Placeholder until the batch fetch below fills it in.
			w.aux.reads[k] = readRec[I, V]{}
			missed = append(missed, k)
			continue
		case err != nil:
			return nil, fmt.Errorf("read %v for transaction %v: %w", k, tid, err)
		}
		w.aux.reads[k] = readRec[I, V]{value: val, present: present, ver: ver}
		if present {
			out = append(out, transaction.Put(k, val))
		}
	}

	if len(missed) > 0 {
		got, err := store.Rd(transaction.KeySet[K, V](missed))
		if err != nil {
			return nil, durability.External("read", err)
		}
		for _, k := range missed {
			val, present, _ := got.Lookup(k)
			w.aux.reads[k] = readRec[I, V]{value: val, present: present}
			if present {
				out = append(out, transaction.Put(k, val))
			}
		}
		c.metrics.DurableMissesCounter.Add(context.Background(), int64(len(missed)))
	}
	return w.Rd(out), nil
}

func (c *Control[I, K, V, O]) Wr(tx transaction.Txn[I, K, V, O], m transaction.Mapping[K, V], _ durability.Store[I, K, V, O]) (transaction.Txn[I, K, V, O], error) {
	w, err := c.unwrap(tx)
	if err != nil {
		return nil, err
	}
	if c.marked(w.ID()) {
		return c.reset(w), nil
	}

	tid := w.ID()
	for _, e := range m {
		if rec, ok := w.aux.writes[e.Key]; ok {
			rec.value, rec.present = e.Value, e.Present
			continue
		}
		preempted, didPreempt, err := c.table.WLock(e.Key, tid)
		switch {
		case errors.Is(err, memtable.ErrWouldBlock):
			// Retried later by calling Go again; keys locked so far are
			// already in the write set.
			c.pool.PutTodo(w)
			c.metrics.SuspensionsCounter.Add(context.Background(), 1)
			if ce := c.logger.Check(zap.DebugLevel, "suspended on write lock"); ce != nil {
				ce.Write(zap.Any("tid", tid), zap.Any("key", e.Key))
			}
			return c.next(), nil
		case err != nil:
			return nil, fmt.Errorf("lock %v for transaction %v: %w", e.Key, tid, err)
		}
		if didPreempt {
			c.mark(preempted)
		}
		w.aux.writes[e.Key] = &writeRec[V]{value: e.Value, present: e.Present}
		w.aux.order = append(w.aux.order, e.Key)
	}
	return w.Wr(), nil
}

// Done publishes the attempt's writes and, once it is the transaction's turn,
// commits it. Until then the transaction waits in the pool.
func (c *Control[I, K, V, O]) Done(tx transaction.Txn[I, K, V, O], end transaction.End, store durability.Store[I, K, V, O]) (transaction.Txn[I, K, V, O], transaction.Result[O], error) {
	var none transaction.Result[O]
	w, err := c.unwrap(tx)
	if err != nil {
		return nil, none, err
	}
	tid := w.ID()
	if c.marked(tid) {
		return c.reset(w), none, nil
	}

	if !w.aux.published {
		if !c.publish(w, end) {
			return c.reset(w), none, nil
		}
		w.aux.published = true
	}

	c.commit.Lock()
	if transaction.Succ(c.Progress()) != tid {
		c.pool.PutDone(w)
		c.commit.Unlock()
		return c.next(), none, nil
	}
	// Nothing below tid is left to mark it once it is its turn.
	if c.marked(tid) {
		c.commit.Unlock()
		return c.reset(w), none, nil
	}
	err = c.finalize(w, end, store)
	c.commit.Unlock()
	if err != nil {
		return nil, none, err
	}

	out, ok := w.Cl()
	c.metrics.CommitsCounter.Add(context.Background(), 1)
	if ce := c.logger.Check(zap.DebugLevel, "committed"); ce != nil {
		ce.Write(zap.Any("tid", tid), zap.Stringer("end", end))
	}
	return c.next(), transaction.Result[O]{Closed: true, Value: out, Ok: ok}, nil
}

// publish makes the attempt's writes visible in the table, or just drops the
// locks when the transaction aborts. It reports false when a lock was lost
// and the transaction must reset.
func (c *Control[I, K, V, O]) publish(w *txn[I, K, V, O], end transaction.End) bool {
	tid := w.ID()
	for _, k := range w.aux.order {
		rec := w.aux.writes[k]
		if rec.published {
			continue
		}
		if end == transaction.Abort {
			c.table.UnWLock(k, tid)
			continue
		}
		stale, err := c.table.Write(k, rec.value, rec.present, tid)
		if err != nil {
			return false
		}
		rec.published = true
		c.markAbove(stale)
	}
	return true
}

// finalize runs with the commit mutex held.
func (c *Control[I, K, V, O]) finalize(w *txn[I, K, V, O], end transaction.End, store durability.Store[I, K, V, O]) error {
	tid := w.ID()
	// Only committed writes cut history; an abort published nothing.
	if end == transaction.Ready && len(w.aux.order) > 0 {
		m := make(transaction.Mapping[K, V], 0, len(w.aux.order))
		for _, k := range w.aux.order {
			rec := w.aux.writes[k]
			m = append(m, transaction.Entry[K, V]{Key: k, Value: rec.value, Present: rec.present})
		}
		if err := store.Wr(w, m); err != nil {
			return durability.External("write", err)
		}
		for _, k := range w.aux.order {
			c.table.Prune(k, tid)
		}
	}
	for k, r := range w.aux.reads {
		c.table.UnRead(k, tid, r.ver)
	}
	if err := store.Done(w, end); err != nil {
		return durability.External("done", err)
	}

	c.progMu.Lock()
	c.progress = tid
	c.progMu.Unlock()
	c.ckpts.Remove(tid)
	return nil
}

// reset undoes the current attempt of w, rewinds it to its checkpoint and
// files it as todo. It returns the transaction to continue with.
func (c *Control[I, K, V, O]) reset(w *txn[I, K, V, O]) transaction.Txn[I, K, V, O] {
	tid := w.ID()
	for k, r := range w.aux.reads {
		c.table.UnRead(k, tid, r.ver)
	}
	for _, k := range w.aux.order {
		if w.aux.writes[k].published {
			c.markAbove(c.table.UnWrite(k, tid))
		} else {
			c.table.UnWLock(k, tid)
		}
	}
	w.aux.clear(c.granularity)

	ckpt, ok := c.ckpts.Get(tid)
	if !ok {
		panic(fmt.Sprintf("%s: no checkpoint for transaction %v", c.granularity, tid))
	}
	w.Restore(ckpt)

	c.resets.Remove(tid)
	c.pool.PutTodo(w)
	c.metrics.ResetsCounter.Add(context.Background(), 1)
	if ce := c.logger.Check(zap.DebugLevel, "reset"); ce != nil {
		ce.Write(zap.Any("tid", tid))
	}
	return c.next()
}

// Next hands out the transaction whose turn it is if it is parked, or per the
// steal policy any other parked one.
func (c *Control[I, K, V, O]) Next() transaction.Txn[I, K, V, O] {
	return c.next()
}

func (c *Control[I, K, V, O]) next() transaction.Txn[I, K, V, O] {
	w, ok := c.pool.GetProg(transaction.Succ(c.Progress()))
	if !ok {
		return nil
	}
	return w
}

func (c *Control[I, K, V, O]) marked(tid I) bool {
	return c.resets.Has(tid)
}

func (c *Control[I, K, V, O]) mark(tid I) {
	c.resets.Set(tid, struct{}{})
}

// markAbove marks the ids that have not committed yet.
func (c *Control[I, K, V, O]) markAbove(ids []I) {
	if len(ids) == 0 {
		return
	}
	progress := c.Progress()
	for _, id := range ids {
		if id > progress {
			c.mark(id)
		}
	}
}
