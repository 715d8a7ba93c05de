// Package txpool keeps the transactions a protocol cannot advance right now.
//
// A transaction lives under "todo" when it still needs protocol steps (it was
// suspended on a lock or rewound by a reset) and under "done" when all its
// writes are published and it only waits for its commit turn.
package txpool

import (
	"math/rand/v2"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/sushant-115/detdb/core/transaction"
	commonutils "github.com/sushant-115/detdb/internal/common_utils"
)

// StealPolicy decides, when no exact match is pending, whether GetProg hands
// out an arbitrary todo entry (true) or nothing (false). Returning false now
// and then lets workers go back and look for fresh input.
type StealPolicy func() bool

// CoinFlip steals half of the time.
func CoinFlip() bool {
	return rand.IntN(2) == 0
}

// Pool is safe for concurrent use.
type Pool[I transaction.ID, T interface{ ID() I }] struct {
	todo  cmap.ConcurrentMap[I, T]
	done  cmap.ConcurrentMap[I, T]
	steal StealPolicy
}

// Option configures a Pool.
type Option func(*options)

type options struct {
	steal StealPolicy
}

// WithStealPolicy replaces CoinFlip.
func WithStealPolicy(p StealPolicy) Option {
	return func(o *options) {
		o.steal = p
	}
}

// New returns an empty pool.
func New[I transaction.ID, T interface{ ID() I }](opts ...Option) *Pool[I, T] {
	o := options{steal: CoinFlip}
	for _, opt := range opts {
		opt(&o)
	}
	return &Pool[I, T]{
		todo:  commonutils.NewMap[I, T](),
		done:  commonutils.NewMap[I, T](),
		steal: o.steal,
	}
}

// PutTodo files tx as needing more steps, replacing any entry with its id.
func (p *Pool[I, T]) PutTodo(tx T) {
	p.todo.Set(tx.ID(), tx)
}

// PutDone files tx as waiting for its commit turn, replacing any entry with
// its id.
func (p *Pool[I, T]) PutDone(tx T) {
	p.done.Set(tx.ID(), tx)
}

// GetProg removes and returns the transaction that should run next given that
// tid is the id whose turn it is. An exact match in done wins over one in
// todo. Without an exact match the steal policy decides between an arbitrary
// todo entry and nothing.
func (p *Pool[I, T]) GetProg(tid I) (T, bool) {
	if tx, ok := p.done.Pop(tid); ok {
		return tx, true
	}
	if tx, ok := p.todo.Pop(tid); ok {
		return tx, true
	}
	if !p.steal() {
		var zero T
		return zero, false
	}
	return p.Steal()
}

// Steal removes and returns any todo entry.
func (p *Pool[I, T]) Steal() (T, bool) {
	for _, id := range p.todo.Keys() {
		if tx, ok := p.todo.Pop(id); ok {
			return tx, true
		}
	}
	var zero T
	return zero, false
}

// Len returns the number of pooled transactions in todo and done.
func (p *Pool[I, T]) Len() (todo, done int) {
	return p.todo.Count(), p.done.Count()
}
