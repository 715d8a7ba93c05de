// Package memstore is an in-memory durability.Store for tests and benchmarks.
//
// Latency and throughput of a real backend can be simulated, and writes can
// be discarded altogether to measure the protocols alone.
package memstore

import (
	"context"
	"fmt"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sushant-115/detdb/core/transaction"
	commonutils "github.com/sushant-115/detdb/internal/common_utils"
)

// Config tunes the simulated backend.
type Config struct {
	// ReadLatency is slept once per Rd call.
	ReadLatency time.Duration `yaml:"read_latency"`
	// WriteLatency is slept once per Wr call.
	WriteLatency time.Duration `yaml:"write_latency"`
	// OpsPerSecond caps Rd and Wr calls together. Zero means unlimited.
	OpsPerSecond float64 `yaml:"ops_per_second"`
	// Burst is the limiter bucket size. Defaults to 1.
	Burst int `yaml:"burst"`
	// DiscardWrites drops every write; reads then always come back empty.
	DiscardWrites bool `yaml:"discard_writes"`
}

// Store is safe for concurrent use.
type Store[I transaction.ID, K comparable, V any, O any] struct {
	cfg     Config
	data    cmap.ConcurrentMap[K, V]
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New returns an empty store. A nil logger is replaced by a no-op one.
func New[I transaction.ID, K comparable, V any, O any](cfg Config, logger *zap.Logger) *Store[I, K, V, O] {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store[I, K, V, O]{
		cfg:    cfg,
		data:   commonutils.NewMap[K, V](),
		logger: logger.Named("memstore"),
	}
	if cfg.OpsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.OpsPerSecond), burst)
	}
	return s
}

func (s *Store[I, K, V, O]) Open(transaction.Txn[I, K, V, O]) error {
	return nil
}

func (s *Store[I, K, V, O]) Done(transaction.Txn[I, K, V, O], transaction.End) error {
	return nil
}

// Rd serves indexing propositions by lookup and filters by a full scan.
func (s *Store[I, K, V, O]) Rd(prop transaction.Proposition[K, V]) (transaction.Mapping[K, V], error) {
	if err := s.throttle(); err != nil {
		return nil, fmt.Errorf("memstore read: %w", err)
	}
	if s.cfg.ReadLatency > 0 {
		time.Sleep(s.cfg.ReadLatency)
	}
	if s.cfg.DiscardWrites {
		return transaction.Mapping[K, V]{}, nil
	}

	if keys, ok := prop.Keys(); ok {
		out := make(transaction.Mapping[K, V], 0, len(keys))
		for _, k := range keys {
			if v, ok := s.data.Get(k); ok {
				out = append(out, transaction.Put(k, v))
			}
		}
		return out, nil
	}

	var out transaction.Mapping[K, V]
	s.data.IterCb(func(k K, v V) {
		if prop.Match(k, v) {
			out = append(out, transaction.Put(k, v))
		}
	})
	return out, nil
}

func (s *Store[I, K, V, O]) Wr(tx transaction.Txn[I, K, V, O], m transaction.Mapping[K, V]) error {
	if err := s.throttle(); err != nil {
		return fmt.Errorf("memstore write: %w", err)
	}
	if s.cfg.WriteLatency > 0 {
		time.Sleep(s.cfg.WriteLatency)
	}
	if s.cfg.DiscardWrites {
		return nil
	}
	s.apply(m)
	if ce := s.logger.Check(zap.DebugLevel, "write set applied"); ce != nil {
		ce.Write(zap.Any("tid", tx.ID()), zap.Int("entries", len(m)))
	}
	return nil
}

// Load seeds the store without going through the limiter.
func (s *Store[I, K, V, O]) Load(m transaction.Mapping[K, V]) {
	s.apply(m)
}

// Snapshot copies the current contents.
func (s *Store[I, K, V, O]) Snapshot() map[K]V {
	return s.data.Items()
}

// Len returns the number of stored keys.
func (s *Store[I, K, V, O]) Len() int {
	return s.data.Count()
}

func (s *Store[I, K, V, O]) apply(m transaction.Mapping[K, V]) {
	for _, e := range m {
		if e.Present {
			s.data.Set(e.Key, e.Value)
		} else {
			s.data.Remove(e.Key)
		}
	}
}

func (s *Store[I, K, V, O]) throttle() error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.Wait(context.Background())
}
