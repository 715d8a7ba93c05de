// Package txservice runs transactions through a concurrency-control protocol
// on a fixed set of worker goroutines.
//
// Producers hand transactions over through a bounded queue. Each worker keeps
// a local pool ordered by id, pulls new work now and then, and otherwise
// drives its lowest id until the protocol has nothing more for that call
// chain. Outputs are kept by id until fetched with Get.
package txservice

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidwall/btree"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/sushant-115/detdb/core/concurrency"
	"github.com/sushant-115/detdb/core/durability"
	"github.com/sushant-115/detdb/core/transaction"
	commonutils "github.com/sushant-115/detdb/internal/common_utils"
	internaltelemetry "github.com/sushant-115/detdb/internal/telemetry"
)

const (
	DefaultQueueSlack   = 4
	DefaultPollInterval = time.Millisecond
)

// Config sizes the service.
type Config struct {
	// Workers is the number of worker goroutines.
	Workers int `yaml:"workers"`
	// QueueSlack is added to Workers to get the queue capacity.
	QueueSlack int `yaml:"queue_slack"`
	// PollInterval bounds how long an idle worker waits for new input.
	PollInterval time.Duration `yaml:"poll_interval"`
}

func (c Config) withDefaults() Config {
	if c.QueueSlack <= 0 {
		c.QueueSlack = DefaultQueueSlack
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	return c
}

func (c Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.QueueSlack < 0 {
		return fmt.Errorf("queue_slack must not be negative, got %d", c.QueueSlack)
	}
	return nil
}

// PollPolicy decides whether a worker holding local transactions looks for
// new input on this iteration.
type PollPolicy func(local int) bool

// InversePoll polls with probability 1/(local+1).
func InversePoll(local int) bool {
	return rand.IntN(local+1) == 0
}

type options struct {
	meter  metric.Meter
	tracer trace.Tracer
	poll   PollPolicy
}

type Option func(*options)

func WithMeter(m metric.Meter) Option {
	return func(o *options) { o.meter = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

func WithPollPolicy(p PollPolicy) Option {
	return func(o *options) { o.poll = p }
}

// Service owns the workers, the queue and the results.
type Service[I transaction.ID, K comparable, V any, O any] struct {
	cfg    Config
	con    concurrency.Control[I, K, V, O]
	store  durability.Store[I, K, V, O]
	logger *zap.Logger
	tracer trace.Tracer
	poll   PollPolicy

	handle  Handle[I, K, V, O]
	metrics *internaltelemetry.ServiceMetrics

	// lifeMu orders Start against Close.
	lifeMu    sync.Mutex
	quit      chan struct{}
	stops     []*atomic.Bool
	wg        sync.WaitGroup
	started   bool
	closeOnce sync.Once

	failMu   sync.Mutex
	failures []error
}

// New builds a service. The queue exists right away, so Put works before
// Start: it buffers up to the queue capacity and then blocks.
func New[I transaction.ID, K comparable, V any, O any](
	cfg Config,
	con concurrency.Control[I, K, V, O],
	store durability.Store[I, K, V, O],
	logger *zap.Logger,
	opts ...Option,
) (*Service[I, K, V, O], error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid service config: %w", err)
	}
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{
		meter:  internaltelemetry.NoopMeter(),
		tracer: nooptrace.NewTracerProvider().Tracer(""),
		poll:   InversePoll,
	}
	for _, opt := range opts {
		opt(&o)
	}
	metrics, err := internaltelemetry.NewServiceMetrics(o.meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create service metrics: %w", err)
	}

	quit := make(chan struct{})
	stops := make([]*atomic.Bool, cfg.Workers)
	for i := range stops {
		stops[i] = &atomic.Bool{}
	}
	s := &Service[I, K, V, O]{
		cfg:     cfg,
		con:     con,
		store:   store,
		logger:  logger.Named("txservice"),
		tracer:  o.tracer,
		poll:    o.poll,
		metrics: metrics,
		quit:    quit,
		stops:   stops,
		handle: Handle[I, K, V, O]{
			queue:   make(chan transaction.Txn[I, K, V, O], cfg.Workers+cfg.QueueSlack),
			quit:    quit,
			results: commonutils.NewMap[I, transaction.Result[O]](),
			metrics: metrics,
		},
	}
	return s, nil
}

// Capacity is the number of transactions the queue holds before Put blocks.
func (s *Service[I, K, V, O]) Capacity() int {
	return cap(s.handle.queue)
}

// Handle returns a submit/get handle sharing this service's queue and
// results.
func (s *Service[I, K, V, O]) Handle() Handle[I, K, V, O] {
	return s.handle
}

func (s *Service[I, K, V, O]) Put(tx transaction.Txn[I, K, V, O]) error {
	return s.handle.Put(tx)
}

func (s *Service[I, K, V, O]) PutContext(ctx context.Context, tx transaction.Txn[I, K, V, O]) error {
	return s.handle.PutContext(ctx, tx)
}

func (s *Service[I, K, V, O]) TryPut(tx transaction.Txn[I, K, V, O]) error {
	return s.handle.TryPut(tx)
}

func (s *Service[I, K, V, O]) Get(id I) (O, bool, error) {
	return s.handle.Get(id)
}

// Start launches the workers. They stop at Close or when ctx is done.
func (s *Service[I, K, V, O]) Start(ctx context.Context) error {
	_, span := s.tracer.Start(ctx, "txservice.Start", trace.WithAttributes(attribute.Int("workers", s.cfg.Workers)))
	defer span.End()

	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	select {
	case <-s.quit:
		return ErrNoSenderOpen
	default:
	}
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true

	for i, stop := range s.stops {
		s.wg.Add(1)
		go s.work(ctx, i, stop)
	}
	s.logger.Info("Service started",
		zap.Int("workers", s.cfg.Workers),
		zap.Int("queueCapacity", s.Capacity()))
	return nil
}

// Close stops the workers, waits for them and reports the ones that failed
// as a *ShutdownError. Transactions still in the queue are dropped. Later
// calls return nil.
func (s *Service[I, K, V, O]) Close() error {
	var err error
	s.closeOnce.Do(func() {
		_, span := s.tracer.Start(context.Background(), "txservice.Close")
		defer span.End()

		s.lifeMu.Lock()
		close(s.quit)
		for _, stop := range s.stops {
			stop.Store(true)
		}
		s.lifeMu.Unlock()
		s.wg.Wait()

		s.failMu.Lock()
		defer s.failMu.Unlock()
		if len(s.failures) > 0 {
			err = &ShutdownError{Failures: s.failures}
			span.RecordError(err)
			s.logger.Error("Service stopped with worker failures", zap.Error(err))
			return
		}
		s.logger.Info("Service stopped")
	})
	return err
}

func (s *Service[I, K, V, O]) fail(err *WorkerError) {
	s.metrics.WorkerFailuresCounter.Add(context.Background(), 1)
	s.logger.Error("Worker failed",
		zap.Int("worker", err.Worker),
		zap.Int64("goroutine", commonutils.GoID()),
		zap.Error(err))
	s.failMu.Lock()
	s.failures = append(s.failures, err)
	s.failMu.Unlock()
}

// work is the loop of one worker.
func (s *Service[I, K, V, O]) work(ctx context.Context, n int, stop *atomic.Bool) {
	defer s.wg.Done()
	s.logger.Debug("Worker started", zap.Int("worker", n), zap.Int64("goroutine", commonutils.GoID()))
	defer func() {
		if r := recover(); r != nil {
			s.fail(&WorkerError{Worker: n, Panic: r, Stack: debug.Stack()})
		}
	}()

	var local btree.Map[I, transaction.Txn[I, K, V, O]]
	timer := time.NewTimer(s.cfg.PollInterval)
	timer.Stop()
	defer timer.Stop()

	for !stop.Load() && ctx.Err() == nil {
		if s.poll(local.Len()) {
			if tx, ok := s.receive(ctx, timer, local.Len() == 0); ok {
				tx = s.con.Wrap(tx)
				if err := s.con.Open(tx, s.store); err != nil {
					s.fail(&WorkerError{Worker: n, Err: fmt.Errorf("open %v: %w", tx.ID(), err)})
					return
				}
				local.Set(tx.ID(), tx)
				s.metrics.InFlightUpDownCounter.Add(ctx, 1)
			}
		}

		var tx transaction.Txn[I, K, V, O]
		if _, t, ok := local.PopMin(); ok {
			tx = t
		} else {
			tx = s.con.Next()
		}
		if tx == nil {
			continue
		}
		if err := s.drive(ctx, tx); err != nil {
			s.fail(&WorkerError{Worker: n, Err: err})
			return
		}
	}
}

// receive takes one transaction off the queue. With wait set it blocks for
// at most PollInterval.
func (s *Service[I, K, V, O]) receive(ctx context.Context, timer *time.Timer, wait bool) (transaction.Txn[I, K, V, O], bool) {
	if !wait {
		select {
		case tx := <-s.handle.queue:
			return tx, true
		default:
			return nil, false
		}
	}
	timer.Reset(s.cfg.PollInterval)
	defer timer.Stop()
	select {
	case tx := <-s.handle.queue:
		return tx, true
	case <-timer.C:
	case <-s.quit:
	case <-ctx.Done():
	}
	return nil, false
}

// drive dispatches events until the protocol returns no transaction.
func (s *Service[I, K, V, O]) drive(ctx context.Context, tx transaction.Txn[I, K, V, O]) error {
	for tx != nil {
		next, ev := tx.Go()
		var err error
		switch ev.Kind {
		case transaction.KindOp:
			tx = next.Op()
		case transaction.KindRd:
			tx, err = s.con.Rd(next, ev.Prop, s.store)
		case transaction.KindWr:
			tx, err = s.con.Wr(next, ev.Map, s.store)
		case transaction.KindCl:
			id := next.ID()
			var res transaction.Result[O]
			tx, res, err = s.con.Done(next, ev.End, s.store)
			if err == nil && res.Closed {
				s.handle.results.Set(id, res)
				s.metrics.ClosedCounter.Add(ctx, 1)
				s.metrics.InFlightUpDownCounter.Add(ctx, -1)
			}
		default:
			err = fmt.Errorf("unknown event kind %v", ev.Kind)
		}
		if err != nil {
			var ext *durability.ExternalError
			if errors.As(err, &ext) {
				return fmt.Errorf("store failed during %s: %w", ev.Kind, err)
			}
			return fmt.Errorf("protocol failed during %s: %w", ev.Kind, err)
		}
	}
	return nil
}
