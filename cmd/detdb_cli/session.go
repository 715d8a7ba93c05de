package main

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/sushant-115/detdb/core/concurrency"
	"github.com/sushant-115/detdb/core/durability/memstore"
	"github.com/sushant-115/detdb/core/engine"
	"github.com/sushant-115/detdb/core/transaction"
	"github.com/sushant-115/detdb/internal/workload/intunif"
)

type (
	iface   = intunif.Iface
	control = concurrency.Control[uint64, uint64, uint64, uint64]
	store   = memstore.Store[uint64, uint64, uint64, uint64]
)

// session drives intunif transactions through one protocol on the calling
// goroutine, one event at a time.
type session struct {
	protocol string
	con      control
	store    *store
	gen      *intunif.Gen
	out      io.Writer

	// held are the transactions the session can step, by id.
	held    map[uint64]iface
	results map[uint64]transaction.Result[uint64]
}

func newSession(protocol string, seed, vrng uint64, out io.Writer, logger *zap.Logger) (*session, error) {
	con, err := engine.NewControl[uint64, uint64, uint64, uint64](protocol, engine.Options{
		Logger:      logger,
		StealPolicy: func() bool { return false },
	})
	if err != nil {
		return nil, err
	}
	gen, err := intunif.NewGen(seed, intunif.DefaultMix, vrng)
	if err != nil {
		return nil, err
	}
	return &session{
		protocol: protocol,
		con:      con,
		store:    memstore.New[uint64, uint64, uint64, uint64](memstore.Config{}, logger),
		gen:      gen,
		out:      out,
		held:     make(map[uint64]iface),
		results:  make(map[uint64]transaction.Result[uint64]),
	}, nil
}

// submit opens n new transactions and returns their ids.
func (s *session) submit(n int) ([]uint64, error) {
	ids := make([]uint64, 0, n)
	for i := 0; i < n; i++ {
		tx := s.con.Wrap(s.gen.Get())
		if err := s.con.Open(tx, s.store); err != nil {
			return ids, fmt.Errorf("open %d: %w", tx.ID(), err)
		}
		s.held[tx.ID()] = tx
		ids = append(ids, tx.ID())
	}
	return ids, nil
}

// step yields one event of transaction id and hands it to the protocol.
func (s *session) step(id uint64) error {
	tx, ok := s.held[id]
	if !ok {
		return fmt.Errorf("transaction %d is not held (see 'held' or 'next')", id)
	}
	delete(s.held, id)

	next, ev := tx.Go()
	fmt.Fprintf(s.out, "%d: %s\n", id, describe(ev))

	var (
		ret transaction.Txn[uint64, uint64, uint64, uint64]
		err error
	)
	switch ev.Kind {
	case transaction.KindOp:
		ret = next.Op()
	case transaction.KindRd:
		ret, err = s.con.Rd(next, ev.Prop, s.store)
	case transaction.KindWr:
		ret, err = s.con.Wr(next, ev.Map, s.store)
	case transaction.KindCl:
		var res transaction.Result[uint64]
		ret, res, err = s.con.Done(next, ev.End, s.store)
		if err == nil && res.Closed {
			s.results[id] = res
			fmt.Fprintf(s.out, "%d: closed ok=%t value=%d\n", id, res.Ok, res.Value)
		}
	}
	if err != nil {
		return err
	}
	if ret == nil {
		fmt.Fprintf(s.out, "%d: suspended, protocol has nothing ready\n", id)
		return nil
	}
	if ret.ID() != id {
		fmt.Fprintf(s.out, "%d: suspended, protocol resumed %d\n", id, ret.ID())
	}
	s.held[ret.ID()] = ret
	return nil
}

// next asks the protocol for a suspended transaction that can make progress.
func (s *session) next() (uint64, bool) {
	tx := s.con.Next()
	if tx == nil {
		return 0, false
	}
	s.held[tx.ID()] = tx
	return tx.ID(), true
}

// run steps the lowest held transaction until nothing is held and the
// protocol has nothing left to resume. It gives up after limit steps.
func (s *session) run(limit int) (int, error) {
	steps := 0
	for ; steps < limit; steps++ {
		ids := s.ids()
		if len(ids) == 0 {
			if _, ok := s.next(); !ok {
				return steps, nil
			}
			ids = s.ids()
		}
		if err := s.step(ids[0]); err != nil {
			return steps, err
		}
	}
	return steps, fmt.Errorf("stopped after %d steps", limit)
}

func (s *session) ids() []uint64 {
	ids := make([]uint64, 0, len(s.held))
	for id := range s.held {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func describe(ev intunif.Event) string {
	switch ev.Kind {
	case transaction.KindRd:
		keys, _ := ev.Prop.Keys()
		return fmt.Sprintf("read %v", keys)
	case transaction.KindWr:
		parts := make([]string, 0, len(ev.Map))
		for _, e := range ev.Map {
			if e.Present {
				parts = append(parts, fmt.Sprintf("%d=%d", e.Key, e.Value))
			} else {
				parts = append(parts, fmt.Sprintf("%d=<deleted>", e.Key))
			}
		}
		return "write " + strings.Join(parts, " ")
	case transaction.KindCl:
		return "close " + ev.End.String()
	default:
		return ev.Kind.String()
	}
}
