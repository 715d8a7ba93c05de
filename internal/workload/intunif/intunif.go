// Package intunif is a replayable workload of transactions that read and
// write uniformly distributed integer keys.
//
// Every transaction derives all of its choices from a 64-bit seed that it
// steps through a xorshift generator, and folds the values it reads back into
// the seed. Two runs that observe the same reads therefore issue the same
// events and produce the same output, which makes the workload a determinism
// probe for the protocols.
package intunif

import (
	"fmt"
	"math/bits"

	"github.com/sushant-115/detdb/core/transaction"
)

// Mix is the proportion of reads, writes, aborts and commits among the
// events a transaction yields. The same total again is spent on internal
// computation steps.
type Mix struct {
	Read   uint64 `yaml:"read"`
	Write  uint64 `yaml:"write"`
	Abort  uint64 `yaml:"abort"`
	Commit uint64 `yaml:"commit"`
}

// DefaultMix is the read-heavy mix used by the benchmarks.
var DefaultMix = Mix{Read: 15, Write: 15, Abort: 1, Commit: 4}

// cumulative thresholds
type bounds struct{ r, w, a, c uint64 }

func (m Mix) bounds() bounds {
	return bounds{
		r: m.Read,
		w: m.Read + m.Write,
		a: m.Read + m.Write + m.Abort,
		c: m.Read + m.Write + m.Abort + m.Commit,
	}
}

func step(seed uint64) uint64 {
	s0 := uint32(seed >> 32)
	s1 := uint32(seed)
	s1 ^= s0
	s0 = bits.RotateLeft32(s0, 26) ^ s1 ^ (s1 << 9)
	s1 = bits.RotateLeft32(s1, 13)
	return uint64(s0)<<32 | uint64(s1)
}

// Gen hands out transactions with increasing ids starting at 1.
type Gen struct {
	seed   uint64
	b      bounds
	vrng   uint64
	nextID uint64
}

// NewGen returns a generator. vrng bounds keys and values; mix must have a
// non-zero commit share so every transaction ends.
func NewGen(seed uint64, mix Mix, vrng uint64) (*Gen, error) {
	if mix.Commit == 0 {
		return nil, fmt.Errorf("intunif: commit share must be positive")
	}
	if vrng == 0 {
		return nil, fmt.Errorf("intunif: value range must be positive")
	}
	return &Gen{seed: seed, b: mix.bounds(), vrng: vrng, nextID: 1}, nil
}

func (g *Gen) num() uint64 {
	g.seed = step(g.seed)
	return g.seed
}

// Get returns the next transaction.
func (g *Gen) Get() *Txn {
	id := g.nextID
	g.nextID++
	vmsk := g.num()
	seed := g.num()
	return &Txn{
		id:   id,
		seed: seed,
		b:    g.b,
		vrng: g.vrng,
		vmsk: vmsk,
		voff: g.num() &^ vmsk,
	}
}

// Txn implements transaction.Txn over uint64 ids, keys, values and outputs.
// The output of a committed transaction is its final seed; an aborted one has
// no output.
type Txn struct {
	id   uint64
	seed uint64
	b    bounds
	vrng uint64
	vmsk uint64
	voff uint64

	reads  uint64
	writes uint64
}

type (
	Event   = transaction.Event[uint64, uint64]
	Mapping = transaction.Mapping[uint64, uint64]
	Iface   = transaction.Txn[uint64, uint64, uint64, uint64]
)

func (t *Txn) num() uint64 {
	t.seed = step(t.seed)
	return t.seed
}

func (t *Txn) val() uint64 {
	return ((t.num() & t.vmsk) | t.voff) % t.vrng
}

func (t *Txn) ID() uint64 { return t.id }

// Counts reports how many reads and writes the current attempt completed.
func (t *Txn) Counts() (reads, writes uint64) { return t.reads, t.writes }

// Go leaves the seed untouched, so it yields the same event until resumed.
func (t *Txn) Go() (Iface, Event) {
	seed := t.seed
	defer func() { t.seed = seed }()

	x := t.num() % (2 * t.b.c)
	switch {
	case x < t.b.r:
		return t, transaction.RdEvent[uint64, uint64](transaction.KeySet[uint64, uint64]{t.val()})
	case x < t.b.w:
		k := t.val()
		if t.num()&1 == 0 {
			return t, transaction.WrEvent(Mapping{transaction.Del[uint64, uint64](k)})
		}
		return t, transaction.WrEvent(Mapping{transaction.Put(k, t.val())})
	case x < t.b.a:
		return t, transaction.ClEvent[uint64, uint64](transaction.Abort)
	case x < t.b.c:
		return t, transaction.ClEvent[uint64, uint64](transaction.Ready)
	default:
		return t, transaction.OpEvent[uint64, uint64]()
	}
}

func (t *Txn) Op() Iface {
	for i := 0; i < 1<<8; i++ {
		t.num()
	}
	return t
}

func (t *Txn) Rd(m Mapping) Iface {
	t.reads++
	if len(m) > 0 && m[0].Present {
		t.num()
		t.seed += m[0].Value
		return t
	}
	for i := 0; i < 4; i++ {
		t.num()
	}
	return t
}

func (t *Txn) Wr() Iface {
	t.writes++
	for i := 0; i < 5; i++ {
		t.num()
	}
	return t
}

// Cl panics when the transaction is not at a close event.
func (t *Txn) Cl() (uint64, bool) {
	seed := t.seed
	x := t.num() % t.b.c
	switch {
	case x < t.b.w:
		panic(fmt.Sprintf("intunif: transaction %d closed while not at a close event", t.id))
	case x < t.b.a:
		return 0, false
	default:
		return seed, true
	}
}

func (t *Txn) Checkpoint() transaction.Checkpoint {
	return t.seed
}

func (t *Txn) Restore(c transaction.Checkpoint) Iface {
	t.seed = c.(uint64)
	t.reads, t.writes = 0, 0
	return t
}
