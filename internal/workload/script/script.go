// Package script builds transactions from a fixed list of steps over string
// keys and int64 values. Tests use it to stage exact interleavings.
package script

import (
	"slices"
	"sync/atomic"

	"github.com/sushant-115/detdb/core/transaction"
)

type stepKind uint8

const (
	stepRead stepKind = iota
	stepWrite
	stepDelete
	stepAdd
	stepOp
	stepAbort
)

// Step is one action of a scripted transaction.
type Step struct {
	kind  stepKind
	keys  []string
	value int64
}

// Read reads keys and records what it saw.
func Read(keys ...string) Step { return Step{kind: stepRead, keys: keys} }

// Write sets key to v.
func Write(key string, v int64) Step { return Step{kind: stepWrite, keys: []string{key}, value: v} }

// Delete removes key.
func Delete(key string) Step { return Step{kind: stepDelete, keys: []string{key}} }

// Add reads key, records it, and writes it back increased by delta. A
// missing key counts as zero.
func Add(key string, delta int64) Step { return Step{kind: stepAdd, keys: []string{key}, value: delta} }

// Op is an internal computation step.
func Op() Step { return Step{kind: stepOp} }

// Abort closes the transaction with transaction.Abort.
func Abort() Step { return Step{kind: stepAbort} }

// Observation is one key as seen by a read.
type Observation struct {
	Key     string
	Value   int64
	Present bool
}

// Output lists the observations of the committed attempt in read order.
type Output struct {
	Reads   []Observation
	Aborted bool
}

// Probe counts what happened to transactions sharing it. Safe for
// concurrent use.
type Probe struct {
	Restores atomic.Int64
	Closes   atomic.Int64
}

type (
	Event   = transaction.Event[string, int64]
	Mapping = transaction.Mapping[string, int64]
	Iface   = transaction.Txn[uint64, string, int64, Output]
)

// Txn is a scripted transaction. Values are immutable; each resumption
// returns a new one.
type Txn struct {
	id    uint64
	steps []Step
	probe *Probe

	pc    int
	added bool // Add step has read and now writes
	acc   int64
	reads []Observation
}

// New returns a transaction running steps and committing afterwards, unless
// an Abort step comes first. probe may be nil.
func New(id uint64, probe *Probe, steps ...Step) Txn {
	return Txn{id: id, steps: steps, probe: probe}
}

func (t Txn) ID() uint64 { return t.id }

func (t Txn) Go() (Iface, Event) {
	if t.pc >= len(t.steps) {
		return t, transaction.ClEvent[string, int64](transaction.Ready)
	}
	s := t.steps[t.pc]
	switch s.kind {
	case stepRead:
		return t, transaction.RdEvent[string, int64](transaction.KeySet[string, int64](s.keys))
	case stepWrite:
		return t, transaction.WrEvent(Mapping{transaction.Put(s.keys[0], s.value)})
	case stepDelete:
		return t, transaction.WrEvent(Mapping{transaction.Del[string, int64](s.keys[0])})
	case stepAdd:
		if t.added {
			return t, transaction.WrEvent(Mapping{transaction.Put(s.keys[0], t.acc+s.value)})
		}
		return t, transaction.RdEvent[string, int64](transaction.KeySet[string, int64](s.keys))
	case stepAbort:
		return t, transaction.ClEvent[string, int64](transaction.Abort)
	default:
		return t, transaction.OpEvent[string, int64]()
	}
}

func (t Txn) Op() Iface {
	t.pc++
	return t
}

func (t Txn) Rd(m Mapping) Iface {
	s := t.steps[t.pc]
	reads := slices.Clip(t.reads)
	for _, k := range s.keys {
		v, present, _ := m.Lookup(k)
		reads = append(reads, Observation{Key: k, Value: v, Present: present})
		if s.kind == stepAdd {
			t.acc = v
		}
	}
	t.reads = reads
	if s.kind == stepAdd {
		t.added = true
		return t
	}
	t.pc++
	return t
}

func (t Txn) Wr() Iface {
	t.pc++
	t.added, t.acc = false, 0
	return t
}

func (t Txn) Cl() (Output, bool) {
	if t.probe != nil {
		t.probe.Closes.Add(1)
	}
	aborted := t.pc < len(t.steps) && t.steps[t.pc].kind == stepAbort
	return Output{Reads: t.reads, Aborted: aborted}, true
}

// Checkpoint is always the start of the script.
func (t Txn) Checkpoint() transaction.Checkpoint {
	return 0
}

func (t Txn) Restore(c transaction.Checkpoint) Iface {
	if t.probe != nil {
		t.probe.Restores.Add(1)
	}
	return Txn{id: t.id, steps: t.steps, probe: t.probe, pc: c.(int)}
}
