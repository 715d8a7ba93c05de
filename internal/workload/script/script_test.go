package script

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sushant-115/detdb/core/transaction"
)

func TestScript_AddReadsThenWrites(t *testing.T) {
	var tx Iface = New(1, nil, Add("k", 5))

	tx, ev := tx.Go()
	require.Equal(t, transaction.KindRd, ev.Kind)
	tx = tx.Rd(Mapping{transaction.Put("k", int64(2))})

	tx, ev = tx.Go()
	require.Equal(t, transaction.KindWr, ev.Kind)
	v, present, found := ev.Map.Lookup("k")
	require.True(t, found)
	require.True(t, present)
	require.Equal(t, int64(7), v)
	tx = tx.Wr()

	tx, ev = tx.Go()
	require.Equal(t, transaction.KindCl, ev.Kind)
	require.Equal(t, transaction.Ready, ev.End)
	out, ok := tx.Cl()
	require.True(t, ok)
	require.Equal(t, []Observation{{Key: "k", Value: 2, Present: true}}, out.Reads)
}

func TestScript_AbortAndRestore(t *testing.T) {
	probe := &Probe{}
	var tx Iface = New(4, probe, Read("a"), Abort(), Write("b", 1))
	ckpt := tx.Checkpoint()

	tx, _ = tx.Go()
	tx = tx.Rd(nil)
	tx, ev := tx.Go()
	require.Equal(t, transaction.KindCl, ev.Kind)
	require.Equal(t, transaction.Abort, ev.End)

	tx = tx.Restore(ckpt)
	require.Equal(t, int64(1), probe.Restores.Load())
	_, ev = tx.Go()
	require.Equal(t, transaction.KindRd, ev.Kind)

	out, ok := New(4, nil, Abort()).Cl()
	require.True(t, ok)
	require.True(t, out.Aborted)
}

func TestScript_OldValueUnchanged(t *testing.T) {
	start := New(1, nil, Read("a"), Read("b"))
	next := start.Rd(Mapping{transaction.Put("a", int64(1))})

	_, ev := start.Go()
	keys, _ := ev.Prop.Keys()
	require.Equal(t, []string{"a"}, keys)

	_, ev = next.Go()
	keys, _ = ev.Prop.Keys()
	require.Equal(t, []string{"b"}, keys)
}
