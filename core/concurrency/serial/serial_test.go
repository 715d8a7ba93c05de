package serial

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sushant-115/detdb/core/durability/memstore"
	"github.com/sushant-115/detdb/core/transaction"
	"github.com/sushant-115/detdb/internal/workload/script"
)

type (
	tx     = transaction.Txn[uint64, string, int64, script.Output]
	mstore = memstore.Store[uint64, string, int64, script.Output]
)

func setup(t *testing.T, seed ...transaction.Entry[string, int64]) (*Control[uint64, string, int64, script.Output], *mstore) {
	t.Helper()
	c, err := New[uint64, string, int64, script.Output](nil, nil)
	require.NoError(t, err)
	s := memstore.New[uint64, string, int64, script.Output](memstore.Config{}, nil)
	s.Load(seed)
	return c, s
}

// drain drives x and everything handed back until the protocol returns nil.
func drain(t *testing.T, c *Control[uint64, string, int64, script.Output], s *mstore, x tx) map[uint64]script.Output {
	t.Helper()
	out := map[uint64]script.Output{}
	for x != nil {
		next, ev := x.Go()
		var err error
		switch ev.Kind {
		case transaction.KindOp:
			x = next.Op()
		case transaction.KindRd:
			x, err = c.Rd(next, ev.Prop, s)
		case transaction.KindWr:
			x, err = c.Wr(next, ev.Map, s)
		case transaction.KindCl:
			id := next.ID()
			var res transaction.Result[script.Output]
			x, res, err = c.Done(next, ev.End, s)
			if res.Closed {
				out[id] = res.Value
			}
		}
		require.NoError(t, err)
	}
	return out
}

func TestSerial_ParksUntilTurn(t *testing.T) {
	c, s := setup(t, transaction.Put("K", int64(1)))
	t1 := script.New(1, nil, script.Add("K", 10))
	t2 := script.New(2, nil, script.Read("K"))
	for _, x := range []tx{t1, t2} {
		require.NoError(t, c.Open(c.Wrap(x), s))
	}

	out := drain(t, c, s, t2)
	require.Empty(t, out, "2 is parked behind 1")
	require.Zero(t, c.Progress())

	out = drain(t, c, s, t1)
	require.Len(t, out, 2)
	require.Equal(t, []script.Observation{{Key: "K", Value: 11, Present: true}}, out[2].Reads)
	require.Equal(t, uint64(2), c.Progress())
}

func TestSerial_ReadsOwnBufferedWrites(t *testing.T) {
	c, s := setup(t, transaction.Put("K", int64(1)), transaction.Put("J", int64(3)))
	x := script.New(1, nil,
		script.Write("K", 5),
		script.Delete("J"),
		script.Read("K", "J"),
	)

	out := drain(t, c, s, x)
	require.Equal(t, []script.Observation{
		{Key: "K", Value: 5, Present: true},
		{Key: "J"},
	}, out[1].Reads)
	require.Equal(t, map[string]int64{"K": 5}, s.Snapshot())
}

func TestSerial_FilterSeesBufferedWrites(t *testing.T) {
	c, s := setup(t, transaction.Put("a", int64(1)), transaction.Put("b", int64(2)))
	require.NoError(t, c.Open(script.New(1, nil), s))

	x, err := c.Wr(script.New(1, nil, script.Write("c", 4)), transaction.Mapping[string, int64]{
		transaction.Put("c", int64(4)),
		transaction.Del[string, int64]("b"),
	}, s)
	require.NoError(t, err)

	even := transaction.Filter[string, int64](func(_ string, v int64) bool { return v%2 == 0 })
	m, err := s.Rd(even)
	require.NoError(t, err)
	require.Len(t, m, 1, "store is untouched before commit")

	buf, _ := c.waiting.Get(x.ID())
	require.ElementsMatch(t, transaction.Mapping[string, int64]{transaction.Put("c", int64(4))}, overlay(m, buf, even))
}

func TestSerial_AbortDiscardsWrites(t *testing.T) {
	c, s := setup(t, transaction.Put("K", int64(1)))
	out := drain(t, c, s, script.New(1, nil, script.Write("K", 9), script.Abort()))
	require.True(t, out[1].Aborted)
	require.Equal(t, map[string]int64{"K": 1}, s.Snapshot())
	require.Zero(t, c.waiting.Count())
	require.Equal(t, uint64(1), c.Progress())
}
