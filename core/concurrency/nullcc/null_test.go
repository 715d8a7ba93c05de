package nullcc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sushant-115/detdb/core/durability/memstore"
	"github.com/sushant-115/detdb/core/transaction"
	"github.com/sushant-115/detdb/internal/workload/script"
)

func TestNull_PassesThrough(t *testing.T) {
	c := New[uint64, string, int64, script.Output](nil)
	s := memstore.New[uint64, string, int64, script.Output](memstore.Config{}, nil)

	var x transaction.Txn[uint64, string, int64, script.Output] = script.New(1, nil,
		script.Write("K", 3),
		script.Add("K", 1),
	)
	x = c.Wrap(x)
	require.NoError(t, c.Open(x, s))

	var res transaction.Result[script.Output]
	for x != nil {
		next, ev := x.Go()
		var err error
		switch ev.Kind {
		case transaction.KindRd:
			x, err = c.Rd(next, ev.Prop, s)
		case transaction.KindWr:
			x, err = c.Wr(next, ev.Map, s)
			// Writes reach the store immediately.
			if err == nil {
				_, ok := s.Snapshot()["K"]
				require.True(t, ok)
			}
		case transaction.KindCl:
			x, res, err = c.Done(next, ev.End, s)
		default:
			x = next.Op()
		}
		require.NoError(t, err)
	}

	require.True(t, res.Closed)
	require.Equal(t, []script.Observation{{Key: "K", Value: 3, Present: true}}, res.Value.Reads)
	require.Equal(t, map[string]int64{"K": 4}, s.Snapshot())
	require.Nil(t, c.Next())
}

type closedStore struct {
	*memstore.Store[uint64, string, int64, script.Output]
}

func (closedStore) Open(transaction.Txn[uint64, string, int64, script.Output]) error {
	return errors.New("store closed")
}

func TestNull_OpenHookFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	c := New[uint64, string, int64, script.Output](zap.New(core))
	s := closedStore{memstore.New[uint64, string, int64, script.Output](memstore.Config{}, nil)}

	require.NoError(t, c.Open(script.New(4, nil), s))

	entries := logs.FilterMessage("store open hook failed").All()
	require.Len(t, entries, 1)
	require.Equal(t, "nullcc", entries[0].LoggerName)
	require.Equal(t, uint64(4), entries[0].ContextMap()["tid"])
	require.Equal(t, "store closed", entries[0].ContextMap()["error"])
}
