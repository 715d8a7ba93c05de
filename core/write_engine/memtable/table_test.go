package memtable

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTable() *VersionedTable[uint64, string, int] {
	return New[uint64, string, int]()
}

func TestRead_MissRegistersZeroVersion(t *testing.T) {
	tbl := newTable()

	_, _, _, err := tbl.Read("k", 5)
	require.ErrorIs(t, err, ErrDurableMiss)
	require.Equal(t, []uint64{0}, tbl.Versions("k"))

	// A second reader still has to go to the durable store.
	_, _, _, err = tbl.Read("k", 7)
	require.ErrorIs(t, err, ErrDurableMiss)
}

func TestWrite_VisibleOnlyToLaterReaders(t *testing.T) {
	tbl := newTable()

	_, didPreempt, err := tbl.WLock("k", 3)
	require.NoError(t, err)
	require.False(t, didPreempt)
	stale, err := tbl.Write("k", 30, true, 3)
	require.NoError(t, err)
	require.Empty(t, stale)

	val, present, wid, err := tbl.Read("k", 4)
	require.NoError(t, err)
	assert.True(t, present)
	assert.Equal(t, 30, val)
	assert.Equal(t, uint64(3), wid)

	// Reader 3 and below must not see version 3.
	_, _, _, err = tbl.Read("k", 3)
	require.ErrorIs(t, err, ErrDurableMiss)
}

func TestWrite_ReportsStaleReaders(t *testing.T) {
	tbl := newTable()

	// Readers 2, 5 and 9 observe the durable version.
	for _, rid := range []uint64{2, 5, 9} {
		_, _, _, err := tbl.Read("k", rid)
		require.ErrorIs(t, err, ErrDurableMiss)
	}

	_, _, err := tbl.WLock("k", 4)
	require.NoError(t, err)
	stale, err := tbl.Write("k", 1, true, 4)
	require.NoError(t, err)
	require.ElementsMatch(t, []uint64{5, 9}, stale)
}

func TestWrite_DeleteVersion(t *testing.T) {
	tbl := newTable()
	_, _, err := tbl.WLock("k", 1)
	require.NoError(t, err)
	_, err = tbl.Write("k", 0, false, 1)
	require.NoError(t, err)

	_, present, wid, err := tbl.Read("k", 2)
	require.NoError(t, err)
	assert.False(t, present)
	assert.Equal(t, uint64(1), wid)
}

func TestWLock_Priority(t *testing.T) {
	tbl := newTable()

	_, _, err := tbl.WLock("k", 5)
	require.NoError(t, err)

	// Same holder is a no-op.
	_, didPreempt, err := tbl.WLock("k", 5)
	require.NoError(t, err)
	require.False(t, didPreempt)

	// Lower-priority transaction blocks and does not take the lock.
	_, _, err = tbl.WLock("k", 8)
	require.ErrorIs(t, err, ErrWouldBlock)
	holder, locked := tbl.Holder("k")
	require.True(t, locked)
	require.Equal(t, uint64(5), holder)

	// Higher-priority transaction preempts.
	preempted, didPreempt, err := tbl.WLock("k", 2)
	require.NoError(t, err)
	require.True(t, didPreempt)
	require.Equal(t, uint64(5), preempted)

	// The preempted writer cannot publish.
	_, err = tbl.Write("k", 50, true, 5)
	require.ErrorIs(t, err, ErrPreempted)
}

func TestUnWLock_OnlyHolder(t *testing.T) {
	tbl := newTable()
	_, _, err := tbl.WLock("k", 2)
	require.NoError(t, err)

	tbl.UnWLock("k", 3)
	_, locked := tbl.Holder("k")
	require.True(t, locked)

	tbl.UnWLock("k", 2)
	require.Equal(t, 0, tbl.Len())
}

func TestUnWrite_ReturnsReaders(t *testing.T) {
	tbl := newTable()
	_, _, err := tbl.WLock("k", 2)
	require.NoError(t, err)
	_, err = tbl.Write("k", 20, true, 2)
	require.NoError(t, err)

	for _, rid := range []uint64{3, 6} {
		_, _, _, err := tbl.Read("k", rid)
		require.NoError(t, err)
	}

	require.ElementsMatch(t, []uint64{3, 6}, tbl.UnWrite("k", 2))
	require.Empty(t, tbl.UnWrite("k", 2))
	require.Equal(t, 0, tbl.Len())
}

func TestUnRead_DropsEmptyZeroVersion(t *testing.T) {
	tbl := newTable()
	_, _, _, err := tbl.Read("k", 4)
	require.ErrorIs(t, err, ErrDurableMiss)
	_, _, _, err = tbl.Read("k", 6)
	require.ErrorIs(t, err, ErrDurableMiss)

	tbl.UnRead("k", 4, 0)
	require.Equal(t, 1, tbl.Len())
	tbl.UnRead("k", 6, 0)
	require.Equal(t, 0, tbl.Len())
}

func TestUnRead_KeepsWrittenVersion(t *testing.T) {
	tbl := newTable()
	_, _, err := tbl.WLock("k", 1)
	require.NoError(t, err)
	_, err = tbl.Write("k", 10, true, 1)
	require.NoError(t, err)
	_, _, _, err = tbl.Read("k", 2)
	require.NoError(t, err)

	tbl.UnRead("k", 2, 1)
	require.Equal(t, []uint64{1}, tbl.Versions("k"))

	// Version 1 has no reader left, so a later writer reports nobody.
	_, _, err = tbl.WLock("k", 3)
	require.NoError(t, err)
	stale, err := tbl.Write("k", 30, true, 3)
	require.NoError(t, err)
	require.Empty(t, stale)
}

func TestPrune_CutsHistory(t *testing.T) {
	tbl := newTable()
	_, _, _, err := tbl.Read("k", 9)
	require.ErrorIs(t, err, ErrDurableMiss)
	for _, wid := range []uint64{2, 4, 6} {
		_, _, err := tbl.WLock("k", wid)
		require.NoError(t, err)
		_, err = tbl.Write("k", int(wid)*10, true, wid)
		require.NoError(t, err)
	}
	require.Equal(t, []uint64{0, 2, 4, 6}, tbl.Versions("k"))

	tbl.Prune("k", 4)
	require.Equal(t, []uint64{4, 6}, tbl.Versions("k"))

	// Nothing below the cut is reachable any more.
	val, _, wid, err := tbl.Read("k", 5)
	require.NoError(t, err)
	require.Equal(t, uint64(4), wid)
	require.Equal(t, 40, val)
	_, _, _, err = tbl.Read("k", 3)
	require.ErrorIs(t, err, ErrDurableMiss)
}

func TestPrune_GarbageCollectsEntry(t *testing.T) {
	tbl := newTable()
	_, _, err := tbl.WLock("k", 1)
	require.NoError(t, err)
	_, err = tbl.Write("k", 1, true, 1)
	require.NoError(t, err)

	tbl.Prune("k", 2)
	require.Equal(t, 0, tbl.Len())
	require.Nil(t, tbl.Versions("k"))
}

func TestWLock_ConcurrentLowestWins(t *testing.T) {
	tbl := newTable()

	var wg sync.WaitGroup
	for tid := uint64(1); tid <= 64; tid++ {
		wg.Add(1)
		go func(tid uint64) {
			defer wg.Done()
			_, _, _ = tbl.WLock("hot", tid)
		}(tid)
	}
	wg.Wait()

	holder, locked := tbl.Holder("hot")
	require.True(t, locked)
	require.Equal(t, uint64(1), holder)
}

func TestInspectors_DoNotCreateEntries(t *testing.T) {
	tbl := newTable()

	holder, locked := tbl.Holder("absent")
	require.False(t, locked)
	require.Zero(t, holder)
	require.Nil(t, tbl.Versions("absent"))
	require.Equal(t, 0, tbl.Len())
	require.False(t, tbl.entries.Has("absent"))
}

func TestInspectors_ConcurrentWithWriters(t *testing.T) {
	tbl := newTable()

	var wg sync.WaitGroup
	for tid := uint64(1); tid <= 16; tid++ {
		wg.Add(2)
		go func(tid uint64) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				if _, _, err := tbl.WLock("hot", tid); err == nil {
					tbl.UnWLock("hot", tid)
				}
			}
		}(tid)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				tbl.Holder("hot")
				tbl.Versions("hot")
			}
		}()
	}
	wg.Wait()

	_, locked := tbl.Holder("hot")
	assert.False(t, locked)
	assert.Equal(t, 0, tbl.Len())
}
