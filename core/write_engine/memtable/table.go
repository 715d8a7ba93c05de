// Package memtable holds the in-memory versioned key-value table that the
// speculative protocols publish uncommitted writes into.
//
// Every key carries an optional exclusive write lock and an ordered chain of
// versions keyed by writer id. Each version remembers which readers depend on
// it, so that a writer inserting a version in front of them can report who
// must restart. The version at the zero id stands for "whatever the durable
// store holds".
package memtable

import (
	"errors"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/tidwall/btree"

	"github.com/sushant-115/detdb/core/transaction"
	commonutils "github.com/sushant-115/detdb/internal/common_utils"
)

var (
	// ErrWouldBlock is returned by WLock when a higher-priority transaction
	// holds the lock. The caller must suspend.
	ErrWouldBlock = errors.New("memtable: write lock held by higher-priority transaction")
	// ErrPreempted is returned by Write when the writer lost its lock.
	ErrPreempted = errors.New("memtable: write lock was preempted")
	// ErrDurableMiss is returned by Read when no in-memory version precedes
	// the reader. The value must be fetched from the durable store.
	ErrDurableMiss = errors.New("memtable: no in-memory version, read from durable store")
)

type version[I transaction.ID, V any] struct {
	value   V
	present bool
	readers btree.Set[I]
}

type entry[I transaction.ID, V any] struct {
	locked   bool
	holder   I
	versions btree.Map[I, *version[I, V]]
}

func (e *entry[I, V]) empty() bool {
	return !e.locked && e.versions.Len() == 0
}

// latestBefore returns the newest version written strictly before tid.
func (e *entry[I, V]) latestBefore(tid I) (I, *version[I, V], bool) {
	var (
		wid   I
		found *version[I, V]
	)
	e.versions.Descend(tid, func(k I, v *version[I, V]) bool {
		if k == tid {
			return true
		}
		wid, found = k, v
		return false
	})
	return wid, found, found != nil
}

// VersionedTable is safe for concurrent use. Operations on one key are atomic
// with respect to each other; there is no cross-key atomicity.
type VersionedTable[I transaction.ID, K comparable, V any] struct {
	entries cmap.ConcurrentMap[K, *entry[I, V]]
}

// New returns an empty table.
func New[I transaction.ID, K comparable, V any]() *VersionedTable[I, K, V] {
	return &VersionedTable[I, K, V]{
		entries: commonutils.NewMap[K, *entry[I, V]](),
	}
}

// alter runs fn on the entry for key under the key's shard lock, creating the
// entry if needed, and drops the entry afterwards if it ended up empty.
// fn must not touch the table.
func (t *VersionedTable[I, K, V]) alter(key K, fn func(e *entry[I, V])) {
	t.entries.Upsert(key, nil, func(exist bool, e *entry[I, V], _ *entry[I, V]) *entry[I, V] {
		if !exist || e == nil {
			e = &entry[I, V]{}
		}
		fn(e)
		return e
	})
	t.entries.RemoveCb(key, func(_ K, e *entry[I, V], exists bool) bool {
		return exists && e.empty()
	})
}

// Read returns the latest version of key written strictly before rid and
// registers rid as a reader of it. When the only candidate is the durable
// version, rid is registered on the zero version and ErrDurableMiss is
// returned; this is not a table failure.
func (t *VersionedTable[I, K, V]) Read(key K, rid I) (val V, present bool, wid I, err error) {
	var zero I
	t.alter(key, func(e *entry[I, V]) {
		w, ver, ok := e.latestBefore(rid)
		if ok && w != zero {
			ver.readers.Insert(rid)
			val, present, wid = ver.value, ver.present, w
			return
		}
		if !ok {
			ver = &version[I, V]{}
			e.versions.Set(zero, ver)
		}
		ver.readers.Insert(rid)
		err = ErrDurableMiss
	})
	return val, present, wid, err
}

// WLock takes the write lock on key for tid. A lower-priority holder is
// preempted and returned so the caller can force it to reset. A
// higher-priority holder makes WLock fail with ErrWouldBlock and leaves the
// lock where it is.
func (t *VersionedTable[I, K, V]) WLock(key K, tid I) (preempted I, didPreempt bool, err error) {
	t.alter(key, func(e *entry[I, V]) {
		switch {
		case !e.locked:
			e.locked, e.holder = true, tid
		case e.holder > tid:
			preempted, didPreempt = e.holder, true
			e.holder = tid
		case e.holder < tid:
			err = ErrWouldBlock
		}
	})
	return preempted, didPreempt, err
}

// Write publishes a version of key at tid and releases tid's lock. It returns
// the readers of the immediately preceding version whose id is above tid:
// they read data that this version now shadows.
func (t *VersionedTable[I, K, V]) Write(key K, val V, present bool, tid I) (stale []I, err error) {
	t.alter(key, func(e *entry[I, V]) {
		if !e.locked || e.holder != tid {
			err = ErrPreempted
			return
		}
		e.locked = false
		e.versions.Set(tid, &version[I, V]{value: val, present: present})
		if _, pred, ok := e.latestBefore(tid); ok {
			pred.readers.Ascend(transaction.Succ(tid), func(r I) bool {
				stale = append(stale, r)
				return true
			})
		}
	})
	return stale, err
}

// UnWLock releases the lock on key if tid still holds it.
func (t *VersionedTable[I, K, V]) UnWLock(key K, tid I) {
	t.alter(key, func(e *entry[I, V]) {
		if e.locked && e.holder == tid {
			e.locked = false
		}
	})
}

// UnWrite removes the version tid published on key and returns its readers.
func (t *VersionedTable[I, K, V]) UnWrite(key K, tid I) (readers []I) {
	t.alter(key, func(e *entry[I, V]) {
		ver, ok := e.versions.Delete(tid)
		if !ok {
			return
		}
		ver.readers.Scan(func(r I) bool {
			readers = append(readers, r)
			return true
		})
	})
	return readers
}

// UnRead drops rid from the readers of the version wid on key. A zero version
// left without readers carries nothing and is dropped too.
func (t *VersionedTable[I, K, V]) UnRead(key K, rid I, wid I) {
	var zero I
	t.alter(key, func(e *entry[I, V]) {
		ver, ok := e.versions.Get(wid)
		if !ok {
			return
		}
		ver.readers.Delete(rid)
		if wid == zero && ver.readers.Len() == 0 {
			e.versions.Delete(zero)
		}
	})
}

// Prune discards every version of key written strictly below cut.
func (t *VersionedTable[I, K, V]) Prune(key K, cut I) {
	t.alter(key, func(e *entry[I, V]) {
		var drop []I
		e.versions.Scan(func(k I, _ *version[I, V]) bool {
			if k >= cut {
				return false
			}
			drop = append(drop, k)
			return true
		})
		for _, k := range drop {
			e.versions.Delete(k)
		}
	})
}

// Len returns the number of keys with a lock or at least one version.
func (t *VersionedTable[I, K, V]) Len() int {
	return t.entries.Count()
}

// inspect runs fn on the entry for key under the key's shard lock without
// creating or removing anything. fn is not called for absent keys.
func (t *VersionedTable[I, K, V]) inspect(key K, fn func(e *entry[I, V])) {
	t.entries.RemoveCb(key, func(_ K, e *entry[I, V], exists bool) bool {
		if exists && e != nil {
			fn(e)
		}
		return false
	})
}

// Versions lists the writer ids of key's version chain in ascending order.
func (t *VersionedTable[I, K, V]) Versions(key K) []I {
	var ids []I
	t.inspect(key, func(e *entry[I, V]) {
		e.versions.Scan(func(k I, _ *version[I, V]) bool {
			ids = append(ids, k)
			return true
		})
	})
	return ids
}

// Holder returns the current lock holder of key.
func (t *VersionedTable[I, K, V]) Holder(key K) (holder I, locked bool) {
	t.inspect(key, func(e *entry[I, V]) {
		holder, locked = e.holder, e.locked
	})
	return holder, locked
}
