package commonutils

import (
	"bytes"
	"hash/maphash"
	"runtime"
	"strconv"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// NewMap returns a sharded concurrent map for any comparable key type.
// Keys are spread over shards with a per-map maphash seed.
func NewMap[K comparable, V any]() cmap.ConcurrentMap[K, V] {
	seed := maphash.MakeSeed()
	return cmap.NewWithCustomShardingFunction[K, V](func(key K) uint32 {
		h := maphash.Comparable(seed, key)
		return uint32(h) ^ uint32(h>>32)
	})
}

// GoID returns the id of the calling goroutine, or -1 if it cannot be parsed.
// Only meant for log fields.
func GoID() int64 {
	// A small buffer is enough for the first line of runtime.Stack
	b := make([]byte, 64)
	b = b[:runtime.Stack(b, false)]
	// The first line looks like: "goroutine 123 [running]:\n"
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	i := bytes.IndexByte(b, ' ')
	if i < 0 {
		return -1
	}
	n, err := strconv.ParseInt(string(b[:i]), 10, 64)
	if err != nil {
		return -1
	}
	return n
}
