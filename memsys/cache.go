// Package memsys provides the CommandCache: a pool of reusable, variable-size
// byte buffers segregated into power-of-two size classes, so the hot
// (receiver-thread) allocation path never touches the Go allocator in
// steady state. Deliberately hand-rolled rather than sync.Pool: a
// GC-cleared pool defeats the whole point of steady-state zero-allocation
// retention (spec.md §4.2) - the same reasoning behind the teacher's own
// MMSA/Slab design in the full memsys package (see memsys/a_test.go's
// FreeSpec/Pressure accounting, which this trims down to the single
// CommandCache concern).
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package memsys

import (
	"math/bits"
	"sync"

	"github.com/aistore-dso/dso/cmn/atomic"
	"github.com/aistore-dso/dso/cmn/metrics"
)

const (
	// MinPooledSize is the smallest size class; smaller requests round up.
	MinPooledSize = 64
	// MaxPooledSize caps pooling; buffers above this are allocated and freed
	// directly, never retained (spec.md §4.2's "exceeds pool size class").
	MaxPooledSize = 1 << 20
)

type sizeClass struct {
	size int
	mu   sync.Mutex
	free [][]byte
	hits atomic.Uint64
	miss atomic.Uint64
}

// CommandCache is the pool of reusable command buffers keyed by size class.
type CommandCache struct {
	classes []*sizeClass // index i holds size (MinPooledSize << i)
}

func New() *CommandCache {
	c := &CommandCache{}
	for size := MinPooledSize; size <= MaxPooledSize; size <<= 1 {
		c.classes = append(c.classes, &sizeClass{size: size})
	}
	return c
}

func classIndex(n int) int {
	if n < MinPooledSize {
		n = MinPooledSize
	}
	// smallest power of two >= n, expressed as an offset from MinPooledSize
	shift := bits.Len(uint(n-1)) - bits.Len(uint(MinPooledSize-1))
	if shift < 0 {
		shift = 0
	}
	return shift
}

// Get returns a buffer of capacity >= size. Content beyond any caller-owned
// header is uninitialized. Buffers above MaxPooledSize are allocated
// directly and never returned to a free list.
func (c *CommandCache) Get(size int) []byte {
	if size > MaxPooledSize {
		metrics.CacheAllocTotal.WithLabelValues("oversized", "alloc").Inc()
		return make([]byte, size)
	}
	idx := classIndex(size)
	cls := c.classes[idx]

	cls.mu.Lock()
	n := len(cls.free)
	var buf []byte
	if n > 0 {
		buf = cls.free[n-1]
		cls.free[n-1] = nil
		cls.free = cls.free[:n-1]
	}
	cls.mu.Unlock()

	label := "pool"
	if buf == nil {
		buf = make([]byte, cls.size)
		cls.miss.Add(1)
		label = "alloc"
	} else {
		cls.hits.Add(1)
		buf = buf[:cls.size]
	}
	metrics.CacheAllocTotal.WithLabelValues(classLabel(idx), label).Inc()
	return buf[:size]
}

// Put returns buf to its size class's free list. Buffers whose capacity
// exceeds MaxPooledSize are dropped for the GC to reclaim (spec.md §4.2).
func (c *CommandCache) Put(buf []byte) {
	cap := cap(buf)
	if cap > MaxPooledSize || cap < MinPooledSize {
		return
	}
	idx := classIndex(cap)
	cls := c.classes[idx]
	if cls.size != cap {
		// not an exact size-class match (e.g. a foreign slice); drop it.
		return
	}
	cls.mu.Lock()
	cls.free = append(cls.free, buf[:cap])
	cls.mu.Unlock()
}

func classLabel(idx int) string {
	size := MinPooledSize << idx
	switch {
	case size < 1024:
		return "b"
	case size < 1<<20:
		return "k"
	default:
		return "m"
	}
}

// Stats reports per-class hit/miss counts, mirroring the teacher's
// memsys.MMSA.GetStats() hit accounting (memsys/a_test.go printStats).
type Stats struct {
	Size int
	Hits uint64
	Miss uint64
}

func (c *CommandCache) GetStats() []Stats {
	out := make([]Stats, len(c.classes))
	for i, cls := range c.classes {
		out[i] = Stats{Size: cls.size, Hits: cls.hits.Load(), Miss: cls.miss.Load()}
	}
	return out
}
