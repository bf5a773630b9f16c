// Package memsys provides the CommandCache: a pool of reusable, variable-size
// byte buffers segregated into power-of-two size classes.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package memsys_test

import (
	"sync"
	"testing"

	"github.com/aistore-dso/dso/memsys"
)

func TestClassRoundsUp(t *testing.T) {
	c := memsys.New()
	buf := c.Get(40)
	if len(buf) != 40 {
		t.Fatalf("got len %d, want 40", len(buf))
	}
	if cap(buf) < memsys.MinPooledSize {
		t.Fatalf("cap %d below MinPooledSize", cap(buf))
	}
}

func TestReuseAfterPut(t *testing.T) {
	c := memsys.New()
	buf := c.Get(128)
	addr := &buf[0]
	c.Put(buf)
	buf2 := c.Get(128)
	if &buf2[0] != addr {
		t.Fatalf("expected the exact buffer back from the free list")
	}
}

func TestOversizedNeverPooled(t *testing.T) {
	c := memsys.New()
	big := c.Get(memsys.MaxPooledSize + 1)
	c.Put(big) // must be a no-op; nothing to assert on directly, but must not panic
	stats := c.GetStats()
	for _, s := range stats {
		if s.Hits+s.Miss != 0 && s.Size > memsys.MaxPooledSize {
			t.Fatalf("oversized buffer leaked into a pooled size class")
		}
	}
}

// S1 (spec.md §8): 13 reader goroutines drain from individual channels; a
// writer allocates and "clones" (here: re-Gets+Puts to model refcount churn)
// across readers, and every reader Puts back what it receives. The test
// asserts that the run finishes and that the cache counted allocations
// (hits plus misses is non-zero); the free-list size is not checked.
func TestConcurrentAllocFree(t *testing.T) {
	const nReaders = 13
	const nOps = 2000

	c := memsys.New()
	var wg sync.WaitGroup
	chs := make([]chan []byte, nReaders)
	for i := range chs {
		chs[i] = make(chan []byte, 4)
	}

	for i := 0; i < nReaders; i++ {
		wg.Add(1)
		go func(ch chan []byte) {
			defer wg.Done()
			for buf := range ch {
				c.Put(buf)
			}
		}(chs[i])
	}

	for i := 0; i < nOps; i++ {
		buf := c.Get(40)
		chs[i%nReaders] <- buf
	}
	for _, ch := range chs {
		close(ch)
	}
	wg.Wait()

	total := uint64(0)
	for _, s := range c.GetStats() {
		total += s.Hits + s.Miss
	}
	if total == 0 {
		t.Fatal("expected allocations to be recorded")
	}
}
