// S1 (spec.md §8): several readers hold clones of one Command concurrently;
// the backing buffer must return to its cache exactly once, regardless of
// release order, and never while another clone still considers itself live.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package cluster_test

import (
	"sync"
	"testing"

	"github.com/aistore-dso/dso/cluster"
	"github.com/aistore-dso/dso/memsys"
)

func TestCloneSharesRefcount(t *testing.T) {
	cache := memsys.New()
	local := &cluster.Node{ID: cluster.NewNodeID()}

	const nClones = 12
	orig := cluster.Alloc(cache, local, local, cluster.DatatypeObject, 1, 40)
	if got := orig.RefCount(); got != 1 {
		t.Fatalf("fresh Command: refcount = %d, want 1", got)
	}

	clones := make([]*cluster.Command, nClones)
	for i := range clones {
		clones[i] = orig.Clone()
	}
	if got := orig.RefCount(); got != int32(nClones+1) {
		t.Fatalf("after %d clones: refcount = %d, want %d", nClones, got, nClones+1)
	}

	var wg sync.WaitGroup
	for _, c := range clones {
		wg.Add(1)
		go func(c *cluster.Command) {
			defer wg.Done()
			c.Release()
		}(c)
	}
	wg.Wait()

	if got := orig.RefCount(); got != 1 {
		t.Fatalf("after releasing every clone: refcount = %d, want 1 (original handle still live)", got)
	}

	orig.Release()
	if got := orig.RefCount(); got != 0 {
		t.Fatalf("after releasing the last handle: refcount = %d, want 0", got)
	}
}
