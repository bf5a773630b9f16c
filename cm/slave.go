// SlaveCM tracks a remote master's version line for one mapped instance,
// implementing the UNMAPPED -> MAPPING -> LIVE -> STALE state machine of
// spec.md §4.5 "State machines". Apply rejects out-of-order packets as a
// protocol violation (spec.md §7 "Protocol violation") since the master
// serializes delta delivery per slave; Sync blocks waiters until the
// requested version has been observed or the slave goes STALE.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package cm

import (
	"sync"
	"time"

	"github.com/aistore-dso/dso/cluster"
	"github.com/aistore-dso/dso/cmn/metrics"
	"github.com/aistore-dso/dso/cmn/nlog"
)

type SlaveState int32

const (
	SlaveUnmapped SlaveState = iota
	SlaveMapping
	SlaveLive
	SlaveStale
)

// SlaveCM is installed by mapObjectNB on the slave side (spec.md §4.5
// "Mapping (slave side)").
type SlaveCM struct {
	mu      sync.Mutex
	state   SlaveState
	version cluster.Version
	master  *cluster.Node

	subscribedVersion cluster.Version
	applyFn           func(data []byte, isDelta bool)

	waiters map[cluster.Version][]chan bool
}

func NewSlave(master *cluster.Node, subscribedVersion cluster.Version, applyFn func([]byte, bool)) *SlaveCM {
	return &SlaveCM{
		state:             SlaveMapping,
		master:            master,
		subscribedVersion: subscribedVersion,
		applyFn:           applyFn,
		waiters:           make(map[cluster.Version][]chan bool),
	}
}

func (s *SlaveCM) Variant() cluster.CMVariant { return cluster.CMSlave }

func (s *SlaveCM) State() SlaveState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *SlaveCM) CurrentVersion() cluster.Version {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Master returns the node this slave CM is mapped against.
func (s *SlaveCM) Master() *cluster.Node { return s.master }

// a slave CM never owns the version line; CommitNB/CommitSync are no-ops
// returning a failure sentinel, matching the capability-set model of
// spec.md §9 where unused capabilities are simply inert.
func (s *SlaveCM) CommitNB(*cluster.Object) uint64 { return 0 }
func (s *SlaveCM) CommitSync(uint64) (cluster.Version, cluster.MapResult) {
	return cluster.VersionInvalid, cluster.ResultFail
}
func (s *SlaveCM) AddSlave(*cluster.Node, *cluster.SubscribeObject) (cluster.Version, cluster.MapResult, bool) {
	return cluster.VersionInvalid, cluster.ResultFail, false
}

// RemoveSlave is how the local node's removeNode cleanup reports master
// loss to a slave CM: it moves to STALE and fails any pending Sync
// waiters (spec.md S6 "Peer loss").
func (s *SlaveCM) RemoveSlave(peer *cluster.Node) {
	if peer != s.master {
		return
	}
	s.mu.Lock()
	s.state = SlaveStale
	waiters := s.waiters
	s.waiters = make(map[cluster.Version][]chan bool)
	s.mu.Unlock()

	for _, chans := range waiters {
		for _, ch := range chans {
			ch <- false
		}
	}
	nlog.Warningf("slave CM: master %s lost, moving to STALE", peer.ID)
}

// Apply consumes one OBJECT_INSTANCE (isDelta=false) or OBJECT_DELTA
// (isDelta=true) payload (spec.md §4.5 "Slave apply"). The first instance
// matching the subscribed version transitions MAPPING -> LIVE; any later
// packet with version != current+1 is rejected as out-of-order.
func (s *SlaveCM) Apply(version cluster.Version, data []byte, isDelta bool) bool {
	s.mu.Lock()
	if s.state == SlaveStale {
		s.mu.Unlock()
		return false
	}
	if !isDelta {
		if s.state == SlaveMapping && version != s.subscribedVersion && s.subscribedVersion != cluster.VersionHead {
			s.mu.Unlock()
			nlog.Warningf("slave CM: unexpected instance version %d (subscribed %d)", version, s.subscribedVersion)
			return false
		}
		s.version = version
		s.state = SlaveLive
	} else {
		if version != s.version+1 {
			s.mu.Unlock()
			nlog.Warningf("slave CM: out-of-order delta version %d (have %d)", version, s.version)
			return false
		}
		s.version = version
	}
	v := s.version
	waiters := s.waiters[v]
	delete(s.waiters, v)
	s.mu.Unlock()

	s.applyFn(data, isDelta)
	metrics.VersionGauge.WithLabelValues(s.master.ID.String()).Set(float64(v))

	for _, ch := range waiters {
		ch <- true
	}
	return true
}

// Sync blocks until version has been observed, the slave goes STALE, or
// timeout_ns elapses (0 means forever).
func (s *SlaveCM) Sync(version cluster.Version, timeoutNS int64) bool {
	s.mu.Lock()
	if s.state == SlaveStale {
		s.mu.Unlock()
		return false
	}
	if s.version >= version {
		s.mu.Unlock()
		return true
	}
	ch := make(chan bool, 1)
	s.waiters[version] = append(s.waiters[version], ch)
	s.mu.Unlock()

	if timeoutNS <= 0 {
		return <-ch
	}
	select {
	case ok := <-ch:
		return ok
	case <-time.After(time.Duration(timeoutNS)):
		return false
	}
}

var _ cluster.ChangeManager = (*SlaveCM)(nil)
