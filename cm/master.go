// Master change managers: UnbufferedMasterCM sends each commit's delta to
// every slave as soon as pack() produces it; BufferedMasterCM coalesces
// successive small commits into one wire delta, flushed explicitly or once
// accumulated bytes cross a threshold - the distinction SPEC_FULL.md's
// "Supplemental features" item 2 calls out as the one genuine wire-format difference
// between the two ChangeType::DELTA/UNBUFFERED policies. Grounded on the
// original UnbufferedMasterCM/objectCM commit handler (§4.5 "Commit
// (master)"), restructured as two small structs sharing a masterCore rather
// than an inheritance chain (spec.md §9).
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package cm

import (
	"sync"

	"github.com/aistore-dso/dso/cluster"
	"github.com/aistore-dso/dso/cmn/atomic"
	"github.com/aistore-dso/dso/cmn/metrics"
)

// masterStage is the IDLE/COMMITTING state machine spec.md §4.5 describes
// for the unbuffered master CM; the buffered variant reuses it unchanged.
type masterStage int32

const (
	stageIdle masterStage = iota
	stageCommitting
)

type masterCore struct {
	mu      sync.Mutex
	version cluster.Version
	slaves  *slaveSet
	node    *cluster.LocalNode
	stage   atomic.Int32 // masterStage
}

func newMasterCore(node *cluster.LocalNode) *masterCore {
	// a freshly registered object's initial instance is already version 1
	// (spec.md §3 Version sentinels: FIRST=1); _cmdCommit only ever
	// advances from there.
	return &masterCore{slaves: newSlaveSet(), node: node, version: cluster.VersionFirst}
}

func (m *masterCore) currentVersion() cluster.Version {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.version
}

// addSlave implements spec.md §4.5's subscribe handler, shared by both
// master variants: validate the requested version, record the subscriber,
// and decide between a cache-hit reply and a full instance stream.
func (m *masterCore) addSlave(slave *cluster.Node, sub *cluster.SubscribeObject, getInstanceData func() []byte) (cluster.Version, cluster.MapResult, bool) {
	m.mu.Lock()
	version := m.version
	m.mu.Unlock()

	m.slaves.add(slave)

	if sub.MasterInstanceID == sub.InstanceID {
		// mismatched master instance identity: never a cache hit.
	} else if sub.MasterInstanceID != cluster.InstanceInvalid &&
		sub.MinCachedVersion <= version && version <= sub.MaxCachedVersion &&
		sub.MinCachedVersion != cluster.VersionNone {
		// slave's cached range covers our current version: reply
		// VERSION_INVALID/use-cache (spec.md §4.5).
		replyVersion := version
		if sub.RequestedVersion == cluster.VersionOldest {
			replyVersion = sub.MinCachedVersion
		}
		return replyVersion, cluster.ResultUseCache, true
	}

	_ = getInstanceData // streamed by the ObjectStore handler, not here
	return version, cluster.ResultOK, false
}

func (m *masterCore) removeSlave(slave *cluster.Node) {
	m.slaves.remove(slave.ID)
}

// slaveNodes snapshots the currently mapped slave nodes, used by
// ObjectStore.DeregisterObject to tell every live remote slave its master
// is going away (spec.md §4.5 "Deregistration").
func (m *masterCore) slaveNodes() []*cluster.Node {
	return m.slaves.nodeList()
}

// addOldMaster is the supplemental "addOldMaster" behavior from
// original_source's unbufferedMasterCM.cpp: when mastership of an object
// migrates, the former master re-subscribes as an ordinary slave of the new
// one. It's recorded in the slave set exactly like a normal subscriber, then
// handed just the current version header through sendVersion - no instance
// data, since a former master already holds the object's state and only
// needs to resume tracking the version line.
func (m *masterCore) addOldMaster(node *cluster.Node, sendVersion func(node *cluster.Node, version cluster.Version)) {
	m.slaves.add(node)
	sendVersion(node, m.currentVersion())
}

// commit runs the shared commit algorithm (spec.md §4.5 "_cmdCommit"):
// with no slaves, serve the current version unchanged; otherwise pack a
// delta, and only advance the version if pack produced bytes.
func (m *masterCore) commit(requestID uint64, pack func() []byte, send func(slaves []*cluster.Node, version cluster.Version, data []byte)) {
	m.stage.Store(int32(stageCommitting))
	defer m.stage.Store(int32(stageIdle))

	if m.slaves.isEmpty() {
		v := m.currentVersion()
		m.node.ServeRequest(requestID, cluster.MapObjectReply{RequestID: requestID, Version: v, Result: cluster.ResultOK})
		return
	}

	m.mu.Lock()
	next := m.version + 1
	m.mu.Unlock()

	data := pack()
	if len(data) > 0 {
		send(m.slaves.nodeList(), next, data)
		m.mu.Lock()
		m.version = next
		m.mu.Unlock()
		metrics.VersionGauge.WithLabelValues(m.node.Self.ID.String()).Set(float64(next))
	}

	v := m.currentVersion()
	m.node.ServeRequest(requestID, cluster.MapObjectReply{RequestID: requestID, Version: v, Result: cluster.ResultOK})
}

// UnbufferedMasterCM sends every commit's delta immediately, one wire
// message per commit (spec.md ChangeType::UNBUFFERED).
type UnbufferedMasterCM struct {
	core *masterCore
	pack func() []byte
	send func(slaves []*cluster.Node, version cluster.Version, data []byte)
}

func NewUnbufferedMaster(node *cluster.LocalNode, pack func() []byte, send func([]*cluster.Node, cluster.Version, []byte)) *UnbufferedMasterCM {
	return &UnbufferedMasterCM{core: newMasterCore(node), pack: pack, send: send}
}

func (c *UnbufferedMasterCM) Variant() cluster.CMVariant { return cluster.CMUnbufferedMaster }
func (c *UnbufferedMasterCM) Version() cluster.Version   { return c.core.currentVersion() }

func (c *UnbufferedMasterCM) CommitNB(_ *cluster.Object) uint64 {
	id := c.core.node.RegisterRequest()
	go c.core.commit(id, c.pack, c.send)
	return id
}

func (c *UnbufferedMasterCM) CommitSync(requestID uint64) (cluster.Version, cluster.MapResult) {
	v, timedOut := c.core.node.WaitRequest(requestID, 0)
	if timedOut {
		return cluster.VersionInvalid, cluster.ResultTimeout
	}
	reply := v.(cluster.MapObjectReply)
	return reply.Version, reply.Result
}

func (c *UnbufferedMasterCM) AddSlave(slave *cluster.Node, sub *cluster.SubscribeObject) (cluster.Version, cluster.MapResult, bool) {
	return c.core.addSlave(slave, sub, nil)
}
func (c *UnbufferedMasterCM) RemoveSlave(slave *cluster.Node) { c.core.removeSlave(slave) }

// AddOldMaster re-subscribes a former master of this object as an ordinary
// slave (see masterCore.addOldMaster).
func (c *UnbufferedMasterCM) AddOldMaster(node *cluster.Node, sendVersion func(*cluster.Node, cluster.Version)) {
	c.core.addOldMaster(node, sendVersion)
}

// Slaves reports every node currently subscribed to this object.
func (c *UnbufferedMasterCM) Slaves() []*cluster.Node { return c.core.slaveNodes() }

// SlaveCount exposes _slavesCount[nodeID] for tests and admin introspection
// (spec.md §8 invariant 2 "Slave-set consistency").
func (c *UnbufferedMasterCM) SlaveCount(id cluster.NodeID) int { return c.core.slaves.count(id) }
func (c *UnbufferedMasterCM) Apply(cluster.Version, []byte, bool) bool { return false }
func (c *UnbufferedMasterCM) Sync(cluster.Version, int64) bool         { return true }

// BufferedMasterCM accumulates pack() output from successive commits and
// only flushes the coalesced delta to slaves once FlushThreshold bytes
// have accumulated or Flush is called explicitly - trading latency for
// fewer, larger wire messages under a burst of small commits.
type BufferedMasterCM struct {
	core            *masterCore
	pack            func() []byte
	send            func(slaves []*cluster.Node, version cluster.Version, data []byte)
	flushMu         sync.Mutex
	buffered        []byte
	FlushThreshold  int
}

const DefaultFlushThreshold = 4 * 1024

func NewBufferedMaster(node *cluster.LocalNode, pack func() []byte, send func([]*cluster.Node, cluster.Version, []byte)) *BufferedMasterCM {
	return &BufferedMasterCM{core: newMasterCore(node), pack: pack, send: send, FlushThreshold: DefaultFlushThreshold}
}

func (c *BufferedMasterCM) Variant() cluster.CMVariant { return cluster.CMBufferedMaster }
func (c *BufferedMasterCM) Version() cluster.Version   { return c.core.currentVersion() }

func (c *BufferedMasterCM) CommitNB(_ *cluster.Object) uint64 {
	id := c.core.node.RegisterRequest()
	go c.commitBuffered(id)
	return id
}

func (c *BufferedMasterCM) commitBuffered(requestID uint64) {
	data := c.pack()
	c.flushMu.Lock()
	c.buffered = append(c.buffered, data...)
	shouldFlush := len(c.buffered) >= c.FlushThreshold
	c.flushMu.Unlock()

	if !shouldFlush {
		v := c.core.currentVersion()
		c.core.node.ServeRequest(requestID, cluster.MapObjectReply{RequestID: requestID, Version: v, Result: cluster.ResultOK})
		return
	}
	c.core.commit(requestID, c.takeBuffered, c.send)
}

func (c *BufferedMasterCM) takeBuffered() []byte {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()
	data := c.buffered
	c.buffered = nil
	return data
}

// Flush forces any accumulated-but-unsent delta out immediately.
func (c *BufferedMasterCM) Flush() uint64 {
	id := c.core.node.RegisterRequest()
	go c.core.commit(id, c.takeBuffered, c.send)
	return id
}

func (c *BufferedMasterCM) CommitSync(requestID uint64) (cluster.Version, cluster.MapResult) {
	v, timedOut := c.core.node.WaitRequest(requestID, 0)
	if timedOut {
		return cluster.VersionInvalid, cluster.ResultTimeout
	}
	reply := v.(cluster.MapObjectReply)
	return reply.Version, reply.Result
}

func (c *BufferedMasterCM) AddSlave(slave *cluster.Node, sub *cluster.SubscribeObject) (cluster.Version, cluster.MapResult, bool) {
	return c.core.addSlave(slave, sub, nil)
}
func (c *BufferedMasterCM) RemoveSlave(slave *cluster.Node) { c.core.removeSlave(slave) }

// AddOldMaster re-subscribes a former master of this object as an ordinary
// slave (see masterCore.addOldMaster).
func (c *BufferedMasterCM) AddOldMaster(node *cluster.Node, sendVersion func(*cluster.Node, cluster.Version)) {
	c.core.addOldMaster(node, sendVersion)
}

// Slaves reports every node currently subscribed to this object.
func (c *BufferedMasterCM) Slaves() []*cluster.Node { return c.core.slaveNodes() }

// SlaveCount exposes _slavesCount[nodeID] for tests and admin introspection.
func (c *BufferedMasterCM) SlaveCount(id cluster.NodeID) int { return c.core.slaves.count(id) }
func (c *BufferedMasterCM) Apply(cluster.Version, []byte, bool) bool   { return false }
func (c *BufferedMasterCM) Sync(cluster.Version, int64) bool           { return true }

var _ cluster.ChangeManager = (*UnbufferedMasterCM)(nil)
var _ cluster.ChangeManager = (*BufferedMasterCM)(nil)
