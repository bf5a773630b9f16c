package cm_test

import (
	"time"

	"github.com/aistore-dso/dso/cluster"
	"github.com/aistore-dso/dso/cm"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func init() { cluster.InitIdentity(1) }

var _ = Describe("UnbufferedMasterCM", func() {
	// S2 (spec.md §8): Node A registers object O (DELTA). Node B maps O at
	// version HEAD. A commits three deltas; B's version advances 1->2->3->4
	// and observes each unpacked payload in order.
	It("propagates successive commits to a mapped slave in version order", func() {
		nodeA := cluster.NewLocalNode(cluster.NewNodeID(), nil)
		slavePeer := &cluster.Node{ID: cluster.NewNodeID()}

		payloads := [][]byte{[]byte("d1"), []byte("d2"), []byte("d3")}
		var sent int
		pack := func() []byte {
			d := payloads[sent]
			sent++
			return d
		}

		var observed [][]byte
		var slaveCM *cm.SlaveCM
		send := func(slaves []*cluster.Node, version cluster.Version, data []byte) {
			slaveCM.Apply(version, data, true)
		}

		master := cm.NewUnbufferedMaster(nodeA, pack, send)
		slaveCM = cm.NewSlave(&cluster.Node{ID: nodeA.Self.ID}, cluster.VersionFirst, func(data []byte, isDelta bool) {
			if isDelta {
				observed = append(observed, append([]byte{}, data...))
			}
		})

		sub := &cluster.SubscribeObject{RequestedVersion: cluster.VersionHead}
		_, result, useCache := master.AddSlave(slavePeer, sub)
		Expect(result).To(Equal(cluster.ResultOK))
		Expect(useCache).To(BeFalse())

		// first instance establishes LIVE at version 1 before deltas apply.
		slaveCM.Apply(cluster.VersionFirst, nil, false)
		Expect(slaveCM.State()).To(Equal(cm.SlaveLive))

		for i := 0; i < 3; i++ {
			obj := cluster.NewObject(cluster.NewObjectID(), cluster.ChangeUnbuffered)
			reqID := master.CommitNB(obj)
			v, res := master.CommitSync(reqID)
			Expect(res).To(Equal(cluster.ResultOK))
			Expect(v).To(Equal(cluster.Version(i + 2)))
			Expect(slaveCM.CurrentVersion()).To(Equal(cluster.Version(i + 2)))
		}

		Expect(observed).To(Equal(payloads))
	})

	// S5 (spec.md §8): a slave subscribes twice from the same node (two
	// mapped instances); after the first unmap the count is 1 and the node
	// remains in _slaves, after the second it is 0 and the node is gone.
	It("balances repeated subscribe/unsubscribe from the same node", func() {
		nodeA := cluster.NewLocalNode(cluster.NewNodeID(), nil)
		master := cm.NewUnbufferedMaster(nodeA, func() []byte { return nil }, func([]*cluster.Node, cluster.Version, []byte) {})
		peer := &cluster.Node{ID: cluster.NewNodeID()}
		sub := &cluster.SubscribeObject{RequestedVersion: cluster.VersionHead}

		master.AddSlave(peer, sub)
		master.AddSlave(peer, sub)
		Expect(master.SlaveCount(peer.ID)).To(Equal(2))

		master.RemoveSlave(peer)
		Expect(master.SlaveCount(peer.ID)).To(Equal(1))

		master.RemoveSlave(peer)
		Expect(master.SlaveCount(peer.ID)).To(Equal(0))
	})

	// S3 (spec.md §8): a slave whose cached range covers the master's
	// current version gets a VERSION_INVALID/use-cache reply instead of an
	// instance stream.
	It("replies use-cache when the slave's cached range covers the current version", func() {
		nodeA := cluster.NewLocalNode(cluster.NewNodeID(), nil)
		master := cm.NewUnbufferedMaster(nodeA, func() []byte { return []byte("x") }, func([]*cluster.Node, cluster.Version, []byte) {})
		peer := &cluster.Node{ID: cluster.NewNodeID()}

		// an anchor slave keeps _slaves non-empty so commits actually
		// advance the version (spec.md §4.5: no slaves -> no advance).
		anchor := &cluster.Node{ID: cluster.NewNodeID()}
		master.AddSlave(anchor, &cluster.SubscribeObject{RequestedVersion: cluster.VersionHead})

		for i := 0; i < 4; i++ {
			reqID := master.CommitNB(cluster.NewObject(cluster.NewObjectID(), cluster.ChangeUnbuffered))
			_, res := master.CommitSync(reqID)
			Expect(res).To(Equal(cluster.ResultOK))
		}
		Expect(master.Version()).To(Equal(cluster.Version(5)))

		sub := &cluster.SubscribeObject{
			MasterInstanceID: 1,
			InstanceID:       2,
			MinCachedVersion: 3,
			MaxCachedVersion: 7,
		}
		version, result, useCache := master.AddSlave(peer, sub)
		Expect(useCache).To(BeTrue())
		Expect(result).To(Equal(cluster.ResultUseCache))
		Expect(version).To(Equal(cluster.Version(5)))
	})

	// addOldMaster (original_source unbufferedMasterCM.cpp): a former master
	// re-subscribes as an ordinary slave and is handed just the current
	// version, no instance bytes.
	It("records a former master as a slave and delivers only the version header", func() {
		nodeA := cluster.NewLocalNode(cluster.NewNodeID(), nil)
		master := cm.NewUnbufferedMaster(nodeA, func() []byte { return []byte("x") }, func([]*cluster.Node, cluster.Version, []byte) {})
		anchor := &cluster.Node{ID: cluster.NewNodeID()}
		master.AddSlave(anchor, &cluster.SubscribeObject{RequestedVersion: cluster.VersionHead})

		for i := 0; i < 2; i++ {
			reqID := master.CommitNB(cluster.NewObject(cluster.NewObjectID(), cluster.ChangeUnbuffered))
			_, res := master.CommitSync(reqID)
			Expect(res).To(Equal(cluster.ResultOK))
		}
		Expect(master.Version()).To(Equal(cluster.Version(3)))

		oldMaster := &cluster.Node{ID: cluster.NewNodeID()}
		var sentTo *cluster.Node
		var sentVersion cluster.Version
		master.AddOldMaster(oldMaster, func(node *cluster.Node, version cluster.Version) {
			sentTo = node
			sentVersion = version
		})

		Expect(sentTo).To(Equal(oldMaster))
		Expect(sentVersion).To(Equal(cluster.Version(3)))
		Expect(master.SlaveCount(oldMaster.ID)).To(Equal(1))
	})
})

var _ = Describe("BufferedMasterCM", func() {
	It("coalesces commits below the flush threshold into one wire delta", func() {
		nodeA := cluster.NewLocalNode(cluster.NewNodeID(), nil)
		var sentBatches [][]byte
		pack := func() []byte { return []byte("xy") }
		send := func(slaves []*cluster.Node, version cluster.Version, data []byte) {
			sentBatches = append(sentBatches, append([]byte{}, data...))
		}
		master := cm.NewBufferedMaster(nodeA, pack, send)
		master.FlushThreshold = 5 // two 2-byte commits stay buffered, the third flushes
		peer := &cluster.Node{ID: cluster.NewNodeID()}
		master.AddSlave(peer, &cluster.SubscribeObject{RequestedVersion: cluster.VersionHead})

		for i := 0; i < 2; i++ {
			reqID := master.CommitNB(cluster.NewObject(cluster.NewObjectID(), cluster.ChangeDelta))
			_, res := master.CommitSync(reqID)
			Expect(res).To(Equal(cluster.ResultOK))
		}
		Expect(sentBatches).To(BeEmpty())
		Expect(master.Version()).To(Equal(cluster.VersionFirst))

		reqID := master.CommitNB(cluster.NewObject(cluster.NewObjectID(), cluster.ChangeDelta))
		_, res := master.CommitSync(reqID)
		Expect(res).To(Equal(cluster.ResultOK))
		Expect(sentBatches).To(HaveLen(1))
		Expect(sentBatches[0]).To(Equal([]byte("xyxyxy")))
		Expect(master.Version()).To(Equal(cluster.Version(2)))
	})
})

var _ = Describe("SlaveCM", func() {
	// S6 (spec.md §8): when the master peer is lost, the slave CM moves to
	// STALE and any pending Sync fails within one heartbeat.
	It("moves to STALE and fails pending syncs on peer loss", func() {
		master := &cluster.Node{ID: cluster.NewNodeID()}
		slave := cm.NewSlave(master, cluster.VersionFirst, func([]byte, bool) {})
		slave.Apply(cluster.VersionFirst, nil, false)
		Expect(slave.State()).To(Equal(cm.SlaveLive))

		done := make(chan bool, 1)
		go func() { done <- slave.Sync(cluster.Version(99), int64(time.Second)) }()

		time.Sleep(10 * time.Millisecond)
		slave.RemoveSlave(master)

		Eventually(done, time.Second).Should(Receive(BeFalse()))
		Expect(slave.State()).To(Equal(cm.SlaveStale))
	})

	It("rejects out-of-order deltas", func() {
		master := &cluster.Node{ID: cluster.NewNodeID()}
		slave := cm.NewSlave(master, cluster.VersionFirst, func([]byte, bool) {})
		slave.Apply(cluster.VersionFirst, nil, false)

		ok := slave.Apply(cluster.Version(3), []byte("skip"), true)
		Expect(ok).To(BeFalse())
		Expect(slave.CurrentVersion()).To(Equal(cluster.VersionFirst))
	})
})
