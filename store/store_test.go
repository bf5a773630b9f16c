package store_test

import (
	"testing"
	"time"

	"github.com/aistore-dso/dso/cluster"
	"github.com/aistore-dso/dso/cm"
	"github.com/aistore-dso/dso/cmn/config"
	"github.com/aistore-dso/dso/store"
	"github.com/aistore-dso/dso/transport/conn"
)

func init() { cluster.InitIdentity(42) }

func newTestNode(t *testing.T) (*cluster.LocalNode, *store.ObjectStore) {
	t.Helper()
	node := cluster.NewLocalNode(cluster.NewNodeID(), nil)
	s := store.New(node, config.Default())
	node.RunCommandThread()
	t.Cleanup(node.Exit)
	return node, s
}

func link(t *testing.T, a, b *cluster.LocalNode) {
	t.Helper()
	pa, pb, err := conn.NewPipePair()
	if err != nil {
		t.Fatalf("NewPipePair: %v", err)
	}
	a.AddPeer(&cluster.Node{ID: b.Self.ID, Conn: pa})
	b.AddPeer(&cluster.Node{ID: a.Self.ID, Conn: pb})
}

// TestFindMasterNodeIDRemote exercises spec.md §8 S4: node A has no local
// master for id and must broadcast CMD_FIND_MASTER_NODE_ID to discover that
// node B holds it.
func TestFindMasterNodeIDRemote(t *testing.T) {
	nodeA, storeA := newTestNode(t)
	nodeB, storeB := newTestNode(t)
	link(t, nodeA, nodeB)

	id := cluster.NewObjectID()
	obj := cluster.NewObject(id, cluster.ChangeStatic)
	obj.GetInstanceData = func() []byte { return nil }
	if err := storeB.RegisterObject(obj); err != nil {
		t.Fatalf("RegisterObject: %v", err)
	}

	got := storeA.FindMasterNodeID(id, 2*time.Second)
	if got != nodeB.Self.ID {
		t.Fatalf("expected master %s, got %s", nodeB.Self.ID, got)
	}
}

// TestFindMasterNodeIDUnknown exercises the timeout path: nobody holds id,
// so the broadcast round trip must time out and return NodeIDNone.
func TestFindMasterNodeIDUnknown(t *testing.T) {
	nodeA, storeA := newTestNode(t)
	nodeB, _ := newTestNode(t)
	link(t, nodeA, nodeB)

	got := storeA.FindMasterNodeID(cluster.NewObjectID(), 200*time.Millisecond)
	if got != cluster.NodeIDNone {
		t.Fatalf("expected NodeIDNone for an unknown object, got %s", got)
	}
}

// TestFindMasterNodeIDLocal exercises the fast path: the master is attached
// locally, so no broadcast is needed at all.
func TestFindMasterNodeIDLocal(t *testing.T) {
	node, s := newTestNode(t)
	id := cluster.NewObjectID()
	obj := cluster.NewObject(id, cluster.ChangeStatic)
	obj.GetInstanceData = func() []byte { return nil }
	if err := s.RegisterObject(obj); err != nil {
		t.Fatalf("RegisterObject: %v", err)
	}
	got := s.FindMasterNodeID(id, time.Second)
	if got != node.Self.ID {
		t.Fatalf("expected local master %s, got %s", node.Self.ID, got)
	}
}

// TestRemoveNodeIdempotent exercises spec.md §8 invariant 5: calling
// RemoveNode twice for the same node must not panic or double-decrement
// bookkeeping a second time.
func TestRemoveNodeIdempotent(t *testing.T) {
	node, s := newTestNode(t)
	peer := &cluster.Node{ID: cluster.NewNodeID(), Conn: nil}
	node.AddPeer(peer)

	obj := cluster.NewObject(cluster.NewObjectID(), cluster.ChangeUnbuffered)
	obj.Pack = func() []byte { return nil }
	obj.GetInstanceData = func() []byte { return nil }
	if err := s.RegisterObject(obj); err != nil {
		t.Fatalf("RegisterObject: %v", err)
	}

	s.RemoveNode(peer)
	s.RemoveNode(peer) // must be a no-op, not a crash

	if _, ok := node.Peer(peer.ID); ok {
		t.Fatal("expected peer to be removed")
	}
}

// TestRegisterObjectRejectsDoubleAttach exercises spec.md §4.5
// "Registration": a second RegisterObject for an id already mastered
// locally fails with ErrAttached.
func TestRegisterObjectRejectsDoubleAttach(t *testing.T) {
	_, s := newTestNode(t)
	id := cluster.NewObjectID()
	a := cluster.NewObject(id, cluster.ChangeStatic)
	a.GetInstanceData = func() []byte { return nil }
	b := cluster.NewObject(id, cluster.ChangeStatic)
	b.GetInstanceData = func() []byte { return nil }

	if err := s.RegisterObject(a); err != nil {
		t.Fatalf("first RegisterObject: %v", err)
	}
	if err := s.RegisterObject(b); err == nil {
		t.Fatal("expected second RegisterObject for the same id to fail")
	}
}

// TestDeltaRoutedByObjectID exercises spec.md §3's "several distinct objects
// may be slave-mapped on one node" alongside §6.2's {objectID} routing
// header: committing one of two objects mastered on nodeB must advance only
// the matching SlaveCM on nodeA, never the other object's.
func TestDeltaRoutedByObjectID(t *testing.T) {
	nodeA, storeA := newTestNode(t)
	nodeB, storeB := newTestNode(t)
	link(t, nodeA, nodeB)

	mkMaster := func(data string) *cluster.Object {
		obj := cluster.NewObject(cluster.NewObjectID(), cluster.ChangeUnbuffered)
		obj.Pack = func() []byte { return []byte(data) }
		obj.GetInstanceData = func() []byte { return []byte(data) }
		if err := storeB.RegisterObject(obj); err != nil {
			t.Fatalf("RegisterObject: %v", err)
		}
		return obj
	}
	obj1 := mkMaster("one")
	obj2 := mkMaster("two")

	peerB, ok := nodeA.Peer(nodeB.Self.ID)
	if !ok {
		t.Fatal("nodeA has no peer entry for nodeB")
	}

	mapSlave := func(id cluster.ObjectID) *cluster.Object {
		slave := cluster.NewObject(id, cluster.ChangeUnbuffered)
		slave.Unpack = func([]byte) {}
		slave.GetInstanceData = func() []byte { return nil }
		reqID := storeA.MapObjectNB(slave, id, cluster.VersionHead, peerB)
		if _, ok := storeA.MapObjectSync(reqID, 2*time.Second); !ok {
			t.Fatalf("MapObjectSync timed out for %s", id)
		}
		return slave
	}
	slave1 := mapSlave(obj1.ID)
	slave2 := mapSlave(obj2.ID)

	slaveCM1, ok := slave1.CM.(*cm.SlaveCM)
	if !ok {
		t.Fatal("slave1.CM is not a *cm.SlaveCM")
	}
	slaveCM2, ok := slave2.CM.(*cm.SlaveCM)
	if !ok {
		t.Fatal("slave2.CM is not a *cm.SlaveCM")
	}
	baseline := slaveCM2.CurrentVersion()

	reqID := obj1.CM.CommitNB(obj1)
	version, result := obj1.CM.CommitSync(reqID)
	if result != cluster.ResultOK {
		t.Fatalf("commit on obj1 failed: %v", result)
	}

	if !slaveCM1.Sync(version, int64(2*time.Second)) {
		t.Fatalf("slave1 never observed version %d", version)
	}
	if got := slaveCM2.CurrentVersion(); got != baseline {
		t.Fatalf("obj1's delta leaked onto slave2: version %d, want unchanged %d", got, baseline)
	}
}

// TestDeregisterObjectNotifiesSlaveAndWaitsBarrier exercises spec.md §4.5
// "Deregistration": a master enabling send-on-register must let the idle
// broadcast for a freshly registered object run before deregistering it,
// and must push a deregistration notice to any slave still mapping it.
func TestDeregisterObjectNotifiesSlaveAndWaitsBarrier(t *testing.T) {
	nodeA, storeA := newTestNode(t)
	nodeB := cluster.NewLocalNode(cluster.NewNodeID(), nil)
	cfg := config.Default()
	cfg.SendOnRegister = true
	storeB := store.New(nodeB, cfg)
	nodeB.RunCommandThread()
	t.Cleanup(nodeB.Exit)
	link(t, nodeA, nodeB)

	id := cluster.NewObjectID()
	obj := cluster.NewObject(id, cluster.ChangeUnbuffered)
	obj.Pack = func() []byte { return []byte("x") }
	obj.GetInstanceData = func() []byte { return []byte("x") }
	if err := storeB.RegisterObject(obj); err != nil {
		t.Fatalf("RegisterObject: %v", err)
	}

	peerB, ok := nodeA.Peer(nodeB.Self.ID)
	if !ok {
		t.Fatal("nodeA has no peer entry for nodeB")
	}
	slave := cluster.NewObject(id, cluster.ChangeUnbuffered)
	slave.Unpack = func([]byte) {}
	slave.GetInstanceData = func() []byte { return nil }
	reqID := storeA.MapObjectNB(slave, id, cluster.VersionHead, peerB)
	if _, ok := storeA.MapObjectSync(reqID, 2*time.Second); !ok {
		t.Fatal("MapObjectSync timed out")
	}

	// DeregisterObject must not return before the queued idle broadcast has
	// run (the barrier) and must notify nodeA's mapped slave afterwards.
	storeB.DeregisterObject(obj)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && slave.CM.Variant() != cluster.CMNull {
		time.Sleep(10 * time.Millisecond)
	}
	if v := slave.CM.Variant(); v != cluster.CMNull {
		t.Fatalf("expected slave's CM reverted to NullCM after deregister, got variant %d", v)
	}
}
