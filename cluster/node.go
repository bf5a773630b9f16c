// Node & LocalNode: the external boundary the rest of the runtime sits on
// top of (spec.md §2 "LocalNode (external boundary)"). LocalNode owns the
// receiver thread (drains a Connection's Notifier, decodes Commands,
// dispatches them), the command thread (drains the object-command queue),
// and the request registry that mapObjectSync/commitSync/_findMasterNodeID
// block on. Grounded on the teacher's goroutine-pair pattern in
// reb/status.go (an atomically-published stage/state machine driven by a
// dedicated goroutine) and on golang.org/x/sync/errgroup, the way
// dsort/dsort.go supervises its own worker goroutines.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package cluster

import (
	"context"
	"sync"
	"time"

	"github.com/aistore-dso/dso/cmn/atomic"
	"github.com/aistore-dso/dso/cmn/cos"
	"github.com/aistore-dso/dso/cmn/nlog"
	"github.com/aistore-dso/dso/memsys"
	"github.com/aistore-dso/dso/transport/conn"
	"golang.org/x/sync/errgroup"
)

// Node is a (possibly remote) peer identity plus the connection used to
// reach it. A nil Connection denotes the local node itself.
type Node struct {
	ID   NodeID
	Conn conn.Connection
}

func (n *Node) IsLocal() bool { return n.Conn == nil }

// IdleNotifier is invoked by LocalNode's command thread whenever its queue
// drains to empty; it returns true to be called again immediately
// (spec.md §4.5 "Idle broadcast").
type IdleNotifier func() bool

// LocalNode is the process's own node: it owns the CommandCache, the
// top-level Dispatcher, the request registry, and the receiver/command
// goroutines that drive a set of peer Connections.
type LocalNode struct {
	Self *Node

	Cache      *memsys.CommandCache
	Dispatcher *Dispatcher
	queue      *CommandQueue // the command-thread's own queue

	idle IdleNotifier

	reqMu   sync.Mutex
	reqs    map[uint64]*request
	reqSeq  uint64
	reqFree []*request

	peersMu sync.RWMutex
	peers   map[NodeID]*Node

	group  *errgroup.Group
	gctx   context.Context
	cancel context.CancelFunc
}

type request struct {
	ch     chan requestResult
	active bool
}

type requestResult struct {
	value   any
	timeout bool
}

func NewLocalNode(id NodeID, idle IdleNotifier) *LocalNode {
	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)
	n := &LocalNode{
		Self:   &Node{ID: id},
		Cache:  memsys.New(),
		queue:  NewCommandQueue(),
		idle:   idle,
		reqs:   make(map[uint64]*request),
		peers:  make(map[NodeID]*Node),
		group:  group,
		gctx:   gctx,
		cancel: cancel,
	}
	n.Dispatcher = NewDispatcher(nil)
	return n
}

// AddPeer registers a remote node reachable through the given connection
// and starts a dedicated receiver goroutine for it. A peer with a nil Conn
// is only entered in the node table; no receiver is started for it.
func (n *LocalNode) AddPeer(peer *Node) {
	n.peersMu.Lock()
	n.peers[peer.ID] = peer
	n.peersMu.Unlock()
	if peer.Conn != nil {
		n.group.Go(func() error { return n.receiveLoop(peer) })
	}
}

// RemovePeer drops a peer from the node table without sending any network
// traffic - the caller (typically the ObjectStore) is responsible for
// invoking removeNode-equivalent cleanup on attached objects
// (spec.md §4.5 "Node removal").
func (n *LocalNode) RemovePeer(id NodeID) {
	n.peersMu.Lock()
	delete(n.peers, id)
	n.peersMu.Unlock()
}

func (n *LocalNode) Peer(id NodeID) (*Node, bool) {
	n.peersMu.RLock()
	defer n.peersMu.RUnlock()
	p, ok := n.peers[id]
	return p, ok
}

func (n *LocalNode) Peers() []*Node {
	n.peersMu.RLock()
	defer n.peersMu.RUnlock()
	out := make([]*Node, 0, len(n.peers))
	for _, p := range n.peers {
		out = append(out, p)
	}
	return out
}

// receiveLoop is the receiver thread for one peer connection: it waits on
// the connection's notifier, reads a framed command, and dispatches it.
// All mutation of object-store state triggered from here happens on this
// goroutine (spec.md §5 "receiver thread").
func (n *LocalNode) receiveLoop(peer *Node) error {
	header := make([]byte, headerSize)
	for {
		select {
		case <-n.gctx.Done():
			return nil
		case _, ok := <-peer.Conn.Notifier():
			if !ok {
				return nil
			}
		}
		if _, err := peer.Conn.ReadSync(header); err != nil {
			nlog.Warningf("node %s: %+v", n.Self.ID, cos.WrapPeerLost("reading header from %s: %v", peer.ID, err))
			n.handlePeerLoss(peer)
			return nil
		}
		size := int(beUint64(header[0:8]))
		datatype := Datatype(beUint32(header[8:12]))
		commandID := beUint32(header[12:16])
		payload := n.Cache.Get(size)
		copy(payload, header)
		if size > headerSize {
			if _, err := peer.Conn.ReadSync(payload[headerSize:]); err != nil {
				n.Cache.Put(payload)
				n.handlePeerLoss(peer)
				return nil
			}
		}
		pkt := &Packet{buf: payload}
		pkt.setHeader(datatype, commandID)
		cmd := &Command{Source: peer, Local: n.Self, cache: n.Cache, pkt: pkt, refs: new(atomic.Int32)}
		cmd.refs.Store(1)
		if err := n.Dispatcher.Dispatch(cmd); err != nil {
			nlog.Warningf("node %s: dispatch error from %s: %v", n.Self.ID, peer.ID, err)
			cmd.Release()
		}
	}
}

func (n *LocalNode) handlePeerLoss(peer *Node) {
	nlog.Warningf("node %s: %+v", n.Self.ID, cos.WrapPeerLost("peer %s", peer.ID))
	n.RemovePeer(peer.ID)
}

func beUint64(b []byte) uint64 {
	return uint64(b[0])<<56 | uint64(b[1])<<48 | uint64(b[2])<<40 | uint64(b[3])<<32 |
		uint64(b[4])<<24 | uint64(b[5])<<16 | uint64(b[6])<<8 | uint64(b[7])
}
func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// Queue returns the shared command-thread queue; object-level handlers
// register against it via Dispatcher.RegisterQueue.
func (n *LocalNode) Queue() *CommandQueue { return n.queue }

// SetIdleNotifier installs (or replaces) the callback RunCommandThread
// invokes whenever the command queue drains to empty. Split from
// NewLocalNode because the idle notifier is typically owned by the
// ObjectStore, which is itself constructed from an already-built LocalNode
// (spec.md §4.5 "Idle broadcast").
func (n *LocalNode) SetIdleNotifier(idle IdleNotifier) { n.idle = idle }

// RunCommandThread drains the command queue until the node stops, invoking
// idle() whenever the queue empties (spec.md §4.5 "Idle broadcast").
func (n *LocalNode) RunCommandThread() {
	n.group.Go(func() error {
		for {
			cmd := n.queue.Pop()
			if cmd == nil {
				return nil
			}
			n.runCommand(cmd)
			for n.queue.IsEmpty() && n.idle != nil && n.idle() {
			}
		}
	})
}

func (n *LocalNode) runCommand(cmd *Command) {
	defer cmd.Release()
	datatype, commandID := cmd.Packet().Datatype(), cmd.Packet().CommandID()
	h, ok := n.Dispatcher.QueueHandler(datatype, commandID)
	if !ok {
		nlog.Infof("command thread: datatype=%d id=%d (no queue handler)", datatype, commandID)
		return
	}
	if err := h(cmd); err != nil {
		nlog.Warningf("command thread: datatype=%d id=%d: %v", datatype, commandID, err)
	}
}

// Dispatch delivers cmd to a peer command thread when Local == peer's own
// node (i.e. a "send to self" command per spec.md §4.5's commit path),
// otherwise writes it on the wire.
func (n *LocalNode) Dispatch(target *Node, pkt *Packet) error {
	if target.IsLocal() || target.ID == n.Self.ID {
		cmd := &Command{Source: n.Self, Local: n.Self, cache: n.Cache, pkt: pkt, refs: new(atomic.Int32)}
		cmd.refs.Store(1)
		return n.Dispatcher.Dispatch(cmd)
	}
	_, err := target.Conn.Write(pkt.buf)
	return err
}

// Broadcast writes pkt to every known peer.
func (n *LocalNode) Broadcast(pkt *Packet) {
	for _, p := range n.Peers() {
		if _, err := p.Conn.Write(pkt.buf); err != nil {
			nlog.Warningf("broadcast to %s failed: %v", p.ID, err)
		}
	}
}

// --- request registry (spec.md §5 "request registry") ---

// RegisterRequest allocates a one-shot request slot and returns its id.
// Slots are reused via a free list, mirroring the original's pooled
// request objects.
func (n *LocalNode) RegisterRequest() uint64 {
	n.reqMu.Lock()
	defer n.reqMu.Unlock()
	var r *request
	if l := len(n.reqFree); l > 0 {
		r = n.reqFree[l-1]
		n.reqFree = n.reqFree[:l-1]
	} else {
		r = &request{ch: make(chan requestResult, 1)}
	}
	r.active = true
	n.reqSeq++
	id := n.reqSeq
	n.reqs[id] = r
	return id
}

// ServeRequest fulfils a pending request; a request with no waiter (already
// timed out, or unknown id) is silently ignored, matching the original's
// "fulfilled-with-timeout" rule against late writers (spec.md §5).
func (n *LocalNode) ServeRequest(id uint64, value any) {
	n.reqMu.Lock()
	r, ok := n.reqs[id]
	n.reqMu.Unlock()
	if !ok {
		return
	}
	select {
	case r.ch <- requestResult{value: value}:
	default:
	}
}

// WaitRequest blocks for a reply or until timeout elapses (zero means
// forever), returning (value, timedOut). The slot is always released back
// to the free list afterwards.
func (n *LocalNode) WaitRequest(id uint64, timeout time.Duration) (any, bool) {
	n.reqMu.Lock()
	r, ok := n.reqs[id]
	n.reqMu.Unlock()
	if !ok {
		return nil, true
	}
	defer n.releaseRequest(id, r)

	if timeout <= 0 {
		res := <-r.ch
		return res.value, res.timeout
	}
	select {
	case res := <-r.ch:
		return res.value, res.timeout
	case <-time.After(timeout):
		return nil, true
	}
}

func (n *LocalNode) releaseRequest(id uint64, r *request) {
	n.reqMu.Lock()
	defer n.reqMu.Unlock()
	delete(n.reqs, id)
	r.active = false
	// drain any late value so the channel is empty for the next user.
	select {
	case <-r.ch:
	default:
	}
	n.reqFree = append(n.reqFree, r)
}

// Exit stops the receiver and command goroutines; Join blocks until they
// have returned. Calling Exit from the owning goroutine itself is
// unsupported here - unlike the original's Thread::exit, LocalNode has no
// notion of "self", so Exit is always the cooperative-cancellation path
// (spec.md §5 "Cancellation / timeout"; see also the Open Question on
// Thread::join in SPEC_FULL.md).
func (n *LocalNode) Exit() {
	n.cancel()
	n.queue.Close()
}

// Join blocks until all node goroutines have returned, or ctx is done.
func (n *LocalNode) Join(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- n.group.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
