// Idle broadcast (spec.md §4.5 "Idle broadcast"): whenever the command
// thread's queue drains to empty, it gives freshly registered objects a
// chance to advertise themselves without waiting for an explicit commit.
// One object is processed per idle tick; IdleBroadcast reports whether
// another tick should run immediately, letting RunCommandThread drain a
// backlog without busy-spinning once the queue is actually empty.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package store

import (
	"github.com/aistore-dso/dso/cluster"
	"github.com/aistore-dso/dso/cmn/nlog"
)

// IdleBroadcast pops the oldest pending send-on-register object and
// broadcasts its current packed state as an OBJECT_INSTANCE, matching what
// a subscribing slave would otherwise have to wait for a SUBSCRIBE_OBJECT
// round trip to receive. Installed as the LocalNode's IdleNotifier by New.
func (s *ObjectStore) IdleBroadcast() bool {
	s.sendQMu.Lock()
	if len(s.sendQ) == 0 {
		s.sendQMu.Unlock()
		return false
	}
	item := s.sendQ[0]
	s.sendQ = s.sendQ[1:]
	more := len(s.sendQ) > 0
	s.sendQMu.Unlock()

	obj := item.obj
	version := obj.Version()
	data := obj.Pack()
	payload := cluster.EncodeBytes(&cluster.ObjectInstance{
		ID:         obj.ID,
		Version:    version,
		Last:       true,
		NodeID:     s.node.Self.ID,
		InstanceID: obj.InstanceID,
		Bytes:      compressPayload(data),
	})
	cmd := cluster.BuildCommand(s.node.Cache, s.node.Self, s.node.Self, cluster.DatatypeObject, cluster.CmdObjectInstance, payload)
	s.node.Broadcast(cmd.Packet())
	cmd.Release()
	close(item.done) // unblocks any DeregisterObject barrier waiting on this item
	nlog.Infof("objectstore: idle-broadcast %s at version %d", obj.ID, version)
	return more
}

// DisableSendOnRegister turns off future enqueueing of newly registered
// objects onto the idle-broadcast queue (spec.md §6.2 CMD_DISABLE_SEND_ON_REGISTER).
// Objects already queued still get their one broadcast.
func (s *ObjectStore) DisableSendOnRegister() {
	s.sendOnRegister.Store(0)
}
