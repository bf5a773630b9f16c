// Master discovery (spec.md §4.5 "_findMasterNodeID"): check the local
// table first, otherwise broadcast and wait for the first non-zero reply.
// Concurrent lookups for the same object id are coalesced with
// golang.org/x/sync/singleflight so a burst of slave-side mapObjectNB
// calls for the same id produces one broadcast, not N.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package store

import (
	"time"

	"github.com/aistore-dso/dso/cluster"
	"github.com/aistore-dso/dso/cmn/cos"
	"github.com/aistore-dso/dso/cmn/nlog"
)

// FindMasterNodeID resolves the master of id, broadcasting
// CMD_FIND_MASTER_NODE_ID if no local master instance exists. Returns
// NodeIDNone on timeout (spec.md §4.5, §8 S4).
func (s *ObjectStore) FindMasterNodeID(id cluster.ObjectID, timeout time.Duration) cluster.NodeID {
	if _, ok := s.findLocalMaster(id); ok {
		return s.node.Self.ID
	}

	v, _, _ := s.discoverGroup.Do(id.String(), func() (any, error) {
		reqID := s.node.RegisterRequest()
		payload := cluster.EncodeBytes(&cluster.FindMasterNodeID{ID: id, RequestID: reqID})
		cmd := cluster.BuildCommand(s.node.Cache, s.node.Self, s.node.Self, cluster.DatatypeObject, cluster.CmdFindMasterNodeID, payload)
		s.node.Broadcast(cmd.Packet())
		cmd.Release()

		value, timedOut := s.node.WaitRequest(reqID, timeout)
		if timedOut {
			nlog.Warningf("objectstore: %+v", cos.WrapTimeout("find-master-node-id for %s after %s", id, timeout))
			return cluster.NodeIDNone, nil
		}
		return value.(cluster.NodeID), nil
	})
	return v.(cluster.NodeID)
}

// cmdFindMasterNodeID answers a peer's broadcast: if we hold the master
// locally, reply with our node id, otherwise reply zero.
func (s *ObjectStore) cmdFindMasterNodeID(cmd *cluster.Command) error {
	var req cluster.FindMasterNodeID
	if err := cluster.DecodeInto(cmd.Packet().Payload(), &req); err != nil {
		return err
	}
	reply := s.node.Self.ID
	if _, ok := s.findLocalMaster(req.ID); !ok {
		reply = cluster.NodeIDNone
	}
	payload := cluster.EncodeBytes(&cluster.FindMasterNodeIDReply{RequestID: req.RequestID, NodeID: reply})
	out := cluster.BuildCommand(s.node.Cache, s.node.Self, s.node.Self, cluster.DatatypeObject, cluster.CmdFindMasterNodeIDReply, payload)
	err := s.node.Dispatch(cmd.Source, out.Packet())
	out.Release()
	return err
}

// cmdFindMasterNodeIDReply fulfils the request registry entry for the
// first non-zero reply; later/zero replies are ignored (spec.md §4.5:
// "First non-zero reply satisfies the request").
func (s *ObjectStore) cmdFindMasterNodeIDReply(cmd *cluster.Command) error {
	var reply cluster.FindMasterNodeIDReply
	if err := cluster.DecodeInto(cmd.Packet().Payload(), &reply); err != nil {
		return err
	}
	if reply.NodeID.IsZero() {
		return nil
	}
	s.node.ServeRequest(reply.RequestID, reply.NodeID)
	return nil
}
