// Mapping (slave side) and the master's subscribe/unsubscribe/instance-
// apply handlers (spec.md §4.5 "Mapping (slave side)", "Detach / unmap /
// unsubscribe", "Slave apply", "Instance cache integration").
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package store

import (
	"time"

	"github.com/aistore-dso/dso/cluster"
	"github.com/aistore-dso/dso/cm"
	"github.com/aistore-dso/dso/cmn/cos"
	"github.com/aistore-dso/dso/cmn/nlog"
)

// MapObjectNB resolves id's master (if not supplied), attaches obj locally
// with a fresh instance id and a SlaveCM, and sends a subscribe request.
// Returns the request id mapObjectSync blocks on (spec.md §4.5).
func (s *ObjectStore) MapObjectNB(obj *cluster.Object, id cluster.ObjectID, requestedVersion cluster.Version, master *cluster.Node) uint64 {
	if master == nil {
		masterID := s.FindMasterNodeID(id, s.cfg.Request.Timeout)
		if p, ok := s.node.Peer(masterID); ok {
			master = p
		}
	}

	obj.ID = id
	obj.InstanceID = cluster.InstanceID(s.nextIID.Add(1))
	reqID := s.node.RegisterRequest()

	var slaveCM *cm.SlaveCM
	slaveCM = cm.NewSlave(master, requestedVersion, func(data []byte, isDelta bool) {
		if isDelta {
			obj.Unpack(data)
		} else if len(data) > 0 && obj.ApplyInstanceData != nil {
			obj.ApplyInstanceData(data)
		}
		if master != nil {
			s.instances.Add(obj.ID, slaveCM.CurrentVersion(), master.ID, data)
		}
	})
	obj.CM = slaveCM
	s._attachObject(obj)

	minV, maxV := cluster.VersionNone, cluster.VersionHead
	if cached, ok := s.instances.Lookup(id, minV, maxV); ok {
		minV, maxV = cached.Version, cached.Version
	}

	sub := &cluster.SubscribeObject{
		ID:               id,
		RequestID:        reqID,
		InstanceID:       obj.InstanceID,
		MasterInstanceID: cluster.InstanceInvalid,
		MinCachedVersion: minV,
		MaxCachedVersion: maxV,
		RequestedVersion: requestedVersion,
	}
	cmd := cluster.BuildCommand(s.node.Cache, s.node.Self, s.node.Self, cluster.DatatypeObject, cluster.CmdSubscribeObject, cluster.EncodeBytes(sub))
	if master != nil {
		_ = s.node.Dispatch(master, cmd.Packet())
	}
	cmd.Release()
	return reqID
}

// MapObjectSync blocks on the request registry for the subscribe reply
// (spec.md §4.5 "mapObjectSync").
func (s *ObjectStore) MapObjectSync(reqID uint64, timeout time.Duration) (cluster.Version, bool) {
	v, timedOut := s.node.WaitRequest(reqID, timeout)
	if timedOut {
		nlog.Warningf("objectstore: %+v", cos.WrapTimeout("map-object reqID=%d after %s", reqID, timeout))
		return cluster.VersionInvalid, false
	}
	return v.(cluster.MapObjectReply).Version, true
}

// cmdSubscribeObject is the master-side handler for CMD_SUBSCRIBE_OBJECT
// (spec.md §4.5 "Master's subscribe handler").
func (s *ObjectStore) cmdSubscribeObject(cmd *cluster.Command) error {
	var sub cluster.SubscribeObject
	if err := cluster.DecodeInto(cmd.Packet().Payload(), &sub); err != nil {
		return err
	}
	master, ok := s.findLocalMaster(sub.ID)
	if !ok {
		return nil
	}
	version, result, useCache := master.CM.AddSlave(cmd.Source, &sub)
	reply := &cluster.MapObjectReply{ID: sub.ID, RequestID: sub.RequestID, Version: version, Result: result}
	out := cluster.BuildCommand(s.node.Cache, s.node.Self, s.node.Self, cluster.DatatypeObject, cluster.CmdMapObjectReply, cluster.EncodeBytes(reply))
	err := s.node.Dispatch(cmd.Source, out.Packet())
	out.Release()
	if err != nil {
		return err
	}
	if useCache {
		return nil
	}
	data := master.GetInstanceData()
	inst := &cluster.ObjectInstance{
		ID:         master.ID,
		Version:    version,
		Last:       true,
		NodeID:     s.node.Self.ID,
		InstanceID: master.InstanceID,
		Bytes:      compressPayload(data),
	}
	instCmd := cluster.BuildCommand(s.node.Cache, s.node.Self, s.node.Self, cluster.DatatypeObject, cluster.CmdObjectInstance, cluster.EncodeBytes(inst))
	err = s.node.Dispatch(cmd.Source, instCmd.Packet())
	instCmd.Release()
	return err
}

// cmdMapObjectReply fulfils the slave's pending mapObjectSync request and,
// on a use-cache reply, applies the cached instance immediately
// (spec.md §8 S3).
func (s *ObjectStore) cmdMapObjectReply(cmd *cluster.Command) error {
	var reply cluster.MapObjectReply
	if err := cluster.DecodeInto(cmd.Packet().Payload(), &reply); err != nil {
		return err
	}
	if reply.Result == cluster.ResultUseCache {
		for _, obj := range s.objectsFor(reply.ID) {
			if slaveCM, ok := obj.CM.(*cm.SlaveCM); ok && slaveCM.State() == cm.SlaveMapping {
				if cached, ok := s.instances.Lookup(obj.ID, reply.Version, reply.Version); ok {
					slaveCM.Apply(cached.Version, cached.Bytes, false)
				}
			}
		}
	}
	s.node.ServeRequest(reply.RequestID, reply)
	return nil
}

// cmdObjectInstance applies a received full-instance packet and caches the
// bytes (spec.md §4.5 "Slave apply", "Instance cache integration"). Routed
// by the packet's {objectID} header (spec.md §6.2) so a node slave-mapping
// several distinct objects only ever applies an instance to the one it
// targets.
func (s *ObjectStore) cmdObjectInstance(cmd *cluster.Command) error {
	var inst cluster.ObjectInstance
	if err := cluster.DecodeInto(cmd.Packet().Payload(), &inst); err != nil {
		return err
	}
	data, err := decompressPayload(inst.Bytes)
	if err != nil {
		return cos.WrapProtocol("lz4 decode of instance for %s at version %d: %v", inst.ID, inst.Version, err)
	}
	for _, obj := range s.objectsFor(inst.ID) {
		slaveCM, ok := obj.CM.(*cm.SlaveCM)
		if !ok {
			continue
		}
		slaveCM.Apply(inst.Version, data, false)
		s.instances.Add(obj.ID, inst.Version, inst.NodeID, data)
	}
	return nil
}

// cmdObjectDelta applies a received incremental update (spec.md §4.5
// "Slave apply"), routed by the packet's {objectID} header the same way
// cmdObjectInstance is. Out-of-order deltas are rejected by SlaveCM.Apply
// itself and logged here as a protocol violation (spec.md §7).
func (s *ObjectStore) cmdObjectDelta(cmd *cluster.Command) error {
	id, version, data := decodeDelta(cmd.Packet().Payload())
	var violations cos.Errs
	for _, obj := range s.objectsFor(id) {
		slaveCM, ok := obj.CM.(*cm.SlaveCM)
		if !ok {
			continue
		}
		if !slaveCM.Apply(version, data, true) {
			violations.Add(cos.WrapProtocol("out-of-order delta for %s at version %d", obj.ID, version))
		}
	}
	if cnt, err := violations.JoinErr(); cnt > 0 {
		nlog.Warningf("objectstore: %+v", err)
		return err
	}
	return nil
}

// UnmapObject sends CMD_UNSUBSCRIBE_OBJECT to the slave's master, then
// detaches locally (spec.md §4.5 "Detach / unmap / unsubscribe").
func (s *ObjectStore) UnmapObject(obj *cluster.Object) {
	slaveCM, ok := obj.CM.(*cm.SlaveCM)
	if ok {
		if master := slaveCM.Master(); master != nil {
			payload := cluster.EncodeBytes(&cluster.UnsubscribeObject{
				ID:              obj.ID,
				SlaveInstanceID: obj.InstanceID,
			})
			cmd := cluster.BuildCommand(s.node.Cache, s.node.Self, s.node.Self, cluster.DatatypeObject, cluster.CmdUnsubscribeObject, payload)
			_ = s.node.Dispatch(master, cmd.Packet())
			cmd.Release()
		}
	}
	s._detachObject(obj)
}

// cmdUnsubscribeObject is the master-side handler: find the subscriber's
// master CM and call RemoveSlave, decrementing _slavesCount
// (spec.md §4.5, §8 S5).
func (s *ObjectStore) cmdUnsubscribeObject(cmd *cluster.Command) error {
	var unsub cluster.UnsubscribeObject
	if err := cluster.DecodeInto(cmd.Packet().Payload(), &unsub); err != nil {
		return err
	}
	master, ok := s.findLocalMaster(unsub.ID)
	if !ok {
		return nil
	}
	master.CM.RemoveSlave(cmd.Source)
	return nil
}

// cmdRemoveNode is the self-dispatched handler for CMD_REMOVE_NODE
// (spec.md §6.2); it delegates to RemoveNode.
func (s *ObjectStore) cmdRemoveNode(cmd *cluster.Command) error {
	var req cluster.RemoveNode
	if err := cluster.DecodeInto(cmd.Packet().Payload(), &req); err != nil {
		return err
	}
	if peer, ok := s.node.Peer(req.NodeID); ok {
		s.RemoveNode(peer)
	}
	return nil
}

// oldMasterAdder is the capability cm.UnbufferedMasterCM/cm.BufferedMasterCM
// both implement for the addOldMaster supplemental feature.
type oldMasterAdder interface {
	AddOldMaster(node *cluster.Node, sendVersion func(*cluster.Node, cluster.Version))
}

// AddOldMaster re-subscribes a node that used to master obj as an ordinary
// slave of obj's current master CM, delivering it just the current version
// header over the wire (no instance data) so it resumes as a normal
// subscriber instead of re-fetching a full instance it already has.
// Reports whether obj's CM supports the capability (a NullCM/SlaveCM does
// not - only a master variant can gain slaves).
func (s *ObjectStore) AddOldMaster(obj *cluster.Object, oldMaster *cluster.Node) bool {
	adder, ok := obj.CM.(oldMasterAdder)
	if !ok {
		return false
	}
	adder.AddOldMaster(oldMaster, func(node *cluster.Node, version cluster.Version) {
		payload := cluster.EncodeBytes(&cluster.ObjectInstance{
			ID:         obj.ID,
			Version:    version,
			Last:       true,
			NodeID:     s.node.Self.ID,
			InstanceID: obj.InstanceID,
		})
		cmd := cluster.BuildCommand(s.node.Cache, s.node.Self, s.node.Self, cluster.DatatypeObject, cluster.CmdObjectInstance, payload)
		if err := s.node.Dispatch(node, cmd.Packet()); err != nil {
			nlog.Warningf("objectstore: addOldMaster version header to %s failed: %v", node.ID, err)
		}
		cmd.Release()
	})
	return true
}

func (s *ObjectStore) allObjects() []*cluster.Object {
	s.objMu.RLock()
	defer s.objMu.RUnlock()
	var out []*cluster.Object
	for _, list := range s.objects {
		out = append(out, list...)
	}
	return out
}
