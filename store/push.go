// Object::push's receive side (spec.md §4.5 "Object::push"): each
// OBJECT_PUSH packet is handled as one complete group, keyed by its
// application-supplied group id, and its bytes are handed to every attached
// object's PushHandler as soon as it arrives. Pushes split across several
// packets are not reassembled: each packet reaches the handlers on its own.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package store

import "github.com/aistore-dso/dso/cluster"

type pushGroup struct {
	typeID uint32
	bytes  []byte
}

// cmdObjectPush runs on the command thread (registered as CmdObjectPush's
// queue handler) so assembly and callback invocation never block the
// receiver goroutine reading off the wire.
func (s *ObjectStore) cmdObjectPush(cmd *cluster.Command) error {
	var push cluster.ObjectPush
	if err := cluster.DecodeInto(cmd.Packet().Payload(), &push); err != nil {
		return err
	}

	s.pushMu.Lock()
	if s.pushGroups == nil {
		s.pushGroups = make(map[uint64]*pushGroup)
	}
	g, ok := s.pushGroups[push.GroupID]
	if !ok {
		g = &pushGroup{typeID: push.TypeID}
		s.pushGroups[push.GroupID] = g
	}
	g.bytes = append(g.bytes, push.Bytes...)
	delete(s.pushGroups, push.GroupID)
	s.pushMu.Unlock()

	for _, obj := range s.allObjects() {
		if obj.PushHandler != nil {
			obj.PushHandler(push.GroupID, g.typeID, g.bytes)
		}
	}
	return nil
}
