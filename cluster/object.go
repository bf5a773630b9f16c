// Object & ChangeManager: the user-facing distributed entity and the
// policy interface its per-attachment state machine implements
// (spec.md §3 "Object", §9 "Polymorphic change managers"). Concrete CMs
// (Null/UnbufferedMaster/BufferedMaster/Slave) live in package cm and are
// dispatched on the CMVariant tag rather than through an inheritance
// hierarchy, mirroring the teacher's own preference for small tagged
// structs over interface trees (e.g. xact/qui.go's quiescence states).
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package cluster

import "sync"

// ChangeType selects the distribution policy installed as an Object's
// master ChangeManager on registerObject (spec.md §3).
type ChangeType int

const (
	ChangeStatic ChangeType = iota
	ChangeInstance
	ChangeDelta
	ChangeUnbuffered
)

// CMVariant tags the concrete ChangeManager behind an Object
// (spec.md §9 "Polymorphic change managers").
type CMVariant int

const (
	CMNull CMVariant = iota
	CMUnbufferedMaster
	CMBufferedMaster
	CMSlave
)

// ChangeManager is the capability set every concrete CM implements; unused
// capabilities for a given variant are no-ops (e.g. NullCM.AddSlave does
// nothing) rather than panicking, so callers never need a type switch
// before invoking one (spec.md §9).
type ChangeManager interface {
	Variant() CMVariant

	// CommitNB registers a request and asynchronously advances the
	// object's version if the commit produced bytes; returns the request
	// id to wait on.
	CommitNB(obj *Object) uint64
	// CommitSync blocks for the commit registered by CommitNB to be
	// served and returns the resulting MapResult/Version pair.
	CommitSync(requestID uint64) (Version, MapResult)

	AddSlave(slave *Node, sub *SubscribeObject) (version Version, result MapResult, useCache bool)
	RemoveSlave(slave *Node)

	// Apply consumes one OBJECT_INSTANCE or OBJECT_DELTA payload destined
	// for a slave CM; the bool return reports whether it advanced state.
	Apply(version Version, bytes []byte, isDelta bool) bool

	// Sync blocks until the slave has observed at least the given
	// version, or returns false on STALE/timeout.
	Sync(version Version, timeout_ns int64) bool
}

// Object is the user-facing distributed entity (spec.md §3). Pack/Unpack/
// GetInstanceData/ApplyInstanceData are user-supplied serialization
// callbacks; CM is installed by the ObjectStore on register/map and
// reverted to the package-level NullCM on deregister/unmap.
type Object struct {
	mu sync.RWMutex

	ID         ObjectID
	Type       ChangeType
	InstanceID InstanceID
	CM         ChangeManager

	Pack              func() []byte
	Unpack            func([]byte)
	GetInstanceData   func() []byte
	ApplyInstanceData func([]byte)

	// PushHandler, if set, is invoked with a completed OBJECT_PUSH group's
	// bytes (spec.md §4.5 "Object::push").
	PushHandler func(groupID uint64, typeID uint32, bytes []byte)
}

func NewObject(id ObjectID, typ ChangeType) *Object {
	return &Object{ID: id, Type: typ, InstanceID: InstanceInvalid}
}

func (o *Object) Version() Version {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if v, ok := o.CM.(interface{ Version() Version }); ok {
		return v.Version()
	}
	return VersionNone
}

// Push assembles a one-shot OBJECT_PUSH broadcast of the object's current
// instance data, grouped under groupID (spec.md §4.5 "Object::push").
func (o *Object) Push(node *LocalNode, groupID uint64, typeID uint32) {
	o.mu.RLock()
	data := o.GetInstanceData()
	o.mu.RUnlock()
	payload := &ObjectPush{GroupID: groupID, TypeID: typeID, Bytes: data}
	cmd := BuildCommand(node.Cache, node.Self, node.Self, DatatypeObject, CmdObjectPush, encodeBytes(payload))
	node.Broadcast(cmd.Packet())
	cmd.Release()
}
