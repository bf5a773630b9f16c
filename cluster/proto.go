// Wire protocol payloads for the object command set (spec.md §6.2). Each
// payload type hand-implements msgp.Encodable/msgp.Decodable the way the
// teacher's generated _gen.go files do for its own wire structs (see
// dsort/dsort.go's RecordsGroup.EncodeMsg/DecodeMsg usage) - written here by
// hand against the tinylib/msgp runtime writer/reader rather than through
// code generation, since no generator runs as part of this build.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package cluster

import (
	"bytes"

	"github.com/tinylib/msgp/msgp"
)

// Command IDs for datatype OBJECT (spec.md §6.2).
const (
	CmdFindMasterNodeID uint32 = iota + 1
	CmdFindMasterNodeIDReply
	CmdAttachObject
	CmdDetachObject
	CmdSubscribeObject
	CmdMapObjectReply
	CmdUnsubscribeObject
	CmdObjectInstance
	CmdObjectDelta
	CmdObjectCommit
	CmdRegisterObject
	CmdDeregisterObject
	CmdDisableSendOnRegister
	CmdRemoveNode
	CmdObjectPush
)

// MapResult tags MAP_OBJECT_REPLY / commit-sync outcomes (spec.md §7
// "tagged success/fail/timeout").
type MapResult uint8

const (
	ResultOK MapResult = iota
	ResultFail
	ResultTimeout
	// ResultUseCache marks VERSION_INVALID replies meaning "use your cache"
	// (spec.md §4.5 subscribe handler).
	ResultUseCache
)

type FindMasterNodeID struct {
	ID        ObjectID
	RequestID uint64
}

func (m *FindMasterNodeID) EncodeMsg(w *msgp.Writer) error {
	if err := w.WriteBytes(m.ID[:]); err != nil {
		return err
	}
	return w.WriteUint64(m.RequestID)
}

func (m *FindMasterNodeID) DecodeMsg(r *msgp.Reader) error {
	b, err := r.ReadBytes(nil)
	if err != nil {
		return err
	}
	copy(m.ID[:], b)
	m.RequestID, err = r.ReadUint64()
	return err
}

type FindMasterNodeIDReply struct {
	RequestID uint64
	NodeID    NodeID
}

func (m *FindMasterNodeIDReply) EncodeMsg(w *msgp.Writer) error {
	if err := w.WriteUint64(m.RequestID); err != nil {
		return err
	}
	return w.WriteBytes(m.NodeID[:])
}

func (m *FindMasterNodeIDReply) DecodeMsg(r *msgp.Reader) error {
	var err error
	if m.RequestID, err = r.ReadUint64(); err != nil {
		return err
	}
	b, err := r.ReadBytes(nil)
	if err != nil {
		return err
	}
	copy(m.NodeID[:], b)
	return nil
}

type AttachObject struct {
	ID         ObjectID
	InstanceID InstanceID
}

type DetachObject struct {
	ID         ObjectID
	InstanceID InstanceID
}

// SubscribeObject is CMD_SUBSCRIBE_OBJECT's payload (spec.md §4.5 step 3).
type SubscribeObject struct {
	ID               ObjectID
	RequestID        uint64
	InstanceID       InstanceID
	MasterInstanceID InstanceID
	MinCachedVersion Version
	MaxCachedVersion Version
	RequestedVersion Version
}

func (m *SubscribeObject) EncodeMsg(w *msgp.Writer) error {
	if err := w.WriteBytes(m.ID[:]); err != nil {
		return err
	}
	if err := w.WriteUint64(m.RequestID); err != nil {
		return err
	}
	if err := w.WriteUint32(uint32(m.InstanceID)); err != nil {
		return err
	}
	if err := w.WriteUint32(uint32(m.MasterInstanceID)); err != nil {
		return err
	}
	if err := w.WriteUint64(uint64(m.MinCachedVersion)); err != nil {
		return err
	}
	if err := w.WriteUint64(uint64(m.MaxCachedVersion)); err != nil {
		return err
	}
	return w.WriteUint64(uint64(m.RequestedVersion))
}

func (m *SubscribeObject) DecodeMsg(r *msgp.Reader) error {
	b, err := r.ReadBytes(nil)
	if err != nil {
		return err
	}
	copy(m.ID[:], b)
	if m.RequestID, err = r.ReadUint64(); err != nil {
		return err
	}
	iid, err := r.ReadUint32()
	if err != nil {
		return err
	}
	m.InstanceID = InstanceID(iid)
	miid, err := r.ReadUint32()
	if err != nil {
		return err
	}
	m.MasterInstanceID = InstanceID(miid)
	minv, err := r.ReadUint64()
	if err != nil {
		return err
	}
	m.MinCachedVersion = Version(minv)
	maxv, err := r.ReadUint64()
	if err != nil {
		return err
	}
	m.MaxCachedVersion = Version(maxv)
	reqv, err := r.ReadUint64()
	if err != nil {
		return err
	}
	m.RequestedVersion = Version(reqv)
	return nil
}

// MapObjectReply is MAP_OBJECT_SUCCESS / MAP_OBJECT_REPLY's payload. ID
// carries the subscribed object's id back (spec.md §6.2's {objectID} routing
// header) so a slave mapping several objects at once applies a use-cache
// reply to the one object it answers, not to every object still MAPPING.
type MapObjectReply struct {
	ID        ObjectID
	RequestID uint64
	Version   Version
	Result    MapResult
}

func (m *MapObjectReply) EncodeMsg(w *msgp.Writer) error {
	if err := w.WriteBytes(m.ID[:]); err != nil {
		return err
	}
	if err := w.WriteUint64(m.RequestID); err != nil {
		return err
	}
	if err := w.WriteUint64(uint64(m.Version)); err != nil {
		return err
	}
	return w.WriteUint8(uint8(m.Result))
}

func (m *MapObjectReply) DecodeMsg(r *msgp.Reader) error {
	idb, err := r.ReadBytes(nil)
	if err != nil {
		return err
	}
	copy(m.ID[:], idb)
	if m.RequestID, err = r.ReadUint64(); err != nil {
		return err
	}
	v, err := r.ReadUint64()
	if err != nil {
		return err
	}
	m.Version = Version(v)
	res, err := r.ReadUint8()
	if err != nil {
		return err
	}
	m.Result = MapResult(res)
	return nil
}

type UnsubscribeObject struct {
	ID               ObjectID
	MasterInstanceID InstanceID
	SlaveInstanceID  InstanceID
}

func (m *UnsubscribeObject) EncodeMsg(w *msgp.Writer) error {
	if err := w.WriteBytes(m.ID[:]); err != nil {
		return err
	}
	if err := w.WriteUint32(uint32(m.MasterInstanceID)); err != nil {
		return err
	}
	return w.WriteUint32(uint32(m.SlaveInstanceID))
}

func (m *UnsubscribeObject) DecodeMsg(r *msgp.Reader) error {
	b, err := r.ReadBytes(nil)
	if err != nil {
		return err
	}
	copy(m.ID[:], b)
	miid, err := r.ReadUint32()
	if err != nil {
		return err
	}
	m.MasterInstanceID = InstanceID(miid)
	siid, err := r.ReadUint32()
	if err != nil {
		return err
	}
	m.SlaveInstanceID = InstanceID(siid)
	return nil
}

// ObjectInstance is OBJECT_INSTANCE's payload: a chunk of full instance
// data, possibly one of several forming a chunked stream (spec.md §6.2).
// ID is the trailing {objectID, instanceID} routing header spec.md §6.2
// calls out for datatype OBJECT, letting a receiver slave-mapping several
// distinct objects apply the bytes to the one they target instead of every
// attached SlaveCM.
type ObjectInstance struct {
	ID         ObjectID
	Version    Version
	Sequence   uint32
	Last       bool
	NodeID     NodeID
	InstanceID InstanceID
	Bytes      []byte
}

func (m *ObjectInstance) EncodeMsg(w *msgp.Writer) error {
	if err := w.WriteBytes(m.ID[:]); err != nil {
		return err
	}
	if err := w.WriteUint64(uint64(m.Version)); err != nil {
		return err
	}
	if err := w.WriteUint32(m.Sequence); err != nil {
		return err
	}
	if err := w.WriteBool(m.Last); err != nil {
		return err
	}
	if err := w.WriteBytes(m.NodeID[:]); err != nil {
		return err
	}
	if err := w.WriteUint32(uint32(m.InstanceID)); err != nil {
		return err
	}
	return w.WriteBytes(m.Bytes)
}

func (m *ObjectInstance) DecodeMsg(r *msgp.Reader) error {
	idb, err := r.ReadBytes(nil)
	if err != nil {
		return err
	}
	copy(m.ID[:], idb)
	v, err := r.ReadUint64()
	if err != nil {
		return err
	}
	m.Version = Version(v)
	if m.Sequence, err = r.ReadUint32(); err != nil {
		return err
	}
	if m.Last, err = r.ReadBool(); err != nil {
		return err
	}
	nb, err := r.ReadBytes(nil)
	if err != nil {
		return err
	}
	copy(m.NodeID[:], nb)
	iid, err := r.ReadUint32()
	if err != nil {
		return err
	}
	m.InstanceID = InstanceID(iid)
	m.Bytes, err = r.ReadBytes(nil)
	return err
}

// ObjectDelta is OBJECT_DELTA's payload: an incremental update from version
// v-1 to v (spec.md §4.5 "Slave apply"). Carries the same {objectID} routing
// header as ObjectInstance (spec.md §6.2) for the same reason.
type ObjectDelta struct {
	ID       ObjectID
	Version  Version
	Sequence uint32
	Last     bool
	Bytes    []byte
}

func (m *ObjectDelta) EncodeMsg(w *msgp.Writer) error {
	if err := w.WriteBytes(m.ID[:]); err != nil {
		return err
	}
	if err := w.WriteUint64(uint64(m.Version)); err != nil {
		return err
	}
	if err := w.WriteUint32(m.Sequence); err != nil {
		return err
	}
	if err := w.WriteBool(m.Last); err != nil {
		return err
	}
	return w.WriteBytes(m.Bytes)
}

func (m *ObjectDelta) DecodeMsg(r *msgp.Reader) error {
	idb, err := r.ReadBytes(nil)
	if err != nil {
		return err
	}
	copy(m.ID[:], idb)
	v, err := r.ReadUint64()
	if err != nil {
		return err
	}
	m.Version = Version(v)
	if m.Sequence, err = r.ReadUint32(); err != nil {
		return err
	}
	if m.Last, err = r.ReadBool(); err != nil {
		return err
	}
	m.Bytes, err = r.ReadBytes(nil)
	return err
}

type ObjectCommit struct {
	InstanceID InstanceID
	RequestID  uint64
}

type RegisterObject struct{ ID ObjectID }

// DeregisterObject is the master-to-slave push sent when a master
// deregisters an object still mapped by live remote slaves (spec.md §4.5
// "Deregistration"): each recipient drops its local attachment for ID.
type DeregisterObject struct{ ID ObjectID }

func (m *DeregisterObject) EncodeMsg(w *msgp.Writer) error { return w.WriteBytes(m.ID[:]) }
func (m *DeregisterObject) DecodeMsg(r *msgp.Reader) error {
	b, err := r.ReadBytes(nil)
	if err != nil {
		return err
	}
	copy(m.ID[:], b)
	return nil
}

type DisableSendOnRegister struct{ RequestID uint64 }

type RemoveNode struct{ NodeID NodeID }

func (m *RemoveNode) EncodeMsg(w *msgp.Writer) error { return w.WriteBytes(m.NodeID[:]) }
func (m *RemoveNode) DecodeMsg(r *msgp.Reader) error {
	b, err := r.ReadBytes(nil)
	if err != nil {
		return err
	}
	copy(m.NodeID[:], b)
	return nil
}

// ObjectPush is the payload for Object.Push's one-shot broadcast
// (spec.md §4.5 "Object::push").
type ObjectPush struct {
	GroupID uint64
	TypeID  uint32
	Bytes   []byte
}

func (m *ObjectPush) EncodeMsg(w *msgp.Writer) error {
	if err := w.WriteUint64(m.GroupID); err != nil {
		return err
	}
	if err := w.WriteUint32(m.TypeID); err != nil {
		return err
	}
	return w.WriteBytes(m.Bytes)
}

func (m *ObjectPush) DecodeMsg(r *msgp.Reader) error {
	var err error
	if m.GroupID, err = r.ReadUint64(); err != nil {
		return err
	}
	if m.TypeID, err = r.ReadUint32(); err != nil {
		return err
	}
	m.Bytes, err = r.ReadBytes(nil)
	return err
}

// encodeBytes serializes an Encodable payload through a msgp.Writer backed
// by an in-memory buffer, for handing to BuildCommand.
func encodeBytes(enc msgp.Encodable) []byte {
	var buf bytesBuffer
	w := msgp.NewWriter(&buf)
	_ = enc.EncodeMsg(w)
	_ = w.Flush()
	return buf.b
}

// bytesBuffer is a minimal io.Writer sink; avoids importing bytes.Buffer
// just for Write+Bytes in this small helper.
type bytesBuffer struct{ b []byte }

func (bb *bytesBuffer) Write(p []byte) (int, error) {
	bb.b = append(bb.b, p...)
	return len(p), nil
}

// DecodeInto decodes buf (as produced by encodeBytes/EncodeMsg) into dec.
func DecodeInto(buf []byte, dec msgp.Decodable) error {
	r := msgp.NewReader(bytes.NewReader(buf))
	return dec.DecodeMsg(r)
}

// EncodeBytes is the exported form of encodeBytes, for callers outside this
// package building wire payloads (store's command handlers).
func EncodeBytes(enc msgp.Encodable) []byte { return encodeBytes(enc) }
