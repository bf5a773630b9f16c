// Package cluster implements the external boundary the object store and
// change managers run on top of: node identity, the local node (receiver +
// command goroutines), and the one-shot request registry that
// mapObjectSync/commitSync/_findMasterNodeID block on.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package cluster

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/OneOfOne/xxhash"
	"github.com/aistore-dso/dso/cmn/atomic"
	"github.com/aistore-dso/dso/cmn/cos"
)

type (
	// UUID128 is the 128-bit opaque identifier backing NodeID and ObjectID
	// (spec.md §3).
	UUID128 [16]byte

	NodeID   UUID128
	ObjectID UUID128

	// InstanceID is a 32-bit node-local counter (spec.md §3).
	InstanceID uint32

	// Version is a monotonic 64-bit counter with the reserved sentinels
	// below (spec.md §3).
	Version uint64
)

var (
	NodeIDNone   NodeID
	ObjectIDNone ObjectID
)

const (
	VersionNone    Version = 0
	VersionFirst   Version = 1
	VersionOldest  Version = ^Version(0) - 1
	VersionHead    Version = ^Version(0)
	VersionInvalid Version = ^Version(0)

	InstanceInvalid InstanceID = ^InstanceID(0)
)

func (id NodeID) IsZero() bool   { return id == NodeIDNone }
func (id ObjectID) IsZero() bool { return id == ObjectIDNone }

func (id NodeID) String() string   { return hex.EncodeToString(id[:]) }
func (id ObjectID) String() string { return hex.EncodeToString(id[:]) }

// idSeq is a process-wide, session-tagged sequence: every id minted in this
// process is (session tag, monotonic counter) hashed into 128 bits via
// xxhash, combining cmn/cos's shortid session tag with the xxhash dependency
// exactly as cmn/cos/uuid.go combines them for aistore's own ids.
type idSeq struct {
	tag string
	n   atomic.Uint64
}

var globalSeq *idSeq

// InitIdentity must be called once per process before any New*ID call; it
// mints the session tag all ids in this process are seeded from.
func InitIdentity(seed uint64) {
	cos.InitShortID(seed)
	globalSeq = &idSeq{tag: cos.GenSessionTag()}
}

func newUUID128() UUID128 {
	n := globalSeq.n.Add(1)
	var seed [8]byte
	binary.BigEndian.PutUint64(seed[:], n)
	h1 := xxhash.Checksum64S(append([]byte(globalSeq.tag), seed[:]...), n)
	h2 := xxhash.Checksum64S(append([]byte(globalSeq.tag), seed[:]...), n^0x9e3779b97f4a7c15)
	var u UUID128
	binary.BigEndian.PutUint64(u[0:8], h1)
	binary.BigEndian.PutUint64(u[8:16], h2)
	return u
}

func NewNodeID() NodeID     { return NodeID(newUUID128()) }
func NewObjectID() ObjectID { return ObjectID(newUUID128()) }
