// Packet & Command (spec.md §4.1): a variable-length message buffer pooled
// by memsys.CommandCache, and a reference-counted handle around it that
// carries the source/local node and is safely clonable across dispatch
// targets. Grounded on the original Collage eqNet::Command/eqNet::Packet
// (lib/net/command.h) re-architected per spec.md §9 "Shared command
// buffers": clone() increments a refcount, drop() decrements it, and the
// buffer returns to its pool on the zero-to-empty transition - no raw
// pointer to the payload ever outlives the handle.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package cluster

import (
	"encoding/binary"

	"github.com/aistore-dso/dso/cmn/atomic"
	"github.com/aistore-dso/dso/cmn/debug"
	"github.com/aistore-dso/dso/memsys"
)

// Datatype distinguishes the payload shape a Packet carries; a typed read
// asserts the Packet's Datatype matches what the reader expects (spec.md
// §4.1).
type Datatype uint32

const (
	DatatypeNone Datatype = iota
	DatatypeObject
	DatatypeSession
)

// header layout: {size:u64, datatype:u32, commandID:u32} per spec.md §6.2.
const headerSize = 8 + 4 + 4

type Packet struct {
	buf []byte // buf[:headerSize] is the header; buf[headerSize:] is payload
}

func (p *Packet) Size() uint64       { return binary.BigEndian.Uint64(p.buf[0:8]) }
func (p *Packet) Datatype() Datatype { return Datatype(binary.BigEndian.Uint32(p.buf[8:12])) }
func (p *Packet) CommandID() uint32  { return binary.BigEndian.Uint32(p.buf[12:16]) }
func (p *Packet) Payload() []byte    { return p.buf[headerSize:] }

func (p *Packet) setHeader(datatype Datatype, commandID uint32) {
	binary.BigEndian.PutUint64(p.buf[0:8], uint64(len(p.buf)))
	binary.BigEndian.PutUint32(p.buf[8:12], uint32(datatype))
	binary.BigEndian.PutUint32(p.buf[12:16], commandID)
}

// Command is a handle around a pooled Packet, carrying the node fields the
// dispatcher and handlers need (spec.md §4.1).
type Command struct {
	Source *Node // node the command arrived from
	Local  *Node // the local node processing it

	cache *memsys.CommandCache
	pkt   *Packet
	refs  *atomic.Int32 // shared by every clone of this handle; see Clone
}

// Alloc obtains a buffer of at least headerSize+size from cache, initializes
// the node fields and header, and returns a handle with refcount 1
// (spec.md §4.1 Command.alloc).
func Alloc(cache *memsys.CommandCache, source, local *Node, datatype Datatype, commandID uint32, size int) *Command {
	buf := cache.Get(headerSize + size)
	pkt := &Packet{buf: buf}
	pkt.setHeader(datatype, commandID)
	cmd := &Command{Source: source, Local: local, cache: cache, pkt: pkt, refs: new(atomic.Int32)}
	cmd.refs.Store(1)
	return cmd
}

// Clone hands out a second handle onto the same backing buffer and bumps the
// shared refcount. refs is a pointer precisely so every clone of one Command
// increments/decrements the same counter; copying the atomic.Int32 by value
// here would give each handle an independent counter and break the
// "returned to the cache exactly once" contract (spec.md §8 invariant 1).
func (c *Command) Clone() *Command {
	c.refs.Add(1)
	return &Command{Source: c.Source, Local: c.Local, cache: c.cache, pkt: c.pkt, refs: c.refs}
}

// Packet returns the handle's packet. The typed accessors below assert the
// stored datatype; a mismatch is a programming error and aborts
// (spec.md §4.1 "Errors").
func (c *Command) Packet() *Packet { return c.pkt }

func (c *Command) Payload(want Datatype) []byte {
	debug.Assertf(c.pkt.Datatype() == want, "datatype mismatch: have %d want %d", c.pkt.Datatype(), want)
	return c.pkt.Payload()
}

func (c *Command) RefCount() int32 { return c.refs.Load() }

// Release decrements the refcount; at zero the buffer returns to its
// originating cache (or is simply dropped for the GC if it exceeded the
// pool's size class - memsys.Put is itself a no-op in that case).
func (c *Command) Release() {
	if c.refs.Add(-1) == 0 {
		c.cache.Put(c.pkt.buf)
		c.pkt = nil
	}
}

// BuildCommand allocates a Command from cache and copies a pre-serialized
// payload into it, ready for LocalNode.Dispatch/Broadcast.
func BuildCommand(cache *memsys.CommandCache, source, local *Node, datatype Datatype, commandID uint32, payload []byte) *Command {
	cmd := Alloc(cache, source, local, datatype, commandID, len(payload))
	copy(cmd.Packet().Payload(), payload)
	return cmd
}
