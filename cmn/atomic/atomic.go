// Package atomic provides small typed wrappers over sync/atomic, avoiding the
// boilerplate of carrying raw int32/int64/uint32 fields correctly aligned and
// always touched through the atomic package.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package atomic

import "sync/atomic"

type (
	Int32  struct{ v int32 }
	Int64  struct{ v int64 }
	Uint32 struct{ v uint32 }
	Uint64 struct{ v uint64 }
	Bool   struct{ v uint32 }
)

func (i *Int32) Load() int32          { return atomic.LoadInt32(&i.v) }
func (i *Int32) Store(val int32)      { atomic.StoreInt32(&i.v, val) }
func (i *Int32) Add(delta int32) int32 { return atomic.AddInt32(&i.v, delta) }
func (i *Int32) CAS(old, new int32) bool {
	return atomic.CompareAndSwapInt32(&i.v, old, new)
}

func (i *Int64) Load() int64           { return atomic.LoadInt64(&i.v) }
func (i *Int64) Store(val int64)       { atomic.StoreInt64(&i.v, val) }
func (i *Int64) Add(delta int64) int64 { return atomic.AddInt64(&i.v, delta) }

func (u *Uint32) Load() uint32           { return atomic.LoadUint32(&u.v) }
func (u *Uint32) Store(val uint32)       { atomic.StoreUint32(&u.v, val) }
func (u *Uint32) Add(delta uint32) uint32 { return atomic.AddUint32(&u.v, delta) }
func (u *Uint32) CAS(old, new uint32) bool {
	return atomic.CompareAndSwapUint32(&u.v, old, new)
}

func (u *Uint64) Load() uint64           { return atomic.LoadUint64(&u.v) }
func (u *Uint64) Store(val uint64)       { atomic.StoreUint64(&u.v, val) }
func (u *Uint64) Add(delta uint64) uint64 { return atomic.AddUint64(&u.v, delta) }

func (b *Bool) Load() bool {
	return atomic.LoadUint32(&b.v) != 0
}

func (b *Bool) Store(val bool) {
	if val {
		atomic.StoreUint32(&b.v, 1)
	} else {
		atomic.StoreUint32(&b.v, 0)
	}
}

// CAS flips the flag from `old` to `new`, reporting whether it did.
func (b *Bool) CAS(old, new bool) bool {
	var o, n uint32
	if old {
		o = 1
	}
	if new {
		n = 1
	}
	return atomic.CompareAndSwapUint32(&b.v, o, n)
}
