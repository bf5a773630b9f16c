//go:build debug

// Package provides debug utilities
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package debug

import (
	"fmt"
	"net/http"
	"os"
	"sync"
)

func ON() bool { return true }

func Infof(format string, a ...any) { fmt.Fprintf(os.Stderr, "[DEBUG] "+format+"\n", a...) }

func Func(f func()) { f() }

func Assert(cond bool, a ...any) {
	if !cond {
		fail(a...)
	}
}

func AssertFunc(f func() bool, a ...any) {
	if !f() {
		fail(a...)
	}
}

func AssertNoErr(err error) {
	if err != nil {
		fail(err)
	}
}

func Assertf(cond bool, format string, a ...any) {
	if !cond {
		fail(fmt.Sprintf(format, a...))
	}
}

func AssertNotPstr(v any) {
	if v == nil {
		fail("unexpected nil pointer")
	}
}

func FailTypeCast(v any) { fail(fmt.Sprintf("unexpected type %T", v)) }

// best-effort: sync.Mutex/sync.RWMutex expose no public "is locked" query,
// so these only catch the case obviously wrong in debug builds - a nil receiver.
func AssertMutexLocked(mu *sync.Mutex)      { Assert(mu != nil) }
func AssertRWMutexLocked(mu *sync.RWMutex)  { Assert(mu != nil) }
func AssertRWMutexRLocked(mu *sync.RWMutex) { Assert(mu != nil) }

func Handlers() map[string]http.HandlerFunc {
	return map[string]http.HandlerFunc{}
}

func fail(a ...any) {
	msg := fmt.Sprintln(a...)
	panic("assertion failed: " + msg)
}
