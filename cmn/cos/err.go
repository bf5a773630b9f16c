// Package cos provides common low-level types and utilities used throughout
// the distributed shared-object runtime.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"sync"

	"github.com/aistore-dso/dso/cmn/debug"
	"github.com/aistore-dso/dso/cmn/nlog"
	pkgerrors "github.com/pkg/errors"
)

type (
	ErrNotFound struct {
		what string
	}
	// accumulates up to maxErrs distinct errors, de-duped by message.
	Errs struct {
		errs []error
		cnt  int
		mu   sync.Mutex
	}
)

// §7 error taxonomy: protocol violation, timeout, peer loss. Resource
// exhaustion and programming errors are not values - they panic/abort per
// spec.md §7.
var (
	ErrProtocol = errors.New("protocol violation")
	ErrTimeout  = errors.New("request timed out")
	ErrPeerLost = errors.New("peer connection lost")
	ErrAttached = errors.New("object already attached")
)

// WrapProtocol, WrapTimeout and WrapPeerLost attach call-site context and a
// stack trace (github.com/pkg/errors) to one of the §7 sentinels above,
// while still satisfying errors.Is(wrapped, ErrProtocol) etc. for callers
// that only care about the taxonomy bucket.
func WrapProtocol(format string, a ...any) error {
	return pkgerrors.Wrapf(ErrProtocol, format, a...)
}

func WrapTimeout(format string, a ...any) error {
	return pkgerrors.Wrapf(ErrTimeout, format, a...)
}

func WrapPeerLost(format string, a ...any) error {
	return pkgerrors.Wrapf(ErrPeerLost, format, a...)
}

func NewErrNotFound(format string, a ...any) *ErrNotFound {
	return &ErrNotFound{fmt.Sprintf(format, a...)}
}

func (e *ErrNotFound) Error() string { return e.what + " does not exist" }

func IsErrNotFound(err error) bool {
	var e *ErrNotFound
	return errors.As(err, &e)
}

const maxErrs = 4

func (e *Errs) Add(err error) {
	debug.Assert(err != nil)
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, added := range e.errs {
		if added.Error() == err.Error() {
			return
		}
	}
	if len(e.errs) < maxErrs {
		e.errs = append(e.errs, err)
		e.cnt = len(e.errs)
	}
}

func (e *Errs) Cnt() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cnt
}

func (e *Errs) JoinErr() (cnt int, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cnt = e.cnt; cnt > 0 {
		err = errors.Join(e.errs...)
	}
	return
}

func (e *Errs) Error() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.errs) == 0 {
		return ""
	}
	if len(e.errs) == 1 {
		return e.errs[0].Error()
	}
	return fmt.Sprintf("%v (and %d more error%s)", e.errs[0], len(e.errs)-1, plural(len(e.errs)-1))
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

//
// abnormal termination
//

const fatalPrefix = "FATAL ERROR: "

func Exitf(f string, a ...any) {
	_exit(fmt.Sprintf(fatalPrefix+f, a...))
}

// ExitLogf logs the fatal error (when the flag package has been parsed, i.e.
// we're past early init) before terminating the process.
func ExitLogf(f string, a ...any) {
	msg := fmt.Sprintf(fatalPrefix+f, a...)
	if flag.Parsed() {
		nlog.ErrorDepth(1, msg)
		nlog.Flush(true)
	}
	_exit(msg)
}

func _exit(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
