// Package nlog is the runtime's logger: severity-leveled, line-buffered,
// with an explicit Flush instead of per-call syncing.
/*
 * Copyright (c) 2023-2024, NVIDIA CORPORATION. All rights reserved.
 */
package nlog

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

type severity int

const (
	sevInfo severity = iota
	sevWarn
	sevErr
)

var sevChar = [...]byte{'I', 'W', 'E'}

var (
	toStderr     bool
	alsoToStderr bool

	mu  sync.Mutex
	buf bytes.Buffer
	out io.Writer = os.Stderr
)

func InitFlags(flset *flag.FlagSet) {
	flset.BoolVar(&toStderr, "logtostderr", false, "log to standard error instead of files")
	flset.BoolVar(&alsoToStderr, "alsologtostderr", false, "log to standard error as well as files")
}

// SetOutput redirects the buffered sink - e.g. to a rotated log file opened
// by the caller. The zero value keeps writing to stderr.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if w == nil {
		out = os.Stderr
		return
	}
	out = w
}

func InfoDepth(depth int, args ...any)    { log(sevInfo, depth+1, "", args...) }
func Infoln(args ...any)                  { log(sevInfo, 1, "", args...) }
func Infof(format string, args ...any)    { log(sevInfo, 1, format, args...) }
func Warningln(args ...any)               { log(sevWarn, 1, "", args...) }
func Warningf(format string, args ...any) { log(sevWarn, 1, format, args...) }
func ErrorDepth(depth int, args ...any)   { log(sevErr, depth+1, "", args...) }
func Errorln(args ...any)                 { log(sevErr, 1, "", args...) }
func Errorf(format string, args ...any)   { log(sevErr, 1, format, args...) }

func log(sev severity, depth int, format string, args ...any) {
	mu.Lock()
	defer mu.Unlock()
	writeHdr(sev, depth+1)
	if format == "" {
		fmt.Fprintln(&buf, args...)
	} else {
		fmt.Fprintf(&buf, format, args...)
		if !strings.HasSuffix(format, "\n") {
			buf.WriteByte('\n')
		}
	}
	if toStderr || alsoToStderr || sev >= sevWarn || buf.Len() > maxLineSize {
		flushLocked()
	}
}

const maxLineSize = 2 * 1024

func writeHdr(sev severity, depth int) {
	_, fn, ln, ok := runtime.Caller(2 + depth)
	if !ok {
		fn, ln = "???", 0
	} else if idx := strings.LastIndexByte(fn, filepath.Separator); idx >= 0 {
		fn = fn[idx+1:]
	}
	now := time.Now()
	buf.WriteByte(sevChar[sev])
	buf.WriteByte(' ')
	buf.WriteString(now.Format("15:04:05.000000"))
	buf.WriteByte(' ')
	buf.WriteString(fn)
	buf.WriteByte(':')
	buf.WriteString(strconv.Itoa(ln))
	buf.WriteByte(' ')
}

// Flush writes out any buffered log lines. Pass true when exiting the
// process to make sure nothing is lost.
func Flush(exit ...bool) {
	mu.Lock()
	defer mu.Unlock()
	flushLocked()
	if len(exit) > 0 && exit[0] {
		if c, ok := out.(io.Closer); ok {
			c.Close()
		}
	}
}

func flushLocked() {
	if buf.Len() == 0 {
		return
	}
	out.Write(buf.Bytes())
	buf.Reset()
}
