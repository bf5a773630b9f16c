//go:build !mono

// Package mono provides low-level monotonic time
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package mono

import "time"

// portable fallback for builds that don't pin the `mono` tag and its
// runtime.nanotime linkname trick.
func NanoTime() int64 { return time.Now().UnixNano() }
