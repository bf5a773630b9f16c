// Package cos provides common low-level types and utilities used throughout
// the distributed shared-object runtime.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"github.com/aistore-dso/dso/cmn/atomic"
	"github.com/teris-io/shortid"
)

// Alphabet for generating session tags, mirroring shortid.DEFAULT_ABC with a
// tie-break reserved range (len(uuidABC) > 0x3f, see GenTie).
const uuidABC = "-5nZJDft6LuzsjGNpPwY7rQa39vehq4i1cV2FROo8yHSlC0BUEdWbIxMmTgKXAk_"

const LenShortID = 9 // per https://github.com/teris-io/shortid#id-length

var (
	sid  *shortid.Shortid
	rtie atomic.Uint32
)

func InitShortID(seed uint64) {
	sid = shortid.MustNew(4 /*worker*/, uuidABC, seed)
}

// GenSessionTag produces a session-unique, process-local tag used to seed
// NodeID/ObjectID generation (see cluster.newUUID128): a fresh tag per
// process guarantees the ids it seeds cannot collide with a prior session's
// even if the local counter restarts from zero.
func GenSessionTag() string {
	tag := sid.MustGenerate()
	if !isAlpha(tag[0]) {
		tie := int(rtie.Add(1))
		tag = string(rune('A'+tie%26)) + tag
	}
	return tag
}

func isAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// IsAlphaNice reports whether s is alpha-numeric plus '-'/'_', neither
// leading nor trailing with either, and within the teacher's length cap.
func IsAlphaNice(s string) bool {
	const tooLongID = 32
	l := len(s)
	if l == 0 || l > tooLongID {
		return false
	}
	for i := 0; i < l; i++ {
		c := s[i]
		if isAlpha(c) || (c >= '0' && c <= '9') {
			continue
		}
		if c != '-' && c != '_' {
			return false
		}
		if i == 0 || i == l-1 {
			return false
		}
	}
	return true
}

// GenTie returns a 3-character fast tie-breaker, used to disambiguate ids
// generated within the same clock tick.
func GenTie() string {
	tie := rtie.Add(1)
	b0 := uuidABC[tie&0x3f]
	b1 := uuidABC[(^tie)&0x3f]
	b2 := uuidABC[(tie>>2)&0x3f]
	return string([]byte{b0, b1, b2})
}
