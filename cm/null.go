// NullCM is the change manager installed on an unattached/deregistered
// object: every operation is a no-op (spec.md §9 "Global state" - a single
// shared NullCM, established at process init, destroyed at process
// shutdown; no lazy cross-thread initialization).
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package cm

import "github.com/aistore-dso/dso/cluster"

type nullCM struct{}

// Null is the process-wide NullCM singleton (spec.md §9 "Global state").
var Null cluster.ChangeManager = &nullCM{}

func (*nullCM) Variant() cluster.CMVariant { return cluster.CMNull }
func (*nullCM) CommitNB(*cluster.Object) uint64 { return 0 }
func (*nullCM) CommitSync(uint64) (cluster.Version, cluster.MapResult) {
	return cluster.VersionNone, cluster.ResultOK
}
func (*nullCM) AddSlave(*cluster.Node, *cluster.SubscribeObject) (cluster.Version, cluster.MapResult, bool) {
	return cluster.VersionNone, cluster.ResultFail, false
}
func (*nullCM) RemoveSlave(*cluster.Node)                  {}
func (*nullCM) Apply(cluster.Version, []byte, bool) bool   { return false }
func (*nullCM) Sync(cluster.Version, int64) bool           { return false }
