// Read-only introspection for admin tooling (cmd/dsoctl's /objects and
// /cache/stats endpoints); nothing here mutates store state.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package store

import (
	"github.com/aistore-dso/dso/cluster"
	"github.com/aistore-dso/dso/store/instancecache"
)

// ObjectSnapshot is one attached instance's externally visible state.
type ObjectSnapshot struct {
	ID         cluster.ObjectID
	InstanceID cluster.InstanceID
	Type       cluster.ChangeType
	Variant    cluster.CMVariant
	Version    cluster.Version
}

// Snapshot lists every locally attached object instance, master or slave.
func (s *ObjectStore) Snapshot() []ObjectSnapshot {
	s.objMu.RLock()
	defer s.objMu.RUnlock()
	var out []ObjectSnapshot
	for _, list := range s.objects {
		for _, o := range list {
			out = append(out, ObjectSnapshot{
				ID:         o.ID,
				InstanceID: o.InstanceID,
				Type:       o.Type,
				Variant:    o.CM.Variant(),
				Version:    o.Version(),
			})
		}
	}
	return out
}

// CacheStats reports the instance cache's current occupancy.
func (s *ObjectStore) CacheStats() instancecache.Stats { return s.instances.Snapshot() }
