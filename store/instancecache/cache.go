// Package instancecache implements the InstanceCache (spec.md §4.6): a
// per-object, version-ordered cache of recently seen serialized instance
// data, with an age-budget eviction policy and a cuckoo filter fronting the
// hot lookup path the way the teacher's fs/ cache layers front expensive
// lookups with a probabilistic pre-check before taking a lock.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package instancecache

import (
	"sync"
	"time"

	"github.com/aistore-dso/dso/cluster"
	"github.com/aistore-dso/dso/cmn/metrics"
	"github.com/seiflotfy/cuckoofilter"
)

// Entry is one cached instance blob (spec.md §3 "InstanceCache entry").
type Entry struct {
	Version   cluster.Version
	Bytes     []byte
	Source    cluster.NodeID
	Timestamp time.Time
}

// Cache is the two-level InstanceCache: outer map ObjectID -> version-
// ordered Entry list, guarded by one rw-lock since writes only ever
// originate on the receiver thread (spec.md §4.6 "Concurrency").
type Cache struct {
	mu      sync.RWMutex
	entries map[cluster.ObjectID][]Entry
	filter  *cuckoofilter.CuckooFilter
	budget  int64
	size    int64
	enabled bool
}

func New(budgetBytes int64) *Cache {
	return &Cache{
		entries: make(map[cluster.ObjectID][]Entry),
		filter:  cuckoofilter.NewCuckooFilter(1 << 16),
		budget:  budgetBytes,
		enabled: true,
	}
}

func filterKey(id cluster.ObjectID) []byte { return id[:] }

// Add appends a new entry for id, keeping the per-id list version-sorted,
// and evicts the globally oldest entries once the budget is exceeded
// (spec.md §4.6 "add").
func (c *Cache) Add(id cluster.ObjectID, version cluster.Version, source cluster.NodeID, bytes []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	e := Entry{Version: version, Bytes: bytes, Source: source, Timestamp: time.Now()}
	list := c.entries[id]
	i := 0
	for i < len(list) && list[i].Version < version {
		i++
	}
	list = append(list, Entry{})
	copy(list[i+1:], list[i:])
	list[i] = e
	c.entries[id] = list
	c.filter.InsertUnique(filterKey(id))
	c.size += int64(len(bytes))

	c.evictOverBudget()
}

// evictOverBudget drops the globally oldest entries (by Timestamp) across
// all ids until total size is back within budget. Caller holds c.mu.
func (c *Cache) evictOverBudget() {
	for c.budget > 0 && c.size > c.budget {
		var oldestID cluster.ObjectID
		oldestIdx := -1
		var oldestTime time.Time
		for id, list := range c.entries {
			if len(list) == 0 {
				continue
			}
			if oldestIdx == -1 || list[0].Timestamp.Before(oldestTime) {
				oldestID, oldestIdx, oldestTime = id, 0, list[0].Timestamp
			}
		}
		if oldestIdx == -1 {
			return
		}
		list := c.entries[oldestID]
		c.size -= int64(len(list[0].Bytes))
		list = list[1:]
		if len(list) == 0 {
			delete(c.entries, oldestID)
		} else {
			c.entries[oldestID] = list
		}
	}
}

// Lookup returns a cached entry whose version falls within [minV, maxV],
// preferring the highest such version (spec.md §8 S3 "subscribe cache
// hit"). The cuckoo filter pre-check avoids taking the lock for ids never
// seen.
func (c *Cache) Lookup(id cluster.ObjectID, minV, maxV cluster.Version) (Entry, bool) {
	if !c.filter.Lookup(filterKey(id)) {
		metrics.InstanceCacheLookup.WithLabelValues("filtered").Inc()
		return Entry{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	list := c.entries[id]
	best := -1
	for i, e := range list {
		if e.Version >= minV && e.Version <= maxV {
			if best == -1 || list[best].Version < e.Version {
				best = i
			}
		}
	}
	if best == -1 {
		metrics.InstanceCacheLookup.WithLabelValues("miss").Inc()
		return Entry{}, false
	}
	metrics.InstanceCacheLookup.WithLabelValues("hit").Inc()
	return list[best], true
}

// Erase drops every entry whose source is nodeID, e.g. on node removal
// (spec.md §4.6 "erase").
func (c *Cache) Erase(nodeID cluster.NodeID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, list := range c.entries {
		kept := list[:0]
		for _, e := range list {
			if e.Source != nodeID {
				kept = append(kept, e)
			} else {
				c.size -= int64(len(e.Bytes))
			}
		}
		if len(kept) == 0 {
			delete(c.entries, id)
		} else {
			c.entries[id] = kept
		}
	}
}

// Expire drops entries older than age (spec.md §4.6 "expire").
func (c *Cache) Expire(age time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := time.Now().Add(-age)
	for id, list := range c.entries {
		kept := list[:0]
		for _, e := range list {
			if e.Timestamp.After(cutoff) {
				kept = append(kept, e)
			} else {
				c.size -= int64(len(e.Bytes))
			}
		}
		if len(kept) == 0 {
			delete(c.entries, id)
		} else {
			c.entries[id] = kept
		}
	}
}

// Disable empties the cache and stops admitting new entries
// (spec.md §4.5 "disableInstanceCache").
func (c *Cache) Disable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = false
	c.entries = make(map[cluster.ObjectID][]Entry)
	c.size = 0
}

// Stats is a point-in-time snapshot for admin introspection (cmd/dsoctl's
// /cache/stats endpoint).
type Stats struct {
	Objects     int
	Entries     int
	SizeBytes   int64
	BudgetBytes int64
	Enabled     bool
}

func (c *Cache) Snapshot() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := Stats{Objects: len(c.entries), SizeBytes: c.size, BudgetBytes: c.budget, Enabled: c.enabled}
	for _, list := range c.entries {
		s.Entries += len(list)
	}
	return s
}
