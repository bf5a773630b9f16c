// Package metrics exports the runtime's Prometheus counters and gauges:
// dispatcher throughput, command-cache reuse, instance-cache hit/miss, and
// slave-subscription counts.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	DispatchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dso",
		Subsystem: "dispatch",
		Name:      "commands_total",
		Help:      "Commands routed by the dispatcher, by outcome (handler/queue/miss).",
	}, []string{"outcome"})

	CacheAllocTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dso",
		Subsystem: "memsys",
		Name:      "command_cache_allocs_total",
		Help:      "CommandCache allocations, by size class and whether served from the free list.",
	}, []string{"size_class", "source"})

	InstanceCacheLookup = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dso",
		Subsystem: "store",
		Name:      "instance_cache_lookups_total",
		Help:      "InstanceCache lookups, by outcome (hit/miss/filtered).",
	}, []string{"outcome"})

	SlavesGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "dso",
		Subsystem: "cm",
		Name:      "slaves",
		Help:      "Number of distinct slave nodes in the most recently changed slave set, recorded under the single label value \"total\".",
	}, []string{"scope"})

	VersionGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "dso",
		Subsystem: "cm",
		Name:      "master_version",
		Help:      "Most recent version committed by a master or applied by a slave, labelled by the master's node id.",
	}, []string{"master_node_id"})
)

// Registry returns a fresh *prometheus.Registry with the collectors above
// registered. Nothing in this module calls it or serves the result; the
// cmd/dsoctl admin server does not expose these metrics.
func Registry() *prometheus.Registry {
	r := prometheus.NewRegistry()
	r.MustRegister(DispatchTotal, CacheAllocTotal, InstanceCacheLookup, SlavesGauge, VersionGauge)
	return r
}
