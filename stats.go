// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package docengine

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "docengine"

// StatsSource is anything that can report engine stats.
type StatsSource interface {
	Stats() EngineStats
}

// Collector exports engine stats as Prometheus metrics on every scrape.
type Collector struct {
	src StatsSource

	poolCapacity   *prometheus.Desc
	poolCreated    *prometheus.Desc
	poolInUse      *prometheus.Desc
	poolWaiters    *prometheus.Desc
	actorState     *prometheus.Desc
	actorQueued    *prometheus.Desc
	actorProcessed *prometheus.Desc
	actorFailed    *prometheus.Desc
	actorPanics    *prometheus.Desc
	cacheHits      *prometheus.Desc
	cacheMisses    *prometheus.Desc
	cacheEvictions *prometheus.Desc
	cacheEntries   *prometheus.Desc
	cacheBytes     *prometheus.Desc
	documents      *prometheus.Desc
}

func NewCollector(src StatsSource) *Collector {
	desc := func(subsystem, name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, subsystem, name), help, labels, nil)
	}
	return &Collector{
		src:            src,
		poolCapacity:   desc("pool", "capacity", "Maximum number of native contexts."),
		poolCreated:    desc("pool", "contexts_created", "Native contexts created so far."),
		poolInUse:      desc("pool", "contexts_in_use", "Native contexts currently checked out."),
		poolWaiters:    desc("pool", "waiters", "Callers waiting for a native context."),
		actorState:     desc("actor", "state", "Service actor lifecycle state; 1 for the current state.", "state"),
		actorQueued:    desc("actor", "queued_messages", "Messages waiting in the actor inbox."),
		actorProcessed: desc("actor", "processed_total", "Messages processed by the actor."),
		actorFailed:    desc("actor", "failed_total", "Actor messages that returned an error."),
		actorPanics:    desc("actor", "panics_total", "Panics recovered on the actor thread."),
		cacheHits:      desc("cache", "hits_total", "Cache hits.", "region"),
		cacheMisses:    desc("cache", "misses_total", "Cache misses.", "region"),
		cacheEvictions: desc("cache", "evictions_total", "Entries evicted for capacity.", "region"),
		cacheEntries:   desc("cache", "entries", "Entries currently cached.", "region"),
		cacheBytes:     desc("cache", "bytes", "Estimated bytes currently cached.", "region"),
		documents:      desc("", "open_documents", "Documents currently open."),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.poolCapacity, c.poolCreated, c.poolInUse, c.poolWaiters,
		c.actorState, c.actorQueued, c.actorProcessed, c.actorFailed, c.actorPanics,
		c.cacheHits, c.cacheMisses, c.cacheEvictions, c.cacheEntries, c.cacheBytes,
		c.documents,
	} {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Stats()
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}
	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}

	if p := s.Pool; p != nil {
		gauge(c.poolCapacity, float64(p.Capacity))
		gauge(c.poolCreated, float64(p.Created))
		gauge(c.poolInUse, float64(p.InUse))
		gauge(c.poolWaiters, float64(p.Waiters))
	}
	if a := s.Actor; a != nil {
		for _, st := range []ActorState{ActorStarting, ActorReady, ActorDraining, ActorStopped} {
			v := 0.0
			if st.String() == a.State {
				v = 1
			}
			gauge(c.actorState, v, st.String())
		}
		gauge(c.actorQueued, float64(a.Queued))
		counter(c.actorProcessed, a.Processed)
		counter(c.actorFailed, a.Failed)
		counter(c.actorPanics, a.Panics)
	}
	for _, r := range []RegionStats{s.Cache.Parsed, s.Cache.Render, s.Cache.Text} {
		counter(c.cacheHits, r.Hits, r.Name)
		counter(c.cacheMisses, r.Misses, r.Name)
		counter(c.cacheEvictions, r.Evictions, r.Name)
		gauge(c.cacheEntries, float64(r.Entries), r.Name)
		gauge(c.cacheBytes, float64(r.Bytes), r.Name)
	}
	gauge(c.documents, float64(s.Documents))
}
