// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package xrep

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// TypeStats are the running totals for one scrub type.
type TypeStats struct {
	Attempted uint64
	Succeeded uint64
	Retries   uint64
	Duration  time.Duration
}

// Stats counts repair attempts per scrub type.  It is a
// prometheus.Collector.
type Stats struct {
	mu    sync.Mutex
	types map[ScrubType]*TypeStats

	attemptedDesc *prometheus.Desc
	succeededDesc *prometheus.Desc
	retriesDesc   *prometheus.Desc
	durationDesc  *prometheus.Desc
}

var _ prometheus.Collector = (*Stats)(nil)

const statsNamespace = "xrep"

func NewStats() *Stats {
	labels := []string{"type"}
	return &Stats{
		types: make(map[ScrubType]*TypeStats),

		attemptedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(statsNamespace, "repair", "attempted_total"),
			"Number of repairs attempted",
			labels, nil),
		succeededDesc: prometheus.NewDesc(
			prometheus.BuildFQName(statsNamespace, "repair", "succeeded_total"),
			"Number of repairs whose rebuild finished",
			labels, nil),
		retriesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(statsNamespace, "repair", "retries_total"),
			"Number of repairs retried after contention",
			labels, nil),
		durationDesc: prometheus.NewDesc(
			prometheus.BuildFQName(statsNamespace, "repair", "seconds_total"),
			"Time spent in rebuild functions",
			labels, nil),
	}
}

func (s *Stats) update(typ ScrubType, fn func(*TypeStats)) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.types[typ]
	if !ok {
		ts = new(TypeStats)
		s.types[typ] = ts
	}
	fn(ts)
}

func (s *Stats) attempted(typ ScrubType) { s.update(typ, func(ts *TypeStats) { ts.Attempted++ }) }
func (s *Stats) succeeded(typ ScrubType) { s.update(typ, func(ts *TypeStats) { ts.Succeeded++ }) }
func (s *Stats) retried(typ ScrubType)   { s.update(typ, func(ts *TypeStats) { ts.Retries++ }) }

func (s *Stats) observe(typ ScrubType, d time.Duration) {
	s.update(typ, func(ts *TypeStats) { ts.Duration += d })
}

// Get returns the totals for one scrub type.  A nil Stats has
// counted nothing.
func (s *Stats) Get(typ ScrubType) TypeStats {
	if s == nil {
		return TypeStats{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ts, ok := s.types[typ]; ok {
		return *ts
	}
	return TypeStats{}
}

// Describe implements prometheus.Collector.
func (s *Stats) Describe(ch chan<- *prometheus.Desc) {
	ch <- s.attemptedDesc
	ch <- s.succeededDesc
	ch <- s.retriesDesc
	ch <- s.durationDesc
}

// Collect implements prometheus.Collector.
func (s *Stats) Collect(ch chan<- prometheus.Metric) {
	s.mu.Lock()
	snapshot := make(map[ScrubType]TypeStats, len(s.types))
	for typ, ts := range s.types {
		snapshot[typ] = *ts
	}
	s.mu.Unlock()

	typs := maps.Keys(snapshot)
	slices.Sort(typs)
	for _, typ := range typs {
		ts := snapshot[typ]
		label := typ.String()
		ch <- prometheus.MustNewConstMetric(s.attemptedDesc, prometheus.CounterValue, float64(ts.Attempted), label)
		ch <- prometheus.MustNewConstMetric(s.succeededDesc, prometheus.CounterValue, float64(ts.Succeeded), label)
		ch <- prometheus.MustNewConstMetric(s.retriesDesc, prometheus.CounterValue, float64(ts.Retries), label)
		ch <- prometheus.MustNewConstMetric(s.durationDesc, prometheus.CounterValue, ts.Duration.Seconds(), label)
	}
}
