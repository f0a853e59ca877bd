// Copyright 2018 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metric exports the statistics of a network stack to Prometheus.
//
// Every tcpip.StatCounter of a tcpip.Stats becomes a counter whose name is the
// snake cased path of the field, for example ARP.RequestsSent is exported as
// <namespace>_arp_requests_sent_total.
package metric

import (
	"strings"
	"unicode"

	"github.com/prometheus/client_golang/prometheus"
	"gvisor.dev/inet/pkg/tcpip"
)

// DefaultNamespace is the namespace used when none is given.
const DefaultNamespace = "inet"

// Collector implements prometheus.Collector over the counters of a stack.
// Values are read when collected.
type Collector struct {
	stats *tcpip.Stats
	descs map[string]*prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a collector for stats. labels are attached to every
// exported counter; they tell apart the stacks registered in one registry.
func NewCollector(namespace string, stats *tcpip.Stats, labels prometheus.Labels) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	c := &Collector{
		stats: stats,
		descs: make(map[string]*prometheus.Desc),
	}
	stats.VisitCounters(func(path string, _ *tcpip.StatCounter) {
		c.descs[path] = prometheus.NewDesc(Name(namespace, path), "Stack counter "+path+".", nil, labels)
	})
	return c
}

// Describe implements prometheus.Collector.Describe.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.descs {
		ch <- d
	}
}

// Collect implements prometheus.Collector.Collect.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.stats.VisitCounters(func(path string, s *tcpip.StatCounter) {
		ch <- prometheus.MustNewConstMetric(c.descs[path], prometheus.CounterValue, float64(s.Value()))
	})
}

// Name returns the exported name of the counter at path.
func Name(namespace, path string) string {
	parts := []string{namespace}
	for _, p := range strings.Split(path, ".") {
		parts = append(parts, snakeCase(p))
	}
	return strings.Join(parts, "_") + "_total"
}

// snakeCase converts a Go identifier to snake case. Runs of capitals are kept
// together: "UnknownEtherType" becomes "unknown_ether_type" and "DHCP"
// becomes "dhcp".
func snakeCase(s string) string {
	r := []rune(s)
	var b strings.Builder
	for i, c := range r {
		if i > 0 && unicode.IsUpper(c) {
			prevLower := unicode.IsLower(r[i-1])
			nextLower := i+1 < len(r) && unicode.IsLower(r[i+1])
			if prevLower || (unicode.IsUpper(r[i-1]) && nextLower) {
				b.WriteByte('_')
			}
		}
		b.WriteRune(unicode.ToLower(c))
	}
	return b.String()
}
