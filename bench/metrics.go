package main

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cschleiden/go-scaffolder/backend/metrics"
)

type store struct {
	mu       sync.Mutex
	counters map[string]int64
	timings  map[string][]time.Duration
}

type memMetrics struct {
	tags metrics.Tags
	s    *store
}

func newMemMetrics() *memMetrics {
	return &memMetrics{
		tags: make(metrics.Tags),
		s: &store{
			counters: make(map[string]int64),
			timings:  make(map[string][]time.Duration),
		},
	}
}

func (m *memMetrics) Print() {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	for _, k := range sortedKeys(m.s.counters) {
		fmt.Printf("%s: %d\n", k, m.s.counters[k])
	}

	for _, k := range sortedKeys(m.s.timings) {
		d := m.s.timings[k]
		sort.Slice(d, func(i, j int) bool { return d[i] < d[j] })

		fmt.Printf("%s: n=%d p50=%v p99=%v max=%v\n", k, len(d), d[len(d)/2], d[len(d)*99/100], d[len(d)-1])
	}
}

func (m *memMetrics) Counter(name string, tags metrics.Tags, value int64) {
	k := key(name, m.tags.With(tags))

	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	m.s.counters[k] += value
}

func (m *memMetrics) Distribution(name string, tags metrics.Tags, value float64) {
}

func (m *memMetrics) Gauge(name string, tags metrics.Tags, value int64) {
}

func (m *memMetrics) Timing(name string, tags metrics.Tags, duration time.Duration) {
	// Aggregated by name only
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	m.s.timings[name] = append(m.s.timings[name], duration)
}

func (m *memMetrics) WithTags(tags metrics.Tags) metrics.Client {
	return &memMetrics{
		s:    m.s,
		tags: m.tags.With(tags),
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys
}

func key(name string, tags metrics.Tags) string {
	var buf bytes.Buffer

	buf.WriteString(name)
	buf.WriteString("[")

	for i, k := range sortedKeys(tags) {
		if i > 0 {
			buf.WriteString(",")
		}

		buf.WriteString(k)
		buf.WriteString(":")
		buf.WriteString(tags[k])
	}

	buf.WriteString("]")

	return buf.String()
}

var _ metrics.Client = (*memMetrics)(nil)
