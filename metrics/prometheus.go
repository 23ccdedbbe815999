// Package metrics reports task system metrics to Prometheus.
package metrics

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cschleiden/go-scaffolder/backend/metrics"
)

var durationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300}

type collectors struct {
	mu sync.Mutex

	reg prometheus.Registerer

	counters      map[string]*prometheus.CounterVec
	gauges        map[string]*prometheus.GaugeVec
	distributions map[string]*prometheus.HistogramVec
}

type prometheusClient struct {
	c    *collectors
	tags metrics.Tags
}

var _ metrics.Client = (*prometheusClient)(nil)

// NewPrometheusClient returns a metrics client that registers a collector for each metric name
// and tag set with the given registerer. Timings are recorded as histograms in seconds.
func NewPrometheusClient(reg prometheus.Registerer) *prometheusClient {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	return &prometheusClient{
		c: &collectors{
			reg:           reg,
			counters:      map[string]*prometheus.CounterVec{},
			gauges:        map[string]*prometheus.GaugeVec{},
			distributions: map[string]*prometheus.HistogramVec{},
		},
		tags: metrics.Tags{},
	}
}

func (p *prometheusClient) Counter(name string, tags metrics.Tags, value int64) {
	labels := p.labels(tags)
	metricName := sanitize(name) + "_total"
	key, names := vecKey(metricName, labels)

	p.c.mu.Lock()
	vec, ok := p.c.counters[key]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{Name: metricName, Help: name}, names)
		vec = register(p.c.reg, vec)
		p.c.counters[key] = vec
	}
	p.c.mu.Unlock()

	vec.With(labels).Add(float64(value))
}

func (p *prometheusClient) Gauge(name string, tags metrics.Tags, value int64) {
	labels := p.labels(tags)
	metricName := sanitize(name)
	key, names := vecKey(metricName, labels)

	p.c.mu.Lock()
	vec, ok := p.c.gauges[key]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: metricName, Help: name}, names)
		vec = register(p.c.reg, vec)
		p.c.gauges[key] = vec
	}
	p.c.mu.Unlock()

	vec.With(labels).Set(float64(value))
}

func (p *prometheusClient) Distribution(name string, tags metrics.Tags, value float64) {
	p.observe(sanitize(name), name, tags, value)
}

func (p *prometheusClient) Timing(name string, tags metrics.Tags, duration time.Duration) {
	p.observe(sanitize(name)+"_seconds", name, tags, duration.Seconds())
}

func (p *prometheusClient) WithTags(tags metrics.Tags) metrics.Client {
	return &prometheusClient{
		c:    p.c,
		tags: p.tags.With(tags),
	}
}

func (p *prometheusClient) observe(metricName, help string, tags metrics.Tags, value float64) {
	labels := p.labels(tags)
	key, names := vecKey(metricName, labels)

	p.c.mu.Lock()
	vec, ok := p.c.distributions[key]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metricName,
			Help:    help,
			Buckets: durationBuckets,
		}, names)
		vec = register(p.c.reg, vec)
		p.c.distributions[key] = vec
	}
	p.c.mu.Unlock()

	vec.With(labels).Observe(value)
}

func (p *prometheusClient) labels(tags metrics.Tags) prometheus.Labels {
	merged := p.tags.With(tags)

	labels := make(prometheus.Labels, len(merged))
	for k, v := range merged {
		labels[sanitize(k)] = v
	}

	return labels
}

// register registers c, or returns the collector already registered under the same descriptor.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}

		panic(err)
	}

	return c
}

func vecKey(name string, labels prometheus.Labels) (string, []string) {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	sort.Strings(names)

	return name + "{" + strings.Join(names, ",") + "}", names
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		}

		return '_'
	}, name)
}
