// Package metrics defines the client through which stores, the broker and workers report task
// and step metrics. Metric names are dotted, e.g. scaffolder.task.claimed.
package metrics

import "time"

// Tags are attached to a single measurement, e.g. the action a step ran or the store in use.
type Tags map[string]string

// With returns a new set containing t and other. Values in other take precedence.
func (t Tags) With(other Tags) Tags {
	merged := make(Tags, len(t)+len(other))
	for k, v := range t {
		merged[k] = v
	}

	for k, v := range other {
		merged[k] = v
	}

	return merged
}

type Client interface {
	// Counter adds value to a monotonic count such as dispatched tasks.
	Counter(name string, tags Tags, value int64)

	// Distribution records a single sample, e.g. how long a task waited before it was claimed.
	Distribution(name string, tags Tags, value float64)

	// Gauge sets the current value, e.g. the number of tasks a worker is running.
	Gauge(name string, tags Tags, value int64)

	Timing(name string, tags Tags, duration time.Duration)

	// WithTags returns a client that adds tags to every measurement.
	WithTags(tags Tags) Client
}
