package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/cschleiden/go-scaffolder/backend/metrics"
)

func gather(t *testing.T, reg *prometheus.Registry, name string) map[string]float64 {
	t.Helper()

	families, err := reg.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}

		for _, m := range f.GetMetric() {
			key := ""
			for _, l := range m.GetLabel() {
				key += l.GetName() + "=" + l.GetValue() + ";"
			}

			switch {
			case m.GetCounter() != nil:
				values[key] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				values[key] = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				values[key] = float64(m.GetHistogram().GetSampleCount())
			}
		}
	}

	return values
}

func Test_Counter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusClient(reg)

	c.Counter("scaffolder.task.finished", metrics.Tags{"status": "completed"}, 1)
	c.Counter("scaffolder.task.finished", metrics.Tags{"status": "completed"}, 2)
	c.Counter("scaffolder.task.finished", metrics.Tags{"status": "failed"}, 1)

	require.Equal(t, map[string]float64{
		"status=completed;": 3,
		"status=failed;":    1,
	}, gather(t, reg, "scaffolder_task_finished_total"))
}

func Test_Counter_DifferentTagSets(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusClient(reg)

	c.Counter("scaffolder.task.dispatched", metrics.Tags{}, 1)

	require.Panics(t, func() {
		// Same metric name with an inconsistent label set cannot be registered
		c.Counter("scaffolder.task.dispatched", metrics.Tags{"backend": "memory"}, 1)
	})
}

func Test_Gauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusClient(reg)

	c.Gauge("scaffolder.task.running", metrics.Tags{}, 3)
	c.Gauge("scaffolder.task.running", metrics.Tags{}, 1)

	require.Equal(t, map[string]float64{"": 1}, gather(t, reg, "scaffolder_task_running"))
}

func Test_TimingAndDistribution(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusClient(reg)

	c.Timing("scaffolder.step.duration", metrics.Tags{"action": "debug:log"}, 20*time.Millisecond)
	c.Timing("scaffolder.step.duration", metrics.Tags{"action": "debug:log"}, time.Second)
	c.Distribution("scaffolder.task.time_in_queue", metrics.Tags{}, 12)

	require.Equal(t, map[string]float64{"action=debug:log;": 2}, gather(t, reg, "scaffolder_step_duration_seconds"))
	require.Equal(t, map[string]float64{"": 1}, gather(t, reg, "scaffolder_task_time_in_queue"))
}

func Test_WithTags(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusClient(reg).WithTags(metrics.Tags{"backend": "sqlite"})

	c.Counter("scaffolder.task.claimed", metrics.Tags{}, 1)
	c.WithTags(metrics.Tags{"status": "ok"}).Counter("scaffolder.heartbeat.failed", nil, 1)

	require.Equal(t, map[string]float64{"backend=sqlite;": 1}, gather(t, reg, "scaffolder_task_claimed_total"))
	require.Equal(t, map[string]float64{"backend=sqlite;status=ok;": 1}, gather(t, reg, "scaffolder_heartbeat_failed_total"))
}
