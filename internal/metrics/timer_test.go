package metrics

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/cschleiden/go-scaffolder/backend/metrics"
)

type recordingClient struct {
	*noopMetricsClient

	name     string
	tags     metrics.Tags
	duration time.Duration
}

func (c *recordingClient) Timing(name string, tags metrics.Tags, duration time.Duration) {
	c.name = name
	c.tags = tags
	c.duration = duration
}

func TestTimer_Stop(t *testing.T) {
	clk := clock.NewMock()
	c := &recordingClient{noopMetricsClient: NewNoopMetricsClient()}

	timer := NewTimer(c, clk, "step.duration", metrics.Tags{"action": "debug:log"})
	clk.Add(1500 * time.Millisecond)
	timer.Stop()

	require.Equal(t, "step.duration", c.name)
	require.Equal(t, metrics.Tags{"action": "debug:log"}, c.tags)
	require.Equal(t, 1500*time.Millisecond, c.duration)
}
