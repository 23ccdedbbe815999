package backend

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

func TestWithHeartbeatTimeout(t *testing.T) {
	timeout := 5 * time.Minute
	option := WithHeartbeatTimeout(timeout)

	opts := ApplyOptions(option)

	assert.Equal(t, timeout, opts.HeartbeatTimeout)
}

func TestDefaultValues(t *testing.T) {
	opts := ApplyOptions()

	// Verify default values are preserved when no options are provided
	assert.Equal(t, 2*time.Minute, opts.HeartbeatTimeout)
	assert.NotNil(t, opts.Logger)
	assert.NotNil(t, opts.Metrics)
	assert.NotNil(t, opts.Clock)
}

func TestWithLoggerNil(t *testing.T) {
	opts := ApplyOptions(WithLogger(nil), WithClock(nil))

	assert.NotNil(t, opts.Logger)
	assert.NotNil(t, opts.Clock)
}

func TestOptions_IsStale(t *testing.T) {
	clk := clock.NewMock()
	opts := ApplyOptions(WithClock(clk), WithHeartbeatTimeout(time.Minute))

	hb := clk.Now()
	assert.False(t, opts.IsStale(&hb))

	clk.Add(59 * time.Second)
	assert.False(t, opts.IsStale(&hb))

	clk.Add(time.Second)
	assert.True(t, opts.IsStale(&hb))

	assert.True(t, opts.IsStale(nil))
}
