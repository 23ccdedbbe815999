package metrics

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/cschleiden/go-scaffolder/backend/metrics"
)

type Timer struct {
	client metrics.Client
	clock  clock.Clock
	start  time.Time
	name   string
	tags   metrics.Tags
}

func NewTimer(client metrics.Client, clk clock.Clock, name string, tags metrics.Tags) *Timer {
	if clk == nil {
		clk = clock.New()
	}

	return &Timer{
		client: client,
		clock:  clk,
		start:  clk.Now(),
		name:   name,
		tags:   tags,
	}
}

func (t *Timer) Start() time.Time {
	return t.start
}

// Stop the timer and report the elapsed time
func (t *Timer) Stop() {
	t.client.Timing(t.name, t.tags, t.clock.Since(t.start))
}
