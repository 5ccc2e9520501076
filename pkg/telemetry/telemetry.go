// Package telemetry keeps lightweight in-process counters and stage
// timings for the gateway. A hosted metrics backend is deliberately not
// wired; the snapshot feeds the health endpoint.
package telemetry

import "sync"

type timing struct {
	Count int64   `json:"count"`
	SumMs float64 `json:"sum_ms"`
}

// Client records counters and timings. All methods are safe on a nil
// receiver so callers can run without telemetry.
type Client struct {
	mu       sync.Mutex
	counters map[string]int64
	timings  map[string]*timing
}

func New() *Client {
	return &Client{
		counters: make(map[string]int64),
		timings:  make(map[string]*timing),
	}
}

// Incr bumps a named counter.
func (c *Client) Incr(name string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.counters[name]++
	c.mu.Unlock()
}

// Observe records one duration sample for a named stage.
func (c *Client) Observe(name string, ms float64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	t, ok := c.timings[name]
	if !ok {
		t = &timing{}
		c.timings[name] = t
	}
	t.Count++
	t.SumMs += ms
	c.mu.Unlock()
}

// Snapshot returns a copy of all counters and timings.
func (c *Client) Snapshot() map[string]any {
	if c == nil {
		return map[string]any{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	counters := make(map[string]int64, len(c.counters))
	for k, v := range c.counters {
		counters[k] = v
	}
	timings := make(map[string]timing, len(c.timings))
	for k, v := range c.timings {
		timings[k] = *v
	}
	return map[string]any{
		"counters": counters,
		"timings":  timings,
	}
}
