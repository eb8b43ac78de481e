// Package gmetrics exposes the GC worker's observability surface — a
// numeric pending_gc_events gauge and a boolean running flag — backed
// by rcrowley/go-metrics.
package gmetrics

import "github.com/rcrowley/go-metrics"

// GCGauges holds the pair of gauges registered for one FCMap root. Each
// FCMap gets its own private registry (never metrics.DefaultRegistry)
// so that multiple roots in one process never collide on gauge names.
type GCGauges struct {
	registry metrics.Registry
	pending  metrics.Gauge
	running  metrics.Gauge
}

// NewGCGauges creates and registers the pair of gauges in a fresh,
// private registry.
func NewGCGauges() *GCGauges {
	reg := metrics.NewRegistry()
	g := &GCGauges{
		registry: reg,
		pending:  metrics.NewGauge(),
		running:  metrics.NewGauge(),
	}
	reg.Register("pending_gc_events", g.pending)
	reg.Register("running", g.running)
	return g
}

// SetPending updates the pending_gc_events gauge.
func (g *GCGauges) SetPending(n int64) { g.pending.Update(n) }

// Pending reads the current pending_gc_events value.
func (g *GCGauges) Pending() int64 { return g.pending.Value() }

// SetRunning updates the running flag (1 for true, 0 for false).
func (g *GCGauges) SetRunning(running bool) {
	if running {
		g.running.Update(1)
		return
	}
	g.running.Update(0)
}

// Running reports the current running flag.
func (g *GCGauges) Running() bool { return g.running.Value() != 0 }

// Registry exposes the private go-metrics registry backing these
// gauges, for a caller that wants to fold it into its own reporting
// (e.g. a periodic metrics.WriteOnce/graphite exporter upstream).
func (g *GCGauges) Registry() metrics.Registry { return g.registry }
