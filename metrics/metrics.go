// Package metrics holds the Prometheus collectors for runs driven by the
// runner package.
package metrics

import (
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Run tracks worker activity across a run.
type Run struct {
	// Produced counts items handed to a channel or queue.
	Produced prometheus.Counter
	// Consumed counts items taken out of a channel or queue.
	Consumed prometheus.Counter
	// Cycles counts completed arbiter cycles.
	Cycles prometheus.Counter
	// Workers reports the number of running worker goroutines.
	Workers prometheus.Gauge
	// Duration observes how long each run took.
	Duration prometheus.Histogram
}

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// NewRun creates run collectors and registers them on reg.
func NewRun(reg prometheus.Registerer) *Run {
	m := &Run{
		Produced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coord_items_produced_total",
			Help: "Total number of items produced by workers",
		}),
		Consumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coord_items_consumed_total",
			Help: "Total number of items consumed by workers",
		}),
		Cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coord_worker_cycles_total",
			Help: "Total number of completed arbiter cycles",
		}),
		Workers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coord_workers",
			Help: "Current number of running workers",
		}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "coord_run_duration_seconds",
			Help:    "Duration of runs",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.Produced, m.Consumed, m.Cycles, m.Workers, m.Duration)
	return m
}

// Sample is one gathered metric value.
type Sample struct {
	Name  string
	Value float64
}

// Snapshot gathers g and flattens counters and gauges to their summed values
// and histograms to their sample counts, sorted by name.
func Snapshot(g prometheus.Gatherer) ([]Sample, error) {
	mfs, err := g.Gather()
	if err != nil {
		return nil, err
	}

	out := make([]Sample, 0, len(mfs))
	for _, mf := range mfs {
		var v float64
		for _, m := range mf.GetMetric() {
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				v += m.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				v += m.GetGauge().GetValue()
			case dto.MetricType_HISTOGRAM:
				v += float64(m.GetHistogram().GetSampleCount())
			}
		}
		out = append(out, Sample{Name: mf.GetName(), Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
