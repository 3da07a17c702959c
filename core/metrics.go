package core

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes engine counters to Prometheus. A nil *Metrics is a no-op.
type Metrics struct {
	Frames *prometheus.CounterVec

	// Dispatches counts dissector invocations.
	// Labels: protocol
	Dispatches *prometheus.CounterVec

	// Annotations counts flagged fields.
	// Labels: severity, code
	Annotations *prometheus.CounterVec

	// Reassembly counts reassembly transitions.
	// Labels: event=[opened, completed, abandoned]
	Reassembly *prometheus.CounterVec

	PendingReassemblies prometheus.Gauge
}

var (
	defaultMetricsOnce     sync.Once
	defaultMetricsInstance *Metrics
)

// NewMetrics creates the engine metrics and registers them with registerer.
// A nil registerer uses the default Prometheus registry, registered once per
// process.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultMetricsOnce.Do(func() {
			defaultMetricsInstance = newMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetricsInstance
	}
	return newMetrics(registerer)
}

func newMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		Frames: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vdissect_frames_total",
				Help: "Frames handed to the dispatcher by result",
			},
			[]string{"result"},
		),
		Dispatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vdissect_dispatches_total",
				Help: "Dissector invocations by protocol",
			},
			[]string{"protocol"},
		),
		Annotations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vdissect_annotations_total",
				Help: "Annotated fields by severity and code",
			},
			[]string{"severity", "code"},
		),
		Reassembly: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vdissect_reassembly_events_total",
				Help: "Reassembly state transitions",
			},
			[]string{"event"},
		),
		PendingReassemblies: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "vdissect_reassembly_pending",
				Help: "Messages currently waiting for more frames",
			},
		),
	}
	registerer.MustRegister(m.Frames, m.Dispatches, m.Annotations, m.Reassembly, m.PendingReassemblies)
	return m
}

func (m *Metrics) frame(result string) {
	if m == nil {
		return
	}
	m.Frames.WithLabelValues(result).Inc()
}

func (m *Metrics) dispatched(protocol string) {
	if m == nil {
		return
	}
	m.Dispatches.WithLabelValues(protocol).Inc()
}

func (m *Metrics) annotations(tree *Field) {
	if m == nil || tree == nil {
		return
	}
	for _, f := range tree.Annotations() {
		m.Annotations.WithLabelValues(f.Annotation.Severity.String(), f.Annotation.Code.String()).Inc()
	}
}

func (m *Metrics) reassembly(event string, pendingDelta float64) {
	if m == nil {
		return
	}
	m.Reassembly.WithLabelValues(event).Inc()
	m.PendingReassemblies.Add(pendingDelta)
}
