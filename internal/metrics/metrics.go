// Package metrics records module loading activity with Prometheus collectors.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Rejection reasons used as label values.
const (
	ReasonIdentity   = "identity"
	ReasonDuplicate  = "duplicate"
	ReasonStaticSlot = "static_slot"
	ReasonAnnotation = "annotation"
	ReasonPanic      = "panic"
)

// Recorder holds the collectors. A nil Recorder records nothing.
type Recorder struct {
	loads         *prometheus.CounterVec
	loadDuration  prometheus.Observer
	rejected      *prometheus.CounterVec
	operatorTypes *prometheus.GaugeVec
	teardowns     prometheus.Counter
}

var (
	defaultOnce sync.Once
	defaultInst *Recorder
)

// Default returns the process-wide recorder registered with the default
// Prometheus registry.
func Default() *Recorder {
	defaultOnce.Do(func() {
		defaultInst = New(prometheus.DefaultRegisterer)
	})
	return defaultInst
}

// New creates a recorder whose collectors are registered with reg.
func New(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		loads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opreg",
			Subsystem: "module",
			Name:      "loads_total",
			Help:      "Module type loads, labeled by module and result",
		}, []string{"module", "result"}),
		loadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "opreg",
			Subsystem: "module",
			Name:      "load_duration_seconds",
			Help:      "Duration of module type loads",
			Buckets:   prometheus.DefBuckets,
		}),
		rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opreg",
			Subsystem: "module",
			Name:      "rejected_types_total",
			Help:      "Operator types or slots rejected during extraction, labeled by module and reason",
		}, []string{"module", "reason"}),
		operatorTypes: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "opreg",
			Subsystem: "module",
			Name:      "operator_types",
			Help:      "Operator types currently registered per module",
		}, []string{"module"}),
		teardowns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "opreg",
			Subsystem: "scope",
			Name:      "teardowns_total",
			Help:      "Load scopes torn down by their owner",
		}),
	}
}

// StartLoad begins timing a load and returns the function completing it.
func (r *Recorder) StartLoad(module string) func(success bool, types int) {
	if r == nil {
		return func(bool, int) {}
	}
	timer := prometheus.NewTimer(r.loadDuration)
	return func(success bool, types int) {
		timer.ObserveDuration()
		result := "success"
		if !success {
			result = "failure"
		}
		r.loads.WithLabelValues(module, result).Inc()
		r.operatorTypes.WithLabelValues(module).Set(float64(types))
	}
}

// Rejected counts one rejected type or slot.
func (r *Recorder) Rejected(module, reason string) {
	if r == nil {
		return
	}
	r.rejected.WithLabelValues(module, reason).Inc()
}

// Unloaded resets the registry size of module.
func (r *Recorder) Unloaded(module string) {
	if r == nil {
		return
	}
	r.operatorTypes.WithLabelValues(module).Set(0)
}

// ScopeTornDown counts a scope teardown.
func (r *Recorder) ScopeTornDown() {
	if r == nil {
		return
	}
	r.teardowns.Inc()
}

// LoadCount returns the load counter for tests and diagnostics.
func (r *Recorder) LoadCount(module, result string) prometheus.Counter {
	return r.loads.WithLabelValues(module, result)
}

// RejectedCount returns the rejection counter for tests and diagnostics.
func (r *Recorder) RejectedCount(module, reason string) prometheus.Counter {
	return r.rejected.WithLabelValues(module, reason)
}

// OperatorTypes returns the registry size gauge of module.
func (r *Recorder) OperatorTypes(module string) prometheus.Gauge {
	return r.operatorTypes.WithLabelValues(module)
}

// Teardowns returns the teardown counter.
func (r *Recorder) Teardowns() prometheus.Counter {
	return r.teardowns
}
