package reservation

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects reconciliation statistics. A nil *Metrics is valid and
// records nothing
type Metrics struct {
	reconciles *prometheus.CounterVec
	duration   prometheus.Histogram
	operations *prometheus.CounterVec
}

// NewMetrics creates the reconciliation metrics and registers them at reg.
// Collectors that are already registered are reused so multiple engines
// may share one registry
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		reconciles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "omapi_reconcile_total",
			Help: "Counter of reservation reconciliations by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "omapi_reconcile_duration_seconds",
			Help:    "Histogram of the time (in seconds) each reconciliation took.",
			Buckets: prometheus.DefBuckets,
		}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "omapi_operations_total",
			Help: "Counter of OMAPI object operations by operation and result.",
		}, []string{"op", "result"}),
	}

	if reg == nil {
		return m, nil
	}

	var err error
	if m.reconciles, err = register(reg, m.reconciles); err != nil {
		return nil, err
	}
	if m.duration, err = register(reg, m.duration); err != nil {
		return nil, err
	}
	if m.operations, err = register(reg, m.operations); err != nil {
		return nil, err
	}

	return m, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *Metrics) observe(o Outcome, d time.Duration) {
	if m == nil {
		return
	}

	m.reconciles.WithLabelValues(o.String()).Inc()
	m.duration.Observe(d.Seconds())
}

func (m *Metrics) operation(op, result string) {
	if m == nil {
		return
	}

	m.operations.WithLabelValues(op, result).Inc()
}
