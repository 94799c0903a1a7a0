package gallery

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const outcomeOK = "ok"

// Metrics records gallery operation outcomes. A nil *Metrics records nothing.
type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	planSteps  prometheus.Histogram
}

// NewMetrics registers the gallery collectors on registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gallery_operations_total",
				Help: "Gallery operations by outcome",
			},
			[]string{"operation", "outcome"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gallery_operation_duration_seconds",
				Help:    "Gallery operation latency",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"operation"},
		),
		planSteps: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gallery_plan_steps",
				Help:    "Single-row updates issued per reorder plan",
				Buckets: prometheus.ExponentialBuckets(2, 2, 10),
			},
		),
	}
}

// observe records one operation. started must come from time.Now, not an injected clock.
func (m *Metrics) observe(operation string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, outcomeOf(err)).Inc()
	m.duration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

func (m *Metrics) observePlan(plan Plan) {
	if m == nil || plan.Empty() {
		return
	}
	m.planSteps.Observe(float64(len(plan.Steps)))
}

func outcomeOf(err error) string {
	if err == nil {
		return outcomeOK
	}
	switch kind := KindOf(err); {
	case errors.Is(kind, ErrValidation):
		return "validation"
	case errors.Is(kind, ErrNotFound):
		return "not_found"
	case errors.Is(kind, ErrConstraintViolation):
		return "constraint_violation"
	case errors.Is(kind, ErrConflictRetryable):
		return "conflict"
	case errors.Is(kind, ErrUpstreamFailure):
		return "upstream_failure"
	case errors.Is(kind, ErrForbidden):
		return "forbidden"
	default:
		return "internal"
	}
}
