package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Counting instruments the annual counting plan operations.
// All methods are no-ops on a nil *Counting.
type Counting struct {
	plansCreated      prometheus.Counter
	recordsSubmitted  *prometheus.CounterVec
	periodsConfirmed  prometheus.Counter
	assetsDeactivated prometheus.Counter
	assetsAssigned    *prometheus.CounterVec
	rejected          *prometheus.CounterVec
}

// NewCounting creates and registers the counting collectors.
// reg defaults to prometheus.DefaultRegisterer when nil.
func NewCounting(reg prometheus.Registerer, namespace string) *Counting {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "assets"
	}

	c := &Counting{
		plansCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "counting",
			Name:      "plans_created_total",
			Help:      "Annual counting plans created.",
		}),
		recordsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "counting",
			Name:      "records_submitted_total",
			Help:      "Count records submitted, by found flag.",
		}, []string{"found"}),
		periodsConfirmed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "counting",
			Name:      "periods_confirmed_total",
			Help:      "Counting periods confirmed.",
		}),
		assetsDeactivated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "counting",
			Name:      "assets_deactivated_total",
			Help:      "Assets deactivated by period confirmation.",
		}),
		assetsAssigned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "counting",
			Name:      "assets_assigned_total",
			Help:      "Assets assigned into periods after plan creation, by source.",
		}, []string{"source"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "counting",
			Name:      "rejected_operations_total",
			Help:      "Rejected counting operations by operation and reason code.",
		}, []string{"op", "reason"}),
	}

	reg.MustRegister(
		c.plansCreated,
		c.recordsSubmitted,
		c.periodsConfirmed,
		c.assetsDeactivated,
		c.assetsAssigned,
		c.rejected,
	)

	return c
}

func (c *Counting) PlanCreated() {
	if c == nil {
		return
	}
	c.plansCreated.Inc()
}

func (c *Counting) RecordSubmitted(found bool) {
	if c == nil {
		return
	}
	label := "false"
	if found {
		label = "true"
	}
	c.recordsSubmitted.WithLabelValues(label).Inc()
}

func (c *Counting) PeriodConfirmed(deactivated int) {
	if c == nil {
		return
	}
	c.periodsConfirmed.Inc()
	c.assetsDeactivated.Add(float64(deactivated))
}

// AssetsAssigned counts late assignments; source is "redistribution" or "hook".
func (c *Counting) AssetsAssigned(source string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.assetsAssigned.WithLabelValues(source).Add(float64(n))
}

func (c *Counting) Rejected(op string, reason string) {
	if c == nil {
		return
	}
	if reason == "" {
		reason = "internal"
	}
	c.rejected.WithLabelValues(op, reason).Inc()
}
