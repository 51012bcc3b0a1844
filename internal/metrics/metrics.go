// Package metrics exports remindd activity as Prometheus collectors fed
// from the event bus.
package metrics

import (
	"context"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"remindd/internal/eventbus"
)

const namespace = "remindd"

type Metrics struct {
	reg *prometheus.Registry

	remindersCreated   *prometheus.CounterVec
	offsets            *prometheus.CounterVec
	remindersCancelled prometheus.Counter
	contentFallbacks   *prometheus.CounterVec
	triggersFired      prometheus.Counter
	deliveries         *prometheus.CounterVec
	deliveryAttempts   *prometheus.HistogramVec
	deliveryDuration   *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry, plus the Go and process
// collectors. The bus drop counter is exported when bus is non-nil.
func New(bus eventbus.Bus) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		remindersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reminder",
			Name:      "created_total",
			Help:      "Reminder tasks created, by resulting status.",
		}, []string{"status"}),
		offsets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reminder",
			Name:      "offsets_total",
			Help:      "Offset registrations, by offset and outcome.",
		}, []string{"offset", "outcome"}),
		remindersCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reminder",
			Name:      "cancelled_total",
			Help:      "Reminder tasks cancelled.",
		}),
		contentFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "content",
			Name:      "fallback_total",
			Help:      "Times the template text replaced generated content.",
		}, []string{"provider", "reason"}),
		triggersFired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trigger",
			Name:      "fired_total",
			Help:      "Local triggers that reached their fire time.",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "total",
			Help:      "Delivery outcomes, by sink and result.",
		}, []string{"sink", "result"}),
		deliveryAttempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "attempts",
			Help:      "Attempts needed per delivery.",
			Buckets:   []float64{1, 2, 3, 5, 8},
		}, []string{"sink"}),
		deliveryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "duration_seconds",
			Help:      "Wall time per delivery including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"sink"}),
	}
	reg.MustRegister(
		m.remindersCreated, m.offsets, m.remindersCancelled, m.contentFallbacks,
		m.triggersFired, m.deliveries, m.deliveryAttempts, m.deliveryDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if bus != nil {
		reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eventbus",
			Name:      "dropped_total",
			Help:      "Events dropped because a subscriber was full.",
		}, func() float64 { return float64(eventbus.Dropped(bus)) }))
	}
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// GaugeFunc exports fn as a gauge. Used for values owned by other components.
func (m *Metrics) GaugeFunc(subsystem, name, help string, fn func() float64) {
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, fn))
}

// Run consumes bus events until ctx is done.
func (m *Metrics) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			m.Observe(e)
		}
	}
}

func (m *Metrics) Observe(e eventbus.Event) {
	switch e.Type {
	case eventbus.ReminderCreated:
		if d, ok := e.Data.(eventbus.ReminderEvent); ok {
			m.remindersCreated.WithLabelValues(d.Status).Inc()
		}
	case eventbus.ReminderOffset:
		if d, ok := e.Data.(eventbus.OffsetEvent); ok {
			m.offsets.WithLabelValues(d.Offset, d.Outcome).Inc()
		}
	case eventbus.ReminderCancelled:
		m.remindersCancelled.Inc()
	case eventbus.ContentFallback:
		if d, ok := e.Data.(eventbus.ContentEvent); ok {
			m.contentFallbacks.WithLabelValues(orNone(d.Provider), d.Reason).Inc()
		}
	case eventbus.TriggerFired:
		m.triggersFired.Inc()
	case eventbus.DeliverySent, eventbus.DeliveryFailed:
		d, ok := e.Data.(eventbus.DeliveryEvent)
		if !ok {
			return
		}
		result := "sent"
		if e.Type == eventbus.DeliveryFailed {
			result = "failed"
		}
		m.deliveries.WithLabelValues(d.Sink, result).Inc()
		m.deliveryAttempts.WithLabelValues(d.Sink).Observe(float64(d.Attempts))
		m.deliveryDuration.WithLabelValues(d.Sink).Observe(d.Duration.Seconds())
	}
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "none"
	}
	return s
}
