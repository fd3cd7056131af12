package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SchedulingMetrics exposes counters/histograms for the booking core.
type SchedulingMetrics struct {
	appCalls        *prometheus.CounterVec
	appCallLatency  *prometheus.HistogramVec
	availability    *prometheus.CounterVec
	appointments    *prometheus.CounterVec
	hookQueueDrops  prometheus.Counter
	reminders       *prometheus.CounterVec
	webhookRequests *prometheus.CounterVec
}

func NewSchedulingMetrics(reg prometheus.Registerer) *SchedulingMetrics {
	m := &SchedulingMetrics{
		appCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medspa",
			Subsystem: "scheduling",
			Name:      "app_calls_total",
			Help:      "Connected app invocations by operation and outcome",
		}, []string{"operation", "outcome"}),
		appCallLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "medspa",
			Subsystem: "scheduling",
			Name:      "app_call_latency_seconds",
			Help:      "Latency of connected app invocations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		availability: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medspa",
			Subsystem: "scheduling",
			Name:      "availability_requests_total",
			Help:      "Availability computations by degraded flag",
		}, []string{"degraded"}),
		appointments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medspa",
			Subsystem: "scheduling",
			Name:      "appointment_writes_total",
			Help:      "Appointment lifecycle writes by action and result",
		}, []string{"action", "result"}),
		hookQueueDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "medspa",
			Subsystem: "scheduling",
			Name:      "hook_queue_dropped_total",
			Help:      "Hook events dropped because the dispatch queue was full",
		}),
		reminders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medspa",
			Subsystem: "scheduling",
			Name:      "reminders_total",
			Help:      "Reminder sends by channel and outcome",
		}, []string{"channel", "outcome"}),
		webhookRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medspa",
			Subsystem: "scheduling",
			Name:      "app_webhook_requests_total",
			Help:      "Inbound app webhooks by result",
		}, []string{"result"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.appCalls, m.appCallLatency, m.availability, m.appointments, m.hookQueueDrops, m.reminders, m.webhookRequests)
	return m
}

// ObserveAppCall records one isolated call into a connected app.
func (m *SchedulingMetrics) ObserveAppCall(operation string, err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.appCalls.WithLabelValues(operation, outcome).Inc()
	m.appCallLatency.WithLabelValues(operation).Observe(d.Seconds())
}

func (m *SchedulingMetrics) ObserveAvailability(degraded bool) {
	if m == nil {
		return
	}
	label := "false"
	if degraded {
		label = "true"
	}
	m.availability.WithLabelValues(label).Inc()
}

func (m *SchedulingMetrics) ObserveAppointmentWrite(action, result string) {
	if m == nil {
		return
	}
	m.appointments.WithLabelValues(action, result).Inc()
}

func (m *SchedulingMetrics) ObserveHookDrop() {
	if m == nil {
		return
	}
	m.hookQueueDrops.Inc()
}

func (m *SchedulingMetrics) ObserveReminder(channel, outcome string) {
	if m == nil {
		return
	}
	m.reminders.WithLabelValues(channel, outcome).Inc()
}

func (m *SchedulingMetrics) ObserveWebhook(result string) {
	if m == nil {
		return
	}
	m.webhookRequests.WithLabelValues(result).Inc()
}
