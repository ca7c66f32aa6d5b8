package metrics

import "github.com/prometheus/client_golang/prometheus"

// LifecycleMetrics exposes counters for appointment lifecycle flows. A nil
// *LifecycleMetrics is valid and records nothing.
type LifecycleMetrics struct {
	transitions   *prometheus.CounterVec
	reservations  *prometheus.CounterVec
	payments      *prometheus.CounterVec
	notifications *prometheus.CounterVec
}

func NewLifecycleMetrics(reg prometheus.Registerer) *LifecycleMetrics {
	m := &LifecycleMetrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "appointments",
			Name:      "operations_total",
			Help:      "Lifecycle operations by outcome kind",
		}, []string{"operation", "outcome"}),
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "appointments",
			Name:      "slot_reservations_total",
			Help:      "Slot hold attempts by outcome",
		}, []string{"outcome"}),
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "payments",
			Name:      "attempts_total",
			Help:      "Payment attempts by method and outcome",
		}, []string{"method", "outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "notifications",
			Name:      "events_total",
			Help:      "Notification persistence and delivery results",
		}, []string{"stage", "outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.transitions, m.reservations, m.payments, m.notifications)
	return m
}

func (m *LifecycleMetrics) ObserveOperation(operation, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(operation, outcome).Inc()
}

func (m *LifecycleMetrics) ObserveReservation(outcome string) {
	if m == nil {
		return
	}
	m.reservations.WithLabelValues(outcome).Inc()
}

func (m *LifecycleMetrics) ObservePayment(method, outcome string) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(method, outcome).Inc()
}

// ObserveNotification counts a notification at stage "persist" or "deliver".
func (m *LifecycleMetrics) ObserveNotification(stage, outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(stage, outcome).Inc()
}
