package observ

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the process counters exposed on /metrics. One instance
// is created at startup and shared by both TCP servers.
type Metrics struct {
	Logins             *prometheus.CounterVec
	Sales              prometheus.Counter
	OversellRejections prometheus.Counter
	ChatPairings       prometheus.Counter
	ActiveSessions     prometheus.Gauge
	ActiveChats        prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shopnet",
			Name:      "logins_total",
			Help:      "Login attempts by outcome.",
		}, []string{"outcome"}),
		Sales: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shopnet",
			Name:      "sales_total",
			Help:      "Completed sales.",
		}),
		OversellRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shopnet",
			Name:      "oversell_rejections_total",
			Help:      "Sales rejected for insufficient stock.",
		}),
		ChatPairings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shopnet",
			Name:      "chat_pairings_total",
			Help:      "Chat requests successfully paired.",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "shopnet",
			Name:      "active_sessions",
			Help:      "Live store sessions.",
		}),
		ActiveChats: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "shopnet",
			Name:      "active_conversations",
			Help:      "Active chat conversations.",
		}),
	}
	reg.MustRegister(
		m.Logins, m.Sales, m.OversellRejections,
		m.ChatPairings, m.ActiveSessions, m.ActiveChats,
	)
	return m
}
