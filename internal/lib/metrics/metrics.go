// Package metrics holds the Prometheus collectors of the auth service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	ResultOK = "ok"
)

// Metrics counts authentication outcomes. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	logins      *prometheus.CounterVec
	refreshes   *prometheus.CounterVec
	registers   *prometheus.CounterVec
	updates     *prometheus.CounterVec
	onlineUsers prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		logins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "auth",
				Name:      "logins_total",
				Help:      "Login attempts by result.",
			},
			[]string{"result"},
		),
		refreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "auth",
				Name:      "refreshes_total",
				Help:      "Refresh token rotations by result.",
			},
			[]string{"result"},
		),
		registers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "auth",
				Name:      "registrations_total",
				Help:      "Registration attempts by result.",
			},
			[]string{"result"},
		),
		updates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "auth",
				Name:      "profile_updates_total",
				Help:      "Password and display name changes by field and result.",
			},
			[]string{"field", "result"},
		),
		onlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "auth",
			Name:      "online_users",
			Help:      "Distinct users currently present.",
		}),
	}

	reg.MustRegister(m.logins, m.refreshes, m.registers, m.updates, m.onlineUsers)

	return m
}

func (m *Metrics) Login(result string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(result).Inc()
}

func (m *Metrics) Refresh(result string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) Register(result string) {
	if m == nil {
		return
	}
	m.registers.WithLabelValues(result).Inc()
}

func (m *Metrics) ProfileUpdate(field, result string) {
	if m == nil {
		return
	}
	m.updates.WithLabelValues(field, result).Inc()
}

func (m *Metrics) OnlineUsers(n int) {
	if m == nil {
		return
	}
	m.onlineUsers.Set(float64(n))
}

// Handler exposes the collectors gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
