// Package metrics holds Spotline's Prometheus collectors.
//
// All recording methods are safe on a nil *Metrics, so components can take metrics as an
// optional dependency.
package metrics

import (
	"net/http"
	"time"

	"spotline/cmd/internal/fault"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "spotline"

// Metrics owns a private registry and the application collectors.
type Metrics struct {
	registry *prometheus.Registry

	invitations  *prometheus.CounterVec
	expired      prometheus.Counter
	wsConns      prometheus.Gauge
	chatMessages *prometheus.CounterVec
	mail         *prometheus.CounterVec
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New builds and registers every collector, plus the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		invitations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invitations_total",
			Help:      "Invitation operations by operation and result code.",
		}, []string{"op", "result"}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invitations_expired_total",
			Help:      "Link invitations moved to EXPIRED by the sweeper.",
		}),
		wsConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections",
			Help:      "Open chat WebSocket connections.",
		}),
		chatMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_messages_total",
			Help:      "Chat messages persisted, by transport.",
		}, []string{"transport"}),
		mail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mail_total",
			Help:      "Outgoing mail by delivery result.",
		}, []string{"result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route pattern and status class.",
		}, []string{"method", "route", "status_class"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by method and route pattern.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"method", "route"}),
	}
	m.registry.MustRegister(
		m.invitations,
		m.expired,
		m.wsConns,
		m.chatMessages,
		m.mail,
		m.httpRequests,
		m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Invitation counts one invitation operation. The result is "ok" or the error's reason code.
func (m *Metrics) Invitation(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = fault.CodeOf(err)
		if result == "" {
			result = "error"
		}
	}
	m.invitations.WithLabelValues(op, result).Inc()
}

// InvitationsExpired adds n sweeper expirations.
func (m *Metrics) InvitationsExpired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.expired.Add(float64(n))
}

// WSConnected tracks the open chat connection count.
func (m *Metrics) WSConnected(delta int) {
	if m == nil {
		return
	}
	m.wsConns.Add(float64(delta))
}

// ChatMessage counts one persisted chat message ("ws" or "http").
func (m *Metrics) ChatMessage(transport string) {
	if m == nil {
		return
	}
	m.chatMessages.WithLabelValues(transport).Inc()
}

// MailResult counts one mail delivery outcome.
func (m *Metrics) MailResult(result string) {
	if m == nil {
		return
	}
	m.mail.WithLabelValues(result).Inc()
}

// HTTPRequest records one served request.
func (m *Metrics) HTTPRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(method, route, StatusClass(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// StatusClass maps 200 to "2xx", 404 to "4xx" and so on.
func StatusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
