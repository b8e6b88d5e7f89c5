// Package metrics provides the Prometheus collector for the configstore
// server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"lunchbadger/configstore/pkg/config"
)

// Collector owns the Prometheus registry and every metric the server
// records. A nil *Collector is valid and records nothing, so callers
// never have to branch on whether metrics are enabled.
type Collector struct {
	registry *prometheus.Registry

	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	transactions  *prometheus.CounterVec
	gitServices   *prometheus.HistogramVec
	pushEvents    prometheus.Counter
	pushChanges   prometheus.Counter
	subscribers   prometheus.Gauge
	auditWrites   prometheus.Counter
	auditFailures prometheus.Counter
}

// NewCollector creates a collector with its own registry.
func NewCollector(cfg *config.MetricsConfig) *Collector {
	ns := cfg.Namespace
	c := &Collector{
		registry: prometheus.NewRegistry(),

		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "http_requests_total",
			Help:      "REST and Git HTTP requests by route and status code.",
		}, []string{"route", "code"}),

		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration by route.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"route"}),

		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "transactions_total",
			Help:      "Write transactions by outcome (commit, noop, conflict, locked, error).",
		}, []string{"outcome"}),

		gitServices: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "git_service_duration_seconds",
			Help:      "Duration of spawned git-upload-pack/git-receive-pack helpers.",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 15, 60},
		}, []string{"service", "result"}),

		pushEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "push_events_published_total",
			Help:      "Push events published on the event bus.",
		}),

		pushChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "push_ref_changes_total",
			Help:      "Individual ref updates carried by push events.",
		}),

		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "change_stream_subscribers",
			Help:      "Currently connected change-stream subscribers.",
		}),

		auditWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "audit_writes_total",
			Help:      "Audit trail rows written.",
		}),

		auditFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "audit_write_failures_total",
			Help:      "Audit trail writes that failed.",
		}),
	}

	c.registry.MustRegister(
		c.httpRequests, c.httpDuration, c.transactions, c.gitServices,
		c.pushEvents, c.pushChanges, c.subscribers,
		c.auditWrites, c.auditFailures,
	)
	return c
}

// ObserveHTTPRequest records one served HTTP request.
func (c *Collector) ObserveHTTPRequest(route string, code int, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(route, httpCode(code)).Inc()
	c.httpDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// ObserveTransaction records a write transaction outcome.
func (c *Collector) ObserveTransaction(outcome string) {
	if c == nil {
		return
	}
	c.transactions.WithLabelValues(outcome).Inc()
}

// ObserveGitService records a finished git helper process.
func (c *Collector) ObserveGitService(service string, success bool, duration time.Duration) {
	if c == nil {
		return
	}
	result := "ok"
	if !success {
		result = "error"
	}
	c.gitServices.WithLabelValues(service, result).Observe(duration.Seconds())
}

// ObservePushEvent records one published push event and its changes.
func (c *Collector) ObservePushEvent(changes int) {
	if c == nil {
		return
	}
	c.pushEvents.Inc()
	c.pushChanges.Add(float64(changes))
}

// SubscriberConnected / SubscriberDisconnected track the live gauge.
func (c *Collector) SubscriberConnected() {
	if c == nil {
		return
	}
	c.subscribers.Inc()
}

func (c *Collector) SubscriberDisconnected() {
	if c == nil {
		return
	}
	c.subscribers.Dec()
}

// ObserveAuditWrite records an audit row write attempt.
func (c *Collector) ObserveAuditWrite(err error) {
	if c == nil {
		return
	}
	if err != nil {
		c.auditFailures.Inc()
		return
	}
	c.auditWrites.Inc()
}

func httpCode(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
