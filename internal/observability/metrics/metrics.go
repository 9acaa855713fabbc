package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"
)

// Metrics exposes application-level instruments.
type Metrics struct {
	registry *prometheus.Registry

	webhookEventsReceived *prometheus.CounterVec
	webhookEventsDeduped  prometheus.Counter
	webhookEventsFailed   *prometheus.CounterVec
	purchasesRecorded     *prometheus.CounterVec
	entitlementsConsumed  *prometheus.CounterVec
	httpDuration          *prometheus.HistogramVec
}

// New configures the domain metrics instruments on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,
		webhookEventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inkwell_webhook_events_received_total",
			Help: "Webhook deliveries accepted after signature verification.",
		}, []string{"event_type"}),
		webhookEventsDeduped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inkwell_webhook_events_deduplicated_total",
			Help: "Redeliveries short-circuited by the event ledger.",
		}),
		webhookEventsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inkwell_webhook_events_failed_total",
			Help: "Webhook deliveries whose business handler failed.",
		}, []string{"event_type"}),
		purchasesRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inkwell_purchases_recorded_total",
			Help: "Completed content acquisitions.",
		}, []string{"item_type"}),
		entitlementsConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inkwell_entitlements_consumed_total",
			Help: "Allowance units consumed, by allowance kind.",
		}, []string{"kind"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "inkwell_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
	}

	registry.MustRegister(
		m.webhookEventsReceived,
		m.webhookEventsDeduped,
		m.webhookEventsFailed,
		m.purchasesRecorded,
		m.entitlementsConsumed,
		m.httpDuration,
	)

	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RecordWebhookEvent(eventType string) {
	if m == nil {
		return
	}
	m.webhookEventsReceived.WithLabelValues(normalizeLabel(eventType)).Inc()
}

func (m *Metrics) RecordWebhookDeduplicated() {
	if m == nil {
		return
	}
	m.webhookEventsDeduped.Inc()
}

func (m *Metrics) RecordWebhookFailed(eventType string) {
	if m == nil {
		return
	}
	m.webhookEventsFailed.WithLabelValues(normalizeLabel(eventType)).Inc()
}

func (m *Metrics) RecordPurchase(itemType string) {
	if m == nil {
		return
	}
	m.purchasesRecorded.WithLabelValues(normalizeLabel(itemType)).Inc()
}

func (m *Metrics) RecordEntitlementConsumed(kind string) {
	if m == nil {
		return
	}
	m.entitlementsConsumed.WithLabelValues(normalizeLabel(kind)).Inc()
}

// GinMiddleware records request latency per route.
func GinMiddleware(m *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if strings.TrimSpace(route) == "" {
			route = "unknown"
		}
		m.httpDuration.WithLabelValues(
			route,
			c.Request.Method,
			strconv.Itoa(c.Writer.Status()),
		).Observe(time.Since(start).Seconds())
	}
}

func normalizeLabel(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	return value
}

var Module = fx.Module("observability.metrics",
	fx.Provide(New),
)
