package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the chat counters and the HTTP latency histogram on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	schemaRepairs *prometheus.CounterVec
	messagesSent  *prometheus.CounterVec
	syncs         prometheus.Counter
	syncedConvs   prometheus.Histogram
	linksRepaired prometheus.Counter
	httpDuration  *prometheus.HistogramVec
	outboxEvents  *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		schemaRepairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rentchat",
			Name:      "schema_repairs_total",
			Help:      "Chat schema provisioning attempts triggered by missing relations, by outcome.",
		}, []string{"outcome"}),
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rentchat",
			Name:      "messages_sent_total",
			Help:      "Messages stored, split by whether the send opened a conversation.",
		}, []string{"new_conversation"}),
		syncs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rentchat",
			Name:      "syncs_total",
			Help:      "Completed inbox syncs.",
		}),
		syncedConvs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rentchat",
			Name:      "sync_conversations",
			Help:      "Conversations returned per sync.",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
		}),
		linksRepaired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rentchat",
			Name:      "participant_links_repaired_total",
			Help:      "Participant rows inserted by sync for discovered conversations.",
		}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rentchat",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		outboxEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rentchat",
			Name:      "outbox_events_total",
			Help:      "Outbox publish attempts, by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.schemaRepairs, m.messagesSent, m.syncs, m.syncedConvs, m.linksRepaired, m.httpDuration, m.outboxEvents,
	)
	return m
}

func (m *Metrics) SchemaRepair(outcome string) {
	m.schemaRepairs.WithLabelValues(outcome).Inc()
}

func (m *Metrics) MessageSent(newConversation bool) {
	m.messagesSent.WithLabelValues(strconv.FormatBool(newConversation)).Inc()
}

func (m *Metrics) SyncCompleted(conversations, repaired int) {
	m.syncs.Inc()
	m.syncedConvs.Observe(float64(conversations))
	m.linksRepaired.Add(float64(repaired))
}

func (m *Metrics) OutboxPublished(ok bool) {
	result := "published"
	if !ok {
		result = "failed"
	}
	m.outboxEvents.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	m.httpDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
