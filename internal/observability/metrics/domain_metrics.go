package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// DomainMetrics holds the Prometheus series for quota, payment, relay and
// worker outcomes. All methods are nil-safe.
type DomainMetrics struct {
	quotaDecisions  *prometheus.CounterVec
	webhookOutcomes *prometheus.CounterVec
	relayAttempts   *prometheus.CounterVec
	workerProcessed *prometheus.CounterVec
}

var (
	domainMetricsOnce sync.Once
	domainMetrics     *DomainMetrics
)

func DomainWithConfig(cfg Config) *DomainMetrics {
	domainMetricsOnce.Do(func() {
		domainMetrics = newDomainMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return domainMetrics
}

// NewDomainMetricsForTest registers against a private registry.
func NewDomainMetricsForTest(registerer prometheus.Registerer) *DomainMetrics {
	return newDomainMetrics(registerer, Config{ServiceName: "companion", Environment: "test"})
}

func newDomainMetrics(registerer prometheus.Registerer, cfg Config) *DomainMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "companion"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	quotaDecisions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "companion_quota_decisions_total",
			Help:        "Usage limiter decisions by tracking method and result.",
			ConstLabels: constLabels,
		},
		[]string{"tracking_method", "result"}, // admitted | denied | error
	)
	webhookOutcomes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "companion_payment_webhook_outcomes_total",
			Help:        "Payment webhook deliveries by event kind and outcome.",
			ConstLabels: constLabels,
		},
		[]string{"kind", "outcome"},
	)
	relayAttempts := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "companion_chat_upstream_attempts_total",
			Help:        "Chat relay upstream attempts by result.",
			ConstLabels: constLabels,
		},
		[]string{"result"}, // ok | throttled | error
	)
	workerProcessed := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "companion_worker_processed_total",
			Help:        "Rows processed by background workers.",
			ConstLabels: constLabels,
		},
		[]string{"worker", "result"},
	)

	registerer.MustRegister(quotaDecisions, webhookOutcomes, relayAttempts, workerProcessed)

	return &DomainMetrics{
		quotaDecisions:  quotaDecisions,
		webhookOutcomes: webhookOutcomes,
		relayAttempts:   relayAttempts,
		workerProcessed: workerProcessed,
	}
}

func (m *DomainMetrics) IncQuotaDecision(trackingMethod, result string) {
	if m == nil {
		return
	}
	m.quotaDecisions.WithLabelValues(trackingMethod, result).Inc()
}

func (m *DomainMetrics) IncWebhookOutcome(kind, outcome string) {
	if m == nil {
		return
	}
	m.webhookOutcomes.WithLabelValues(kind, outcome).Inc()
}

func (m *DomainMetrics) IncRelayAttempt(result string) {
	if m == nil {
		return
	}
	m.relayAttempts.WithLabelValues(result).Inc()
}

func (m *DomainMetrics) AddWorkerProcessed(worker, result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.workerProcessed.WithLabelValues(worker, result).Add(float64(n))
}
