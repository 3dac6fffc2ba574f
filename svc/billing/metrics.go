package billing

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds billing counters. A nil *Metrics records nothing.
type Metrics struct {
	quota         *prometheus.CounterVec
	verifications *prometheus.CounterVec
	webhooks      *prometheus.CounterVec
	rejections    *prometheus.CounterVec
	degraded      prometheus.Counter
	lockouts      prometheus.Counter
}

// NewMetrics creates and registers the counters on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		quota: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quotakit",
			Name:      "quota_decisions_total",
			Help:      "Quota check-and-consume decisions by result.",
		}, []string{"result"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quotakit",
			Name:      "payment_verifications_total",
			Help:      "Payment verifications by result and failed check.",
		}, []string{"result", "check"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quotakit",
			Name:      "webhook_events_total",
			Help:      "Webhook events by type and outcome.",
		}, []string{"type", "outcome"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quotakit",
			Name:      "ratelimit_rejections_total",
			Help:      "API requests rejected by the tiered limiter by window.",
		}, []string{"window"}),
		degraded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quotakit",
			Name:      "ratelimit_degraded_total",
			Help:      "Requests admitted because the limiter store was unavailable.",
		}),
		lockouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quotakit",
			Name:      "auth_lockouts_total",
			Help:      "Authentication lockouts issued.",
		}),
	}
	for _, c := range []prometheus.Collector{m.quota, m.verifications, m.webhooks, m.rejections, m.degraded, m.lockouts} {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) quotaDecision(result string) {
	if m != nil {
		m.quota.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) verification(result, check string) {
	if m != nil {
		m.verifications.WithLabelValues(result, check).Inc()
	}
}

func (m *Metrics) webhook(eventType, outcome string) {
	if m != nil {
		m.webhooks.WithLabelValues(eventType, outcome).Inc()
	}
}

// RateLimitRejected counts a tiered limiter rejection. Suitable as a
// ratelimiter reject hook.
func (m *Metrics) RateLimitRejected(window string) {
	if m != nil {
		m.rejections.WithLabelValues(window).Inc()
	}
}

// RateLimitDegraded counts a fail-open admission.
func (m *Metrics) RateLimitDegraded() {
	if m != nil {
		m.degraded.Inc()
	}
}

// AuthLockout counts a brute-force lockout.
func (m *Metrics) AuthLockout() {
	if m != nil {
		m.lockouts.Inc()
	}
}
