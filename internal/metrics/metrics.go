// Package metrics exposes Prometheus collectors for the HTTP surface and the
// messaging domain. A nil *Metrics is valid and records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "chat"

type Metrics struct {
	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec

	messagesSent      *prometheus.CounterVec
	reactionsToggled  *prometheus.CounterVec
	invitesRedeemed   *prometheus.CounterVec
	sideEffectsFailed *prometheus.CounterVec
	sideEffectsQueued prometheus.GaugeFunc
}

// New registers all collectors on reg. pending reports the side-effect queue
// length and may be nil.
func New(reg prometheus.Registerer, pending func() int) *Metrics {
	m := &Metrics{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Messages written, by conversation type and origin (send, forward, system).",
		}, []string{"type", "origin"}),
		reactionsToggled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reactions_toggled_total",
			Help:      "Reaction toggles by resulting transition.",
		}, []string{"transition"}),
		invitesRedeemed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invites_redeemed_total",
			Help:      "Invite redemption attempts by outcome.",
		}, []string{"outcome"}),
		sideEffectsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "side_effects_failed_total",
			Help:      "Swallowed failures of asynchronous side effects.",
		}, []string{"kind"}),
	}
	reg.MustRegister(m.httpRequests, m.httpLatency, m.messagesSent, m.reactionsToggled, m.invitesRedeemed, m.sideEffectsFailed)

	if pending != nil {
		m.sideEffectsQueued = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "side_effects_pending",
			Help:      "Side effects waiting in the worker pool queue.",
		}, func() float64 { return float64(pending()) })
		reg.MustRegister(m.sideEffectsQueued)
	}
	return m
}

func (m *Metrics) ObserveHTTP(route, method string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.httpLatency.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

func (m *Metrics) MessageSent(conversationType, origin string) {
	if m == nil {
		return
	}
	m.messagesSent.WithLabelValues(conversationType, origin).Inc()
}

func (m *Metrics) ReactionToggled(transition string) {
	if m == nil {
		return
	}
	m.reactionsToggled.WithLabelValues(transition).Inc()
}

func (m *Metrics) InviteRedeemed(outcome string) {
	if m == nil {
		return
	}
	m.invitesRedeemed.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SideEffectFailed(kind string) {
	if m == nil {
		return
	}
	m.sideEffectsFailed.WithLabelValues(kind).Inc()
}
