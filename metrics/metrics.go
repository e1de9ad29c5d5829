// Package metrics provides Prometheus metrics for the authorization
// server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for token and login operations.
type Metrics struct {
	enabled bool

	// Issuance metrics
	tokensIssuedTotal *prometheus.CounterVec
	grantsDeniedTotal *prometheus.CounterVec

	// Verification metrics
	verificationsTotal   *prometheus.CounterVec
	verificationDuration prometheus.Histogram

	// Federated login metrics
	ssoLoginsTotal      *prometheus.CounterVec
	providerCallSeconds *prometheus.HistogramVec
}

// New creates and registers Prometheus metrics.
// If enabled is false, returns a no-op Metrics instance.
func New(enabled bool) *Metrics {
	m := &Metrics{enabled: enabled}

	if !enabled {
		return m
	}

	// Issuance metrics
	m.tokensIssuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_tokens_issued_total",
		Help: "Total access tokens issued",
	}, []string{"grant_type"})

	m.grantsDeniedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_grants_denied_total",
		Help: "Total grant requests denied",
	}, []string{"grant_type", "reason"})

	// Verification metrics
	m.verificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_token_verifications_total",
		Help: "Total bearer token verifications",
	}, []string{"result"})

	m.verificationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "auth_token_verification_duration_seconds",
		Help:    "Token verification duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// Federated login metrics
	m.ssoLoginsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_sso_logins_total",
		Help: "Total federated login attempts",
	}, []string{"provider", "result"})

	m.providerCallSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "auth_provider_call_duration_seconds",
		Help:    "Outbound identity provider call duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider", "call"})

	return m
}

// RecordTokenIssued records a successfully issued access token.
func (m *Metrics) RecordTokenIssued(grantType string) {
	if !m.enabled {
		return
	}
	m.tokensIssuedTotal.WithLabelValues(grantType).Inc()
}

// RecordGrantDenied records a denied grant request.
func (m *Metrics) RecordGrantDenied(grantType, reason string) {
	if !m.enabled {
		return
	}
	m.grantsDeniedTotal.WithLabelValues(grantType, reason).Inc()
}

// RecordVerification records a bearer token verification outcome.
func (m *Metrics) RecordVerification(result string, durationSeconds float64) {
	if !m.enabled {
		return
	}
	m.verificationsTotal.WithLabelValues(result).Inc()
	m.verificationDuration.Observe(durationSeconds)
}

// RecordSSOLogin records a federated login outcome.
func (m *Metrics) RecordSSOLogin(provider, result string) {
	if !m.enabled {
		return
	}
	m.ssoLoginsTotal.WithLabelValues(provider, result).Inc()
}

// RecordProviderCall records the duration of an outbound provider call
// (token exchange or user-info fetch).
func (m *Metrics) RecordProviderCall(provider, call string, durationSeconds float64) {
	if !m.enabled {
		return
	}
	m.providerCallSeconds.WithLabelValues(provider, call).Observe(durationSeconds)
}
