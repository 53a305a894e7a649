package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "spendwise"

var (
	TokenVerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_verifications_total",
			Help:      "Total number of bearer token verifications, labeled by provider and outcome kind.",
		},
		[]string{"provider", "outcome"},
	)

	TokenVerificationDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "token_verification_duration_seconds",
			Help:      "Latency of token verification including key resolution (seconds).",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"provider"},
	)

	JWKSFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jwks_fetches_total",
			Help:      "Total number of key set fetches, labeled by source (origin or shared) and outcome.",
		},
		[]string{"source", "outcome"},
	)

	JWKSCacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jwks_cache_lookups_total",
			Help:      "Total number of in-memory key set lookups, labeled by result.",
		},
		[]string{"result"},
	)

	RateLimitHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Total number of requests rejected by the rate limiter.",
		},
		[]string{"scope", "operation"},
	)

	IdentityRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "identity_requests_total",
			Help:      "Total number of identity provider calls (signup, login), labeled by outcome.",
		},
		[]string{"operation", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		TokenVerificationsTotal,
		TokenVerificationDurationSeconds,
		JWKSFetchesTotal,
		JWKSCacheLookupsTotal,
		RateLimitHitsTotal,
		IdentityRequestsTotal,
	)
}
