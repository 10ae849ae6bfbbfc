package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Lifecycle outcome labels for TokenOperations.
const (
	OutcomeMinted  = "minted"
	OutcomeReused  = "reused"
	OutcomeRotated = "rotated"
	OutcomeRevoked = "revoked"
)

var (
	// TokenOperations counts lifecycle decisions by outcome.
	TokenOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "oauth2",
		Subsystem: "tokens",
		Name:      "operations_total",
		Help:      "Token lifecycle operations by outcome.",
	}, []string{"outcome"})

	// TokenErrors counts failed token requests by error class.
	TokenErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "oauth2",
		Subsystem: "tokens",
		Name:      "errors_total",
		Help:      "Failed token operations by error class.",
	}, []string{"class"})

	// HTTPRequests counts token endpoint requests by route and status.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "oauth2",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route and status code.",
	}, []string{"route", "status"})
)
