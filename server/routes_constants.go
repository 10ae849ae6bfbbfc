package server

// OAuth2 endpoints
const (
	RouteOAuth2Token      = "/oauth/token"
	RouteOAuth2Revoke     = "/oauth/revoke"
	RouteOAuth2Introspect = "/oauth/introspect"
	RouteMetrics          = "/metrics"
	RouteHealth           = "/health"
)
