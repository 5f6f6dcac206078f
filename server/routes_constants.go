package server

// Route path constants
const (
	// Session
	RouteSession         = "/session"
	RouteSessionSignIn   = "/session/sign-in"
	RouteSessionSignOut  = "/session/sign-out"
	RouteSessionCallback = "/session/callback"

	// Tenants
	RouteTenants      = "/tenants"
	RouteTenantActive = "/tenants/active"

	// Settings
	RouteSettings = "/settings/{kind}"

	// Operations
	RouteHealth  = "/healthz"
	RouteMetrics = "/metrics"
)
