package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) initRoutes() {
	// SESSION
	s.RegisterRouteFunc(http.MethodGet, RouteSession, s.SessionHandler())
	s.RegisterRouteFunc(http.MethodPost, RouteSessionSignIn, s.SignInHandler())
	s.RegisterRouteFunc(http.MethodPost, RouteSessionSignOut, s.SignOutHandler())
	if s.popups != nil {
		s.RegisterRouteFunc(http.MethodGet, RouteSessionCallback, s.CallbackHandler())
	}

	// TENANTS
	s.RegisterRouteFunc(http.MethodGet, RouteTenants, s.TenantsHandler())
	s.RegisterRouteFunc(http.MethodPost, RouteTenantActive, s.SwitchTenantHandler())

	// SETTINGS
	s.RegisterRouteFunc(http.MethodGet, RouteSettings, s.ResolveSettingHandler())

	s.RegisterRouteFunc(http.MethodGet, RouteHealth, s.HealthHandler())
	s.RegisterRouteHandler(http.MethodGet, RouteMetrics, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
}
