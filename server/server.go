// Package server is the local control API the application shell uses to
// drive the session core.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/jrsteele09/repairshop-session/session"
	"github.com/jrsteele09/repairshop-session/settings"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// Sessions is the session state machine as seen by the API.
type Sessions interface {
	Session() session.Session
	SignIn(ctx context.Context, email, password string) (session.Session, error)
	SignInWithPopup(ctx context.Context) (session.Session, error)
	SignOut(ctx context.Context) error
}

type TenantSwitcher interface {
	SwitchTo(ctx context.Context, tenantID int64) error
}

type SettingsResolver interface {
	Resolve(ctx context.Context, kind settings.Kind, requested string) settings.Entry
}

type Server struct {
	env      string
	router   chi.Router
	routes   []string
	sessions Sessions
	switcher TenantSwitcher
	settings SettingsResolver
	gatherer prometheus.Gatherer
	popups   *PopupBroker
}

type Option func(*Server)

// WithPopupBroker exposes the sign-in redirect endpoint backed by b.
func WithPopupBroker(b *PopupBroker) Option {
	return func(s *Server) {
		s.popups = b
	}
}

// WithGatherer serves metrics from g instead of the default registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

func New(env string, sessions Sessions, switcher TenantSwitcher, resolver SettingsResolver, opts ...Option) *Server {
	s := &Server{
		env:      env,
		router:   chi.NewRouter(),
		sessions: sessions,
		switcher: switcher,
		settings: resolver,
		gatherer: prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router.Use(s.StdMiddleware()...)
	s.initRoutes()
	s.logRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(method, pattern string, handler http.Handler) {
	s.routes = append(s.routes, method+" "+pattern)
	s.router.Method(method, pattern, handler)
}

func (s *Server) RegisterRouteFunc(method, pattern string, handler http.HandlerFunc) {
	s.RegisterRouteHandler(method, pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)
		logRoute(parts[0], parts[1])
	}
}

func logRoute(method, path string) {
	paddedMethod := fmt.Sprintf(" %-7s", method)
	color, ok := methodColors[method]
	if !ok {
		color = Gray
	}
	log.Info().Msgf("[%-19s] %s", color+paddedMethod+ResetColor, path)
}
