package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jrsteele09/repairshop-session/identity"
	sessionerrors "github.com/jrsteele09/repairshop-session/internal/errors"
	"github.com/jrsteele09/repairshop-session/session"
	"github.com/jrsteele09/repairshop-session/settings"
	"github.com/jrsteele09/repairshop-session/tenants"
	"github.com/rs/zerolog/log"
)

const maxBodyBytes = 1 << 16

type signInRequest struct {
	Method   string `json:"method"` // "password" (default) or "popup"
	Email    string `json:"email"`
	Password string `json:"password"`
}

type switchTenantRequest struct {
	TenantID int64 `json:"tenant_id"`
}

type sessionResponse struct {
	session.Session
	Authenticated bool   `json:"authenticated"`
	LastError     string `json:"last_error,omitempty"`
}

type tenantsResponse struct {
	Tenants        []*tenants.Tenant `json:"tenants"`
	ActiveTenantID *int64            `json:"active_tenant_id,omitempty"`
}

type entryResponse struct {
	Identifier string  `json:"identifier"`
	Code       string  `json:"code"`
	Kind       string  `json:"kind"`
	Name       string  `json:"name"`
	Symbol     string  `json:"symbol,omitempty"`
	Rate       float64 `json:"rate"`
	IsCore     bool    `json:"is_core"`
	IsDefault  bool    `json:"is_default"`
	TenantID   *int64  `json:"tenant_id,omitempty"`
}

type errorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func (s *Server) SessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, newSessionResponse(s.sessions.Session()))
	}
}

func (s *Server) SignInHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := readJSON[signInRequest](w, r)
		if !ok {
			return
		}

		var (
			sess session.Session
			err  error
		)
		switch strings.ToLower(req.Method) {
		case "popup":
			sess, err = s.sessions.SignInWithPopup(r.Context())
		case "", "password":
			if req.Email == "" || req.Password == "" {
				writeError(w, http.StatusBadRequest, "email and password are required", "")
				return
			}
			sess, err = s.sessions.SignIn(r.Context(), req.Email, req.Password)
		default:
			writeError(w, http.StatusBadRequest, "unknown sign-in method", "")
			return
		}
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newSessionResponse(sess))
	}
}

func (s *Server) SignOutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.sessions.SignOut(r.Context()); err != nil {
			// the local session is already cleared
			log.Warn().Err(err).Msg("provider sign-out failed")
		}
		writeJSON(w, http.StatusOK, newSessionResponse(s.sessions.Session()))
	}
}

func (s *Server) TenantsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := s.sessions.Session()
		if !sess.Authenticated() {
			writeError(w, http.StatusUnauthorized, "Not signed in.", "")
			return
		}
		resp := tenantsResponse{Tenants: sess.Tenants, ActiveTenantID: sess.ActiveTenantID}
		if resp.Tenants == nil {
			resp.Tenants = []*tenants.Tenant{}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) SwitchTenantHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.sessions.Session().Authenticated() {
			writeError(w, http.StatusUnauthorized, "Not signed in.", "")
			return
		}
		req, ok := readJSON[switchTenantRequest](w, r)
		if !ok {
			return
		}
		if err := s.switcher.SwitchTo(r.Context(), req.TenantID); err != nil {
			writeFailure(w, err)
			return
		}
		sess := s.sessions.Session()
		writeJSON(w, http.StatusOK, tenantsResponse{Tenants: sess.Tenants, ActiveTenantID: sess.ActiveTenantID})
	}
}

func (s *Server) ResolveSettingHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, ok := parseKind(chi.URLParam(r, "kind"))
		if !ok {
			writeError(w, http.StatusNotFound, "Unknown settings kind.", "")
			return
		}
		e := s.settings.Resolve(r.Context(), kind, r.URL.Query().Get("id"))
		writeJSON(w, http.StatusOK, newEntryResponse(e))
	}
}

func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "ok",
			"session": s.sessions.Session().State.String(),
			"time":    time.Now().UTC(),
		})
	}
}

func parseKind(raw string) (settings.Kind, bool) {
	switch strings.ToLower(raw) {
	case "currency", "currencies":
		return settings.KindCurrency, true
	case "taxrate", "tax-rate", "tax-rates":
		return settings.KindTaxRate, true
	}
	return "", false
}

func newSessionResponse(sess session.Session) sessionResponse {
	resp := sessionResponse{Session: sess, Authenticated: sess.Authenticated()}
	if sess.Tenants == nil {
		resp.Tenants = []*tenants.Tenant{}
	}
	if sess.LastError != nil {
		resp.LastError, _ = userMessage(sess.LastError)
	}
	return resp
}

func newEntryResponse(e settings.Entry) entryResponse {
	resp := entryResponse{
		Identifier: e.Identifier,
		Code:       e.Code,
		Kind:       string(e.Kind),
		Name:       e.Name,
		Symbol:     e.Symbol,
		Rate:       e.Rate,
		IsCore:     e.IsCore,
		IsDefault:  e.IsDefault,
	}
	if o, ok := e.Origin.(settings.TenantOwned); ok {
		id := o.TenantID
		resp.TenantID = &id
	}
	return resp
}

// userMessage maps err to text safe to show users, plus the provider code
// when there is one.
func userMessage(err error) (string, string) {
	if pe, ok := identity.AsProviderError(err); ok {
		return pe.Message, pe.Code
	}
	switch {
	case sessionerrors.Is(err, sessionerrors.ErrUnknownTenant):
		return "That shop is not available to this account.", ""
	case sessionerrors.Is(err, sessionerrors.ErrBackendRejected):
		return "The shop was switched but the server could not be updated.", ""
	case sessionerrors.Is(err, sessionerrors.ErrTenantFetch):
		return "Your shops could not be loaded.", ""
	case sessionerrors.Is(err, sessionerrors.ErrRenewalFailed), sessionerrors.Is(err, sessionerrors.ErrUnauthorized):
		return "Your session has expired. Please sign in again.", ""
	}
	return "Something went wrong. Please try again.", ""
}

func statusFor(err error) int {
	if pe, ok := identity.AsProviderError(err); ok {
		if pe.Category == identity.CategoryConfig {
			return http.StatusServiceUnavailable
		}
		return http.StatusUnauthorized
	}
	switch {
	case sessionerrors.Is(err, sessionerrors.ErrUnknownTenant):
		return http.StatusNotFound
	case sessionerrors.Is(err, sessionerrors.ErrBackendRejected):
		return http.StatusBadGateway
	case sessionerrors.Is(err, sessionerrors.ErrUnauthorized), sessionerrors.Is(err, sessionerrors.ErrRenewalFailed):
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

// writeFailure logs err and writes its user-safe rendering.
func writeFailure(w http.ResponseWriter, err error) {
	status := statusFor(err)
	log.Warn().Err(err).Int("status", status).Msg("request failed")
	message, code := userMessage(err)
	writeError(w, status, message, code)
}

func readJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.", "")
		return v, false
	}
	return v, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, errorResponse{Message: message, Code: code})
}
