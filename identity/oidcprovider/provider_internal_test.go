package oidcprovider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jrsteele09/repairshop-session/identity"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type testIdentityConfig struct {
	issuer string
}

func (c testIdentityConfig) GetIssuerURL() string    { return c.issuer }
func (c testIdentityConfig) GetClientID() string     { return "client" }
func (c testIdentityConfig) GetClientSecret() string { return "" }
func (c testIdentityConfig) GetRedirectURL() string  { return "http://localhost/callback" }
func (c testIdentityConfig) GetScopes() []string     { return []string{"openid"} }

func TestClassifyTokenError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"invalid grant", &oauth2.RetrieveError{ErrorCode: "invalid_grant"}, identity.CodeWrongPassword},
		{"grant disabled", &oauth2.RetrieveError{ErrorCode: "unsupported_grant_type"}, identity.CodeMethodDisabled},
		{"client not authorized", &oauth2.RetrieveError{ErrorCode: "invalid_client"}, identity.CodeUnauthorizedDomain},
		{"server error", &oauth2.RetrieveError{Response: &http.Response{StatusCode: 503}}, identity.CodeProviderInternal},
		{"transport", errors.New("connection refused"), identity.CodeProviderInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pe, ok := identity.AsProviderError(classifyTokenError(tt.err))
			require.True(t, ok)
			require.Equal(t, tt.code, pe.Code)
		})
	}
}

func TestSignInRejectsMalformedEmail(t *testing.T) {
	p := New(testIdentityConfig{issuer: "http://127.0.0.1:0"})
	_, err := p.SignInWithPassword(context.Background(), "not-an-email", "pw")
	pe, ok := identity.AsProviderError(err)
	require.True(t, ok)
	require.Equal(t, identity.CodeInvalidEmail, pe.Code)
	require.Equal(t, identity.CategoryCredential, pe.Category)
}

func TestUnreachableIssuerIsConfigError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	p := New(testIdentityConfig{issuer: srv.URL})
	_, err := p.SignInWithPassword(context.Background(), "a@x.com", "pw")
	require.True(t, identity.IsConfigError(err))
}

func TestPopupWithoutHandlerIsBlocked(t *testing.T) {
	p := New(testIdentityConfig{issuer: "http://127.0.0.1:0"})
	_, err := p.SignInWithPopup(context.Background())
	pe, ok := identity.AsProviderError(err)
	require.True(t, ok)
	require.Equal(t, identity.CodePopupBlocked, pe.Code)
}

func TestSubscribeReportsSignedOutState(t *testing.T) {
	p := New(testIdentityConfig{issuer: "http://127.0.0.1:0"})
	var got []identity.Event
	unsubscribe := p.Subscribe(func(ev identity.Event) {
		got = append(got, ev)
	})
	defer unsubscribe()

	require.Len(t, got, 1)
	require.Equal(t, identity.EventSignedOut, got[0].Type)

	_, err := p.Token(context.Background(), false)
	require.Error(t, err)
}
