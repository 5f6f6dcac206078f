// Package oidcprovider implements identity.Provider against an OpenID Connect
// issuer using the password and authorization-code (PKCE) grants.
package oidcprovider

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/repairshop-session/identity"
	"github.com/jrsteele09/repairshop-session/internal/config"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// ErrPopupClosed is returned by a PopupHandler when the user closed the
// sign-in window.
var ErrPopupClosed = errors.New("sign-in window closed")

// PopupHandler opens authURL for the user and returns the authorization code
// and state delivered to the redirect URL. Returning context.Canceled means
// the user cancelled, ErrPopupClosed that the window was closed.
type PopupHandler func(ctx context.Context, authURL string) (code, state string, err error)

var _ identity.Provider = (*Provider)(nil)

type Provider struct {
	cfg   config.IdentityConfig
	popup PopupHandler

	discoverLock sync.Mutex
	oidcProvider *oidc.Provider
	oauth2Config *oauth2.Config
	verifier     *oidc.IDTokenVerifier

	lock        sync.Mutex
	token       *oauth2.Token
	current     *identity.Identity
	subscribers map[int]func(identity.Event)
	nextSubID   int
}

type Option func(*Provider)

func WithPopupHandler(h PopupHandler) Option {
	return func(p *Provider) {
		p.popup = h
	}
}

// New creates a provider. Discovery is deferred to first use so an
// unreachable issuer surfaces as a provider error during sign-in rather than
// a startup failure.
func New(cfg config.IdentityConfig, options ...Option) *Provider {
	p := &Provider{
		cfg:         cfg,
		subscribers: make(map[int]func(identity.Event)),
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

func (p *Provider) discover(ctx context.Context) (*oauth2.Config, *oidc.IDTokenVerifier, error) {
	p.discoverLock.Lock()
	defer p.discoverLock.Unlock()
	if p.oidcProvider != nil {
		return p.oauth2Config, p.verifier, nil
	}

	provider, err := oidc.NewProvider(ctx, p.cfg.GetIssuerURL())
	if err != nil {
		return nil, nil, identity.NewProviderError(identity.CodeProviderInternal, err)
	}
	p.oidcProvider = provider
	p.oauth2Config = &oauth2.Config{
		ClientID:     p.cfg.GetClientID(),
		ClientSecret: p.cfg.GetClientSecret(),
		Endpoint:     provider.Endpoint(),
		RedirectURL:  p.cfg.GetRedirectURL(),
		Scopes:       p.cfg.GetScopes(),
	}
	p.verifier = provider.Verifier(&oidc.Config{ClientID: p.cfg.GetClientID()})
	return p.oauth2Config, p.verifier, nil
}

func (p *Provider) SignInWithPassword(ctx context.Context, email, password string) (*identity.Identity, error) {
	if !strings.Contains(email, "@") {
		return nil, identity.NewProviderError(identity.CodeInvalidEmail, nil)
	}
	conf, verifier, err := p.discover(ctx)
	if err != nil {
		return nil, err
	}
	tok, err := conf.PasswordCredentialsToken(ctx, email, password)
	if err != nil {
		return nil, classifyTokenError(err)
	}
	return p.completeSignIn(ctx, verifier, tok)
}

func (p *Provider) SignInWithPopup(ctx context.Context) (*identity.Identity, error) {
	if p.popup == nil {
		return nil, identity.NewProviderError(identity.CodePopupBlocked, nil)
	}
	conf, verifier, err := p.discover(ctx)
	if err != nil {
		return nil, err
	}

	state := randomString(24)
	codeVerifier := oauth2.GenerateVerifier()
	authURL := conf.AuthCodeURL(state, oauth2.S256ChallengeOption(codeVerifier))

	code, returnedState, err := p.popup(ctx, authURL)
	switch {
	case errors.Is(err, context.Canceled):
		return nil, identity.NewProviderError(identity.CodePopupCancelled, err)
	case errors.Is(err, ErrPopupClosed):
		return nil, identity.NewProviderError(identity.CodePopupClosed, err)
	case err != nil:
		return nil, identity.NewProviderError(identity.CodePopupBlocked, err)
	}
	if returnedState != state {
		return nil, identity.NewProviderError(identity.CodePopupCancelled, errors.New("state mismatch"))
	}

	tok, err := conf.Exchange(ctx, code, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		return nil, classifyTokenError(err)
	}
	return p.completeSignIn(ctx, verifier, tok)
}

func (p *Provider) completeSignIn(ctx context.Context, verifier *oidc.IDTokenVerifier, tok *oauth2.Token) (*identity.Identity, error) {
	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok {
		return nil, identity.NewProviderError(identity.CodeProviderInternal, errors.New("no id_token in token response"))
	}
	idToken, err := verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, identity.NewProviderError(identity.CodeProviderInternal, err)
	}

	var claims struct {
		Sub           string `json:"sub"`
		Email         string `json:"email"`
		Name          string `json:"name"`
		EmailVerified bool   `json:"email_verified"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, identity.NewProviderError(identity.CodeProviderInternal, err)
	}

	id := &identity.Identity{
		UID:           claims.Sub,
		Email:         claims.Email,
		DisplayName:   claims.Name,
		EmailVerified: claims.EmailVerified,
	}

	p.lock.Lock()
	p.token = tok
	p.current = id
	p.lock.Unlock()

	log.Debug().Str("uid", id.UID).Msg("identity provider sign-in")
	p.emit(identity.Event{Type: identity.EventSignedIn, Identity: id})
	return id, nil
}

func (p *Provider) SignOut(_ context.Context) error {
	p.lock.Lock()
	wasSignedIn := p.current != nil
	p.current = nil
	p.token = nil
	p.lock.Unlock()

	if wasSignedIn {
		p.emit(identity.Event{Type: identity.EventSignedOut})
	}
	return nil
}

func (p *Provider) Subscribe(fn func(identity.Event)) func() {
	p.lock.Lock()
	id := p.nextSubID
	p.nextSubID++
	p.subscribers[id] = fn
	current := p.current
	p.lock.Unlock()

	// Like provider SDKs, report the current state on subscription.
	if current != nil {
		fn(identity.Event{Type: identity.EventSignedIn, Identity: current})
	} else {
		fn(identity.Event{Type: identity.EventSignedOut})
	}

	return func() {
		p.lock.Lock()
		defer p.lock.Unlock()
		delete(p.subscribers, id)
	}
}

func (p *Provider) emit(ev identity.Event) {
	p.lock.Lock()
	subs := make([]func(identity.Event), 0, len(p.subscribers))
	for _, fn := range p.subscribers {
		subs = append(subs, fn)
	}
	p.lock.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}

// Token returns the current access token. With forceRefresh the refresh
// token is exchanged for a new access token regardless of expiry.
func (p *Provider) Token(ctx context.Context, forceRefresh bool) (string, error) {
	p.lock.Lock()
	current := p.token
	p.lock.Unlock()
	if current == nil {
		return "", errors.New("[oidcprovider.Token] no signed in identity")
	}
	if !forceRefresh && current.Valid() {
		return current.AccessToken, nil
	}
	if current.RefreshToken == "" {
		return "", identity.NewProviderError(identity.CodeProviderInternal, errors.New("no refresh token"))
	}

	conf, _, err := p.discover(ctx)
	if err != nil {
		return "", err
	}
	// An empty access token forces the source to use the refresh token.
	refreshed, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: current.RefreshToken}).Token()
	if err != nil {
		return "", classifyTokenError(err)
	}

	p.lock.Lock()
	defer p.lock.Unlock()
	if p.token != current {
		// Signed out or replaced while refreshing.
		return "", errors.New("[oidcprovider.Token] identity changed during refresh")
	}
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = current.RefreshToken
	}
	p.token = refreshed
	return refreshed.AccessToken, nil
}

// classifyTokenError maps token endpoint failures onto provider error codes.
func classifyTokenError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		switch re.ErrorCode {
		case "invalid_grant":
			return identity.NewProviderError(identity.CodeWrongPassword, err)
		case "unauthorized_client", "unsupported_grant_type":
			return identity.NewProviderError(identity.CodeMethodDisabled, err)
		case "invalid_client", "access_denied":
			return identity.NewProviderError(identity.CodeUnauthorizedDomain, err)
		case "invalid_request":
			return identity.NewProviderError(identity.CodeInvalidEmail, err)
		}
		if re.Response != nil && re.Response.StatusCode >= 500 {
			return identity.NewProviderError(identity.CodeProviderInternal, err)
		}
		return identity.NewProviderError(identity.CodeWrongPassword, err)
	}

	// Transport failures: the provider is unreachable.
	return identity.NewProviderError(identity.CodeProviderInternal, err)
}

func randomString(length int) string {
	b := make([]byte, length)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
