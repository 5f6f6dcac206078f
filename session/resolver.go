// Package session turns identity provider events into an authenticated,
// tenant-scoped session: token acquired, backend user confirmed, tenant
// catalog loaded.
package session

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/jrsteele09/repairshop-session/backend"
	"github.com/jrsteele09/repairshop-session/credentials"
	"github.com/jrsteele09/repairshop-session/identity"
	sessionerrors "github.com/jrsteele09/repairshop-session/internal/errors"
	"github.com/jrsteele09/repairshop-session/internal/metrics"
	"github.com/jrsteele09/repairshop-session/tenants"
	"github.com/jrsteele09/repairshop-session/token"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// UserSync confirms the backend user record of the token's identity.
type UserSync interface {
	Whoami(ctx context.Context) (*backend.User, error)
}

// Prefetcher warms caches once a session is active.
type Prefetcher interface {
	Prefetch(ctx context.Context)
}

// Resolver is the session state machine.
//
// Every transition bumps an epoch. Work started under one epoch (token
// acquisition, user sync, tenant load) is only applied if the epoch is
// unchanged when it finishes; sign-out and newer resolutions win.
type Resolver struct {
	provider identity.Provider
	tokens   *token.Manager
	users    UserSync
	catalog  *tenants.Catalog
	store    credentials.Store
	fallback FallbackStrategy
	settings Prefetcher
	cache    tenants.Invalidator
	metrics  *metrics.Metrics
	clock    clock.Clock

	lock        sync.Mutex
	state       State
	identity    *identity.Identity
	user        *backend.User
	local       bool
	lastErr     error
	epoch       uint64
	explicit    int
	cancel      context.CancelFunc
	started     bool
	unsubscribe func()

	flight singleflight.Group
}

type Option func(*Resolver)

func WithFallback(f FallbackStrategy) Option {
	return func(r *Resolver) {
		r.fallback = f
	}
}

func WithPrefetcher(p Prefetcher) Option {
	return func(r *Resolver) {
		r.settings = p
	}
}

// WithCache drops tenant-scoped cached data whenever the session changes
// hands.
func WithCache(c tenants.Invalidator) Option {
	return func(r *Resolver) {
		r.cache = c
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) {
		r.metrics = m
	}
}

func WithClock(c clock.Clock) Option {
	return func(r *Resolver) {
		r.clock = c
	}
}

func New(provider identity.Provider, tokens *token.Manager, users UserSync, catalog *tenants.Catalog, store credentials.Store, opts ...Option) *Resolver {
	r := &Resolver{
		provider: provider,
		tokens:   tokens,
		users:    users,
		catalog:  catalog,
		store:    store,
		fallback: strictFallback{},
		clock:    clock.New(),
		state:    StateUnresolved,
	}
	for _, opt := range opts {
		opt(r)
	}
	tokens.SetRenewalFailureHandler(r.onRenewalFailure)
	return r
}

// Start restores a persisted local session when allowed, otherwise it
// subscribes to the provider and waits for its identity events.
func (r *Resolver) Start(ctx context.Context) error {
	r.lock.Lock()
	if r.started {
		r.lock.Unlock()
		return nil
	}
	r.started = true
	r.lock.Unlock()

	if credentials.LocalSessionFlag(r.store) {
		li, ok := credentials.GetLocalIdentity(r.store)
		if ok && r.fallback.AllowsLocal() {
			log.Info().Str("uid", li.ID).Msg("restoring local session")
			return r.activateLocal(ctx, *li, true)
		}
		log.Warn().Bool("local_allowed", r.fallback.AllowsLocal()).Msg("discarding persisted local session")
		if err := credentials.ClearLocalSession(r.store); err != nil {
			log.Warn().Err(err).Msg("clearing persisted local session")
		}
	}

	r.lock.Lock()
	if r.state == StateUnresolved {
		r.state = StateResolving
	}
	r.lock.Unlock()
	r.ensureSubscribed()
	return nil
}

// Stop removes the provider subscription and ends the renewal timer
// without clearing persisted credentials, so the session survives a restart.
func (r *Resolver) Stop() {
	r.lock.Lock()
	unsubscribe := r.unsubscribe
	r.unsubscribe = nil
	if r.cancel != nil {
		r.cancel()
	}
	r.lock.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	r.tokens.End()
}

func (r *Resolver) ensureSubscribed() {
	r.lock.Lock()
	if r.unsubscribe != nil {
		r.lock.Unlock()
		return
	}
	// placeholder so concurrent callers do not subscribe twice
	r.unsubscribe = func() {}
	r.lock.Unlock()

	unsubscribe := r.provider.Subscribe(func(ev identity.Event) {
		r.HandleEvent(context.Background(), ev)
	})

	r.lock.Lock()
	r.unsubscribe = unsubscribe
	r.lock.Unlock()
}

// SignIn signs in with email and password and resolves the session.
func (r *Resolver) SignIn(ctx context.Context, email, password string) (Session, error) {
	return r.signIn(ctx, email, func(ctx context.Context) (*identity.Identity, error) {
		return r.provider.SignInWithPassword(ctx, email, password)
	})
}

// SignInWithPopup runs the federated sign-in flow and resolves the session.
func (r *Resolver) SignInWithPopup(ctx context.Context) (Session, error) {
	return r.signIn(ctx, "", r.provider.SignInWithPopup)
}

func (r *Resolver) signIn(ctx context.Context, email string, signIn func(context.Context) (*identity.Identity, error)) (Session, error) {
	r.ensureSubscribed()

	r.lock.Lock()
	r.explicit++
	if r.state == StateUnresolved {
		r.state = StateResolving
	}
	r.lock.Unlock()
	defer func() {
		r.lock.Lock()
		r.explicit--
		r.lock.Unlock()
	}()

	id, err := signIn(ctx)
	if err != nil {
		if li, ok := r.fallback.LocalSession(email, err); ok {
			log.Warn().Err(err).Str("email", li.Email).Msg("identity provider misconfigured, starting local session")
			if err := r.activateLocal(ctx, li, false); err != nil {
				return r.Session(), err
			}
			return r.Session(), nil
		}
		r.metrics.SignIn("rejected")
		if pe, ok := identity.AsProviderError(err); ok {
			return r.Session(), pe
		}
		return r.Session(), identity.NewProviderError("", err)
	}

	if err := r.resolve(ctx, id); err != nil {
		return r.Session(), err
	}
	return r.Session(), nil
}

// HandleEvent applies an identity change reported by the provider.
func (r *Resolver) HandleEvent(ctx context.Context, ev identity.Event) {
	switch ev.Type {
	case identity.EventSignedIn:
		if ev.Identity == nil {
			return
		}
		r.lock.Lock()
		skip := r.explicit > 0 ||
			(r.state == StateActive && r.identity != nil && r.identity.UID == ev.Identity.UID)
		r.lock.Unlock()
		if skip {
			return
		}
		if err := r.resolve(ctx, ev.Identity); err != nil {
			log.Warn().Err(err).Str("uid", ev.Identity.UID).Msg("resolving signed in identity")
		}

	case identity.EventSignedOut:
		r.lock.Lock()
		state, resolving := r.state, r.identity != nil
		r.lock.Unlock()
		switch {
		// local sessions do not belong to the provider
		case state == StateEnded || state == StateLocalActive:
			return
		// nobody signed in yet: keep the persisted token and tenant pointer
		// for the next sign-in
		case (state == StateUnresolved || state == StateResolving) && !resolving:
			log.Debug().Stringer("state", state).Msg("provider reports no identity")
			return
		}
		r.teardown(nil)

	case identity.EventError:
		log.Warn().Err(ev.Err).Msg("identity provider error")
		r.lock.Lock()
		r.lastErr = ev.Err
		r.lock.Unlock()
	}
}

// resolve coalesces concurrent resolutions of the same identity.
func (r *Resolver) resolve(ctx context.Context, id *identity.Identity) error {
	_, err, _ := r.flight.Do(id.UID, func() (interface{}, error) {
		return nil, r.resolveIdentity(ctx, id)
	})
	return err
}

func (r *Resolver) resolveIdentity(parent context.Context, id *identity.Identity) error {
	r.lock.Lock()
	if r.state == StateActive && r.identity != nil && r.identity.UID == id.UID {
		r.lock.Unlock()
		return nil
	}
	epoch := r.beginLocked(StateResolving)
	r.identity = id
	ctx, cancel := context.WithCancel(parent)
	r.cancel = cancel
	r.lock.Unlock()
	defer cancel()

	logger := log.With().Str("uid", id.UID).Logger()
	logger.Debug().Msg("resolving session")

	if _, err := r.tokens.Begin(ctx); err != nil {
		return r.fail(ctx, epoch, errors.Wrap(err, "[Resolver.resolve] acquiring token"))
	}

	user, err := r.users.Whoami(ctx)
	if sessionerrors.Is(err, sessionerrors.ErrUnauthorized) {
		logger.Info().Msg("whoami unauthorized, retrying with a fresh token")
		if _, rerr := r.tokens.Renew(ctx); rerr != nil {
			return r.fail(ctx, epoch, errors.Wrap(rerr, "[Resolver.resolve] renewing token"))
		}
		user, err = r.users.Whoami(ctx)
	}
	if err != nil {
		return r.fail(ctx, epoch, errors.Wrap(err, "[Resolver.resolve] whoami"))
	}

	owner := tenants.Owner{UID: id.UID, Email: id.Email, DisplayName: id.DisplayName}
	_, tenantErr := r.catalog.Load(ctx, owner)
	if tenantErr != nil {
		logger.Warn().Err(tenantErr).Msg("tenant catalog unavailable, continuing")
	}

	r.lock.Lock()
	if !r.commitLocked(epoch) {
		r.lock.Unlock()
		return sessionerrors.ErrSessionSuperseded
	}
	r.state = StateActive
	r.user = user
	r.lastErr = tenantErr
	r.lock.Unlock()

	if err := credentials.ClearLocalSession(r.store); err != nil {
		logger.Warn().Err(err).Msg("clearing stale local session flags")
	}
	r.metrics.SignIn("active")
	logger.Info().Msg("session active")

	if r.settings != nil {
		r.settings.Prefetch(ctx)
	}
	return nil
}

// activateLocal starts a session that is not backed by the provider. A
// placeholder token stands in for the provider token and is never renewed.
func (r *Resolver) activateLocal(parent context.Context, li credentials.LocalIdentity, restored bool) error {
	tok, err := token.NewLocalPlaceholder(li, r.clock.Now())
	if err != nil {
		return errors.Wrap(err, "[Resolver.activateLocal] placeholder token")
	}

	r.lock.Lock()
	epoch := r.beginLocked(StateLocalActive)
	r.identity = &identity.Identity{UID: li.ID, Email: li.Email, DisplayName: li.DisplayName}
	r.local = true
	ctx, cancel := context.WithCancel(parent)
	r.cancel = cancel
	r.lock.Unlock()
	defer cancel()

	if !restored {
		if err := credentials.SetLocalSession(r.store, li); err != nil {
			r.teardown(err)
			return errors.Wrap(err, "[Resolver.activateLocal] persisting local session")
		}
	}
	if err := r.tokens.Adopt(tok); err != nil {
		r.teardown(err)
		return errors.Wrap(err, "[Resolver.activateLocal] adopting placeholder token")
	}
	r.metrics.LocalSession()

	owner := tenants.Owner{UID: li.ID, Email: li.Email, DisplayName: li.DisplayName}
	_, tenantErr := r.catalog.Load(ctx, owner)
	if tenantErr != nil {
		log.Warn().Err(tenantErr).Str("uid", li.ID).Msg("tenant catalog unavailable for local session")
	}

	r.lock.Lock()
	defer r.lock.Unlock()
	if !r.commitLocked(epoch) {
		return sessionerrors.ErrSessionSuperseded
	}
	r.lastErr = tenantErr
	log.Info().Str("uid", li.ID).Bool("restored", restored).Msg("local session active")
	return nil
}

// beginLocked starts a new epoch in state, cancelling work of the previous
// one.
func (r *Resolver) beginLocked(state State) uint64 {
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.epoch++
	r.state = state
	if r.cache != nil {
		r.cache.InvalidateTenantScoped()
	}
	r.identity = nil
	r.user = nil
	r.local = false
	r.lastErr = nil
	return r.epoch
}

// commitLocked reports whether epoch is still current. When the session was
// ended while the tenant load was in flight, anything the load persisted is
// cleared again.
func (r *Resolver) commitLocked(epoch uint64) bool {
	if r.epoch == epoch {
		return true
	}
	if r.state == StateEnded {
		r.catalog.Reset()
		if err := r.store.Clear(); err != nil {
			log.Warn().Err(err).Msg("clearing credentials after superseded resolution")
		}
	}
	return false
}

// fail ends the session after an unrecoverable resolution error, signing
// out of the provider on a best-effort basis.
func (r *Resolver) fail(ctx context.Context, epoch uint64, err error) error {
	r.lock.Lock()
	current := r.epoch == epoch
	r.lock.Unlock()
	if !current {
		return sessionerrors.ErrSessionSuperseded
	}

	log.Error().Err(err).Msg("session resolution failed, signing out")
	r.metrics.SignIn("failed")
	if serr := r.provider.SignOut(context.WithoutCancel(ctx)); serr != nil {
		log.Warn().Err(serr).Msg("best-effort provider sign-out")
	}
	r.teardown(err)
	return err
}

// SignOut ends the session. The renewal timer is stopped and credentials
// cleared before the provider is told, so no renewal lands afterwards.
func (r *Resolver) SignOut(ctx context.Context) error {
	r.lock.Lock()
	local := r.local
	r.lock.Unlock()

	r.teardown(nil)
	r.metrics.SignIn("signed_out")
	if local {
		return nil
	}
	if err := r.provider.SignOut(ctx); err != nil {
		return errors.Wrap(err, "[Resolver.SignOut] provider.SignOut")
	}
	return nil
}

// teardown moves to Ended and clears every piece of session state together.
func (r *Resolver) teardown(cause error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.beginLocked(StateEnded)
	r.lastErr = cause
	r.tokens.End()
	r.catalog.Reset()
	if err := r.store.Clear(); err != nil {
		log.Error().Err(err).Msg("clearing credential store")
	}
	log.Info().AnErr("cause", cause).Msg("session ended")
}

// onRenewalFailure retries a failed background renewal once and ends the
// session if the retry fails too.
func (r *Resolver) onRenewalFailure(ctx context.Context, err error) {
	r.lock.Lock()
	epoch, state := r.epoch, r.state
	r.lock.Unlock()
	if state != StateActive {
		return
	}

	log.Warn().Err(err).Msg("token renewal failed, retrying once")
	_, rerr := r.tokens.Renew(ctx)
	if rerr == nil || sessionerrors.Is(rerr, sessionerrors.ErrNoSession) {
		return
	}
	_ = r.fail(ctx, epoch, rerr)
}

// Session returns a snapshot of the current session.
func (r *Resolver) Session() Session {
	r.lock.Lock()
	s := Session{
		State:          r.state,
		User:           r.user,
		IsLocalSession: r.local,
		LastError:      r.lastErr,
	}
	if r.identity != nil {
		id := *r.identity
		s.Identity = &id
	}
	r.lock.Unlock()

	if s.Authenticated() {
		s.Token, _ = r.tokens.CurrentToken()
		s.TokenIssuedAt = r.tokens.IssuedAt()
		if id, ok := r.catalog.ActiveID(); ok {
			s.ActiveTenantID = &id
		}
	}
	s.Tenants = r.catalog.Tenants()
	return s
}
