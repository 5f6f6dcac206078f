package token

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/repairshop-session/credentials"
	sessionerrors "github.com/jrsteele09/repairshop-session/internal/errors"
	"github.com/jrsteele09/repairshop-session/internal/metrics"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const (
	defaultRenewalThreshold = 50 * time.Minute
	defaultRenewalInterval  = 50 * time.Minute
	renewalTimeout          = 30 * time.Second
)

// Provider issues access tokens for the signed in identity.
type Provider interface {
	Token(ctx context.Context, forceRefresh bool) (string, error)
}

// RenewalFailureHandler is told when a background renewal fails. It runs on
// the renewal goroutine.
type RenewalFailureHandler func(ctx context.Context, err error)

// Manager owns the access token of the current session: acquisition,
// periodic renewal and invalidation.
//
// Every session start bumps an epoch. Asynchronous results (renewals,
// acquisitions) are only applied when the epoch they started under is still
// current, so a renewal finishing after End is dropped rather than written
// back to the credential store.
type Manager struct {
	provider  Provider
	store     credentials.Store
	clock     clock.Clock
	threshold time.Duration
	interval  time.Duration
	metrics   *metrics.Metrics
	onFailure RenewalFailureHandler

	lock       sync.Mutex
	token      string
	issuedAt   time.Time
	local      bool
	epoch      uint64
	stopTicker func()

	flight singleflight.Group
}

var _ oauth2.TokenSource = (*Manager)(nil)

type ManagerOption func(*Manager)

func WithClock(c clock.Clock) ManagerOption {
	return func(m *Manager) {
		m.clock = c
	}
}

// WithRenewal sets the token age after which EnsureFresh renews and the
// interval of the background renewal ticker.
func WithRenewal(threshold, interval time.Duration) ManagerOption {
	return func(m *Manager) {
		m.threshold = threshold
		m.interval = interval
	}
}

func WithMetrics(mt *metrics.Metrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = mt
	}
}

func WithRenewalFailureHandler(h RenewalFailureHandler) ManagerOption {
	return func(m *Manager) {
		m.onFailure = h
	}
}

func New(provider Provider, store credentials.Store, options ...ManagerOption) *Manager {
	m := &Manager{
		provider: provider,
		store:    store,
	}
	for _, opt := range options {
		opt(m)
	}
	if m.clock == nil {
		m.clock = clock.New()
	}
	if m.threshold == 0 {
		m.threshold = defaultRenewalThreshold
	}
	if m.interval == 0 {
		m.interval = defaultRenewalInterval
	}
	return m
}

// SetRenewalFailureHandler replaces the background renewal failure handler.
func (m *Manager) SetRenewalFailureHandler(h RenewalFailureHandler) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.onFailure = h
}

// Begin acquires the first token of a provider-backed session, persists it
// and starts the renewal ticker.
func (m *Manager) Begin(ctx context.Context) (string, error) {
	m.lock.Lock()
	m.epoch++
	epoch := m.epoch
	m.stopTickerLocked()
	m.token = ""
	m.local = false
	m.lock.Unlock()

	tok, err := m.provider.Token(ctx, false)
	if err != nil {
		return "", errors.Wrap(err, "[Manager.Begin] provider.Token")
	}
	if tok == "" {
		return "", errors.New("[Manager.Begin] provider returned an empty token")
	}

	m.lock.Lock()
	defer m.lock.Unlock()
	if m.epoch != epoch {
		return "", sessionerrors.ErrSessionSuperseded
	}
	if err := m.store.Set(credentials.KeyToken, tok); err != nil {
		return "", errors.Wrap(err, "[Manager.Begin] persist token")
	}
	m.token = tok
	m.issuedAt = m.issuedAtOf(tok)
	m.startTickerLocked(epoch)
	return tok, nil
}

// Adopt installs a local-session placeholder token. Placeholders are never
// renewed and no ticker runs for them.
func (m *Manager) Adopt(tok string) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.epoch++
	m.stopTickerLocked()
	if err := m.store.Set(credentials.KeyToken, tok); err != nil {
		return errors.Wrap(err, "[Manager.Adopt] persist token")
	}
	m.token = tok
	m.local = true
	m.issuedAt = m.clock.Now()
	return nil
}

// End discards the token and cancels the renewal ticker. It is safe to call
// more than once; in-flight renewals started before End are dropped.
func (m *Manager) End() {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.epoch++
	m.token = ""
	m.local = false
	m.issuedAt = time.Time{}
	m.stopTickerLocked()
}

// CurrentToken returns the token without checking its age.
func (m *Manager) CurrentToken() (string, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.token == "" {
		return "", sessionerrors.ErrNoSession
	}
	return m.token, nil
}

// IssuedAt returns when the current token was issued.
func (m *Manager) IssuedAt() time.Time {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.issuedAt
}

// EnsureFresh returns the current token, renewing it first when it is older
// than the renewal threshold.
func (m *Manager) EnsureFresh(ctx context.Context) (string, error) {
	m.lock.Lock()
	tok, issuedAt, local, epoch := m.token, m.issuedAt, m.local, m.epoch
	m.lock.Unlock()

	if tok == "" {
		return "", sessionerrors.ErrNoSession
	}
	if local || m.clock.Since(issuedAt) < m.threshold {
		return tok, nil
	}
	return m.renew(ctx, epoch)
}

// Renew forces a renewal with the provider regardless of token age.
func (m *Manager) Renew(ctx context.Context) (string, error) {
	m.lock.Lock()
	tok, local, epoch := m.token, m.local, m.epoch
	m.lock.Unlock()

	if tok == "" {
		return "", sessionerrors.ErrNoSession
	}
	if local {
		return tok, nil
	}
	return m.renew(ctx, epoch)
}

// Token implements oauth2.TokenSource for outgoing backend calls.
func (m *Manager) Token() (*oauth2.Token, error) {
	tok, err := m.EnsureFresh(context.Background())
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: tok, TokenType: "Bearer"}, nil
}

// renew coalesces concurrent renewals of the same session. The provider
// call is detached from the first caller's cancellation so one abandoned
// request cannot fail the renewal for every waiter.
func (m *Manager) renew(ctx context.Context, epoch uint64) (string, error) {
	v, err, _ := m.flight.Do(strconv.FormatUint(epoch, 10), func() (interface{}, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), renewalTimeout)
		defer cancel()
		tok, err := m.provider.Token(flightCtx, true)

		m.lock.Lock()
		defer m.lock.Unlock()
		if m.epoch != epoch || m.token == "" {
			m.metrics.TokenRenewal("discarded")
			log.Debug().Msg("discarding token renewal for ended session")
			return "", sessionerrors.ErrNoSession
		}
		if err != nil {
			m.metrics.TokenRenewal("failed")
			return "", fmt.Errorf("%w: %w", sessionerrors.ErrRenewalFailed, err)
		}
		if tok == "" {
			m.metrics.TokenRenewal("failed")
			return "", fmt.Errorf("%w: empty token", sessionerrors.ErrRenewalFailed)
		}
		m.token = tok
		m.issuedAt = m.issuedAtOf(tok)
		if err := m.store.Set(credentials.KeyToken, tok); err != nil {
			log.Warn().Err(err).Msg("unable to persist renewed token")
		}
		m.metrics.TokenRenewal("renewed")
		return tok, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *Manager) startTickerLocked(epoch uint64) {
	ticker := m.clock.Ticker(m.interval)
	done := make(chan struct{})
	var once sync.Once
	m.stopTicker = func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
		})
	}
	go m.renewLoop(epoch, ticker, done)
}

func (m *Manager) stopTickerLocked() {
	if m.stopTicker != nil {
		m.stopTicker()
		m.stopTicker = nil
	}
}

func (m *Manager) renewLoop(epoch uint64, ticker *clock.Ticker, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), renewalTimeout)
		if _, err := m.renewFor(ctx, epoch); err != nil && !errors.Is(err, sessionerrors.ErrNoSession) {
			log.Warn().Err(err).Msg("background token renewal failed")
			m.lock.Lock()
			handler := m.onFailure
			m.lock.Unlock()
			if handler != nil {
				handler(ctx, err)
			}
		}
		cancel()
	}
}

// renewFor forces a renewal on every tick. Measuring token age here would
// skip a tick whenever the previous renewal finished after its tick fired.
func (m *Manager) renewFor(ctx context.Context, epoch uint64) (string, error) {
	m.lock.Lock()
	current, tok, local := m.epoch, m.token, m.local
	m.lock.Unlock()
	if current != epoch || tok == "" {
		return "", sessionerrors.ErrNoSession
	}
	if local {
		return tok, nil
	}
	return m.renew(ctx, epoch)
}

// issuedAtOf reads the iat claim of JWT access tokens. Opaque tokens are
// treated as issued now.
func (m *Manager) issuedAtOf(tok string) time.Time {
	parsed, _, err := jwt.NewParser().ParseUnverified(tok, jwt.MapClaims{})
	if err != nil {
		return m.clock.Now()
	}
	iat, err := parsed.Claims.GetIssuedAt()
	if err != nil || iat == nil {
		return m.clock.Now()
	}
	return iat.Time
}
