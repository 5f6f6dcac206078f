package token_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jrsteele09/repairshop-session/credentials"
	"github.com/jrsteele09/repairshop-session/credentials/storefakes"
	"github.com/jrsteele09/repairshop-session/identity/providerfakes"
	sessionerrors "github.com/jrsteele09/repairshop-session/internal/errors"
	"github.com/jrsteele09/repairshop-session/token"
	"github.com/stretchr/testify/require"
)

const (
	testEmail    = "tech@repairshop.test"
	testPassword = "Password123"
	renewEvery   = 50 * time.Minute
)

type testFixture struct {
	clock    *clock.Mock
	provider *providerfakes.FakeProvider
	store    *storefakes.FakeStore
	manager  *token.Manager

	failures []error
	lock     sync.Mutex
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()

	f := &testFixture{
		clock:    clock.NewMock(),
		provider: providerfakes.NewFakeProvider(),
		store:    storefakes.NewFakeStore(),
	}
	f.provider.AddAccount(testEmail, testPassword, "Tech")
	_, err := f.provider.SignInWithPassword(context.Background(), testEmail, testPassword)
	require.NoError(t, err)

	f.manager = token.New(f.provider, f.store,
		token.WithClock(f.clock),
		token.WithRenewal(renewEvery, renewEvery),
		token.WithRenewalFailureHandler(func(_ context.Context, err error) {
			f.lock.Lock()
			defer f.lock.Unlock()
			f.failures = append(f.failures, err)
		}),
	)
	t.Cleanup(f.manager.End)
	return f
}

func (f *testFixture) storedToken() string {
	v, _, _ := f.store.Get(credentials.KeyToken)
	return v
}

func (f *testFixture) failureCount() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return len(f.failures)
}

func TestCurrentTokenWithoutSession(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.manager.CurrentToken()
	require.ErrorIs(t, err, sessionerrors.ErrNoSession)

	_, err = f.manager.EnsureFresh(context.Background())
	require.ErrorIs(t, err, sessionerrors.ErrNoSession)
}

func TestBeginPersistsToken(t *testing.T) {
	f := setupTestFixture(t)

	tok, err := f.manager.Begin(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, tok)
	require.Equal(t, tok, f.storedToken())

	current, err := f.manager.CurrentToken()
	require.NoError(t, err)
	require.Equal(t, tok, current)
	require.Equal(t, f.clock.Now(), f.manager.IssuedAt())
}

func TestRenewalTimerRenewsEachInterval(t *testing.T) {
	f := setupTestFixture(t)

	prev, err := f.manager.Begin(context.Background())
	require.NoError(t, err)

	seen := map[string]bool{prev: true}
	for i := 1; i <= 3; i++ {
		f.clock.Add(renewEvery)
		require.Eventually(t, func() bool {
			return f.storedToken() != prev
		}, time.Second, 5*time.Millisecond, "renewal %d not persisted", i)

		next := f.storedToken()
		require.False(t, seen[next], "renewal %d reused a token", i)
		seen[next] = true
		prev = next
	}

	require.Equal(t, 3, f.provider.ForcedRefreshes())
	current, err := f.manager.CurrentToken()
	require.NoError(t, err)
	require.Equal(t, prev, current)
}

func TestEnsureFreshSkipsYoungToken(t *testing.T) {
	f := setupTestFixture(t)
	first, err := f.manager.Begin(context.Background())
	require.NoError(t, err)

	f.clock.Add(10 * time.Minute)
	tok, err := f.manager.EnsureFresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, first, tok)
	require.Equal(t, 0, f.provider.ForcedRefreshes())
}

func TestRenewalAfterEndIsDiscarded(t *testing.T) {
	f := setupTestFixture(t)
	_, err := f.manager.Begin(context.Background())
	require.NoError(t, err)

	release := f.provider.BlockRefresh()
	defer release()

	result := make(chan error, 1)
	go func() {
		_, err := f.manager.Renew(context.Background())
		result <- err
	}()
	require.Eventually(t, func() bool {
		return f.provider.ForcedRefreshes() == 1
	}, time.Second, 5*time.Millisecond)

	f.manager.End()
	require.NoError(t, f.store.Clear())
	release()

	require.ErrorIs(t, <-result, sessionerrors.ErrNoSession)
	require.Empty(t, f.storedToken())
	_, err = f.manager.CurrentToken()
	require.ErrorIs(t, err, sessionerrors.ErrNoSession)
}

func TestEndStopsTimer(t *testing.T) {
	f := setupTestFixture(t)
	_, err := f.manager.Begin(context.Background())
	require.NoError(t, err)

	f.manager.End()
	f.manager.End()

	f.clock.Add(3 * renewEvery)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 0, f.provider.ForcedRefreshes())
	require.Equal(t, 0, f.failureCount())
}

func TestBackgroundFailureReachesHandler(t *testing.T) {
	f := setupTestFixture(t)
	_, err := f.manager.Begin(context.Background())
	require.NoError(t, err)

	f.provider.TokenErrs = []error{errors.New("provider down")}
	f.clock.Add(renewEvery)

	require.Eventually(t, func() bool {
		return f.failureCount() == 1
	}, time.Second, 5*time.Millisecond)

	f.lock.Lock()
	defer f.lock.Unlock()
	require.ErrorIs(t, f.failures[0], sessionerrors.ErrRenewalFailed)
}

func TestAdoptedPlaceholderIsNeverRenewed(t *testing.T) {
	f := setupTestFixture(t)

	placeholder, err := token.NewLocalPlaceholder(credentials.LocalIdentity{ID: "local-1", Email: "a@x.com"}, f.clock.Now())
	require.NoError(t, err)
	require.True(t, token.IsLocalPlaceholder(placeholder))
	require.False(t, token.IsLocalPlaceholder("token-opaque"))

	require.NoError(t, f.manager.Adopt(placeholder))
	f.clock.Add(2 * renewEvery)

	tok, err := f.manager.EnsureFresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, placeholder, tok)
	require.Equal(t, placeholder, f.storedToken())
	require.Equal(t, 0, f.provider.ForcedRefreshes())
}

func TestTokenSource(t *testing.T) {
	f := setupTestFixture(t)
	tok, err := f.manager.Begin(context.Background())
	require.NoError(t, err)

	oauthToken, err := f.manager.Token()
	require.NoError(t, err)
	require.Equal(t, tok, oauthToken.AccessToken)
	require.Equal(t, "Bearer", oauthToken.Type())
}

func TestRenewalTimerRenewsEveryIntervalWhenRenewalIsSlow(t *testing.T) {
	f := setupTestFixture(t)
	// Each renewal takes five minutes of clock time, so a renewed token is
	// younger than the interval when the next tick fires.
	f.provider.RefreshHook = func() { f.clock.Add(5 * time.Minute) }

	start := f.clock.Now()
	prev, err := f.manager.Begin(context.Background())
	require.NoError(t, err)

	for i := 1; i <= 4; i++ {
		f.clock.Add(start.Add(time.Duration(i) * renewEvery).Sub(f.clock.Now()))
		require.Eventually(t, func() bool {
			return f.storedToken() != prev
		}, time.Second, 5*time.Millisecond, "tick %d did not renew", i)
		prev = f.storedToken()
	}

	require.Equal(t, 4, f.provider.ForcedRefreshes())
	require.Equal(t, 0, f.failureCount())
}

func TestRenewalSurvivesCallerCancellation(t *testing.T) {
	f := setupTestFixture(t)
	first, err := f.manager.Begin(context.Background())
	require.NoError(t, err)

	release := f.provider.BlockRefresh()
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() {
		_, err := f.manager.Renew(ctx)
		result <- err
	}()
	require.Eventually(t, func() bool {
		return f.provider.ForcedRefreshes() == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	release()

	require.NoError(t, <-result)
	current, err := f.manager.CurrentToken()
	require.NoError(t, err)
	require.NotEqual(t, first, current)
	require.Equal(t, current, f.storedToken())
}
