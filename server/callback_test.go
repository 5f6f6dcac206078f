package server_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jrsteele09/repairshop-session/identity/oidcprovider"
	"github.com/jrsteele09/repairshop-session/server"
	"github.com/jrsteele09/repairshop-session/session"
	"github.com/stretchr/testify/require"
)

type popupResult struct {
	code, state string
	err         error
}

func setupPopupServer(t *testing.T) (*server.Server, *server.PopupBroker, chan string) {
	t.Helper()
	opened := make(chan string, 1)
	broker := server.NewPopupBroker(func(authURL string) error {
		opened <- authURL
		return nil
	})
	srv := server.New("TEST", &fakeSessions{current: session.Session{State: session.StateResolving}},
		&fakeSwitcher{}, fakeSettings{}, server.WithPopupBroker(broker))
	return srv, broker, opened
}

func awaitPopup(ctx context.Context, broker *server.PopupBroker) chan popupResult {
	done := make(chan popupResult, 1)
	go func() {
		code, state, err := broker.Await(ctx, "https://idp.test/auth")
		done <- popupResult{code, state, err}
	}()
	return done
}

func TestCallbackDeliversCodeToPendingPopup(t *testing.T) {
	srv, broker, opened := setupPopupServer(t)
	done := awaitPopup(context.Background(), broker)
	require.Equal(t, "https://idp.test/auth", <-opened)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/session/callback?code=abc&state=xyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	res := <-done
	require.NoError(t, res.err)
	require.Equal(t, "abc", res.code)
	require.Equal(t, "xyz", res.state)
}

func TestCallbackErrorMeansWindowClosed(t *testing.T) {
	srv, broker, opened := setupPopupServer(t)
	done := awaitPopup(context.Background(), broker)
	<-opened

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/session/callback?error=access_denied", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.ErrorIs(t, (<-done).err, oidcprovider.ErrPopupClosed)
}

func TestCallbackWithoutPendingPopup(t *testing.T) {
	srv, _, _ := setupPopupServer(t)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/session/callback?code=abc&state=xyz", nil))
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/session/callback", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPopupCancelledByContext(t *testing.T) {
	_, broker, opened := setupPopupServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := awaitPopup(ctx, broker)
	<-opened
	cancel()
	require.ErrorIs(t, (<-done).err, context.Canceled)

	// The broker accepts a new popup once the previous one is gone.
	done = awaitPopup(context.Background(), broker)
	<-opened
	require.True(t, broker.Deliver("c", "s", nil))
	require.NoError(t, (<-done).err)
}
