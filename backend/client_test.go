package backend_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/jrsteele09/repairshop-session/backend"
	sessionerrors "github.com/jrsteele09/repairshop-session/internal/errors"
	"github.com/jrsteele09/repairshop-session/settings"
	"github.com/jrsteele09/repairshop-session/tenants"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type fixedTenant struct {
	id int64
	ok bool
}

func (f fixedTenant) ActiveID() (int64, bool) { return f.id, f.ok }

type recorded struct {
	method string
	path   string
	auth   string
	tenant string
	body   map[string]any
}

type testFixture struct {
	server   *httptest.Server
	client   *backend.Client
	lock     sync.Mutex
	requests []recorded
	status   int
	response any
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()
	f := &testFixture{status: http.StatusOK}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{
			method: r.Method,
			path:   r.URL.Path,
			auth:   r.Header.Get("Authorization"),
			tenant: r.Header.Get("X-Tenant-ID"),
		}
		_ = json.NewDecoder(r.Body).Decode(&rec.body)

		f.lock.Lock()
		f.requests = append(f.requests, rec)
		status, response := f.status, f.response
		f.lock.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if response != nil {
			_ = json.NewEncoder(w).Encode(response)
		}
	}))
	t.Cleanup(f.server.Close)

	tokens := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok-1", TokenType: "Bearer"})
	f.client = backend.New(f.server.URL+"/", tokens)
	return f
}

func (f *testFixture) respond(status int, response any) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.status, f.response = status, response
}

func (f *testFixture) last(t *testing.T) recorded {
	t.Helper()
	f.lock.Lock()
	defer f.lock.Unlock()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

func (f *testFixture) count() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return len(f.requests)
}

func TestWhoamiSendsBearerToken(t *testing.T) {
	f := setupTestFixture(t)
	f.respond(http.StatusOK, map[string]any{"id": 1, "uid": "uid-a", "email": "a@x.com"})

	u, err := f.client.Whoami(context.Background())
	require.NoError(t, err)
	require.Equal(t, "a@x.com", u.Email)
	require.Equal(t, "a@x.com", u.Name())

	req := f.last(t)
	require.Equal(t, http.MethodPost, req.method)
	require.Equal(t, "/api/auth/whoami", req.path)
	require.Equal(t, "Bearer tok-1", req.auth)
	require.Empty(t, req.tenant)
}

func TestUnauthorizedMapsToSentinel(t *testing.T) {
	f := setupTestFixture(t)
	f.respond(http.StatusUnauthorized, map[string]string{"detail": "expired"})

	_, err := f.client.Whoami(context.Background())
	require.ErrorIs(t, err, sessionerrors.ErrUnauthorized)
}

func TestOtherStatusesReturnStatusError(t *testing.T) {
	f := setupTestFixture(t)
	f.respond(http.StatusConflict, map[string]string{"detail": "exists"})

	_, err := f.client.CreateTenant(context.Background(), "shop")
	var statusErr *backend.StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusConflict, statusErr.Code)
	require.Equal(t, "/api/tenants", statusErr.Path)
}

func TestTenantEndpoints(t *testing.T) {
	f := setupTestFixture(t)
	repo := f.client.Tenants()

	f.respond(http.StatusOK, []tenants.Tenant{{ID: 7, Name: "seven"}})
	list, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, int64(7), list[0].ID)

	f.respond(http.StatusCreated, tenants.Tenant{ID: 8, Name: "a@x.com's Repair Shop"})
	created, err := repo.Create(context.Background(), "a@x.com's Repair Shop")
	require.NoError(t, err)
	require.Equal(t, int64(8), created.ID)
	require.Equal(t, "a@x.com's Repair Shop", f.last(t).body["name"])

	f.respond(http.StatusCreated, map[string]any{"organization": tenants.Tenant{ID: 9}})
	created, err = repo.CreateFallback(context.Background(), "shop", tenants.Owner{UID: "uid-a", Email: "a@x.com"})
	require.NoError(t, err)
	require.Equal(t, int64(9), created.ID)
	req := f.last(t)
	require.Equal(t, "/api/organizations", req.path)
	require.Equal(t, "a@x.com", req.body["owner_email"])
	require.NotContains(t, req.body, "owner_name")

	f.respond(http.StatusNoContent, nil)
	require.NoError(t, repo.SetActive(context.Background(), 9))
	req = f.last(t)
	require.Equal(t, "/api/tenants/9/activate", req.path)
	require.Equal(t, "9", req.tenant)
}

func TestTenantScopedCallsRequireActiveTenant(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.client.ListCurrencies(context.Background())
	require.ErrorIs(t, err, sessionerrors.ErrNoActiveTenant)

	f.client.SetTenantSource(fixedTenant{})
	_, err = f.client.OrganizationSettings(context.Background())
	require.ErrorIs(t, err, sessionerrors.ErrNoActiveTenant)
	require.Zero(t, f.count(), "no request may leave without a tenant")
}

func TestSettingsCarryTenantHeader(t *testing.T) {
	f := setupTestFixture(t)
	f.client.SetTenantSource(fixedTenant{id: 7, ok: true})

	f.respond(http.StatusOK, []settings.Record{{ID: "USD", IsCore: true}, {ID: "USD_7", TenantID: ptr(int64(7))}})
	records, err := f.client.ListCurrencies(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	req := f.last(t)
	require.Equal(t, "/api/settings/currencies", req.path)
	require.Equal(t, "7", req.tenant)

	f.respond(http.StatusOK, []settings.Record{})
	_, err = f.client.ListTaxRates(context.Background())
	require.NoError(t, err)
	require.Equal(t, "/api/settings/tax-rates", f.last(t).path)

	f.respond(http.StatusOK, settings.Organization{Currency: "EUR", TaxRate: "VAT"})
	org, err := f.client.OrganizationSettings(context.Background())
	require.NoError(t, err)
	require.Equal(t, "VAT", org.TaxRate)
}

func TestCustomTenantHeader(t *testing.T) {
	got := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Get("X-Org")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := backend.New(srv.URL, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "t"}), backend.WithTenantHeader("X-Org"))
	c.SetTenantSource(fixedTenant{id: 3, ok: true})
	_, err := c.ListTaxRates(context.Background())
	require.NoError(t, err)
	require.Equal(t, "3", <-got)
}

func ptr[T any](v T) *T { return &v }
