package tenants_test

import (
	"context"
	"sync"
	"testing"

	"github.com/jrsteele09/repairshop-session/cache"
	"github.com/jrsteele09/repairshop-session/credentials"
	sessionerrors "github.com/jrsteele09/repairshop-session/internal/errors"
	"github.com/jrsteele09/repairshop-session/tenants"
	"github.com/stretchr/testify/require"
)

type switcherFixture struct {
	*catalogFixture
	cache    *cache.Cache
	switcher *tenants.Switcher
}

func setupSwitcherFixture(t *testing.T) *switcherFixture {
	t.Helper()
	cf := setupCatalogFixture(t,
		&tenants.Tenant{ID: 7, Name: "seven"},
		&tenants.Tenant{ID: 8, Name: "eight"},
	)
	_, err := cf.catalog.Load(context.Background(), owner)
	require.NoError(t, err)

	c, err := cache.New(100)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	return &switcherFixture{
		catalogFixture: cf,
		cache:          c,
		switcher:       tenants.NewSwitcher(cf.catalog, cf.store, cf.repo, c, nil),
	}
}

func (f *switcherFixture) fillCache() {
	for _, r := range cache.TenantScoped {
		f.cache.Set(string(r), "tenant-7", 0)
	}
}

func TestSwitchToUnknownTenant(t *testing.T) {
	f := setupSwitcherFixture(t)
	f.fillCache()
	setCallsBefore := len(f.repo.SetActiveCalls())
	writesBefore := f.store.Writes(credentials.KeyTenantID)

	err := f.switcher.SwitchTo(context.Background(), 42)
	require.ErrorIs(t, err, sessionerrors.ErrUnknownTenant)

	id, _ := f.catalog.ActiveID()
	require.Equal(t, int64(7), id)
	require.Equal(t, writesBefore, f.store.Writes(credentials.KeyTenantID))
	require.Len(t, f.repo.SetActiveCalls(), setCallsBefore)
	_, ok := f.cache.Get(string(cache.Customers))
	require.True(t, ok, "cache must be untouched")
}

func TestSwitchToInvalidatesEveryTenantScopedResource(t *testing.T) {
	f := setupSwitcherFixture(t)
	f.fillCache()

	require.NoError(t, f.switcher.SwitchTo(context.Background(), 8))

	id, _ := f.catalog.ActiveID()
	require.Equal(t, int64(8), id)
	persisted, _ := credentials.TenantPointer(f.store)
	require.Equal(t, int64(8), persisted)
	require.Equal(t, int64(8), f.repo.Active())
	for _, r := range cache.TenantScoped {
		_, ok := f.cache.Get(string(r))
		require.False(t, ok, "%s survived the switch", r)
	}
}

func TestSwitchToCompletesAllStepsWhenBackendRejects(t *testing.T) {
	f := setupSwitcherFixture(t)
	f.fillCache()
	f.repo.FailSetActive = true

	err := f.switcher.SwitchTo(context.Background(), 8)
	require.ErrorIs(t, err, sessionerrors.ErrBackendRejected)

	id, _ := f.catalog.ActiveID()
	require.Equal(t, int64(8), id)
	persisted, _ := credentials.TenantPointer(f.store)
	require.Equal(t, int64(8), persisted)
	_, ok := f.cache.Get(string(cache.Invoices))
	require.False(t, ok)
}

func TestSwitchToJoinsPersistAndBackendFailures(t *testing.T) {
	f := setupSwitcherFixture(t)
	f.repo.FailSetActive = true
	f.store.FailSet = true

	err := f.switcher.SwitchTo(context.Background(), 8)
	require.Error(t, err)
	require.ErrorIs(t, err, sessionerrors.ErrBackendRejected)
	require.Contains(t, err.Error(), "persisting tenant pointer")

	id, _ := f.catalog.ActiveID()
	require.Equal(t, int64(8), id)
}

func TestConcurrentSwitchesSettleOnAMember(t *testing.T) {
	f := setupSwitcherFixture(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_ = f.switcher.SwitchTo(context.Background(), id)
		}(int64(7 + i%2))
	}
	wg.Wait()

	id, ok := f.catalog.ActiveID()
	require.True(t, ok)
	persisted, _ := credentials.TenantPointer(f.store)
	require.Equal(t, id, persisted, "pointer and persisted pointer agree after serialized switches")
	require.Equal(t, id, f.repo.Active())
}
