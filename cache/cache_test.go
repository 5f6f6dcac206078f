package cache_test

import (
	"testing"
	"time"

	"github.com/jrsteele09/repairshop-session/cache"
	"github.com/stretchr/testify/require"
)

func newCache(t *testing.T) *cache.Cache {
	t.Helper()
	c, err := cache.New(1000)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestSetGet(t *testing.T) {
	c := newCache(t)

	c.Set(cache.Key(cache.Customers), []string{"alice"}, 0)
	got, ok := cache.GetAs[[]string](c, cache.Key(cache.Customers))
	require.True(t, ok)
	require.Equal(t, []string{"alice"}, got)

	_, ok = cache.GetAs[int](c, cache.Key(cache.Customers))
	require.False(t, ok, "wrong type must miss")
}

func TestInvalidateTenantScopedDropsEveryResource(t *testing.T) {
	c := newCache(t)
	for _, r := range cache.TenantScoped {
		c.Set(string(r), "tenant-7-data", time.Minute)
	}

	c.InvalidateTenantScoped()
	for _, r := range cache.TenantScoped {
		_, ok := c.Get(string(r))
		require.False(t, ok, "%s still cached", r)
	}
}

func TestKey(t *testing.T) {
	require.Equal(t, "customers", cache.Key(cache.Customers))
	require.Equal(t, "customers/42", cache.Key(cache.Customers, "42"))
	require.Equal(t, "settings/currencies", cache.Key(cache.Currencies))
}

func TestTenantScopedCoversEnumeratedResources(t *testing.T) {
	for _, r := range []cache.Resource{
		cache.Customers, cache.Devices, cache.Repairs, cache.Technicians,
		cache.Quotes, cache.Invoices, cache.Currencies, cache.TaxRates,
	} {
		require.Contains(t, cache.TenantScoped, r)
	}
}

func TestInvalidateDropsSubPathKeys(t *testing.T) {
	c := newCache(t)
	c.Set(cache.Key(cache.Customers, "42"), "customer 42 of tenant 7", time.Minute)
	c.Set(cache.Key(cache.Repairs, "9", "notes"), "notes", 0)
	c.Set("customersearch", "unrelated", 0)

	c.InvalidateTenantScoped()

	_, ok := c.Get(cache.Key(cache.Customers, "42"))
	require.False(t, ok)
	_, ok = c.Get(cache.Key(cache.Repairs, "9", "notes"))
	require.False(t, ok)
	_, ok = c.Get("customersearch")
	require.True(t, ok, "keys outside a resource path are kept")
}

func TestSetAtRefusesWritesFromBeforeInvalidation(t *testing.T) {
	c := newCache(t)
	key := cache.Key(cache.Currencies)

	gen := c.Generation()
	c.InvalidateTenantScoped()
	require.False(t, c.SetAt(gen, key, "tenant 1 currencies", time.Minute))
	_, ok := c.Get(key)
	require.False(t, ok)

	require.True(t, c.SetAt(c.Generation(), key, "tenant 2 currencies", time.Minute))
	got, ok := cache.GetAs[string](c, key)
	require.True(t, ok)
	require.Equal(t, "tenant 2 currencies", got)
}
