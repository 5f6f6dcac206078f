// Package cache holds datasets fetched for the active tenant, keyed by
// logical resource path. Keys carry no tenant id, so every tenant-scoped
// resource must be invalidated explicitly when the active tenant changes.
package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/pkg/errors"
)

// Resource is the logical path of a cached dataset.
type Resource string

const (
	Customers            Resource = "customers"
	Devices              Resource = "devices"
	Repairs              Resource = "repairs"
	Technicians          Resource = "technicians"
	Quotes               Resource = "quotes"
	Invoices             Resource = "invoices"
	Settings             Resource = "settings"
	Currencies           Resource = "settings/currencies"
	TaxRates             Resource = "settings/tax-rates"
	OrganizationSettings Resource = "settings/organization"
)

// TenantScoped lists every resource whose contents depend on the active
// tenant.
var TenantScoped = []Resource{
	Customers,
	Devices,
	Repairs,
	Technicians,
	Quotes,
	Invoices,
	Settings,
	Currencies,
	TaxRates,
	OrganizationSettings,
}

// Cache is an in-process cache over ristretto. Each entry costs 1, so
// maxEntries bounds the number of cached datasets.
//
// Stored keys are tracked so invalidating a resource also drops its
// sub-path keys. Every invalidation bumps a generation; SetAt refuses writes
// loaded under an older generation.
type Cache struct {
	c *ristretto.Cache[string, any]

	lock       sync.Mutex
	keys       map[string]struct{}
	generation uint64
}

func New(maxEntries int64) (*Cache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, any]{
		NumCounters:        maxEntries * 10,
		MaxCost:            maxEntries,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "[cache.New] ristretto.NewCache")
	}
	return &Cache{c: c, keys: make(map[string]struct{})}, nil
}

// Key builds the cache key of a resource, optionally narrowed by sub-paths
// (e.g. Key(Customers, "42")).
func Key(r Resource, parts ...string) string {
	if len(parts) == 0 {
		return string(r)
	}
	return string(r) + "/" + strings.Join(parts, "/")
}

func (c *Cache) Get(key string) (any, bool) {
	return c.c.Get(key)
}

// Set stores value and waits for the write to be applied so an immediate
// Get observes it.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.setLocked(key, value, ttl)
}

// Generation returns the current invalidation generation.
func (c *Cache) Generation() uint64 {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.generation
}

// SetAt stores value only if no invalidation happened since generation was
// read. It reports whether the value was stored.
func (c *Cache) SetAt(generation uint64, key string, value any, ttl time.Duration) bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.generation != generation {
		return false
	}
	c.setLocked(key, value, ttl)
	return true
}

func (c *Cache) setLocked(key string, value any, ttl time.Duration) {
	if ttl > 0 {
		c.c.SetWithTTL(key, value, 1, ttl)
	} else {
		c.c.Set(key, value, 1)
	}
	c.c.Wait()
	c.keys[key] = struct{}{}
}

func (c *Cache) Delete(key string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.c.Del(key)
	delete(c.keys, key)
}

// Invalidate drops the given resources together with every key stored under
// their sub-paths.
func (c *Cache) Invalidate(resources ...Resource) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.generation++
	for _, r := range resources {
		prefix := string(r) + "/"
		c.c.Del(string(r))
		delete(c.keys, string(r))
		for key := range c.keys {
			if strings.HasPrefix(key, prefix) {
				c.c.Del(key)
				delete(c.keys, key)
			}
		}
	}
	c.c.Wait()
}

// InvalidateTenantScoped drops every resource in TenantScoped.
func (c *Cache) InvalidateTenantScoped() {
	c.Invalidate(TenantScoped...)
}

func (c *Cache) Close() {
	c.c.Close()
}

// GetAs returns the cached value for key when it holds a T.
func GetAs[T any](c *Cache, key string) (T, bool) {
	var zero T
	v, ok := c.Get(key)
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}
