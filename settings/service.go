package settings

import (
	"context"
	"fmt"
	"time"

	"github.com/jrsteele09/repairshop-session/cache"
	"github.com/jrsteele09/repairshop-session/internal/metrics"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// TenantSource reports the active tenant pointer.
type TenantSource interface {
	ActiveID() (int64, bool)
}

// Cache is the part of the resource cache the service uses. SetAt must
// refuse a write when the cache was invalidated after generation was read.
type Cache interface {
	Get(key string) (any, bool)
	Generation() uint64
	SetAt(generation uint64, key string, value any, ttl time.Duration) bool
}

// errStaleLoad marks a load that finished after the tenant-scoped cache was
// invalidated.
var errStaleLoad = errors.New("settings load superseded by a tenant switch")

// Service resolves entries against the active tenant's catalog, loading the
// catalog through the tenant-scoped cache.
type Service struct {
	repo    Repo
	tenants TenantSource
	cache   Cache
	ttl     time.Duration
	metrics *metrics.Metrics

	flight singleflight.Group
}

type ServiceOption func(*Service)

func WithTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		s.ttl = ttl
	}
}

func WithMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *Service) {
		s.metrics = m
	}
}

func NewService(repo Repo, tenants TenantSource, c Cache, opts ...ServiceOption) *Service {
	s := &Service{
		repo:    repo,
		tenants: tenants,
		cache:   c,
		ttl:     10 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resolve never fails. When requested is empty the organization's preferred
// identifier is used; load failures leave an empty catalog so resolution
// ends at the catalog default or the system fallback.
func (s *Service) Resolve(ctx context.Context, kind Kind, requested string) Entry {
	if requested == "" {
		org, err := s.Organization(ctx)
		if err != nil {
			log.Warn().Err(err).Str("kind", string(kind)).Msg("organization settings unavailable")
		}
		requested = org.Preferred(kind)
	}

	entries, err := s.Entries(ctx, kind)
	if err != nil {
		log.Warn().Err(err).Str("kind", string(kind)).Msg("settings catalog unavailable")
	}

	var active *int64
	if id, ok := s.tenants.ActiveID(); ok {
		active = &id
	}
	e, step := Resolve(kind, entries, active, requested)
	s.metrics.ConfigResolution(string(kind), step.String())
	log.Debug().
		Str("kind", string(kind)).
		Str("requested", requested).
		Str("identifier", e.Identifier).
		Stringer("step", step).
		Msg("resolved setting")
	return e
}

// Entries returns the catalog of kind, from the cache when present.
func (s *Service) Entries(ctx context.Context, kind Kind) ([]Entry, error) {
	key := cache.Key(cache.Currencies)
	list := s.repo.ListCurrencies
	if kind == KindTaxRate {
		key = cache.Key(cache.TaxRates)
		list = s.repo.ListTaxRates
	}

	v, err := s.load(ctx, key, func(ctx context.Context) (any, error) {
		records, err := list(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "[Service.Entries] loading %s", kind)
		}
		return FromRecords(kind, records), nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Entry), nil
}

// Organization returns the active tenant's organization settings.
func (s *Service) Organization(ctx context.Context) (*Organization, error) {
	v, err := s.load(ctx, cache.Key(cache.OrganizationSettings), func(ctx context.Context) (any, error) {
		org, err := s.repo.OrganizationSettings(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "[Service.Organization] OrganizationSettings")
		}
		return org, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Organization), nil
}

// load reads key through the cache. Concurrent loads for the same tenant
// and cache generation share one fetch. A fetch that finishes after an
// invalidation is not cached and is retried once against the new tenant.
func (s *Service) load(ctx context.Context, key string, fetch func(context.Context) (any, error)) (any, error) {
	for attempt := 0; ; attempt++ {
		if v, ok := s.cache.Get(key); ok && sameType(v, key) {
			return v, nil
		}

		generation := s.cache.Generation()
		tenantID, _ := s.tenants.ActiveID()
		flightKey := fmt.Sprintf("%s@%d#%d", key, tenantID, generation)
		v, err, _ := s.flight.Do(flightKey, func() (interface{}, error) {
			v, err := fetch(ctx)
			if err != nil {
				return nil, err
			}
			if !s.cache.SetAt(generation, key, v, s.ttl) {
				return v, errStaleLoad
			}
			return v, nil
		})
		switch {
		case errors.Is(err, errStaleLoad) && attempt == 0:
			log.Debug().Str("key", key).Msg("discarding settings loaded before a tenant switch")
			continue
		case errors.Is(err, errStaleLoad):
			return v, nil
		case err != nil:
			return nil, err
		}
		return v, nil
	}
}

func sameType(v any, key string) bool {
	switch key {
	case cache.Key(cache.OrganizationSettings):
		_, ok := v.(*Organization)
		return ok
	default:
		_, ok := v.([]Entry)
		return ok
	}
}

// Prefetch warms the caches. Failures are logged and dropped.
func (s *Service) Prefetch(ctx context.Context) {
	for _, kind := range []Kind{KindCurrency, KindTaxRate} {
		if _, err := s.Entries(ctx, kind); err != nil {
			log.Warn().Err(err).Str("kind", string(kind)).Msg("settings prefetch failed")
		}
	}
	if _, err := s.Organization(ctx); err != nil {
		log.Warn().Err(err).Msg("organization settings prefetch failed")
	}
}
