package tenants

import (
	"context"
	"fmt"
	"sync"

	"github.com/jrsteele09/repairshop-session/credentials"
	sessionerrors "github.com/jrsteele09/repairshop-session/internal/errors"
	"github.com/jrsteele09/repairshop-session/internal/metrics"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Invalidator drops every cached dataset that depends on the active tenant.
type Invalidator interface {
	InvalidateTenantScoped()
}

// Switcher changes the active tenant. Switches are serialized so cache
// invalidation from two switches never interleaves.
type Switcher struct {
	catalog *Catalog
	store   credentials.Store
	repo    Repo
	cache   Invalidator
	metrics *metrics.Metrics

	lock sync.Mutex
}

func NewSwitcher(catalog *Catalog, store credentials.Store, repo Repo, cache Invalidator, m *metrics.Metrics) *Switcher {
	return &Switcher{
		catalog: catalog,
		store:   store,
		repo:    repo,
		cache:   cache,
		metrics: m,
	}
}

// SwitchTo makes tenantID the active tenant. An id outside the catalog fails
// with ErrUnknownTenant before anything changes. Otherwise every step runs
// even if an earlier one fails: pointer, persisted pointer, backend
// notification, cache invalidation. Failures are joined and nothing is
// rolled back.
func (s *Switcher) SwitchTo(ctx context.Context, tenantID int64) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if !s.catalog.Contains(tenantID) {
		s.metrics.TenantSwitch("unknown")
		return sessionerrors.Wrapf(sessionerrors.ErrUnknownTenant, "[Switcher.SwitchTo] tenant %d", tenantID)
	}

	var errs []error
	s.catalog.setActive(tenantID)

	if err := credentials.SetTenantPointer(s.store, tenantID); err != nil {
		errs = append(errs, errors.Wrap(err, "[Switcher.SwitchTo] persisting tenant pointer"))
	}
	if err := s.repo.SetActive(ctx, tenantID); err != nil {
		errs = append(errs, fmt.Errorf("[Switcher.SwitchTo] %w: %w", sessionerrors.ErrBackendRejected, err))
	}
	s.cache.InvalidateTenantScoped()

	if err := sessionerrors.Join(errs...); err != nil {
		s.metrics.TenantSwitch("partial")
		log.Warn().Err(err).Int64("tenant_id", tenantID).Msg("tenant switch completed with errors")
		return err
	}
	s.metrics.TenantSwitch("ok")
	log.Info().Int64("tenant_id", tenantID).Msg("switched active tenant")
	return nil
}
