package tenants

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/jrsteele09/repairshop-session/credentials"
	sessionerrors "github.com/jrsteele09/repairshop-session/internal/errors"
	"github.com/jrsteele09/repairshop-session/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Snapshot is an immutable view of the catalog: the loaded tenants and the
// active tenant pointer.
type Snapshot struct {
	Tenants   []*Tenant
	ActiveID  int64
	HasActive bool
}

// Active returns the tenant the pointer refers to.
func (s Snapshot) Active() (*Tenant, bool) {
	if !s.HasActive {
		return nil, false
	}
	return s.find(s.ActiveID)
}

func (s Snapshot) find(id int64) (*Tenant, bool) {
	i := slices.IndexFunc(s.Tenants, func(t *Tenant) bool { return t.ID == id })
	if i < 0 {
		return nil, false
	}
	return s.Tenants[i], true
}

// Catalog holds the tenants of the signed in identity and the active tenant
// pointer.
type Catalog struct {
	repo    Repo
	store   credentials.Store
	metrics *metrics.Metrics

	loadLock sync.Mutex
	state    atomic.Pointer[Snapshot]
}

type CatalogOption func(*Catalog)

func WithCatalogMetrics(m *metrics.Metrics) CatalogOption {
	return func(c *Catalog) {
		c.metrics = m
	}
}

func NewCatalog(repo Repo, store credentials.Store, opts ...CatalogOption) *Catalog {
	c := &Catalog{
		repo:  repo,
		store: store,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.state.Store(&Snapshot{})
	return c
}

// Snapshot returns the current catalog state.
func (c *Catalog) Snapshot() Snapshot {
	return *c.state.Load()
}

func (c *Catalog) Tenants() []*Tenant {
	return slices.Clone(c.state.Load().Tenants)
}

// ActiveID returns the active tenant pointer.
func (c *Catalog) ActiveID() (int64, bool) {
	s := c.state.Load()
	return s.ActiveID, s.HasActive
}

func (c *Catalog) Contains(tenantID int64) bool {
	_, ok := c.state.Load().find(tenantID)
	return ok
}

// Reset empties the catalog. The persisted pointer is left to the
// credential store's owner.
func (c *Catalog) Reset() {
	c.loadLock.Lock()
	defer c.loadLock.Unlock()
	c.state.Store(&Snapshot{})
}

// Load fetches the owner's tenants, provisions a default tenant when there
// are none, selects the active tenant and tells the backend about it.
//
// A failed list returns ErrTenantFetch and keeps the previous state.
// Provisioning and backend sync failures are logged and absorbed.
func (c *Catalog) Load(ctx context.Context, owner Owner) ([]*Tenant, error) {
	c.loadLock.Lock()
	defer c.loadLock.Unlock()

	list, err := c.repo.List(ctx)
	if err != nil {
		return c.Tenants(), sessionerrors.Wrapf(sessionerrors.ErrTenantFetch, "[Catalog.Load] List: %v", err)
	}

	if len(list) == 0 {
		if t := c.provision(ctx, owner); t != nil {
			list = []*Tenant{t}
		}
	}

	persisted, hasPersisted := credentials.TenantPointer(c.store)
	next := &Snapshot{Tenants: slices.Clone(list)}
	if id, ok := selectActive(list, persisted, hasPersisted); ok {
		next.ActiveID, next.HasActive = id, true
	}
	c.state.Store(next)

	if !next.HasActive {
		log.Info().Str("uid", owner.UID).Msg("no tenant available for identity")
		return c.Tenants(), nil
	}

	if err := credentials.SetTenantPointer(c.store, next.ActiveID); err != nil {
		log.Warn().Err(err).Int64("tenant_id", next.ActiveID).Msg("persisting tenant pointer")
	}
	if err := c.repo.SetActive(ctx, next.ActiveID); err != nil {
		log.Warn().Err(err).Int64("tenant_id", next.ActiveID).Msg("syncing active tenant to backend")
	}
	return c.Tenants(), nil
}

// selectActive prefers the persisted pointer when it is still in the list,
// then the first tenant.
func selectActive(list []*Tenant, persisted int64, hasPersisted bool) (int64, bool) {
	if hasPersisted && slices.ContainsFunc(list, func(t *Tenant) bool { return t.ID == persisted }) {
		return persisted, true
	}
	if len(list) > 0 {
		return list[0].ID, true
	}
	return 0, false
}

func (c *Catalog) provision(ctx context.Context, owner Owner) *Tenant {
	name := DefaultTenantName(owner)

	t, err := c.repo.Create(ctx, name)
	if err == nil && t != nil {
		c.metrics.TenantProvisioned("primary")
		log.Info().Int64("tenant_id", t.ID).Str("name", name).Msg("provisioned default tenant")
		return t
	}
	log.Warn().Err(err).Str("name", name).Msg("primary tenant creation failed, trying fallback")

	t, err = c.repo.CreateFallback(ctx, name, owner)
	if err == nil && t != nil {
		c.metrics.TenantProvisioned("fallback")
		log.Info().Int64("tenant_id", t.ID).Str("name", name).Msg("provisioned default tenant via fallback")
		return t
	}
	log.Warn().Err(sessionerrors.Wrapf(sessionerrors.ErrTenantProvision, "[Catalog.provision] %v", err)).
		Str("uid", owner.UID).Msg("continuing without a tenant")
	return nil
}

// setActive moves the in-memory pointer. The caller has checked membership.
func (c *Catalog) setActive(tenantID int64) {
	c.loadLock.Lock()
	defer c.loadLock.Unlock()
	cur := c.state.Load()
	next := &Snapshot{Tenants: cur.Tenants, ActiveID: tenantID, HasActive: true}
	c.state.Store(next)
}
