package tenantrepofakes

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/jrsteele09/repairshop-session/tenants"
)

var _ tenants.Repo = (*FakeTenantRepo)(nil)

// FakeTenantRepo is an in-memory tenant backend. The Fail* fields inject
// failures into the matching call.
type FakeTenantRepo struct {
	tenants  []*tenants.Tenant
	nextID   int64
	active   int64
	creates  int
	fallback int
	setCalls []int64

	FailList      bool
	FailCreate    bool
	FailFallback  bool
	FailSetActive bool

	lock sync.RWMutex
}

func NewFakeTenantRepo(seed ...*tenants.Tenant) *FakeTenantRepo {
	r := &FakeTenantRepo{nextID: 1}
	for _, t := range seed {
		r.tenants = append(r.tenants, t)
		if t.ID >= r.nextID {
			r.nextID = t.ID + 1
		}
	}
	return r
}

func (r *FakeTenantRepo) List(_ context.Context) ([]*tenants.Tenant, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	if r.FailList {
		return nil, errors.New("tenant list unavailable")
	}
	return slices.Clone(r.tenants), nil
}

func (r *FakeTenantRepo) Create(_ context.Context, name string) (*tenants.Tenant, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.creates++
	if r.FailCreate {
		return nil, errors.New("create rejected")
	}
	return r.add(name, ""), nil
}

func (r *FakeTenantRepo) CreateFallback(_ context.Context, name string, owner tenants.Owner) (*tenants.Tenant, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.fallback++
	if r.FailFallback {
		return nil, errors.New("fallback create rejected")
	}
	return r.add(name, owner.Email), nil
}

func (r *FakeTenantRepo) add(name, owner string) *tenants.Tenant {
	t := &tenants.Tenant{ID: r.nextID, Name: name, OwnerIdentity: owner, Role: tenants.RoleOwner}
	r.nextID++
	r.tenants = append(r.tenants, t)
	return t
}

func (r *FakeTenantRepo) SetActive(_ context.Context, tenantID int64) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.setCalls = append(r.setCalls, tenantID)
	if r.FailSetActive {
		return errors.New("set active rejected")
	}
	r.active = tenantID
	return nil
}

// Creates returns how many primary and fallback creations were attempted.
func (r *FakeTenantRepo) Creates() (primary, fallback int) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.creates, r.fallback
}

// SetActiveCalls returns the tenant ids passed to SetActive, in order.
func (r *FakeTenantRepo) SetActiveCalls() []int64 {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return slices.Clone(r.setCalls)
}

// Active returns the tenant the backend believes is active.
func (r *FakeTenantRepo) Active() int64 {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.active
}
