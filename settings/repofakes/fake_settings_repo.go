package settingsrepofakes

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/jrsteele09/repairshop-session/settings"
)

var _ settings.Repo = (*FakeSettingsRepo)(nil)

// FakeSettingsRepo serves fixed settings records. Fail makes every call
// fail.
type FakeSettingsRepo struct {
	currencies   []settings.Record
	taxRates     []settings.Record
	organization *settings.Organization
	calls        int
	orgGate      chan struct{}
	orgEntered   chan struct{}

	Fail bool

	lock sync.RWMutex
}

func NewFakeSettingsRepo() *FakeSettingsRepo {
	return &FakeSettingsRepo{organization: &settings.Organization{}}
}

func (r *FakeSettingsRepo) AddCurrency(rec settings.Record) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.currencies = append(r.currencies, rec)
}

func (r *FakeSettingsRepo) AddTaxRate(rec settings.Record) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.taxRates = append(r.taxRates, rec)
}

func (r *FakeSettingsRepo) SetOrganization(org settings.Organization) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.organization = &org
}

func (r *FakeSettingsRepo) ListCurrencies(_ context.Context) ([]settings.Record, error) {
	return r.list(func() []settings.Record { return r.currencies })
}

func (r *FakeSettingsRepo) ListTaxRates(_ context.Context) ([]settings.Record, error) {
	return r.list(func() []settings.Record { return r.taxRates })
}

func (r *FakeSettingsRepo) list(records func() []settings.Record) ([]settings.Record, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.calls++
	if r.Fail {
		return nil, errors.New("settings unavailable")
	}
	return slices.Clone(records()), nil
}

func (r *FakeSettingsRepo) OrganizationSettings(ctx context.Context) (*settings.Organization, error) {
	r.lock.Lock()
	r.calls++
	if r.Fail {
		r.lock.Unlock()
		return nil, errors.New("settings unavailable")
	}
	org := *r.organization
	gate, entered := r.orgGate, r.orgEntered
	r.orgGate, r.orgEntered = nil, nil
	r.lock.Unlock()

	if gate != nil {
		close(entered)
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &org, nil
}

// BlockOrganization holds the next OrganizationSettings call after it has
// read the current organization. entered is closed once the call is held.
func (r *FakeSettingsRepo) BlockOrganization() (entered <-chan struct{}, release func()) {
	gate := make(chan struct{})
	in := make(chan struct{})
	r.lock.Lock()
	r.orgGate, r.orgEntered = gate, in
	r.lock.Unlock()
	var once sync.Once
	return in, func() { once.Do(func() { close(gate) }) }
}

// Calls returns how many repo calls have been made.
func (r *FakeSettingsRepo) Calls() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.calls
}
