package tenants

import "context"

// Repo is the backend surface the catalog needs. Calls are made on behalf
// of the identity owning the current token.
type Repo interface {
	List(ctx context.Context) ([]*Tenant, error)
	Create(ctx context.Context, name string) (*Tenant, error)
	// CreateFallback creates a tenant through the secondary endpoint, used
	// when Create fails.
	CreateFallback(ctx context.Context, name string, owner Owner) (*Tenant, error)
	SetActive(ctx context.Context, tenantID int64) error
}
