package backend

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jrsteele09/repairshop-session/internal/utils"
	"github.com/jrsteele09/repairshop-session/tenants"
)

type createTenantRequest struct {
	Name string `json:"name"`
}

// createOrganizationRequest is the payload of the secondary creation
// endpoint, which names the owner explicitly.
type createOrganizationRequest struct {
	Name       string  `json:"name"`
	OwnerEmail string  `json:"owner_email"`
	OwnerUID   string  `json:"owner_uid"`
	OwnerName  *string `json:"owner_name,omitempty"`
}

type organizationResponse struct {
	Organization *tenants.Tenant `json:"organization"`
}

func (c *Client) ListTenants(ctx context.Context) ([]*tenants.Tenant, error) {
	var list []*tenants.Tenant
	if err := c.do(ctx, request{method: http.MethodGet, path: "/api/tenants"}, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *Client) CreateTenant(ctx context.Context, name string) (*tenants.Tenant, error) {
	var t tenants.Tenant
	err := c.do(ctx, request{method: http.MethodPost, path: "/api/tenants", body: createTenantRequest{Name: name}}, &t)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) CreateTenantFallback(ctx context.Context, name string, owner tenants.Owner) (*tenants.Tenant, error) {
	payload := createOrganizationRequest{
		Name:       name,
		OwnerEmail: owner.Email,
		OwnerUID:   owner.UID,
	}
	if owner.DisplayName != "" {
		payload.OwnerName = utils.Ptr(owner.DisplayName)
	}
	var resp organizationResponse
	if err := c.do(ctx, request{method: http.MethodPost, path: "/api/organizations", body: payload}, &resp); err != nil {
		return nil, err
	}
	if resp.Organization == nil {
		return nil, fmt.Errorf("[Client.CreateTenantFallback] empty organization in response")
	}
	return resp.Organization, nil
}

// SetActiveTenant records tenantID as the identity's active tenant on the
// server, for requests that arrive without a tenant header.
func (c *Client) SetActiveTenant(ctx context.Context, tenantID int64) error {
	path := fmt.Sprintf("/api/tenants/%d/activate", tenantID)
	return c.do(ctx, request{method: http.MethodPost, path: path, tenantID: &tenantID}, nil)
}

// Tenants adapts the client to tenants.Repo.
func (c *Client) Tenants() tenants.Repo {
	return tenantRepo{c: c}
}

type tenantRepo struct {
	c *Client
}

var _ tenants.Repo = tenantRepo{}

func (r tenantRepo) List(ctx context.Context) ([]*tenants.Tenant, error) {
	return r.c.ListTenants(ctx)
}

func (r tenantRepo) Create(ctx context.Context, name string) (*tenants.Tenant, error) {
	return r.c.CreateTenant(ctx, name)
}

func (r tenantRepo) CreateFallback(ctx context.Context, name string, owner tenants.Owner) (*tenants.Tenant, error) {
	return r.c.CreateTenantFallback(ctx, name, owner)
}

func (r tenantRepo) SetActive(ctx context.Context, tenantID int64) error {
	return r.c.SetActiveTenant(ctx, tenantID)
}
