package tenants

import (
	"strings"
)

// Role is the identity's role within a tenant.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Tenant is an isolated repair shop account. All customer, device and repair
// data belongs to exactly one tenant.
type Tenant struct {
	ID            int64          `json:"id"`
	Name          string         `json:"name"`
	OwnerIdentity string         `json:"owner_identity"`
	Settings      map[string]any `json:"settings,omitempty"`
	Role          Role           `json:"role,omitempty"`
}

// Owner is the signed in identity a catalog is loaded for.
type Owner struct {
	UID         string
	Email       string
	DisplayName string
}

// DefaultTenantName names the tenant auto-provisioned for an owner with no
// tenants.
func DefaultTenantName(owner Owner) string {
	name := strings.TrimSpace(owner.DisplayName)
	if name == "" {
		name = owner.Email
	}
	return name + "'s Repair Shop"
}
