package session

import (
	"time"

	"github.com/jrsteele09/repairshop-session/backend"
	"github.com/jrsteele09/repairshop-session/identity"
	"github.com/jrsteele09/repairshop-session/tenants"
)

type State int

const (
	StateUnresolved State = iota
	StateResolving
	StateActive
	StateLocalActive
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateUnresolved:
		return "unresolved"
	case StateResolving:
		return "resolving"
	case StateActive:
		return "active"
	case StateLocalActive:
		return "local_active"
	case StateEnded:
		return "ended"
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Session is a point-in-time copy of the resolver's state.
type Session struct {
	State          State              `json:"state"`
	Identity       *identity.Identity `json:"identity,omitempty"`
	User           *backend.User      `json:"user,omitempty"`
	Token          string             `json:"-"`
	TokenIssuedAt  time.Time          `json:"token_issued_at,omitzero"`
	IsLocalSession bool               `json:"is_local_session"`
	ActiveTenantID *int64             `json:"active_tenant_id,omitempty"`
	Tenants        []*tenants.Tenant  `json:"tenants"`
	LastError      error              `json:"-"`
}

// Authenticated reports whether the session can make backend calls.
func (s Session) Authenticated() bool {
	return s.State == StateActive || s.State == StateLocalActive
}
