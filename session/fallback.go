package session

import (
	"strings"

	"github.com/google/uuid"
	"github.com/jrsteele09/repairshop-session/credentials"
	"github.com/jrsteele09/repairshop-session/identity"
)

const (
	localEmail       = "local@repairshop.local"
	localDisplayName = "Local User"
)

// FallbackStrategy decides what happens when the identity provider reports
// a configuration error during sign-in. It is chosen once at startup.
type FallbackStrategy interface {
	// LocalSession returns the identity of a local session to start in place
	// of the failed sign-in, if one is allowed.
	LocalSession(email string, err error) (credentials.LocalIdentity, bool)
	// AllowsLocal reports whether local sessions may exist at all, including
	// ones restored from a previous run.
	AllowsLocal() bool
}

// NewFallbackStrategy returns the local-session fallback when local sessions
// are enabled and the strict strategy otherwise.
func NewFallbackStrategy(localSessionsEnabled bool) FallbackStrategy {
	if localSessionsEnabled {
		return localSessionFallback{}
	}
	return strictFallback{}
}

// strictFallback never substitutes a local session.
type strictFallback struct{}

func (strictFallback) LocalSession(string, error) (credentials.LocalIdentity, bool) {
	return credentials.LocalIdentity{}, false
}

func (strictFallback) AllowsLocal() bool { return false }

// localSessionFallback starts a local session for provider configuration
// errors. Credential and interaction errors still fail.
type localSessionFallback struct{}

func (localSessionFallback) LocalSession(email string, err error) (credentials.LocalIdentity, bool) {
	if !identity.IsConfigError(err) {
		return credentials.LocalIdentity{}, false
	}
	email = strings.TrimSpace(email)
	if email == "" {
		email = localEmail
	}
	name := localDisplayName
	if at := strings.IndexByte(email, '@'); at > 0 && email != localEmail {
		name = email[:at]
	}
	return credentials.LocalIdentity{
		ID:          uuid.NewString(),
		Email:       email,
		DisplayName: name,
	}, true
}

func (localSessionFallback) AllowsLocal() bool { return true }
