// Package identity describes the external identity provider the session core
// is driven by: who signed in, the events it publishes and the errors it
// reports.
package identity

import "context"

// Identity is the opaque external identity handle reported by the provider.
type Identity struct {
	UID           string `json:"uid"`
	Email         string `json:"email"`
	DisplayName   string `json:"display_name,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
}

// Name returns the display name, falling back to the email address.
func (i *Identity) Name() string {
	if i.DisplayName != "" {
		return i.DisplayName
	}
	return i.Email
}

type EventType string

const (
	EventSignedIn  EventType = "signed_in"
	EventSignedOut EventType = "signed_out"
	EventError     EventType = "error"
)

// Event is a raw identity change published by the provider.
type Event struct {
	Type     EventType
	Identity *Identity // set for EventSignedIn
	Err      error     // set for EventError
}

// Provider is the identity-provider SDK collaborator.
type Provider interface {
	SignInWithPassword(ctx context.Context, email, password string) (*Identity, error)
	// SignInWithPopup runs the federated (browser redirect) flow.
	SignInWithPopup(ctx context.Context) (*Identity, error)
	SignOut(ctx context.Context) error
	// Subscribe registers fn for identity changes. The returned function
	// removes the subscription.
	Subscribe(fn func(Event)) (unsubscribe func())
	// Token returns the current access token, forcing a refresh with the
	// provider when forceRefresh is set.
	Token(ctx context.Context, forceRefresh bool) (string, error)
}
