package identity

import (
	"errors"
	"fmt"
)

// Category groups provider errors by how the session core reacts to them.
type Category string

const (
	// CategoryConfig errors may fall back to a local session outside production.
	CategoryConfig Category = "config"
	// CategoryCredential errors are shown to the user; the session is unaffected.
	CategoryCredential Category = "credential"
	// CategoryInteraction errors come from the federated sign-in window.
	CategoryInteraction Category = "interaction"
	CategoryUnknown     Category = "unknown"
)

// Provider error codes.
const (
	CodeUnauthorizedDomain = "unauthorized-domain"
	CodeMethodDisabled     = "method-disabled"
	CodeProviderInternal   = "provider-internal"
	CodeWrongPassword      = "wrong-password"
	CodeUserNotFound       = "user-not-found"
	CodeWeakPassword       = "weak-password"
	CodeInvalidEmail       = "invalid-email"
	CodePopupBlocked       = "popup-blocked"
	CodePopupClosed        = "popup-closed"
	CodePopupCancelled     = "popup-cancelled"
)

type codeInfo struct {
	category Category
	message  string
}

var codes = map[string]codeInfo{
	CodeUnauthorizedDomain: {CategoryConfig, "This domain is not authorized for sign-in."},
	CodeMethodDisabled:     {CategoryConfig, "This sign-in method is not enabled."},
	CodeProviderInternal:   {CategoryConfig, "The sign-in service is unavailable."},
	CodeWrongPassword:      {CategoryCredential, "Incorrect password."},
	CodeUserNotFound:       {CategoryCredential, "No account found for this email."},
	CodeWeakPassword:       {CategoryCredential, "Password is too weak."},
	CodeInvalidEmail:       {CategoryCredential, "Invalid email address."},
	CodePopupBlocked:       {CategoryInteraction, "The sign-in window was blocked."},
	CodePopupClosed:        {CategoryInteraction, "The sign-in window was closed."},
	CodePopupCancelled:     {CategoryInteraction, "Sign-in was cancelled."},
}

// ProviderError is a categorised error reported by the identity provider.
type ProviderError struct {
	Category Category
	Code     string
	Message  string // short human readable text
	Err      error  // underlying cause, never shown to users
}

// NewProviderError builds a ProviderError for code, wrapping cause.
func NewProviderError(code string, cause error) *ProviderError {
	info, ok := codes[code]
	if !ok {
		info = codeInfo{CategoryUnknown, "Sign-in failed. Please try again."}
	}
	return &ProviderError{
		Category: info.category,
		Code:     code,
		Message:  info.message,
		Err:      cause,
	}
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("identity provider %s (%s): %v", e.Category, e.Code, e.Err)
	}
	return fmt.Sprintf("identity provider %s (%s)", e.Category, e.Code)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// UserMessage is the text safe to show to users.
func (e *ProviderError) UserMessage() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

// AsProviderError returns the ProviderError in err's chain, if any.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsConfigError reports whether err is a provider configuration error.
func IsConfigError(err error) bool {
	pe, ok := AsProviderError(err)
	return ok && pe.Category == CategoryConfig
}
