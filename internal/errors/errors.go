package errors

import (
	"errors"
	"fmt"
)

// Common error types for the session core
var (
	// Session errors
	ErrNoSession         = errors.New("no session")
	ErrSessionSuperseded = errors.New("session superseded")
	ErrUnauthorized      = errors.New("unauthorized")

	// Token errors
	ErrRenewalFailed = errors.New("token renewal failed")

	// Tenant errors
	ErrUnknownTenant   = errors.New("unknown tenant")
	ErrNoActiveTenant  = errors.New("no active tenant")
	ErrBackendRejected = errors.New("backend rejected request")
	ErrTenantFetch     = errors.New("tenant fetch failed")
	ErrTenantProvision = errors.New("tenant provisioning failed")

	// General errors
	ErrNotFound = errors.New("not found")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Join returns an error that wraps the given errors, nil if all are nil
func Join(errs ...error) error {
	return errors.Join(errs...)
}
