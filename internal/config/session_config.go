package config

import (
	"strconv"
	"time"
)

type SessionConfig interface {
	GetTokenExpiry() time.Duration
	GetTokenRenewalThreshold() time.Duration
	GetTokenRenewalInterval() time.Duration
	GetLocalSessionEnabled() bool
	GetTenantHeader() string
	GetCacheMaxEntries() int64
	GetSettingsTTL() time.Duration
}

type Session struct{}

var _ SessionConfig = Session{}

// GetTokenExpiry is the provider's access token lifetime.
func (Session) GetTokenExpiry() time.Duration {
	return 60 * time.Minute
}

// GetTokenRenewalThreshold must stay below GetTokenExpiry.
func (Session) GetTokenRenewalThreshold() time.Duration {
	return 50 * time.Minute
}

func (Session) GetTokenRenewalInterval() time.Duration {
	return 50 * time.Minute
}

// GetLocalSessionEnabled gates the local-session escape hatch. It is never
// enabled in a production deployment, whatever LOCAL_SESSION says.
func (Session) GetLocalSessionEnabled() bool {
	if (EnvVars{}).IsProduction() {
		return false
	}
	enabled, err := strconv.ParseBool(GetEnv("LOCAL_SESSION", "true"))
	if err != nil {
		return false
	}
	return enabled
}

func (Session) GetTenantHeader() string {
	return GetEnv("TENANT_HEADER", "X-Tenant-ID")
}

func (Session) GetCacheMaxEntries() int64 {
	n, err := strconv.ParseInt(GetEnv("CACHE_MAX_ENTRIES", "10000"), 10, 64)
	if err != nil || n <= 0 {
		return 10000
	}
	return n
}

func (Session) GetSettingsTTL() time.Duration {
	return 10 * time.Minute
}
