package config

import "strings"

type IdentityConfig interface {
	GetIssuerURL() string
	GetClientID() string
	GetClientSecret() string
	GetRedirectURL() string
	GetScopes() []string
}

type Identity struct{}

var _ IdentityConfig = Identity{}

func (Identity) GetIssuerURL() string {
	return GetEnv("IDP_ISSUER_URL", "http://localhost:8080")
}

func (Identity) GetClientID() string {
	return GetEnv("IDP_CLIENT_ID", "repairshop-web")
}

func (Identity) GetClientSecret() string {
	return GetEnv("IDP_CLIENT_SECRET", "")
}

func (Identity) GetRedirectURL() string {
	return GetEnv("IDP_REDIRECT_URL", "http://localhost:8090/session/callback")
}

func (Identity) GetScopes() []string {
	return strings.Fields(GetEnv("IDP_SCOPES", "openid profile email offline_access"))
}
