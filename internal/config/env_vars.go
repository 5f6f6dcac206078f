package config

import (
	"fmt"
	"os"
	"strings"
)

const (
	portEnvVar       = "PORT"
	appNameVar       = "APP_NAME"
	folderEnvVar     = "FOLDER"
	backendURLVar    = "BACKEND_URL"
	logLevelVar      = "LOG_LEVEL"
	credentialKeyVar = "CREDENTIAL_KEY"

	productionEnv = "PROD"
)

type EnvVars struct{}

var _ EnvConfig = EnvVars{}

func (EnvVars) GetPort() string {
	port := GetEnv(portEnvVar, "8090")
	if port != "" && port[0] != ':' {
		port = fmt.Sprintf(":%s", port)
	}
	return port
}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "Repair Shop Session")
}

func (EnvVars) GetDataFolder() string {
	return GetEnv(folderEnvVar, "./data")
}

func (EnvVars) GetEnv() string {
	env := os.Getenv("ENV")
	if env == "" {
		return "DEV"
	}
	return env
}

// IsProduction reports whether the deployment is flagged as production.
// "PROD" and "PRODUCTION" are accepted in any case.
func (e EnvVars) IsProduction() bool {
	env := strings.ToUpper(e.GetEnv())
	return env == productionEnv || env == "PRODUCTION"
}

// GetBackendURL returns the base URL of the repair-shop backend API
func (EnvVars) GetBackendURL() string {
	return strings.TrimRight(GetEnv(backendURLVar, "http://localhost:8000"), "/")
}

func (EnvVars) GetLogLevel() string {
	return GetEnv(logLevelVar, "info")
}

// GetCredentialKey returns the hex encoded 32 byte key used to seal the
// credential file. Empty means the file is stored unsealed.
func (EnvVars) GetCredentialKey() string {
	return GetEnv(credentialKeyVar, "")
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}
