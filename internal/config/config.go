package config

type Config interface {
	EnvConfig
	IdentityConfig
	SessionConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetDataFolder() string
	GetEnv() string
	IsProduction() bool
	GetBackendURL() string
	GetLogLevel() string
	GetCredentialKey() string
}

type mainConfig struct {
	EnvVars
	Identity
	Session
}

func New() Config {
	return mainConfig{}
}
