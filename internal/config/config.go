package config

type Config interface {
	EnvConfig
	OAuthConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetRedisAddr() string
	GetRedisPassword() string
	GetJWTSigningSecret() string
	GetIssuer() string
	GetEnv() string
}

type mainConfig struct {
	EnvVars
	OAuth
}

func New() Config {
	return mainConfig{}
}
