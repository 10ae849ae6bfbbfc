package config

import (
	"fmt"
	"os"
)

const (
	portEnvVar   = "PORT"
	appNameVar   = "APP_NAME"
	redisAddrVar = "REDIS_ADDR"
	redisPassVar = "REDIS_PASSWORD"
	jwtSecretVar = "JWT_SIGNING_SECRET"
	issuerVar    = "ISSUER"
)

type EnvVars struct{}

var _ EnvConfig = EnvVars{}

func (EnvVars) GetPort() string {
	port := GetEnv(portEnvVar, "8080")
	if port != "" && port[0] != ':' {
		port = fmt.Sprintf(":%s", port)
	}
	return port
}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "OAuth2 Token Service")
}

// GetRedisAddr returns the Redis address for the token store.
// When empty, the server falls back to the in-memory store.
func (EnvVars) GetRedisAddr() string {
	return GetEnv(redisAddrVar, "")
}

func (EnvVars) GetRedisPassword() string {
	return GetEnv(redisPassVar, "")
}

// GetJWTSigningSecret returns the HMAC secret for the optional JWT
// access-token enhancer. When empty, tokens stay opaque.
func (EnvVars) GetJWTSigningSecret() string {
	return GetEnv(jwtSecretVar, "")
}

func (EnvVars) GetIssuer() string {
	return GetEnv(issuerVar, "http://localhost:8080")
}

func (EnvVars) GetEnv() string {
	env := os.Getenv("ENV")
	if env == "" {
		return "DEV"
	}
	return env
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}
