package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// applyEnv overlays SNAS_* environment variables onto the config. A .env
// file in the working directory is loaded first; real environment variables
// win over it.
func applyEnv(c *Config) {
	_ = godotenv.Load()

	c.NatsHost = getEnv("SNAS_NATS_HOST", c.NatsHost)
	c.NatsPort = getEnvInt("SNAS_NATS_PORT", c.NatsPort)
	c.KVBucket = getEnv("SNAS_KV_BUCKET", c.KVBucket)
	c.NatsCredsFile = getEnv("SNAS_NATS_CREDS", c.NatsCredsFile)
	c.NatsUser = getEnv("SNAS_NATS_USER", c.NatsUser)
	c.NatsPassword = getEnv("SNAS_NATS_PASSWORD", c.NatsPassword)
	c.JSDomain = getEnv("SNAS_JS_DOMAIN", c.JSDomain)
	c.EnableAdminMessaging = getEnvBool("SNAS_ADMIN_NATS", c.EnableAdminMessaging)
	c.EnableUserMessaging = getEnvBool("SNAS_USER_NATS", c.EnableUserMessaging)
	c.AdminPrefix = getEnv("SNAS_ADMIN_PREFIX", c.AdminPrefix)
	c.UserPrefix = getEnv("SNAS_USER_PREFIX", c.UserPrefix)
	c.EnableSocket = getEnvBool("SNAS_USER_SOCKET", c.EnableSocket)
	c.SocketPath = getEnv("SNAS_SOCKET_FILE", c.SocketPath)
	c.LogFormat = getEnv("SNAS_LOG_FORMAT", c.LogFormat)
	c.DefaultGroups = splitGroups(getEnv("SNAS_DEFAULT_GROUPS", ""))
	c.MaxUsernameBytes = getEnvInt("SNAS_MAX_USERNAME_BYTES", c.MaxUsernameBytes)
	c.MaxPasswordBytes = getEnvInt("SNAS_MAX_PASSWORD_BYTES", c.MaxPasswordBytes)
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if valueStr, exists := os.LookupEnv(key); exists {
		if value, err := strconv.Atoi(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if valueStr, exists := os.LookupEnv(key); exists {
		if value, err := strconv.ParseBool(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}
