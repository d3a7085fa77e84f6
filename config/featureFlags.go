package config

import (
	"os"
	"strconv"
	"strings"
)

func envFlag(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// SkipMigrations leaves AutoMigrate to a separate job.
//
// Set via env:
// - SKIP_MIGRATIONS=true
func SkipMigrations() bool {
	return envFlag("SKIP_MIGRATIONS")
}

// RateLimitEnabled turns on the redis request limiter of the counting api.
//
// Set via env:
// - RATE_LIMIT_ENABLED=true
func RateLimitEnabled() bool {
	return envFlag("RATE_LIMIT_ENABLED")
}

// CountingAssetHooksEnabled exposes the asset created/deactivated hooks over HTTP.
// Deployments where the inventory module calls the service in-process keep them off.
//
// Set via env:
// - COUNTING_ASSET_HOOKS=true
func CountingAssetHooksEnabled() bool {
	return envFlag("COUNTING_ASSET_HOOKS")
}

// EnvInt reads a positive int from key, falling back to def.
func EnvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
