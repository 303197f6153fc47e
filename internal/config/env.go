package config

import (
	"os"
	"strconv"
)

// EnvOrDefault returns the environment value for key, or fallback when it is unset or empty.
// The CLI uses it for flag defaults.
func EnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// EnvBoolOrDefault is EnvOrDefault for booleans; unparsable values yield fallback.
func EnvBoolOrDefault(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
