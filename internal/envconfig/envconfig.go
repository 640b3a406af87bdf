// Package envconfig implements the environment-variable loading pattern
// every cmd/* deployable uses, adapted from the gateway's own
// config/config.go getEnv/getEnvInt helpers and fail-fast Load().
package envconfig

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// LoadDotenv loads a .env file from the working directory if present; a
// missing file is not an error (production deployments set real env vars).
func LoadDotenv() {
	_ = godotenv.Load()
}

// String returns the environment variable key, or fallback if unset.
func String(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

// Int returns the environment variable key parsed as an integer, or
// fallback if unset or malformed.
func Int(key string, fallback int) int {
	v := String(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// Int64 returns the environment variable key parsed as an int64, or
// fallback if unset or malformed.
func Int64(key string, fallback int64) int64 {
	v := String(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

// Duration returns the environment variable key parsed with
// time.ParseDuration, or fallback if unset or malformed.
func Duration(key string, fallback time.Duration) time.Duration {
	v := String(key, "")
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// StringList splits the environment variable key on commas, trimming
// empty entries; an unset or empty variable yields an empty (never nil)
// slice — callers rely on "no entries" meaning deny-all, not wildcard.
func StringList(key string) []string {
	raw := String(key, "")
	if raw == "" {
		return []string{}
	}
	var out []string
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ',' {
			if i > start {
				out = append(out, raw[start:i])
			}
			start = i + 1
		}
	}
	if out == nil {
		out = []string{}
	}
	return out
}
