// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vidbeat/vidbeat/internal/log"
)

// sensitiveKeywords mark keys whose values never reach the logs.
var sensitiveKeywords = []string{"token", "session", "sign", "password", "secret"}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func envLogger() zerolog.Logger {
	return log.WithComponent("config")
}

// lookup returns the value of key when it is set to a non-empty string.
func lookup(logger zerolog.Logger, key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	if v == "" {
		logger.Debug().Str("key", key).Str("source", "default").Msg("environment variable is empty, ignoring")
		return "", false
	}
	return v, true
}

func logEnv(logger zerolog.Logger, key string, value any) {
	ev := logger.Debug().Str("key", key).Str("source", "environment")
	if isSensitiveKey(key) {
		ev.Bool("sensitive", true).Msg("using environment variable")
		return
	}
	ev.Interface("value", value).Msg("using environment variable")
}

func invalidEnv(logger zerolog.Logger, key, raw, kind string) {
	if isSensitiveKey(key) {
		raw = log.Mask(raw)
	}
	logger.Warn().
		Str("key", key).
		Str("value", raw).
		Msgf("invalid %s in environment variable, keeping previous value", kind)
}

// ParseString reads key or returns fallback.
func ParseString(key, fallback string) string {
	logger := envLogger()
	v, ok := lookup(logger, key)
	if !ok {
		return fallback
	}
	logEnv(logger, key, v)
	return v
}

// ParseInt reads an integer; parse errors keep fallback.
func ParseInt(key string, fallback int) int {
	logger := envLogger()
	v, ok := lookup(logger, key)
	if !ok {
		return fallback
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		invalidEnv(logger, key, v, "integer")
		return fallback
	}
	logEnv(logger, key, i)
	return i
}

// ParseInt64 reads a 64-bit integer; parse errors keep fallback.
func ParseInt64(key string, fallback int64) int64 {
	logger := envLogger()
	v, ok := lookup(logger, key)
	if !ok {
		return fallback
	}
	i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		invalidEnv(logger, key, v, "integer")
		return fallback
	}
	logEnv(logger, key, i)
	return i
}

// ParseFloat reads a float; parse errors keep fallback.
func ParseFloat(key string, fallback float64) float64 {
	logger := envLogger()
	v, ok := lookup(logger, key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		invalidEnv(logger, key, v, "float")
		return fallback
	}
	logEnv(logger, key, f)
	return f
}

// ParseDuration reads a Go duration ("5s"). A bare integer is taken as
// seconds.
func ParseDuration(key string, fallback time.Duration) time.Duration {
	logger := envLogger()
	v, ok := lookup(logger, key)
	if !ok {
		return fallback
	}
	d, err := parseDuration(v)
	if err != nil {
		invalidEnv(logger, key, v, "duration")
		return fallback
	}
	logEnv(logger, key, d.String())
	return d
}

// ParseBool accepts true/false, 1/0 and yes/no in any case.
func ParseBool(key string, fallback bool) bool {
	logger := envLogger()
	v, ok := lookup(logger, key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes":
		logEnv(logger, key, true)
		return true
	case "false", "0", "no":
		logEnv(logger, key, false)
		return false
	}
	invalidEnv(logger, key, v, "boolean")
	return fallback
}

func parseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if n, err := strconv.Atoi(raw); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(raw)
}
