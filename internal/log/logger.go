// SPDX-License-Identifier: MIT

package log

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config describes the process logger.
type Config struct {
	Level   string    // trace..error; empty falls back to VIDBEAT_LOG_LEVEL, then info
	Output  io.Writer // defaults to os.Stderr
	Service string    // defaults to "vidbeat"
	Version string
}

var (
	mu   sync.Mutex
	base *zerolog.Logger
)

// Reconfigure replaces the process logger. The CLI calls it once the final
// configuration and flags are known; until then an info-level stderr
// logger is used.
func Reconfigure(cfg Config) {
	l := build(cfg)
	mu.Lock()
	base = &l
	mu.Unlock()
}

func build(cfg Config) zerolog.Logger {
	levelName := cfg.Level
	if levelName == "" {
		levelName = os.Getenv("VIDBEAT_LOG_LEVEL")
	}
	level, err := zerolog.ParseLevel(levelName)
	if err != nil || levelName == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	service := cfg.Service
	if service == "" {
		service = "vidbeat"
	}
	return zerolog.New(out).With().
		Timestamp().
		Str("service", service).
		Str("version", cfg.Version).
		Logger()
}

func current() zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()
	if base == nil {
		l := build(Config{})
		base = &l
	}
	return *base
}

// WithComponent returns a child of the process logger tagged with component.
func WithComponent(component string) zerolog.Logger {
	return current().With().Str(FieldComponent, component).Logger()
}

// Mask hides all but the last four characters of a credential.
func Mask(secret string) string {
	switch {
	case secret == "":
		return ""
	case len(secret) <= 4:
		return "***"
	}
	return "***" + secret[len(secret)-4:]
}
