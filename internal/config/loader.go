// SPDX-License-Identifier: MIT

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vidbeat/vidbeat/internal/log"
)

// Loader resolves configuration with precedence ENV > File > Defaults.
type Loader struct {
	configPath string
	version    string
	// ConsumedEnvKeys records every variable the loader looked at.
	ConsumedEnvKeys map[string]struct{}
}

// NewLoader creates a loader. configPath may be empty.
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

func (l *Loader) key(name string) string {
	k := EnvPrefix + name
	l.ConsumedEnvKeys[k] = struct{}{}
	return k
}

// Load runs defaults, strict file parsing, env overrides and validation in
// that order.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		fileCfg, err := l.loadFile(l.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
		if err := mergeFile(&cfg, fileCfg); err != nil {
			return cfg, fmt.Errorf("merge config file: %w", err)
		}
	}

	l.mergeEnv(&cfg)
	l.warnUnknownEnv()

	if cfg.DataDir != "" {
		if abs, err := filepath.Abs(cfg.DataDir); err == nil {
			cfg.DataDir = abs
		}
	}
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile parses a YAML file strictly: unknown keys and trailing
// documents are errors.
func (l *Loader) loadFile(path string) (*FileConfig, error) {
	path = filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("%w: %s (only YAML supported)", ErrUnsupportedFormat, ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return parseFile(data)
}

func parseFile(data []byte) (*FileConfig, error) {
	var fileCfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&fileCfg); err != nil {
		if errors.Is(err, io.EOF) {
			return &fileCfg, nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return nil, fmt.Errorf("%w: %v", ErrUnknownConfigField, err)
		}
		return nil, fmt.Errorf("strict config parse error: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, errors.New("config file contains multiple documents or trailing content")
	}
	return &fileCfg, nil
}

func mergeFile(dst *AppConfig, src *FileConfig) error {
	setString(&dst.BaseURL, src.BaseURL)
	setPtr(&dst.ClassroomID, src.ClassroomID)
	setString(&dst.Sign, src.Sign)
	setPtr(&dst.UniversityID, src.UniversityID)
	setString(&dst.CSRFToken, src.CSRFToken)
	setString(&dst.SessionID, src.SessionID)
	setString(&dst.LoginType, src.LoginType)
	setString(&dst.Language, src.Language)

	p := src.Playback
	setPtr(&dst.Speed, p.Speed)
	setPtr(&dst.SkipCompleted, p.SkipCompleted)
	setPtr(&dst.CompleteThreshold, p.CompleteThreshold)
	setPtr(&dst.Rewind, p.Rewind)
	setPtr(&dst.MaxConsecutiveFailures, p.MaxConsecutiveFailures)

	s := src.Scheduler
	setPtr(&dst.MaxParallel, s.MaxParallel)
	setPtr(&dst.Sequential, s.Sequential)
	setPtr(&dst.TestMode, s.TestMode)
	setPtr(&dst.TestVideoCount, s.TestVideoCount)

	setPtr(&dst.RequestRate, src.Client.RequestRate)

	t := src.Telemetry
	setPtr(&dst.Telemetry.Enabled, t.Enabled)
	setString(&dst.Telemetry.ExporterType, t.ExporterType)
	setString(&dst.Telemetry.Endpoint, t.Endpoint)
	setPtr(&dst.Telemetry.SamplingRate, t.SamplingRate)
	setString(&dst.Telemetry.Environment, t.Environment)

	if src.DataDir != "" {
		dst.DataDir = os.ExpandEnv(src.DataDir)
	}
	setString(&dst.LogLevel, src.LogLevel)
	setString(&dst.StatusListen, src.StatusListen)

	var errs []error
	for _, d := range []struct {
		field string
		raw   string
		dst   *time.Duration
	}{
		{"playback.heartbeatInterval", p.HeartbeatInterval, &dst.HeartbeatInterval},
		{"playback.progressEvery", p.ProgressEvery, &dst.ProgressEvery},
		{"scheduler.dispatchDelay", s.DispatchDelay, &dst.DispatchDelay},
		{"client.requestTimeout", src.Client.RequestTimeout, &dst.RequestTimeout},
	} {
		if d.raw == "" {
			continue
		}
		v, err := parseDuration(d.raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.field, err))
			continue
		}
		*d.dst = v
	}
	return errors.Join(errs...)
}

func (l *Loader) mergeEnv(cfg *AppConfig) {
	cfg.BaseURL = ParseString(l.key("BASE_URL"), cfg.BaseURL)
	cfg.ClassroomID = ParseInt64(l.key("CLASSROOM_ID"), cfg.ClassroomID)
	cfg.Sign = ParseString(l.key("SIGN"), cfg.Sign)
	cfg.UniversityID = ParseInt64(l.key("UNIVERSITY_ID"), cfg.UniversityID)
	cfg.CSRFToken = ParseString(l.key("CSRF_TOKEN"), cfg.CSRFToken)
	cfg.SessionID = ParseString(l.key("SESSION_ID"), cfg.SessionID)
	cfg.LoginType = ParseString(l.key("LOGIN_TYPE"), cfg.LoginType)
	cfg.Language = ParseString(l.key("LANGUAGE"), cfg.Language)

	cfg.Speed = ParseFloat(l.key("SPEED"), cfg.Speed)
	cfg.HeartbeatInterval = ParseDuration(l.key("HEARTBEAT_INTERVAL"), cfg.HeartbeatInterval)
	cfg.ProgressEvery = ParseDuration(l.key("PROGRESS_EVERY"), cfg.ProgressEvery)
	cfg.SkipCompleted = ParseBool(l.key("SKIP_COMPLETED"), cfg.SkipCompleted)
	cfg.CompleteThreshold = ParseFloat(l.key("COMPLETE_THRESHOLD"), cfg.CompleteThreshold)
	cfg.Rewind = ParseFloat(l.key("REWIND"), cfg.Rewind)
	cfg.MaxConsecutiveFailures = ParseInt(l.key("MAX_CONSECUTIVE_FAILURES"), cfg.MaxConsecutiveFailures)

	cfg.MaxParallel = ParseInt(l.key("MAX_PARALLEL"), cfg.MaxParallel)
	cfg.Sequential = ParseBool(l.key("SEQUENTIAL"), cfg.Sequential)
	cfg.DispatchDelay = ParseDuration(l.key("DISPATCH_DELAY"), cfg.DispatchDelay)
	cfg.TestMode = ParseBool(l.key("TEST_MODE"), cfg.TestMode)
	cfg.TestVideoCount = ParseInt(l.key("TEST_VIDEO_COUNT"), cfg.TestVideoCount)

	cfg.RequestTimeout = ParseDuration(l.key("REQUEST_TIMEOUT"), cfg.RequestTimeout)
	cfg.RequestRate = ParseFloat(l.key("REQUEST_RATE"), cfg.RequestRate)

	cfg.DataDir = ParseString(l.key("DATA_DIR"), cfg.DataDir)
	cfg.LogLevel = ParseString(l.key("LOG_LEVEL"), cfg.LogLevel)
	cfg.StatusListen = ParseString(l.key("STATUS_LISTEN"), cfg.StatusListen)

	cfg.Telemetry.Enabled = ParseBool(l.key("OTEL_ENABLED"), cfg.Telemetry.Enabled)
	cfg.Telemetry.ExporterType = ParseString(l.key("OTEL_EXPORTER"), cfg.Telemetry.ExporterType)
	cfg.Telemetry.Endpoint = ParseString(l.key("OTEL_ENDPOINT"), cfg.Telemetry.Endpoint)
	cfg.Telemetry.SamplingRate = ParseFloat(l.key("OTEL_SAMPLING_RATE"), cfg.Telemetry.SamplingRate)
	cfg.Telemetry.Environment = ParseString(l.key("OTEL_ENVIRONMENT"), cfg.Telemetry.Environment)
}

// warnUnknownEnv flags VIDBEAT_* variables nothing reads, usually typos.
func (l *Loader) warnUnknownEnv() {
	unknown := UnknownEnvKeys(os.Environ(), l.ConsumedEnvKeys)
	if len(unknown) == 0 {
		return
	}
	logger := log.WithComponent("config")
	logger.Warn().Strs("keys", unknown).Msg("ignoring unknown environment variables")
}

// UnknownEnvKeys returns prefixed keys from environ that are not in known,
// sorted.
func UnknownEnvKeys(environ []string, known map[string]struct{}) []string {
	var out []string
	for _, kv := range environ {
		k, _, _ := strings.Cut(kv, "=")
		if !strings.HasPrefix(k, EnvPrefix) {
			continue
		}
		if _, ok := known[k]; !ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setPtr[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
