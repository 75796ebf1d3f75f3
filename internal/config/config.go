// SPDX-License-Identifier: MIT

// Package config loads vidbeat settings with precedence ENV > YAML file >
// defaults and validates the result.
package config

import (
	"strconv"
	"time"
)

// EnvPrefix namespaces every environment variable.
const EnvPrefix = "VIDBEAT_"

// Defaults.
const (
	DefaultBaseURL                = "https://changjiang.yuketang.cn"
	DefaultSpeed                  = 1.5
	DefaultHeartbeatInterval      = 5 * time.Second
	DefaultProgressEvery          = 30 * time.Second
	DefaultMaxParallel            = 3
	DefaultCompleteThreshold      = 0.9
	DefaultRewind                 = 10.0
	DefaultMaxConsecutiveFailures = 3
	DefaultTestVideoCount         = 5
	DefaultDispatchDelay          = 500 * time.Millisecond
	DefaultSequentialDelay        = 2 * time.Second
	DefaultRequestTimeout         = 10 * time.Second
	DefaultRequestRate            = 10.0
	DefaultLogLevel               = "info"
	DefaultLoginType              = "WX"
	DefaultLanguage               = "zh-cn"
)

// AppConfig is the resolved runtime configuration.
type AppConfig struct {
	// Platform account.
	BaseURL      string
	ClassroomID  int64
	Sign         string
	UniversityID int64
	CSRFToken    string
	SessionID    string
	LoginType    string
	Language     string

	// Playback pacing.
	Speed                  float64
	HeartbeatInterval      time.Duration
	ProgressEvery          time.Duration
	SkipCompleted          bool
	CompleteThreshold      float64
	Rewind                 float64
	MaxConsecutiveFailures int

	// Scheduling.
	MaxParallel    int
	Sequential     bool
	DispatchDelay  time.Duration
	TestMode       bool
	TestVideoCount int

	// Upstream client.
	RequestTimeout time.Duration
	RequestRate    float64

	// Local state and observability.
	DataDir      string
	LogLevel     string
	StatusListen string
	Telemetry    TelemetryConfig

	// Version is stamped from the binary, never from files.
	Version string
}

// TelemetryConfig controls OpenTelemetry export.
type TelemetryConfig struct {
	Enabled      bool
	ExporterType string
	Endpoint     string
	SamplingRate float64
	Environment  string
}

// Defaults returns a configuration with every default applied. Required
// credentials are left empty.
func Defaults() AppConfig {
	return AppConfig{
		BaseURL:                DefaultBaseURL,
		LoginType:              DefaultLoginType,
		Language:               DefaultLanguage,
		Speed:                  DefaultSpeed,
		HeartbeatInterval:      DefaultHeartbeatInterval,
		ProgressEvery:          DefaultProgressEvery,
		SkipCompleted:          true,
		CompleteThreshold:      DefaultCompleteThreshold,
		Rewind:                 DefaultRewind,
		MaxConsecutiveFailures: DefaultMaxConsecutiveFailures,
		MaxParallel:            DefaultMaxParallel,
		DispatchDelay:          DefaultDispatchDelay,
		TestVideoCount:         DefaultTestVideoCount,
		RequestTimeout:         DefaultRequestTimeout,
		RequestRate:            DefaultRequestRate,
		LogLevel:               DefaultLogLevel,
		Telemetry: TelemetryConfig{
			ExporterType: "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
			Environment:  "local",
		},
	}
}

// EffectiveParallelism applies sequential mode on top of MaxParallel and
// DispatchDelay.
func (c AppConfig) EffectiveParallelism() (maxParallel int, delay time.Duration) {
	if c.Sequential {
		return 1, max(c.DispatchDelay, DefaultSequentialDelay)
	}
	return c.MaxParallel, c.DispatchDelay
}

// Cookies returns the browser cookie set the platform expects.
func (c AppConfig) Cookies() map[string]string {
	uni := strconv.FormatInt(c.UniversityID, 10)
	classroom := strconv.FormatInt(c.ClassroomID, 10)
	return map[string]string{
		"login_type":      c.LoginType,
		"csrftoken":       c.CSRFToken,
		"sessionid":       c.SessionID,
		"django_language": c.Language,
		"uv_id":           uni,
		"university_id":   uni,
		"platform_id":     "3",
		"classroomId":     classroom,
		"classroom_id":    classroom,
		"xtbz":            "ykt",
		"platform_type":   "1",
	}
}
