// SPDX-License-Identifier: MIT

package config

import "errors"

var (
	// ErrUnknownConfigField wraps strict-decoding failures caused by keys
	// the file schema does not know.
	ErrUnknownConfigField = errors.New("unknown config field")
	// ErrUnsupportedFormat rejects files that are not .yaml or .yml.
	ErrUnsupportedFormat = errors.New("unsupported config format")
)

// FileConfig mirrors the YAML file. Pointer fields distinguish "unset" from
// an explicit zero value.
type FileConfig struct {
	BaseURL      string `yaml:"baseURL,omitempty"`
	ClassroomID  *int64 `yaml:"classroomID,omitempty"`
	Sign         string `yaml:"sign,omitempty"`
	UniversityID *int64 `yaml:"universityID,omitempty"`
	CSRFToken    string `yaml:"csrfToken,omitempty"`
	SessionID    string `yaml:"sessionID,omitempty"`
	LoginType    string `yaml:"loginType,omitempty"`
	Language     string `yaml:"language,omitempty"`

	Playback  PlaybackFileConfig  `yaml:"playback,omitempty"`
	Scheduler SchedulerFileConfig `yaml:"scheduler,omitempty"`
	Client    ClientFileConfig    `yaml:"client,omitempty"`
	Telemetry TelemetryFileConfig `yaml:"telemetry,omitempty"`

	DataDir      string `yaml:"dataDir,omitempty"`
	LogLevel     string `yaml:"logLevel,omitempty"`
	StatusListen string `yaml:"statusListen,omitempty"`
}

// PlaybackFileConfig holds session pacing.
type PlaybackFileConfig struct {
	Speed                  *float64 `yaml:"speed,omitempty"`
	HeartbeatInterval      string   `yaml:"heartbeatInterval,omitempty"`
	ProgressEvery          string   `yaml:"progressEvery,omitempty"`
	SkipCompleted          *bool    `yaml:"skipCompleted,omitempty"`
	CompleteThreshold      *float64 `yaml:"completeThreshold,omitempty"`
	Rewind                 *float64 `yaml:"rewind,omitempty"`
	MaxConsecutiveFailures *int     `yaml:"maxConsecutiveFailures,omitempty"`
}

// SchedulerFileConfig holds run-level settings.
type SchedulerFileConfig struct {
	MaxParallel    *int   `yaml:"maxParallel,omitempty"`
	Sequential     *bool  `yaml:"sequential,omitempty"`
	DispatchDelay  string `yaml:"dispatchDelay,omitempty"`
	TestMode       *bool  `yaml:"testMode,omitempty"`
	TestVideoCount *int   `yaml:"testVideoCount,omitempty"`
}

// ClientFileConfig holds upstream HTTP settings.
type ClientFileConfig struct {
	RequestTimeout string   `yaml:"requestTimeout,omitempty"`
	RequestRate    *float64 `yaml:"requestRate,omitempty"`
}

// TelemetryFileConfig holds tracing export settings.
type TelemetryFileConfig struct {
	Enabled      *bool    `yaml:"enabled,omitempty"`
	ExporterType string   `yaml:"exporter,omitempty"`
	Endpoint     string   `yaml:"endpoint,omitempty"`
	SamplingRate *float64 `yaml:"samplingRate,omitempty"`
	Environment  string   `yaml:"environment,omitempty"`
}
