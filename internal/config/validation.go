// SPDX-License-Identifier: MIT

package config

import (
	"time"

	"github.com/vidbeat/vidbeat/internal/validate"
)

var (
	logLevels     = []string{"trace", "debug", "info", "warn", "error"}
	exporterTypes = []string{"grpc", "http"}
)

// Validate reports every invalid field at once as a validate.ValidationError.
func Validate(cfg AppConfig) error {
	v := validate.New()

	v.URL("BaseURL", cfg.BaseURL, []string{"http", "https"})
	v.Positive("ClassroomID", cfg.ClassroomID)
	if cfg.UniversityID < 0 {
		v.AddError("UniversityID", "value cannot be negative", cfg.UniversityID)
	}
	v.NotEmpty("CSRFToken", cfg.CSRFToken)
	v.NotEmpty("SessionID", cfg.SessionID)

	v.FloatRange("Speed", cfg.Speed, 0.25, 16)
	v.MinDuration("HeartbeatInterval", cfg.HeartbeatInterval, 100*time.Millisecond)
	if cfg.ProgressEvery < 0 {
		v.AddError("ProgressEvery", "duration cannot be negative", cfg.ProgressEvery)
	}
	v.FloatRange("CompleteThreshold", cfg.CompleteThreshold, 0, 1)
	v.NonNegative("Rewind", cfg.Rewind)
	v.Range("MaxConsecutiveFailures", cfg.MaxConsecutiveFailures, 0, 1000)

	v.Range("MaxParallel", cfg.MaxParallel, 1, 64)
	if cfg.DispatchDelay < 0 {
		v.AddError("DispatchDelay", "duration cannot be negative", cfg.DispatchDelay)
	}
	if cfg.TestMode {
		v.Range("TestVideoCount", cfg.TestVideoCount, 1, 10000)
	}

	v.MinDuration("RequestTimeout", cfg.RequestTimeout, 100*time.Millisecond)
	v.NonNegative("RequestRate", cfg.RequestRate)

	if cfg.DataDir != "" {
		v.Directory("DataDir", cfg.DataDir)
	}
	v.OneOf("LogLevel", cfg.LogLevel, logLevels)
	if cfg.StatusListen != "" {
		v.ListenAddr("StatusListen", cfg.StatusListen)
	}

	if cfg.Telemetry.Enabled {
		v.OneOf("Telemetry.ExporterType", cfg.Telemetry.ExporterType, exporterTypes)
		v.NotEmpty("Telemetry.Endpoint", cfg.Telemetry.Endpoint)
		v.FloatRange("Telemetry.SamplingRate", cfg.Telemetry.SamplingRate, 0, 1)
	}

	return v.Err()
}
