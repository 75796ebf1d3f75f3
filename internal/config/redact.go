// SPDX-License-Identifier: MIT

package config

import "github.com/vidbeat/vidbeat/internal/log"

// Redacted returns a copy safe to print: credentials keep only their last
// four characters.
func (c AppConfig) Redacted() AppConfig {
	c.CSRFToken = log.Mask(c.CSRFToken)
	c.SessionID = log.Mask(c.SessionID)
	c.Sign = log.Mask(c.Sign)
	return c
}

// View is the printable form used by "vidbeat config show".
type View struct {
	BaseURL      string `yaml:"baseURL" json:"base_url"`
	ClassroomID  int64  `yaml:"classroomID" json:"classroom_id"`
	Sign         string `yaml:"sign,omitempty" json:"sign,omitempty"`
	UniversityID int64  `yaml:"universityID" json:"university_id"`
	CSRFToken    string `yaml:"csrfToken" json:"csrf_token"`
	SessionID    string `yaml:"sessionID" json:"session_id"`

	Speed                  float64 `yaml:"speed" json:"speed"`
	HeartbeatInterval      string  `yaml:"heartbeatInterval" json:"heartbeat_interval"`
	ProgressEvery          string  `yaml:"progressEvery" json:"progress_every"`
	SkipCompleted          bool    `yaml:"skipCompleted" json:"skip_completed"`
	CompleteThreshold      float64 `yaml:"completeThreshold" json:"complete_threshold"`
	Rewind                 float64 `yaml:"rewind" json:"rewind"`
	MaxConsecutiveFailures int     `yaml:"maxConsecutiveFailures" json:"max_consecutive_failures"`

	MaxParallel    int    `yaml:"maxParallel" json:"max_parallel"`
	Sequential     bool   `yaml:"sequential" json:"sequential"`
	DispatchDelay  string `yaml:"dispatchDelay" json:"dispatch_delay"`
	TestMode       bool   `yaml:"testMode" json:"test_mode"`
	TestVideoCount int    `yaml:"testVideoCount" json:"test_video_count"`

	RequestTimeout string  `yaml:"requestTimeout" json:"request_timeout"`
	RequestRate    float64 `yaml:"requestRate" json:"request_rate"`

	DataDir      string `yaml:"dataDir,omitempty" json:"data_dir,omitempty"`
	LogLevel     string `yaml:"logLevel" json:"log_level"`
	StatusListen string `yaml:"statusListen,omitempty" json:"status_listen,omitempty"`
	Telemetry    bool   `yaml:"telemetry" json:"telemetry"`
}

// RedactedView flattens the redacted configuration for printing.
func (c AppConfig) RedactedView() View {
	r := c.Redacted()
	return View{
		BaseURL:                r.BaseURL,
		ClassroomID:            r.ClassroomID,
		Sign:                   r.Sign,
		UniversityID:           r.UniversityID,
		CSRFToken:              r.CSRFToken,
		SessionID:              r.SessionID,
		Speed:                  r.Speed,
		HeartbeatInterval:      r.HeartbeatInterval.String(),
		ProgressEvery:          r.ProgressEvery.String(),
		SkipCompleted:          r.SkipCompleted,
		CompleteThreshold:      r.CompleteThreshold,
		Rewind:                 r.Rewind,
		MaxConsecutiveFailures: r.MaxConsecutiveFailures,
		MaxParallel:            r.MaxParallel,
		Sequential:             r.Sequential,
		DispatchDelay:          r.DispatchDelay.String(),
		TestMode:               r.TestMode,
		TestVideoCount:         r.TestVideoCount,
		RequestTimeout:         r.RequestTimeout.String(),
		RequestRate:            r.RequestRate,
		DataDir:                r.DataDir,
		LogLevel:               r.LogLevel,
		StatusListen:           r.StatusListen,
		Telemetry:              r.Telemetry.Enabled,
	}
}
