// SPDX-License-Identifier: MIT

// Package heartbeat defines the records exchanged with the platform's
// video-log endpoint: the resolved video target, playback events and the
// per-session sequence counter.
package heartbeat

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// VideoTarget identifies one watchable video leaf. It is produced by the
// resolver and never mutated afterwards.
type VideoTarget struct {
	VideoID       int64   `json:"video_id"`
	CourseID      int64   `json:"course_id"`
	SKUID         int64   `json:"sku_id"`
	ClassroomID   int64   `json:"classroom_id"`
	ContentID     string  `json:"content_id"`
	UserID        int64   `json:"user_id"`
	UniversityID  int64   `json:"university_id"`
	CSRFToken     string  `json:"-"`
	SessionViewID int64   `json:"session_view_id"`
	Duration      float64 `json:"duration_seconds"`

	Name    string `json:"name,omitempty"`
	Chapter string `json:"chapter,omitempty"`
}

// ErrInvalidTarget is returned by Validate for targets a session cannot pace.
var ErrInvalidTarget = errors.New("heartbeat: invalid video target")

// Key returns the stable string form of the video ID.
func (t VideoTarget) Key() string {
	return strconv.FormatInt(t.VideoID, 10)
}

// Label is a human readable identifier for logs.
func (t VideoTarget) Label() string {
	if t.Name == "" {
		return t.Key()
	}
	return t.Name + " (" + t.Key() + ")"
}

// Validate reports every missing field a session depends on.
func (t VideoTarget) Validate() error {
	var missing []string
	if t.VideoID <= 0 {
		missing = append(missing, "video_id")
	}
	if t.CourseID <= 0 {
		missing = append(missing, "course_id")
	}
	if t.SKUID <= 0 {
		missing = append(missing, "sku_id")
	}
	if t.ClassroomID <= 0 {
		missing = append(missing, "classroom_id")
	}
	if t.UserID <= 0 {
		missing = append(missing, "user_id")
	}
	if strings.TrimSpace(t.ContentID) == "" {
		missing = append(missing, "content_id")
	}
	if strings.TrimSpace(t.CSRFToken) == "" {
		missing = append(missing, "csrf_token")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidTarget, strings.Join(missing, ", "))
	}
	if !(t.Duration > 0) {
		return fmt.Errorf("%w: duration must be positive, got %v", ErrInvalidTarget, t.Duration)
	}
	return nil
}
