// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by session and scheduler spans.
const (
	VideoIDKey     = "vidbeat.video_id"
	ClassroomIDKey = "vidbeat.classroom_id"
	DurationKey    = "vidbeat.duration_seconds"
	StartPosKey    = "vidbeat.start_position"
	SpeedKey       = "vidbeat.speed"
	OutcomeKey     = "vidbeat.outcome"
	ReasonKey      = "vidbeat.reason"
	EventsSentKey  = "vidbeat.events_sent"

	RunIDKey       = "vidbeat.run_id"
	MaxParallelKey = "vidbeat.max_parallel"
	TotalKey       = "vidbeat.total"
)

// SessionAttributes describes the video a playback session works on.
func SessionAttributes(videoID, classroomID int64, duration, speed float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int64(VideoIDKey, videoID),
		attribute.Int64(ClassroomIDKey, classroomID),
		attribute.Float64(DurationKey, duration),
		attribute.Float64(SpeedKey, speed),
	}
}

// OutcomeAttributes describes how a session ended.
func OutcomeAttributes(outcome, reason string, eventsSent int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(OutcomeKey, outcome),
		attribute.Int(EventsSentKey, eventsSent),
	}
	if reason != "" {
		attrs = append(attrs, attribute.String(ReasonKey, reason))
	}
	return attrs
}
