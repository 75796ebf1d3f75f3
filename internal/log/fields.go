// SPDX-License-Identifier: MIT

package log

// Field names shared by every component's log lines.
const (
	FieldRunID     = "run_id"
	FieldVideoID   = "video_id"
	FieldLeafID    = "leaf_id"
	FieldComponent = "component"
	FieldOperation = "operation"
	FieldStrategy  = "strategy"

	// heartbeat and progress
	FieldEvent    = "event"
	FieldSequence = "seq"
	FieldPosition = "position"
	FieldDuration = "duration"
	FieldRate     = "rate"

	// session lifecycle
	FieldOldState = "old_state"
	FieldNewState = "new_state"
	FieldOutcome  = "outcome"
	FieldReason   = "reason"
)
