// SPDX-License-Identifier: MIT

package heartbeat

// Progress is the platform's view of how much of a video has been watched.
type Progress struct {
	// Rate is the completion fraction, clamped to [0,1].
	Rate float64 `json:"rate"`
	// LastPoint is the last recorded playback position in seconds.
	LastPoint float64 `json:"last_point"`
}

// ClampRate bounds a reported completion rate to [0,1].
func ClampRate(r float64) float64 {
	switch {
	case r != r: // NaN
		return 0
	case r < 0:
		return 0
	case r > 1:
		return 1
	default:
		return r
	}
}
