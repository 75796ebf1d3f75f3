// SPDX-License-Identifier: MIT

package heartbeat

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTarget() VideoTarget {
	return VideoTarget{
		VideoID:       4711,
		CourseID:      100,
		SKUID:         200,
		ClassroomID:   300,
		ContentID:     "CC-ABC",
		UserID:        400,
		UniversityID:  500,
		CSRFToken:     "csrf",
		SessionViewID: 500,
		Duration:      120,
	}
}

func TestBuild_DefaultsPositionsToCurrent(t *testing.T) {
	fixed := time.UnixMilli(1700000000123)
	b := Builder{Target: testTarget(), Speed: 1.5, Now: func() time.Time { return fixed }}

	ev := b.Build(EventPlaying, 42.5, 7)

	assert.Equal(t, EventPlaying, ev.Type)
	assert.Equal(t, 42.5, ev.Current)
	assert.Equal(t, 42.5, ev.First)
	assert.Equal(t, 42.5, ev.True)
	assert.Equal(t, 1.5, ev.Speed)
	assert.Equal(t, int64(7), ev.Sequence)
	assert.Equal(t, int64(1700000000123), ev.TimestampMS)
	assert.Equal(t, "4711_q8mn", ev.PageID)
	assert.Equal(t, "300", ev.ClassroomID)
}

func TestBuild_OptionsOverridePositions(t *testing.T) {
	b := NewBuilder(testTarget(), 1)

	ev := b.Build(EventPlaying, 50, 1, WithFirst(35), WithTrue(49))

	assert.Equal(t, 50.0, ev.Current)
	assert.Equal(t, 35.0, ev.First)
	assert.Equal(t, 49.0, ev.True)
}

func TestEvent_WireFormat(t *testing.T) {
	b := Builder{Target: testTarget(), Speed: 1, Now: func() time.Time { return time.UnixMilli(1000) }}
	raw, err := json.Marshal(b.Build(EventLoadStart, 0, 1))
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))

	assert.Equal(t, float64(5), m["i"])
	assert.Equal(t, "loadstart", m["et"])
	assert.Equal(t, "1000", m["ts"], "timestamp is sent as a string")
	assert.Equal(t, "300", m["classroomid"])
	assert.Equal(t, "CC-ABC", m["cc"])
	assert.Equal(t, "video", m["t"])
	assert.Equal(t, "", m["uip"])
	assert.Equal(t, float64(1), m["sq"])
	for _, key := range []string{"u", "c", "v", "skuid", "d", "cards_id", "slide", "v_url", "lob", "n", "p"} {
		assert.Contains(t, m, key)
	}
}

func TestSequence_StartsAtOneAndIncrements(t *testing.T) {
	var s Sequence
	assert.Equal(t, int64(0), s.Current())
	for want := int64(1); want <= 5; want++ {
		assert.Equal(t, want, s.Next())
	}
	assert.Equal(t, int64(5), s.Current())

	var other Sequence
	assert.Equal(t, int64(1), other.Next(), "sequences are independent")
}

func TestVideoTarget_Validate(t *testing.T) {
	require.NoError(t, testTarget().Validate())

	zeroDuration := testTarget()
	zeroDuration.Duration = 0
	err := zeroDuration.Validate()
	require.ErrorIs(t, err, ErrInvalidTarget)
	assert.Contains(t, err.Error(), "duration")

	missing := testTarget()
	missing.ContentID = ""
	missing.CSRFToken = " "
	err = missing.Validate()
	require.ErrorIs(t, err, ErrInvalidTarget)
	assert.Contains(t, err.Error(), "content_id, csrf_token")
}

func TestClampRate(t *testing.T) {
	assert.Equal(t, 0.0, ClampRate(-0.5))
	assert.Equal(t, 0.42, ClampRate(0.42))
	assert.Equal(t, 1.0, ClampRate(1.7))
}
