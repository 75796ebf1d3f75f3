// SPDX-License-Identifier: MIT

package heartbeat

import (
	"strconv"
	"time"
)

// EventType is the player lifecycle event reported in a heartbeat.
type EventType string

const (
	EventLoadStart  EventType = "loadstart"
	EventSeeking    EventType = "seeking"
	EventLoadedData EventType = "loadeddata"
	EventPlay       EventType = "play"
	EventPlaying    EventType = "playing"
	EventPause      EventType = "pause"
	EventWaiting    EventType = "waiting"
	EventVideoEnd   EventType = "videoend"
)

// Fixed values the web player always reports.
const (
	eventClass   = 5
	platformWeb  = "web"
	cdnHost      = "ali-cdn.xuetangx.com"
	lineOfBiz    = "ykt"
	kindVideo    = "video"
	pageIDSuffix = "_q8mn"
)

// Event is one heartbeat record in the platform's wire format.
type Event struct {
	Class       int       `json:"i"`
	Type        EventType `json:"et"`
	Platform    string    `json:"p"`
	CDN         string    `json:"n"`
	LOB         string    `json:"lob"`
	Current     float64   `json:"cp"`
	First       float64   `json:"fp"`
	True        float64   `json:"tp"`
	Speed       float64   `json:"sp"`
	TimestampMS int64     `json:"ts,string"`
	UserID      int64     `json:"u"`
	UserIP      string    `json:"uip"`
	CourseID    int64     `json:"c"`
	VideoID     int64     `json:"v"`
	SKUID       int64     `json:"skuid"`
	ClassroomID string    `json:"classroomid"`
	ContentID   string    `json:"cc"`
	Duration    float64   `json:"d"`
	PageID      string    `json:"pg"`
	Sequence    int64     `json:"sq"`
	Kind        string    `json:"t"`
	CardsID     int       `json:"cards_id"`
	Slide       int       `json:"slide"`
	VideoURL    string    `json:"v_url"`
}

// Option overrides an optional position of a built event.
type Option func(*Event)

// WithFirst sets the first-play position. Defaults to the current position.
func WithFirst(pos float64) Option {
	return func(e *Event) { e.First = pos }
}

// WithTrue sets the true-play position. Defaults to the current position.
func WithTrue(pos float64) Option {
	return func(e *Event) { e.True = pos }
}

// Builder shapes events for one target at one playback speed.
// It holds no mutable state; sequence numbers are supplied by the caller.
type Builder struct {
	Target VideoTarget
	Speed  float64
	Now    func() time.Time
}

// NewBuilder returns a Builder using the wall clock.
func NewBuilder(target VideoTarget, speed float64) Builder {
	return Builder{Target: target, Speed: speed, Now: time.Now}
}

// Build constructs the event for the given type, position and sequence number.
func (b Builder) Build(typ EventType, current float64, seq int64, opts ...Option) Event {
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	t := b.Target
	ev := Event{
		Class:       eventClass,
		Type:        typ,
		Platform:    platformWeb,
		CDN:         cdnHost,
		LOB:         lineOfBiz,
		Current:     current,
		First:       current,
		True:        current,
		Speed:       b.Speed,
		TimestampMS: now().UnixMilli(),
		UserID:      t.UserID,
		CourseID:    t.CourseID,
		VideoID:     t.VideoID,
		SKUID:       t.SKUID,
		ClassroomID: strconv.FormatInt(t.ClassroomID, 10),
		ContentID:   t.ContentID,
		Duration:    t.Duration,
		PageID:      t.Key() + pageIDSuffix,
		Sequence:    seq,
		Kind:        kindVideo,
	}
	for _, opt := range opts {
		opt(&ev)
	}
	return ev
}

// Sequence is a per-session heartbeat counter. It is owned by exactly one
// session goroutine and is deliberately not synchronised.
type Sequence struct {
	n int64
}

// Next increments the counter and returns the new value. The first call returns 1.
func (s *Sequence) Next() int64 {
	s.n++
	return s.n
}

// Current returns the last issued value (0 before the first Next).
func (s *Sequence) Current() int64 {
	return s.n
}
