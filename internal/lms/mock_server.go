// SPDX-License-Identifier: MIT

package lms

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"

	"github.com/vidbeat/vidbeat/internal/heartbeat"
)

// Endpoint names accepted by MockServer.SetFailures and SetDelay. They match
// the operation names the client reports in errors and metrics.
const (
	EndpointHeartbeat     = "heartbeat"
	EndpointProgress      = "progress"
	EndpointChapters      = "chapters"
	EndpointLeafInfo      = "leaf_info"
	EndpointLeafProgress  = "leafprogress"
	EndpointLeaf          = "leaf"
	EndpointLeafInfoShort = "leaf_info_short"
	EndpointClassroomInfo = "classroom_info"
	EndpointDrag          = "drag"
	EndpointWatermark     = "watermark"
	EndpointPlayURL       = "playurl"
	EndpointMedia         = "media"
)

// MockVideo is one video leaf served by MockServer.
type MockVideo struct {
	LeafID    int64
	Name      string
	Chapter   string
	CourseID  int64
	SKUID     int64
	UserID    int64
	ContentID string

	// MediaDuration is reported in content_info.media.duration; zero omits it.
	MediaDuration float64

	// Nested places the leaf in a "Video" section's leaf_list instead of
	// listing it directly as a section.
	Nested bool
}

type mockFailure struct {
	remaining int // -1 fails forever
	status    int
}

// MockServer is a configurable platform mock for tests.
type MockServer struct {
	*httptest.Server

	mu         sync.Mutex
	videos     []MockVideo
	progress   map[string]heartbeat.Progress
	progressRC int
	progressMs string
	media      map[string][]byte
	failures   map[string]*mockFailure
	delay      map[string]time.Duration
	requests   map[string]int
	batches    [][]heartbeat.Event
	headers    map[string]http.Header
	success    map[string]bool
}

// NewMockServer starts a mock platform server.
func NewMockServer() *MockServer {
	m := &MockServer{
		progress: make(map[string]heartbeat.Progress),
		media:    make(map[string][]byte),
		failures: make(map[string]*mockFailure),
		delay:    make(map[string]time.Duration),
		requests: make(map[string]int),
		headers:  make(map[string]http.Header),
		success:  make(map[string]bool),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /video-log/heartbeat/", m.guard(EndpointHeartbeat, m.handleHeartbeat))
	mux.HandleFunc("GET /video-log/get_video_watch_progress/", m.guard(EndpointProgress, m.handleProgress))
	mux.HandleFunc("GET /mooc-api/v1/lms/learn/course/chapter", m.guard(EndpointChapters, m.handleChapters))
	mux.HandleFunc("GET /mooc-api/v1/lms/learn/leaf_info/{classroom}/{leaf}/{$}", m.guard(EndpointLeafInfo, m.leafHandler(EndpointLeafInfo)))
	mux.HandleFunc("GET /mooc-api/v1/lms/learn/leafprogress/{classroom}/{leaf}/{$}", m.guard(EndpointLeafProgress, m.leafHandler(EndpointLeafProgress)))
	mux.HandleFunc("GET /mooc-api/v1/lms/learn/leaf/{leaf}/{$}", m.guard(EndpointLeaf, m.leafHandler(EndpointLeaf)))
	mux.HandleFunc("GET /mooc-api/v1/lms/learn/leaf_info/{leaf}/{$}", m.guard(EndpointLeafInfoShort, m.leafHandler(EndpointLeafInfoShort)))
	mux.HandleFunc("GET /mooc-api/v1/lms/learn/classroom_info/", m.guard(EndpointClassroomInfo, m.handleClassroom))
	mux.HandleFunc("GET /mooc-api/v1/lms/learn/video/drag", m.guard(EndpointDrag, m.handleDrag))
	mux.HandleFunc("GET /c27/api/v1/platfrom/watermark", m.guard(EndpointWatermark, m.handleWatermark))
	mux.HandleFunc("GET /api/open/audiovideo/playurl", m.guard(EndpointPlayURL, m.handlePlayURL))
	mux.HandleFunc("GET /media/{content}", m.guard(EndpointMedia, m.handleMedia))

	m.Server = httptest.NewServer(mux)
	return m
}

// AddVideo registers a video leaf.
func (m *MockServer) AddVideo(v MockVideo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.videos = append(m.videos, v)
}

// SetProgress sets the recorded progress for a leaf.
func (m *MockServer) SetProgress(leafID int64, p heartbeat.Progress) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress[strconv.FormatInt(leafID, 10)] = p
}

// SetProgressCode makes the progress endpoint answer with a non-zero code.
func (m *MockServer) SetProgressCode(code int, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progressRC = code
	m.progressMs = msg
}

// SetMedia serves data as the media file for a content id.
func (m *MockServer) SetMedia(contentID string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.media[contentID] = data
}

// SetFailures makes an endpoint answer with status for the next count
// requests. A negative count fails every request.
func (m *MockServer) SetFailures(endpoint string, count, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if count == 0 {
		delete(m.failures, endpoint)
		return
	}
	if count < 0 {
		count = -1
	}
	m.failures[endpoint] = &mockFailure{remaining: count, status: status}
}

// SetSuccessFlag forces the success field of an envelope endpoint.
func (m *MockServer) SetSuccessFlag(endpoint string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.success[endpoint] = ok
}

// SetDelay delays every response of an endpoint.
func (m *MockServer) SetDelay(endpoint string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay[endpoint] = d
}

// Requests returns how often an endpoint was called.
func (m *MockServer) Requests(endpoint string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[endpoint]
}

// LastHeaders returns the headers of the latest request to an endpoint.
func (m *MockServer) LastHeaders(endpoint string) http.Header {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.headers[endpoint].Clone()
}

// Batches returns every accepted heartbeat batch in arrival order.
func (m *MockServer) Batches() [][]heartbeat.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]heartbeat.Event, len(m.batches))
	copy(out, m.batches)
	return out
}

// Events returns accepted heartbeats for one video in arrival order.
func (m *MockServer) Events(videoID int64) []heartbeat.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []heartbeat.Event
	for _, b := range m.batches {
		for _, e := range b {
			if e.VideoID == videoID {
				out = append(out, e)
			}
		}
	}
	return out
}

func (m *MockServer) guard(name string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.requests[name]++
		m.headers[name] = r.Header.Clone()
		delay := m.delay[name]
		var failStatus int
		if f, ok := m.failures[name]; ok {
			failStatus = f.status
			if f.remaining > 0 {
				f.remaining--
				if f.remaining == 0 {
					delete(m.failures, name)
				}
			}
		}
		m.mu.Unlock()

		if delay > 0 {
			t := time.NewTimer(delay)
			select {
			case <-t.C:
			case <-r.Context().Done():
				t.Stop()
				return
			}
		}
		if failStatus != 0 {
			http.Error(w, http.StatusText(failStatus), failStatus)
			return
		}
		h(w, r)
	}
}

func (m *MockServer) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var body struct {
		HeartData []heartbeat.Event `json:"heart_data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}
	m.mu.Lock()
	m.batches = append(m.batches, body.HeartData)
	m.mu.Unlock()
	writeJSON(w, map[string]any{})
}

func (m *MockServer) handleProgress(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("video_id")
	m.mu.Lock()
	code, msg := m.progressRC, m.progressMs
	p, ok := m.progress[id]
	m.mu.Unlock()

	if code != 0 {
		writeJSON(w, map[string]any{"code": code, "msg": msg, "data": []any{}})
		return
	}
	data := map[string]any{}
	if ok {
		data[id] = map[string]any{"rate": p.Rate, "last_point": p.LastPoint}
	}
	writeJSON(w, map[string]any{"code": 0, "data": data})
}

func (m *MockServer) handleChapters(w http.ResponseWriter, _ *http.Request) {
	m.mu.Lock()
	videos := append([]MockVideo(nil), m.videos...)
	ok := m.successFlag(EndpointChapters)
	m.mu.Unlock()

	type chapter struct {
		Name     string           `json:"name"`
		Sections []map[string]any `json:"section_leaf_list"`
	}
	var chapters []*chapter
	byName := map[string]*chapter{}
	for _, v := range videos {
		c := byName[v.Chapter]
		if c == nil {
			c = &chapter{Name: v.Chapter}
			byName[v.Chapter] = c
			chapters = append(chapters, c)
		}
		if v.Nested {
			c.Sections = append(c.Sections, map[string]any{
				"id":        v.LeafID + 1_000_000,
				"name":      "Video",
				"leaf_type": nil,
				"sku_id":    v.SKUID,
				"leaf_list": []map[string]any{
					{"id": v.LeafID + 2_000_000, "name": "quiz", "leaf_type": 6},
					{"id": v.LeafID, "name": v.Name, "leaf_type": 0},
				},
			})
			continue
		}
		c.Sections = append(c.Sections, map[string]any{
			"id":        v.LeafID,
			"name":      v.Name,
			"leaf_type": nil,
			"sku_id":    v.SKUID,
		})
	}
	// a non-video section the walker must ignore
	if len(chapters) > 0 {
		chapters[0].Sections = append(chapters[0].Sections, map[string]any{
			"id": 9_999_999, "name": "Homework", "leaf_type": 6,
		})
	}
	writeJSON(w, map[string]any{"success": ok, "msg": "", "data": map[string]any{"course_chapter": chapters}})
}

func (m *MockServer) leafHandler(endpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.handleLeaf(w, r, endpoint)
	}
}

func (m *MockServer) handleLeaf(w http.ResponseWriter, r *http.Request, endpoint string) {
	leafID, err := strconv.ParseInt(r.PathValue("leaf"), 10, 64)
	if err != nil {
		http.Error(w, "bad leaf id", http.StatusBadRequest)
		return
	}
	m.mu.Lock()
	ok := m.successFlag(endpoint)
	var found *MockVideo
	for i := range m.videos {
		if m.videos[i].LeafID == leafID {
			v := m.videos[i]
			found = &v
			break
		}
	}
	m.mu.Unlock()

	if found == nil {
		http.NotFound(w, r)
		return
	}
	if !ok {
		writeJSON(w, map[string]any{"success": false, "msg": "leaf unavailable", "data": map[string]any{}})
		return
	}
	media := map[string]any{"ccid": found.ContentID}
	if found.MediaDuration > 0 {
		media["duration"] = found.MediaDuration
	}
	writeJSON(w, map[string]any{
		"success": true,
		"data": map[string]any{
			"id":            found.LeafID,
			"name":          found.Name,
			"user_id":       found.UserID,
			"course_id":     found.CourseID,
			"sku_id":        strconv.FormatInt(found.SKUID, 10),
			"university_id": 0,
			"content_info":  map[string]any{"media": media},
		},
	})
}

func (m *MockServer) handleClassroom(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"success": true, "data": map[string]any{
		"classroom_id": r.URL.Query().Get("classroom_id"),
		"name":         "mock classroom",
	}})
}

func (m *MockServer) handleDrag(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{"success": true, "data": map[string]any{"has_drag": true}})
}

func (m *MockServer) handleWatermark(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{"success": true, "data": map[string]any{"enabled": false}})
}

func (m *MockServer) handlePlayURL(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("video_id")
	m.mu.Lock()
	_, ok := m.media[id]
	m.mu.Unlock()

	sources := map[string][]string{}
	if ok {
		sources["quality20"] = []string{fmt.Sprintf("%s/media/%s", m.URL, id)}
	}
	writeJSON(w, map[string]any{"success": true, "data": map[string]any{
		"playurl": map[string]any{"sources": sources},
	}})
}

func (m *MockServer) handleMedia(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("content")
	m.mu.Lock()
	data, ok := m.media[id]
	m.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "video/mp4")
	http.ServeContent(w, r, id+".mp4", time.Time{}, bytes.NewReader(data))
}

// successFlag must be called with m.mu held.
func (m *MockServer) successFlag(endpoint string) bool {
	if v, ok := m.success[endpoint]; ok {
		return v
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
