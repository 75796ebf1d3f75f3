// SPDX-License-Identifier: MIT

// Package lms is the HTTP client for the learning platform: heartbeat
// submission, watch-progress queries and the course/leaf metadata endpoints
// used to resolve video targets.
package lms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/vidbeat/vidbeat/internal/heartbeat"
	vblog "github.com/vidbeat/vidbeat/internal/log"
	"github.com/vidbeat/vidbeat/internal/metrics"
	"github.com/vidbeat/vidbeat/internal/platform/httpx"
	"github.com/vidbeat/vidbeat/internal/resilience"
)

// DefaultBaseURL is the public platform host.
const DefaultBaseURL = "https://changjiang.yuketang.cn"

const (
	heartbeatPath   = "/video-log/heartbeat/"
	progressPath    = "/video-log/get_video_watch_progress/"
	chapterPath     = "/mooc-api/v1/lms/learn/course/chapter"
	classroomPath   = "/mooc-api/v1/lms/learn/classroom_info/"
	dragPath        = "/mooc-api/v1/lms/learn/video/drag"
	watermarkPath   = "/c27/api/v1/platfrom/watermark"
	playURLPath     = "/api/open/audiovideo/playurl"
	csrfCookie      = "csrftoken"
	maxResponseBody = 4 << 20
)

const (
	userAgent  = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36"
	acceptJSON = "application/json, text/plain, */*"
)

// Options configures a Client.
type Options struct {
	BaseURL string

	// HTTPClient must carry the authenticated cookie jar.
	HTTPClient *http.Client

	// RequestRate caps requests per second across all sessions; 0 disables.
	RequestRate float64
	Burst       int

	// Breaker is optional; when nil the client never fails fast.
	Breaker *resilience.CircuitBreaker

	UniversityID int64
}

// NewBreaker returns a circuit breaker that only counts availability
// failures. Rejections and 4xx replies prove the platform is up.
func NewBreaker(threshold int, resetTimeout time.Duration) *resilience.CircuitBreaker {
	return resilience.NewCircuitBreaker("lms", threshold, resetTimeout, resilience.WithFailureFilter(IsTransient))
}

// Client talks to the platform. It is safe for concurrent use; all fields are
// read-only after New and the cookie jar is shared by every session.
type Client struct {
	base         string
	http         *http.Client
	limiter      *rate.Limiter
	breaker      *resilience.CircuitBreaker
	universityID int64
	logger       zerolog.Logger
}

// New creates a platform client.
func New(opts Options) (*Client, error) {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("lms: invalid base url: %w", err)
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = httpx.NewClient(0)
	}
	c := &Client{
		base:         base,
		http:         hc,
		breaker:      opts.Breaker,
		universityID: opts.UniversityID,
		logger:       vblog.WithComponent("lms"),
	}
	if opts.RequestRate > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestRate), burst)
	}
	return c, nil
}

// BaseURL returns the normalised platform base URL.
func (c *Client) BaseURL() string { return c.base }

// CSRFToken returns the anti-forgery token from the session cookies.
func (c *Client) CSRFToken() string {
	v, _ := httpx.CookieValue(c.http.Jar, c.base, csrfCookie)
	return v
}

// SendHeartbeats posts a batch of events for one target.
func (c *Client) SendHeartbeats(ctx context.Context, target heartbeat.VideoTarget, events []heartbeat.Event) error {
	payload := struct {
		HeartData []heartbeat.Event `json:"heart_data"`
	}{HeartData: events}

	h := c.targetHeaders(target)
	h.Set("Accept", "*/*")
	var reply json.RawMessage
	return c.do(ctx, "heartbeat", http.MethodPost, heartbeatPath, nil, payload, h, &reply)
}

// FetchProgress returns the platform's recorded progress for the target.
// A video without any record reports zero progress.
func (c *Client) FetchProgress(ctx context.Context, target heartbeat.VideoTarget) (heartbeat.Progress, error) {
	q := url.Values{}
	q.Set("cid", strconv.FormatInt(target.CourseID, 10))
	q.Set("user_id", strconv.FormatInt(target.UserID, 10))
	q.Set("classroom_id", strconv.FormatInt(target.ClassroomID, 10))
	q.Set("video_type", "video")
	q.Set("vtype", "rate")
	q.Set("video_id", target.Key())
	q.Set("snapshot", "1")

	h := c.targetHeaders(target)
	h.Set("Accept", acceptJSON)
	h.Set("Xt-Agent", "web")

	var reply progressReply
	if err := c.do(ctx, "progress", http.MethodGet, progressPath, q, nil, h, &reply); err != nil {
		return heartbeat.Progress{}, err
	}
	if reply.Code != 0 {
		return heartbeat.Progress{}, rejected("progress", reply.Msg)
	}

	var entries map[string]progressEntry
	if raw := bytes.TrimSpace(reply.Data); len(raw) > 0 && raw[0] == '{' {
		if err := json.Unmarshal(raw, &entries); err != nil {
			return heartbeat.Progress{}, wrapError("progress", err, http.StatusOK, raw)
		}
	}
	entry, ok := entries[target.Key()]
	if !ok {
		return heartbeat.Progress{}, nil
	}
	return heartbeat.Progress{
		Rate:      heartbeat.ClampRate(float64(entry.Rate)),
		LastPoint: max(0, float64(entry.LastPoint)),
	}, nil
}

// Chapters lists the classroom's chapter tree. sign is the signed token the
// web client passes for chapter listing; it may be empty.
func (c *Client) Chapters(ctx context.Context, classroomID int64, sign string) (*CourseChapters, error) {
	cid := strconv.FormatInt(classroomID, 10)
	q := url.Values{}
	q.Set("cid", cid)
	q.Set("term", "latest")
	q.Set("uv_id", strconv.FormatInt(c.universityID, 10))
	q.Set("classroom_id", cid)
	if sign != "" {
		q.Set("sign", sign)
	}

	h := c.apiHeaders(classroomID)
	h.Set("X-CSRFToken", c.CSRFToken())
	h.Set("platform-id", "3")
	h.Set("terminal-type", "web")
	h.Set("university-id", strconv.FormatInt(c.universityID, 10))
	h.Set("x-client", "web")

	var env envelope[CourseChapters]
	if err := c.do(ctx, "chapters", http.MethodGet, chapterPath, q, nil, h, &env); err != nil {
		return nil, err
	}
	if !env.Success {
		return nil, rejected("chapters", env.Msg)
	}
	return &env.Data, nil
}

// LeafInfo fetches leaf metadata via the classroom-scoped leaf_info endpoint.
func (c *Client) LeafInfo(ctx context.Context, classroomID, leafID int64) (*LeafData, error) {
	return c.fetchLeaf(ctx, "leaf_info", fmt.Sprintf("/mooc-api/v1/lms/learn/leaf_info/%d/%d/", classroomID, leafID), classroomID)
}

// LeafProgress fetches leaf metadata via the learning-progress endpoint.
func (c *Client) LeafProgress(ctx context.Context, classroomID, leafID int64) (*LeafData, error) {
	return c.fetchLeaf(ctx, "leafprogress", fmt.Sprintf("/mooc-api/v1/lms/learn/leafprogress/%d/%d/", classroomID, leafID), classroomID)
}

// Leaf fetches leaf metadata via the course-content endpoint.
func (c *Client) Leaf(ctx context.Context, classroomID, leafID int64) (*LeafData, error) {
	return c.fetchLeaf(ctx, "leaf", fmt.Sprintf("/mooc-api/v1/lms/learn/leaf/%d/", leafID), classroomID)
}

// LeafInfoByID fetches leaf metadata via the unscoped leaf_info path.
func (c *Client) LeafInfoByID(ctx context.Context, classroomID, leafID int64) (*LeafData, error) {
	return c.fetchLeaf(ctx, "leaf_info_short", fmt.Sprintf("/mooc-api/v1/lms/learn/leaf_info/%d/", leafID), classroomID)
}

func (c *Client) fetchLeaf(ctx context.Context, op, path string, classroomID int64) (*LeafData, error) {
	var env envelope[LeafData]
	if err := c.do(ctx, op, http.MethodGet, path, nil, nil, c.apiHeaders(classroomID), &env); err != nil {
		return nil, err
	}
	if !env.Success {
		return nil, rejected(op, env.Msg)
	}
	return &env.Data, nil
}

// ClassroomInfo returns the raw classroom description.
func (c *Client) ClassroomInfo(ctx context.Context, classroomID int64) (map[string]any, error) {
	q := url.Values{}
	q.Set("classroom_id", strconv.FormatInt(classroomID, 10))
	var env envelope[map[string]any]
	if err := c.do(ctx, "classroom_info", http.MethodGet, classroomPath, q, nil, c.apiHeaders(classroomID), &env); err != nil {
		return nil, err
	}
	if !env.Success {
		return nil, rejected("classroom_info", env.Msg)
	}
	return env.Data, nil
}

// DragPermission reports whether the learner may seek freely in the player.
func (c *Client) DragPermission(ctx context.Context, skuID, classroomID int64) (bool, error) {
	q := url.Values{}
	q.Set("sku_id", strconv.FormatInt(skuID, 10))
	var env envelope[dragPermission]
	if err := c.do(ctx, "drag", http.MethodGet, dragPath, q, nil, c.apiHeaders(classroomID), &env); err != nil {
		return false, err
	}
	if !env.Success {
		return false, rejected("drag", env.Msg)
	}
	return env.Data.HasDrag, nil
}

// Watermark returns the player watermark configuration.
func (c *Client) Watermark(ctx context.Context, uvID, classroomID int64) (map[string]any, error) {
	q := url.Values{}
	q.Set("uv_id", strconv.FormatInt(uvID, 10))
	q.Set("classroom_id", strconv.FormatInt(classroomID, 10))
	var env envelope[map[string]any]
	if err := c.do(ctx, "watermark", http.MethodGet, watermarkPath, q, nil, c.apiHeaders(classroomID), &env); err != nil {
		return nil, err
	}
	if !env.Success {
		return nil, rejected("watermark", env.Msg)
	}
	return env.Data, nil
}

// PlayURLs lists the media URLs for a content id.
func (c *Client) PlayURLs(ctx context.Context, contentID string) ([]string, error) {
	q := url.Values{}
	q.Set("video_id", contentID)
	q.Set("provider", "cc")
	q.Set("file_type", "1")
	q.Set("is_single", "0")
	if u, err := url.Parse(c.base); err == nil {
		q.Set("domain", u.Hostname())
	}
	var env envelope[PlayURL]
	if err := c.do(ctx, "playurl", http.MethodGet, playURLPath, q, nil, c.apiHeaders(0), &env); err != nil {
		return nil, err
	}
	if !env.Success {
		return nil, rejected("playurl", env.Msg)
	}
	return env.Data.URLs(), nil
}

// MediaClient returns the HTTP client for fetching media bytes.
func (c *Client) MediaClient() *http.Client { return c.http }

func (c *Client) apiHeaders(classroomID int64) http.Header {
	h := http.Header{}
	h.Set("Accept", acceptJSON)
	h.Set("Xt-Agent", "web")
	if classroomID > 0 {
		h.Set("classroom-id", strconv.FormatInt(classroomID, 10))
	}
	return h
}

func (c *Client) targetHeaders(t heartbeat.VideoTarget) http.Header {
	h := http.Header{}
	h.Set("X-CSRFToken", t.CSRFToken)
	h.Set("classroom-id", strconv.FormatInt(t.ClassroomID, 10))
	h.Set("university-id", strconv.FormatInt(t.UniversityID, 10))
	h.Set("uv-id", strconv.FormatInt(t.SessionViewID, 10))
	h.Set("Referer", fmt.Sprintf("%s/v2/web/xcloud/video-student/%d/%d", c.base, t.ClassroomID, t.VideoID))
	return h
}

func setBrowserHeaders(h http.Header, origin string) {
	h.Set("Accept-Language", "en,zh-CN;q=0.9,zh;q=0.8")
	h.Set("Cache-Control", "no-cache")
	h.Set("Pragma", "no-cache")
	h.Set("Origin", origin)
	h.Set("Sec-Fetch-Dest", "empty")
	h.Set("Sec-Fetch-Mode", "cors")
	h.Set("Sec-Fetch-Site", "same-origin")
	h.Set("User-Agent", userAgent)
	h.Set("X-Requested-With", "XMLHttpRequest")
	h.Set("sec-ch-ua", `"Not)A;Brand";v="8", "Chromium";v="138", "Google Chrome";v="138"`)
	h.Set("sec-ch-ua-mobile", "?0")
	h.Set("sec-ch-ua-platform", `"Windows"`)
	h.Set("xtbz", "ykt")
}

// do performs one request and decodes a 200 JSON reply into out.
// Every failure comes back as an *APIError.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body any, extra http.Header, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return wrapError(op, err, 0, nil)
		}
	}

	call := func() error {
		return c.exchange(ctx, op, method, path, query, body, extra, out)
	}
	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(call)
		if errors.Is(err, resilience.ErrCircuitOpen) {
			err = wrapError(op, err, 0, nil)
		}
	} else {
		err = call()
	}

	metrics.RecordUpstream(op, resultClass(err))
	if err != nil {
		c.logger.Debug().Err(err).Str(vblog.FieldOperation, op).Msg("platform request failed")
	}
	return err
}

func (c *Client) exchange(ctx context.Context, op, method, path string, query url.Values, body any, extra http.Header, out any) error {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("lms: %s: encode body: %w", op, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return wrapError(op, err, 0, nil)
	}
	setBrowserHeaders(req.Header, c.base)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range extra {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}

	res, err := c.http.Do(req)
	if err != nil {
		return wrapError(op, err, 0, nil)
	}
	defer func() { _ = res.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBody))
	if err != nil {
		return wrapError(op, err, 0, nil)
	}
	if res.StatusCode != http.StatusOK {
		return wrapError(op, nil, res.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return wrapError(op, err, res.StatusCode, raw)
	}
	return nil
}

func resultClass(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrRejected):
		return "rejected"
	case errors.Is(err, ErrUpstreamBadResponse):
		return "bad_response"
	case errors.Is(err, ErrUpstreamError):
		return "server_error"
	default:
		return "unavailable"
	}
}
