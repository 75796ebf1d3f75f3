// SPDX-License-Identifier: MIT

// Package statusapi serves live run status, history and metrics over HTTP.
package statusapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vidbeat/vidbeat/internal/ledger"
	vblog "github.com/vidbeat/vidbeat/internal/log"
	"github.com/vidbeat/vidbeat/internal/scheduler"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// StatusSource exposes the live state of a run.
type StatusSource interface {
	Snapshot() scheduler.StatusSnapshot
}

// Deps are the read models served by the router. Nil members make the
// matching endpoints answer 503.
type Deps struct {
	Status  StatusSource
	History ledger.Store
	// MetricsHandler defaults to promhttp.Handler().
	MetricsHandler http.Handler
	// RequestsPerMinute per client IP; zero disables limiting.
	RequestsPerMinute int
}

// NewRouter builds the HTTP handler.
func NewRouter(deps Deps) http.Handler {
	if deps.MetricsHandler == nil {
		deps.MetricsHandler = promhttp.Handler()
	}
	h := &handlers{deps: deps}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.RequestID)
	r.Use(accessLog)

	r.Get("/healthz", h.healthz)
	r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)

	r.Route("/api/v1", func(r chi.Router) {
		if deps.RequestsPerMinute > 0 {
			r.Use(rateLimit(deps.RequestsPerMinute, time.Minute))
		}
		r.Get("/status", h.status)
		r.Get("/history", h.history)
		r.Get("/history/{videoID}", h.videoHistory)
	})
	return r
}

func rateLimit(limit int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(limit, window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
			writeError(w, http.StatusTooManyRequests, "rate_limit_exceeded", "too many requests")
		}),
	)
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		logger := vblog.WithComponent("statusapi")
		logger.Debug().
			Str("method", r.Method).
			Str("route", route).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("request_id", chimw.GetReqID(r.Context())).
			Msg("http request")
	})
}

type handlers struct {
	deps Deps
}

func (h *handlers) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) status(w http.ResponseWriter, _ *http.Request) {
	if h.deps.Status == nil {
		writeError(w, http.StatusServiceUnavailable, "no_run", "no run in progress")
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Status.Snapshot())
}

func (h *handlers) history(w http.ResponseWriter, r *http.Request) {
	if h.deps.History == nil {
		writeError(w, http.StatusServiceUnavailable, "no_history", "history store not configured")
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_limit", err.Error())
		return
	}
	entries, err := h.deps.History.Recent(r.Context(), limit)
	if err != nil {
		h.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entriesOrEmpty(entries))
}

func (h *handlers) videoHistory(w http.ResponseWriter, r *http.Request) {
	if h.deps.History == nil {
		writeError(w, http.StatusServiceUnavailable, "no_history", "history store not configured")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "videoID"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_video_id", "video id must be a positive integer")
		return
	}
	entries, err := h.deps.History.Video(r.Context(), id)
	if err != nil {
		h.storeError(w, err)
		return
	}
	if len(entries) == 0 {
		writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("no history for video %d", id))
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *handlers) storeError(w http.ResponseWriter, err error) {
	logger := vblog.WithComponent("statusapi")
	logger.Error().Err(err).Msg("history query failed")
	if errors.Is(err, ledger.ErrClosed) {
		writeError(w, http.StatusServiceUnavailable, "no_history", "history store closed")
		return
	}
	writeError(w, http.StatusInternalServerError, "internal", "history query failed")
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultHistoryLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer, got %q", raw)
	}
	return min(n, maxHistoryLimit), nil
}

func entriesOrEmpty(e []ledger.Entry) []ledger.Entry {
	if e == nil {
		return []ledger.Entry{}
	}
	return e
}

type apiError struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, apiError{Error: code, Detail: detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
