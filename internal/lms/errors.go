// SPDX-License-Identifier: MIT

package lms

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
)

var (
	// Sentinel errors for errors.Is checks at the boundary.
	ErrNotFound            = errors.New("upstream: resource not found")
	ErrForbidden           = errors.New("upstream: access forbidden")
	ErrUpstreamUnavailable = errors.New("upstream: host unreachable or transport failure")
	ErrUpstreamError       = errors.New("upstream: internal error (5xx)")
	ErrUpstreamBadResponse = errors.New("upstream: invalid response format or malformed data")
	ErrTimeout             = errors.New("upstream: request timed out")
	ErrRejected            = errors.New("upstream: request rejected by platform")
)

const maxErrorBody = 256

// APIError wraps a sentinel with the context of the failed call.
type APIError struct {
	Sentinel  error
	Operation string
	Status    int
	Body      string
	Err       error // Nested lower-level error (e.g. net.Error)
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("lms: %s: %v", e.Operation, e.Sentinel)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Body != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Body)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *APIError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Sentinel}
	}
	return []error{e.Sentinel, e.Err}
}

var secretPattern = regexp.MustCompile(`(?i)(token|csrftoken|sessionid|sid|password|sign)=[^\s&"',;]+`)

func redact(body []byte) string {
	s := secretPattern.ReplaceAllString(string(body), "$1=[REDACTED]")
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody] + "..."
	}
	return s
}

// wrapError classifies a failed exchange. A non-nil err with a 2xx status
// means the reply could not be decoded.
func wrapError(op string, err error, status int, body []byte) error {
	e := &APIError{Operation: op, Status: status, Err: err}
	if len(body) > 0 {
		e.Body = redact(body)
	}

	switch {
	case err != nil && status >= 200 && status < 300:
		e.Sentinel = ErrUpstreamBadResponse
	case err != nil:
		e.Sentinel = classifyTransport(err)
	case status == http.StatusNotFound:
		e.Sentinel = ErrNotFound
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Sentinel = ErrForbidden
	case status >= 500:
		e.Sentinel = ErrUpstreamError
	case status >= 400:
		e.Sentinel = ErrUpstreamBadResponse
	default:
		e.Sentinel = ErrUpstreamBadResponse
	}
	return e
}

func classifyTransport(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}
	return ErrUpstreamUnavailable
}

// rejected reports a well-formed reply whose payload says the call failed.
func rejected(op, msg string) error {
	if msg == "" {
		msg = "unknown error"
	}
	return &APIError{Sentinel: ErrRejected, Operation: op, Status: http.StatusOK, Body: redact([]byte(msg))}
}

// IsTransient reports failures worth counting against upstream availability.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrUpstreamUnavailable) ||
		errors.Is(err, ErrUpstreamError)
}

// IsAuth reports whether the platform refused our credentials.
func IsAuth(err error) bool {
	return errors.Is(err, ErrForbidden)
}
