// SPDX-License-Identifier: MIT

package httpx

import (
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/publicsuffix"
)

const (
	defaultClientTimeout         = 10 * time.Second
	defaultDialTimeout           = 5 * time.Second
	defaultResponseHeaderTimeout = 10 * time.Second
	defaultIdleConnTimeout       = 90 * time.Second
	defaultExpectContinueTimeout = 1 * time.Second
	defaultMaxIdleConns          = 32
	defaultMaxIdleConnsPerHost   = 8
)

// Option customises a client built by NewClient.
type Option func(*http.Client)

// WithJar attaches a cookie jar.
func WithJar(jar http.CookieJar) Option {
	return func(c *http.Client) { c.Jar = jar }
}

// WithTracing wraps the transport so every outbound request gets a client span.
func WithTracing(operation string) Option {
	return func(c *http.Client) {
		c.Transport = otelhttp.NewTransport(c.Transport,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return operation + " " + r.Method + " " + r.URL.Path
			}),
		)
	}
}

// NewClient returns a hardened HTTP client for platform API calls.
// The timeout bounds the whole exchange including reading the body.
func NewClient(timeout time.Duration, opts ...Option) *http.Client {
	if timeout <= 0 {
		timeout = defaultClientTimeout
	}

	dialTimeout := timeout
	if dialTimeout > defaultDialTimeout {
		dialTimeout = defaultDialTimeout
	}

	responseHeaderTimeout := timeout
	if responseHeaderTimeout > defaultResponseHeaderTimeout {
		responseHeaderTimeout = defaultResponseHeaderTimeout
	}

	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          defaultMaxIdleConns,
			MaxIdleConnsPerHost:   defaultMaxIdleConnsPerHost,
			IdleConnTimeout:       defaultIdleConnTimeout,
			TLSHandshakeTimeout:   dialTimeout,
			ResponseHeaderTimeout: responseHeaderTimeout,
			ExpectContinueTimeout: defaultExpectContinueTimeout,
		},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// NewJar returns a cookie jar seeded with the given cookies for base.
// Cookie scoping follows the public suffix list so sibling subdomains
// of the platform share the session.
func NewJar(base string, cookies map[string]string) (*cookiejar.Jar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	if len(cookies) == 0 {
		return jar, nil
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, err
	}
	list := make([]*http.Cookie, 0, len(cookies))
	for name, value := range cookies {
		list = append(list, &http.Cookie{Name: name, Value: value, Path: "/"})
	}
	jar.SetCookies(u, list)
	return jar, nil
}

// CookieValue returns the named cookie the jar would send to base.
func CookieValue(jar http.CookieJar, base, name string) (string, bool) {
	if jar == nil {
		return "", false
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", false
	}
	for _, c := range jar.Cookies(u) {
		if c.Name == name {
			return c.Value, true
		}
	}
	return "", false
}
