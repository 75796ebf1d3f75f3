// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"time"

	"github.com/vidbeat/vidbeat/internal/config"
	"github.com/vidbeat/vidbeat/internal/lms"
	"github.com/vidbeat/vidbeat/internal/media/mp4"
	"github.com/vidbeat/vidbeat/internal/platform/httpx"
	"github.com/vidbeat/vidbeat/internal/resolve"
)

const (
	breakerThreshold = 5
	breakerReset     = 30 * time.Second
)

// platform bundles everything that talks to the learning platform.
type platform struct {
	client   *lms.Client
	catalog  *resolve.Catalog
	resolver *resolve.Resolver
}

func newPlatform(cfg config.AppConfig) (*platform, error) {
	jar, err := httpx.NewJar(cfg.BaseURL, cfg.Cookies())
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	hc := httpx.NewClient(cfg.RequestTimeout, httpx.WithJar(jar), httpx.WithTracing("lms"))

	client, err := lms.New(lms.Options{
		BaseURL:      cfg.BaseURL,
		HTTPClient:   hc,
		RequestRate:  cfg.RequestRate,
		Burst:        max(1, int(cfg.RequestRate)),
		Breaker:      lms.NewBreaker(breakerThreshold, breakerReset),
		UniversityID: cfg.UniversityID,
	})
	if err != nil {
		return nil, err
	}

	catalog := resolve.NewCatalog(client, cfg.ClassroomID, cfg.Sign)
	resolver := resolve.New(client, mp4.NewProber(client.MediaClient()), catalog, resolve.Config{
		ClassroomID:  cfg.ClassroomID,
		UniversityID: cfg.UniversityID,
		ProbeAux:     true,
	})
	return &platform{client: client, catalog: catalog, resolver: resolver}, nil
}
