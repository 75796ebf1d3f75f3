// SPDX-License-Identifier: MIT

package resolve

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/vidbeat/vidbeat/internal/heartbeat"
	"github.com/vidbeat/vidbeat/internal/lms"
	vblog "github.com/vidbeat/vidbeat/internal/log"
	"github.com/vidbeat/vidbeat/internal/metrics"
)

var (
	// ErrUnresolved means no strategy returned metadata for the leaf.
	ErrUnresolved = errors.New("resolve: no leaf metadata")
	// ErrIncomplete means metadata was found but identifiers are missing.
	ErrIncomplete = errors.New("resolve: incomplete leaf metadata")
)

// Strategy names, in the order they are tried.
const (
	StrategyLeafInfo     = "leaf_info"
	StrategyLeafProgress = "leafprogress"
	StrategyLeaf         = "leaf"
	StrategyLeafInfoByID = "leaf_info_short"
	StrategyStructure    = "course_structure"
)

// Duration sources reported in logs.
const (
	DurationFromMovieHeader = "mvhd"
	DurationFromMedia       = "media"
	DurationFromSection     = "section"
)

// API is the subset of the platform client the resolver needs.
type API interface {
	ChapterSource
	LeafInfo(ctx context.Context, classroomID, leafID int64) (*lms.LeafData, error)
	LeafProgress(ctx context.Context, classroomID, leafID int64) (*lms.LeafData, error)
	Leaf(ctx context.Context, classroomID, leafID int64) (*lms.LeafData, error)
	LeafInfoByID(ctx context.Context, classroomID, leafID int64) (*lms.LeafData, error)
	ClassroomInfo(ctx context.Context, classroomID int64) (map[string]any, error)
	DragPermission(ctx context.Context, skuID, classroomID int64) (bool, error)
	Watermark(ctx context.Context, uvID, classroomID int64) (map[string]any, error)
	PlayURLs(ctx context.Context, contentID string) ([]string, error)
	CSRFToken() string
}

// DurationProber reads a media duration in seconds from a URL.
type DurationProber interface {
	Duration(ctx context.Context, url string) (float64, error)
}

// Config holds the classroom-wide inputs to resolution.
type Config struct {
	ClassroomID  int64
	UniversityID int64

	// ProbeAux queries classroom info, drag permission and watermark
	// settings the way the web player does before playback.
	ProbeAux bool
}

type strategy struct {
	name  string
	fetch func(ctx context.Context, classroomID, leafID int64) (*lms.LeafData, error)
}

// Resolver builds VideoTargets from discovered leaves.
type Resolver struct {
	api        API
	prober     DurationProber
	catalog    *Catalog
	cfg        Config
	strategies []strategy
	logger     zerolog.Logger
}

// New creates a Resolver. prober may be nil, in which case durations come
// from leaf metadata only.
func New(api API, prober DurationProber, catalog *Catalog, cfg Config) *Resolver {
	return &Resolver{
		api:     api,
		prober:  prober,
		catalog: catalog,
		cfg:     cfg,
		strategies: []strategy{
			{StrategyLeafInfo, api.LeafInfo},
			{StrategyLeafProgress, api.LeafProgress},
			{StrategyLeaf, api.Leaf},
			{StrategyLeafInfoByID, api.LeafInfoByID},
		},
		logger: vblog.WithComponent("resolve"),
	}
}

// Resolve fetches the identifiers and duration for leaf. A target whose
// duration could not be determined is returned with Duration 0; sessions
// reject it before emitting anything.
func (r *Resolver) Resolve(ctx context.Context, leaf Leaf) (heartbeat.VideoTarget, error) {
	logger := vblog.WithContext(ctx, r.logger).With().Int64(vblog.FieldLeafID, leaf.ID).Logger()

	data, used, err := r.leafData(ctx, leaf)
	if err != nil {
		return heartbeat.VideoTarget{}, err
	}
	logger.Debug().Str(vblog.FieldStrategy, used).Msg("leaf metadata resolved")

	universityID := int64(data.UniversityID)
	if universityID == 0 {
		universityID = r.cfg.UniversityID
	}
	skuID := int64(data.SKUID)
	if skuID == 0 {
		skuID = leaf.SKUID
	}
	name := leaf.Name
	if name == "" {
		name = data.Name
	}

	t := heartbeat.VideoTarget{
		VideoID:       leaf.ID,
		CourseID:      int64(data.CourseID),
		SKUID:         skuID,
		ClassroomID:   r.cfg.ClassroomID,
		ContentID:     data.ContentInfo.Media.ContentID(),
		UserID:        int64(data.UserID),
		UniversityID:  universityID,
		CSRFToken:     r.api.CSRFToken(),
		SessionViewID: universityID,
		Name:          name,
		Chapter:       leaf.Chapter,
	}
	if missing := missingFields(t); len(missing) > 0 {
		return heartbeat.VideoTarget{}, fmt.Errorf("%w: leaf %d via %s: missing %s",
			ErrIncomplete, leaf.ID, used, strings.Join(missing, ", "))
	}

	if r.cfg.ProbeAux {
		r.probeAux(ctx, logger, t)
	}

	var source string
	t.Duration, source = r.duration(ctx, logger, t.ContentID, data, leaf)
	if t.Duration > 0 {
		logger.Debug().Float64(vblog.FieldDuration, t.Duration).Str("source", source).Msg("duration resolved")
	} else {
		logger.Warn().Msg("duration unknown")
	}
	return t, nil
}

func (r *Resolver) leafData(ctx context.Context, leaf Leaf) (*lms.LeafData, string, error) {
	var errs []error
	for _, s := range r.strategies {
		data, err := s.fetch(ctx, r.cfg.ClassroomID, leaf.ID)
		metrics.RecordResolve(s.name, err == nil)
		if err == nil {
			return data, s.name, nil
		}
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
	}

	data, err := r.fromStructure(ctx, leaf)
	metrics.RecordResolve(StrategyStructure, err == nil)
	if err == nil {
		return data, StrategyStructure, nil
	}
	errs = append(errs, fmt.Errorf("%s: %w", StrategyStructure, err))
	return nil, "", fmt.Errorf("%w: leaf %d: %w", ErrUnresolved, leaf.ID, errors.Join(errs...))
}

// fromStructure builds partial metadata from the chapter tree. It carries at
// most the sku id, name, duration and video id.
func (r *Resolver) fromStructure(ctx context.Context, leaf Leaf) (*lms.LeafData, error) {
	if r.catalog == nil {
		return nil, errors.New("no catalog")
	}
	section, _, ok, err := r.catalog.FindSection(ctx, leaf.ID)
	if err == nil && !ok && leaf.SectionID != 0 {
		section, _, ok, err = r.catalog.FindSection(ctx, leaf.SectionID)
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("leaf not in course structure")
	}
	if section.SKUID == 0 {
		return nil, errors.New("section has no sku id")
	}
	data := &lms.LeafData{
		ID:    lms.IntOrString(leaf.ID),
		Name:  section.Name,
		SKUID: section.SKUID,
	}
	data.ContentInfo.Media = lms.Media{Duration: section.Duration, VideoID: section.VideoID}
	return data, nil
}

func (r *Resolver) probeAux(ctx context.Context, logger zerolog.Logger, t heartbeat.VideoTarget) {
	if _, err := r.api.ClassroomInfo(ctx, t.ClassroomID); err != nil {
		logger.Debug().Err(err).Msg("classroom info unavailable")
	}
	if hasDrag, err := r.api.DragPermission(ctx, t.SKUID, t.ClassroomID); err != nil {
		logger.Debug().Err(err).Msg("drag permission unavailable")
	} else {
		logger.Debug().Bool("has_drag", hasDrag).Msg("drag permission")
	}
	if t.UniversityID != 0 {
		if _, err := r.api.Watermark(ctx, t.UniversityID, t.ClassroomID); err != nil {
			logger.Debug().Err(err).Msg("watermark config unavailable")
		}
	}
}

func (r *Resolver) duration(ctx context.Context, logger zerolog.Logger, contentID string, data *lms.LeafData, leaf Leaf) (float64, string) {
	if r.prober != nil {
		urls, err := r.api.PlayURLs(ctx, contentID)
		switch {
		case err != nil:
			logger.Debug().Err(err).Msg("play url lookup failed")
		case len(urls) == 0:
			logger.Debug().Msg("no play urls")
		default:
			d, err := r.prober.Duration(ctx, urls[0])
			if err == nil && d > 0 {
				return d, DurationFromMovieHeader
			}
			logger.Debug().Err(err).Msg("movie header probe failed")
		}
	}
	if d := float64(data.ContentInfo.Media.Duration); d > 0 {
		return d, DurationFromMedia
	}
	if leaf.Duration > 0 {
		return leaf.Duration, DurationFromSection
	}
	return 0, ""
}

func missingFields(t heartbeat.VideoTarget) []string {
	var missing []string
	if t.UserID <= 0 {
		missing = append(missing, "user_id")
	}
	if t.CourseID <= 0 {
		missing = append(missing, "course_id")
	}
	if t.SKUID <= 0 {
		missing = append(missing, "sku_id")
	}
	if t.ContentID == "" {
		missing = append(missing, "content_id")
	}
	if t.CSRFToken == "" {
		missing = append(missing, "csrf_token")
	}
	return missing
}
