// SPDX-License-Identifier: MIT

// Package resolve turns a classroom's chapter tree into playable video
// targets: it discovers video leaves and resolves each leaf's identifiers,
// content id and duration against the platform.
package resolve

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/vidbeat/vidbeat/internal/lms"
)

// Leaf is a discovered video leaf, before resolution.
type Leaf struct {
	ID         int64   `json:"id"`
	SectionID  int64   `json:"section_id,omitempty"`
	SKUID      int64   `json:"sku_id,omitempty"`
	LeafInfoID int64   `json:"leafinfo_id,omitempty"`
	Name       string  `json:"name"`
	Chapter    string  `json:"chapter"`
	Duration   float64 `json:"duration,omitempty"`
	VideoID    string  `json:"video_id,omitempty"`
}

// ChapterSource lists a classroom's chapters.
type ChapterSource interface {
	Chapters(ctx context.Context, classroomID int64, sign string) (*lms.CourseChapters, error)
}

// Catalog lists the video leaves of one classroom. Concurrent callers share a
// single chapter request and a successful tree is kept for the catalog's
// lifetime.
type Catalog struct {
	src         ChapterSource
	classroomID int64
	sign        string
	group       singleflight.Group

	mu     sync.Mutex
	cached *lms.CourseChapters
}

// NewCatalog creates a catalog for a classroom.
func NewCatalog(src ChapterSource, classroomID int64, sign string) *Catalog {
	return &Catalog{src: src, classroomID: classroomID, sign: sign}
}

// Chapters returns the raw chapter tree.
func (c *Catalog) Chapters(ctx context.Context) (*lms.CourseChapters, error) {
	c.mu.Lock()
	cached := c.cached
	c.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	key := strconv.FormatInt(c.classroomID, 10)
	v, err, _ := c.group.Do(key, func() (any, error) {
		chapters, err := c.src.Chapters(ctx, c.classroomID, c.sign)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.cached = chapters
		c.mu.Unlock()
		return chapters, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*lms.CourseChapters), nil
}

// ListVideos returns the classroom's video leaves in course order.
func (c *Catalog) ListVideos(ctx context.Context) ([]Leaf, error) {
	chapters, err := c.Chapters(ctx)
	if err != nil {
		return nil, err
	}
	return ExtractVideos(chapters), nil
}

// FindSection looks up a section by id in the chapter tree.
func (c *Catalog) FindSection(ctx context.Context, id int64) (lms.Section, string, bool, error) {
	chapters, err := c.Chapters(ctx)
	if err != nil {
		return lms.Section{}, "", false, err
	}
	for _, ch := range chapters.Chapters {
		for _, s := range ch.Sections {
			if int64(s.ID) == id {
				return s, ch.Name, true, nil
			}
		}
	}
	return lms.Section{}, "", false, nil
}

// ExtractVideos walks the chapter tree. A section counts as a video when it
// is named "Video", has no leaf type or mentions video in its name. Its leaf
// id is the first leaf_list child of type 0, else its leafinfo_id, else the
// section id itself.
func ExtractVideos(chapters *lms.CourseChapters) []Leaf {
	if chapters == nil {
		return nil
	}
	var out []Leaf
	for _, ch := range chapters.Chapters {
		for _, s := range ch.Sections {
			if !isVideoSection(s) {
				continue
			}
			leaf := Leaf{
				SectionID: int64(s.ID),
				SKUID:     int64(s.SKUID),
				Name:      s.Name,
				Chapter:   ch.Name,
				Duration:  float64(s.Duration),
				VideoID:   string(s.VideoID),
			}
			switch {
			case len(s.Leaves) > 0:
				child, ok := firstVideoLeaf(s.Leaves)
				if !ok {
					continue
				}
				leaf.ID = int64(child.ID)
				leaf.LeafInfoID = int64(child.LeafInfoID)
			case s.LeafInfoID != 0:
				leaf.ID = int64(s.LeafInfoID)
				leaf.LeafInfoID = int64(s.LeafInfoID)
			default:
				leaf.ID = int64(s.ID)
			}
			out = append(out, leaf)
		}
	}
	return out
}

func isVideoSection(s lms.Section) bool {
	return s.Name == "Video" || s.LeafType == nil || strings.Contains(strings.ToLower(s.Name), "video")
}

func firstVideoLeaf(leaves []lms.Leaf) (lms.Leaf, bool) {
	for _, l := range leaves {
		if l.LeafType != nil && *l.LeafType == 0 {
			return l, true
		}
	}
	return lms.Leaf{}, false
}
