// SPDX-License-Identifier: MIT

// Package mp4 reads a video's duration from the movie header of a remote MP4
// file without downloading the media data.
package mp4

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"

	gomp4 "github.com/abema/go-mp4"
	"github.com/rs/zerolog"

	vblog "github.com/vidbeat/vidbeat/internal/log"
)

var (
	// ErrProbe wraps every failure to fetch or interpret the remote file.
	ErrProbe = errors.New("mp4: probe failed")
	// ErrNoMovieHeader means the file has no usable mvhd box.
	ErrNoMovieHeader = errors.New("mp4: movie header not found")
)

const (
	defaultBlockSize = 64 << 10
	defaultMaxBody   = 32 << 20
	defaultScanLimit = 1 << 20
)

// Prober fetches durations over HTTP range requests.
type Prober struct {
	client    *http.Client
	blockSize int64
	maxBody   int64
	scanLimit int64
	logger    zerolog.Logger
}

// Option customises a Prober.
type Option func(*Prober)

// WithBlockSize sets the size of each range request.
func WithBlockSize(n int64) Option {
	return func(p *Prober) {
		if n > 0 {
			p.blockSize = n
		}
	}
}

// WithMaxBody bounds how much is buffered from servers that ignore Range.
func WithMaxBody(n int64) Option {
	return func(p *Prober) {
		if n > 0 {
			p.maxBody = n
		}
	}
}

// NewProber creates a Prober using client for all requests.
func NewProber(client *http.Client, opts ...Option) *Prober {
	p := &Prober{
		client:    client,
		blockSize: defaultBlockSize,
		maxBody:   defaultMaxBody,
		scanLimit: defaultScanLimit,
		logger:    vblog.WithComponent("mp4"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Duration returns the movie duration in seconds.
func (p *Prober) Duration(ctx context.Context, url string) (float64, error) {
	rr, err := newRangeReader(ctx, p.client, url, p.blockSize, p.maxBody)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrProbe, err)
	}

	d, err := ReadDuration(rr)
	if err == nil {
		p.logger.Debug().Int("requests", rr.requests).Float64(vblog.FieldDuration, d).Msg("mp4 duration probed")
		return d, nil
	}
	if ctx.Err() != nil {
		return 0, fmt.Errorf("%w: %w", ErrProbe, ctx.Err())
	}

	// Box walk failed; fall back to a raw search of the leading bytes.
	p.logger.Debug().Err(err).Msg("box walk failed, scanning for mvhd")
	if _, serr := rr.Seek(0, io.SeekStart); serr != nil {
		return 0, fmt.Errorf("%w: %w", ErrProbe, serr)
	}
	head, rerr := io.ReadAll(io.LimitReader(rr, p.scanLimit))
	if rerr != nil && len(head) == 0 {
		return 0, fmt.Errorf("%w: %w", ErrProbe, rerr)
	}
	if d, ok := ScanMovieHeader(head); ok {
		return d, nil
	}
	return 0, fmt.Errorf("%w: %w", ErrProbe, err)
}

// ReadDuration walks the box tree of r to moov/mvhd.
func ReadDuration(r io.ReadSeeker) (float64, error) {
	boxes, err := gomp4.ExtractBoxWithPayload(r, nil, gomp4.BoxPath{gomp4.BoxTypeMoov(), gomp4.BoxTypeMvhd()})
	if err != nil {
		return 0, err
	}
	if len(boxes) == 0 {
		return 0, ErrNoMovieHeader
	}
	mvhd, ok := boxes[0].Payload.(*gomp4.Mvhd)
	if !ok {
		return 0, ErrNoMovieHeader
	}
	raw := uint64(mvhd.DurationV0)
	if mvhd.GetVersion() == 1 {
		raw = mvhd.DurationV1
	}
	return seconds(mvhd.Timescale, raw, mvhd.GetVersion() == 1)
}

// ScanMovieHeader finds the first mvhd box in data by its type tag.
func ScanMovieHeader(data []byte) (float64, bool) {
	tag := []byte("mvhd")
	for from := 0; ; {
		i := bytes.Index(data[from:], tag)
		if i < 0 {
			return 0, false
		}
		i += from
		from = i + 1
		if i < 4 || i+8 > len(data) {
			continue
		}
		version := data[i+4]
		var ts uint32
		var dur uint64
		switch version {
		case 0:
			if i+24 > len(data) {
				continue
			}
			ts = binary.BigEndian.Uint32(data[i+16:])
			dur = uint64(binary.BigEndian.Uint32(data[i+20:]))
		case 1:
			if i+36 > len(data) {
				continue
			}
			ts = binary.BigEndian.Uint32(data[i+24:])
			dur = binary.BigEndian.Uint64(data[i+28:])
		default:
			continue
		}
		if d, err := seconds(ts, dur, version == 1); err == nil {
			return d, true
		}
	}
}

func seconds(timescale uint32, duration uint64, wide bool) (float64, error) {
	if timescale == 0 {
		return 0, fmt.Errorf("%w: zero timescale", ErrNoMovieHeader)
	}
	unknown := uint64(math.MaxUint32)
	if wide {
		unknown = math.MaxUint64
	}
	if duration == 0 || duration == unknown {
		return 0, fmt.Errorf("%w: duration not set", ErrNoMovieHeader)
	}
	return float64(duration) / float64(timescale), nil
}
