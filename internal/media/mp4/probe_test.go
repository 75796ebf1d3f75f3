// SPDX-License-Identifier: MIT

package mp4

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidbeat/vidbeat/internal/testutil"
)

func serveMovie(t *testing.T, data []byte, ignoreRange bool) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if ignoreRange {
			r.Header.Del("Range")
		}
		http.ServeContent(w, r, "movie.mp4", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestReadDuration(t *testing.T) {
	tests := []struct {
		name string
		opts testutil.MovieOptions
		want float64
	}{
		{"version 0", testutil.MovieOptions{Timescale: 1000, Duration: 125_500}, 125.5},
		{"version 1", testutil.MovieOptions{Timescale: 90_000, Duration: 90_000 * 600, Version1: true}, 600},
		{"faststart", testutil.MovieOptions{Timescale: 600, Duration: 600 * 42, MoovFirst: true, MediaBytes: 512}, 42},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadDuration(bytes.NewReader(testutil.Movie(tt.opts)))
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestReadDuration_NoMovieBox(t *testing.T) {
	_, err := ReadDuration(bytes.NewReader([]byte{0, 0, 0, 8, 'f', 'r', 'e', 'e'}))
	assert.ErrorIs(t, err, ErrNoMovieHeader)
}

func TestReadDuration_ZeroTimescale(t *testing.T) {
	_, err := ReadDuration(bytes.NewReader(testutil.Movie(testutil.MovieOptions{Timescale: 0, Duration: 10})))
	assert.ErrorIs(t, err, ErrNoMovieHeader)
}

func TestScanMovieHeader(t *testing.T) {
	data := testutil.Movie(testutil.MovieOptions{Timescale: 1000, Duration: 20_000, MoovFirst: true})
	// garbage in front breaks the box walk but not the scan
	data = append([]byte("junkjunk"), data...)

	got, ok := ScanMovieHeader(data)
	require.True(t, ok)
	assert.InDelta(t, 20.0, got, 1e-9)

	_, ok = ScanMovieHeader([]byte("no header here"))
	assert.False(t, ok)
}

func TestProberDuration_RangeRequestsSkipMediaData(t *testing.T) {
	data := testutil.Movie(testutil.MovieOptions{Timescale: 1000, Duration: 300_000, MediaBytes: 1 << 20})
	srv, hits := serveMovie(t, data, false)

	p := NewProber(srv.Client(), WithBlockSize(4<<10))
	got, err := p.Duration(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.InDelta(t, 300.0, got, 1e-9)
	// header block, then the moov block at the tail; never the whole mdat
	assert.LessOrEqual(t, hits.Load(), int32(4))
}

func TestProberDuration_ServerIgnoresRange(t *testing.T) {
	data := testutil.Movie(testutil.MovieOptions{Timescale: 1000, Duration: 5_000, MediaBytes: 1024})
	srv, hits := serveMovie(t, data, true)

	got, err := NewProber(srv.Client()).Duration(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, got, 1e-9)
	assert.Equal(t, int32(1), hits.Load())
}

func TestProberDuration_BodyTooLargeWithoutRange(t *testing.T) {
	data := testutil.Movie(testutil.MovieOptions{Timescale: 1000, Duration: 5_000, MediaBytes: 4096})
	srv, _ := serveMovie(t, data, true)

	_, err := NewProber(srv.Client(), WithMaxBody(1024)).Duration(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrProbe)
}

func TestProberDuration_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewProber(srv.Client()).Duration(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrProbe)
}

func TestParseContentRangeTotal(t *testing.T) {
	n, err := parseContentRangeTotal("bytes 0-1023/146515")
	require.NoError(t, err)
	assert.Equal(t, int64(146515), n)

	for _, bad := range []string{"", "bytes 0-1023/*", "bytes 0-1023/", "bytes 0-1/x"} {
		_, err := parseContentRangeTotal(bad)
		assert.ErrorIs(t, err, ErrProbe, bad)
	}
}
