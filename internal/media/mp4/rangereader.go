// SPDX-License-Identifier: MIT

package mp4

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// rangeReader exposes a remote file as an io.ReadSeeker backed by HTTP range
// requests. It caches one block, so box-header walks that skip over media
// data cost one request per visited box.
type rangeReader struct {
	ctx       context.Context
	client    *http.Client
	url       string
	blockSize int64
	maxBody   int64

	size     int64
	off      int64
	block    []byte
	blockOff int64
	requests int
}

func newRangeReader(ctx context.Context, client *http.Client, url string, blockSize, maxBody int64) (*rangeReader, error) {
	r := &rangeReader{
		ctx:       ctx,
		client:    client,
		url:       url,
		blockSize: blockSize,
		maxBody:   maxBody,
		size:      -1,
		blockOff:  -1,
	}
	if err := r.fill(0); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *rangeReader) Read(p []byte) (int, error) {
	if r.off >= r.size {
		return 0, io.EOF
	}
	if r.blockOff < 0 || r.off < r.blockOff || r.off >= r.blockOff+int64(len(r.block)) {
		if err := r.fill(r.off); err != nil {
			return 0, err
		}
	}
	n := copy(p, r.block[r.off-r.blockOff:])
	r.off += int64(n)
	return n, nil
}

func (r *rangeReader) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = r.off + offset
	case io.SeekEnd:
		abs = r.size + offset
	default:
		return 0, errors.New("mp4: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("mp4: negative position")
	}
	r.off = abs
	return abs, nil
}

// fill loads the block starting at off. A server that ignores Range gets
// its whole body buffered, bounded by maxBody.
func (r *rangeReader) fill(off int64) error {
	end := off + r.blockSize - 1
	if r.size > 0 && end >= r.size {
		end = r.size - 1
	}

	req, err := http.NewRequestWithContext(r.ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, end))

	r.requests++
	res, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("mp4: range request: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	switch res.StatusCode {
	case http.StatusPartialContent:
		total, err := parseContentRangeTotal(res.Header.Get("Content-Range"))
		if err != nil {
			return err
		}
		data, err := io.ReadAll(io.LimitReader(res.Body, r.blockSize))
		if err != nil {
			return fmt.Errorf("mp4: read range: %w", err)
		}
		r.size = total
		r.block = data
		r.blockOff = off
	case http.StatusOK:
		data, err := io.ReadAll(io.LimitReader(res.Body, r.maxBody+1))
		if err != nil {
			return fmt.Errorf("mp4: read body: %w", err)
		}
		if int64(len(data)) > r.maxBody {
			return fmt.Errorf("%w: server ignored range and body exceeds %d bytes", ErrProbe, r.maxBody)
		}
		r.size = int64(len(data))
		r.block = data
		r.blockOff = 0
	case http.StatusRequestedRangeNotSatisfiable:
		return io.ErrUnexpectedEOF
	default:
		return fmt.Errorf("%w: unexpected status %d", ErrProbe, res.StatusCode)
	}
	if len(r.block) == 0 {
		return io.ErrUnexpectedEOF
	}
	return nil
}

// parseContentRangeTotal extracts the complete length from
// "bytes 0-1023/146515".
func parseContentRangeTotal(v string) (int64, error) {
	i := strings.LastIndexByte(v, '/')
	if i < 0 || i == len(v)-1 || v[i+1:] == "*" {
		return 0, fmt.Errorf("%w: unusable Content-Range %q", ErrProbe, v)
	}
	n, err := strconv.ParseInt(v[i+1:], 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: unusable Content-Range %q", ErrProbe, v)
	}
	return n, nil
}
