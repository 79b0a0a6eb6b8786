package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/keeper/internal/utils"
)

// FileInfo is what a probe learns about a remote resource. Size is -1 when the
// server did not disclose it.
type FileInfo struct {
	Size           int64
	RangeSupported bool
	ETag           string
}

// Probe asks for the first byte of rawURL. A 206 answer proves range support
// and carries the total size in Content-Range; a 200 answer means the server
// ignored the Range header.
func Probe(ctx context.Context, client utils.HTTPDoer, rawURL string) (*FileInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrInvalidRequest, err)
	}
	req.Header.Set("Range", "bytes=0-0")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	info := &FileInfo{Size: -1, ETag: resp.Header.Get("ETag")}
	switch resp.StatusCode {
	case http.StatusPartialContent:
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		_, _, total, err := ParseContentRange(resp.Header.Get("Content-Range"))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", utils.ErrServerRejected, err)
		}
		info.Size = total
		info.RangeSupported = true
	case http.StatusOK:
		info.Size = resp.ContentLength
		if info.Size == 0 {
			// nothing to fetch, ranges are irrelevant
			info.RangeSupported = true
		}
	case http.StatusRequestedRangeNotSatisfiable:
		// bytes */0 is how servers describe an empty resource
		total, ok := unsatisfiedLength(resp.Header.Get("Content-Range"))
		if !ok || total != 0 {
			return nil, utils.NewStatusError(resp)
		}
		info.Size = 0
		info.RangeSupported = true
	default:
		return nil, utils.NewStatusError(resp)
	}
	log.Debug().Str("op", "downloader/probe").Str("url", rawURL).Int("status", resp.StatusCode).
		Int64("size", info.Size).Bool("ranges", info.RangeSupported).Msg("probe finished")
	return info, nil
}

// ParseContentRange parses "bytes start-end/total". Total is -1 for "*".
func ParseContentRange(header string) (start, end, total int64, err error) {
	header = strings.TrimPrefix(strings.TrimSpace(header), "bytes ")
	parts := strings.Split(header, "/")
	if len(parts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %q", header)
	}
	rangeParts := strings.Split(parts[0], "-")
	if len(rangeParts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %q", header)
	}
	if start, err = strconv.ParseInt(rangeParts[0], 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid start byte: %w", err)
	}
	if end, err = strconv.ParseInt(rangeParts[1], 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid end byte: %w", err)
	}
	if parts[1] == "*" {
		return start, end, -1, nil
	}
	if total, err = strconv.ParseInt(parts[1], 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid total bytes: %w", err)
	}
	return start, end, total, nil
}

func unsatisfiedLength(header string) (int64, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes */")
	if !ok {
		return 0, false
	}
	total, err := strconv.ParseInt(rest, 10, 64)
	return total, err == nil
}

// StrongETag returns etag when it may be used in If-Range, empty otherwise.
func StrongETag(etag string) string {
	if etag == "" || strings.HasPrefix(etag, "W/") {
		return ""
	}
	return etag
}
