package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/keeper/internal/retry"
	"github.com/tanq16/keeper/internal/utils"
)

// fetchChunk streams one chunk into job.File, retrying transient failures.
// Every retry asks only for the bytes the chunk still misses.
func (s *Scheduler) fetchChunk(ctx context.Context, job *Job, c *Chunk) error {
	err := s.policy.Do(ctx, func(attempt int) error {
		c.attempts.Store(int32(attempt))
		return s.fetchOnce(ctx, job, c)
	}, func(attempt int, err error, d retry.Decision) {
		kind := retry.Classify(err)
		s.metrics.Retry(kind.String())
		log.Warn().Str("op", "downloader/worker").Str("id", job.ID).Int("chunk", c.ID).
			Int("attempt", attempt).Dur("backoff", d.Delay).Err(err).Msg("retrying chunk")
	})
	if err != nil && ctx.Err() == nil && !errors.Is(err, utils.ErrRangeRequestsNotSupported) {
		log.Error().Str("op", "downloader/worker").Str("id", job.ID).Int("chunk", c.ID).
			Int("attempts", c.Attempts()).Int64("offset", c.Offset()).Err(err).Msg("chunk failed")
	}
	return err
}

// fetchOnce makes one request for the rest of c. The attempt is abandoned
// with a deadline error once no body bytes arrive for IdleTimeout.
func (s *Scheduler) fetchOnce(ctx context.Context, job *Job, c *Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.Done() {
		return nil
	}
	attemptCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	idle := time.AfterFunc(s.opts.IdleTimeout, func() {
		cancel(fmt.Errorf("chunk %d stalled for %s: %w", c.ID, s.opts.IdleTimeout, context.DeadlineExceeded))
	})
	defer idle.Stop()

	err := s.request(attemptCtx, job, c, func() { idle.Reset(s.opts.IdleTimeout) })
	if err != nil && ctx.Err() == nil && attemptCtx.Err() != nil {
		return context.Cause(attemptCtx)
	}
	return err
}

func (s *Scheduler) request(ctx context.Context, job *Job, c *Chunk, touch func()) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, job.URL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", utils.ErrInvalidRequest, err)
	}
	if job.RangeSupported {
		req.Header.Set("Range", c.rangeHeader())
		if etag := StrongETag(job.ETag); etag != "" {
			req.Header.Set("If-Range", etag)
		}
	} else if dropped := c.reset(); dropped > 0 {
		// the whole body is coming again
		job.progress(-dropped)
	}
	req.Header.Set("Connection", "keep-alive")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if job.RangeSupported {
		switch resp.StatusCode {
		case http.StatusPartialContent:
			start, _, _, err := ParseContentRange(resp.Header.Get("Content-Range"))
			if err != nil {
				return fmt.Errorf("%w: %v", utils.ErrServerRejected, err)
			}
			if start != c.Offset() {
				return fmt.Errorf("%w: range starts at %d, requested %d", utils.ErrServerRejected, start, c.Offset())
			}
		case http.StatusOK:
			return utils.ErrRangeRequestsNotSupported
		default:
			return utils.NewStatusError(resp)
		}
	} else if resp.StatusCode != http.StatusOK {
		return utils.NewStatusError(resp)
	} else if resp.ContentLength >= 0 && c.End >= 0 && resp.ContentLength != c.Length() {
		return fmt.Errorf("%w: resource is now %d bytes, expected %d", utils.ErrServerRejected, resp.ContentLength, c.Length())
	}

	log.Debug().Str("op", "downloader/worker").Str("id", job.ID).Int("chunk", c.ID).
		Str("range", req.Header.Get("Range")).Int("status", resp.StatusCode).Msg("streaming chunk")
	return s.stream(ctx, job, c, resp.Body, touch)
}

// stream copies body into the chunk's range; touch runs after every read
// that produced bytes.
func (s *Scheduler) stream(ctx context.Context, job *Job, c *Chunk, body io.Reader, touch func()) error {
	buffer := make([]byte, s.opts.BufferSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, readErr := body.Read(buffer)
		if n > 0 {
			touch()
			if remaining := c.Remaining(); remaining >= 0 && int64(n) > remaining {
				n = int(remaining)
			}
			if _, err := job.File.WriteAt(buffer[:n], c.Offset()); err != nil {
				return fmt.Errorf("error writing chunk %d: %w", c.ID, err)
			}
			c.add(int64(n))
			s.metrics.AddBytes(int64(n))
			job.progress(int64(n))
			if c.Done() {
				return nil
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				if c.End < 0 {
					return nil
				}
				return fmt.Errorf("chunk %d ended %d bytes short: %w", c.ID, c.Remaining(), io.ErrUnexpectedEOF)
			}
			return readErr
		}
	}
}
