package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/tanq16/keeper/internal/metrics"
	"github.com/tanq16/keeper/internal/retry"
	"github.com/tanq16/keeper/internal/utils"
)

type Options struct {
	MaxParallelChunks int
	MinChunkSize      int64
	BufferSize        int
	IdleTimeout       time.Duration // longest gap between body reads before an attempt is abandoned
}

func DefaultOptions() Options {
	return Options{
		MaxParallelChunks: 4,
		MinChunkSize:      1 << 20,
		BufferSize:        utils.DefaultBufferSize,
		IdleTimeout:       30 * time.Second,
	}
}

// Job is one execution of a download's chunk plan.
type Job struct {
	ID             string
	URL            string
	ETag           string
	Size           int64
	File           io.WriterAt
	Chunks         []*Chunk
	RangeSupported bool

	// OnProgress receives byte deltas from every worker; negative deltas
	// mean bytes were discarded for a restart from zero.
	OnProgress func(delta int64)
	// OnReplan is called when the plan is replaced by a single chunk
	// because the server stopped honouring ranges.
	OnReplan func(chunks []*Chunk, rangeSupported bool)
}

func (j *Job) progress(delta int64) {
	if j.OnProgress != nil {
		j.OnProgress(delta)
	}
}

// Scheduler runs chunk plans with bounded parallelism.
type Scheduler struct {
	client  utils.HTTPDoer
	policy  retry.Policy
	opts    Options
	metrics *metrics.Metrics
}

func NewScheduler(client utils.HTTPDoer, policy retry.Policy, opts Options, m *metrics.Metrics) *Scheduler {
	defaults := DefaultOptions()
	if opts.MaxParallelChunks <= 0 {
		opts.MaxParallelChunks = defaults.MaxParallelChunks
	}
	if opts.MinChunkSize <= 0 {
		opts.MinChunkSize = defaults.MinChunkSize
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaults.BufferSize
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = defaults.IdleTimeout
	}
	return &Scheduler{client: client, policy: policy, opts: opts, metrics: m}
}

func (s *Scheduler) Options() Options {
	return s.opts
}

// Plan partitions a freshly probed resource. Servers without range support
// get a single chunk covering everything.
func (s *Scheduler) Plan(info *FileInfo) []*Chunk {
	if !info.RangeSupported {
		end := info.Size - 1
		if info.Size < 0 {
			end = -1
		} else if info.Size == 0 {
			return nil
		}
		return []*Chunk{NewChunk(0, 0, end)}
	}
	return PlanChunks(0, info.Size, s.opts.MaxParallelChunks, s.opts.MinChunkSize)
}

// Replan recomputes the remaining work of an interrupted plan.
func (s *Scheduler) Replan(chunks []*Chunk) []*Chunk {
	return Replan(chunks, s.opts.MaxParallelChunks, s.opts.MinChunkSize)
}

// Probe runs the size and range-support probe under the retry policy.
func (s *Scheduler) Probe(ctx context.Context, id, rawURL string) (*FileInfo, error) {
	var info *FileInfo
	err := s.policy.Do(ctx, func(int) error {
		var err error
		info, err = Probe(ctx, s.client, rawURL)
		return err
	}, func(attempt int, err error, d retry.Decision) {
		s.metrics.Retry(retry.Classify(err).String())
		log.Warn().Str("op", "downloader/scheduler").Str("id", id).Int("attempt", attempt).
			Dur("backoff", d.Delay).Err(err).Msg("retrying probe")
	})
	return info, err
}

// Run fetches every unfinished chunk of job. The first chunk that fails for
// good cancels its siblings. If the server answers a ranged request with the
// full body, the plan collapses into one chunk restarted from offset zero.
func (s *Scheduler) Run(ctx context.Context, job *Job) error {
	for {
		err := s.runChunks(ctx, job)
		if !errors.Is(err, utils.ErrRangeRequestsNotSupported) || !job.RangeSupported {
			return err
		}
		log.Warn().Str("op", "downloader/scheduler").Str("id", job.ID).
			Msg("server ignored range request, restarting as a single chunk")
		var dropped int64
		for _, c := range job.Chunks {
			dropped += c.reset()
		}
		job.progress(-dropped)
		end := job.Size - 1
		if job.Size < 0 {
			end = -1
		}
		job.RangeSupported = false
		job.Chunks = []*Chunk{NewChunk(0, 0, end)}
		if job.OnReplan != nil {
			job.OnReplan(job.Chunks, false)
		}
	}
}

func (s *Scheduler) runChunks(ctx context.Context, job *Job) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.MaxParallelChunks)
	for _, c := range job.Chunks {
		if c.Done() {
			continue
		}
		g.Go(func() error {
			s.metrics.ChunkStarted()
			defer s.metrics.ChunkFinished()
			if err := s.fetchChunk(gctx, job, c); err != nil {
				if errors.Is(err, utils.ErrRangeRequestsNotSupported) {
					return err
				}
				return fmt.Errorf("chunk %d: %w", c.ID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, c := range job.Chunks {
		if c.End >= 0 && !c.Done() {
			return fmt.Errorf("%s incomplete: %w", c, io.ErrUnexpectedEOF)
		}
	}
	return nil
}
