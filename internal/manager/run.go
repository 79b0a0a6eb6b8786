package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tanq16/keeper/internal/downloader"
	"github.com/tanq16/keeper/internal/utils"
)

func (m *Manager) run(ctx context.Context, d *Download, probe bool) {
	defer m.wg.Done()
	d.mu.RLock()
	done := d.done
	d.mu.RUnlock()
	defer close(done)

	err := m.execute(ctx, d, probe)
	cause := context.Cause(ctx)
	var next State
	switch {
	case err == nil:
		next = StateCompleted
	case errors.Is(cause, errCancelled):
		if rmErr := utils.RemovePart(d.destination); rmErr != nil {
			log.Warn().Str("op", "manager/run").Str("id", d.id).Err(rmErr).Msg("could not delete partial file")
		}
		next = StateCancelled
	case ctx.Err() != nil:
		next = StatePaused
	default:
		next = StateFailed
	}
	if terr := m.transition(d, next, err); terr != nil {
		log.Error().Str("op", "manager/run").Str("id", d.id).Err(terr).Msg("could not record end of run")
	}
}

func (m *Manager) execute(ctx context.Context, d *Download, probe bool) error {
	if probe {
		if err := m.probe(ctx, d); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.transition(d, StateActive, nil); err != nil {
			return err
		}
	}

	d.mu.RLock()
	size, etag, rangeSupported := d.totalSize, d.etag, d.rangeSupported
	chunks := d.chunks
	d.mu.RUnlock()

	f, fresh, err := downloader.OpenPartFile(d.destination, size)
	if err != nil {
		return err
	}
	if !fresh && size < 0 {
		if info, err := f.Stat(); err == nil && info.Size() < downloader.TotalDownloaded(chunks) {
			fresh = true
		}
	}
	if fresh && downloader.TotalDownloaded(chunks) > 0 {
		log.Warn().Str("op", "manager/run").Str("id", d.id).Msg("partial file missing or resized, starting over")
		chunks = m.scheduler.Plan(&downloader.FileInfo{Size: size, RangeSupported: rangeSupported, ETag: etag})
		d.mu.Lock()
		d.chunks = chunks
		d.mu.Unlock()
	}

	job := &downloader.Job{
		ID:             d.id,
		URL:            d.url,
		ETag:           etag,
		Size:           size,
		File:           f,
		Chunks:         chunks,
		RangeSupported: rangeSupported,
		OnProgress: func(delta int64) {
			m.onProgress(d, delta)
		},
		OnReplan: func(chunks []*downloader.Chunk, rangeSupported bool) {
			d.mu.Lock()
			d.chunks = chunks
			d.rangeSupported = rangeSupported
			d.mu.Unlock()
			m.requestFlush()
		},
	}
	log.Info().Str("op", "manager/run").Str("id", d.id).Int("chunks", len(chunks)).Int64("size", size).
		Int64("resume_from", downloader.TotalDownloaded(chunks)).Msg("transfer started")
	runErr := m.scheduler.Run(ctx, job)
	if runErr == nil && size < 0 {
		// an earlier open-ended attempt may have written past the new end
		if err := f.Truncate(downloader.TotalDownloaded(job.Chunks)); err != nil {
			runErr = fmt.Errorf("error trimming partial file: %v", err)
		}
	}
	closeErr := f.Close()
	if runErr != nil {
		return runErr
	}
	if closeErr != nil {
		return fmt.Errorf("error closing partial file: %v", closeErr)
	}

	if size < 0 {
		d.mu.Lock()
		total := downloader.TotalDownloaded(d.chunks)
		d.totalSize = total
		d.chunks = nil
		if total > 0 {
			d.chunks = []*downloader.Chunk{downloader.ChunkFromState(0, downloader.ChunkState{Start: 0, End: total - 1, Downloaded: total})}
		}
		d.mu.Unlock()
	}
	return downloader.FinalizePart(d.destination)
}

// probe learns size and range support. A previous plan is kept only if the
// resource is provably unchanged; otherwise the download restarts from zero.
func (m *Manager) probe(ctx context.Context, d *Download) error {
	info, err := m.scheduler.Probe(ctx, d.id, d.url)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	unchanged := info.RangeSupported && d.rangeSupported && info.Size >= 0 && info.Size == d.totalSize &&
		(d.etag == "" || info.ETag == d.etag)
	if unchanged && d.chunks != nil {
		d.chunks = m.scheduler.Replan(d.chunks)
	} else {
		if downloader.TotalDownloaded(d.chunks) > 0 {
			log.Warn().Str("op", "manager/run").Str("id", d.id).Msg("resource changed or cannot resume, restarting from zero")
		}
		d.chunks = m.scheduler.Plan(info)
	}
	d.totalSize = info.Size
	d.rangeSupported = info.RangeSupported
	d.etag = info.ETag
	return nil
}

func (m *Manager) onProgress(d *Download, delta int64) {
	if delta < 0 {
		delta = -delta
	}
	if m.unflushed.Add(delta) >= m.opts.FlushBytes {
		m.requestFlush()
	}
	now := time.Now()
	d.mu.Lock()
	if now.Sub(d.lastProgress) < m.opts.ProgressInterval {
		d.mu.Unlock()
		return
	}
	d.lastProgress = now
	d.sampleSpeed(now)
	snap := d.snapshotLocked()
	d.mu.Unlock()
	m.events.publish(Event{Type: EventProgress, ID: d.id, Snapshot: snap})
}
