package manager

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tanq16/keeper/internal/downloader"
	"github.com/tanq16/keeper/internal/store"
	"github.com/tanq16/keeper/internal/utils"
)

const saveTimeout = 30 * time.Second

// persist writes the whole registry. Saves are serialized and each one
// collects its records after taking the lock, so a later save never carries
// older state than an earlier one. Failures are logged, not returned to
// commands.
func (m *Manager) persist() error {
	if m.store == nil {
		return nil
	}
	m.saveMu.Lock()
	defer m.saveMu.Unlock()
	m.unflushed.Store(0)

	m.mu.RLock()
	records := make([]store.Record, 0, len(m.downloads))
	for _, d := range m.downloads {
		records = append(records, d.record())
	}
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	start := time.Now()
	err := m.store.Save(ctx, records)
	m.metrics.ObserveSnapshot(start, err)
	if err != nil {
		log.Error().Str("op", "manager/persist").Err(err).Msg("could not save download registry")
	}
	return err
}

func (m *Manager) requestFlush() {
	select {
	case m.flushCh <- struct{}{}:
	default:
	}
}

func (m *Manager) flushLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.opts.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if m.unflushed.Load() > 0 {
				m.persist()
			}
		case <-m.flushCh:
			m.persist()
		}
	}
}

// RestoreFromPersistence repopulates the registry from the store. Downloads
// that were running when the process stopped come back Paused. A corrupt
// registry is logged and the manager starts empty.
func (m *Manager) RestoreFromPersistence(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	records, err := m.store.Load(ctx)
	if err != nil {
		if errors.Is(err, utils.ErrCorruptState) {
			log.Warn().Str("op", "manager/persist").Err(err).Msg("ignoring unreadable download registry")
			return nil
		}
		return err
	}

	restored := 0
	m.mu.Lock()
	for _, r := range records {
		if _, exists := m.downloads[r.ID]; exists {
			continue
		}
		d, err := m.fromRecord(r)
		if err != nil {
			log.Warn().Str("op", "manager/persist").Str("id", r.ID).Err(err).Msg("skipping persisted download")
			continue
		}
		m.downloads[d.id] = d
		restored++
	}
	m.mu.Unlock()

	log.Debug().Str("op", "manager/persist").Int("downloads", restored).Msg("registry restored")
	m.persist()
	return nil
}

func (m *Manager) fromRecord(r store.Record) (*Download, error) {
	state, err := ParseState(r.State)
	if err != nil {
		return nil, err
	}
	if state.Running() {
		state = StatePaused
	}
	d := &Download{
		id:             r.ID,
		url:            r.URL,
		destination:    r.Destination,
		createdAt:      r.CreatedAt,
		state:          state,
		totalSize:      -1,
		rangeSupported: r.RangeSupported,
		etag:           r.ETag,
		completedAt:    r.CompletedAt,
	}
	if r.TotalSize != nil {
		d.totalSize = *r.TotalSize
	}
	if state == StateFailed && r.LastError != nil {
		d.lastError = *r.LastError
	}
	if state == StateQueued {
		return d, nil
	}
	if len(r.Chunks) > 0 {
		chunks := make([]*downloader.Chunk, len(r.Chunks))
		for i, c := range r.Chunks {
			chunks[i] = downloader.ChunkFromState(i, downloader.ChunkState{Start: c.Start, End: c.End, Downloaded: c.Downloaded})
		}
		if err := downloader.ValidatePlan(chunks, d.totalSize); err != nil {
			log.Warn().Str("op", "manager/persist").Str("id", r.ID).Err(err).Msg("rebuilding chunk plan from completed bytes")
		} else {
			d.chunks = chunks
			return d, nil
		}
	}
	opts := m.opts.Downloader
	d.chunks = downloader.ResumePlan(r.BytesCompleted, d.totalSize, opts.MaxParallelChunks, opts.MinChunkSize)
	return d, nil
}
