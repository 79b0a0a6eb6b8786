package manager

import (
	"context"
	"sync"
	"time"

	"github.com/tanq16/keeper/internal/downloader"
	"github.com/tanq16/keeper/internal/store"
)

// Download is one transfer owned by a Manager. Commands on the same download
// are serialized by ops; mu guards the fields read by snapshots.
type Download struct {
	id          string
	url         string
	destination string
	createdAt   time.Time

	ops     sync.Mutex
	removed bool

	mu             sync.RWMutex
	state          State
	totalSize      int64
	rangeSupported bool
	etag           string
	chunks         []*downloader.Chunk
	lastError      string
	completedAt    *time.Time
	cancel         context.CancelCauseFunc
	done           chan struct{}

	lastProgress time.Time
	sampleAt     time.Time
	sampleBytes  int64
	speed        float64
}

// Snapshot is a point-in-time copy of a download.
type Snapshot struct {
	ID             string
	URL            string
	Destination    string
	State          State
	TotalSize      int64
	BytesCompleted int64
	LastError      string
	CreatedAt      time.Time
	CompletedAt    *time.Time
	RangeSupported bool
	Chunks         int
	Attempts       int // highest attempt number any chunk of this run reached
	Speed          float64
}

// Progress is the completed fraction, 0 while the size is unknown.
func (s Snapshot) Progress() float64 {
	if s.TotalSize <= 0 {
		if s.State == StateCompleted {
			return 1
		}
		return 0
	}
	return float64(s.BytesCompleted) / float64(s.TotalSize)
}

// ETA estimates the remaining transfer time, -1 when it cannot be known.
func (s Snapshot) ETA() time.Duration {
	if s.State != StateActive || s.TotalSize < 0 || s.Speed <= 0 {
		return -1
	}
	remaining := s.TotalSize - s.BytesCompleted
	return time.Duration(float64(remaining) / s.Speed * float64(time.Second)).Round(time.Second)
}

func (d *Download) ID() string {
	return d.id
}

func (d *Download) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

func (d *Download) Snapshot() Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.snapshotLocked()
}

func (d *Download) snapshotLocked() Snapshot {
	s := Snapshot{
		ID:             d.id,
		URL:            d.url,
		Destination:    d.destination,
		State:          d.state,
		TotalSize:      d.totalSize,
		BytesCompleted: downloader.TotalDownloaded(d.chunks),
		LastError:      d.lastError,
		CreatedAt:      d.createdAt,
		RangeSupported: d.rangeSupported,
		Chunks:         len(d.chunks),
	}
	for _, c := range d.chunks {
		s.Attempts = max(s.Attempts, c.Attempts())
	}
	if d.completedAt != nil {
		at := *d.completedAt
		s.CompletedAt = &at
	}
	if d.state == StateActive {
		s.Speed = d.speed
	}
	return s
}

func (d *Download) record() store.Record {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r := store.Record{
		ID:             d.id,
		URL:            d.url,
		Destination:    d.destination,
		BytesCompleted: downloader.TotalDownloaded(d.chunks),
		State:          string(d.state),
		CreatedAt:      d.createdAt,
		RangeSupported: d.rangeSupported,
		ETag:           d.etag,
	}
	if d.totalSize >= 0 {
		size := d.totalSize
		r.TotalSize = &size
	}
	if d.state == StateFailed && d.lastError != "" {
		msg := d.lastError
		r.LastError = &msg
	}
	if d.completedAt != nil {
		at := *d.completedAt
		r.CompletedAt = &at
	}
	for _, c := range d.chunks {
		s := c.State()
		r.Chunks = append(r.Chunks, store.ChunkRecord{Start: s.Start, End: s.End, Downloaded: s.Downloaded})
	}
	return r
}

// sampleSpeed folds the bytes moved since the previous sample into a
// smoothed rate. Callers hold mu.
func (d *Download) sampleSpeed(now time.Time) {
	total := downloader.TotalDownloaded(d.chunks)
	if d.sampleAt.IsZero() {
		d.sampleAt, d.sampleBytes = now, total
		return
	}
	elapsed := now.Sub(d.sampleAt).Seconds()
	if elapsed <= 0 {
		return
	}
	current := float64(total-d.sampleBytes) / elapsed
	if current < 0 {
		current = 0
	}
	if d.speed == 0 {
		d.speed = current
	} else {
		d.speed = 0.7*d.speed + 0.3*current
	}
	d.sampleAt, d.sampleBytes = now, total
}

func (d *Download) resetSpeed() {
	d.sampleAt = time.Time{}
	d.sampleBytes = 0
	d.speed = 0
}
