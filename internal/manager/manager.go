// Package manager owns the download registry. Every command goes through a
// Manager, which serializes mutations per download, runs transfers through a
// downloader.Scheduler and snapshots the registry to a store.Store on every
// state change and periodically while bytes are flowing.
package manager

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tanq16/keeper/internal/downloader"
	"github.com/tanq16/keeper/internal/metrics"
	"github.com/tanq16/keeper/internal/retry"
	"github.com/tanq16/keeper/internal/store"
	"github.com/tanq16/keeper/internal/utils"
)

var (
	errPaused    = errors.New("download paused")
	errCancelled = errors.New("download cancelled")
)

type Options struct {
	Downloader downloader.Options
	Retry      retry.Policy
	// FlushInterval and FlushBytes bound how much progress can be lost on a
	// crash: the registry is saved after whichever is reached first.
	FlushInterval    time.Duration
	FlushBytes       int64
	ProgressInterval time.Duration
}

func DefaultOptions() Options {
	return Options{
		Downloader:       downloader.DefaultOptions(),
		Retry:            retry.DefaultPolicy(),
		FlushInterval:    2 * time.Second,
		FlushBytes:       8 << 20,
		ProgressInterval: 200 * time.Millisecond,
	}
}

type Manager struct {
	opts      Options
	store     store.Store
	scheduler *downloader.Scheduler
	metrics   *metrics.Metrics
	events    *hub

	mu        sync.RWMutex
	downloads map[string]*Download

	saveMu    sync.Mutex
	unflushed atomic.Int64
	flushCh   chan struct{}

	ctx    context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

func New(opts Options, st store.Store, client utils.HTTPDoer, m *metrics.Metrics) *Manager {
	defaults := DefaultOptions()
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = defaults.FlushInterval
	}
	if opts.FlushBytes <= 0 {
		opts.FlushBytes = defaults.FlushBytes
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = defaults.ProgressInterval
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = defaults.Retry
	}
	ctx, stop := context.WithCancel(context.Background())
	mgr := &Manager{
		opts:      opts,
		store:     st,
		scheduler: downloader.NewScheduler(client, opts.Retry, opts.Downloader, m),
		metrics:   m,
		events:    newHub(),
		downloads: make(map[string]*Download),
		flushCh:   make(chan struct{}, 1),
		ctx:       ctx,
		stop:      stop,
	}
	mgr.opts.Downloader = mgr.scheduler.Options()
	mgr.wg.Add(1)
	go mgr.flushLoop()
	return mgr
}

// Create validates rawURL and destination and registers a queued download.
// A destination naming an existing directory receives a file name derived
// from the URL; an existing file is never overwritten.
func (m *Manager) Create(rawURL, destination string) (string, error) {
	if m.closed.Load() {
		return "", fmt.Errorf("%w: manager is closed", utils.ErrInvalidState)
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: invalid URL: %v", utils.ErrInvalidRequest, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", utils.ErrInvalidRequest, parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("%w: URL has no host", utils.ErrInvalidRequest)
	}
	dest, err := m.resolveDestination(rawURL, destination)
	if err != nil {
		return "", err
	}

	d := &Download{
		id:          uuid.NewString(),
		url:         rawURL,
		destination: dest,
		createdAt:   time.Now().UTC(),
		state:       StateQueued,
		totalSize:   -1,
	}
	m.mu.Lock()
	for _, other := range m.downloads {
		if other.destination == dest && !other.State().Terminal() {
			m.mu.Unlock()
			return "", fmt.Errorf("%w: %s is already the destination of download %s", utils.ErrInvalidRequest, dest, other.id)
		}
	}
	m.downloads[d.id] = d
	m.mu.Unlock()

	log.Info().Str("op", "manager/manager").Str("id", d.id).Str("url", rawURL).Str("destination", dest).Msg("download created")
	m.metrics.Transition(string(StateQueued))
	m.events.publish(Event{Type: EventState, ID: d.id, Snapshot: d.Snapshot()})
	m.persist()
	return d.id, nil
}

func (m *Manager) resolveDestination(rawURL, destination string) (string, error) {
	if destination == "" {
		destination = "."
	}
	dest, err := filepath.Abs(destination)
	if err != nil {
		return "", fmt.Errorf("%w: invalid destination: %v", utils.ErrInvalidRequest, err)
	}
	if info, err := os.Stat(dest); err == nil {
		if info.IsDir() {
			dest = filepath.Join(dest, utils.InferFileName(rawURL))
		}
	} else if strings.HasSuffix(destination, string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: destination directory %s does not exist", utils.ErrInvalidRequest, destination)
	}
	if err := utils.CheckWritableDir(filepath.Dir(dest)); err != nil {
		return "", fmt.Errorf("%w: destination is not writable: %v", utils.ErrInvalidRequest, err)
	}
	if info, err := os.Stat(dest); err == nil {
		if info.IsDir() {
			return "", fmt.Errorf("%w: destination %s is a directory", utils.ErrInvalidRequest, dest)
		}
		dest = utils.RenewOutputPath(dest)
	}
	return dest, nil
}

// acquire returns the download with its command lock held.
func (m *Manager) acquire(id string) (*Download, error) {
	m.mu.RLock()
	d, ok := m.downloads[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", utils.ErrNotFound, id)
	}
	d.ops.Lock()
	if d.removed {
		d.ops.Unlock()
		return nil, fmt.Errorf("%w: %s", utils.ErrNotFound, id)
	}
	return d, nil
}

func (m *Manager) lookup(id string) (*Download, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.downloads[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", utils.ErrNotFound, id)
	}
	return d, nil
}

// Start begins or resumes a queued or paused download. The transfer runs in
// the background; Wait blocks until it stops.
func (m *Manager) Start(id string) error {
	d, err := m.acquire(id)
	if err != nil {
		return err
	}
	defer d.ops.Unlock()
	if m.closed.Load() {
		return fmt.Errorf("%w: manager is closed", utils.ErrInvalidState)
	}

	d.mu.Lock()
	state := d.state
	if state != StateQueued && state != StatePaused {
		d.mu.Unlock()
		return fmt.Errorf("%w: cannot start a %s download", utils.ErrInvalidState, state)
	}
	needProbe := state == StateQueued || d.totalSize < 0 || !d.rangeSupported
	if !needProbe {
		d.chunks = m.scheduler.Replan(d.chunks)
	}
	ctx, cancel := context.WithCancelCause(m.ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	d.lastError = ""
	d.resetSpeed()
	d.mu.Unlock()

	next := StateActive
	if needProbe {
		next = StateProbing
	}
	if err := m.transition(d, next, nil); err != nil {
		cancel(nil)
		return err
	}
	m.wg.Add(1)
	go m.run(ctx, d, needProbe)
	return nil
}

// Pause stops the workers of a running download and waits until they have
// exited. Pausing a paused download does nothing.
func (m *Manager) Pause(id string) error {
	d, err := m.acquire(id)
	if err != nil {
		return err
	}
	defer d.ops.Unlock()
	switch state := d.State(); {
	case state == StatePaused:
		return nil
	case state.Running():
		m.stopRun(d, errPaused)
		return nil
	default:
		return fmt.Errorf("%w: cannot pause a %s download", utils.ErrInvalidState, state)
	}
}

// Cancel moves a download to Cancelled and deletes its partial data.
// Downloads that already reached a terminal state are left untouched.
func (m *Manager) Cancel(id string) error {
	d, err := m.acquire(id)
	if err != nil {
		return err
	}
	defer d.ops.Unlock()
	switch state := d.State(); {
	case state.Terminal():
		return nil
	case state.Running():
		m.stopRun(d, errCancelled)
		return nil
	default:
		if err := utils.RemovePart(d.destination); err != nil {
			log.Warn().Str("op", "manager/manager").Str("id", d.id).Err(err).Msg("could not delete partial file")
		}
		return m.transition(d, StateCancelled, nil)
	}
}

// Remove forgets a download that is not running. Partial data of an
// unfinished download is deleted; a completed file stays where it is.
func (m *Manager) Remove(id string) error {
	d, err := m.acquire(id)
	if err != nil {
		return err
	}
	defer d.ops.Unlock()
	state := d.State()
	if state.Running() {
		return fmt.Errorf("%w: download %s is %s, pause or cancel it first", utils.ErrInvalidState, id, state)
	}
	if state != StateCompleted {
		if err := utils.RemovePart(d.destination); err != nil {
			log.Warn().Str("op", "manager/manager").Str("id", d.id).Err(err).Msg("could not delete partial file")
		}
	}
	d.removed = true
	snap := d.Snapshot()
	m.mu.Lock()
	delete(m.downloads, id)
	m.mu.Unlock()

	log.Info().Str("op", "manager/manager").Str("id", id).Msg("download removed")
	m.events.publish(Event{Type: EventRemoved, ID: id, Snapshot: snap})
	m.persist()
	return nil
}

func (m *Manager) stopRun(d *Download, cause error) {
	d.mu.RLock()
	cancel, done := d.cancel, d.done
	d.mu.RUnlock()
	if cancel == nil || done == nil {
		return
	}
	cancel(cause)
	<-done
}

func (m *Manager) Get(id string) (Snapshot, error) {
	d, err := m.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	return d.Snapshot(), nil
}

// List returns every download ordered by creation time.
func (m *Manager) List() []Snapshot {
	m.mu.RLock()
	snaps := make([]Snapshot, 0, len(m.downloads))
	for _, d := range m.downloads {
		snaps = append(snaps, d.Snapshot())
	}
	m.mu.RUnlock()
	sort.Slice(snaps, func(i, j int) bool {
		if snaps[i].CreatedAt.Equal(snaps[j].CreatedAt) {
			return snaps[i].ID < snaps[j].ID
		}
		return snaps[i].CreatedAt.Before(snaps[j].CreatedAt)
	})
	return snaps
}

// Resolve expands an unambiguous id prefix to the full id.
func (m *Manager) Resolve(prefix string) (string, error) {
	if prefix == "" {
		return "", fmt.Errorf("%w: empty id", utils.ErrInvalidRequest)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.downloads[prefix]; ok {
		return prefix, nil
	}
	var matches []string
	for id := range m.downloads {
		if strings.HasPrefix(id, prefix) {
			matches = append(matches, id)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %s", utils.ErrNotFound, prefix)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%w: id prefix %q matches %d downloads", utils.ErrInvalidRequest, prefix, len(matches))
	}
}

// Subscribe returns a channel of engine events and a function releasing it.
func (m *Manager) Subscribe(buffer int) (<-chan Event, func()) {
	return m.events.subscribe(buffer)
}

// Wait blocks until the current run of id stops, then returns its snapshot.
func (m *Manager) Wait(ctx context.Context, id string) (Snapshot, error) {
	d, err := m.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	d.mu.RLock()
	done := d.done
	d.mu.RUnlock()
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return d.Snapshot(), ctx.Err()
		}
	}
	return d.Snapshot(), nil
}

// Close pauses running downloads, stops background work and writes a final
// snapshot.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	for _, s := range m.List() {
		if s.State.Running() {
			if err := m.Pause(s.ID); err != nil {
				log.Warn().Str("op", "manager/manager").Str("id", s.ID).Err(err).Msg("could not pause download on close")
			}
		}
	}
	m.stop()
	m.wg.Wait()
	err := m.persist()
	m.events.close()
	return err
}

// transition moves d to state to. cause is recorded as the last error when
// the target is Failed.
func (m *Manager) transition(d *Download, to State, cause error) error {
	d.mu.Lock()
	from := d.state
	if !from.CanTransition(to) {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", utils.ErrInvalidState, from, to)
	}
	d.state = to
	switch to {
	case StateCompleted:
		now := time.Now().UTC()
		d.completedAt = &now
		d.lastError = ""
	case StateFailed:
		if cause != nil {
			d.lastError = cause.Error()
		}
	}
	if !to.Running() {
		d.resetSpeed()
	}
	snap := d.snapshotLocked()
	d.mu.Unlock()

	event := log.Info()
	if to == StateFailed {
		event = log.Error().Str("error", snap.LastError)
	}
	event.Str("op", "manager/manager").Str("id", d.id).Str("from", string(from)).Str("to", string(to)).
		Int64("bytes", snap.BytesCompleted).Msg("state changed")
	m.metrics.Transition(string(to))
	m.updateActive()
	m.events.publish(Event{Type: EventState, ID: d.id, Snapshot: snap})
	m.persist()
	return nil
}

func (m *Manager) updateActive() {
	if m.metrics == nil {
		return
	}
	running := 0
	m.mu.RLock()
	for _, d := range m.downloads {
		if d.State().Running() {
			running++
		}
	}
	m.mu.RUnlock()
	m.metrics.SetActive(running)
}
