package output

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tanq16/keeper/internal/manager"
	"github.com/tanq16/keeper/internal/utils"
)

type ErrorReport struct {
	ID    string
	URL   string
	Error string
	Time  time.Time
}

// Display redraws a live view of the downloads it hears about from manager
// events. It owns the lines it printed last and erases them before each
// redraw.
type Display struct {
	out         io.Writer
	mutex       sync.RWMutex
	rows        map[string]manager.Snapshot
	order       map[string]int
	nextIndex   int
	numLines    int
	errors      []ErrorReport
	displayTick time.Duration
	height      func() int
	doneCh      chan struct{}
	displayWg   sync.WaitGroup
}

func NewDisplay() *Display {
	return newDisplay(os.Stdout, getTerminalHeight)
}

func newDisplay(out io.Writer, height func() int) *Display {
	return &Display{
		out:         out,
		rows:        make(map[string]manager.Snapshot),
		order:       make(map[string]int),
		displayTick: 300 * time.Millisecond,
		height:      height,
		doneCh:      make(chan struct{}),
	}
}

// Track adds or refreshes a download row.
func (d *Display) Track(s manager.Snapshot) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.trackLocked(s)
}

func (d *Display) trackLocked(s manager.Snapshot) {
	if _, ok := d.order[s.ID]; !ok {
		d.order[s.ID] = d.nextIndex
		d.nextIndex++
	}
	prev, seen := d.rows[s.ID]
	if s.State == manager.StateFailed && (!seen || prev.State != manager.StateFailed) {
		d.errors = append(d.errors, ErrorReport{ID: s.ID, URL: s.URL, Error: s.LastError, Time: time.Now()})
	}
	d.rows[s.ID] = s
}

func (d *Display) Handle(e manager.Event) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	switch e.Type {
	case manager.EventRemoved:
		delete(d.rows, e.ID)
		delete(d.order, e.ID)
	default:
		// progress for an untracked download is ignored; state events add it
		if _, ok := d.rows[e.ID]; !ok && e.Type == manager.EventProgress {
			return
		}
		d.trackLocked(e.Snapshot)
	}
}

// Start consumes events until ctx is done or the channel closes, redrawing on
// a fixed tick.
func (d *Display) Start(ctx context.Context, events <-chan manager.Event) {
	d.displayWg.Add(1)
	go func() {
		defer d.displayWg.Done()
		ticker := time.NewTicker(d.displayTick)
		defer ticker.Stop()
		for {
			select {
			case e, ok := <-events:
				if !ok {
					events = nil
					continue
				}
				d.Handle(e)
			case <-ticker.C:
				d.updateDisplay()
			case <-ctx.Done():
				return
			case <-d.doneCh:
				return
			}
		}
	}()
}

// Stop halts redraws and prints the final view followed by a summary.
func (d *Display) Stop() {
	close(d.doneCh)
	d.displayWg.Wait()
	d.updateDisplay()
	d.ShowSummary()
}

func (d *Display) sorted() (running, waiting, finished []manager.Snapshot) {
	all := make([]manager.Snapshot, 0, len(d.rows))
	for _, s := range d.rows {
		all = append(all, s)
	}
	sort.Slice(all, func(i, j int) bool {
		return d.order[all[i].ID] < d.order[all[j].ID]
	})
	for _, s := range all {
		switch {
		case s.State.Running():
			running = append(running, s)
		case s.State.Terminal():
			finished = append(finished, s)
		default:
			waiting = append(waiting, s)
		}
	}
	return running, waiting, finished
}

func (d *Display) render() []string {
	running, waiting, finished := d.sorted()
	available := max(d.height()-3, 1)
	indent := strings.Repeat(" ", 2)
	nameWidth := max(getTerminalWidth()-24, 20)
	var lines []string

	for _, s := range running {
		lines = append(lines, fmt.Sprintf("%s%s %s %s", indent, stateIndicator(s.State), FDebug(ShortID(s.ID)), FPending(truncate(s.Destination, nameWidth))))
		var detail string
		if s.TotalSize >= 0 {
			detail = PrintProgressBar(s.BytesCompleted, s.TotalSize, 30)
		}
		detail += FDebug(fmt.Sprintf("%s %s %s %s ETA %s", sizeText(s), bullet, utils.FormatSpeed(s.Speed), bullet, formatETA(s.ETA())))
		lines = append(lines, indent+indent+indent+detail)
	}
	for _, s := range waiting {
		lines = append(lines, fmt.Sprintf("%s%s %s %s", indent, stateIndicator(s.State), FDebug(ShortID(s.ID)), FPending(fmt.Sprintf("%s (%s, %s)", truncate(s.Destination, nameWidth), s.State, progressText(s)))))
	}
	if len(finished) > 10 {
		lines = append(lines, infoStyle.Render(fmt.Sprintf("%s%d downloads finished earlier ...", indent, len(finished)-8)))
		finished = finished[len(finished)-8:]
	}
	for _, s := range finished {
		msg := truncate(s.Destination, nameWidth)
		if s.State == manager.StateFailed {
			msg = fmt.Sprintf("%s: %s", msg, s.LastError)
		}
		lines = append(lines, fmt.Sprintf("%s%s %s %s", indent, stateIndicator(s.State), FDebug(ShortID(s.ID)), stateStyle(s.State).Render(msg)))
	}
	if len(lines) > available {
		lines = lines[:available]
	}
	return lines
}

func (d *Display) updateDisplay() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.numLines > 0 {
		fmt.Fprintf(d.out, "\033[%dA\033[J", d.numLines)
	}
	lines := d.render()
	for _, line := range lines {
		fmt.Fprintln(d.out, line)
	}
	d.numLines = len(lines)
}

func (d *Display) displayErrors() {
	if len(d.errors) == 0 {
		return
	}
	fmt.Fprintln(d.out)
	fmt.Fprintln(d.out, strings.Repeat(" ", 2)+errorStyle.Bold(true).Render("Errors:"))
	for i, err := range d.errors {
		fmt.Fprintf(d.out, "%s%s %s %s\n",
			strings.Repeat(" ", 2+2),
			errorStyle.Render(fmt.Sprintf("%d.", i+1)),
			debugStyle.Render(fmt.Sprintf("[%s]", err.Time.Format("15:04:05"))),
			errorStyle.Render(fmt.Sprintf("Download: %s (%s)", ShortID(err.ID), err.URL)))
		fmt.Fprintf(d.out, "%s%s\n", strings.Repeat(" ", 2+4), errorStyle.Render(fmt.Sprintf("Error: %s", err.Error)))
	}
}

func (d *Display) ShowSummary() {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	fmt.Fprintln(d.out)
	var completed, failed, paused int
	for _, s := range d.rows {
		switch s.State {
		case manager.StateCompleted:
			completed++
		case manager.StateFailed:
			failed++
		case manager.StatePaused:
			paused++
		}
	}
	fmt.Fprintln(d.out, strings.Repeat(" ", 2)+success2Style.Render(fmt.Sprintf("Completed %d of %d", completed, len(d.rows))))
	if paused > 0 {
		fmt.Fprintln(d.out, strings.Repeat(" ", 2)+warningStyle.Render(fmt.Sprintf("Paused %d of %d", paused, len(d.rows))))
	}
	if failed > 0 {
		fmt.Fprintln(d.out, strings.Repeat(" ", 2)+errorStyle.Render(fmt.Sprintf("Failed %d of %d", failed, len(d.rows))))
	}
	d.displayErrors()
	fmt.Fprintln(d.out)
}
