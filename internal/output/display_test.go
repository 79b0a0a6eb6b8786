package output

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanq16/keeper/internal/manager"
)

func snapshot(id string, state manager.State, done, total int64) manager.Snapshot {
	return manager.Snapshot{
		ID:             id,
		URL:            "https://example.com/" + id,
		Destination:    "/downloads/" + id + ".bin",
		State:          state,
		TotalSize:      total,
		BytesCompleted: done,
		CreatedAt:      time.Now(),
	}
}

func TestRenderTable(t *testing.T) {
	failed := snapshot("bbbbbbbb-2222", manager.StateFailed, 0, 100)
	failed.LastError = "unexpected status: 404 Not Found"
	table := RenderTable([]manager.Snapshot{
		snapshot("aaaaaaaa-1111", manager.StateActive, 50, 100),
		failed,
		snapshot("cccccccc-3333", manager.StateQueued, 0, -1),
	})

	lines := strings.Split(table, "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "DESTINATION")
	assert.True(t, strings.HasPrefix(lines[1], "aaaaaaaa  active"), lines[1])
	assert.Contains(t, lines[1], "50.0%")
	assert.Contains(t, lines[2], "404 Not Found")
	assert.Contains(t, lines[3], "?")
	assert.Equal(t, "No downloads", RenderTable(nil))
}

func TestDisplayTracksEvents(t *testing.T) {
	var out bytes.Buffer
	d := newDisplay(&out, func() int { return 40 })

	d.Handle(manager.Event{Type: manager.EventProgress, ID: "ghost", Snapshot: snapshot("ghost", manager.StateActive, 1, 2)})
	d.Handle(manager.Event{Type: manager.EventState, ID: "one", Snapshot: snapshot("one", manager.StateActive, 25, 100)})
	d.Handle(manager.Event{Type: manager.EventState, ID: "two", Snapshot: snapshot("two", manager.StatePaused, 10, 100)})
	d.Handle(manager.Event{Type: manager.EventProgress, ID: "one", Snapshot: snapshot("one", manager.StateActive, 75, 100)})

	d.updateDisplay()
	first := out.String()
	assert.NotContains(t, first, "ghost")
	assert.Contains(t, first, "75.0%")
	assert.Contains(t, first, "two.bin (paused, 10.0%)")
	assert.Equal(t, 3, d.numLines)

	out.Reset()
	d.Handle(manager.Event{Type: manager.EventRemoved, ID: "two"})
	d.updateDisplay()
	assert.True(t, strings.HasPrefix(out.String(), "\033[3A\033[J"))
	assert.NotContains(t, out.String(), "two.bin")
	assert.Equal(t, 2, d.numLines)
}

func TestDisplayLimitsToTerminalHeight(t *testing.T) {
	var out bytes.Buffer
	d := newDisplay(&out, func() int { return 6 })
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		d.Track(snapshot(id, manager.StateQueued, 0, 10))
	}

	d.updateDisplay()

	assert.Equal(t, 3, d.numLines)
}

func TestDisplaySummaryReportsFailures(t *testing.T) {
	var out bytes.Buffer
	d := newDisplay(&out, func() int { return 40 })
	failed := snapshot("bad", manager.StateFailed, 0, 10)
	failed.LastError = "chunk 1: server rejected request"
	d.Track(snapshot("good", manager.StateCompleted, 10, 10))
	d.Track(failed)
	d.Track(failed)

	d.ShowSummary()

	summary := out.String()
	assert.Contains(t, summary, "Completed 1 of 2")
	assert.Contains(t, summary, "Failed 1 of 2")
	assert.Contains(t, summary, "chunk 1: server rejected request")
	assert.Len(t, d.errors, 1)
}

func TestTruncateKeepsTail(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "…/file.iso", truncate("/very/long/path/file.iso", 10))
}

func TestEveryStateHasIndicator(t *testing.T) {
	states := []manager.State{
		manager.StateQueued, manager.StateProbing, manager.StateActive, manager.StatePaused,
		manager.StateCompleted, manager.StateFailed, manager.StateCancelled,
	}
	for _, state := range states {
		_, ok := statePalette[state]
		assert.True(t, ok, string(state))
		assert.NotEqual(t, "?", stateIndicator(state), string(state))
	}
	assert.Equal(t, "?", stateIndicator(manager.State("bogus")))
}
