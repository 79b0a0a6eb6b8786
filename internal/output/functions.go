package output

import (
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/tanq16/keeper/internal/manager"
	"github.com/tanq16/keeper/internal/utils"
)

const shortIDLength = 8

// PrintProgressBar creates a progress bar string
func PrintProgressBar(current, total int64, width int) string {
	if width <= 0 {
		width = 30
	}
	if total <= 0 {
		total = 1
	}
	if current < 0 {
		current = 0
	}
	if current > total {
		current = total
	}
	percent := float64(current) / float64(total)
	filled := max(0, min(int(percent*float64(width)), width))
	bar := bullet
	bar += strings.Repeat(hline, filled)
	if filled < width {
		bar += strings.Repeat(" ", width-filled)
	}
	bar += bullet
	return debugStyle.Render(fmt.Sprintf("%s %.1f%% %s ", bar, percent*100, bullet))
}

func getTerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return 80 // Default fallback width
	}
	return width
}

func getTerminalHeight() int {
	_, height, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || height <= 0 {
		return 24 // Default fallback height
	}
	return height
}

// truncate shortens text to at most width runes, keeping the tail since the
// end of a path or URL is usually the informative part.
func truncate(text string, width int) string {
	if width <= 1 || utf8.RuneCountInString(text) <= width {
		return text
	}
	runes := []rune(text)
	return "…" + string(runes[len(runes)-width+1:])
}

func ShortID(id string) string {
	if len(id) <= shortIDLength {
		return id
	}
	return id[:shortIDLength]
}

func sizeText(s manager.Snapshot) string {
	if s.TotalSize < 0 {
		return utils.FormatBytes(uint64(s.BytesCompleted)) + " / ?"
	}
	return fmt.Sprintf("%s / %s", utils.FormatBytes(uint64(s.BytesCompleted)), utils.FormatBytes(uint64(s.TotalSize)))
}

func progressText(s manager.Snapshot) string {
	if s.TotalSize < 0 && s.State != manager.StateCompleted {
		return "?"
	}
	return fmt.Sprintf("%.1f%%", s.Progress()*100)
}

// RenderTable lays out downloads as the table printed by "keeper list".
func RenderTable(snapshots []manager.Snapshot) string {
	if len(snapshots) == 0 {
		return debugStyle.Render("No downloads")
	}
	headers := []string{"ID", "STATE", "PROGRESS", "SIZE", "DESTINATION", "ERROR"}
	rows := make([][]string, 0, len(snapshots))
	for _, s := range snapshots {
		rows = append(rows, []string{
			ShortID(s.ID),
			string(s.State),
			progressText(s),
			sizeText(s),
			truncate(s.Destination, 48),
			truncate(s.LastError, 48),
		})
	}
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = utf8.RuneCountInString(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], utf8.RuneCountInString(cell))
		}
	}

	var b strings.Builder
	cells := make([]string, len(headers))
	for i, h := range headers {
		cells[i] = headerStyle.Width(widths[i] + 2).Render(h)
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, cells...))
	for r, row := range rows {
		state := snapshots[r].State
		for i, cell := range row {
			style := debugStyle
			switch i {
			case 1:
				style = stateStyle(state)
			case 5:
				style = errorStyle
			}
			cells[i] = style.Width(widths[i] + 2).Render(cell)
		}
		b.WriteString("\n")
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, cells...))
	}
	return b.String()
}

func formatETA(d time.Duration) string {
	if d < 0 {
		return "--"
	}
	return d.String()
}
