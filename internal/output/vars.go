package output

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"

	"github.com/tanq16/keeper/internal/manager"
)

var (
	successStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("37"))            // dark green
	success2Style = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))             // green
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))             // red
	warningStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))            // yellow
	pendingStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))            // blue
	infoStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))            // cyan
	debugStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))           // light grey
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69")) // purple
)

const (
	bullet = "•"
	hline  = "━"
)

// statePalette is how each download state is drawn in the table and the live view.
var statePalette = map[manager.State]struct {
	style  lipgloss.Style
	symbol string
}{
	manager.StateQueued:    {pendingStyle, "◉"},
	manager.StateProbing:   {infoStyle, "→"},
	manager.StateActive:    {infoStyle, "→"},
	manager.StatePaused:    {warningStyle, "‖"},
	manager.StateCompleted: {successStyle, "✓"},
	manager.StateFailed:    {errorStyle, "✗"},
	manager.StateCancelled: {warningStyle, "!"},
}

func stateStyle(state manager.State) lipgloss.Style {
	if p, ok := statePalette[state]; ok {
		return p.style
	}
	return infoStyle
}

func stateIndicator(state manager.State) string {
	p, ok := statePalette[state]
	if !ok {
		return infoStyle.Render("?")
	}
	return p.style.Render(p.symbol)
}

func PrintSuccess(text string) {
	fmt.Println(successStyle.Render(text))
}
func PrintError(text string) {
	fmt.Fprintln(os.Stderr, errorStyle.Render(text))
}
func PrintWarning(text string) {
	fmt.Println(warningStyle.Render(text))
}
func PrintInfo(text string) {
	fmt.Println(infoStyle.Render(text))
}
func FPending(text string) string {
	return pendingStyle.Render(text)
}
func FDebug(text string) string {
	return debugStyle.Render(text)
}
