package tui

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	textStyleColor = lipgloss.AdaptiveColor{Light: "#36EEE0", Dark: "#00FFFF"}
	commandStyle   = lipgloss.NewStyle().Foreground(textStyleColor)
)

func Directory(dir string) string {
	return commandStyle.Render(dir)
}

// MaxWidth truncates text to width runes, ending it with "..." when cut.
func MaxWidth(text string, width int) string {
	if lipgloss.Width(text) <= width {
		return text
	}
	if width <= 3 {
		return string([]rune(text)[:width])
	}
	return string([]rune(text)[:width-3]) + "..."
}
