// Package watch implements the `conduit watch` terminal UI: a live job
// status list fed by the server's event stream.
package watch

import "github.com/charmbracelet/lipgloss"

// Theme centralizes all styling for the watch TUI.
type Theme struct {
	Waiting   lipgloss.Style
	Running   lipgloss.Style
	Complete  lipgloss.Style
	Error     lipgloss.Style
	Cancelled lipgloss.Style

	Border    lipgloss.Style
	Title     lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style
}

func NewDefaultTheme() Theme {
	purple := lipgloss.Color("#874BFD")

	return Theme{
		Waiting:   lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Running:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		Complete:  lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		Error:     lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),
		Cancelled: lipgloss.NewStyle().Foreground(lipgloss.Color("#666666")),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(purple),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1),
		Dim:       lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Highlight: lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),
	}
}

// Status returns the style for a job status string.
func (t Theme) Status(status string) lipgloss.Style {
	switch status {
	case "running":
		return t.Running
	case "complete":
		return t.Complete
	case "error":
		return t.Error
	case "cancelled":
		return t.Cancelled
	default:
		return t.Waiting
	}
}
