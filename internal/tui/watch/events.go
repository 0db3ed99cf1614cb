package watch

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/conduit/internal/events"
)

const eventLogSize = 8

func renderEventStream(eventLog []events.Event, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENTS"),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	lines := make([]string, 0, len(eventLog))
	for _, e := range eventLog {
		lines = append(lines, formatEvent(e, theme))
	}
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENTS"),
		lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n")),
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))
	typeStyle := theme.Dim
	if strings.HasPrefix(e.Type, "scheduler") || strings.HasPrefix(e.Type, "trigger") {
		typeStyle = theme.Highlight
	}
	return fmt.Sprintf("%s %s %s", ts, typeStyle.Render(fmt.Sprintf("%-20s", e.Type)), describeEvent(e, theme))
}

func describeEvent(e events.Event, theme Theme) string {
	var data struct {
		JobID      string `json:"job_id"`
		Status     string `json:"status"`
		StatusInfo string `json:"status_info"`
		Jobs       int    `json:"jobs"`
	}
	_ = e.Decode(&data)

	var parts []string
	if data.JobID != "" {
		parts = append(parts, "["+shortID(data.JobID)+"]")
	}
	if data.Status != "" {
		parts = append(parts, theme.Status(data.Status).Render(data.Status))
	}
	if data.StatusInfo != "" {
		parts = append(parts, data.StatusInfo)
	}
	if data.Jobs > 0 {
		parts = append(parts, fmt.Sprintf("%d jobs", data.Jobs))
	}
	if len(parts) == 0 {
		raw := string(e.Data)
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}
	return strings.Join(parts, " ")
}
