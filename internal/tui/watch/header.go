package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// HealthState tracks server health from /healthz polling.
type HealthState struct {
	Status        string
	UptimeSeconds int64
	WaitingJobs   int
	Pipelines     int
	Connected     bool
	LastCheck     time.Time
}

var tickerFrames = []string{"⟲", "⟳"}

func renderHeader(health HealthState, counts map[string]int, frame int, lastTick time.Time, theme Theme, width int) string {
	innerWidth := width - 4

	statusText := theme.Complete.Render("HEALTHY")
	if !health.Connected {
		statusText = theme.Error.Render("CONNECTING")
	} else if health.Status != "ok" && health.Status != "" {
		statusText = theme.Error.Render("DEGRADED")
	}

	clock := theme.Dim.Render(time.Now().Format("15:04:05"))
	titleText := fmt.Sprintf(" CONDUIT WATCH %s", theme.Highlight.Render(tickerFrames[frame%len(tickerFrames)]))
	pad := innerWidth - lipgloss.Width(titleText) - lipgloss.Width(clock) - 4
	if pad < 1 {
		pad = 1
	}
	titleLine := titleText + strings.Repeat(" ", pad) + clock + " "

	statsLine := fmt.Sprintf(" %s  up %s  pipelines: %d  waiting: %d",
		statusText,
		formatDuration(time.Duration(health.UptimeSeconds)*time.Second),
		health.Pipelines,
		health.WaitingJobs,
	)

	var byStatus []string
	for _, st := range []string{"waiting", "running", "complete", "error", "cancelled"} {
		byStatus = append(byStatus, theme.Status(st).Render(fmt.Sprintf("%s %d", st, counts[st])))
	}
	countLine := " " + strings.Join(byStatus, "  ")

	tick := "never"
	if !lastTick.IsZero() {
		tick = time.Since(lastTick).Round(time.Second).String() + " ago"
	}
	tickLine := theme.Dim.Render(" last scheduler tick: " + tick)

	return theme.Border.Width(innerWidth).Render(
		lipgloss.JoinVertical(lipgloss.Left, titleLine, statsLine, countLine, tickLine),
	)
}
