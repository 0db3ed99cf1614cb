package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/conduit/internal/events"
)

const initialJobs = 200

// Model is the main BubbleTea model for the watch TUI.
type Model struct {
	client *client

	width  int
	height int

	health   HealthState
	jobs     *jobBook
	visible  []*JobRow
	table    table.Model
	eventLog []events.Event
	lastTick time.Time
	frame    int

	theme     Theme
	hubEvents chan events.Event

	lastError string
	notice    string
}

// New creates a new watch TUI model.
func New(apiURL, apiKey string) *Model {
	t := table.New(
		table.WithColumns(jobColumns),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("#FAFAFA")).
		Background(lipgloss.Color("#874BFD"))
	t.SetStyles(styles)

	return &Model{
		client:    newClient(apiURL, apiKey),
		jobs:      newJobBook(),
		table:     t,
		theme:     NewDefaultTheme(),
		hubEvents: make(chan events.Event, 128),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.client.subscribe(m.hubEvents),
		receiveNextEvent(m.hubEvents),
		m.client.fetchHealth,
		m.client.fetchJobs(initialJobs),
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "a":
			m.jobs.activeOnly = !m.jobs.activeOnly
			m.refreshTable()
			return m, nil
		case "c":
			if row := m.selected(); row != nil {
				return m, m.client.jobAction("cancel", row.ID)
			}
			return m, nil
		case "r":
			if row := m.selected(); row != nil {
				return m, m.client.jobAction("retry", row.ID)
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		// header (6) + events (eventLogSize+3) + help and margins (4)
		m.table.SetHeight(max(3, m.height-6-(eventLogSize+3)-4))
		return m, nil

	case tickMsg:
		m.frame++
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case jobsMsg:
		m.jobs.load(msg)
		m.refreshTable()
		return m, nil

	case eventMsg:
		e := events.Event(msg)

		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > eventLogSize {
			m.eventLog = m.eventLog[:eventLogSize]
		}
		if e.Type == "scheduler.tick" {
			m.lastTick = e.At
		}
		m.jobs.apply(e)
		m.refreshTable()

		m.health.Connected = true
		m.lastError = ""
		return m, receiveNextEvent(m.hubEvents)

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.WaitingJobs = msg.WaitingJobs
		m.health.Pipelines = msg.Pipelines
		m.health.Connected = true
		m.health.LastCheck = time.Now()
		m.lastError = ""

		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg {
			return m.client.fetchHealth()
		})

	case actionMsg:
		m.notice = fmt.Sprintf("%s %s: %s", msg.action, shortID(msg.jobID), msg.status)
		return m, nil

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg {
			return reconnectMsg{}
		})

	case reconnectMsg:
		// Jobs may have moved while disconnected.
		return m, tea.Batch(m.client.subscribe(m.hubEvents), m.client.fetchJobs(initialJobs))

	case errMsg:
		m.lastError = msg.Error()
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg {
			return m.client.fetchHealth()
		})
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *Model) refreshTable() {
	m.visible = m.jobs.sorted()
	m.table.SetRows(tableRows(m.visible))
	if c := m.table.Cursor(); c >= len(m.visible) && len(m.visible) > 0 {
		m.table.SetCursor(len(m.visible) - 1)
	}
}

func (m Model) selected() *JobRow {
	c := m.table.Cursor()
	if c < 0 || c >= len(m.visible) {
		return nil
	}
	return m.visible[c]
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting..."
	}

	header := renderHeader(m.health, m.jobs.counts(), m.frame, m.lastTick, m.theme, m.width)
	title := "JOBS"
	if m.jobs.activeOnly {
		title = "JOBS (active)"
	}
	jobs := m.theme.Border.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left, m.theme.Title.Render(title), m.table.View()),
	)
	eventStream := renderEventStream(m.eventLog, m.theme, m.width)

	parts := []string{header, jobs, eventStream}
	if m.lastError != "" {
		parts = append(parts, m.theme.Error.Render(" ⚠ "+m.lastError))
	} else if m.notice != "" {
		parts = append(parts, m.theme.Highlight.Render(" "+m.notice))
	}
	parts = append(parts, m.theme.Dim.Render(" [q] quit • [↑/↓] select • [c] cancel • [r] retry • [a] active only"))

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}
