package watch

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/goccy/go-json"

	"github.com/mattjoyce/conduit/internal/api"
	"github.com/mattjoyce/conduit/internal/events"
)

// --- Message types ---

type eventMsg events.Event

type healthMsg api.HealthzResponse

type jobsMsg []api.JobResponse

type actionMsg struct {
	action string
	jobID  string
	status string
}

type tickMsg time.Time

type errMsg error

type sseDisconnectedMsg struct{}
type reconnectMsg struct{}

// client talks to the server API.
type client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	stream  *http.Client
}

func newClient(baseURL, apiKey string) *client {
	return &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 5 * time.Second},
		stream:  &http.Client{},
	}
}

func (c *client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e api.ErrorResponse
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return fmt.Errorf("%s %s: %s", method, path, e.Error)
		}
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// --- Commands ---

// fetchHealth queries the /healthz endpoint.
func (c *client) fetchHealth() tea.Msg {
	var h api.HealthzResponse
	if err := c.do(context.Background(), http.MethodGet, "/healthz", &h); err != nil {
		return errMsg(err)
	}
	return healthMsg(h)
}

// fetchJobs loads the newest jobs to seed the table.
func (c *client) fetchJobs(limit int) tea.Cmd {
	return func() tea.Msg {
		var resp api.JobListResponse
		if err := c.do(context.Background(), http.MethodGet, "/jobs?limit="+strconv.Itoa(limit), &resp); err != nil {
			return errMsg(err)
		}
		return jobsMsg(resp.Jobs)
	}
}

// jobAction posts cancel or retry for jobID.
func (c *client) jobAction(action, jobID string) tea.Cmd {
	return func() tea.Msg {
		path := "/jobs/" + url.PathEscape(jobID) + "/" + action
		var resp struct {
			Status string `json:"status"`
		}
		if err := c.do(context.Background(), http.MethodPost, path, &resp); err != nil {
			return errMsg(err)
		}
		return actionMsg{action: action, jobID: jobID, status: resp.Status}
	}
}

// subscribe connects to the SSE /events endpoint and feeds events into ch.
// It returns sseDisconnectedMsg when the connection drops.
func (c *client) subscribe(ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		req, err := http.NewRequest(http.MethodGet, c.baseURL+"/events?type=job.status,scheduler.tick,scheduler.recovered,trigger.fired", nil)
		if err != nil {
			return errMsg(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.stream.Do(req)
		if err != nil {
			return sseDisconnectedMsg{}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return errMsg(fmt.Errorf("event stream: %s", resp.Status))
		}

		readSSE(resp.Body, func(ev events.Event) { ch <- ev })
		return sseDisconnectedMsg{}
	}
}

// readSSE parses a server-sent event stream, calling emit once per event.
func readSSE(r io.Reader, emit func(events.Event)) {
	scanner := bufio.NewScanner(r)
	var cur events.Event
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if len(cur.Data) > 0 {
				cur.At = time.Now()
				emit(cur)
			}
			cur = events.Event{}
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		case strings.HasPrefix(line, "id: "):
			if id, err := strconv.ParseInt(line[4:], 10, 64); err == nil {
				cur.ID = id
			}
		case strings.HasPrefix(line, "event: "):
			cur.Type = line[7:]
		case strings.HasPrefix(line, "data: "):
			cur.Data = json.RawMessage(line[6:])
		}
	}
}

// receiveNextEvent waits for the next event from the channel.
func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}
