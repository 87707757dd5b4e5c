// Package tui renders a live terminal view of a running build service.
package tui

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/mattjoyce/pipec/internal/api"
	"github.com/mattjoyce/pipec/internal/events"
)

// --- Styles ---

var (
	docStyle = lipgloss.NewStyle().Margin(1, 2)

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#874BFD"))

	statusOK     = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	statusCached = lipgloss.NewStyle().Foreground(lipgloss.Color("#00AFFF"))
	statusFailed = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1)
)

const (
	maxBuilds   = 200
	maxEventLog = 50
)

// --- Types ---

// BuildRow is one finished or failed build.
type BuildRow struct {
	At   time.Time
	Type string
	events.BuildData
}

// Totals counts builds seen since the monitor started.
type Totals struct {
	Builds   int
	Hits     int
	Failures int
}

type Model struct {
	apiURL string
	token  string
	client *http.Client

	width  int
	height int

	builds    []BuildRow
	totals    Totals
	eventLog  []events.Event
	hubEvents chan events.Event

	health api.HealthzResponse
	err    error

	buildTable table.Model
}

type eventMsg events.Event
type healthMsg api.HealthzResponse
type errMsg struct {
	err error
	// retry schedules another health poll.
	retry bool
}

// NewMonitor returns a monitor for the API at apiURL. token may be empty for
// an open API.
func NewMonitor(apiURL, token string) *Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Kind", Width: 8},
			{Title: "Hash", Width: 18},
			{Title: "Stage", Width: 5},
			{Title: "Time", Width: 9},
			{Title: "Detail", Width: 40},
		}),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	return &Model{
		apiURL:     strings.TrimRight(apiURL, "/"),
		token:      token,
		client:     &http.Client{},
		hubEvents:  make(chan events.Event, 100),
		buildTable: t,
	}
}

// Totals returns the build counters.
func (m *Model) Totals() Totals { return m.totals }

func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		m.subscribeToEvents(),
		m.receiveNextEvent(),
		m.pollHealth(),
	)
}

// --- Update ---

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.buildTable.SetWidth(m.width - 6)
		m.buildTable.SetHeight(max(m.height/2-4, 3))

	case eventMsg:
		m.handleEvent(events.Event(msg))
		m.updateTable()
		return m, m.receiveNextEvent()

	case healthMsg:
		m.health = api.HealthzResponse(msg)
		m.err = nil
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg {
			return m.fetchHealth()
		})

	case errMsg:
		m.err = msg.err
		if !msg.retry {
			return m, nil
		}
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg {
			return m.fetchHealth()
		})
	}

	m.buildTable, cmd = m.buildTable.Update(msg)
	return m, cmd
}

func (m *Model) handleEvent(e events.Event) {
	m.eventLog = append([]events.Event{e}, m.eventLog...)
	if len(m.eventLog) > maxEventLog {
		m.eventLog = m.eventLog[:maxEventLog]
	}

	switch e.Type {
	case events.BuildFinished, events.BuildFailed:
		row := BuildRow{At: e.At, Type: e.Type}
		if err := json.Unmarshal(e.Data, &row.BuildData); err != nil {
			return
		}
		m.totals.Builds++
		if e.Type == events.BuildFailed {
			m.totals.Failures++
		} else if row.CacheHit {
			m.totals.Hits++
		}
		m.builds = append([]BuildRow{row}, m.builds...)
		if len(m.builds) > maxBuilds {
			m.builds = m.builds[:maxBuilds]
		}
	}
}

func (m *Model) updateTable() {
	rows := make([]table.Row, 0, len(m.builds))
	for _, b := range m.builds {
		sym := statusOK.Render("●")
		detail := b.BuildID
		switch {
		case b.Type == events.BuildFailed:
			sym = statusFailed.Render("∅")
			detail = b.Error
		case b.CacheHit:
			sym = statusCached.Render("◉")
		case b.Replaced:
			detail = "replaced " + detail
		}
		rows = append(rows, table.Row{
			sym,
			b.Kind,
			b.Hash,
			b.Stage,
			(time.Duration(b.DurationMS) * time.Millisecond).String(),
			detail,
		})
	}
	m.buildTable.SetRows(rows)
}

// --- View ---

func (m *Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	buildsView := borderStyle.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("Builds"),
			m.buildTable.View(),
		),
	)
	eventsView := borderStyle.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("Event Stream"),
			m.renderEvents(),
		),
	)
	help := lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render(" [q] Quit • [↑/↓] Scroll Builds")

	return docStyle.Render(
		lipgloss.JoinVertical(
			lipgloss.Left,
			m.renderHeader(),
			buildsView,
			eventsView,
			help,
		),
	)
}

func (m *Model) renderHeader() string {
	status := statusOK.Render("SERVING")
	switch {
	case m.err != nil:
		status = statusFailed.Render("UNREACHABLE")
	case m.health.Status == "":
		status = "connecting"
	case m.health.Status != "ok":
		status = statusFailed.Render("DEGRADED")
	}

	hitRate := "-"
	if m.totals.Builds > 0 {
		hitRate = fmt.Sprintf("%.0f%%", 100*float64(m.totals.Hits)/float64(m.totals.Builds))
	}
	items := []string{
		fmt.Sprintf("Status: %s", status),
		fmt.Sprintf("Uptime: %s", time.Duration(m.health.UptimeSeconds)*time.Second),
		fmt.Sprintf("GFX: %s", m.health.GfxIP),
		fmt.Sprintf("Cache: %s %s", m.health.CacheMode, humanize.Comma(int64(m.health.CacheEntries))),
		fmt.Sprintf("Running: %d", m.health.BuildsRunning),
		fmt.Sprintf("Hits: %s", hitRate),
	}

	cell := lipgloss.NewStyle().Width((m.width - 4) / len(items))
	cells := make([]string, len(items))
	for i, it := range items {
		cells[i] = cell.Render(it)
	}
	return borderStyle.Width(m.width - 4).Render(lipgloss.JoinHorizontal(lipgloss.Top, cells...))
}

func (m *Model) renderEvents() string {
	var lines []string
	for i, e := range m.eventLog {
		if i >= 10 {
			break
		}
		lines = append(lines, fmt.Sprintf("%s | %-15s | %s", e.At.Format("15:04:05"), e.Type, string(e.Data)))
	}
	if len(lines) == 0 {
		return "  No events yet..."
	}
	return lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
}

// --- Commands ---

func (m *Model) newRequest(path string) (*http.Request, error) {
	req, err := http.NewRequest(http.MethodGet, m.apiURL+path, nil)
	if err != nil {
		return nil, err
	}
	if m.token != "" {
		req.Header.Set("Authorization", "Bearer "+m.token)
	}
	return req, nil
}

func (m *Model) subscribeToEvents() tea.Cmd {
	return func() tea.Msg {
		req, err := m.newRequest("/v1/events")
		if err != nil {
			return errMsg{err: err}
		}
		resp, err := m.client.Do(req)
		if err != nil {
			return errMsg{err: err}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return errMsg{err: fmt.Errorf("GET /v1/events: %s", resp.Status)}
		}

		if err := ReadSSE(resp.Body, func(ev events.Event) { m.hubEvents <- ev }); err != nil {
			return errMsg{err: err}
		}
		return nil
	}
}

func (m *Model) receiveNextEvent() tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-m.hubEvents)
	}
}

func (m *Model) pollHealth() tea.Cmd {
	return func() tea.Msg {
		return m.fetchHealth()
	}
}

func (m *Model) fetchHealth() tea.Msg {
	req, err := m.newRequest("/healthz")
	if err != nil {
		return errMsg{err: err, retry: true}
	}
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return errMsg{err: err, retry: true}
	}
	defer resp.Body.Close()

	var h api.HealthzResponse
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return errMsg{err: err, retry: true}
	}
	return healthMsg(h)
}

// ReadSSE parses a server-sent event stream, calling fn for each event.
// The receive time stands in for the publish time, which is not on the wire.
func ReadSSE(r io.Reader, fn func(events.Event)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var ev events.Event
	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if len(data) > 0 {
				ev.Data = []byte(strings.Join(data, "\n"))
				ev.At = time.Now().UTC()
				fn(ev)
			}
			ev, data = events.Event{}, nil
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		case strings.HasPrefix(line, "id: "):
			ev.ID, _ = strconv.ParseInt(strings.TrimPrefix(line, "id: "), 10, 64)
		case strings.HasPrefix(line, "event: "):
			ev.Type = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = append(data, strings.TrimPrefix(line, "data: "))
		}
	}
	return scanner.Err()
}
