package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30

	// queueFetchLimit bounds the queue payload per poll; only the top
	// queueShowLimit entries are rendered.
	queueFetchLimit = 50
	queueShowLimit  = 5
)

// Model is the bubbletea dashboard model.
type Model struct {
	serverURL  string
	interval   time.Duration
	lastUpdate time.Time
	stats      Stats
	queue      []QueueEntry
	// history tracks completed-analysis counts across polls for the
	// sparkline.
	history []float64
	// peakDepth scales the queue progress bar; it only grows, so the
	// bar shows depth relative to the worst backlog this session.
	peakDepth float64
	err       error
	quitting  bool

	queueProgress progress.Model
}

// Lipgloss styles (k9s-inspired color scheme)
var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// NewModel creates a dashboard model polling the given server.
func NewModel(serverURL string, interval time.Duration) Model {
	return Model{
		serverURL: serverURL,
		interval:  interval,
		history:   make([]float64, 0, historySize),
		peakDepth: 1,
		queueProgress: progress.New(
			progress.WithGradient("#00ffff", "#ff00ff"),
			progress.WithWidth(40),
		),
	}
}

// getStatusBadge keys overall health off the failure share of finished
// analyses.
func getStatusBadge(a AnalysisStats) string {
	finished := a.Completed + a.Failed
	if finished == 0 {
		return dimStyle.Render("- IDLE")
	}
	ratio := float64(a.Failed) / float64(finished)
	if ratio < 0.25 {
		return healthyStyle.Render("✓ HEALTHY")
	} else if ratio < 0.5 {
		return warningStyle.Render("⚠ WARN")
	}
	return errorStyle.Render("✗ FAILING")
}

// statusBadge colors one queue entry's lifecycle state.
func statusBadge(status string) string {
	switch status {
	case "analyzing":
		return warningStyle.Render(status)
	case "completed":
		return healthyStyle.Render(status)
	case "failed":
		return errorStyle.Render(status)
	default:
		return dimStyle.Render(status)
	}
}

// appendToHistory appends a value to history, maintaining max size
func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

// createSparkline creates a sparkline chart from historical data
func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}

	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}

	return sparklineStyle.Render(spark.View())
}

// Message types
type tickMsg time.Time
type snapshotMsg struct {
	stats Stats
	queue []QueueEntry
}
type errMsg error

// Init starts the tick loop and the first fetch.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tick(m.interval),
		fetchSnapshot(m.serverURL),
	)
}

// tick creates a tick command for auto-refresh
func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// fetchSnapshot polls the stats and queue endpoints in one command.
func fetchSnapshot(serverURL string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		client := NewClient(serverURL)

		stats, err := client.Stats(ctx)
		if err != nil {
			return errMsg(err)
		}
		queue, err := client.Queue(ctx, queueFetchLimit)
		if err != nil {
			return errMsg(err)
		}

		return snapshotMsg{stats: stats, queue: queue}
	}
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, fetchSnapshot(m.serverURL)
		}

	case tickMsg:
		return m, tea.Batch(
			tick(m.interval),
			fetchSnapshot(m.serverURL),
		)

	case snapshotMsg:
		m.stats = msg.stats
		m.queue = msg.queue
		m.history = appendToHistory(m.history, float64(msg.stats.Analyses.Completed))
		if depth := float64(len(msg.queue)); depth > m.peakDepth {
			m.peakDepth = depth
		}
		m.lastUpdate = time.Now()
		m.err = nil
		return m, nil

	case errMsg:
		m.err = error(msg)
		return m, nil
	}

	return m, nil
}

// View renders the dashboard
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	if m.err != nil {
		return m.renderError()
	}

	return m.renderDashboard()
}

// renderError renders the unreachable-server view.
func (m Model) renderError() string {
	header := headerStyle.Render(" rcad Monitor ")

	var content string
	content += "\n"
	content += errorStyle.Render("⚠ Cannot connect to rcad server") + "\n"
	content += "\n"
	content += dimStyle.Render("URL: ") + valueStyle.Render(m.serverURL) + "\n"
	content += dimStyle.Render("Error: ") + errorStyle.Render(m.err.Error()) + "\n"
	content += "\n"
	content += dimStyle.Render("Please ensure:") + "\n"
	content += dimStyle.Render("  1. rcad is running (rcad --config rcad.yaml)") + "\n"
	content += dimStyle.Render("  2. the server address matches --server") + "\n"
	content += "\n"
	content += footerStyle.Render("[q] quit  [r] retry") + "\n"

	return containerStyle.Render(header + "\n" + content)
}

// renderDashboard renders the main view: analyses, queue, patterns.
func (m Model) renderDashboard() string {
	var content string

	lastUpdateStr := "Never"
	if !m.lastUpdate.IsZero() {
		lastUpdateStr = m.lastUpdate.Format("3:04:05 PM")
	}

	header := headerStyle.Render(" rcad Monitor ")
	headerLine := fmt.Sprintf("%s   %s   %s",
		getStatusBadge(m.stats.Analyses),
		dimStyle.Render(m.serverURL),
		dimStyle.Render(lastUpdateStr))

	content += header + "\n"
	content += headerLine + "\n"

	// Analyses section with completed-count sparkline
	a := m.stats.Analyses
	content += "\n" + sectionStyle.Render("┃ Analyses") + "\n"
	content += labelStyle.Render("  Active: ") +
		valueStyle.Render(fmt.Sprintf("%d", a.Analyzing)) +
		"         " + createSparkline(m.history) + "\n"
	content += labelStyle.Render("  Completed: ") + valueStyle.Render(fmt.Sprintf("%d", a.Completed)) +
		"  " + labelStyle.Render("Failed: ") + valueStyle.Render(fmt.Sprintf("%d", a.Failed)) +
		"  " + labelStyle.Render("Cancelled: ") + valueStyle.Render(fmt.Sprintf("%d", a.Cancelled)) + "\n"
	content += labelStyle.Render("  PRs Created: ") + valueStyle.Render(fmt.Sprintf("%d", a.PRsCreated)) + "\n"

	// Queue section with depth bar and the top entries
	content += "\n" + sectionStyle.Render("┃ Discovery Queue") + "\n"
	depth := len(m.queue)
	depthPercent := float64(depth) / m.peakDepth
	if depthPercent > 1.0 {
		depthPercent = 1.0
	}
	content += labelStyle.Render("  Depth: ") +
		valueStyle.Render(fmt.Sprintf("%d", depth)) + " " +
		m.queueProgress.ViewAs(depthPercent) +
		" " + dimStyle.Render(FormatPercentage(depthPercent)) + "\n"

	if depth == 0 {
		content += dimStyle.Render("  queue is empty") + "\n"
	}
	for i, entry := range m.queue {
		if i >= queueShowLimit {
			content += dimStyle.Render(fmt.Sprintf("  ... %d more", depth-queueShowLimit)) + "\n"
			break
		}
		content += dimStyle.Render(fmt.Sprintf("  [%3d] ", entry.Priority)) +
			valueStyle.Render(Truncate(entry.Title, 40)) +
			"  " + dimStyle.Render(FormatAge(entry.QueuedAt)) +
			"  " + statusBadge(entry.Status) + "\n"
	}

	// Pattern library section
	p := m.stats.Patterns
	content += "\n" + sectionStyle.Render("┃ Pattern Library") + "\n"
	content += labelStyle.Render("  Patterns: ") + valueStyle.Render(fmt.Sprintf("%d", p.TotalPatterns)) +
		"  " + labelStyle.Render("Anti-patterns: ") + valueStyle.Render(fmt.Sprintf("%d", p.TotalAntiPatterns)) + "\n"
	content += labelStyle.Render("  High confidence: ") + valueStyle.Render(fmt.Sprintf("%d", p.HighConfidencePatterns)) +
		"  " + labelStyle.Render("Mode: ") + valueStyle.Render(p.Mode) + "\n"

	footer := footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerKeyStyle.Render("[r]") + footerStyle.Render(" refresh  ") +
		footerStyle.Render(fmt.Sprintf("Auto: %v", m.interval))

	content += "\n" + footer

	return containerStyle.Render(content)
}
