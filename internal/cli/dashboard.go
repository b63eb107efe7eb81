package cli

import (
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/valter-silva-au/agentq/pkg/models"
)

// Dashboard panel indices.
const (
	panelQueue = iota
	panelWorkers
	panelMetrics
	panelAlerts
	panelCount
)

// dashboardRefresh is how often the dashboard reloads its data.
const dashboardRefresh = 2 * time.Second

type dashboardModel struct {
	activePanel int
	width       int
	height      int

	// Data.
	queue       models.QueueStats
	workers     []models.WorkerStatus
	pending     []pairingSnapshot
	active      []conversationSnapshot
	metricsData *metricsSnapshot
	alerts      []alertSnapshot
	loadedAt    time.Time

	// State.
	loading bool
	err     error
}

type pairingSnapshot struct {
	channel string
	sender  string
	code    string
}

type conversationSnapshot struct {
	id      string
	team    string
	turns   int
	pending int
}

type metricsSnapshot struct {
	admitted    int
	turns       int
	handoffs    int
	completed   int
	truncated   int
	failures    int
	avgTurn     time.Duration
	eventCount  int
	quarantined int
}

type alertSnapshot struct {
	severity string
	message  string
	time     string
}

// dataLoadedMsg carries loaded data back to the model.
type dataLoadedMsg struct {
	queue   models.QueueStats
	workers []models.WorkerStatus
	pending []pairingSnapshot
	active  []conversationSnapshot
	metrics *metricsSnapshot
	alerts  []alertSnapshot
	at      time.Time
	err     error
}

type tickMsg time.Time

// Style definitions.
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(1, 2)

	activePanelStyle = lipgloss.NewStyle().
				BorderStyle(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("62")).
				Padding(1, 2)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")).
			MarginBottom(1)

	stateBusy = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	stateIdle = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))

	severityHigh   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	severityMedium = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	severityLow    = lipgloss.NewStyle().Foreground(lipgloss.Color("69"))

	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func newDashboardModel() dashboardModel {
	return dashboardModel{
		activePanel: panelQueue,
		loading:     true,
	}
}

func (m dashboardModel) Init() tea.Cmd {
	return tea.Batch(loadData, tick())
}

func tick() tea.Cmd {
	return tea.Tick(dashboardRefresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "tab":
			m.activePanel = (m.activePanel + 1) % panelCount
			return m, nil
		case "shift+tab":
			m.activePanel = (m.activePanel - 1 + panelCount) % panelCount
			return m, nil
		case "r":
			m.loading = true
			return m, loadData
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		return m, tea.Batch(loadData, tick())

	case dataLoadedMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.queue = msg.queue
		m.workers = msg.workers
		m.pending = msg.pending
		m.active = msg.active
		m.metricsData = msg.metrics
		m.alerts = msg.alerts
		m.loadedAt = msg.at
		m.err = nil
		return m, nil
	}

	return m, nil
}

func (m dashboardModel) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	title := titleStyle.Render(" agentq ")
	help := helpStyle.Render("tab: switch panel | r: refresh | q: quit")

	if m.loading && m.loadedAt.IsZero() {
		return fmt.Sprintf("%s\n\n  Loading data...\n\n%s", title, help)
	}

	if m.err != nil {
		return fmt.Sprintf("%s\n\n  Error: %s\n\n%s", title, m.err, help)
	}

	panels := []string{
		m.renderQueuePanel(),
		m.renderWorkersPanel(),
		m.renderMetricsPanel(),
		m.renderAlertsPanel(),
	}

	availableWidth := m.width - 2

	var body string
	if availableWidth > 100 {
		// Two by two grid.
		colWidth := availableWidth / 2
		for i := range panels {
			panels[i] = m.applyPanelStyle(i, panels[i], colWidth-4)
		}
		top := lipgloss.JoinHorizontal(lipgloss.Top, panels[panelQueue], panels[panelWorkers])
		bottom := lipgloss.JoinHorizontal(lipgloss.Top, panels[panelMetrics], panels[panelAlerts])
		body = lipgloss.JoinVertical(lipgloss.Left, top, bottom)
	} else {
		panelWidth := availableWidth - 4
		if panelWidth < 20 {
			panelWidth = 20
		}
		for i := range panels {
			panels[i] = m.applyPanelStyle(i, panels[i], panelWidth)
		}
		body = lipgloss.JoinVertical(lipgloss.Left, panels...)
	}

	updated := dimStyle.Render("updated " + m.loadedAt.Local().Format("15:04:05"))
	return fmt.Sprintf("%s %s\n\n%s\n\n%s", title, updated, body, help)
}

func (m dashboardModel) applyPanelStyle(panel int, content string, width int) string {
	style := panelStyle
	if m.activePanel == panel {
		style = activePanelStyle
	}
	return style.Width(width).Render(content)
}

func (m dashboardModel) renderQueuePanel() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Queue"))
	b.WriteString("\n")

	b.WriteString(fmt.Sprintf("  %-14s %d\n", "incoming", m.queue.Incoming))
	b.WriteString(fmt.Sprintf("  %-14s %d\n", "processing", m.queue.Processing))
	b.WriteString(fmt.Sprintf("  %-14s %d\n", "outgoing", m.queue.Outgoing))
	if m.queue.Quarantined > 0 {
		b.WriteString(severityMedium.Render(fmt.Sprintf("  %-14s %d", "quarantined", m.queue.Quarantined)))
		b.WriteString("\n")
	}

	if len(m.pending) > 0 {
		b.WriteString("\n  Awaiting pairing:\n")
		for _, p := range m.pending {
			b.WriteString(fmt.Sprintf("    %s/%s %s\n", p.channel, truncate(p.sender, 18), dimStyle.Render(p.code)))
		}
	}

	if len(m.active) > 0 {
		b.WriteString("\n  Active conversations:\n")
		for _, c := range m.active {
			b.WriteString(fmt.Sprintf("    %-8s %s turns %d, pending %d\n", truncate(c.id, 8), c.team, c.turns, c.pending))
		}
	}

	return b.String()
}

func (m dashboardModel) renderWorkersPanel() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Workers"))
	b.WriteString("\n")

	if len(m.workers) == 0 {
		b.WriteString("  Dispatcher not running.")
		return b.String()
	}

	for _, w := range m.workers {
		style := stateIdle
		if w.State != models.WorkerIdle {
			style = stateBusy
		}
		label := fmt.Sprintf("  %-14s %-8s", truncate(w.Worker, 14), w.State)
		b.WriteString(style.Render(label))
		b.WriteString(fmt.Sprintf(" queued %d, done %d, failed %d\n", w.Queued, w.Processed, w.Failed))
	}
	return b.String()
}

func (m dashboardModel) renderMetricsPanel() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Metrics (24h)"))
	b.WriteString("\n")

	if m.metricsData == nil {
		b.WriteString("  No metrics available.")
		return b.String()
	}

	md := m.metricsData
	lines := []struct {
		label string
		value int
	}{
		{"Events", md.eventCount},
		{"Admitted", md.admitted},
		{"Turns", md.turns},
		{"Handoffs", md.handoffs},
		{"Completed", md.completed},
		{"Truncated", md.truncated},
		{"Failures", md.failures},
		{"Quarantined", md.quarantined},
	}

	for _, l := range lines {
		b.WriteString(fmt.Sprintf("  %-14s %d\n", l.label, l.value))
	}
	if md.avgTurn > 0 {
		b.WriteString(fmt.Sprintf("  %-14s %s\n", "Avg turn", md.avgTurn))
	}

	return b.String()
}

func (m dashboardModel) renderAlertsPanel() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Alerts"))
	b.WriteString("\n")

	if len(m.alerts) == 0 {
		b.WriteString("  No active alerts.")
		return b.String()
	}

	for _, a := range m.alerts {
		sev := styleForSeverity(a.severity).Render(fmt.Sprintf("[%s]", strings.ToUpper(a.severity)))
		b.WriteString(fmt.Sprintf("  %s %s\n", sev, a.message))
	}

	b.WriteString(fmt.Sprintf("\n  Total: %d alert(s)", len(m.alerts)))

	return b.String()
}

func styleForSeverity(severity string) lipgloss.Style {
	switch strings.ToLower(severity) {
	case "high":
		return severityHigh
	case "medium":
		return severityMedium
	case "low":
		return severityLow
	default:
		return lipgloss.NewStyle()
	}
}

func loadData() tea.Msg {
	result := dataLoadedMsg{at: time.Now()}

	if Queue != nil {
		stats, err := Queue.Stats()
		if err != nil {
			result.err = fmt.Errorf("loading queue stats: %w", err)
			return result
		}
		result.queue = stats
	}

	if StatusStore != nil {
		workers, err := StatusStore.Load()
		if err != nil {
			result.err = fmt.Errorf("loading worker states: %w", err)
			return result
		}
		result.workers = workers
	}

	if Gate != nil {
		pending, err := Gate.ListPending()
		if err != nil {
			result.err = fmt.Errorf("loading pairings: %w", err)
			return result
		}
		for _, p := range pending {
			result.pending = append(result.pending, pairingSnapshot{channel: p.Channel, sender: p.Sender, code: p.Code})
		}
	}

	if Transcripts != nil {
		convs, err := Transcripts.List(models.ConversationActive)
		if err != nil {
			result.err = fmt.Errorf("loading conversations: %w", err)
			return result
		}
		for _, c := range convs {
			result.active = append(result.active, conversationSnapshot{
				id: c.ID, team: c.TeamID, turns: len(c.Turns), pending: c.Pending,
			})
		}
	}

	if MetricsCalc != nil {
		since := time.Now().UTC().Add(-24 * time.Hour)
		metrics, err := MetricsCalc.Calculate(since)
		if err != nil {
			result.err = fmt.Errorf("loading metrics: %w", err)
			return result
		}
		result.metrics = &metricsSnapshot{
			admitted:    metrics.MessagesAdmitted,
			turns:       metrics.TurnsCompleted,
			handoffs:    metrics.HandoffsEnqueued,
			completed:   metrics.ConversationsCompleted,
			truncated:   metrics.ConversationsTruncated,
			failures:    metrics.InvocationFailures,
			avgTurn:     time.Duration(metrics.AvgTurnMillis) * time.Millisecond,
			eventCount:  metrics.EventCount,
			quarantined: metrics.EntriesQuarantined,
		}
	}

	if AlertEngine != nil {
		alerts, err := AlertEngine.Evaluate()
		if err != nil {
			result.err = fmt.Errorf("loading alerts: %w", err)
			return result
		}
		result.alerts = make([]alertSnapshot, 0, len(alerts))

		sort.SliceStable(alerts, func(i, j int) bool {
			return severityRank(string(alerts[i].Severity)) < severityRank(string(alerts[j].Severity))
		})

		for _, a := range alerts {
			result.alerts = append(result.alerts, alertSnapshot{
				severity: string(a.Severity),
				message:  a.Message,
				time:     a.TriggeredAt.Format("2006-01-02 15:04 UTC"),
			})
		}
	}

	return result
}

func severityRank(s string) int {
	switch s {
	case "high":
		return 0
	case "medium":
		return 1
	case "low":
		return 2
	default:
		return 3
	}
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Live terminal view of the queue, workers and alerts",
	Long: `Launch an interactive terminal dashboard showing stage counts, worker
mailboxes, pending pairings, active conversations, metrics and alerts. The
view refreshes every two seconds.

Navigate between panels with Tab, refresh with r, quit with q.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Queue == nil {
			return fmt.Errorf("queue not initialized")
		}
		p := tea.NewProgram(newDashboardModel(), tea.WithAltScreen())
		_, err := p.Run()
		return err
	},
}

func init() {
	rootCmd.AddCommand(dashboardCmd)
}
