package tui

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kelsos/x-checker/internal/models"
	"github.com/kelsos/x-checker/internal/services"
)

const (
	maxLogLines      = 10
	maxProgressWidth = 40
)

// TaskRow is the monitor state of one task, keyed by task id once the task
// is known and by input file before that.
type TaskRow struct {
	Key        string
	File       string
	Record     models.TaskRecord
	ResultPath string
	Err        error
	Finished   bool
	StartTime  time.Time
	EndTime    time.Time
}

type Model struct {
	files        []string
	rows         map[string]*TaskRow
	order        []string
	logs         []string
	spinner      spinner.Model
	progress     progress.Model
	logPath      string
	width        int
	height       int
	quit         bool
	errorCount   int
	successCount int
}

// FilesLoaded announces the input files of a batch
type FilesLoaded struct {
	Files []string
}

// TaskUpdate carries one status snapshot
type TaskUpdate struct {
	Record models.TaskRecord
}

// CheckFinished carries the outcome of one input file
type CheckFinished struct {
	Result services.CheckResult
}

type LogMessage struct {
	Message string
}

func NewModel(logPath string) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	pr := progress.New(progress.WithDefaultGradient())
	pr.Width = 30

	return Model{
		files:    []string{},
		rows:     make(map[string]*TaskRow),
		order:    []string{},
		logs:     []string{},
		spinner:  sp,
		progress: pr,
		logPath:  logPath,
		width:    80,
		height:   24,
	}
}

func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.handleKeyMsg(msg) {
			m.quit = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m = m.handleWindowSizeMsg(msg)

	case FilesLoaded:
		m.files = msg.Files

	case TaskUpdate:
		m = m.handleTaskUpdate(msg)

	case CheckFinished:
		m = m.handleCheckFinished(msg)

	case LogMessage:
		m = m.handleLogMessage(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m Model) handleKeyMsg(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "q", "ctrl+c":
		return true
	}
	return false
}

func (m Model) handleWindowSizeMsg(msg tea.WindowSizeMsg) Model {
	m.width = msg.Width
	m.height = msg.Height
	m.progress.Width = min(max(msg.Width-60, 10), maxProgressWidth)
	return m
}

func (m Model) row(key string) *TaskRow {
	if r, ok := m.rows[key]; ok {
		return r
	}
	return nil
}

func (m Model) addRow(key string) (Model, *TaskRow) {
	r := &TaskRow{Key: key, StartTime: time.Now()}
	m.rows[key] = r
	m.order = append(m.order, key)
	return m, r
}

func (m Model) handleTaskUpdate(msg TaskUpdate) Model {
	r := m.row(msg.Record.TaskID)
	if r == nil {
		m, r = m.addRow(msg.Record.TaskID)
	}
	r.Record = msg.Record
	return m
}

func (m Model) handleCheckFinished(msg CheckFinished) Model {
	res := msg.Result

	key := res.File
	if res.Record != nil && res.Record.TaskID != "" {
		key = res.Record.TaskID
	}

	r := m.row(key)
	if r == nil {
		m, r = m.addRow(key)
	}
	if res.Record != nil {
		r.Record = *res.Record
	}
	r.File = res.File
	r.ResultPath = res.ResultPath
	r.Err = res.Err
	r.Finished = true
	r.EndTime = time.Now()

	if res.Err != nil {
		m.errorCount++
		m = m.handleLogMessage(LogMessage{Message: fmt.Sprintf("❌ %s: %v", filepath.Base(res.File), res.Err)})
	} else {
		m.successCount++
		line := fmt.Sprintf("✅ %s finished as %s", filepath.Base(res.File), r.Record.Status)
		if res.ResultPath != "" {
			line += " → " + res.ResultPath
		}
		m = m.handleLogMessage(LogMessage{Message: line})
	}
	return m
}

func (m Model) handleLogMessage(msg LogMessage) Model {
	m.logs = append(m.logs, fmt.Sprintf("[%s] %s",
		time.Now().Format("15:04:05"), msg.Message))
	if len(m.logs) > maxLogLines {
		m.logs = m.logs[len(m.logs)-maxLogLines:]
	}
	return m
}

// Rows returns the task rows in the order they first appeared
func (m Model) Rows() []TaskRow {
	rows := make([]TaskRow, 0, len(m.order))
	for _, key := range m.order {
		rows = append(rows, *m.rows[key])
	}
	return rows
}

func (m Model) View() string {
	if m.quit {
		return "Shutting down...\n"
	}

	var s strings.Builder

	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("39")).
		MarginBottom(1)

	s.WriteString(headerStyle.Render("📞 X Account Check Monitor"))
	s.WriteString("\n\n")

	summaryStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("244"))

	active := len(m.order) - m.successCount - m.errorCount
	if active < 0 {
		active = 0
	}
	summary := fmt.Sprintf("Files: %d | ✅ Done: %d | ❌ Errors: %d | ⏳ Active Tasks: %d",
		len(m.files), m.successCount, m.errorCount, active)
	s.WriteString(summaryStyle.Render(summary))
	s.WriteString("\n\n")

	taskSectionStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Padding(1).
		Width(m.width - 2)

	var tasks strings.Builder
	tasks.WriteString("📊 Task Status\n")
	tasks.WriteString(strings.Repeat("─", 60) + "\n")

	for _, key := range m.order {
		tasks.WriteString(m.renderRow(m.rows[key]) + "\n")
	}

	s.WriteString(taskSectionStyle.Render(tasks.String()))
	s.WriteString("\n\n")

	logSectionStyle := lipgloss.NewStyle().
		Border(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1).
		Width(m.width - 2).
		Height(8)

	var logSection strings.Builder
	logSection.WriteString("📝 Recent Logs\n")
	for _, log := range m.logs {
		logSection.WriteString(log + "\n")
	}

	s.WriteString(logSectionStyle.Render(logSection.String()))
	s.WriteString("\n\n")

	footerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	footer := "Press 'q' to quit"
	if m.logPath != "" {
		footer += " | Logs: " + m.logPath
	}
	s.WriteString(footerStyle.Render(footer))

	return s.String()
}

func (m Model) renderRow(r *TaskRow) string {
	status := r.Record.Status
	if status == "" {
		status = models.TaskStatusPending
	}

	indicator := m.spinner.View()
	if r.Finished || status.IsTerminalIn(models.DefaultTerminalStatuses) {
		indicator = " "
	}

	line := fmt.Sprintf("%s %-20s %s %-10s %s %d/%d",
		getStatusIcon(status, r.Err),
		truncate(r.Key, 20),
		indicator,
		status,
		m.progress.ViewAs(r.Record.Progress()),
		r.Record.Processed(),
		r.Record.Total)

	if r.Err != nil {
		errorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
		line += " " + errorStyle.Render(fmt.Sprintf("Error: %v", r.Err))
	} else if r.Finished && !r.EndTime.IsZero() {
		messageStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
		line += " " + messageStyle.Render(r.EndTime.Sub(r.StartTime).Round(time.Second).String())
	}

	statusStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(getStatusColor(status, r.Err)))
	return statusStyle.Render(line)
}

func getStatusIcon(status models.TaskStatus, err error) string {
	if err != nil {
		return "❌"
	}
	switch status {
	case models.TaskStatusPending:
		return "⏸"
	case models.TaskStatusProcessing:
		return "🔄"
	case models.TaskStatusExported:
		return "✅"
	case models.TaskStatusFailed:
		return "❌"
	default:
		return "❓"
	}
}

func getStatusColor(status models.TaskStatus, err error) string {
	switch {
	case err != nil, status == models.TaskStatusFailed:
		return "196"
	case status == models.TaskStatusExported:
		return "82"
	case status == models.TaskStatusPending:
		return "244"
	default:
		return "39"
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
