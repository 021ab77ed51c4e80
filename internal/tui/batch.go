package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/docqa/internal/batch"
)

// Control actions sent to the ControlHandler.
const (
	ActionStop   = "stop"
	ActionPause  = "pause"
	ActionResume = "resume"
)

// BatchState tracks the progress of a batch.
type BatchState struct {
	Total     int
	Completed int
	Succeeded int
	Failed    int
	Paused    bool
	Stopping  bool
	StartedAt time.Time
	// Active maps sample index to the document being answered.
	Active map[int]DocInfo
	// Tokens used so far across every model role.
	InputTokens  int64
	OutputTokens int64
}

// DocInfo describes a document in flight.
type DocInfo struct {
	Index      int
	DocumentID string
	Question   string
	StartedAt  time.Time
}

// ProgressMsg carries one batch progress update.
type ProgressMsg struct {
	Progress batch.Progress
}

// TokenUpdateMsg is sent when token usage is updated.
type TokenUpdateMsg struct {
	InputTokens  int64
	OutputTokens int64
}

// LogMsg is sent when a log entry should be added.
type LogMsg struct {
	Timestamp time.Time
	Level     string
	Message   string
}

// DoneMsg is sent when the batch finishes.
type DoneMsg struct {
	Summary *batch.Summary
	Err     error
}

// ControlHandler is called when the operator presses a control key. It takes
// the action (stop/pause/resume) and returns an error if it failed.
type ControlHandler func(action string) error

// LogEntry represents a log entry in the activity log.
type LogEntry struct {
	Timestamp time.Time
	Level     string
	Message   string
}

// BatchView displays batch progress.
type BatchView struct {
	state  BatchState
	width  int
	height int

	// Styles
	headerStyle   lipgloss.Style
	labelStyle    lipgloss.Style
	valueStyle    lipgloss.Style
	progressFull  lipgloss.Style
	progressEmpty lipgloss.Style
	warningStyle  lipgloss.Style
	failedStyle   lipgloss.Style
	runningStyle  lipgloss.Style
}

// NewBatchView creates a new BatchView instance.
func NewBatchView() *BatchView {
	return &BatchView{
		state: BatchState{Active: make(map[int]DocInfo)},

		headerStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.Color("238")).
			MarginBottom(1),

		labelStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(12),

		valueStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Bold(true),

		progressFull: lipgloss.NewStyle().
			Foreground(lipgloss.Color("34")),

		progressEmpty: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),

		warningStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")),

		failedStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")),

		runningStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("34")),
	}
}

// Apply folds a progress update into the state.
func (v *BatchView) Apply(p batch.Progress) {
	if p.Total > 0 {
		v.state.Total = p.Total
	}
	switch p.Status {
	case batch.ProgressStarted:
		v.state.Active[p.Index] = DocInfo{
			Index:      p.Index,
			DocumentID: p.DocumentID,
			Question:   p.Question,
			StartedAt:  time.Now(),
		}
	case batch.ProgressDone:
		delete(v.state.Active, p.Index)
		v.state.Succeeded++
	case batch.ProgressFailed:
		delete(v.state.Active, p.Index)
		v.state.Failed++
	}
	v.state.Completed = max(p.Completed, v.state.Succeeded+v.state.Failed)
}

// View renders the batch progress display.
func (v *BatchView) View() string {
	var b strings.Builder

	b.WriteString(v.headerStyle.Render("Batch Progress"))
	b.WriteString("\n")

	pct := float64(0)
	if v.state.Total > 0 {
		pct = float64(v.state.Completed) / float64(v.state.Total) * 100
	}
	b.WriteString(v.labelStyle.Render("Documents:"))
	b.WriteString(v.valueStyle.Render(fmt.Sprintf("%d/%d complete", v.state.Completed, v.state.Total)))
	b.WriteString("\n")
	b.WriteString(v.renderProgressBar(pct, 30))
	b.WriteString("\n\n")

	b.WriteString(v.labelStyle.Render("Results:"))
	b.WriteString(fmt.Sprintf("%s answered, %s failed",
		v.runningStyle.Render(fmt.Sprintf("%d", v.state.Succeeded)),
		v.failedStyle.Render(fmt.Sprintf("%d", v.state.Failed))))
	b.WriteString("\n")

	if !v.state.StartedAt.IsZero() {
		b.WriteString(v.labelStyle.Render("Elapsed:"))
		b.WriteString(v.valueStyle.Render(formatDuration(time.Since(v.state.StartedAt))))
		b.WriteString("\n")
	}

	if v.state.InputTokens+v.state.OutputTokens > 0 {
		b.WriteString(v.labelStyle.Render("Tokens:"))
		b.WriteString(v.valueStyle.Render(fmt.Sprintf("%s in / %s out",
			formatNumber(v.state.InputTokens), formatNumber(v.state.OutputTokens))))
		b.WriteString("\n")
	}

	switch {
	case v.state.Stopping:
		b.WriteString(v.warningStyle.Render("  Stopping after documents in flight..."))
		b.WriteString("\n")
	case v.state.Paused:
		b.WriteString(v.warningStyle.Render("  Paused. Press p to resume."))
		b.WriteString("\n")
	}

	if len(v.state.Active) > 0 {
		b.WriteString("\n")
		b.WriteString(v.labelStyle.Render("In flight:"))
		b.WriteString("\n")
		for _, doc := range v.ActiveDocs() {
			b.WriteString(fmt.Sprintf("  %s  #%d %s  %s\n",
				v.runningStyle.Render(formatDuration(time.Since(doc.StartedAt))),
				doc.Index,
				truncate(doc.DocumentID, 32),
				truncate(doc.Question, 60)))
		}
	}

	return b.String()
}

// ActiveDocs returns the documents in flight ordered by sample index.
func (v *BatchView) ActiveDocs() []DocInfo {
	docs := make([]DocInfo, 0, len(v.state.Active))
	for _, doc := range v.state.Active {
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Index < docs[j].Index })
	return docs
}

// renderProgressBar renders a progress bar.
func (v *BatchView) renderProgressBar(pct float64, width int) string {
	pct = min(max(pct, 0), 100)

	filled := int(pct / 100 * float64(width))
	empty := width - filled

	bar := v.progressFull.Render(strings.Repeat("█", filled)) +
		v.progressEmpty.Render(strings.Repeat("░", empty))

	return fmt.Sprintf("  %s %.0f%%", bar, pct)
}

// SetSize sets the view dimensions.
func (v *BatchView) SetSize(width, height int) {
	v.width = width
	v.height = height
}

// GetState returns the current batch state.
func (v *BatchView) GetState() BatchState {
	return v.state
}

// BatchApp is the bubbletea model for the batch command.
type BatchApp struct {
	view     *BatchView
	spinner  spinner.Model
	logs     []LogEntry
	width    int
	height   int
	quitting bool
	done     bool
	summary  *batch.Summary
	err      error

	control ControlHandler

	// Styles
	logStyle     lipgloss.Style
	logTimeStyle lipgloss.Style
	errorStyle   lipgloss.Style
	doneStyle    lipgloss.Style
	hintStyle    lipgloss.Style
}

// NewBatchApp creates a new BatchApp instance.
func NewBatchApp() *BatchApp {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	view := NewBatchView()
	view.state.StartedAt = time.Now()

	return &BatchApp{
		view:    view,
		spinner: sp,
		logs:    make([]LogEntry, 0),

		logStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")),

		logTimeStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),

		errorStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true),

		doneStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("34")).
			Bold(true),

		hintStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),
	}
}

// SetControlHandler sets the callback for the stop and pause keys.
func (a *BatchApp) SetControlHandler(handler ControlHandler) {
	a.control = handler
}

// State returns the current batch state.
func (a *BatchApp) State() BatchState {
	return a.view.GetState()
}

// Logs returns the activity log.
func (a *BatchApp) Logs() []LogEntry {
	return a.logs
}

// Init implements tea.Model.
func (a *BatchApp) Init() tea.Cmd {
	return a.spinner.Tick
}

// Update implements tea.Model.
func (a *BatchApp) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			a.quitting = true
			return a, tea.Quit
		case "s":
			if !a.done && !a.view.state.Stopping {
				if a.sendControl(ActionStop) {
					a.view.state.Stopping = true
				}
			}
		case "p":
			if a.done {
				break
			}
			action := ActionPause
			if a.view.state.Paused {
				action = ActionResume
			}
			if a.sendControl(action) {
				a.view.state.Paused = !a.view.state.Paused
			}
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.view.SetSize(msg.Width, msg.Height)

	case spinner.TickMsg:
		if a.done {
			return a, nil
		}
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case ProgressMsg:
		a.view.Apply(msg.Progress)
		a.logProgress(msg.Progress)

	case TokenUpdateMsg:
		a.view.state.InputTokens = msg.InputTokens
		a.view.state.OutputTokens = msg.OutputTokens

	case LogMsg:
		a.addLog(msg.Timestamp, msg.Level, msg.Message)

	case DoneMsg:
		a.done = true
		a.summary = msg.Summary
		a.err = msg.Err
		// Don't quit immediately - let user see final state
	}

	return a, nil
}

func (a *BatchApp) sendControl(action string) bool {
	if a.control == nil {
		return false
	}
	if err := a.control(action); err != nil {
		a.addLog(time.Now(), "ERROR", fmt.Sprintf("%s failed: %v", action, err))
		return false
	}
	a.addLog(time.Now(), "CONTROL", fmt.Sprintf("%s requested", action))
	return true
}

func (a *BatchApp) logProgress(p batch.Progress) {
	switch p.Status {
	case batch.ProgressStarted:
		a.addLog(time.Now(), "START", fmt.Sprintf("#%d %s", p.Index, p.DocumentID))
	case batch.ProgressDone:
		a.addLog(time.Now(), "DONE", fmt.Sprintf("#%d %s (%s)", p.Index, truncate(p.Answer, 60), formatDuration(p.Duration)))
	case batch.ProgressFailed:
		a.addLog(time.Now(), "FAILED", fmt.Sprintf("#%d %s: %v", p.Index, p.DocumentID, p.Err))
	}
}

func (a *BatchApp) addLog(ts time.Time, level, message string) {
	if ts.IsZero() {
		ts = time.Now()
	}
	a.logs = append(a.logs, LogEntry{Timestamp: ts, Level: level, Message: message})
}

// View implements tea.Model.
func (a *BatchApp) View() string {
	if a.quitting {
		return "Batch cancelled.\n"
	}

	var b strings.Builder

	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205")).
		Render("=== docqa batch ===")
	if !a.done {
		header = a.spinner.View() + " " + header
	}
	b.WriteString(header)
	b.WriteString("\n\n")

	b.WriteString(a.view.View())
	b.WriteString("\n")

	b.WriteString(a.renderLogs())

	b.WriteString("\n")
	switch {
	case a.done && a.err != nil:
		b.WriteString(a.errorStyle.Render(fmt.Sprintf("Error: %v", a.err)))
	case a.done:
		msg := "Batch complete! Press q to exit."
		if a.summary != nil && a.summary.Stopped {
			msg = fmt.Sprintf("Batch stopped, %d documents not started. Press q to exit.", a.summary.NotStarted)
		}
		b.WriteString(a.doneStyle.Render(msg))
	default:
		b.WriteString(a.hintStyle.Render("p pause/resume • s stop after current • q quit"))
	}
	b.WriteString("\n")

	return b.String()
}

// renderLogs renders the recent log entries.
func (a *BatchApp) renderLogs() string {
	if len(a.logs) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("252")).
		Render("Activity Log"))
	b.WriteString("\n")

	// Show last 8 log entries
	start := 0
	if len(a.logs) > 8 {
		start = len(a.logs) - 8
	}

	for _, entry := range a.logs[start:] {
		ts := a.logTimeStyle.Render(entry.Timestamp.Format("15:04:05"))
		style := lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Width(8)
		if entry.Level == "FAILED" || entry.Level == "ERROR" {
			style = style.Foreground(lipgloss.Color("196"))
		}
		level := style.Render(entry.Level)
		msg := a.logStyle.Render(entry.Message)
		b.WriteString(fmt.Sprintf("  %s %s %s\n", ts, level, msg))
	}

	return b.String()
}

// NewBatchProgram creates a new Bubbletea program for the batch TUI.
func NewBatchProgram() (*tea.Program, *BatchApp) {
	app := NewBatchApp()
	p := tea.NewProgram(app, tea.WithAltScreen())
	return p, app
}

// Sender is the part of tea.Program used to forward updates.
type Sender interface {
	Send(msg tea.Msg)
}

// ProgressFunc returns a batch progress callback that forwards updates to p.
func ProgressFunc(p Sender) func(batch.Progress) {
	return func(update batch.Progress) {
		p.Send(ProgressMsg{Progress: update})
	}
}
