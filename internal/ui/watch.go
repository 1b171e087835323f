// internal/ui/watch.go
package ui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-runewidth"

	"github.com/aceteam-ai/imposium-cli/internal/experience"
	"github.com/aceteam-ai/imposium-cli/internal/tui"
)

// Messages a running watch program accepts from the delivery callbacks.
type (
	createdMsg struct {
		exp        *experience.Experience
		willRender bool
	}
	statusMsg struct {
		key     string
		message string
	}
	progressMsg struct {
		sent, total int64
	}
	completeMsg struct {
		exp *experience.Experience
	}
	errorMsg struct {
		key      string
		err      error
		terminal bool
	}
	// finishMsg ends the program once the watcher has its result
	finishMsg struct{}
)

// maxHistory is the number of status lines kept on screen.
const maxHistory = 6

// WatchModel renders one job's progress until it completes or fails.
type WatchModel struct {
	title   string
	spinner spinner.Model
	width   int
	start   time.Time

	jobID    string
	current  string
	history  []string
	progress float64
	uploaded bool

	result  *experience.Experience
	failure error
	aborted bool
}

// NewWatchModel creates a watch model with the given header.
func NewWatchModel(title string) WatchModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = tui.SpinnerStyle

	return WatchModel{
		title:   title,
		spinner: s,
		width:   80,
		start:   time.Now(),
		current: "submitting",
	}
}

func (m WatchModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.aborted = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case progressMsg:
		if msg.total > 0 {
			m.progress = float64(msg.sent) / float64(msg.total) * 100
			m.uploaded = msg.sent >= msg.total
		}
	case createdMsg:
		m.jobID = msg.exp.ID
		m.push(fmt.Sprintf("job %s created", msg.exp.ID))
		if msg.willRender {
			m.current = "rendering"
		}
	case statusMsg:
		m.current = msg.message
		m.push(msg.message)
	case errorMsg:
		if msg.terminal {
			m.failure = msg.err
		} else {
			m.push("warning: " + msg.err.Error())
		}
	case completeMsg:
		m.result = msg.exp
		if m.jobID == "" {
			m.jobID = msg.exp.ID
		}
	case finishMsg:
		return m, tea.Quit
	}
	return m, nil
}

func (m *WatchModel) push(line string) {
	m.history = append(m.history, line)
	if len(m.history) > maxHistory {
		m.history = m.history[len(m.history)-maxHistory:]
	}
}

func (m WatchModel) View() string {
	var sb strings.Builder
	lineWidth := max(m.width-4, 20)

	sb.WriteString(tui.TitleStyle.Render(m.title) + "\n")
	if m.jobID != "" {
		sb.WriteString(tui.FormatKeyValue("Job", m.jobID) + "\n")
	}
	if m.progress > 0 && !m.uploaded {
		sb.WriteString(tui.FormatKeyValue("Upload", fmt.Sprintf("%s %3.0f%%", tui.ProgressBar(m.progress, 30), m.progress)) + "\n")
	}
	sb.WriteString("\n")

	for _, line := range m.history {
		sb.WriteString(tui.MutedStyle.Render("  "+runewidth.Truncate(line, lineWidth, "…")) + "\n")
	}

	switch {
	case m.failure != nil:
		sb.WriteString(tui.ErrorStyle.Render("✗ "+runewidth.Truncate(m.failure.Error(), lineWidth, "…")) + "\n")
	case m.result != nil:
		sb.WriteString(tui.SuccessStyle.Render("✓ complete") + "\n")
		for _, line := range OutputLines(m.result) {
			sb.WriteString("  " + line + "\n")
		}
	default:
		elapsed := tui.MutedStyle.Render(FormatDuration(time.Since(m.start)))
		sb.WriteString(fmt.Sprintf("%s %s %s\n", m.spinner.View(), runewidth.Truncate(m.current, lineWidth, "…"), elapsed))
		sb.WriteString(tui.MutedStyle.Render("q to stop watching") + "\n")
	}
	return sb.String()
}

// OutputLines renders a finished job's artifacts, one per line, sorted by name.
// String values that look like URLs become terminal hyperlinks.
func OutputLines(exp *experience.Experience) []string {
	if exp == nil {
		return nil
	}
	names := make([]string, 0, len(exp.Output))
	for name := range exp.Output {
		names = append(names, name)
	}
	sort.Strings(names)

	lines := make([]string, 0, len(names))
	for _, name := range names {
		value := fmt.Sprint(exp.Output[name])
		if strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://") {
			value = HyperlinkSelf(value)
		}
		lines = append(lines, tui.FormatKeyValue(name, value))
	}
	return lines
}
