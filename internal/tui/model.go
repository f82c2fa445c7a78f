// Package tui is the interactive surface of a batch run: a scrolling
// progress log and the prompt that answers failed stages.
//
// The batch runs in its own goroutine. Progress events and arbitration
// requests reach the model through channels; the result of the batch is
// delivered with Program.Send(Finished(...)).
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/dusk-indust/edoagree/internal/orchestrator"
)

const maxLogLines = 1000

// progressMsg carries one progress event.
type progressMsg orchestrator.ProgressEvent

// progressClosedMsg reports that the progress channel was closed.
type progressClosedMsg struct{}

// requestMsg carries a stage failure waiting for a decision.
type requestMsg struct{ req *orchestrator.Request }

// finishedMsg reports the end of the batch.
type finishedMsg struct {
	stats orchestrator.Stats
	err   error
}

// Finished builds the message that tells the model the batch has ended.
func Finished(stats orchestrator.Stats, err error) tea.Msg {
	return finishedMsg{stats: stats, err: err}
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#5FD787"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD75F"))
	headerStyle  = lipgloss.NewStyle().Bold(true)
	promptHeader = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B"))
	promptBox    = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#FF6B6B")).
			Padding(0, 1)
)

// Model is the bubbletea model of a batch run.
type Model struct {
	title    string
	events   <-chan orchestrator.ProgressEvent
	requests <-chan *orchestrator.Request
	cancel   context.CancelFunc

	spinner spinner.Model
	lines   []string
	pending *orchestrator.Request

	finished bool
	stats    orchestrator.Stats
	err      error

	width  int
	height int
}

// New creates the model. cancel is called when the operator interrupts
// the run; it may be nil.
func New(title string, events <-chan orchestrator.ProgressEvent, requests <-chan *orchestrator.Request, cancel context.CancelFunc) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = dimStyle
	return &Model{
		title:    title,
		events:   events,
		requests: requests,
		cancel:   cancel,
		spinner:  s,
	}
}

// Init starts listening on both channels.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForEvent(m.events), waitForRequest(m.requests))
}

func waitForEvent(ch <-chan orchestrator.ProgressEvent) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return progressClosedMsg{}
		}
		return progressMsg(ev)
	}
}

func waitForRequest(ch <-chan *orchestrator.Request) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		return requestMsg{req: <-ch}
	}
}

// Update handles channel messages and keys.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case progressMsg:
		m.appendLine(renderEvent(orchestrator.ProgressEvent(msg)))
		return m, waitForEvent(m.events)

	case progressClosedMsg:
		m.events = nil
		return m, nil

	case requestMsg:
		if msg.req == nil {
			return m, nil
		}
		m.pending = msg.req
		return m, nil

	case finishedMsg:
		m.finished = true
		m.stats, m.err = msg.stats, msg.err
		if m.pending != nil {
			m.pending.Resolve(orchestrator.DecisionAbort)
			m.pending = nil
		}
		return m, nil

	case spinner.TickMsg:
		if m.finished {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "ctrl+c" {
		m.interrupt()
		return m, tea.Quit
	}

	if m.pending != nil {
		var d orchestrator.Decision
		switch key {
		case "r", "к":
			d = orchestrator.DecisionRetry
		case "s", "ы":
			d = orchestrator.DecisionSkip
		case "a", "ф", "esc":
			d = orchestrator.DecisionAbort
		default:
			return m, nil
		}
		req := m.pending
		m.pending = nil
		req.Resolve(d)
		m.appendLine(dimStyle.Render(fmt.Sprintf("  → %s: %s", req.TaxID, decisionLabel(d))))
		return m, waitForRequest(m.requests)
	}

	if m.finished {
		switch key {
		case "q", "й", "enter", "esc":
			return m, tea.Quit
		}
	}
	return m, nil
}

// interrupt answers an open prompt with abort and cancels the batch.
func (m *Model) interrupt() {
	if m.pending != nil {
		m.pending.Resolve(orchestrator.DecisionAbort)
		m.pending = nil
	}
	if m.cancel != nil {
		m.cancel()
	}
}

func (m *Model) appendLine(line string) {
	m.lines = append(m.lines, line)
	if len(m.lines) > maxLogLines {
		m.lines = m.lines[len(m.lines)-maxLogLines:]
	}
}

// Pending returns the request waiting for a decision, if any.
func (m *Model) Pending() *orchestrator.Request { return m.pending }

// Done reports whether the batch has finished.
func (m *Model) Done() bool { return m.finished }

// View renders the log tail, then the prompt or the summary.
func (m *Model) View() string {
	var footer string
	switch {
	case m.pending != nil:
		footer = renderPrompt(m.pending, m.width)
	case m.finished:
		footer = renderSummary(m.stats, m.err) + "\n" + dimStyle.Render("q: выход")
	default:
		footer = m.spinner.View() + " " + dimStyle.Render("обработка… ctrl+c: прервать")
	}

	header := titleStyle.Render(m.title)
	lines := m.lines
	if m.height > 0 {
		room := m.height - lipgloss.Height(header) - lipgloss.Height(footer) - 1
		if room < 1 {
			room = 1
		}
		if len(lines) > room {
			lines = lines[len(lines)-room:]
		}
	}

	return lipgloss.JoinVertical(lipgloss.Left, header, strings.Join(lines, "\n"), footer)
}

func renderEvent(ev orchestrator.ProgressEvent) string {
	line := orchestrator.FormatProgress(ev)
	switch ev.Status {
	case orchestrator.ProgressPending:
		return headerStyle.Render(line)
	case orchestrator.ProgressComplete:
		return okStyle.Render(line)
	case orchestrator.ProgressFailed:
		return failStyle.Render(line)
	case orchestrator.ProgressWarning, orchestrator.ProgressSkipped:
		return warnStyle.Render(line)
	default:
		return dimStyle.Render(line)
	}
}

func renderPrompt(req *orchestrator.Request, width int) string {
	subject := req.TaxID
	if req.Name != "" {
		subject = req.Name + " (" + req.TaxID + ")"
	}
	body := []string{
		promptHeader.Render(req.Title()),
		subject,
		fmt.Sprintf("этап: %s, попытка %d", req.Stage, req.Attempt),
	}
	if req.Err != nil {
		body = append(body, failStyle.Render(req.Err.Error()))
	}
	body = append(body, "", "[r] повторить   [s] пропустить   [a] прервать пакет")

	box := promptBox
	if width > 4 {
		box = box.Width(width - 4)
	}
	return box.Render(strings.Join(body, "\n"))
}

func renderSummary(s orchestrator.Stats, err error) string {
	line := fmt.Sprintf("Готово: %d из %d, ошибок %d, пропущено %d", s.Succeeded, s.Considered, s.Failed, s.Skipped)
	if s.SendsSkipped > 0 {
		line += fmt.Sprintf(", без отправки %d", s.SendsSkipped)
	}
	if s.Aborted {
		line = "Прервано. " + line
	}
	out := headerStyle.Render(line)
	if err != nil {
		out += "\n" + failStyle.Render(err.Error())
	}
	return out
}

func decisionLabel(d orchestrator.Decision) string {
	switch d {
	case orchestrator.DecisionRetry:
		return "повтор"
	case orchestrator.DecisionSkip:
		return "пропуск"
	default:
		return "прерывание"
	}
}
