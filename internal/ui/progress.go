package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lakshaymaurya-felt/clearfile/internal/events"
)

// ─── Messages ────────────────────────────────────────────────────────────────

type eventMsg events.Event

type streamClosedMsg struct{}

// ─── Model ───────────────────────────────────────────────────────────────────

// ProgressModel is the bubbletea model showing a running scan or cleanup. It
// reads events until the stream closes, then quits. Quit keys ask the
// operation to cancel and keep listening until it has stopped.
type ProgressModel struct {
	Title     string
	Last      events.Event
	Summary   *events.Summary
	Skipped   int
	Width     int
	Cancelled bool

	stream  <-chan events.Event
	cancel  func()
	spinner spinner.Model
	bar     progress.Model
	done    bool
}

// NewProgressModel creates a model reading from stream. cancel is invoked
// once when the user asks to stop.
func NewProgressModel(title string, stream <-chan events.Event, cancel func()) ProgressModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(ColorPrimary)

	bar := progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage())
	bar.Width = 40

	return ProgressModel{
		Title:   title,
		Width:   80,
		stream:  stream,
		cancel:  cancel,
		spinner: sp,
		bar:     bar,
	}
}

func (m ProgressModel) waitForEvent() tea.Cmd {
	stream := m.stream
	return func() tea.Msg {
		e, ok := <-stream
		if !ok {
			return streamClosedMsg{}
		}
		return eventMsg(e)
	}
}

// ─── tea.Model interface ─────────────────────────────────────────────────────

func (m ProgressModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForEvent())
}

func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.bar.Width = max(10, min(60, msg.Width-20))
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			if !m.Cancelled && m.cancel != nil {
				m.cancel()
			}
			m.Cancelled = true
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case progress.FrameMsg:
		model, cmd := m.bar.Update(msg)
		if bar, ok := model.(progress.Model); ok {
			m.bar = bar
		}
		return m, cmd

	case eventMsg:
		e := events.Event(msg)
		m.Last = e
		switch e.Kind {
		case events.KindSkipped:
			m.Skipped++
		case events.KindSummary:
			m.Summary = e.Summary
		}
		cmds := []tea.Cmd{m.waitForEvent()}
		if e.Total > 0 {
			cmds = append(cmds, m.bar.SetPercent(e.Percent/100))
		}
		return m, tea.Batch(cmds...)

	case streamClosedMsg:
		m.done = true
		return m, tea.Quit
	}

	return m, nil
}

func (m ProgressModel) View() string {
	if m.done {
		return ""
	}
	return m.renderView()
}

// ─── Rendering ───────────────────────────────────────────────────────────────

func (m ProgressModel) renderView() string {
	w := max(m.Width, 40)

	var s strings.Builder
	s.WriteString("  " + m.spinner.View() + " " + TitleStyle().Render(m.Title) + "\n\n")

	e := m.Last
	switch {
	case e.Total > 0:
		s.WriteString(fmt.Sprintf("  %s  %5.1f%%\n", m.bar.View(), e.Percent))
		s.WriteString(fmt.Sprintf("  Deleted %d of %d", e.FilesDeleted, e.Total))
	default:
		s.WriteString(fmt.Sprintf("  Found %d files  %s", e.FilesFound, FormatSize(e.BytesFound)))
	}
	if m.Skipped > 0 {
		s.WriteString("  " + TagWarningStyle().Render(fmt.Sprintf(" %d skipped ", m.Skipped)))
	}
	s.WriteString("\n")

	if e.Path != "" {
		path := TruncatePath(e.Path, min(w-6, 80))
		s.WriteString(lipgloss.NewStyle().Foreground(ColorTextDim).Render("  "+IconChevron+" "+path) + "\n")
	}

	s.WriteString("\n")
	if m.Cancelled {
		s.WriteString(lipgloss.NewStyle().Foreground(ColorWarning).Render("  Cancelling, finishing current file..."))
	} else {
		s.WriteString(HintBarStyle().Render("  q / ctrl+c cancel"))
	}
	s.WriteString("\n")
	return s.String()
}

// RunProgress shows the live view on out until stream closes. It returns
// whether the user asked to cancel.
func RunProgress(title string, stream <-chan events.Event, cancel func(), out io.Writer) (bool, error) {
	p := tea.NewProgram(NewProgressModel(title, stream, cancel), tea.WithOutput(out))
	final, err := p.Run()
	if err != nil {
		return false, fmt.Errorf("progress view failed: %w", err)
	}
	m, _ := final.(ProgressModel)
	return m.Cancelled, nil
}
