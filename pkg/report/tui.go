package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/softwarewrighter/ui-test/pkg/results"
)

// Status glyphs.
const (
	glyphPassed  = "✓"
	glyphFailed  = "✗"
	glyphSkipped = "⏭"
	glyphError   = "!"
)

// recentLines is how many finished tests the live view keeps on screen.
const recentLines = 8

var (
	tuiPassed  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	tuiFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	tuiSkipped = lipgloss.NewStyle().Faint(true)
	tuiError   = lipgloss.NewStyle().Foreground(lipgloss.Color("201")).Bold(true)
	tuiHeader  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("51"))
	tuiSpinner = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	tuiDim     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

type resultMsg results.TestResult

type finishMsg struct{}

// tuiModel is the live progress view.
type tuiModel struct {
	spinner  spinner.Model
	bar      progress.Model
	total    int
	done     int
	counts   map[results.Status]int
	recent   []string
	finished bool
}

func newTUIModel(total int) tuiModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = tuiSpinner
	return tuiModel{
		spinner: sp,
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		total:   total,
		counts:  map[results.Status]int{},
	}
}

func (m tuiModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.bar.Width = max(10, min(60, msg.Width-30))
		return m, nil
	case spinner.TickMsg:
		if m.finished {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case resultMsg:
		r := results.TestResult(msg)
		m.done++
		m.counts[r.Status]++
		m.recent = append(m.recent, resultLine(r))
		if len(m.recent) > recentLines {
			m.recent = m.recent[len(m.recent)-recentLines:]
		}
		return m, nil
	case finishMsg:
		m.finished = true
		return m, tea.Quit
	}
	return m, nil
}

func (m tuiModel) View() string {
	var b strings.Builder
	percent := 1.0
	if m.total > 0 {
		percent = float64(m.done) / float64(m.total)
	}
	status := m.spinner.View() + " running"
	if m.finished {
		status = tuiHeader.Render("done")
	}
	fmt.Fprintf(&b, "%s %d/%d  %s\n", status, m.done, m.total, m.bar.ViewAs(percent))
	for _, line := range m.recent {
		b.WriteString("  " + line + "\n")
	}
	fmt.Fprintf(&b, "%s %s %s %s\n",
		tuiPassed.Render(fmt.Sprintf("%d passed", m.counts[results.StatusPassed])),
		tuiFailed.Render(fmt.Sprintf("%d failed", m.counts[results.StatusFailed])),
		tuiSkipped.Render(fmt.Sprintf("%d skipped", m.counts[results.StatusSkipped])),
		tuiError.Render(fmt.Sprintf("%d error", m.counts[results.StatusError])),
	)
	return b.String()
}

func resultLine(r results.TestResult) string {
	name := runewidth.Truncate(r.Name, nameWidth, "…")
	switch r.Status {
	case results.StatusPassed:
		return tuiPassed.Render(glyphPassed) + " " + name + " " + tuiDim.Render(formatDuration(r.Duration))
	case results.StatusFailed:
		return tuiFailed.Render(glyphFailed) + " " + name
	case results.StatusSkipped:
		return tuiSkipped.Render(glyphSkipped + " " + name)
	default:
		return tuiError.Render(glyphError) + " " + name
	}
}

// TUI shows a live Bubble Tea progress view while the run is in flight, then
// prints the text reporter's failure details and summary.
type TUI struct {
	w       io.Writer
	opts    Options
	program *tea.Program
	done    chan struct{}
}

// NewTUI returns a TUI reporter drawing on w.
func NewTUI(w io.Writer, opts Options) *TUI {
	return &TUI{w: w, opts: opts}
}

func (t *TUI) Start(total int) {
	t.program = tea.NewProgram(newTUIModel(total),
		tea.WithOutput(t.w),
		tea.WithInput(nil),
		tea.WithoutSignalHandler(),
	)
	t.done = make(chan struct{})
	go func() {
		defer close(t.done)
		t.program.Run()
	}()
}

func (t *TUI) Result(r results.TestResult) {
	if t.program != nil {
		t.program.Send(resultMsg(r))
	}
}

func (t *TUI) Finish(stats results.RunStats, all []results.TestResult) error {
	if t.program != nil {
		t.program.Send(finishMsg{})
		<-t.done
	}
	summary := NewText(t.w, t.opts)
	return summary.Finish(stats, all)
}
