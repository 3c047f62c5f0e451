package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-runewidth"

	"github.com/softwarewrighter/ui-test/pkg/results"
)

// nameWidth is the column test names are padded or truncated to.
const nameWidth = 56

// Text streams one line per result and ends with failure details and a
// summary table.
type Text struct {
	w     io.Writer
	opts  Options
	total int

	passed, failed, skipped, errored lipgloss.Style
	dim, label                       lipgloss.Style
}

// NewText returns a text reporter writing to w.
func NewText(w io.Writer, opts Options) *Text {
	r := lipgloss.NewRenderer(w)
	return &Text{
		w:       w,
		opts:    opts,
		passed:  r.NewStyle().Foreground(lipgloss.Color("42")),
		failed:  r.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		skipped: r.NewStyle().Foreground(lipgloss.Color("214")),
		errored: r.NewStyle().Foreground(lipgloss.Color("201")).Bold(true),
		dim:     r.NewStyle().Foreground(lipgloss.Color("240")),
		label:   r.NewStyle().Foreground(lipgloss.Color("39")).Bold(true),
	}
}

func (t *Text) render(s lipgloss.Style, str string) string {
	if !t.opts.Color {
		return str
	}
	return s.Render(str)
}

func (t *Text) statusStyle(s results.Status) lipgloss.Style {
	switch s {
	case results.StatusPassed:
		return t.passed
	case results.StatusFailed:
		return t.failed
	case results.StatusSkipped:
		return t.skipped
	default:
		return t.errored
	}
}

func (t *Text) Start(total int) {
	t.total = total
	noun := "tests"
	if total == 1 {
		noun = "test"
	}
	fmt.Fprintf(t.w, "running %d %s\n", total, noun)
}

func (t *Text) Result(r results.TestResult) {
	name := runewidth.Truncate(r.Name, nameWidth, "…")
	name = runewidth.FillRight(name, nameWidth)
	status := t.render(t.statusStyle(r.Status), statusLabel(r.Status))

	line := fmt.Sprintf("test %s ... %s", name, status)
	switch {
	case r.Status == results.StatusSkipped && r.Diagnostic != nil:
		line += t.render(t.dim, " ("+r.Diagnostic.Message+")")
	case r.Status != results.StatusSkipped:
		line += t.render(t.dim, " "+formatDuration(r.Duration))
	}
	fmt.Fprintln(t.w, line)

	if t.opts.Verbose {
		if r.Attempts > 0 {
			fmt.Fprintf(t.w, "    %s\n", t.render(t.dim, fmt.Sprintf("%d action attempts", r.Attempts)))
		}
		for _, a := range r.Artifacts {
			fmt.Fprintf(t.w, "    %s\n", t.render(t.dim, "artifact: "+a))
		}
	}
}

func (t *Text) Finish(stats results.RunStats, all []results.TestResult) error {
	var failures []results.TestResult
	for _, r := range all {
		if r.Failed() {
			failures = append(failures, r)
		}
	}
	if len(failures) > 0 {
		fmt.Fprintf(t.w, "\nfailures:\n")
		for _, r := range failures {
			t.writeFailure(r)
		}
		fmt.Fprintf(t.w, "\nfailures:\n")
		for _, r := range failures {
			fmt.Fprintf(t.w, "    %s\n", r.Name)
		}
	}

	fmt.Fprintln(t.w)
	fmt.Fprintln(t.w, t.summaryTable(stats))

	verdict := t.render(t.passed, "ok")
	switch {
	case stats.Error > 0:
		verdict = t.render(t.errored, "ERROR")
	case stats.Failed > 0:
		verdict = t.render(t.failed, "FAILED")
	}
	_, err := fmt.Fprintf(t.w, "test result: %s. %d passed; %d failed; %d skipped; %d error; finished in %s\n",
		verdict, stats.Passed, stats.Failed, stats.Skipped, stats.Error, formatDuration(stats.Elapsed))
	return err
}

func (t *Text) writeFailure(r results.TestResult) {
	fmt.Fprintf(t.w, "\n---- %s %s ----\n", r.Name, t.render(t.statusStyle(r.Status), statusLabel(r.Status)))
	d := r.Diagnostic
	if d == nil {
		return
	}
	field := func(name, value string) {
		if value != "" {
			fmt.Fprintf(t.w, "  %s %s\n", t.render(t.label, name+":"), value)
		}
	}
	field("error", d.Message)
	if r.Kind != results.KindNone {
		field("kind", string(r.Kind))
	}
	field("at", d.Location)
	field("expected", d.Expected)
	field("actual", d.Actual)
	if len(d.NearMisses) > 0 {
		field("similar", strings.Join(d.NearMisses, ", "))
	}
	field("hint", d.Suggestion)
	for _, a := range r.Artifacts {
		field("artifact", a)
	}
}

func (t *Text) summaryTable(stats results.RunStats) string {
	tw := table.NewWriter()
	tw.AppendHeader(table.Row{"Total", "Passed", "Failed", "Skipped", "Error", "Duration"})
	tw.AppendRow(table.Row{stats.Total, stats.Passed, stats.Failed, stats.Skipped, stats.Error, formatDuration(stats.Elapsed)})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Duration", Align: text.AlignRight},
	})
	switch {
	case !t.opts.Color:
		tw.SetStyle(table.StyleLight)
	case stats.Failed > 0 || stats.Error > 0:
		tw.SetStyle(table.StyleColoredBlackOnRedWhite)
	case stats.Skipped > 0:
		tw.SetStyle(table.StyleColoredBlackOnYellowWhite)
	default:
		tw.SetStyle(table.StyleColoredBlackOnGreenWhite)
	}
	return tw.Render()
}
