// Package report renders test results as they arrive and summarizes the run.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/softwarewrighter/ui-test/pkg/results"
)

// Reporter receives results in submission order from a single goroutine.
type Reporter interface {
	// Start is called once before any result with the number of cases.
	Start(total int)
	// Result is called once per case.
	Result(r results.TestResult)
	// Finish is called once after the last result.
	Finish(stats results.RunStats, all []results.TestResult) error
}

// Options configures a Reporter.
type Options struct {
	RunID   string
	Color   bool
	Verbose bool // text: print artifacts and attempts for every result
}

// New returns the reporter for format, writing to w.
func New(format string, w io.Writer, opts Options) (Reporter, error) {
	switch format {
	case "", "text":
		return NewText(w, opts), nil
	case "json":
		return NewJSON(w, opts), nil
	case "junit":
		return NewJUnit(w, opts), nil
	case "tui":
		return NewTUI(w, opts), nil
	}
	return nil, fmt.Errorf("unknown report format %q", format)
}

// Multi fans every call out to several reporters.
type Multi []Reporter

func (m Multi) Start(total int) {
	for _, r := range m {
		r.Start(total)
	}
}

func (m Multi) Result(res results.TestResult) {
	for _, r := range m {
		r.Result(res)
	}
}

func (m Multi) Finish(stats results.RunStats, all []results.TestResult) error {
	var first error
	for _, r := range m {
		if err := r.Finish(stats, all); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Truncate(time.Millisecond).String()
}

// statusLabel is the word printed for a status.
func statusLabel(s results.Status) string {
	switch s {
	case results.StatusPassed:
		return "ok"
	case results.StatusFailed:
		return "FAILED"
	case results.StatusSkipped:
		return "skipped"
	default:
		return "ERROR"
	}
}
