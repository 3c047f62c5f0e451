package results

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/softwarewrighter/ui-test/pkg/a11y"
	"github.com/softwarewrighter/ui-test/pkg/process"
	"github.com/softwarewrighter/ui-test/pkg/protocol"
	"github.com/softwarewrighter/ui-test/pkg/wire"
)

type countingRecorder struct{ n int }

func (c *countingRecorder) Observe(TestResult) { c.n++ }

func TestAggregator_Counts(t *testing.T) {
	rec := &countingRecorder{}
	agg := NewAggregator(WithRecorder(rec))

	agg.Add(TestResult{Index: 0, Status: StatusPassed, Duration: time.Second})
	agg.Add(TestResult{Index: 1, Status: StatusFailed, Duration: 500 * time.Millisecond})
	agg.Add(TestResult{Index: 2, Status: StatusSkipped})
	agg.Add(TestResult{Index: 3, Status: StatusError, Kind: KindTimeout, Duration: 2 * time.Second})
	agg.Add(TestResult{Index: 4, Status: StatusPassed})

	stats := agg.Finalize(3 * time.Second)
	assert.Equal(t, RunStats{
		Total: 5, Passed: 2, Failed: 1, Skipped: 1, Error: 1,
		Duration: 3500 * time.Millisecond,
		Elapsed:  3 * time.Second,
	}, stats)
	assert.Equal(t, 5, rec.n)
}

func TestAggregator_SumsDurations(t *testing.T) {
	agg := NewAggregator()
	agg.Add(TestResult{Index: 0, Status: StatusPassed, Duration: 120 * time.Millisecond})
	agg.Add(TestResult{Index: 1, Status: StatusFailed, Duration: 2 * time.Second})
	agg.Add(TestResult{Index: 2, Status: StatusPassed, Duration: 880 * time.Millisecond})

	assert.Equal(t, 3*time.Second, agg.Stats().Duration)

	stats := agg.Finalize(1500 * time.Millisecond)
	assert.Equal(t, 3*time.Second, stats.Duration, "wall-clock time must not replace the sum")
	assert.Equal(t, 1500*time.Millisecond, stats.Elapsed)
}

func TestAggregator_DuplicateIndexIgnored(t *testing.T) {
	agg := NewAggregator()
	agg.Add(TestResult{Index: 0, Status: StatusError})
	agg.Add(TestResult{Index: 0, Status: StatusPassed})

	stats := agg.Stats()
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Error)
	assert.Equal(t, 0, stats.Passed)
}

func TestAggregator_OrderedDelivery(t *testing.T) {
	var seen []int
	agg := NewAggregator(WithOrdered(func(r TestResult) { seen = append(seen, r.Index) }))

	agg.Add(TestResult{Index: 2, Status: StatusPassed})
	agg.Add(TestResult{Index: 1, Status: StatusPassed})
	assert.Empty(t, seen, "nothing may be delivered before index 0 arrives")

	agg.Add(TestResult{Index: 0, Status: StatusPassed})
	assert.Equal(t, []int{0, 1, 2}, seen)

	agg.Add(TestResult{Index: 4, Status: StatusPassed})
	agg.Add(TestResult{Index: 3, Status: StatusPassed})
	assert.Equal(t, []int{0, 1, 2, 3, 4}, seen)

	results := agg.Results()
	require.Len(t, results, 5)
	for i, r := range results {
		assert.Equal(t, i, r.Index)
	}
}

func TestAggregator_Fatal(t *testing.T) {
	agg := NewAggregator()
	assert.False(t, agg.Fatal())
	agg.Add(TestResult{Index: 0, Status: StatusError, Fatal: true})
	assert.True(t, agg.Fatal())

	agg2 := NewAggregator()
	agg2.MarkFatal("spawn failed")
	assert.True(t, agg2.Fatal())
	assert.Equal(t, []string{"spawn failed"}, agg2.FatalReasons())
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name  string
		stats RunStats
		fatal bool
		want  int
	}{
		{"all passed", RunStats{Total: 3, Passed: 3}, false, ExitSuccess},
		{"skips only", RunStats{Total: 2, Passed: 1, Skipped: 1}, false, ExitSuccess},
		{"empty run", RunStats{}, false, ExitSuccess},
		{"failures", RunStats{Total: 5, Passed: 4, Failed: 1}, false, ExitTestFailure},
		{"error result", RunStats{Total: 2, Passed: 1, Error: 1}, false, ExitRuntimeErr},
		{"failure and error", RunStats{Total: 2, Failed: 1, Error: 1}, false, ExitRuntimeErr},
		{"fatal with no results", RunStats{}, true, ExitRuntimeErr},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.stats, tt.fatal))
		})
	}
}

type fakeAssertion struct{}

func (fakeAssertion) Error() string { return "expected x, got y" }
func (fakeAssertion) ResultStatus() (Status, ErrorKind) {
	return StatusFailed, KindAssertion
}

type fakeTimeout struct{}

func (fakeTimeout) Error() string { return "test timed out" }
func (fakeTimeout) ResultStatus() (Status, ErrorKind) {
	return StatusError, KindTimeout
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status Status
		kind   ErrorKind
		fatal  bool
		hint   string
	}{
		{"nil", nil, StatusPassed, KindNone, false, ""},
		{"not found", fmt.Errorf("click: %w", &a11y.ElementNotFound{Selector: "x"}), StatusFailed, KindNotFound, false, SuggestScreenshot},
		{"assertion", fmt.Errorf("step 3: %w", fakeAssertion{}), StatusFailed, KindAssertion, false, SuggestScreenshot},
		{"own timeout", fakeTimeout{}, StatusError, KindTimeout, false, SuggestTimeout},
		{"timeout", fmt.Errorf("click: %w", protocol.ErrTimeout), StatusError, KindTimeout, false, SuggestTimeout},
		{"deadline", context.DeadlineExceeded, StatusError, KindTimeout, false, SuggestTimeout},
		{"connection closed", fmt.Errorf("snapshot: %w", protocol.ErrConnectionClosed), StatusError, KindProtocol, true, SuggestServer},
		{"spawn", &process.SpawnError{Command: "npx", Err: errors.New("not found")}, StatusError, KindProtocol, true, SuggestSpawn},
		{"remote", &wire.RemoteError{Code: "tool_error", Message: "boom"}, StatusError, KindProtocol, false, SuggestRemote},
		{"other", errors.New("mystery"), StatusError, KindProtocol, false, SuggestVerbose},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Classify(tt.err)
			assert.Equal(t, tt.status, c.Status)
			assert.Equal(t, tt.kind, c.Kind)
			assert.Equal(t, tt.fatal, c.Fatal)
			assert.Equal(t, tt.hint, c.Suggestion)
		})
	}
}

func TestClassify_NotFoundSuggestsScreenshot(t *testing.T) {
	c := Classify(&a11y.ElementNotFound{Selector: "role=button"})
	assert.Contains(t, c.Suggestion, "screenshot")
}

func TestMessage_StripsANSI(t *testing.T) {
	assert.Equal(t, "red alert", Message(errors.New("\x1b[31mred alert\x1b[0m")))
	assert.Equal(t, "", Message(nil))
}

func TestSkipped(t *testing.T) {
	r := Skipped(3, "login", "fail-fast")
	assert.Equal(t, StatusSkipped, r.Status)
	assert.Equal(t, 3, r.Index)
	require.NotNil(t, r.Diagnostic)
	assert.Equal(t, "fail-fast", r.Diagnostic.Message)
	assert.False(t, r.Failed())
}
