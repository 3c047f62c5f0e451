package results

import (
	"sort"
	"sync"
	"time"
)

// Recorder observes every result added to an Aggregator.
type Recorder interface {
	Observe(TestResult)
}

// Aggregator folds results into RunStats. Results may arrive in any order;
// the ordered callback sees them in submission order.
type Aggregator struct {
	mu       sync.Mutex
	stats    RunStats
	byIndex  map[int]TestResult
	next     int
	ordered  func(TestResult)
	recorder Recorder
	fatal    bool
	reasons  []string
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithOrdered sets a callback invoked once per result, in submission order.
// A result is held back until every earlier index has arrived.
func WithOrdered(fn func(TestResult)) AggregatorOption {
	return func(a *Aggregator) { a.ordered = fn }
}

// WithRecorder sets a Recorder observing every added result.
func WithRecorder(r Recorder) AggregatorOption {
	return func(a *Aggregator) { a.recorder = r }
}

// NewAggregator returns an empty aggregator.
func NewAggregator(opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{byIndex: map[int]TestResult{}}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Add records r. A second result for an index already seen is ignored.
func (a *Aggregator) Add(r TestResult) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, dup := a.byIndex[r.Index]; dup {
		return
	}
	a.byIndex[r.Index] = r

	a.stats.Total++
	switch r.Status {
	case StatusPassed:
		a.stats.Passed++
	case StatusFailed:
		a.stats.Failed++
	case StatusSkipped:
		a.stats.Skipped++
	default:
		a.stats.Error++
	}
	a.stats.Duration += r.Duration
	if r.Fatal {
		a.fatal = true
	}
	if a.recorder != nil {
		a.recorder.Observe(r)
	}

	if a.ordered == nil {
		return
	}
	for {
		next, ok := a.byIndex[a.next]
		if !ok {
			return
		}
		a.next++
		a.ordered(next)
	}
}

// MarkFatal records a run-level failure that forces exit code 2.
func (a *Aggregator) MarkFatal(reason string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fatal = true
	a.reasons = append(a.reasons, reason)
}

// Fatal reports whether a fatal condition was recorded.
func (a *Aggregator) Fatal() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fatal
}

// FatalReasons returns the reasons passed to MarkFatal.
func (a *Aggregator) FatalReasons() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.reasons...)
}

// Stats returns the running statistics.
func (a *Aggregator) Stats() RunStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// Finalize stamps the wall-clock time and returns the final statistics.
func (a *Aggregator) Finalize(elapsed time.Duration) RunStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats.Elapsed = elapsed
	return a.stats
}

// Results returns every result received, in submission order.
func (a *Aggregator) Results() []TestResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]TestResult, 0, len(a.byIndex))
	for _, r := range a.byIndex {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// ExitCode maps final statistics to the process exit code.
func ExitCode(stats RunStats, fatal bool) int {
	switch {
	case fatal || stats.Error > 0:
		return ExitRuntimeErr
	case stats.Failed > 0:
		return ExitTestFailure
	default:
		return ExitSuccess
	}
}
