// Package results holds per-test results, folds them into run statistics,
// and maps a finished run to a process exit code.
package results

import "time"

// Status is the terminal state of one test.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
	StatusError   Status = "error"
)

// ErrorKind refines a failed or error status.
type ErrorKind string

const (
	KindNone      ErrorKind = ""
	KindTimeout   ErrorKind = "timeout"
	KindProtocol  ErrorKind = "protocol"
	KindAssertion ErrorKind = "assertion"
	KindNotFound  ErrorKind = "element_not_found"
)

// Exit codes for the process that owns the run.
const (
	ExitSuccess     = 0 // all tests passed
	ExitTestFailure = 1 // one or more tests failed
	ExitRuntimeErr  = 2 // error results, or a config/discovery/spawn/connection failure
)

// Diagnostic explains a failed or error result.
type Diagnostic struct {
	Message    string   `json:"message"`
	Location   string   `json:"location,omitempty"` // file:line of the failing step
	Suggestion string   `json:"suggestion,omitempty"`
	Expected   string   `json:"expected,omitempty"`
	Actual     string   `json:"actual,omitempty"`
	NearMisses []string `json:"near_misses,omitempty"`
}

// TestResult is the outcome of one test case. Exactly one is produced per
// submitted case; a retried action never adds a second result.
type TestResult struct {
	Index      int           `json:"index"` // submission order
	Name       string        `json:"name"`
	File       string        `json:"file,omitempty"`
	Tags       []string      `json:"tags,omitempty"`
	Status     Status        `json:"status"`
	Kind       ErrorKind     `json:"error_kind,omitempty"`
	Duration   time.Duration `json:"-"`
	Attempts   int           `json:"attempts,omitempty"` // action attempts including retries
	Diagnostic *Diagnostic   `json:"diagnostic,omitempty"`
	Artifacts  []string      `json:"artifacts,omitempty"`

	// Fatal marks a result whose cause makes the automation server unusable
	// for the rest of the run.
	Fatal bool `json:"-"`
}

// Failed reports whether the result counts against fail-fast.
func (r TestResult) Failed() bool {
	return r.Status == StatusFailed || r.Status == StatusError
}

// RunStats aggregates a run.
type RunStats struct {
	Total    int           `json:"total"`
	Passed   int           `json:"passed"`
	Failed   int           `json:"failed"`
	Skipped  int           `json:"skipped"`
	Error    int           `json:"error"`
	Duration time.Duration `json:"-"` // sum of per-test durations
	Elapsed  time.Duration `json:"-"` // wall-clock time of the run
}

// Skipped builds the result for a case that never started.
func Skipped(index int, name, reason string) TestResult {
	return TestResult{
		Index:      index,
		Name:       name,
		Status:     StatusSkipped,
		Diagnostic: &Diagnostic{Message: reason},
	}
}
