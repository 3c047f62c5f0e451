package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/softwarewrighter/ui-test/pkg/results"
)

// AssertionError is a failed assert step.
type AssertionError struct {
	Selector string
	Check    string
	Expected string
	Actual   string
}

func (e *AssertionError) Error() string {
	target := e.Selector
	if target == "" {
		target = "page"
	}
	return fmt.Sprintf("assertion %s failed on %s: expected %q, got %q", e.Check, target, e.Expected, e.Actual)
}

// ResultStatus makes assertion failures deterministic test failures.
func (e *AssertionError) ResultStatus() (results.Status, results.ErrorKind) {
	return results.StatusFailed, results.KindAssertion
}

// TimeoutError reports that the test's overall timeout elapsed.
type TimeoutError struct {
	After time.Duration
	Step  string
	Err   error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("test timed out after %s during %s: %v", e.After, e.Step, e.Err)
}

func (e *TimeoutError) Unwrap() error { return context.DeadlineExceeded }

// ResultStatus classifies every overall timeout as Error(timeout).
func (e *TimeoutError) ResultStatus() (results.Status, results.ErrorKind) {
	return results.StatusError, results.KindTimeout
}
