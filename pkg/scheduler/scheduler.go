// Package scheduler fans test cases out to an executor with a bounded number
// running at once, and enforces the run-wide fail-fast and fatal policies.
package scheduler

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"golang.org/x/sync/semaphore"

	"github.com/softwarewrighter/ui-test/pkg/results"
	"github.com/softwarewrighter/ui-test/pkg/suite"
)

// Skip reasons for cases that never started.
const (
	ReasonFailFast    = "fail-fast: an earlier test failed"
	ReasonUnavailable = "automation server unavailable"
	ReasonCancelled   = "run cancelled"
)

// Runner runs one test case to its result. *executor.Executor satisfies it.
type Runner interface {
	Run(ctx context.Context, tc *suite.TestCase) results.TestResult
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, tc *suite.TestCase) results.TestResult

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, tc *suite.TestCase) results.TestResult {
	return f(ctx, tc)
}

// Stats is permit-pool instrumentation.
type Stats struct {
	Held       int64 // permits held right now
	Peak       int64 // most permits ever held at once
	Dispatched int64 // cases handed to the runner
	Skipped    int64 // cases emitted as skipped without running
}

// Scheduler runs cases with at most Concurrency in flight. Each Run starts
// from fresh policy flags and counters; Runs must not overlap.
type Scheduler struct {
	Concurrency int
	FailFast    bool
	Logger      *log.Logger

	// OnStart, when set, is called as each case is handed to the runner
	// with the case's position in the submitted slice.
	OnStart func(pos int, tc *suite.TestCase)

	held, peak, dispatched, skipped atomic.Int64
	failed, fatal                   atomic.Bool
}

type delivery struct {
	pos int
	res results.TestResult
}

// Run executes cases and calls sink exactly once per case, from a single
// goroutine, in completion order. It returns when every result has been
// delivered. In-flight tests are never interrupted by fail-fast.
//
// Each result's Index is the case's position in cases; TestCase.Index is
// not consulted.
func (s *Scheduler) Run(ctx context.Context, cases []*suite.TestCase, runner Runner, sink func(results.TestResult)) {
	logger := s.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	logger = logger.With("component", "scheduler")
	s.reset()

	limit := int64(s.Concurrency)
	if limit < 1 {
		limit = 1
	}
	sem := semaphore.NewWeighted(limit)
	out := make(chan delivery, len(cases))

	consumed := make(chan struct{})
	delivered := make([]bool, len(cases))
	go func() {
		defer close(consumed)
		for d := range out {
			if delivered[d.pos] {
				logger.Error("dropping duplicate result", "test", d.res.Name)
				continue
			}
			delivered[d.pos] = true
			if sink != nil {
				sink(d.res)
			}
		}
	}()

	logger.Debug("starting", "tests", len(cases), "concurrency", limit, "fail_fast", s.FailFast)

	var wg conc.WaitGroup
	for pos, tc := range cases {
		if err := sem.Acquire(ctx, 1); err != nil {
			s.skip(out, pos, tc, ReasonCancelled)
			continue
		}
		if reason := s.stopReason(); reason != "" {
			sem.Release(1)
			s.skip(out, pos, tc, reason)
			continue
		}
		s.acquired()
		s.dispatched.Add(1)
		if s.OnStart != nil {
			s.OnStart(pos, tc)
		}

		wg.Go(func() {
			defer sem.Release(1)
			defer s.held.Add(-1)

			res := s.runOne(ctx, runner, tc)
			res.Index = pos
			// Policy flags are set before the permit is released so the
			// next dispatch decision sees them.
			if res.Fatal {
				s.fatal.Store(true)
				logger.Warn("automation server unusable, skipping remaining tests", "test", tc.Name)
			}
			if res.Failed() {
				s.failed.Store(true)
			}
			out <- delivery{pos: pos, res: res}
		})
	}
	wg.Wait()
	close(out)
	<-consumed

	for pos, ok := range delivered {
		if !ok && sink != nil {
			tc := cases[pos]
			logger.Error("no result produced", "test", tc.Name)
			sink(results.TestResult{
				Index:      pos,
				Name:       tc.Name,
				File:       tc.File,
				Status:     results.StatusError,
				Kind:       results.KindProtocol,
				Diagnostic: &results.Diagnostic{Message: "no result produced", Suggestion: results.SuggestVerbose},
			})
		}
	}
}

// runOne runs tc, turning a panic into an error result.
func (s *Scheduler) runOne(ctx context.Context, runner Runner, tc *suite.TestCase) results.TestResult {
	start := time.Now()
	var res results.TestResult
	var pc panics.Catcher
	pc.Try(func() { res = runner.Run(ctx, tc) })
	if r := pc.Recovered(); r != nil {
		return results.TestResult{
			Name:     tc.Name,
			File:     tc.File,
			Tags:     tc.Tags,
			Status:   results.StatusError,
			Kind:     results.KindProtocol,
			Duration: time.Since(start),
			Diagnostic: &results.Diagnostic{
				Message:    fmt.Sprintf("test panicked: %v", r.Value),
				Suggestion: results.SuggestVerbose,
			},
		}
	}
	return res
}

func (s *Scheduler) stopReason() string {
	switch {
	case s.fatal.Load():
		return ReasonUnavailable
	case s.FailFast && s.failed.Load():
		return ReasonFailFast
	}
	return ""
}

func (s *Scheduler) skip(out chan<- delivery, pos int, tc *suite.TestCase, reason string) {
	s.skipped.Add(1)
	r := results.Skipped(pos, tc.Name, reason)
	r.File = tc.File
	r.Tags = tc.Tags
	out <- delivery{pos: pos, res: r}
}

func (s *Scheduler) reset() {
	s.held.Store(0)
	s.peak.Store(0)
	s.dispatched.Store(0)
	s.skipped.Store(0)
	s.failed.Store(false)
	s.fatal.Store(false)
}

func (s *Scheduler) acquired() {
	n := s.held.Add(1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

// Stats returns the permit-pool counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Held:       s.held.Load(),
		Peak:       s.peak.Load(),
		Dispatched: s.dispatched.Load(),
		Skipped:    s.skipped.Load(),
	}
}
