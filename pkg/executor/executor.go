// Package executor runs one test case against the automation server: setup,
// the action sequence, assertions and cleanup, bounded by a per-test timeout.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/softwarewrighter/ui-test/pkg/a11y"
	"github.com/softwarewrighter/ui-test/pkg/results"
	"github.com/softwarewrighter/ui-test/pkg/suite"
)

// Defaults applied when the corresponding Executor field is zero.
const (
	DefaultTimeout       = 30 * time.Second
	DefaultActionTimeout = 10 * time.Second
	DefaultCleanupGrace  = 5 * time.Second
	DefaultRetries       = 3
)

// Browser is the set of automation-server calls the executor issues.
// *protocol.Client satisfies it.
type Browser interface {
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, ref, element string) error
	Fill(ctx context.Context, ref, element, text string) error
	Snapshot(ctx context.Context) (string, error)
	Screenshot(ctx context.Context, path string) ([]byte, error)
}

// Phase is where a test is in its lifecycle.
type Phase int

const (
	PhasePending Phase = iota
	PhaseSetup
	PhaseRunning
	PhaseAsserting
	PhaseCleanup
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "pending"
	case PhaseSetup:
		return "setup"
	case PhaseRunning:
		return "running"
	case PhaseAsserting:
		return "asserting"
	case PhaseCleanup:
		return "cleanup"
	case PhaseDone:
		return "done"
	default:
		return "unknown"
	}
}

// Executor runs test cases. One Executor is shared by every concurrently
// running test; all per-test state lives in the run.
type Executor struct {
	Browser Browser

	Timeout       time.Duration // whole setup-through-asserting span
	ActionTimeout time.Duration // one attempt of one server call
	CleanupGrace  time.Duration // cleanup budget, granted even after Timeout fired
	Retries       int           // retries per action on transient failures; negative disables

	// Backoff returns the delay schedule for one action's retries. Nil uses
	// 2s, 4s, 8s and so on.
	Backoff func() backoff.BackOff
	// OnRetry, when set, is called before each retry wait. It may be called
	// from several tests at once.
	OnRetry func(tc *suite.TestCase, s suite.Step, err error, wait time.Duration)

	Logger *log.Logger
	Tracer trace.Tracer

	// Artifacts is the directory screenshots are written under.
	Artifacts           string
	ScreenshotOnFailure bool

	snapshots atomic.Uint64
}

// DefaultBackOff is the retry schedule: 2s doubling, no jitter, no overall cap.
func DefaultBackOff() backoff.BackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     2 * time.Second,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         time.Minute,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

func (e *Executor) logger() *log.Logger {
	if e.Logger == nil {
		return log.New(io.Discard)
	}
	return e.Logger
}

func (e *Executor) tracer() trace.Tracer {
	if e.Tracer == nil {
		return otel.Tracer("github.com/softwarewrighter/ui-test/pkg/executor")
	}
	return e.Tracer
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

func (e *Executor) retries() int {
	switch {
	case e.Retries < 0:
		return 0
	case e.Retries == 0:
		return DefaultRetries
	default:
		return e.Retries
	}
}

// Run executes tc and returns its single result. Setup and cleanup always
// run; cleanup gets a fresh CleanupGrace budget even if the test timed out
// or ctx was cancelled.
func (e *Executor) Run(ctx context.Context, tc *suite.TestCase) results.TestResult {
	start := time.Now()
	res := results.TestResult{Index: tc.Index, Name: tc.Name, File: tc.File, Tags: tc.Tags}
	if tc.Skip != "" {
		res.Status = results.StatusSkipped
		res.Diagnostic = &results.Diagnostic{Message: tc.Skip, Location: tc.Location(suite.Step{})}
		return res
	}

	ctx, span := e.tracer().Start(ctx, "test "+tc.Name, trace.WithAttributes(
		attribute.String("test.name", tc.Name),
		attribute.String("test.file", tc.File),
		attribute.Int("test.index", tc.Index),
	))
	defer span.End()

	r := &run{
		e:      e,
		tc:     tc,
		logger: e.logger().With("test", tc.Name),
	}

	timeout := orDefault(e.Timeout, DefaultTimeout)
	if tc.Timeout > 0 {
		timeout = tc.Timeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	err := r.main(runCtx)
	if err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		err = &TimeoutError{After: timeout, Step: r.current.Describe(), Err: err}
	}
	cancel()

	class := results.Classify(err)

	cleanupCtx, cancelCleanup := context.WithTimeout(context.WithoutCancel(ctx), orDefault(e.CleanupGrace, DefaultCleanupGrace))
	r.setPhase(PhaseCleanup)
	if err != nil && e.ScreenshotOnFailure && !class.Fatal {
		r.failureScreenshot(cleanupCtx)
	}
	if cerr := r.cleanup(cleanupCtx); cerr != nil {
		r.logger.Warn("cleanup failed", "err", cerr)
		if results.Classify(cerr).Fatal {
			class.Fatal = true
		}
	}
	cancelCleanup()
	r.setPhase(PhaseDone)

	res.Status = class.Status
	res.Kind = class.Kind
	res.Fatal = class.Fatal
	res.Attempts = r.attempts
	res.Artifacts = r.artifacts
	res.Duration = time.Since(start)
	if err != nil {
		res.Diagnostic = r.diagnose(err, class)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(res.Status))
	}
	span.SetAttributes(
		attribute.String("test.status", string(res.Status)),
		attribute.Int("test.attempts", res.Attempts),
	)
	r.logger.Debug("finished", "status", res.Status, "duration", res.Duration)
	return res
}

// run is the state of one test execution. Its steps are issued strictly one
// after another.
type run struct {
	e         *Executor
	tc        *suite.TestCase
	logger    *log.Logger
	phase     Phase
	current   suite.Step
	attempts  int
	artifacts []string
}

func (r *run) setPhase(p Phase) {
	if r.phase != p {
		r.logger.Debug("phase", "from", r.phase, "to", p)
	}
	r.phase = p
}

func (r *run) main(ctx context.Context) error {
	r.setPhase(PhaseSetup)
	if err := r.steps(ctx, r.tc.Setup); err != nil {
		return fmt.Errorf("setup: %w", err)
	}
	r.setPhase(PhaseRunning)
	return r.steps(ctx, r.tc.Steps)
}

func (r *run) steps(ctx context.Context, steps []suite.Step) error {
	for _, s := range steps {
		r.current = s
		if r.phase == PhaseRunning || r.phase == PhaseAsserting {
			if s.Assert != nil {
				r.setPhase(PhaseAsserting)
			} else {
				r.setPhase(PhaseRunning)
			}
		}
		if err := r.step(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// cleanup runs every cleanup step, continuing past failures.
func (r *run) cleanup(ctx context.Context) error {
	var errs []error
	for _, s := range r.tc.Cleanup {
		if err := r.step(ctx, s); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Describe(), err))
			if results.Classify(err).Fatal {
				break
			}
		}
	}
	return errors.Join(errs...)
}

func (r *run) step(ctx context.Context, s suite.Step) error {
	r.logger.Debug("step", "phase", r.phase, "action", s.Describe())
	b := r.e.Browser

	switch s.Kind() {
	case suite.KindNavigate:
		url := joinURL(r.tc.BaseURL, s.Navigate)
		return r.retry(ctx, s, func(ctx context.Context) error {
			return b.Navigate(ctx, url)
		})
	case suite.KindClick:
		return r.act(ctx, s, s.Click, func(ctx context.Context, ref a11y.NodeRef) error {
			return b.Click(ctx, ref.Ref, ref.Element())
		})
	case suite.KindFill:
		return r.act(ctx, s, s.Fill.Selector, func(ctx context.Context, ref a11y.NodeRef) error {
			return b.Fill(ctx, ref.Ref, ref.Element(), s.Fill.Text)
		})
	case suite.KindAssert:
		return r.assert(ctx, s)
	case suite.KindScreenshot:
		return r.screenshot(ctx, s, s.Screenshot)
	case suite.KindWait:
		d, err := time.ParseDuration(s.Wait)
		if err != nil {
			return fmt.Errorf("wait: %w", err)
		}
		return sleep(ctx, d)
	case suite.KindWaitFor:
		return r.waitFor(ctx, s)
	default:
		return fmt.Errorf("step %q: expected exactly one action, got %v", s.Describe(), s.Kinds())
	}
}

// snapshot takes a fresh snapshot. Its id supersedes every earlier one.
func (r *run) snapshot(ctx context.Context) (*a11y.Snapshot, error) {
	text, err := r.e.Browser.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	snap, err := a11y.ParseSnapshot(text)
	if err != nil {
		return nil, err
	}
	snap.ID = r.e.snapshots.Add(1)
	return snap, nil
}

// act resolves selector against a snapshot taken in the same attempt and
// acts on the result. A retry starts again from the snapshot, so a ref is
// never used after another snapshot of this test replaced it.
func (r *run) act(ctx context.Context, s suite.Step, selector string, do func(context.Context, a11y.NodeRef) error) error {
	return r.retry(ctx, s, func(ctx context.Context) error {
		snap, err := r.snapshot(ctx)
		if err != nil {
			return err
		}
		ref, _, err := snap.Resolve(selector)
		if err != nil {
			return err
		}
		r.logger.Debug("resolved", "selector", selector, "ref", ref.Ref, "element", ref.Element())
		return do(ctx, ref)
	})
}

func (r *run) waitFor(ctx context.Context, s suite.Step) error {
	const poll = 250 * time.Millisecond
	for {
		var nf *a11y.ElementNotFound
		err := r.retry(ctx, s, func(ctx context.Context) error {
			snap, err := r.snapshot(ctx)
			if err != nil {
				return err
			}
			_, _, err = snap.Resolve(s.WaitFor)
			return err
		})
		if err == nil || !errors.As(err, &nf) {
			return err
		}
		if serr := sleep(ctx, poll); serr != nil {
			return fmt.Errorf("wait for %s: %w", s.WaitFor, serr)
		}
	}
}

func (r *run) screenshot(ctx context.Context, s suite.Step, name string) error {
	if filepath.Ext(name) == "" {
		name += ".png"
	}
	var data []byte
	err := r.retry(ctx, s, func(ctx context.Context) error {
		var err error
		data, err = r.e.Browser.Screenshot(ctx, name)
		return err
	})
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	dir := filepath.Join(r.e.Artifacts, slug(r.tc.Name))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create artifacts dir: %w", err)
	}
	path := filepath.Join(dir, filepath.Base(name))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write screenshot: %w", err)
	}
	r.artifacts = append(r.artifacts, path)
	return nil
}

func (r *run) failureScreenshot(ctx context.Context) {
	if err := r.screenshot(ctx, suite.Step{Name: "failure screenshot"}, "failure.png"); err != nil {
		r.logger.Warn("failure screenshot", "err", err)
	}
}

func (r *run) diagnose(err error, class results.Classification) *results.Diagnostic {
	d := &results.Diagnostic{
		Message:    results.Message(err),
		Location:   r.tc.Location(r.current),
		Suggestion: class.Suggestion,
	}
	var nf *a11y.ElementNotFound
	if errors.As(err, &nf) {
		d.NearMisses = nf.NearMisses
	}
	var ae *AssertionError
	if errors.As(err, &ae) {
		d.Expected = ae.Expected
		d.Actual = ae.Actual
	}
	return d
}

func joinURL(base, u string) string {
	if base == "" || !strings.HasPrefix(u, "/") {
		return u
	}
	return strings.TrimRight(base, "/") + u
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func slug(name string) string {
	var sb strings.Builder
	dash := false
	for _, c := range strings.ToLower(name) {
		if c >= 'a' && c <= 'z' || c >= '0' && c <= '9' {
			sb.WriteRune(c)
			dash = false
		} else if !dash && sb.Len() > 0 {
			sb.WriteByte('-')
			dash = true
		}
	}
	s := strings.TrimSuffix(sb.String(), "-")
	if s == "" {
		return "test"
	}
	return s
}
