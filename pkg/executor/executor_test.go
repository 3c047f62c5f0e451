package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/softwarewrighter/ui-test/pkg/protocol"
	"github.com/softwarewrighter/ui-test/pkg/protocol/protocoltest"
	"github.com/softwarewrighter/ui-test/pkg/results"
	"github.com/softwarewrighter/ui-test/pkg/suite"
)

const (
	loginURL = "http://app.test/login"
	homeURL  = "http://app.test/home"
)

func pages() map[string]protocoltest.Page {
	return map[string]protocoltest.Page{
		loginURL: {
			Title: "Sign in",
			Snapshot: `- main [ref=e1]:
  - textbox "Email" [ref=e2]
  - textbox "Password" [ref=e3]
  - checkbox "Remember me" [ref=e4]
  - button "Sign in" [ref=e5]
  - button "Help" [disabled] [ref=e6]`,
			Links: map[string]string{"e5": homeURL},
		},
		homeURL: {
			Title: "Home",
			Snapshot: `- banner [ref=e1]:
  - heading "Welcome back" [level=1] [ref=e2]
- button "Log out" [ref=e3]`,
			Links: map[string]string{"e3": loginURL},
		},
	}
}

type fixture struct {
	browser *protocoltest.Browser
	server  *protocoltest.Server
	client  *protocol.Client
	exec    *Executor
}

// newFixture wires an executor to a fake browser. wrap, when set, intercepts
// every tool call before the browser sees it.
func newFixture(t *testing.T, wrap func(protocoltest.Request, protocoltest.Handler) protocoltest.Reply) *fixture {
	t.Helper()
	f := &fixture{browser: protocoltest.NewBrowser(pages())}
	handler := f.browser.Handle
	if wrap != nil {
		handler = func(req protocoltest.Request) protocoltest.Reply { return wrap(req, f.browser.Handle) }
	}
	f.server = protocoltest.NewServer(handler)
	f.client = protocol.New(f.server.ClientWriter(), f.server.ClientReader())
	f.exec = &Executor{
		Browser:       f.client,
		Timeout:       5 * time.Second,
		ActionTimeout: time.Second,
		CleanupGrace:  time.Second,
		Retries:       2,
		Backoff:       func() backoff.BackOff { return &backoff.ZeroBackOff{} },
		Artifacts:     t.TempDir(),
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		f.client.Close(ctx)
		f.server.Close()
	})
	return f
}

func (f *fixture) count(tool string) int {
	n := 0
	for _, c := range f.server.ToolCalls() {
		if c == tool {
			n++
		}
	}
	return n
}

func loginCase() *suite.TestCase {
	return &suite.TestCase{
		Name:    "user can sign in",
		File:    "login.test.yaml",
		Line:    3,
		BaseURL: "http://app.test",
		Steps: []suite.Step{
			{Navigate: "/login", Line: 5},
			{Fill: &suite.Fill{Selector: "label=Email", Text: "ada@example.com"}, Line: 6},
			{Fill: &suite.Fill{Selector: `role=textbox[name="Password"]`, Text: "hunter2"}, Line: 9},
			{Click: `role=button[name="Sign in"]`, Line: 12},
			{Assert: &suite.Assert{Selector: "role=heading[level=1]", Name: "Welcome back", URLContains: "/home"}, Line: 13},
			{Assert: &suite.Assert{Expr: `page.title == "Home" && page.nodes > 3`}, Line: 16},
		},
	}
}

func TestRun_Passes(t *testing.T) {
	f := newFixture(t, nil)

	res := f.exec.Run(context.Background(), loginCase())

	require.Equal(t, results.StatusPassed, res.Status, "diagnostic: %+v", res.Diagnostic)
	assert.Nil(t, res.Diagnostic)
	assert.False(t, res.Fatal)
	assert.Equal(t, 6, res.Attempts)
	assert.Equal(t, "user can sign in", res.Name)
	assert.Equal(t, "ada@example.com", f.browser.Typed("e2"))
	assert.Equal(t, "hunter2", f.browser.Typed("e3"))
	assert.Equal(t, []string{"e5"}, f.browser.Clicks())
	assert.Equal(t, homeURL, f.browser.URL())
}

func TestRun_SnapshotBeforeEveryAction(t *testing.T) {
	f := newFixture(t, nil)
	tc := &suite.TestCase{Name: "click", Steps: []suite.Step{
		{Navigate: loginURL},
		{Click: `role=button[name="Sign in"]`},
	}}

	res := f.exec.Run(context.Background(), tc)
	require.Equal(t, results.StatusPassed, res.Status)
	assert.Equal(t, []string{"browser_navigate", "browser_snapshot", "browser_click"}, f.server.ToolCalls())
}

func TestRun_ElementNotFoundIsNotRetried(t *testing.T) {
	f := newFixture(t, nil)
	tc := &suite.TestCase{Name: "missing", File: "a.test.yaml", Steps: []suite.Step{
		{Navigate: loginURL, Line: 4},
		{Click: `role=button[name="Register"]`, Line: 5},
	}}

	res := f.exec.Run(context.Background(), tc)

	assert.Equal(t, results.StatusFailed, res.Status)
	assert.Equal(t, results.KindNotFound, res.Kind)
	assert.Equal(t, 1, f.count("browser_snapshot"))
	assert.Equal(t, 0, f.count("browser_click"))
	require.NotNil(t, res.Diagnostic)
	assert.Contains(t, res.Diagnostic.Message, `role=button[name="Register"]`)
	assert.Equal(t, "a.test.yaml:5", res.Diagnostic.Location)
	assert.Contains(t, res.Diagnostic.Suggestion, "screenshot")
	assert.NotEmpty(t, res.Diagnostic.NearMisses)
}

func TestRun_AssertionFailure(t *testing.T) {
	f := newFixture(t, nil)
	tc := &suite.TestCase{Name: "heading", File: "h.test.yaml", Steps: []suite.Step{
		{Navigate: homeURL},
		{Assert: &suite.Assert{Selector: "h1", Name: "Goodbye"}, Line: 7},
	}}

	res := f.exec.Run(context.Background(), tc)

	assert.Equal(t, results.StatusFailed, res.Status)
	assert.Equal(t, results.KindAssertion, res.Kind)
	require.NotNil(t, res.Diagnostic)
	assert.Equal(t, "Goodbye", res.Diagnostic.Expected)
	assert.Equal(t, "Welcome back", res.Diagnostic.Actual)
	assert.Equal(t, "h.test.yaml:7", res.Diagnostic.Location)
}

func TestRun_Assertions(t *testing.T) {
	yes, no := true, false
	tests := []struct {
		name   string
		assert suite.Assert
		pass   bool
	}{
		{"checked false", suite.Assert{Selector: "role=checkbox", Checked: &no}, true},
		{"checked true", suite.Assert{Selector: "role=checkbox", Checked: &yes}, false},
		{"disabled", suite.Assert{Selector: `role=button[name="Help"]`, Disabled: &yes}, true},
		{"gone", suite.Assert{Selector: `role=button[name="Log out"]`, Gone: true}, true},
		{"not gone", suite.Assert{Selector: `role=button[name="Help"]`, Gone: true}, false},
		{"role", suite.Assert{Selector: "label=Email", Role: "textbox"}, true},
		{"text contains", suite.Assert{Selector: "main", TextContains: "Remember"}, true},
		{"title", suite.Assert{TitleContains: "Sign"}, true},
		{"url", suite.Assert{URLContains: "/home"}, false},
		{"expr on node", suite.Assert{Selector: `role=button[name="Help"]`, Expr: `node.disabled && node.ref == "e6"`}, true},
		{"expr false", suite.Assert{Expr: `page.url endsWith "/home"`}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			a := tt.assert
			res := f.exec.Run(context.Background(), &suite.TestCase{Name: tt.name, Steps: []suite.Step{
				{Navigate: loginURL},
				{Assert: &a},
			}})
			if tt.pass {
				assert.Equal(t, results.StatusPassed, res.Status, "diagnostic: %+v", res.Diagnostic)
			} else {
				assert.Equal(t, results.StatusFailed, res.Status)
				assert.Equal(t, results.KindAssertion, res.Kind)
			}
		})
	}
}

func TestRun_RetriesTransientTimeout(t *testing.T) {
	var clicks atomic.Int32
	f := newFixture(t, func(req protocoltest.Request, next protocoltest.Handler) protocoltest.Reply {
		if req.Tool == "browser_click" && clicks.Add(1) == 1 {
			return protocoltest.Reply{Drop: true}
		}
		return next(req)
	})
	f.exec.ActionTimeout = 100 * time.Millisecond

	res := f.exec.Run(context.Background(), &suite.TestCase{Name: "flaky", Steps: []suite.Step{
		{Navigate: loginURL},
		{Click: `role=button[name="Sign in"]`},
	}})

	require.Equal(t, results.StatusPassed, res.Status, "diagnostic: %+v", res.Diagnostic)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, int32(2), clicks.Load())
	// the retry resolves against a new snapshot before clicking again
	assert.Equal(t, []string{
		"browser_navigate",
		"browser_snapshot", "browser_click",
		"browser_snapshot", "browser_click",
	}, f.server.ToolCalls())
}

func TestRun_RetryWaitsIncrease(t *testing.T) {
	var clickTimes []time.Time
	var mu sync.Mutex
	f := newFixture(t, func(req protocoltest.Request, next protocoltest.Handler) protocoltest.Reply {
		if req.Tool == "browser_click" {
			mu.Lock()
			clickTimes = append(clickTimes, time.Now())
			mu.Unlock()
			return protocoltest.Reply{Drop: true}
		}
		return next(req)
	})
	f.exec.ActionTimeout = 20 * time.Millisecond
	f.exec.Retries = 3
	f.exec.Backoff = func() backoff.BackOff {
		b := &backoff.ExponentialBackOff{
			InitialInterval: 10 * time.Millisecond,
			Multiplier:      2,
			MaxInterval:     time.Second,
			Stop:            backoff.Stop,
			Clock:           backoff.SystemClock,
		}
		b.Reset()
		return b
	}
	var waits []time.Duration
	f.exec.OnRetry = func(_ *suite.TestCase, s suite.Step, err error, wait time.Duration) {
		assert.ErrorIs(t, err, protocol.ErrTimeout)
		assert.Equal(t, suite.KindClick, s.Kind())
		waits = append(waits, wait)
	}

	res := f.exec.Run(context.Background(), &suite.TestCase{Name: "stuck", Steps: []suite.Step{
		{Navigate: loginURL},
		{Click: `role=button[name="Sign in"]`},
	}})

	assert.Equal(t, results.StatusError, res.Status)
	assert.Equal(t, results.KindTimeout, res.Kind)
	require.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond}, waits)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, clickTimes, 4)
	for i := 1; i < len(clickTimes); i++ {
		gap := clickTimes[i].Sub(clickTimes[i-1])
		assert.GreaterOrEqual(t, gap, waits[i-1], "attempt %d came before its backoff elapsed", i+1)
	}
}

func TestRun_ExhaustedRetriesIsTimeoutError(t *testing.T) {
	f := newFixture(t, func(req protocoltest.Request, next protocoltest.Handler) protocoltest.Reply {
		if req.Tool == "browser_click" {
			return protocoltest.Reply{Drop: true}
		}
		return next(req)
	})
	f.exec.ActionTimeout = 50 * time.Millisecond

	res := f.exec.Run(context.Background(), &suite.TestCase{Name: "stuck", Steps: []suite.Step{
		{Navigate: loginURL},
		{Click: `role=button[name="Sign in"]`},
	}})

	assert.Equal(t, results.StatusError, res.Status)
	assert.Equal(t, results.KindTimeout, res.Kind)
	assert.False(t, res.Fatal)
	assert.Equal(t, 3, f.count("browser_click"), "one attempt plus two retries")
}

func TestRun_ConnectionClosedIsFatal(t *testing.T) {
	var f *fixture
	f = newFixture(t, func(req protocoltest.Request, next protocoltest.Handler) protocoltest.Reply {
		if req.Tool == "browser_click" {
			f.server.Crash()
			return protocoltest.Reply{Drop: true}
		}
		return next(req)
	})

	res := f.exec.Run(context.Background(), &suite.TestCase{Name: "crash", Steps: []suite.Step{
		{Navigate: loginURL},
		{Click: `role=button[name="Sign in"]`},
	}})

	assert.Equal(t, results.StatusError, res.Status)
	assert.Equal(t, results.KindProtocol, res.Kind)
	assert.True(t, res.Fatal)
	assert.Equal(t, 1, f.count("browser_click"), "a closed connection is not retried")
}

func TestRun_TimeoutStillRunsCleanup(t *testing.T) {
	f := newFixture(t, nil)
	f.exec.Timeout = 100 * time.Millisecond
	tc := &suite.TestCase{
		Name:    "slow",
		Setup:   []suite.Step{{Navigate: loginURL}},
		Steps:   []suite.Step{{Wait: "5s"}},
		Cleanup: []suite.Step{{Navigate: homeURL}},
	}

	start := time.Now()
	res := f.exec.Run(context.Background(), tc)

	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Equal(t, results.StatusError, res.Status)
	assert.Equal(t, results.KindTimeout, res.Kind)
	require.NotNil(t, res.Diagnostic)
	assert.Contains(t, res.Diagnostic.Message, "timed out after 100ms")
	assert.Equal(t, homeURL, f.browser.URL(), "cleanup must run after the timeout")
}

func TestRun_CleanupAfterFailureAndCancel(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := f.exec.Run(ctx, &suite.TestCase{
		Name:    "cancelled",
		Steps:   []suite.Step{{Navigate: loginURL}},
		Cleanup: []suite.Step{{Navigate: homeURL}},
	})

	assert.Equal(t, results.StatusError, res.Status)
	assert.Equal(t, homeURL, f.browser.URL())
}

func TestRun_SetupFailureSkipsSteps(t *testing.T) {
	f := newFixture(t, nil)
	res := f.exec.Run(context.Background(), &suite.TestCase{
		Name:  "bad setup",
		Setup: []suite.Step{{Navigate: "http://nowhere.test/"}},
		Steps: []suite.Step{{Click: "button"}},
	})

	assert.Equal(t, results.StatusError, res.Status)
	assert.Equal(t, results.KindProtocol, res.Kind)
	require.NotNil(t, res.Diagnostic)
	assert.Contains(t, res.Diagnostic.Message, "setup")
	assert.Contains(t, res.Diagnostic.Message, "ERR_NAME_NOT_RESOLVED")
	assert.Equal(t, 0, f.count("browser_click"))
}

func TestRun_ScreenshotArtifacts(t *testing.T) {
	f := newFixture(t, nil)
	f.exec.ScreenshotOnFailure = true

	res := f.exec.Run(context.Background(), &suite.TestCase{Name: "Shots & Failure", Steps: []suite.Step{
		{Navigate: loginURL},
		{Screenshot: "login"},
		{Click: "role=link"},
	}})

	assert.Equal(t, results.StatusFailed, res.Status)
	require.Len(t, res.Artifacts, 2)
	assert.Equal(t, filepath.Join(f.exec.Artifacts, "shots-failure", "login.png"), res.Artifacts[0])
	assert.Equal(t, filepath.Join(f.exec.Artifacts, "shots-failure", "failure.png"), res.Artifacts[1])
	for _, p := range res.Artifacts {
		data, err := os.ReadFile(p)
		require.NoError(t, err)
		assert.Equal(t, protocoltest.PNG, data)
	}
}

func TestRun_WaitFor(t *testing.T) {
	f := newFixture(t, nil)
	res := f.exec.Run(context.Background(), &suite.TestCase{Name: "wait", Steps: []suite.Step{
		{Navigate: loginURL},
		{WaitFor: "role=checkbox"},
	}})
	assert.Equal(t, results.StatusPassed, res.Status)

	f.exec.Timeout = 300 * time.Millisecond
	res = f.exec.Run(context.Background(), &suite.TestCase{Name: "never", Steps: []suite.Step{
		{WaitFor: "role=dialog"},
	}})
	assert.Equal(t, results.StatusError, res.Status)
	assert.Equal(t, results.KindTimeout, res.Kind)
	assert.Greater(t, f.count("browser_snapshot"), 2)
}

func TestRun_SkippedCase(t *testing.T) {
	f := newFixture(t, nil)
	res := f.exec.Run(context.Background(), &suite.TestCase{Name: "later", Skip: "flaky on CI", Steps: []suite.Step{{Navigate: loginURL}}})
	assert.Equal(t, results.StatusSkipped, res.Status)
	assert.Empty(t, f.server.ToolCalls())
}

func TestRun_ConcurrentCasesShareExecutor(t *testing.T) {
	f := newFixture(t, nil)
	done := make(chan results.TestResult, 4)
	for i := 0; i < 4; i++ {
		go func(i int) {
			done <- f.exec.Run(context.Background(), &suite.TestCase{Index: i, Name: "snap", Steps: []suite.Step{
				{Assert: &suite.Assert{TitleContains: ""}},
			}})
		}(i)
	}
	seen := map[int]bool{}
	for i := 0; i < 4; i++ {
		r := <-done
		assert.Equal(t, results.StatusPassed, r.Status)
		seen[r.Index] = true
	}
	assert.Len(t, seen, 4)
}

func TestDefaultBackOff(t *testing.T) {
	b := DefaultBackOff()
	assert.Equal(t, 2*time.Second, b.NextBackOff())
	assert.Equal(t, 4*time.Second, b.NextBackOff())
	assert.Equal(t, 8*time.Second, b.NextBackOff())

	capped := backoff.WithMaxRetries(DefaultBackOff(), 3)
	for i := 0; i < 3; i++ {
		assert.NotEqual(t, backoff.Stop, capped.NextBackOff())
	}
	assert.Equal(t, backoff.Stop, capped.NextBackOff())
}

func TestErrors(t *testing.T) {
	te := &TimeoutError{After: time.Second, Step: "click x", Err: errors.New("boom")}
	assert.ErrorIs(t, te, context.DeadlineExceeded)
	assert.Equal(t, results.KindTimeout, results.Classify(te).Kind)
	assert.Equal(t, results.SuggestTimeout, results.Classify(te).Suggestion)

	ae := &AssertionError{Check: "url_contains", Expected: "/a", Actual: "/b"}
	assert.Contains(t, ae.Error(), "page")
	c := results.Classify(ae)
	assert.Equal(t, results.StatusFailed, c.Status)
	assert.Equal(t, results.KindAssertion, c.Kind)
}

func TestJoinURLAndSlug(t *testing.T) {
	assert.Equal(t, "http://a/b", joinURL("http://a/", "/b"))
	assert.Equal(t, "http://x/y", joinURL("http://a", "http://x/y"))
	assert.Equal(t, "/b", joinURL("", "/b"))
	assert.Equal(t, "user-can-sign-in", slug("User can sign in!"))
	assert.Equal(t, "test", slug("***"))
}
