// Package repl is an interactive shell for exploring a page: it shows the
// accessibility tree, resolves selectors, runs single steps and records the
// ones that pass into a test file.
package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"gopkg.in/yaml.v3"

	"github.com/softwarewrighter/ui-test/pkg/a11y"
	"github.com/softwarewrighter/ui-test/pkg/executor"
	"github.com/softwarewrighter/ui-test/pkg/results"
	"github.com/softwarewrighter/ui-test/pkg/suite"
)

// REPL drives one browser session interactively.
type REPL struct {
	exec    *executor.Executor
	output  io.Writer
	rl      *readline.Instance
	baseURL string
	history []suite.Step
}

// New creates a REPL over exec. Output goes to out, or stdout when nil.
func New(exec *executor.Executor, baseURL string, out io.Writer) *REPL {
	if out == nil {
		out = os.Stdout
	}
	return &REPL{exec: exec, output: out, baseURL: baseURL}
}

// History returns the steps that passed, in order.
func (r *REPL) History() []suite.Step {
	return r.history
}

var commands = []string{"goto", "click", "fill", "assert", "wait", "wait_for",
	"screenshot", "step", "snapshot", "resolve", "history", "save", "help", "quit"}

// Run reads commands until quit, EOF or interrupt.
func (r *REPL) Run(ctx context.Context) error {
	completer := readline.NewPrefixCompleter()
	for _, cmd := range commands {
		completer.Children = append(completer.Children, readline.PcItem(cmd))
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "ui-test> ",
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
		Stdout:          r.output,
	})
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	r.rl = rl
	defer rl.Close()

	fmt.Fprintf(r.output, "ui-test repl. Type 'help' for available commands.\n\n")

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				return nil
			}
			return err
		}
		if quit := r.Exec(ctx, line); quit {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// Exec runs one command line and reports whether the REPL should exit.
func (r *REPL) Exec(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "quit", "q", "exit":
		fmt.Fprintf(r.output, "Bye.\n")
		return true
	case "help", "?":
		r.handleHelp()
	case "snapshot", "tree":
		r.handleSnapshot(ctx)
	case "resolve":
		r.handleResolve(ctx, arg)
	case "history", "h":
		r.handleHistory()
	case "save":
		r.handleSave(arg)
	default:
		step, err := parseStep(cmd, arg)
		if err != nil {
			fmt.Fprintf(r.output, "Error: %v\n", err)
			return false
		}
		r.runStep(ctx, step)
	}
	return false
}

// parseStep turns a shorthand command or a "step" YAML mapping into a step.
func parseStep(cmd, arg string) (suite.Step, error) {
	var s suite.Step
	need := func(what string) error {
		if arg == "" {
			return fmt.Errorf("usage: %s %s", cmd, what)
		}
		return nil
	}

	switch cmd {
	case "goto", "navigate":
		if err := need("<url>"); err != nil {
			return s, err
		}
		s.Navigate = arg
	case "click":
		if err := need("<selector>"); err != nil {
			return s, err
		}
		s.Click = arg
	case "fill":
		sel, text, ok := strings.Cut(arg, "|")
		if !ok || strings.TrimSpace(sel) == "" {
			return s, fmt.Errorf("usage: fill <selector> | <text>")
		}
		s.Fill = &suite.Fill{Selector: strings.TrimSpace(sel), Text: strings.TrimSpace(text)}
	case "assert":
		if err := need("<selector>"); err != nil {
			return s, err
		}
		s.Assert = &suite.Assert{Selector: arg}
	case "wait":
		if err := need("<duration>"); err != nil {
			return s, err
		}
		s.Wait = arg
	case "wait_for":
		if err := need("<selector>"); err != nil {
			return s, err
		}
		s.WaitFor = arg
	case "screenshot":
		if err := need("<name>"); err != nil {
			return s, err
		}
		s.Screenshot = arg
	case "step":
		if err := need("<yaml mapping>"); err != nil {
			return s, err
		}
		if err := yaml.Unmarshal([]byte(arg), &s); err != nil {
			return s, fmt.Errorf("parse step: %w", err)
		}
	default:
		return s, fmt.Errorf("unknown command %q, type 'help' for available commands", cmd)
	}

	if errs := suite.ValidateSemantic(&suite.File{
		Tests: []suite.Test{{Name: "repl", Steps: []suite.Step{s}}},
	}); suite.HasErrors(errs) {
		for _, e := range errs {
			if e.Severity == "error" {
				return s, errors.New(e.Message)
			}
		}
	}
	return s, nil
}

func (r *REPL) runStep(ctx context.Context, s suite.Step) {
	tc := &suite.TestCase{Name: "repl", BaseURL: r.baseURL, Steps: []suite.Step{s}}
	res := r.exec.Run(ctx, tc)

	if res.Status == results.StatusPassed {
		r.history = append(r.history, s)
		fmt.Fprintf(r.output, "✓ %s (%s)\n", s.Describe(), res.Duration.Round(time.Millisecond))
		for _, a := range res.Artifacts {
			fmt.Fprintf(r.output, "  saved %s\n", a)
		}
		return
	}

	fmt.Fprintf(r.output, "✗ %s: %s\n", s.Describe(), res.Status)
	if d := res.Diagnostic; d != nil {
		fmt.Fprintf(r.output, "  %s\n", d.Message)
		if d.Expected != "" || d.Actual != "" {
			fmt.Fprintf(r.output, "  expected: %s\n  actual:   %s\n", d.Expected, d.Actual)
		}
		if len(d.NearMisses) > 0 {
			fmt.Fprintf(r.output, "  similar:  %s\n", strings.Join(d.NearMisses, ", "))
		}
		if d.Suggestion != "" {
			fmt.Fprintf(r.output, "  hint:     %s\n", d.Suggestion)
		}
	}
}

func (r *REPL) snapshot(ctx context.Context) (*a11y.Snapshot, error) {
	text, err := r.exec.Browser.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return a11y.ParseSnapshot(text)
}

func (r *REPL) handleSnapshot(ctx context.Context) {
	snap, err := r.snapshot(ctx)
	if err != nil {
		fmt.Fprintf(r.output, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(r.output, "%s  %s\n", snap.URL, snap.Title)
	fmt.Fprint(r.output, snap.Tree())
}

func (r *REPL) handleResolve(ctx context.Context, selector string) {
	if selector == "" {
		fmt.Fprintf(r.output, "Usage: resolve <selector>\n")
		return
	}
	snap, err := r.snapshot(ctx)
	if err != nil {
		fmt.Fprintf(r.output, "Error: %v\n", err)
		return
	}
	ref, n, err := snap.Resolve(selector)
	if err != nil {
		var nf *a11y.ElementNotFound
		if errors.As(err, &nf) {
			fmt.Fprintf(r.output, "No match for %s\n", selector)
			for _, m := range nf.NearMisses {
				fmt.Fprintf(r.output, "  similar: %s\n", m)
			}
			return
		}
		fmt.Fprintf(r.output, "Error: %v\n", err)
		return
	}
	sel, _ := a11y.ParseSelector(selector)
	matches := len(a11y.All(snap.Root, sel))
	fmt.Fprintf(r.output, "%s  %s\n", ref.Ref, n.String())
	if matches > 1 {
		fmt.Fprintf(r.output, "  %d matches, first in document order is used\n", matches)
	}
}

func (r *REPL) handleHistory() {
	if len(r.history) == 0 {
		fmt.Fprintf(r.output, "No steps yet.\n")
		return
	}
	for i, s := range r.history {
		fmt.Fprintf(r.output, "  %d. %s\n", i+1, s.Describe())
	}
}

func (r *REPL) handleSave(path string) {
	if path == "" {
		fmt.Fprintf(r.output, "Usage: save <file.test.yaml>\n")
		return
	}
	if len(r.history) == 0 {
		fmt.Fprintf(r.output, "Nothing to save.\n")
		return
	}
	if !suite.IsTestFile(path) {
		path += ".test.yaml"
	}
	if err := WriteTestFile(path, r.baseURL, r.history); err != nil {
		fmt.Fprintf(r.output, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(r.output, "Saved %d steps to %s\n", len(r.history), path)
}

// WriteTestFile writes steps as a single recorded test.
func WriteTestFile(path, baseURL string, steps []suite.Step) error {
	f := suite.File{
		BaseURL: baseURL,
		Tests:   []suite.Test{{Name: "recorded", Steps: steps}},
	}
	data, err := yaml.Marshal(&f)
	if err != nil {
		return fmt.Errorf("encode test file: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func (r *REPL) handleHelp() {
	fmt.Fprintf(r.output, `Steps (recorded when they pass):
  goto <url>                 Navigate (relative URLs use the base URL)
  click <selector>           Click an element
  fill <selector> | <text>   Type text into an element
  assert <selector>          Check that an element exists
  wait <duration>            Sleep, e.g. 500ms
  wait_for <selector>        Poll until an element appears
  screenshot <name>          Capture the viewport
  step <yaml>                Any step, e.g. step {assert: {selector: "role=heading", name: Welcome}}

Inspection:
  snapshot, tree             Print the accessibility tree
  resolve <selector>         Show which element a selector picks
  history, h                 List recorded steps
  save <file>                Write recorded steps as a test file

  help, ?                    Show this help
  quit, q                    Exit
`)
}
