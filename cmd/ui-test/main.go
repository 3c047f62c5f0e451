package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/softwarewrighter/ui-test/pkg/config"
	"github.com/softwarewrighter/ui-test/pkg/engine"
	"github.com/softwarewrighter/ui-test/pkg/report"
	"github.com/softwarewrighter/ui-test/pkg/results"
	"github.com/softwarewrighter/ui-test/pkg/suite"
)

// Build metadata, set at build time via ldflags, e.g.
//
//	-X main.version=0.3.0 -X main.commit=$(git rev-parse --short HEAD)
//	-X main.buildHost=$(hostname) -X main.buildTime=$(date -Iseconds)
var (
	version   = "dev"
	commit    = "unknown"
	buildHost = "unknown"
	buildTime = "unknown"
)

func versionString() string {
	return fmt.Sprintf("%s (build: %s, host: %s, time: %s)", version, commit, buildHost, buildTime)
}

const agentInstructions = `
AI CODING AGENT INSTRUCTIONS:

This tool runs YAML UI tests against a browser driven by a Playwright MCP server.

USAGE FOR AI AGENTS:
  1. Basic test execution:
     $ ui-test tests/
     Exit code 0 = all passed, 1 = failures, 2 = error

  2. Verbose output for debugging:
     $ ui-test -v tests/login.test.yaml

  3. JSON output for parsing:
     $ ui-test --format json tests/ > results.json

  4. Dry-run to preview:
     $ ui-test --dry-run tests/

  5. Explore a page and record steps:
     $ ui-test repl http://localhost:3000

INTEGRATION:
  - Use in CI/CD with --format junit for test reporting
  - Combine --filter and --tag for subset testing
  - Use --concurrency for parallel execution
  - Run "ui-test mcp" to serve validate, list, run and resolve as MCP tools
  - Run "ui-test guide" for the test file format

EXIT CODES:
  0 - All tests passed
  1 - Some tests failed
  2 - Error (config error, discovery error, server spawn or connection failure)
`

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs the command line and returns the process exit code.
func execute(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return results.ExitSuccess
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", ee.err)
		}
		return ee.code
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return results.ExitRuntimeErr
}

// options holds the flag values of one command tree.
type options struct {
	config  string
	verbose bool
	quiet   bool
	noColor bool
	dryRun  bool
	run     runFlags
}

func newRootCmd() *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:   "ui-test [paths...]",
		Short: "Run YAML-described browser tests through an automation server",
		Long: `ui-test runs *.test.yaml files against a real browser driven by an MCP
automation server (Playwright MCP by default). Elements are addressed by
role, accessible name and text rather than by CSS structure.`,
		Version:       versionString(),
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ArbitraryArgs,
		RunE:          o.runTests,
	}
	root.SetVersionTemplate("{{.Name}} {{.Version}}\n")
	root.SetHelpTemplate(root.HelpTemplate() + `{{if not .HasParent}}` + agentInstructions + `{{end}}`)
	// -v is taken by --verbose.
	root.Flags().BoolP("version", "V", false, "Print version information")

	pf := root.PersistentFlags()
	pf.StringVarP(&o.config, "config", "c", "", "Config file (default: ./"+config.FileName+" when present)")
	pf.BoolVarP(&o.verbose, "verbose", "v", false, "Debug logging and per-test details")
	pf.BoolVarP(&o.quiet, "quiet", "q", false, "Log errors only")
	pf.BoolVar(&o.noColor, "no-color", false, "Disable colored output")
	root.MarkFlagsMutuallyExclusive("verbose", "quiet")

	runCmd := &cobra.Command{
		Use:   "run [paths...]",
		Short: "Run test files (the default command)",
		Args:  cobra.ArbitraryArgs,
		RunE:  o.runTests,
	}
	for _, cmd := range []*cobra.Command{root, runCmd} {
		o.run.addRunFlags(cmd)
		cmd.Flags().BoolVarP(&o.dryRun, "dry-run", "n", false, "Print the plan without starting a browser")
	}

	listCmd := &cobra.Command{
		Use:   "list [paths...]",
		Short: "List the test cases that would run",
		Args:  cobra.ArbitraryArgs,
		RunE:  o.runList,
	}
	o.run.addFilterFlags(listCmd)

	root.AddCommand(runCmd)
	root.AddCommand(listCmd)
	root.AddCommand(newValidateCmd())
	root.AddCommand(newSchemaCmd())
	root.AddCommand(o.newREPLCmd())
	root.AddCommand(o.newMCPCmd())
	root.AddCommand(newGuideCmd())
	root.AddCommand(newTraceCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// loadConfig resolves the configuration and applies command-line flags.
func (o *options) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(o.config)
	if err != nil {
		return nil, err
	}
	o.run.apply(cmd, &cfg)
	switch {
	case o.verbose:
		cfg.LogLevel = "debug"
	case o.quiet:
		cfg.LogLevel = "error"
	}
	if o.noColor {
		cfg.Color = false
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// newLogger writes leveled logs to w, keeping stdout for reports.
func newLogger(w io.Writer, cfg *config.Config) *log.Logger {
	logger := log.NewWithOptions(w, log.Options{
		Prefix:          "ui-test",
		ReportTimestamp: cfg.LogLevel == "debug",
	})
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = log.WarnLevel
	}
	logger.SetLevel(level)
	return logger
}

// loadCases discovers, validates and flattens the test files under paths.
func loadCases(cmd *cobra.Command, paths []string, cfg *config.Config) ([]*suite.TestCase, error) {
	if len(paths) == 0 {
		paths = []string{"."}
	}
	names, err := suite.Discover(paths...)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no test files (*.test.yaml) found in %s", strings.Join(paths, ", "))
	}

	var files []*suite.File
	failed := 0
	for _, name := range names {
		f, errs := suite.ValidateFile(name)
		printValidation(cmd.ErrOrStderr(), name, errs)
		if suite.HasErrors(errs) {
			failed++
			continue
		}
		files = append(files, f)
	}
	if failed > 0 {
		return nil, fmt.Errorf("%d of %d test files are invalid", failed, len(names))
	}
	return suite.Cases(files, suite.Filter{Name: cfg.Filter, Tags: cfg.Tags})
}

// --- run ---

func (o *options) runTests(cmd *cobra.Command, args []string) error {
	cfg, err := o.loadConfig(cmd)
	if err != nil {
		return &exitError{code: results.ExitRuntimeErr, err: err}
	}
	logger := newLogger(cmd.ErrOrStderr(), cfg)

	cases, err := loadCases(cmd, args, cfg)
	if err != nil {
		return &exitError{code: results.ExitRuntimeErr, err: err}
	}

	if o.dryRun {
		if err := engine.WritePlan(cmd.OutOrStdout(), cases, cfg); err != nil {
			return &exitError{code: results.ExitRuntimeErr, err: err}
		}
		return nil
	}

	out := cmd.OutOrStdout()
	if cfg.Output != "" {
		f, err := os.Create(cfg.Output)
		if err != nil {
			return &exitError{code: results.ExitRuntimeErr, err: fmt.Errorf("create report file: %w", err)}
		}
		defer f.Close()
		out = f
	}

	runID := uuid.NewString()
	rep, err := report.New(cfg.Format, out, report.Options{
		RunID:   runID,
		Color:   cfg.Color && cfg.Output == "",
		Verbose: o.verbose,
	})
	if err != nil {
		return &exitError{code: results.ExitRuntimeErr, err: err}
	}

	e := &engine.Engine{Logger: logger, Version: version, RunID: runID}
	outcome, err := e.Run(cmd.Context(), cases, cfg, rep)
	if err != nil {
		return &exitError{code: outcome.ExitCode, err: err}
	}
	if cmd.Context().Err() != nil {
		logger.Warn("run interrupted")
	}
	if outcome.ExitCode != results.ExitSuccess {
		return &exitError{code: outcome.ExitCode}
	}
	return nil
}

// --- list ---

func (o *options) runList(cmd *cobra.Command, args []string) error {
	cfg, err := o.loadConfig(cmd)
	if err != nil {
		return &exitError{code: results.ExitRuntimeErr, err: err}
	}
	cases, err := loadCases(cmd, args, cfg)
	if err != nil {
		return &exitError{code: results.ExitRuntimeErr, err: err}
	}
	return engine.WriteList(cmd.OutOrStdout(), cases)
}

// --- validate ---

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [paths...]",
		Short: "Validate test files against the schema",
		Args:  cobra.ArbitraryArgs,
		RunE:  runValidate,
	}
}

func runValidate(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		args = []string{"."}
	}
	names, err := suite.Discover(args...)
	if err != nil {
		return &exitError{code: results.ExitRuntimeErr, err: err}
	}
	if len(names) == 0 {
		return &exitError{code: results.ExitRuntimeErr, err: fmt.Errorf("no test files (*.test.yaml) found in %s", strings.Join(args, ", "))}
	}

	failed := 0
	for _, name := range names {
		f, errs := suite.ValidateFile(name)
		printValidation(cmd.ErrOrStderr(), name, errs)
		if suite.HasErrors(errs) {
			failed++
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ %s is valid (%d tests)\n", name, len(f.Tests))
	}
	if failed > 0 {
		return &exitError{code: results.ExitTestFailure, err: fmt.Errorf("%d of %d test files are invalid", failed, len(names))}
	}
	return nil
}

// printValidation writes warnings, then errors, for one file.
func printValidation(w io.Writer, name string, errs []*suite.ValidationError) {
	if len(errs) == 0 {
		return
	}
	var errors, warnings []*suite.ValidationError
	for _, e := range errs {
		if e.Severity == "warning" {
			warnings = append(warnings, e)
		} else {
			errors = append(errors, e)
		}
	}
	for _, e := range warnings {
		fmt.Fprintf(w, "  ⚠ [%s] %s\n", e.Phase, e.Message)
		fmt.Fprintf(w, "    at: %s\n", location(name, e))
	}
	if len(errors) > 0 {
		fmt.Fprintf(w, "%s: validation failed: %d error(s)\n\n", name, len(errors))
		for i, e := range errors {
			fmt.Fprintf(w, "  %d. [%s] %s\n", i+1, e.Phase, e.Message)
			fmt.Fprintf(w, "     at: %s\n", location(name, e))
		}
		fmt.Fprintln(w)
	}
}

func location(name string, e *suite.ValidationError) string {
	loc := name
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:%d", name, e.Line)
	}
	if e.Path != "" {
		loc += " (" + e.Path + ")"
	}
	return loc
}

// --- schema ---

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema for test files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := suite.GenerateJSONSchema()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

// --- version ---

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ui-test %s\n", versionString())
		},
	}
}
