package main

import (
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/softwarewrighter/ui-test/pkg/config"
)

// runFlags are applied over the config file and environment only when given
// on the command line.
type runFlags struct {
	concurrency         int
	timeout             time.Duration
	retries             int
	failFast            bool
	format              string
	output              string
	tags                []string
	filter              string
	browser             string
	headed              bool
	artifacts           string
	screenshotOnFailure bool
	metricsAddr         string
	trace               string
	server              string
}

func (f *runFlags) addFilterFlags(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringSliceVarP(&f.tags, "tag", "t", nil, "Run only tests carrying one of these tags (repeatable)")
	fs.StringVar(&f.filter, "filter", "", "Run only tests whose name matches (regular expression or substring)")
}

// addBrowserFlags registers the flags that shape the automation server.
func (f *runFlags) addBrowserFlags(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.browser, "browser", "chromium", "Browser: "+strings.Join(config.Browsers, ", "))
	fs.BoolVar(&f.headed, "headed", false, "Show the browser window")
	fs.StringVar(&f.artifacts, "artifacts", "ui-test-artifacts", "Directory for screenshots")
	fs.StringVar(&f.server, "server", "", `Automation server command line, e.g. "npx @playwright/mcp@latest"`)
}

func (f *runFlags) addRunFlags(cmd *cobra.Command) {
	f.addFilterFlags(cmd)
	f.addBrowserFlags(cmd)
	fs := cmd.Flags()
	fs.IntVarP(&f.concurrency, "concurrency", "j", 1, "Maximum tests in flight")
	fs.DurationVar(&f.timeout, "timeout", 30*time.Second, "Per-test timeout")
	fs.IntVar(&f.retries, "retries", 3, "Retries per action on transient failures (0 disables)")
	fs.BoolVar(&f.failFast, "fail-fast", false, "Skip remaining tests after the first failure")
	fs.StringVarP(&f.format, "format", "f", "text", "Report format: "+strings.Join(config.Formats, ", "))
	fs.StringVarP(&f.output, "output", "o", "", "Write the report to this file instead of stdout")
	fs.BoolVar(&f.screenshotOnFailure, "screenshot-on-failure", false, "Capture a screenshot when a test fails")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during the run")
	fs.StringVar(&f.trace, "trace", "", "Write a hash-chained JSONL trace of the run to this file")
}

// apply overrides cfg with every flag set on cmd's command line.
func (f *runFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	set := cmd.Flags().Changed
	if set("concurrency") {
		cfg.Concurrency = f.concurrency
	}
	if set("timeout") {
		cfg.Timeout = f.timeout
	}
	if set("retries") {
		cfg.Retries = f.retries
	}
	if set("fail-fast") {
		cfg.FailFast = f.failFast
	}
	if set("format") {
		cfg.Format = strings.TrimSpace(f.format)
	}
	if set("output") {
		cfg.Output = f.output
	}
	if set("tag") {
		cfg.Tags = f.tags
	}
	if set("filter") {
		cfg.Filter = f.filter
	}
	if set("browser") {
		cfg.Browser.Kind = f.browser
	}
	if set("headed") {
		cfg.Browser.Headless = !f.headed
	}
	if set("artifacts") {
		cfg.Artifacts = f.artifacts
	}
	if set("screenshot-on-failure") {
		cfg.ScreenshotOnFailure = f.screenshotOnFailure
	}
	if set("metrics-addr") {
		cfg.MetricsAddr = f.metricsAddr
	}
	if set("trace") {
		cfg.Trace = f.trace
	}
	if set("server") {
		if fields := strings.Fields(f.server); len(fields) > 0 {
			cfg.Server.Command = fields[0]
			cfg.Server.Args = fields[1:]
		}
	}
}
