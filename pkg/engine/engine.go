// Package engine ties a run together: it starts the automation server,
// schedules test cases through the executor, and feeds every result to the
// aggregator, metrics, trace and reporter.
package engine

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/softwarewrighter/ui-test/pkg/config"
	"github.com/softwarewrighter/ui-test/pkg/executor"
	"github.com/softwarewrighter/ui-test/pkg/metrics"
	"github.com/softwarewrighter/ui-test/pkg/report"
	"github.com/softwarewrighter/ui-test/pkg/results"
	"github.com/softwarewrighter/ui-test/pkg/scheduler"
	"github.com/softwarewrighter/ui-test/pkg/suite"
	"github.com/softwarewrighter/ui-test/pkg/trace"
)

// closeTimeout bounds the final client close and server shutdown.
const closeTimeout = 5 * time.Second

// Engine runs test cases against one automation server. Engines share no
// state, so several may run side by side.
type Engine struct {
	// Connector starts the server. Nil launches cfg.Server as a process.
	Connector Connector
	Logger    *log.Logger
	Version   string
	// RunID names the run in reports, metrics and the trace. Empty
	// generates one.
	RunID string
}

// Outcome is what a finished run produced.
type Outcome struct {
	RunID    string
	Stats    results.RunStats
	Results  []results.TestResult
	ExitCode int
	// Fatal lists run-level failures such as a server that never started.
	Fatal   []string
	Metrics *metrics.Recorder
}

func (e *Engine) logger() *log.Logger {
	if e.Logger == nil {
		return log.New(io.Discard)
	}
	return e.Logger
}

// Run executes cases under cfg and reports to rep. It returns an error only
// when the run could not start; the Outcome is always set and carries the
// exit code. Results are indexed by position in cases. The server is shut
// down before Run returns.
func (e *Engine) Run(ctx context.Context, cases []*suite.TestCase, cfg *config.Config, rep report.Reporter) (*Outcome, error) {
	start := time.Now()
	logger := e.logger().With("component", "engine")

	runID := e.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	rec := metrics.New(runID)
	out := &Outcome{RunID: runID, Metrics: rec}

	tw, err := openTrace(cfg.Trace, runID)
	if err != nil {
		out.ExitCode = results.ExitRuntimeErr
		out.Fatal = []string{err.Error()}
		return out, err
	}
	defer tw.Close()

	agg := results.NewAggregator(
		results.WithRecorder(rec),
		results.WithOrdered(func(r results.TestResult) {
			rep.Result(r)
			if err := tw.EmitTestComplete(r); err != nil {
				logger.Warn("trace write failed", "err", err)
			}
		}),
	)

	if len(cases) == 0 {
		logger.Info("no test cases to run")
		rep.Start(0)
		return e.finish(out, agg, rec, tw, rep, start)
	}

	if cfg.MetricsAddr != "" {
		metricsCtx, stopMetrics := context.WithCancel(ctx)
		defer stopMetrics()
		go func() {
			if err := rec.Serve(metricsCtx, cfg.MetricsAddr, logger); err != nil {
				logger.Warn("metrics endpoint failed", "addr", cfg.MetricsAddr, "err", err)
			}
		}()
	}

	connector := e.Connector
	if connector == nil {
		pc := NewProcessConnector(cfg, e.Logger, e.Version)
		if err := tw.EmitServerStart(pc.Spec.Command, pc.Spec.Args); err != nil {
			logger.Warn("trace write failed", "err", err)
		}
		connector = pc
	}
	sess, err := connector.Connect(ctx)
	if err != nil {
		logger.Error("automation server unavailable", "err", err)
		agg.MarkFatal(err.Error())
		e.settle(out, agg, rec, tw, start)
		return out, fmt.Errorf("start automation server: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		if err := sess.Close(closeCtx); err != nil {
			logger.Debug("server shutdown", "err", err)
		}
	}()

	if cfg.Browser.Width > 0 && cfg.Browser.Height > 0 {
		if err := sess.Client.Resize(ctx, cfg.Browser.Width, cfg.Browser.Height); err != nil {
			logger.Warn("could not set viewport", "width", cfg.Browser.Width, "height", cfg.Browser.Height, "err", err)
		}
	}

	exec := &executor.Executor{
		Browser:             sess.Client,
		Timeout:             cfg.Timeout,
		ActionTimeout:       cfg.ActionTimeout,
		CleanupGrace:        cfg.CleanupGrace,
		Retries:             retries(cfg.Retries),
		Logger:              e.logger().With("component", "executor"),
		Artifacts:           cfg.Artifacts,
		ScreenshotOnFailure: cfg.ScreenshotOnFailure,
	}
	sched := &scheduler.Scheduler{
		Concurrency: cfg.Concurrency,
		FailFast:    cfg.FailFast,
		Logger:      e.logger().With("component", "scheduler"),
		OnStart: func(pos int, tc *suite.TestCase) {
			if err := tw.EmitTestStart(pos, tc.Name); err != nil {
				logger.Warn("trace write failed", "err", err)
			}
		},
	}
	rec.WatchPermits(
		func() int64 { return sched.Stats().Held },
		func() int64 { return sched.Stats().Peak },
	)

	if err := tw.EmitRunStart(len(cases), cfg.Concurrency, cfg.FailFast); err != nil {
		logger.Warn("trace write failed", "err", err)
	}
	rep.Start(len(cases))
	logger.Debug("run started", "run_id", runID, "cases", len(cases), "concurrency", cfg.Concurrency)
	sched.Run(ctx, cases, exec, agg.Add)

	return e.finish(out, agg, rec, tw, rep, start)
}

// retries maps the config's retry count onto the executor's, where zero
// means the default and negative disables.
func retries(n int) int {
	if n == 0 {
		return -1
	}
	return n
}

func (e *Engine) finish(out *Outcome, agg *results.Aggregator, rec *metrics.Recorder, tw *trace.Writer, rep report.Reporter, start time.Time) (*Outcome, error) {
	e.settle(out, agg, rec, tw, start)
	if err := rep.Finish(out.Stats, out.Results); err != nil {
		return out, fmt.Errorf("write report: %w", err)
	}
	return out, nil
}

// settle folds the aggregator into out and records the run summary.
func (e *Engine) settle(out *Outcome, agg *results.Aggregator, rec *metrics.Recorder, tw *trace.Writer, start time.Time) {
	out.Stats = agg.Finalize(time.Since(start))
	out.Results = agg.Results()
	out.Fatal = agg.FatalReasons()
	out.ExitCode = results.ExitCode(out.Stats, agg.Fatal())
	rec.RecordRun(out.Stats)
	if err := tw.EmitRunComplete(out.Stats, out.ExitCode); err != nil {
		e.logger().Warn("trace write failed", "err", err)
	}
	e.logger().Debug("run finished",
		"run_id", out.RunID,
		"passed", out.Stats.Passed,
		"failed", out.Stats.Failed,
		"skipped", out.Stats.Skipped,
		"error", out.Stats.Error,
		"exit", out.ExitCode)
}

func openTrace(path, runID string) (*trace.Writer, error) {
	if path == "" {
		return nil, nil
	}
	tw, err := trace.NewFileWriter(path, runID)
	if err != nil {
		return nil, err
	}
	return tw, nil
}
