package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/softwarewrighter/ui-test/pkg/engine"
	"github.com/softwarewrighter/ui-test/pkg/executor"
	"github.com/softwarewrighter/ui-test/pkg/repl"
	"github.com/softwarewrighter/ui-test/pkg/results"
)

func (o *options) newREPLCmd() *cobra.Command {
	var baseURL string
	cmd := &cobra.Command{
		Use:   "repl [url]",
		Short: "Explore a page interactively and record steps into a test file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.loadConfig(cmd)
			if err != nil {
				return &exitError{code: results.ExitRuntimeErr, err: err}
			}
			logger := newLogger(cmd.ErrOrStderr(), cfg)
			ctx := cmd.Context()

			sess, err := engine.NewProcessConnector(cfg, logger, version).Connect(ctx)
			if err != nil {
				return &exitError{code: results.ExitRuntimeErr, err: err}
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				defer cancel()
				sess.Close(closeCtx)
			}()
			if err := sess.Client.Resize(ctx, cfg.Browser.Width, cfg.Browser.Height); err != nil {
				logger.Warn("could not set viewport", "err", err)
			}

			retries := cfg.Retries
			if retries == 0 {
				retries = -1
			}
			exec := &executor.Executor{
				Browser:       sess.Client,
				Timeout:       cfg.Timeout,
				ActionTimeout: cfg.ActionTimeout,
				CleanupGrace:  cfg.CleanupGrace,
				Retries:       retries,
				Logger:        logger.With("component", "executor"),
				Artifacts:     cfg.Artifacts,
			}
			r := repl.New(exec, baseURL, cmd.OutOrStdout())
			if len(args) == 1 {
				r.Exec(ctx, "goto "+args[0])
			}
			return r.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Prefix for relative goto URLs and saved files")
	o.run.addBrowserFlags(cmd)
	return cmd
}
