package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/softwarewrighter/ui-test/pkg/results"
	"github.com/softwarewrighter/ui-test/pkg/trace"
)

func newTraceCmd() *cobra.Command {
	traceCmd := &cobra.Command{
		Use:   "trace",
		Short: "Trace file operations",
	}
	traceCmd.AddCommand(&cobra.Command{
		Use:   "verify [trace.jsonl]",
		Short: "Verify trace file integrity (hash chain)",
		Args:  cobra.ExactArgs(1),
		RunE:  runTraceVerify,
	})
	return traceCmd
}

func runTraceVerify(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	result, err := trace.VerifyFile(args[0])
	if err != nil {
		return &exitError{code: results.ExitRuntimeErr, err: err}
	}

	if !result.Valid {
		fmt.Fprintf(out, "✗ Chain broken at event %d\n", result.BrokenAt)
		if result.Error != "" {
			fmt.Fprintf(out, "  %s\n", result.Error)
		}
		return &exitError{code: results.ExitTestFailure, err: fmt.Errorf("chain verification failed")}
	}

	fmt.Fprintf(out, "✓ Chain integrity: %d events, no breaks\n", result.EventCount)
	if !result.Complete {
		fmt.Fprintf(out, "⚠ No run_complete event: the run did not finish\n")
	}
	return nil
}
