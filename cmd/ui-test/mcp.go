package main

import (
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	uimcp "github.com/softwarewrighter/ui-test/pkg/mcp"
	"github.com/softwarewrighter/ui-test/pkg/results"
)

func (o *options) newMCPCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve ui-test tools to agents over MCP (stdio)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.loadConfig(cmd)
			if err != nil {
				return &exitError{code: results.ExitRuntimeErr, err: err}
			}
			runner := &uimcp.Runner{
				Config:  *cfg,
				Logger:  newLogger(cmd.ErrOrStderr(), cfg),
				Version: version,
			}
			return server.ServeStdio(uimcp.NewServer(version, runner))
		},
	}
	o.run.addBrowserFlags(cmd)
	return cmd
}
