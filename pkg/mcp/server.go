// Package mcp exposes ui-test to agents as an MCP server over stdio.
package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewServer creates an MCP server with the ui-test tools registered. r runs
// suites for the run tool.
func NewServer(version string, r *Runner) *server.MCPServer {
	s := server.NewMCPServer(
		"ui-test",
		version,
		server.WithToolCapabilities(true),
	)

	s.AddTool(
		mcp.NewTool("ui-test/validate",
			mcp.WithDescription("Validate a ui-test test file (*.test.yaml)"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the test file")),
		),
		HandleValidate,
	)

	s.AddTool(
		mcp.NewTool("ui-test/list",
			mcp.WithDescription("List the test cases found under a path"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Test file or directory")),
			mcp.WithString("filter", mcp.Description("Name filter: regular expression or substring")),
			mcp.WithString("tags", mcp.Description("Comma-separated tags; a case needs one of them")),
		),
		HandleList,
	)

	s.AddTool(
		mcp.NewTool("ui-test/run",
			mcp.WithDescription("Run ui-test test files against a browser and return the JSON report"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Test file or directory")),
			mcp.WithString("filter", mcp.Description("Name filter: regular expression or substring")),
			mcp.WithString("tags", mcp.Description("Comma-separated tags; a case needs one of them")),
			mcp.WithNumber("concurrency", mcp.Description("Maximum tests in flight")),
		),
		r.HandleRun,
	)

	s.AddTool(
		mcp.NewTool("ui-test/resolve",
			mcp.WithDescription("Resolve a selector against an accessibility snapshot"),
			mcp.WithString("snapshot", mcp.Required(), mcp.Description("Snapshot text as returned by browser_snapshot")),
			mcp.WithString("selector", mcp.Required(), mcp.Description("role=, text=, label= or CSS-like selector")),
		),
		HandleResolve,
	)

	s.AddTool(
		mcp.NewTool("ui-test/schema",
			mcp.WithDescription("Export the JSON Schema for test files"),
		),
		HandleSchema,
	)

	return s
}
