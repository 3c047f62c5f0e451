package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/softwarewrighter/ui-test/pkg/a11y"
	"github.com/softwarewrighter/ui-test/pkg/config"
	"github.com/softwarewrighter/ui-test/pkg/engine"
	"github.com/softwarewrighter/ui-test/pkg/report"
	"github.com/softwarewrighter/ui-test/pkg/suite"
)

// HandleValidate implements the ui-test/validate MCP tool.
func HandleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	path, _ := args["path"].(string)
	if path == "" {
		return errorResult("path argument is required"), nil
	}

	f, errs := suite.ValidateFile(path)
	if suite.HasErrors(errs) {
		return errorResult(formatErrors(errs)), nil
	}
	msg := fmt.Sprintf("✓ %s is valid (%d tests)", path, len(f.Tests))
	for _, e := range errs {
		msg += "\n⚠ " + e.Error()
	}
	return textResult(msg), nil
}

// HandleSchema implements the ui-test/schema MCP tool.
func HandleSchema(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := suite.GenerateJSONSchema()
	if err != nil {
		return errorResult(fmt.Sprintf("generate schema: %s", err)), nil
	}
	return textResult(string(data)), nil
}

type listedCase struct {
	Index int      `json:"index"`
	Name  string   `json:"name"`
	File  string   `json:"file"`
	Line  int      `json:"line,omitempty"`
	Tags  []string `json:"tags,omitempty"`
	Skip  string   `json:"skip,omitempty"`
	Steps int      `json:"steps"`
}

// HandleList implements the ui-test/list MCP tool.
func HandleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cases, res := loadCases(req.GetArguments())
	if res != nil {
		return res, nil
	}
	out := make([]listedCase, 0, len(cases))
	for i, tc := range cases {
		out = append(out, listedCase{
			Index: i,
			Name:  tc.Name,
			File:  tc.File,
			Line:  tc.Line,
			Tags:  tc.Tags,
			Skip:  tc.Skip,
			Steps: len(tc.Setup) + len(tc.Steps) + len(tc.Cleanup),
		})
	}
	data, _ := json.MarshalIndent(out, "", "  ")
	return textResult(string(data)), nil
}

// HandleResolve implements the ui-test/resolve MCP tool.
func HandleResolve(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	text, _ := args["snapshot"].(string)
	selector, _ := args["selector"].(string)
	if text == "" || selector == "" {
		return errorResult("snapshot and selector arguments are required"), nil
	}

	sel, err := a11y.ParseSelector(selector)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	snap, err := a11y.ParseSnapshot(text)
	if err != nil {
		return errorResult(fmt.Sprintf("parse snapshot: %s", err)), nil
	}
	ref, n, err := snap.Resolve(selector)
	if err != nil {
		return errorResult(err.Error()), nil
	}

	data, _ := json.MarshalIndent(map[string]any{
		"ref":     ref.Ref,
		"role":    ref.Role,
		"name":    ref.Name,
		"element": ref.Element(),
		"node":    n.String(),
		"matches": len(a11y.All(snap.Root, sel)),
	}, "", "  ")
	return textResult(string(data)), nil
}

// Runner runs suites for the ui-test/run tool. Each call starts its own
// automation server.
type Runner struct {
	Config config.Config
	// Connector starts the server. Nil launches Config.Server.
	Connector engine.Connector
	Logger    *log.Logger
	Version   string
}

// HandleRun implements the ui-test/run MCP tool.
func (r *Runner) HandleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	cases, res := loadCases(args)
	if res != nil {
		return res, nil
	}

	cfg := r.Config
	if n, ok := args["concurrency"].(float64); ok && n >= 1 {
		cfg.Concurrency = int(n)
	}

	runID := uuid.NewString()
	var out bytes.Buffer
	rep := report.NewJSON(&out, report.Options{RunID: runID})
	e := &engine.Engine{Connector: r.Connector, Logger: r.Logger, Version: r.Version, RunID: runID}
	outcome, err := e.Run(ctx, cases, &cfg, rep)
	if err != nil {
		return errorResult(fmt.Sprintf("run: %s", err)), nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(out.String())},
		IsError: outcome.ExitCode != 0,
	}, nil
}

// loadCases reads path, filter and tags from args. A non-nil result is the
// error to return to the caller.
func loadCases(args map[string]any) ([]*suite.TestCase, *mcp.CallToolResult) {
	path, _ := args["path"].(string)
	if path == "" {
		return nil, errorResult("path argument is required")
	}
	filter := suite.Filter{}
	filter.Name, _ = args["filter"].(string)
	if tags, _ := args["tags"].(string); tags != "" {
		for _, t := range strings.Split(tags, ",") {
			if t = strings.TrimSpace(t); t != "" {
				filter.Tags = append(filter.Tags, t)
			}
		}
	}

	files, err := suite.LoadPaths(path)
	if err != nil {
		return nil, errorResult(err.Error())
	}
	cases, err := suite.Cases(files, filter)
	if err != nil {
		return nil, errorResult(err.Error())
	}
	return cases, nil
}

func formatErrors(errs []*suite.ValidationError) string {
	var msgs []string
	for _, e := range errs {
		if e.Severity == "error" {
			msgs = append(msgs, e.Error())
		}
	}
	return strings.Join(msgs, "; ")
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(msg),
		},
		IsError: true,
	}
}
