// mock-automation-server is a test helper binary that serves the Playwright
// MCP browser tools over stdio against a small in-memory site. Command-line
// arguments are ignored. MOCK_EXIT_ON names a tool that makes the process
// exit without answering.
//
//go:build ignore

package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/softwarewrighter/ui-test/pkg/protocol/protocoltest"
)

const (
	loginURL = "http://mock.test/login"
	homeURL  = "http://mock.test/home"
)

var site = map[string]protocoltest.Page{
	loginURL: {
		Title: "Sign in",
		Snapshot: `- main [ref=e1]:
  - heading "Sign in" [level=1] [ref=e2]
  - textbox "Email" [ref=e3]
  - textbox "Password" [ref=e4]
  - button "Sign in" [ref=e5]`,
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

func main() {
	browser := protocoltest.NewBrowser(site)
	exitOn := os.Getenv("MOCK_EXIT_ON")

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if req.Params.Name == exitOn {
			os.Exit(3)
		}
		reply := browser.Handle(protocoltest.Request{
			Method: "tools/call",
			Tool:   req.Params.Name,
			Args:   req.GetArguments(),
		})
		switch {
		case reply.IsError:
			return mcp.NewToolResultError(reply.Text), nil
		case reply.Image != nil:
			return mcp.NewToolResultImage(reply.Text, base64.StdEncoding.EncodeToString(reply.Image), "image/png"), nil
		}
		return mcp.NewToolResultText(reply.Text), nil
	}

	s := server.NewMCPServer("mock-automation-server", "1.0.0", server.WithToolCapabilities(true))
	s.AddTool(mcp.NewTool("browser_navigate",
		mcp.WithDescription("Navigate to a URL"),
		mcp.WithString("url", mcp.Required()),
	), handler)
	s.AddTool(mcp.NewTool("browser_snapshot",
		mcp.WithDescription("Capture accessibility snapshot of the current page"),
	), handler)
	s.AddTool(mcp.NewTool("browser_click",
		mcp.WithDescription("Perform click on a web page"),
		mcp.WithString("element", mcp.Required()),
		mcp.WithString("ref", mcp.Required()),
	), handler)
	s.AddTool(mcp.NewTool("browser_type",
		mcp.WithDescription("Type text into editable element"),
		mcp.WithString("element", mcp.Required()),
		mcp.WithString("ref", mcp.Required()),
		mcp.WithString("text", mcp.Required()),
	), handler)
	s.AddTool(mcp.NewTool("browser_take_screenshot",
		mcp.WithDescription("Take a screenshot of the current page"),
		mcp.WithString("filename"),
	), handler)
	s.AddTool(mcp.NewTool("browser_resize",
		mcp.WithDescription("Resize the browser window"),
		mcp.WithNumber("width", mcp.Required()),
		mcp.WithNumber("height", mcp.Required()),
	), handler)
	s.AddTool(mcp.NewTool("browser_close",
		mcp.WithDescription("Close the page"),
	), handler)

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "mock-automation-server: %v\n", err)
		os.Exit(1)
	}
}
