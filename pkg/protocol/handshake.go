package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/softwarewrighter/ui-test/pkg/process"
	"github.com/softwarewrighter/ui-test/pkg/wire"
)

// DefaultHandshakeTimeout bounds the initialize exchange when the caller's
// context has no deadline. npx may download the server on first use.
const DefaultHandshakeTimeout = 60 * time.Second

// RequiredTools are the tools the executor issues.
var RequiredTools = []string{
	wire.ToolNavigate,
	wire.ToolClick,
	wire.ToolType,
	wire.ToolSnapshot,
	wire.ToolScreenshot,
}

// Dial connects a client to a launched server process and performs the MCP
// handshake. The caller still owns the handle and must shut it down.
func Dial(ctx context.Context, h *process.Handle, opts ...Option) (*Client, error) {
	c := New(h.Stdin(), h.Stdout(), opts...)
	if err := c.Handshake(ctx); err != nil {
		c.Close(context.Background())
		return nil, err
	}
	return c, nil
}

// Handshake performs initialize, notifications/initialized and tools/list,
// then moves the client to Ready.
func (c *Client) Handshake(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultHandshakeTimeout)
		defer cancel()
	}

	params := mcp.InitializeParams{
		ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
		Capabilities:    mcp.ClientCapabilities{},
		ClientInfo: mcp.Implementation{
			Name:    c.clientName,
			Version: c.clientVersion,
		},
	}
	raw, err := c.Request(ctx, string(mcp.MethodInitialize), params)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	var init struct {
		ProtocolVersion string `json:"protocolVersion"`
		ServerInfo      struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"serverInfo"`
	}
	if err := json.Unmarshal(raw, &init); err != nil {
		return fmt.Errorf("parse initialize result: %w", err)
	}

	if err := c.Notify("notifications/initialized", nil); err != nil {
		return fmt.Errorf("initialized notification: %w", err)
	}

	raw, err = c.Request(ctx, string(mcp.MethodToolsList), nil)
	if err != nil {
		return fmt.Errorf("list tools: %w", err)
	}
	var list struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(raw, &list); err != nil {
		return fmt.Errorf("parse tools/list result: %w", err)
	}

	c.toolsMu.Lock()
	c.serverName = init.ServerInfo.Name
	for _, t := range list.Tools {
		c.tools[t.Name] = true
	}
	c.toolsMu.Unlock()

	if missing := c.MissingTools(); len(missing) > 0 {
		c.logger.Warn("server does not list required tools", "missing", missing)
	}
	c.state.CompareAndSwap(int32(Connecting), int32(Ready))
	c.logger.Debug("handshake complete",
		"server", init.ServerInfo.Name,
		"version", init.ServerInfo.Version,
		"protocol", init.ProtocolVersion,
		"tools", len(list.Tools))
	return nil
}

// ServerName is the name the server reported during the handshake.
func (c *Client) ServerName() string {
	c.toolsMu.RLock()
	defer c.toolsMu.RUnlock()
	return c.serverName
}

// Tools returns the sorted tool names the server listed.
func (c *Client) Tools() []string {
	c.toolsMu.RLock()
	defer c.toolsMu.RUnlock()
	names := make([]string, 0, len(c.tools))
	for name := range c.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MissingTools returns the RequiredTools the server did not list.
func (c *Client) MissingTools() []string {
	c.toolsMu.RLock()
	defer c.toolsMu.RUnlock()
	var missing []string
	for _, name := range RequiredTools {
		if !c.tools[name] {
			missing = append(missing, name)
		}
	}
	return missing
}
