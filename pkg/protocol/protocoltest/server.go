// Package protocoltest provides an in-process automation server speaking the
// line-delimited MCP dialect over io.Pipe, for tests of the protocol client
// and everything built on it.
package protocoltest

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// Request is one request the server received.
type Request struct {
	ID     string
	Method string
	Tool   string
	Args   map[string]any
}

// Reply describes how the server answers a tools/call request.
type Reply struct {
	Text    string
	Image   []byte
	IsError bool

	// RPCError, when set, is sent as a JSON-RPC error object instead of a result.
	RPCError *RPCError

	// Delay postpones the response.
	Delay time.Duration
	// Wait, when non-nil, postpones the response until it is closed.
	Wait <-chan struct{}
	// Drop sends no response at all.
	Drop bool
}

// RPCError is a JSON-RPC error object.
type RPCError struct {
	Code    any    `json:"code"`
	Message string `json:"message"`
}

// Handler answers tools/call requests.
type Handler func(req Request) Reply

// Server is a fake automation server. Requests are answered concurrently so
// replies may be written out of order.
type Server struct {
	handler Handler
	tools   []string

	clientW *io.PipeWriter // client writes requests here
	serverR *io.PipeReader
	serverW *io.PipeWriter // server writes responses here
	clientR *io.PipeReader

	writeMu sync.Mutex
	mu      sync.Mutex
	reqs    []Request
	closed  chan struct{}
	once    sync.Once
}

// DefaultTools is the tool list returned by tools/list.
var DefaultTools = []string{
	"browser_navigate", "browser_click", "browser_type", "browser_snapshot",
	"browser_take_screenshot", "browser_resize", "browser_close",
}

// NewServer starts a server that answers tools/call with h. initialize and
// tools/list are answered automatically.
func NewServer(h Handler) *Server {
	s := &Server{
		handler: h,
		tools:   DefaultTools,
		closed:  make(chan struct{}),
	}
	s.serverR, s.clientW = io.Pipe()
	s.clientR, s.serverW = io.Pipe()
	go s.serve()
	return s
}

// ClientWriter is the stream the client writes requests to.
func (s *Server) ClientWriter() io.WriteCloser { return s.clientW }

// ClientReader is the stream the client reads responses from.
func (s *Server) ClientReader() io.Reader { return s.clientR }

// SetTools replaces the tool list returned by tools/list.
func (s *Server) SetTools(tools []string) {
	s.mu.Lock()
	s.tools = tools
	s.mu.Unlock()
}

// Requests returns a copy of every request received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.reqs...)
}

// ToolCalls returns the tool names called so far, in arrival order.
func (s *Server) ToolCalls() []string {
	var out []string
	for _, r := range s.Requests() {
		if r.Tool != "" {
			out = append(out, r.Tool)
		}
	}
	return out
}

// WriteRaw writes line followed by a newline to the client.
func (s *Server) WriteRaw(line string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := io.WriteString(s.serverW, line+"\n")
	return err
}

// Crash closes the server's output stream as if the process had died.
func (s *Server) Crash() {
	s.once.Do(func() {
		close(s.closed)
		s.serverW.Close()
		s.serverR.Close()
	})
}

// Close shuts the server down.
func (s *Server) Close() { s.Crash() }

func (s *Server) serve() {
	defer s.Crash()
	scanner := bufio.NewScanner(s.serverR)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		var msg struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue
		}
		if len(msg.ID) == 0 {
			continue // notification
		}
		var id string
		if err := json.Unmarshal(msg.ID, &id); err != nil {
			id = string(msg.ID)
		}

		req := Request{ID: id, Method: msg.Method}
		if msg.Method == "tools/call" {
			var p struct {
				Name      string         `json:"name"`
				Arguments map[string]any `json:"arguments"`
			}
			json.Unmarshal(msg.Params, &p)
			req.Tool = p.Name
			req.Args = p.Arguments
		}
		s.mu.Lock()
		s.reqs = append(s.reqs, req)
		s.mu.Unlock()

		go s.answer(req)
	}
}

func (s *Server) answer(req Request) {
	switch req.Method {
	case "initialize":
		s.respond(req.ID, map[string]any{
			"protocolVersion": mcp.LATEST_PROTOCOL_VERSION,
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]any{"name": "fake-playwright", "version": "0.0.1"},
		})
		return
	case "tools/list":
		s.mu.Lock()
		tools := make([]map[string]any, 0, len(s.tools))
		for _, name := range s.tools {
			tools = append(tools, map[string]any{"name": name, "inputSchema": map[string]any{"type": "object"}})
		}
		s.mu.Unlock()
		s.respond(req.ID, map[string]any{"tools": tools})
		return
	case "tools/call":
	default:
		s.respondError(req.ID, &RPCError{Code: -32601, Message: "method not found: " + req.Method})
		return
	}

	reply := Reply{Text: "ok"}
	if s.handler != nil {
		reply = s.handler(req)
	}
	if reply.Drop {
		return
	}
	if reply.Wait != nil {
		select {
		case <-reply.Wait:
		case <-s.closed:
			return
		}
	}
	if reply.Delay > 0 {
		select {
		case <-time.After(reply.Delay):
		case <-s.closed:
			return
		}
	}
	if reply.RPCError != nil {
		s.respondError(req.ID, reply.RPCError)
		return
	}
	s.respond(req.ID, toolResult(reply))
}

func toolResult(r Reply) *mcp.CallToolResult {
	var res *mcp.CallToolResult
	switch {
	case r.IsError:
		res = mcp.NewToolResultError(r.Text)
	case r.Image != nil:
		res = mcp.NewToolResultImage(r.Text, base64.StdEncoding.EncodeToString(r.Image), "image/png")
	default:
		res = mcp.NewToolResultText(r.Text)
	}
	return res
}

func (s *Server) respond(id string, result any) {
	s.write(map[string]any{"jsonrpc": "2.0", "id": id, "result": result})
}

func (s *Server) respondError(id string, e *RPCError) {
	s.write(map[string]any{"jsonrpc": "2.0", "id": id, "error": e})
}

func (s *Server) write(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	select {
	case <-s.closed:
		return
	default:
	}
	s.serverW.Write(append(data, '\n'))
}
