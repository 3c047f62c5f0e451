// Package wire frames automation-server traffic: one JSON-RPC 2.0 message per
// line, correlated by the string request id.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
)

// Version is the JSON-RPC protocol version written on every message.
const Version = "2.0"

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RemoteError    `json:"error,omitempty"`
}

// Response is one decoded line. Exactly one of Result, Err, or Method is set;
// Method marks a server notification, which carries no ID.
type Response struct {
	ID     string
	Result json.RawMessage
	Err    *RemoteError
	Method string
}

// IsNotification reports whether the line was a server-initiated notification.
func (r Response) IsNotification() bool { return r.ID == "" && r.Method != "" }

// CodecError reports a line that could not be decoded. The line is discarded;
// framing recovers at the next newline.
type CodecError struct {
	Line []byte
	Err  error
}

func (e *CodecError) Error() string {
	line := e.Line
	if len(line) > 120 {
		line = append(append([]byte{}, line[:120]...), "..."...)
	}
	return fmt.Sprintf("decode line %q: %v", line, e.Err)
}

func (e *CodecError) Unwrap() error { return e.Err }

// RemoteError is a command-level failure reported by the server, either as a
// JSON-RPC error object or as a tool result flagged isError.
type RemoteError struct {
	Code    string
	Message string
}

// CodeToolError marks a RemoteError that came from a tool result with isError set.
const CodeToolError = "tool_error"

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error [%s]: %s", e.Code, e.Message)
}

// UnmarshalJSON accepts numeric or string error codes.
func (e *RemoteError) UnmarshalJSON(data []byte) error {
	var aux struct {
		Code    json.RawMessage `json:"code"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	e.Message = aux.Message

	if len(aux.Code) == 0 {
		return nil
	}
	var codeInt int64
	if err := json.Unmarshal(aux.Code, &codeInt); err == nil {
		e.Code = strconv.FormatInt(codeInt, 10)
		return nil
	}
	var codeStr string
	if err := json.Unmarshal(aux.Code, &codeStr); err == nil {
		e.Code = codeStr
		return nil
	}
	return fmt.Errorf("invalid jsonrpc error code: %s", string(aux.Code))
}

// Encode renders cmd as a tools/call request line with the given id.
func Encode(id string, cmd Command) ([]byte, error) {
	if cmd == nil {
		return nil, fmt.Errorf("encode: nil command")
	}
	params := mcp.CallToolParams{
		Name:      cmd.Tool(),
		Arguments: cmd.Arguments(),
	}
	return EncodeRequest(id, string(mcp.MethodToolsCall), params)
}

// EncodeRequest renders an arbitrary JSON-RPC request line.
func EncodeRequest(id, method string, params any) ([]byte, error) {
	if id == "" {
		return nil, fmt.Errorf("encode %s: empty id", method)
	}
	return encode(request{JSONRPC: Version, ID: id, Method: method, Params: params})
}

// EncodeNotification renders a JSON-RPC notification line (no id).
func EncodeNotification(method string, params any) ([]byte, error) {
	return encode(request{JSONRPC: Version, Method: method, Params: params})
}

func encode(req request) ([]byte, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", req.Method, err)
	}
	return append(data, '\n'), nil
}

// Decode parses one received line.
func Decode(line []byte) (Response, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return Response{}, &CodecError{Line: line, Err: fmt.Errorf("empty line")}
	}

	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return Response{}, &CodecError{Line: line, Err: err}
	}
	if env.JSONRPC != Version {
		return Response{}, &CodecError{Line: line, Err: fmt.Errorf("unsupported jsonrpc version %q", env.JSONRPC)}
	}

	id, err := decodeID(env.ID)
	if err != nil {
		return Response{}, &CodecError{Line: line, Err: err}
	}

	if id == "" {
		if env.Method == "" {
			return Response{}, &CodecError{Line: line, Err: fmt.Errorf("message has neither id nor method")}
		}
		return Response{Method: env.Method}, nil
	}

	resp := Response{ID: id}
	switch {
	case env.Error != nil:
		resp.Err = env.Error
	case len(env.Result) > 0:
		resp.Result = env.Result
	case env.Method != "":
		// Server-to-client request; the client only answers by ignoring it.
		resp.Method = env.Method
	default:
		return Response{}, &CodecError{Line: line, Err: fmt.Errorf("response %s has neither result nor error", id)}
	}
	return resp, nil
}

// decodeID accepts string or numeric ids and returns the canonical string.
func decodeID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("invalid id %s", string(raw))
}
