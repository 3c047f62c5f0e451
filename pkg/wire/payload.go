package wire

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/acarl005/stripansi"
	"github.com/mark3labs/mcp-go/mcp"
)

// Payload is the successful result of a command.
type Payload struct {
	Raw json.RawMessage
}

// ToolResult parses a tools/call result. A result flagged isError is
// returned as a *RemoteError with code CodeToolError.
func ToolResult(raw json.RawMessage) (*mcp.CallToolResult, error) {
	res, err := mcp.ParseCallToolResult(&raw)
	if err != nil {
		return nil, &CodecError{Line: raw, Err: fmt.Errorf("parse tool result: %w", err)}
	}
	if res.IsError {
		msg := strings.Join(texts(res), "; ")
		if msg == "" {
			msg = "tool reported an error"
		}
		return nil, &RemoteError{Code: CodeToolError, Message: stripansi.Strip(msg)}
	}
	return res, nil
}

// Text joins the text content items of the result.
func (p Payload) Text() (string, error) {
	res, err := ToolResult(p.Raw)
	if err != nil {
		return "", err
	}
	return strings.Join(texts(res), "\n"), nil
}

// Image returns the first image content item, decoded, with its MIME type.
func (p Payload) Image() ([]byte, string, error) {
	res, err := ToolResult(p.Raw)
	if err != nil {
		return nil, "", err
	}
	for _, c := range res.Content {
		img, ok := mcp.AsImageContent(c)
		if !ok {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(img.Data)
		if err != nil {
			return nil, "", fmt.Errorf("decode image data: %w", err)
		}
		return data, img.MIMEType, nil
	}
	return nil, "", fmt.Errorf("result has no image content")
}

func texts(res *mcp.CallToolResult) []string {
	var out []string
	for _, c := range res.Content {
		if tc, ok := mcp.AsTextContent(c); ok {
			out = append(out, tc.Text)
		}
	}
	return out
}
