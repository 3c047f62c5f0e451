package wire

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestEncode_ToolsCall(t *testing.T) {
	tests := []struct {
		name     string
		cmd      Command
		wantTool string
		wantArgs map[string]any
	}{
		{
			name:     "navigate",
			cmd:      Navigate{URL: "https://example.com"},
			wantTool: "browser_navigate",
			wantArgs: map[string]any{"url": "https://example.com"},
		},
		{
			name:     "click",
			cmd:      Click{Ref: "e4", Element: `button "Sign in"`},
			wantTool: "browser_click",
			wantArgs: map[string]any{"ref": "e4", "element": `button "Sign in"`},
		},
		{
			name:     "fill",
			cmd:      Fill{Ref: "e7", Element: "Email", Text: "a@b.c"},
			wantTool: "browser_type",
			wantArgs: map[string]any{"ref": "e7", "element": "Email", "text": "a@b.c"},
		},
		{
			name:     "snapshot",
			cmd:      Snapshot{},
			wantTool: "browser_snapshot",
			wantArgs: map[string]any{},
		},
		{
			name:     "screenshot",
			cmd:      Screenshot{Path: "login.png"},
			wantTool: "browser_take_screenshot",
			wantArgs: map[string]any{"filename": "login.png"},
		},
		{
			name:     "resize",
			cmd:      Resize{Width: 1280, Height: 720},
			wantTool: "browser_resize",
			wantArgs: map[string]any{"width": float64(1280), "height": float64(720)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line, err := Encode("7", tt.cmd)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			if !strings.HasSuffix(string(line), "\n") {
				t.Fatalf("line must end with newline: %q", line)
			}
			if strings.Count(string(line), "\n") != 1 {
				t.Fatalf("line must contain exactly one newline: %q", line)
			}

			var msg struct {
				JSONRPC string `json:"jsonrpc"`
				ID      string `json:"id"`
				Method  string `json:"method"`
				Params  struct {
					Name      string         `json:"name"`
					Arguments map[string]any `json:"arguments"`
				} `json:"params"`
			}
			if err := json.Unmarshal(line, &msg); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if msg.JSONRPC != "2.0" || msg.ID != "7" || msg.Method != "tools/call" {
				t.Errorf("envelope = %+v", msg)
			}
			if msg.Params.Name != tt.wantTool {
				t.Errorf("tool = %q, want %q", msg.Params.Name, tt.wantTool)
			}
			for k, want := range tt.wantArgs {
				if got := msg.Params.Arguments[k]; got != want {
					t.Errorf("arg %s = %v, want %v", k, got, want)
				}
			}
		})
	}
}

func TestEncode_Errors(t *testing.T) {
	if _, err := Encode("1", nil); err == nil {
		t.Error("expected error for nil command")
	}
	if _, err := Encode("", Snapshot{}); err == nil {
		t.Error("expected error for empty id")
	}
}

func TestEncodeNotification_HasNoID(t *testing.T) {
	line, err := EncodeNotification("notifications/initialized", nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if strings.Contains(string(line), `"id"`) {
		t.Errorf("notification must not carry an id: %s", line)
	}
	if strings.Contains(string(line), `"params"`) {
		t.Errorf("nil params should be omitted: %s", line)
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name       string
		line       string
		wantID     string
		wantResult bool
		wantErr    string // RemoteError code
		wantNotify bool
	}{
		{
			name:       "string id result",
			line:       `{"jsonrpc":"2.0","id":"3","result":{"content":[]}}`,
			wantID:     "3",
			wantResult: true,
		},
		{
			name:       "numeric id result",
			line:       `{"jsonrpc":"2.0","id":12,"result":{}}` + "\r\n",
			wantID:     "12",
			wantResult: true,
		},
		{
			name:    "numeric error code",
			line:    `{"jsonrpc":"2.0","id":"4","error":{"code":-32601,"message":"no such tool"}}`,
			wantID:  "4",
			wantErr: "-32601",
		},
		{
			name:    "string error code",
			line:    `{"jsonrpc":"2.0","id":"5","error":{"code":"NAV_FAILED","message":"net::ERR"}}`,
			wantID:  "5",
			wantErr: "NAV_FAILED",
		},
		{
			name:       "notification",
			line:       `{"jsonrpc":"2.0","method":"notifications/message","params":{"level":"info"}}`,
			wantNotify: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := Decode([]byte(tt.line))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.ID != tt.wantID {
				t.Errorf("id = %q, want %q", resp.ID, tt.wantID)
			}
			if tt.wantResult && len(resp.Result) == 0 {
				t.Error("expected result")
			}
			if tt.wantErr != "" {
				if resp.Err == nil {
					t.Fatal("expected remote error")
				}
				if resp.Err.Code != tt.wantErr {
					t.Errorf("code = %q, want %q", resp.Err.Code, tt.wantErr)
				}
			}
			if resp.IsNotification() != tt.wantNotify {
				t.Errorf("IsNotification = %v, want %v", resp.IsNotification(), tt.wantNotify)
			}
		})
	}
}

func TestDecode_Malformed(t *testing.T) {
	lines := []string{
		``,
		`not json`,
		`{"jsonrpc":"2.0","id":"1","result":`,
		`{"jsonrpc":"1.0","id":"1","result":{}}`,
		`{"jsonrpc":"2.0","id":{"x":1},"result":{}}`,
		`{"jsonrpc":"2.0","id":"1"}`,
		`{"jsonrpc":"2.0"}`,
	}
	for _, line := range lines {
		_, err := Decode([]byte(line))
		var codecErr *CodecError
		if !errors.As(err, &codecErr) {
			t.Errorf("Decode(%q): expected *CodecError, got %v", line, err)
		}
	}
}

func TestPayload_Text(t *testing.T) {
	p := Payload{Raw: json.RawMessage(`{"content":[{"type":"text","text":"line one"},{"type":"text","text":"line two"}]}`)}
	got, err := p.Text()
	if err != nil {
		t.Fatalf("text: %v", err)
	}
	if got != "line one\nline two" {
		t.Errorf("got %q", got)
	}
}

func TestPayload_ToolError(t *testing.T) {
	p := Payload{Raw: json.RawMessage(`{"isError":true,"content":[{"type":"text","text":"\u001b[31mTimeout 5000ms exceeded\u001b[0m"}]}`)}
	_, err := p.Text()
	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expected *RemoteError, got %v", err)
	}
	if remote.Code != CodeToolError {
		t.Errorf("code = %q", remote.Code)
	}
	if remote.Message != "Timeout 5000ms exceeded" {
		t.Errorf("ansi not stripped: %q", remote.Message)
	}
}

func TestPayload_Image(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G'}
	raw, _ := json.Marshal(map[string]any{
		"content": []any{
			map[string]any{"type": "text", "text": "Took the screenshot"},
			map[string]any{"type": "image", "data": base64.StdEncoding.EncodeToString(png), "mimeType": "image/png"},
		},
	})
	data, mime, err := Payload{Raw: raw}.Image()
	if err != nil {
		t.Fatalf("image: %v", err)
	}
	if string(data) != string(png) {
		t.Errorf("got %v, want %v", data, png)
	}
	if mime != "image/png" {
		t.Errorf("mime = %q", mime)
	}

	if _, _, err := (Payload{Raw: json.RawMessage(`{"content":[{"type":"text","text":"x"}]}`)}).Image(); err == nil {
		t.Error("expected error when no image content")
	}
}

func TestDescribe(t *testing.T) {
	if got := Describe(Navigate{URL: "http://x"}); got != "navigate http://x" {
		t.Errorf("got %q", got)
	}
	if got := Describe(Resize{Width: 10, Height: 20}); got != "resize 10x20" {
		t.Errorf("got %q", got)
	}
}
