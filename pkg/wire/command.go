package wire

import "fmt"

// Command is one browser operation understood by the automation server.
// The set of implementations is closed.
type Command interface {
	// Tool is the MCP tool name the command maps to.
	Tool() string
	// Arguments is the tool argument object.
	Arguments() map[string]any

	isCommand()
}

// Playwright MCP tool names.
const (
	ToolNavigate   = "browser_navigate"
	ToolClick      = "browser_click"
	ToolType       = "browser_type"
	ToolSnapshot   = "browser_snapshot"
	ToolScreenshot = "browser_take_screenshot"
	ToolResize     = "browser_resize"
	ToolClose      = "browser_close"
)

// Navigate loads URL in the current tab.
type Navigate struct {
	URL string
}

// Click clicks the node identified by Ref. Element is the human-readable
// description the server uses for permission prompts and logs.
type Click struct {
	Ref     string
	Element string
}

// Fill types Text into the node identified by Ref.
type Fill struct {
	Ref     string
	Element string
	Text    string
}

// Snapshot captures the accessibility tree of the current page.
type Snapshot struct{}

// Screenshot captures the page. Path is the file name hint passed to the
// server; the image bytes come back in the response.
type Screenshot struct {
	Path string
}

// Resize sets the viewport size.
type Resize struct {
	Width  int
	Height int
}

// Close closes the browser page.
type Close struct{}

func (Navigate) Tool() string   { return ToolNavigate }
func (Click) Tool() string      { return ToolClick }
func (Fill) Tool() string       { return ToolType }
func (Snapshot) Tool() string   { return ToolSnapshot }
func (Screenshot) Tool() string { return ToolScreenshot }
func (Resize) Tool() string     { return ToolResize }
func (Close) Tool() string      { return ToolClose }

func (c Navigate) Arguments() map[string]any {
	return map[string]any{"url": c.URL}
}

func (c Click) Arguments() map[string]any {
	return map[string]any{"element": c.Element, "ref": c.Ref}
}

func (c Fill) Arguments() map[string]any {
	return map[string]any{"element": c.Element, "ref": c.Ref, "text": c.Text}
}

func (Snapshot) Arguments() map[string]any { return map[string]any{} }

func (c Screenshot) Arguments() map[string]any {
	args := map[string]any{}
	if c.Path != "" {
		args["filename"] = c.Path
	}
	return args
}

func (c Resize) Arguments() map[string]any {
	return map[string]any{"width": c.Width, "height": c.Height}
}

func (Close) Arguments() map[string]any { return map[string]any{} }

func (Navigate) isCommand()   {}
func (Click) isCommand()      {}
func (Fill) isCommand()       {}
func (Snapshot) isCommand()   {}
func (Screenshot) isCommand() {}
func (Resize) isCommand()     {}
func (Close) isCommand()      {}

// Describe renders a command for logs.
func Describe(cmd Command) string {
	switch c := cmd.(type) {
	case Navigate:
		return fmt.Sprintf("navigate %s", c.URL)
	case Click:
		return fmt.Sprintf("click %s (%s)", c.Element, c.Ref)
	case Fill:
		return fmt.Sprintf("fill %s (%s)", c.Element, c.Ref)
	case Snapshot:
		return "snapshot"
	case Screenshot:
		return fmt.Sprintf("screenshot %s", c.Path)
	case Resize:
		return fmt.Sprintf("resize %dx%d", c.Width, c.Height)
	case Close:
		return "close"
	default:
		return cmd.Tool()
	}
}
