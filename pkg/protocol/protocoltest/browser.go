package protocoltest

import (
	"fmt"
	"strings"
	"sync"
)

// Page is one page known to a fake Browser. Snapshot is the ARIA snapshot
// YAML body; Links maps a ref to the URL a click on it navigates to.
type Page struct {
	Title    string
	Snapshot string
	Links    map[string]string
}

// PNG is the image returned for every screenshot.
var PNG = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// Browser models just enough of a Playwright page to drive the executor:
// navigation between known pages, clicks that follow links, typing, and
// snapshots in the server's text format.
type Browser struct {
	mu     sync.Mutex
	pages  map[string]Page
	url    string
	typed  map[string]string
	clicks []string
}

// NewBrowser returns a browser that knows pages, keyed by URL.
func NewBrowser(pages map[string]Page) *Browser {
	return &Browser{pages: pages, url: "about:blank", typed: map[string]string{}}
}

// URL returns the current page URL.
func (b *Browser) URL() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.url
}

// Typed returns the text last typed into ref.
func (b *Browser) Typed(ref string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.typed[ref]
}

// Clicks returns the refs clicked so far.
func (b *Browser) Clicks() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.clicks...)
}

// Handle answers a tools/call request. It satisfies Handler.
func (b *Browser) Handle(req Request) Reply {
	b.mu.Lock()
	defer b.mu.Unlock()

	str := func(key string) string {
		v, _ := req.Args[key].(string)
		return v
	}

	switch req.Tool {
	case "browser_navigate":
		url := str("url")
		if _, ok := b.pages[url]; !ok {
			return Reply{IsError: true, Text: fmt.Sprintf("Error: page.goto: net::ERR_NAME_NOT_RESOLVED at %s", url)}
		}
		b.url = url
		return Reply{Text: b.pageState()}
	case "browser_snapshot":
		return Reply{Text: b.pageState()}
	case "browser_click":
		ref := str("ref")
		if !b.hasRef(ref) {
			return Reply{IsError: true, Text: fmt.Sprintf("Error: Ref %s not found in the current page snapshot. Try capturing new snapshot.", ref)}
		}
		b.clicks = append(b.clicks, ref)
		if to, ok := b.pages[b.url].Links[ref]; ok {
			b.url = to
		}
		return Reply{Text: b.pageState()}
	case "browser_type":
		ref := str("ref")
		if !b.hasRef(ref) {
			return Reply{IsError: true, Text: fmt.Sprintf("Error: Ref %s not found in the current page snapshot. Try capturing new snapshot.", ref)}
		}
		b.typed[ref] = str("text")
		return Reply{Text: "typed"}
	case "browser_take_screenshot":
		return Reply{Text: "Took the viewport screenshot", Image: PNG}
	case "browser_resize", "browser_close":
		return Reply{Text: "ok"}
	default:
		return Reply{IsError: true, Text: "unknown tool " + req.Tool}
	}
}

func (b *Browser) hasRef(ref string) bool {
	return ref != "" && strings.Contains(b.pages[b.url].Snapshot, "[ref="+ref+"]")
}

func (b *Browser) pageState() string {
	page := b.pages[b.url]
	return FormatSnapshot(b.url, page.Title, page.Snapshot)
}

// FormatSnapshot renders a page state the way Playwright MCP does.
func FormatSnapshot(url, title, yamlBody string) string {
	var sb strings.Builder
	sb.WriteString("### Page state\n")
	fmt.Fprintf(&sb, "- Page URL: %s\n", url)
	fmt.Fprintf(&sb, "- Page Title: %s\n", title)
	sb.WriteString("- Page Snapshot:\n```yaml\n")
	sb.WriteString(strings.TrimRight(yamlBody, "\n"))
	sb.WriteString("\n```\n")
	return sb.String()
}
