package a11y

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// RootRole is the role of the synthetic node that holds a snapshot's
// top-level elements.
const RootRole = "document"

// ParseSnapshot parses a snapshot as returned by the automation server.
// Two shapes are accepted: Playwright MCP's page-state text, where the tree
// is an ARIA snapshot inside a ```yaml fence (a bare ARIA snapshot works
// too), and a JSON node tree {ref, role, name, children}.
func ParseSnapshot(text string) (*Snapshot, error) {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") {
		return parseJSONSnapshot(trimmed)
	}

	snap := &Snapshot{Root: &Node{Role: RootRole}}
	body := trimmed
	if fenced, ok := yamlFence(text); ok {
		body = fenced
		snap.URL, snap.Title = pageHeader(text)
	}
	if strings.TrimSpace(body) == "" {
		return snap, nil
	}

	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("parse aria snapshot: %w", err)
	}
	if len(doc.Content) == 0 {
		return snap, nil
	}
	top := doc.Content[0]
	if top.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("parse aria snapshot: line %d: expected a list of elements", top.Line)
	}
	if err := convertSeq(top, snap.Root); err != nil {
		return nil, err
	}
	return snap, nil
}

// yamlFence returns the body of the first ```yaml block.
func yamlFence(text string) (string, bool) {
	start := strings.Index(text, "```yaml")
	if start < 0 {
		return "", false
	}
	rest := text[start+len("```yaml"):]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:]
	} else {
		return "", true
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return rest, true
	}
	return rest[:end], true
}

func pageHeader(text string) (url, title string) {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "-"))
		switch {
		case strings.HasPrefix(line, "Page URL:"):
			url = strings.TrimSpace(strings.TrimPrefix(line, "Page URL:"))
		case strings.HasPrefix(line, "Page Title:"):
			title = strings.TrimSpace(strings.TrimPrefix(line, "Page Title:"))
		}
		if strings.HasPrefix(line, "```") {
			break
		}
	}
	return url, title
}

func convertSeq(seq *yaml.Node, parent *Node) error {
	for _, item := range seq.Content {
		switch item.Kind {
		case yaml.ScalarNode:
			if strings.HasPrefix(item.Value, "/") {
				parent.setAttr(strings.TrimPrefix(item.Value, "/"), "true")
				continue
			}
			n, err := parseDescriptor(item.Value)
			if err != nil {
				return fmt.Errorf("line %d: %w", item.Line, err)
			}
			parent.Children = append(parent.Children, n)
		case yaml.MappingNode:
			for i := 0; i+1 < len(item.Content); i += 2 {
				key, val := item.Content[i], item.Content[i+1]
				if strings.HasPrefix(key.Value, "/") {
					// Property of the enclosing element, e.g. "/url: https://...".
					parent.setAttr(strings.TrimPrefix(key.Value, "/"), val.Value)
					continue
				}
				n, err := parseDescriptor(key.Value)
				if err != nil {
					return fmt.Errorf("line %d: %w", key.Line, err)
				}
				switch val.Kind {
				case yaml.ScalarNode:
					n.Text = val.Value
				case yaml.SequenceNode:
					if err := convertSeq(val, n); err != nil {
						return err
					}
				default:
					return fmt.Errorf("line %d: unexpected value for %q", val.Line, key.Value)
				}
				parent.Children = append(parent.Children, n)
			}
		default:
			return fmt.Errorf("line %d: unexpected element", item.Line)
		}
	}
	return nil
}

// parseDescriptor parses `role "name" [attr] [attr=value] [ref=eN]`.
func parseDescriptor(s string) (*Node, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty element descriptor")
	}

	end := strings.IndexAny(s, " [")
	if end < 0 {
		end = len(s)
	}
	n := &Node{Role: s[:end]}
	rest := strings.TrimSpace(s[end:])

	if strings.HasPrefix(rest, `"`) {
		q, err := quotedPrefix(rest)
		if err != nil {
			return nil, fmt.Errorf("element %q: %w", s, err)
		}
		if err := json.Unmarshal([]byte(q), &n.Name); err != nil {
			return nil, fmt.Errorf("element %q: bad name: %w", s, err)
		}
		rest = strings.TrimSpace(rest[len(q):])
	}

	for strings.HasPrefix(rest, "[") {
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return nil, fmt.Errorf("element %q: unterminated attribute", s)
		}
		inner := rest[1:end]
		rest = strings.TrimSpace(rest[end+1:])

		key, value, hasValue := strings.Cut(inner, "=")
		if !hasValue {
			value = "true"
		}
		if key == "ref" {
			n.Ref = value
			continue
		}
		n.setAttr(key, value)
	}
	return n, nil
}

// quotedPrefix returns the leading double-quoted string of s, quotes included.
func quotedPrefix(s string) (string, error) {
	escaped := false
	for i := 1; i < len(s); i++ {
		switch {
		case escaped:
			escaped = false
		case s[i] == '\\':
			escaped = true
		case s[i] == '"':
			return s[:i+1], nil
		}
	}
	return "", fmt.Errorf("unterminated name")
}

type jsonNode struct {
	Ref      string            `json:"ref"`
	Role     string            `json:"role"`
	Name     string            `json:"name"`
	Text     string            `json:"text"`
	Value    string            `json:"value"`
	Attrs    map[string]string `json:"attrs"`
	Children []jsonNode        `json:"children"`
}

func parseJSONSnapshot(text string) (*Snapshot, error) {
	var wrapper struct {
		URL   string    `json:"url"`
		Title string    `json:"title"`
		Root  *jsonNode `json:"root"`
	}
	if err := json.Unmarshal([]byte(text), &wrapper); err != nil {
		return nil, fmt.Errorf("parse json snapshot: %w", err)
	}
	snap := &Snapshot{URL: wrapper.URL, Title: wrapper.Title}
	if wrapper.Root != nil {
		snap.Root = convertJSON(*wrapper.Root)
		return snap, nil
	}

	var root jsonNode
	if err := json.Unmarshal([]byte(text), &root); err != nil {
		return nil, fmt.Errorf("parse json snapshot: %w", err)
	}
	if root.Role == "" {
		return nil, fmt.Errorf("parse json snapshot: root node has no role")
	}
	snap.Root = convertJSON(root)
	return snap, nil
}

func convertJSON(j jsonNode) *Node {
	n := &Node{Ref: j.Ref, Role: j.Role, Name: j.Name, Text: j.Text}
	if n.Text == "" {
		n.Text = j.Value
	}
	for k, v := range j.Attrs {
		n.setAttr(k, v)
	}
	for _, c := range j.Children {
		n.Children = append(n.Children, convertJSON(c))
	}
	return n
}
