// Package a11y parses accessibility snapshots and resolves selectors against
// them. Everything here is pure: the same snapshot and selector always
// resolve to the same node.
package a11y

import (
	"fmt"
	"sort"
	"strings"
)

// Node is one element of an accessibility tree. Ref is assigned by the
// automation server and is valid only for the snapshot that produced it.
type Node struct {
	Ref      string            `json:"ref,omitempty"`
	Role     string            `json:"role"`
	Name     string            `json:"name,omitempty"`
	Text     string            `json:"text,omitempty"`
	Attrs    map[string]string `json:"attrs,omitempty"`
	Children []*Node           `json:"children,omitempty"`
}

// Attr returns the attribute value and whether it is present.
func (n *Node) Attr(key string) (string, bool) {
	if n.Attrs == nil {
		return "", false
	}
	v, ok := n.Attrs[key]
	return v, ok
}

// Flag reports whether a boolean state attribute (checked, disabled, ...) is set.
func (n *Node) Flag(key string) bool {
	v, ok := n.Attr(key)
	return ok && v != "false"
}

func (n *Node) setAttr(key, value string) {
	if n.Attrs == nil {
		n.Attrs = map[string]string{}
	}
	n.Attrs[key] = value
}

// String renders the node in snapshot notation, e.g. `button "Go" [ref=e3]`.
func (n *Node) String() string {
	var sb strings.Builder
	sb.WriteString(n.Role)
	if n.Name != "" {
		fmt.Fprintf(&sb, " %q", n.Name)
	}
	keys := make([]string, 0, len(n.Attrs))
	for k := range n.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v := n.Attrs[k]; v == "true" {
			fmt.Fprintf(&sb, " [%s]", k)
		} else {
			fmt.Fprintf(&sb, " [%s=%s]", k, v)
		}
	}
	if n.Ref != "" {
		fmt.Fprintf(&sb, " [ref=%s]", n.Ref)
	}
	if n.Text != "" {
		fmt.Fprintf(&sb, ": %s", n.Text)
	}
	return sb.String()
}

// Label is the node's accessible name, or its inline text when unnamed.
func (n *Node) Label() string {
	if n.Name != "" {
		return n.Name
	}
	return n.Text
}

// TextContent joins the names and inline text of n and its descendants.
func (n *Node) TextContent() string {
	var parts []string
	Walk(n, func(d *Node, _ []*Node) bool {
		if d.Name != "" {
			parts = append(parts, d.Name)
		}
		if d.Text != "" {
			parts = append(parts, d.Text)
		}
		return true
	})
	return strings.Join(parts, " ")
}

// Walk visits n and its descendants depth-first in document order. The path
// holds the ancestors of the visited node, outermost first. Returning false
// stops the walk.
func Walk(n *Node, fn func(n *Node, path []*Node) bool) {
	walk(n, nil, fn)
}

func walk(n *Node, path []*Node, fn func(*Node, []*Node) bool) bool {
	if n == nil {
		return true
	}
	if !fn(n, path) {
		return false
	}
	path = append(path, n)
	for _, c := range n.Children {
		if !walk(c, path, fn) {
			return false
		}
	}
	return true
}

// Count returns the number of nodes in the tree rooted at n.
func Count(n *Node) int {
	total := 0
	Walk(n, func(*Node, []*Node) bool {
		total++
		return true
	})
	return total
}

// Snapshot is one point-in-time capture of a page's accessibility tree.
// ID is assigned by whoever requested the snapshot and scopes every ref in it.
type Snapshot struct {
	ID    uint64 `json:"id"`
	URL   string `json:"url,omitempty"`
	Title string `json:"title,omitempty"`
	Root  *Node  `json:"root"`
}

// NodeRef identifies a resolved node together with the snapshot it came from.
type NodeRef struct {
	SnapshotID uint64
	Ref        string
	Role       string
	Name       string
}

// Element is the human-readable description passed to the server with an action.
func (r NodeRef) Element() string {
	if r.Name == "" {
		return r.Role
	}
	return fmt.Sprintf("%s %q", r.Role, r.Name)
}

// FindRef returns the node carrying ref, or nil.
func (s *Snapshot) FindRef(ref string) *Node {
	var found *Node
	Walk(s.Root, func(n *Node, _ []*Node) bool {
		if n.Ref == ref {
			found = n
			return false
		}
		return true
	})
	return found
}

// Resolve parses selector and resolves it against the snapshot.
func (s *Snapshot) Resolve(selector string) (NodeRef, *Node, error) {
	sel, err := ParseSelector(selector)
	if err != nil {
		return NodeRef{}, nil, err
	}
	n, err := Resolve(s.Root, sel)
	if err != nil {
		return NodeRef{}, nil, err
	}
	return NodeRef{SnapshotID: s.ID, Ref: n.Ref, Role: n.Role, Name: n.Name}, n, nil
}

// Tree renders the snapshot as indented snapshot notation.
func (s *Snapshot) Tree() string {
	var sb strings.Builder
	Walk(s.Root, func(n *Node, path []*Node) bool {
		if n == s.Root && n.Role == RootRole {
			return true
		}
		depth := len(path)
		if len(path) > 0 && path[0].Role == RootRole {
			depth--
		}
		sb.WriteString(strings.Repeat("  ", depth))
		sb.WriteString("- ")
		sb.WriteString(n.String())
		sb.WriteByte('\n')
		return true
	})
	return sb.String()
}
