package a11y

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Selector is a parsed element selector. The implementations are RoleName,
// Aria, Text and CSS; each carries the text it was parsed from.
type Selector interface {
	// String returns the selector text as written.
	String() string
	// Kind names the selector variant.
	Kind() string
	// Match reports whether n, whose ancestors are path, is selected.
	Match(n *Node, path []*Node) bool

	isSelector()
}

// RoleName selects by ARIA role and, optionally, accessible name and state
// attributes: role=button[name="Sign in"], role=heading[level=2],
// role=checkbox name="Remember me".
type RoleName struct {
	Raw     string
	Role    string
	Name    string
	HasName bool
	// Exact requires the whole name to match; otherwise a case-insensitive
	// substring match is used.
	Exact bool
	Attrs map[string]string
}

// Aria selects by an ARIA attribute: aria-label=Close, [aria-label="Close"],
// label=Email, placeholder=you@example.com, [aria-checked=true].
type Aria struct {
	Raw   string
	Attr  string // normalized: "label", "placeholder", or an aria state without the prefix
	Value string
}

// Text selects by visible text: text=Submit matches a case-insensitive
// substring; text="Submit" and a bare "Submit" match the whole text.
type Text struct {
	Raw     string
	Content string
	Exact   bool
}

// CSS is the fallback selector, evaluated against the accessibility tree:
// tags map to roles, attribute selectors compare node attributes.
type CSS struct {
	Raw   string
	parts []cssPart
}

func (s RoleName) String() string { return s.Raw }
func (s Aria) String() string     { return s.Raw }
func (s Text) String() string     { return s.Raw }
func (s CSS) String() string      { return s.Raw }

func (RoleName) Kind() string { return "role" }
func (Aria) Kind() string     { return "aria" }
func (Text) Kind() string     { return "text" }
func (CSS) Kind() string      { return "css" }

func (RoleName) isSelector() {}
func (Aria) isSelector()     {}
func (Text) isSelector()     {}
func (CSS) isSelector()      {}

// ParseSelector parses s, trying role+name, then ARIA attribute, then text,
// then CSS.
func ParseSelector(s string) (Selector, error) {
	raw := s
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty selector")
	}

	if rest, ok := cutPrefixFold(s, "role="); ok {
		return parseRole(raw, rest)
	}
	if sel, ok, err := parseAria(raw, s); ok || err != nil {
		return sel, err
	}
	if rest, ok := cutPrefixFold(s, "text="); ok {
		rest = strings.TrimSpace(rest)
		if rest == "" {
			return nil, fmt.Errorf("selector %q: empty text", raw)
		}
		if isQuoted(rest) {
			content, err := unquote(rest)
			if err != nil {
				return nil, fmt.Errorf("selector %q: %w", raw, err)
			}
			return Text{Raw: raw, Content: content, Exact: true}, nil
		}
		return Text{Raw: raw, Content: rest}, nil
	}
	if isQuoted(s) {
		content, err := unquote(s)
		if err != nil {
			return nil, fmt.Errorf("selector %q: %w", raw, err)
		}
		return Text{Raw: raw, Content: content, Exact: true}, nil
	}

	parts, err := parseCSS(s)
	if err != nil {
		return nil, fmt.Errorf("selector %q: %w", raw, err)
	}
	return CSS{Raw: raw, parts: parts}, nil
}

func parseRole(raw, rest string) (Selector, error) {
	rest = strings.TrimSpace(rest)
	end := strings.IndexAny(rest, " [")
	if end < 0 {
		end = len(rest)
	}
	sel := RoleName{Raw: raw, Role: strings.ToLower(rest[:end])}
	if sel.Role == "" {
		return nil, fmt.Errorf("selector %q: missing role", raw)
	}
	rest = strings.TrimSpace(rest[end:])

	for rest != "" {
		var key, value string
		var hasValue bool
		switch {
		case strings.HasPrefix(rest, "["):
			end := closingBracket(rest)
			if end < 0 {
				return nil, fmt.Errorf("selector %q: unterminated [", raw)
			}
			key, value, hasValue = strings.Cut(rest[1:end], "=")
			rest = strings.TrimSpace(rest[end+1:])
		default:
			// role=button name="Go"
			k, v, ok := strings.Cut(rest, "=")
			if !ok {
				return nil, fmt.Errorf("selector %q: unexpected %q", raw, rest)
			}
			key, hasValue = k, true
			v = strings.TrimSpace(v)
			if isQuoted(v) || strings.HasPrefix(v, `"`) || strings.HasPrefix(v, "'") {
				q, err := quotedToken(v)
				if err != nil {
					return nil, fmt.Errorf("selector %q: %w", raw, err)
				}
				value = q
				rest = strings.TrimSpace(v[len(q):])
			} else {
				sp := strings.IndexByte(v, ' ')
				if sp < 0 {
					sp = len(v)
				}
				value = v[:sp]
				rest = strings.TrimSpace(v[sp:])
			}
		}

		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "name" {
			if !hasValue {
				return nil, fmt.Errorf("selector %q: name needs a value", raw)
			}
			sel.HasName = true
			if isQuoted(value) {
				name, err := unquote(value)
				if err != nil {
					return nil, fmt.Errorf("selector %q: %w", raw, err)
				}
				sel.Name, sel.Exact = name, true
			} else {
				sel.Name = value
			}
			continue
		}
		if !hasValue {
			value = "true"
		} else if isQuoted(value) {
			v, err := unquote(value)
			if err != nil {
				return nil, fmt.Errorf("selector %q: %w", raw, err)
			}
			value = v
		}
		if sel.Attrs == nil {
			sel.Attrs = map[string]string{}
		}
		sel.Attrs[strings.TrimPrefix(key, "aria-")] = value
	}
	return sel, nil
}

// parseAria recognises aria-*=v, label=v, placeholder=v and the bracketed
// [aria-*="v"] form. ok is false when s is not an ARIA selector.
func parseAria(raw, s string) (Selector, bool, error) {
	body := s
	bracketed := false
	if strings.HasPrefix(s, "[") {
		end := closingBracket(s)
		if end != len(s)-1 {
			return nil, false, nil // compound CSS
		}
		body = s[1:end]
		bracketed = true
	}

	key, value, ok := strings.Cut(body, "=")
	if !ok {
		return nil, false, nil
	}
	key = strings.ToLower(strings.TrimSpace(key))
	switch {
	case key == "aria-label" || key == "label" || key == "aria-labelledby":
		key = "label"
	case key == "placeholder":
	case strings.HasPrefix(key, "aria-") && !strings.ContainsAny(key, " *^$~|"):
		key = strings.TrimPrefix(key, "aria-")
	default:
		return nil, false, nil
	}
	if bracketed && key == "placeholder" {
		// [placeholder=x] is an ordinary CSS attribute selector.
		return nil, false, nil
	}

	value = strings.TrimSpace(value)
	if isQuoted(value) {
		v, err := unquote(value)
		if err != nil {
			return nil, true, fmt.Errorf("selector %q: %w", raw, err)
		}
		value = v
	}
	if value == "" {
		return nil, true, fmt.Errorf("selector %q: empty %s", raw, key)
	}
	return Aria{Raw: raw, Attr: key, Value: value}, true, nil
}

// Match implementations. Names are compared after whitespace normalization.

func (s RoleName) Match(n *Node, _ []*Node) bool {
	if !strings.EqualFold(n.Role, s.Role) {
		return false
	}
	if s.HasName {
		if s.Exact {
			if normalize(n.Name) != normalize(s.Name) {
				return false
			}
		} else if !containsFold(n.Name, s.Name) {
			return false
		}
	}
	for k, want := range s.Attrs {
		if !attrEquals(n, k, want) {
			return false
		}
	}
	return true
}

func (s Aria) Match(n *Node, _ []*Node) bool {
	switch s.Attr {
	case "label":
		return n.Name != "" && normalize(n.Name) == normalize(s.Value)
	case "placeholder":
		if v, ok := n.Attr("placeholder"); ok {
			return normalize(v) == normalize(s.Value)
		}
		return isTextInput(n.Role) && n.Name != "" && normalize(n.Name) == normalize(s.Value)
	default:
		return attrEquals(n, s.Attr, s.Value)
	}
}

func (s Text) Match(n *Node, _ []*Node) bool {
	if n.Role == RootRole {
		return false
	}
	for _, candidate := range []string{n.Name, n.Text} {
		if candidate == "" {
			continue
		}
		if s.Exact {
			if normalize(candidate) == normalize(s.Content) {
				return true
			}
		} else if containsFold(candidate, s.Content) {
			return true
		}
	}
	return false
}

func (s CSS) Match(n *Node, path []*Node) bool {
	return matchCSS(s.parts, n, path)
}

func attrEquals(n *Node, key, want string) bool {
	got, ok := n.Attr(key)
	if !ok {
		// Absent boolean state reads as false.
		return want == "false"
	}
	return got == want
}

func isTextInput(role string) bool {
	switch role {
	case "textbox", "searchbox", "combobox", "spinbutton":
		return true
	}
	return false
}

func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(normalize(s)), strings.ToLower(normalize(sub)))
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
		return s[len(prefix):], true
	}
	return s, false
}

func isQuoted(s string) bool {
	if len(s) < 2 {
		return false
	}
	q := s[0]
	return (q == '"' || q == '\'') && s[len(s)-1] == q
}

// unquote strips matching quotes and resolves backslash escapes.
func unquote(s string) (string, error) {
	if !isQuoted(s) {
		return s, nil
	}
	if s[0] == '"' {
		var out string
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			return "", fmt.Errorf("bad quoted string %s", s)
		}
		return out, nil
	}
	inner := s[1 : len(s)-1]
	return strings.ReplaceAll(inner, `\'`, `'`), nil
}

// quotedToken returns the leading quoted token of s, quotes included.
func quotedToken(s string) (string, error) {
	if s == "" {
		return "", fmt.Errorf("expected quoted string")
	}
	q := s[0]
	escaped := false
	for i := 1; i < len(s); i++ {
		switch {
		case escaped:
			escaped = false
		case s[i] == '\\':
			escaped = true
		case s[i] == q:
			return s[:i+1], nil
		}
	}
	return "", fmt.Errorf("unterminated quoted string")
}

// closingBracket returns the index of the ] matching the [ at s[0],
// skipping quoted sections, or -1.
func closingBracket(s string) int {
	var quote byte
	escaped := false
	for i := 1; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\':
			escaped = true
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == ']':
			return i
		}
	}
	return -1
}
