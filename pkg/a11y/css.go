package a11y

import (
	"fmt"
	"strings"
)

// tagRoles maps HTML tags to the roles they surface as in the accessibility
// tree. A tag not listed here is taken to be a role name.
var tagRoles = map[string][]string{
	"a":        {"link"},
	"article":  {"article"},
	"aside":    {"complementary"},
	"button":   {"button"},
	"dialog":   {"dialog"},
	"div":      {"generic"},
	"footer":   {"contentinfo"},
	"form":     {"form"},
	"header":   {"banner"},
	"img":      {"img"},
	"input":    {"textbox", "checkbox", "radio", "button", "spinbutton", "searchbox", "slider", "combobox"},
	"li":       {"listitem"},
	"main":     {"main"},
	"nav":      {"navigation"},
	"ol":       {"list"},
	"option":   {"option"},
	"p":        {"paragraph"},
	"section":  {"region"},
	"select":   {"combobox", "listbox"},
	"span":     {"generic"},
	"table":    {"table"},
	"td":       {"cell"},
	"textarea": {"textbox"},
	"th":       {"columnheader"},
	"tr":       {"row"},
	"ul":       {"list"},
}

var inputTypeRoles = map[string]string{
	"button":   "button",
	"checkbox": "checkbox",
	"email":    "textbox",
	"number":   "spinbutton",
	"password": "textbox",
	"radio":    "radio",
	"range":    "slider",
	"reset":    "button",
	"search":   "searchbox",
	"submit":   "button",
	"tel":      "textbox",
	"text":     "textbox",
	"url":      "textbox",
}

type cssAttr struct {
	name  string
	op    string // "", "=", "*=", "^=", "$=", "~="
	value string
}

type cssPseudo struct {
	name string
	arg  string
}

type cssCompound struct {
	roles   []string // empty: any role
	level   string   // h1..h6
	attrs   []cssAttr
	pseudos []cssPseudo
	child   bool // joined to the previous compound by '>'
}

// cssPart is one comma-separated alternative: a chain of compounds.
type cssPart []cssCompound

func parseCSS(s string) ([]cssPart, error) {
	var parts []cssPart
	for _, alt := range splitTopLevel(s, ',') {
		alt = strings.TrimSpace(alt)
		if alt == "" {
			return nil, fmt.Errorf("empty selector in list")
		}
		chain, err := parseChain(alt)
		if err != nil {
			return nil, err
		}
		parts = append(parts, chain)
	}
	return parts, nil
}

func parseChain(s string) (cssPart, error) {
	var chain cssPart
	child := false
	i := 0
	for i < len(s) {
		switch c := s[i]; {
		case c == ' ' || c == '\t':
			i++
		case c == '>':
			if len(chain) == 0 || child {
				return nil, fmt.Errorf("misplaced '>'")
			}
			child = true
			i++
		case c == '+' || c == '~':
			return nil, fmt.Errorf("sibling combinator %q is not supported", string(c))
		default:
			comp, n, err := parseCompound(s[i:])
			if err != nil {
				return nil, err
			}
			comp.child = child
			child = false
			chain = append(chain, comp)
			i += n
		}
	}
	if child {
		return nil, fmt.Errorf("selector ends with '>'")
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("empty selector")
	}
	return chain, nil
}

func parseCompound(s string) (cssCompound, int, error) {
	var comp cssCompound
	i := 0

	start := i
	for i < len(s) && isIdentChar(s[i]) {
		i++
	}
	tag := strings.ToLower(s[start:i])
	if tag == "" && i < len(s) && s[i] == '*' {
		i++
	}

	for i < len(s) {
		switch s[i] {
		case '[':
			end := closingBracket(s[i:])
			if end < 0 {
				return comp, 0, fmt.Errorf("unterminated '['")
			}
			attr, err := parseCSSAttr(s[i+1 : i+end])
			if err != nil {
				return comp, 0, err
			}
			comp.attrs = append(comp.attrs, attr)
			i += end + 1
		case ':':
			j := i + 1
			for j < len(s) && isIdentChar(s[j]) {
				j++
			}
			p := cssPseudo{name: s[i+1 : j]}
			if j < len(s) && s[j] == '(' {
				end := closingParen(s[j:])
				if end < 0 {
					return comp, 0, fmt.Errorf("unterminated '(' in :%s", p.name)
				}
				arg := strings.TrimSpace(s[j+1 : j+end])
				if isQuoted(arg) {
					v, err := unquote(arg)
					if err != nil {
						return comp, 0, err
					}
					arg = v
				}
				p.arg = arg
				j += end + 1
			}
			if err := checkPseudo(p); err != nil {
				return comp, 0, err
			}
			comp.pseudos = append(comp.pseudos, p)
			i = j
		case '#', '.':
			return comp, 0, fmt.Errorf("%q selectors need the DOM; use role=, text= or an attribute", string(s[i]))
		case ' ', '\t', '>', '+', '~':
			return finishCompound(comp, tag), i, nil
		default:
			return comp, 0, fmt.Errorf("unexpected %q", string(s[i]))
		}
	}
	return finishCompound(comp, tag), i, nil
}

func finishCompound(comp cssCompound, tag string) cssCompound {
	switch {
	case tag == "":
	case len(tag) == 2 && tag[0] == 'h' && tag[1] >= '1' && tag[1] <= '6':
		comp.roles = []string{"heading"}
		comp.level = tag[1:]
	default:
		if roles, ok := tagRoles[tag]; ok {
			comp.roles = roles
		} else {
			comp.roles = []string{tag}
		}
	}

	// type= only narrows the role; the tree carries no type attribute.
	kept := comp.attrs[:0]
	for _, a := range comp.attrs {
		if a.name == "type" && a.op == "=" {
			if tag == "input" {
				if role, ok := inputTypeRoles[strings.ToLower(a.value)]; ok {
					comp.roles = []string{role}
				}
			}
			continue
		}
		kept = append(kept, a)
	}
	comp.attrs = kept
	return comp
}

func parseCSSAttr(s string) (cssAttr, error) {
	s = strings.TrimSpace(s)
	for _, op := range []string{"*=", "^=", "$=", "~=", "="} {
		if idx := strings.Index(s, op); idx > 0 {
			a := cssAttr{
				name:  strings.ToLower(strings.TrimSpace(s[:idx])),
				op:    op,
				value: strings.TrimSpace(s[idx+len(op):]),
			}
			// Trailing case flag: [name="x" i]
			if strings.HasSuffix(a.value, " i") || strings.HasSuffix(a.value, " s") {
				a.value = strings.TrimSpace(a.value[:len(a.value)-2])
			}
			if isQuoted(a.value) {
				v, err := unquote(a.value)
				if err != nil {
					return a, err
				}
				a.value = v
			}
			return a, nil
		}
	}
	if s == "" {
		return cssAttr{}, fmt.Errorf("empty attribute selector")
	}
	return cssAttr{name: strings.ToLower(s)}, nil
}

func checkPseudo(p cssPseudo) error {
	switch p.name {
	case "has-text", "text", "text-is":
		if p.arg == "" {
			return fmt.Errorf(":%s needs an argument", p.name)
		}
	case "checked", "disabled", "enabled", "selected", "expanded", "visible":
	default:
		return fmt.Errorf("pseudo-class :%s is not supported", p.name)
	}
	return nil
}

func matchCSS(parts []cssPart, n *Node, path []*Node) bool {
	for _, chain := range parts {
		if matchChain(chain, len(chain)-1, n, path) {
			return true
		}
	}
	return false
}

func matchChain(chain cssPart, i int, n *Node, path []*Node) bool {
	if !chain[i].matches(n) {
		return false
	}
	if i == 0 {
		return true
	}
	if chain[i].child {
		if len(path) == 0 {
			return false
		}
		last := len(path) - 1
		return matchChain(chain, i-1, path[last], path[:last])
	}
	for j := len(path) - 1; j >= 0; j-- {
		if matchChain(chain, i-1, path[j], path[:j]) {
			return true
		}
	}
	return false
}

func (c cssCompound) matches(n *Node) bool {
	if n.Role == RootRole && len(c.roles) == 0 {
		return false
	}
	if len(c.roles) > 0 {
		ok := false
		for _, r := range c.roles {
			if strings.EqualFold(n.Role, r) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if c.level != "" {
		if lvl, _ := n.Attr("level"); lvl != c.level {
			return false
		}
	}
	for _, a := range c.attrs {
		if !a.matches(n) {
			return false
		}
	}
	for _, p := range c.pseudos {
		if !p.matches(n) {
			return false
		}
	}
	return true
}

func (a cssAttr) matches(n *Node) bool {
	got, ok := cssValue(n, a.name)
	if a.op == "" {
		return ok && got != "false"
	}
	if !ok {
		return false
	}
	switch a.op {
	case "=":
		return got == a.value
	case "*=":
		return strings.Contains(got, a.value)
	case "^=":
		return strings.HasPrefix(got, a.value)
	case "$=":
		return strings.HasSuffix(got, a.value)
	case "~=":
		for _, f := range strings.Fields(got) {
			if f == a.value {
				return true
			}
		}
	}
	return false
}

// cssValue maps a DOM attribute name onto what the accessibility tree keeps.
func cssValue(n *Node, name string) (string, bool) {
	switch name {
	case "name", "aria-label", "label", "title", "alt":
		return n.Name, n.Name != ""
	case "role":
		return n.Role, true
	case "ref":
		return n.Ref, n.Ref != ""
	case "value":
		return n.Text, n.Text != ""
	case "href":
		return n.Attr("url")
	}
	if rest, ok := strings.CutPrefix(name, "aria-"); ok {
		return n.Attr(rest)
	}
	return n.Attr(name)
}

func (p cssPseudo) matches(n *Node) bool {
	switch p.name {
	case "has-text", "text":
		found := false
		Walk(n, func(d *Node, _ []*Node) bool {
			if containsFold(d.Name, p.arg) || containsFold(d.Text, p.arg) {
				found = true
				return false
			}
			return true
		})
		return found
	case "text-is":
		return normalize(n.Name) == normalize(p.arg) || normalize(n.Text) == normalize(p.arg)
	case "enabled":
		return !n.Flag("disabled")
	case "visible":
		return true
	default:
		return n.Flag(p.name)
	}
}

func isIdentChar(c byte) bool {
	return c == '-' || c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func closingParen(s string) int {
	depth := 0
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '(':
			depth++
		case c == ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func splitTopLevel(s string, sep byte) []string {
	var out []string
	depth := 0
	var quote byte
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '(' || c == '[':
			depth++
		case c == ')' || c == ']':
			depth--
		case c == sep && depth == 0:
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return append(out, s[start:])
}
