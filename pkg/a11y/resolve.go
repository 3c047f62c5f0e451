package a11y

import (
	"fmt"
	"sort"
	"strings"
)

// maxNearMisses bounds the candidates reported with ElementNotFound.
const maxNearMisses = 3

// ElementNotFound reports that no node matched a selector. Selector is the
// selector text exactly as the test wrote it.
type ElementNotFound struct {
	Selector   string
	NearMisses []string
}

func (e *ElementNotFound) Error() string {
	msg := fmt.Sprintf("element not found: %s", e.Selector)
	if len(e.NearMisses) > 0 {
		msg += fmt.Sprintf(" (similar: %s)", strings.Join(e.NearMisses, ", "))
	}
	return msg
}

// Resolve walks the tree depth-first in document order and returns the
// first node sel matches. Ties are always broken by document order.
func Resolve(root *Node, sel Selector) (*Node, error) {
	var found *Node
	Walk(root, func(n *Node, path []*Node) bool {
		if sel.Match(n, path) {
			found = n
			return false
		}
		return true
	})
	if found == nil {
		return nil, &ElementNotFound{Selector: sel.String(), NearMisses: nearMisses(root, sel)}
	}
	return found, nil
}

// All returns every node sel matches, in document order.
func All(root *Node, sel Selector) []*Node {
	var out []*Node
	Walk(root, func(n *Node, path []*Node) bool {
		if sel.Match(n, path) {
			out = append(out, n)
		}
		return true
	})
	return out
}

type candidate struct {
	node  *Node
	score int
	order int
}

// nearMisses ranks nodes that share a role or a label with what the
// selector asked for.
func nearMisses(root *Node, sel Selector) []string {
	role, label := hints(sel)
	if role == "" && label == "" {
		return nil
	}

	var cands []candidate
	order := 0
	Walk(root, func(n *Node, _ []*Node) bool {
		order++
		if n.Role == RootRole {
			return true
		}
		score := 0
		if role != "" && strings.EqualFold(n.Role, role) {
			score += 2
		}
		if label != "" {
			nl := n.Label()
			switch {
			case nl == "":
			case strings.EqualFold(normalize(nl), normalize(label)):
				score += 3
			case containsFold(nl, label) || containsFold(label, nl):
				score += 1
			}
		}
		if score > 0 {
			cands = append(cands, candidate{node: n, score: score, order: order})
		}
		return true
	})

	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		return cands[i].order < cands[j].order
	})
	var out []string
	for _, c := range cands {
		if len(out) == maxNearMisses {
			break
		}
		out = append(out, c.node.String())
	}
	return out
}

func hints(sel Selector) (role, label string) {
	switch s := sel.(type) {
	case RoleName:
		return s.Role, s.Name
	case Aria:
		if s.Attr == "label" || s.Attr == "placeholder" {
			return "", s.Value
		}
	case Text:
		return "", s.Content
	case CSS:
		for _, part := range s.parts {
			last := part[len(part)-1]
			if len(last.roles) == 1 {
				role = last.roles[0]
			}
			for _, p := range last.pseudos {
				if p.arg != "" {
					label = p.arg
				}
			}
			for _, a := range last.attrs {
				if a.name == "name" || a.name == "aria-label" {
					label = a.value
				}
			}
			return role, label
		}
	}
	return "", ""
}
