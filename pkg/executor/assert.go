package executor

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/softwarewrighter/ui-test/pkg/a11y"
	"github.com/softwarewrighter/ui-test/pkg/suite"
)

// assert checks an assert step against one fresh snapshot. Failures are
// deterministic and never retried; only taking the snapshot is.
func (r *run) assert(ctx context.Context, s suite.Step) error {
	a := s.Assert
	var snap *a11y.Snapshot
	err := r.retry(ctx, s, func(ctx context.Context) error {
		var err error
		snap, err = r.snapshot(ctx)
		return err
	})
	if err != nil {
		return err
	}

	fail := func(check, want, got string) error {
		return &AssertionError{Selector: a.Selector, Check: check, Expected: want, Actual: got}
	}

	if a.URLContains != "" && !strings.Contains(snap.URL, a.URLContains) {
		return fail("url_contains", a.URLContains, snap.URL)
	}
	if a.TitleContains != "" && !strings.Contains(snap.Title, a.TitleContains) {
		return fail("title_contains", a.TitleContains, snap.Title)
	}

	var node *a11y.Node
	if a.Selector != "" {
		_, n, err := snap.Resolve(a.Selector)
		var nf *a11y.ElementNotFound
		switch {
		case a.Gone && err == nil:
			return fail("gone", "no match", n.String())
		case a.Gone && errors.As(err, &nf):
		case err != nil:
			return err
		default:
			node = n
		}
	}

	if node != nil {
		if a.Name != "" && node.Name != a.Name {
			return fail("name", a.Name, node.Name)
		}
		if a.Role != "" && !strings.EqualFold(node.Role, a.Role) {
			return fail("role", a.Role, node.Role)
		}
		if a.TextContains != "" {
			if text := node.TextContent(); !strings.Contains(text, a.TextContains) {
				return fail("text_contains", a.TextContains, text)
			}
		}
		if a.Checked != nil && node.Flag("checked") != *a.Checked {
			return fail("checked", strconv.FormatBool(*a.Checked), strconv.FormatBool(node.Flag("checked")))
		}
		if a.Disabled != nil && node.Flag("disabled") != *a.Disabled {
			return fail("disabled", strconv.FormatBool(*a.Disabled), strconv.FormatBool(node.Flag("disabled")))
		}
	}

	if a.Expr != "" {
		ok, err := suite.EvalExpr(a.Expr, exprEnv(node, snap))
		if err != nil {
			return err
		}
		if !ok {
			return fail("expr", a.Expr, "false")
		}
	}
	return nil
}

func exprEnv(n *a11y.Node, snap *a11y.Snapshot) suite.ExprEnv {
	env := suite.ExprEnv{Page: suite.ExprPage{URL: snap.URL, Title: snap.Title, Nodes: a11y.Count(snap.Root)}}
	if n != nil {
		attrs := map[string]string{}
		for k, v := range n.Attrs {
			attrs[k] = v
		}
		env.Node = suite.ExprNode{
			Ref:      n.Ref,
			Role:     n.Role,
			Name:     n.Name,
			Text:     n.TextContent(),
			Attrs:    attrs,
			Checked:  n.Flag("checked"),
			Disabled: n.Flag("disabled"),
			Children: len(n.Children),
		}
	}
	return env
}
