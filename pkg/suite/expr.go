package suite

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ExprEnv is the environment an assert expr is evaluated in.
type ExprEnv struct {
	Node ExprNode `expr:"node"`
	Page ExprPage `expr:"page"`
}

// ExprNode is the resolved element, or the zero value for page-only asserts.
type ExprNode struct {
	Ref      string            `expr:"ref"`
	Role     string            `expr:"role"`
	Name     string            `expr:"name"`
	Text     string            `expr:"text"`
	Attrs    map[string]string `expr:"attrs"`
	Checked  bool              `expr:"checked"`
	Disabled bool              `expr:"disabled"`
	Children int               `expr:"children"`
}

// ExprPage describes the page the snapshot was taken from.
type ExprPage struct {
	URL   string `expr:"url"`
	Title string `expr:"title"`
	Nodes int    `expr:"nodes"`
}

// CompileExpr compiles a boolean assert expression.
func CompileExpr(src string) (*vm.Program, error) {
	program, err := expr.Compile(src, expr.Env(ExprEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile expr %q: %w", src, err)
	}
	return program, nil
}

// EvalExpr compiles and runs src against env.
func EvalExpr(src string, env ExprEnv) (bool, error) {
	program, err := CompileExpr(src)
	if err != nil {
		return false, err
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("eval expr %q: %w", src, err)
	}
	ok, isBool := out.(bool)
	if !isBool {
		return false, fmt.Errorf("expr %q did not return bool (got %T)", src, out)
	}
	return ok, nil
}
