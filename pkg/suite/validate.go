package suite

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"

	"github.com/softwarewrighter/ui-test/pkg/a11y"
)

// ValidationError is one problem found in a test file.
type ValidationError struct {
	Phase    string `json:"phase"` // syntax, schema, semantic
	Path     string `json:"path"`  // e.g. tests[0].steps[2].click
	Line     int    `json:"line,omitempty"`
	Message  string `json:"message"`
	Severity string `json:"severity"` // error, warning
}

func (e *ValidationError) Error() string {
	loc := e.Path
	if e.Line > 0 {
		loc = fmt.Sprintf("line %d: %s", e.Line, e.Path)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Phase, loc, e.Message)
}

// HasErrors reports whether any problem is an error rather than a warning.
func HasErrors(errs []*ValidationError) bool {
	for _, e := range errs {
		if e.Severity == "error" {
			return true
		}
	}
	return false
}

// ValidateFile runs the full pipeline on a test file: YAML syntax, the JSON
// Schema, then semantic checks. The file is returned whenever it decoded.
func ValidateFile(path string) (*File, []*ValidationError) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, []*ValidationError{{Phase: "syntax", Message: err.Error(), Severity: "error"}}
	}
	f, errs := Validate(data)
	if f != nil {
		f.Path = path
	}
	return f, errs
}

// Validate runs the validation pipeline on a test file's contents.
func Validate(data []byte) (*File, []*ValidationError) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, []*ValidationError{{Phase: "syntax", Message: err.Error(), Severity: "error"}}
	}
	if len(doc.Content) == 0 {
		return nil, []*ValidationError{{Phase: "syntax", Message: "empty document", Severity: "error"}}
	}

	if errs := validateSchema(&doc); len(errs) > 0 {
		return nil, errs
	}

	f, err := Load(bytes.NewReader(data))
	if err != nil {
		return nil, []*ValidationError{{Phase: "syntax", Message: err.Error(), Severity: "error"}}
	}
	errs := ValidateSemantic(f)
	return f, errs
}

var (
	compiledOnce   sync.Once
	compiledSchema *sjsonschema.Schema
	compiledErr    error
)

func testFileSchema() (*sjsonschema.Schema, error) {
	compiledOnce.Do(func() {
		schemaJSON, err := GenerateJSONSchema()
		if err != nil {
			compiledErr = err
			return
		}
		schemaDoc, err := sjsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
		if err != nil {
			compiledErr = fmt.Errorf("unmarshal schema: %w", err)
			return
		}
		c := sjsonschema.NewCompiler()
		if err := c.AddResource(SchemaID, schemaDoc); err != nil {
			compiledErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		compiledSchema, compiledErr = c.Compile(SchemaID)
	})
	return compiledSchema, compiledErr
}

// validateSchema checks the raw document, so unknown keys anywhere in the
// tree are caught.
func validateSchema(doc *yaml.Node) []*ValidationError {
	schemaErr := func(msg string) []*ValidationError {
		return []*ValidationError{{Phase: "schema", Message: msg, Severity: "error"}}
	}
	sch, err := testFileSchema()
	if err != nil {
		return schemaErr(fmt.Sprintf("compile schema: %v", err))
	}

	var raw any
	if err := doc.Decode(&raw); err != nil {
		return schemaErr(err.Error())
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return schemaErr(fmt.Sprintf("document is not JSON-compatible: %v", err))
	}
	inst, err := sjsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return schemaErr(err.Error())
	}

	err = sch.Validate(inst)
	if err == nil {
		return nil
	}
	ve, ok := err.(*sjsonschema.ValidationError)
	if !ok {
		return schemaErr(err.Error())
	}
	printer := message.NewPrinter(language.English)
	var errs []*ValidationError
	for _, cause := range flattenValidationErrors(ve) {
		errs = append(errs, &ValidationError{
			Phase:    "schema",
			Path:     jsonPath(cause.InstanceLocation),
			Line:     lineOf(doc, cause.InstanceLocation),
			Message:  cause.ErrorKind.LocalizedString(printer),
			Severity: "error",
		})
	}
	return errs
}

// flattenValidationErrors recursively collects all leaf validation errors.
func flattenValidationErrors(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flattenValidationErrors(cause)...)
	}
	return flat
}

// jsonPath renders an instance location as tests[0].steps[1].click.
func jsonPath(loc []string) string {
	var sb strings.Builder
	for _, seg := range loc {
		if _, err := strconv.Atoi(seg); err == nil {
			fmt.Fprintf(&sb, "[%s]", seg)
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('.')
		}
		sb.WriteString(seg)
	}
	return sb.String()
}

// lineOf follows loc through the YAML tree and returns the line of the
// deepest node reached.
func lineOf(doc *yaml.Node, loc []string) int {
	n := doc
	if n.Kind == yaml.DocumentNode && len(n.Content) > 0 {
		n = n.Content[0]
	}
	line := n.Line
	for _, seg := range loc {
		var next *yaml.Node
		switch n.Kind {
		case yaml.MappingNode:
			for i := 0; i+1 < len(n.Content); i += 2 {
				if n.Content[i].Value == seg {
					next = n.Content[i+1]
					line = n.Content[i].Line
					break
				}
			}
		case yaml.SequenceNode:
			if i, err := strconv.Atoi(seg); err == nil && i >= 0 && i < len(n.Content) {
				next = n.Content[i]
				line = next.Line
			}
		}
		if next == nil {
			break
		}
		n = next
	}
	return line
}

// ValidateSemantic checks what the schema cannot express: one action per
// step, parseable selectors, durations and expressions.
func ValidateSemantic(f *File) []*ValidationError {
	var errs []*ValidationError
	add := func(path string, line int, severity, format string, args ...any) {
		errs = append(errs, &ValidationError{
			Phase:    "semantic",
			Path:     path,
			Line:     line,
			Message:  fmt.Sprintf(format, args...),
			Severity: severity,
		})
	}

	if f.Timeout != "" {
		if _, err := time.ParseDuration(f.Timeout); err != nil {
			add("timeout", 0, "error", "invalid timeout %q: %v", f.Timeout, err)
		}
	}
	if len(f.Tests) == 0 {
		add("tests", 0, "error", "file must contain at least one test")
	}

	checkSteps := func(prefix string, steps []Step) {
		for i, s := range steps {
			errs = append(errs, validateStep(fmt.Sprintf("%s[%d]", prefix, i), s, f.BaseURL)...)
		}
	}
	checkSteps("setup", f.Setup)
	checkSteps("cleanup", f.Cleanup)

	names := map[string]int{}
	for i, t := range f.Tests {
		path := fmt.Sprintf("tests[%d]", i)
		if t.Name == "" {
			add(path+".name", t.Line, "error", "test requires a name")
		} else if prev, ok := names[t.Name]; ok {
			add(path+".name", t.Line, "warning", "duplicate test name %q (first at tests[%d])", t.Name, prev)
		} else {
			names[t.Name] = i
		}
		if t.Timeout != "" {
			if _, err := time.ParseDuration(t.Timeout); err != nil {
				add(path+".timeout", t.Line, "error", "invalid timeout %q: %v", t.Timeout, err)
			}
		}
		if len(t.Steps) == 0 {
			add(path+".steps", t.Line, "error", "test %q has no steps", t.Name)
		}
		checkSteps(path+".setup", t.Setup)
		checkSteps(path+".steps", t.Steps)
		checkSteps(path+".cleanup", t.Cleanup)
	}
	return errs
}

func validateStep(path string, s Step, baseURL string) []*ValidationError {
	var errs []*ValidationError
	add := func(field, severity, format string, args ...any) {
		p := path
		if field != "" {
			p += "." + field
		}
		errs = append(errs, &ValidationError{
			Phase:    "semantic",
			Path:     p,
			Line:     s.Line,
			Message:  fmt.Sprintf(format, args...),
			Severity: severity,
		})
	}
	selector := func(field, sel string) {
		if _, err := a11y.ParseSelector(sel); err != nil {
			add(field, "error", "invalid selector %q: %v", sel, err)
		}
	}

	kinds := s.Kinds()
	switch len(kinds) {
	case 0:
		add("", "error", "step has no action (expected one of navigate, click, fill, assert, screenshot, wait, wait_for)")
		return errs
	case 1:
	default:
		add("", "error", "step has several actions (%s); split it into one step per action", strings.Join(kinds, ", "))
		return errs
	}

	switch kinds[0] {
	case KindNavigate:
		if strings.HasPrefix(s.Navigate, "/") && baseURL == "" {
			add("navigate", "warning", "relative URL %q without base_url", s.Navigate)
		}
	case KindClick:
		selector("click", s.Click)
	case KindFill:
		selector("fill.selector", s.Fill.Selector)
	case KindWaitFor:
		selector("wait_for", s.WaitFor)
	case KindWait:
		if _, err := time.ParseDuration(s.Wait); err != nil {
			add("wait", "error", "invalid duration %q: %v", s.Wait, err)
		}
	case KindAssert:
		a := s.Assert
		elementChecks := a.Name != "" || a.Role != "" || a.TextContains != "" || a.Checked != nil || a.Disabled != nil || a.Gone
		if a.Selector == "" {
			if elementChecks {
				add("assert", "error", "element checks need a selector")
			} else if !a.PageOnly() {
				add("assert", "error", "assert has nothing to check")
			}
		} else {
			selector("assert.selector", a.Selector)
		}
		if a.Gone && (a.Name != "" || a.Role != "" || a.TextContains != "" || a.Checked != nil || a.Disabled != nil) {
			add("assert.gone", "error", "gone cannot be combined with element checks")
		}
		if a.Expr != "" {
			if _, err := CompileExpr(a.Expr); err != nil {
				add("assert.expr", "error", "%v", err)
			}
		}
	}
	return errs
}
