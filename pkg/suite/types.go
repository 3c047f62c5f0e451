// Package suite defines the YAML test file format, loads and validates test
// files, and flattens them into the ordered test cases the engine runs.
package suite

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// File is one *.test.yaml document.
type File struct {
	Name    string   `yaml:"name,omitempty"     json:"name,omitempty"`
	Tags    []string `yaml:"tags,omitempty"     json:"tags,omitempty"`
	BaseURL string   `yaml:"base_url,omitempty" json:"base_url,omitempty" jsonschema:"description=Prefix for navigate URLs that start with /"`
	Timeout string   `yaml:"timeout,omitempty"  json:"timeout,omitempty"  jsonschema:"pattern=^([0-9]+(\\.[0-9]+)?(ns|us|ms|s|m|h))+$"`
	Setup   []Step   `yaml:"setup,omitempty"    json:"setup,omitempty"`
	Cleanup []Step   `yaml:"cleanup,omitempty"  json:"cleanup,omitempty"`
	Tests   []Test   `yaml:"tests"              json:"tests"              jsonschema:"required,minItems=1"`

	Path string `yaml:"-" json:"-"`
}

// Test is one named action sequence.
type Test struct {
	Name    string   `yaml:"name"              json:"name"              jsonschema:"required,minLength=1"`
	Tags    []string `yaml:"tags,omitempty"    json:"tags,omitempty"`
	Skip    string   `yaml:"skip,omitempty"    json:"skip,omitempty"    jsonschema:"description=Reason the test is skipped"`
	Timeout string   `yaml:"timeout,omitempty" json:"timeout,omitempty" jsonschema:"pattern=^([0-9]+(\\.[0-9]+)?(ns|us|ms|s|m|h))+$"`
	Setup   []Step   `yaml:"setup,omitempty"   json:"setup,omitempty"`
	Steps   []Step   `yaml:"steps"             json:"steps"             jsonschema:"required,minItems=1"`
	Cleanup []Step   `yaml:"cleanup,omitempty" json:"cleanup,omitempty"`

	Line int `yaml:"-" json:"-"`
}

// Step is one action. Exactly one action field is set.
type Step struct {
	Name       string  `yaml:"name,omitempty"       json:"name,omitempty"`
	Navigate   string  `yaml:"navigate,omitempty"   json:"navigate,omitempty"   jsonschema:"description=URL to load"`
	Click      string  `yaml:"click,omitempty"      json:"click,omitempty"      jsonschema:"description=Selector of the element to click"`
	Fill       *Fill   `yaml:"fill,omitempty"       json:"fill,omitempty"`
	Assert     *Assert `yaml:"assert,omitempty"     json:"assert,omitempty"`
	Screenshot string  `yaml:"screenshot,omitempty" json:"screenshot,omitempty" jsonschema:"description=File name for the captured image"`
	Wait       string  `yaml:"wait,omitempty"       json:"wait,omitempty"       jsonschema:"pattern=^([0-9]+(\\.[0-9]+)?(ns|us|ms|s|m|h))+$"`
	WaitFor    string  `yaml:"wait_for,omitempty"   json:"wait_for,omitempty"   jsonschema:"description=Selector to poll for until it resolves"`

	Line int `yaml:"-" json:"-"`
}

// Fill types text into an element.
type Fill struct {
	Selector string `yaml:"selector" json:"selector" jsonschema:"required,minLength=1"`
	Text     string `yaml:"text"     json:"text"`
}

// Assert checks page or element state. Selector is required unless only
// page-level checks are given.
type Assert struct {
	Selector      string `yaml:"selector,omitempty"       json:"selector,omitempty"`
	Name          string `yaml:"name,omitempty"           json:"name,omitempty"`
	Role          string `yaml:"role,omitempty"           json:"role,omitempty"`
	TextContains  string `yaml:"text_contains,omitempty"  json:"text_contains,omitempty"`
	Checked       *bool  `yaml:"checked,omitempty"        json:"checked,omitempty"`
	Disabled      *bool  `yaml:"disabled,omitempty"       json:"disabled,omitempty"`
	Gone          bool   `yaml:"gone,omitempty"           json:"gone,omitempty"`
	URLContains   string `yaml:"url_contains,omitempty"   json:"url_contains,omitempty"`
	TitleContains string `yaml:"title_contains,omitempty" json:"title_contains,omitempty"`
	Expr          string `yaml:"expr,omitempty"           json:"expr,omitempty" jsonschema:"description=expr-lang boolean over node and page"`
}

// PageOnly reports whether the assertion needs no element.
func (a *Assert) PageOnly() bool {
	return a.Selector == "" && (a.URLContains != "" || a.TitleContains != "" || a.Expr != "")
}

// Step kinds.
const (
	KindNavigate   = "navigate"
	KindClick      = "click"
	KindFill       = "fill"
	KindAssert     = "assert"
	KindScreenshot = "screenshot"
	KindWait       = "wait"
	KindWaitFor    = "wait_for"
)

// Kinds returns the action kinds set on the step, in declaration order.
func (s Step) Kinds() []string {
	var kinds []string
	if s.Navigate != "" {
		kinds = append(kinds, KindNavigate)
	}
	if s.Click != "" {
		kinds = append(kinds, KindClick)
	}
	if s.Fill != nil {
		kinds = append(kinds, KindFill)
	}
	if s.Assert != nil {
		kinds = append(kinds, KindAssert)
	}
	if s.Screenshot != "" {
		kinds = append(kinds, KindScreenshot)
	}
	if s.Wait != "" {
		kinds = append(kinds, KindWait)
	}
	if s.WaitFor != "" {
		kinds = append(kinds, KindWaitFor)
	}
	return kinds
}

// Kind returns the step's single action kind, or "" if it has none or several.
func (s Step) Kind() string {
	if k := s.Kinds(); len(k) == 1 {
		return k[0]
	}
	return ""
}

// Selector returns the selector the step targets, if any.
func (s Step) Selector() string {
	switch {
	case s.Click != "":
		return s.Click
	case s.Fill != nil:
		return s.Fill.Selector
	case s.Assert != nil:
		return s.Assert.Selector
	case s.WaitFor != "":
		return s.WaitFor
	}
	return ""
}

// Describe renders the step for logs and reports.
func (s Step) Describe() string {
	if s.Name != "" {
		return s.Name
	}
	switch s.Kind() {
	case KindNavigate:
		return "navigate " + s.Navigate
	case KindClick:
		return "click " + s.Click
	case KindFill:
		return "fill " + s.Fill.Selector
	case KindAssert:
		if s.Assert.Selector != "" {
			return "assert " + s.Assert.Selector
		}
		return "assert page"
	case KindScreenshot:
		return "screenshot " + s.Screenshot
	case KindWait:
		return "wait " + s.Wait
	case KindWaitFor:
		return "wait for " + s.WaitFor
	}
	return "invalid step"
}

// UnmarshalYAML records the step's source line.
func (s *Step) UnmarshalYAML(n *yaml.Node) error {
	type plain Step
	if err := n.Decode((*plain)(s)); err != nil {
		return err
	}
	s.Line = n.Line
	return nil
}

// UnmarshalYAML records the test's source line.
func (t *Test) UnmarshalYAML(n *yaml.Node) error {
	type plain Test
	if err := n.Decode((*plain)(t)); err != nil {
		return err
	}
	t.Line = n.Line
	return nil
}

// TestCase is one test ready to run, with file-level setup and cleanup
// folded in. It is read-only once built.
type TestCase struct {
	Index   int
	Name    string
	Tags    []string
	File    string
	Line    int
	BaseURL string
	Skip    string
	Timeout time.Duration // zero means the run default
	Setup   []Step
	Steps   []Step
	Cleanup []Step
}

// Location renders file:line for a step of this case.
func (tc *TestCase) Location(s Step) string {
	if tc.File == "" {
		return ""
	}
	line := s.Line
	if line == 0 {
		line = tc.Line
	}
	if line == 0 {
		return tc.File
	}
	return fmt.Sprintf("%s:%d", tc.File, line)
}
