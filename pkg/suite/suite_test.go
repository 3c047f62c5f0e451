package suite

import (
	"encoding/json"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestDiscover(t *testing.T) {
	files, err := Discover("testdata")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		filepath.Join("testdata", "login.test.yaml"),
		filepath.Join("testdata", "nested", "search.test.yml"),
	}
	if !reflect.DeepEqual(files, want) {
		t.Errorf("got %v, want %v", files, want)
	}

	// explicit files are kept and duplicates dropped
	files, err = Discover(filepath.Join("testdata", "nested", "README.md"), "testdata", filepath.Join("testdata", "login.test.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 3 || files[0] != filepath.Join("testdata", "nested", "README.md") {
		t.Errorf("got %v", files)
	}

	if _, err := Discover(filepath.Join("testdata", "missing")); err == nil {
		t.Error("expected error for missing path")
	}
}

func TestLoadFile(t *testing.T) {
	f, err := LoadFile(filepath.Join("testdata", "login.test.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if f.Name != "login" || f.BaseURL != "http://app.local" || len(f.Tests) != 3 {
		t.Fatalf("unexpected file: %+v", f)
	}
	if f.Tests[0].Line != 13 {
		t.Errorf("test line = %d, want 13", f.Tests[0].Line)
	}
	if got := f.Tests[0].Steps[2].Kind(); got != KindClick {
		t.Errorf("kind = %q", got)
	}
	if f.Tests[0].Steps[0].Line != 16 {
		t.Errorf("step line = %d, want 16", f.Tests[0].Steps[0].Line)
	}
	if c := f.Tests[2].Steps[1].Assert.Checked; c == nil || !*c {
		t.Error("checked not decoded")
	}
}

func TestLoadPaths(t *testing.T) {
	files, err := LoadPaths("testdata")
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 || files[0].Name != "login" {
		t.Fatalf("got %d files", len(files))
	}
	if files[1].Path != filepath.Join("testdata", "nested", "search.test.yml") {
		t.Errorf("path = %s", files[1].Path)
	}

	if _, err := LoadPaths(t.TempDir()); err == nil || !strings.Contains(err.Error(), "no test files") {
		t.Errorf("err = %v, want no test files", err)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"empty", "", "empty document"},
		{"unknown top-level key", "tests: []\nbase: x\n", "base"},
		{"bad yaml", "tests: [\n", "decode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.doc))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q lacks %q", err, tt.want)
			}
		})
	}
}

func TestCases(t *testing.T) {
	f, err := LoadFile(filepath.Join("testdata", "login.test.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	cases, err := Cases([]*File{f}, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(cases) != 3 {
		t.Fatalf("got %d cases", len(cases))
	}

	first := cases[0]
	if first.Name != "login / signs in" || first.Index != 0 {
		t.Errorf("first = %q #%d", first.Name, first.Index)
	}
	if !reflect.DeepEqual(first.Tags, []string{"smoke", "auth"}) {
		t.Errorf("tags = %v", first.Tags)
	}
	if first.Timeout != 20*time.Second {
		t.Errorf("timeout = %s, want file timeout", first.Timeout)
	}
	if len(first.Setup) != 1 || first.Setup[0].Navigate != "/login" {
		t.Errorf("setup = %+v", first.Setup)
	}

	second := cases[1]
	if second.Timeout != 5*time.Second {
		t.Errorf("timeout = %s, want test timeout", second.Timeout)
	}
	if len(second.Cleanup) != 2 || second.Cleanup[0].Screenshot != "rejected" || second.Cleanup[1].Navigate != "/logout" {
		t.Errorf("cleanup order = %+v", second.Cleanup)
	}
	if len(first.Cleanup) != 1 {
		t.Errorf("cleanup leaked between cases: %+v", first.Cleanup)
	}

	if cases[2].Skip == "" {
		t.Error("skip reason lost")
	}
	if loc := first.Location(first.Steps[0]); loc != f.Path+":16" {
		t.Errorf("location = %q", loc)
	}
}

func TestCases_Filter(t *testing.T) {
	f, err := LoadFile(filepath.Join("testdata", "login.test.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"regexp", Filter{Name: "^login / (signs|rejects)"}, []string{"login / signs in", "login / rejects a bad password"}},
		{"substring fallback", Filter{Name: "bad password ("}, nil},
		{"substring", Filter{Name: "remembers"}, []string{"login / remembers the user"}},
		{"tag", Filter{Tags: []string{"auth"}}, []string{"login / signs in"}},
		{"file tag", Filter{Tags: []string{"smoke"}}, []string{"login / signs in", "login / rejects a bad password", "login / remembers the user"}},
		{"no match", Filter{Tags: []string{"nightly"}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cases, err := Cases([]*File{f}, tt.filter)
			if err != nil {
				t.Fatal(err)
			}
			var names []string
			for i, c := range cases {
				if c.Index != i {
					t.Errorf("%s index = %d, want %d", c.Name, c.Index, i)
				}
				names = append(names, c.Name)
			}
			if !reflect.DeepEqual(names, tt.want) {
				t.Errorf("got %v, want %v", names, tt.want)
			}
		})
	}
}

func TestStepDescribe(t *testing.T) {
	tests := []struct {
		step Step
		want string
	}{
		{Step{Navigate: "/x"}, "navigate /x"},
		{Step{Click: "text=Go"}, "click text=Go"},
		{Step{Fill: &Fill{Selector: "label=Email"}}, "fill label=Email"},
		{Step{Assert: &Assert{URLContains: "/home"}}, "assert page"},
		{Step{Wait: "1s"}, "wait 1s"},
		{Step{Name: "log in", Click: "text=Go"}, "log in"},
		{Step{Click: "a", Navigate: "/b"}, "invalid step"},
	}
	for _, tt := range tests {
		if got := tt.step.Describe(); got != tt.want {
			t.Errorf("Describe(%+v) = %q, want %q", tt.step, got, tt.want)
		}
	}
}

func TestValidateFile_Valid(t *testing.T) {
	for _, path := range []string{
		filepath.Join("testdata", "login.test.yaml"),
		filepath.Join("testdata", "nested", "search.test.yml"),
	} {
		f, errs := ValidateFile(path)
		if len(errs) > 0 {
			t.Errorf("%s: unexpected problems: %v", path, errs)
		}
		if f == nil || f.Path != path {
			t.Errorf("%s: file not returned", path)
		}
	}
}

func TestValidate_Schema(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		path string
		line int
	}{
		{
			name: "unknown step key",
			doc:  "tests:\n  - name: a\n    steps:\n      - clik: text=Go\n",
			path: "tests[0].steps[0]",
			line: 4,
		},
		{
			name: "missing steps",
			doc:  "tests:\n  - name: a\n",
			path: "tests[0]",
			line: 2,
		},
		{
			name: "no tests",
			doc:  "name: empty\ntests: []\n",
			path: "tests",
			line: 2,
		},
		{
			name: "bad duration",
			doc:  "tests:\n  - name: a\n    steps:\n      - wait: soon\n",
			path: "tests[0].steps[0].wait",
			line: 4,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, errs := Validate([]byte(tt.doc))
			if len(errs) == 0 {
				t.Fatal("expected schema errors")
			}
			found := false
			for _, e := range errs {
				if e.Phase != "schema" {
					t.Errorf("phase = %q", e.Phase)
				}
				if e.Path == tt.path {
					found = true
					if e.Line != tt.line {
						t.Errorf("line = %d, want %d", e.Line, tt.line)
					}
				}
			}
			if !found {
				t.Errorf("no error at %s: %v", tt.path, errs)
			}
		})
	}
}

func TestValidate_Syntax(t *testing.T) {
	for _, doc := range []string{"", "tests: [\n"} {
		_, errs := Validate([]byte(doc))
		if len(errs) != 1 || errs[0].Phase != "syntax" {
			t.Errorf("%q: got %v", doc, errs)
		}
	}
}

func TestValidateSemantic(t *testing.T) {
	yes := true
	tests := []struct {
		name     string
		step     Step
		severity string
		want     string
	}{
		{"no action", Step{Name: "nothing"}, "error", "no action"},
		{"two actions", Step{Click: "text=Go", Navigate: "/x"}, "error", "several actions"},
		{"bad selector", Step{Click: `role=button[name="Go"`}, "error", "invalid selector"},
		{"bad fill selector", Step{Fill: &Fill{Selector: "role="}}, "error", "invalid selector"},
		{"element check without selector", Step{Assert: &Assert{Name: "Go"}}, "error", "need a selector"},
		{"empty assert", Step{Assert: &Assert{}}, "error", "nothing to check"},
		{"gone with checks", Step{Assert: &Assert{Selector: "text=Go", Gone: true, Checked: &yes}}, "error", "gone cannot"},
		{"bad expr", Step{Assert: &Assert{Expr: "node.nope > 1"}}, "error", "compile expr"},
		{"non-bool expr", Step{Assert: &Assert{Expr: "page.title"}}, "error", "compile expr"},
		{"bad wait", Step{Wait: "soon"}, "error", "invalid duration"},
		{"relative navigate", Step{Navigate: "/home"}, "warning", "without base_url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &File{Tests: []Test{{Name: "t", Steps: []Step{tt.step}}}}
			errs := ValidateSemantic(f)
			if len(errs) != 1 {
				t.Fatalf("got %d problems: %v", len(errs), errs)
			}
			if errs[0].Severity != tt.severity || !strings.Contains(errs[0].Message, tt.want) {
				t.Errorf("got %v, want %s containing %q", errs[0], tt.severity, tt.want)
			}
			if !strings.HasPrefix(errs[0].Path, "tests[0].steps[0]") {
				t.Errorf("path = %q", errs[0].Path)
			}
		})
	}
}

func TestValidateSemantic_Tests(t *testing.T) {
	step := []Step{{Click: "text=Go"}}
	f := &File{
		Timeout: "whenever",
		Tests: []Test{
			{Name: "a", Steps: step},
			{Name: "a", Steps: step},
			{Name: "", Steps: step},
			{Name: "b", Timeout: "1x"},
		},
	}
	errs := ValidateSemantic(f)
	want := map[string]string{
		"timeout":          "error",
		"tests[1].name":    "warning",
		"tests[2].name":    "error",
		"tests[3].timeout": "error",
		"tests[3].steps":   "error",
	}
	got := map[string]string{}
	for _, e := range errs {
		got[e.Path] = e.Severity
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if !HasErrors(errs) {
		t.Error("HasErrors = false")
	}
	if HasErrors([]*ValidationError{{Severity: "warning"}}) {
		t.Error("warnings alone are not errors")
	}
}

func TestGenerateJSONSchema(t *testing.T) {
	data, err := GenerateJSONSchema()
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("schema is not JSON: %v", err)
	}
	if doc["$id"] != SchemaID {
		t.Errorf("$id = %v", doc["$id"])
	}
	for _, want := range []string{`"wait_for"`, `"text_contains"`, `"base_url"`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("schema lacks %s", want)
		}
	}
	if strings.Contains(string(data), `"Line"`) || strings.Contains(string(data), `"Path"`) {
		t.Error("internal fields leaked into schema")
	}
}

func TestEvalExpr(t *testing.T) {
	env := ExprEnv{
		Node: ExprNode{Role: "button", Name: "Sign in", Children: 2},
		Page: ExprPage{URL: "http://app.local/login", Title: "Login"},
	}
	tests := []struct {
		src  string
		want bool
	}{
		{`node.role == "button" && node.children > 1`, true},
		{`page.url endsWith "/login"`, true},
		{`page.title contains "Home"`, false},
	}
	for _, tt := range tests {
		got, err := EvalExpr(tt.src, env)
		if err != nil {
			t.Fatalf("%s: %v", tt.src, err)
		}
		if got != tt.want {
			t.Errorf("%s = %v, want %v", tt.src, got, tt.want)
		}
	}
}
