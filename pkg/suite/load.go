package suite

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// IsTestFile reports whether name has a test file suffix.
func IsTestFile(name string) bool {
	return strings.HasSuffix(name, ".test.yaml") || strings.HasSuffix(name, ".test.yml")
}

// Discover returns the test files under each path, in lexical order. A path
// naming a file is returned as is, whatever its suffix.
func Discover(paths ...string) ([]string, error) {
	var files []string
	seen := map[string]bool{}
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			files = append(files, p)
		}
	}

	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("discover: %w", err)
		}
		if !info.IsDir() {
			add(root)
			continue
		}
		var found []string
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				name := d.Name()
				if path != root && (strings.HasPrefix(name, ".") || name == "node_modules") {
					return filepath.SkipDir
				}
				return nil
			}
			if IsTestFile(d.Name()) {
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("discover %s: %w", root, err)
		}
		slices.Sort(found)
		for _, f := range found {
			add(f)
		}
	}
	return files, nil
}

// LoadFile reads and decodes a test file. Unknown fields are rejected.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open test file: %w", err)
	}
	f, err := Load(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	f.Path = path
	return f, nil
}

// LoadPaths discovers and loads every test file under paths. It fails if
// none are found.
func LoadPaths(paths ...string) ([]*File, error) {
	names, err := Discover(paths...)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no test files found in %s", strings.Join(paths, ", "))
	}
	files := make([]*File, 0, len(names))
	for _, name := range names {
		f, err := LoadFile(name)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

// Load decodes a test file from r.
func Load(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("decode test file: empty document")
		}
		return nil, fmt.Errorf("decode test file: %w", err)
	}
	return &f, nil
}

// Filter selects test cases by name and tag.
type Filter struct {
	// Name matches case names: a regular expression when it compiles,
	// otherwise a plain substring.
	Name string
	// Tags keeps cases carrying at least one of these tags.
	Tags []string
}

// Match reports whether tc passes the filter.
func (f Filter) Match(tc *TestCase) bool {
	if f.Name != "" {
		if re, err := regexp.Compile(f.Name); err == nil {
			if !re.MatchString(tc.Name) {
				return false
			}
		} else if !strings.Contains(tc.Name, f.Name) {
			return false
		}
	}
	if len(f.Tags) > 0 {
		for _, t := range f.Tags {
			if slices.Contains(tc.Tags, t) {
				return true
			}
		}
		return false
	}
	return true
}

// Cases flattens files into test cases in file then declaration order,
// applying filter and numbering the survivors from zero.
func Cases(files []*File, filter Filter) ([]*TestCase, error) {
	var cases []*TestCase
	for _, f := range files {
		fileTimeout, err := parseTimeout(f.Timeout)
		if err != nil {
			return nil, fmt.Errorf("%s: timeout: %w", f.Path, err)
		}
		for _, t := range f.Tests {
			timeout, err := parseTimeout(t.Timeout)
			if err != nil {
				return nil, fmt.Errorf("%s:%d: timeout: %w", f.Path, t.Line, err)
			}
			if timeout == 0 {
				timeout = fileTimeout
			}
			tc := &TestCase{
				Name:    caseName(f, t),
				Tags:    mergeTags(f.Tags, t.Tags),
				File:    f.Path,
				Line:    t.Line,
				BaseURL: f.BaseURL,
				Skip:    t.Skip,
				Timeout: timeout,
				Setup:   append(slices.Clip(f.Setup), t.Setup...),
				Steps:   t.Steps,
				Cleanup: append(slices.Clip(t.Cleanup), f.Cleanup...),
			}
			if !filter.Match(tc) {
				continue
			}
			tc.Index = len(cases)
			cases = append(cases, tc)
		}
	}
	return cases, nil
}

func caseName(f *File, t Test) string {
	if f.Name == "" {
		return t.Name
	}
	return f.Name + " / " + t.Name
}

func mergeTags(a, b []string) []string {
	var out []string
	for _, t := range append(slices.Clip(a), b...) {
		if !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}

func parseTimeout(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}
