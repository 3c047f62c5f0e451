package report

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/softwarewrighter/ui-test/pkg/results"
)

// JUnit writes a JUnit XML document with one testsuite per test file.
type JUnit struct {
	w    io.Writer
	opts Options
}

// NewJUnit returns a JUnit reporter writing to w.
func NewJUnit(w io.Writer, opts Options) *JUnit {
	return &JUnit{w: w, opts: opts}
}

type junitSuites struct {
	XMLName  xml.Name     `xml:"testsuites"`
	Name     string       `xml:"name,attr"`
	Tests    int          `xml:"tests,attr"`
	Failures int          `xml:"failures,attr"`
	Errors   int          `xml:"errors,attr"`
	Skipped  int          `xml:"skipped,attr"`
	Time     string       `xml:"time,attr"`
	Suites   []junitSuite `xml:"testsuite"`
}

type junitSuite struct {
	Name     string      `xml:"name,attr"`
	Tests    int         `xml:"tests,attr"`
	Failures int         `xml:"failures,attr"`
	Errors   int         `xml:"errors,attr"`
	Skipped  int         `xml:"skipped,attr"`
	Time     string      `xml:"time,attr"`
	Cases    []junitCase `xml:"testcase"`
}

type junitCase struct {
	Name      string        `xml:"name,attr"`
	Classname string        `xml:"classname,attr"`
	Time      string        `xml:"time,attr"`
	Failure   *junitProblem `xml:"failure,omitempty"`
	Error     *junitProblem `xml:"error,omitempty"`
	Skipped   *junitSkip    `xml:"skipped,omitempty"`
	SystemOut string        `xml:"system-out,omitempty"`
}

type junitProblem struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr,omitempty"`
	Body    string `xml:",chardata"`
}

type junitSkip struct {
	Message string `xml:"message,attr,omitempty"`
}

func (j *JUnit) Start(int) {}

func (j *JUnit) Result(results.TestResult) {}

func (j *JUnit) Finish(stats results.RunStats, all []results.TestResult) error {
	doc := junitSuites{
		Name:     "ui-test",
		Tests:    stats.Total,
		Failures: stats.Failed,
		Errors:   stats.Error,
		Skipped:  stats.Skipped,
		Time:     seconds(stats.Elapsed.Seconds()),
	}

	index := map[string]int{}
	var elapsed []time.Duration
	for _, r := range all {
		file := r.File
		if file == "" {
			file = "ui-test"
		}
		i, ok := index[file]
		if !ok {
			i = len(doc.Suites)
			index[file] = i
			doc.Suites = append(doc.Suites, junitSuite{Name: file})
			elapsed = append(elapsed, 0)
		}
		s := &doc.Suites[i]
		s.Tests++
		elapsed[i] += r.Duration

		tc := junitCase{Name: r.Name, Classname: file, Time: seconds(r.Duration.Seconds())}
		switch r.Status {
		case results.StatusFailed:
			s.Failures++
			tc.Failure = problem(r)
		case results.StatusError:
			s.Errors++
			tc.Error = problem(r)
		case results.StatusSkipped:
			s.Skipped++
			tc.Skipped = &junitSkip{}
			if r.Diagnostic != nil {
				tc.Skipped.Message = r.Diagnostic.Message
			}
		}
		if len(r.Artifacts) > 0 {
			tc.SystemOut = strings.Join(r.Artifacts, "\n")
		}
		s.Cases = append(s.Cases, tc)
	}
	for i := range doc.Suites {
		doc.Suites[i].Time = seconds(elapsed[i].Seconds())
	}

	if _, err := io.WriteString(j.w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(j.w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode junit: %w", err)
	}
	_, err := io.WriteString(j.w, "\n")
	return err
}

func problem(r results.TestResult) *junitProblem {
	p := &junitProblem{Type: string(r.Kind)}
	d := r.Diagnostic
	if d == nil {
		return p
	}
	p.Message = d.Message
	var body []string
	add := func(k, v string) {
		if v != "" {
			body = append(body, k+": "+v)
		}
	}
	add("at", d.Location)
	add("expected", d.Expected)
	add("actual", d.Actual)
	if len(d.NearMisses) > 0 {
		add("similar", strings.Join(d.NearMisses, ", "))
	}
	add("hint", d.Suggestion)
	p.Body = strings.Join(body, "\n")
	return p
}

func seconds(s float64) string {
	return fmt.Sprintf("%.3f", s)
}
