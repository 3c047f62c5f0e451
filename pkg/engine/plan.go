package engine

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/softwarewrighter/ui-test/pkg/config"
	"github.com/softwarewrighter/ui-test/pkg/suite"
)

// WritePlan describes what a run would do without starting the server:
// the server command line, then each case with its steps.
func WritePlan(w io.Writer, cases []*suite.TestCase, cfg *config.Config) error {
	fmt.Fprintf(w, "server: %s %s\n", cfg.Server.Command, strings.Join(cfg.ServerArgs(), " "))
	fmt.Fprintf(w, "concurrency: %d, timeout: %s, retries: %d, fail-fast: %v\n\n",
		cfg.Concurrency, cfg.Timeout, cfg.Retries, cfg.FailFast)

	for i, tc := range cases {
		header := fmt.Sprintf("[%d] %s", i, tc.Name)
		if loc := tc.Location(suite.Step{}); loc != "" {
			header += " (" + loc + ")"
		}
		if tc.Skip != "" {
			header += " skipped: " + tc.Skip
		}
		fmt.Fprintln(w, header)
		phase := func(name string, steps []suite.Step) {
			for _, s := range steps {
				fmt.Fprintf(w, "    %-8s %s\n", name, s.Describe())
			}
		}
		phase("setup", tc.Setup)
		phase("step", tc.Steps)
		phase("cleanup", tc.Cleanup)
	}
	_, err := fmt.Fprintf(w, "\n%d test cases\n", len(cases))
	return err
}

// WriteList prints one row per case: index, name, tags and location.
func WriteList(w io.Writer, cases []*suite.TestCase) error {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "Test", "Tags", "Location"})
	for i, tc := range cases {
		name := tc.Name
		if tc.Skip != "" {
			name += " (skip)"
		}
		t.AppendRow(table.Row{i, name, strings.Join(tc.Tags, ","), tc.Location(suite.Step{})})
	}
	t.AppendFooter(table.Row{"", fmt.Sprintf("%d tests", len(cases)), "", ""})
	_, err := fmt.Fprintln(w, t.Render())
	return err
}
