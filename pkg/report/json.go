package report

import (
	"encoding/json"
	"io"
	"time"

	"github.com/softwarewrighter/ui-test/pkg/results"
)

// JSON writes one document describing the whole run when it finishes.
type JSON struct {
	w    io.Writer
	opts Options
}

// NewJSON returns a JSON reporter writing to w.
func NewJSON(w io.Writer, opts Options) *JSON {
	return &JSON{w: w, opts: opts}
}

type jsonStats struct {
	results.RunStats
	DurationMS int64 `json:"duration_ms"`
	ElapsedMS  int64 `json:"elapsed_ms"`
}

type jsonResult struct {
	results.TestResult
	DurationMS int64 `json:"duration_ms"`
}

type jsonReport struct {
	RunID     string       `json:"run_id"`
	Timestamp time.Time    `json:"timestamp"`
	Stats     jsonStats    `json:"stats"`
	Results   []jsonResult `json:"results"`
}

func (j *JSON) Start(int) {}

func (j *JSON) Result(results.TestResult) {}

func (j *JSON) Finish(stats results.RunStats, all []results.TestResult) error {
	doc := jsonReport{
		RunID:     j.opts.RunID,
		Timestamp: time.Now().UTC(),
		Stats:     jsonStats{RunStats: stats, DurationMS: stats.Duration.Milliseconds(), ElapsedMS: stats.Elapsed.Milliseconds()},
		Results:   make([]jsonResult, 0, len(all)),
	}
	for _, r := range all {
		doc.Results = append(doc.Results, jsonResult{TestResult: r, DurationMS: r.Duration.Milliseconds()})
	}
	enc := json.NewEncoder(j.w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
