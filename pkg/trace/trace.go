// Package trace writes an append-only JSONL record of a run: when it started,
// each test's start and outcome, and a final summary. Every event carries the
// SHA-256 of the previous line so a truncated or edited file is detectable.
package trace

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/softwarewrighter/ui-test/pkg/results"
)

// EventType enumerates trace event types.
type EventType string

const (
	EventRunStart     EventType = "run_start"
	EventRunComplete  EventType = "run_complete"
	EventTestStart    EventType = "test_start"
	EventTestComplete EventType = "test_complete"
	EventServerStart  EventType = "server_start"
)

// genesis is the prev_hash of the first event.
var genesis = strings.Repeat("0", 64)

// Event is a single trace event written to the JSONL stream.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id"`
	PrevHash  string         `json:"prev_hash"`
	Data      map[string]any `json:"data,omitempty"`
}

// Writer writes trace events. It is safe for concurrent use.
type Writer struct {
	mu       sync.Mutex
	w        io.Writer
	closer   io.Closer
	runID    string
	prevHash string
}

// NewWriter creates a trace writer that writes to w.
func NewWriter(w io.Writer, runID string) *Writer {
	return &Writer{w: w, runID: runID, prevHash: genesis}
}

// NewFileWriter creates a trace writer that truncates and writes path.
func NewFileWriter(path, runID string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	tw := NewWriter(f, runID)
	tw.closer = f
	return tw, nil
}

// Close closes the underlying file, if the writer owns one.
func (tw *Writer) Close() error {
	if tw == nil || tw.closer == nil {
		return nil
	}
	return tw.closer.Close()
}

// Emit writes a single trace event. A nil writer discards it.
func (tw *Writer) Emit(eventType EventType, data map[string]any) error {
	if tw == nil {
		return nil
	}
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.emitLocked(eventType, data)
}

func (tw *Writer) emitLocked(eventType EventType, data map[string]any) error {
	line, err := json.Marshal(Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		RunID:     tw.runID,
		PrevHash:  tw.prevHash,
		Data:      data,
	})
	if err != nil {
		return fmt.Errorf("encode trace event: %w", err)
	}
	h := sha256.Sum256(line)
	tw.prevHash = hex.EncodeToString(h[:])
	if _, err := tw.w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write trace event: %w", err)
	}
	return nil
}

// EmitRunStart records the planned cases and the settings they run under.
func (tw *Writer) EmitRunStart(total, concurrency int, failFast bool) error {
	return tw.Emit(EventRunStart, map[string]any{
		"total":       total,
		"concurrency": concurrency,
		"fail_fast":   failFast,
	})
}

// EmitServerStart records the automation server command line.
func (tw *Writer) EmitServerStart(command string, args []string) error {
	return tw.Emit(EventServerStart, map[string]any{
		"command": command,
		"args":    args,
	})
}

// EmitTestStart records a case being dispatched.
func (tw *Writer) EmitTestStart(index int, name string) error {
	return tw.Emit(EventTestStart, map[string]any{
		"index": index,
		"name":  name,
	})
}

// EmitTestComplete records a test result.
func (tw *Writer) EmitTestComplete(r results.TestResult) error {
	data := map[string]any{
		"index":    r.Index,
		"name":     r.Name,
		"status":   string(r.Status),
		"duration": r.Duration.String(),
	}
	if r.Kind != results.KindNone {
		data["error_kind"] = string(r.Kind)
	}
	if r.Attempts > 0 {
		data["attempts"] = r.Attempts
	}
	if r.Diagnostic != nil {
		data["message"] = r.Diagnostic.Message
		if r.Diagnostic.Location != "" {
			data["location"] = r.Diagnostic.Location
		}
	}
	return tw.Emit(EventTestComplete, data)
}

// EmitRunComplete records the run summary and the hash of the chain so far.
func (tw *Writer) EmitRunComplete(stats results.RunStats, exitCode int) error {
	if tw == nil {
		return nil
	}
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.emitLocked(EventRunComplete, map[string]any{
		"total":      stats.Total,
		"passed":     stats.Passed,
		"failed":     stats.Failed,
		"skipped":    stats.Skipped,
		"error":      stats.Error,
		"duration":   stats.Duration.String(),
		"elapsed":    stats.Elapsed.String(),
		"exit_code":  exitCode,
		"chain_hash": tw.prevHash,
	})
}

// VerifyResult is the outcome of verifying a trace.
type VerifyResult struct {
	EventCount int
	Valid      bool
	BrokenAt   int // -1 if no break
	Complete   bool
	Error      string
}

// Verify checks the hash chain of a trace stream.
func Verify(r io.Reader) (*VerifyResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read trace: %w", err)
	}

	expected := genesis
	count := 0
	var last Event
	for _, line := range bytes.Split(data, []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		count++
		var evt Event
		if err := json.Unmarshal(line, &evt); err != nil {
			return &VerifyResult{EventCount: count, BrokenAt: count, Error: fmt.Sprintf("event %d: invalid JSON: %v", count, err)}, nil
		}
		if evt.PrevHash != expected {
			return &VerifyResult{EventCount: count, BrokenAt: count, Error: fmt.Sprintf("event %d: prev_hash mismatch", count)}, nil
		}
		h := sha256.Sum256(line)
		expected = hex.EncodeToString(h[:])
		last = evt
	}

	res := &VerifyResult{EventCount: count, Valid: true, BrokenAt: -1}
	if last.Type == EventRunComplete {
		chain, _ := last.Data["chain_hash"].(string)
		res.Complete = chain == last.PrevHash
	}
	return res, nil
}

// VerifyFile verifies the trace file at path.
func VerifyFile(path string) (*VerifyResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	defer f.Close()
	return Verify(f)
}
