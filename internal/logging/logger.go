package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// StepLogger records timed pipeline steps
type StepLogger interface {
	// LogStep logs a step timed from the end of the previous one
	LogStep(phase, function, details string, err error)

	// LogStepWithDuration logs a step with explicit duration
	LogStepWithDuration(phase, function, details string, duration time.Duration, err error)

	// WithRunID tags subsequent entries with a run id
	WithRunID(id string) StepLogger

	// WithMode records the execution engine in the report
	WithMode(mode string) StepLogger

	// Flush writes the report to the output file
	Flush() error

	// Entries returns all logged entries
	Entries() []StepEntry

	// Report generates the complete report
	Report() *Report
}

// StructuredLogger implements StepLogger with JSON output
type StructuredLogger struct {
	mu          sync.Mutex
	workflow    string
	runID       string
	mode        string
	outputPath  string
	console     io.Writer
	entries     []StepEntry
	startTime   time.Time
	lastStepEnd time.Time
	enabled     bool
}

// NewLogger creates a logger whose report is written to outputPath.
// An empty outputPath keeps the entries in memory only.
func NewLogger(workflow, outputPath string) *StructuredLogger {
	return &StructuredLogger{
		workflow:    workflow,
		outputPath:  outputPath,
		entries:     make([]StepEntry, 0, 32),
		startTime:   time.Now(),
		lastStepEnd: time.Now(),
		enabled:     true,
	}
}

// NewDisabledLogger creates a no-op logger
func NewDisabledLogger() *StructuredLogger {
	return &StructuredLogger{
		enabled: false,
	}
}

// SetConsole enables live progress lines on w
func (l *StructuredLogger) SetConsole(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.console = w
}

// LogStep logs a single step with automatic duration calculation
func (l *StructuredLogger) LogStep(phase, function, details string, err error) {
	l.mu.Lock()
	duration := time.Since(l.lastStepEnd)
	l.mu.Unlock()
	l.LogStepWithDuration(phase, function, details, duration, err)
}

// LogStepWithDuration logs a step with explicit duration
func (l *StructuredLogger) LogStepWithDuration(phase, function, details string, duration time.Duration, err error) {
	if !l.enabled {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	status := StatusSuccess
	if err != nil {
		status = StatusFailure
		if details != "" {
			details = fmt.Sprintf("%s; error: %v", details, err)
		} else {
			details = fmt.Sprintf("error: %v", err)
		}
	}

	l.entries = append(l.entries, StepEntry{
		Timestamp:  time.Now(),
		Phase:      phase,
		Function:   function,
		Status:     status,
		DurationNs: duration.Nanoseconds(),
		Details:    details,
		RunID:      l.runID,
	})
	l.lastStepEnd = time.Now()

	if l.console != nil {
		l.printProgress(phase, function, status, duration)
	}
}

const (
	ansiGreen = "\033[32m"
	ansiRed   = "\033[31m"
	ansiReset = "\033[0m"
)

// printProgress writes one live line per step; callers hold l.mu.
func (l *StructuredLogger) printProgress(phase, function, status string, duration time.Duration) {
	color := ansiGreen
	if status != StatusSuccess {
		color = ansiRed
	}
	fmt.Fprintf(l.console, "  %3d %s.%s %s%s%s %s\n",
		len(l.entries), phase, function, color, status, ansiReset, duration.Round(time.Microsecond))
}

// WithRunID tags subsequent entries with id
func (l *StructuredLogger) WithRunID(id string) StepLogger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.runID = id
	return l
}

// WithMode records the engine mode
func (l *StructuredLogger) WithMode(mode string) StepLogger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.mode = mode
	return l
}

// Entries returns a copy of the logged entries
func (l *StructuredLogger) Entries() []StepEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	result := make([]StepEntry, len(l.entries))
	copy(result, l.entries)
	return result
}

// Report snapshots the run so far.
func (l *StructuredLogger) Report() *Report {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := make([]StepEntry, len(l.entries))
	copy(entries, l.entries)
	completedAt := time.Now()

	return &Report{
		Workflow:        l.workflow,
		RunID:           l.runID,
		Mode:            l.mode,
		StartedAt:       l.startTime,
		CompletedAt:     completedAt,
		TotalDurationMs: completedAt.Sub(l.startTime).Milliseconds(),
		Entries:         entries,
		Summary:         summarize(entries),
	}
}

func summarize(entries []StepEntry) Summary {
	s := Summary{TotalSteps: len(entries), Phases: make(map[string]int)}
	for _, entry := range entries {
		switch entry.Status {
		case StatusSuccess:
			s.Passed++
		default:
			s.Failed++
		}
		s.Phases[entry.Phase]++
	}
	return s
}

// Flush writes the report as indented JSON. Loggers without an output path
// keep their entries in memory only.
func (l *StructuredLogger) Flush() error {
	if !l.enabled || l.outputPath == "" {
		return nil
	}

	data, err := json.MarshalIndent(l.Report(), "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode run report")
	}
	if err := os.MkdirAll(filepath.Dir(l.outputPath), 0o755); err != nil {
		return errors.Wrapf(err, "create report directory for %s", l.outputPath)
	}
	if err := os.WriteFile(l.outputPath, data, 0o644); err != nil {
		return errors.Wrapf(err, "write run report %s", l.outputPath)
	}
	return nil
}

// PrintSummary writes a human-readable summary to w
func (l *StructuredLogger) PrintSummary(w io.Writer) {
	report := l.Report()
	rule := strings.Repeat("=", 60)

	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "packscript %s: %s in %dms\n", report.Workflow, report.Mode, report.TotalDurationMs)
	fmt.Fprintln(w, rule)
	if report.RunID != "" {
		fmt.Fprintf(w, "Run ID: %s\n", report.RunID)
	}
	fmt.Fprintf(w, "Total Steps: %d (passed %d, failed %d)\n",
		report.Summary.TotalSteps, report.Summary.Passed, report.Summary.Failed)

	phases := make([]string, 0, len(report.Summary.Phases))
	for phase := range report.Summary.Phases {
		phases = append(phases, phase)
	}
	sort.Strings(phases)
	for _, phase := range phases {
		fmt.Fprintf(w, "  %-24s %d\n", phase, report.Summary.Phases[phase])
	}
	if l.outputPath != "" {
		fmt.Fprintf(w, "Report: %s\n", l.outputPath)
	}
}
