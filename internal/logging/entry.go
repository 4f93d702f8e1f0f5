package logging

import (
	"time"
)

// StepEntry is one timed step of a script run
type StepEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	Phase      string    `json:"phase"`
	Function   string    `json:"function"`
	Status     string    `json:"status"` // SUCCESS, FAILURE, WARNING
	DurationNs int64     `json:"duration_ns"`
	Details    string    `json:"details,omitempty"`
	RunID      string    `json:"run_id,omitempty"`
}

// Report is the JSON document written by Flush
type Report struct {
	Workflow        string      `json:"workflow"` // run, check, compile, test
	RunID           string      `json:"run_id"`
	Mode            string      `json:"mode"`
	StartedAt       time.Time   `json:"started_at"`
	CompletedAt     time.Time   `json:"completed_at"`
	TotalDurationMs int64       `json:"total_duration_ms"`
	Entries         []StepEntry `json:"entries"`
	Summary         Summary     `json:"summary"`
}

// Summary provides aggregate statistics
type Summary struct {
	TotalSteps int            `json:"total_steps"`
	Passed     int            `json:"passed"`
	Failed     int            `json:"failed"`
	Phases     map[string]int `json:"phases"`
}

// Status constants
const (
	StatusSuccess = "SUCCESS"
	StatusFailure = "FAILURE"
	StatusWarning = "WARNING"
)

// Workflow names, one per CLI command
const (
	WorkflowRun     = "run"
	WorkflowCheck   = "check"
	WorkflowCompile = "compile"
	WorkflowTest    = "test"
)

// Pipeline phases
const (
	PhaseLex          = "Lexical Analysis"
	PhaseParse        = "Parsing"
	PhaseValidate     = "Static Validation"
	PhaseCompile      = "Bytecode Compilation"
	PhaseExecute      = "Execution"
	PhaseDrain        = "Timer & Socket Drain"
	PhaseCollaborator = "Collaborator Calls"
	PhaseTest         = "Test Declarations"
)
