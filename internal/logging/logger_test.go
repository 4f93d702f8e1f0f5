package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStructuredLogger(t *testing.T) {
	outputPath := filepath.Join(t.TempDir(), "reports", "run.json")

	logger := NewLogger(WorkflowRun, outputPath)
	logger.WithMode("vm")
	logger.WithRunID("run-123")

	logger.LogStepWithDuration(PhaseLex, "Tokenize", "tokens=42", 100*time.Microsecond, nil)
	logger.LogStepWithDuration(PhaseParse, "Parse", "decls=3", 200*time.Microsecond, nil)
	logger.LogStepWithDuration(PhaseExecute, "Run", "", 500*time.Microsecond, errors.New("boom"))

	require.NoError(t, logger.Flush())

	data, err := os.ReadFile(outputPath)
	require.NoError(t, err)

	var report Report
	require.NoError(t, json.Unmarshal(data, &report))

	assert.Equal(t, WorkflowRun, report.Workflow)
	assert.Equal(t, "run-123", report.RunID)
	assert.Equal(t, "vm", report.Mode)
	require.Len(t, report.Entries, 3)
	assert.Equal(t, 3, report.Summary.TotalSteps)
	assert.Equal(t, 2, report.Summary.Passed)
	assert.Equal(t, 1, report.Summary.Failed)
	assert.Equal(t, StatusFailure, report.Entries[2].Status)
	assert.Equal(t, "error: boom", report.Entries[2].Details)
	assert.Equal(t, "run-123", report.Entries[0].RunID)
}

func TestDisabledLogger(t *testing.T) {
	logger := NewDisabledLogger()

	logger.LogStep(PhaseLex, "test", "details", nil)
	logger.LogStepWithDuration(PhaseCompile, "test", "details", time.Second, nil)

	require.NoError(t, logger.Flush())
	assert.Empty(t, logger.Entries())
}

func TestConsoleOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WorkflowCheck, "")
	logger.SetConsole(&buf)

	logger.LogStepWithDuration(PhaseValidate, "Validate", "", time.Millisecond, nil)
	assert.Contains(t, buf.String(), "Static Validation.Validate")
	assert.Contains(t, buf.String(), StatusSuccess)

	buf.Reset()
	logger.PrintSummary(&buf)
	assert.Contains(t, buf.String(), "Total Steps: 1")
}

func TestContextLogging(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))

	// no logger attached is a no-op
	LogFromContext(context.Background(), PhaseLex, "Tokenize", "", nil)

	logger := NewLogger(WorkflowTest, "")
	ctx := WithLogger(context.Background(), logger)
	require.NotNil(t, FromContext(ctx))

	LogFromContext(ctx, PhaseLex, "Tokenize", "", nil)
	NewStepTimer(ctx, PhaseParse, "Parse").WithDetails("decls=1").Done(nil)
	NewStepTimer(ctx, PhaseTest, "RunTest").DoneWithDetails("name=x", errors.New("failed"))
	MeasureStepWithError(ctx, PhaseCompile, "Compile", "", time.Now(), nil)

	entries := logger.Entries()
	require.Len(t, entries, 4)
	assert.Equal(t, "decls=1", entries[1].Details)
	assert.Equal(t, StatusFailure, entries[2].Status)
	assert.Equal(t, PhaseCompile, entries[3].Phase)
}
