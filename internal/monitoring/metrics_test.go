package monitoring

import (
	"testing"
	"time"

	"github.com/iotaledger/hive.go/logger"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineMetrics(t *testing.T) {
	m := NewEngineMetrics(logger.NewNopLogger())

	m.RecordScriptCompilation(true, false, time.Millisecond)
	m.RecordScriptCompilation(true, true, 0)
	m.RecordScriptCompilation(false, false, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.scriptCompilations.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.scriptCompilations.WithLabelValues("cached")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.scriptCompilations.WithLabelValues("failure")))

	m.RecordScriptExecution("vm", true, 120, 2*time.Millisecond)
	m.RecordScriptExecution("vm", false, 40, time.Millisecond)
	m.RecordScriptExecution("interpreter", true, 90, time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.scriptExecutions.WithLabelValues("vm", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.scriptExecutions.WithLabelValues("interpreter", "success")))

	m.RecordScriptError("UserError:Overdrawn")
	m.RecordScriptError("UserError:Overdrawn")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.scriptErrors.WithLabelValues("UserError:Overdrawn")))

	m.RecordTestResult(true)
	m.RecordTestResult(false)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.testResults.WithLabelValues("failed")))

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestEngineMetricsIndependentRegistries(t *testing.T) {
	// two collectors must not collide on registration
	a := NewEngineMetrics(logger.NewNopLogger())
	b := NewEngineMetrics(logger.NewNopLogger())

	a.RecordScriptError("RuntimeFailure:RuntimeFailure")
	assert.Equal(t, 0.0, testutil.ToFloat64(b.scriptErrors.WithLabelValues("RuntimeFailure:RuntimeFailure")))
}
