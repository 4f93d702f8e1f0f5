package monitoring

import (
	"time"

	"github.com/iotaledger/hive.go/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// EngineMetrics collects PackScript engine metrics
type EngineMetrics struct {
	*logger.WrappedLogger

	registry *prometheus.Registry

	scriptCompilations *prometheus.CounterVec
	compileDuration    prometheus.Histogram
	scriptExecutions   *prometheus.CounterVec
	executionDuration  *prometheus.HistogramVec
	scriptErrors       *prometheus.CounterVec
	scriptStepsUsed    prometheus.Histogram
	testResults        *prometheus.CounterVec
}

// NewEngineMetrics registers the engine collectors on a fresh registry
func NewEngineMetrics(log *logger.Logger) *EngineMetrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &EngineMetrics{
		WrappedLogger: logger.NewWrappedLogger(log),
		registry:      reg,

		scriptCompilations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "packscript",
			Subsystem: "scripts",
			Name:      "compilations_total",
			Help:      "Total number of script compilations",
		}, []string{"status"}),

		compileDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "packscript",
			Subsystem: "scripts",
			Name:      "compile_duration_seconds",
			Help:      "Time spent lexing, parsing, validating and compiling",
			Buckets:   prometheus.DefBuckets,
		}),

		scriptExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "packscript",
			Subsystem: "scripts",
			Name:      "executions_total",
			Help:      "Total number of script executions",
		}, []string{"mode", "status"}),

		executionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "packscript",
			Subsystem: "scripts",
			Name:      "execution_duration_seconds",
			Help:      "Script execution duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mode"}),

		scriptErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "packscript",
			Subsystem: "scripts",
			Name:      "errors_total",
			Help:      "Total number of script errors by error identity",
		}, []string{"error_type"}),

		scriptStepsUsed: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "packscript",
			Subsystem: "scripts",
			Name:      "steps_used",
			Help:      "Execution steps consumed per run",
			Buckets:   prometheus.ExponentialBuckets(100, 2, 20),
		}),

		testResults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "packscript",
			Subsystem: "tests",
			Name:      "results_total",
			Help:      "Test declarations run, by outcome",
		}, []string{"status"}),
	}
}

// Registry exposes the collectors, e.g. for promhttp or a push gateway
func (m *EngineMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordScriptCompilation records one compile request. Cache hits are
// counted but not timed.
func (m *EngineMetrics) RecordScriptCompilation(success, cached bool, duration time.Duration) {
	switch {
	case cached:
		m.scriptCompilations.WithLabelValues("cached").Inc()
		return
	case success:
		m.scriptCompilations.WithLabelValues("success").Inc()
	default:
		m.scriptCompilations.WithLabelValues("failure").Inc()
	}
	m.compileDuration.Observe(duration.Seconds())
}

// RecordScriptExecution records a finished run
func (m *EngineMetrics) RecordScriptExecution(mode string, success bool, steps int64, duration time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.scriptExecutions.WithLabelValues(mode, status).Inc()
	m.executionDuration.WithLabelValues(mode).Observe(duration.Seconds())
	m.scriptStepsUsed.Observe(float64(steps))
}

// RecordScriptError records the identity of an error that ended a run
func (m *EngineMetrics) RecordScriptError(errorType string) {
	m.scriptErrors.WithLabelValues(errorType).Inc()
	m.LogDebugf("script error recorded: %s", errorType)
}

// RecordTestResult records the outcome of one test declaration
func (m *EngineMetrics) RecordTestResult(passed bool) {
	status := "passed"
	if !passed {
		status = "failed"
	}
	m.testResults.WithLabelValues(status).Inc()
}
