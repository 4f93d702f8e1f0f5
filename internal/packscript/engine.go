package packscript

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/iotaledger/hive.go/logger"
	"github.com/iotaledger/hive.go/runtime/event"

	"github.com/dueldanov/packscript/internal/logging"
)

// Mode selects the execution strategy
type Mode string

const (
	ModeVM          Mode = "vm"
	ModeInterpreter Mode = "interpreter"
)

// ParseMode accepts "vm" or "interpreter"; empty means vm
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeVM:
		return ModeVM, nil
	case ModeInterpreter:
		return ModeInterpreter, nil
	}
	return "", fmt.Errorf("unknown engine mode %q", s)
}

// Metrics receives engine measurements. internal/monitoring.EngineMetrics
// implements it with prometheus collectors.
type Metrics interface {
	RecordScriptCompilation(success, cached bool, duration time.Duration)
	RecordScriptExecution(mode string, success bool, steps int64, duration time.Duration)
	RecordScriptError(errorType string)
	RecordTestResult(passed bool)
}

type EngineConfig struct {
	Mode             Mode
	MaxScriptSize    int
	ExecutionTimeout time.Duration
	GasLimit         int64
	CacheTTL         time.Duration
}

// DefaultEngineConfig is what NewEngine falls back to for zero fields
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Mode:             ModeVM,
		MaxScriptSize:    1 << 20,
		ExecutionTimeout: 30 * time.Second,
		GasLimit:         10_000_000,
		CacheTTL:         time.Hour,
	}
}

func (c EngineConfig) withDefaults() EngineConfig {
	def := DefaultEngineConfig()
	if c.Mode == "" {
		c.Mode = def.Mode
	}
	if c.MaxScriptSize <= 0 {
		c.MaxScriptSize = def.MaxScriptSize
	}
	if c.ExecutionTimeout <= 0 {
		c.ExecutionTimeout = def.ExecutionTimeout
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = def.CacheTTL
	}
	return c
}

// ExecutionResult is a finished run
type ExecutionResult struct {
	Value    any
	Output   []string
	Steps    int64
	RunID    uuid.UUID
	Mode     Mode
	Duration time.Duration
}

// EngineEvents lets hosts observe runs, e.g. to stream `say` output
type EngineEvents struct {
	RuntimeCreated *event.Event1[*Runtime]
}

// Engine handles PackScript compilation and execution
type Engine struct {
	*logger.WrappedLogger

	log     *logger.Logger
	cache   *ScriptCache
	config  EngineConfig
	collab  Collaborators
	metrics Metrics
	Events  *EngineEvents
}

type EngineOption func(*Engine)

// WithMetrics reports compile and run measurements to m
func WithMetrics(m Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// NewEngine creates a new PackScript engine
func NewEngine(log *logger.Logger, cfg EngineConfig, collab Collaborators, opts ...EngineOption) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		WrappedLogger: logger.NewWrappedLogger(log),
		log:           log,
		cache:         NewScriptCache(cfg.CacheTTL),
		config:        cfg,
		collab:        collab,
		Events: &EngineEvents{
			RuntimeCreated: event.New1[*Runtime](),
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Mode is the configured execution strategy
func (e *Engine) Mode() Mode {
	return e.config.Mode
}

// ParseSource lexes and parses source without validating it
func (e *Engine) ParseSource(ctx context.Context, source string) (*Program, error) {
	if len(source) > e.config.MaxScriptSize {
		return nil, ErrScriptTooLarge
	}

	timer := logging.NewStepTimer(ctx, logging.PhaseLex, "Tokenize")
	tokens, err := NewLexer().Tokenize(source)
	timer.DoneWithDetails(fmt.Sprintf("tokens=%d", len(tokens)), err)
	if err != nil {
		return nil, err
	}

	timer = logging.NewStepTimer(ctx, logging.PhaseParse, "Parse")
	program, err := NewParser().Parse(tokens)
	if err != nil {
		timer.Done(err)
		return nil, err
	}
	timer.DoneWithDetails(fmt.Sprintf("decls=%d", len(program.Decls)), nil)

	return program, nil
}

// CompileScript turns source into a cached CompiledScript
func (e *Engine) CompileScript(ctx context.Context, source string) (*CompiledScript, error) {
	if len(source) > e.config.MaxScriptSize {
		return nil, ErrScriptTooLarge
	}

	if cached := e.cache.Get(source); cached != nil {
		e.recordCompile(true, true, 0)
		logging.LogFromContextWithDuration(ctx, logging.PhaseCompile, "CacheHit", "", 0, nil)
		return cached, nil
	}

	start := time.Now()
	compiled, err := e.compile(ctx, source)
	e.recordCompile(err == nil, false, time.Since(start))
	if err != nil {
		e.LogDebugf("compilation failed: %v", err)
		return nil, err
	}

	e.cache.Put(compiled)
	return compiled, nil
}

func (e *Engine) compile(ctx context.Context, source string) (*CompiledScript, error) {
	program, err := e.ParseSource(ctx, source)
	if err != nil {
		return nil, err
	}

	timer := logging.NewStepTimer(ctx, logging.PhaseValidate, "Validate")
	err = NewValidator().Validate(program)
	timer.Done(err)
	if err != nil {
		return nil, err
	}

	timer = logging.NewStepTimer(ctx, logging.PhaseCompile, "Compile")
	bytecode, err := NewCompiler().Compile(program)
	if err != nil {
		timer.Done(err)
		return nil, err
	}
	timer.DoneWithDetails(fmt.Sprintf("instructions=%d", bytecode.Len()), nil)

	return &CompiledScript{
		Source:   source,
		Hash:     hashSource(source),
		Program:  program,
		Bytecode: bytecode,
	}, nil
}

// ValidateScript performs static analysis on a script
func (e *Engine) ValidateScript(ctx context.Context, source string) error {
	program, err := e.ParseSource(ctx, source)
	if err != nil {
		return err
	}
	return NewValidator().Validate(program)
}

// ExecuteScript runs script to completion, including every timer it
// schedules, under the configured timeout and gas limit.
func (e *Engine) ExecuteScript(ctx context.Context, script *CompiledScript) (*ExecutionResult, error) {
	execCtx, cancel := context.WithTimeout(ctx, e.config.ExecutionTimeout)
	defer cancel()

	rt := e.newRuntime(execCtx)
	start := time.Now()

	timer := logging.NewStepTimer(ctx, logging.PhaseExecute, "Run")
	value, err := e.runMain(rt, script)
	timer.DoneWithDetails(fmt.Sprintf("mode=%s steps=%d", e.config.Mode, rt.Steps()), err)

	if err == nil {
		timer = logging.NewStepTimer(ctx, logging.PhaseDrain, "Drain")
		err = e.drain(rt)
		timer.Done(err)
	} else {
		rt.closeSockets()
	}

	duration := time.Since(start)
	e.recordRun(rt, err, duration)
	if err != nil {
		return nil, err
	}

	return &ExecutionResult{
		Value:    value,
		Output:   rt.Output,
		Steps:    rt.Steps(),
		RunID:    rt.RunID,
		Mode:     e.config.Mode,
		Duration: duration,
	}, nil
}

// Run compiles and executes source
func (e *Engine) Run(ctx context.Context, source string) (*ExecutionResult, error) {
	script, err := e.CompileScript(ctx, source)
	if err != nil {
		return nil, err
	}
	return e.ExecuteScript(ctx, script)
}

// RunTests executes the program, then every `test` declaration it
// registered, in declaration order. A failing test does not stop the others.
func (e *Engine) RunTests(ctx context.Context, script *CompiledScript) ([]TestResult, error) {
	execCtx, cancel := context.WithTimeout(ctx, e.config.ExecutionTimeout)
	defer cancel()

	rt := e.newRuntime(execCtx)
	if _, err := e.runMain(rt, script); err != nil {
		rt.closeSockets()
		return nil, err
	}

	tests := rt.Tests()
	results := make([]TestResult, 0, len(tests))
	for _, fn := range tests {
		timer := logging.NewStepTimer(ctx, logging.PhaseTest, fn.Name)
		result := e.runTest(rt, fn)
		timer.Done(result.Err)

		if e.metrics != nil {
			e.metrics.RecordTestResult(result.Passed)
		}
		if errors.Is(result.Err, ErrExecutionTimeout) {
			rt.closeSockets()
			return append(results, result), result.Err
		}
		results = append(results, result)
	}

	rt.closeSockets()
	return results, nil
}

func (e *Engine) newRuntime(ctx context.Context) *Runtime {
	rt := NewRuntime(ctx, e.log, e.collab, e.config.GasLimit)
	if sl := logging.FromContext(ctx); sl != nil {
		sl.WithRunID(rt.RunID.String()).WithMode(string(e.config.Mode))
	}
	e.Events.RuntimeCreated.Trigger(rt)
	return rt
}

// runMain executes the top-level program with the configured engine
func (e *Engine) runMain(rt *Runtime, script *CompiledScript) (value any, err error) {
	defer recoverDefect(&err)

	switch e.config.Mode {
	case ModeInterpreter:
		return NewInterpreter(rt).Run(script.Program)
	default:
		return NewVirtualMachine(rt, script.Bytecode).Run()
	}
}

func (e *Engine) drain(rt *Runtime) (err error) {
	defer recoverDefect(&err)
	return rt.drain()
}

func (e *Engine) runTest(rt *Runtime, fn *Function) (result TestResult) {
	defer func() {
		if r := recover(); r != nil {
			result = TestResult{Name: fn.Name, Err: fmt.Errorf("%w: %v", ErrCorruptBytecode, r)}
		}
	}()
	return rt.RunTest(fn)
}

func (e *Engine) recordCompile(success, cached bool, duration time.Duration) {
	if e.metrics != nil {
		e.metrics.RecordScriptCompilation(success, cached, duration)
	}
}

func (e *Engine) recordRun(rt *Runtime, err error, duration time.Duration) {
	if err != nil {
		e.LogDebugf("run %s failed after %d steps: %v", rt.RunID, rt.Steps(), err)
	}
	if e.metrics == nil {
		return
	}
	e.metrics.RecordScriptExecution(string(e.config.Mode), err == nil, rt.Steps(), duration)
	if err != nil {
		e.metrics.RecordScriptError(errorType(err))
	}
}

// errorType labels err for metrics
func errorType(err error) string {
	if se, ok := AsScriptError(err); ok {
		return se.Identity()
	}
	switch {
	case errors.Is(err, ErrExecutionTimeout):
		return "Timeout"
	case errors.Is(err, ErrGasExhausted):
		return "GasExhausted"
	case errors.Is(err, ErrCorruptBytecode):
		return "CorruptBytecode"
	case errors.Is(err, context.Canceled):
		return "Canceled"
	}
	return "HostError"
}
