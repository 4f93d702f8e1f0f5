package packscript

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/iotaledger/hive.go/logger"
	"github.com/iotaledger/hive.go/runtime/event"
)

// executor runs a user function to completion. The interpreter walks the
// function body; the VM re-enters its dispatch loop at the function's entry.
type executor interface {
	invoke(fn *Function, args []any) (any, error)
}

// RuntimeEvents are fired while a script runs
type RuntimeEvents struct {
	Output      *event.Event1[string]
	ErrorRaised *event.Event1[*ScriptError]
	TopicFired  *event.Event1[string]
	TimerFailed *event.Event1[error]
}

type timer struct {
	id  uuid.UUID
	due time.Time
	seq int
	fn  *Function
}

type jobBudget struct {
	job       string
	remaining int64
	limit     int64
}

// TestResult is the outcome of one `test` declaration
type TestResult struct {
	Name   string
	Passed bool
	Err    error
}

// Runtime is the per-run execution context shared by both engines. Nothing in
// it outlives the run.
type Runtime struct {
	*logger.WrappedLogger

	ctx      context.Context
	RunID    uuid.UUID
	Registry *Registry
	Output   []string
	Events   *RuntimeEvents

	collab   Collaborators
	builtins map[string]*Builtin
	exec     executor

	timers   []*timer
	timerSeq int
	firing   bool
	sockets  []*Socket
	tests    []*Function

	steps     int64
	gasLimit  int64
	budgets   []*jobBudget
	callDepth int
}

// maxCallDepth bounds nested user function calls in both engines
const maxCallDepth = 512

// NewRuntime prepares a fresh execution context
func NewRuntime(ctx context.Context, log *logger.Logger, collab Collaborators, gasLimit int64) *Runtime {
	rt := &Runtime{
		WrappedLogger: logger.NewWrappedLogger(log),
		ctx:           ctx,
		RunID:         uuid.New(),
		Registry:      NewRegistry(),
		collab:        collab.withDefaults(),
		builtins:      defaultBuiltins(),
		gasLimit:      gasLimit,
		Events: &RuntimeEvents{
			Output:      event.New1[string](),
			ErrorRaised: event.New1[*ScriptError](),
			TopicFired:  event.New1[string](),
			TimerFailed: event.New1[error](),
		},
	}
	rt.Registry.SetGuardEvaluator(rt.evalGuard)
	return rt
}

// Steps is the number of execution steps consumed so far
func (rt *Runtime) Steps() int64 {
	return rt.steps
}

// step charges one unit of gas and polls for cancellation
func (rt *Runtime) step() error {
	rt.steps++
	if rt.gasLimit > 0 && rt.steps > rt.gasLimit {
		return ErrGasExhausted
	}
	if rt.steps&0xff == 0 {
		return rt.checkContext()
	}
	return nil
}

func (rt *Runtime) checkContext() error {
	if err := rt.ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrExecutionTimeout
		}
		return err
	}
	return nil
}

// catchable reports whether script code may handle err
func catchable(err error) (*ScriptError, bool) {
	se, ok := AsScriptError(err)
	if !ok || se.Fatal() {
		return nil, false
	}
	return se, true
}

func (rt *Runtime) raised(se *ScriptError) {
	rt.Events.ErrorRaised.Trigger(se)
}

func (rt *Runtime) lookup(scope ScopeID, name string) (any, error) {
	v, err := rt.Registry.Lookup(scope, name)
	if err == nil {
		return v, nil
	}
	if b, ok := rt.builtins[name]; ok {
		return b, nil
	}
	return nil, err
}

func (rt *Runtime) say(v any) {
	line := FormatValue(v)
	rt.Output = append(rt.Output, line)
	rt.Events.Output.Trigger(line)
}

func (rt *Runtime) checkType(scope ScopeID, v any, t Type) error {
	if t == nil {
		return nil
	}
	return rt.Registry.ValidateType(scope, v, t)
}

func (rt *Runtime) define(scope ScopeID, name string, v any, t Type, constant bool) error {
	return rt.Registry.Define(scope, name, v, t, constant)
}

func (rt *Runtime) assign(scope ScopeID, name string, v any) error {
	return rt.Registry.Assign(scope, name, v)
}

// constructRecord builds a box or entity instance: explicit fields, then
// declared defaults, then validation against the descriptor.
func (rt *Runtime) constructRecord(scope ScopeID, typeName string, fields []string, values []any) (any, error) {
	t, err := rt.Registry.LookupType(scope, typeName)
	if err != nil {
		return nil, err
	}
	bt, ok := t.(*BoxType)
	if !ok {
		return nil, typeMismatch("box "+typeName, t.String())
	}

	rec := &BoxValue{Type: bt, Fields: make(map[string]any, len(bt.Fields))}
	for i, name := range fields {
		if _, declared := bt.field(name); !declared {
			return nil, typeMismatch(bt.String(), "unknown field "+name)
		}
		if _, dup := rec.Fields[name]; dup {
			return nil, duplicateBinding(name)
		}
		rec.Fields[name] = values[i]
	}
	for _, f := range bt.Fields {
		if _, set := rec.Fields[f.Name]; !set && f.HasDefault {
			rec.Fields[f.Name] = f.DefaultValue
		}
	}

	if err := rt.Registry.ValidateType(scope, rec, bt); err != nil {
		return nil, err
	}
	return rec, nil
}

func (rt *Runtime) makeDict(keys, values []any) (*Dict, error) {
	d := NewDict()
	for i, k := range keys {
		switch k.(type) {
		case string, int64, float64, bool:
		default:
			return nil, runtimeFailure("%s cannot be a dict key", typeName(k))
		}
		d.Set(k, values[i])
	}
	return d, nil
}

func (rt *Runtime) member(v any, field string) (any, error) {
	switch obj := v.(type) {
	case *BoxValue:
		if val, ok := obj.Fields[field]; ok {
			return val, nil
		}
		if _, declared := obj.Type.field(field); declared {
			return nil, nil
		}
		return nil, undefinedName(obj.Type.Name + "." + field)
	case *ErrorValue:
		switch field {
		case "name":
			return obj.Name, nil
		case "payload":
			return obj.Payload, nil
		case "message":
			return FormatValue(obj.Payload), nil
		case "kind":
			return obj.Kind.String(), nil
		}
		if val, ok := obj.Fields[field]; ok {
			return val, nil
		}
		return nil, undefinedName(obj.Name + "." + field)
	case *PackValue:
		if val, ok := rt.Registry.LookupLocal(obj.Scope, field); ok {
			return val, nil
		}
		return nil, undefinedName(obj.Name + "." + field)
	case *Dict:
		val, _ := obj.Get(field)
		return val, nil
	case *KeyPair:
		switch field {
		case "public":
			return obj.Public, nil
		case "private":
			return obj.Private, nil
		}
	case *Queue:
		if field == "size" {
			return int64(len(obj.Items)), nil
		}
	case *Socket:
		if field == "url" {
			return obj.URL, nil
		}
	case *Future:
		switch field {
		case "done":
			return obj.Done, nil
		case "value":
			return obj.Value, nil
		}
	}
	return nil, runtimeFailure("%s has no field %s", typeName(v), field)
}

func (rt *Runtime) index(v, idx any) (any, error) {
	switch obj := v.(type) {
	case *Dict:
		val, _ := obj.Get(idx)
		return val, nil
	case *List:
		return indexElems(obj.Elems, idx)
	case *Group:
		return indexElems(obj.Elems, idx)
	case string:
		runes := []rune(obj)
		i, err := checkIndex(len(runes), idx)
		if err != nil {
			return nil, err
		}
		return string(runes[i]), nil
	case Bytes:
		i, err := checkIndex(len(obj), idx)
		if err != nil {
			return nil, err
		}
		return int64(obj[i]), nil
	case *BoxValue:
		if name, ok := idx.(string); ok {
			return rt.member(obj, name)
		}
	}
	return nil, runtimeFailure("cannot index %s with %s", typeName(v), typeName(idx))
}

func checkIndex(length int, idx any) (int, error) {
	i, ok := idx.(int64)
	if !ok {
		return 0, runtimeFailure("index must be an integer, got %s", typeName(idx))
	}
	if i < 0 || i >= int64(length) {
		return 0, runtimeFailure("index %d out of range [0, %d)", i, length)
	}
	return int(i), nil
}

func indexElems(elems []any, idx any) (any, error) {
	i, err := checkIndex(len(elems), idx)
	if err != nil {
		return nil, err
	}
	return elems[i], nil
}

func (rt *Runtime) setMember(scope ScopeID, v any, field string, value any) error {
	switch obj := v.(type) {
	case *BoxValue:
		if !obj.Type.Entity {
			return runtimeFailure("box %s is immutable", obj.Type.Name)
		}
		f, declared := obj.Type.field(field)
		if !declared {
			return undefinedName(obj.Type.Name + "." + field)
		}
		if err := rt.Registry.ValidateType(scope, value, f.Type); err != nil {
			return err
		}
		old := obj.Fields[field]
		obj.Fields[field] = value
		switch obj.Type.Policy {
		case PolicyTracked:
			obj.History = append(obj.History, HistoryEntry{Field: field, Old: old, New: value})
		case PolicyShort:
			obj.History = []HistoryEntry{{Field: field, Old: old, New: value}}
		}
		return nil
	case *Dict:
		obj.Set(field, value)
		return nil
	}
	return runtimeFailure("cannot set field %s on %s", field, typeName(v))
}

func (rt *Runtime) setIndex(v, idx, value any) error {
	switch obj := v.(type) {
	case *List:
		i, err := checkIndex(len(obj.Elems), idx)
		if err != nil {
			return err
		}
		obj.Elems[i] = value
		return nil
	case *Dict:
		if _, err := rt.makeDict([]any{idx}, []any{value}); err != nil {
			return err
		}
		obj.Set(idx, value)
		return nil
	}
	return runtimeFailure("cannot assign into %s", typeName(v))
}

// iterate snapshots the elements a loop visits
func (rt *Runtime) iterate(v any) ([]any, error) {
	switch obj := v.(type) {
	case *List:
		return append([]any(nil), obj.Elems...), nil
	case *Group:
		return append([]any(nil), obj.Elems...), nil
	case *Dict:
		return obj.Keys(), nil
	case *Queue:
		return append([]any(nil), obj.Items...), nil
	case string:
		runes := []rune(obj)
		out := make([]any, len(runes))
		for i, r := range runes {
			out[i] = string(r)
		}
		return out, nil
	case nil:
		return nil, nil
	}
	return nil, runtimeFailure("cannot iterate over %s", typeName(v))
}

// testPattern reports whether a structural pattern accepts v. Value
// patterns are compared by the engines themselves.
func (rt *Runtime) testPattern(scope ScopeID, pat Pattern, v any) (bool, error) {
	switch pt := pat.(type) {
	case *BindPattern, *ElsePattern:
		return true, nil
	case *GroupPattern:
		switch g := v.(type) {
		case *Group:
			return len(g.Elems) == len(pt.Names), nil
		case *List:
			return len(g.Elems) == len(pt.Names), nil
		}
		return false, nil
	case *RecordPattern:
		rec, ok := v.(*BoxValue)
		if !ok || rec.Type.Name != pt.Type {
			return false, nil
		}
		for _, f := range pt.Fields {
			if _, declared := rec.Type.field(f); !declared {
				return false, nil
			}
		}
		return true, nil
	case *TypePattern:
		err := rt.Registry.ValidateType(scope, v, pt.Type)
		if err == nil {
			return true, nil
		}
		if se, ok := AsScriptError(err); ok && se.Kind == KindTypeMismatch {
			return false, nil
		}
		return false, err
	}
	return false, runtimeFailure("unsupported pattern %T", pat)
}

// unpack is the arity-checked destructuring of groups and lists
func (rt *Runtime) unpack(v any, n int) ([]any, error) {
	var elems []any
	switch g := v.(type) {
	case *Group:
		elems = g.Elems
	case *List:
		elems = g.Elems
	default:
		return nil, typeMismatch("group", typeName(v))
	}
	if len(elems) != n {
		return nil, runtimeFailure("cannot unpack %d values into %d names", len(elems), n)
	}
	return append([]any(nil), elems...), nil
}

func (rt *Runtime) unpackFields(v any, fields []string) ([]any, error) {
	out := make([]any, len(fields))
	for i, f := range fields {
		val, err := rt.member(v, f)
		if err != nil {
			return nil, err
		}
		out[i] = val
	}
	return out, nil
}

// throw builds the error raised by `throw error Name payload`
func (rt *Runtime) throw(scope ScopeID, name string, payload any) error {
	t, err := rt.Registry.LookupType(scope, name)
	if err != nil {
		if builtinErrorNames[name] {
			kind := KindRuntimeFailure
			for k, n := range errorKindNames {
				if n == name {
					kind = k
				}
			}
			se := &ScriptError{Kind: kind, Name: name, Message: FormatValue(payload), Payload: payload}
			rt.raised(se)
			return se
		}
		return undefinedType("error " + name)
	}
	et, ok := t.(*ErrorType)
	if !ok {
		return typeMismatch("error "+name, t.String())
	}

	fields := make(map[string]any, len(et.Fields))
	switch p := payload.(type) {
	case *Dict:
		for _, k := range p.keys {
			if ks, ok := k.(string); ok {
				fields[ks], _ = p.Get(k)
			}
		}
	case *BoxValue:
		for k, v := range p.Fields {
			fields[k] = v
		}
	default:
		if len(et.Fields) > 0 && payload != nil {
			fields[et.Fields[0].Name] = payload
		}
	}
	for _, f := range et.Fields {
		if _, set := fields[f.Name]; !set && f.HasDefault {
			fields[f.Name] = f.DefaultValue
		}
	}
	ev := &ErrorValue{Name: name, Kind: KindUserError, Payload: payload, Fields: fields, Type: et}
	if err := rt.Registry.ValidateType(scope, ev, et); err != nil {
		return err
	}

	se := userError(name, payload)
	se.fields = fields
	rt.raised(se)
	return se
}

func errorValue(se *ScriptError) *ErrorValue {
	return &ErrorValue{Name: se.Name, Kind: se.Kind, Payload: se.Payload, Fields: se.fields}
}

// catchMatches decides whether a catch clause typed with name handles se.
// Builtin failures also match their kind name.
func catchMatches(name string, se *ScriptError) bool {
	if name == "" {
		return true
	}
	return se.Name == name || se.Kind.String() == name
}

func (rt *Runtime) assert(cond, message any) error {
	if truthy(cond) {
		return nil
	}
	msg := "assertion failed"
	if message != nil {
		msg = FormatValue(message)
	}
	se := assertionFailed(msg)
	rt.raised(se)
	return se
}

// dispatch completes builtin and async calls. Synchronous user functions are
// returned for the calling engine to run in its own way.
func (rt *Runtime) dispatch(scope ScopeID, callee any, args []any) (*Function, any, error) {
	switch fn := callee.(type) {
	case *Builtin:
		res, err := rt.callBuiltin(scope, fn, args)
		return nil, res, err
	case *Function:
		if fn.Async {
			if len(args) != len(fn.Params) {
				return nil, nil, runtimeFailure("%s expects %d arguments, got %d", fn.Name, len(fn.Params), len(args))
			}
			return nil, &Future{Fn: fn, Args: args}, nil
		}
		return fn, nil, nil
	}
	return nil, nil, runtimeFailure("%s is not callable", typeName(callee))
}

func (rt *Runtime) callBuiltin(scope ScopeID, b *Builtin, args []any) (any, error) {
	if len(args) < b.MinArgs || (b.MaxArgs >= 0 && len(args) > b.MaxArgs) {
		return nil, runtimeFailure("%s: wrong number of arguments: %d", b.Name, len(args))
	}
	return b.Handler(rt, scope, args)
}

// enterFunction creates the call scope, binds captured names and
// parameters, and opens the job iteration budget.
func (rt *Runtime) enterFunction(fn *Function, args []any) (ScopeID, error) {
	if len(args) != len(fn.Params) {
		return NoScope, runtimeFailure("%s expects %d arguments, got %d", fn.Name, len(fn.Params), len(args))
	}
	if rt.callDepth >= maxCallDepth {
		return NoScope, runtimeFailure("maximum call depth %d exceeded in %s", maxCallDepth, fn.Name)
	}

	scope := rt.Registry.NewScope(fn.Scope, ScopeCall, fn.Name)
	for name, v := range fn.Captured {
		if err := rt.define(scope, name, v, nil, false); err != nil {
			return NoScope, err
		}
	}
	for i, p := range fn.Params {
		if err := rt.checkType(scope, args[i], p.Type); err != nil {
			return NoScope, err
		}
		if err := rt.define(scope, p.Name, args[i], p.Type, false); err != nil {
			return NoScope, err
		}
	}

	if fn.Job != nil && fn.Job.Limit > 0 {
		rt.budgets = append(rt.budgets, &jobBudget{job: fn.Name, remaining: fn.Job.Limit, limit: fn.Job.Limit})
	}
	rt.callDepth++
	return scope, nil
}

// leaveFunction closes what enterFunction opened, checks the declared
// return type and runs the audit hook of jobs.
func (rt *Runtime) leaveFunction(fn *Function, scope ScopeID, result any, callErr error) (any, error) {
	rt.callDepth--
	if fn.Job != nil && fn.Job.Limit > 0 && len(rt.budgets) > 0 {
		rt.budgets = rt.budgets[:len(rt.budgets)-1]
	}

	if callErr == nil && fn.Returns != nil {
		callErr = rt.checkType(fn.Scope, result, fn.Returns)
	}

	if fn.Job != nil && fn.Job.Audit != "" {
		status := "ok"
		if callErr != nil {
			status = "failed"
		}
		if auditErr := rt.audit(fn, status); auditErr != nil && callErr == nil {
			callErr = auditErr
		}
	}

	if scope != NoScope {
		rt.Registry.Release(scope)
	}
	if callErr != nil {
		return nil, callErr
	}
	return result, nil
}

func (rt *Runtime) audit(job *Function, status string) error {
	hook, err := rt.lookup(job.Scope, job.Job.Audit)
	if err != nil {
		return err
	}
	args := []any{job.Name, status}
	fn, _, err := rt.dispatch(job.Scope, hook, args)
	if err != nil || fn == nil {
		return err
	}
	_, err = rt.exec.invoke(fn, args)
	return err
}

// tick charges one loop iteration against the innermost job budget
func (rt *Runtime) tick() error {
	if len(rt.budgets) == 0 {
		return nil
	}
	b := rt.budgets[len(rt.budgets)-1]
	b.remaining--
	if b.remaining < 0 {
		return runtimeFailure("job %s exceeded its limit of %d iterations", b.job, b.limit)
	}
	return nil
}

func (rt *Runtime) evalGuard(scope ScopeID, name string, value any) (bool, error) {
	v, err := rt.lookup(scope, name)
	if err != nil {
		return false, err
	}
	fn, res, err := rt.dispatch(scope, v, []any{value})
	if err != nil {
		return false, err
	}
	if fn != nil {
		if res, err = rt.exec.invoke(fn, []any{value}); err != nil {
			return false, err
		}
	}
	return truthy(res), nil
}

// resolve implements wait and await. Futures run on first wait; numbers
// suspend for that many milliseconds; anything else is already resolved.
func (rt *Runtime) resolve(v any) (any, error) {
	switch val := v.(type) {
	case *Future:
		if !val.Done {
			val.Value, val.Err = rt.exec.invoke(val.Fn, val.Args)
			val.Done = true
		}
		if err := rt.runDue(); err != nil {
			return nil, err
		}
		return val.Value, val.Err
	case int64, float64:
		ms, _ := toFloat(val)
		if err := rt.collab.Clock.Sleep(rt.ctx, time.Duration(ms*float64(time.Millisecond))); err != nil {
			return nil, rt.hostError(err)
		}
		return nil, rt.runDue()
	}
	return v, nil
}

func (rt *Runtime) hostError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrExecutionTimeout
	}
	return err
}

func (rt *Runtime) schedule(fn *Function, delay time.Duration) {
	rt.timerSeq++
	t := &timer{id: uuid.New(), due: rt.collab.Clock.Now().Add(delay), seq: rt.timerSeq, fn: fn}
	rt.timers = append(rt.timers, t)
	rt.LogDebugf("scheduled job %s (timer %s) in %s", fn.Name, t.id, delay)
}

func (rt *Runtime) nextTimer() *timer {
	if len(rt.timers) == 0 {
		return nil
	}
	sort.SliceStable(rt.timers, func(i, j int) bool {
		if rt.timers[i].due.Equal(rt.timers[j].due) {
			return rt.timers[i].seq < rt.timers[j].seq
		}
		return rt.timers[i].due.Before(rt.timers[j].due)
	})
	return rt.timers[0]
}

func (rt *Runtime) fire(t *timer) error {
	rt.timers = rt.timers[1:]
	_, err := rt.exec.invoke(t.fn, nil)
	if err == nil {
		return nil
	}
	if _, isScript := AsScriptError(err); !isScript {
		return err
	}
	rt.LogWarnf("job %s (timer %s) failed: %v", t.fn.Name, t.id, err)
	rt.Events.TimerFailed.Trigger(err)
	return nil
}

// runDue fires the timers that are due and delivers pending socket messages.
// It runs at every suspension point.
func (rt *Runtime) runDue() error {
	if rt.firing {
		return nil
	}
	rt.firing = true
	defer func() { rt.firing = false }()

	if err := rt.pollSockets(); err != nil {
		return err
	}
	for {
		t := rt.nextTimer()
		if t == nil || t.due.After(rt.collab.Clock.Now()) {
			return nil
		}
		if err := rt.fire(t); err != nil {
			return err
		}
	}
}

// drain runs every remaining timer in due order, then closes sockets
func (rt *Runtime) drain() error {
	rt.firing = true
	defer func() { rt.firing = false }()

	for {
		if err := rt.pollSockets(); err != nil {
			return err
		}
		t := rt.nextTimer()
		if t == nil {
			break
		}
		if wait := t.due.Sub(rt.collab.Clock.Now()); wait > 0 {
			if err := rt.collab.Clock.Sleep(rt.ctx, wait); err != nil {
				return rt.hostError(err)
			}
		}
		if err := rt.fire(t); err != nil {
			return err
		}
	}

	rt.closeSockets()
	return nil
}

func (rt *Runtime) pollSockets() error {
	for _, s := range rt.sockets {
		if s.Closed {
			continue
		}
		messages, err := s.Conn.Poll()
		if err != nil {
			rt.LogWarnf("socket %s poll failed: %v", s.URL, err)
			continue
		}
		for _, msg := range messages {
			var args []any
			if len(s.Handler.Params) > 0 {
				args = []any{msg}
			}
			if _, err := rt.exec.invoke(s.Handler, args); err != nil {
				if _, isScript := AsScriptError(err); !isScript {
					return err
				}
				rt.LogWarnf("socket %s handler failed: %v", s.URL, err)
			}
		}
	}
	return nil
}

func (rt *Runtime) closeSockets() {
	for _, s := range rt.sockets {
		if s.Closed {
			continue
		}
		s.Closed = true
		if err := s.Conn.Close(); err != nil {
			rt.LogWarnf("closing socket %s: %v", s.URL, err)
		}
	}
}

// emit fires topic synchronously. Every visible handler runs in a fresh
// scope derived from where it was declared.
func (rt *Runtime) emit(scope ScopeID, topic string, payload any) error {
	rt.Events.TopicFired.Trigger(topic)
	for _, h := range rt.Registry.Handlers(scope, topic) {
		var args []any
		if len(h.Params) > 0 {
			args = []any{payload}
		}
		if _, err := rt.exec.invoke(h, args); err != nil {
			return err
		}
	}
	return nil
}

// Tests returns the test declarations registered during the run
func (rt *Runtime) Tests() []*Function {
	return rt.tests
}

// RunTest executes one registered test
func (rt *Runtime) RunTest(fn *Function) TestResult {
	_, err := rt.exec.invoke(fn, nil)
	if err == nil {
		err = rt.drain()
	}
	return TestResult{Name: fn.Name, Passed: err == nil, Err: err}
}
