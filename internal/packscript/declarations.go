package packscript

import (
	"context"
	"errors"
	"time"
)

// declare installs a declaration into scope. values carries the expressions
// the engine already evaluated for it: field defaults in field order for
// boxes, entities and errors; the `when` delay then the `limit` for jobs.
// entry is the bytecode entry point of any body, or -1 for the interpreter.
func (rt *Runtime) declare(scope ScopeID, d Decl, entry int, values []any) error {
	switch decl := d.(type) {
	case *TypeDecl:
		return rt.Registry.DefineType(scope, decl.Name, decl.Type)
	case *BoxDecl:
		return rt.declareBox(scope, decl, values)
	case *ErrorDecl:
		fields, err := rt.resolveFields(scope, decl.Fields, values)
		if err != nil {
			return err
		}
		return rt.Registry.DefineType(scope, decl.Name, &ErrorType{Name: decl.Name, Fields: fields})
	case *GuardDecl:
		fn := rt.newFunction(scope, decl.Name, FnGuard, entry)
		fn.Params = []Param{decl.Param}
		fn.Result = decl.Body
		return rt.define(scope, decl.Name, fn, nil, true)
	case *FuncDecl:
		fn := rt.newFunction(scope, decl.Name, FnPlain, entry)
		fn.Params = decl.Params
		fn.Returns = decl.Returns
		fn.Body = decl.Body
		fn.OnError = decl.OnError
		fn.Tags = decl.Tags
		fn.Async = hasTag(decl.Tags, "async")
		return rt.define(scope, decl.Name, fn, nil, true)
	case *JobDecl:
		return rt.declareJob(scope, decl, entry, values)
	case *TestDecl:
		fn := rt.newFunction(scope, decl.Name, FnTest, entry)
		fn.Body = decl.Body
		fn.Tags = decl.Tags
		rt.tests = append(rt.tests, fn)
		return nil
	case *QueueDecl:
		return rt.define(scope, decl.Name, &Queue{Name: decl.Name, Elem: decl.Elem, Tags: decl.Tags}, nil, true)
	case *ViewDecl:
		fn := rt.newFunction(scope, decl.Name, FnView, entry)
		fn.Result = decl.Body
		fn.Tags = decl.Tags
		return rt.define(scope, decl.Name, fn, nil, true)
	case *GrantDecl:
		if decl.Revoke {
			rt.Registry.Revoke(scope, decl.Subject, decl.Target, decl.Rights)
		} else {
			rt.Registry.Grant(scope, decl.Subject, decl.Target, decl.Rights)
		}
		return nil
	case *SubscribeDecl:
		fn := rt.newFunction(scope, decl.Topic, FnHandler, entry)
		if decl.Param != "" {
			fn.Params = []Param{{Name: decl.Param}}
		}
		fn.Body = decl.Body
		rt.Registry.Subscribe(scope, decl.Topic, fn)
		return nil
	case *UseDecl:
		return rt.use(scope, decl.Name)
	case *DocDecl, *CommentDecl:
		return nil
	}
	return runtimeFailure("cannot declare %T", d)
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func (rt *Runtime) newFunction(scope ScopeID, name string, kind FunctionKind, entry int) *Function {
	rt.Registry.Pin(scope)
	return &Function{Name: name, Kind: kind, Scope: scope, Entry: entry}
}

// declarePack opens the scope of a namespace or pack and binds its name in
// the enclosing scope.
func (rt *Runtime) declarePack(scope ScopeID, name string, tags []string, namespace bool) (ScopeID, error) {
	kind := ScopePack
	if namespace {
		kind = ScopeNamespace
	}
	inner := rt.Registry.NewScope(scope, kind, name)
	rt.Registry.Pin(inner)
	pack := &PackValue{Name: name, Scope: inner, Tags: tags, Namespace: namespace}
	if err := rt.define(scope, name, pack, nil, true); err != nil {
		return NoScope, err
	}
	return inner, nil
}

func (rt *Runtime) resolveFields(scope ScopeID, decls []FieldDecl, defaults []any) ([]Field, error) {
	fields := make([]Field, 0, len(decls))
	next := 0
	for _, fd := range decls {
		f := Field{Name: fd.Name, Type: fd.Type, Default: fd.Default}
		for _, prev := range fields {
			if prev.Name == fd.Name {
				return nil, duplicateBinding(fd.Name)
			}
		}
		if fd.Default != nil {
			if next >= len(defaults) {
				return nil, runtimeFailure("missing default value for field %s", fd.Name)
			}
			f.DefaultValue = defaults[next]
			f.HasDefault = true
			next++
			if err := rt.checkType(scope, f.DefaultValue, f.Type); err != nil {
				return nil, err
			}
		}
		fields = append(fields, f)
	}
	return fields, nil
}

func (rt *Runtime) declareBox(scope ScopeID, d *BoxDecl, defaults []any) error {
	fields, err := rt.resolveFields(scope, d.Fields, defaults)
	if err != nil {
		return err
	}
	bt := &BoxType{Name: d.Name, Fields: fields, Entity: d.Entity, Policy: d.Policy, Tags: d.Tags}
	return rt.Registry.DefineType(scope, d.Name, bt)
}

var delayUnits = map[string]time.Duration{
	"":        time.Millisecond,
	"ms":      time.Millisecond,
	"s":       time.Second,
	"sec":     time.Second,
	"seconds": time.Second,
	"m":       time.Minute,
	"min":     time.Minute,
	"minutes": time.Minute,
	"h":       time.Hour,
	"hours":   time.Hour,
}

func (rt *Runtime) declareJob(scope ScopeID, d *JobDecl, entry int, values []any) error {
	fn := rt.newFunction(scope, d.Name, FnJob, entry)
	fn.Params = d.Params
	fn.Returns = d.Returns
	fn.Body = d.Body
	fn.OnError = d.OnError
	fn.Tags = d.Tags
	fn.Job = &JobConfig{Audit: d.Audit}

	next := 0
	scheduled := false
	if d.When != nil {
		n, ok := toFloat(values[next])
		if !ok || n < 0 {
			return typeMismatch("num:min:0", typeName(values[next]))
		}
		fn.Job.Delay = time.Duration(n * float64(delayUnits[d.WhenUnit]))
		scheduled = true
		next++
	}
	if d.Limit != nil {
		n, ok := values[next].(int64)
		if !ok || n < 0 {
			return typeMismatch("num:min:0", typeName(values[next]))
		}
		fn.Job.Limit = n
	}

	if err := rt.define(scope, d.Name, fn, nil, true); err != nil {
		return err
	}
	if scheduled {
		rt.schedule(fn, fn.Job.Delay)
	}
	return nil
}

// use imports every binding of a pack into scope
func (rt *Runtime) use(scope ScopeID, name string) error {
	v, err := rt.lookup(scope, name)
	if err != nil {
		return err
	}
	pack, ok := v.(*PackValue)
	if !ok {
		return typeMismatch("pack", typeName(v))
	}
	for _, b := range rt.Registry.Bindings(pack.Scope) {
		if err := rt.define(scope, b.Name, b.Value, b.Type, b.Const); err != nil {
			return err
		}
	}
	return nil
}

// makeLambda copies the captured values; the lambda otherwise only sees
// its enclosing pack or namespace.
func (rt *Runtime) makeLambda(scope ScopeID, e *LambdaExpr, entry int) (*Function, error) {
	captured := make(map[string]any, len(e.Uses))
	for _, name := range e.Uses {
		v, err := rt.lookup(scope, name)
		if err != nil {
			return nil, err
		}
		captured[name] = v
	}
	fn := rt.newFunction(rt.Registry.NearestModule(scope), "lambda", FnLambda, entry)
	fn.Params = e.Params
	fn.Body = e.Body
	fn.Result = e.Result
	fn.Captured = captured
	return fn, nil
}

func toBytes(v any) (Bytes, error) {
	switch b := v.(type) {
	case Bytes:
		return b, nil
	case string:
		return Bytes(b), nil
	}
	return nil, typeMismatch("bytes", typeName(v))
}

func (rt *Runtime) crypto() (CryptoProvider, error) {
	if rt.collab.Crypto == nil {
		return nil, externalFailure("crypto", errors.New("no crypto provider configured"))
	}
	return rt.collab.Crypto, nil
}

// keygen binds a fresh key pair, or one derived from seed when given
func (rt *Runtime) keygen(scope ScopeID, name string, seed any, derive bool) error {
	provider, err := rt.crypto()
	if err != nil {
		return err
	}

	var pub, priv []byte
	if derive {
		s, err := toBytes(seed)
		if err != nil {
			return err
		}
		pub, priv, err = provider.DeriveKey(s)
		if err != nil {
			return externalFailure("keygen", err)
		}
	} else {
		pub, priv, err = provider.GenerateKey()
		if err != nil {
			return externalFailure("keygen", err)
		}
	}
	return rt.define(scope, name, &KeyPair{Public: pub, Private: priv}, nil, false)
}

func (rt *Runtime) verifySignature(pub, msg, sig any) (any, error) {
	provider, err := rt.crypto()
	if err != nil {
		return nil, err
	}
	if kp, ok := pub.(*KeyPair); ok {
		pub = kp.Public
	}
	p, err := toBytes(pub)
	if err != nil {
		return nil, err
	}
	m, err := toBytes(msg)
	if err != nil {
		return nil, err
	}
	s, err := toBytes(sig)
	if err != nil {
		return nil, err
	}
	ok, err := provider.Verify(p, m, s)
	if err != nil {
		return nil, externalFailure("verify signature", err)
	}
	return ok, nil
}

// httpGet fetches url, decodes the body and validates it against t
func (rt *Runtime) httpGet(scope ScopeID, url any, t Type) (any, error) {
	u, ok := url.(string)
	if !ok {
		return nil, typeMismatch("word", typeName(url))
	}
	if rt.collab.Fetcher == nil {
		return nil, externalFailure("http get", errors.New("no fetcher configured"))
	}
	body, err := rt.collab.Fetcher.Get(rt.ctx, u)
	if err != nil {
		if hostErr := rt.checkContext(); hostErr != nil {
			return nil, hostErr
		}
		return nil, externalFailure("http get "+u, err)
	}
	value := DecodeValue(body)
	if err := rt.checkType(scope, value, t); err != nil {
		return nil, err
	}
	return value, rt.runDue()
}

func (rt *Runtime) storeKey(key any) (string, error) {
	if rt.collab.Store == nil {
		return "", externalFailure("store", errors.New("no key-value store configured"))
	}
	k, ok := key.(string)
	if !ok {
		return "", typeMismatch("word", typeName(key))
	}
	return k, nil
}

func (rt *Runtime) store(key, value any) error {
	k, err := rt.storeKey(key)
	if err != nil {
		return err
	}
	data, err := EncodeValue(value)
	if err != nil {
		return err
	}
	if err := rt.collab.Store.Store(rt.ctx, k, data); err != nil {
		return externalFailure("store "+k, err)
	}
	return nil
}

func (rt *Runtime) recall(key any) (any, error) {
	k, err := rt.storeKey(key)
	if err != nil {
		return nil, err
	}
	data, err := rt.collab.Store.Recall(rt.ctx, k)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, externalFailure("recall "+k, err)
	}
	return DecodeValue(data), nil
}

func (rt *Runtime) forget(key, reason any) error {
	k, err := rt.storeKey(key)
	if err != nil {
		return err
	}
	if err := rt.collab.Store.Forget(rt.ctx, k, FormatValue(reason)); err != nil && !errors.Is(err, ErrNotFound) {
		return externalFailure("forget "+k, err)
	}
	return nil
}

// socketConnect dials url and registers handler for inbound messages.
// Messages are delivered at suspension points and when the run drains.
func (rt *Runtime) socketConnect(scope ScopeID, s *SocketStmt, url any, entry int) error {
	u, ok := url.(string)
	if !ok {
		return typeMismatch("word", typeName(url))
	}
	if rt.collab.Dialer == nil {
		return externalFailure("socket connect", errors.New("no socket dialer configured"))
	}
	conn, err := rt.collab.Dialer.Dial(rt.ctx, u)
	if err != nil {
		return externalFailure("socket connect "+u, err)
	}

	handler := rt.newFunction(scope, "on_message", FnHandler, entry)
	if s.Param != "" {
		handler.Params = []Param{{Name: s.Param}}
	}
	handler.Body = s.Body

	sock := &Socket{URL: u, Conn: conn, Handler: handler}
	rt.sockets = append(rt.sockets, sock)
	if s.Name != "" {
		return rt.define(scope, s.Name, sock, nil, false)
	}
	return nil
}

func (rt *Runtime) send(sock *Socket, message any) error {
	if sock.Closed {
		return runtimeFailure("socket %s is closed", sock.URL)
	}
	var text string
	switch m := message.(type) {
	case string:
		text = m
	default:
		data, err := EncodeValue(m)
		if err != nil {
			return err
		}
		text = string(data)
	}
	if err := sock.Conn.Send(rt.ctx, text); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrExecutionTimeout
		}
		return externalFailure("socket send "+sock.URL, err)
	}
	return rt.runDue()
}
