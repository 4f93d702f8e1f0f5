package packscript

// ScopeID addresses a scope in the registry arena
type ScopeID int

const (
	RootScope ScopeID = 0
	NoScope   ScopeID = -1
)

// ScopeKind records why a scope was created
type ScopeKind int

const (
	ScopeRoot ScopeKind = iota
	ScopeNamespace
	ScopePack
	ScopeCall
	ScopeBlock
	ScopeHandler
)

// Binding is a named value with an optional declared type
type Binding struct {
	Name  string
	Value any
	Type  Type
	Const bool
}

type permissionKey struct {
	subject string
	target  string
}

// Scope is one record in the registry arena
type Scope struct {
	ID     ScopeID
	Parent ScopeID
	Kind   ScopeKind
	Name   string

	bindings    map[string]*Binding
	order       []string
	types       map[string]Type
	permissions map[permissionKey]map[string]bool
	handlers    map[string][]*Function

	pinned   bool
	released bool
}

// GuardEvaluator runs a named guard against a value during type validation
type GuardEvaluator func(scope ScopeID, guard string, value any) (bool, error)

// Registry is the arena of scopes for one run. Scopes refer to their parent by
// ID, never by pointer.
type Registry struct {
	scopes []*Scope
	guards GuardEvaluator
}

func NewRegistry() *Registry {
	r := &Registry{}
	r.scopes = append(r.scopes, newScope(RootScope, NoScope, ScopeRoot, "root"))
	r.scopes[RootScope].pinned = true
	return r
}

func newScope(id, parent ScopeID, kind ScopeKind, name string) *Scope {
	return &Scope{
		ID:       id,
		Parent:   parent,
		Kind:     kind,
		Name:     name,
		bindings: make(map[string]*Binding),
	}
}

// SetGuardEvaluator installs the callback used for named constraints
func (r *Registry) SetGuardEvaluator(fn GuardEvaluator) {
	r.guards = fn
}

func (r *Registry) scope(id ScopeID) *Scope {
	if id < 0 || int(id) >= len(r.scopes) {
		panic(runtimeFailure("invalid scope id %d", id))
	}
	return r.scopes[id]
}

// NewScope allocates a child of parent
func (r *Registry) NewScope(parent ScopeID, kind ScopeKind, name string) ScopeID {
	id := ScopeID(len(r.scopes))
	r.scopes = append(r.scopes, newScope(id, parent, kind, name))
	return id
}

// Scope returns the record for id
func (r *Registry) Scope(id ScopeID) *Scope {
	return r.scope(id)
}

// Len is the number of scopes ever allocated
func (r *Registry) Len() int {
	return len(r.scopes)
}

// Pin keeps a scope and its ancestors alive after their region ends, because
// a function declared there may still run.
func (r *Registry) Pin(id ScopeID) {
	for id != NoScope {
		s := r.scope(id)
		if s.pinned {
			return
		}
		s.pinned = true
		id = s.Parent
	}
}

// Release discards the contents of a scope whose region ended, unless pinned
func (r *Registry) Release(id ScopeID) {
	s := r.scope(id)
	if s.pinned || s.released {
		return
	}
	s.released = true
	s.bindings = nil
	s.order = nil
	s.types = nil
	s.permissions = nil
	s.handlers = nil
}

// Define binds name in the immediate scope
func (r *Registry) Define(id ScopeID, name string, value any, t Type, constant bool) error {
	s := r.scope(id)
	if s.bindings == nil {
		s.bindings = make(map[string]*Binding)
	}
	if _, exists := s.bindings[name]; exists {
		return duplicateBinding(name)
	}
	s.bindings[name] = &Binding{Name: name, Value: value, Type: t, Const: constant}
	s.order = append(s.order, name)
	return nil
}

func (r *Registry) resolve(id ScopeID, name string) (*Binding, bool) {
	for id != NoScope {
		s := r.scope(id)
		if b, ok := s.bindings[name]; ok {
			return b, true
		}
		id = s.Parent
	}
	return nil, false
}

// Lookup walks the scope chain outward
func (r *Registry) Lookup(id ScopeID, name string) (any, error) {
	b, ok := r.resolve(id, name)
	if !ok {
		return nil, undefinedName(name)
	}
	return b.Value, nil
}

// LookupLocal only consults the immediate scope
func (r *Registry) LookupLocal(id ScopeID, name string) (any, bool) {
	b, ok := r.scope(id).bindings[name]
	if !ok {
		return nil, false
	}
	return b.Value, true
}

// Assign mutates the nearest scope that owns name, validating the declared type
func (r *Registry) Assign(id ScopeID, name string, value any) error {
	b, ok := r.resolve(id, name)
	if !ok {
		return undefinedName(name)
	}
	if b.Const {
		return runtimeFailure("cannot assign to constant %s", name)
	}
	if b.Type != nil {
		if err := r.ValidateType(id, value, b.Type); err != nil {
			return err
		}
	}
	b.Value = value
	return nil
}

// Bindings returns the immediate scope's bindings in definition order
func (r *Registry) Bindings(id ScopeID) []*Binding {
	s := r.scope(id)
	out := make([]*Binding, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.bindings[name])
	}
	return out
}

// DefineType registers a named type descriptor in the immediate scope
func (r *Registry) DefineType(id ScopeID, name string, t Type) error {
	s := r.scope(id)
	if s.types == nil {
		s.types = make(map[string]Type)
	}
	if _, exists := s.types[name]; exists {
		return duplicateBinding(name)
	}
	s.types[name] = t
	return nil
}

// LookupType walks the scope chain for a named type
func (r *Registry) LookupType(id ScopeID, name string) (Type, error) {
	for id != NoScope {
		s := r.scope(id)
		if t, ok := s.types[name]; ok {
			return t, nil
		}
		id = s.Parent
	}
	return nil, undefinedType(name)
}

// Grant adds rights for subject on target in the immediate scope
func (r *Registry) Grant(id ScopeID, subject, target string, rights []string) {
	s := r.scope(id)
	if s.permissions == nil {
		s.permissions = make(map[permissionKey]map[string]bool)
	}
	key := permissionKey{subject: subject, target: target}
	set, ok := s.permissions[key]
	if !ok {
		set = make(map[string]bool)
		s.permissions[key] = set
	}
	if len(rights) == 0 {
		set["*"] = true
	}
	for _, right := range rights {
		set[right] = true
	}
}

// Revoke removes rights for subject on target from every visible scope.
// An empty rights list revokes everything.
func (r *Registry) Revoke(id ScopeID, subject, target string, rights []string) {
	key := permissionKey{subject: subject, target: target}
	for id != NoScope {
		s := r.scope(id)
		if set, ok := s.permissions[key]; ok {
			if len(rights) == 0 {
				delete(s.permissions, key)
			} else {
				for _, right := range rights {
					delete(set, right)
				}
			}
		}
		id = s.Parent
	}
}

// Allowed reports whether any visible grant gives subject the right on target
func (r *Registry) Allowed(id ScopeID, subject, target, right string) bool {
	key := permissionKey{subject: subject, target: target}
	for id != NoScope {
		s := r.scope(id)
		if set, ok := s.permissions[key]; ok && (set[right] || set["*"]) {
			return true
		}
		id = s.Parent
	}
	return false
}

// Subscribe registers a handler for topic in the immediate scope
func (r *Registry) Subscribe(id ScopeID, topic string, handler *Function) {
	s := r.scope(id)
	if s.handlers == nil {
		s.handlers = make(map[string][]*Function)
	}
	s.handlers[topic] = append(s.handlers[topic], handler)
}

// Handlers collects the handlers for topic visible from id, innermost scope first
func (r *Registry) Handlers(id ScopeID, topic string) []*Function {
	var out []*Function
	for id != NoScope {
		s := r.scope(id)
		out = append(out, s.handlers[topic]...)
		id = s.Parent
	}
	return out
}

// NearestModule returns the closest enclosing namespace or pack scope
func (r *Registry) NearestModule(id ScopeID) ScopeID {
	for id != NoScope {
		s := r.scope(id)
		if s.Kind == ScopeNamespace || s.Kind == ScopePack || s.Kind == ScopeRoot {
			return id
		}
		id = s.Parent
	}
	return RootScope
}
