package packscript

import (
	"strconv"
	"strings"
	"time"
)

func defaultBuiltins() map[string]*Builtin {
	builtins := []*Builtin{
		{Name: "len", MinArgs: 1, MaxArgs: 1, Handler: funcLen},
		{Name: "now", MinArgs: 0, MaxArgs: 0, Handler: funcNow},
		{Name: "after", MinArgs: 1, MaxArgs: 1, Handler: funcAfter},
		{Name: "before", MinArgs: 1, MaxArgs: 1, Handler: funcBefore},
		{Name: "str", MinArgs: 1, MaxArgs: 1, Handler: funcStr},
		{Name: "num", MinArgs: 1, MaxArgs: 1, Handler: funcNum},
		{Name: "keys", MinArgs: 1, MaxArgs: 1, Handler: funcKeys},
		{Name: "push", MinArgs: 2, MaxArgs: 2, Handler: funcPush},
		{Name: "enqueue", MinArgs: 2, MaxArgs: 2, Handler: funcEnqueue},
		{Name: "dequeue", MinArgs: 1, MaxArgs: 1, Handler: funcDequeue},
		{Name: "size", MinArgs: 1, MaxArgs: 1, Handler: funcLen},
		{Name: "history", MinArgs: 1, MaxArgs: 1, Handler: funcHistory},
		{Name: "allowed", MinArgs: 2, MaxArgs: 3, Handler: funcAllowed},
		{Name: "min", MinArgs: 1, MaxArgs: -1, Handler: funcMin},
		{Name: "max", MinArgs: 1, MaxArgs: -1, Handler: funcMax},
		{Name: "hash", MinArgs: 1, MaxArgs: 2, Handler: funcHash},
		{Name: "sign", MinArgs: 2, MaxArgs: 2, Handler: funcSign},
		{Name: "multisig", MinArgs: 4, MaxArgs: 4, Handler: funcMultiSig},
		{Name: "zk_proof", MinArgs: 1, MaxArgs: 1, Handler: funcZKProof},
		{Name: "zk_verify", MinArgs: 2, MaxArgs: 2, Handler: funcZKVerify},
		{Name: "send", MinArgs: 2, MaxArgs: 2, Handler: funcSend},
		{Name: "store", MinArgs: 2, MaxArgs: 2, Handler: funcStore},
		{Name: "forget", MinArgs: 1, MaxArgs: 2, Handler: funcForget},
	}

	table := make(map[string]*Builtin, len(builtins))
	for _, b := range builtins {
		table[b.Name] = b
	}
	return table
}

// Built-in function implementations

func funcLen(_ *Runtime, _ ScopeID, args []any) (any, error) {
	switch v := args[0].(type) {
	case string:
		return int64(len([]rune(v))), nil
	case Bytes:
		return int64(len(v)), nil
	case *List:
		return int64(len(v.Elems)), nil
	case *Group:
		return int64(len(v.Elems)), nil
	case *Dict:
		return int64(v.Len()), nil
	case *Queue:
		return int64(len(v.Items)), nil
	case nil:
		return int64(0), nil
	}
	return nil, typeMismatch("collection", typeName(args[0]))
}

func funcNow(rt *Runtime, _ ScopeID, _ []any) (any, error) {
	return rt.collab.Clock.Now().UTC(), nil
}

func toTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		if parsed, ok := parseTime(t); ok {
			return parsed, nil
		}
	case int64:
		return time.Unix(t, 0).UTC(), nil
	}
	return time.Time{}, typeMismatch("time", typeName(v))
}

func funcAfter(rt *Runtime, _ ScopeID, args []any) (any, error) {
	t, err := toTime(args[0])
	if err != nil {
		return nil, err
	}
	return rt.collab.Clock.Now().After(t), nil
}

func funcBefore(rt *Runtime, _ ScopeID, args []any) (any, error) {
	t, err := toTime(args[0])
	if err != nil {
		return nil, err
	}
	return rt.collab.Clock.Now().Before(t), nil
}

func funcStr(_ *Runtime, _ ScopeID, args []any) (any, error) {
	return FormatValue(args[0]), nil
}

func funcNum(_ *Runtime, _ ScopeID, args []any) (any, error) {
	switch v := args[0].(type) {
	case int64, float64:
		return v, nil
	case bool:
		if v {
			return int64(1), nil
		}
		return int64(0), nil
	case string:
		s := strings.TrimSpace(v)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, nil
		}
		return nil, typeMismatch("num", strconv.Quote(v))
	}
	return nil, typeMismatch("num", typeName(args[0]))
}

func funcKeys(_ *Runtime, _ ScopeID, args []any) (any, error) {
	switch v := args[0].(type) {
	case *Dict:
		return &List{Elems: v.Keys()}, nil
	case *BoxValue:
		elems := make([]any, 0, len(v.Type.Fields))
		for _, f := range v.Type.Fields {
			elems = append(elems, f.Name)
		}
		return &List{Elems: elems}, nil
	}
	return nil, typeMismatch("dict", typeName(args[0]))
}

func funcPush(_ *Runtime, _ ScopeID, args []any) (any, error) {
	list, ok := args[0].(*List)
	if !ok {
		return nil, typeMismatch("list", typeName(args[0]))
	}
	list.Elems = append(list.Elems, args[1])
	return list, nil
}

func funcEnqueue(rt *Runtime, scope ScopeID, args []any) (any, error) {
	q, ok := args[0].(*Queue)
	if !ok {
		return nil, typeMismatch("queue", typeName(args[0]))
	}
	if err := rt.checkType(scope, args[1], q.Elem); err != nil {
		return nil, err
	}
	q.Items = append(q.Items, args[1])
	return int64(len(q.Items)), nil
}

func funcDequeue(_ *Runtime, _ ScopeID, args []any) (any, error) {
	q, ok := args[0].(*Queue)
	if !ok {
		return nil, typeMismatch("queue", typeName(args[0]))
	}
	if len(q.Items) == 0 {
		return nil, nil
	}
	head := q.Items[0]
	q.Items = q.Items[1:]
	return head, nil
}

func funcHistory(_ *Runtime, _ ScopeID, args []any) (any, error) {
	box, ok := args[0].(*BoxValue)
	if !ok || !box.Type.Entity {
		return nil, typeMismatch("entity", typeName(args[0]))
	}
	elems := make([]any, 0, len(box.History))
	for _, h := range box.History {
		entry := NewDict()
		entry.Set("field", h.Field)
		entry.Set("old", h.Old)
		entry.Set("new", h.New)
		elems = append(elems, entry)
	}
	return &List{Elems: elems}, nil
}

func funcAllowed(rt *Runtime, scope ScopeID, args []any) (any, error) {
	subject, ok1 := args[0].(string)
	target, ok2 := args[1].(string)
	if !ok1 || !ok2 {
		return nil, typeMismatch("word", typeName(args[0])+", "+typeName(args[1]))
	}
	right := "*"
	if len(args) == 3 {
		r, ok := args[2].(string)
		if !ok {
			return nil, typeMismatch("word", typeName(args[2]))
		}
		right = r
	}
	return rt.Registry.Allowed(scope, subject, target, right), nil
}

func extreme(name string, args []any, keep func(c int) bool) (any, error) {
	values := args
	if len(args) == 1 {
		list, ok := args[0].(*List)
		if !ok {
			return nil, typeMismatch("list", typeName(args[0]))
		}
		values = list.Elems
	}
	if len(values) == 0 {
		return nil, runtimeFailure("%s: no values", name)
	}
	best := values[0]
	for _, v := range values[1:] {
		c, err := compareValues(name, v, best)
		if err != nil {
			return nil, err
		}
		if keep(c) {
			best = v
		}
	}
	return best, nil
}

func funcMin(_ *Runtime, _ ScopeID, args []any) (any, error) {
	return extreme("min", args, func(c int) bool { return c < 0 })
}

func funcMax(_ *Runtime, _ ScopeID, args []any) (any, error) {
	return extreme("max", args, func(c int) bool { return c > 0 })
}

func funcHash(rt *Runtime, _ ScopeID, args []any) (any, error) {
	provider, err := rt.crypto()
	if err != nil {
		return nil, err
	}
	algo, data := "sha256", args[0]
	if len(args) == 2 {
		a, ok := args[0].(string)
		if !ok {
			return nil, typeMismatch("word", typeName(args[0]))
		}
		algo, data = a, args[1]
	}
	raw, err := toBytes(data)
	if err != nil {
		encoded, encErr := EncodeValue(data)
		if encErr != nil {
			return nil, encErr
		}
		raw = encoded
	}
	sum, err := provider.Hash(algo, raw)
	if err != nil {
		return nil, externalFailure("hash", err)
	}
	return Bytes(sum), nil
}

func funcSign(rt *Runtime, _ ScopeID, args []any) (any, error) {
	provider, err := rt.crypto()
	if err != nil {
		return nil, err
	}
	var private Bytes
	switch k := args[0].(type) {
	case *KeyPair:
		private = k.Private
	case Bytes:
		private = k
	default:
		return nil, typeMismatch("keypair", typeName(args[0]))
	}
	msg, err := toBytes(args[1])
	if err != nil {
		return nil, err
	}
	sig, err := provider.Sign(private, msg)
	if err != nil {
		return nil, externalFailure("sign", err)
	}
	return Bytes(sig), nil
}

func bytesList(v any) ([][]byte, error) {
	list, ok := v.(*List)
	if !ok {
		return nil, typeMismatch("list", typeName(v))
	}
	out := make([][]byte, 0, len(list.Elems))
	for _, elem := range list.Elems {
		if kp, ok := elem.(*KeyPair); ok {
			elem = kp.Public
		}
		b, err := toBytes(elem)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func funcMultiSig(rt *Runtime, _ ScopeID, args []any) (any, error) {
	provider, err := rt.crypto()
	if err != nil {
		return nil, err
	}
	threshold, ok := args[0].(int64)
	if !ok || threshold < 1 {
		return nil, typeMismatch("num:min:1", typeName(args[0]))
	}
	publics, err := bytesList(args[1])
	if err != nil {
		return nil, err
	}
	msg, err := toBytes(args[2])
	if err != nil {
		return nil, err
	}
	sigs, err := bytesList(args[3])
	if err != nil {
		return nil, err
	}
	valid, err := provider.MultiSig(int(threshold), publics, msg, sigs)
	if err != nil {
		return nil, externalFailure("multisig", err)
	}
	return valid, nil
}

// funcZKProof is a suspension point: due timers fire once the proof exists
func funcZKProof(rt *Runtime, _ ScopeID, args []any) (any, error) {
	provider, err := rt.crypto()
	if err != nil {
		return nil, err
	}
	secret, err := toBytes(args[0])
	if err != nil {
		return nil, err
	}
	commitment, proof, err := provider.Prove(secret)
	if err != nil {
		return nil, externalFailure("zk_proof", err)
	}
	out := NewDict()
	out.Set("commitment", Bytes(commitment))
	out.Set("proof", Bytes(proof))
	return out, rt.runDue()
}

func funcZKVerify(rt *Runtime, _ ScopeID, args []any) (any, error) {
	provider, err := rt.crypto()
	if err != nil {
		return nil, err
	}
	commitment, err := toBytes(args[0])
	if err != nil {
		return nil, err
	}
	proof, err := toBytes(args[1])
	if err != nil {
		return nil, err
	}
	valid, err := provider.VerifyProof(commitment, proof)
	if err != nil {
		return nil, externalFailure("zk_verify", err)
	}
	return valid, nil
}

func funcSend(rt *Runtime, _ ScopeID, args []any) (any, error) {
	sock, ok := args[0].(*Socket)
	if !ok {
		return nil, typeMismatch("socket", typeName(args[0]))
	}
	return nil, rt.send(sock, args[1])
}

func funcStore(rt *Runtime, _ ScopeID, args []any) (any, error) {
	return nil, rt.store(args[0], args[1])
}

func funcForget(rt *Runtime, _ ScopeID, args []any) (any, error) {
	var reason any
	if len(args) == 2 {
		reason = args[1]
	}
	return nil, rt.forget(args[0], reason)
}
