package idl

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jceel/librpc"
)

// instanceRegex matches a type-instance declaration: a dotted name
// optionally followed by <comma,separated,args>, per spec.md §4.G's
// "Type instance" grammar.
var instanceRegex = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_.]*)(?:<(.+)>)?$`)

// TypeInstance is a resolved reference to a Type together with its
// generic specializations, e.g. "Point<double>" resolved against the
// Point struct with one specialization for T. It implements
// value.TypeInstance so a Value can carry one directly.
type TypeInstance struct {
	Type *Type
	Args []*TypeInstance
}

// CanonicalName renders "name" for a non-generic instance or
// "name<canon(a0),canon(a1),...>" for a generic one, per spec.md §4.G.
func (ti *TypeInstance) CanonicalName() string {
	if len(ti.Args) == 0 {
		return ti.Type.Name
	}
	parts := make([]string, len(ti.Args))
	for i, a := range ti.Args {
		parts[i] = a.CanonicalName()
	}
	return ti.Type.Name + "<" + strings.Join(parts, ",") + ">"
}

// TypeLookup resolves a bare type name within a realm to its Type,
// falling back to the global realm. loader.go supplies a
// forward-reference-aware implementation while a document is loading;
// FindType is the steady-state (post-load) implementation.
type TypeLookup func(realmName, name string) (*Type, bool)

// Instantiate parses decl (e.g. "Point<double>") and resolves it
// against realmName using lookup, recursively instantiating any
// generic arguments. It fails on an unparseable declaration, an
// unknown type name, or a generic-argument arity mismatch — the same
// three failure modes rpct_instantiate_type reports.
func Instantiate(realmName, decl string, lookup TypeLookup) (*TypeInstance, error) {
	m := instanceRegex.FindStringSubmatch(strings.TrimSpace(decl))
	if m == nil {
		return nil, librpc.WithStack(fmt.Errorf("idl: %q is not a valid type instance", decl))
	}
	name, argsDecl := m[1], m[2]

	t, ok := lookup(realmName, name)
	if !ok {
		return nil, librpc.WithStack(fmt.Errorf("idl: unknown type %q in realm %q", name, realmName))
	}

	ti := &TypeInstance{Type: t}
	if !t.IsGeneric() {
		if argsDecl != "" {
			return nil, librpc.WithStack(fmt.Errorf("idl: %q does not take generic arguments", name))
		}
		return ti, nil
	}

	parts := splitTopLevelCommas(argsDecl)
	if len(parts) != len(t.GenericVars) {
		return nil, librpc.WithStack(fmt.Errorf(
			"idl: %q expects %d generic argument(s), got %d", name, len(t.GenericVars), len(parts)))
	}
	ti.Args = make([]*TypeInstance, len(parts))
	for i, p := range parts {
		sub, err := Instantiate(realmName, p, lookup)
		if err != nil {
			return nil, err
		}
		ti.Args[i] = sub
	}
	return ti, nil
}

// splitTopLevelCommas splits decl on commas that aren't nested inside
// angle brackets, mirroring rpct_parse_type's nesting counter.
func splitTopLevelCommas(decl string) []string {
	var parts []string
	nesting := 0
	start := 0
	for i, r := range decl {
		switch r {
		case '<':
			nesting++
		case '>':
			nesting--
		case ',':
			if nesting == 0 {
				parts = append(parts, strings.TrimSpace(decl[start:i]))
				start = i + 1
			}
		}
	}
	parts = append(parts, strings.TrimSpace(decl[start:]))
	return parts
}

// substitute replaces every type-variable placeholder in ti's tree
// (see Type.IsTypeVar) with the corresponding concrete instance from
// args, as positioned by varIndex. Used when validating a member of a
// generic instance like Point<double>: the member's declared type
// "T" resolves to "double" before the value is checked against it.
func substitute(ti *TypeInstance, varIndex map[string]int, args []*TypeInstance) *TypeInstance {
	if ti.Type.IsTypeVar {
		if i, ok := varIndex[ti.Type.Name]; ok && i < len(args) {
			return args[i]
		}
		return ti
	}
	if len(ti.Args) == 0 {
		return ti
	}
	newArgs := make([]*TypeInstance, len(ti.Args))
	for i, a := range ti.Args {
		newArgs[i] = substitute(a, varIndex, args)
	}
	return &TypeInstance{Type: ti.Type, Args: newArgs}
}

// IsCompatible implements the structural compatibility check spec.md
// §9 leaves as an open question (rpct_type_is_compatible is a stub in
// the original): two instances are compatible when their realms match
// (or either is the global realm), actual's type is decl's type or a
// descendant of it, and — for generic instances — every specialization
// is pairwise compatible in order.
func IsCompatible(decl, actual *TypeInstance) bool {
	if decl == nil || actual == nil {
		return decl == actual
	}
	if decl.Type.Realm != actual.Type.Realm &&
		decl.Type.Realm != globalRealmName && actual.Type.Realm != globalRealmName {
		return false
	}
	if !actual.Type.IsDescendantOf(decl.Type) {
		return false
	}
	if len(decl.Args) != len(actual.Args) {
		return false
	}
	for i := range decl.Args {
		if !IsCompatible(decl.Args[i], actual.Args[i]) {
			return false
		}
	}
	return true
}
