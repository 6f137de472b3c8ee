package idl

import "fmt"

// Class is a type's declaration kind, mirroring rpct_class_t.
type Class int

const (
	Struct Class = iota
	Union
	Enum
	Typedef
	Builtin
)

func (c Class) String() string {
	switch c {
	case Struct:
		return "struct"
	case Union:
		return "union"
	case Enum:
		return "enum"
	case Typedef:
		return "type"
	case Builtin:
		return "builtin"
	default:
		return "unknown"
	}
}

// Member is one field of a struct/union type.
type Member struct {
	Name        string
	Description string
	Type        *TypeInstance
	Origin      *Type // the type that declared this member (self or an ancestor)
}

// Type is one declared name in a realm: a struct, union, enum, typedef
// or builtin. Generic types carry GenericVars and are only usable
// through a TypeInstance that specializes each of them.
type Type struct {
	Name        string
	Realm       string
	Description string
	Class       Class
	Parent      *Type
	GenericVars []string

	// Variants holds enum member literals (as they appeared in the
	// document, e.g. string or number); empty for non-enum types.
	Variants []string

	// IsTypeVar marks a placeholder Type standing in for one of a
	// generic type's own GenericVars while its members are being
	// declared (e.g. "T" inside "struct Point<T>"). Such a Type is
	// never registered in a Realm; it only ever appears inside the
	// TypeInstance tree of that one generic type's members, and is
	// resolved away by substitution once a concrete TypeInstance (e.g.
	// Point<double>) is validated against.
	IsTypeVar bool

	members     map[string]*Member
	memberOrder []string
}

// IsGeneric reports whether instantiating this type requires type
// arguments.
func (t *Type) IsGeneric() bool { return len(t.GenericVars) > 0 }

// Member looks up a member by name, including ones inherited from an
// ancestor.
func (t *Type) Member(name string) (*Member, bool) {
	m, ok := t.members[name]
	return m, ok
}

// Members returns every member (own and inherited) in declaration
// order: parent members first, then this type's own, matching the
// order rpct_read_type copies the parent's hash table before adding
// the child's.
func (t *Type) Members() []*Member {
	out := make([]*Member, 0, len(t.memberOrder))
	for _, name := range t.memberOrder {
		out = append(out, t.members[name])
	}
	return out
}

// addMember inserts a newly-declared member, rejecting redefinition of
// anything already present (own or inherited) per spec.md §4.G:
// "redefining a parent member is forbidden".
func (t *Type) addMember(m *Member) error {
	if t.members == nil {
		t.members = map[string]*Member{}
	}
	if _, exists := t.members[m.Name]; exists {
		return fmt.Errorf("idl: type %q redefines member %q", t.Name, m.Name)
	}
	t.members[m.Name] = m
	t.memberOrder = append(t.memberOrder, m.Name)
	return nil
}

// inheritFrom copies every member of parent into t, preserving parent's
// declaration order ahead of t's own later additions.
func (t *Type) inheritFrom(parent *Type) {
	for _, name := range parent.memberOrder {
		m := parent.members[name]
		if t.members == nil {
			t.members = map[string]*Member{}
		}
		t.members[name] = m
		t.memberOrder = append(t.memberOrder, name)
	}
}

// IsDescendantOf reports whether t is child (directly or transitively)
// or is itself the named ancestor — used by IsCompatible's name check.
func (t *Type) IsDescendantOf(ancestor *Type) bool {
	for cur := t; cur != nil; cur = cur.Parent {
		if cur == ancestor || cur.Name == ancestor.Name && cur.Realm == ancestor.Realm {
			return true
		}
	}
	return false
}

// Function is a declared RPC method signature: an ordered argument
// list and (optionally) a return type.
type Function struct {
	Name        string
	Realm       string
	Description string

	ArgNames []string
	ArgTypes map[string]*TypeInstance
	Return   *TypeInstance // nil if the function returns nothing
}
