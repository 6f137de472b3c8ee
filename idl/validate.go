package idl

import (
	"fmt"

	"github.com/jceel/librpc"
	"github.com/jceel/librpc/value"
)

// Validate checks v against ti's declared shape: the validation
// contract spec.md §9 names as a stub (rpct_validate_obj) and §4.G
// specifies behaviorally. If v already carries a recorded
// value.Type() — a previously validated/typed instance — the check is
// the realm/name/specialization compatibility test (IsCompatible)
// instead of re-walking the tree structurally.
func Validate(ti *TypeInstance, v *value.Value) error {
	if ti == nil {
		return nil
	}
	if recorded, ok := v.Type().(*TypeInstance); ok && recorded != nil {
		if !IsCompatible(ti, recorded) {
			return librpc.WithStack(fmt.Errorf("idl: value typed %q is not compatible with declared type %q",
				recorded.CanonicalName(), ti.CanonicalName()))
		}
		return nil
	}
	return validateStructural(ti, v)
}

func validateStructural(ti *TypeInstance, v *value.Value) error {
	t := ti.Type
	switch t.Class {
	case Builtin:
		if !builtinMatches(t.Name, v) {
			return librpc.WithStack(fmt.Errorf("idl: value kind %s does not match builtin type %q", v.Kind(), t.Name))
		}
		return nil

	case Struct:
		if v.Kind() != value.Dictionary {
			return librpc.WithStack(fmt.Errorf("idl: struct %q requires a dictionary value, got %s", ti.CanonicalName(), v.Kind()))
		}
		varIndex := genericVarIndex(t)
		for _, m := range t.Members() {
			mv := v.GetKey(m.Name)
			if mv == nil {
				return librpc.WithStack(fmt.Errorf("idl: struct %q is missing member %q", ti.CanonicalName(), m.Name))
			}
			mti := m.Type
			if len(varIndex) > 0 {
				mti = substitute(mti, varIndex, ti.Args)
			}
			if err := Validate(mti, mv); err != nil {
				return err
			}
		}
		return nil

	case Union:
		if v.Kind() != value.Dictionary {
			return librpc.WithStack(fmt.Errorf("idl: union %q requires a dictionary value, got %s", ti.CanonicalName(), v.Kind()))
		}
		varIndex := genericVarIndex(t)
		var lastErr error
		for _, m := range t.Members() {
			mv := v.GetKey(m.Name)
			if mv == nil {
				continue
			}
			mti := m.Type
			if len(varIndex) > 0 {
				mti = substitute(mti, varIndex, ti.Args)
			}
			if err := Validate(mti, mv); err == nil {
				return nil
			} else {
				lastErr = err
			}
		}
		if lastErr == nil {
			lastErr = fmt.Errorf("idl: union %q value matched no declared member", ti.CanonicalName())
		}
		return librpc.WithStack(lastErr)

	case Enum:
		if v.Kind() != value.String {
			return librpc.WithStack(fmt.Errorf("idl: enum %q requires a string value, got %s", ti.CanonicalName(), v.Kind()))
		}
		for _, variant := range t.Variants {
			if variant == v.Str() {
				return nil
			}
		}
		return librpc.WithStack(fmt.Errorf("idl: %q is not a declared variant of enum %q", v.Str(), ti.CanonicalName()))

	case Typedef:
		if t.Parent != nil {
			return validateStructural(&TypeInstance{Type: t.Parent, Args: ti.Args}, v)
		}
		return nil

	default:
		return librpc.WithStack(fmt.Errorf("idl: unknown type class for %q", ti.CanonicalName()))
	}
}

func genericVarIndex(t *Type) map[string]int {
	if len(t.GenericVars) == 0 {
		return nil
	}
	idx := make(map[string]int, len(t.GenericVars))
	for i, v := range t.GenericVars {
		idx[v] = i
	}
	return idx
}

// builtinMatches implements the builtin-leaf-kind check. "shmem"
// travels as Binary (this runtime has no separate shared-memory wire
// kind), "error" travels as the {code, message} Dictionary §4.E's
// rpc/error.args names, and "any" matches every kind.
func builtinMatches(name string, v *value.Value) bool {
	switch name {
	case "null":
		return v.Kind() == value.Null
	case "bool":
		return v.Kind() == value.Bool
	case "uint64":
		return v.Kind() == value.UInt64
	case "int64":
		return v.Kind() == value.Int64
	case "double":
		return v.Kind() == value.Double
	case "date":
		return v.Kind() == value.Date
	case "string":
		return v.Kind() == value.String
	case "binary", "shmem":
		return v.Kind() == value.Binary
	case "fd":
		return v.Kind() == value.Fd
	case "dictionary", "error":
		return v.Kind() == value.Dictionary
	case "array":
		return v.Kind() == value.Array
	case "any":
		return true
	default:
		return false
	}
}

// ValidateArgs checks a positional argument list (rpc/call.args'
// "args" Array, §4.E) against f's declared signature.
func ValidateArgs(f *Function, args *value.Value) error {
	if args.Kind() != value.Array {
		return librpc.WithStack(fmt.Errorf("idl: function %q arguments must be an array, got %s", f.Name, args.Kind()))
	}
	if args.Count() != len(f.ArgNames) {
		return librpc.WithStack(fmt.Errorf("idl: function %q expects %d argument(s), got %d",
			f.Name, len(f.ArgNames), args.Count()))
	}
	for i, name := range f.ArgNames {
		if err := Validate(f.ArgTypes[name], args.Get(i)); err != nil {
			return librpc.WithStack(fmt.Errorf("idl: function %q argument %q (position %d): %w", f.Name, name, i, err))
		}
	}
	return nil
}

// ValidateReturn checks result against f's declared return type. A
// function declared with no return type accepts anything.
func ValidateReturn(f *Function, result *value.Value) error {
	if f.Return == nil {
		return nil
	}
	if err := Validate(f.Return, result); err != nil {
		return librpc.WithStack(fmt.Errorf("idl: function %q return value: %w", f.Name, err))
	}
	return nil
}
