// Package idl is the type system a schema document declares: realms,
// types (struct/union/enum/typedef/builtin), generic instantiation, and
// the validation contract that checks a value.Value against a
// TypeInstance. Grounded on structs/schema.go's declarative shape
// (named fields, single inheritance via an embedded base) and on the
// original rpct_* C API this system replaces, now expressed as Go
// types instead of an opaque handle + accessor-function pair.
package idl

import (
	"github.com/jceel/librpc"
)

// globalRealmName is the realm a lookup falls back to when the type
// isn't found in the realm the lookup started in.
const globalRealmName = "*"

// Realm groups types and functions declared under one schema namespace
// (spec.md §4.G's meta.realm header). Lookups that miss fall back to
// the global realm, the way rpct_find_type tries realm then "*".
type Realm struct {
	Name string

	types     *librpc.SyncMap[string, *Type]
	functions *librpc.SyncMap[string, *Function]
}

func newRealm(name string) *Realm {
	return &Realm{
		Name:      name,
		types:     librpc.NewSyncMap[string, *Type](),
		functions: librpc.NewSyncMap[string, *Function](),
	}
}

var realms = librpc.NewSyncMap[string, *Realm]()

func init() {
	global := newRealm(globalRealmName)
	for _, name := range builtinTypeNames {
		global.types.Set(name, &Type{Name: name, Realm: globalRealmName, Class: Builtin,
			Description: "builtin " + name + " type"})
	}
	realms.Set(globalRealmName, global)
}

var builtinTypeNames = []string{
	"null", "bool", "uint64", "int64", "double", "date", "string",
	"binary", "fd", "dictionary", "array", "shmem", "error", "any",
}

// GetOrCreateRealm returns the named realm, creating it (empty) if this
// is the first time it's referenced.
func GetOrCreateRealm(name string) *Realm {
	if r, ok := realms.Get(name); ok {
		return r
	}
	r := newRealm(name)
	realms.Set(name, r)
	return r
}

// FindRealm looks up a realm by name without creating it.
func FindRealm(name string) (*Realm, bool) {
	return realms.Get(name)
}

// FindType resolves name within realmName, falling back to the global
// realm exactly as rpct_find_type does.
func FindType(realmName, name string) (*Type, bool) {
	if r, ok := realms.Get(realmName); ok {
		if t, ok := r.types.Get(name); ok {
			return t, true
		}
	}
	if realmName != globalRealmName {
		if r, ok := realms.Get(globalRealmName); ok {
			return r.types.Get(name)
		}
	}
	return nil, false
}

// FindFunction resolves a function name within realmName.
func FindFunction(realmName, name string) (*Function, bool) {
	r, ok := realms.Get(realmName)
	if !ok {
		return nil, false
	}
	return r.functions.Get(name)
}

// Types returns every type declared directly in this realm.
func (r *Realm) Types() map[string]*Type {
	return r.types.Clone()
}

// Functions returns every function declared directly in this realm.
func (r *Realm) Functions() map[string]*Function {
	return r.functions.Clone()
}
