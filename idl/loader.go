package idl

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jceel/librpc"
)

// typeHeadRegex matches a top-level type declaration key, e.g.
// "struct Point<T>", per spec.md §4.G's "Type head" grammar.
var typeHeadRegex = regexp.MustCompile(`^(struct|union|enum|type)\s+([A-Za-z_][A-Za-z0-9_]*)(?:<([^>]+)>)?$`)

// funcHeadRegex matches a top-level function declaration key, e.g.
// "function distance".
var funcHeadRegex = regexp.MustCompile(`^function\s+([A-Za-z_][A-Za-z0-9_]*)$`)

type metaDecl struct {
	Version     int    `yaml:"version"`
	Realm       string `yaml:"realm"`
	Description string `yaml:"description"`
}

type memberDecl struct {
	Type        string `yaml:"type"`
	Description string `yaml:"description"`
}

type typeDecl struct {
	Inherits    string                `yaml:"inherits"`
	Description string                `yaml:"description"`
	Members     map[string]memberDecl `yaml:"members"`
	Values      []string              `yaml:"values"`
}

type argDecl struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

type funcDecl struct {
	Description string    `yaml:"description"`
	Arguments   []argDecl `yaml:"arguments"`
	Return      string    `yaml:"return"`
}

// Load reads a schema document from path (see LoadBytes) and returns
// the realm it populates.
func Load(path string) (*Realm, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, librpc.WithStack(err)
	}
	return LoadBytes(data)
}

// LoadBytes parses a schema document (spec.md §4.G): a "meta" header
// naming the target realm, plus any number of "struct/union/enum/type
// NAME[<vars>]" and "function NAME" top-level keys. Forward references
// among the document's own declarations resolve lazily: looking up a
// name not yet registered in the realm triggers loading its
// declaration from this same document before giving up, mirroring
// rpct_find_or_load.
func LoadBytes(data []byte) (*Realm, error) {
	var raw map[string]yaml.Node
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, librpc.WithStack(err)
	}

	metaNode, ok := raw["meta"]
	if !ok {
		return nil, librpc.WithStack(fmt.Errorf("idl: schema document has no \"meta\" header"))
	}
	var meta metaDecl
	if err := metaNode.Decode(&meta); err != nil {
		return nil, librpc.WithStack(err)
	}
	realm := GetOrCreateRealm(meta.Realm)

	nameToKey := map[string]string{}
	for key := range raw {
		if m := typeHeadRegex.FindStringSubmatch(key); m != nil {
			nameToKey[m[2]] = key
		}
	}

	var lookup TypeLookup
	lookup = func(realmName, name string) (*Type, bool) {
		if t, ok := FindType(realmName, name); ok {
			return t, true
		}
		key, ok := nameToKey[name]
		if !ok {
			return nil, false
		}
		t, err := loadTypeDecl(raw, key, realm, lookup)
		if err != nil {
			return nil, false
		}
		return t, true
	}

	for key := range raw {
		if key == "meta" {
			continue
		}
		switch {
		case typeHeadRegex.MatchString(key):
			m := typeHeadRegex.FindStringSubmatch(key)
			if _, exists := realm.types.Get(m[2]); exists {
				continue // already loaded via a forward reference
			}
			if _, err := loadTypeDecl(raw, key, realm, lookup); err != nil {
				return nil, err
			}
		case funcHeadRegex.MatchString(key):
			if _, err := loadFuncDecl(raw, key, realm, lookup); err != nil {
				return nil, err
			}
		default:
			return nil, librpc.WithStack(fmt.Errorf("idl: unrecognized top-level key %q", key))
		}
	}
	return realm, nil
}

func classFromDecltype(decltype string) Class {
	switch decltype {
	case "struct":
		return Struct
	case "union":
		return Union
	case "enum":
		return Enum
	default:
		return Typedef
	}
}

// loadTypeDecl parses and registers the type declared under key,
// resolving its parent and members through lookup. The Type is
// registered in the realm before its members are resolved so that a
// self-referential declaration (a linked-list node holding a "next" of
// its own type) doesn't recurse forever.
func loadTypeDecl(raw map[string]yaml.Node, key string, realm *Realm, lookup TypeLookup) (*Type, error) {
	m := typeHeadRegex.FindStringSubmatch(key)
	decltype, name, varsDecl := m[1], m[2], m[3]

	var td typeDecl
	if node, ok := raw[key]; ok {
		if err := node.Decode(&td); err != nil {
			return nil, librpc.WithStack(err)
		}
	}

	t := &Type{
		Name:        name,
		Realm:       realm.Name,
		Description: td.Description,
		Class:       classFromDecltype(decltype),
	}
	if varsDecl != "" {
		t.GenericVars = splitTopLevelCommas(varsDecl)
	}
	if t.Class == Enum {
		t.Variants = td.Values
	}
	realm.types.Set(name, t)

	// A generic type's members may reference its own type variables
	// ("x: {type: T}" inside "struct Point<T>"); resolve those to
	// unregistered placeholder Types rather than the realm, so "T" can
	// never collide with or leak into an unrelated declaration.
	memberLookup := lookup
	if len(t.GenericVars) > 0 {
		placeholders := make(map[string]*Type, len(t.GenericVars))
		for _, v := range t.GenericVars {
			placeholders[v] = &Type{Name: v, Realm: t.Realm, Class: Typedef, IsTypeVar: true}
		}
		memberLookup = func(realmName, n string) (*Type, bool) {
			if p, ok := placeholders[n]; ok {
				return p, true
			}
			return lookup(realmName, n)
		}
	}

	if td.Inherits != "" {
		parent, ok := lookup(realm.Name, td.Inherits)
		if !ok {
			return nil, librpc.WithStack(fmt.Errorf("idl: type %q inherits unknown type %q", name, td.Inherits))
		}
		t.Parent = parent
		t.inheritFrom(parent)
	}

	for memberName, md := range td.Members {
		mti, err := Instantiate(realm.Name, md.Type, memberLookup)
		if err != nil {
			return nil, librpc.WithStack(fmt.Errorf("idl: type %q member %q: %w", name, memberName, err))
		}
		if err := t.addMember(&Member{Name: memberName, Description: md.Description, Type: mti, Origin: t}); err != nil {
			return nil, librpc.WithStack(err)
		}
	}

	return t, nil
}

func loadFuncDecl(raw map[string]yaml.Node, key string, realm *Realm, lookup TypeLookup) (*Function, error) {
	m := funcHeadRegex.FindStringSubmatch(key)
	name := m[1]

	var fd funcDecl
	if node, ok := raw[key]; ok {
		if err := node.Decode(&fd); err != nil {
			return nil, librpc.WithStack(err)
		}
	}

	f := &Function{
		Name:        name,
		Realm:       realm.Name,
		Description: fd.Description,
		ArgTypes:    map[string]*TypeInstance{},
	}
	for _, a := range fd.Arguments {
		ti, err := Instantiate(realm.Name, a.Type, lookup)
		if err != nil {
			return nil, librpc.WithStack(fmt.Errorf("idl: function %q argument %q: %w", name, a.Name, err))
		}
		f.ArgNames = append(f.ArgNames, a.Name)
		f.ArgTypes[a.Name] = ti
	}
	if strings.TrimSpace(fd.Return) != "" {
		ti, err := Instantiate(realm.Name, fd.Return, lookup)
		if err != nil {
			return nil, librpc.WithStack(fmt.Errorf("idl: function %q return: %w", name, err))
		}
		f.Return = ti
	}

	realm.functions.Set(name, f)
	return f, nil
}
