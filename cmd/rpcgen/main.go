// Command rpcgen turns an IDL schema document into a Go source file
// declaring one struct per non-generic "struct" type, with ToValue/
// FromValue methods converting to and from the value tree. Grounded on
// decorator/decorator.go's "packages.Load the input, walk its types,
// emit a jen.File" shape — here the input is a schema document instead
// of a compiled Go package, and the emitted methods replace that
// generator's lock/getter/setter boilerplate with wire conversion.
package main

import (
	"flag"
	"log"
	"sort"

	"github.com/dave/jennifer/jen"

	"github.com/jceel/librpc/idl"
)

const valuePkg = "github.com/jceel/librpc/value"

func main() {
	schemaFlag := flag.String("schema", "", "IDL schema file to generate bindings for")
	outFlag := flag.String("out", "", "Go source file to write")
	pkgFlag := flag.String("pkg", "", "package name for the generated file")

	flag.Parse()

	if *schemaFlag == "" || *outFlag == "" || *pkgFlag == "" {
		flag.Usage()
		log.Fatal("-schema, -out and -pkg are all required")
	}

	realm, err := idl.Load(*schemaFlag)
	if err != nil {
		log.Fatalf("loading schema %q: %v", *schemaFlag, err)
	}

	f := jen.NewFile(*pkgFlag)
	f.PackageComment("Code generated by rpcgen. DO NOT EDIT.")

	types := realm.Types()
	names := make([]string, 0, len(types))
	for name, t := range types {
		if t.Class == idl.Struct && !t.IsGeneric() {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		emitStruct(f, types[name])
	}

	if err := f.Save(*outFlag); err != nil {
		log.Fatalf("writing %q: %v", *outFlag, err)
	}
	log.Printf("wrote %d struct binding(s) to %q", len(names), *outFlag)
}

// emitStruct generates the Go struct, ToValue, and FromValue method
// for one non-generic struct type.
func emitStruct(f *jen.File, t *idl.Type) {
	members := t.Members()

	fields := make([]jen.Code, 0, len(members))
	for _, m := range members {
		stmt := jen.Id(exportedName(m.Name))
		stmt.Add(goType(m.Type))
		if m.Description != "" {
			stmt.Comment(m.Description)
		}
		fields = append(fields, stmt)
	}
	f.Type().Id(t.Name).Struct(fields...)

	toValueEntries := make([]jen.Code, 0, len(members))
	for _, m := range members {
		toValueEntries = append(toValueEntries,
			jen.Lit(m.Name).Op(":").Add(wrapToValue(m.Type, jen.Id("x").Dot(exportedName(m.Name)))))
	}
	f.Func().Params(jen.Id("x").Op("*").Id(t.Name)).Id("ToValue").Params().Op("*").Qual(valuePkg, "Value").Block(
		jen.Return(jen.Qual(valuePkg, "NewDictionary").Call(
			jen.Map(jen.String()).Op("*").Qual(valuePkg, "Value").Values(toValueEntries...))),
	)

	fromValueStmts := make([]jen.Code, 0, len(members)+1)
	for _, m := range members {
		field := jen.Id("x").Dot(exportedName(m.Name))
		fromValueStmts = append(fromValueStmts,
			jen.If(
				jen.Id("field").Op(":=").Id("v").Dot("GetKey").Call(jen.Lit(m.Name)),
				jen.Id("field").Op("!=").Nil(),
			).Block(
				jen.Add(field).Op("=").Add(unwrapFromValue(m.Type, jen.Id("field"))),
			))
	}
	f.Func().Params(jen.Id("x").Op("*").Id(t.Name)).Id("FromValue").Params(jen.Id("v").Op("*").Qual(valuePkg, "Value")).Block(
		fromValueStmts...,
	)
}

func exportedName(name string) string {
	if name == "" {
		return name
	}
	r := []rune(name)
	if r[0] >= 'a' && r[0] <= 'z' {
		r[0] -= 'a' - 'A'
	}
	return string(r)
}

// goType renders the Go type a member's declared TypeInstance maps to.
// Builtins map to their natural Go equivalent; a reference to another
// non-generic struct type generated by this same run maps to a pointer
// to that struct; everything else (generics, unions, enums, "any")
// falls back to the raw *value.Value the runtime already hands callers.
func goType(ti *idl.TypeInstance) jen.Code {
	if ti.Type.Class == idl.Builtin {
		switch ti.Type.Name {
		case "string":
			return jen.String()
		case "int64":
			return jen.Int64()
		case "uint64":
			return jen.Uint64()
		case "double":
			return jen.Float64()
		case "bool":
			return jen.Bool()
		case "binary", "shmem":
			return jen.Index().Byte()
		case "fd":
			return jen.Int()
		case "date":
			return jen.Qual("time", "Time")
		}
		return jen.Op("*").Qual(valuePkg, "Value")
	}
	if ti.Type.Class == idl.Struct && !ti.Type.IsGeneric() {
		return jen.Op("*").Id(ti.Type.Name)
	}
	return jen.Op("*").Qual(valuePkg, "Value")
}

func wrapToValue(ti *idl.TypeInstance, field *jen.Statement) jen.Code {
	if ti.Type.Class == idl.Builtin {
		switch ti.Type.Name {
		case "string":
			return jen.Qual(valuePkg, "NewString").Call(field)
		case "int64":
			return jen.Qual(valuePkg, "NewInt64").Call(field)
		case "uint64":
			return jen.Qual(valuePkg, "NewUInt64").Call(field)
		case "double":
			return jen.Qual(valuePkg, "NewDouble").Call(field)
		case "bool":
			return jen.Qual(valuePkg, "NewBool").Call(field)
		case "binary", "shmem":
			return jen.Qual(valuePkg, "NewBinaryOwned").Call(field)
		case "fd":
			return jen.Qual(valuePkg, "NewFd").Call(field)
		case "date":
			return jen.Qual(valuePkg, "NewDate").Call(field)
		}
		return field
	}
	if ti.Type.Class == idl.Struct && !ti.Type.IsGeneric() {
		return field.Dot("ToValue").Call()
	}
	return field
}

func unwrapFromValue(ti *idl.TypeInstance, field *jen.Statement) jen.Code {
	if ti.Type.Class == idl.Builtin {
		switch ti.Type.Name {
		case "string":
			return field.Dot("Str").Call()
		case "int64":
			return field.Dot("Int64").Call()
		case "uint64":
			return field.Dot("UInt64").Call()
		case "double":
			return field.Dot("Double").Call()
		case "bool":
			return field.Dot("Bool").Call()
		case "fd":
			return field.Dot("Fd").Call()
		case "date":
			return field.Dot("DateTime").Call()
		case "binary", "shmem":
			return jen.Func().Params().Index().Byte().Block(
				jen.List(jen.Id("b"), jen.Id("_")).Op(":=").Add(field).Dot("Binary").Call(),
				jen.Return(jen.Id("b")),
			).Call()
		}
		return field
	}
	if ti.Type.Class == idl.Struct && !ti.Type.IsGeneric() {
		return jen.Func().Params().Op("*").Id(ti.Type.Name).Block(
			jen.Id("s").Op(":=").Op("&").Id(ti.Type.Name).Values(),
			jen.Id("s").Dot("FromValue").Call(field),
			jen.Return(jen.Id("s")),
		).Call()
	}
	return field
}
