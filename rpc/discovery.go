package rpc

import (
	"context"
	"strings"

	"github.com/jceel/librpc"
	"github.com/jceel/librpc/value"
)

// PropertyGetter and PropertySetter back one Observable property.
type PropertyGetter func(ctx context.Context) (*value.Value, error)
type PropertySetter func(ctx context.Context, v *value.Value) error

// RegisterObservable wires namespace.name as a standard Observable:
// "namespace.name.get" and, if set is non-nil, "namespace.name.set".
// spec.md §9 left Observable.set unimplemented in the original; this
// is the first working implementation — a set handler that's missing
// simply isn't registered, so calling it reports ErrorMethodNotFound
// rather than silently succeeding.
func (c *Connection) RegisterObservable(namespace, name string, get PropertyGetter, set PropertySetter) {
	c.Register(namespace, name+".get", func(ctx context.Context, call *InboundCall, _ *value.Value) {
		v, err := get(ctx)
		if err != nil {
			call.SendError(asRPCError(err))
			return
		}
		call.SendDone(v)
	})
	if set != nil {
		c.Register(namespace, name+".set", func(ctx context.Context, call *InboundCall, args *value.Value) {
			if err := set(ctx, args); err != nil {
				call.SendError(asRPCError(err))
				return
			}
			call.SendDone(value.NewNull())
		})
	}
}

func asRPCError(err error) *Error {
	if rpcErr, ok := err.(*Error); ok {
		return rpcErr
	}
	return NewError(ErrorInternal, "%v", err)
}

// DiscoverableNamespace is the standard introspection interface name
// spec.md §6 gives as a SHOULD: com.twoporeguys.librpc.Discoverable.
const DiscoverableNamespace = "com.twoporeguys.librpc.Discoverable"

// DiscoveryHandler answers one get_interfaces(path) call, returning the
// interface names this Connection exposes under path (an empty path
// means "every interface").
type DiscoveryHandler func(ctx context.Context, path string) []string

// RegisterDiscoverable wires the standard
// com.twoporeguys.librpc.Discoverable.get_interfaces(path) → [String]
// method (spec.md §6), using defaultDiscoveryHandler: every namespace
// registered on this Connection, optionally filtered to one matching
// path.
func (c *Connection) RegisterDiscoverable() {
	c.RegisterDiscoverableWith(c.defaultDiscoveryHandler)
}

// RegisterDiscoverableWith wires get_interfaces using a caller-supplied
// DiscoveryHandler instead of the default every-registered-namespace
// behavior, for a connection whose interface list isn't simply its own
// dispatch table (e.g. one that proxies interfaces it doesn't register
// locally).
func (c *Connection) RegisterDiscoverableWith(handler DiscoveryHandler) {
	c.Register(DiscoverableNamespace, "get_interfaces", func(ctx context.Context, call *InboundCall, args *value.Value) {
		call.SendDone(value.NewArray(toStringValues(handler(ctx, pathArg(args)))...))
	})
}

// pathArg extracts get_interfaces' single "path" argument, accepting
// either a bare String or a one-element Array (the shape a generated
// rpcgen client would send for a single-argument function).
func pathArg(args *value.Value) string {
	if args == nil {
		return ""
	}
	switch args.Kind() {
	case value.String:
		return args.Str()
	case value.Array:
		if args.Count() > 0 {
			return args.Get(0).Str()
		}
	}
	return ""
}

func (c *Connection) defaultDiscoveryHandler(_ context.Context, path string) []string {
	seen := librpc.Set[string]{}
	for key := range c.dispatch.Keys() {
		ns, _ := splitMethod(key)
		if path == "" || ns == path {
			seen.Set(ns)
		}
	}
	out := make([]string, 0, len(seen))
	for ns := range seen {
		out = append(out, ns)
	}
	return out
}

// ListMethods returns every "namespace.name" pair currently registered,
// sorted is not guaranteed — callers that need a stable order should
// sort the result themselves.
func (c *Connection) ListMethods() []string {
	var methods []string
	for key := range c.dispatch.Keys() {
		methods = append(methods, key)
	}
	return methods
}

func toStringValues(ss []string) []*value.Value {
	out := make([]*value.Value, len(ss))
	for i, s := range ss {
		out[i] = value.NewString(s)
	}
	return out
}

// splitMethod splits a "namespace.name" dispatch key back into its
// parts on the last dot, so a reversed-domain namespace like
// "com.twoporeguys.librpc.Discoverable" (itself dotted) still yields
// the right namespace/name pair; used by introspection callers that
// want to group by namespace.
func splitMethod(key string) (namespace, name string) {
	i := strings.LastIndexByte(key, '.')
	if i < 0 {
		return key, ""
	}
	return key[:i], key[i+1:]
}

// ListMethodsInNamespace returns only the "name" half of every
// registered method whose namespace matches.
func (c *Connection) ListMethodsInNamespace(namespace string) []string {
	var names []string
	for key := range c.dispatch.Keys() {
		ns, name := splitMethod(key)
		if ns == namespace {
			names = append(names, name)
		}
	}
	return names
}
