package rpc

import (
	"github.com/pkg/errors"

	"github.com/jceel/librpc"
	"github.com/jceel/librpc/frame"
	"github.com/jceel/librpc/value"
)

// kind discriminates the eleven reserved (namespace,name) wire pairs
// spec.md §4.E/§4.F/§6 define. Every application method and event name
// lives inside a frame's Args, never in its envelope — the envelope's
// namespace/name is always one of these fixed protocol pairs, exactly
// as rpc_connection.c's dispatch table and rpc_pack_frame call sites
// use it.
type kind string

const (
	kindCall        kind = "call"
	kindResponse    kind = "response"
	kindFragment    kind = "fragment"
	kindContinue    kind = "continue"
	kindEnd         kind = "end"
	kindAbort       kind = "abort"
	kindError       kind = "error"
	kindEvent       kind = "event"
	kindEventBurst  kind = "event_burst"
	kindSubscribe   kind = "subscribe"
	kindUnsubscribe kind = "unsubscribe"
)

// wirePair is the fixed (namespace,name) envelope reserved for each
// kind, per spec.md §4.E's catalog.
var wirePair = map[kind][2]string{
	kindCall:        {"rpc", "call"},
	kindResponse:    {"rpc", "response"},
	kindFragment:    {"rpc", "fragment"},
	kindContinue:    {"rpc", "continue"},
	kindEnd:         {"rpc", "end"},
	kindAbort:       {"rpc", "abort"},
	kindError:       {"rpc", "error"},
	kindEvent:       {"events", "event"},
	kindEventBurst:  {"events", "event_burst"},
	kindSubscribe:   {"events", "subscribe"},
	kindUnsubscribe: {"events", "unsubscribe"},
}

var kindOfPair = func() map[[2]string]kind {
	m := make(map[[2]string]kind, len(wirePair))
	for k, pair := range wirePair {
		m[pair] = k
	}
	return m
}()

// requiresID reports whether kind's frames are addressed to a specific
// in-flight call and so must carry a non-empty id; events/subscription
// frames aren't part of the call multiplexer and travel id-less.
func requiresID(k kind) bool {
	switch k {
	case kindCall, kindResponse, kindFragment, kindContinue, kindEnd, kindAbort, kindError:
		return true
	default:
		return false
	}
}

// message is one frame on the wire: the reserved (namespace,name) pair
// its Kind maps to, a call id, and an Args value already shaped per
// spec.md §6's payload contract for that Kind. The callArgs/fragmentArgs/
// eventArgs/... builders below construct that shape; their decodeXxx
// counterparts read it back. Fd rewriting is delegated to the frame
// package.
type message struct {
	Kind kind
	ID   string
	Args *value.Value
}

// toWire turns msg into the {namespace, name, id, args, fds} Dictionary
// a codec.Serializer writes to the stream, rewriting any Fd leaves in
// Args into out-of-band indices via frame.Wrap.
func (msg *message) toWire() (*value.Value, error) {
	pair, ok := wirePair[msg.Kind]
	if !ok {
		return nil, librpc.WithStack(errors.Errorf("rpc: message has no reserved wire pair for kind %q", msg.Kind))
	}
	args := msg.Args
	if args == nil {
		args = value.NewNull()
	}
	wf, err := frame.Wrap(frame.Envelope{Namespace: pair[0], Name: pair[1], ID: msg.ID, Args: args})
	if err != nil {
		return nil, err
	}
	return wf.ToValue(), nil
}

// wireFault classifies a structurally-valid-but-protocol-invalid
// envelope per spec.md §4.E: one that messageFromWire can still parse
// enough of to address an rpc/error reply at (missing namespace/name/id
// for a call-addressed kind, or a namespace/name pair outside the
// reserved catalog).
type wireFault int

const (
	faultNone wireFault = iota
	faultMissingFields
	faultUnknownPair
)

// messageFromWire reverses toWire, using received to resolve the
// out-of-band descriptor indices the sender recorded under "fds" (the
// caller must have already pulled exactly len(fds) descriptors off the
// transport via Conn.RecvFd, in order). A malformed envelope that can't
// even be unwrapped is a transport-level error; one that unwraps fine
// but names an unreserved or incomplete (namespace,name,id) is reported
// as a wireFault instead, so the caller can still address an rpc/error
// reply to whatever id (if any) was present.
func messageFromWire(v *value.Value, received []int) (*message, wireFault, error) {
	if v == nil || v.Kind() != value.Dictionary {
		return nil, faultNone, librpc.WithStack(errors.New("rpc: wire message is not a dictionary envelope"))
	}
	wf, err := frame.FromValue(v)
	if err != nil {
		return nil, faultNone, err
	}
	env, err := frame.Unwrap(wf, received)
	if err != nil {
		return nil, faultNone, err
	}
	if env.Namespace == "" || env.Name == "" {
		return &message{ID: env.ID}, faultMissingFields, nil
	}
	k, ok := kindOfPair[[2]string{env.Namespace, env.Name}]
	if !ok {
		return &message{ID: env.ID}, faultUnknownPair, nil
	}
	if requiresID(k) && env.ID == "" {
		return &message{ID: env.ID}, faultMissingFields, nil
	}
	return &message{Kind: k, ID: env.ID, Args: env.Args}, faultNone, nil
}

// errorMessage builds the terminal rpc/error frame addressed to id.
func errorMessage(id string, code ErrorCode, msg string) *message {
	return &message{Kind: kindError, ID: id, Args: errorArgs(code, msg)}
}

// callArgs builds {method, args} per rpc/call.args: method is the
// "namespace.name" dispatch key (see dispatchKey), args is the caller's
// actual argument value.
func callArgs(method string, args *value.Value) *value.Value {
	if args == nil {
		args = value.NewNull()
	}
	return value.NewDictionary(map[string]*value.Value{
		"method": value.NewString(method),
		"args":   args,
	})
}

func decodeCallArgs(v *value.Value) (method string, args *value.Value) {
	if v != nil {
		if m := v.GetKey("method"); m != nil {
			method = m.Str()
		}
		args = v.GetKey("args")
	}
	if args == nil {
		args = value.NewNull()
	}
	return method, args
}

// fragmentArgs builds {seqno, fragment} per rpc/fragment.args.
func fragmentArgs(seqno uint64, fragment *value.Value) *value.Value {
	if fragment == nil {
		fragment = value.NewNull()
	}
	return value.NewDictionary(map[string]*value.Value{
		"seqno":    value.NewUInt64(seqno),
		"fragment": fragment,
	})
}

func decodeFragmentArgs(v *value.Value) (seqno uint64, fragment *value.Value) {
	if v != nil {
		if s := v.GetKey("seqno"); s != nil {
			seqno = s.UInt64()
		}
		fragment = v.GetKey("fragment")
	}
	if fragment == nil {
		fragment = value.NewNull()
	}
	return seqno, fragment
}

// endArgs builds {seqno} per rpc/end.args: the terminal frame for a
// call that already streamed one or more fragments, carrying no
// further result (the last meaningful value arrived with the final
// fragment).
func endArgs(seqno uint64) *value.Value {
	return value.NewDictionary(map[string]*value.Value{"seqno": value.NewInt64(int64(seqno))})
}

// continueArgs builds the Int64 next-expected-seqno per rpc/continue.args.
func continueArgs(next uint64) *value.Value {
	return value.NewInt64(int64(next))
}

func decodeContinueArgs(v *value.Value) uint64 {
	if v == nil {
		return 0
	}
	return uint64(v.Int64())
}

// errorArgs builds {code, message} per rpc/error.args.
func errorArgs(code ErrorCode, msg string) *value.Value {
	return value.NewDictionary(map[string]*value.Value{
		"code":    value.NewInt64(int64(code)),
		"message": value.NewString(msg),
	})
}

func decodeErrorArgs(v *value.Value) (ErrorCode, string) {
	code := ErrorInternal
	msg := ""
	if v != nil {
		if c := v.GetKey("code"); c != nil {
			code = ErrorCode(c.Int64())
		}
		if m := v.GetKey("message"); m != nil {
			msg = m.Str()
		}
	}
	return code, msg
}

// eventArgs builds {name, args} per events/event.args.
func eventArgs(name string, args *value.Value) *value.Value {
	if args == nil {
		args = value.NewNull()
	}
	return value.NewDictionary(map[string]*value.Value{
		"name": value.NewString(name),
		"args": args,
	})
}

func decodeEventArgs(v *value.Value) (name string, args *value.Value) {
	if v != nil {
		if n := v.GetKey("name"); n != nil {
			name = n.Str()
		}
		args = v.GetKey("args")
	}
	if args == nil {
		args = value.NewNull()
	}
	return name, args
}

// eventBurstArgs builds the Array-of-events shape per
// events/event_burst.args, each element shaped exactly like a single
// events/event.args dictionary.
func eventBurstArgs(events []Event) *value.Value {
	arr := value.NewArray()
	for i, ev := range events {
		arr.Steal(i, eventArgs(ev.Topic, ev.Args))
	}
	return arr
}

func decodeEventBurstArgs(v *value.Value) []Event {
	var out []Event
	if v != nil {
		v.ApplyArray(func(_ int, e *value.Value) bool {
			name, args := decodeEventArgs(e)
			out = append(out, Event{Topic: name, Args: args})
			return true
		})
	}
	return out
}

// nameArrayArgs builds the Array-of-String-names shape shared by
// events/subscribe.args and events/unsubscribe.args.
func nameArrayArgs(names ...string) *value.Value {
	arr := value.NewArray()
	for i, n := range names {
		arr.Steal(i, value.NewString(n))
	}
	return arr
}

func decodeNameArray(v *value.Value) []string {
	var out []string
	if v != nil {
		v.ApplyArray(func(_ int, e *value.Value) bool {
			out = append(out, e.Str())
			return true
		})
	}
	return out
}
