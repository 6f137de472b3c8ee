// Package frame turns a {namespace, name, id, args} call/event envelope
// into a transmittable form: it rewrites any Fd-kind leaves in Args
// into out-of-band descriptor indices (never mutating the caller's
// tree — every rewrite walks a value.Copy first) and converts the
// envelope to and from the Dictionary shape a codec.Serializer writes
// to the wire.
//
// Grounded on structs.go's AnyCall.Call()/AnyEvent.Event() "typed
// value → wire struct" converters and on game/connection.go's
// handleEmitEvent dispatch-by-name-then-unmarshal shape, generalized
// into one envelope format shared by calls and events alike.
package frame

import (
	"github.com/pkg/errors"

	"github.com/jceel/librpc"
	"github.com/jceel/librpc/value"
)

// MaxDescriptors bounds how many open fds a single envelope may carry
// out of band, per spec.md §4.D; a frame that would exceed it fails to
// Wrap with ErrTooManyDescriptors instead of silently truncating.
const MaxDescriptors = 128

var ErrTooManyDescriptors = errors.New("frame: envelope carries more than 128 descriptors")

// Envelope is the logical shape of one call or event message.
type Envelope struct {
	Namespace string
	Name      string
	ID        string
	Args      *value.Value
}

// WireFrame is an Envelope whose Args tree has had every Fd leaf
// replaced by its index into Fds — the form that travels over a
// transport.Conn, with Fds sent out of band via Conn.SendFd.
type WireFrame struct {
	Envelope
	Fds []int
}

// Wrap clones env.Args, replaces each Fd-kind leaf's payload with its
// position in the returned Fds slice, and returns the resulting
// WireFrame. env.Args (and the Values reachable from it) are never
// mutated.
func Wrap(env Envelope) (*WireFrame, error) {
	var fds []int
	argsCopy := value.Copy(env.Args)
	rewritten, err := rewriteValue(argsCopy, func(real int) (int, error) {
		idx := len(fds)
		fds = append(fds, real)
		return idx, nil
	})
	if err != nil {
		return nil, err
	}
	if len(fds) > MaxDescriptors {
		return nil, librpc.WithStack(ErrTooManyDescriptors)
	}
	return &WireFrame{
		Envelope: Envelope{Namespace: env.Namespace, Name: env.Name, ID: env.ID, Args: rewritten},
		Fds:      fds,
	}, nil
}

// Unwrap clones w.Args, replaces each Fd-kind leaf's index with the
// corresponding descriptor from received (already dup'd into this
// process by the transport's out-of-band fd channel), and returns the
// resulting Envelope.
func Unwrap(w *WireFrame, received []int) (Envelope, error) {
	argsCopy := value.Copy(w.Args)
	rewritten, err := rewriteValue(argsCopy, func(idx int) (int, error) {
		if idx < 0 || idx >= len(received) {
			return 0, librpc.WithStack(errors.Errorf("frame: descriptor index %d out of range (have %d)", idx, len(received)))
		}
		return received[idx], nil
	})
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Namespace: w.Namespace, Name: w.Name, ID: w.ID, Args: rewritten}, nil
}

// rewriteValue walks v, replacing every Fd leaf's payload via fn, and
// returns the (possibly new, for a root Fd leaf) Value. Array and
// Dictionary children are rewritten in place through Steal/StealKey so
// their existing container identity is kept.
func rewriteValue(v *value.Value, fn func(int) (int, error)) (*value.Value, error) {
	if v == nil {
		return v, nil
	}
	switch v.Kind() {
	case value.Fd:
		mapped, err := fn(v.Fd())
		if err != nil {
			return nil, err
		}
		return value.NewFd(mapped), nil
	case value.Array:
		var rewriteErr error
		v.ApplyArray(func(i int, e *value.Value) bool {
			newE, err := rewriteValue(e, fn)
			if err != nil {
				rewriteErr = err
				return false
			}
			if newE != e {
				v.Steal(i, newE)
			}
			return true
		})
		return v, rewriteErr
	case value.Dictionary:
		var rewriteErr error
		v.ApplyDict(func(k string, e *value.Value) bool {
			newE, err := rewriteValue(e, fn)
			if err != nil {
				rewriteErr = err
				return false
			}
			if newE != e {
				v.StealKey(k, newE)
			}
			return true
		})
		return v, rewriteErr
	default:
		return v, nil
	}
}

// ToValue renders a WireFrame's logical fields as a Dictionary value
// ({"namespace":s,"name":s,"id":s,"args":...,"fds":[...]}), suitable
// for a codec.Serializer, exactly mirroring AnyCall.Call()'s role of
// turning a typed envelope into the wire's dynamic shape.
func (w *WireFrame) ToValue() *value.Value {
	fds := value.NewArray()
	for i, fd := range w.Fds {
		fds.Steal(i, value.NewInt64(int64(fd)))
	}
	return value.NewDictionary(map[string]*value.Value{
		"namespace": value.NewString(w.Namespace),
		"name":      value.NewString(w.Name),
		"id":        value.NewString(w.ID),
		"args":      w.Args,
		"fds":       fds,
	})
}

// FromValue reverses ToValue.
func FromValue(v *value.Value) (*WireFrame, error) {
	if v == nil || v.Kind() != value.Dictionary {
		return nil, librpc.WithStack(errors.New("frame: wire value is not a dictionary envelope"))
	}
	ns := v.GetKey("namespace")
	name := v.GetKey("name")
	id := v.GetKey("id")
	args := v.GetKey("args")
	fdsVal := v.GetKey("fds")
	if ns == nil || name == nil || id == nil || args == nil {
		return nil, librpc.WithStack(errors.New("frame: wire envelope missing a required field"))
	}
	var fds []int
	if fdsVal != nil {
		fdsVal.ApplyArray(func(_ int, e *value.Value) bool {
			fds = append(fds, int(e.Int64()))
			return true
		})
	}
	return &WireFrame{
		Envelope: Envelope{Namespace: ns.Str(), Name: name.Str(), ID: id.Str(), Args: args},
		Fds:      fds,
	}, nil
}
