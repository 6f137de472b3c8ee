// Package value implements the self-describing, reference-counted value
// tree that is the universal RPC payload algebra: a tagged sum over
// Null, Bool, Int64, UInt64, Double, Date, String, Binary, Fd, Array and
// Dictionary, with deep copy, structural equality, a fast hash, and a
// pack/unpack mini-language for building and destructuring trees.
package value

import (
	"hash/fnv"
	"sort"
	"sync/atomic"
	"time"

	"github.com/jceel/librpc"
	"github.com/pkg/errors"
)

var errNotEqual = errors.New("value: not structurally equal")

// Kind identifies which alternative of the Value sum a Value holds.
type Kind int

const (
	Null Kind = iota
	Bool
	Int64
	UInt64
	Double
	Date
	String
	Binary
	Fd
	Array
	Dictionary
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Bool:
		return "bool"
	case Int64:
		return "int64"
	case UInt64:
		return "uint64"
	case Double:
		return "double"
	case Date:
		return "date"
	case String:
		return "string"
	case Binary:
		return "binary"
	case Fd:
		return "fd"
	case Array:
		return "array"
	case Dictionary:
		return "dictionary"
	default:
		return "unknown"
	}
}

// TypeInstance is the non-owning link from a Value to its IDL type
// instantiation. Defined here (rather than imported from package idl) so
// that idl can depend on value without a cycle; idl.TypeInstance
// implements this interface.
type TypeInstance interface {
	CanonicalName() string
}

// Value is a tagged, reference-counted, recursively structured dynamic
// value. The zero Value is not valid; construct with the New* functions.
type Value struct {
	kind Kind
	refs int32 // atomic; containers and Binary/Fd start at 1

	b    bool
	i    int64
	u    uint64
	d    float64
	date int64
	str  string

	bin      []byte
	binOwned bool

	fd int

	arr  []*Value
	dict map[string]*Value

	typ TypeInstance
}

// Type returns the Value's IDL type instance, or nil if none was set.
func (v *Value) Type() TypeInstance { return v.typ }

// SetType attaches a non-owning type instance pointer to v. Called by
// the type system on construction/validation; cleared by passing nil.
func (v *Value) SetType(t TypeInstance) { v.typ = t }

// Kind returns the Value's tag.
func (v *Value) Kind() Kind { return v.kind }

func newContainer(k Kind) *Value {
	return &Value{kind: k, refs: 1}
}

func NewNull() *Value { return &Value{kind: Null, refs: 1} }

func NewBool(b bool) *Value { return &Value{kind: Bool, refs: 1, b: b} }

func NewInt64(i int64) *Value { return &Value{kind: Int64, refs: 1, i: i} }

func NewUInt64(u uint64) *Value { return &Value{kind: UInt64, refs: 1, u: u} }

func NewDouble(d float64) *Value { return &Value{kind: Double, refs: 1, d: d} }

// NewDate stores t as Unix UTC seconds, per spec.md §3.
func NewDate(t time.Time) *Value {
	return &Value{kind: Date, refs: 1, date: t.Unix()}
}

func NewString(s string) *Value { return &Value{kind: String, refs: 1, str: s} }

// NewBinaryOwned wraps b as an owned Binary: it is freed when the
// Value's refcount reaches zero.
func NewBinaryOwned(b []byte) *Value {
	return &Value{kind: Binary, refs: 1, bin: b, binOwned: true}
}

// NewBinaryBorrowed wraps b as a borrowed Binary: the caller guarantees
// b's lifetime covers the Value's lifetime; release never frees it.
func NewBinaryBorrowed(b []byte) *Value {
	return &Value{kind: Binary, refs: 1, bin: b, binOwned: false}
}

// NewFd wraps an open descriptor. Ownership of the descriptor stays
// with the caller; release never closes it.
func NewFd(fd int) *Value { return &Value{kind: Fd, refs: 1, fd: fd} }

// NewArray builds an Array, stealing each element (taking ownership of
// the reference the caller already holds, per spec.md §4.A "steal").
func NewArray(elems ...*Value) *Value {
	v := newContainer(Array)
	v.arr = append(v.arr, elems...)
	return v
}

// NewDictionary builds a Dictionary, stealing each value.
func NewDictionary(m map[string]*Value) *Value {
	v := newContainer(Dictionary)
	v.dict = make(map[string]*Value, len(m))
	for k, e := range m {
		v.dict[k] = e
	}
	return v
}

// Retain atomically increments v's refcount and returns v, for chaining.
func (v *Value) Retain() *Value {
	atomic.AddInt32(&v.refs, 1)
	return v
}

// Release atomically decrements v's refcount. At zero it recursively
// releases array/dictionary children; Binary frees its backing array if
// owned; Fd never closes the descriptor (ownership is external).
func (v *Value) Release() {
	if v == nil {
		return
	}
	if atomic.AddInt32(&v.refs, -1) > 0 {
		return
	}
	switch v.kind {
	case Array:
		for _, e := range v.arr {
			e.Release()
		}
		v.arr = nil
	case Dictionary:
		for _, e := range v.dict {
			e.Release()
		}
		v.dict = nil
	case Binary:
		if v.binOwned {
			v.bin = nil
		}
	}
}

// RefCount returns v's current reference count, for tests and diagnostics.
func (v *Value) RefCount() int32 {
	return atomic.LoadInt32(&v.refs)
}

// Bool, Int64, UInt64, Double, Date, String, Fd, Binary return the
// payload for their respective kind. Calling them on the wrong kind
// returns the zero value; callers are expected to check Kind() first,
// exactly as the pack/unpack layer does.

func (v *Value) Bool() bool      { return v.b }
func (v *Value) Int64() int64    { return v.i }
func (v *Value) UInt64() uint64  { return v.u }
func (v *Value) Double() float64 { return v.d }
func (v *Value) DateTime() time.Time {
	return time.Unix(v.date, 0).UTC()
}
func (v *Value) Str() string { return v.str }
func (v *Value) Fd() int     { return v.fd }

// Binary returns the raw bytes and whether they are owned by v.
func (v *Value) Binary() ([]byte, bool) { return v.bin, v.binOwned }

// Count returns the number of elements (Array) or keys (Dictionary).
// Any other kind returns 0.
func (v *Value) Count() int {
	switch v.kind {
	case Array:
		return len(v.arr)
	case Dictionary:
		return len(v.dict)
	default:
		return 0
	}
}

// Get returns the array element at index, or nil if out of range. This
// is the "null pointer signal, not an error kind" retrieval behavior
// from spec.md §4.A.
func (v *Value) Get(index int) *Value {
	if v.kind != Array || index < 0 || index >= len(v.arr) {
		return nil
	}
	return v.arr[index]
}

// Set stores elem at index, retaining it, releasing the index's prior
// occupant if any, and padding with Null entries if index is beyond the
// current length.
func (v *Value) Set(index int, elem *Value) {
	v.steal(index, elem.Retain())
}

// Steal stores elem at index without retaining it (the container takes
// over the reference the caller already held).
func (v *Value) Steal(index int, elem *Value) {
	v.steal(index, elem)
}

func (v *Value) steal(index int, elem *Value) {
	if v.kind != Array {
		return
	}
	for len(v.arr) <= index {
		v.arr = append(v.arr, NewNull())
	}
	if v.arr[index] != nil {
		v.arr[index].Release()
	}
	v.arr[index] = elem
}

// Append retains elem and appends it to the array.
func (v *Value) Append(elem *Value) {
	if v.kind != Array {
		return
	}
	v.arr = append(v.arr, elem.Retain())
}

// Remove deletes the element at index, releasing it, and shifts
// subsequent elements down. Requires index < Count(); spec.md §9
// documents the original's inverted bounds check (`index <= count`) as
// a bug — this is the corrected `index < count` form.
func (v *Value) Remove(index int) bool {
	if v.kind != Array || index < 0 || index >= len(v.arr) {
		return false
	}
	v.arr[index].Release()
	v.arr = append(v.arr[:index], v.arr[index+1:]...)
	return true
}

// GetKey returns the dictionary value for key, or nil if absent.
func (v *Value) GetKey(key string) *Value {
	if v.kind != Dictionary {
		return nil
	}
	return v.dict[key]
}

// HasKey reports whether key is present in the dictionary.
func (v *Value) HasKey(key string) bool {
	if v.kind != Dictionary {
		return false
	}
	_, found := v.dict[key]
	return found
}

// SetKey retains elem and stores it under key, releasing any prior
// occupant of that key.
func (v *Value) SetKey(key string, elem *Value) {
	v.stealKey(key, elem.Retain())
}

// StealKey stores elem under key without retaining it.
func (v *Value) StealKey(key string, elem *Value) {
	v.stealKey(key, elem)
}

func (v *Value) stealKey(key string, elem *Value) {
	if v.kind != Dictionary {
		return
	}
	if v.dict == nil {
		v.dict = map[string]*Value{}
	}
	if prev, found := v.dict[key]; found {
		prev.Release()
	}
	v.dict[key] = elem
}

// RemoveKey deletes key from the dictionary, releasing its value.
func (v *Value) RemoveKey(key string) bool {
	if v.kind != Dictionary {
		return false
	}
	prev, found := v.dict[key]
	if !found {
		return false
	}
	prev.Release()
	delete(v.dict, key)
	return true
}

// sortedKeys returns the dictionary's keys in a stable order, used by
// Apply/Describe/Hash so that iteration is reproducible even though the
// dictionary itself is unordered per spec.md §3.
func (v *Value) sortedKeys() []string {
	keys := make([]string, 0, len(v.dict))
	for k := range v.dict {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ApplyArray visits each array element in index order. The visitor
// returns false to stop early; ApplyArray then returns true ("broke").
func (v *Value) ApplyArray(visit func(index int, elem *Value) bool) (broke bool) {
	if v.kind != Array {
		return false
	}
	for i, e := range v.arr {
		if !visit(i, e) {
			return true
		}
	}
	return false
}

// ApplyDict visits each dictionary entry. Order is stable (sorted by
// key) during one Apply call with no mutation, but is not part of the
// dictionary's contract per spec.md §4.A.
func (v *Value) ApplyDict(visit func(key string, elem *Value) bool) (broke bool) {
	if v.kind != Dictionary {
		return false
	}
	for _, k := range v.sortedKeys() {
		if !visit(k, v.dict[k]) {
			return true
		}
	}
	return false
}

// Copy returns a deep, structurally equal clone of v with an independent
// lifetime and refcount 1, per spec.md §3's copy invariant.
func Copy(v *Value) *Value {
	if v == nil {
		return nil
	}
	switch v.kind {
	case Null:
		return NewNull()
	case Bool:
		return NewBool(v.b)
	case Int64:
		return NewInt64(v.i)
	case UInt64:
		return NewUInt64(v.u)
	case Double:
		return NewDouble(v.d)
	case Date:
		return &Value{kind: Date, refs: 1, date: v.date}
	case String:
		return NewString(v.str)
	case Binary:
		cp := make([]byte, len(v.bin))
		copy(cp, v.bin)
		return NewBinaryOwned(cp)
	case Fd:
		return NewFd(v.fd)
	case Array:
		out := newContainer(Array)
		out.arr = make([]*Value, len(v.arr))
		for i, e := range v.arr {
			out.arr[i] = Copy(e)
		}
		return out
	case Dictionary:
		out := newContainer(Dictionary)
		out.dict = make(map[string]*Value, len(v.dict))
		for k, e := range v.dict {
			out.dict[k] = Copy(e)
		}
		return out
	default:
		return NewNull()
	}
}

// Equal reports structural equality between a and b, per spec.md §3:
// equality is authoritative, the hash is only a fast summary.
func Equal(a, b *Value) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case Null:
		return true
	case Bool:
		return a.b == b.b
	case Int64:
		return a.i == b.i
	case UInt64:
		return a.u == b.u
	case Double:
		return a.d == b.d
	case Date:
		return a.date == b.date
	case String:
		return a.str == b.str
	case Binary:
		if len(a.bin) != len(b.bin) {
			return false
		}
		for i := range a.bin {
			if a.bin[i] != b.bin[i] {
				return false
			}
		}
		return true
	case Fd:
		return a.fd == b.fd
	case Array:
		if len(a.arr) != len(b.arr) {
			return false
		}
		for i := range a.arr {
			if !Equal(a.arr[i], b.arr[i]) {
				return false
			}
		}
		return true
	case Dictionary:
		if len(a.dict) != len(b.dict) {
			return false
		}
		for k, av := range a.dict {
			bv, found := b.dict[k]
			if !found || !Equal(av, bv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Hash returns a fast structural summary of v such that
// Equal(a,b) implies Hash(a) == Hash(b); it is not injective.
func Hash(v *Value) uint64 {
	h := fnv.New64a()
	hashInto(h, v)
	return h.Sum64()
}

func hashInto(h interface{ Write([]byte) (int, error) }, v *Value) {
	write := func(b []byte) { h.Write(b) }
	writeStr := func(s string) { h.Write([]byte(s)) }
	if v == nil {
		writeStr("nil")
		return
	}
	switch v.kind {
	case Null:
		writeStr("n")
	case Bool:
		if v.b {
			writeStr("b1")
		} else {
			writeStr("b0")
		}
	case Int64:
		writeStr("i")
		write(int64Bytes(v.i))
	case UInt64:
		writeStr("u")
		write(int64Bytes(int64(v.u)))
	case Double:
		writeStr("d")
		write(int64Bytes(int64(v.d)))
	case Date:
		writeStr("t")
		write(int64Bytes(v.date))
	case String:
		writeStr("s")
		writeStr(v.str)
	case Binary:
		writeStr("B")
		write(v.bin)
	case Fd:
		writeStr("f")
		write(int64Bytes(int64(v.fd)))
	case Array:
		writeStr("[")
		for _, e := range v.arr {
			hashInto(h, e)
		}
		writeStr("]")
	case Dictionary:
		writeStr("{")
		// Order-independent: XOR the per-key hashes together instead of
		// writing them in iteration order, since dictionaries are
		// unordered per spec.md §3.
		var acc uint64
		for k, e := range v.dict {
			sub := fnv.New64a()
			sub.Write([]byte(k))
			hashInto(sub, e)
			acc ^= sub.Sum64()
		}
		write(int64Bytes(int64(acc)))
		writeStr("}")
	}
}

func int64Bytes(i int64) []byte {
	u := uint64(i)
	return []byte{
		byte(u >> 56), byte(u >> 48), byte(u >> 40), byte(u >> 32),
		byte(u >> 24), byte(u >> 16), byte(u >> 8), byte(u),
	}
}

// MustEqual panics if a and b are not structurally equal; used in tests.
func MustEqual(a, b *Value) {
	if !Equal(a, b) {
		panic(librpc.WithStack(errNotEqual))
	}
}
