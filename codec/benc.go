package codec

import (
	"time"

	"github.com/deneonet/benc/bstd"

	"github.com/jceel/librpc"
	"github.com/jceel/librpc/value"
)

// bencSerializer is grounded on structs/schema.go, whose bencgen output
// calls bstd's primitive Size/Marshal/Unmarshal functions field by
// field. Value has no static shape for bencgen to compile against, so
// this hand-writes the same size-then-marshal two-pass walk directly
// against the dynamic tree: a uint64 kind tag per node, followed by
// that kind's payload, with arrays/dicts recursing and prefixing a
// uint64 element count.
type bencSerializer struct{}

func (bencSerializer) Name() string { return "benc" }

func (bencSerializer) Serialize(v *value.Value) ([]byte, error) {
	n := sizeValue(v, 0)
	buf := make([]byte, n)
	tail, err := marshalValue(0, buf, v)
	if err != nil {
		return nil, librpc.WithStack(err)
	}
	if tail != n {
		return nil, librpc.WithStack(benc_sizeMismatch{want: n, got: tail})
	}
	return buf, nil
}

func (bencSerializer) Deserialize(data []byte) (*value.Value, error) {
	_, v, err := unmarshalValue(0, data)
	return v, librpc.WithStack(err)
}

type benc_sizeMismatch struct{ want, got int }

func (e benc_sizeMismatch) Error() string {
	return "codec: benc size/marshal mismatch"
}

// Kind tags are a private wire enum, independent of value.Kind's
// iota order, so the wire format stays stable if Kind gains members.
const (
	bencNull = uint64(iota)
	bencBool
	bencInt64
	bencUInt64
	bencDouble
	bencDate
	bencString
	bencBinary
	bencFd
	bencArray
	bencDict
)

func kindTag(k value.Kind) uint64 {
	switch k {
	case value.Bool:
		return bencBool
	case value.Int64:
		return bencInt64
	case value.UInt64:
		return bencUInt64
	case value.Double:
		return bencDouble
	case value.Date:
		return bencDate
	case value.String:
		return bencString
	case value.Binary:
		return bencBinary
	case value.Fd:
		return bencFd
	case value.Array:
		return bencArray
	case value.Dictionary:
		return bencDict
	default:
		return bencNull
	}
}

func sizeValue(v *value.Value, n int) int {
	n = bstd.SizeUint64(n)
	if v == nil {
		return n
	}
	switch v.Kind() {
	case value.Null:
	case value.Bool:
		n = bstd.SizeBool(n)
	case value.Int64:
		n = bstd.SizeUint64(n)
	case value.UInt64:
		n = bstd.SizeUint64(n)
	case value.Double:
		n = bstd.SizeFloat64(n)
	case value.Date:
		n = bstd.SizeUint64(n)
	case value.String:
		n = bstd.SizeString(n, v.Str())
	case value.Binary:
		b, _ := v.Binary()
		n = bstd.SizeBytes(n, b)
	case value.Fd:
		n = bstd.SizeUint64(n)
	case value.Array:
		n = bstd.SizeUint64(n)
		v.ApplyArray(func(_ int, e *value.Value) bool {
			n = sizeValue(e, n)
			return true
		})
	case value.Dictionary:
		n = bstd.SizeUint64(n)
		v.ApplyDict(func(k string, e *value.Value) bool {
			n = bstd.SizeString(n, k)
			n = sizeValue(e, n)
			return true
		})
	}
	return n
}

func marshalValue(tail int, buf []byte, v *value.Value) (int, error) {
	if v == nil {
		return bstd.MarshalUint64(tail, buf, bencNull), nil
	}
	tail = bstd.MarshalUint64(tail, buf, kindTag(v.Kind()))
	var err error
	switch v.Kind() {
	case value.Null:
	case value.Bool:
		tail = bstd.MarshalBool(tail, buf, v.Bool())
	case value.Int64:
		tail = bstd.MarshalUint64(tail, buf, zigzagEncode(v.Int64()))
	case value.UInt64:
		tail = bstd.MarshalUint64(tail, buf, v.UInt64())
	case value.Double:
		tail = bstd.MarshalFloat64(tail, buf, v.Double())
	case value.Date:
		tail = bstd.MarshalUint64(tail, buf, zigzagEncode(v.DateTime().Unix()))
	case value.String:
		tail = bstd.MarshalString(tail, buf, v.Str())
	case value.Binary:
		b, _ := v.Binary()
		tail = bstd.MarshalBytes(tail, buf, b)
	case value.Fd:
		tail = bstd.MarshalUint64(tail, buf, uint64(int64(v.Fd())))
	case value.Array:
		tail = bstd.MarshalUint64(tail, buf, uint64(v.Count()))
		v.ApplyArray(func(_ int, e *value.Value) bool {
			tail, err = marshalValue(tail, buf, e)
			return err == nil
		})
	case value.Dictionary:
		tail = bstd.MarshalUint64(tail, buf, uint64(v.Count()))
		v.ApplyDict(func(k string, e *value.Value) bool {
			tail = bstd.MarshalString(tail, buf, k)
			tail, err = marshalValue(tail, buf, e)
			return err == nil
		})
	}
	return tail, err
}

func unmarshalValue(tail int, buf []byte) (int, *value.Value, error) {
	tail, tag, err := bstd.UnmarshalUint64(tail, buf)
	if err != nil {
		return tail, nil, err
	}
	switch tag {
	case bencNull:
		return tail, value.NewNull(), nil
	case bencBool:
		var b bool
		tail, b, err = bstd.UnmarshalBool(tail, buf)
		return tail, value.NewBool(b), err
	case bencInt64:
		var u uint64
		tail, u, err = bstd.UnmarshalUint64(tail, buf)
		return tail, value.NewInt64(zigzagDecode(u)), err
	case bencUInt64:
		var u uint64
		tail, u, err = bstd.UnmarshalUint64(tail, buf)
		return tail, value.NewUInt64(u), err
	case bencDouble:
		var d float64
		tail, d, err = bstd.UnmarshalFloat64(tail, buf)
		return tail, value.NewDouble(d), err
	case bencDate:
		var u uint64
		tail, u, err = bstd.UnmarshalUint64(tail, buf)
		return tail, value.NewDate(time.Unix(zigzagDecode(u), 0).UTC()), err
	case bencString:
		var s string
		tail, s, err = bstd.UnmarshalString(tail, buf)
		return tail, value.NewString(s), err
	case bencBinary:
		var b []byte
		tail, b, err = bstd.UnmarshalBytes(tail, buf)
		return tail, value.NewBinaryOwned(append([]byte(nil), b...)), err
	case bencFd:
		var u uint64
		tail, u, err = bstd.UnmarshalUint64(tail, buf)
		return tail, value.NewFd(int(int64(u))), err
	case bencArray:
		var count uint64
		tail, count, err = bstd.UnmarshalUint64(tail, buf)
		if err != nil {
			return tail, nil, err
		}
		arr := value.NewArray()
		for i := uint64(0); i < count; i++ {
			var elem *value.Value
			tail, elem, err = unmarshalValue(tail, buf)
			if err != nil {
				return tail, nil, err
			}
			arr.Steal(int(i), elem)
		}
		return tail, arr, nil
	case bencDict:
		var count uint64
		tail, count, err = bstd.UnmarshalUint64(tail, buf)
		if err != nil {
			return tail, nil, err
		}
		dict := value.NewDictionary(nil)
		for i := uint64(0); i < count; i++ {
			var key string
			tail, key, err = bstd.UnmarshalString(tail, buf)
			if err != nil {
				return tail, nil, err
			}
			var elem *value.Value
			tail, elem, err = unmarshalValue(tail, buf)
			if err != nil {
				return tail, nil, err
			}
			dict.StealKey(key, elem)
		}
		return tail, dict, nil
	default:
		return tail, nil, benc_unknownTag{tag: tag}
	}
}

type benc_unknownTag struct{ tag uint64 }

func (e benc_unknownTag) Error() string { return "codec: benc unknown kind tag" }

func zigzagEncode(i int64) uint64 {
	return uint64((i << 1) ^ (i >> 63))
}

func zigzagDecode(u uint64) int64 {
	return int64(u>>1) ^ -int64(u&1)
}
