package codec

import (
	"time"

	"github.com/pkg/errors"

	"github.com/jceel/librpc/value"
)

// wireValue is the tagged intermediate form shared by the json, yaml
// and msgpack serializers: each just (de)serializes this struct with
// its own library, then converts to/from value.Value. benc has no
// generic map/struct reflection story, so bencSerializer walks the
// Value tree directly against the raw primitive encoders instead.
type wireValue struct {
	Kind string `json:"kind" yaml:"kind" msgpack:"kind"`

	Bool   *bool    `json:"bool,omitempty" yaml:"bool,omitempty" msgpack:"bool,omitempty"`
	Int    *int64   `json:"int,omitempty" yaml:"int,omitempty" msgpack:"int,omitempty"`
	UInt   *uint64  `json:"uint,omitempty" yaml:"uint,omitempty" msgpack:"uint,omitempty"`
	Double *float64 `json:"double,omitempty" yaml:"double,omitempty" msgpack:"double,omitempty"`
	Date   *int64   `json:"date,omitempty" yaml:"date,omitempty" msgpack:"date,omitempty"`
	Str    *string  `json:"str,omitempty" yaml:"str,omitempty" msgpack:"str,omitempty"`
	Bin    []byte   `json:"bin,omitempty" yaml:"bin,omitempty" msgpack:"bin,omitempty"`
	Fd     *int     `json:"fd,omitempty" yaml:"fd,omitempty" msgpack:"fd,omitempty"`

	Array []*wireValue          `json:"array,omitempty" yaml:"array,omitempty" msgpack:"array,omitempty"`
	Dict  map[string]*wireValue `json:"dict,omitempty" yaml:"dict,omitempty" msgpack:"dict,omitempty"`
}

func toWire(v *value.Value) *wireValue {
	if v == nil {
		return &wireValue{Kind: "null"}
	}
	w := &wireValue{Kind: v.Kind().String()}
	switch v.Kind() {
	case value.Null:
	case value.Bool:
		b := v.Bool()
		w.Bool = &b
	case value.Int64:
		i := v.Int64()
		w.Int = &i
	case value.UInt64:
		u := v.UInt64()
		w.UInt = &u
	case value.Double:
		d := v.Double()
		w.Double = &d
	case value.Date:
		t := v.DateTime().Unix()
		w.Date = &t
	case value.String:
		s := v.Str()
		w.Str = &s
	case value.Binary:
		b, _ := v.Binary()
		w.Bin = append([]byte(nil), b...)
	case value.Fd:
		fd := v.Fd()
		w.Fd = &fd
	case value.Array:
		v.ApplyArray(func(_ int, e *value.Value) bool {
			w.Array = append(w.Array, toWire(e))
			return true
		})
	case value.Dictionary:
		w.Dict = make(map[string]*wireValue, v.Count())
		v.ApplyDict(func(k string, e *value.Value) bool {
			w.Dict[k] = toWire(e)
			return true
		})
	}
	return w
}

func fromWire(w *wireValue) (*value.Value, error) {
	if w == nil {
		return value.NewNull(), nil
	}
	switch w.Kind {
	case "null", "":
		return value.NewNull(), nil
	case "bool":
		if w.Bool == nil {
			return nil, errors.New("codec: bool wire value missing payload")
		}
		return value.NewBool(*w.Bool), nil
	case "int64":
		if w.Int == nil {
			return nil, errors.New("codec: int64 wire value missing payload")
		}
		return value.NewInt64(*w.Int), nil
	case "uint64":
		if w.UInt == nil {
			return nil, errors.New("codec: uint64 wire value missing payload")
		}
		return value.NewUInt64(*w.UInt), nil
	case "double":
		if w.Double == nil {
			return nil, errors.New("codec: double wire value missing payload")
		}
		return value.NewDouble(*w.Double), nil
	case "date":
		if w.Date == nil {
			return nil, errors.New("codec: date wire value missing payload")
		}
		return value.NewDate(time.Unix(*w.Date, 0).UTC()), nil
	case "string":
		if w.Str == nil {
			return nil, errors.New("codec: string wire value missing payload")
		}
		return value.NewString(*w.Str), nil
	case "binary":
		return value.NewBinaryOwned(append([]byte(nil), w.Bin...)), nil
	case "fd":
		if w.Fd == nil {
			return nil, errors.New("codec: fd wire value missing payload")
		}
		return value.NewFd(*w.Fd), nil
	case "array":
		arr := value.NewArray()
		for i, ew := range w.Array {
			ev, err := fromWire(ew)
			if err != nil {
				return nil, err
			}
			arr.Steal(i, ev)
		}
		return arr, nil
	case "dictionary":
		dict := value.NewDictionary(nil)
		for k, ew := range w.Dict {
			ev, err := fromWire(ew)
			if err != nil {
				return nil, err
			}
			dict.StealKey(k, ev)
		}
		return dict, nil
	default:
		return nil, errors.Errorf("codec: unknown wire kind %q", w.Kind)
	}
}
