package codec

import (
	"bytes"

	"github.com/hashicorp/go-msgpack/v2/codec"

	"github.com/jceel/librpc"
	"github.com/jceel/librpc/value"
)

var msgpackHandle codec.MsgpackHandle

// msgpackSerializer is grounded on the rest of the pack's go.mod trees
// (moby-moby / go-mizu-mizu) pulling in hashicorp/go-msgpack as their
// compact binary wire format; it plays the same role here for
// transports that prefer a binary envelope over JSON/YAML text.
type msgpackSerializer struct{}

func (msgpackSerializer) Name() string { return "msgpack" }

func (msgpackSerializer) Serialize(v *value.Value) ([]byte, error) {
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, &msgpackHandle)
	if err := enc.Encode(toWire(v)); err != nil {
		return nil, librpc.WithStack(err)
	}
	return buf.Bytes(), nil
}

func (msgpackSerializer) Deserialize(data []byte) (*value.Value, error) {
	var w wireValue
	dec := codec.NewDecoderBytes(data, &msgpackHandle)
	if err := dec.Decode(&w); err != nil {
		return nil, librpc.WithStack(err)
	}
	return fromWire(&w)
}
