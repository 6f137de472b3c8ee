// Package codec holds the named wire serializers for a value.Value tree:
// json, msgpack, yaml and benc, each registered under the name a
// transport or schema document uses to select it.
package codec

import (
	"github.com/jceel/librpc"
	"github.com/jceel/librpc/value"
)

// Serializer turns a Value tree into bytes and back. Implementations
// must round-trip every Kind in value.Kind, including Fd (as a bare
// integer — out-of-band descriptor passing is the frame layer's job,
// not the codec's).
type Serializer interface {
	Name() string
	Serialize(v *value.Value) ([]byte, error)
	Deserialize(data []byte) (*value.Value, error)
}

var registry = librpc.NewSyncMap[string, Serializer]()

// Register adds s to the registry under s.Name(), overwriting any
// previous entry with the same name.
func Register(s Serializer) {
	registry.Set(s.Name(), s)
}

// Get looks up a registered serializer by name ("json", "msgpack",
// "yaml", "benc").
func Get(name string) (Serializer, bool) {
	return registry.Get(name)
}

// Names returns the names of every registered serializer.
func Names() []string {
	var names []string
	for name := range registry.Keys() {
		names = append(names, name)
	}
	return names
}

func init() {
	Register(jsonSerializer{})
	Register(yamlSerializer{})
	Register(msgpackSerializer{})
	Register(bencSerializer{})
}
