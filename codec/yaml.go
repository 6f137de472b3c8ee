package codec

import (
	"gopkg.in/yaml.v3"

	"github.com/jceel/librpc"
	"github.com/jceel/librpc/value"
)

// yamlSerializer backs both ad-hoc Value serialization and, via
// idl.Loader, the schema document format itself (spec.md §4.G: IDL
// documents are "typically yaml").
type yamlSerializer struct{}

func (yamlSerializer) Name() string { return "yaml" }

func (yamlSerializer) Serialize(v *value.Value) ([]byte, error) {
	data, err := yaml.Marshal(toWire(v))
	return data, librpc.WithStack(err)
}

func (yamlSerializer) Deserialize(data []byte) (*value.Value, error) {
	var w wireValue
	if err := yaml.Unmarshal(data, &w); err != nil {
		return nil, librpc.WithStack(err)
	}
	return fromWire(&w)
}
