package value

import (
	"fmt"
	"strconv"
	"strings"
)

// Describe renders v as an indented, type-tagged tree, in the spirit of
// structs.go's Describe() helpers: a format meant for logs and the
// rpcshell debug client, not for the wire.
func Describe(v *Value) string {
	var b strings.Builder
	describeInto(&b, v, 0)
	return b.String()
}

func describeInto(b *strings.Builder, v *Value, depth int) {
	indent := strings.Repeat("  ", depth)
	if v == nil {
		fmt.Fprintf(b, "%snull\n", indent)
		return
	}
	switch v.kind {
	case Null:
		fmt.Fprintf(b, "%snull\n", indent)
	case Bool:
		fmt.Fprintf(b, "%sbool: %v\n", indent, v.b)
	case Int64:
		fmt.Fprintf(b, "%sint64: %d\n", indent, v.i)
	case UInt64:
		fmt.Fprintf(b, "%suint64: %d\n", indent, v.u)
	case Double:
		fmt.Fprintf(b, "%sdouble: %s\n", indent, strconv.FormatFloat(v.d, 'g', -1, 64))
	case Date:
		fmt.Fprintf(b, "%sdate: %s\n", indent, v.DateTime().Format("2006-01-02T15:04:05Z"))
	case String:
		fmt.Fprintf(b, "%sstring: %q\n", indent, v.str)
	case Binary:
		fmt.Fprintf(b, "%sbinary: %d byte(s)\n", indent, len(v.bin))
	case Fd:
		fmt.Fprintf(b, "%sfd: %d\n", indent, v.fd)
	case Array:
		fmt.Fprintf(b, "%sarray[%d]:\n", indent, len(v.arr))
		for i, e := range v.arr {
			fmt.Fprintf(b, "%s  [%d]\n", indent, i)
			describeInto(b, e, depth+2)
		}
	case Dictionary:
		fmt.Fprintf(b, "%sdictionary[%d]:\n", indent, len(v.dict))
		for _, k := range v.sortedKeys() {
			fmt.Fprintf(b, "%s  %s:\n", indent, k)
			describeInto(b, v.dict[k], depth+2)
		}
	default:
		fmt.Fprintf(b, "%s<unknown kind %d>\n", indent, int(v.kind))
	}
	if t := v.Type(); t != nil {
		fmt.Fprintf(b, "%s  (type: %s)\n", indent, t.CanonicalName())
	}
}
