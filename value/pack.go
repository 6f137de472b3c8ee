package value

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Pack builds a Value tree from a format string and a flat list of
// arguments, per the mini-language in spec.md §4.A:
//
//	n            Null
//	b            Bool
//	i            Int64
//	u            UInt64
//	d            Double
//	s            String (consumes a string arg)
//	B / data     Binary
//	f / fd       Fd
//	[...]        Array; inner tokens are consumed in sequence, an
//	             explicit "N:t" entry places its value at index N and
//	             subsequent implicit entries continue from N+1
//	{...}        Dictionary; each entry is either "name:t" (literal key)
//	             or a plain token t (key taken from the next argument)
//
// Commas between entries inside [...] / {...} are optional separators.
func Pack(format string, args ...any) (*Value, error) {
	p := &packer{args: args}
	v, rest, err := p.parseItem(format)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(rest) != "" {
		return nil, errors.Errorf("pack: trailing input %q", rest)
	}
	return v, nil
}

type packer struct {
	args []any
	pos  int
}

func (p *packer) next() (any, error) {
	if p.pos >= len(p.args) {
		return nil, errors.Errorf("pack: not enough arguments (format expects more than %d)", len(p.args))
	}
	a := p.args[p.pos]
	p.pos++
	return a, nil
}

// parseItem consumes one token (and whatever trailing arguments it
// needs) from the front of s and returns the produced Value plus the
// unconsumed remainder of s.
func (p *packer) parseItem(s string) (*Value, string, error) {
	s = skipSeparators(s)
	if s == "" {
		return nil, "", errors.New("pack: unexpected end of format")
	}

	// A top-level "name:token" prefix has no addressee (that only
	// matters inside an array or dict, which parse named entries
	// themselves via scanNamed); for a bare Pack/Unpack call we simply
	// unwrap to the token it names.
	if _, rest, ok := scanNamed(s); ok {
		return p.parseToken(rest)
	}
	return p.parseToken(s)
}

// parseToken parses a single unnamed token (simple char, keyword, or
// bracketed group) from the front of s.
func (p *packer) parseToken(s string) (*Value, string, error) {
	s = skipSeparators(s)
	if s == "" {
		return nil, "", errors.New("pack: unexpected end of format")
	}
	switch {
	case strings.HasPrefix(s, "data"):
		return p.packBinary(s[len("data"):])
	case strings.HasPrefix(s, "fd"):
		return p.packFd(s[len("fd"):])
	case s[0] == '[':
		inner, tail, err := extractBalanced(s, '[', ']')
		if err != nil {
			return nil, "", err
		}
		v, err := p.parseArray(inner)
		return v, tail, err
	case s[0] == '{':
		inner, tail, err := extractBalanced(s, '{', '}')
		if err != nil {
			return nil, "", err
		}
		v, err := p.parseDict(inner)
		return v, tail, err
	default:
		return p.packSimple(s)
	}
}

func (p *packer) packSimple(s string) (*Value, string, error) {
	tok := s[0]
	rest := s[1:]
	switch tok {
	case 'n':
		return NewNull(), rest, nil
	case 'b':
		a, err := p.next()
		if err != nil {
			return nil, "", err
		}
		b, ok := a.(bool)
		if !ok {
			return nil, "", errors.Errorf("pack: token 'b' needs a bool, got %T", a)
		}
		return NewBool(b), rest, nil
	case 'i':
		a, err := p.next()
		if err != nil {
			return nil, "", err
		}
		i, err := toInt64(a)
		if err != nil {
			return nil, "", err
		}
		return NewInt64(i), rest, nil
	case 'u':
		a, err := p.next()
		if err != nil {
			return nil, "", err
		}
		u, err := toUInt64(a)
		if err != nil {
			return nil, "", err
		}
		return NewUInt64(u), rest, nil
	case 'd':
		a, err := p.next()
		if err != nil {
			return nil, "", err
		}
		d, err := toFloat64(a)
		if err != nil {
			return nil, "", err
		}
		return NewDouble(d), rest, nil
	case 's':
		a, err := p.next()
		if err != nil {
			return nil, "", err
		}
		str, ok := a.(string)
		if !ok {
			return nil, "", errors.Errorf("pack: token 's' needs a string, got %T", a)
		}
		return NewString(str), rest, nil
	case 'B':
		return p.packBinary(rest)
	case 'f':
		return p.packFd(rest)
	default:
		return nil, "", errors.Errorf("pack: unknown token %q", string(tok))
	}
}

func (p *packer) packBinary(rest string) (*Value, string, error) {
	a, err := p.next()
	if err != nil {
		return nil, "", err
	}
	b, ok := a.([]byte)
	if !ok {
		return nil, "", errors.Errorf("pack: binary token needs []byte, got %T", a)
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return NewBinaryOwned(cp), rest, nil
}

func (p *packer) packFd(rest string) (*Value, string, error) {
	a, err := p.next()
	if err != nil {
		return nil, "", err
	}
	fd, err := toInt64(a)
	if err != nil {
		return nil, "", err
	}
	return NewFd(int(fd)), rest, nil
}

// parseArray parses the fully-extracted inner content of a "[...]"
// group (no surrounding brackets) into an Array value.
func (p *packer) parseArray(s string) (*Value, error) {
	v := NewArray()
	pos := 0
	for {
		s = skipSeparators(s)
		if s == "" {
			break
		}
		var (
			idx int
			err error
		)
		if name, rest, ok := scanNamed(s); ok {
			if idx, err = strconv.Atoi(name); err != nil {
				return nil, errors.Errorf("pack: array entry %q needs a numeric index", name)
			}
			var elem *Value
			elem, s, err = p.parseToken(rest)
			if err != nil {
				return nil, err
			}
			v.Steal(idx, elem)
			pos = idx + 1
			continue
		}
		var elem *Value
		elem, s, err = p.parseToken(s)
		if err != nil {
			return nil, err
		}
		v.Steal(pos, elem)
		pos++
	}
	return v, nil
}

// parseDict parses the fully-extracted inner content of a "{...}"
// group into a Dictionary value.
func (p *packer) parseDict(s string) (*Value, error) {
	v := NewDictionary(nil)
	for {
		s = skipSeparators(s)
		if s == "" {
			break
		}
		var (
			key  string
			elem *Value
			err  error
		)
		if name, rest, ok := scanNamed(s); ok {
			key = name
			elem, s, err = p.parseToken(rest)
			if err != nil {
				return nil, err
			}
		} else {
			a, aerr := p.next()
			if aerr != nil {
				return nil, aerr
			}
			k, ok := a.(string)
			if !ok {
				return nil, errors.Errorf("pack: dictionary key must be a string, got %T", a)
			}
			key = k
			elem, s, err = p.parseToken(s)
			if err != nil {
				return nil, err
			}
		}
		v.StealKey(key, elem)
	}
	return v, nil
}

// scanNamed recognizes a leading "name:" prefix (identifier or decimal
// number followed by a colon) and returns the name and the remainder
// after the colon. ok is false if s has no such prefix.
func scanNamed(s string) (name string, rest string, ok bool) {
	i := 0
	for i < len(s) && (isAlnum(s[i])) {
		i++
	}
	if i == 0 || i >= len(s) || s[i] != ':' {
		return "", s, false
	}
	return s[:i], s[i+1:], true
}

func isAlnum(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9' || b == '_'
}

func skipSeparators(s string) string {
	i := 0
	for i < len(s) && (s[i] == ',' || s[i] == ' ' || s[i] == '\t' || s[i] == '\n') {
		i++
	}
	return s[i:]
}

// extractBalanced expects s[0] == open and returns the content between
// the matching close bracket (exclusive) and whatever trails it.
func extractBalanced(s string, open, close byte) (inner string, rest string, err error) {
	if len(s) == 0 || s[0] != open {
		return "", "", errors.Errorf("pack: expected %q", string(open))
	}
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[1:i], s[i+1:], nil
			}
		}
	}
	return "", "", errors.Errorf("pack: unbalanced %q", string(open))
}

func toInt64(a any) (int64, error) {
	switch v := a.(type) {
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	default:
		return 0, errors.Errorf("pack: can't convert %T to int64", a)
	}
}

func toUInt64(a any) (uint64, error) {
	i, err := toInt64(a)
	if err != nil {
		return 0, err
	}
	return uint64(i), nil
}

func toFloat64(a any) (float64, error) {
	switch v := a.(type) {
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	default:
		i, err := toInt64(a)
		if err != nil {
			return 0, errors.Errorf("pack: can't convert %T to float64", a)
		}
		return float64(i), nil
	}
}

// Unpack destructures v according to format, writing into the pointers
// in ptrs (e.g. *bool, *int64, *uint64, *float64, *string, *[]byte,
// *int for a descriptor, or *Value for an opaque nested element). It
// returns the number of pointers successfully bound.
func Unpack(v *Value, format string, ptrs ...any) (int, error) {
	u := &unpacker{ptrs: ptrs}
	rest, err := u.unpackItem(v, format)
	if err != nil {
		return u.bound, err
	}
	if strings.TrimSpace(rest) != "" {
		return u.bound, errors.Errorf("unpack: trailing format %q", rest)
	}
	return u.bound, nil
}

type unpacker struct {
	ptrs  []any
	pos   int
	bound int
}

func (u *unpacker) nextPtr() (any, error) {
	if u.pos >= len(u.ptrs) {
		return nil, errors.Errorf("unpack: not enough destination pointers")
	}
	p := u.ptrs[u.pos]
	u.pos++
	return p, nil
}

func (u *unpacker) unpackItem(v *Value, s string) (string, error) {
	s = skipSeparators(s)
	if s == "" {
		return "", errors.New("unpack: unexpected end of format")
	}
	if _, rest, ok := scanNamed(s); ok {
		return u.unpackToken(v, rest)
	}
	return u.unpackToken(v, s)
}

func (u *unpacker) unpackToken(v *Value, s string) (string, error) {
	s = skipSeparators(s)
	switch {
	case strings.HasPrefix(s, "data"):
		return u.bindBinary(v, s[len("data"):])
	case strings.HasPrefix(s, "fd"):
		return u.bindFd(v, s[len("fd"):])
	case s[0] == '[':
		inner, tail, err := extractBalanced(s, '[', ']')
		if err != nil {
			return "", err
		}
		if err := u.unpackArray(v, inner); err != nil {
			return "", err
		}
		return tail, nil
	case s[0] == '{':
		inner, tail, err := extractBalanced(s, '{', '}')
		if err != nil {
			return "", err
		}
		if err := u.unpackDict(v, inner); err != nil {
			return "", err
		}
		return tail, nil
	default:
		return u.bindSimple(v, s)
	}
}

func (u *unpacker) bindSimple(v *Value, s string) (string, error) {
	tok := s[0]
	rest := s[1:]
	switch tok {
	case 'n':
		return rest, nil
	case 'b':
		p, err := u.nextPtr()
		if err != nil {
			return "", err
		}
		dst, ok := p.(*bool)
		if !ok {
			return "", errors.Errorf("unpack: token 'b' needs *bool, got %T", p)
		}
		*dst = v.Bool()
		u.bound++
		return rest, nil
	case 'i':
		p, err := u.nextPtr()
		if err != nil {
			return "", err
		}
		dst, ok := p.(*int64)
		if !ok {
			return "", errors.Errorf("unpack: token 'i' needs *int64, got %T", p)
		}
		*dst = v.Int64()
		u.bound++
		return rest, nil
	case 'u':
		p, err := u.nextPtr()
		if err != nil {
			return "", err
		}
		dst, ok := p.(*uint64)
		if !ok {
			return "", errors.Errorf("unpack: token 'u' needs *uint64, got %T", p)
		}
		*dst = v.UInt64()
		u.bound++
		return rest, nil
	case 'd':
		p, err := u.nextPtr()
		if err != nil {
			return "", err
		}
		dst, ok := p.(*float64)
		if !ok {
			return "", errors.Errorf("unpack: token 'd' needs *float64, got %T", p)
		}
		*dst = v.Double()
		u.bound++
		return rest, nil
	case 's':
		p, err := u.nextPtr()
		if err != nil {
			return "", err
		}
		dst, ok := p.(*string)
		if !ok {
			return "", errors.Errorf("unpack: token 's' needs *string, got %T", p)
		}
		*dst = v.Str()
		u.bound++
		return rest, nil
	case 'B':
		return u.bindBinary(v, rest)
	case 'f':
		return u.bindFd(v, rest)
	default:
		return "", errors.Errorf("unpack: unknown token %q", string(tok))
	}
}

func (u *unpacker) bindBinary(v *Value, rest string) (string, error) {
	p, err := u.nextPtr()
	if err != nil {
		return "", err
	}
	dst, ok := p.(*[]byte)
	if !ok {
		return "", errors.Errorf("unpack: binary token needs *[]byte, got %T", p)
	}
	b, _ := v.Binary()
	cp := make([]byte, len(b))
	copy(cp, b)
	*dst = cp
	u.bound++
	return rest, nil
}

func (u *unpacker) bindFd(v *Value, rest string) (string, error) {
	p, err := u.nextPtr()
	if err != nil {
		return "", err
	}
	dst, ok := p.(*int)
	if !ok {
		return "", errors.Errorf("unpack: fd token needs *int, got %T", p)
	}
	*dst = v.Fd()
	u.bound++
	return rest, nil
}

func (u *unpacker) unpackArray(v *Value, s string) error {
	pos := 0
	for {
		s = skipSeparators(s)
		if s == "" {
			return nil
		}
		if name, rest, ok := scanNamed(s); ok {
			idx, err := strconv.Atoi(name)
			if err != nil {
				return errors.Errorf("unpack: array entry %q needs a numeric index", name)
			}
			elem := v.Get(idx)
			tail, err := u.unpackToken(elem, rest)
			if err != nil {
				return err
			}
			s = tail
			pos = idx + 1
			continue
		}
		elem := v.Get(pos)
		tail, err := u.unpackToken(elem, s)
		if err != nil {
			return err
		}
		s = tail
		pos++
	}
}

func (u *unpacker) unpackDict(v *Value, s string) error {
	for {
		s = skipSeparators(s)
		if s == "" {
			return nil
		}
		if name, rest, ok := scanNamed(s); ok {
			elem := v.GetKey(name)
			tail, err := u.unpackToken(elem, rest)
			if err != nil {
				return err
			}
			s = tail
			continue
		}
		p, err := u.nextPtr()
		if err != nil {
			return err
		}
		dst, ok := p.(*string)
		if !ok {
			return errors.Errorf("unpack: dictionary key destination must be *string, got %T", p)
		}
		key := *dst
		if key == "" {
			return errors.Errorf("unpack: dictionary key destination must be pre-filled with the key to read")
		}
		elem := v.GetKey(key)
		tail, err := u.unpackToken(elem, s)
		if err != nil {
			return err
		}
		s = tail
	}
}
