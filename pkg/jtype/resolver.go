package jtype

import (
	"fmt"

	"github.com/puzpuzpuz/xsync/v4"
)

// Signature is a parsed method descriptor.
type Signature struct {
	Params []*Type
	Return *Type // nil for void
}

// ArgSlots returns the number of local variable slots the parameters occupy.
func (s *Signature) ArgSlots() int {
	n := 0
	for _, p := range s.Params {
		n += p.Size()
	}
	return n
}

// Resolver parses and caches field and method descriptors. It is shared by
// all methods of a batch and is safe for concurrent use.
type Resolver struct {
	fieldCache  *xsync.Map[string, *Type]
	methodCache *xsync.Map[string, *Signature]
}

func NewResolver() *Resolver {
	return &Resolver{
		fieldCache:  xsync.NewMap[string, *Type](),
		methodCache: xsync.NewMap[string, *Signature](),
	}
}

// Field returns the type of a field descriptor such as "I" or
// "Ljava/lang/String;". Sub-int primitives widen to int.
func (r *Resolver) Field(desc string) (*Type, error) {
	t, ok := r.fieldCache.Load(desc)
	if ok {
		return t, nil
	}
	t, rest, err := parseField(desc)
	if err != nil {
		return nil, err
	}
	if rest != "" {
		return nil, fmt.Errorf("field descriptor %q: trailing %q", desc, rest)
	}
	r.fieldCache.Store(desc, t)
	return t, nil
}

// Method returns the parsed signature of a method descriptor such as
// "(ILjava/lang/String;)V".
func (r *Resolver) Method(desc string) (*Signature, error) {
	sig, ok := r.methodCache.Load(desc)
	if ok {
		return sig, nil
	}
	sig, err := parseMethod(desc)
	if err != nil {
		return nil, err
	}
	r.methodCache.Store(desc, sig)
	return sig, nil
}

// Element returns the component type of an array type. The result of an
// unknown or non-array type is a plain Object reference.
func (r *Resolver) Element(array *Type) *Type {
	if !array.IsArray() {
		return Object(ObjectClass)
	}
	t, err := r.Field(array.name[1:])
	if err != nil {
		return Object(ObjectClass)
	}
	return t
}

func parseMethod(desc string) (*Signature, error) {
	if len(desc) == 0 || desc[0] != '(' {
		return nil, fmt.Errorf("method descriptor %q: missing '('", desc)
	}
	sig := &Signature{}
	rest := desc[1:]
	for {
		if rest == "" {
			return nil, fmt.Errorf("method descriptor %q: missing ')'", desc)
		}
		if rest[0] == ')' {
			rest = rest[1:]
			break
		}
		var (
			t   *Type
			err error
		)
		t, rest, err = parseField(rest)
		if err != nil {
			return nil, fmt.Errorf("method descriptor %q: %w", desc, err)
		}
		sig.Params = append(sig.Params, t)
	}
	if rest == "V" {
		return sig, nil
	}
	ret, tail, err := parseField(rest)
	if err != nil {
		return nil, fmt.Errorf("method descriptor %q: %w", desc, err)
	}
	if tail != "" {
		return nil, fmt.Errorf("method descriptor %q: trailing %q", desc, tail)
	}
	sig.Return = ret
	return sig, nil
}

// parseField consumes one field descriptor from the front of s.
func parseField(s string) (*Type, string, error) {
	if s == "" {
		return nil, "", fmt.Errorf("empty descriptor")
	}
	switch s[0] {
	case 'B', 'C', 'I', 'S', 'Z':
		return IntType, s[1:], nil
	case 'J':
		return LongType, s[1:], nil
	case 'F':
		return FloatType, s[1:], nil
	case 'D':
		return DoubleType, s[1:], nil
	case 'L':
		for i := 1; i < len(s); i++ {
			if s[i] == ';' {
				if i == 1 {
					return nil, "", fmt.Errorf("empty class name in %q", s)
				}
				return Object(s[1:i]), s[i+1:], nil
			}
		}
		return nil, "", fmt.Errorf("unterminated class name in %q", s)
	case '[':
		dims := 0
		for dims < len(s) && s[dims] == '[' {
			dims++
		}
		_, rest, err := parseField(s[dims:])
		if err != nil {
			return nil, "", err
		}
		return Object(s[:len(s)-len(rest)]), rest, nil
	}
	return nil, "", fmt.Errorf("invalid descriptor %q", s)
}
