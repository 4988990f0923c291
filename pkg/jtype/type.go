// Package jtype models the symbolic value types held in an abstract JVM frame.
package jtype

import (
	"strconv"
	"strings"
)

// Kind is the verification category of a symbolic value.
type Kind uint8

const (
	// Top marks an unusable slot: the second half of a long/double local,
	// or a local that has not been assigned yet.
	Top Kind = iota
	Int
	Long
	Float
	Double
	Reference
	Null
	ReturnAddress
	Uninitialized
)

var kindNames = [...]string{
	Top:           "top",
	Int:           "int",
	Long:          "long",
	Float:         "float",
	Double:        "double",
	Reference:     "reference",
	Null:          "null",
	ReturnAddress: "returnAddress",
	Uninitialized: "uninitialized",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Well-known class names.
const (
	ObjectClass       = "java/lang/Object"
	StringClass       = "java/lang/String"
	ClassClass        = "java/lang/Class"
	ThrowableClass    = "java/lang/Throwable"
	MethodTypeClass   = "java/lang/invoke/MethodType"
	MethodHandleClass = "java/lang/invoke/MethodHandle"
)

// NoTarget is the target of a type that does not refer to an instruction.
const NoTarget = -1

// Type is an immutable symbolic value type. Values are shared by reference
// between frames and never modified after construction.
type Type struct {
	kind    Kind
	name    string // internal class name or array descriptor
	nonNull bool
	target  int // ReturnAddress: continuation node; Uninitialized: creating node
}

// Shared instances of the primitive categories.
var (
	TopType    = &Type{kind: Top, target: NoTarget}
	IntType    = &Type{kind: Int, target: NoTarget}
	LongType   = &Type{kind: Long, target: NoTarget}
	FloatType  = &Type{kind: Float, target: NoTarget}
	DoubleType = &Type{kind: Double, target: NoTarget}
	NullType   = &Type{kind: Null, target: NoTarget}
)

// Object returns the reference type of the given internal class name or
// array descriptor. Nothing is known about its nullness.
func Object(name string) *Type {
	return &Type{kind: Reference, name: name, target: NoTarget}
}

// NonNullObject returns a reference type known to hold an object.
func NonNullObject(name string) *Type {
	return &Type{kind: Reference, name: name, nonNull: true, target: NoTarget}
}

// ReturnAddressOf returns the type pushed by a subroutine jump whose
// continuation is the node with index target.
func ReturnAddressOf(target int) *Type {
	return &Type{kind: ReturnAddress, target: target}
}

// UninitializedOf returns the type of an object created by the "new"
// instruction at node index creator, before its constructor has run.
// Use NoTarget for the receiver of a constructor.
func UninitializedOf(name string, creator int) *Type {
	return &Type{kind: Uninitialized, name: name, nonNull: true, target: creator}
}

func (t *Type) Kind() Kind { return t.kind }

// Name returns the internal class name or array descriptor of a reference type.
func (t *Type) Name() string { return t.name }

// Target returns the continuation of a return address or the creating node
// of an uninitialized object.
func (t *Type) Target() int { return t.target }

// Size returns the number of local variable slots the value occupies.
func (t *Type) Size() int {
	if t.kind == Long || t.kind == Double {
		return 2
	}
	return 1
}

// IsReference reports whether the value is an object reference of any kind.
func (t *Type) IsReference() bool {
	return t.kind == Reference || t.kind == Null || t.kind == Uninitialized
}

// IsNull reports whether the value is the null reference.
func (t *Type) IsNull() bool { return t.kind == Null }

// IsNonNull reports whether the value is known to refer to an object.
func (t *Type) IsNonNull() bool { return t.nonNull }

// IsArray reports whether the value is an array reference.
func (t *Type) IsArray() bool {
	return t.kind == Reference && strings.HasPrefix(t.name, "[")
}

// Initialized returns the type an uninitialized object takes after its
// constructor has run.
func (t *Type) Initialized() *Type {
	if t.kind != Uninitialized {
		return t
	}
	return NonNullObject(t.name)
}

// Equal reports whether two types are interchangeable.
func (t *Type) Equal(o *Type) bool {
	if t == o {
		return true
	}
	if t == nil || o == nil {
		return false
	}
	return t.kind == o.kind && t.name == o.name && t.nonNull == o.nonNull && t.target == o.target
}

// Descriptor returns the field descriptor of the type, or the empty string
// for types without one.
func (t *Type) Descriptor() string {
	switch t.kind {
	case Int:
		return "I"
	case Long:
		return "J"
	case Float:
		return "F"
	case Double:
		return "D"
	case Reference, Uninitialized:
		if strings.HasPrefix(t.name, "[") {
			return t.name
		}
		return "L" + t.name + ";"
	}
	return ""
}

func (t *Type) String() string {
	switch t.kind {
	case Reference:
		s := ClassName(t.name)
		if t.nonNull {
			s += "!"
		}
		return s
	case Uninitialized:
		if t.target == NoTarget {
			return "uninitializedThis(" + ClassName(t.name) + ")"
		}
		return "uninitialized(" + ClassName(t.name) + "@" + strconv.Itoa(t.target) + ")"
	case ReturnAddress:
		return "returnAddress(" + strconv.Itoa(t.target) + ")"
	}
	return t.kind.String()
}

// ClassName converts an internal name or array descriptor to source form,
// e.g. "java/lang/String" to "java.lang.String" and "[I" to "int[]".
func ClassName(name string) string {
	dims := 0
	for dims < len(name) && name[dims] == '[' {
		dims++
	}
	if dims == 0 {
		return strings.ReplaceAll(name, "/", ".")
	}
	var base string
	elem := name[dims:]
	switch {
	case strings.HasPrefix(elem, "L") && strings.HasSuffix(elem, ";"):
		base = strings.ReplaceAll(elem[1:len(elem)-1], "/", ".")
	default:
		base = primitiveNames[elem]
		if base == "" {
			base = elem
		}
	}
	return base + strings.Repeat("[]", dims)
}

var primitiveNames = map[string]string{
	"B": "byte", "C": "char", "D": "double", "F": "float",
	"I": "int", "J": "long", "S": "short", "Z": "boolean",
}
