// Package bytecode holds the decoded form of JVM method bodies: instructions,
// exception tables, line tables and local variable tables.
package bytecode

import (
	"fmt"
	"strconv"
	"strings"
)

// ConstKind is the kind of a loadable constant.
type ConstKind uint8

const (
	ConstInt ConstKind = iota
	ConstLong
	ConstFloat
	ConstDouble
	ConstString
	ConstClass
	ConstMethodType
	ConstMethodHandle
)

// Constant is an ldc operand or an immediate value.
type Constant struct {
	Kind  ConstKind
	Value string
}

func (c *Constant) String() string {
	switch c.Kind {
	case ConstString:
		return strconv.Quote(c.Value)
	case ConstClass:
		return "class " + c.Value
	case ConstMethodType:
		return "methodtype " + c.Value
	case ConstMethodHandle:
		return "methodhandle " + c.Value
	}
	return c.Value
}

// MemberRef names a field or method.
type MemberRef struct {
	Owner      string // internal class name; empty for invokedynamic
	Name       string
	Descriptor string
}

func (r *MemberRef) String() string {
	if r.Owner == "" {
		return r.Name + r.Descriptor
	}
	if strings.HasPrefix(r.Descriptor, "(") {
		return r.Owner + "." + r.Name + r.Descriptor
	}
	return r.Owner + "." + r.Name + ":" + r.Descriptor
}

// SwitchCase is one key/target pair of a switch.
type SwitchCase struct {
	Key    int32
	Target int
}

// ArrayType is the element code of a newarray instruction.
type ArrayType uint8

const (
	TBoolean ArrayType = 4 + iota
	TChar
	TFloat
	TDouble
	TByte
	TShort
	TInt
	TLong
)

var arrayTypeNames = map[ArrayType]string{
	TBoolean: "boolean", TChar: "char", TFloat: "float", TDouble: "double",
	TByte: "byte", TShort: "short", TInt: "int", TLong: "long",
}

var arrayTypeDescriptors = map[ArrayType]string{
	TBoolean: "[Z", TChar: "[C", TFloat: "[F", TDouble: "[D",
	TByte: "[B", TShort: "[S", TInt: "[I", TLong: "[J",
}

func (a ArrayType) String() string {
	if s, ok := arrayTypeNames[a]; ok {
		return s
	}
	return "atype(" + strconv.Itoa(int(a)) + ")"
}

// Descriptor returns the descriptor of the array type created by newarray.
func (a ArrayType) Descriptor() string { return arrayTypeDescriptors[a] }

// Instruction is one decoded instruction. Which operand fields are set
// depends on the opcode.
type Instruction struct {
	Offset int
	Op     Opcode
	Wide   bool

	Index     int          // local slot of loads, stores, iinc and ret
	Increment int          // iinc
	Target    int          // branch target offset; default target of a switch
	Cases     []SwitchCase // switch cases in encoding order
	Const     *Constant    // ldc family, bipush, sipush
	Member    *MemberRef   // field access and invocations
	Class     string       // new, checkcast, instanceof, anewarray, multianewarray
	Dims      int          // multianewarray
	ArrayType ArrayType    // newarray
}

// Len returns the encoded length of the instruction in bytes.
func (in *Instruction) Len() int {
	switch in.Op {
	case TableSwitch:
		return 1 + switchPadding(in.Offset) + 12 + 4*len(in.Cases)
	case LookupSwitch:
		return 1 + switchPadding(in.Offset) + 8 + 8*len(in.Cases)
	}
	n := in.Op.baseLength()
	if in.Wide {
		// wide prefix plus 16-bit operands
		if in.Op == Iinc {
			return 6
		}
		return 4
	}
	return n
}

func switchPadding(offset int) int {
	return (4 - (offset+1)%4) % 4
}

// Targets returns the jump targets of a branch, jump or switch instruction.
// A switch reports its default target first, then every case target.
func (in *Instruction) Targets() []int {
	switch in.Op.Flow() {
	case FlowGoto, FlowBranch, FlowJsr:
		return []int{in.Target}
	case FlowSwitch:
		targets := make([]int, 0, len(in.Cases)+1)
		targets = append(targets, in.Target)
		for _, c := range in.Cases {
			targets = append(targets, c.Target)
		}
		return targets
	}
	return nil
}

// checkOperands reports a missing operand of a field access, invocation,
// constant load or type instruction.
func (in *Instruction) checkOperands() error {
	switch in.Op {
	case GetStatic, PutStatic, GetField, PutField,
		InvokeVirtual, InvokeSpecial, InvokeStatic, InvokeInterface, InvokeDynamic:
		if in.Member == nil {
			return fmt.Errorf("missing member reference")
		}
	case Ldc, LdcW, Ldc2W:
		if in.Const == nil {
			return fmt.Errorf("missing constant")
		}
	case New, ANewArray, CheckCast, InstanceOf, MultiANewArray:
		if in.Class == "" {
			return fmt.Errorf("missing class")
		}
	case NewArray:
		if _, ok := arrayTypeDescriptors[in.ArrayType]; !ok {
			return fmt.Errorf("invalid array type %s", in.ArrayType)
		}
	}
	return nil
}

// LocalIndex returns the local slot the instruction reads or writes.
func (in *Instruction) LocalIndex() int {
	if idx, ok := in.Op.ImplicitIndex(); ok {
		return idx
	}
	return in.Index
}

func (in *Instruction) String() string {
	var b strings.Builder
	b.WriteString(in.Op.String())
	switch {
	case in.Op == Iinc:
		fmt.Fprintf(&b, " %d %d", in.Index, in.Increment)
	case in.Op == Ret, in.Op.IsLoad() || in.Op.IsStore():
		if _, ok := in.Op.ImplicitIndex(); !ok {
			fmt.Fprintf(&b, " %d", in.Index)
		}
	case in.Op.Flow() == FlowSwitch:
		for _, c := range in.Cases {
			fmt.Fprintf(&b, " %d:@%d", c.Key, c.Target)
		}
		fmt.Fprintf(&b, " default:@%d", in.Target)
	case in.Op.Flow() == FlowGoto, in.Op.Flow() == FlowBranch, in.Op.Flow() == FlowJsr:
		fmt.Fprintf(&b, " @%d", in.Target)
	case in.Member != nil:
		b.WriteByte(' ')
		b.WriteString(in.Member.String())
	case in.Const != nil:
		b.WriteByte(' ')
		b.WriteString(in.Const.String())
	case in.Op == MultiANewArray:
		fmt.Fprintf(&b, " %s %d", in.Class, in.Dims)
	case in.Class != "":
		b.WriteByte(' ')
		b.WriteString(in.Class)
	case in.Op == NewArray:
		b.WriteByte(' ')
		b.WriteString(in.ArrayType.String())
	}
	return b.String()
}
