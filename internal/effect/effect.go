// Package effect applies the stack and local variable effect of single
// instructions to an abstract frame, tracking which node produced each
// value.
package effect

import (
	"fmt"

	"github.com/715d/jflow/pkg/bytecode"
	"github.com/715d/jflow/pkg/cflow"
	"github.com/715d/jflow/pkg/frame"
	"github.com/715d/jflow/pkg/jtype"
)

// Options control how precisely values are typed.
type Options struct {
	// DeclaredLocals widens a null stored into a slot covered by the local
	// variable table to the declared type of that variable, so later null
	// tests on it are not decided statically.
	DeclaredLocals bool
}

// Visitor applies instruction effects for one method. It holds no per-path
// state and may be shared by all paths of the method.
type Visitor struct {
	method   *bytecode.Method
	resolver *jtype.Resolver
	opts     Options
}

func New(m *bytecode.Method, resolver *jtype.Resolver, opts Options) *Visitor {
	return &Visitor{method: m, resolver: resolver, opts: opts}
}

type entry struct {
	t   *jtype.Type
	src int
}

func pop(f *frame.Frame) entry {
	t, src := f.Pop()
	return entry{t, src}
}

func push(f *frame.Frame, entries ...entry) {
	for _, e := range entries {
		f.Push(e.t, e.src)
	}
}

// Apply updates f with the effect of executing node n. Values an
// instruction creates are attributed to n; values it only moves keep their
// producer. Malformed stack use panics with *frame.Fault.
func (v *Visitor) Apply(n *cflow.Node, f *frame.Frame) error {
	in := n.Instr
	self := n.Index
	op := in.Op
	switch {
	case op == bytecode.Nop, op == bytecode.Goto, op == bytecode.GotoW, op == bytecode.Ret,
		op == bytecode.Return:

	case op == bytecode.AConstNull:
		f.Push(jtype.NullType, self)
	case op >= bytecode.IconstM1 && op <= bytecode.Iconst5, op == bytecode.Bipush, op == bytecode.Sipush:
		f.Push(jtype.IntType, self)
	case op == bytecode.Lconst0 || op == bytecode.Lconst1:
		f.Push(jtype.LongType, self)
	case op >= bytecode.Fconst0 && op <= bytecode.Fconst2:
		f.Push(jtype.FloatType, self)
	case op == bytecode.Dconst0 || op == bytecode.Dconst1:
		f.Push(jtype.DoubleType, self)
	case op == bytecode.Ldc || op == bytecode.LdcW || op == bytecode.Ldc2W:
		t, err := constantType(in.Const)
		if err != nil {
			return fmt.Errorf("node %d: %w", self, err)
		}
		f.Push(t, self)

	case op.IsLoad():
		v.load(in, f)
	case op.IsStore():
		v.store(n, f)
	case op == bytecode.Iinc:
		f.SetLocal(in.Index, jtype.IntType, self)

	case op >= bytecode.Iaload && op <= bytecode.Saload:
		f.Pop()
		array := pop(f)
		f.Push(v.elementType(op, array.t), self)
	case op >= bytecode.Iastore && op <= bytecode.Sastore:
		f.PopN(3)

	case op >= bytecode.Pop && op <= bytecode.Swap:
		shuffle(op, f)

	case op >= bytecode.Iadd && op <= bytecode.Lxor:
		arithmetic(op, self, f)
	case op >= bytecode.I2l && op <= bytecode.I2s:
		f.Pop()
		f.Push(conversionResult(op), self)
	case op >= bytecode.Lcmp && op <= bytecode.Dcmpg:
		f.PopN(2)
		f.Push(jtype.IntType, self)

	case op >= bytecode.Ifeq && op <= bytecode.Ifle, op == bytecode.IfNull, op == bytecode.IfNonNull:
		f.Pop()
	case op >= bytecode.IfIcmpeq && op <= bytecode.IfAcmpne:
		f.PopN(2)
	case op == bytecode.Jsr || op == bytecode.JsrW:
		f.Push(jtype.ReturnAddressOf(self+1), self)
	case op == bytecode.TableSwitch || op == bytecode.LookupSwitch:
		f.Pop()
	case op >= bytecode.Ireturn && op <= bytecode.Areturn:
		f.Pop()

	case op == bytecode.GetStatic:
		t, err := v.fieldType(in)
		if err != nil {
			return err
		}
		f.Push(t, self)
	case op == bytecode.PutStatic:
		f.Pop()
	case op == bytecode.GetField:
		t, err := v.fieldType(in)
		if err != nil {
			return err
		}
		f.Pop()
		f.Push(t, self)
	case op == bytecode.PutField:
		f.PopN(2)
	case op >= bytecode.InvokeVirtual && op <= bytecode.InvokeDynamic:
		return v.invoke(n, f)

	case op == bytecode.New:
		f.Push(jtype.UninitializedOf(in.Class, self), self)
	case op == bytecode.NewArray:
		f.Pop()
		f.Push(jtype.NonNullObject(in.ArrayType.Descriptor()), self)
	case op == bytecode.ANewArray:
		f.Pop()
		f.Push(jtype.NonNullObject(arrayOf(in.Class)), self)
	case op == bytecode.MultiANewArray:
		f.PopN(in.Dims)
		f.Push(jtype.NonNullObject(in.Class), self)
	case op == bytecode.ArrayLength:
		f.Pop()
		f.Push(jtype.IntType, self)
	case op == bytecode.AThrow:
		thrown := pop(f)
		f.ClearStack()
		if thrown.t.IsNull() {
			thrown.t = jtype.NonNullObject("java/lang/NullPointerException")
		}
		f.Push(thrown.t, self)
	case op == bytecode.CheckCast:
		// The cast value keeps its producer: a non-null fact holds only
		// where the value was created.
		value := pop(f)
		switch {
		case value.t.IsNull():
			push(f, value)
		case value.t.IsNonNull():
			f.Push(jtype.NonNullObject(in.Class), value.src)
		default:
			f.Push(jtype.Object(in.Class), value.src)
		}
	case op == bytecode.InstanceOf:
		f.Pop()
		f.Push(jtype.IntType, self)
	case op == bytecode.MonitorEnter || op == bytecode.MonitorExit:
		f.Pop()

	default:
		frame.Faultf("node %d: unsupported opcode %s", self, op)
	}
	return nil
}

func (v *Visitor) load(in *bytecode.Instruction, f *frame.Frame) {
	idx := in.LocalIndex()
	t, src := f.Local(idx), f.LocalProducer(idx)
	switch in.Op {
	case bytecode.Iload, bytecode.Iload0, bytecode.Iload1, bytecode.Iload2, bytecode.Iload3:
		t = jtype.IntType
	case bytecode.Lload, bytecode.Lload0, bytecode.Lload1, bytecode.Lload2, bytecode.Lload3:
		t = jtype.LongType
	case bytecode.Fload, bytecode.Fload0, bytecode.Fload1, bytecode.Fload2, bytecode.Fload3:
		t = jtype.FloatType
	case bytecode.Dload, bytecode.Dload0, bytecode.Dload1, bytecode.Dload2, bytecode.Dload3:
		t = jtype.DoubleType
	default:
		if !t.IsReference() && t.Kind() != jtype.ReturnAddress {
			t = jtype.Object(jtype.ObjectClass)
		}
	}
	f.Push(t, src)
}

func (v *Visitor) store(n *cflow.Node, f *frame.Frame) {
	in := n.Instr
	idx := in.LocalIndex()
	value := pop(f)
	if value.t.IsNull() && v.opts.DeclaredLocals {
		next := in.Offset + in.Len()
		if lv, ok := v.method.LocalAt(idx, next); ok {
			if declared, err := v.resolver.Field(lv.Descriptor); err == nil && declared.IsReference() {
				value.t = declared
			}
		}
	}
	if idx > 0 && f.Local(idx-1).Size() == 2 {
		f.SetLocal(idx-1, jtype.TopType, n.Index)
	}
	f.SetLocal(idx, value.t, value.src)
	if value.t.Size() == 2 {
		f.SetLocal(idx+1, jtype.TopType, n.Index)
	}
}

func (v *Visitor) elementType(op bytecode.Opcode, array *jtype.Type) *jtype.Type {
	switch op {
	case bytecode.Laload:
		return jtype.LongType
	case bytecode.Faload:
		return jtype.FloatType
	case bytecode.Daload:
		return jtype.DoubleType
	case bytecode.Aaload:
		if array.IsNull() {
			return jtype.NullType
		}
		elem := v.resolver.Element(array)
		if !elem.IsReference() {
			return jtype.Object(jtype.ObjectClass)
		}
		return elem
	}
	return jtype.IntType
}

func (v *Visitor) fieldType(in *bytecode.Instruction) (*jtype.Type, error) {
	t, err := v.resolver.Field(in.Member.Descriptor)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", in, err)
	}
	return t, nil
}

func (v *Visitor) invoke(n *cflow.Node, f *frame.Frame) error {
	in := n.Instr
	sig, err := v.resolver.Method(in.Member.Descriptor)
	if err != nil {
		return fmt.Errorf("%s: %w", in, err)
	}
	f.PopN(len(sig.Params))
	if in.Op != bytecode.InvokeStatic && in.Op != bytecode.InvokeDynamic {
		receiver, _ := f.Pop()
		if in.Op == bytecode.InvokeSpecial && in.Member.Name == bytecode.ConstructorName &&
			receiver.Kind() == jtype.Uninitialized {
			f.Replace(receiver, receiver.Initialized())
		}
	}
	if sig.Return != nil {
		f.Push(sig.Return, n.Index)
	}
	return nil
}

// shuffle applies pop, pop2, the dup family and swap. Long and double
// values are single category-2 entries.
func shuffle(op bytecode.Opcode, f *frame.Frame) {
	cat2 := func(depth int) bool { return f.Peek(depth).Size() == 2 }
	switch op {
	case bytecode.Pop:
		f.Pop()
	case bytecode.Pop2:
		if cat2(0) {
			f.Pop()
		} else {
			f.PopN(2)
		}
	case bytecode.Dup:
		v1 := pop(f)
		push(f, v1, v1)
	case bytecode.DupX1:
		v1, v2 := pop(f), pop(f)
		push(f, v1, v2, v1)
	case bytecode.DupX2:
		v1 := pop(f)
		if cat2(0) {
			v2 := pop(f)
			push(f, v1, v2, v1)
			return
		}
		v2, v3 := pop(f), pop(f)
		push(f, v1, v3, v2, v1)
	case bytecode.Dup2:
		if cat2(0) {
			v1 := pop(f)
			push(f, v1, v1)
			return
		}
		v1, v2 := pop(f), pop(f)
		push(f, v2, v1, v2, v1)
	case bytecode.Dup2X1:
		if cat2(0) {
			v1, v2 := pop(f), pop(f)
			push(f, v1, v2, v1)
			return
		}
		v1, v2, v3 := pop(f), pop(f), pop(f)
		push(f, v2, v1, v3, v2, v1)
	case bytecode.Dup2X2:
		if cat2(0) {
			v1 := pop(f)
			if cat2(0) {
				v2 := pop(f)
				push(f, v1, v2, v1)
				return
			}
			v2, v3 := pop(f), pop(f)
			push(f, v1, v3, v2, v1)
			return
		}
		v1, v2 := pop(f), pop(f)
		if cat2(0) {
			v3 := pop(f)
			push(f, v2, v1, v3, v2, v1)
			return
		}
		v3, v4 := pop(f), pop(f)
		push(f, v2, v1, v4, v3, v2, v1)
	case bytecode.Swap:
		v1, v2 := pop(f), pop(f)
		push(f, v1, v2)
	}
}

// arithmetic applies the binary and unary operators from iadd to lxor.
func arithmetic(op bytecode.Opcode, self int, f *frame.Frame) {
	var result *jtype.Type
	switch {
	case op >= bytecode.Ineg && op <= bytecode.Dneg:
		result = numericType(int(op - bytecode.Ineg))
		f.Pop()
	case op >= bytecode.Ishl && op <= bytecode.Lushr:
		// shift distance is always an int
		result = jtype.IntType
		if (op-bytecode.Ishl)%2 == 1 {
			result = jtype.LongType
		}
		f.PopN(2)
	case op >= bytecode.Iand && op <= bytecode.Lxor:
		result = jtype.IntType
		if (op-bytecode.Iand)%2 == 1 {
			result = jtype.LongType
		}
		f.PopN(2)
	default:
		// iadd through drem cycle int, long, float, double
		result = numericType(int(op-bytecode.Iadd) % 4)
		f.PopN(2)
	}
	f.Push(result, self)
}

func numericType(i int) *jtype.Type {
	return [...]*jtype.Type{jtype.IntType, jtype.LongType, jtype.FloatType, jtype.DoubleType}[i]
}

func conversionResult(op bytecode.Opcode) *jtype.Type {
	switch op {
	case bytecode.I2l, bytecode.F2l, bytecode.D2l:
		return jtype.LongType
	case bytecode.I2f, bytecode.L2f, bytecode.D2f:
		return jtype.FloatType
	case bytecode.I2d, bytecode.L2d, bytecode.F2d:
		return jtype.DoubleType
	}
	return jtype.IntType
}

func constantType(c *bytecode.Constant) (*jtype.Type, error) {
	if c == nil {
		return nil, fmt.Errorf("ldc without constant")
	}
	switch c.Kind {
	case bytecode.ConstInt:
		return jtype.IntType, nil
	case bytecode.ConstLong:
		return jtype.LongType, nil
	case bytecode.ConstFloat:
		return jtype.FloatType, nil
	case bytecode.ConstDouble:
		return jtype.DoubleType, nil
	case bytecode.ConstString:
		return jtype.NonNullObject(jtype.StringClass), nil
	case bytecode.ConstClass:
		return jtype.NonNullObject(jtype.ClassClass), nil
	case bytecode.ConstMethodType:
		return jtype.NonNullObject(jtype.MethodTypeClass), nil
	case bytecode.ConstMethodHandle:
		return jtype.NonNullObject(jtype.MethodHandleClass), nil
	}
	return nil, fmt.Errorf("unknown constant kind %d", c.Kind)
}

func arrayOf(class string) string {
	if len(class) > 0 && class[0] == '[' {
		return "[" + class
	}
	return "[L" + class + ";"
}
