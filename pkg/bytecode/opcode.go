package bytecode

import "strconv"

// Flow classifies how an instruction transfers control.
type Flow uint8

const (
	FlowNext   Flow = iota // falls through to the next instruction
	FlowGoto               // unconditional jump
	FlowBranch             // conditional jump: fall-through or target
	FlowSwitch             // multi-way jump
	FlowJsr                // subroutine call
	FlowRet                // subroutine return
	FlowReturn             // method return
	FlowThrow              // athrow
)

func (op Opcode) String() string {
	if int(op) < len(opcodeNames) {
		return opcodeNames[op]
	}
	return "opcode(" + strconv.Itoa(int(op)) + ")"
}

// Valid reports whether op is a defined JVM opcode.
func (op Opcode) Valid() bool { return int(op) < len(opcodeNames) }

// Flow returns the control transfer class of op.
func (op Opcode) Flow() Flow {
	switch {
	case op == Goto || op == GotoW:
		return FlowGoto
	case op >= Ifeq && op <= IfAcmpne, op == IfNull, op == IfNonNull:
		return FlowBranch
	case op == TableSwitch || op == LookupSwitch:
		return FlowSwitch
	case op == Jsr || op == JsrW:
		return FlowJsr
	case op == Ret:
		return FlowRet
	case op >= Ireturn && op <= Return:
		return FlowReturn
	case op == AThrow:
		return FlowThrow
	}
	return FlowNext
}

// Throws reports whether executing op may raise an exception and thus
// transfer control to a protecting handler.
func (op Opcode) Throws() bool {
	switch {
	case op >= Iaload && op <= Saload, op >= Iastore && op <= Sastore:
		return true
	case op == Idiv, op == Ldiv, op == Irem, op == Lrem:
		return true
	case op == Ldc, op == LdcW:
		return true
	case op >= Ireturn && op <= Return:
		return true
	case op >= GetStatic && op <= MonitorExit:
		// field access, invocations, object creation, arraylength, athrow,
		// casts and monitors
		return true
	case op == MultiANewArray:
		return true
	}
	return false
}

// ImplicitIndex returns the local variable slot encoded in the short forms
// such as aload_0 and istore_3.
func (op Opcode) ImplicitIndex() (int, bool) {
	switch {
	case op >= Iload0 && op <= Aload3:
		return int(op-Iload0) % 4, true
	case op >= Istore0 && op <= Astore3:
		return int(op-Istore0) % 4, true
	}
	return 0, false
}

// IsLoad reports whether op pushes a local variable.
func (op Opcode) IsLoad() bool {
	return op >= Iload && op <= Aload3
}

// IsStore reports whether op pops into a local variable.
func (op Opcode) IsStore() bool {
	return op >= Istore && op <= Astore3
}

// baseLength returns the encoded length of op without a wide prefix, or 0
// for the variable-length switches.
func (op Opcode) baseLength() int {
	switch op {
	case Bipush, Ldc, Iload, Lload, Fload, Dload, Aload,
		Istore, Lstore, Fstore, Dstore, Astore, Ret, NewArray:
		return 2
	case Sipush, LdcW, Ldc2W, Iinc, GetStatic, PutStatic, GetField, PutField,
		InvokeVirtual, InvokeSpecial, InvokeStatic, New, ANewArray, CheckCast, InstanceOf,
		Goto, Jsr, IfNull, IfNonNull:
		return 3
	case MultiANewArray:
		return 4
	case InvokeInterface, InvokeDynamic, GotoW, JsrW:
		return 5
	case TableSwitch, LookupSwitch:
		return 0
	}
	if op >= Ifeq && op <= IfAcmpne {
		return 3
	}
	return 1
}

var opcodesByName = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodeNames))
	for i, name := range opcodeNames {
		m[name] = Opcode(i)
	}
	return m
}()

// Lookup returns the opcode with the given mnemonic.
func Lookup(name string) (Opcode, bool) {
	op, ok := opcodesByName[name]
	return op, ok
}
