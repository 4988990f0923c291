package bytecode

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/715d/jflow/pkg/jtype"
)

func TestAssemble_offsetsAndTables(t *testing.T) {
	src := `
.line 3
L0: aload_0                              ; receiver
    ifnull L1
    aload_0
    getfield a/B/c Ljava/lang/String;
    pop
// the switch pads to a 4-byte boundary
L1: iconst_0
    tableswitch 0 L2 L2 default L3
L2: iinc 300 1
L3: return
L4:
.catch all from L0 to L1 using L3
.var 0 is this La/B; from L0 to L4
`
	code, err := AssembleString(src)
	require.NoError(t, err)

	var offsets []int
	for _, in := range code.Instructions {
		offsets = append(offsets, in.Offset)
	}
	require.Equal(t, []int{0, 1, 4, 5, 8, 9, 10, 32, 38}, offsets)

	require.Equal(t, 9, code.Instructions[1].Target)
	require.Equal(t, &MemberRef{Owner: "a/B", Name: "c", Descriptor: "Ljava/lang/String;"}, code.Instructions[3].Member)

	sw := code.Instructions[6]
	require.Equal(t, 38, sw.Target)
	require.Equal(t, []SwitchCase{{Key: 0, Target: 32}, {Key: 1, Target: 32}}, sw.Cases)
	require.Equal(t, []int{38, 32, 32}, sw.Targets())

	require.True(t, code.Instructions[7].Wide)
	require.Equal(t, 6, code.Instructions[7].Len())

	require.Equal(t, []Handler{{Start: 0, End: 9, Handler: 38}}, code.Handlers)
	require.Equal(t, []LineNumber{{Start: 0, Line: 3}}, code.Lines)
	require.Equal(t, []LocalVariable{{Slot: 0, Name: "this", Descriptor: "La/B;", Start: 0, Length: 39}}, code.Locals)
	require.Equal(t, 301, code.MaxLocals)
}

func TestAssemble_operands(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want Instruction
	}{
		{
			name: "ldc_string_with_semicolon",
			src:  `ldc "a;b"`,
			want: Instruction{Op: Ldc, Const: &Constant{Kind: ConstString, Value: "a;b"}},
		},
		{
			name: "ldc_class",
			src:  `ldc class java/lang/String`,
			want: Instruction{Op: Ldc, Const: &Constant{Kind: ConstClass, Value: "java/lang/String"}},
		},
		{
			name: "ldc_float",
			src:  `ldc 1.5f`,
			want: Instruction{Op: Ldc, Const: &Constant{Kind: ConstFloat, Value: "1.5"}},
		},
		{
			name: "ldc2_w_long",
			src:  `ldc2_w 5L`,
			want: Instruction{Op: Ldc2W, Const: &Constant{Kind: ConstLong, Value: "5"}},
		},
		{
			name: "ldc2_w_double",
			src:  `ldc2_w 2.0`,
			want: Instruction{Op: Ldc2W, Const: &Constant{Kind: ConstDouble, Value: "2.0"}},
		},
		{
			name: "bipush",
			src:  `bipush -7`,
			want: Instruction{Op: Bipush, Const: &Constant{Kind: ConstInt, Value: "-7"}},
		},
		{
			name: "invokespecial_constructor",
			src:  `invokespecial java/lang/Object/<init>()V`,
			want: Instruction{Op: InvokeSpecial, Member: &MemberRef{Owner: "java/lang/Object", Name: "<init>", Descriptor: "()V"}},
		},
		{
			name: "invokevirtual_descriptor_with_slashes",
			src:  `invokevirtual java/io/PrintStream/println(Ljava/lang/String;)V`,
			want: Instruction{Op: InvokeVirtual, Member: &MemberRef{Owner: "java/io/PrintStream", Name: "println", Descriptor: "(Ljava/lang/String;)V"}},
		},
		{
			name: "invokeinterface_count",
			src:  `invokeinterface java/util/List/size()I 1`,
			want: Instruction{Op: InvokeInterface, Member: &MemberRef{Owner: "java/util/List", Name: "size", Descriptor: "()I"}},
		},
		{
			name: "invokedynamic",
			src:  `invokedynamic run()Ljava/lang/Runnable;`,
			want: Instruction{Op: InvokeDynamic, Member: &MemberRef{Name: "run", Descriptor: "()Ljava/lang/Runnable;"}},
		},
		{
			name: "multianewarray",
			src:  `multianewarray [[I 2`,
			want: Instruction{Op: MultiANewArray, Class: "[[I", Dims: 2},
		},
		{
			name: "newarray",
			src:  `newarray long`,
			want: Instruction{Op: NewArray, ArrayType: TLong},
		},
		{
			name: "astore_wide",
			src:  `astore 256`,
			want: Instruction{Op: Astore, Index: 256, Wide: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, err := AssembleString(tt.src)
			require.NoError(t, err)
			require.Len(t, code.Instructions, 1)
			require.Equal(t, tt.want, code.Instructions[0])
		})
	}
}

func TestAssemble_errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{name: "unknown_instruction", src: "frobnicate"},
		{name: "wide_is_implicit", src: "wide"},
		{name: "undefined_label", src: "goto L9"},
		{name: "duplicate_label", src: "L0: nop\nL0: nop"},
		{name: "extra_operand", src: "aload_0 1"},
		{name: "missing_default", src: "L0: lookupswitch 1:L0"},
		{name: "bad_field", src: "getfield nofield I"},
		{name: "dynamic_with_owner", src: "invokedynamic a/B/run()V"},
		{name: "too_many_dims", src: "multianewarray [I 2"},
		{name: "bad_directive", src: ".frob 1"},
		{name: "bad_catch", src: ".catch all from L0"},
		{name: "string_ldc2_w", src: `ldc2_w "x"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := AssembleString(tt.src)
			require.Error(t, err)
		})
	}
}

func TestDecodeClass(t *testing.T) {
	data := []byte(`
class: com/example/Foo
methods:
  - name: <init>
    descriptor: ()V
    code: |
      aload_0
      invokespecial java/lang/Object/<init>()V
      return
  - name: sum
    descriptor: (JI)J
    static: true
    code: |
      lload_0
      iload_2
      i2l
      ladd
      lreturn
`)
	class, err := DecodeClass(data, jtype.NewResolver())
	require.NoError(t, err)
	require.Equal(t, "com/example/Foo", class.Name)
	require.Len(t, class.Methods, 2)

	ctor := class.Methods[0]
	require.True(t, ctor.IsConstructor())
	require.False(t, ctor.Static)
	require.Equal(t, 1, ctor.MaxLocals)
	require.Equal(t, "com/example/Foo.<init>()V", ctor.String())
	require.Equal(t, 5, ctor.CodeLength())

	sum := class.Methods[1]
	require.True(t, sum.Static)
	require.Equal(t, 3, sum.MaxLocals)

	_, err = DecodeClass([]byte("methods: []"), jtype.NewResolver())
	require.Error(t, err)
	_, err = DecodeClass([]byte("class: a/B\nmethods:\n  - name: m\n    descriptor: V\n    code: return\n"), jtype.NewResolver())
	require.Error(t, err)
}

func TestMethod_Validate(t *testing.T) {
	ret := Instruction{Offset: 9, Op: Return}
	tests := []struct {
		name  string
		code  []Instruction
		error string
	}{
		{name: "ok", code: []Instruction{{Offset: 0, Op: Nop}, ret}},
		{name: "no_code", error: "no code"},
		{name: "offsets", code: []Instruction{{Offset: 0, Op: Nop}, {Offset: 0, Op: Nop}, ret}, error: "not increasing"},
		{name: "field_without_member", code: []Instruction{{Offset: 0, Op: GetStatic}, ret}, error: "missing member reference"},
		{name: "invoke_without_member", code: []Instruction{{Offset: 0, Op: InvokeDynamic}, ret}, error: "missing member reference"},
		{name: "ldc_without_constant", code: []Instruction{{Offset: 0, Op: Ldc2W}, ret}, error: "missing constant"},
		{name: "checkcast_without_class", code: []Instruction{{Offset: 0, Op: CheckCast}, ret}, error: "missing class"},
		{name: "bad_array_type", code: []Instruction{{Offset: 0, Op: NewArray, ArrayType: 3}, ret}, error: "invalid array type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := (&Method{Class: "a/B", Name: "m", Descriptor: "()V", Code: tt.code}).Validate()
			if tt.error == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.error)
		})
	}
}

func TestMethod_lookups(t *testing.T) {
	m := &Method{
		Lines: []LineNumber{{Start: 10, Line: 7}, {Start: 0, Line: 5}},
		Locals: []LocalVariable{
			{Slot: 1, Name: "s", Descriptor: "Ljava/lang/String;", Start: 4, Length: 6},
		},
	}
	require.Equal(t, -1, (&Method{}).LineAt(3))
	require.Equal(t, 5, m.LineAt(3))
	require.Equal(t, 7, m.LineAt(12))
	require.Equal(t, []LineNumber{{Start: 0, Line: 5}, {Start: 10, Line: 7}}, m.SortedLines())

	v, ok := m.LocalAt(1, 9)
	require.True(t, ok)
	require.Equal(t, "s", v.Name)
	_, ok = m.LocalAt(1, 10)
	require.False(t, ok)
}

func TestOpcode(t *testing.T) {
	require.Equal(t, "aload_0", Aload0.String())
	require.Equal(t, "jsr_w", JsrW.String())
	op, ok := Lookup("invokeinterface")
	require.True(t, ok)
	require.Equal(t, InvokeInterface, op)

	require.Equal(t, FlowBranch, IfNull.Flow())
	require.Equal(t, FlowBranch, IfAcmpne.Flow())
	require.Equal(t, FlowGoto, GotoW.Flow())
	require.Equal(t, FlowReturn, Areturn.Flow())
	require.Equal(t, FlowThrow, AThrow.Flow())
	require.Equal(t, FlowNext, Iadd.Flow())

	require.True(t, GetField.Throws())
	require.True(t, Aaload.Throws())
	require.True(t, Idiv.Throws())
	require.False(t, Iadd.Throws())
	require.False(t, Ldc2W.Throws())

	idx, ok := Astore3.ImplicitIndex()
	require.True(t, ok)
	require.Equal(t, 3, idx)
	idx, ok = Dload2.ImplicitIndex()
	require.True(t, ok)
	require.Equal(t, 2, idx)
}
