package bytecode

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// Code is an assembled method body.
type Code struct {
	Instructions []Instruction
	Handlers     []Handler
	Lines        []LineNumber
	Locals       []LocalVariable
	MaxStack     int
	MaxLocals    int
}

// Compile patterns once at package initialization.
var (
	// Label definition, optionally followed by an instruction: "L1: aload_0".
	labelPattern = regexp.MustCompile(`^([A-Za-z_$][\w$]*):\s*(.*)$`)

	// Member reference of a method: "java/lang/Object/<init>()V".
	methodPattern = regexp.MustCompile(`^(?:(.+)/)?([^/(]+)(\(.*\).+)$`)

	// .catch java/lang/Exception from L0 to L1 using L2
	catchPattern = regexp.MustCompile(`^\.catch\s+(\S+)\s+from\s+(\S+)\s+to\s+(\S+)\s+using\s+(\S+)$`)

	// .var 1 is name Ljava/lang/String; from L0 to L1
	varPattern = regexp.MustCompile(`^\.var\s+(\d+)\s+is\s+(\S+)\s+(\S+)\s+from\s+(\S+)\s+to\s+(\S+)$`)
)

type fixup struct {
	instr int
	kase  int // -1 for Instruction.Target
	label string
	line  int
}

type labelRef struct {
	label string
	line  int
}

type pendingHandler struct {
	catchType        string
	from, to, target labelRef
}

type pendingVar struct {
	slot       int
	name, desc string
	from, to   labelRef
}

type assembler struct {
	code     Code
	labels   map[string]int
	fixups   []fixup
	handlers []pendingHandler
	vars     []pendingVar
	offset   int
	used     int
	limitLoc bool
}

// AssembleString assembles a method body written in the text syntax
// accepted by Assemble.
func AssembleString(src string) (*Code, error) {
	return Assemble(strings.NewReader(src))
}

// Assemble reads a method body, one instruction per line, in a Jasmin-like
// syntax:
//
//	.limit locals 2
//	.line 10
//	L0: aload_1
//	    getfield com/example/Node/next Lcom/example/Node;
//	    ifnull L1
//	    invokevirtual com/example/Node/visit()V
//	L1: return
//	.catch java/lang/Exception from L0 to L1 using L1
//	.var 1 is node Lcom/example/Node; from L0 to L1
//
// Comments start with '//' or with ';' at the start of a word. A label on its own line names the offset
// of the next instruction, or the end of the code.
func Assemble(r io.Reader) (*Code, error) {
	a := &assembler{labels: make(map[string]int)}
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if err := a.line(scanner.Text(), lineNo); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if err := a.resolve(); err != nil {
		return nil, err
	}
	if !a.limitLoc {
		a.code.MaxLocals = a.used
	}
	return &a.code, nil
}

func (a *assembler) line(text string, lineNo int) error {
	text = strings.TrimSpace(stripComment(text))
	for text != "" {
		m := labelPattern.FindStringSubmatch(text)
		if m == nil {
			break
		}
		if _, dup := a.labels[m[1]]; dup {
			return fmt.Errorf("duplicate label %q", m[1])
		}
		a.labels[m[1]] = a.offset
		text = strings.TrimSpace(m[2])
	}
	switch {
	case text == "":
		return nil
	case strings.HasPrefix(text, "."):
		return a.directive(text, lineNo)
	}
	return a.instruction(text, lineNo)
}

func (a *assembler) directive(text string, lineNo int) error {
	fields := strings.Fields(text)
	switch fields[0] {
	case ".line":
		if len(fields) != 2 {
			return fmt.Errorf(".line: want 1 operand, got %d", len(fields)-1)
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil {
			return fmt.Errorf(".line: %w", err)
		}
		a.code.Lines = append(a.code.Lines, LineNumber{Start: a.offset, Line: n})
	case ".limit":
		if len(fields) != 3 {
			return fmt.Errorf(".limit: want 2 operands, got %d", len(fields)-1)
		}
		n, err := strconv.Atoi(fields[2])
		if err != nil {
			return fmt.Errorf(".limit: %w", err)
		}
		switch fields[1] {
		case "stack":
			a.code.MaxStack = n
		case "locals":
			a.code.MaxLocals = n
			a.limitLoc = true
		default:
			return fmt.Errorf(".limit: unknown limit %q", fields[1])
		}
	case ".catch":
		m := catchPattern.FindStringSubmatch(text)
		if m == nil {
			return fmt.Errorf("malformed .catch")
		}
		catchType := m[1]
		if catchType == "all" {
			catchType = ""
		}
		a.handlers = append(a.handlers, pendingHandler{
			catchType: catchType,
			from:      labelRef{m[2], lineNo},
			to:        labelRef{m[3], lineNo},
			target:    labelRef{m[4], lineNo},
		})
	case ".var":
		m := varPattern.FindStringSubmatch(text)
		if m == nil {
			return fmt.Errorf("malformed .var")
		}
		slot, _ := strconv.Atoi(m[1])
		a.vars = append(a.vars, pendingVar{
			slot: slot,
			name: m[2],
			desc: m[3],
			from: labelRef{m[4], lineNo},
			to:   labelRef{m[5], lineNo},
		})
		size := 1
		if m[3] == "J" || m[3] == "D" {
			size = 2
		}
		a.useLocal(slot, size)
	default:
		return fmt.Errorf("unknown directive %q", fields[0])
	}
	return nil
}

func (a *assembler) instruction(text string, lineNo int) error {
	mnemonic, rest := text, ""
	if i := strings.IndexAny(text, " \t"); i >= 0 {
		mnemonic, rest = text[:i], strings.TrimSpace(text[i:])
	}
	op, ok := Lookup(mnemonic)
	if !ok || op == Wide {
		return fmt.Errorf("unknown instruction %q", mnemonic)
	}
	in := Instruction{Offset: a.offset, Op: op}
	idx := len(a.code.Instructions)
	args := strings.Fields(rest)

	want := func(n int) error {
		if len(args) != n {
			return fmt.Errorf("%s: want %d operands, got %d", op, n, len(args))
		}
		return nil
	}

	switch {
	case op == Ldc || op == LdcW || op == Ldc2W:
		c, err := parseConstant(op, rest)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		in.Const = c

	case op == Bipush || op == Sipush:
		if err := want(1); err != nil {
			return err
		}
		n, err := strconv.ParseInt(args[0], 10, 16)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		in.Const = &Constant{Kind: ConstInt, Value: strconv.FormatInt(n, 10)}

	case op == Iinc:
		if err := want(2); err != nil {
			return err
		}
		slot, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		inc, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		in.Index, in.Increment = slot, inc
		in.Wide = slot > 0xff || inc < -128 || inc > 127
		a.useLocal(slot, 1)

	case op.IsLoad() || op.IsStore() || op == Ret:
		size := localSize(op)
		if implicit, ok := op.ImplicitIndex(); ok {
			if err := want(0); err != nil {
				return err
			}
			a.useLocal(implicit, size)
			break
		}
		if err := want(1); err != nil {
			return err
		}
		slot, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		in.Index = slot
		in.Wide = slot > 0xff
		a.useLocal(slot, size)

	case op.Flow() == FlowGoto || op.Flow() == FlowBranch || op.Flow() == FlowJsr:
		if err := want(1); err != nil {
			return err
		}
		a.fixups = append(a.fixups, fixup{instr: idx, kase: -1, label: args[0], line: lineNo})

	case op == TableSwitch || op == LookupSwitch:
		if err := a.switchOperands(&in, idx, args, lineNo); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

	case op == GetStatic || op == PutStatic || op == GetField || op == PutField:
		if err := want(2); err != nil {
			return err
		}
		slash := strings.LastIndexByte(args[0], '/')
		if slash <= 0 || slash == len(args[0])-1 {
			return fmt.Errorf("%s: malformed field %q", op, args[0])
		}
		in.Member = &MemberRef{Owner: args[0][:slash], Name: args[0][slash+1:], Descriptor: args[1]}

	case op == InvokeVirtual || op == InvokeSpecial || op == InvokeStatic ||
		op == InvokeInterface || op == InvokeDynamic:
		if len(args) == 0 || len(args) > 2 || (len(args) == 2 && op != InvokeInterface) {
			return fmt.Errorf("%s: malformed operands %q", op, rest)
		}
		m := methodPattern.FindStringSubmatch(args[0])
		if m == nil || (m[1] == "") != (op == InvokeDynamic) {
			return fmt.Errorf("%s: malformed method %q", op, args[0])
		}
		in.Member = &MemberRef{Owner: m[1], Name: m[2], Descriptor: m[3]}

	case op == New || op == ANewArray || op == CheckCast || op == InstanceOf:
		if err := want(1); err != nil {
			return err
		}
		in.Class = args[0]

	case op == MultiANewArray:
		if err := want(2); err != nil {
			return err
		}
		dims, err := strconv.Atoi(args[1])
		if err != nil || dims < 1 || dims > strings.Count(args[0], "[") {
			return fmt.Errorf("%s: invalid dimensions %q", op, args[1])
		}
		in.Class, in.Dims = args[0], dims

	case op == NewArray:
		if err := want(1); err != nil {
			return err
		}
		at, ok := arrayTypeByName(args[0])
		if !ok {
			return fmt.Errorf("%s: unknown element type %q", op, args[0])
		}
		in.ArrayType = at

	default:
		if err := want(0); err != nil {
			return err
		}
	}

	a.code.Instructions = append(a.code.Instructions, in)
	a.offset += in.Len()
	return nil
}

func (a *assembler) switchOperands(in *Instruction, idx int, args []string, lineNo int) error {
	var low int64
	if in.Op == TableSwitch {
		if len(args) == 0 {
			return fmt.Errorf("missing low key")
		}
		var err error
		low, err = strconv.ParseInt(args[0], 10, 32)
		if err != nil {
			return err
		}
		args = args[1:]
	}
	if len(args) < 2 || args[len(args)-2] != "default" {
		return fmt.Errorf("missing default target")
	}
	a.fixups = append(a.fixups, fixup{instr: idx, kase: -1, label: args[len(args)-1], line: lineNo})
	for i, arg := range args[:len(args)-2] {
		key, label := low+int64(i), arg
		if in.Op == LookupSwitch {
			k, l, ok := strings.Cut(arg, ":")
			if !ok {
				return fmt.Errorf("malformed case %q", arg)
			}
			var err error
			key, err = strconv.ParseInt(k, 10, 32)
			if err != nil {
				return err
			}
			label = l
		}
		in.Cases = append(in.Cases, SwitchCase{Key: int32(key)})
		a.fixups = append(a.fixups, fixup{instr: idx, kase: i, label: label, line: lineNo})
	}
	return nil
}

func (a *assembler) resolve() error {
	lookup := func(ref labelRef) (int, error) {
		off, ok := a.labels[ref.label]
		if !ok {
			return 0, fmt.Errorf("line %d: undefined label %q", ref.line, ref.label)
		}
		return off, nil
	}
	for _, f := range a.fixups {
		off, err := lookup(labelRef{f.label, f.line})
		if err != nil {
			return err
		}
		in := &a.code.Instructions[f.instr]
		if f.kase < 0 {
			in.Target = off
		} else {
			in.Cases[f.kase].Target = off
		}
	}
	for _, h := range a.handlers {
		start, err := lookup(h.from)
		if err != nil {
			return err
		}
		end, err := lookup(h.to)
		if err != nil {
			return err
		}
		target, err := lookup(h.target)
		if err != nil {
			return err
		}
		a.code.Handlers = append(a.code.Handlers, Handler{Start: start, End: end, Handler: target, CatchType: h.catchType})
	}
	for _, v := range a.vars {
		start, err := lookup(v.from)
		if err != nil {
			return err
		}
		end, err := lookup(v.to)
		if err != nil {
			return err
		}
		a.code.Locals = append(a.code.Locals, LocalVariable{
			Slot: v.slot, Name: v.name, Descriptor: v.desc, Start: start, Length: end - start,
		})
	}
	return nil
}

func (a *assembler) useLocal(slot, size int) {
	a.used = max(a.used, slot+size)
}

// localSize returns the number of slots a load or store of op touches.
func localSize(op Opcode) int {
	switch op {
	case Lload, Dload, Lstore, Dstore,
		Lload0, Lload1, Lload2, Lload3, Dload0, Dload1, Dload2, Dload3,
		Lstore0, Lstore1, Lstore2, Lstore3, Dstore0, Dstore1, Dstore2, Dstore3:
		return 2
	}
	return 1
}

func arrayTypeByName(name string) (ArrayType, bool) {
	for at, n := range arrayTypeNames {
		if n == name {
			return at, true
		}
	}
	return 0, false
}

// parseConstant parses an ldc operand: a quoted string, "class X",
// "methodtype (..)V", "methodhandle ..." or a number. A number containing a
// '.' or ending in 'f'/'d' is floating point; ldc2_w loads longs and doubles.
func parseConstant(op Opcode, s string) (*Constant, error) {
	if s == "" {
		return nil, fmt.Errorf("missing constant")
	}
	if strings.HasPrefix(s, `"`) {
		if op == Ldc2W {
			return nil, fmt.Errorf("string constant needs ldc")
		}
		v, err := strconv.Unquote(s)
		if err != nil {
			return nil, fmt.Errorf("string constant %s: %w", s, err)
		}
		return &Constant{Kind: ConstString, Value: v}, nil
	}
	if kind, arg, ok := strings.Cut(s, " "); ok {
		if op == Ldc2W {
			return nil, fmt.Errorf("%s constant needs ldc", kind)
		}
		arg = strings.TrimSpace(arg)
		switch kind {
		case "class":
			return &Constant{Kind: ConstClass, Value: arg}, nil
		case "methodtype":
			return &Constant{Kind: ConstMethodType, Value: arg}, nil
		case "methodhandle":
			return &Constant{Kind: ConstMethodHandle, Value: arg}, nil
		}
		return nil, fmt.Errorf("unknown constant %q", s)
	}

	lower := strings.ToLower(s)
	hex := strings.HasPrefix(strings.TrimPrefix(lower, "-"), "0x")
	floating := !hex && (strings.ContainsAny(lower, ".e") ||
		strings.HasSuffix(lower, "f") || strings.HasSuffix(lower, "d"))
	if op == Ldc2W {
		if floating {
			v := strings.TrimSuffix(lower, "d")
			if _, err := strconv.ParseFloat(v, 64); err != nil {
				return nil, err
			}
			return &Constant{Kind: ConstDouble, Value: v}, nil
		}
		v := strings.TrimSuffix(lower, "l")
		if _, err := strconv.ParseInt(v, 0, 64); err != nil {
			return nil, err
		}
		return &Constant{Kind: ConstLong, Value: v}, nil
	}
	if floating {
		v := strings.TrimSuffix(lower, "f")
		if _, err := strconv.ParseFloat(v, 32); err != nil {
			return nil, err
		}
		return &Constant{Kind: ConstFloat, Value: v}, nil
	}
	if _, err := strconv.ParseInt(lower, 0, 32); err != nil {
		return nil, err
	}
	return &Constant{Kind: ConstInt, Value: lower}, nil
}

// stripComment removes a trailing '//' comment, or a ';' comment starting a
// word, outside of string literals. Descriptors end in ';' too.
func stripComment(line string) string {
	inString := false
	for i := 0; i < len(line); i++ {
		switch c := line[i]; {
		case c == '\\' && inString:
			i++
		case c == '"':
			inString = !inString
		case inString:
		case c == ';' && (i == 0 || line[i-1] == ' ' || line[i-1] == '\t'):
			return line[:i]
		case c == '/' && i+1 < len(line) && line[i+1] == '/':
			return line[:i]
		}
	}
	return line
}
