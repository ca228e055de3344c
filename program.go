// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package flatjson

import (
	"fmt"
	"strings"

	"github.com/creachadair/mds/mapset"
	"go4.org/mem"
)

// An Opcode identifies one of the fixed-arity instructions understood by
// the decoder.
type Opcode byte

// Constants defining the valid Opcode values.
const (
	OpInvalid                Opcode = iota
	OpTopLevelArray                 // collect top-level values into the result array
	OpFillByteMaskedArray           // write a validity byte, then fill the next instruction
	OpFillIndexedOptionArray        // write a counter value or -1 for null, then fill the next instruction
	OpFillBoolean                   // write 1 (true) or 0 (false)
	OpFillInteger                   // write an integer value
	OpFillNumber                    // write a floating-point value
	OpFillString                    // write string bytes and a cumulative length offset
	OpFillEnumString                // write the index of a string within a fixed candidate set
	OpFillNullEnumString            // as OpFillEnumString, but null writes -1
	OpVarLengthList                 // fill a variable-length list, tracking cumulative offsets
	OpFixedLengthList               // fill a list of exactly N elements
	OpKeyTableHeader                // fill an object via the key table that follows
	OpKeyTableItem                  // key table entry: string index and jump target (not executed)
)

var opcodeStr = [...]string{
	OpInvalid:                "Invalid",
	OpTopLevelArray:          "TopLevelArray",
	OpFillByteMaskedArray:    "FillByteMaskedArray",
	OpFillIndexedOptionArray: "FillIndexedOptionArray",
	OpFillBoolean:            "FillBoolean",
	OpFillInteger:            "FillInteger",
	OpFillNumber:             "FillNumber",
	OpFillString:             "FillString",
	OpFillEnumString:         "FillEnumString",
	OpFillNullEnumString:     "FillNullEnumString",
	OpVarLengthList:          "VarLengthList",
	OpFixedLengthList:        "FixedLengthList",
	OpKeyTableHeader:         "KeyTableHeader",
	OpKeyTableItem:           "KeyTableItem",
}

func (o Opcode) String() string {
	if int(o) >= len(opcodeStr) {
		return opcodeStr[OpInvalid]
	}
	return opcodeStr[o]
}

// An Instruction is one step of a compiled program: an opcode and three
// integer operands whose meaning depends on the opcode.
type Instruction struct {
	Op               Opcode
	Arg1, Arg2, Arg3 int64
}

// A Dtype identifies the element type of an output buffer.
type Dtype byte

// Constants defining the valid Dtype values.
const (
	Int8 Dtype = iota
	Uint8
	Int64
	Float64
)

var dtypeStr = [...]string{
	Int8:    "int8",
	Uint8:   "uint8",
	Int64:   "int64",
	Float64: "float64",
}

func (d Dtype) String() string {
	if int(d) >= len(dtypeStr) {
		return "unknown"
	}
	return dtypeStr[d]
}

// Size reports the width of one element of d, in bytes.
func (d Dtype) Size() int {
	if d == Int8 || d == Uint8 {
		return 1
	}
	return 8
}

// ParseDtype returns the Dtype named by s.
func ParseDtype(s string) (Dtype, error) {
	for d, name := range dtypeStr {
		if s == name {
			return Dtype(d), nil
		}
	}
	return 0, fmt.Errorf("unknown dtype %q", s)
}

// pool reports which of the decoder's three buffer pools holds outputs
// of this dtype. Signed and unsigned bytes share the byte pool.
func (d Dtype) pool() int {
	switch d {
	case Int8, Uint8:
		return poolU8
	case Int64:
		return poolI64
	default:
		return poolF64
	}
}

// Buffer pool identifiers.
const (
	poolU8 = iota
	poolI64
	poolF64
	numPools
)

// An OutputSpec describes one named output of a program: its logical
// name, element type, and position within the buffer pool of its type.
type OutputSpec struct {
	Name  string
	Dtype Dtype
	Index int // position within the pool for this dtype

	// preload indicates the buffer begins with a single zero element, so
	// that cumulative offset writes have a base value.
	preload bool
}

// A Program is a compiled, immutable description of how to map a stream
// of JSON tokens onto a set of flat output buffers. Programs are
// produced by Assemble or AssembleJSON, typically from the output of an
// external schema compiler. A Program is read-only and may be shared
// freely between concurrent decoders.
type Program struct {
	ins   []Instruction
	chars []byte  // string table character blob
	soffs []int32 // string table offsets; string i is chars[soffs[i]:soffs[i+1]]

	outputs  []OutputSpec
	poolSize [numPools]int
	counters int  // number of counter registers
	maxDepth int  // call stack bound, computed during assembly
	strict   bool // unknown object keys are an error
}

// NumInstructions reports the number of instructions in the program.
func (p *Program) NumInstructions() int { return len(p.ins) }

// NumOutputs reports the number of named outputs the program defines.
func (p *Program) NumOutputs() int { return len(p.outputs) }

// OutputSpec returns the specification of output i.
// It panics if i is out of range.
func (p *Program) OutputSpec(i int) OutputSpec { return p.outputs[i] }

// MaxDepth reports the maximum instruction stack depth any input can
// reach under this program.
func (p *Program) MaxDepth() int { return p.maxDepth }

// StrictKeys reports whether unknown object keys are an error (true) or
// are skipped along with their values (false).
func (p *Program) StrictKeys() bool { return p.strict }

// numStrings reports the number of entries in the string table.
func (p *Program) numStrings() int { return len(p.soffs) - 1 }

// stringAt returns a read-only view of string table entry i.
func (p *Program) stringAt(i int64) mem.RO {
	return mem.B(p.chars[p.soffs[i]:p.soffs[i+1]])
}

// findEnum scans string table entries start..stop (exclusive) for the
// first exact match of key, returning its index relative to start, or -1
// if no entry matches.
func (p *Program) findEnum(key mem.RO, start, stop int64) int64 {
	for i := start; i < stop; i++ {
		if p.stringAt(i).Equal(key) {
			return i - start
		}
	}
	return -1
}

// findKey resolves an object key against the key table headed by the
// instruction at hpc. Each of the following window instructions carries
// a string index in Arg1 and a jump target in Arg2; the first entry
// whose string matches key yields its target, or -1 if none matches.
func (p *Program) findKey(key mem.RO, hpc int) int64 {
	window := p.ins[hpc].Arg1
	for i := hpc + 1; i <= hpc+int(window); i++ {
		if p.stringAt(p.ins[i].Arg1).Equal(key) {
			return p.ins[i].Arg2
		}
	}
	return -1
}

// Disassemble renders a human-readable listing of the program, one
// numbered instruction per line.
func (p *Program) Disassemble() string {
	var sb strings.Builder
	for i, in := range p.ins {
		fmt.Fprintf(&sb, "%3d %s", i, in.Op)
		switch in.Op {
		case OpFillByteMaskedArray, OpFillIndexedOptionArray, OpFillBoolean, OpFillInteger, OpFillNumber:
			fmt.Fprintf(&sb, " %s", p.outputRef(in.Op, in.Arg1))
		case OpFillString:
			fmt.Fprintf(&sb, " %s %s", p.outputName(poolI64, in.Arg1)+" int64", p.outputName(poolU8, in.Arg2)+" uint8")
		case OpFillEnumString, OpFillNullEnumString:
			fmt.Fprintf(&sb, " %s int64", p.outputName(poolI64, in.Arg1))
			for s := in.Arg2; s < in.Arg3; s++ {
				fmt.Fprintf(&sb, " %q", p.stringAt(s).StringCopy())
			}
		case OpVarLengthList:
			fmt.Fprintf(&sb, " %s int64", p.outputName(poolI64, in.Arg1))
		case OpFixedLengthList, OpKeyTableHeader:
			fmt.Fprintf(&sb, " %d", in.Arg1)
		case OpKeyTableItem:
			fmt.Fprintf(&sb, " %q :%d", p.stringAt(in.Arg1).StringCopy(), in.Arg2)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// outputRef formats the output operand of a single-buffer fill
// instruction, including its dtype name.
func (p *Program) outputRef(op Opcode, index int64) string {
	pool := poolI64
	switch op {
	case OpFillByteMaskedArray, OpFillBoolean:
		pool = poolU8
	case OpFillNumber:
		pool = poolF64
	}
	for _, o := range p.outputs {
		if o.Dtype.pool() == pool && int64(o.Index) == index {
			return o.Name + " " + o.Dtype.String()
		}
	}
	return fmt.Sprintf("#%d", index)
}

func (p *Program) outputName(pool int, index int64) string {
	for _, o := range p.outputs {
		if o.Dtype.pool() == pool && int64(o.Index) == index {
			return o.Name
		}
	}
	return fmt.Sprintf("#%d", index)
}

// isValueOp reports whether o can begin a value.
func isValueOp(o Opcode) bool {
	switch o {
	case OpFillByteMaskedArray, OpFillIndexedOptionArray, OpFillBoolean, OpFillInteger,
		OpFillNumber, OpFillString, OpFillEnumString, OpFillNullEnumString,
		OpVarLengthList, OpFixedLengthList, OpKeyTableHeader:
		return true
	}
	return false
}

// isScalarOp reports whether o fills exactly one scalar entry, and so may
// serve as the masked content of OpFillByteMaskedArray.
func isScalarOp(o Opcode) bool {
	switch o {
	case OpFillBoolean, OpFillInteger, OpFillNumber, OpFillString:
		return true
	}
	return false
}

// validate checks the structural invariants of a freshly built program
// and computes its maximum stack depth. It reports the first violation
// found.
func (p *Program) validate() error {
	if len(p.ins) == 0 {
		return fmt.Errorf("empty program")
	}
	if p.ins[0].Op != OpTopLevelArray {
		return fmt.Errorf("program must begin with TopLevelArray, not %v", p.ins[0].Op)
	}
	if len(p.soffs) == 0 || p.soffs[0] != 0 {
		return fmt.Errorf("invalid string table")
	}
	for i := 1; i < len(p.soffs); i++ {
		if p.soffs[i] < p.soffs[i-1] || int(p.soffs[i]) > len(p.chars) {
			return fmt.Errorf("string table offset %d out of order", i)
		}
	}

	names := mapset.New[string]()
	for i, o := range p.outputs {
		if names.Has(o.Name) {
			return fmt.Errorf("duplicate output name %q", o.Name)
		}
		names.Add(o.Name)
		if o.Index < 0 || o.Index >= p.poolSize[o.Dtype.pool()] {
			return fmt.Errorf("output %d: buffer index %d out of range", i, o.Index)
		}
	}

	ns := int64(p.numStrings())
	inTable := make([]bool, len(p.ins)) // instruction is a key table entry
	for i, in := range p.ins {
		switch in.Op {
		case OpKeyTableHeader:
			if in.Arg1 < 1 || i+int(in.Arg1) >= len(p.ins) {
				return fmt.Errorf("instruction %d: key table of %d entries out of range", i, in.Arg1)
			}
			keys := mapset.New[string]()
			for j := i + 1; j <= i+int(in.Arg1); j++ {
				item := p.ins[j]
				if item.Op != OpKeyTableItem {
					return fmt.Errorf("instruction %d: key table entry is %v", j, item.Op)
				}
				if item.Arg1 < 0 || item.Arg1 >= ns {
					return fmt.Errorf("instruction %d: string index %d out of range", j, item.Arg1)
				}
				key := p.stringAt(item.Arg1).StringCopy()
				if keys.Has(key) {
					return fmt.Errorf("instruction %d: duplicate key %q", j, key)
				}
				keys.Add(key)
				if item.Arg2 < 0 || item.Arg2 >= int64(len(p.ins)) || !isValueOp(p.ins[item.Arg2].Op) {
					return fmt.Errorf("instruction %d: jump target %d invalid", j, item.Arg2)
				}
				inTable[j] = true
			}
		case OpFillEnumString, OpFillNullEnumString:
			if in.Arg2 < 0 || in.Arg3 < in.Arg2 || in.Arg3 > ns {
				return fmt.Errorf("instruction %d: enum range %d..%d out of range", i, in.Arg2, in.Arg3)
			}
		case OpFillByteMaskedArray:
			if i+1 >= len(p.ins) || !isScalarOp(p.ins[i+1].Op) {
				return fmt.Errorf("instruction %d: masked content must be a scalar fill", i)
			}
		case OpTopLevelArray, OpFillIndexedOptionArray, OpVarLengthList, OpFixedLengthList:
			if i+1 >= len(p.ins) || !isValueOp(p.ins[i+1].Op) {
				return fmt.Errorf("instruction %d: %v has no content instruction", i, in.Op)
			}
		}
	}
	for i, in := range p.ins {
		if in.Op == OpKeyTableItem && !inTable[i] {
			return fmt.Errorf("instruction %d: KeyTableItem outside a key table", i)
		}
	}

	depth, err := p.stackDepth(0, make([]byte, len(p.ins)))
	if err != nil {
		return err
	}
	if p.maxDepth == 0 || p.maxDepth > depth {
		p.maxDepth = depth
	}
	if p.maxDepth < 1 {
		p.maxDepth = 1
	}
	return nil
}

// stackDepth computes the maximum instruction stack depth reachable from
// instruction i by depth-first search over the program's push edges.
// The mark slice detects cycles, which are invalid: a compiled schema is
// finite, so its program must be acyclic.
func (p *Program) stackDepth(i int, mark []byte) (int, error) {
	const (
		unseen = iota
		active
		settled
	)
	if mark[i] == active {
		return 0, fmt.Errorf("instruction %d: program contains a cycle", i)
	}
	mark[i] = active
	defer func() { mark[i] = settled }()

	switch in := p.ins[i]; in.Op {
	case OpTopLevelArray, OpVarLengthList, OpFixedLengthList:
		d, err := p.stackDepth(i+1, mark)
		if err != nil {
			return 0, err
		}
		return d + 1, nil
	case OpKeyTableHeader:
		var max int
		for j := i + 1; j <= i+int(in.Arg1); j++ {
			d, err := p.stackDepth(int(p.ins[j].Arg2), mark)
			if err != nil {
				return 0, err
			}
			if d > max {
				max = d
			}
		}
		return max + 1, nil
	case OpFillByteMaskedArray, OpFillIndexedOptionArray:
		return p.stackDepth(i+1, mark)
	default:
		return 0, nil
	}
}
