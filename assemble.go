// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package flatjson

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/creachadair/flatjson/internal/escape"
	"github.com/tailscale/hujson"
	"go4.org/mem"
)

// ProgramFormat is the format label expected in the JSON program
// interchange form consumed by AssembleJSON.
const ProgramFormat = "flatjson/1"

// Assemble compiles the text form of a program into a Program. The text
// is line oriented: each non-blank line is a directive or an
// instruction, and "#" begins a comment outside of quoted strings.
//
// Directives:
//
//	!strict-keys     unknown object keys are an error instead of skipped
//	!max-depth N     declare the instruction stack bound (clamped to the
//	                 depth computed from the program structure)
//
// Instructions name an opcode followed by its operands. An operand is an
// integer, a quoted JSON string, a jump target ":N" naming an
// instruction index, or an output reference "name dtype" that declares
// the named output on first use. For example:
//
//	TopLevelArray
//	KeyTableHeader 2
//	KeyTableItem "a" :4
//	KeyTableItem "b" :5
//	FillInteger a-data int64
//	VarLengthList b-offsets int64
//	FillInteger b-data int64
//
// Cumulative offset outputs declared by VarLengthList and FillString are
// preloaded with a single 0 element.
func Assemble(src string) (*Program, error) {
	b := newBuilder()
	for n, line := range strings.Split(src, "\n") {
		fields, err := splitFields(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n+1, err)
		}
		if len(fields) == 0 {
			continue
		}
		head := fields[0]
		if head.quoted || head.isNum {
			return nil, fmt.Errorf("line %d: expected instruction or directive", n+1)
		}
		if strings.HasPrefix(head.text, "!") {
			if err := b.directive(head.text, fields[1:]); err != nil {
				return nil, fmt.Errorf("line %d: %w", n+1, err)
			}
			continue
		}
		if err := b.instruction(head.text, fields[1:]); err != nil {
			return nil, fmt.Errorf("line %d: %w", n+1, err)
		}
	}
	if err := b.p.validate(); err != nil {
		return nil, err
	}
	return b.p, nil
}

// jsonProgram is the shape of the JSON program interchange form.
type jsonProgram struct {
	Format       string  `json:"format"`
	StrictKeys   bool    `json:"strictKeys"`
	MaxDepth     int     `json:"maxDepth"`
	Instructions [][]any `json:"instructions"`
}

// AssembleJSON compiles the JSON interchange form of a program into a
// Program. The input may use HuJSON extensions (comments and trailing
// commas); it is standardized before parsing. Each instruction is an
// array whose first element is the opcode name, followed by the same
// operands the text form accepts:
//
//	{
//	  "format": "flatjson/1",
//	  "instructions": [
//	    ["TopLevelArray"],
//	    ["KeyTableHeader", 1],
//	    ["KeyTableItem", "x", ":3"],
//	    ["FillNumber", "x-data", "float64"], // one column
//	  ],
//	}
func AssembleJSON(data []byte) (*Program, error) {
	std, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("standardize program: %w", err)
	}
	var jp jsonProgram
	if err := json.Unmarshal(std, &jp); err != nil {
		return nil, fmt.Errorf("parse program: %w", err)
	}
	if jp.Format != ProgramFormat {
		return nil, fmt.Errorf("unknown program format %q", jp.Format)
	}

	b := newBuilder()
	b.p.strict = jp.StrictKeys
	b.p.maxDepth = jp.MaxDepth
	for i, row := range jp.Instructions {
		if len(row) == 0 {
			return nil, fmt.Errorf("instruction %d: empty", i)
		}
		opname, ok := row[0].(string)
		if !ok {
			return nil, fmt.Errorf("instruction %d: opcode must be a string", i)
		}
		args := make([]field, 0, len(row)-1)
		for j, v := range row[1:] {
			switch t := v.(type) {
			case string:
				args = append(args, field{text: t})
			case float64:
				if t != float64(int64(t)) {
					return nil, fmt.Errorf("instruction %d: operand %d is not an integer", i, j+1)
				}
				args = append(args, field{num: int64(t), isNum: true})
			default:
				return nil, fmt.Errorf("instruction %d: operand %d has invalid type", i, j+1)
			}
		}
		if err := b.instruction(opname, args); err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}
	}
	if err := b.p.validate(); err != nil {
		return nil, err
	}
	return b.p, nil
}

// A field is one operand of an assembly instruction.
type field struct {
	text   string
	quoted bool // text came from a quoted string
	num    int64
	isNum  bool
}

// splitFields splits one line of assembly text into operand fields,
// honoring quoted strings and discarding "#" comments.
func splitFields(line string) ([]field, error) {
	var out []field
	i := 0
	for i < len(line) {
		switch c := line[i]; {
		case c == ' ' || c == '\t' || c == '\r':
			i++
		case c == '#':
			return out, nil
		case c == '"':
			end := i + 1
			for end < len(line) {
				if line[end] == '\\' {
					end += 2
					continue
				} else if line[end] == '"' {
					break
				}
				end++
			}
			if end >= len(line) {
				return nil, fmt.Errorf("unterminated string")
			}
			dec, err := escape.Unquote(mem.S(line[i+1 : end]))
			if err != nil {
				return nil, fmt.Errorf("invalid string: %w", err)
			}
			out = append(out, field{text: string(dec), quoted: true})
			i = end + 1
		default:
			end := i
			for end < len(line) && !strings.ContainsRune(" \t\r#", rune(line[end])) {
				end++
			}
			word := line[i:end]
			if n, err := strconv.ParseInt(word, 10, 64); err == nil {
				out = append(out, field{text: word, num: n, isNum: true})
			} else {
				out = append(out, field{text: word})
			}
			i = end
		}
	}
	return out, nil
}

// An asmBuilder accumulates program state while assembling.
type asmBuilder struct {
	p     *Program
	names map[string]int // output name → index in p.outputs
}

func newBuilder() *asmBuilder {
	return &asmBuilder{
		p:     &Program{soffs: []int32{0}},
		names: make(map[string]int),
	}
}

// addString appends s to the string table and returns its index.
func (b *asmBuilder) addString(s string) int64 {
	b.p.chars = append(b.p.chars, s...)
	b.p.soffs = append(b.p.soffs, int32(len(b.p.chars)))
	return int64(len(b.p.soffs) - 2)
}

// output resolves an output reference, declaring the named output on
// first use. A redeclaration must agree on the dtype. If preload is
// true, the output's buffer begins with a single zero element.
func (b *asmBuilder) output(name string, dtype Dtype, preload bool) (int64, error) {
	if i, ok := b.names[name]; ok {
		o := &b.p.outputs[i]
		if o.Dtype != dtype {
			return 0, fmt.Errorf("output %q redeclared as %v, was %v", name, dtype, o.Dtype)
		}
		if preload {
			o.preload = true
		}
		return int64(o.Index), nil
	}
	pool := dtype.pool()
	idx := b.p.poolSize[pool]
	b.p.poolSize[pool]++
	b.names[name] = len(b.p.outputs)
	b.p.outputs = append(b.p.outputs, OutputSpec{Name: name, Dtype: dtype, Index: idx, preload: preload})
	return int64(idx), nil
}

func (b *asmBuilder) directive(name string, args []field) error {
	switch name {
	case "!strict-keys":
		if len(args) != 0 {
			return fmt.Errorf("!strict-keys takes no operands")
		}
		b.p.strict = true
	case "!max-depth":
		if len(args) != 1 || !args[0].isNum || args[0].num < 1 {
			return fmt.Errorf("!max-depth needs a positive integer")
		}
		b.p.maxDepth = int(args[0].num)
	default:
		return fmt.Errorf("unknown directive %q", name)
	}
	return nil
}

// outputArgs resolves the output reference at args[i], which must carry
// the given dtype name, and reports the buffer index.
func (b *asmBuilder) outputArg(args []field, i int, dtype Dtype, preload bool) (int64, error) {
	if len(args) < i+2 {
		return 0, fmt.Errorf("missing output reference")
	}
	name, dt := args[i], args[i+1]
	if name.isNum || name.quoted || strings.HasPrefix(name.text, ":") {
		return 0, fmt.Errorf("invalid output name %q", name.text)
	}
	got, err := ParseDtype(dt.text)
	if err != nil {
		return 0, err
	}
	if got != dtype {
		return 0, fmt.Errorf("output %q must be %v, not %v", name.text, dtype, got)
	}
	return b.output(name.text, dtype, preload)
}

// instruction assembles one instruction line.
func (b *asmBuilder) instruction(opname string, args []field) error {
	emit := func(in Instruction, want int) error {
		if len(args) != want {
			return fmt.Errorf("%s needs %d operands, got %d", opname, want, len(args))
		}
		b.p.ins = append(b.p.ins, in)
		return nil
	}

	switch opname {
	case "TopLevelArray":
		return emit(Instruction{Op: OpTopLevelArray}, 0)

	case "FillByteMaskedArray":
		idx, err := b.outputArg(args, 0, Int8, false)
		if err != nil {
			return err
		}
		return emit(Instruction{Op: OpFillByteMaskedArray, Arg1: idx}, 2)

	case "FillIndexedOptionArray":
		idx, err := b.outputArg(args, 0, Int64, false)
		if err != nil {
			return err
		}
		ctr := int64(b.p.counters)
		b.p.counters++
		return emit(Instruction{Op: OpFillIndexedOptionArray, Arg1: idx, Arg2: ctr}, 2)

	case "FillBoolean":
		idx, err := b.outputArg(args, 0, Uint8, false)
		if err != nil {
			return err
		}
		return emit(Instruction{Op: OpFillBoolean, Arg1: idx}, 2)

	case "FillInteger":
		idx, err := b.outputArg(args, 0, Int64, false)
		if err != nil {
			return err
		}
		return emit(Instruction{Op: OpFillInteger, Arg1: idx}, 2)

	case "FillNumber":
		idx, err := b.outputArg(args, 0, Float64, false)
		if err != nil {
			return err
		}
		return emit(Instruction{Op: OpFillNumber, Arg1: idx}, 2)

	case "FillString":
		offs, err := b.outputArg(args, 0, Int64, true)
		if err != nil {
			return err
		}
		data, err := b.outputArg(args, 2, Uint8, false)
		if err != nil {
			return err
		}
		return emit(Instruction{Op: OpFillString, Arg1: offs, Arg2: data}, 4)

	case "FillEnumString", "FillNullEnumString":
		idx, err := b.outputArg(args, 0, Int64, false)
		if err != nil {
			return err
		}
		if len(args) < 3 {
			return fmt.Errorf("%s needs at least one candidate string", opname)
		}
		start := int64(b.p.numStrings())
		for _, a := range args[2:] {
			if a.isNum {
				return fmt.Errorf("candidate %v is not a string", a.num)
			}
			b.addString(a.text)
		}
		stop := int64(b.p.numStrings())
		op := OpFillEnumString
		if opname == "FillNullEnumString" {
			op = OpFillNullEnumString
		}
		b.p.ins = append(b.p.ins, Instruction{Op: op, Arg1: idx, Arg2: start, Arg3: stop})
		return nil

	case "VarLengthList":
		idx, err := b.outputArg(args, 0, Int64, true)
		if err != nil {
			return err
		}
		return emit(Instruction{Op: OpVarLengthList, Arg1: idx}, 2)

	case "FixedLengthList":
		if len(args) != 1 || !args[0].isNum || args[0].num < 0 {
			return fmt.Errorf("FixedLengthList needs a nonnegative size")
		}
		b.p.ins = append(b.p.ins, Instruction{Op: OpFixedLengthList, Arg1: args[0].num})
		return nil

	case "KeyTableHeader":
		if len(args) != 1 || !args[0].isNum || args[0].num < 1 {
			return fmt.Errorf("KeyTableHeader needs a positive entry count")
		}
		b.p.ins = append(b.p.ins, Instruction{Op: OpKeyTableHeader, Arg1: args[0].num})
		return nil

	case "KeyTableItem":
		if len(args) != 2 {
			return fmt.Errorf("KeyTableItem needs a key and a target")
		}
		key := args[0]
		if key.isNum {
			return fmt.Errorf("key must be a string")
		}
		tgt := args[1]
		if !strings.HasPrefix(tgt.text, ":") || tgt.quoted {
			return fmt.Errorf("invalid jump target %q", tgt.text)
		}
		n, err := strconv.ParseInt(tgt.text[1:], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid jump target %q", tgt.text)
		}
		si := b.addString(key.text)
		b.p.ins = append(b.p.ins, Instruction{Op: OpKeyTableItem, Arg1: si, Arg2: n})
		return nil

	default:
		return fmt.Errorf("unknown instruction %q", opname)
	}
}
