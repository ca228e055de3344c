// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package flatjson

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/creachadair/flatjson/internal/escape"
	"github.com/creachadair/flatjson/internal/growbuf"
	"go4.org/mem"
)

// Options control the construction of a Decoder. A nil *Options is ready
// for use and provides default values as described on each field.
type Options struct {
	// Read input in chunks of at most this many bytes. If ≤ 0, a
	// reasonable default is chosen.
	ChunkSize int

	// If true, decode exactly one top-level value and report
	// ErrTrailingContent if more input follows. If false, decode a stream
	// of top-level values separated by whitespace until the input is
	// exhausted.
	ReadOne bool

	// If true, permit and skip C++-style comments in the input.
	AllowComments bool

	// Non-standard word spellings accepted for IEEE floating-point
	// specials, each independently optional. If unset, such words are a
	// syntax error.
	NaNWord    string // e.g. "NaN"
	PosInfWord string // e.g. "Infinity"
	NegInfWord string // e.g. "-Infinity"

	// Initial capacity in elements and multiplicative growth factor
	// applied uniformly to all output buffers. Zero values select
	// defaults (1024 elements, factor 2).
	InitialCapacity int
	GrowthFactor    float64
}

func (o *Options) chunkSize() int {
	if o == nil {
		return 0
	}
	return o.ChunkSize
}

func (o *Options) readOne() bool { return o != nil && o.ReadOne }

func (o *Options) builder() (int, float64) {
	init, factor := 1024, 2.0
	if o != nil {
		if o.InitialCapacity > 0 {
			init = o.InitialCapacity
		}
		if o.GrowthFactor > 1 {
			factor = o.GrowthFactor
		}
	}
	return init, factor
}

// A frame is one entry of the decoder's instruction stack: the
// instruction to resume when the nested value completes, and the number
// of elements consumed so far when that instruction is a list.
type frame struct {
	ret   int
	count int64
}

// A Decoder executes a compiled Program against a stream of JSON input,
// writing decoded values directly into flat typed output buffers. A
// Decoder is used for a single run: construct it over a program and an
// input source, call Decode, then read the outputs. Decoders are not
// safe for concurrent use, but any number of decoders may share one
// Program.
type Decoder struct {
	prog    *Program
	sc      *Scanner
	readOne bool

	pc       int
	frames   []frame
	depth    int
	counters []int64

	u8  []*growbuf.Buffer[uint8]
	i64 []*growbuf.Buffer[int64]
	f64 []*growbuf.Buffer[float64]

	length  int64
	done    bool
	failed  error
	scratch []byte // decoded text of the current string token
}

// NewDecoder constructs a Decoder that executes p against input from r.
// A nil opts selects default options.
func NewDecoder(p *Program, r io.Reader, opts *Options) (*Decoder, error) {
	sc := NewScannerSize(r, opts.chunkSize())
	if opts != nil {
		sc.AllowComments(opts.AllowComments)
		if err := sc.SetSpecialWords(opts.NaNWord, opts.PosInfWord, opts.NegInfWord); err != nil {
			return nil, err
		}
	}

	init, factor := opts.builder()
	d := &Decoder{
		prog:     p,
		sc:       sc,
		readOne:  opts.readOne(),
		frames:   make([]frame, p.maxDepth),
		counters: make([]int64, p.counters),
		u8:       make([]*growbuf.Buffer[uint8], p.poolSize[poolU8]),
		i64:      make([]*growbuf.Buffer[int64], p.poolSize[poolI64]),
		f64:      make([]*growbuf.Buffer[float64], p.poolSize[poolF64]),
	}
	for i := range d.u8 {
		d.u8[i] = growbuf.New[uint8](init, factor)
	}
	for i := range d.i64 {
		d.i64[i] = growbuf.New[int64](init, factor)
	}
	for i := range d.f64 {
		d.f64[i] = growbuf.New[float64](init, factor)
	}
	for _, o := range p.outputs {
		if o.preload && o.Dtype.pool() == poolI64 {
			d.i64[o.Index].Append(0)
		}
	}
	return d, nil
}

// Decode runs the program against the input until the input is
// exhausted (streaming mode) or one complete value has been consumed
// (single-value mode). It returns nil on success; otherwise the run has
// failed, all partially written outputs are invalid, and the returned
// error has concrete type [*DecodeError].
//
// Decode may be called only once per Decoder.
func (d *Decoder) Decode() error {
	if d.done || d.failed != nil {
		return errors.New("decoder already used")
	}
	for {
		err := d.sc.Next()
		if err == io.EOF {
			if d.readOne && d.length == 0 {
				return d.seal(d.failf(ErrMalformedInput, "no top-level value"))
			}
			d.done = true
			return nil
		} else if err != nil {
			return d.seal(d.scanFail(err))
		}
		tok := d.sc.Token()
		if tok == LineComment || tok == BlockComment {
			continue
		}
		if d.readOne && d.length > 0 {
			return d.seal(d.failf(ErrTrailingContent, "unexpected %v", tok))
		}
		if err := d.decodeValue(tok); err != nil {
			return d.seal(err)
		}
		d.length++
	}
}

func (d *Decoder) seal(err error) error { d.failed = err; return err }

// Length reports the number of top-level values fully ingested.
func (d *Decoder) Length() int64 { return d.length }

// Err reports the error that stopped the run, or nil.
func (d *Decoder) Err() error { return d.failed }

// decodeValue consumes one complete top-level value whose first token is
// tok, executing the program from its entry instruction. It maintains
// the instruction stack explicitly: nesting is bounded by the program's
// declared stack depth, not by the host call stack.
func (d *Decoder) decodeValue(tok Token) error {
	d.pc = 0

dispatch:
	for {
		in := d.prog.ins[d.pc]
		switch in.Op {
		case OpTopLevelArray:
			if err := d.push(d.pc); err != nil {
				return err
			}
			d.pc++
			continue

		case OpFillIndexedOptionArray:
			if tok != Null {
				d.i64[in.Arg1].Append(d.counters[in.Arg2])
				d.counters[in.Arg2]++
				d.pc++
				continue
			}
			d.i64[in.Arg1].Append(-1)

		case OpFillByteMaskedArray:
			if tok != Null {
				d.u8[in.Arg1].Append(1)
				d.pc++
				continue
			}
			d.u8[in.Arg1].Append(0)
			if err := d.maskedDefault(d.pc + 1); err != nil {
				return err
			}

		case OpFillBoolean:
			switch tok {
			case True:
				d.u8[in.Arg1].Append(1)
			case False:
				d.u8[in.Arg1].Append(0)
			default:
				return d.mismatch(tok, "boolean")
			}

		case OpFillInteger:
			if tok != Integer {
				return d.mismatch(tok, "integer")
			}
			v, err := parseInt64(d.sc.Text())
			if err != nil {
				return d.failf(ErrTypeMismatch, "integer %s out of range", d.sc.Text())
			}
			d.i64[in.Arg1].Append(v)

		case OpFillNumber:
			var v float64
			switch tok {
			case Integer, Number:
				f, err := strconv.ParseFloat(string(d.sc.Text()), 64)
				if err != nil {
					return d.failf(ErrMalformedInput, "invalid number %s", d.sc.Text())
				}
				v = f
			case NaN:
				v = math.NaN()
			case PosInfinity:
				v = math.Inf(1)
			case NegInfinity:
				v = math.Inf(-1)
			default:
				return d.mismatch(tok, "number")
			}
			d.f64[in.Arg1].Append(v)

		case OpFillString:
			if tok != String {
				return d.mismatch(tok, "string")
			}
			text, err := d.stringText()
			if err != nil {
				return err
			}
			d.u8[in.Arg2].Extend(text)
			b := d.i64[in.Arg1]
			b.Append(b.Last() + int64(len(text)))

		case OpFillEnumString, OpFillNullEnumString:
			if tok == Null && in.Op == OpFillNullEnumString {
				d.i64[in.Arg1].Append(-1)
				break
			}
			if tok != String {
				return d.mismatch(tok, "string")
			}
			text, err := d.stringText()
			if err != nil {
				return err
			}
			idx := d.prog.findEnum(mem.B(text), in.Arg2, in.Arg3)
			if idx < 0 {
				return d.failf(ErrUnknownEnumValue, "%q", text)
			}
			d.i64[in.Arg1].Append(idx)

		case OpVarLengthList, OpFixedLengthList:
			if tok != LSquare {
				return d.mismatch(tok, "array")
			}
			if err := d.push(d.pc); err != nil {
				return err
			}
			next, err := d.next()
			if err != nil {
				return err
			}
			if next != RSquare {
				d.pc++
				tok = next
				continue
			}
			if err := d.closeList(); err != nil {
				return err
			}

		case OpKeyTableHeader:
			if tok != LBrace {
				return d.mismatch(tok, "object")
			}
			if err := d.push(d.pc); err != nil {
				return err
			}
			next, err := d.next()
			if err != nil {
				return err
			}
			if next != RBrace {
				jump, vtok, err := d.member(d.pc, next)
				if err != nil {
					return err
				}
				if jump >= 0 {
					d.pc = int(jump)
					tok = vtok
					continue
				}
				// Unknown key: its value was skipped; stay at this frame.
			} else {
				d.depth--
			}

		default:
			return d.failf(ErrTypeMismatch, "cannot execute %v", in.Op)
		}

		// The value at the current instruction is complete. Unwind
		// enclosing frames, consuming separators, until either another
		// value begins or the top-level value is done.
		for {
			if d.depth == 0 {
				return nil
			}
			f := &d.frames[d.depth-1]
			switch ret := d.prog.ins[f.ret]; ret.Op {
			case OpTopLevelArray:
				d.depth--

			case OpVarLengthList, OpFixedLengthList:
				f.count++
				next, err := d.next()
				if err != nil {
					return err
				}
				switch next {
				case Comma:
					vtok, err := d.next()
					if err != nil {
						return err
					}
					d.pc = f.ret + 1
					tok = vtok
					continue dispatch
				case RSquare:
					if err := d.closeList(); err != nil {
						return err
					}
				default:
					return d.failf(ErrMalformedInput, `expected "," or "]", got %v`, next)
				}

			case OpKeyTableHeader:
				next, err := d.next()
				if err != nil {
					return err
				}
				switch next {
				case Comma:
					ktok, err := d.next()
					if err != nil {
						return err
					}
					jump, vtok, err := d.member(f.ret, ktok)
					if err != nil {
						return err
					}
					if jump >= 0 {
						d.pc = int(jump)
						tok = vtok
						continue dispatch
					}
					// Unknown key skipped; stay at this frame.
				case RBrace:
					d.depth--
				default:
					return d.failf(ErrMalformedInput, `expected "," or "}", got %v`, next)
				}

			default:
				return d.failf(ErrTypeMismatch, "cannot resume %v", ret.Op)
			}
		}
	}
}

// member consumes one object member whose key token is ktok, resolving
// the key against the key table headed at hpc. On a match it reports the
// resolved jump target and the first token of the member's value. An
// unknown key reports jump -1 with the value structurally consumed,
// unless the program demands strict keys.
func (d *Decoder) member(hpc int, ktok Token) (jump int64, vtok Token, err error) {
	if ktok != String {
		return 0, 0, d.failf(ErrMalformedInput, "expected object key, got %v", ktok)
	}
	key, err := d.stringText()
	if err != nil {
		return 0, 0, err
	}
	jump = d.prog.findKey(mem.B(key), hpc)
	if jump < 0 && d.prog.strict {
		return 0, 0, d.failf(ErrUnknownKey, "%q", key)
	}
	c, err := d.next()
	if err != nil {
		return 0, 0, err
	} else if c != Colon {
		return 0, 0, d.failf(ErrMalformedInput, `expected ":", got %v`, c)
	}
	vtok, err = d.next()
	if err != nil {
		return 0, 0, err
	}
	if jump < 0 {
		if err := d.skipValue(vtok); err != nil {
			return 0, 0, err
		}
		return -1, 0, nil
	}
	return jump, vtok, nil
}

// skipValue structurally consumes one JSON value beginning at tok,
// writing nothing. It is used for the values of unknown object keys
// under a non-strict program. The nesting of the skipped value is
// tracked separately from the instruction stack, since it corresponds to
// no compiled schema.
func (d *Decoder) skipValue(tok Token) error {
	const (
		inObject = byte(iota)
		inArray
	)
	var nest []byte

	for {
		// Consume the start of one value.
		switch tok {
		case Integer, Number, String, True, False, Null, NaN, PosInfinity, NegInfinity:
			// scalar: value complete

		case LBrace:
			next, err := d.next()
			if err != nil {
				return err
			}
			if next != RBrace {
				if err := d.skipMemberKey(next); err != nil {
					return err
				}
				nest = append(nest, inObject)
				if tok, err = d.next(); err != nil {
					return err
				}
				continue
			}

		case LSquare:
			next, err := d.next()
			if err != nil {
				return err
			}
			if next != RSquare {
				nest = append(nest, inArray)
				tok = next
				continue
			}

		default:
			return d.failf(ErrMalformedInput, "unexpected %v", tok)
		}

		// A value finished; continue any enclosing skipped structures.
		for len(nest) > 0 {
			next, err := d.next()
			if err != nil {
				return err
			}
			top := nest[len(nest)-1]
			if next == Comma {
				if top == inObject {
					ktok, err := d.next()
					if err != nil {
						return err
					}
					if err := d.skipMemberKey(ktok); err != nil {
						return err
					}
				}
				if tok, err = d.next(); err != nil {
					return err
				}
				break // parse the next element or member value
			}
			if (top == inObject && next == RBrace) || (top == inArray && next == RSquare) {
				nest = nest[:len(nest)-1]
				continue
			}
			return d.failf(ErrMalformedInput, "unexpected %v", next)
		}
		if len(nest) == 0 {
			return nil
		}
	}
}

// skipMemberKey consumes the key and colon of a skipped object member.
func (d *Decoder) skipMemberKey(ktok Token) error {
	if ktok != String {
		return d.failf(ErrMalformedInput, "expected object key, got %v", ktok)
	}
	c, err := d.next()
	if err != nil {
		return err
	} else if c != Colon {
		return d.failf(ErrMalformedInput, `expected ":", got %v`, c)
	}
	return nil
}

// maskedDefault writes a placeholder entry for the masked-out content
// instruction at pc, keeping its buffer aligned with the mask.
func (d *Decoder) maskedDefault(pc int) error {
	switch in := d.prog.ins[pc]; in.Op {
	case OpFillBoolean:
		d.u8[in.Arg1].Append(0)
	case OpFillInteger:
		d.i64[in.Arg1].Append(0)
	case OpFillNumber:
		d.f64[in.Arg1].Append(0)
	case OpFillString:
		b := d.i64[in.Arg1]
		b.Append(b.Last())
	default:
		return d.failf(ErrTypeMismatch, "cannot mask %v", in.Op)
	}
	return nil
}

// push saves ret on the instruction stack.
func (d *Decoder) push(ret int) error {
	if d.depth >= len(d.frames) {
		return d.failf(ErrStackOverflow, "depth exceeds %d", len(d.frames))
	}
	d.frames[d.depth] = frame{ret: ret}
	d.depth++
	return nil
}

// closeList finishes the list whose frame is on top of the stack,
// recording its cumulative offset or checking its fixed size.
func (d *Decoder) closeList() error {
	f := d.frames[d.depth-1]
	switch in := d.prog.ins[f.ret]; in.Op {
	case OpVarLengthList:
		b := d.i64[in.Arg1]
		b.Append(b.Last() + f.count)
	case OpFixedLengthList:
		if f.count != in.Arg1 {
			return d.failf(ErrTypeMismatch, "list has %d elements, want %d", f.count, in.Arg1)
		}
	}
	d.depth--
	return nil
}

// next returns the next non-comment token, reporting malformed input if
// the stream ends inside a value.
func (d *Decoder) next() (Token, error) {
	for {
		if err := d.sc.Next(); err != nil {
			if err == io.EOF {
				return Invalid, d.failf(ErrMalformedInput, "unexpected end of input")
			}
			return Invalid, d.scanFail(err)
		}
		if tok := d.sc.Token(); tok != LineComment && tok != BlockComment {
			return tok, nil
		}
	}
}

// stringText returns the decoded text of the current string token. The
// result is valid until the next token is scanned.
func (d *Decoder) stringText() ([]byte, error) {
	raw := d.sc.Text() // includes the enclosing quotes
	var err error
	d.scratch, err = escape.AppendUnquote(d.scratch[:0], mem.B(raw[1:len(raw)-1]))
	if err != nil {
		return nil, d.failf(ErrMalformedInput, "invalid string: %v", err)
	}
	return d.scratch, nil
}

func (d *Decoder) mismatch(tok Token, want string) error {
	return d.failf(ErrTypeMismatch, "got %v, want %s", tok, want)
}

func (d *Decoder) failf(sentinel error, msg string, args ...any) error {
	return &DecodeError{
		PC:     d.pc,
		Offset: d.sc.Span().Pos,
		err:    fmt.Errorf("%w: "+msg, append([]any{sentinel}, args...)...),
	}
}

func (d *Decoder) scanFail(err error) error {
	return &DecodeError{PC: d.pc, Offset: d.sc.Span().Pos, err: err}
}

// parseInt64 parses text as a signed 64-bit integer. Values that exceed
// the signed range but fit in uint64 are reinterpreted bitwise, matching
// the storage convention of the int64 buffer pool.
func parseInt64(text []byte) (int64, error) {
	v, err := strconv.ParseInt(string(text), 10, 64)
	if err == nil {
		return v, nil
	}
	u, uerr := strconv.ParseUint(string(text), 10, 64)
	if uerr != nil {
		return 0, err
	}
	return int64(u), nil
}
