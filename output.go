// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package flatjson

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// An Output is a read-only view of one named output buffer of a
// completed decode. The view aliases the decoder's storage and must not
// be retained if the decoder is reused for another value via a fresh
// construction.
type Output struct {
	spec OutputSpec
	d    *Decoder
}

// Name returns the name of the output.
func (o Output) Name() string { return o.spec.Name }

// Dtype returns the element type of the output.
func (o Output) Dtype() Dtype { return o.spec.Dtype }

// Len reports the number of elements in the output.
func (o Output) Len() int {
	switch o.spec.Dtype.pool() {
	case poolU8:
		return o.d.u8[o.spec.Index].Len()
	case poolI64:
		return o.d.i64[o.spec.Index].Len()
	default:
		return o.d.f64[o.spec.Index].Len()
	}
}

// Size reports the size of the output in bytes.
func (o Output) Size() int { return o.Len() * o.spec.Dtype.Size() }

// Int8s returns the elements of an int8 output, or nil if the output
// has a different type.
func (o Output) Int8s() []int8 {
	if o.spec.Dtype != Int8 {
		return nil
	}
	raw := o.d.u8[o.spec.Index].Slice()
	out := make([]int8, len(raw))
	for i, b := range raw {
		out[i] = int8(b)
	}
	return out
}

// Uint8s returns the elements of a uint8 output, or nil if the output
// has a different type. The slice aliases the decoder's storage.
func (o Output) Uint8s() []uint8 {
	if o.spec.Dtype != Uint8 {
		return nil
	}
	return o.d.u8[o.spec.Index].Slice()
}

// Int64s returns the elements of an int64 output, or nil if the output
// has a different type. The slice aliases the decoder's storage.
func (o Output) Int64s() []int64 {
	if o.spec.Dtype != Int64 {
		return nil
	}
	return o.d.i64[o.spec.Index].Slice()
}

// Float64s returns the elements of a float64 output, or nil if the
// output has a different type. The slice aliases the decoder's storage.
func (o Output) Float64s() []float64 {
	if o.spec.Dtype != Float64 {
		return nil
	}
	return o.d.f64[o.spec.Index].Slice()
}

// Copy serializes the elements of the output into dst in little-endian
// byte order and reports the number of bytes written. It reports an
// error without writing anything if dst is shorter than o.Size().
func (o Output) Copy(dst []byte) (int, error) {
	if need := o.Size(); len(dst) < need {
		return 0, fmt.Errorf("output %q needs %d bytes, have %d", o.spec.Name, need, len(dst))
	}
	switch o.spec.Dtype.pool() {
	case poolU8:
		return copy(dst, o.d.u8[o.spec.Index].Slice()), nil
	case poolI64:
		var n int
		for _, v := range o.d.i64[o.spec.Index].Slice() {
			binary.LittleEndian.PutUint64(dst[n:], uint64(v))
			n += 8
		}
		return n, nil
	default:
		var n int
		for _, v := range o.d.f64[o.spec.Index].Slice() {
			binary.LittleEndian.PutUint64(dst[n:], math.Float64bits(v))
			n += 8
		}
		return n, nil
	}
}

// Outputs returns views of all the output buffers of d, in program
// declaration order. It reports an error if the decode has not yet run
// to completion, or if it failed.
func (d *Decoder) Outputs() ([]Output, error) {
	if err := d.ready(); err != nil {
		return nil, err
	}
	out := make([]Output, len(d.prog.outputs))
	for i, spec := range d.prog.outputs {
		out[i] = Output{spec: spec, d: d}
	}
	return out, nil
}

// Output returns a view of the named output buffer of d. It reports an
// error if no such output exists, if the decode has not yet run to
// completion, or if it failed.
func (d *Decoder) Output(name string) (Output, error) {
	if err := d.ready(); err != nil {
		return Output{}, err
	}
	for _, spec := range d.prog.outputs {
		if spec.Name == name {
			return Output{spec: spec, d: d}, nil
		}
	}
	return Output{}, fmt.Errorf("no output named %q", name)
}

func (d *Decoder) ready() error {
	if d.failed != nil {
		return fmt.Errorf("decode failed: %w", d.failed)
	} else if !d.done {
		return errors.New("decode has not completed")
	}
	return nil
}
