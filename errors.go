// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package flatjson

import (
	"errors"
	"fmt"
)

// Sentinel errors reported during decoding. Errors returned by Decode
// wrap one of these values, and can be tested with errors.Is.
var (
	// ErrMalformedInput: the input violates the JSON grammar.
	ErrMalformedInput = errors.New("malformed input")

	// ErrTypeMismatch: a token disagrees with the kind of value the
	// current instruction expects.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrUnknownEnumValue: a string did not resolve against the candidate
	// set of an enum instruction.
	ErrUnknownEnumValue = errors.New("unknown enum value")

	// ErrUnknownKey: an object key did not resolve against a key table,
	// and the program demands strict key resolution.
	ErrUnknownKey = errors.New("unknown object key")

	// ErrStackOverflow: nesting exceeded the program's declared
	// instruction stack bound.
	ErrStackOverflow = errors.New("instruction stack overflow")

	// ErrTrailingContent: extra input after the first value in
	// single-value mode.
	ErrTrailingContent = errors.New("trailing content after value")

	// ErrSourceIO: the input source reported a read failure.
	ErrSourceIO = errors.New("input read failed")
)

// DecodeError is the concrete type of errors reported by a Decoder. It
// records the instruction index and input byte offset at which decoding
// failed, and wraps the underlying cause.
type DecodeError struct {
	PC     int // instruction index at the point of failure
	Offset int // input byte offset at the point of failure

	err error
}

// Error satisfies the error interface.
func (d *DecodeError) Error() string {
	return fmt.Sprintf("at instruction %d (offset %d): %v", d.PC, d.Offset, d.err)
}

// Unwrap supports error wrapping.
func (d *DecodeError) Unwrap() error { return d.err }
