// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

// Package flatjson decodes streams of JSON values directly into flat,
// typed columnar buffers, guided by a compiled schema program.
//
// # Programs
//
// A Program is a sequence of instructions describing how the structure
// of the expected input maps onto a set of named output buffers of
// int8, uint8, int64, or float64 elements. Programs are produced by an
// external schema compiler and loaded with Assemble (text form) or
// AssembleJSON (JSON interchange form):
//
//	p, err := flatjson.Assemble(`
//	   TopLevelArray
//	   VarLengthList offsets int64
//	   FillNumber data float64
//	`)
//
// A Program is immutable once assembled and may be shared between any
// number of concurrent decoders.
//
// # Decoding
//
// A Decoder executes a program against input from an io.Reader. Values
// are appended to the output buffers as their tokens are scanned; no
// intermediate document tree is built. Call Decode to run the input to
// completion, then read the outputs:
//
//	d, err := flatjson.NewDecoder(p, input, nil)
//	if err != nil {
//	   log.Fatalf("Invalid options: %v", err)
//	}
//	if err := d.Decode(); err != nil {
//	   log.Fatalf("Decode failed: %v", err)
//	}
//	offsets, err := d.Output("offsets")
//
// By default the decoder ingests a whitespace-separated stream of
// top-level values until the input is exhausted. Set ReadOne in the
// Options to decode exactly one value instead. If decoding fails, the
// error has concrete type *DecodeError and the partially written
// outputs are discarded.
//
// # Scanning
//
// The Scanner type implements the underlying lexical scanner, and is
// exported for use on its own.  Construct a scanner from an io.Reader
// and call its Next method to iterate over the stream. Next advances to
// the next input token and returns nil, or reports an error:
//
//	s := flatjson.NewScanner(input)
//	for s.Next() == nil {
//	   log.Printf("Next token: %v", s.Token())
//	}
//
// Next returns io.EOF when the input has been fully consumed. Any other
// error indicates an I/O or lexical error in the input.
//
// The scanner accepts two optional extensions to the JSON grammar:
// C++-style comments (AllowComments), and configurable word spellings
// for IEEE NaN and infinities (SetSpecialWords), which standard JSON
// cannot represent.
package flatjson
