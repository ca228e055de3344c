// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

// Package growbuf implements an append-only buffer of fixed-width
// primitive values with amortized multiplicative growth.
package growbuf

import (
	"fmt"
	"math"
	"unsafe"
)

// Elem is the set of element types a Buffer can store.
type Elem interface {
	~uint8 | ~int64 | ~float64
}

// A Buffer is an append-only store of values of type T. Capacity grows
// multiplicatively as values are appended; existing contents are never
// modified or removed. The zero value is not ready for use; call New.
type Buffer[T Elem] struct {
	data    []T
	initial int
	factor  float64
}

// New constructs an empty buffer whose backing store starts at initial
// elements of capacity and grows by factor each time it fills. Values of
// initial < 1 and factor <= 1 are clamped to usable defaults.
func New[T Elem](initial int, factor float64) *Buffer[T] {
	if initial < 1 {
		initial = 1
	}
	if factor <= 1 {
		factor = 2
	}
	return &Buffer[T]{initial: initial, factor: factor}
}

// Append adds v at the end of the buffer.
func (b *Buffer[T]) Append(v T) {
	b.reserve(1)
	b.data = append(b.data, v)
}

// Extend appends a contiguous run of values in one call.
func (b *Buffer[T]) Extend(vs []T) {
	b.reserve(len(vs))
	b.data = append(b.data, vs...)
}

// Last returns the most recently appended value. It panics if the buffer
// is empty; the caller is responsible for checking Len first.
func (b *Buffer[T]) Last() T {
	if len(b.data) == 0 {
		panic("growbuf: Last on empty buffer")
	}
	return b.data[len(b.data)-1]
}

// Len reports the number of elements in the buffer.
func (b *Buffer[T]) Len() int { return len(b.data) }

// Bytes reports the current size of the buffer contents in bytes.
func (b *Buffer[T]) Bytes() int {
	var zero T
	return len(b.data) * int(unsafe.Sizeof(zero))
}

// CopyTo copies the entire contents of the buffer into dst, which must
// have room for at least Len elements. It reports the number of elements
// copied. CopyTo does not modify the buffer and may be called any number
// of times.
func (b *Buffer[T]) CopyTo(dst []T) (int, error) {
	if len(dst) < len(b.data) {
		return 0, fmt.Errorf("destination too small: %d < %d", len(dst), len(b.data))
	}
	return copy(dst, b.data), nil
}

// Slice returns a view of the buffer contents. The view is valid until
// the next Append or Extend; the caller must not modify it.
func (b *Buffer[T]) Slice() []T { return b.data }

// reserve ensures capacity for n more elements, growing the backing
// store by the configured factor when it is full.
func (b *Buffer[T]) reserve(n int) {
	need := len(b.data) + n
	if need <= cap(b.data) {
		return
	}
	newCap := cap(b.data)
	if newCap == 0 {
		newCap = b.initial
	}
	for newCap < need {
		newCap = int(math.Ceil(float64(newCap) * b.factor))
	}
	next := make([]T, len(b.data), newCap)
	copy(next, b.data)
	b.data = next
}
