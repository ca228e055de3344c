// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package growbuf_test

import (
	"testing"

	"github.com/creachadair/flatjson/internal/growbuf"
	"github.com/creachadair/mds/mtest"
	"github.com/google/go-cmp/cmp"
)

func TestBuffer(t *testing.T) {
	b := growbuf.New[int64](2, 1.5)
	if b.Len() != 0 {
		t.Errorf("Len: got %d, want 0", b.Len())
	}
	mtest.MustPanic(t, func() { b.Last() })

	for i := int64(1); i <= 10; i++ {
		b.Append(i)
		if got := b.Last(); got != i {
			t.Errorf("Last: got %d, want %d", got, i)
		}
	}
	b.Extend([]int64{11, 12})

	want := []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	if diff := cmp.Diff(want, b.Slice()); diff != "" {
		t.Errorf("Contents: (-want, +got)\n%s", diff)
	}
	if got := b.Len(); got != 12 {
		t.Errorf("Len: got %d, want 12", got)
	}
	if got := b.Bytes(); got != 96 {
		t.Errorf("Bytes: got %d, want 96", got)
	}

	t.Run("CopyTo", func(t *testing.T) {
		dst := make([]int64, b.Len())
		n, err := b.CopyTo(dst)
		if err != nil {
			t.Fatalf("CopyTo failed: %v", err)
		} else if n != b.Len() {
			t.Errorf("CopyTo: got %d elements, want %d", n, b.Len())
		}
		if diff := cmp.Diff(want, dst); diff != "" {
			t.Errorf("Copied contents: (-want, +got)\n%s", diff)
		}

		if _, err := b.CopyTo(make([]int64, 3)); err == nil {
			t.Error("CopyTo into a short destination: got nil, want error")
		}
	})
}

func TestBufferBytes(t *testing.T) {
	u := growbuf.New[uint8](4, 2)
	u.Extend([]uint8{1, 2, 3})
	if got := u.Bytes(); got != 3 {
		t.Errorf("Bytes: got %d, want 3", got)
	}
	f := growbuf.New[float64](4, 2)
	f.Append(1.5)
	if got := f.Bytes(); got != 8 {
		t.Errorf("Bytes: got %d, want 8", got)
	}
}
