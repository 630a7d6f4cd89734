// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package memman

import (
	"bytes"
	"io"
	"testing"
)

func TestSliceRegionRoundTrip(t *testing.T) {
	r := NewSliceRegion(make([]byte, 64))
	want := []byte("hello, buddy")

	if _, err := r.WriteAt(want, 10); err != nil {
		t.Fatal(err)
	}

	got := make([]byte, len(want))
	if _, err := r.ReadAt(got, 10); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}

	if r.Size() != 64 {
		t.Fatalf("Size() = %d, want 64", r.Size())
	}
}

func TestSliceRegionBounds(t *testing.T) {
	r := NewSliceRegion(make([]byte, 8))

	if _, err := r.WriteAt([]byte("x"), -1); err == nil {
		t.Fatal("expected error for negative offset")
	}

	if _, err := r.ReadAt(make([]byte, 4), 6); err != io.ErrUnexpectedEOF {
		t.Fatalf("ReadAt past end: got %v, want io.ErrUnexpectedEOF", err)
	}

	if _, err := r.WriteAt(make([]byte, 4), 6); err != io.ErrShortWrite {
		t.Fatalf("WriteAt past end: got %v, want io.ErrShortWrite", err)
	}
}

func TestSubRegionWindow(t *testing.T) {
	backing := NewSliceRegion(make([]byte, 32))
	sub := newSubRegion(backing, 16, 8)

	if sub.Size() != 8 {
		t.Fatalf("Size() = %d, want 8", sub.Size())
	}

	if _, err := sub.WriteAt([]byte("abcd"), 0); err != nil {
		t.Fatal(err)
	}

	got := make([]byte, 4)
	if _, err := backing.ReadAt(got, 16); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("abcd")) {
		t.Fatalf("backing got %q at offset 16, want %q", got, "abcd")
	}

	if _, err := sub.WriteAt([]byte("x"), 100); err == nil {
		t.Fatal("expected error for out-of-window offset")
	}
}
