// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// A byte-addressable backing abstraction for the allocators in this
// package, modeled on cznic/lldb's Filer.

package memman

import "io"

// A Region is a []byte-like model of the fixed-size backing storage an
// allocator manages. Unlike a file stream, a Region is addressed by
// offset rather than sequentially; ReadAt and WriteAt are assumed to
// perform atomically with respect to each other. A Region is not safe
// for concurrent use by more than one goroutine — see Guard.
//
// A Region never grows or shrinks once constructed: spec.md has no
// virtual-address growth of the backing region.
type Region interface {
	// ReadAt reads len(p) bytes starting at off. It returns a non-nil
	// error if fewer bytes are available (io.ErrUnexpectedEOF for
	// SliceRegion, io.EOF for FileRegion, *InvalidError for a range
	// outside a subRegion's window).
	ReadAt(p []byte, off int64) (n int, err error)

	// WriteAt writes len(p) bytes starting at off. SliceRegion returns
	// io.ErrShortWrite if fewer bytes could be written and subRegion
	// returns *InvalidError for a range outside its window; FileRegion
	// returns whatever error the underlying *os.File reports.
	WriteAt(p []byte, off int64) (n int, err error)

	// Size reports the fixed size of the region in bytes.
	Size() int64
}

// A ReleaseHinter is an optional capability a Region may implement: a
// hint that the byte range [off, off+size) is no longer live and its
// backing storage may be reclaimed by the OS. Regions that cannot act on
// the hint (SliceRegion) implement it as a no-op.
type ReleaseHinter interface {
	ReleaseHint(off, size int64) error
}

var _ Region = (*SliceRegion)(nil)

// SliceRegion is a Region backed directly by a caller-supplied []byte.
// This is the default, and the one spec.md describes: a single
// pre-provided contiguous byte region with no additional heap use.
type SliceRegion struct {
	mem []byte
}

// NewSliceRegion returns a Region backed by mem. The allocators built on
// top of it never resize mem; len(mem) is fixed for the Region's
// lifetime.
func NewSliceRegion(mem []byte) *SliceRegion {
	return &SliceRegion{mem: mem}
}

// ReadAt implements Region.
func (r *SliceRegion) ReadAt(p []byte, off int64) (n int, err error) {
	if off < 0 || off > int64(len(r.mem)) {
		return 0, &InvalidError{"SliceRegion.ReadAt: offset out of range", off}
	}

	n = copy(p, r.mem[off:])
	if n < len(p) {
		return n, io.ErrUnexpectedEOF
	}

	return n, nil
}

// WriteAt implements Region.
func (r *SliceRegion) WriteAt(p []byte, off int64) (n int, err error) {
	if off < 0 || off > int64(len(r.mem)) {
		return 0, &InvalidError{"SliceRegion.WriteAt: offset out of range", off}
	}

	n = copy(r.mem[off:], p)
	if n < len(p) {
		return n, io.ErrShortWrite
	}

	return n, nil
}

// Size implements Region.
func (r *SliceRegion) Size() int64 { return int64(len(r.mem)) }

// ReleaseHint implements ReleaseHinter as a no-op: a plain in-process
// slice has no OS-level backing to release.
func (r *SliceRegion) ReleaseHint(off, size int64) error { return nil }

// Bytes returns the underlying slice. The allocators never call this;
// it exists for callers that want to inspect or persist raw heap bytes.
func (r *SliceRegion) Bytes() []byte { return r.mem }
