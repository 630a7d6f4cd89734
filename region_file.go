// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// A basic os.File backed Region.

package memman

import (
	"os"

	"github.com/cznic/fileutil"
)

var _ Region = (*FileRegion)(nil)
var _ ReleaseHinter = (*FileRegion)(nil)

// FileRegion is an *os.File backed Region, intended for heaps larger
// than comfortably fits in process memory, or for a heap whose bytes a
// caller wants to persist across runs. It does not implement any
// structural-integrity machinery: a crash mid-write can leave the heap
// bytes in a torn state, exactly like SliceRegion's process memory would
// be lost outright. spec.md requires none.
type FileRegion struct {
	f    *os.File
	size int64
}

// NewFileRegion returns a Region backed by f, truncated to size bytes.
// The caller retains ownership of f and must Close it once the Region is
// no longer in use.
func NewFileRegion(f *os.File, size int64) (*FileRegion, error) {
	if size <= 0 {
		return nil, &InvalidError{"NewFileRegion: size", size}
	}

	if err := f.Truncate(size); err != nil {
		return nil, err
	}

	return &FileRegion{f: f, size: size}, nil
}

// ReadAt implements Region.
func (r *FileRegion) ReadAt(p []byte, off int64) (n int, err error) {
	return r.f.ReadAt(p, off)
}

// WriteAt implements Region.
func (r *FileRegion) WriteAt(p []byte, off int64) (n int, err error) {
	return r.f.WriteAt(p, off)
}

// Size implements Region.
func (r *FileRegion) Size() int64 { return r.size }

// ReleaseHint punches a hole in the backing file for [off, off+size),
// advising the OS the bytes there are no longer needed. Grounded on
// cznic/lldb's SimpleFileFiler, which hole-punches a truncated file tail
// the same way; here it runs on any freed range, not just the tail,
// since spec.md's region is fixed size and never truncates.
func (r *FileRegion) ReleaseHint(off, size int64) error {
	if off < 0 || size < 0 || off+size > r.size {
		return &InvalidError{"FileRegion.ReleaseHint: range out of bounds", off}
	}

	return fileutil.PunchHole(r.f, off, size)
}
