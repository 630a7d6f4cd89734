// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package memman

var _ Region = (*subRegion)(nil)
var _ ReleaseHinter = (*subRegion)(nil)

// subRegion presents the [base, base+size) byte range of an underlying
// Region as its own zero-based Region. Heap uses one to carve a
// BuddyHeap's power-of-two prefix and a FirstFit emergency heap's tail
// out of a single caller-supplied Region without either allocator
// needing to know it isn't looking at the whole thing.
type subRegion struct {
	mem  Region
	base int64
	size int64
}

func newSubRegion(mem Region, base, size int64) *subRegion {
	return &subRegion{mem: mem, base: base, size: size}
}

// ReadAt implements Region.
func (s *subRegion) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > s.size {
		return 0, &InvalidError{"subRegion.ReadAt: range out of window", off}
	}
	return s.mem.ReadAt(p, s.base+off)
}

// WriteAt implements Region.
func (s *subRegion) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > s.size {
		return 0, &InvalidError{"subRegion.WriteAt: range out of window", off}
	}
	return s.mem.WriteAt(p, s.base+off)
}

// Size implements Region.
func (s *subRegion) Size() int64 { return s.size }

// ReleaseHint forwards to the underlying Region's hint, translating the
// offset, if the underlying Region supports one.
func (s *subRegion) ReleaseHint(off, size int64) error {
	rh, ok := s.mem.(ReleaseHinter)
	if !ok {
		return nil
	}
	return rh.ReleaseHint(s.base+off, size)
}
