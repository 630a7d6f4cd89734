// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package memman implements two cooperating in-memory dynamic allocators
over a single, caller-supplied contiguous byte region: a buddy allocator
(see Knuth, TAOCP Vol. 1, Sec. 2.5) and a first-fit allocator. Neither
allocator ever grows its region or calls into the OS for memory; both
work entirely inside the bytes they are given.

Regions

Both allocators address their region through a Region (region.go), a
small ReadAt/WriteAt/Size interface rather than a bare []byte, so a heap
can be backed by plain process memory (SliceRegion) or by a file
(FileRegion) without either allocator's logic changing.

Buddy allocator

BuddyHeap splits its region into power-of-two blocks. Every in-use
block's size class is recorded in a packed 6-bit-per-slot table; every
free block's {next, prev} pointers live in the first 8 bytes of the
block itself. Allocation finds the smallest non-empty size class at or
above the request and splits down; free coalesces a block with its
buddy repeatedly until the buddy is no longer free.

First-fit allocator

FirstFit keeps a single doubly linked free list ordered by
non-decreasing block size, carried in-band in each block's header/
trailer. Allocation walks the list for the first block big enough and
splits off any sizeable remainder; free coalesces with both physical
neighbours when they are free and re-inserts in sorted position.

Composition

Heap pairs a BuddyHeap as the primary allocator with a FirstFit
instance carved out of the tail of the same region as an emergency
overflow heap, used only when the buddy side cannot satisfy a request.

None of the allocator or Region types in this package are safe for
concurrent use by more than one goroutine; see Guard for an optional
wrapper that serializes calls with a mutex.
*/
package memman
