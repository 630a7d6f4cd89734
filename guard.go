// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package memman

import "sync"

// allocator is the shape BuddyHeap, FirstFit, and Heap all share; Guard
// wraps any of them.
type allocator interface {
	Alloc(n int) (Ptr, error)
	Free(p Ptr) error
	Extend(p Ptr, n int) (Ptr, error)
	ReadAt(p Ptr, dst []byte) (int, error)
	WriteAt(p Ptr, src []byte) (int, error)
	Stats() (total, used, free int64)
}

// Guard serializes Alloc/Free/Extend/Stats calls into an allocator with a
// mutex. spec.md §5 is explicit that BuddyHeap, FirstFit, and Heap are
// single-threaded cooperative: every operation must be externally
// serialized, and the spec leaves it to implementations to either
// provide a mutual-exclusion wrapper or document that callers must
// serialize themselves. Guard is that wrapper, for callers who would
// rather not write their own.
type Guard struct {
	mu sync.Mutex
	a  allocator
}

// NewGuard returns a Guard serializing access to a.
func NewGuard(a allocator) *Guard {
	return &Guard{a: a}
}

// Alloc serializes a.Alloc.
func (g *Guard) Alloc(n int) (Ptr, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.a.Alloc(n)
}

// Free serializes a.Free.
func (g *Guard) Free(p Ptr) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.a.Free(p)
}

// Extend serializes a.Extend.
func (g *Guard) Extend(p Ptr, n int) (Ptr, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.a.Extend(p, n)
}

// ReadAt serializes a.ReadAt.
func (g *Guard) ReadAt(p Ptr, dst []byte) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.a.ReadAt(p, dst)
}

// WriteAt serializes a.WriteAt.
func (g *Guard) WriteAt(p Ptr, src []byte) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.a.WriteAt(p, src)
}

// Stats serializes a.Stats.
func (g *Guard) Stats() (total, used, free int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.a.Stats()
}
