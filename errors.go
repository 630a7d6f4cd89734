// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package memman

import "fmt"

// Status is the bit-exact result code family a C port of this allocator
// pair would return from free/extend. Go callers normally just check
// `err != nil`; Status is exposed for callers that need the original
// numeric contract.
type Status int

// Status values, bit-exact with the C free()/extend() result codes.
const (
	StatusOK       Status = 0
	StatusNotFound Status = 4
	StatusInternal Status = -1
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusNotFound:
		return "NOTFOUND"
	case StatusInternal:
		return "INTERNAL"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// InvalidError reports an invalid request: a non-positive or oversized
// allocation or resize size (one the heap cannot possibly satisfy), a
// read or write longer than the block's capacity, or an invalid
// constructor argument. A pointer this instance did not hand out,
// including one outside the region, is reported as a NotFoundError
// instead. No mutation occurs before this error is returned.
type InvalidError struct {
	Msg string
	Arg interface{}
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("%s: %v", e.Msg, e.Arg)
}

// NotFoundError reports a free or extend of a pointer this instance did
// not hand out: an unaligned pointer, a pointer outside the region, or a
// double free. Code is always StatusNotFound.
type NotFoundError struct {
	Msg string
	Arg interface{}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: %v", e.Msg, e.Arg)
}

// Code implements the Coder interface.
func (e *NotFoundError) Code() Status { return StatusNotFound }

// InternalError reports a detected structural inconsistency: an inner
// operation that spec.md guarantees must succeed returned an error
// instead. The instance is undefined after this error is observed. Err,
// if non-nil, is the inner cause and is reachable via errors.Unwrap.
type InternalError struct {
	Msg string
	Err error
}

func (e *InternalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

// Code implements the Coder interface.
func (e *InternalError) Code() Status { return StatusInternal }

// Unwrap lets errors.Is/errors.As reach the inner cause, if any.
func (e *InternalError) Unwrap() error { return e.Err }

// Coder is implemented by NotFoundError and InternalError so a caller can
// recover the bit-exact status code with errors.As.
type Coder interface {
	error
	Code() Status
}

// OutOfMemoryError reports an Alloc that cannot be satisfied by an
// allocator's current free space, even though the request itself was
// valid. Unlike NotFoundError and InternalError this carries no Status:
// it has no equivalent in the free()/extend() result-code family, since
// the C sources this package is grounded on return NULL from their
// allocation routines without a distinct exhaustion code.
type OutOfMemoryError struct {
	Msg string
	N   int
}

func (e *OutOfMemoryError) Error() string {
	return fmt.Sprintf("%s: no block large enough for %d bytes", e.Msg, e.N)
}
