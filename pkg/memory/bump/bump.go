// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package bump implements a monotonic allocator over a fixed (base, length)
// region. It has no per-allocation free; callers that need release semantics
// build them above a mem pool.
package bump

import (
	"fmt"
	"sync"
)

// Allocator is a monotonic sub-allocator over [base, base+length).
type Allocator struct {
	mu     sync.Mutex
	base   uintptr
	length uintptr
	cursor uintptr
}

// New creates an Allocator over the region starting at base with the given
// length in bytes.
func New(base uintptr, length uintptr) *Allocator {
	return &Allocator{base: base, length: length}
}

func alignUp(addr uintptr, alignment uintptr) uintptr {
	if alignment <= 1 {
		return addr
	}
	return (addr + alignment - 1) &^ (alignment - 1)
}

// Allocate reserves size bytes aligned to alignment, returning the address at
// which they were reserved. Deallocation is not supported per-allocation; see
// Reset.
func (a *Allocator) Allocate(size uintptr, alignment uintptr) (uintptr, error) {
	if size == 0 {
		return 0, fmt.Errorf("bump: zero-size allocation requested")
	}
	if alignment == 0 {
		alignment = 1
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	aligned := alignUp(a.base+a.cursor, alignment) - a.base
	next := aligned + size
	if next > a.length {
		return 0, fmt.Errorf("bump: out of memory: need %d bytes (aligned offset %d), have %d remaining of %d",
			size, aligned, a.length-a.cursor, a.length)
	}
	a.cursor = next
	return a.base + aligned, nil
}

// Reset is the O(1) deallocation of every prior allocation: the cursor jumps
// back to zero. It does not zero the underlying memory.
func (a *Allocator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cursor = 0
}

// Used returns the number of bytes currently allocated from this region.
func (a *Allocator) Used() uintptr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cursor
}

// Remaining returns the number of bytes left in the region.
func (a *Allocator) Remaining() uintptr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.length - a.cursor
}

// Base returns the allocator's base address.
func (a *Allocator) Base() uintptr {
	return a.base
}

// Length returns the allocator's total region length.
func (a *Allocator) Length() uintptr {
	return a.length
}
