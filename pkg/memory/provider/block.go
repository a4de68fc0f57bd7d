// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package provider implements Memory Blocks and the Memory Provider that
// orchestrates them: a list of "please place me in the shared region" units
// that report their size and alignment, are told the address they were
// placed at, and construct themselves in place.
package provider

// Block is a capability: a unit that can be placed somewhere inside a Memory
// Provider's backing region. OnMemoryAvailable is called exactly once, with
// the address chosen for this block. OnDestroy may be called multiple times
// and must be idempotent.
//
// In a systems language with virtual dispatch this would be an abstract base
// class; here it is a plain interface implemented by concrete block types, to
// avoid the "virtual dispatch through shared memory" anti-pattern the design
// notes warn about: OnMemoryAvailable/OnDestroy only ever run in the
// constructing process's own address space, never reconstructed from the
// shared bytes themselves.
type Block interface {
	Size() uintptr
	Alignment() uintptr
	OnMemoryAvailable(addr uintptr)
	OnDestroy()
}

// GenericBlock places a single value of type T into the region. If a
// non-nil initial value was supplied it is copied into place; otherwise the
// zero value is constructed.
type GenericBlock[T any] struct {
	alignment uintptr
	initial   *T
	ptr       *T
}

// NewGenericBlock creates a GenericBlock sized and aligned for T. initial, if
// non-nil, is copied into the placed memory when OnMemoryAvailable runs.
func NewGenericBlock[T any](initial *T) *GenericBlock[T] {
	var zero T
	return &GenericBlock[T]{
		alignment: alignOf(zero),
		initial:   initial,
	}
}

func (b *GenericBlock[T]) Size() uintptr      { var z T; return sizeOf(z) }
func (b *GenericBlock[T]) Alignment() uintptr { return b.alignment }

func (b *GenericBlock[T]) OnMemoryAvailable(addr uintptr) {
	b.ptr = addrAsPointer[T](addr)
	if b.initial != nil {
		*b.ptr = *b.initial
	}
}

func (b *GenericBlock[T]) OnDestroy() {
	// GenericBlock holds no resources of its own beyond the placed value;
	// destruction of T's own state, if any, is the caller's responsibility.
}

// Value returns the constructed *T, or nil before OnMemoryAvailable runs.
func (b *GenericBlock[T]) Value() *T { return b.ptr }
