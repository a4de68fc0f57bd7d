// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package relptr

import "unsafe"

// Typed[T] adds compile-time type information over RelPtr so port descriptor
// fields don't need manual casts at every call site. It still carries no
// process-local state beyond the underlying RelPtr.
type Typed[T any] struct {
	RelPtr
}

// NullTyped returns the logical null Typed[T].
func NullTyped[T any]() Typed[T] {
	return Typed[T]{RelPtr: Null()}
}

// FromRawTyped is the typed counterpart of FromRaw.
func FromRawTyped[T any](repo *Repository, ptr *T) (Typed[T], error) {
	rp, err := FromRaw(repo, unsafe.Pointer(ptr))
	if err != nil {
		return Typed[T]{}, err
	}
	return Typed[T]{RelPtr: rp}, nil
}

// ToRaw resolves t back to a *T valid in the calling process.
func (t Typed[T]) ToRaw(repo *Repository) *T {
	return (*T)(t.RelPtr.ToRaw(repo))
}
