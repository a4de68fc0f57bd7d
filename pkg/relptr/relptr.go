// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package relptr

import "unsafe"

// RelPtr is a (segment id, offset) pair that is stable across processes that
// have registered the same segment under the same id, even when each process
// maps that segment at a different base address. It carries no process-local
// state beyond ID and Offset.
//
// The zero value is not a valid logical null; use Null() or FromRaw(repo, nil).
type RelPtr struct {
	ID     SegmentID
	Offset uint64
}

// Null returns the logical null RelPtr.
func Null() RelPtr {
	return RelPtr{ID: NullID, Offset: NullOffset}
}

// IsNull reports whether r is the logical null pointer.
func (r RelPtr) IsNull() bool {
	return r.ID == NullID && r.Offset == NullOffset
}

// FromRaw converts a raw address in the calling process into a RelPtr by
// resolving which registered segment contains it. A nil ptr yields the
// logical null RelPtr.
func FromRaw(repo *Repository, ptr unsafe.Pointer) (RelPtr, error) {
	if ptr == nil {
		return Null(), nil
	}
	addr := uintptr(ptr)
	id, ok := repo.SearchID(addr)
	if !ok {
		return RelPtr{}, errSegmentNotFound(addr)
	}
	base, _ := repo.LookupBase(id)
	return RelPtr{ID: id, Offset: uint64(addr - base)}, nil
}

// ToRaw resolves r back to a raw address valid in the calling process. The
// logical null RelPtr resolves to nil. Dereferencing the result after the
// owning segment has been unregistered in this process is undefined
// behaviour, analogous to use-after-free, and is not guarded against here.
func (r RelPtr) ToRaw(repo *Repository) unsafe.Pointer {
	if r.IsNull() {
		return nil
	}
	base, ok := repo.LookupBase(r.ID)
	if !ok {
		return nil
	}
	return unsafe.Pointer(base + uintptr(r.Offset))
}

func errSegmentNotFound(addr uintptr) error {
	return &segmentNotFoundError{addr: addr}
}

type segmentNotFoundError struct {
	addr uintptr
}

func (e *segmentNotFoundError) Error() string {
	return "relptr: no registered segment contains the given address"
}
