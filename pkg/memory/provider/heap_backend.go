// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package provider

import (
	"fmt"
	"unsafe"
)

// HeapBackend satisfies Backend with plain Go heap memory. It is used by
// tests and by the in-process Daemon wiring (pkg/roudi.NewInProcess) where no
// real shared memory is needed.
type HeapBackend struct {
	region []byte
}

// NewHeapBackend creates a HeapBackend.
func NewHeapBackend() *HeapBackend {
	return &HeapBackend{}
}

func (h *HeapBackend) CreateMemory(size, alignment uintptr) (uintptr, error) {
	if h.region != nil {
		return 0, fmt.Errorf("provider: heap backend already created")
	}
	// Over-allocate so we can hand back an aligned sub-slice; the extra
	// bytes are never addressed.
	buf := make([]byte, size+alignment)
	base := uintptr(unsafe.Pointer(&buf[0]))
	aligned := (base + alignment - 1) &^ (alignment - 1)
	h.region = buf
	return aligned, nil
}

func (h *HeapBackend) DestroyMemory() error {
	h.region = nil
	return nil
}
