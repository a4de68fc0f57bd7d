// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package provider

// Backend obtains and releases the single contiguous backing region a
// Provider sub-allocates its blocks from: POSIX shared memory in the real
// build, or plain heap memory in tests.
type Backend interface {
	// CreateMemory reserves a contiguous region of at least size bytes,
	// aligned to alignment, and returns its base address.
	CreateMemory(size, alignment uintptr) (base uintptr, err error)
	// DestroyMemory releases the region obtained from CreateMemory. It must
	// be safe to call more than once.
	DestroyMemory() error
}
