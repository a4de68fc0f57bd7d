// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package port implements the Port Pool (bounded arenas of port descriptors)
// and the Unique Port ID allocator.
package port

import (
	"fmt"
	"sync/atomic"
)

// ID is a process-wide monotonic port identifier. 0 is reserved for "no
// port"; valid IDs are strictly increasing within one Daemon, and distinct
// Daemons are expected to use distinct 16-bit prefixes.
type ID uint64

// InvalidID is the sentinel ID meaning "no port".
const InvalidID ID = 0

// IDAllocator generates Unique Port IDs. The high 16 bits of every allocated
// ID encode the Daemon id; the low 48 bits are a monotonic counter.
//
// The source material leaves unstated which of "externally-supplied Daemon
// id" vs "auto-generated" wins if both are attempted in one process; this
// implementation resolves it as: an explicit non-zero SetDaemonID call always
// wins over the zero-value default, and the Daemon id is frozen the moment
// the first ID is allocated (SetDaemonID after that returns an error).
type IDAllocator struct {
	next        atomic.Uint64
	daemonID    atomic.Uint32 // holds a uint16 value
	allocated   atomic.Bool
	daemonIDSet atomic.Bool
}

// NewIDAllocator creates an IDAllocator with daemon id 0 (unset); call
// SetDaemonID before the first Allocate to use a non-zero prefix.
func NewIDAllocator() *IDAllocator {
	a := &IDAllocator{}
	a.next.Store(1)
	return a
}

// SetDaemonID sets the Daemon id prefix. It may be called at most once, and
// only before any ID has been allocated.
func (a *IDAllocator) SetDaemonID(id uint16) error {
	if a.allocated.Load() {
		return fmt.Errorf("port: cannot set daemon id, allocations already started")
	}
	if !a.daemonIDSet.CompareAndSwap(false, true) {
		return fmt.Errorf("port: daemon id already set")
	}
	a.daemonID.Store(uint32(id))
	a.next.Store(uint64(id)<<48 | 1)
	return nil
}

// Allocate returns the next Unique Port ID. The value 0 is never produced.
func (a *IDAllocator) Allocate() ID {
	a.allocated.Store(true)
	return ID(a.next.Add(1) - 1)
}
