// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package roudi implements the Roudi Memory Manager: the component that
// aggregates the management-shm Memory Provider (port pool, introspection,
// discovery mempool, heartbeat pool, segment manager) and one Memory
// Provider per user-data segment, behind a single domain-scoped file lock.
package roudi

import "github.com/antimetal/agent/pkg/port"

const (
	// discoveryMempoolChunks and discoveryMempoolChunkSize size the fixed
	// DiscoveryMempool reserved in the management region.
	discoveryMempoolChunks    = 4
	discoveryMempoolChunkSize = 4096

	// maxMonitoredProcesses bounds the heartbeat pool, indexed by registry
	// session id.
	maxMonitoredProcesses = 1024
)

// Introspection is a POD snapshot of discovery-loop counters, placed
// directly in the management region by a GenericBlock[Introspection]. Every
// field is a fixed-size value so the block never constructs a Go pointer,
// map, or slice header inside the shared region.
type Introspection struct {
	Cycle        uint64
	ProcessCount uint32
	PortCounts   [port.KindCount]uint32
}

// DiscoveryMempool is a fixed array of small chunks reserved in the
// management region, kept as a plain POD array for the same reason as
// Introspection. No component writes to it; the discovery loop publishes its
// counters through Introspection only.
type DiscoveryMempool struct {
	Chunks [discoveryMempoolChunks][discoveryMempoolChunkSize]byte
}

// HeartbeatPool is a fixed array of int64 slots sized for per-process
// last-heartbeat Unix nanosecond timestamps. No component writes to it; the
// Process Registry keeps heartbeat times in its own table.
type HeartbeatPool struct {
	LastHeartbeatNanos [maxMonitoredProcesses]int64
}
