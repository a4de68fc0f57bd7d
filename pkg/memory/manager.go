// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package memory holds the Memory Manager (a sorted collection of mem pools
// routing variable-size allocations to the smallest fitting pool) and the
// Segment Manager (the collection of user-data segments and their Memory
// Managers).
package memory

import (
	"fmt"
	"sort"

	"github.com/antimetal/agent/pkg/memory/mempool"
)

// PoolConfig describes one mem pool to be created within a Manager.
type PoolConfig struct {
	ChunkSize  uint32
	ChunkCount uint32
}

// Manager routes allocation requests across an ordered, de-duplicated list of
// mem pools.
type Manager struct {
	pools []*mempool.Pool
}

// ErrNoFittingPool is returned when no configured pool's chunk size is large
// enough for the requested payload.
var ErrNoFittingPool = fmt.Errorf("memory: no pool configured with a large enough chunk size")

// ErrPoolExhausted is returned when the smallest fitting pool has no chunks
// left. The Manager deliberately does not retry a larger pool: this would
// break the chunk-size accounting the design relies on.
var ErrPoolExhausted = fmt.Errorf("memory: smallest fitting pool is exhausted")

// RequiredFullMemorySize returns the number of bytes that must be provided to
// back every pool described by configs, i.e. the sum of
// chunkCount*aligned(chunkSize) across all configs after de-duplication by
// chunk size.
func RequiredFullMemorySize(configs []PoolConfig) uint64 {
	byChunkSize := dedupe(configs)
	var total uint64
	for _, c := range byChunkSize {
		total += uint64(mempool.AlignChunkSize(c.ChunkSize)) * uint64(c.ChunkCount)
	}
	return total
}

func dedupe(configs []PoolConfig) []PoolConfig {
	seen := make(map[uint32]PoolConfig, len(configs))
	for _, c := range configs {
		aligned := mempool.AlignChunkSize(c.ChunkSize)
		if existing, ok := seen[aligned]; ok {
			existing.ChunkCount += c.ChunkCount
			seen[aligned] = existing
			continue
		}
		seen[aligned] = PoolConfig{ChunkSize: aligned, ChunkCount: c.ChunkCount}
	}
	out := make([]PoolConfig, 0, len(seen))
	for _, c := range seen {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkSize < out[j].ChunkSize })
	return out
}

// NewManager builds a Manager over region, sub-allocating one mem pool per
// (de-duplicated, ascending-sorted) entry in configs.
func NewManager(region []byte, configs []PoolConfig) (*Manager, error) {
	if len(configs) == 0 {
		return nil, fmt.Errorf("memory: no mempool configured for segment")
	}
	for _, c := range configs {
		if c.ChunkCount == 0 {
			return nil, fmt.Errorf("memory: chunk count must be > 0")
		}
		if c.ChunkSize == 0 {
			return nil, fmt.Errorf("memory: chunk size must be > 0")
		}
	}

	sorted := dedupe(configs)
	m := &Manager{pools: make([]*mempool.Pool, 0, len(sorted))}

	var offset uint64
	for _, c := range sorted {
		need := uint64(c.ChunkSize) * uint64(c.ChunkCount)
		if offset+need > uint64(len(region)) {
			return nil, fmt.Errorf("memory: region too small for pool config")
		}
		p, err := mempool.New(region[offset:offset+need], c.ChunkSize, c.ChunkCount)
		if err != nil {
			return nil, err
		}
		m.pools = append(m.pools, p)
		offset += need
	}
	return m, nil
}

// GetChunk routes a payloadSize allocation to the smallest pool whose chunk
// size is large enough, then acquires a chunk from it. It never upgrades to a
// larger pool on exhaustion.
func (m *Manager) GetChunk(payloadSize uint32) (uintptr, error) {
	i := sort.Search(len(m.pools), func(i int) bool {
		return m.pools[i].ChunkSize() >= payloadSize
	})
	if i == len(m.pools) {
		return 0, ErrNoFittingPool
	}
	addr, ok := m.pools[i].Acquire()
	if !ok {
		return 0, ErrPoolExhausted
	}
	return addr, nil
}

// Pools returns the Manager's pools in ascending chunk-size order. Intended
// for introspection and tests.
func (m *Manager) Pools() []*mempool.Pool {
	return m.pools
}
