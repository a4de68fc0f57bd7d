// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package provider

import (
	"unsafe"

	"github.com/antimetal/agent/pkg/memory"
	"github.com/antimetal/agent/pkg/memory/bump"
	"github.com/antimetal/agent/pkg/port"
	"github.com/antimetal/agent/pkg/relptr"
)

// MemPoolCollectionBlock places a memory.Manager (and its pools) into the
// region: its size is sizeof(Manager) plus the required full memory size of
// its pool configuration.
type MemPoolCollectionBlock struct {
	configs []memory.PoolConfig
	manager *memory.Manager
}

// NewMemPoolCollectionBlock creates a block that will build a memory.Manager
// over configs once placed.
func NewMemPoolCollectionBlock(configs []memory.PoolConfig) *MemPoolCollectionBlock {
	return &MemPoolCollectionBlock{configs: configs}
}

const managerBookkeepingSize = 64 // approximates sizeof(Manager) bookkeeping overhead

func (b *MemPoolCollectionBlock) Size() uintptr {
	return uintptr(managerBookkeepingSize) + uintptr(memory.RequiredFullMemorySize(b.configs))
}

func (b *MemPoolCollectionBlock) Alignment() uintptr { return unsafe.Alignof(uintptr(0)) }

func (b *MemPoolCollectionBlock) OnMemoryAvailable(addr uintptr) {
	region := unsafe.Slice((*byte)(addrAsPointer[byte](addr)), b.Size())
	poolsRegion := region[managerBookkeepingSize:]
	mgr, err := memory.NewManager(poolsRegion, b.configs)
	if err != nil {
		// Memory Provider's Create already validated sizes; a failure here
		// indicates a bug in Size()/RequiredFullMemorySize agreement.
		panic("provider: MemPoolCollectionBlock placement size mismatch: " + err.Error())
	}
	b.manager = mgr
}

func (b *MemPoolCollectionBlock) OnDestroy() {}

// Manager returns the constructed Manager, or nil before placement.
func (b *MemPoolCollectionBlock) Manager() *memory.Manager { return b.manager }

// SegmentManagerBlock places a memory.SegmentManager into the region: its
// size is sizeof(SegmentManager) plus the sum of the per-segment
// MemPoolCollectionBlock sizes.
type SegmentManagerBlock struct {
	configs []memory.SegmentConfig
	ids     []relptr.SegmentID
	mgr     *memory.SegmentManager
}

// NewSegmentManagerBlock creates a block that will build a
// memory.SegmentManager over configs, assigning ids[i] to configs[i].
func NewSegmentManagerBlock(configs []memory.SegmentConfig, ids []relptr.SegmentID) *SegmentManagerBlock {
	return &SegmentManagerBlock{configs: configs, ids: ids}
}

const segmentManagerBookkeepingSize = 64

func (b *SegmentManagerBlock) Size() uintptr {
	total := uintptr(segmentManagerBookkeepingSize)
	for _, c := range b.configs {
		total += uintptr(memory.RequiredFullMemorySize(c.Pools)) + managerBookkeepingSize
	}
	return total
}

func (b *SegmentManagerBlock) Alignment() uintptr { return unsafe.Alignof(uintptr(0)) }

func (b *SegmentManagerBlock) OnMemoryAvailable(addr uintptr) {
	region := unsafe.Slice((*byte)(addrAsPointer[byte](addr)), b.Size())
	cursor := region[segmentManagerBookkeepingSize:]

	regions := make([][]byte, len(b.configs))
	for i, c := range b.configs {
		need := uintptr(memory.RequiredFullMemorySize(c.Pools)) + managerBookkeepingSize
		regions[i] = cursor[:need]
		cursor = cursor[need:]
	}

	sm, err := memory.NewSegmentManager(b.configs, regions, b.ids)
	if err != nil {
		panic("provider: SegmentManagerBlock placement failed: " + err.Error())
	}
	b.mgr = sm
}

func (b *SegmentManagerBlock) OnDestroy() {}

// SegmentManager returns the constructed SegmentManager, or nil before
// placement.
func (b *SegmentManagerBlock) SegmentManager() *memory.SegmentManager { return b.mgr }

// portDescriptorFootprint approximates the management-shm budget one port
// descriptor occupies (header fields plus its service-triple and node
// strings), used only to size PortPoolBlock's reservation.
const portDescriptorFootprint = 256

// PortPoolBlock reserves management-shm budget for the Port Pool's
// fixed per-kind descriptor capacities. Unlike MemPoolCollectionBlock and
// SegmentManagerBlock, it does not place a byte-for-byte layout over the
// reserved region: port.Pool holds Go maps and a mutex, neither of which is
// safe to construct over externally-managed bytes, so the Pool is built as
// ordinary Go heap state once the reservation is confirmed to fit the
// region. The reserved bytes otherwise sit unused, keeping the Provider's
// total size accounting (and thus its shm file size) consistent with the
// declared capacities.
type PortPoolBlock struct {
	capacities [port.KindCount]int
	pool       *port.Pool
}

// NewPortPoolBlock creates a block that will build a port.Pool sized by
// capacities once placed.
func NewPortPoolBlock(capacities [port.KindCount]int) *PortPoolBlock {
	return &PortPoolBlock{capacities: capacities}
}

func (b *PortPoolBlock) Size() uintptr {
	var total int
	for _, c := range b.capacities {
		total += c
	}
	return uintptr(total) * portDescriptorFootprint
}

func (b *PortPoolBlock) Alignment() uintptr { return unsafe.Alignof(uintptr(0)) }

func (b *PortPoolBlock) OnMemoryAvailable(addr uintptr) {
	b.pool = port.NewPool(b.capacities)
}

func (b *PortPoolBlock) OnDestroy() {}

// Pool returns the constructed Pool, or nil before placement.
func (b *PortPoolBlock) Pool() *port.Pool { return b.pool }

// bumpRegionBlock is a helper Block whose region is exposed to callers that
// want to sub-allocate it with a bump.Allocator rather than constructing a Go
// value directly, mirroring how PortPoolBlock sizes several fixed arenas.
type bumpRegionBlock struct {
	size      uintptr
	alignment uintptr
	alloc     *bump.Allocator
	onReady   func(*bump.Allocator)
}

func newBumpRegionBlock(size, alignment uintptr, onReady func(*bump.Allocator)) *bumpRegionBlock {
	return &bumpRegionBlock{size: size, alignment: alignment, onReady: onReady}
}

func (b *bumpRegionBlock) Size() uintptr      { return b.size }
func (b *bumpRegionBlock) Alignment() uintptr { return b.alignment }

func (b *bumpRegionBlock) OnMemoryAvailable(addr uintptr) {
	b.alloc = bump.New(addr, b.size)
	if b.onReady != nil {
		b.onReady(b.alloc)
	}
}

func (b *bumpRegionBlock) OnDestroy() {}
