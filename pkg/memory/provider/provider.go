// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package provider

import (
	"fmt"
	"os"
	"sync"

	"github.com/antimetal/agent/pkg/memory/bump"
	"github.com/antimetal/agent/pkg/relptr"
)

// State is the Memory Provider's lifecycle state.
type State int

const (
	Uninitialized State = iota
	Created
	Announced
	Destroyed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Created:
		return "created"
	case Announced:
		return "announced"
	case Destroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

const defaultBlockCapacity = 64

// Provider orchestrates a list of Memory Blocks: it totals their sizes,
// obtains a single contiguous backing region from a Backend, sub-allocates
// blocks via a bump.Allocator, announces availability, and tears down in
// reverse.
type Provider struct {
	mu      sync.Mutex
	repo    *relptr.Repository
	backend Backend

	state        State
	blocks       []Block
	placed       []bool
	pendingAddrs []uintptr
	segmentID    relptr.SegmentID
	base         uintptr
}

// New creates a Provider that will use backend to obtain its backing region
// and repo to register/unregister that region's segment.
func New(repo *relptr.Repository, backend Backend) *Provider {
	return &Provider{
		repo:    repo,
		backend: backend,
		blocks:  make([]Block, 0, defaultBlockCapacity),
	}
}

// AddBlock appends block to the list of blocks this Provider will place. Must
// be called before Create.
func (p *Provider) AddBlock(block Block) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != Uninitialized {
		return fmt.Errorf("provider: cannot add block, provider is already created")
	}
	if len(p.blocks) >= defaultBlockCapacity {
		return fmt.Errorf("provider: block list capacity (%d) exhausted", defaultBlockCapacity)
	}
	p.blocks = append(p.blocks, block)
	return nil
}

func alignTotal(total, alignment uintptr) uintptr {
	if alignment <= 1 {
		return total
	}
	return (total + alignment - 1) &^ (alignment - 1)
}

// Create computes the total size and maximum alignment across every added
// block (walked in insertion order, which also determines sub-allocation
// order and thus the stable RelPtr offsets), obtains the backing region from
// Backend, registers it with the Pointer Repository, and sub-allocates each
// block.
func (p *Provider) Create() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != Uninitialized {
		return fmt.Errorf("provider: already created")
	}
	if len(p.blocks) == 0 {
		return fmt.Errorf("provider: no blocks added")
	}

	var total, maxAlign uintptr
	for _, b := range p.blocks {
		align := b.Alignment()
		if align == 0 {
			align = 1
		}
		total = alignTotal(total, align) + b.Size()
		if align > maxAlign {
			maxAlign = align
		}
	}

	if maxAlign > uintptr(os.Getpagesize()) {
		return fmt.Errorf("provider: alignment %d exceeds page size", maxAlign)
	}

	base, err := p.backend.CreateMemory(total, maxAlign)
	if err != nil {
		return fmt.Errorf("provider: create memory: %w", err)
	}

	segID, err := p.repo.Register(base, total)
	if err != nil {
		_ = p.backend.DestroyMemory()
		return fmt.Errorf("provider: register with pointer repository: %w", err)
	}

	alloc := bump.New(base, total)
	p.placed = make([]bool, len(p.blocks))
	p.pendingAddrs = make([]uintptr, 0, len(p.blocks))
	for i, b := range p.blocks {
		addr, err := alloc.Allocate(b.Size(), max1(b.Alignment()))
		if err != nil {
			// Roll back: destroy every block that was already sub-allocated,
			// in reverse order, then tear down the region.
			for j := i - 1; j >= 0; j-- {
				if p.placed[j] {
					p.blocks[j].OnDestroy()
				}
			}
			_ = p.repo.Unregister(segID)
			_ = p.backend.DestroyMemory()
			return fmt.Errorf("provider: sub-allocate block %d: %w", i, err)
		}
		p.blocks[i] = b
		p.recordPlacement(i, addr)
	}

	p.base = base
	p.segmentID = segID
	p.state = Created
	return nil
}

// recordPlacement exists so Create's rollback path can distinguish "block
// sub-allocated" from "block's OnMemoryAvailable already ran" — the latter
// only happens in Announce, per the spec's split between Create and Announce.
func (p *Provider) recordPlacement(i int, addr uintptr) {
	p.placed[i] = true
	p.pendingAddrs = append(p.pendingAddrs, addr)
}

func max1(v uintptr) uintptr {
	if v == 0 {
		return 1
	}
	return v
}

// Announce invokes OnMemoryAvailable on every placed block. It is idempotent:
// repeated calls have no further effect.
func (p *Provider) Announce() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case Created:
		for i, b := range p.blocks {
			b.OnMemoryAvailable(p.pendingAddrs[i])
		}
		p.state = Announced
		return nil
	case Announced:
		return nil
	default:
		return fmt.Errorf("provider: cannot announce from state %s", p.state)
	}
}

// Destroy walks blocks in reverse insertion order calling OnDestroy,
// unregisters the segment from the Pointer Repository, and releases the
// backing region. Idempotent after the first successful destroy.
func (p *Provider) Destroy() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == Destroyed || p.state == Uninitialized {
		p.state = Destroyed
		return nil
	}

	for i := len(p.blocks) - 1; i >= 0; i-- {
		p.blocks[i].OnDestroy()
	}
	_ = p.repo.Unregister(p.segmentID)
	err := p.backend.DestroyMemory()
	p.state = Destroyed
	return err
}

// State returns the Provider's current lifecycle state.
func (p *Provider) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// IsAvailable reports whether the Provider's region is mapped and announced.
func (p *Provider) IsAvailable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == Announced
}

// SegmentID returns the SegmentID this Provider's region was registered
// under, valid once Create has succeeded.
func (p *Provider) SegmentID() relptr.SegmentID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.segmentID
}
