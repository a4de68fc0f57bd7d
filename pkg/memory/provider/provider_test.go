// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package provider

import (
	"testing"

	"github.com/antimetal/agent/pkg/relptr"
)

type countingBlock struct {
	size, alignment uintptr
	announced       int
	destroyed       int
	failSize        bool
}

func (b *countingBlock) Size() uintptr {
	if b.failSize {
		return ^uintptr(0) / 2 // larger than any backing region can be
	}
	return b.size
}
func (b *countingBlock) Alignment() uintptr        { return b.alignment }
func (b *countingBlock) OnMemoryAvailable(uintptr) { b.announced++ }
func (b *countingBlock) OnDestroy()                { b.destroyed++ }

func newProvider() (*Provider, *relptr.Repository) {
	repo := relptr.NewRepository(8)
	return New(repo, NewHeapBackend()), repo
}

func TestProviderLifecycleHappyPath(t *testing.T) {
	p, _ := newProvider()

	b1 := &countingBlock{size: 64, alignment: 8}
	b2 := &countingBlock{size: 128, alignment: 16}
	if err := p.AddBlock(b1); err != nil {
		t.Fatalf("AddBlock b1: %v", err)
	}
	if err := p.AddBlock(b2); err != nil {
		t.Fatalf("AddBlock b2: %v", err)
	}

	if err := p.Create(); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if p.State() != Created {
		t.Fatalf("State() = %v, want Created", p.State())
	}

	if err := p.Announce(); err != nil {
		t.Fatalf("Announce: %v", err)
	}
	if b1.announced != 1 || b2.announced != 1 {
		t.Fatalf("expected each block announced once, got b1=%d b2=%d", b1.announced, b2.announced)
	}
	// Idempotent.
	if err := p.Announce(); err != nil {
		t.Fatalf("second Announce: %v", err)
	}
	if b1.announced != 1 || b2.announced != 1 {
		t.Fatal("second Announce re-invoked OnMemoryAvailable")
	}
	if !p.IsAvailable() {
		t.Fatal("expected IsAvailable() after Announce")
	}

	if err := p.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if b1.destroyed != 1 || b2.destroyed != 1 {
		t.Fatalf("expected each block destroyed once, got b1=%d b2=%d", b1.destroyed, b2.destroyed)
	}
	if p.IsAvailable() {
		t.Fatal("expected IsAvailable() false after Destroy")
	}

	// Idempotent destroy.
	if err := p.Destroy(); err != nil {
		t.Fatalf("second Destroy: %v", err)
	}
	if b1.destroyed != 1 {
		t.Fatal("second Destroy re-invoked OnDestroy")
	}
}

func TestProviderAddBlockAfterCreateFails(t *testing.T) {
	p, _ := newProvider()
	if err := p.AddBlock(&countingBlock{size: 8, alignment: 1}); err != nil {
		t.Fatalf("AddBlock: %v", err)
	}
	if err := p.Create(); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := p.AddBlock(&countingBlock{size: 8, alignment: 1}); err == nil {
		t.Fatal("expected error adding a block after Create")
	}
}

func TestProviderCreateWithNoBlocksFails(t *testing.T) {
	p, _ := newProvider()
	if err := p.Create(); err == nil {
		t.Fatal("expected error creating with no blocks")
	}
}

func TestProviderUnregistersFromRepositoryOnDestroy(t *testing.T) {
	p, repo := newProvider()
	if err := p.AddBlock(&countingBlock{size: 8, alignment: 1}); err != nil {
		t.Fatalf("AddBlock: %v", err)
	}
	if err := p.Create(); err != nil {
		t.Fatalf("Create: %v", err)
	}
	id := p.SegmentID()
	if _, ok := repo.LookupBase(id); !ok {
		t.Fatal("expected segment registered after Create")
	}
	if err := p.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if _, ok := repo.LookupBase(id); ok {
		t.Fatal("expected segment unregistered after Destroy")
	}
}
