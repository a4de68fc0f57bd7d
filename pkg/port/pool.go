// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package port

import (
	"fmt"
	"sync"
)

// Pool holds bounded arenas of port descriptors, one per Kind, as maps on the
// Go heap. A single RWMutex guards every arena, so adds, removals and lookups
// across all kinds are serialized against each other; the arenas are not
// lock-free.
type Pool struct {
	mu       sync.RWMutex
	arenas   [kindCount]map[ID]Descriptor
	capacity [kindCount]int
}

// NewPool creates a Pool with the given per-kind capacities, indexed by Kind.
func NewPool(capacities [kindCount]int) *Pool {
	p := &Pool{capacity: capacities}
	for k := range p.arenas {
		p.arenas[k] = make(map[ID]Descriptor, capacities[k])
	}
	return p
}

// Add inserts d into the arena for its Kind, keyed by its Header().ID. Fails
// if the arena is at capacity.
func (p *Pool) Add(d Descriptor) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	k := d.Kind()
	arena := p.arenas[k]
	if len(arena) >= p.capacity[k] {
		return fmt.Errorf("port: %s arena is full (capacity %d)", k, p.capacity[k])
	}
	arena[d.Header().ID] = d
	return nil
}

// Remove deletes the descriptor identified by (kind, id).
func (p *Pool) Remove(k Kind, id ID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	arena := p.arenas[k]
	if _, ok := arena[id]; !ok {
		return fmt.Errorf("port: unknown %s port id %d", k, id)
	}
	delete(arena, id)
	return nil
}

// Get returns the descriptor identified by (kind, id).
func (p *Pool) Get(k Kind, id ID) (Descriptor, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	d, ok := p.arenas[k][id]
	return d, ok
}

// All returns every descriptor in the given arena.
func (p *Pool) All(k Kind) []Descriptor {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Descriptor, 0, len(p.arenas[k]))
	for _, d := range p.arenas[k] {
		out = append(out, d)
	}
	return out
}

// OwnedBy returns every descriptor across all arenas owned by processName.
func (p *Pool) OwnedBy(processName string) []Descriptor {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []Descriptor
	for _, arena := range p.arenas {
		for _, d := range arena {
			if d.Header().OwningProcess == processName {
				out = append(out, d)
			}
		}
	}
	return out
}

// ReleaseOwnedBy transitions every port owned by processName to
// StateToBeDestroyed and returns their ids, consumed by the discovery loop's
// port-teardown step.
func (p *Pool) ReleaseOwnedBy(processName string) []ID {
	p.mu.Lock()
	defer p.mu.Unlock()

	var ids []ID
	for _, arena := range p.arenas {
		for id, d := range arena {
			if d.Header().OwningProcess == processName {
				d.Header().State = StateToBeDestroyed
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// AdvanceStates steps every port descriptor's state machine once, per the
// Discovery loop's §4.10 step 3: offer->subscribed,
// unsubscribe-request->not-subscribed, to-be-destroyed->removed. Returns the
// ids of ports that were removed this cycle.
func (p *Pool) AdvanceStates() (removed []ID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for k := range p.arenas {
		arena := p.arenas[k]
		for id, d := range arena {
			hdr := d.Header()
			switch hdr.State {
			case StateSubscribeRequested:
				hdr.State = StateSubscribed
			case StateUnsubscribeRequested:
				hdr.State = StateNotSubscribed
			case StateToBeDestroyed:
				delete(arena, id)
				removed = append(removed, id)
			}
		}
	}
	return removed
}
