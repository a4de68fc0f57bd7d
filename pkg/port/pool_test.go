// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package port

import "testing"

func smallPool() *Pool {
	var caps [kindCount]int
	for i := range caps {
		caps[i] = 2
	}
	return NewPool(caps)
}

func TestAddGetRemove(t *testing.T) {
	p := smallPool()
	pub := &PublisherPort{Hdr: Header{ID: 1, OwningProcess: "appA"}}

	if err := p.Add(pub); err != nil {
		t.Fatalf("Add: %v", err)
	}
	got, ok := p.Get(KindPublisher, 1)
	if !ok || got != Descriptor(pub) {
		t.Fatalf("Get = (%v, %v), want (%v, true)", got, ok, pub)
	}
	if err := p.Remove(KindPublisher, 1); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok := p.Get(KindPublisher, 1); ok {
		t.Fatal("expected port removed")
	}
}

func TestAddCapacityExhausted(t *testing.T) {
	p := smallPool()
	if err := p.Add(&PublisherPort{Hdr: Header{ID: 1}}); err != nil {
		t.Fatalf("Add 1: %v", err)
	}
	if err := p.Add(&PublisherPort{Hdr: Header{ID: 2}}); err != nil {
		t.Fatalf("Add 2: %v", err)
	}
	if err := p.Add(&PublisherPort{Hdr: Header{ID: 3}}); err == nil {
		t.Fatal("expected capacity-exhausted error")
	}
}

func TestReleaseOwnedByMarksToBeDestroyed(t *testing.T) {
	p := smallPool()
	pub := &PublisherPort{Hdr: Header{ID: 1, OwningProcess: "appA"}}
	sub := &SubscriberPort{Hdr: Header{ID: 2, OwningProcess: "appB"}}
	if err := p.Add(pub); err != nil {
		t.Fatalf("Add pub: %v", err)
	}
	if err := p.Add(sub); err != nil {
		t.Fatalf("Add sub: %v", err)
	}

	ids := p.ReleaseOwnedBy("appA")
	if len(ids) != 1 || ids[0] != 1 {
		t.Fatalf("ReleaseOwnedBy = %v, want [1]", ids)
	}
	if pub.Hdr.State != StateToBeDestroyed {
		t.Fatalf("pub.State = %v, want StateToBeDestroyed", pub.Hdr.State)
	}
	if sub.Hdr.State != StateNotSubscribed {
		t.Fatal("unrelated port's state should be untouched")
	}
}

func TestAdvanceStatesRemovesDestroyed(t *testing.T) {
	p := smallPool()
	pub := &PublisherPort{Hdr: Header{ID: 1, State: StateToBeDestroyed}}
	sub := &SubscriberPort{Hdr: Header{ID: 2, State: StateSubscribeRequested}}
	if err := p.Add(pub); err != nil {
		t.Fatalf("Add pub: %v", err)
	}
	if err := p.Add(sub); err != nil {
		t.Fatalf("Add sub: %v", err)
	}

	removed := p.AdvanceStates()
	if len(removed) != 1 || removed[0] != 1 {
		t.Fatalf("AdvanceStates removed = %v, want [1]", removed)
	}
	if _, ok := p.Get(KindPublisher, 1); ok {
		t.Fatal("expected destroyed port removed from arena")
	}
	if sub.Hdr.State != StateSubscribed {
		t.Fatalf("sub.State = %v, want StateSubscribed", sub.Hdr.State)
	}
}
