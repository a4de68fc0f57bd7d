// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package port

import "github.com/antimetal/agent/pkg/relptr"

// State is a port descriptor's lifecycle state, advanced one step per
// discovery cycle.
type State int

const (
	StateNotSubscribed State = iota
	StateSubscribeRequested
	StateSubscribed
	StateUnsubscribeRequested
	StateToBeDestroyed
)

// Kind distinguishes the seven port descriptor types the Port Pool arenas
// hold.
type Kind int

const (
	KindPublisher Kind = iota
	KindSubscriber
	KindServer
	KindClient
	KindInterface
	KindApplication
	KindConditionVariable
	kindCount // sentinel, number of Kind values
)

// KindCount is the number of distinct port Kind values, exported so callers
// outside this package can size per-kind capacity arrays.
const KindCount = int(kindCount)

func (k Kind) String() string {
	switch k {
	case KindPublisher:
		return "publisher"
	case KindSubscriber:
		return "subscriber"
	case KindServer:
		return "server"
	case KindClient:
		return "client"
	case KindInterface:
		return "interface"
	case KindApplication:
		return "application"
	case KindConditionVariable:
		return "condition-variable"
	default:
		return "unknown"
	}
}

// ServiceTriple identifies a publish/subscribe endpoint.
type ServiceTriple struct {
	Service  string
	Instance string
	Event    string
}

// Header holds the fields common to every port descriptor kind.
type Header struct {
	ID            ID
	Service       ServiceTriple
	OwningProcess string
	InterfaceTag  string
	State         State
	MemberPointer relptr.RelPtr
}

// Descriptor is the common capability every port-kind struct satisfies.
type Descriptor interface {
	Header() *Header
	Kind() Kind
}

// PublisherPort is a publisher endpoint descriptor.
type PublisherPort struct {
	Hdr             Header
	HistoryCapacity uint32
	Node            string
}

func (p *PublisherPort) Header() *Header { return &p.Hdr }
func (p *PublisherPort) Kind() Kind      { return KindPublisher }

// SubscriberPort is a subscriber endpoint descriptor.
type SubscriberPort struct {
	Hdr  Header
	Node string
}

func (p *SubscriberPort) Header() *Header { return &p.Hdr }
func (p *SubscriberPort) Kind() Kind      { return KindSubscriber }

// ServerPort is a request/response server endpoint descriptor.
type ServerPort struct {
	Hdr  Header
	Node string
}

func (p *ServerPort) Header() *Header { return &p.Hdr }
func (p *ServerPort) Kind() Kind      { return KindServer }

// ClientPort is a request/response client endpoint descriptor.
type ClientPort struct {
	Hdr  Header
	Node string
}

func (p *ClientPort) Header() *Header { return &p.Hdr }
func (p *ClientPort) Kind() Kind      { return KindClient }

// InterfacePort represents a bridging/gateway endpoint.
type InterfacePort struct {
	Hdr Header
}

func (p *InterfacePort) Header() *Header { return &p.Hdr }
func (p *InterfacePort) Kind() Kind      { return KindInterface }

// ApplicationPort represents a registered application's top-level handle.
type ApplicationPort struct {
	Hdr Header
}

func (p *ApplicationPort) Header() *Header { return &p.Hdr }
func (p *ApplicationPort) Kind() Kind      { return KindApplication }

// ConditionVariable is a cross-process wait/notify descriptor.
type ConditionVariable struct {
	Hdr Header
}

func (p *ConditionVariable) Header() *Header { return &p.Hdr }
func (p *ConditionVariable) Kind() Kind      { return KindConditionVariable }
