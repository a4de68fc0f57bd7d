// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package ipc

import (
	"github.com/antimetal/agent/pkg/port"
	"github.com/antimetal/agent/pkg/relptr"
)

// RegisterRequest carries the fields of a REG command.
type RegisterRequest struct {
	Name        string
	PID         int
	UID         int
	SessionHint uint64
	VersionInfo string
	Monitored   bool
}

// RegisterReply carries the fields returned on a successful REG.
type RegisterReply struct {
	SessionID uint64
	SegmentID relptr.SegmentID
}

// CreatePortRequest carries the fields shared by every CREATE_* command. Not
// every field is meaningful for every Kind (e.g. HistoryCapacity only applies
// to KindPublisher); unused fields are zero-valued.
type CreatePortRequest struct {
	Kind            port.Kind
	Service         port.ServiceTriple
	HistoryCapacity uint32
	Node            string
	PortConfig      string
}

// Handler is implemented by the Daemon orchestration type and invoked by
// Server for each parsed command. A Handler method returning an error causes
// Server to reply with the command's ERR/_ERR reply and the error's message
// as the reason field.
type Handler interface {
	Register(req RegisterRequest) (RegisterReply, error)
	Deregister(name string) error
	Keepalive(name string) error
	CreatePort(owningProcess string, req CreatePortRequest) (relptr.RelPtr, error)
	FindService(service, instance string) ([]port.ServiceTriple, error)
	// Terminate requests a full daemon shutdown. Server only calls it once
	// the issuing connection's peer credentials have been authorised; it
	// must return promptly without blocking on the shutdown it requests.
	Terminate(owningProcess string) error
}
