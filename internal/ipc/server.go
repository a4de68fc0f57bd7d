// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package ipc

import (
	"bufio"
	"net"
	"os"
	"strconv"
	"sync"

	"github.com/go-logr/logr"

	"github.com/antimetal/agent/pkg/port"
)

// Server accepts connections on a unix-domain-socket Listener and dispatches
// each decoded command record to a Handler. One goroutine handles each
// accepted connection; commands on a single connection are processed FIFO,
// with no ordering promised across connections.
type Server struct {
	listener net.Listener
	handler  Handler
	logger   logr.Logger
	selfUID  uint32

	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// NewServer wraps an already-bound unix-domain-socket listener. Binding the
// socket (and any prior stale-socket cleanup) is the caller's responsibility,
// matching the teacher's pattern of constructing transport objects from
// already-prepared resources. selfUID is captured at construction time (the
// Daemon's own effective UID) and used to authorise the TERMINATION command
// against each connection's peer credentials.
func NewServer(listener net.Listener, handler Handler, logger logr.Logger) *Server {
	return &Server{listener: listener, handler: handler, logger: logger, selfUID: uint32(os.Geteuid())}
}

// Serve accepts connections until the listener is closed by Shutdown. It
// blocks until every connection goroutine it spawned has returned.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.wg.Wait()
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// Shutdown closes the listener, causing Serve's Accept loop to stop, and
// returns without waiting; Serve itself waits for the connection goroutines.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.listener.Close()
}

type connState struct {
	registered   bool
	name         string
	peerUID      uint32
	peerUIDKnown bool
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	state := &connState{}
	state.peerUID, state.peerUIDKnown = peerUID(conn)
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, MaxRecordLength), MaxRecordLength)

	for scanner.Scan() {
		reply, terminate := s.dispatch(state, scanner.Bytes())
		if reply != nil {
			if _, err := conn.Write(reply); err != nil {
				s.logger.V(1).Info("command-channel write failed", "error", err)
				return
			}
		}
		if terminate {
			return
		}
	}
}

// dispatch decodes and handles exactly one command record, returning the
// wire reply to write (nil for commands with no reply) and whether the
// connection should be closed afterward.
func (s *Server) dispatch(state *connState, line []byte) (reply []byte, terminate bool) {
	fields, err := Decode(line)
	if err != nil {
		return Encode("ERR", "protocol"), false
	}

	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "REG":
		return s.handleRegister(state, args), false
	case "DEREG":
		return s.handleDeregister(state, args), false
	case "KEEPALIVE":
		s.handleKeepalive(state, args)
		return nil, false
	case "CREATE_PUBLISHER":
		return s.handleCreate(state, port.KindPublisher, args), false
	case "CREATE_SUBSCRIBER":
		return s.handleCreate(state, port.KindSubscriber, args), false
	case "CREATE_SERVER":
		return s.handleCreate(state, port.KindServer, args), false
	case "CREATE_CLIENT":
		return s.handleCreate(state, port.KindClient, args), false
	case "CREATE_INTERFACE":
		return s.handleCreate(state, port.KindInterface, args), false
	case "CREATE_APPLICATION":
		return s.handleCreate(state, port.KindApplication, args), false
	case "CREATE_CONDITION_VARIABLE":
		return s.handleCreate(state, port.KindConditionVariable, args), false
	case "CREATE_NODE":
		return s.handleCreate(state, port.KindInterface, args), false
	case "FIND_SERVICE":
		return s.handleFindService(args), false
	case "TERMINATION":
		if !state.registered {
			return Encode("ERR", "protocol"), false
		}
		// TERMINATION requests a full daemon shutdown, not just this
		// client's own deregistration: only a peer running as the same
		// user as the Daemon itself is authorised to issue it.
		if !state.peerUIDKnown || state.peerUID != s.selfUID {
			return Encode("ERR", "unauthorized"), false
		}
		if err := s.handler.Terminate(state.name); err != nil {
			return Encode("ERR", err.Error()), true
		}
		return Encode("ACK"), true
	default:
		return Encode("ERR", "protocol"), false
	}
}

func (s *Server) handleRegister(state *connState, args []string) []byte {
	if len(args) != 5 {
		return Encode("REG_ERR", "protocol")
	}
	pid, err1 := strconv.Atoi(args[1])
	uid, err2 := strconv.Atoi(args[2])
	sessionHint, err3 := strconv.ParseUint(args[3], 10, 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return Encode("REG_ERR", "protocol")
	}

	reply, err := s.handler.Register(RegisterRequest{
		Name:        args[0],
		PID:         pid,
		UID:         uid,
		SessionHint: sessionHint,
		VersionInfo: args[4],
		Monitored:   true,
	})
	if err != nil {
		return Encode("REG_ERR", err.Error())
	}
	state.registered = true
	state.name = args[0]
	return Encode("REG_ACK", strconv.FormatUint(reply.SessionID, 10), strconv.FormatUint(uint64(reply.SegmentID), 10))
}

func (s *Server) handleDeregister(state *connState, args []string) []byte {
	if len(args) != 1 {
		return Encode("ERR", "protocol")
	}
	if err := s.handler.Deregister(args[0]); err != nil {
		return Encode("ERR", err.Error())
	}
	if state.name == args[0] {
		state.registered = false
	}
	return Encode("ACK")
}

func (s *Server) handleKeepalive(state *connState, args []string) {
	if len(args) != 1 {
		return
	}
	_ = s.handler.Keepalive(args[0])
}

func (s *Server) handleCreate(state *connState, kind port.Kind, args []string) []byte {
	if !state.registered {
		return Encode("ERR", "protocol")
	}
	req := CreatePortRequest{Kind: kind}
	switch kind {
	case port.KindPublisher:
		if len(args) != 6 {
			return Encode("ERR", "protocol")
		}
		cap64, err := strconv.ParseUint(args[3], 10, 32)
		if err != nil {
			return Encode("ERR", "protocol")
		}
		req.Service = port.ServiceTriple{Service: args[0], Instance: args[1], Event: args[2]}
		req.HistoryCapacity = uint32(cap64)
		req.Node = args[4]
		req.PortConfig = args[5]
	case port.KindSubscriber, port.KindServer, port.KindClient:
		if len(args) != 5 {
			return Encode("ERR", "protocol")
		}
		req.Service = port.ServiceTriple{Service: args[0], Instance: args[1], Event: args[2]}
		req.Node = args[3]
		req.PortConfig = args[4]
	default:
		// CREATE_INTERFACE / CREATE_APPLICATION / CREATE_CONDITION_VARIABLE /
		// CREATE_NODE carry no service triple.
	}

	ptr, err := s.handler.CreatePort(state.name, req)
	if err != nil {
		return Encode("ERR", err.Error())
	}
	return Encode("ACK", strconv.FormatUint(uint64(ptr.ID), 10)+":"+strconv.FormatUint(ptr.Offset, 10))
}

func (s *Server) handleFindService(args []string) []byte {
	if len(args) != 2 {
		return Encode("ERR", "protocol")
	}
	matches, err := s.handler.FindService(args[0], args[1])
	if err != nil {
		return Encode("ERR", err.Error())
	}
	fields := make([]string, 0, 1+3*len(matches))
	fields = append(fields, "ACK", strconv.Itoa(len(matches)))
	for _, m := range matches {
		fields = append(fields, m.Service, m.Instance, m.Event)
	}
	return Encode(fields...)
}
