// Copyright 2018 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package stack provides the glue between the IPv4 suite and the outside
// world: NICs, packet buffers, sockets, protocol registration and the pending
// query tables used for request/reply correlation.
package stack

import (
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"
	"gvisor.dev/inet/pkg/tcpip"
)

// Options contains optional Stack configuration.
type Options struct {
	// Clock is an optional clock source used for timestamps and bounded
	// waits. If nil, the real clock is used.
	Clock clockwork.Clock

	// SocketQueueSize is the number of datagrams a socket buffers before
	// dropping. If zero, DefaultSocketQueueSize is used.
	SocketQueueSize int
}

// DefaultSocketQueueSize is the default number of datagrams queued per socket.
const DefaultSocketQueueSize = 64

// Stack is a networking stack, with all supported protocols, NICs, and route
// table.
type Stack struct {
	clock     clockwork.Clock
	stats     tcpip.Stats
	queueSize int

	mu          sync.RWMutex
	nics        map[tcpip.NICID]*NIC
	netProtos   map[string]NetworkProtocol
	transProtos map[string]TransportProtocol
}

// New allocates a new networking stack with no protocols and no NICs.
func New(opts Options) *Stack {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	queueSize := opts.SocketQueueSize
	if queueSize <= 0 {
		queueSize = DefaultSocketQueueSize
	}
	return &Stack{
		clock:       clock,
		queueSize:   queueSize,
		nics:        make(map[tcpip.NICID]*NIC),
		netProtos:   make(map[string]NetworkProtocol),
		transProtos: make(map[string]TransportProtocol),
	}
}

// Clock returns the clock of the stack.
func (s *Stack) Clock() clockwork.Clock {
	return s.clock
}

// Stats returns a mutable copy of the current stats.
//
// This is not generally exported via the public interface, but is available
// internally.
func (s *Stack) Stats() *tcpip.Stats {
	return &s.stats
}

// RegisterNetworkProtocol makes p available under its name.
func (s *Stack) RegisterNetworkProtocol(p NetworkProtocol) *tcpip.Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.netProtos[p.Name()]; ok {
		return tcpip.ErrDuplicateProtocol
	}
	s.netProtos[p.Name()] = p
	return nil
}

// NetworkProtocol returns the network protocol registered under name, or nil.
func (s *Stack) NetworkProtocol(name string) NetworkProtocol {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.netProtos[name]
}

// RegisterTransportProtocol makes p available under its name.
func (s *Stack) RegisterTransportProtocol(p TransportProtocol) *tcpip.Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transProtos[p.Name()]; ok {
		return tcpip.ErrDuplicateProtocol
	}
	s.transProtos[p.Name()] = p
	return nil
}

// TransportProtocol returns the transport protocol registered under name, or
// nil.
func (s *Stack) TransportProtocol(name string) TransportProtocol {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transProtos[name]
}

// NewSocket creates a socket of the transport protocol registered under name.
func (s *Stack) NewSocket(name string) (*Socket, *tcpip.Error) {
	p := s.TransportProtocol(name)
	if p == nil {
		return nil, tcpip.ErrUnknownProtocol
	}
	sock := newSocket(s, p, s.queueSize)
	if err := p.Socket(sock); err != nil {
		return nil, err
	}
	return sock, nil
}

// NICOptions describes a NIC to create.
type NICOptions struct {
	// Name is an optional name for the NIC.
	Name string

	// Framer parses inbound link headers and selects the outbound framing.
	Framer LinkFramer

	// Endpoint is the device moving frames.
	Endpoint LinkEndpoint
}

// CreateNIC creates a NIC with the provided id and attaches its endpoint.
func (s *Stack) CreateNIC(id tcpip.NICID, opts NICOptions) (*NIC, *tcpip.Error) {
	if opts.Framer == nil || opts.Endpoint == nil {
		return nil, tcpip.ErrInvalidOptionValue
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nics[id]; ok {
		return nil, tcpip.ErrDuplicateNICID
	}
	n := newNIC(s, id, opts)
	s.nics[id] = n
	opts.Endpoint.Attach(n)
	return n, nil
}

// NIC returns the NIC with the given id.
func (s *Stack) NIC(id tcpip.NICID) (*NIC, *tcpip.Error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nics[id]
	if !ok {
		return nil, tcpip.ErrUnknownNICID
	}
	return n, nil
}

// NICs returns every NIC ordered by id.
func (s *Stack) NICs() []*NIC {
	s.mu.RLock()
	nics := make([]*NIC, 0, len(s.nics))
	for _, n := range s.nics {
		nics = append(nics, n)
	}
	s.mu.RUnlock()
	sort.Slice(nics, func(i, j int) bool { return nics[i].id < nics[j].id })
	return nics
}

// RemoveNIC detaches the NIC with the given id from the stack. Protocol state
// for the NIC must have been released first.
func (s *Stack) RemoveNIC(id tcpip.NICID) *tcpip.Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nics[id]
	if !ok {
		return tcpip.ErrUnknownNICID
	}
	n.detach()
	delete(s.nics, id)
	return nil
}

// Close tears down every registered network protocol. It stops at the first
// protocol that refuses, leaving the remaining ones registered.
func (s *Stack) Close() *tcpip.Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.netProtos))
	for name := range s.netProtos {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := s.netProtos[name].Close(); err != nil {
			return err
		}
		delete(s.netProtos, name)
	}
	return nil
}
