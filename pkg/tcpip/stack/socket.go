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

package stack

import (
	"sync"
	"time"

	"gvisor.dev/inet/pkg/tcpip"
)

// Datagram is a unit of data queued on a socket.
type Datagram struct {
	// Payload is the transport payload.
	Payload []byte

	// From is the address of the sender.
	From tcpip.FullAddress
}

// Socket is the transport endpoint upper layers use. It holds the local and
// remote addresses, the bind state and a bounded queue of inbound datagrams;
// everything protocol specific is delegated to its TransportProtocol.
type Socket struct {
	stack *Stack
	proto TransportProtocol

	queue chan Datagram

	mu        sync.Mutex
	laddr     tcpip.FullAddress
	raddr     tcpip.FullAddress
	bound     bool
	connected bool
	closed    bool
}

func newSocket(s *Stack, p TransportProtocol, queueSize int) *Socket {
	return &Socket{
		stack: s,
		proto: p,
		queue: make(chan Datagram, queueSize),
	}
}

// Stack returns the stack that created s.
func (s *Socket) Stack() *Stack { return s.stack }

// Proto returns the transport protocol of s.
func (s *Socket) Proto() TransportProtocol { return s.proto }

// LocalAddress returns the address s is bound to.
func (s *Socket) LocalAddress() tcpip.FullAddress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.laddr
}

// RemoteAddress returns the peer address of a connected socket.
func (s *Socket) RemoteAddress() tcpip.FullAddress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.raddr
}

// IsBound reports whether a local port is held by s.
func (s *Socket) IsBound() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bound
}

// IsConnected reports whether s has a remote address.
func (s *Socket) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// SetLocalAddress records the local address and marks s bound. It is called by
// port tables once the port is reserved.
func (s *Socket) SetLocalAddress(addr tcpip.FullAddress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.laddr = addr
	s.bound = true
}

// SetRemoteAddress records the peer address and marks s connected.
func (s *Socket) SetRemoteAddress(addr tcpip.FullAddress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raddr = addr
	s.connected = true
}

// ClearBinding marks s unbound and disconnected.
func (s *Socket) ClearBinding() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bound = false
	s.connected = false
}

// Push delivers inbound data to s. It never blocks: a full queue drops the
// datagram with ErrNoBufferSpace.
func (s *Socket) Push(d Datagram) *tcpip.Error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return tcpip.ErrInvalidEndpointState
	}
	select {
	case s.queue <- d:
		return nil
	default:
		return tcpip.ErrNoBufferSpace
	}
}

// Pull dequeues a datagram, waiting up to timeout on the stack clock. A
// non-positive timeout polls.
func (s *Socket) Pull(timeout time.Duration) (Datagram, *tcpip.Error) {
	select {
	case d := <-s.queue:
		return d, nil
	default:
	}
	if timeout <= 0 {
		return Datagram{}, tcpip.ErrWouldBlock
	}
	select {
	case d := <-s.queue:
		return d, nil
	case <-s.stack.clock.After(timeout):
		return Datagram{}, tcpip.ErrTimeout
	}
}

// Queued returns the number of datagrams waiting on s.
func (s *Socket) Queued() int {
	return len(s.queue)
}

// Bind binds s through its protocol.
func (s *Socket) Bind(addr tcpip.FullAddress) *tcpip.Error {
	return s.proto.Bind(s, addr)
}

// Connect records the default destination of s.
func (s *Socket) Connect(addr tcpip.FullAddress) *tcpip.Error {
	if addr.Addr.To4() == "" {
		return tcpip.ErrBadAddress
	}
	s.SetRemoteAddress(addr)
	return nil
}

// Listen marks s as accepting clients.
func (s *Socket) Listen() *tcpip.Error {
	return s.proto.Listen(s)
}

// Send sends payload to addr, or to the connected peer when addr is nil.
func (s *Socket) Send(addr *tcpip.FullAddress, payload []byte) *tcpip.Error {
	var to tcpip.FullAddress
	if addr != nil {
		to = *addr
	} else {
		if !s.IsConnected() {
			return tcpip.ErrNotConnected
		}
		to = s.RemoteAddress()
	}
	return s.proto.Send(s, to, payload)
}

// Recv waits up to timeout for inbound data.
func (s *Socket) Recv(timeout time.Duration) ([]byte, tcpip.FullAddress, *tcpip.Error) {
	return s.proto.Recv(s, timeout)
}

// Close releases the port held by s through its protocol. Further pushes are
// refused.
func (s *Socket) Close() *tcpip.Error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.proto.Close(s)
}
