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
	"time"

	"gvisor.dev/inet/pkg/tcpip"
)

// LinkKind identifies the framing used by a NIC.
type LinkKind int

// Supported link kinds.
const (
	LinkUnknown LinkKind = iota
	LinkEthernet
	LinkLoopback
)

func (k LinkKind) String() string {
	switch k {
	case LinkEthernet:
		return "ethernet"
	case LinkLoopback:
		return "loopback"
	default:
		return "unknown"
	}
}

// LinkDispatcher receives the raw frames read by a LinkEndpoint.
type LinkDispatcher interface {
	// DeliverFrame hands an inbound frame, link header included, to the
	// stack. The stack takes ownership of frame.
	DeliverFrame(frame []byte)
}

// LinkEndpoint is the interface implemented by devices that move whole frames
// (e.g., channel, pipe). The link header of outbound frames has already been
// written by the time WriteFrame is called.
type LinkEndpoint interface {
	// MTU is the maximum transmission unit for this endpoint, link header
	// excluded.
	MTU() uint32

	// LinkAddress returns the link address (typically a MAC) of the
	// link endpoint.
	LinkAddress() tcpip.LinkAddress

	// WriteFrame transmits a fully formed frame.
	WriteFrame(frame []byte) *tcpip.Error

	// Attach attaches the data link layer endpoint to the dispatcher of the
	// NIC that owns it.
	Attach(dispatcher LinkDispatcher)

	// IsAttached returns whether a LinkDispatcher is attached to the
	// endpoint.
	IsAttached() bool
}

// LinkFramer parses the link header of inbound frames for a NIC. Outbound
// link headers are written by the network layer through the link packages.
type LinkFramer interface {
	// Kind returns the framing implemented.
	Kind() LinkKind

	// HeaderLength returns the size of the link header.
	HeaderLength() int

	// ParseHeader consumes the link header of pkt and returns the ethertype
	// it carries.
	ParseHeader(pkt *PacketBuffer) (tcpip.NetworkProtocolNumber, *tcpip.Error)
}

// PacketHandler processes an inbound packet whose read cursor is positioned
// just after the link header. A non-nil error means the packet was dropped.
type PacketHandler func(pkt *PacketBuffer) *tcpip.Error

// NetworkProtocol is the interface that needs to be implemented by network
// protocols (e.g., ipv4) that want to be part of the networking stack.
type NetworkProtocol interface {
	// Name returns the registration name of the protocol, e.g. "ip4".
	Name() string

	// Number returns the network protocol number.
	Number() tcpip.NetworkProtocolNumber

	// Close releases the protocol state. It fails if the protocol still
	// holds state that must be torn down first.
	Close() *tcpip.Error
}

// TransportProtocol is the interface that needs to be implemented by transport
// protocols (e.g., tcp, udp) that want to be part of the networking stack.
// Sockets created by the stack call back into their protocol for every
// operation.
type TransportProtocol interface {
	// Name returns the registration name of the protocol, e.g. "udp4".
	Name() string

	// Number returns the transport protocol number.
	Number() tcpip.TransportProtocolNumber

	// AddressLength returns the size of the wire form of an address of
	// this protocol.
	AddressLength() int

	// Socket initializes a new socket.
	Socket(s *Socket) *tcpip.Error

	// Bind binds s to addr. Port 0 requests an ephemeral port.
	Bind(s *Socket, addr tcpip.FullAddress) *tcpip.Error

	// Listen marks the port owned by s as accepting clients.
	Listen(s *Socket) *tcpip.Error

	// Accept binds s as a client of the listening socket model, using the
	// remote address recorded in the trail of pkt.
	Accept(s, model *Socket, pkt *PacketBuffer) *tcpip.Error

	// Send sends payload from s to the given address.
	Send(s *Socket, to tcpip.FullAddress, payload []byte) *tcpip.Error

	// Recv waits up to timeout for data queued on s.
	Recv(s *Socket, timeout time.Duration) ([]byte, tcpip.FullAddress, *tcpip.Error)

	// Close releases the port held by s.
	Close(s *Socket) *tcpip.Error
}
