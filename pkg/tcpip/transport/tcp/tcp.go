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

// Package tcp contains the TCP transport protocol of the IPv4 suite. Segment
// processing is not implemented: the protocol binds ports, frames headers and
// counts what it drops.
package tcp

import (
	"context"
	"time"

	"gvisor.dev/inet/pkg/tcpip"
	"gvisor.dev/inet/pkg/tcpip/header"
	"gvisor.dev/inet/pkg/tcpip/network/ipv4"
	"gvisor.dev/inet/pkg/tcpip/ports"
	"gvisor.dev/inet/pkg/tcpip/stack"
)

const (
	// ProtocolName is the string representation of the tcp protocol name.
	ProtocolName = "tcp4"

	// ProtocolNumber is the tcp protocol number.
	ProtocolNumber = header.TCPProtocolNumber

	// DefaultWindowSize is the window advertised in framed headers.
	DefaultWindowSize = 0xffff
)

// Protocol is the TCP transport protocol of an ipv4 state.
type Protocol struct {
	state *ipv4.State
	ports *ports.Table
	stats *tcpip.TCPStats
}

var _ stack.TransportProtocol = (*Protocol)(nil)

// Attach registers the TCP protocol with st and its stack.
func Attach(st *ipv4.State) (*Protocol, *tcpip.Error) {
	p := &Protocol{
		state: st,
		ports: st.TCPPorts,
		stats: &st.Stack().Stats().TCP,
	}
	if err := st.RegisterTransportHandler(ProtocolNumber, p.handleSegment); err != nil {
		return nil, err
	}
	if err := st.Stack().RegisterTransportProtocol(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Name implements stack.TransportProtocol.Name.
func (*Protocol) Name() string { return ProtocolName }

// Number implements stack.TransportProtocol.Number.
func (*Protocol) Number() tcpip.TransportProtocolNumber { return ProtocolNumber }

// AddressLength implements stack.TransportProtocol.AddressLength.
func (*Protocol) AddressLength() int { return header.IPv4AddressSize + 2 }

// Socket implements stack.TransportProtocol.Socket.
func (*Protocol) Socket(*stack.Socket) *tcpip.Error { return nil }

// Bind implements stack.TransportProtocol.Bind.
func (p *Protocol) Bind(s *stack.Socket, addr tcpip.FullAddress) *tcpip.Error {
	return p.ports.Bind(s, addr)
}

// Listen implements stack.TransportProtocol.Listen.
func (p *Protocol) Listen(s *stack.Socket) *tcpip.Error {
	return p.ports.Listen(s)
}

// Accept implements stack.TransportProtocol.Accept.
func (p *Protocol) Accept(s, model *stack.Socket, pkt *stack.PacketBuffer) *tcpip.Error {
	return p.ports.Accept(s, model, pkt)
}

// Close implements stack.TransportProtocol.Close.
func (p *Protocol) Close(s *stack.Socket) *tcpip.Error {
	return p.ports.Close(s)
}

// Recv implements stack.TransportProtocol.Recv. Nothing is ever queued on a
// TCP socket, so it either polls empty or times out.
func (*Protocol) Recv(s *stack.Socket, timeout time.Duration) ([]byte, tcpip.FullAddress, *tcpip.Error) {
	d, err := s.Pull(timeout)
	if err != nil {
		return nil, tcpip.FullAddress{}, err
	}
	return d.Payload, d.From, nil
}

// Send implements stack.TransportProtocol.Send. The segment is framed and then
// dropped: once a route exists Send fails with ErrNotSupported.
func (p *Protocol) Send(s *stack.Socket, to tcpip.FullAddress, payload []byte) *tcpip.Error {
	if to.Addr.To4() == "" || to.Port == 0 {
		return tcpip.ErrBadAddress
	}
	if !s.IsBound() {
		if err := p.ports.EphemeralPort(s); err != nil {
			return err
		}
	}
	r, err := p.state.FindRoute(context.Background(), to.Addr)
	if err != nil {
		p.stats.SegmentSendErrors.Increment()
		return err
	}
	pkt := r.Iface.NIC().NewPacket()
	err = p.WriteHeader(pkt, r, &header.TCPFields{
		SrcPort:    s.LocalAddress().Port,
		DstPort:    to.Port,
		WindowSize: DefaultWindowSize,
	}, len(payload))
	p.stats.SegmentSendErrors.Increment()
	return pkt.Trash(err)
}

// WriteHeader writes the link and IPv4 headers of a segment along r followed
// by a 20-byte TCP header. It returns ErrNotSupported unless framing itself
// failed.
func (p *Protocol) WriteHeader(pkt *stack.PacketBuffer, r ipv4.Route, fields *header.TCPFields, payloadLen int) *tcpip.Error {
	if err := p.state.WriteHeader(pkt, r, ProtocolNumber, header.TCPMinimumSize+payloadLen, p.state.NextID(), 0); err != nil {
		return err
	}
	b, err := pkt.Reserve(header.TCPMinimumSize)
	if err != nil {
		return err
	}
	header.TCP(b).Encode(fields)
	pkt.Log("tcp")
	return tcpip.ErrNotSupported
}

func (p *Protocol) handleSegment(*ipv4.InterfaceState, header.IPv4, *stack.PacketBuffer) *tcpip.Error {
	p.stats.SegmentsReceived.Increment()
	return nil
}
