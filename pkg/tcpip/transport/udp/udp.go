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

// Package udp contains the implementation of the UDP transport protocol:
// header framing, inbound demultiplexing to bound sockets and the DHCP hooks,
// and MTU-bounded send-side fragmentation.
package udp

import (
	"context"
	"sync"
	"time"

	"gvisor.dev/inet/pkg/tcpip"
	"gvisor.dev/inet/pkg/tcpip/checksum"
	"gvisor.dev/inet/pkg/tcpip/header"
	"gvisor.dev/inet/pkg/tcpip/network/ipv4"
	"gvisor.dev/inet/pkg/tcpip/ports"
	"gvisor.dev/inet/pkg/tcpip/stack"
)

const (
	// ProtocolName is the string representation of the udp protocol name.
	ProtocolName = "udp4"

	// ProtocolNumber is the udp protocol number.
	ProtocolNumber = header.UDPProtocolNumber

	// DHCPServerPort and DHCPClientPort are delivered to the DHCP handler
	// instead of sockets.
	DHCPServerPort = 67
	DHCPClientPort = 68

	// frameOverhead is the size of the headers in front of every fragment.
	frameOverhead = header.EthernetMinimumSize + header.IPv4MinimumSize + header.UDPMinimumSize
)

// DHCPHandler receives the datagrams sent to the DHCP ports.
type DHCPHandler interface {
	// HandleClient processes a datagram sent to the client port.
	HandleClient(iface *ipv4.InterfaceState, from tcpip.FullAddress, payload []byte) *tcpip.Error

	// HandleServer processes a datagram sent to the server port.
	HandleServer(iface *ipv4.InterfaceState, from tcpip.FullAddress, payload []byte) *tcpip.Error
}

// Protocol is the UDP transport protocol of an ipv4 state.
type Protocol struct {
	state *ipv4.State
	ports *ports.Table
	stats *tcpip.UDPStats

	mu   sync.RWMutex
	dhcp DHCPHandler
}

var _ stack.TransportProtocol = (*Protocol)(nil)

// Attach registers the UDP protocol with st and its stack.
func Attach(st *ipv4.State) (*Protocol, *tcpip.Error) {
	p := &Protocol{
		state: st,
		ports: st.UDPPorts,
		stats: &st.Stack().Stats().UDP,
	}
	if err := st.RegisterTransportHandler(ProtocolNumber, p.handlePacket); err != nil {
		return nil, err
	}
	if err := st.Stack().RegisterTransportProtocol(p); err != nil {
		return nil, err
	}
	return p, nil
}

// SetDHCPHandler installs h for datagrams sent to the DHCP ports.
func (p *Protocol) SetDHCPHandler(h DHCPHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dhcp = h
}

func (p *Protocol) dhcpHandler() DHCPHandler {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.dhcp
}

// State returns the ipv4 state the protocol is attached to.
func (p *Protocol) State() *ipv4.State { return p.state }

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

// Recv implements stack.TransportProtocol.Recv.
func (*Protocol) Recv(s *stack.Socket, timeout time.Duration) ([]byte, tcpip.FullAddress, *tcpip.Error) {
	d, err := s.Pull(timeout)
	if err != nil {
		return nil, tcpip.FullAddress{}, err
	}
	return d.Payload, d.From, nil
}

// Send implements stack.TransportProtocol.Send. An unbound socket is bound to
// an ephemeral port first. Datagrams to 255.255.255.255 leave through the NIC
// of to, or of the local address of s.
func (p *Protocol) Send(s *stack.Socket, to tcpip.FullAddress, payload []byte) *tcpip.Error {
	if to.Addr.To4() == "" || to.Port == 0 {
		return tcpip.ErrBadAddress
	}
	if !s.IsBound() {
		if err := p.ports.EphemeralPort(s); err != nil {
			return err
		}
	}
	var (
		r   ipv4.Route
		err *tcpip.Error
	)
	if to.Addr == tcpip.IPv4Broadcast {
		nic := to.NIC
		if nic == 0 {
			nic = s.LocalAddress().NIC
		}
		r, err = p.state.FindBroadcastRoute(nic)
		r.Addr = tcpip.IPv4Broadcast
	} else {
		r, err = p.state.FindRoute(context.Background(), to.Addr)
	}
	if err != nil {
		p.stats.PacketSendErrors.Increment()
		return err
	}
	return p.SendTo(r, s.LocalAddress().Port, to.Port, payload)
}

// FragmentSizes returns the payload sizes of the datagrams a payload of n
// bytes is split into on a link with the given MTU: the fewest datagrams that
// fit, with the bytes spread evenly so that no tiny trailing datagram is left.
func FragmentSizes(n int, mtu uint32) ([]int, *tcpip.Error) {
	maxLen := int(mtu) - frameOverhead
	if maxLen <= 0 {
		return nil, tcpip.ErrMessageTooLong
	}
	count := 1
	if n > 0 {
		count = (n + maxLen - 1) / maxLen
	}
	size := (n + count - 1) / count
	sizes := make([]int, 0, count)
	for n > size {
		sizes = append(sizes, size)
		n -= size
	}
	return append(sizes, n), nil
}

// SendTo sends payload from srcPort to dstPort along r, split as given by
// FragmentSizes. Every datagram carries its index in the fragment offset
// field. The first failure aborts the send.
func (p *Protocol) SendTo(r ipv4.Route, srcPort, dstPort uint16, payload []byte) *tcpip.Error {
	sizes, err := FragmentSizes(len(payload), r.Iface.NIC().MTU())
	if err != nil {
		p.stats.PacketSendErrors.Increment()
		return err
	}
	id := p.state.NextID()
	off := 0
	for i, size := range sizes {
		pkt := r.Iface.NIC().NewPacket()
		if err := p.WriteHeader(pkt, r, srcPort, dstPort, payload[off:off+size], id, uint16(i)); err != nil {
			p.stats.PacketSendErrors.Increment()
			return pkt.Trash(err)
		}
		if err := p.state.Send(pkt); err != nil {
			p.stats.PacketSendErrors.Increment()
			return err
		}
		p.stats.PacketsSent.Increment()
		off += size
	}
	return nil
}

// WriteHeader writes the link, IPv4 and UDP headers of a datagram carrying
// payload along r, then the payload itself. The checksum covers the
// pseudo-header, the UDP header and the payload.
func (p *Protocol) WriteHeader(pkt *stack.PacketBuffer, r ipv4.Route, srcPort, dstPort uint16, payload []byte, id, fragOffset uint16) *tcpip.Error {
	n := header.UDPMinimumSize + len(payload)
	if n > 0xffff {
		return tcpip.ErrMessageTooLong
	}
	if err := p.state.WriteHeader(pkt, r, ProtocolNumber, n, id, fragOffset); err != nil {
		return err
	}
	b, err := pkt.Reserve(n)
	if err != nil {
		return err
	}
	u := header.UDP(b)
	u.Encode(&header.UDPFields{
		SrcPort: srcPort,
		DstPort: dstPort,
		Length:  uint16(n),
	})
	copy(u.Payload(), payload)

	xsum := header.PseudoHeaderChecksum(ProtocolNumber, r.Iface.Address(), r.Addr, uint16(n))
	xsum = checksum.Checksum(payload, xsum)
	xsum = ^u.CalculateChecksum(xsum)
	if xsum == 0 {
		xsum = 0xffff
	}
	u.SetChecksum(xsum)
	pkt.Log("udp")
	return nil
}

// handlePacket is the UDP receive path. Datagrams to the DHCP ports go to the
// DHCP handler; the others are queued on the socket bound to their port.
// Fragments are not reassembled.
func (p *Protocol) handlePacket(iface *ipv4.InterfaceState, ip header.IPv4, pkt *stack.PacketBuffer) *tcpip.Error {
	p.stats.PacketsReceived.Increment()
	b := pkt.Remaining()
	if len(b) < header.UDPMinimumSize {
		p.stats.MalformedPacketsReceived.Increment()
		return tcpip.ErrMalformedHeader
	}
	u := header.UDP(b)
	length := int(u.Length())
	if length < header.UDPMinimumSize || length > len(b) {
		p.stats.MalformedPacketsReceived.Increment()
		return tcpip.ErrMalformedHeader
	}
	u = u[:length]
	if u.Checksum() != 0 && !u.IsChecksumValid(ip.SourceAddress(), ip.DestinationAddress(), checksum.Checksum(u.Payload(), 0)) {
		p.stats.MalformedPacketsReceived.Increment()
		return tcpip.ErrBadChecksum
	}
	pkt.Read(header.UDPMinimumSize)
	pkt.Truncate(length - header.UDPMinimumSize)
	pkt.AppendTrail(u[:2])
	pkt.Log("udp")

	from := tcpip.FullAddress{
		NIC:  iface.NIC().ID(),
		Addr: ip.SourceAddress(),
		Port: u.SourcePort(),
	}
	payload := append([]byte(nil), pkt.Remaining()...)
	dstPort := u.DestinationPort()
	if h := p.dhcpHandler(); h != nil {
		switch dstPort {
		case DHCPClientPort:
			return h.HandleClient(iface, from, payload)
		case DHCPServerPort:
			return h.HandleServer(iface, from, payload)
		}
	}

	s := p.ports.Demux(iface.NIC().ID(), dstPort, from)
	if s == nil {
		p.stats.UnknownPortErrors.Increment()
		return tcpip.ErrConnectionRefused
	}
	if err := s.Push(stack.Datagram{Payload: payload, From: from}); err != nil {
		p.stats.ReceiveBufferErrors.Increment()
		return err
	}
	return nil
}
