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

// Package ipv4 contains the implementation of the ipv4 network protocol: the
// stack-wide master state, per-interface configuration, header framing and
// protocol dispatch, route resolution and ICMP echo.
//
// The state is attached to a stack with Attach, after which ARP, UDP, TCP and
// DHCP layer themselves on top of it.
package ipv4

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/btree"
	"gvisor.dev/inet/pkg/log"
	"gvisor.dev/inet/pkg/tcpip"
	"gvisor.dev/inet/pkg/tcpip/header"
	"gvisor.dev/inet/pkg/tcpip/link/ethernet"
	"gvisor.dev/inet/pkg/tcpip/link/loopback"
	"gvisor.dev/inet/pkg/tcpip/ports"
	"gvisor.dev/inet/pkg/tcpip/stack"
)

const (
	// ProtocolName is the string representation of the ipv4 protocol name.
	ProtocolName = "ip4"

	// ProtocolNumber is the ipv4 protocol number.
	ProtocolNumber = header.IPv4ProtocolNumber

	// DefaultTTL is the default time-to-live value for this endpoint.
	DefaultTTL = 64
)

// TransportHandler receives the payload of an inbound packet carrying its
// protocol number. The read cursor of pkt is positioned after the IPv4 header
// and the source address has been appended to the address trail.
type TransportHandler func(iface *InterfaceState, ip header.IPv4, pkt *stack.PacketBuffer) *tcpip.Error

// LinkAddressResolver maps next-hop addresses to hardware addresses.
type LinkAddressResolver interface {
	// Resolve blocks until addr is resolved on iface, the resolver's
	// timeout elapses or ctx is done.
	Resolve(ctx context.Context, iface *InterfaceState, addr tcpip.Address) (tcpip.LinkAddress, *tcpip.Error)

	// Announce sends a resolution request for addr without waiting for the
	// reply.
	Announce(iface *InterfaceState, addr tcpip.Address) *tcpip.Error
}

// InterfaceHook is run for every interface state, existing and future.
type InterfaceHook func(iface *InterfaceState) *tcpip.Error

// Options holds the configuration of the master state.
type Options struct {
	// DefaultTTL is the TTL of new interfaces. Zero means DefaultTTL.
	DefaultTTL uint8
}

// State is the stack-wide master state of the IPv4 suite.
type State struct {
	stack      *stack.Stack
	defaultTTL uint8
	logger     log.Logger
	id         atomic.Uint32

	// UDPPorts and TCPPorts hold the bound transport ports.
	UDPPorts *ports.Table
	TCPPorts *ports.Table

	ifacesMu sync.Mutex
	ifaces   map[string]*InterfaceState
	hooks    []InterfaceHook

	routesMu sync.Mutex
	routes   *btree.BTreeG[StaticRoute]

	subnetsMu sync.Mutex
	subnets   *list.List

	handlersMu sync.RWMutex
	handlers   map[uint8]TransportHandler
	resolver   LinkAddressResolver
}

var _ stack.NetworkProtocol = (*State)(nil)

// Attach creates the master state and registers it with s under
// ProtocolName.
func Attach(s *stack.Stack, opts Options) (*State, *tcpip.Error) {
	ttl := opts.DefaultTTL
	if ttl == 0 {
		ttl = DefaultTTL
	}
	st := &State{
		stack:      s,
		defaultTTL: ttl,
		logger:     log.BasicRateLimitedLogger(time.Second),
		ifaces:     make(map[string]*InterfaceState),
		routes:     btree.NewG[StaticRoute](2, lessRoute),
		subnets:    list.New(),
		handlers:   make(map[uint8]TransportHandler),
	}
	validate := func(a tcpip.Address) bool {
		c, _ := Classify(a)
		return c != ClassInvalid
	}
	st.UDPPorts = ports.NewTable("udp", validate)
	st.TCPPorts = ports.NewTable("tcp", validate)
	st.handlers[header.ICMPv4ProtocolNumber] = st.handleICMP
	if err := s.RegisterNetworkProtocol(st); err != nil {
		return nil, err
	}
	return st, nil
}

// Name implements stack.NetworkProtocol.Name.
func (*State) Name() string { return ProtocolName }

// Number implements stack.NetworkProtocol.Number.
func (*State) Number() tcpip.NetworkProtocolNumber { return ProtocolNumber }

// Stack returns the stack the state is attached to.
func (s *State) Stack() *stack.Stack { return s.stack }

// Close implements stack.NetworkProtocol.Close. It fails with ErrBusy unless
// every table of the state is empty.
func (s *State) Close() *tcpip.Error {
	if s.UDPPorts.Len() != 0 || s.TCPPorts.Len() != 0 {
		return tcpip.ErrBusy
	}
	s.routesMu.Lock()
	routes := s.routes.Len()
	s.routesMu.Unlock()
	s.subnetsMu.Lock()
	subnets := s.subnets.Len()
	s.subnetsMu.Unlock()
	s.ifacesMu.Lock()
	ifaces := len(s.ifaces)
	s.ifacesMu.Unlock()
	if routes != 0 || subnets != 0 || ifaces != 0 {
		return tcpip.ErrBusy
	}
	return nil
}

// RegisterTransportHandler installs h for packets carrying protocol proto.
func (s *State) RegisterTransportHandler(proto uint8, h TransportHandler) *tcpip.Error {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	if _, ok := s.handlers[proto]; ok {
		return tcpip.ErrDuplicateProtocol
	}
	s.handlers[proto] = h
	return nil
}

// SetLinkAddressResolver installs the resolver used by route resolution.
func (s *State) SetLinkAddressResolver(r LinkAddressResolver) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.resolver = r
}

func (s *State) linkAddressResolver() LinkAddressResolver {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	return s.resolver
}

// AddInterfaceHook runs h on every existing interface state and on every
// interface state created afterwards.
func (s *State) AddInterfaceHook(h InterfaceHook) *tcpip.Error {
	s.ifacesMu.Lock()
	defer s.ifacesMu.Unlock()
	for _, iface := range s.ifaces {
		if err := h(iface); err != nil {
			return err
		}
	}
	s.hooks = append(s.hooks, h)
	return nil
}

// NextID returns the identification field of the next outbound packet.
func (s *State) NextID() uint16 {
	return uint16(s.id.Add(1))
}

func interfaceKey(id tcpip.NICID) string {
	return fmt.Sprintf("%s.%d", ProtocolName, id)
}

// Interface returns the state of the NIC with the given id, creating it and
// registering the ipv4 receive path on first use.
func (s *State) Interface(id tcpip.NICID) (*InterfaceState, *tcpip.Error) {
	key := interfaceKey(id)
	s.ifacesMu.Lock()
	defer s.ifacesMu.Unlock()
	if iface, ok := s.ifaces[key]; ok {
		return iface, nil
	}
	nic, err := s.stack.NIC(id)
	if err != nil {
		return nil, err
	}
	switch nic.Kind() {
	case stack.LinkEthernet:
		err = ethernet.Handshake(nic, ProtocolNumber, s.Receive)
	case stack.LinkLoopback:
		err = loopback.Handshake(nic, ProtocolNumber, s.Receive)
	default:
		err = tcpip.ErrNotSupported
	}
	if err != nil {
		return nil, err
	}
	iface := newInterfaceState(s, nic, key)
	for _, h := range s.hooks {
		if err := h(iface); err != nil {
			nic.UnregisterHandler(ProtocolNumber)
			return nil, err
		}
	}
	s.ifaces[key] = iface
	return iface, nil
}

// Interfaces returns every interface state, ordered by NIC id.
func (s *State) Interfaces() []*InterfaceState {
	s.ifacesMu.Lock()
	defer s.ifacesMu.Unlock()
	var ifaces []*InterfaceState
	for _, nic := range s.stack.NICs() {
		if iface, ok := s.ifaces[interfaceKey(nic.ID())]; ok {
			ifaces = append(ifaces, iface)
		}
	}
	return ifaces
}

// RemoveInterface tears down the state of the NIC with the given id. It fails
// with ErrBusy while ARP or ICMP queries are pending or DHCP state is
// attached.
func (s *State) RemoveInterface(id tcpip.NICID) *tcpip.Error {
	key := interfaceKey(id)
	s.ifacesMu.Lock()
	defer s.ifacesMu.Unlock()
	iface, ok := s.ifaces[key]
	if !ok {
		return tcpip.ErrUnknownNICID
	}
	if iface.arp.Len() != 0 || iface.icmp.Queries.Len() != 0 || iface.DHCPInfo() != nil {
		return tcpip.ErrBusy
	}
	s.removeSubnet(iface)
	iface.nic.UnregisterHandler(ProtocolNumber)
	iface.nic.UnregisterHandler(header.ARPProtocolNumber)
	delete(s.ifaces, key)
	return nil
}

// WriteHeader writes the link header and the 20-byte IPv4 header of a packet
// carrying payloadLen bytes of protocol proto along r. fragOffset is written
// to the flags/fragment offset field as is.
func (s *State) WriteHeader(pkt *stack.PacketBuffer, r Route, proto uint8, payloadLen int, id, fragOffset uint16) *tcpip.Error {
	if r.Iface == nil {
		return tcpip.ErrNoRoute
	}
	total := header.IPv4MinimumSize + payloadLen
	if payloadLen < 0 || total > 0xffff {
		return tcpip.ErrMessageTooLong
	}
	var err *tcpip.Error
	switch nic := r.Iface.nic; nic.Kind() {
	case stack.LinkEthernet:
		err = ethernet.WriteHeader(pkt, r.LinkAddr, ProtocolNumber)
	case stack.LinkLoopback:
		err = loopback.WriteHeader(pkt, ProtocolNumber, 0)
	default:
		err = tcpip.ErrNotSupported
	}
	if err != nil {
		return err
	}
	b, err := pkt.Reserve(header.IPv4MinimumSize)
	if err != nil {
		return err
	}
	header.IPv4(b).Encode(&header.IPv4Fields{
		TotalLength:    uint16(total),
		ID:             id,
		FragmentOffset: fragOffset,
		TTL:            r.TTL,
		Protocol:       proto,
		SrcAddr:        r.Iface.Address(),
		DstAddr:        r.Addr,
	})
	pkt.Log("ip4")
	return nil
}

// Send transmits a packet built with WriteHeader and counts the outcome.
func (s *State) Send(pkt *stack.PacketBuffer) *tcpip.Error {
	stats := s.stack.Stats()
	if err := pkt.Send(); err != nil {
		stats.IP.OutgoingPacketErrors.Increment()
		return err
	}
	stats.IP.PacketsSent.Increment()
	return nil
}

// Receive is the ipv4 receive path registered for ethertype 0x0800. It checks
// the header and its checksum, records the source address in the address
// trail and dispatches the payload by protocol number.
func (s *State) Receive(pkt *stack.PacketBuffer) *tcpip.Error {
	stats := s.stack.Stats()
	stats.IP.PacketsReceived.Increment()

	rem := pkt.Remaining()
	h := header.IPv4(rem)
	if !h.IsValid(len(rem)) {
		stats.IP.MalformedPacketsReceived.Increment()
		return tcpip.ErrMalformedHeader
	}
	if !h.IsChecksumValid() {
		stats.IP.MalformedPacketsReceived.Increment()
		return tcpip.ErrBadChecksum
	}
	b, _ := pkt.Read(int(h.HeaderLength()))
	ip := header.IPv4(b)
	pkt.Truncate(int(ip.PayloadLength()))
	pkt.Log("ip4")

	iface, err := s.Interface(pkt.NIC().ID())
	if err != nil {
		return err
	}
	pkt.AppendTrail([]byte(ip.SourceAddress()))

	s.handlersMu.RLock()
	handler, ok := s.handlers[ip.Protocol()]
	s.handlersMu.RUnlock()
	if !ok {
		stats.IP.UnknownProtocolRcvdPackets.Increment()
		stats.UnknownProtocolRcvdPackets.Increment()
		return tcpip.ErrUnknownProtocol
	}
	return handler(iface, ip, pkt)
}
