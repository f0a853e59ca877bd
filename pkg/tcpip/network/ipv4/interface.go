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

package ipv4

import (
	"container/list"
	"sync"

	"gvisor.dev/inet/pkg/tcpip"
	"gvisor.dev/inet/pkg/tcpip/stack"
)

// IcmpInfo holds the ICMP state of an interface.
type IcmpInfo struct {
	// Queries holds the outstanding pings keyed by echo identifier.
	Queries *stack.QueryTable[uint16]
}

// InterfaceState is the IPv4 state of one NIC.
type InterfaceState struct {
	state *State
	nic   *stack.NIC
	name  string
	arp   *stack.QueryTable[uint32]
	icmp  IcmpInfo

	mu              sync.Mutex
	ttl             uint8
	addr            tcpip.Address
	mask            tcpip.AddressMask
	gateway         tcpip.Address
	broadcast       tcpip.Address
	dhcp            bool
	dhcpServer      bool
	gatewayLinkAddr tcpip.LinkAddress
	dhcpInfo        any

	// subnet is this interface's entry in State.subnets. It is guarded by
	// State.subnetsMu.
	subnet *list.Element
}

func newInterfaceState(s *State, nic *stack.NIC, name string) *InterfaceState {
	return &InterfaceState{
		state:     s,
		nic:       nic,
		name:      name,
		arp:       stack.NewQueryTable[uint32](),
		icmp:      IcmpInfo{Queries: stack.NewQueryTable[uint16]()},
		ttl:       s.defaultTTL,
		addr:      tcpip.IPv4Any,
		mask:      tcpip.AddressMask(tcpip.IPv4Any),
		gateway:   tcpip.IPv4Any,
		broadcast: tcpip.IPv4Broadcast,
	}
}

// Name returns the key of the interface in the master state, e.g. "ip4.1".
func (i *InterfaceState) Name() string { return i.name }

// NIC returns the NIC the state belongs to.
func (i *InterfaceState) NIC() *stack.NIC { return i.nic }

// State returns the master state.
func (i *InterfaceState) State() *State { return i.state }

// ARPQueries returns the table of in-flight ARP queries, keyed by target
// address.
func (i *InterfaceState) ARPQueries() *stack.QueryTable[uint32] { return i.arp }

// ICMP returns the ICMP state of the interface.
func (i *InterfaceState) ICMP() *IcmpInfo { return &i.icmp }

// TTL returns the time-to-live of packets sent on the interface.
func (i *InterfaceState) TTL() uint8 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.ttl
}

// SetTTL sets the time-to-live of packets sent on the interface.
func (i *InterfaceState) SetTTL(ttl uint8) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.ttl = ttl
}

// Address returns the configured address, 0.0.0.0 when unconfigured.
func (i *InterfaceState) Address() tcpip.Address {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.addr
}

// Mask returns the configured subnet mask.
func (i *InterfaceState) Mask() tcpip.AddressMask {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.mask
}

// Gateway returns the configured gateway, 0.0.0.0 when none.
func (i *InterfaceState) Gateway() tcpip.Address {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.gateway
}

// Broadcast returns the broadcast address of the configured subnet, or the
// all-ones address when unconfigured.
func (i *InterfaceState) Broadcast() tcpip.Address {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.broadcast
}

// Configured reports whether an address is set.
func (i *InterfaceState) Configured() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return !i.addr.Unspecified()
}

// DHCPEnabled reports whether the interface acquires its address with DHCP.
func (i *InterfaceState) DHCPEnabled() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.dhcp
}

// SetDHCPEnabled sets whether the interface acquires its address with DHCP.
func (i *InterfaceState) SetDHCPEnabled(v bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.dhcp = v
}

// DHCPServerEnabled reports whether the interface answers DHCP clients.
func (i *InterfaceState) DHCPServerEnabled() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.dhcpServer
}

// SetDHCPServerEnabled sets whether the interface answers DHCP clients.
func (i *InterfaceState) SetDHCPServerEnabled(v bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.dhcpServer = v
}

// GatewayLinkAddress returns the cached hardware address of the gateway.
func (i *InterfaceState) GatewayLinkAddress() tcpip.LinkAddress {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.gatewayLinkAddr
}

// CacheGatewayLinkAddress records linkAddr as the hardware address of the
// gateway if from is the configured gateway. It reports whether it did.
func (i *InterfaceState) CacheGatewayLinkAddress(from tcpip.Address, linkAddr tcpip.LinkAddress) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.gateway.Unspecified() || from != i.gateway {
		return false
	}
	i.gatewayLinkAddr = linkAddr
	return true
}

// DHCPInfo returns the DHCP state attached to the interface, or nil.
func (i *InterfaceState) DHCPInfo() any {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.dhcpInfo
}

// SetDHCPInfo attaches DHCP state to the interface. Passing nil detaches it.
func (i *InterfaceState) SetDHCPInfo(v any) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.dhcpInfo = v
}
