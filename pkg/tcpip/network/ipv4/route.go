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
	"context"

	"gvisor.dev/inet/pkg/tcpip"
	"gvisor.dev/inet/pkg/tcpip/header"
	"gvisor.dev/inet/pkg/tcpip/stack"
)

// Route is a resolved path to a destination. It is produced by FindRoute or
// FindBroadcastRoute and consumed by WriteHeader.
type Route struct {
	// Addr is the destination address.
	Addr tcpip.Address

	// NextHop is the address the link address was resolved for: Addr for
	// directly attached destinations, a gateway otherwise.
	NextHop tcpip.Address

	// LinkAddr is the hardware address of the next hop. It is empty on
	// loop-back interfaces.
	LinkAddr tcpip.LinkAddress

	// Iface is the outgoing interface.
	Iface *InterfaceState

	// TTL is the time-to-live of packets sent along the route.
	TTL uint8
}

// StaticRoute is an entry of the static route table.
type StaticRoute struct {
	// Network and Mask select the destinations of the route.
	Network tcpip.Address
	Mask    tcpip.AddressMask

	// Gateway is the next hop; 0.0.0.0 means on-link.
	Gateway tcpip.Address

	// NIC is the outgoing interface.
	NIC tcpip.NICID
}

// Match reports whether dest is selected by r.
func (r StaticRoute) Match(dest tcpip.Address) bool {
	return dest.Mask(r.Mask) == r.Network.Mask(r.Mask)
}

func lessRoute(a, b StaticRoute) bool {
	an, bn := a.Network.Uint32(), b.Network.Uint32()
	if an != bn {
		return an < bn
	}
	return tcpip.Address(a.Mask).Uint32() < tcpip.Address(b.Mask).Uint32()
}

// AddRoute inserts a static route. The network is stored masked.
func (s *State) AddRoute(r StaticRoute) *tcpip.Error {
	if r.Network.To4() == "" || len(r.Mask) != header.IPv4AddressSize {
		return tcpip.ErrBadAddress
	}
	if len(r.Gateway) == 0 {
		r.Gateway = tcpip.IPv4Any
	}
	if r.Gateway.To4() == "" {
		return tcpip.ErrBadAddress
	}
	if _, err := s.stack.NIC(r.NIC); err != nil {
		return err
	}
	r.Network = r.Network.Mask(r.Mask)
	s.routesMu.Lock()
	defer s.routesMu.Unlock()
	if s.routes.Has(r) {
		return tcpip.ErrDuplicateAddress
	}
	s.routes.ReplaceOrInsert(r)
	return nil
}

// RemoveRoute deletes the static route for network/mask.
func (s *State) RemoveRoute(network tcpip.Address, mask tcpip.AddressMask) *tcpip.Error {
	s.routesMu.Lock()
	defer s.routesMu.Unlock()
	if _, ok := s.routes.Delete(StaticRoute{Network: network.Mask(mask), Mask: mask}); !ok {
		return tcpip.ErrNoRoute
	}
	return nil
}

// Routes returns the static routes in table order.
func (s *State) Routes() []StaticRoute {
	s.routesMu.Lock()
	defer s.routesMu.Unlock()
	routes := make([]StaticRoute, 0, s.routes.Len())
	s.routes.Ascend(func(r StaticRoute) bool {
		routes = append(routes, r)
		return true
	})
	return routes
}

func (s *State) staticRoute(dest tcpip.Address) (StaticRoute, bool) {
	s.routesMu.Lock()
	defer s.routesMu.Unlock()
	var found StaticRoute
	ok := false
	s.routes.Ascend(func(r StaticRoute) bool {
		if r.Match(dest) {
			found, ok = r, true
			return false
		}
		return true
	})
	return found, ok
}

// subnetRoute returns the first directly attached subnet containing dest, or
// failing that the first subnet with a gateway.
func (s *State) subnetRoute(dest tcpip.Address) (Route, bool) {
	s.subnetsMu.Lock()
	defer s.subnetsMu.Unlock()
	for e := s.subnets.Front(); e != nil; e = e.Next() {
		sub := e.Value.(*Subnet)
		if sub.Contains(dest) {
			return Route{Addr: dest, NextHop: dest, Iface: sub.Iface}, true
		}
	}
	for e := s.subnets.Front(); e != nil; e = e.Next() {
		sub := e.Value.(*Subnet)
		if !sub.Gateway.Unspecified() {
			return Route{Addr: dest, NextHop: sub.Gateway, Iface: sub.Iface}, true
		}
	}
	return Route{}, false
}

// FindRoute resolves the outgoing interface and next-hop hardware address for
// dest. Static routes are consulted first, then the directly attached
// subnets, then any subnet with a gateway. On Ethernet interfaces the next hop
// is resolved with the link address resolver, which may block; a cached
// gateway hardware address is used without asking.
func (s *State) FindRoute(ctx context.Context, dest tcpip.Address) (Route, *tcpip.Error) {
	if dest.To4() == "" {
		return Route{}, tcpip.ErrBadAddress
	}
	var r Route
	if sr, ok := s.staticRoute(dest); ok {
		iface, err := s.Interface(sr.NIC)
		if err != nil {
			return Route{}, err
		}
		r = Route{Addr: dest, NextHop: dest, Iface: iface}
		if !sr.Gateway.Unspecified() {
			r.NextHop = sr.Gateway
		}
	} else if sub, ok := s.subnetRoute(dest); ok {
		r = sub
	} else {
		return Route{}, tcpip.ErrNoRoute
	}
	r.TTL = r.Iface.TTL()
	if err := s.resolveLink(ctx, &r); err != nil {
		return Route{}, err
	}
	return r, nil
}

func (s *State) resolveLink(ctx context.Context, r *Route) *tcpip.Error {
	switch r.Iface.nic.Kind() {
	case stack.LinkLoopback:
		return nil
	case stack.LinkEthernet:
	default:
		return tcpip.ErrNotSupported
	}
	if r.Addr == tcpip.IPv4Broadcast || (r.Iface.Configured() && r.Addr == r.Iface.Broadcast()) {
		r.LinkAddr = header.EthernetBroadcastAddress
		return nil
	}
	if r.NextHop == r.Iface.Gateway() {
		if la := r.Iface.GatewayLinkAddress(); la != "" {
			r.LinkAddr = la
			return nil
		}
	}
	res := s.linkAddressResolver()
	if res == nil {
		return tcpip.ErrNoLinkAddress
	}
	la, err := res.Resolve(ctx, r.Iface, r.NextHop)
	if err != nil {
		return err
	}
	r.LinkAddr = la
	return nil
}

// FindBroadcastRoute returns a route to the broadcast address of the NIC with
// the given id; the all-ones address when the interface is unconfigured. It
// never resolves link addresses.
func (s *State) FindBroadcastRoute(id tcpip.NICID) (Route, *tcpip.Error) {
	iface, err := s.Interface(id)
	if err != nil {
		return Route{}, err
	}
	r := Route{
		Addr:  iface.Broadcast(),
		Iface: iface,
		TTL:   iface.TTL(),
	}
	r.NextHop = r.Addr
	switch iface.nic.Kind() {
	case stack.LinkEthernet:
		r.LinkAddr = header.EthernetBroadcastAddress
	case stack.LinkLoopback:
	default:
		return Route{}, tcpip.ErrNotSupported
	}
	return r, nil
}
