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

package dhcp

import (
	"time"

	"gvisor.dev/inet/pkg/tcpip"
	"gvisor.dev/inet/pkg/tcpip/network/ipv4"
)

// EnableServer makes the NIC with the given id hand out leases from the
// network of its configured address.
func (d *DHCP) EnableServer(id tcpip.NICID) *tcpip.Error {
	iface, err := d.state.Interface(id)
	if err != nil {
		return err
	}
	if !iface.Configured() {
		return tcpip.ErrInvalidEndpointState
	}
	d.info(iface)
	iface.SetDHCPServerEnabled(true)
	return nil
}

// Leases returns the active leases of the NIC with the given id, in slot
// order.
func (d *DHCP) Leases(id tcpip.NICID) ([]Lease, *tcpip.Error) {
	iface, err := d.state.Interface(id)
	if err != nil {
		return nil, err
	}
	info, ok := iface.DHCPInfo().(*Info)
	if !ok {
		return nil, nil
	}
	now := d.clock.Now()
	info.mu.Lock()
	defer info.mu.Unlock()
	var leases []Lease
	for i := range info.leases {
		if info.leases[i].active(now) {
			leases = append(leases, info.leases[i])
		}
	}
	return leases, nil
}

// leaseAddr returns the address handed out from slot i of a server whose
// address is base.
func leaseAddr(base tcpip.Address, i int) tcpip.Address {
	return tcpip.AddrFromUint32(base.Uint32()&^0xff | uint32(i+leaseHostBase))
}

// HandleServer implements udp.DHCPHandler.HandleServer. Messages reaching
// interfaces that do not serve are ignored.
func (d *DHCP) HandleServer(iface *ipv4.InterfaceState, from tcpip.FullAddress, payload []byte) *tcpip.Error {
	if !iface.DHCPServerEnabled() || !iface.Configured() {
		d.stats.Ignored.Increment()
		return nil
	}
	m, err := parse(payload)
	if err != nil {
		d.stats.Malformed.Increment()
		d.logger.Infof("dhcp: %s: dropping malformed message from %s", iface.Name(), from)
		return err
	}
	info := d.info(iface)
	now := d.clock.Now()
	switch m.typ {
	case Discover:
		return d.offer(iface, info, m, now)
	case Request:
		return d.ack(iface, info, m, now)
	case Release:
		d.release(iface, info, m)
		return nil
	default:
		d.stats.Ignored.Increment()
		return nil
	}
}

// reply returns the answer of type typ to req, assigning addr.
func (d *DHCP) reply(iface *ipv4.InterfaceState, typ MessageType, req *message, addr tcpip.Address) *message {
	cfg := Config{
		ServerAddress: iface.Address(),
		SubnetMask:    iface.Mask(),
		Gateway:       iface.Gateway(),
		LeaseLength:   d.leaseTime,
	}
	return &message{
		typ:       typ,
		xid:       req.xid,
		broadcast: req.broadcast,
		yiaddr:    addr,
		siaddr:    cfg.ServerAddress,
		chaddr:    req.chaddr,
		opts:      cfg.encode(),
	}
}

// unicast sends a server reply to addr at the hardware address linkAddr
// without resolving it.
func (d *DHCP) unicast(iface *ipv4.InterfaceState, addr tcpip.Address, linkAddr tcpip.LinkAddress, m *message) *tcpip.Error {
	if !isEthernet(iface) || linkAddr == "" {
		return d.broadcast(iface, ServerPort, ClientPort, m)
	}
	r := ipv4.Route{
		Addr:     addr,
		NextHop:  addr,
		LinkAddr: linkAddr,
		Iface:    iface,
		TTL:      iface.TTL(),
	}
	return d.udp.SendTo(r, ServerPort, ClientPort, m.encode())
}

// offer assigns the first free slot to the sender of a DISCOVER, or the slot
// it already holds, and offers its address.
func (d *DHCP) offer(iface *ipv4.InterfaceState, info *Info, m *message, now time.Time) *tcpip.Error {
	server := iface.Address()

	info.mu.Lock()
	slot := -1
	for i := range info.leases {
		if l := &info.leases[i]; l.active(now) && l.HWAddr == m.chaddr {
			slot = i
			break
		}
	}
	if slot < 0 {
		for i := range info.leases {
			if !info.leases[i].active(now) && leaseAddr(server, i) != server {
				slot = i
				break
			}
		}
	}
	if slot < 0 {
		info.mu.Unlock()
		d.stats.LeaseTableFull.Increment()
		d.logger.Warningf("dhcp: %s: lease table full, dropping DISCOVER from %s", iface.Name(), m.chaddr)
		return tcpip.ErrResourceExhausted
	}
	l := &info.leases[slot]
	*l = Lease{
		Addr:   leaseAddr(server, slot),
		Server: server,
		HWAddr: m.chaddr,
		Expiry: now.Add(d.leaseTime),
	}
	reply := d.reply(iface, Offer, m, l.Addr)
	info.mu.Unlock()

	d.stats.Offers.Increment()
	return d.unicast(iface, reply.yiaddr, m.chaddr, reply)
}

// ack confirms the lease named by a REQUEST, found at the slot given by the
// host octet of the requested address. Requests for absent leases are
// refused with a broadcast PNACK.
func (d *DHCP) ack(iface *ipv4.InterfaceState, info *Info, m *message, now time.Time) *tcpip.Error {
	server := iface.Address()
	if sid := m.opts.address(optDHCPServer); sid != "" && sid != server {
		// The client accepted another server's offer.
		d.stats.Ignored.Increment()
		return nil
	}
	addr := m.opts.address(optReqIPAddr)
	if addr == "" {
		addr = m.ciaddr
	}
	slot := hostOctet(addr) - leaseHostBase

	info.mu.Lock()
	var l *Lease
	if slot >= 0 && slot < LeaseSlots {
		l = &info.leases[slot]
	}
	if l == nil || !l.active(now) || l.Addr != addr || l.HWAddr != m.chaddr {
		info.mu.Unlock()
		d.stats.ServerNaks.Increment()
		nak := &message{
			typ:       Nak,
			xid:       m.xid,
			broadcast: true,
			chaddr:    m.chaddr,
			opts:      options{{optDHCPServer, []byte(server)}},
		}
		return d.broadcast(iface, ServerPort, ClientPort, nak)
	}
	l.Expiry = now.Add(d.leaseTime)
	reply := d.reply(iface, Ack, m, addr)
	info.mu.Unlock()

	d.stats.ServerAcks.Increment()
	return d.unicast(iface, addr, m.chaddr, reply)
}

// release frees the slot of the address given up by a RELEASE.
func (d *DHCP) release(iface *ipv4.InterfaceState, info *Info, m *message) {
	slot := hostOctet(m.ciaddr) - leaseHostBase
	if slot < 0 || slot >= LeaseSlots {
		d.stats.Ignored.Increment()
		return
	}
	info.mu.Lock()
	defer info.mu.Unlock()
	if l := &info.leases[slot]; l.Addr == m.ciaddr && l.HWAddr == m.chaddr {
		*l = Lease{}
		d.logger.Infof("dhcp: %s: %s released %s", iface.Name(), m.chaddr, m.ciaddr)
	}
}
