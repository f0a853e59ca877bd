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
	"strconv"
	"strings"

	"gvisor.dev/inet/pkg/log"
	"gvisor.dev/inet/pkg/tcpip"
	"gvisor.dev/inet/pkg/tcpip/header"
	"gvisor.dev/inet/pkg/tcpip/stack"
)

// AddressClass is the classful category of an IPv4 address.
type AddressClass int

// Address classes. Classes D and E are reported as ClassInvalid.
const (
	ClassAny AddressClass = iota
	ClassA
	ClassB
	ClassC
	ClassLoopback
	ClassInvalid
)

func (c AddressClass) String() string {
	switch c {
	case ClassAny:
		return "any"
	case ClassA:
		return "A"
	case ClassB:
		return "B"
	case ClassC:
		return "C"
	case ClassLoopback:
		return "loopback"
	default:
		return "invalid"
	}
}

const (
	maskA tcpip.AddressMask = "\xff\x00\x00\x00"
	maskB tcpip.AddressMask = "\xff\xff\x00\x00"
	maskC tcpip.AddressMask = "\xff\xff\xff\x00"
)

// Classify returns the class of addr and the subnet mask implied by it.
func Classify(addr tcpip.Address) (AddressClass, tcpip.AddressMask) {
	if len(addr) != header.IPv4AddressSize {
		return ClassInvalid, ""
	}
	switch b := addr[0]; {
	case addr.Unspecified():
		return ClassAny, tcpip.AddressMask(tcpip.IPv4Any)
	case b == 127:
		return ClassLoopback, maskA
	case b < 128:
		return ClassA, maskA
	case b < 192:
		return ClassB, maskB
	case b < 224:
		return ClassC, maskC
	default:
		return ClassInvalid, ""
	}
}

// Subnet is a directly attached network.
type Subnet struct {
	Iface     *InterfaceState
	Addr      tcpip.Address
	Mask      tcpip.AddressMask
	Gateway   tcpip.Address
	Broadcast tcpip.Address
}

// Contains reports whether addr belongs to the subnet.
func (s *Subnet) Contains(addr tcpip.Address) bool {
	return addr.Mask(s.Mask) == s.Addr.Mask(s.Mask)
}

// Subnets returns a snapshot of the directly attached subnets in the order
// route resolution consults them.
func (s *State) Subnets() []Subnet {
	s.subnetsMu.Lock()
	defer s.subnetsMu.Unlock()
	subnets := make([]Subnet, 0, s.subnets.Len())
	for e := s.subnets.Front(); e != nil; e = e.Next() {
		subnets = append(subnets, *e.Value.(*Subnet))
	}
	return subnets
}

func (s *State) removeSubnet(iface *InterfaceState) {
	s.subnetsMu.Lock()
	defer s.subnetsMu.Unlock()
	if iface.subnet != nil {
		s.subnets.Remove(iface.subnet)
		iface.subnet = nil
	}
}

func (s *State) replaceSubnet(iface *InterfaceState, sub *Subnet) {
	s.subnetsMu.Lock()
	defer s.subnetsMu.Unlock()
	if iface.subnet != nil {
		s.subnets.Remove(iface.subnet)
		iface.subnet = nil
	}
	if sub != nil {
		iface.subnet = s.subnets.PushBack(sub)
	}
}

// SetIP configures the address of the NIC with the given id. An empty or
// all-zero mask is derived from the address class. Setting 0.0.0.0 clears the
// configuration. The address and the gateway are then announced with ARP so
// that the gateway's hardware address gets cached.
func (s *State) SetIP(id tcpip.NICID, addr tcpip.Address, mask tcpip.AddressMask, gw tcpip.Address) *tcpip.Error {
	iface, err := s.Interface(id)
	if err != nil {
		return err
	}
	class, classMask := Classify(addr)
	if class == ClassInvalid {
		return tcpip.ErrBadAddress
	}
	if len(mask) == 0 || tcpip.Address(mask).Unspecified() {
		mask = classMask
	}
	if len(mask) != header.IPv4AddressSize {
		return tcpip.ErrBadAddress
	}
	if len(gw) == 0 {
		gw = tcpip.IPv4Any
	}
	if gw.To4() == "" {
		return tcpip.ErrBadAddress
	}

	broadcast := tcpip.IPv4Broadcast
	if class != ClassAny {
		b := make([]byte, header.IPv4AddressSize)
		for i := range b {
			b[i] = addr[i] | ^mask[i]
		}
		broadcast = tcpip.Address(b)
	}

	iface.mu.Lock()
	if gw != iface.gateway || class == ClassAny {
		iface.gatewayLinkAddr = ""
	}
	iface.addr = addr
	iface.mask = mask
	iface.gateway = gw
	iface.broadcast = broadcast
	iface.mu.Unlock()

	if class == ClassAny {
		s.replaceSubnet(iface, nil)
		log.Infof("%s: address cleared", iface.name)
		return nil
	}
	s.replaceSubnet(iface, &Subnet{
		Iface:     iface,
		Addr:      addr,
		Mask:      mask,
		Gateway:   gw,
		Broadcast: broadcast,
	})
	log.Infof("%s: address %s mask %s gateway %s", iface.name, addr, mask, gw)

	if iface.nic.Kind() != stack.LinkEthernet {
		return nil
	}
	if r := s.linkAddressResolver(); r != nil {
		if err := r.Announce(iface, addr); err != nil {
			s.logger.Warningf("%s: announcing %s: %s", iface.name, addr, err)
		}
		if !gw.Unspecified() && gw != addr {
			if err := r.Announce(iface, gw); err != nil {
				s.logger.Warningf("%s: resolving gateway %s: %s", iface.name, gw, err)
			}
		}
	}
	return nil
}

// Config applies a configuration string to the NIC with the given id. The
// string holds space separated options:
//
//	addr=A.B.C.D   interface address
//	mask=A.B.C.D   subnet mask, derived from the address class if absent
//	gw=A.B.C.D     default gateway
//	ttl=N          time-to-live of outbound packets
//	dhcp           acquire the address with DHCP
//	dhcp-server    answer DHCP clients on this interface
func (s *State) Config(id tcpip.NICID, cfg string) *tcpip.Error {
	iface, err := s.Interface(id)
	if err != nil {
		return err
	}
	var (
		addr, gw   tcpip.Address
		mask       tcpip.AddressMask
		setIP      bool
		ttl        uint8
		dhcp       bool
		dhcpServer bool
	)
	for _, opt := range strings.Fields(cfg) {
		key, value, hasValue := strings.Cut(opt, "=")
		switch key {
		case "addr", "mask", "gw":
			if !hasValue {
				return tcpip.ErrInvalidOptionValue
			}
			a, perr := tcpip.ParseAddress(value)
			if perr != nil {
				return tcpip.ErrInvalidOptionValue
			}
			switch key {
			case "addr":
				addr = a
			case "mask":
				mask = tcpip.AddressMask(a)
			case "gw":
				gw = a
			}
			setIP = true
		case "ttl":
			v, perr := strconv.ParseUint(value, 10, 8)
			if !hasValue || perr != nil || v == 0 {
				return tcpip.ErrInvalidOptionValue
			}
			ttl = uint8(v)
		case "dhcp":
			dhcp = true
		case "dhcp-server":
			dhcpServer = true
		default:
			return tcpip.ErrInvalidOptionValue
		}
	}

	if ttl != 0 {
		iface.SetTTL(ttl)
	}
	iface.SetDHCPEnabled(dhcp)
	iface.SetDHCPServerEnabled(dhcpServer)
	if !setIP {
		return nil
	}
	if len(addr) == 0 {
		addr = iface.Address()
	}
	if len(gw) == 0 {
		gw = iface.Gateway()
	}
	return s.SetIP(id, addr, mask, gw)
}
