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


package header

import (
	"encoding/binary"

	"gvisor.dev/inet/pkg/tcpip"
)

const (
	// ARPProtocolNumber is the ethertype of ARP.
	ARPProtocolNumber tcpip.NetworkProtocolNumber = 0x0806

	// ARPSize is the size of an IPv4-over-Ethernet ARP packet.
	ARPSize = arpTPA + IPv4AddressSize
)

// Offsets of the fields of an IPv4-over-Ethernet ARP packet.
const (
	arpHType = 0
	arpPType = 2
	arpHLen  = 4
	arpPLen  = 5
	arpOp    = 6
	arpSHA   = 8
	arpSPA   = arpSHA + EthernetAddressSize
	arpTHA   = arpSPA + IPv4AddressSize
	arpTPA   = arpTHA + EthernetAddressSize

	arpHardwareEthernet = 1
)

// ARPOp is an ARP opcode.
type ARPOp uint16

// Opcodes used on IPv4 over Ethernet.
const (
	ARPRequest ARPOp = 1
	ARPReply   ARPOp = 2
)

// ARPFields describes an IPv4-over-Ethernet ARP packet to be encoded.
type ARPFields struct {
	Op         ARPOp
	SenderLink tcpip.LinkAddress
	SenderAddr tcpip.Address
	TargetLink tcpip.LinkAddress
	TargetAddr tcpip.Address
}

// ARP is an IPv4-over-Ethernet ARP packet.
type ARP []byte

// Op returns the opcode.
func (a ARP) Op() ARPOp { return ARPOp(binary.BigEndian.Uint16(a[arpOp:])) }

// SenderLinkAddress returns the hardware address of the sender.
func (a ARP) SenderLinkAddress() tcpip.LinkAddress {
	return tcpip.LinkAddress(a[arpSHA:arpSPA])
}

// SenderAddress returns the IPv4 address of the sender.
func (a ARP) SenderAddress() tcpip.Address { return tcpip.Address(a[arpSPA:arpTHA]) }

// TargetAddress returns the IPv4 address being resolved or announced.
func (a ARP) TargetAddress() tcpip.Address { return tcpip.Address(a[arpTPA:ARPSize]) }

// Encode writes f. A missing target link address is zeroed.
func (a ARP) Encode(f *ARPFields) {
	binary.BigEndian.PutUint16(a[arpHType:], arpHardwareEthernet)
	binary.BigEndian.PutUint16(a[arpPType:], uint16(IPv4ProtocolNumber))
	a[arpHLen] = EthernetAddressSize
	a[arpPLen] = IPv4AddressSize
	binary.BigEndian.PutUint16(a[arpOp:], uint16(f.Op))
	copy(a[arpSHA:arpSPA], f.SenderLink)
	copy(a[arpSPA:arpTHA], f.SenderAddr)
	clear(a[arpTHA:arpTPA])
	copy(a[arpTHA:arpTPA], f.TargetLink)
	copy(a[arpTPA:ARPSize], f.TargetAddr)
}

// IsValid reports whether a is long enough and describes IPv4 over Ethernet.
func (a ARP) IsValid() bool {
	return len(a) >= ARPSize &&
		binary.BigEndian.Uint16(a[arpHType:]) == arpHardwareEthernet &&
		binary.BigEndian.Uint16(a[arpPType:]) == uint16(IPv4ProtocolNumber) &&
		a[arpHLen] == EthernetAddressSize &&
		a[arpPLen] == IPv4AddressSize
}
