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
	// EthernetMinimumSize is the size of an Ethernet II header: two hardware
	// addresses followed by the ethertype.
	EthernetMinimumSize = 2*EthernetAddressSize + 2

	// EthernetAddressSize is the size, in bytes, of an Ethernet address.
	EthernetAddressSize = 6

	// EthernetBroadcastAddress is the link-layer broadcast address.
	EthernetBroadcastAddress = tcpip.LinkAddress("\xff\xff\xff\xff\xff\xff")
)

// EthernetFields describes the header of an outbound frame.
type EthernetFields struct {
	SrcAddr tcpip.LinkAddress
	DstAddr tcpip.LinkAddress
	Type    tcpip.NetworkProtocolNumber
}

// Ethernet is the header of an Ethernet II frame. The destination comes first,
// then the source, then the ethertype.
type Ethernet []byte

// DestinationAddress returns the hardware address the frame is sent to.
func (b Ethernet) DestinationAddress() tcpip.LinkAddress {
	return tcpip.LinkAddress(b[:EthernetAddressSize])
}

// SourceAddress returns the hardware address of the sender.
func (b Ethernet) SourceAddress() tcpip.LinkAddress {
	return tcpip.LinkAddress(b[EthernetAddressSize : 2*EthernetAddressSize])
}

// Type returns the ethertype of the payload.
func (b Ethernet) Type() tcpip.NetworkProtocolNumber {
	return tcpip.NetworkProtocolNumber(binary.BigEndian.Uint16(b[2*EthernetAddressSize:]))
}

// Encode writes f. Addresses shorter than EthernetAddressSize leave the
// remaining bytes untouched.
func (b Ethernet) Encode(f *EthernetFields) {
	copy(b[:EthernetAddressSize], f.DstAddr)
	copy(b[EthernetAddressSize:2*EthernetAddressSize], f.SrcAddr)
	binary.BigEndian.PutUint16(b[2*EthernetAddressSize:], uint16(f.Type))
}
