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

// Package ethernet provides the Ethernet framing of NICs: writing the header of
// outbound frames, parsing it on inbound frames and registering receive
// callbacks per ethertype.
package ethernet

import (
	"gvisor.dev/inet/pkg/tcpip"
	"gvisor.dev/inet/pkg/tcpip/header"
	"gvisor.dev/inet/pkg/tcpip/stack"
)

// Framer implements stack.LinkFramer for Ethernet II frames.
type Framer struct{}

var _ stack.LinkFramer = Framer{}

// Kind implements stack.LinkFramer.Kind.
func (Framer) Kind() stack.LinkKind { return stack.LinkEthernet }

// HeaderLength implements stack.LinkFramer.HeaderLength.
func (Framer) HeaderLength() int { return header.EthernetMinimumSize }

// ParseHeader implements stack.LinkFramer.ParseHeader.
func (Framer) ParseHeader(pkt *stack.PacketBuffer) (tcpip.NetworkProtocolNumber, *tcpip.Error) {
	b, ok := pkt.Read(header.EthernetMinimumSize)
	if !ok {
		return 0, tcpip.ErrMalformedHeader
	}
	eth := header.Ethernet(b)
	pkt.Log("eth")
	return eth.Type(), nil
}

// WriteHeader writes an Ethernet header addressed to dst at the write cursor of
// pkt. The source is the hardware address of the NIC of pkt.
func WriteHeader(pkt *stack.PacketBuffer, dst tcpip.LinkAddress, ethertype tcpip.NetworkProtocolNumber) *tcpip.Error {
	if len(dst) != header.EthernetAddressSize {
		return tcpip.ErrNoLinkAddress
	}
	b, err := pkt.Reserve(header.EthernetMinimumSize)
	if err != nil {
		return err
	}
	header.Ethernet(b).Encode(&header.EthernetFields{
		SrcAddr: pkt.NIC().LinkAddress(),
		DstAddr: dst,
		Type:    ethertype,
	})
	return nil
}

// Handshake registers h as the receive callback of nic for ethertype.
func Handshake(nic *stack.NIC, ethertype tcpip.NetworkProtocolNumber, h stack.PacketHandler) *tcpip.Error {
	if nic.Kind() != stack.LinkEthernet {
		return tcpip.ErrNotSupported
	}
	nic.RegisterHandler(ethertype, h)
	return nil
}
