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

package tcpip

import "reflect"

// LinkStats collects link-layer statistics.
type LinkStats struct {
	// FramesReceived is the number of frames delivered by link endpoints.
	FramesReceived StatCounter

	// FramesSent is the number of frames handed to link endpoints.
	FramesSent StatCounter

	// UnknownEtherType is the number of frames dropped because no handler
	// was registered for their ethertype.
	UnknownEtherType StatCounter

	// MalformedFrames is the number of frames dropped because their link
	// header could not be parsed.
	MalformedFrames StatCounter
}

// ARPStats collects ARP-specific stats.
type ARPStats struct {
	// RequestsSent is the number of ARP requests sent.
	RequestsSent StatCounter

	// RequestsReceived is the number of ARP requests received.
	RequestsReceived StatCounter

	// RepliesSent is the number of ARP replies sent.
	RepliesSent StatCounter

	// RepliesReceived is the number of ARP replies received.
	RepliesReceived StatCounter

	// MalformedPacketsReceived is the number of ARP packets that were dropped
	// due to being malformed.
	MalformedPacketsReceived StatCounter

	// Resolved is the number of pending queries answered by a reply.
	Resolved StatCounter

	// Timeouts is the number of pending queries that gave up waiting.
	Timeouts StatCounter

	// GatewayCached is the number of times a gateway hardware address was
	// recorded from a reply.
	GatewayCached StatCounter
}

// IPStats collects IP-specific stats.
type IPStats struct {
	// PacketsReceived is the number of IP packets received.
	PacketsReceived StatCounter

	// PacketsSent is the number of IP packets sent.
	PacketsSent StatCounter

	// MalformedPacketsReceived is the number of IP packets dropped because
	// of a bad version, a bad length or a checksum mismatch.
	MalformedPacketsReceived StatCounter

	// UnknownProtocolRcvdPackets is the number of IP packets dropped because
	// no handler was registered for their protocol number.
	UnknownProtocolRcvdPackets StatCounter

	// OutgoingPacketErrors is the number of IP packets that could not be
	// built or sent.
	OutgoingPacketErrors StatCounter
}

// ICMPStats collects ICMP echo stats.
type ICMPStats struct {
	// EchoRequestsSent is the number of echo requests sent.
	EchoRequestsSent StatCounter

	// EchoRequestsReceived is the number of echo requests received.
	EchoRequestsReceived StatCounter

	// EchoRepliesReceived is the number of echo replies received.
	EchoRepliesReceived StatCounter

	// UnmatchedReplies is the number of echo replies that matched no
	// pending ping.
	UnmatchedReplies StatCounter

	// Invalid is the number of ICMP packets dropped as malformed.
	Invalid StatCounter
}

// UDPStats collects UDP-specific stats.
type UDPStats struct {
	// PacketsReceived is the number of UDP datagrams received.
	PacketsReceived StatCounter

	// UnknownPortErrors is the number of incoming UDP datagrams dropped
	// because they did not have any listeners in the port.
	UnknownPortErrors StatCounter

	// MalformedPacketsReceived is the number of incoming UDP datagrams
	// dropped due to the UDP header being in a malformed state.
	MalformedPacketsReceived StatCounter

	// ReceiveBufferErrors is the number of datagrams dropped because the
	// socket queue was full.
	ReceiveBufferErrors StatCounter

	// PacketsSent is the number of UDP datagrams (fragments) sent.
	PacketsSent StatCounter

	// PacketSendErrors is the number of datagrams that failed to send.
	PacketSendErrors StatCounter
}

// TCPStats collects TCP-specific stats.
type TCPStats struct {
	// SegmentsReceived is the number of TCP segments received and dropped.
	SegmentsReceived StatCounter

	// SegmentSendErrors is the number of segments that could not be sent.
	SegmentSendErrors StatCounter
}

// DHCPStats collects DHCP client and server stats.
type DHCPStats struct {
	// Discovers is the number of DISCOVER messages sent.
	Discovers StatCounter

	// Requests is the number of REQUEST messages sent.
	Requests StatCounter

	// Acks is the number of PACK messages accepted by the client.
	Acks StatCounter

	// Naks is the number of PNACK messages accepted by the client.
	Naks StatCounter

	// Ignored is the number of messages dropped because of a transaction id
	// or state mismatch.
	Ignored StatCounter

	// Malformed is the number of messages dropped as malformed.
	Malformed StatCounter

	// Offers is the number of OFFER messages sent by the server.
	Offers StatCounter

	// ServerAcks is the number of PACK messages sent by the server.
	ServerAcks StatCounter

	// ServerNaks is the number of PNACK messages sent by the server.
	ServerNaks StatCounter

	// LeaseTableFull is the number of DISCOVER messages dropped because no
	// lease slot was free.
	LeaseTableFull StatCounter
}

// Stats holds statistics about the networking stack.
//
// All fields are optional.
type Stats struct {
	// UnknownProtocolRcvdPackets is the number of packets received by the
	// stack that were for an unknown or unsupported protocol.
	UnknownProtocolRcvdPackets StatCounter

	// MalformedRcvdPackets is the number of packets received by the stack
	// that were deemed malformed.
	MalformedRcvdPackets StatCounter

	Link LinkStats
	ARP  ARPStats
	IP   IPStats
	ICMP ICMPStats
	UDP  UDPStats
	TCP  TCPStats
	DHCP DHCPStats
}

// VisitCounters calls fn for every StatCounter in s with its dotted path,
// for example "ARP.RequestsSent".
func (s *Stats) VisitCounters(fn func(name string, c *StatCounter)) {
	visitCounters(reflect.ValueOf(s).Elem(), "", fn)
}

var statCounterType = reflect.TypeOf(StatCounter{})

func visitCounters(v reflect.Value, prefix string, fn func(string, *StatCounter)) {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		f := v.Field(i)
		name := t.Field(i).Name
		if prefix != "" {
			name = prefix + "." + name
		}
		switch {
		case f.Type() == statCounterType:
			fn(name, f.Addr().Interface().(*StatCounter))
		case f.Kind() == reflect.Struct:
			visitCounters(f, name, fn)
		}
	}
}
