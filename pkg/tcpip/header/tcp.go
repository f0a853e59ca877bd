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

import "encoding/binary"

const (
	tcpSrcPort   = 0
	tcpDstPort   = 2
	tcpSeqNum    = 4
	tcpAckNum    = 8
	tcpDataOff   = 12
	tcpFlags     = 13
	tcpWinSize   = 14
	tcpChecksum  = 16
	tcpUrgentPtr = 18
)

// TCPMinimumSize is the size of a TCP header without options, the only shape
// that is written.
const TCPMinimumSize = 20

// TCPProtocolNumber is TCP's transport protocol number.
const TCPProtocolNumber = 6

// TCPFlags is the type of the flags byte in a TCP header.
type TCPFlags uint8

// Flags that may be set in a TCP segment.
const (
	TCPFlagFin TCPFlags = 1 << iota
	TCPFlagSyn
	TCPFlagRst
	TCPFlagPsh
	TCPFlagAck
	TCPFlagUrg
)

// TCPFields contains the fields of a TCP packet. It is used to describe the
// fields of a packet that needs to be encoded.
type TCPFields struct {
	SrcPort    uint16
	DstPort    uint16
	SeqNum     uint32
	AckNum     uint32
	Flags      TCPFlags
	WindowSize uint16
}

// TCP represents a TCP header stored in a byte array.
type TCP []byte

// SourcePort returns the "source port" field of the TCP header.
func (b TCP) SourcePort() uint16 {
	return binary.BigEndian.Uint16(b[tcpSrcPort:])
}

// DestinationPort returns the "destination port" field of the TCP header.
func (b TCP) DestinationPort() uint16 {
	return binary.BigEndian.Uint16(b[tcpDstPort:])
}

// SequenceNumber returns the "sequence number" field of the TCP header.
func (b TCP) SequenceNumber() uint32 {
	return binary.BigEndian.Uint32(b[tcpSeqNum:])
}

// Flags returns the flags field of the TCP header.
func (b TCP) Flags() TCPFlags {
	return TCPFlags(b[tcpFlags])
}

// DataOffset returns the "data offset" field of the TCP header in bytes.
func (b TCP) DataOffset() uint8 {
	return (b[tcpDataOff] >> 4) * 4
}

// Encode encodes all the fields of the TCP header. The checksum and urgent
// pointer are left zero.
func (b TCP) Encode(t *TCPFields) {
	binary.BigEndian.PutUint16(b[tcpSrcPort:], t.SrcPort)
	binary.BigEndian.PutUint16(b[tcpDstPort:], t.DstPort)
	binary.BigEndian.PutUint32(b[tcpSeqNum:], t.SeqNum)
	binary.BigEndian.PutUint32(b[tcpAckNum:], t.AckNum)
	b[tcpDataOff] = (TCPMinimumSize / 4) << 4
	b[tcpFlags] = uint8(t.Flags)
	binary.BigEndian.PutUint16(b[tcpWinSize:], t.WindowSize)
	binary.BigEndian.PutUint16(b[tcpChecksum:], 0)
	binary.BigEndian.PutUint16(b[tcpUrgentPtr:], 0)
}
