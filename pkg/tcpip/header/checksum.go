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

// Package header provides the implementation of the encoding and decoding of
// network protocol headers.
package header

import (
	"encoding/binary"

	"gvisor.dev/inet/pkg/tcpip"
	"gvisor.dev/inet/pkg/tcpip/checksum"
)

// PseudoHeaderChecksum calculates the pseudo-header checksum for the given
// source and destination addresses, protocol and length: the 12 bytes that
// precede a UDP header in its checksum.
func PseudoHeaderChecksum(protocol uint8, srcAddr, dstAddr tcpip.Address, totalLen uint16) uint16 {
	var b [12]byte
	copy(b[0:4], srcAddr)
	copy(b[4:8], dstAddr)
	b[8] = 0
	b[9] = protocol
	binary.BigEndian.PutUint16(b[10:], totalLen)
	return checksum.Checksum(b[:], 0)
}
