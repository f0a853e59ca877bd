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

// LoopbackSize is the size of the loop-back link header: a 16-bit ethertype
// followed by 16 bits of flags.
const LoopbackSize = 4

// Loopback represents a loop-back link header stored in a byte array.
type Loopback []byte

// Type returns the ethertype carried by the header.
func (b Loopback) Type() tcpip.NetworkProtocolNumber {
	return tcpip.NetworkProtocolNumber(binary.BigEndian.Uint16(b[0:]))
}

// Flags returns the flags field.
func (b Loopback) Flags() uint16 {
	return binary.BigEndian.Uint16(b[2:])
}

// Encode writes ethertype and flags.
func (b Loopback) Encode(t tcpip.NetworkProtocolNumber, flags uint16) {
	binary.BigEndian.PutUint16(b[0:], uint16(t))
	binary.BigEndian.PutUint16(b[2:], flags)
}
