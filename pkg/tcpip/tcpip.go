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

// Package tcpip provides the types shared by every layer of the IPv4 suite:
// addresses, errors and statistics counters.
//
// The starting point is the creation of a stack with stack.New, followed by
// the attachment of the IPv4 layer (ipv4.Attach) and of the protocols layered
// on top of it (arp, udp, tcp, dhcp). Interfaces are configured through
// ipv4.State.SetIP or ipv4.State.Config.
package tcpip

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"strings"
	"sync/atomic"
)

// Error represents an error in the netstack error space. Using a special type
// ensures that errors outside of this space are not accidentally introduced.
type Error struct {
	msg string

	ignoreStats bool
}

// String implements fmt.Stringer.String.
func (e *Error) String() string {
	if e == nil {
		return "<nil>"
	}
	return e.msg
}

// Error implements error.Error.
func (e *Error) Error() string {
	return e.String()
}

// IgnoreStats indicates whether this error type should be included in failure
// counts in tcpip.Stats structs.
func (e *Error) IgnoreStats() bool {
	return e.ignoreStats
}

// Errors that can be returned by the network stack.
var (
	ErrUnknownProtocol      = &Error{msg: "unknown protocol"}
	ErrUnknownNICID         = &Error{msg: "unknown nic id"}
	ErrDuplicateNICID       = &Error{msg: "duplicate nic id"}
	ErrDuplicateAddress     = &Error{msg: "duplicate address"}
	ErrDuplicateProtocol    = &Error{msg: "duplicate protocol"}
	ErrNoRoute              = &Error{msg: "no route"}
	ErrAlreadyBound         = &Error{msg: "endpoint already bound", ignoreStats: true}
	ErrInvalidEndpointState = &Error{msg: "endpoint is in invalid state"}
	ErrNoPortAvailable      = &Error{msg: "no ports are available"}
	ErrPortInUse            = &Error{msg: "port is in use"}
	ErrBadLocalAddress      = &Error{msg: "bad local address"}
	ErrWouldBlock           = &Error{msg: "operation would block", ignoreStats: true}
	ErrTimeout              = &Error{msg: "operation timed out"}
	ErrAborted              = &Error{msg: "operation aborted"}
	ErrNotSupported         = &Error{msg: "operation not supported"}
	ErrNotConnected         = &Error{msg: "endpoint not connected"}
	ErrInvalidOptionValue   = &Error{msg: "invalid option value specified"}
	ErrNoLinkAddress        = &Error{msg: "no remote link address"}
	ErrBadAddress           = &Error{msg: "bad address"}
	ErrMessageTooLong       = &Error{msg: "message too long"}
	ErrNoBufferSpace        = &Error{msg: "no buffer space available"}
	ErrMalformedHeader      = &Error{msg: "header is malformed"}
	ErrBadChecksum          = &Error{msg: "checksum mismatch"}
	ErrResourceExhausted    = &Error{msg: "resource exhausted"}
	ErrBusy                 = &Error{msg: "resource busy"}
	ErrConnectionRefused    = &Error{msg: "connection was refused"}
)

// Address is a byte slice cast as a string that represents the address of a
// network node. IPv4 addresses are always 4 bytes long.
type Address string

// AddressMask is a bitmask for an address.
type AddressMask string

// String implements Stringer.
func (a AddressMask) String() string {
	return Address(a).String()
}

// IPv4 well-known addresses.
const (
	IPv4Any       Address = "\x00\x00\x00\x00"
	IPv4Broadcast Address = "\xff\xff\xff\xff"
)

// String implements the fmt.Stringer interface.
func (a Address) String() string {
	switch len(a) {
	case 4:
		return fmt.Sprintf("%d.%d.%d.%d", int(a[0]), int(a[1]), int(a[2]), int(a[3]))
	case 0:
		return ""
	default:
		return fmt.Sprintf("%x", []byte(a))
	}
}

// To4 converts the IPv4 address to a 4-byte representation. If the address is
// not an IPv4 address, To4 returns "".
func (a Address) To4() Address {
	if len(a) == 4 {
		return a
	}
	return ""
}

// Unspecified returns true if the address is empty or made of zero bytes.
func (a Address) Unspecified() bool {
	for i := 0; i < len(a); i++ {
		if a[i] != 0 {
			return false
		}
	}
	return true
}

// Uint32 returns the big-endian integer value of an IPv4 address. Invalid
// addresses map to zero.
func (a Address) Uint32() uint32 {
	if len(a) != 4 {
		return 0
	}
	return binary.BigEndian.Uint32([]byte(a))
}

// Mask returns a with every bit outside m cleared.
func (a Address) Mask(m AddressMask) Address {
	if len(a) != len(m) {
		return a
	}
	b := []byte(a)
	out := make([]byte, len(b))
	for i := range b {
		out[i] = b[i] & m[i]
	}
	return Address(out)
}

// AddrFromUint32 returns the IPv4 address with the given big-endian value.
func AddrFromUint32(v uint32) Address {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return Address(b[:])
}

// ParseAddress parses a dotted quad IPv4 address.
func ParseAddress(s string) (Address, error) {
	ip, err := netip.ParseAddr(s)
	if err != nil {
		return "", err
	}
	if !ip.Is4() {
		return "", fmt.Errorf("%q is not an IPv4 address", s)
	}
	b := ip.As4()
	return Address(b[:]), nil
}

// LinkAddress is a byte slice cast as a string that represents a link address.
// It is typically a 6-byte MAC address.
type LinkAddress string

// String implements the fmt.Stringer interface.
func (a LinkAddress) String() string {
	switch len(a) {
	case 6:
		return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", a[0], a[1], a[2], a[3], a[4], a[5])
	default:
		return fmt.Sprintf("%x", []byte(a))
	}
}

// ParseMACAddress parses an IEEE 802 address.
//
// It must be in the format aa:bb:cc:dd:ee:ff or aa-bb-cc-dd-ee-ff.
func ParseMACAddress(s string) (LinkAddress, error) {
	parts := strings.FieldsFunc(s, func(c rune) bool {
		return c == ':' || c == '-'
	})
	if len(parts) != 6 {
		return "", fmt.Errorf("inconsistent parts: %s", s)
	}
	addr := make([]byte, 0, len(parts))
	for _, part := range parts {
		if len(part) != 2 {
			return "", fmt.Errorf("invalid part %q in %s", part, s)
		}
		var u uint8
		if _, err := fmt.Sscanf(part, "%02x", &u); err != nil {
			return "", fmt.Errorf("invalid hex digits in %s: %v", s, err)
		}
		addr = append(addr, u)
	}
	return LinkAddress(addr), nil
}

// NICID is a number that uniquely identifies a NIC.
type NICID int32

// FullAddress represents a full transport node address, as required by the
// Bind and Send methods of the transport protocols.
type FullAddress struct {
	// NIC is the ID of the NIC this address refers to.
	//
	// This may not be used by all endpoint types.
	NIC NICID

	// Addr is the network address.
	Addr Address

	// Port is the transport port.
	Port uint16
}

// Bytes returns the 6-byte wire form of a: the address followed by the port in
// network byte order.
func (a FullAddress) Bytes() []byte {
	b := make([]byte, 0, 6)
	b = append(b, a.Addr.To4()...)
	for len(b) < 4 {
		b = append(b, 0)
	}
	return binary.BigEndian.AppendUint16(b, a.Port)
}

// FullAddressFromBytes is the inverse of FullAddress.Bytes.
func FullAddressFromBytes(b []byte) (FullAddress, bool) {
	if len(b) != 6 {
		return FullAddress{}, false
	}
	return FullAddress{
		Addr: Address(b[:4]),
		Port: binary.BigEndian.Uint16(b[4:]),
	}, true
}

func (a FullAddress) String() string {
	return fmt.Sprintf("%s:%d", a.Addr, a.Port)
}

// NetworkProtocolNumber is the EtherType of a network protocol in an Ethernet
// frame.
type NetworkProtocolNumber uint32

// TransportProtocolNumber is the number of a transport protocol.
type TransportProtocolNumber uint32

// A StatCounter keeps track of a statistic.
type StatCounter struct {
	count atomic.Uint64
}

// Increment adds one to the counter.
func (s *StatCounter) Increment() {
	s.IncrementBy(1)
}

// Value returns the current value of the counter.
func (s *StatCounter) Value() uint64 {
	return s.count.Load()
}

// IncrementBy increments the counter by v.
func (s *StatCounter) IncrementBy(v uint64) {
	s.count.Add(v)
}

func (s *StatCounter) String() string {
	return fmt.Sprintf("%d", s.Value())
}
