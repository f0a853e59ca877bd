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

// Package dhcp implements the DHCP client and the minimal DHCP server of the
// IPv4 suite, as described in RFC 2131. Both roles receive their datagrams
// directly from the UDP layer, bypassing sockets.
package dhcp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"gvisor.dev/inet/pkg/tcpip"
	"gvisor.dev/inet/pkg/tcpip/header"
)

const (
	// ServerPort is the well-known UDP port number for a DHCP server.
	ServerPort = 67
	// ClientPort is the well-known UDP port number for a DHCP client.
	ClientPort = 68
)

var magicCookie = []byte{99, 130, 83, 99} // RFC 1497

// headerBaseSize is the size of a DHCP packet, including the magic cookie.
//
// Note that a DHCP packet is required to have an 'end' option that takes
// up an extra byte, so the minimum DHCP packet size is headerBaseSize + 1.
const headerBaseSize = 240

type hdr []byte

func (h hdr) init() {
	h[1] = 0x01       // htype
	h[2] = 0x06       // hlen
	h[3] = 0x00       // hops
	h[8], h[9] = 0, 0 // secs
	copy(h[236:240], magicCookie)
}

func (h hdr) isValid() bool {
	if len(h) < headerBaseSize+1 {
		return false
	}
	if o := h.op(); o != opRequest && o != opReply {
		return false
	}
	if h[1] != 0x01 || h[2] != 0x06 {
		return false
	}
	return bytes.Equal(h[236:240], magicCookie)
}

func (h hdr) op() op              { return op(h[0]) }
func (h hdr) setOp(o op)          { h[0] = byte(o) }
func (h hdr) xid() uint32         { return binary.BigEndian.Uint32(h[4:8]) }
func (h hdr) setXID(x uint32)     { binary.BigEndian.PutUint32(h[4:8], x) }
func (h hdr) broadcast() bool     { return h[10]&0x80 != 0 }
func (h hdr) setBroadcast()       { h[10], h[11] = 0x80, 0x00 } // flags top bit
func (h hdr) ciaddr() []byte      { return h[12:16] }
func (h hdr) yiaddr() []byte      { return h[16:20] }
func (h hdr) siaddr() []byte      { return h[20:24] }
func (h hdr) chaddr() []byte      { return h[28:44] }
func (h hdr) hwAddr() []byte      { return h[28:34] }
func (h hdr) optionBytes() []byte { return h[headerBaseSize:] }

// options walks the option list until the end option. An option whose
// declared length runs past the buffer ends the walk and is dropped; the
// options read before it are returned.
func (h hdr) options() options {
	var opts options
	b := h.optionBytes()
	for i := 0; i < len(b); {
		switch optionCode(b[i]) {
		case optPad:
			i++
			continue
		case optEnd:
			return opts
		}
		if i+1 >= len(b) {
			return opts
		}
		l := int(b[i+1])
		if i+2+l > len(b) {
			return opts
		}
		opts = append(opts, option{
			code: optionCode(b[i]),
			body: b[i+2 : i+2+l],
		})
		i += 2 + l
	}
	return opts
}

func (h hdr) setOptions(opts options) {
	b := h.optionBytes()
	i := 0
	for _, opt := range opts {
		b[i] = byte(opt.code)
		b[i+1] = byte(len(opt.body))
		copy(b[i+2:i+2+len(opt.body)], opt.body)
		i += 2 + len(opt.body)
	}
	b[i] = byte(optEnd)
	i++
	clear(b[i:])
}

type option struct {
	code optionCode
	body []byte
}

type optionCode byte

const (
	optPad            optionCode = 0
	optSubnetMask     optionCode = 1
	optDefaultGateway optionCode = 3
	optReqIPAddr      optionCode = 50
	optLeaseTime      optionCode = 51
	optDHCPMsgType    optionCode = 53
	optDHCPServer     optionCode = 54
	optParamReq       optionCode = 55
	optMessage        optionCode = 56
	optEnd            optionCode = 255
)

func (code optionCode) lenValid(l int) bool {
	switch code {
	case optSubnetMask, optDefaultGateway, optReqIPAddr, optLeaseTime, optDHCPServer:
		return l == 4
	case optDHCPMsgType:
		return l == 1
	case optMessage:
		return l >= 1
	default:
		return true
	}
}

type options []option

func (opts options) get(code optionCode) ([]byte, bool) {
	for _, opt := range opts {
		if opt.code == code {
			if !code.lenValid(len(opt.body)) {
				return nil, false
			}
			return opt.body, true
		}
	}
	return nil, false
}

func (opts options) address(code optionCode) tcpip.Address {
	b, ok := opts.get(code)
	if !ok {
		return ""
	}
	return tcpip.Address(b)
}

func (opts options) messageType() (MessageType, bool) {
	b, ok := opts.get(optDHCPMsgType)
	if !ok {
		return 0, false
	}
	t := MessageType(b[0])
	if t < Discover || t > Inform {
		return 0, false
	}
	return t, true
}

func (opts options) leaseTime() (time.Duration, bool) {
	b, ok := opts.get(optLeaseTime)
	if !ok {
		return 0, false
	}
	return time.Duration(binary.BigEndian.Uint32(b)) * time.Second, true
}

func (opts options) len() int {
	l := 0
	for _, opt := range opts {
		l += 1 + 1 + len(opt.body) // code + len + body
	}
	return l + 1 // extra byte for the 'end' option
}

type op byte

const (
	opRequest op = 0x01
	opReply   op = 0x02
)

// MessageType is the DHCP Message Type from RFC 1533, section 9.4.
type MessageType byte

// DHCP message types.
const (
	Discover MessageType = 1
	Offer    MessageType = 2
	Request  MessageType = 3
	Decline  MessageType = 4
	Ack      MessageType = 5
	Nak      MessageType = 6
	Release  MessageType = 7
	Inform   MessageType = 8
)

var messageTypeNames = [...]string{
	Discover: "DISCOVER",
	Offer:    "OFFER",
	Request:  "REQUEST",
	Decline:  "DECLINE",
	Ack:      "PACK",
	Nak:      "PNACK",
	Release:  "RELEASE",
	Inform:   "INFORM",
}

func (t MessageType) String() string {
	if t >= Discover && t <= Inform {
		return messageTypeNames[t]
	}
	return fmt.Sprintf("MessageType(%d)", byte(t))
}

// op returns the BOOTP opcode carrying messages of type t.
func (t MessageType) op() op {
	switch t {
	case Offer, Ack, Nak:
		return opReply
	default:
		return opRequest
	}
}

// message is the decoded form of a DHCP packet.
type message struct {
	typ       MessageType
	xid       uint32
	broadcast bool
	ciaddr    tcpip.Address
	yiaddr    tcpip.Address
	siaddr    tcpip.Address
	chaddr    tcpip.LinkAddress
	opts      options
}

// Config is the address configuration carried by OFFER and PACK messages.
type Config struct {
	ServerAddress tcpip.Address     // address of the server
	SubnetMask    tcpip.AddressMask // client address subnet mask
	Gateway       tcpip.Address     // client default gateway
	LeaseLength   time.Duration     // length of the address lease
}

func (cfg Config) encode() options {
	var opts options
	if cfg.ServerAddress != "" {
		opts = append(opts, option{optDHCPServer, []byte(cfg.ServerAddress)})
	}
	if cfg.SubnetMask != "" {
		opts = append(opts, option{optSubnetMask, []byte(cfg.SubnetMask)})
	}
	if cfg.Gateway != "" && !cfg.Gateway.Unspecified() {
		opts = append(opts, option{optDefaultGateway, []byte(cfg.Gateway)})
	}
	if l := cfg.LeaseLength / time.Second; l != 0 {
		opts = append(opts, option{optLeaseTime, binary.BigEndian.AppendUint32(nil, uint32(l))})
	}
	return opts
}

func (m *message) config() Config {
	cfg := Config{
		ServerAddress: m.opts.address(optDHCPServer),
		SubnetMask:    tcpip.AddressMask(m.opts.address(optSubnetMask)),
		Gateway:       m.opts.address(optDefaultGateway),
	}
	if cfg.ServerAddress == "" {
		cfg.ServerAddress = m.siaddr
	}
	cfg.LeaseLength, _ = m.opts.leaseTime()
	return cfg
}

// encode serializes m. The message type option always comes first.
func (m *message) encode() []byte {
	opts := append(options{{optDHCPMsgType, []byte{byte(m.typ)}}}, m.opts...)
	h := make(hdr, headerBaseSize+opts.len())
	h.init()
	h.setOp(m.typ.op())
	h.setXID(m.xid)
	if m.broadcast {
		h.setBroadcast()
	}
	copy(h.ciaddr(), m.ciaddr)
	copy(h.yiaddr(), m.yiaddr)
	copy(h.siaddr(), m.siaddr)
	copy(h.chaddr(), m.chaddr)
	h.setOptions(opts)
	return h
}

// parse decodes b. Messages with a bad fixed header, without a message type
// or whose opcode does not match their type fail with ErrMalformedHeader.
func parse(b []byte) (*message, *tcpip.Error) {
	h := hdr(b)
	if !h.isValid() {
		return nil, tcpip.ErrMalformedHeader
	}
	opts := h.options()
	typ, ok := opts.messageType()
	if !ok || typ.op() != h.op() {
		return nil, tcpip.ErrMalformedHeader
	}
	return &message{
		typ:       typ,
		xid:       h.xid(),
		broadcast: h.broadcast(),
		ciaddr:    tcpip.Address(append([]byte(nil), h.ciaddr()...)),
		yiaddr:    tcpip.Address(append([]byte(nil), h.yiaddr()...)),
		siaddr:    tcpip.Address(append([]byte(nil), h.siaddr()...)),
		chaddr:    tcpip.LinkAddress(append([]byte(nil), h.hwAddr()...)),
		opts:      opts,
	}, nil
}

// hostOctet returns the last octet of an IPv4 address.
func hostOctet(a tcpip.Address) int {
	if len(a) != header.IPv4AddressSize {
		return -1
	}
	return int(a[3])
}
