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

package stack

import (
	"gvisor.dev/inet/pkg/log"
	"gvisor.dev/inet/pkg/tcpip"
)

// A PacketBuffer contains all the data of a network packet.
//
// Outbound packets are built front to back: every layer Reserves its header
// at the write cursor, then the payload is Written. Inbound packets are parsed
// front to back with Read. As each layer consumes its header it may append the
// peer address it learned to the address trail.
type PacketBuffer struct {
	nic *NIC

	// data holds the frame. For outbound packets len(data) is the write
	// cursor and cap(data) the capacity.
	data []byte

	// off is the read cursor of inbound packets.
	off int

	// trail accumulates peer addresses while parsing, outermost first.
	trail []byte

	// tags holds diagnostic annotations.
	tags []string
}

func newOutboundPacket(n *NIC, capacity int) *PacketBuffer {
	return &PacketBuffer{nic: n, data: make([]byte, 0, capacity)}
}

func newInboundPacket(n *NIC, frame []byte) *PacketBuffer {
	return &PacketBuffer{nic: n, data: frame}
}

// NewInboundPacket wraps an inbound frame for nic. It is used by protocols
// that loop packets back and by tests.
func NewInboundPacket(nic *NIC, frame []byte) *PacketBuffer {
	return newInboundPacket(nic, frame)
}

// NIC returns the NIC the packet was allocated for or received on.
func (p *PacketBuffer) NIC() *NIC { return p.nic }

// Reserve claims n bytes at the write cursor and returns them zeroed. It fails
// with ErrNoBufferSpace past the capacity of the buffer.
func (p *PacketBuffer) Reserve(n int) ([]byte, *tcpip.Error) {
	if p.data == nil {
		return nil, tcpip.ErrInvalidEndpointState
	}
	l := len(p.data)
	if n < 0 || l+n > cap(p.data) {
		return nil, tcpip.ErrNoBufferSpace
	}
	p.data = p.data[:l+n]
	b := p.data[l:]
	clear(b)
	return b, nil
}

// Write copies b at the write cursor.
func (p *PacketBuffer) Write(b []byte) *tcpip.Error {
	v, err := p.Reserve(len(b))
	if err != nil {
		return err
	}
	copy(v, b)
	return nil
}

// Read returns the next n unread bytes and advances the read cursor. It returns
// false, leaving the cursor untouched, if fewer than n bytes remain.
func (p *PacketBuffer) Read(n int) ([]byte, bool) {
	if n < 0 || p.off+n > len(p.data) {
		return nil, false
	}
	b := p.data[p.off : p.off+n]
	p.off += n
	return b, true
}

// Remaining returns the unread bytes without advancing the read cursor.
func (p *PacketBuffer) Remaining() []byte {
	return p.data[p.off:]
}

// Truncate drops unread bytes beyond n, for example link-layer padding past
// the length declared by a network header.
func (p *PacketBuffer) Truncate(n int) {
	if p.off+n < len(p.data) {
		p.data = p.data[:p.off+n]
	}
}

// Bytes returns the whole frame.
func (p *PacketBuffer) Bytes() []byte {
	return p.data
}

// Size returns the number of bytes written or received.
func (p *PacketBuffer) Size() int {
	return len(p.data)
}

// Send hands the built frame to the NIC. The buffer must not be used
// afterwards.
func (p *PacketBuffer) Send() *tcpip.Error {
	if p.data == nil {
		return tcpip.ErrInvalidEndpointState
	}
	frame := p.data
	p.data = nil
	return p.nic.writeFrame(frame)
}

// Trash releases the buffer and returns err, so that failure paths can free
// and fail in one statement.
func (p *PacketBuffer) Trash(err *tcpip.Error) *tcpip.Error {
	if log.IsLogging(log.Debug) && len(p.tags) > 0 {
		log.Debugf("trashing packet %v: %s", p.tags, err)
	}
	p.data = nil
	return err
}

// Log attaches a diagnostic annotation to the packet.
func (p *PacketBuffer) Log(tag string) {
	p.tags = append(p.tags, tag)
}

// Tags returns the annotations attached with Log.
func (p *PacketBuffer) Tags() []string {
	return p.tags
}

// AppendTrail records a peer address learned while parsing.
func (p *PacketBuffer) AppendTrail(b []byte) {
	p.trail = append(p.trail, b...)
}

// Trail returns every address recorded with AppendTrail.
func (p *PacketBuffer) Trail() []byte {
	return p.trail
}

// TrailTail returns the last n bytes of the address trail.
func (p *PacketBuffer) TrailTail(n int) ([]byte, bool) {
	if n < 0 || n > len(p.trail) {
		return nil, false
	}
	return p.trail[len(p.trail)-n:], true
}
