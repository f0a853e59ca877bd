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
	"sync"
	"time"

	"gvisor.dev/inet/pkg/log"
	"gvisor.dev/inet/pkg/tcpip"
)

// dropLogger reports dropped inbound frames without flooding the log.
var dropLogger = log.BasicRateLimitedLogger(time.Second)

// NIC represents a "network interface card" to which the networking stack is
// attached.
type NIC struct {
	stack  *Stack
	id     tcpip.NICID
	name   string
	framer LinkFramer
	ep     LinkEndpoint

	mu       sync.RWMutex
	handlers map[tcpip.NetworkProtocolNumber]PacketHandler
	detached bool
}

func newNIC(s *Stack, id tcpip.NICID, opts NICOptions) *NIC {
	return &NIC{
		stack:    s,
		id:       id,
		name:     opts.Name,
		framer:   opts.Framer,
		ep:       opts.Endpoint,
		handlers: make(map[tcpip.NetworkProtocolNumber]PacketHandler),
	}
}

// ID returns the identifier of n.
func (n *NIC) ID() tcpip.NICID { return n.id }

// Name returns the name of n.
func (n *NIC) Name() string { return n.name }

// Stack returns the instance of the Stack that owns this NIC.
func (n *NIC) Stack() *Stack { return n.stack }

// Kind returns the link framing of n.
func (n *NIC) Kind() LinkKind { return n.framer.Kind() }

// MTU returns the maximum size of a network packet on n.
func (n *NIC) MTU() uint32 { return n.ep.MTU() }

// LinkAddress returns the hardware address of n.
func (n *NIC) LinkAddress() tcpip.LinkAddress { return n.ep.LinkAddress() }

// RegisterHandler installs h as the receive callback for frames carrying
// ethertype proto, replacing any previous handler.
func (n *NIC) RegisterHandler(proto tcpip.NetworkProtocolNumber, h PacketHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[proto] = h
}

// UnregisterHandler removes the receive callback for proto.
func (n *NIC) UnregisterHandler(proto tcpip.NetworkProtocolNumber) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.handlers, proto)
}

func (n *NIC) detach() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.detached = true
	n.handlers = make(map[tcpip.NetworkProtocolNumber]PacketHandler)
}

// DeliverFrame implements LinkDispatcher.DeliverFrame. Malformed frames and
// frames no handler accepts are counted and dropped.
func (n *NIC) DeliverFrame(frame []byte) {
	stats := n.stack.Stats()
	stats.Link.FramesReceived.Increment()

	pkt := newInboundPacket(n, frame)
	proto, err := n.framer.ParseHeader(pkt)
	if err != nil {
		stats.Link.MalformedFrames.Increment()
		stats.MalformedRcvdPackets.Increment()
		dropLogger.Debugf("nic %d: dropping frame of %d bytes: %s", n.id, len(frame), err)
		return
	}

	n.mu.RLock()
	h, ok := n.handlers[proto]
	detached := n.detached
	n.mu.RUnlock()
	if detached {
		return
	}
	if !ok {
		stats.Link.UnknownEtherType.Increment()
		stats.UnknownProtocolRcvdPackets.Increment()
		dropLogger.Debugf("nic %d: no handler for ethertype %#04x", n.id, proto)
		return
	}
	if err := h(pkt); err != nil {
		if !err.IgnoreStats() {
			stats.MalformedRcvdPackets.Increment()
		}
		dropLogger.Debugf("nic %d: dropped %#04x packet: %s (%v)", n.id, proto, err, pkt.Tags())
	}
}

// NewPacket allocates an outbound packet buffer large enough for one link
// header plus an MTU-sized network packet.
func (n *NIC) NewPacket() *PacketBuffer {
	return newOutboundPacket(n, int(n.ep.MTU())+n.framer.HeaderLength())
}

func (n *NIC) writeFrame(frame []byte) *tcpip.Error {
	if err := n.ep.WriteFrame(frame); err != nil {
		return err
	}
	n.stack.Stats().Link.FramesSent.Increment()
	return nil
}
