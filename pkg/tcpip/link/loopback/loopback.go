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

// Package loopback provides the implemention of loopback data-link layer
// endpoints. Such endpoints just turn outbound frames into inbound ones.
//
// Loopback endpoints can be used in the networking stack by calling New() to
// create a new endpoint, and then passing it with a Framer to
// Stack.CreateNIC().
package loopback

import (
	"sync"

	"gvisor.dev/inet/pkg/tcpip"
	"gvisor.dev/inet/pkg/tcpip/header"
	"gvisor.dev/inet/pkg/tcpip/stack"
)

// MTU matches the linux loopback interface.
const MTU = 65536

// Framer implements stack.LinkFramer for the loop-back header.
type Framer struct{}

var _ stack.LinkFramer = Framer{}

// Kind implements stack.LinkFramer.Kind.
func (Framer) Kind() stack.LinkKind { return stack.LinkLoopback }

// HeaderLength implements stack.LinkFramer.HeaderLength.
func (Framer) HeaderLength() int { return header.LoopbackSize }

// ParseHeader implements stack.LinkFramer.ParseHeader.
func (Framer) ParseHeader(pkt *stack.PacketBuffer) (tcpip.NetworkProtocolNumber, *tcpip.Error) {
	b, ok := pkt.Read(header.LoopbackSize)
	if !ok {
		return 0, tcpip.ErrMalformedHeader
	}
	pkt.Log("lo")
	return header.Loopback(b).Type(), nil
}

// WriteHeader writes a loop-back header at the write cursor of pkt.
func WriteHeader(pkt *stack.PacketBuffer, ethertype tcpip.NetworkProtocolNumber, flags uint16) *tcpip.Error {
	b, err := pkt.Reserve(header.LoopbackSize)
	if err != nil {
		return err
	}
	header.Loopback(b).Encode(ethertype, flags)
	return nil
}

// Handshake registers h as the receive callback of nic for ethertype.
func Handshake(nic *stack.NIC, ethertype tcpip.NetworkProtocolNumber, h stack.PacketHandler) *tcpip.Error {
	if nic.Kind() != stack.LinkLoopback {
		return tcpip.ErrNotSupported
	}
	nic.RegisterHandler(ethertype, h)
	return nil
}

var _ stack.LinkEndpoint = (*Endpoint)(nil)

// Endpoint is a loopback device. Written frames are queued and delivered back
// to the owning NIC from a separate goroutine.
type Endpoint struct {
	frames chan []byte
	done   chan struct{}

	mu         sync.Mutex
	dispatcher stack.LinkDispatcher
	wg         sync.WaitGroup
}

// New creates a new loopback endpoint.
func New() *Endpoint {
	return &Endpoint{
		frames: make(chan []byte, 256),
		done:   make(chan struct{}),
	}
}

// Attach implements stack.LinkEndpoint.Attach.
func (e *Endpoint) Attach(dispatcher stack.LinkDispatcher) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dispatcher != nil {
		return
	}
	e.dispatcher = dispatcher
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			select {
			case f := <-e.frames:
				dispatcher.DeliverFrame(f)
			case <-e.done:
				return
			}
		}
	}()
}

// IsAttached implements stack.LinkEndpoint.IsAttached.
func (e *Endpoint) IsAttached() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dispatcher != nil
}

// Close stops delivery.
func (e *Endpoint) Close() {
	close(e.done)
	e.wg.Wait()
}

// MTU implements stack.LinkEndpoint.MTU.
func (*Endpoint) MTU() uint32 {
	return MTU
}

// LinkAddress returns the link address of this endpoint.
func (*Endpoint) LinkAddress() tcpip.LinkAddress {
	return ""
}

// WriteFrame implements stack.LinkEndpoint.WriteFrame.
func (e *Endpoint) WriteFrame(frame []byte) *tcpip.Error {
	select {
	case e.frames <- frame:
		return nil
	default:
		return tcpip.ErrNoBufferSpace
	}
}
