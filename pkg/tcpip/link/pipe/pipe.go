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

// Package pipe provides the implementation of pipe-like data-link layer
// endpoints. Such endpoints allow frames to be sent between two interfaces,
// typically the NICs of two stacks.
package pipe

import (
	"sync"

	"gvisor.dev/inet/pkg/tcpip"
	"gvisor.dev/inet/pkg/tcpip/stack"
)

var _ stack.LinkEndpoint = (*Endpoint)(nil)

// queueSize is the number of frames buffered in each direction.
const queueSize = 256

// New returns both ends of a new pipe. Frames written to one end are delivered
// to the other end by a goroutine owned by the receiving end, so that the
// writer never runs the receive path of its peer.
func New(linkAddr1, linkAddr2 tcpip.LinkAddress, mtu uint32) (*Endpoint, *Endpoint) {
	ep1 := newEndpoint(linkAddr1, mtu)
	ep2 := newEndpoint(linkAddr2, mtu)
	ep1.linked = ep2
	ep2.linked = ep1
	return ep1, ep2
}

// Endpoint is one end of a pipe.
type Endpoint struct {
	linked   *Endpoint
	linkAddr tcpip.LinkAddress
	mtu      uint32
	inbound  chan []byte
	done     chan struct{}

	mu         sync.Mutex
	dispatcher stack.LinkDispatcher
	closed     bool
	wg         sync.WaitGroup
}

func newEndpoint(linkAddr tcpip.LinkAddress, mtu uint32) *Endpoint {
	return &Endpoint{
		linkAddr: linkAddr,
		mtu:      mtu,
		inbound:  make(chan []byte, queueSize),
		done:     make(chan struct{}),
	}
}

func (e *Endpoint) deliverLoop(d stack.LinkDispatcher) {
	defer e.wg.Done()
	for {
		select {
		case f := <-e.inbound:
			d.DeliverFrame(f)
		case <-e.done:
			return
		}
	}
}

// WriteFrame implements stack.LinkEndpoint.
func (e *Endpoint) WriteFrame(frame []byte) *tcpip.Error {
	peer := e.linked
	peer.mu.Lock()
	closed := peer.closed
	peer.mu.Unlock()
	if closed {
		return tcpip.ErrAborted
	}
	select {
	case peer.inbound <- frame:
		return nil
	default:
		return tcpip.ErrNoBufferSpace
	}
}

// Attach implements stack.LinkEndpoint. It starts the delivery goroutine.
func (e *Endpoint) Attach(dispatcher stack.LinkDispatcher) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dispatcher != nil || e.closed {
		return
	}
	e.dispatcher = dispatcher
	e.wg.Add(1)
	go e.deliverLoop(dispatcher)
}

// IsAttached implements stack.LinkEndpoint.
func (e *Endpoint) IsAttached() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dispatcher != nil
}

// Close stops delivery on this end. Frames written to it afterwards fail.
func (e *Endpoint) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.done)
	e.mu.Unlock()
	e.wg.Wait()
}

// MTU implements stack.LinkEndpoint.
func (e *Endpoint) MTU() uint32 {
	return e.mtu
}

// LinkAddress implements stack.LinkEndpoint.
func (e *Endpoint) LinkAddress() tcpip.LinkAddress {
	return e.linkAddr
}
