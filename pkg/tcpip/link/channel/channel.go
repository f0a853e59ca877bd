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

// Package channel provides the implemention of channel-based data-link layer
// endpoints. Such endpoints allow injection of inbound frames and store
// outbound frames in a channel.
package channel

import (
	"context"
	"sync"

	"gvisor.dev/inet/pkg/tcpip"
	"gvisor.dev/inet/pkg/tcpip/stack"
)

var _ stack.LinkEndpoint = (*Endpoint)(nil)

// Endpoint is link layer endpoint that stores outbound frames in a channel
// and allows injection of inbound frames.
type Endpoint struct {
	mtu      uint32
	linkAddr tcpip.LinkAddress

	// C is where outbound frames are queued.
	C chan []byte

	mu         sync.RWMutex
	dispatcher stack.LinkDispatcher
}

// New creates a new channel endpoint.
func New(size int, mtu uint32, linkAddr tcpip.LinkAddress) *Endpoint {
	return &Endpoint{
		C:        make(chan []byte, size),
		mtu:      mtu,
		linkAddr: linkAddr,
	}
}

// Read does non-blocking read one frame from the outbound queue.
func (e *Endpoint) Read() ([]byte, bool) {
	select {
	case f := <-e.C:
		return f, true
	default:
		return nil, false
	}
}

// ReadContext does blocking read for one frame from the outbound queue.
// It can be cancelled by ctx, and in this case, it returns false.
func (e *Endpoint) ReadContext(ctx context.Context) ([]byte, bool) {
	select {
	case f := <-e.C:
		return f, true
	case <-ctx.Done():
		return nil, false
	}
}

// Drain removes all outbound frames from the channel and counts them.
func (e *Endpoint) Drain() int {
	c := 0
	for {
		if _, ok := e.Read(); !ok {
			return c
		}
		c++
	}
}

// NumQueued returns the number of frames queued for outbound.
func (e *Endpoint) NumQueued() int {
	return len(e.C)
}

// InjectInbound injects an inbound frame, link header included.
func (e *Endpoint) InjectInbound(frame []byte) {
	e.mu.RLock()
	d := e.dispatcher
	e.mu.RUnlock()
	if d != nil {
		d.DeliverFrame(frame)
	}
}

// Attach saves the dispatcher for use later when frames are injected.
func (e *Endpoint) Attach(dispatcher stack.LinkDispatcher) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dispatcher = dispatcher
}

// IsAttached implements stack.LinkEndpoint.IsAttached.
func (e *Endpoint) IsAttached() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dispatcher != nil
}

// MTU implements stack.LinkEndpoint.MTU. It returns the value initialized
// during construction.
func (e *Endpoint) MTU() uint32 {
	return e.mtu
}

// LinkAddress returns the link address of this endpoint.
func (e *Endpoint) LinkAddress() tcpip.LinkAddress {
	return e.linkAddr
}

// WriteFrame stores outbound frames into the channel. A full channel drops the
// frame with ErrNoBufferSpace.
func (e *Endpoint) WriteFrame(frame []byte) *tcpip.Error {
	select {
	case e.C <- frame:
		return nil
	default:
		return tcpip.ErrNoBufferSpace
	}
}
