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

// Package ports provides the port table shared by the UDP and TCP protocols:
// binding, ephemeral allocation, listening, accepted clients and inbound
// demultiplexing.
package ports

import (
	"sync"

	"github.com/google/btree"
	"gvisor.dev/inet/pkg/tcpip"
	"gvisor.dev/inet/pkg/tcpip/stack"
)

const (
	// FirstEphemeral is the first ephemeral port.
	FirstEphemeral = 0xc000

	// LastEphemeral is the last ephemeral port.
	LastEphemeral = 0xee47
)

// Port is a bound transport port.
type Port struct {
	number uint16

	// owner is the socket bound to the port. It is nil once the owner is
	// closed while accepted clients remain.
	owner     *stack.Socket
	listening bool

	// remote is the peer of a connected owner at bind time.
	remote tcpip.FullAddress

	// clients holds accepted sockets keyed by the wire form of their remote
	// address.
	clients map[string]*stack.Socket
}

// Number returns the port number.
func (p *Port) Number() uint16 { return p.number }

// Listening returns whether the owner accepts clients.
func (p *Port) Listening() bool { return p.listening }

func lessPort(a, b *Port) bool { return a.number < b.number }

// AddressValidator reports whether a local address may be bound.
type AddressValidator func(tcpip.Address) bool

// Table is an ordered set of bound ports.
type Table struct {
	name     string
	validate AddressValidator

	mu   sync.Mutex
	tree *btree.BTreeG[*Port]
	hint uint16
}

// NewTable returns an empty table. name is used in diagnostics; validate may
// be nil to accept every address.
func NewTable(name string, validate AddressValidator) *Table {
	return &Table{
		name:     name,
		validate: validate,
		tree:     btree.NewG[*Port](2, lessPort),
		hint:     FirstEphemeral,
	}
}

// Name returns the name of the table.
func (t *Table) Name() string { return t.name }

// Len returns the number of bound ports.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tree.Len()
}

// Numbers returns the bound port numbers in ascending order.
func (t *Table) Numbers() []uint16 {
	t.mu.Lock()
	defer t.mu.Unlock()
	nums := make([]uint16, 0, t.tree.Len())
	t.tree.Ascend(func(p *Port) bool {
		nums = append(nums, p.number)
		return true
	})
	return nums
}

func (t *Table) get(number uint16) (*Port, bool) {
	return t.tree.Get(&Port{number: number})
}

// Bind reserves addr.Port for s. Port 0 allocates an ephemeral port.
func (t *Table) Bind(s *stack.Socket, addr tcpip.FullAddress) *tcpip.Error {
	if s.IsBound() {
		return tcpip.ErrAlreadyBound
	}
	if len(addr.Addr) != 0 {
		if addr.Addr.To4() == "" {
			return tcpip.ErrBadAddress
		}
		if t.validate != nil && !t.validate(addr.Addr) {
			return tcpip.ErrBadLocalAddress
		}
	}
	if addr.Port == 0 {
		return t.ephemeral(s, addr.Addr)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.get(addr.Port); ok {
		return tcpip.ErrPortInUse
	}
	t.insertLocked(s, addr)
	return nil
}

// EphemeralPort binds s to the first free port of the ephemeral range,
// searching forward from the last allocation and wrapping around.
func (t *Table) EphemeralPort(s *stack.Socket) *tcpip.Error {
	if s.IsBound() {
		return tcpip.ErrAlreadyBound
	}
	return t.ephemeral(s, s.LocalAddress().Addr)
}

func (t *Table) ephemeral(s *stack.Socket, laddr tcpip.Address) *tcpip.Error {
	t.mu.Lock()
	defer t.mu.Unlock()
	port, ok := t.firstFree(t.hint, LastEphemeral)
	if !ok && t.hint > FirstEphemeral {
		port, ok = t.firstFree(FirstEphemeral, t.hint-1)
	}
	if !ok {
		return tcpip.ErrNoPortAvailable
	}
	t.hint = port + 1
	if t.hint > LastEphemeral {
		t.hint = FirstEphemeral
	}
	t.insertLocked(s, tcpip.FullAddress{NIC: s.LocalAddress().NIC, Addr: laddr, Port: port})
	return nil
}

// firstFree returns the lowest unbound port in [from, to]. Consecutive bound
// ports starting at from are skipped in one ordered walk.
func (t *Table) firstFree(from, to uint16) (uint16, bool) {
	next := uint32(from)
	t.tree.AscendGreaterOrEqual(&Port{number: from}, func(p *Port) bool {
		if uint32(p.number) != next {
			return false
		}
		next++
		return next <= uint32(to)
	})
	if next > uint32(to) {
		return 0, false
	}
	return uint16(next), true
}

func (t *Table) insertLocked(s *stack.Socket, addr tcpip.FullAddress) {
	p := &Port{
		number:  addr.Port,
		owner:   s,
		clients: make(map[string]*stack.Socket),
	}
	if s.IsConnected() {
		p.remote = s.RemoteAddress()
	}
	t.tree.ReplaceOrInsert(p)
	s.SetLocalAddress(addr)
}

// Listen marks the port owned by s as accepting clients.
func (t *Table) Listen(s *stack.Socket) *tcpip.Error {
	if !s.IsBound() {
		return tcpip.ErrInvalidEndpointState
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.get(s.LocalAddress().Port)
	if !ok || p.owner != s {
		return tcpip.ErrInvalidEndpointState
	}
	p.listening = true
	return nil
}

// Close releases whatever s holds in the table: ownership of its port, or
// its entry in the client map of a listening port. A port with neither an
// owner nor clients is removed.
func (t *Table) Close(s *stack.Socket) *tcpip.Error {
	if !s.IsBound() {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.get(s.LocalAddress().Port)
	if !ok {
		s.ClearBinding()
		return nil
	}
	if p.owner == s {
		p.owner = nil
		p.listening = false
	} else if s.IsConnected() {
		key := string(s.RemoteAddress().Bytes())
		if p.clients[key] == s {
			delete(p.clients, key)
		}
	}
	if p.owner == nil && len(p.clients) == 0 {
		t.tree.Delete(p)
	}
	s.ClearBinding()
	return nil
}

// LookupSocket returns the owner of the nearest bound port at or below port,
// provided that entry is port itself.
//
// TODO(inet): disambiguate by the local address on nic once more than one
// address per interface can be bound.
func (t *Table) LookupSocket(nic tcpip.NICID, port uint16) *stack.Socket {
	t.mu.Lock()
	defer t.mu.Unlock()
	var found *Port
	t.tree.DescendLessOrEqual(&Port{number: port}, func(p *Port) bool {
		found = p
		return false
	})
	if found == nil || found.number != port {
		return nil
	}
	return found.owner
}

// Demux returns the socket that should receive traffic from remote to port:
// an accepted client when one matches, the owner otherwise. An owner that
// was connected when it bound only receives from its peer.
func (t *Table) Demux(nic tcpip.NICID, port uint16, remote tcpip.FullAddress) *stack.Socket {
	t.mu.Lock()
	p, ok := t.get(port)
	if ok {
		if c, ok := p.clients[string(remote.Bytes())]; ok {
			t.mu.Unlock()
			return c
		}
		if p.remote.Port != 0 && (p.remote.Addr != remote.Addr || p.remote.Port != remote.Port) {
			t.mu.Unlock()
			return nil
		}
	}
	t.mu.Unlock()
	return t.LookupSocket(nic, port)
}

// Accept binds s as a client of the listening socket model. The remote
// address is the trailing address of pkt, recorded by the network and
// transport layers while parsing.
func (t *Table) Accept(s, model *stack.Socket, pkt *stack.PacketBuffer) *tcpip.Error {
	b, ok := pkt.TrailTail(6)
	if !ok {
		return tcpip.ErrBadAddress
	}
	remote, _ := tcpip.FullAddressFromBytes(b)
	if s.IsBound() {
		return tcpip.ErrAlreadyBound
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	local := model.LocalAddress()
	p, ok := t.get(local.Port)
	if !ok || p.owner != model || !p.listening {
		return tcpip.ErrInvalidEndpointState
	}
	key := string(b)
	if _, ok := p.clients[key]; ok {
		return tcpip.ErrDuplicateAddress
	}
	s.SetLocalAddress(local)
	s.SetRemoteAddress(remote)
	p.clients[key] = s
	return nil
}
