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

package dhcp

import (
	"fmt"
	"sync"
	"time"

	"gvisor.dev/inet/pkg/tcpip"
)

// LeaseSlots is the size of the lease table of a server interface.
const LeaseSlots = 32

// leaseHostBase is the host octet of the address handed out from slot 0.
const leaseHostBase = 4

// Mode is the state of the client state machine of an interface.
type Mode int

// Client states.
const (
	ModeIdle Mode = iota
	ModeDiscover
	ModeRequest
	ModeBound
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "NONE"
	case ModeDiscover:
		return "DISCOVER"
	case ModeRequest:
		return "REQUEST"
	case ModeBound:
		return "BOUND"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Lease is an address handed out by a server interface.
type Lease struct {
	// Addr is the leased address. Its host octet is the slot index plus 4.
	Addr tcpip.Address

	// Server is the address of the interface that assigned the lease.
	Server tcpip.Address

	// HWAddr is the hardware address of the client.
	HWAddr tcpip.LinkAddress

	// Expiry is the time the lease ends.
	Expiry time.Time
}

func (l *Lease) active(now time.Time) bool {
	return l.Addr != "" && now.Before(l.Expiry)
}

// Status is a snapshot of the DHCP state of an interface.
type Status struct {
	Mode    Mode
	XID     uint32
	Offered tcpip.Address
	Server  tcpip.Address
	Expire  time.Time
	Renewal time.Time
}

// Info is the DHCP state of an interface, stored in its ipv4 interface
// state. The client fields and the server lease table share one lock.
type Info struct {
	mu          sync.Mutex
	mode        Mode
	xid         uint32
	lastRequest time.Time
	expire      time.Time
	renewal     time.Time
	offered     tcpip.Address
	server      tcpip.Address
	leases      [LeaseSlots]Lease
}

func (i *Info) status() Status {
	i.mu.Lock()
	defer i.mu.Unlock()
	return Status{
		Mode:    i.mode,
		XID:     i.xid,
		Offered: i.offered,
		Server:  i.server,
		Expire:  i.expire,
		Renewal: i.renewal,
	}
}
