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
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/jonboulle/clockwork"
	"gvisor.dev/inet/pkg/log"
	"gvisor.dev/inet/pkg/rand"
	"gvisor.dev/inet/pkg/tcpip"
	"gvisor.dev/inet/pkg/tcpip/network/ipv4"
	"gvisor.dev/inet/pkg/tcpip/stack"
	"gvisor.dev/inet/pkg/tcpip/transport/udp"
)

const (
	// DefaultRetryDelay is the minimum time between two DISCOVER messages of
	// an interface.
	DefaultRetryDelay = 3 * time.Second

	// DefaultLeaseTime is the lease length handed out by servers, and
	// assumed by clients when a PACK carries none.
	DefaultLeaseTime = time.Hour
)

// Options holds the configuration of the DHCP layer.
type Options struct {
	// RetryDelay is the minimum delay between acquisition attempts. Zero
	// means DefaultRetryDelay.
	RetryDelay time.Duration

	// LeaseTime is the length of the leases handed out by server
	// interfaces. Zero means DefaultLeaseTime.
	LeaseTime time.Duration
}

// DHCP runs the client and server roles of every interface of an ipv4 state.
type DHCP struct {
	state      *ipv4.State
	udp        *udp.Protocol
	clock      clockwork.Clock
	stats      *tcpip.DHCPStats
	logger     log.Logger
	retryDelay time.Duration
	leaseTime  time.Duration

	// infoMu serializes the creation of interface states.
	infoMu sync.Mutex
}

var _ udp.DHCPHandler = (*DHCP)(nil)

// Attach installs the DHCP layer as the DHCP handler of p.
func Attach(p *udp.Protocol, opts Options) *DHCP {
	d := &DHCP{
		state:      p.State(),
		udp:        p,
		clock:      p.State().Stack().Clock(),
		stats:      &p.State().Stack().Stats().DHCP,
		logger:     log.BasicRateLimitedLogger(time.Second),
		retryDelay: opts.RetryDelay,
		leaseTime:  opts.LeaseTime,
	}
	if d.retryDelay == 0 {
		d.retryDelay = DefaultRetryDelay
	}
	if d.leaseTime == 0 {
		d.leaseTime = DefaultLeaseTime
	}
	p.SetDHCPHandler(d)
	return d
}

// info returns the DHCP state of iface, created on first use.
func (d *DHCP) info(iface *ipv4.InterfaceState) *Info {
	d.infoMu.Lock()
	defer d.infoMu.Unlock()
	if info, ok := iface.DHCPInfo().(*Info); ok {
		return info
	}
	info := &Info{}
	iface.SetDHCPInfo(info)
	return info
}

// Status returns the DHCP state of the NIC with the given id.
func (d *DHCP) Status(id tcpip.NICID) (Status, *tcpip.Error) {
	iface, err := d.state.Interface(id)
	if err != nil {
		return Status{}, err
	}
	info, ok := iface.DHCPInfo().(*Info)
	if !ok {
		return Status{}, nil
	}
	return info.status(), nil
}

// Forget drops the DHCP state of the NIC with the given id, which allows the
// interface to be removed. Leases handed out by it are lost.
func (d *DHCP) Forget(id tcpip.NICID) *tcpip.Error {
	iface, err := d.state.Interface(id)
	if err != nil {
		return err
	}
	d.infoMu.Lock()
	defer d.infoMu.Unlock()
	iface.SetDHCPInfo(nil)
	return nil
}

// broadcast sends m to 255.255.255.255 out of iface.
func (d *DHCP) broadcast(iface *ipv4.InterfaceState, srcPort, dstPort uint16, m *message) *tcpip.Error {
	r, err := d.state.FindBroadcastRoute(iface.NIC().ID())
	if err != nil {
		return err
	}
	r.Addr = tcpip.IPv4Broadcast
	r.NextHop = r.Addr
	return d.udp.SendTo(r, srcPort, dstPort, m.encode())
}

// Discovery starts address acquisition on the NIC with the given id by
// broadcasting a DISCOVER with a fresh transaction id. It does nothing, and
// returns false, unless the interface is idle or still discovering past the
// retry delay.
func (d *DHCP) Discovery(id tcpip.NICID) (bool, *tcpip.Error) {
	iface, err := d.state.Interface(id)
	if err != nil {
		return false, err
	}
	info := d.info(iface)
	now := d.clock.Now()

	info.mu.Lock()
	switch info.mode {
	case ModeIdle:
	case ModeDiscover:
		if now.Sub(info.lastRequest) < d.retryDelay {
			info.mu.Unlock()
			return false, nil
		}
	default:
		info.mu.Unlock()
		return false, nil
	}
	info.mode = ModeDiscover
	info.xid = rand.Uint32()
	info.lastRequest = now
	m := &message{
		typ:       Discover,
		xid:       info.xid,
		broadcast: true,
		chaddr:    iface.NIC().LinkAddress(),
		opts: options{
			{optParamReq, []byte{
				byte(optSubnetMask),
				byte(optDefaultGateway),
				byte(optLeaseTime),
				byte(optDHCPServer),
			}},
		},
	}
	info.mu.Unlock()

	d.stats.Discovers.Increment()
	if err := d.broadcast(iface, ClientPort, ServerPort, m); err != nil {
		return false, err
	}
	return true, nil
}

// HandleClient implements udp.DHCPHandler.HandleClient. It drives the client
// state machine of iface with the OFFER, PACK and PNACK messages matching its
// transaction.
func (d *DHCP) HandleClient(iface *ipv4.InterfaceState, from tcpip.FullAddress, payload []byte) *tcpip.Error {
	m, err := parse(payload)
	if err != nil {
		d.stats.Malformed.Increment()
		d.logger.Infof("dhcp: %s: dropping malformed message from %s", iface.Name(), from)
		return err
	}
	info, ok := iface.DHCPInfo().(*Info)
	if !ok {
		d.stats.Ignored.Increment()
		return nil
	}
	now := d.clock.Now()

	info.mu.Lock()
	if m.xid != info.xid || (isEthernet(iface) && m.chaddr != iface.NIC().LinkAddress()) {
		info.mu.Unlock()
		d.stats.Ignored.Increment()
		return nil
	}
	switch {
	case m.typ == Offer && info.mode == ModeDiscover:
		cfg := m.config()
		info.mode = ModeRequest
		info.offered = m.yiaddr
		info.server = cfg.ServerAddress
		info.lastRequest = now
		req := &message{
			typ:       Request,
			xid:       info.xid,
			broadcast: true,
			siaddr:    info.server,
			chaddr:    iface.NIC().LinkAddress(),
			opts: options{
				{optReqIPAddr, []byte(info.offered)},
				{optDHCPServer, []byte(info.server)},
			},
		}
		info.mu.Unlock()
		d.stats.Requests.Increment()
		return d.broadcast(iface, ClientPort, ServerPort, req)

	case m.typ == Ack && info.mode == ModeRequest:
		cfg := m.config()
		lease := cfg.LeaseLength
		if lease == 0 {
			lease = d.leaseTime
		}
		addr := m.yiaddr
		if addr.Unspecified() {
			addr = info.offered
		}
		info.mode = ModeBound
		info.offered = addr
		info.expire = now.Add(lease)
		info.renewal = now.Add(lease / 2)
		info.mu.Unlock()
		d.stats.Acks.Increment()
		if err := d.state.SetIP(iface.NIC().ID(), addr, cfg.SubnetMask, cfg.Gateway); err != nil {
			info.mu.Lock()
			info.mode = ModeDiscover
			info.mu.Unlock()
			return err
		}
		log.Infof("dhcp: %s bound to %s for %s", iface.Name(), addr, lease)
		return nil

	case m.typ == Nak && info.mode == ModeRequest:
		info.mode = ModeDiscover
		offered := info.offered
		info.mu.Unlock()
		d.stats.Naks.Increment()
		log.Infof("dhcp: %s: request for %s refused", iface.Name(), offered)
		return nil
	}
	info.mu.Unlock()
	d.stats.Ignored.Increment()
	return nil
}

// Tick advances the client timers of the NIC with the given id and restarts
// discovery when it is due: a REQUEST left unanswered past the retry delay
// falls back to DISCOVER, and a bound lease past its renewal time restarts
// acquisition. An expired lease clears the interface address. Interfaces
// without DHCP enabled are left alone.
func (d *DHCP) Tick(id tcpip.NICID) (Mode, *tcpip.Error) {
	iface, err := d.state.Interface(id)
	if err != nil {
		return ModeIdle, err
	}
	if !iface.DHCPEnabled() {
		return ModeIdle, nil
	}
	info := d.info(iface)
	now := d.clock.Now()

	info.mu.Lock()
	expired := false
	switch info.mode {
	case ModeRequest:
		if now.Sub(info.lastRequest) >= d.retryDelay {
			info.mode = ModeDiscover
		}
	case ModeBound:
		if !now.Before(info.expire) {
			expired = true
			info.mode = ModeIdle
		} else if !now.Before(info.renewal) {
			info.mode = ModeIdle
		}
	}
	mode := info.mode
	info.mu.Unlock()

	if expired {
		log.Infof("dhcp: %s: lease expired", iface.Name())
		if err := d.state.SetIP(id, tcpip.IPv4Any, "", ""); err != nil {
			return mode, err
		}
	}
	if mode == ModeIdle || mode == ModeDiscover {
		if _, err := d.Discovery(id); err != nil {
			return mode, err
		}
	}
	return info.status().Mode, nil
}

// Run enables DHCP on the NIC with the given id and drives Tick until ctx is
// done. Acquisition attempts back off exponentially from the retry delay.
func (d *DHCP) Run(ctx context.Context, id tcpip.NICID) error {
	iface, err := d.state.Interface(id)
	if err != nil {
		return err
	}
	iface.SetDHCPEnabled(true)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.retryDelay
	b.MaxInterval = 16 * d.retryDelay
	b.MaxElapsedTime = 0
	b.Clock = d.clock
	b.Reset()
	for {
		mode, err := d.Tick(id)
		if err != nil {
			d.logger.Warningf("dhcp: %s: %s", iface.Name(), err)
		}
		wait := b.NextBackOff()
		if mode == ModeBound {
			b.Reset()
			wait = statusOf(iface).Renewal.Sub(d.clock.Now())
		}
		if wait < d.retryDelay {
			wait = d.retryDelay
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.clock.After(wait):
		}
	}
}

func statusOf(iface *ipv4.InterfaceState) Status {
	if info, ok := iface.DHCPInfo().(*Info); ok {
		return info.status()
	}
	return Status{}
}

// Release gives up the lease held by the NIC with the given id: a bound
// interface sends RELEASE to its server and clears its address. The DHCP
// state of the interface is dropped either way.
func (d *DHCP) Release(ctx context.Context, id tcpip.NICID) *tcpip.Error {
	iface, err := d.state.Interface(id)
	if err != nil {
		return err
	}
	info, ok := iface.DHCPInfo().(*Info)
	if !ok {
		return nil
	}
	st := info.status()
	iface.SetDHCPEnabled(false)
	if err := d.Forget(id); err != nil {
		return err
	}
	if st.Mode != ModeBound {
		return nil
	}

	m := &message{
		typ:    Release,
		xid:    rand.Uint32(),
		ciaddr: st.Offered,
		chaddr: iface.NIC().LinkAddress(),
		opts:   options{{optDHCPServer, []byte(st.Server)}},
	}
	r, err := d.state.FindRoute(ctx, st.Server)
	if err == nil {
		err = d.udp.SendTo(r, ClientPort, ServerPort, m.encode())
	}
	if err != nil {
		d.logger.Warningf("dhcp: %s: release to %s: %s", iface.Name(), st.Server, err)
	}
	return d.state.SetIP(id, tcpip.IPv4Any, "", "")
}

// isEthernet reports whether replies to hardware addresses can be unicast on
// iface.
func isEthernet(iface *ipv4.InterfaceState) bool {
	return iface.NIC().Kind() == stack.LinkEthernet
}
