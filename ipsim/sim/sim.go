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

// Package sim builds the network stacks of an ipsim configuration and
// connects them with pipes.
package sim

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
	"gvisor.dev/inet/ipsim/config"
	"gvisor.dev/inet/pkg/dhcp"
	"gvisor.dev/inet/pkg/log"
	"gvisor.dev/inet/pkg/tcpip"
	"gvisor.dev/inet/pkg/tcpip/link/ethernet"
	"gvisor.dev/inet/pkg/tcpip/link/loopback"
	"gvisor.dev/inet/pkg/tcpip/link/pipe"
	"gvisor.dev/inet/pkg/tcpip/network/arp"
	"gvisor.dev/inet/pkg/tcpip/network/ipv4"
	"gvisor.dev/inet/pkg/tcpip/stack"
	"gvisor.dev/inet/pkg/tcpip/transport/tcp"
	"gvisor.dev/inet/pkg/tcpip/transport/udp"
)

// Host is a simulated host: one stack with the whole suite attached.
type Host struct {
	Name  string
	Stack *stack.Stack
	IPv4  *ipv4.State
	ARP   *arp.Resolver
	UDP   *udp.Protocol
	TCP   *tcp.Protocol
	DHCP  *dhcp.DHCP

	nics map[string]tcpip.NICID

	// clients are the NICs acquiring their address with DHCP.
	clients []tcpip.NICID
}

// NIC returns the id of the interface with the given name.
func (h *Host) NIC(name string) (tcpip.NICID, bool) {
	id, ok := h.nics[name]
	return id, ok
}

// DHCPClients returns the NICs configured to acquire their address with
// DHCP.
func (h *Host) DHCPClients() []tcpip.NICID {
	return h.clients
}

// Network is a set of hosts and the links between them.
type Network struct {
	Hosts []*Host

	clock   clockwork.Clock
	closers []func()
}

type endpoint interface {
	stack.LinkEndpoint
	Close()
}

// New builds the network described by cfg. A nil clock selects the real
// clock.
func New(cfg *config.Config, clock clockwork.Clock) (*Network, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	n := &Network{clock: clock}

	// Create both ends of every link first.
	macs := make(map[string][]tcpip.LinkAddress)
	mtus := make(map[string]uint32)
	for _, h := range cfg.Hosts {
		for _, i := range h.Interfaces {
			if i.Link == config.LoopbackLink {
				continue
			}
			mac, err := tcpip.ParseMACAddress(i.MAC)
			if err != nil {
				return nil, fmt.Errorf("host %q interface %q: %w", h.Name, i.Name, err)
			}
			macs[i.Link] = append(macs[i.Link], mac)
			mtus[i.Link] = i.LinkMTU()
		}
	}
	eps := make(map[string][]endpoint)
	for link, m := range macs {
		if len(m) != 2 {
			n.Close()
			return nil, fmt.Errorf("link %q joins %d interfaces, want 2", link, len(m))
		}
		a, b := pipe.New(m[0], m[1], mtus[link])
		eps[link] = []endpoint{a, b}
		n.closers = append(n.closers, a.Close, b.Close)
	}

	for _, hc := range cfg.Hosts {
		h, err := n.newHost(cfg, hc, eps)
		if err != nil {
			n.Close()
			return nil, fmt.Errorf("host %q: %w", hc.Name, err)
		}
		n.Hosts = append(n.Hosts, h)
	}
	return n, nil
}

func (n *Network) newHost(cfg *config.Config, hc config.Host, eps map[string][]endpoint) (*Host, error) {
	s := stack.New(stack.Options{Clock: n.clock})
	h := &Host{
		Name:  hc.Name,
		Stack: s,
		nics:  make(map[string]tcpip.NICID),
	}
	var err *tcpip.Error
	if h.IPv4, err = ipv4.Attach(s, ipv4.Options{}); err != nil {
		return nil, err
	}
	if h.ARP, err = arp.Attach(h.IPv4, arp.Options{}); err != nil {
		return nil, err
	}
	if h.UDP, err = udp.Attach(h.IPv4); err != nil {
		return nil, err
	}
	if h.TCP, err = tcp.Attach(h.IPv4); err != nil {
		return nil, err
	}
	h.DHCP = dhcp.Attach(h.UDP, dhcp.Options{
		RetryDelay: cfg.DHCP.RetryDelay,
		LeaseTime:  cfg.DHCP.LeaseTime,
	})

	for idx, ic := range hc.Interfaces {
		id := tcpip.NICID(idx + 1)
		opts := stack.NICOptions{Name: ic.Name}
		if ic.Link == config.LoopbackLink {
			ep := loopback.New()
			n.closers = append(n.closers, ep.Close)
			opts.Framer, opts.Endpoint = loopback.Framer{}, ep
		} else {
			ends := eps[ic.Link]
			opts.Framer, opts.Endpoint = ethernet.Framer{}, ends[0]
			eps[ic.Link] = ends[1:]
		}
		if _, err := s.CreateNIC(id, opts); err != nil {
			return nil, fmt.Errorf("interface %q: %w", ic.Name, err)
		}
		iface, err := h.IPv4.Interface(id)
		if err != nil {
			return nil, fmt.Errorf("interface %q: %w", ic.Name, err)
		}
		if err := h.IPv4.Config(id, ic.Config); err != nil {
			return nil, fmt.Errorf("interface %q: config %q: %w", ic.Name, ic.Config, err)
		}
		if iface.DHCPServerEnabled() {
			if err := h.DHCP.EnableServer(id); err != nil {
				return nil, fmt.Errorf("interface %q: dhcp server: %w", ic.Name, err)
			}
		}
		if iface.DHCPEnabled() {
			h.clients = append(h.clients, id)
		}
		h.nics[ic.Name] = id
		log.Infof("%s: %s up on link %s, config %q", hc.Name, ic.Name, ic.Link, ic.Config)
	}

	for _, rc := range hc.Routes {
		r, err := staticRoute(h, rc)
		if err != nil {
			return nil, err
		}
		if err := h.IPv4.AddRoute(r); err != nil {
			return nil, fmt.Errorf("route %s/%s: %w", rc.Network, rc.Mask, err)
		}
	}
	return h, nil
}

func staticRoute(h *Host, rc config.Route) (ipv4.StaticRoute, error) {
	network, err := tcpip.ParseAddress(rc.Network)
	if err != nil {
		return ipv4.StaticRoute{}, err
	}
	mask, err := tcpip.ParseAddress(rc.Mask)
	if err != nil {
		return ipv4.StaticRoute{}, err
	}
	gw := tcpip.IPv4Any
	if rc.Gateway != "" {
		if gw, err = tcpip.ParseAddress(rc.Gateway); err != nil {
			return ipv4.StaticRoute{}, err
		}
	}
	id, ok := h.NIC(rc.Interface)
	if !ok {
		return ipv4.StaticRoute{}, fmt.Errorf("unknown interface %q", rc.Interface)
	}
	return ipv4.StaticRoute{
		Network: network,
		Mask:    tcpip.AddressMask(mask),
		Gateway: gw,
		NIC:     id,
	}, nil
}

// Host returns the host with the given name.
func (n *Network) Host(name string) (*Host, bool) {
	for _, h := range n.Hosts {
		if h.Name == name {
			return h, true
		}
	}
	return nil, false
}

// Run drives the DHCP clients of every host until ctx is done.
func (n *Network) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, h := range n.Hosts {
		for _, id := range h.clients {
			h, id := h, id
			g.Go(func() error {
				err := h.DHCP.Run(ctx, id)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		}
	}
	return g.Wait()
}

// WaitBound waits until every DHCP client of the network holds a lease.
func (n *Network) WaitBound(ctx context.Context) error {
	b := backoff.WithContext(backoff.NewConstantBackOff(10*time.Millisecond), ctx)
	return backoff.Retry(func() error {
		for _, h := range n.Hosts {
			for _, id := range h.clients {
				st, err := h.DHCP.Status(id)
				if err != nil {
					return err
				}
				if st.Mode != dhcp.ModeBound {
					return fmt.Errorf("%s: NIC %d is in mode %s", h.Name, id, st.Mode)
				}
			}
		}
		return nil
	}, b)
}

// Release gives up the leases of every DHCP client.
func (n *Network) Release(ctx context.Context) {
	for _, h := range n.Hosts {
		for _, id := range h.clients {
			if err := h.DHCP.Release(ctx, id); err != nil {
				log.Warningf("%s: releasing NIC %d: %s", h.Name, id, err)
			}
		}
	}
}

// Close stops every link of the network.
func (n *Network) Close() {
	for _, c := range n.closers {
		c()
	}
	n.closers = nil
}
