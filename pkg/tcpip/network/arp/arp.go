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

// Package arp implements the ARP network protocol. It is used to resolve
// IPv4 addresses into link-local MAC addresses, and advertises IPv4
// addresses of its stack with the local network.
//
// Resolution blocks the caller on a pending query registered in the ARP
// query table of the interface until a reply arrives or the timeout elapses.
package arp

import (
	"context"
	"time"

	"gvisor.dev/inet/pkg/log"
	"gvisor.dev/inet/pkg/tcpip"
	"gvisor.dev/inet/pkg/tcpip/header"
	"gvisor.dev/inet/pkg/tcpip/link/ethernet"
	"gvisor.dev/inet/pkg/tcpip/network/ipv4"
	"gvisor.dev/inet/pkg/tcpip/stack"
)

const (
	// ProtocolNumber is the ARP protocol number.
	ProtocolNumber = header.ARPProtocolNumber

	// Timeout is the default time a resolution waits for a reply.
	Timeout = time.Second
)

// Options holds the configuration of the resolver.
type Options struct {
	// Timeout bounds every resolution. Zero means Timeout.
	Timeout time.Duration
}

// Resolver resolves IPv4 addresses on the Ethernet interfaces of an ipv4
// state and answers requests for their configured addresses.
type Resolver struct {
	state   *ipv4.State
	stats   *tcpip.ARPStats
	timeout time.Duration
}

var _ ipv4.LinkAddressResolver = (*Resolver)(nil)

// Attach creates a resolver for st, registers its receive path on every
// Ethernet interface and installs it as the link address resolver of st.
func Attach(st *ipv4.State, opts Options) (*Resolver, *tcpip.Error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = Timeout
	}
	r := &Resolver{
		state:   st,
		stats:   &st.Stack().Stats().ARP,
		timeout: timeout,
	}
	if err := st.AddInterfaceHook(r.attachInterface); err != nil {
		return nil, err
	}
	st.SetLinkAddressResolver(r)
	return r, nil
}

func (r *Resolver) attachInterface(iface *ipv4.InterfaceState) *tcpip.Error {
	if iface.NIC().Kind() != stack.LinkEthernet {
		return nil
	}
	return ethernet.Handshake(iface.NIC(), ProtocolNumber, func(pkt *stack.PacketBuffer) *tcpip.Error {
		return r.Receive(iface, pkt)
	})
}

// Resolve implements ipv4.LinkAddressResolver.Resolve.
func (r *Resolver) Resolve(ctx context.Context, iface *ipv4.InterfaceState, addr tcpip.Address) (tcpip.LinkAddress, *tcpip.Error) {
	q := stack.NewPendingQuery(addr.Uint32(), r.state.Stack().Clock().Now())
	if err := r.Query(ctx, iface, addr, q); err != nil {
		return "", err
	}
	return q.Result().LinkAddress, nil
}

// Query registers q for addr, broadcasts a request and waits for the reply.
// If the request cannot be sent q is unregistered at once; on timeout it is
// forgotten and ErrTimeout returned.
func (r *Resolver) Query(ctx context.Context, iface *ipv4.InterfaceState, addr tcpip.Address, q *stack.PendingQuery[uint32]) *tcpip.Error {
	if addr.To4() == "" {
		return tcpip.ErrBadAddress
	}
	table := iface.ARPQueries()
	table.Register(q)
	if err := r.sendRequest(iface, addr); err != nil {
		table.Forget(q)
		return err
	}
	if !q.Wait(ctx, r.state.Stack().Clock(), r.timeout) {
		if r.Forget(iface, q) {
			r.stats.Timeouts.Increment()
			log.Debugf("%s: no ARP reply for %s", iface.Name(), addr)
			return tcpip.ErrTimeout
		}
		// A reply took the query first and is completing it.
		<-q.Done()
	}
	return nil
}

// Forget removes q from the query table of iface if it is still registered.
// It reports whether it did; forgetting a resolved query is a no-op.
func (r *Resolver) Forget(iface *ipv4.InterfaceState, q *stack.PendingQuery[uint32]) bool {
	return iface.ARPQueries().Forget(q)
}

// Announce implements ipv4.LinkAddressResolver.Announce. The request is sent
// without registering a query; a reply from the gateway still populates the
// gateway cache.
func (r *Resolver) Announce(iface *ipv4.InterfaceState, addr tcpip.Address) *tcpip.Error {
	return r.sendRequest(iface, addr)
}

func (r *Resolver) sendRequest(iface *ipv4.InterfaceState, target tcpip.Address) *tcpip.Error {
	nic := iface.NIC()
	if err := r.send(nic, header.EthernetBroadcastAddress, &header.ARPFields{
		Op:         header.ARPRequest,
		SenderLink: nic.LinkAddress(),
		SenderAddr: iface.Address(),
		TargetAddr: target,
	}); err != nil {
		return err
	}
	r.stats.RequestsSent.Increment()
	return nil
}

func (r *Resolver) send(nic *stack.NIC, dst tcpip.LinkAddress, f *header.ARPFields) *tcpip.Error {
	pkt := nic.NewPacket()
	if err := ethernet.WriteHeader(pkt, dst, ProtocolNumber); err != nil {
		return pkt.Trash(err)
	}
	b, err := pkt.Reserve(header.ARPSize)
	if err != nil {
		return pkt.Trash(err)
	}
	header.ARP(b).Encode(f)
	pkt.Log("arp")
	return pkt.Send()
}

// Receive is the ARP receive path of iface. Requests for the configured
// address are answered with a unicast reply. Replies fill the gateway cache
// when they come from the gateway and complete the queries waiting on the
// sender address.
func (r *Resolver) Receive(iface *ipv4.InterfaceState, pkt *stack.PacketBuffer) *tcpip.Error {
	b, ok := pkt.Read(header.ARPSize)
	if !ok || !header.ARP(b).IsValid() {
		r.stats.MalformedPacketsReceived.Increment()
		return tcpip.ErrMalformedHeader
	}
	h := header.ARP(b)
	pkt.Log("arp")
	sender := h.SenderAddress()
	senderLink := h.SenderLinkAddress()

	switch h.Op() {
	case header.ARPRequest:
		r.stats.RequestsReceived.Increment()
		if !iface.Configured() || h.TargetAddress() != iface.Address() {
			return nil
		}
		nic := iface.NIC()
		if err := r.send(nic, senderLink, &header.ARPFields{
			Op:         header.ARPReply,
			SenderLink: nic.LinkAddress(),
			SenderAddr: iface.Address(),
			TargetLink: senderLink,
			TargetAddr: sender,
		}); err != nil {
			return err
		}
		r.stats.RepliesSent.Increment()
	case header.ARPReply:
		r.stats.RepliesReceived.Increment()
		if iface.CacheGatewayLinkAddress(sender, senderLink) {
			r.stats.GatewayCached.Increment()
		}
		now := r.state.Stack().Clock().Now()
		for {
			q := iface.ARPQueries().Take(sender.Uint32())
			if q == nil {
				break
			}
			if q.Complete(senderLink, nil, now) {
				r.stats.Resolved.Increment()
			}
		}
	}
	return nil
}
