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

package ipv4

import (
	"context"
	"time"

	"gvisor.dev/inet/pkg/rand"
	"gvisor.dev/inet/pkg/tcpip"
	"gvisor.dev/inet/pkg/tcpip/header"
	"gvisor.dev/inet/pkg/tcpip/stack"
)

// PingTimeout is the default time to wait for an echo reply.
const PingTimeout = time.Second

// EchoQuery is an outstanding ping: the pending query the reply completes and
// the interface whose table holds it.
type EchoQuery struct {
	*stack.PendingQuery[uint16]

	iface *InterfaceState
}

// Iface returns the interface the request was sent on.
func (q *EchoQuery) Iface() *InterfaceState { return q.iface }

// Ping sends an echo request along r and returns the query the reply will
// complete. The query is keyed by a random identifier carried in the ident
// field; seq goes in the sequence field.
func (s *State) Ping(r Route, seq uint16, payload []byte) (*EchoQuery, *tcpip.Error) {
	if r.Iface == nil {
		return nil, tcpip.ErrNoRoute
	}
	ident := rand.Uint16()
	q := &EchoQuery{
		PendingQuery: stack.NewPendingQuery(ident, s.stack.Clock().Now()),
		iface:        r.Iface,
	}
	queries := r.Iface.icmp.Queries
	queries.Register(q.PendingQuery)

	if err := s.sendEcho(r, header.ICMPv4Echo, ident, seq, payload); err != nil {
		queries.Forget(q.PendingQuery)
		return nil, err
	}
	s.stack.Stats().ICMP.EchoRequestsSent.Increment()
	return q, nil
}

func (s *State) sendEcho(r Route, typ header.ICMPv4Type, ident, seq uint16, payload []byte) *tcpip.Error {
	pkt := r.Iface.nic.NewPacket()
	n := header.ICMPv4MinimumSize + len(payload)
	if err := s.WriteHeader(pkt, r, header.ICMPv4ProtocolNumber, n, s.NextID(), 0); err != nil {
		return pkt.Trash(err)
	}
	b, err := pkt.Reserve(n)
	if err != nil {
		return pkt.Trash(err)
	}
	icmp := header.ICMPv4(b)
	icmp.SetType(typ)
	icmp.SetCode(0)
	icmp.SetIdent(ident)
	icmp.SetSequence(seq)
	copy(icmp.Payload(), payload)
	icmp.SetChecksum(header.ICMPv4Checksum(icmp))
	pkt.Log("icmp")
	return s.Send(pkt)
}

// PingWait waits up to timeout for the reply to q. On timeout the query is
// forgotten from the table of the interface it was sent on and ErrTimeout
// returned. A reply racing with the timeout is still reported.
func (s *State) PingWait(ctx context.Context, q *EchoQuery, timeout time.Duration) (stack.QueryResult, *tcpip.Error) {
	if !q.Wait(ctx, s.stack.Clock(), timeout) {
		if q.iface.icmp.Queries.Forget(q.PendingQuery) {
			return q.Result(), tcpip.ErrTimeout
		}
		// The responder took the query first and is completing it.
		<-q.Done()
	}
	return q.Result(), nil
}

// Echo resolves a route to dest, pings it and waits for the reply.
func (s *State) Echo(ctx context.Context, dest tcpip.Address, seq uint16, payload []byte, timeout time.Duration) (stack.QueryResult, *tcpip.Error) {
	r, err := s.FindRoute(ctx, dest)
	if err != nil {
		return stack.QueryResult{}, err
	}
	q, err := s.Ping(r, seq, payload)
	if err != nil {
		return stack.QueryResult{}, err
	}
	return s.PingWait(ctx, q, timeout)
}

// handleICMP is the receive path of ICMP. Echo replies complete the matching
// ping; echo requests are counted and left unanswered.
func (s *State) handleICMP(iface *InterfaceState, _ header.IPv4, pkt *stack.PacketBuffer) *tcpip.Error {
	stats := &s.stack.Stats().ICMP
	b := pkt.Remaining()
	if len(b) < header.ICMPv4MinimumSize {
		stats.Invalid.Increment()
		return tcpip.ErrMalformedHeader
	}
	icmp := header.ICMPv4(b)
	if header.ICMPv4Checksum(icmp) != icmp.Checksum() {
		stats.Invalid.Increment()
		return tcpip.ErrBadChecksum
	}
	pkt.Log("icmp")

	switch icmp.Type() {
	case header.ICMPv4EchoReply:
		stats.EchoRepliesReceived.Increment()
		q := iface.icmp.Queries.Take(icmp.Ident())
		if q == nil {
			stats.UnmatchedReplies.Increment()
			return nil
		}
		q.Complete("", icmp.Payload(), s.stack.Clock().Now())
	case header.ICMPv4Echo:
		// TODO(inet): answer echo requests.
		stats.EchoRequestsReceived.Increment()
	}
	return nil
}
