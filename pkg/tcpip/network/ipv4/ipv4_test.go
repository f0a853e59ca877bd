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

package ipv4_test

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"gvisor.dev/inet/pkg/tcpip"
	"gvisor.dev/inet/pkg/tcpip/faketime"
	"gvisor.dev/inet/pkg/tcpip/header"
	"gvisor.dev/inet/pkg/tcpip/link/channel"
	"gvisor.dev/inet/pkg/tcpip/link/ethernet"
	"gvisor.dev/inet/pkg/tcpip/network/ipv4"
	"gvisor.dev/inet/pkg/tcpip/stack"
)

const (
	localMAC = tcpip.LinkAddress("\x02\x00\x00\x00\x00\x01")
	peerMAC  = tcpip.LinkAddress("\x02\x00\x00\x00\x00\x02")
	gwMAC    = tcpip.LinkAddress("\x02\x00\x00\x00\x00\xfe")

	localAddr = tcpip.Address("\xc0\xa8\x01\x0a")
	peerAddr  = tcpip.Address("\xc0\xa8\x01\x14")
	gwAddr    = tcpip.Address("\xc0\xa8\x01\x01")
	maskC     = tcpip.AddressMask("\xff\xff\xff\x00")
)

// fakeResolver answers from a fixed table and records what it was asked.
type fakeResolver struct {
	mu        sync.Mutex
	table     map[tcpip.Address]tcpip.LinkAddress
	resolved  []tcpip.Address
	announced []tcpip.Address
}

func (r *fakeResolver) Resolve(_ context.Context, _ *ipv4.InterfaceState, addr tcpip.Address) (tcpip.LinkAddress, *tcpip.Error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolved = append(r.resolved, addr)
	if la, ok := r.table[addr]; ok {
		return la, nil
	}
	return "", tcpip.ErrTimeout
}

func (r *fakeResolver) Announce(_ *ipv4.InterfaceState, addr tcpip.Address) *tcpip.Error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.announced = append(r.announced, addr)
	return nil
}

type testContext struct {
	t        *testing.T
	clock    *faketime.ManualClock
	stack    *stack.Stack
	state    *ipv4.State
	ep       *channel.Endpoint
	resolver *fakeResolver
}

func newTestContext(t *testing.T) *testContext {
	t.Helper()
	clock := faketime.NewManualClock()
	s := stack.New(stack.Options{Clock: clock})
	ep := channel.New(16, 1500, localMAC)
	if _, err := s.CreateNIC(1, stack.NICOptions{Name: "eth0", Framer: ethernet.Framer{}, Endpoint: ep}); err != nil {
		t.Fatalf("CreateNIC: %s", err)
	}
	st, err := ipv4.Attach(s, ipv4.Options{})
	if err != nil {
		t.Fatalf("Attach: %s", err)
	}
	r := &fakeResolver{table: map[tcpip.Address]tcpip.LinkAddress{
		peerAddr: peerMAC,
		gwAddr:   gwMAC,
	}}
	st.SetLinkAddressResolver(r)
	return &testContext{t: t, clock: clock, stack: s, state: st, ep: ep, resolver: r}
}

func (c *testContext) addNIC(id tcpip.NICID, linkAddr tcpip.LinkAddress) *channel.Endpoint {
	c.t.Helper()
	ep := channel.New(16, 1500, linkAddr)
	if _, err := c.stack.CreateNIC(id, stack.NICOptions{Framer: ethernet.Framer{}, Endpoint: ep}); err != nil {
		c.t.Fatalf("CreateNIC(%d): %s", id, err)
	}
	return ep
}

func (c *testContext) readFrame() []byte {
	c.t.Helper()
	f, ok := c.ep.Read()
	if !ok {
		c.t.Fatalf("no frame written")
	}
	return f
}

func ipFrame(proto uint8, src, dst tcpip.Address, payload []byte, padding int) []byte {
	b := make([]byte, header.EthernetMinimumSize+header.IPv4MinimumSize+len(payload)+padding)
	header.Ethernet(b).Encode(&header.EthernetFields{SrcAddr: peerMAC, DstAddr: localMAC, Type: header.IPv4ProtocolNumber})
	header.IPv4(b[header.EthernetMinimumSize:]).Encode(&header.IPv4Fields{
		TotalLength: uint16(header.IPv4MinimumSize + len(payload)),
		ID:          1,
		TTL:         64,
		Protocol:    proto,
		SrcAddr:     src,
		DstAddr:     dst,
	})
	copy(b[header.EthernetMinimumSize+header.IPv4MinimumSize:], payload)
	return b
}

func TestClassify(t *testing.T) {
	for _, tc := range []struct {
		addr  string
		class ipv4.AddressClass
		mask  string
	}{
		{"0.0.0.0", ipv4.ClassAny, "0.0.0.0"},
		{"10.0.0.5", ipv4.ClassA, "255.0.0.0"},
		{"172.16.0.1", ipv4.ClassB, "255.255.0.0"},
		{"192.168.1.1", ipv4.ClassC, "255.255.255.0"},
		{"127.0.0.1", ipv4.ClassLoopback, "255.0.0.0"},
		{"224.0.0.1", ipv4.ClassInvalid, ""},
		{"240.0.0.1", ipv4.ClassInvalid, ""},
	} {
		t.Run(tc.addr, func(t *testing.T) {
			addr, err := tcpip.ParseAddress(tc.addr)
			if err != nil {
				t.Fatalf("ParseAddress: %v", err)
			}
			class, mask := ipv4.Classify(addr)
			if class != tc.class {
				t.Errorf("class = %s, want %s", class, tc.class)
			}
			if got := mask.String(); got != tc.mask {
				t.Errorf("mask = %s, want %s", got, tc.mask)
			}
		})
	}
}

func TestSetIP(t *testing.T) {
	c := newTestContext(t)
	if err := c.state.SetIP(1, localAddr, "", gwAddr); err != nil {
		t.Fatalf("SetIP: %s", err)
	}
	iface, err := c.state.Interface(1)
	if err != nil {
		t.Fatalf("Interface: %s", err)
	}
	if iface.Name() != "ip4.1" {
		t.Errorf("Name() = %s, want ip4.1", iface.Name())
	}
	if iface.Mask() != maskC || iface.Broadcast() != "\xc0\xa8\x01\xff" || iface.Gateway() != gwAddr {
		t.Errorf("unexpected configuration %s/%s/%s", iface.Mask(), iface.Broadcast(), iface.Gateway())
	}
	if diff := cmp.Diff([]tcpip.Address{localAddr, gwAddr}, c.resolver.announced); diff != "" {
		t.Errorf("announced mismatch (-want +got):\n%s", diff)
	}

	// Reconfiguring replaces the subnet of the interface.
	if err := c.state.SetIP(1, "\x0a\x00\x00\x05", "", ""); err != nil {
		t.Fatalf("SetIP: %s", err)
	}
	subnets := c.state.Subnets()
	if len(subnets) != 1 || subnets[0].Addr != "\x0a\x00\x00\x05" || subnets[0].Mask != "\xff\x00\x00\x00" {
		t.Errorf("subnets = %+v, want one 10.0.0.5/8 entry", subnets)
	}
	if err := c.state.SetIP(1, "\xf0\x00\x00\x01", "", ""); err != tcpip.ErrBadAddress {
		t.Errorf("SetIP(240.0.0.1) = %v, want %v", err, tcpip.ErrBadAddress)
	}
	if err := c.state.SetIP(1, tcpip.IPv4Any, "", ""); err != nil {
		t.Fatalf("SetIP(0.0.0.0): %s", err)
	}
	if iface.Configured() || len(c.state.Subnets()) != 0 {
		t.Errorf("address not cleared")
	}
}

func TestConfig(t *testing.T) {
	c := newTestContext(t)
	if err := c.state.Config(1, "addr=10.0.0.5 gw=10.0.0.1 ttl=32 dhcp-server"); err != nil {
		t.Fatalf("Config: %s", err)
	}
	iface, _ := c.state.Interface(1)
	if got, want := iface.Mask(), tcpip.AddressMask("\xff\x00\x00\x00"); got != want {
		t.Errorf("Mask() = %s, want %s", got, want)
	}
	if got, want := iface.Broadcast(), tcpip.Address("\x0a\xff\xff\xff"); got != want {
		t.Errorf("Broadcast() = %s, want %s", got, want)
	}
	if iface.TTL() != 32 || !iface.DHCPServerEnabled() || iface.DHCPEnabled() {
		t.Errorf("ttl/dhcp flags = %d/%t/%t", iface.TTL(), iface.DHCPServerEnabled(), iface.DHCPEnabled())
	}
	if err := c.state.Config(1, "dhcp"); err != nil || !iface.DHCPEnabled() {
		t.Errorf("Config(dhcp) = %v, enabled %t", err, iface.DHCPEnabled())
	}
	for _, bad := range []string{"bogus", "addr=1.2.3", "ttl=0", "ttl=300", "mask"} {
		if err := c.state.Config(1, bad); err != tcpip.ErrInvalidOptionValue {
			t.Errorf("Config(%q) = %v, want %v", bad, err, tcpip.ErrInvalidOptionValue)
		}
	}
	if err := c.state.Config(1, "addr=240.0.0.1"); err != tcpip.ErrBadAddress {
		t.Errorf("Config(class E) = %v, want %v", err, tcpip.ErrBadAddress)
	}
}

func TestFindRoute(t *testing.T) {
	c := newTestContext(t)
	c.addNIC(2, "\x02\x00\x00\x00\x00\x03")
	c.resolver.table["\x0a\x01\x02\x03"] = "\x02\x00\x00\x00\x01\x03"
	c.resolver.table["\x0a\x00\x00\xfe"] = "\x02\x00\x00\x00\x01\xfe"
	if err := c.state.SetIP(1, localAddr, maskC, gwAddr); err != nil {
		t.Fatalf("SetIP(1): %s", err)
	}
	if err := c.state.SetIP(2, "\x0a\x00\x00\x01", "", ""); err != nil {
		t.Fatalf("SetIP(2): %s", err)
	}
	ctx := context.Background()

	for _, tc := range []struct {
		name    string
		dest    tcpip.Address
		nic     tcpip.NICID
		nextHop tcpip.Address
		link    tcpip.LinkAddress
	}{
		{"on-link", peerAddr, 1, peerAddr, peerMAC},
		{"second subnet", "\x0a\x01\x02\x03", 2, "\x0a\x01\x02\x03", "\x02\x00\x00\x00\x01\x03"},
		{"default gateway", "\x08\x08\x08\x08", 1, gwAddr, gwMAC},
		{"subnet broadcast", "\xc0\xa8\x01\xff", 1, "\xc0\xa8\x01\xff", header.EthernetBroadcastAddress},
	} {
		t.Run(tc.name, func(t *testing.T) {
			r, err := c.state.FindRoute(ctx, tc.dest)
			if err != nil {
				t.Fatalf("FindRoute(%s): %s", tc.dest, err)
			}
			if r.Iface.NIC().ID() != tc.nic || r.NextHop != tc.nextHop || r.LinkAddr != tc.link || r.TTL != ipv4.DefaultTTL {
				t.Errorf("FindRoute(%s) = nic %d via %s at %s ttl %d", tc.dest, r.Iface.NIC().ID(), r.NextHop, r.LinkAddr, r.TTL)
			}
		})
	}

	// Static routes come first.
	if err := c.state.AddRoute(ipv4.StaticRoute{Network: "\x08\x08\x00\x00", Mask: "\xff\xff\x00\x00", Gateway: "\x0a\x00\x00\xfe", NIC: 2}); err != nil {
		t.Fatalf("AddRoute: %s", err)
	}
	if err := c.state.AddRoute(ipv4.StaticRoute{Network: "\x08\x08\x01\x01", Mask: "\xff\xff\x00\x00", NIC: 2}); err != tcpip.ErrDuplicateAddress {
		t.Errorf("duplicate AddRoute = %v, want %v", err, tcpip.ErrDuplicateAddress)
	}
	r, err := c.state.FindRoute(ctx, "\x08\x08\x08\x08")
	if err != nil {
		t.Fatalf("FindRoute: %s", err)
	}
	if r.Iface.NIC().ID() != 2 || r.NextHop != "\x0a\x00\x00\xfe" {
		t.Errorf("static route not used: nic %d via %s", r.Iface.NIC().ID(), r.NextHop)
	}
	if err := c.state.RemoveRoute("\x08\x08\x00\x00", "\xff\xff\x00\x00"); err != nil {
		t.Fatalf("RemoveRoute: %s", err)
	}
	if len(c.state.Routes()) != 0 {
		t.Errorf("route not removed")
	}

	if _, err := c.state.FindRoute(ctx, "\xc0\xa8\x01\x63"); err != tcpip.ErrTimeout {
		t.Errorf("FindRoute(unresolvable) = %v, want %v", err, tcpip.ErrTimeout)
	}
}

func TestFindRouteCachedGateway(t *testing.T) {
	c := newTestContext(t)
	if err := c.state.SetIP(1, localAddr, maskC, gwAddr); err != nil {
		t.Fatalf("SetIP: %s", err)
	}
	iface, _ := c.state.Interface(1)
	if !iface.CacheGatewayLinkAddress(gwAddr, "\x02\x00\x00\x00\x00\xaa") {
		t.Fatalf("gateway address not cached")
	}
	r, err := c.state.FindRoute(context.Background(), "\x08\x08\x04\x04")
	if err != nil {
		t.Fatalf("FindRoute: %s", err)
	}
	if r.LinkAddr != "\x02\x00\x00\x00\x00\xaa" {
		t.Errorf("LinkAddr = %s, want the cached gateway address", r.LinkAddr)
	}
	if len(c.resolver.resolved) != 0 {
		t.Errorf("resolver asked for %v", c.resolver.resolved)
	}
}

func TestNoRoute(t *testing.T) {
	c := newTestContext(t)
	if _, err := c.state.FindRoute(context.Background(), peerAddr); err != tcpip.ErrNoRoute {
		t.Errorf("FindRoute = %v, want %v", err, tcpip.ErrNoRoute)
	}
}

func TestFindBroadcastRoute(t *testing.T) {
	c := newTestContext(t)
	r, err := c.state.FindBroadcastRoute(1)
	if err != nil {
		t.Fatalf("FindBroadcastRoute: %s", err)
	}
	if r.Addr != tcpip.IPv4Broadcast || r.LinkAddr != header.EthernetBroadcastAddress {
		t.Errorf("unconfigured broadcast route = %s at %s", r.Addr, r.LinkAddr)
	}
	if err := c.state.SetIP(1, localAddr, maskC, ""); err != nil {
		t.Fatalf("SetIP: %s", err)
	}
	r, err = c.state.FindBroadcastRoute(1)
	if err != nil {
		t.Fatalf("FindBroadcastRoute: %s", err)
	}
	if r.Addr != "\xc0\xa8\x01\xff" || r.LinkAddr != header.EthernetBroadcastAddress {
		t.Errorf("broadcast route = %s at %s", r.Addr, r.LinkAddr)
	}
	if len(c.resolver.resolved) != 0 {
		t.Errorf("resolver asked for %v", c.resolver.resolved)
	}
}

func TestWriteHeader(t *testing.T) {
	c := newTestContext(t)
	if err := c.state.SetIP(1, localAddr, maskC, ""); err != nil {
		t.Fatalf("SetIP: %s", err)
	}
	r, err := c.state.FindRoute(context.Background(), peerAddr)
	if err != nil {
		t.Fatalf("FindRoute: %s", err)
	}
	pkt := r.Iface.NIC().NewPacket()
	if err := c.state.WriteHeader(pkt, r, 200, 4, 0x1234, 2); err != nil {
		t.Fatalf("WriteHeader: %s", err)
	}
	if err := pkt.Write([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("Write: %s", err)
	}
	if err := c.state.Send(pkt); err != nil {
		t.Fatalf("Send: %s", err)
	}

	frame := c.readFrame()
	ip := header.IPv4(frame[header.EthernetMinimumSize:])
	if !ip.IsChecksumValid() {
		t.Errorf("bad header checksum")
	}
	p := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.Default)
	got, ok := p.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	if !ok {
		t.Fatalf("no IPv4 layer in %x", frame)
	}
	want := struct {
		Length, Id, Flags uint16
		TTL, Protocol     uint8
		Src, Dst          string
	}{24, 0x1234, 2, ipv4.DefaultTTL, 200, "192.168.1.10", "192.168.1.20"}
	gotFields := want
	gotFields.Length, gotFields.Id = got.Length, got.Id
	gotFields.Flags = uint16(got.Flags)<<13 | got.FragOffset
	gotFields.TTL, gotFields.Protocol = got.TTL, uint8(got.Protocol)
	gotFields.Src, gotFields.Dst = got.SrcIP.String(), got.DstIP.String()
	if diff := cmp.Diff(want, gotFields); diff != "" {
		t.Errorf("IPv4 header mismatch (-want +got):\n%s", diff)
	}
	if c.stack.Stats().IP.PacketsSent.Value() != 1 {
		t.Errorf("PacketsSent = %d, want 1", c.stack.Stats().IP.PacketsSent.Value())
	}
}

func TestReceive(t *testing.T) {
	c := newTestContext(t)
	if _, err := c.state.Interface(1); err != nil {
		t.Fatalf("Interface: %s", err)
	}
	var (
		gotPayload []byte
		gotTrail   []byte
	)
	if err := c.state.RegisterTransportHandler(200, func(_ *ipv4.InterfaceState, _ header.IPv4, pkt *stack.PacketBuffer) *tcpip.Error {
		gotPayload = append([]byte(nil), pkt.Remaining()...)
		gotTrail, _ = pkt.TrailTail(4)
		return nil
	}); err != nil {
		t.Fatalf("RegisterTransportHandler: %s", err)
	}

	// Link padding past the total length is not delivered.
	c.ep.InjectInbound(ipFrame(200, peerAddr, localAddr, []byte("data"), 6))
	if string(gotPayload) != "data" {
		t.Errorf("payload = %q, want data", gotPayload)
	}
	if tcpip.Address(gotTrail) != peerAddr {
		t.Errorf("trail = %v, want %s", gotTrail, peerAddr)
	}

	bad := ipFrame(200, peerAddr, localAddr, []byte("data"), 0)
	bad[header.EthernetMinimumSize+10] ^= 0xff
	c.ep.InjectInbound(bad)
	short := ipFrame(200, peerAddr, localAddr, nil, 0)[:header.EthernetMinimumSize+10]
	c.ep.InjectInbound(short)
	c.ep.InjectInbound(ipFrame(201, peerAddr, localAddr, nil, 0))

	stats := c.stack.Stats()
	if got := stats.IP.MalformedPacketsReceived.Value(); got != 2 {
		t.Errorf("MalformedPacketsReceived = %d, want 2", got)
	}
	if got := stats.IP.UnknownProtocolRcvdPackets.Value(); got != 1 {
		t.Errorf("UnknownProtocolRcvdPackets = %d, want 1", got)
	}
	if got := stats.IP.PacketsReceived.Value(); got != 4 {
		t.Errorf("PacketsReceived = %d, want 4", got)
	}
}

func echoReply(t *testing.T, request []byte) []byte {
	t.Helper()
	p := gopacket.NewPacket(request, layers.LayerTypeEthernet, gopacket.Default)
	ip, ok := p.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	if !ok {
		t.Fatalf("no IPv4 layer in %x", request)
	}
	echo, ok := p.Layer(layers.LayerTypeICMPv4).(*layers.ICMPv4)
	if !ok {
		t.Fatalf("no ICMPv4 layer in %x", request)
	}
	if want := layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0); echo.TypeCode != want {
		t.Fatalf("ICMP type = %s, want %s", echo.TypeCode, want)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts,
		&layers.Ethernet{SrcMAC: net.HardwareAddr(peerMAC), DstMAC: net.HardwareAddr(localMAC), EthernetType: layers.EthernetTypeIPv4},
		&layers.IPv4{Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolICMPv4, SrcIP: ip.DstIP, DstIP: ip.SrcIP},
		&layers.ICMPv4{TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoReply, 0), Id: echo.Id, Seq: echo.Seq},
		gopacket.Payload(echo.Payload),
	); err != nil {
		t.Fatalf("SerializeLayers: %v", err)
	}
	return buf.Bytes()
}

func TestPing(t *testing.T) {
	c := newTestContext(t)
	if err := c.state.SetIP(1, localAddr, maskC, ""); err != nil {
		t.Fatalf("SetIP: %s", err)
	}
	r, err := c.state.FindRoute(context.Background(), peerAddr)
	if err != nil {
		t.Fatalf("FindRoute: %s", err)
	}
	q, err := c.state.Ping(r, 7, []byte("hello"))
	if err != nil {
		t.Fatalf("Ping: %s", err)
	}
	if !r.Iface.ICMP().Queries.Contains(q.Key()) {
		t.Fatalf("ping not registered")
	}
	c.clock.Advance(3 * time.Millisecond)
	c.ep.InjectInbound(echoReply(t, c.readFrame()))

	res, err := c.state.PingWait(context.Background(), q, time.Second)
	if err != nil {
		t.Fatalf("PingWait: %s", err)
	}
	if !res.Success || string(res.Payload) != "hello" || res.Elapsed != 3*time.Millisecond {
		t.Errorf("unexpected result %+v", res)
	}
	if r.Iface.ICMP().Queries.Len() != 0 {
		t.Errorf("ping still registered")
	}

	// A second reply matches nothing.
	c.ep.InjectInbound(echoReply(t, mustPing(t, c, r)))
	if got := c.stack.Stats().ICMP.EchoRepliesReceived.Value(); got != 2 {
		t.Errorf("EchoRepliesReceived = %d, want 2", got)
	}
}

// mustPing sends a ping, drops its query and returns the request frame.
func mustPing(t *testing.T, c *testContext, r ipv4.Route) []byte {
	t.Helper()
	q, err := c.state.Ping(r, 8, nil)
	if err != nil {
		t.Fatalf("Ping: %s", err)
	}
	r.Iface.ICMP().Queries.Forget(q.PendingQuery)
	return c.readFrame()
}

func TestPingTimeout(t *testing.T) {
	c := newTestContext(t)
	if err := c.state.SetIP(1, localAddr, maskC, ""); err != nil {
		t.Fatalf("SetIP: %s", err)
	}
	r, err := c.state.FindRoute(context.Background(), peerAddr)
	if err != nil {
		t.Fatalf("FindRoute: %s", err)
	}
	q, err := c.state.Ping(r, 1, nil)
	if err != nil {
		t.Fatalf("Ping: %s", err)
	}
	if q.Iface() != r.Iface {
		t.Fatalf("Iface() = %s, want %s", q.Iface().Name(), r.Iface.Name())
	}
	res := make(chan *tcpip.Error)
	go func() {
		_, err := c.state.PingWait(context.Background(), q, time.Second)
		res <- err
	}()
	c.clock.AdvanceWhenBlocked(1, time.Second)
	if err := <-res; err != tcpip.ErrTimeout {
		t.Errorf("PingWait = %v, want %v", err, tcpip.ErrTimeout)
	}
	if r.Iface.ICMP().Queries.Len() != 0 {
		t.Errorf("timed out ping still registered")
	}
	if got := c.stack.Stats().ICMP.EchoRequestsSent.Value(); got != 1 {
		t.Errorf("EchoRequestsSent = %d, want 1", got)
	}
}

func TestTeardown(t *testing.T) {
	c := newTestContext(t)
	if err := c.state.SetIP(1, localAddr, maskC, ""); err != nil {
		t.Fatalf("SetIP: %s", err)
	}
	if err := c.stack.Close(); err != tcpip.ErrBusy {
		t.Errorf("Close with an interface = %v, want %v", err, tcpip.ErrBusy)
	}
	iface, _ := c.state.Interface(1)
	q := stack.NewPendingQuery[uint32](peerAddr.Uint32(), c.clock.Now())
	iface.ARPQueries().Register(q)
	if err := c.state.RemoveInterface(1); err != tcpip.ErrBusy {
		t.Errorf("RemoveInterface with a pending query = %v, want %v", err, tcpip.ErrBusy)
	}
	iface.ARPQueries().Forget(q)
	iface.SetDHCPInfo(struct{}{})
	if err := c.state.RemoveInterface(1); err != tcpip.ErrBusy {
		t.Errorf("RemoveInterface with DHCP state = %v, want %v", err, tcpip.ErrBusy)
	}
	iface.SetDHCPInfo(nil)
	if err := c.state.RemoveInterface(1); err != nil {
		t.Fatalf("RemoveInterface: %s", err)
	}
	if err := c.stack.Close(); err != nil {
		t.Errorf("Close: %s", err)
	}
	if c.stack.NetworkProtocol(ipv4.ProtocolName) != nil {
		t.Errorf("protocol still registered after Close")
	}
}
