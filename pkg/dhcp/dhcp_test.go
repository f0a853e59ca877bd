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
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/insomniacslk/dhcp/dhcpv4"
	"gvisor.dev/inet/pkg/tcpip"
	"gvisor.dev/inet/pkg/tcpip/faketime"
	"gvisor.dev/inet/pkg/tcpip/link/channel"
	"gvisor.dev/inet/pkg/tcpip/link/ethernet"
	"gvisor.dev/inet/pkg/tcpip/network/ipv4"
	"gvisor.dev/inet/pkg/tcpip/stack"
	"gvisor.dev/inet/pkg/tcpip/transport/udp"
)

const (
	localMAC  = tcpip.LinkAddress("\x52\x11\x22\x33\x44\x52")
	serverMAC = tcpip.LinkAddress("\x52\x11\x22\x33\x44\x01")

	serverAddr = tcpip.Address("\xc0\xa8\x03\x01")
	offerAddr  = tcpip.Address("\xc0\xa8\x03\x04")
	gatewayIP  = tcpip.Address("\xc0\xa8\x03\xf0")
)

type staticResolver map[tcpip.Address]tcpip.LinkAddress

func (r staticResolver) Resolve(_ context.Context, _ *ipv4.InterfaceState, addr tcpip.Address) (tcpip.LinkAddress, *tcpip.Error) {
	if la, ok := r[addr]; ok {
		return la, nil
	}
	return "", tcpip.ErrTimeout
}

func (staticResolver) Announce(*ipv4.InterfaceState, tcpip.Address) *tcpip.Error { return nil }

type testContext struct {
	t     *testing.T
	clock *faketime.ManualClock
	stack *stack.Stack
	state *ipv4.State
	dhcp  *DHCP
	ep    *channel.Endpoint
	iface *ipv4.InterfaceState
}

func newTestContext(t *testing.T) *testContext {
	t.Helper()
	clock := faketime.NewManualClock()
	s := stack.New(stack.Options{Clock: clock})
	ep := channel.New(64, 1500, localMAC)
	if _, err := s.CreateNIC(1, stack.NICOptions{Framer: ethernet.Framer{}, Endpoint: ep}); err != nil {
		t.Fatalf("CreateNIC: %s", err)
	}
	st, err := ipv4.Attach(s, ipv4.Options{})
	if err != nil {
		t.Fatalf("ipv4.Attach: %s", err)
	}
	p, err := udp.Attach(st)
	if err != nil {
		t.Fatalf("udp.Attach: %s", err)
	}
	iface, err := st.Interface(1)
	if err != nil {
		t.Fatalf("Interface: %s", err)
	}
	return &testContext{
		t:     t,
		clock: clock,
		stack: s,
		state: st,
		dhcp:  Attach(p, Options{}),
		ep:    ep,
		iface: iface,
	}
}

// readMessage returns the DHCP message of the next written frame along with
// its IPv4 and Ethernet layers.
func (c *testContext) readMessage() (*dhcpv4.DHCPv4, *layers.IPv4, *layers.Ethernet) {
	c.t.Helper()
	frame, ok := c.ep.Read()
	if !ok {
		c.t.Fatalf("no frame written")
	}
	p := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.Default)
	eth, ok := p.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	if !ok {
		c.t.Fatalf("no Ethernet layer in %x", frame)
	}
	ip, ok := p.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	if !ok {
		c.t.Fatalf("no IPv4 layer in %x", frame)
	}
	u, ok := p.Layer(layers.LayerTypeUDP).(*layers.UDP)
	if !ok {
		c.t.Fatalf("no UDP layer in %x", frame)
	}
	m, err := dhcpv4.FromBytes(u.Payload)
	if err != nil {
		c.t.Fatalf("dhcpv4.FromBytes: %v", err)
	}
	return m, ip, eth
}

// inject delivers m from srcPort to dstPort as if broadcast by the server
// host.
func (c *testContext) inject(m *dhcpv4.DHCPv4, srcPort, dstPort uint16) {
	c.t.Helper()
	c.injectFrom(m, serverAddr, serverMAC, srcPort, dstPort)
}

// injectFrom delivers m broadcast by the host at src and srcMAC.
func (c *testContext) injectFrom(m *dhcpv4.DHCPv4, src tcpip.Address, srcMAC tcpip.LinkAddress, srcPort, dstPort uint16) {
	c.t.Helper()
	ip := &layers.IPv4{Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolUDP, SrcIP: net.IP(src), DstIP: net.IPv4bcast}
	u := &layers.UDP{SrcPort: layers.UDPPort(srcPort), DstPort: layers.UDPPort(dstPort)}
	if err := u.SetNetworkLayerForChecksum(ip); err != nil {
		c.t.Fatalf("SetNetworkLayerForChecksum: %v", err)
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts,
		&layers.Ethernet{SrcMAC: net.HardwareAddr(srcMAC), DstMAC: layers.EthernetBroadcast, EthernetType: layers.EthernetTypeIPv4},
		ip, u, gopacket.Payload(m.ToBytes()),
	); err != nil {
		c.t.Fatalf("SerializeLayers: %v", err)
	}
	c.ep.InjectInbound(buf.Bytes())
}

func (c *testContext) mode() Mode {
	c.t.Helper()
	st, err := c.dhcp.Status(1)
	if err != nil {
		c.t.Fatalf("Status: %s", err)
	}
	return st.Mode
}

func xidOf(m *dhcpv4.DHCPv4) uint32 {
	return binary.BigEndian.Uint32(m.TransactionID[:])
}

// serverReply builds the answer of type typ from the test server to req.
func serverReply(t *testing.T, req *dhcpv4.DHCPv4, typ dhcpv4.MessageType) *dhcpv4.DHCPv4 {
	t.Helper()
	m, err := dhcpv4.NewReplyFromRequest(req,
		dhcpv4.WithMessageType(typ),
		dhcpv4.WithYourIP(net.IP(offerAddr)),
		dhcpv4.WithServerIP(net.IP(serverAddr)),
		dhcpv4.WithOption(dhcpv4.OptServerIdentifier(net.IP(serverAddr))),
		dhcpv4.WithOption(dhcpv4.OptSubnetMask(net.CIDRMask(24, 32))),
		dhcpv4.WithOption(dhcpv4.OptRouter(net.IP(gatewayIP))),
		dhcpv4.WithOption(dhcpv4.OptIPAddressLeaseTime(10*time.Minute)),
	)
	if err != nil {
		t.Fatalf("NewReplyFromRequest: %v", err)
	}
	return m
}

func TestOptions(t *testing.T) {
	for _, tc := range []struct {
		name string
		raw  []byte
		want []optionCode
	}{
		{name: "empty", raw: []byte{255}, want: nil},
		{name: "pads", raw: []byte{0, 0, 53, 1, 1, 0, 255}, want: []optionCode{53}},
		{name: "stops at end", raw: []byte{53, 1, 1, 255, 1, 4, 255, 255, 255, 0}, want: []optionCode{53}},
		{name: "truncated value", raw: []byte{53, 1, 1, 1, 4, 255, 255}, want: []optionCode{53}},
		{name: "missing length", raw: []byte{53, 1, 1, 3}, want: []optionCode{53}},
		{name: "no end", raw: []byte{53, 1, 2, 54, 4, 10, 0, 0, 1}, want: []optionCode{53, 54}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := make(hdr, headerBaseSize, headerBaseSize+len(tc.raw))
			h.init()
			h = append(h, tc.raw...)
			var got []optionCode
			for _, opt := range h.options() {
				got = append(got, opt.code)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("options mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEncode(t *testing.T) {
	m := &message{
		typ:       Request,
		xid:       0xdeadbeef,
		broadcast: true,
		siaddr:    serverAddr,
		chaddr:    localMAC,
		opts: options{
			{optReqIPAddr, []byte(offerAddr)},
			{optDHCPServer, []byte(serverAddr)},
		},
	}
	d, err := dhcpv4.FromBytes(m.encode())
	if err != nil {
		t.Fatalf("dhcpv4.FromBytes: %v", err)
	}
	if d.OpCode != dhcpv4.OpcodeBootRequest || d.MessageType() != dhcpv4.MessageTypeRequest {
		t.Errorf("got %s %s, want BootRequest REQUEST", d.OpCode, d.MessageType())
	}
	if got := xidOf(d); got != m.xid {
		t.Errorf("xid = %#x, want %#x", got, m.xid)
	}
	if !d.IsBroadcast() {
		t.Errorf("broadcast flag not set")
	}
	if tcpip.LinkAddress(d.ClientHWAddr) != localMAC {
		t.Errorf("chaddr = %s, want %s", d.ClientHWAddr, net.HardwareAddr(localMAC))
	}
	if !d.RequestedIPAddress().Equal(net.IP(offerAddr)) || !d.ServerIdentifier().Equal(net.IP(serverAddr)) {
		t.Errorf("requested %s from %s", d.RequestedIPAddress(), d.ServerIdentifier())
	}

	back, perr := parse(m.encode())
	if perr != nil {
		t.Fatalf("parse: %s", perr)
	}
	if back.typ != Request || back.xid != m.xid || back.chaddr != localMAC || back.siaddr != serverAddr {
		t.Errorf("parse = %+v", back)
	}
}

func TestParseRejects(t *testing.T) {
	good := (&message{typ: Discover, xid: 1, chaddr: localMAC}).encode()

	badCookie := append([]byte(nil), good...)
	badCookie[236] = 0
	wrongOp := append([]byte(nil), good...)
	wrongOp[0] = byte(opReply)
	noType := append([]byte(nil), good...)
	noType[headerBaseSize] = byte(optEnd)

	for name, b := range map[string][]byte{
		"short":      good[:headerBaseSize],
		"bad cookie": badCookie,
		"wrong op":   wrongOp,
		"no type":    noType,
	} {
		if _, err := parse(b); err != tcpip.ErrMalformedHeader {
			t.Errorf("parse(%s) = %v, want %v", name, err, tcpip.ErrMalformedHeader)
		}
	}
}

func TestClientAcquisition(t *testing.T) {
	c := newTestContext(t)
	if got := c.mode(); got != ModeIdle {
		t.Fatalf("initial mode = %s, want %s", got, ModeIdle)
	}
	sent, err := c.dhcp.Discovery(1)
	if err != nil || !sent {
		t.Fatalf("Discovery = %t, %v", sent, err)
	}
	if got := c.ep.NumQueued(); got != 1 {
		t.Fatalf("%d frames written, want 1", got)
	}
	discover, ip, eth := c.readMessage()
	if discover.MessageType() != dhcpv4.MessageTypeDiscover {
		t.Fatalf("got %s, want DISCOVER", discover.MessageType())
	}
	if !ip.DstIP.Equal(net.IPv4bcast) || eth.DstMAC.String() != "ff:ff:ff:ff:ff:ff" {
		t.Errorf("DISCOVER sent to %s at %s, want broadcast", ip.DstIP, eth.DstMAC)
	}
	st, _ := c.dhcp.Status(1)
	if xidOf(discover) != st.XID {
		t.Errorf("DISCOVER xid %#x, state xid %#x", xidOf(discover), st.XID)
	}

	// An offer for another transaction is ignored.
	stale := serverReply(t, discover, dhcpv4.MessageTypeOffer)
	stale.TransactionID[0] ^= 0xff
	c.inject(stale, ServerPort, ClientPort)
	if got := c.mode(); got != ModeDiscover {
		t.Errorf("mode after stale OFFER = %s, want %s", got, ModeDiscover)
	}
	if got := c.ep.NumQueued(); got != 0 {
		t.Errorf("%d frames written after a stale OFFER", got)
	}

	c.inject(serverReply(t, discover, dhcpv4.MessageTypeOffer), ServerPort, ClientPort)
	if got := c.mode(); got != ModeRequest {
		t.Fatalf("mode after OFFER = %s, want %s", got, ModeRequest)
	}
	if got := c.ep.NumQueued(); got != 1 {
		t.Fatalf("%d frames written after OFFER, want 1", got)
	}
	request, _, _ := c.readMessage()
	if request.MessageType() != dhcpv4.MessageTypeRequest || xidOf(request) != xidOf(discover) {
		t.Fatalf("got %s xid %#x, want REQUEST xid %#x", request.MessageType(), xidOf(request), xidOf(discover))
	}
	if !request.RequestedIPAddress().Equal(net.IP(offerAddr)) || !request.ServerIdentifier().Equal(net.IP(serverAddr)) {
		t.Errorf("REQUEST for %s from %s, want %s from %s", request.RequestedIPAddress(), request.ServerIdentifier(), net.IP(offerAddr), net.IP(serverAddr))
	}

	c.inject(serverReply(t, request, dhcpv4.MessageTypeAck), ServerPort, ClientPort)
	if got := c.mode(); got != ModeBound {
		t.Fatalf("mode after PACK = %s, want %s", got, ModeBound)
	}
	if c.iface.Address() != offerAddr || c.iface.Mask() != "\xff\xff\xff\x00" || c.iface.Gateway() != gatewayIP {
		t.Errorf("interface configured as %s/%s via %s", c.iface.Address(), c.iface.Mask(), c.iface.Gateway())
	}
	st, _ = c.dhcp.Status(1)
	now := c.clock.Now()
	if !st.Expire.Equal(now.Add(10*time.Minute)) || !st.Renewal.Equal(now.Add(5*time.Minute)) {
		t.Errorf("expire %s renewal %s, want now+10m and now+5m", st.Expire, st.Renewal)
	}
	stats := &c.stack.Stats().DHCP
	if stats.Discovers.Value() != 1 || stats.Requests.Value() != 1 || stats.Acks.Value() != 1 || stats.Ignored.Value() != 1 {
		t.Errorf("stats: discovers %d requests %d acks %d ignored %d", stats.Discovers.Value(), stats.Requests.Value(), stats.Acks.Value(), stats.Ignored.Value())
	}
}

func TestClientNak(t *testing.T) {
	c := newTestContext(t)
	if _, err := c.dhcp.Discovery(1); err != nil {
		t.Fatalf("Discovery: %s", err)
	}
	discover, _, _ := c.readMessage()
	c.inject(serverReply(t, discover, dhcpv4.MessageTypeOffer), ServerPort, ClientPort)
	request, _, _ := c.readMessage()

	// The client is in REQUEST, so the PNACK sends it back to DISCOVER.
	nak, err := dhcpv4.NewReplyFromRequest(request, dhcpv4.WithMessageType(dhcpv4.MessageTypeNak))
	if err != nil {
		t.Fatalf("NewReplyFromRequest: %v", err)
	}
	c.inject(nak, ServerPort, ClientPort)
	if got := c.mode(); got != ModeDiscover {
		t.Fatalf("mode after PNACK = %s, want %s", got, ModeDiscover)
	}
	if c.iface.Configured() {
		t.Errorf("interface configured after PNACK")
	}

	// The next discovery waits for the retry delay.
	if sent, _ := c.dhcp.Discovery(1); sent {
		t.Errorf("Discovery sent inside the retry delay")
	}
	c.clock.Advance(DefaultRetryDelay)
	if sent, err := c.dhcp.Discovery(1); err != nil || !sent {
		t.Errorf("Discovery after the retry delay = %t, %v", sent, err)
	}
	next, _, _ := c.readMessage()
	if xidOf(next) == xidOf(discover) {
		t.Errorf("retry reused transaction id %#x", xidOf(next))
	}
}

func TestDiscoveryOnlyWhenIdle(t *testing.T) {
	c := newTestContext(t)
	if _, err := c.dhcp.Discovery(1); err != nil {
		t.Fatalf("Discovery: %s", err)
	}
	discover, _, _ := c.readMessage()
	c.inject(serverReply(t, discover, dhcpv4.MessageTypeOffer), ServerPort, ClientPort)
	c.readMessage()

	c.clock.Advance(time.Minute)
	if sent, _ := c.dhcp.Discovery(1); sent {
		t.Errorf("Discovery sent while in %s", c.mode())
	}
	if got := c.ep.NumQueued(); got != 0 {
		t.Errorf("%d frames written", got)
	}
}

func TestTick(t *testing.T) {
	c := newTestContext(t)
	if mode, err := c.dhcp.Tick(1); err != nil || mode != ModeIdle || c.ep.NumQueued() != 0 {
		t.Fatalf("Tick without DHCP enabled = %s, %v, %d frames", mode, err, c.ep.NumQueued())
	}
	c.iface.SetDHCPEnabled(true)
	if mode, err := c.dhcp.Tick(1); err != nil || mode != ModeDiscover {
		t.Fatalf("Tick = %s, %v, want %s", mode, err, ModeDiscover)
	}
	discover, _, _ := c.readMessage()
	c.inject(serverReply(t, discover, dhcpv4.MessageTypeOffer), ServerPort, ClientPort)
	c.readMessage()

	// An unanswered REQUEST falls back to DISCOVER after the retry delay.
	c.clock.Advance(DefaultRetryDelay)
	if mode, err := c.dhcp.Tick(1); err != nil || mode != ModeDiscover {
		t.Fatalf("Tick = %s, %v, want %s", mode, err, ModeDiscover)
	}
	discover, _, _ = c.readMessage()
	c.inject(serverReply(t, discover, dhcpv4.MessageTypeOffer), ServerPort, ClientPort)
	request, _, _ := c.readMessage()
	c.inject(serverReply(t, request, dhcpv4.MessageTypeAck), ServerPort, ClientPort)
	if got := c.mode(); got != ModeBound {
		t.Fatalf("mode = %s, want %s", got, ModeBound)
	}

	// Bound before renewal: nothing to do.
	if mode, _ := c.dhcp.Tick(1); mode != ModeBound || c.ep.NumQueued() != 0 {
		t.Errorf("Tick while bound = %s with %d frames", mode, c.ep.NumQueued())
	}
	// Past renewal the address is kept while acquisition restarts.
	c.clock.Advance(5 * time.Minute)
	if mode, _ := c.dhcp.Tick(1); mode != ModeDiscover {
		t.Errorf("Tick past renewal = %s, want %s", mode, ModeDiscover)
	}
	if m, _, _ := c.readMessage(); m.MessageType() != dhcpv4.MessageTypeDiscover {
		t.Errorf("got %s, want DISCOVER", m.MessageType())
	}
	if c.iface.Address() != offerAddr {
		t.Errorf("address %s dropped before expiry", c.iface.Address())
	}
}

func TestRelease(t *testing.T) {
	c := newTestContext(t)
	if _, err := c.dhcp.Discovery(1); err != nil {
		t.Fatalf("Discovery: %s", err)
	}
	discover, _, _ := c.readMessage()
	c.inject(serverReply(t, discover, dhcpv4.MessageTypeOffer), ServerPort, ClientPort)
	request, _, _ := c.readMessage()
	c.inject(serverReply(t, request, dhcpv4.MessageTypeAck), ServerPort, ClientPort)

	// The server is on link; give the route a hardware address without ARP.
	c.state.SetLinkAddressResolver(staticResolver{serverAddr: serverMAC})
	if err := c.dhcp.Release(context.Background(), 1); err != nil {
		t.Fatalf("Release: %s", err)
	}
	release, ip, eth := c.readMessage()
	if release.MessageType() != dhcpv4.MessageTypeRelease || !release.ClientIPAddr.Equal(net.IP(offerAddr)) {
		t.Errorf("got %s for %s, want RELEASE for %s", release.MessageType(), release.ClientIPAddr, net.IP(offerAddr))
	}
	if !ip.DstIP.Equal(net.IP(serverAddr)) || tcpip.LinkAddress(eth.DstMAC) != serverMAC {
		t.Errorf("RELEASE sent to %s at %s", ip.DstIP, eth.DstMAC)
	}
	if c.iface.Configured() || c.iface.DHCPInfo() != nil {
		t.Errorf("interface still configured after Release")
	}
	if err := c.state.RemoveInterface(1); err != nil {
		t.Errorf("RemoveInterface after Release: %s", err)
	}
}
