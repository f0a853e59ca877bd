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
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/insomniacslk/dhcp/dhcpv4"
	"gvisor.dev/inet/pkg/tcpip"
	"gvisor.dev/inet/pkg/tcpip/faketime"
	"gvisor.dev/inet/pkg/tcpip/link/ethernet"
	"gvisor.dev/inet/pkg/tcpip/link/pipe"
	"gvisor.dev/inet/pkg/tcpip/network/arp"
	"gvisor.dev/inet/pkg/tcpip/network/ipv4"
	"gvisor.dev/inet/pkg/tcpip/stack"
	"gvisor.dev/inet/pkg/tcpip/transport/udp"
)

func clientMAC(i int) tcpip.LinkAddress {
	return tcpip.LinkAddress([]byte{0x52, 0x54, 0x00, 0x00, byte(i >> 8), byte(i)})
}

func newServerContext(t *testing.T, addr tcpip.Address) *testContext {
	t.Helper()
	c := newTestContext(t)
	if err := c.dhcp.EnableServer(1); err != tcpip.ErrInvalidEndpointState {
		t.Fatalf("EnableServer on an unconfigured interface = %v", err)
	}
	if err := c.state.SetIP(1, addr, "", ""); err != nil {
		t.Fatalf("SetIP: %s", err)
	}
	if err := c.dhcp.EnableServer(1); err != nil {
		t.Fatalf("EnableServer: %s", err)
	}
	return c
}

func (c *testContext) discover(mac tcpip.LinkAddress) {
	c.t.Helper()
	m, err := dhcpv4.NewDiscovery(net.HardwareAddr(mac))
	if err != nil {
		c.t.Fatalf("NewDiscovery: %v", err)
	}
	c.injectFrom(m, tcpip.IPv4Any, mac, ClientPort, ServerPort)
}

func hostOf(ip net.IP) int {
	return int(ip.To4()[3])
}

func TestServerOfferAck(t *testing.T) {
	c := newServerContext(t, serverAddr)
	mac := clientMAC(1)
	c.discover(mac)

	offer, ip, eth := c.readMessage()
	if offer.MessageType() != dhcpv4.MessageTypeOffer || offer.OpCode != dhcpv4.OpcodeBootReply {
		t.Fatalf("got %s %s, want BootReply OFFER", offer.OpCode, offer.MessageType())
	}
	if tcpip.LinkAddress(eth.DstMAC) != mac || !ip.DstIP.Equal(offer.YourIPAddr) {
		t.Errorf("OFFER sent to %s at %s, want unicast to %s at %s", ip.DstIP, eth.DstMAC, offer.YourIPAddr, net.HardwareAddr(mac))
	}
	if got := offer.YourIPAddr.String(); got != "192.168.3.4" {
		t.Errorf("offered %s, want 192.168.3.4", got)
	}
	if !offer.ServerIdentifier().Equal(net.IP(serverAddr)) || net.IP(offer.SubnetMask()).String() != "255.255.255.0" {
		t.Errorf("server %s mask %s", offer.ServerIdentifier(), net.IP(offer.SubnetMask()))
	}
	if got := offer.IPAddressLeaseTime(0); got != DefaultLeaseTime {
		t.Errorf("lease time %s, want %s", got, DefaultLeaseTime)
	}

	req, err := dhcpv4.NewRequestFromOffer(offer)
	if err != nil {
		t.Fatalf("NewRequestFromOffer: %v", err)
	}
	c.injectFrom(req, tcpip.IPv4Any, mac, ClientPort, ServerPort)
	ack, _, eth := c.readMessage()
	if ack.MessageType() != dhcpv4.MessageTypeAck || !ack.YourIPAddr.Equal(offer.YourIPAddr) {
		t.Errorf("got %s for %s, want PACK for %s", ack.MessageType(), ack.YourIPAddr, offer.YourIPAddr)
	}
	if tcpip.LinkAddress(eth.DstMAC) != mac {
		t.Errorf("PACK sent to %s, want %s", eth.DstMAC, net.HardwareAddr(mac))
	}

	leases, _ := c.dhcp.Leases(1)
	want := []Lease{{
		Addr:   "\xc0\xa8\x03\x04",
		Server: serverAddr,
		HWAddr: mac,
		Expiry: c.clock.Now().Add(DefaultLeaseTime),
	}}
	if diff := cmp.Diff(want, leases); diff != "" {
		t.Errorf("leases mismatch (-want +got):\n%s", diff)
	}

	// A client holding a lease is offered the same address again; another
	// client gets the next slot.
	c.discover(mac)
	if again, _, _ := c.readMessage(); !again.YourIPAddr.Equal(offer.YourIPAddr) {
		t.Errorf("second OFFER for %s, want %s", again.YourIPAddr, offer.YourIPAddr)
	}
	c.discover(clientMAC(2))
	if other, _, _ := c.readMessage(); other.YourIPAddr.String() != "192.168.3.5" {
		t.Errorf("OFFER for the second client %s, want 192.168.3.5", other.YourIPAddr)
	}
}

func TestServerNak(t *testing.T) {
	c := newServerContext(t, serverAddr)
	mac := clientMAC(1)
	req, err := dhcpv4.New(
		dhcpv4.WithMessageType(dhcpv4.MessageTypeRequest),
		dhcpv4.WithHwAddr(net.HardwareAddr(mac)),
		dhcpv4.WithOption(dhcpv4.OptRequestedIPAddress(net.IPv4(192, 168, 3, 20))),
	)
	if err != nil {
		t.Fatalf("dhcpv4.New: %v", err)
	}
	c.injectFrom(req, tcpip.IPv4Any, mac, ClientPort, ServerPort)
	nak, ip, _ := c.readMessage()
	if nak.MessageType() != dhcpv4.MessageTypeNak || nak.TransactionID != req.TransactionID {
		t.Errorf("got %s, want PNACK for the request", nak.MessageType())
	}
	if !ip.DstIP.Equal(net.IPv4bcast) {
		t.Errorf("PNACK sent to %s, want broadcast", ip.DstIP)
	}
	if got := c.stack.Stats().DHCP.ServerNaks.Value(); got != 1 {
		t.Errorf("ServerNaks = %d, want 1", got)
	}
}

func TestServerTableFull(t *testing.T) {
	c := newServerContext(t, serverAddr)
	for i := 0; i < LeaseSlots; i++ {
		c.discover(clientMAC(i))
		offer, _, _ := c.readMessage()
		if got := hostOf(offer.YourIPAddr); got != i+leaseHostBase {
			t.Fatalf("client %d offered host %d, want %d", i, got, i+leaseHostBase)
		}
	}
	c.discover(clientMAC(LeaseSlots))
	if got := c.ep.NumQueued(); got != 0 {
		t.Fatalf("%d frames written with a full lease table", got)
	}
	if got := c.stack.Stats().DHCP.LeaseTableFull.Value(); got != 1 {
		t.Errorf("LeaseTableFull = %d, want 1", got)
	}
	leases, _ := c.dhcp.Leases(1)
	if len(leases) != LeaseSlots {
		t.Fatalf("%d leases, want %d", len(leases), LeaseSlots)
	}
	for i, l := range leases {
		if got := int(l.Addr[3]); got != i+leaseHostBase {
			t.Errorf("lease %d has host %d", i, got)
		}
	}

	// Expired leases are free again.
	c.clock.Advance(DefaultLeaseTime)
	c.discover(clientMAC(LeaseSlots))
	offer, _, _ := c.readMessage()
	if got := hostOf(offer.YourIPAddr); got != leaseHostBase {
		t.Errorf("offered host %d after expiry, want %d", got, leaseHostBase)
	}
}

func TestServerSkipsOwnAddress(t *testing.T) {
	c := newServerContext(t, "\xc0\xa8\x03\x05")
	var hosts []int
	for i := 0; i < 2; i++ {
		c.discover(clientMAC(i))
		offer, _, _ := c.readMessage()
		hosts = append(hosts, hostOf(offer.YourIPAddr))
	}
	if diff := cmp.Diff([]int{4, 6}, hosts); diff != "" {
		t.Errorf("offered hosts mismatch (-want +got):\n%s", diff)
	}
}

func TestServerRelease(t *testing.T) {
	c := newServerContext(t, serverAddr)
	mac := clientMAC(1)
	c.discover(mac)
	offer, _, _ := c.readMessage()

	// Another client cannot release the lease.
	rel, err := dhcpv4.New(
		dhcpv4.WithMessageType(dhcpv4.MessageTypeRelease),
		dhcpv4.WithHwAddr(net.HardwareAddr(clientMAC(2))),
		dhcpv4.WithClientIP(offer.YourIPAddr),
	)
	if err != nil {
		t.Fatalf("dhcpv4.New: %v", err)
	}
	c.injectFrom(rel, tcpip.Address(offer.YourIPAddr.To4()), clientMAC(2), ClientPort, ServerPort)
	if leases, _ := c.dhcp.Leases(1); len(leases) != 1 {
		t.Fatalf("%d leases, want 1", len(leases))
	}
	rel.ClientHWAddr = net.HardwareAddr(mac)
	c.injectFrom(rel, tcpip.Address(offer.YourIPAddr.To4()), mac, ClientPort, ServerPort)
	if leases, _ := c.dhcp.Leases(1); len(leases) != 0 {
		t.Errorf("leases after RELEASE = %v, want none", leases)
	}
}

func TestServerDisabled(t *testing.T) {
	c := newTestContext(t)
	if err := c.state.SetIP(1, serverAddr, "", ""); err != nil {
		t.Fatalf("SetIP: %s", err)
	}
	c.discover(clientMAC(1))
	if got := c.ep.NumQueued(); got != 0 {
		t.Errorf("%d frames written by a non-serving interface", got)
	}
	if got := c.stack.Stats().DHCP.Ignored.Value(); got != 1 {
		t.Errorf("Ignored = %d, want 1", got)
	}
}

type host struct {
	stack *stack.Stack
	state *ipv4.State
	dhcp  *DHCP
}

func newHost(t *testing.T, ep stack.LinkEndpoint) *host {
	t.Helper()
	s := stack.New(stack.Options{Clock: faketime.NewManualClock()})
	if _, err := s.CreateNIC(1, stack.NICOptions{Framer: ethernet.Framer{}, Endpoint: ep}); err != nil {
		t.Fatalf("CreateNIC: %s", err)
	}
	st, err := ipv4.Attach(s, ipv4.Options{})
	if err != nil {
		t.Fatalf("ipv4.Attach: %s", err)
	}
	if _, err := arp.Attach(st, arp.Options{}); err != nil {
		t.Fatalf("arp.Attach: %s", err)
	}
	p, err := udp.Attach(st)
	if err != nil {
		t.Fatalf("udp.Attach: %s", err)
	}
	return &host{stack: s, state: st, dhcp: Attach(p, Options{})}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestClientServer(t *testing.T) {
	serverEP, clientEP := pipe.New(serverMAC, localMAC, 1500)
	defer serverEP.Close()
	defer clientEP.Close()

	server := newHost(t, serverEP)
	if err := server.state.SetIP(1, serverAddr, "", ""); err != nil {
		t.Fatalf("SetIP: %s", err)
	}
	if err := server.dhcp.EnableServer(1); err != nil {
		t.Fatalf("EnableServer: %s", err)
	}
	client := newHost(t, clientEP)
	if sent, err := client.dhcp.Discovery(1); err != nil || !sent {
		t.Fatalf("Discovery = %t, %v", sent, err)
	}
	waitFor(t, "the client to bind", func() bool {
		st, _ := client.dhcp.Status(1)
		return st.Mode == ModeBound
	})
	iface, _ := client.state.Interface(1)
	if got, want := iface.Address(), tcpip.Address("\xc0\xa8\x03\x04"); got != want {
		t.Errorf("client address %s, want %s", got, want)
	}
	if leases, _ := server.dhcp.Leases(1); len(leases) != 1 || leases[0].HWAddr != localMAC {
		t.Errorf("server leases %v, want one for %s", leases, localMAC)
	}

	if err := client.dhcp.Release(context.Background(), 1); err != nil {
		t.Fatalf("Release: %s", err)
	}
	waitFor(t, "the server to free the lease", func() bool {
		leases, _ := server.dhcp.Leases(1)
		return len(leases) == 0
	})
}
