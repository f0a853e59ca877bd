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

package tcpip

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseMACAddress(t *testing.T) {
	for _, tc := range []struct {
		s    string
		want LinkAddress
		err  bool
	}{
		{s: "aa:bb:cc:dd:ee:ff", want: "\xaa\xbb\xcc\xdd\xee\xff"},
		{s: "01-02-03-04-05-06", want: "\x01\x02\x03\x04\x05\x06"},
		{s: "aa:bb:cc:dd:ee", err: true},
		{s: "aa:bb:cc:dd:ee:fff", err: true},
		{s: "xx:bb:cc:dd:ee:ff", err: true},
	} {
		t.Run(tc.s, func(t *testing.T) {
			got, err := ParseMACAddress(tc.s)
			if tc.err {
				if err == nil {
					t.Fatalf("ParseMACAddress(%q) = %s, want error", tc.s, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseMACAddress(%q): %v", tc.s, err)
			}
			if got != tc.want {
				t.Errorf("ParseMACAddress(%q) = %s, want %s", tc.s, got, tc.want)
			}
		})
	}
}

func TestParseAddress(t *testing.T) {
	a, err := ParseAddress("192.168.1.10")
	if err != nil {
		t.Fatalf("ParseAddress: %v", err)
	}
	if want := Address("\xc0\xa8\x01\x0a"); a != want {
		t.Errorf("got %s, want %s", a, want)
	}
	if got, want := a.Uint32(), uint32(0xc0a8010a); got != want {
		t.Errorf("Uint32() = %#x, want %#x", got, want)
	}
	if got := AddrFromUint32(a.Uint32()); got != a {
		t.Errorf("AddrFromUint32(%#x) = %s, want %s", a.Uint32(), got, a)
	}
	if _, err := ParseAddress("fe80::1"); err == nil {
		t.Errorf("ParseAddress accepted an IPv6 address")
	}
}

func TestAddressMask(t *testing.T) {
	a := Address("\xc0\xa8\x01\x0a")
	if got, want := a.Mask("\xff\xff\xff\x00"), Address("\xc0\xa8\x01\x00"); got != want {
		t.Errorf("Mask = %s, want %s", got, want)
	}
	if !IPv4Any.Unspecified() || a.Unspecified() {
		t.Errorf("Unspecified mismatch")
	}
}

func TestFullAddressBytes(t *testing.T) {
	fa := FullAddress{Addr: "\x0a\x00\x00\x01", Port: 0xc001}
	b := fa.Bytes()
	if diff := cmp.Diff([]byte{10, 0, 0, 1, 0xc0, 0x01}, b); diff != "" {
		t.Errorf("Bytes() mismatch (-want +got):\n%s", diff)
	}
	got, ok := FullAddressFromBytes(b)
	if !ok || got != fa {
		t.Errorf("FullAddressFromBytes = %v, %t, want %v", got, ok, fa)
	}
}

func TestVisitCounters(t *testing.T) {
	var s Stats
	s.ARP.RequestsSent.Increment()
	s.UDP.PacketsSent.IncrementBy(3)

	got := make(map[string]uint64)
	s.VisitCounters(func(name string, c *StatCounter) {
		if v := c.Value(); v != 0 {
			got[name] = v
		}
	})
	want := map[string]uint64{
		"ARP.RequestsSent": 1,
		"UDP.PacketsSent":  3,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("VisitCounters mismatch (-want +got):\n%s", diff)
	}
}
