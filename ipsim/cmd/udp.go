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

package cmd

import (
	"context"
	"flag"
	"time"

	"github.com/google/subcommands"
	"gvisor.dev/inet/pkg/tcpip"
	"gvisor.dev/inet/pkg/tcpip/transport/udp"
)

// UDP implements subcommands.Command for the "udp" command.
type UDP struct {
	output
	size    int
	port    uint
	timeout time.Duration
}

// Name implements subcommands.Command.Name.
func (*UDP) Name() string {
	return "udp"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*UDP) Synopsis() string {
	return "sends a datagram between two hosts"
}

// Usage implements subcommands.Command.Usage.
func (*UDP) Usage() string {
	return `udp [flags] <from host> <to host> - sends a datagram from one host to a
socket bound on the other and prints the fragments received.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (u *UDP) SetFlags(f *flag.FlagSet) {
	f.IntVar(&u.size, "size", 64, "payload size in bytes")
	f.UintVar(&u.port, "port", 7, "destination port")
	f.DurationVar(&u.timeout, "timeout", 10*time.Second, "time allowed for DHCP and for every fragment")
	f.BoolVar(&u.stats, "stats", false, "print non-zero stack counters on exit")
}

// Execute implements subcommands.Command.Execute.
func (u *UDP) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 2 || u.size < 0 || u.port == 0 || u.port > 0xffff {
		f.Usage()
		return subcommands.ExitUsageError
	}
	n, err := network(args)
	if err != nil {
		return Errorf("building network: %v", err)
	}
	defer n.Close()
	from, ok := n.Host(f.Arg(0))
	if !ok {
		return Errorf("unknown host %q", f.Arg(0))
	}
	to, ok := n.Host(f.Arg(1))
	if !ok {
		return Errorf("unknown host %q", f.Arg(1))
	}

	release, err := acquire(ctx, n, u.timeout)
	if err != nil {
		return Errorf("%v", err)
	}
	defer release()

	dest, ok := hostAddress(to)
	if !ok {
		return Errorf("%s has no address", to.Name)
	}
	rx, terr := to.Stack.NewSocket(udp.ProtocolName)
	if terr != nil {
		return Errorf("%s: socket: %v", to.Name, terr)
	}
	defer rx.Close()
	if terr := rx.Bind(tcpip.FullAddress{Port: uint16(u.port)}); terr != nil {
		return Errorf("%s: bind port %d: %v", to.Name, u.port, terr)
	}
	tx, terr := from.Stack.NewSocket(udp.ProtocolName)
	if terr != nil {
		return Errorf("%s: socket: %v", from.Name, terr)
	}
	defer tx.Close()

	payload := make([]byte, u.size)
	for i := range payload {
		payload[i] = byte(i)
	}
	addr := tcpip.FullAddress{Addr: dest, Port: uint16(u.port)}
	if terr := tx.Send(&addr, payload); terr != nil {
		return Errorf("%s: send to %s: %v", from.Name, addr, terr)
	}

	// Fragments are delivered as separate datagrams.
	for got := 0; got < u.size || (u.size == 0 && got == 0); {
		b, src, terr := rx.Recv(u.timeout)
		if terr != nil {
			return Errorf("%s: received %d of %d bytes: %v", to.Name, got, u.size, terr)
		}
		u.printf("%s: %d bytes from %s\n", to.Name, len(b), src)
		got += len(b)
		if len(b) == 0 {
			break
		}
	}
	u.printStats(n)
	return subcommands.ExitSuccess
}
