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
)

// Resolve implements subcommands.Command for the "resolve" command.
type Resolve struct {
	output
	timeout time.Duration
}

// Name implements subcommands.Command.Name.
func (*Resolve) Name() string {
	return "resolve"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Resolve) Synopsis() string {
	return "resolves the route from a host to an address"
}

// Usage implements subcommands.Command.Usage.
func (*Resolve) Usage() string {
	return `resolve [flags] <host> <address> - prints the interface, next hop and
hardware address used by host to reach address.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Resolve) SetFlags(f *flag.FlagSet) {
	f.DurationVar(&r.timeout, "timeout", 10*time.Second, "time allowed for DHCP and for the resolution")
	f.BoolVar(&r.stats, "stats", false, "print non-zero stack counters on exit")
}

// Execute implements subcommands.Command.Execute.
func (r *Resolve) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 2 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	dest, err := tcpip.ParseAddress(f.Arg(1))
	if err != nil {
		return Errorf("invalid address %q: %v", f.Arg(1), err)
	}
	n, err := network(args)
	if err != nil {
		return Errorf("building network: %v", err)
	}
	defer n.Close()
	h, ok := n.Host(f.Arg(0))
	if !ok {
		return Errorf("unknown host %q", f.Arg(0))
	}

	release, err := acquire(ctx, n, r.timeout)
	if err != nil {
		return Errorf("%v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	route, rerr := h.IPv4.FindRoute(ctx, dest)
	if rerr != nil {
		return Errorf("%s: no route to %s: %v", h.Name, dest, rerr)
	}
	r.printf("%s via %s on %s is at %s\n", dest, route.NextHop, route.Iface.NIC().Name(), route.LinkAddr)
	r.printStats(n)
	return subcommands.ExitSuccess
}
