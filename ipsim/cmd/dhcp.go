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
)

// DHCP implements subcommands.Command for the "dhcp" command.
type DHCP struct {
	output
	timeout time.Duration
}

// Name implements subcommands.Command.Name.
func (*DHCP) Name() string {
	return "dhcp"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*DHCP) Synopsis() string {
	return "acquires the leases of every DHCP client and prints them"
}

// Usage implements subcommands.Command.Usage.
func (*DHCP) Usage() string {
	return "dhcp [flags] - acquires, prints and releases the leases of the network.\n"
}

// SetFlags implements subcommands.Command.SetFlags.
func (d *DHCP) SetFlags(f *flag.FlagSet) {
	f.DurationVar(&d.timeout, "timeout", 10*time.Second, "time allowed for every client to bind")
	f.BoolVar(&d.stats, "stats", false, "print non-zero stack counters on exit")
}

// Execute implements subcommands.Command.Execute.
func (d *DHCP) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	n, err := network(args)
	if err != nil {
		return Errorf("building network: %v", err)
	}
	defer n.Close()

	release, err := acquire(ctx, n, d.timeout)
	if err != nil {
		return Errorf("%v", err)
	}
	for _, h := range n.Hosts {
		for _, id := range h.DHCPClients() {
			st, err := h.DHCP.Status(id)
			if err != nil {
				release()
				return Errorf("%s: status of NIC %d: %v", h.Name, id, err)
			}
			iface, _ := h.IPv4.Interface(id)
			d.printf("%s %s: %s mask %s gw %s from %s, expires %s\n",
				h.Name, iface.NIC().Name(), iface.Address(), iface.Mask(), iface.Gateway(),
				st.Server, st.Expire.Format(time.RFC3339))
		}
	}
	for _, h := range n.Hosts {
		for _, iface := range h.IPv4.Interfaces() {
			if !iface.DHCPServerEnabled() {
				continue
			}
			leases, _ := h.DHCP.Leases(iface.NIC().ID())
			for _, l := range leases {
				d.printf("%s %s: lease %s to %s\n", h.Name, iface.NIC().Name(), l.Addr, l.HWAddr)
			}
		}
	}
	release()
	d.printStats(n)
	return subcommands.ExitSuccess
}
