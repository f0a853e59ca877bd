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

// Package cmd holds implementations of the ipsim commands.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/google/subcommands"
	"gvisor.dev/inet/ipsim/config"
	"gvisor.dev/inet/ipsim/sim"
	"gvisor.dev/inet/pkg/log"
	"gvisor.dev/inet/pkg/tcpip"
	"gvisor.dev/inet/pkg/tcpip/stack"
)

// Errorf logs the error and writes it to stderr. It returns
// subcommands.ExitFailure for convenience.
func Errorf(format string, args ...any) subcommands.ExitStatus {
	log.Warningf(format, args...)
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	return subcommands.ExitFailure
}

// output is embedded by commands that print results.
type output struct {
	// Out receives the results. Nil means os.Stdout.
	Out io.Writer

	stats bool
}

func (o *output) w() io.Writer {
	if o.Out == nil {
		return os.Stdout
	}
	return o.Out
}

func (o *output) printf(format string, args ...any) {
	fmt.Fprintf(o.w(), format, args...)
}

// printStats prints the non-zero counters of every host when -stats is set.
func (o *output) printStats(n *sim.Network) {
	if !o.stats {
		return
	}
	for _, h := range n.Hosts {
		var lines []string
		h.Stack.Stats().VisitCounters(func(name string, c *tcpip.StatCounter) {
			if v := c.Value(); v != 0 {
				lines = append(lines, fmt.Sprintf("%s %s=%d", h.Name, name, v))
			}
		})
		sort.Strings(lines)
		for _, l := range lines {
			o.printf("%s\n", l)
		}
	}
}

// network builds the network of the configuration passed by main.
func network(args []any) (*sim.Network, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("no configuration")
	}
	conf, ok := args[0].(*config.Config)
	if !ok {
		return nil, fmt.Errorf("unexpected configuration type %T", args[0])
	}
	return sim.New(conf, nil)
}

// acquire runs the DHCP clients of n in the background until every one of
// them is bound, or timeout passes. The returned function stops the clients
// and releases the leases.
func acquire(ctx context.Context, n *sim.Network, timeout time.Duration) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	stop := func() {
		cancel()
		if err := <-done; err != nil {
			log.Warningf("dhcp: %v", err)
		}
		n.Release(context.Background())
	}
	wctx, wcancel := context.WithTimeout(ctx, timeout)
	defer wcancel()
	if err := n.WaitBound(wctx); err != nil {
		stop()
		return nil, fmt.Errorf("acquiring leases: %w", err)
	}
	return stop, nil
}

// hostAddress returns the first configured Ethernet address of h.
func hostAddress(h *sim.Host) (tcpip.Address, bool) {
	for _, iface := range h.IPv4.Interfaces() {
		if iface.Configured() && iface.NIC().Kind() == stack.LinkEthernet {
			return iface.Address(), true
		}
	}
	return "", false
}
