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
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/google/subcommands"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
	"gvisor.dev/inet/ipsim/config"
	"gvisor.dev/inet/ipsim/sim"
	"gvisor.dev/inet/pkg/log"
	"gvisor.dev/inet/pkg/metric"
)

// Run implements subcommands.Command for the "run" command.
type Run struct {
	output
	duration    time.Duration
	metricsAddr string
}

// Name implements subcommands.Command.Name.
func (*Run) Name() string {
	return "run"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Run) Synopsis() string {
	return "runs the network until interrupted"
}

// Usage implements subcommands.Command.Usage.
func (*Run) Usage() string {
	return `run [flags] - runs the DHCP clients of every host and optionally serves
the stack counters to Prometheus.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Run) SetFlags(f *flag.FlagSet) {
	f.DurationVar(&r.duration, "duration", 0, "stop after this long; zero runs until interrupted")
	f.StringVar(&r.metricsAddr, "metrics", "", "listen address of the Prometheus endpoint, overrides metrics_addr")
	f.BoolVar(&r.stats, "stats", false, "print non-zero stack counters on exit")
}

// Execute implements subcommands.Command.Execute.
func (r *Run) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	n, err := network(args)
	if err != nil {
		return Errorf("building network: %v", err)
	}
	defer n.Close()

	addr := r.metricsAddr
	if conf, ok := args[0].(*config.Config); ok && addr == "" {
		addr = conf.MetricsAddr
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, unix.SIGTERM)
	defer stop()
	if r.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.duration)
		defer cancel()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := n.Run(ctx)
		if errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		return err
	})
	if addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           metricsHandler(n),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			log.Infof("serving metrics on %s", addr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}
	err = g.Wait()
	n.Release(context.Background())
	r.printStats(n)
	if err != nil {
		return Errorf("run: %v", err)
	}
	return subcommands.ExitSuccess
}

// metricsHandler serves the counters of every host of n, labelled with the
// host name.
func metricsHandler(n *sim.Network) http.Handler {
	reg := prometheus.NewRegistry()
	for _, h := range n.Hosts {
		reg.MustRegister(metric.NewCollector(metric.DefaultNamespace, h.Stack.Stats(), prometheus.Labels{"host": h.Name}))
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}
