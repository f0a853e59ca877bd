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

// Binary ipsim simulates hosts running the IPv4 suite, connected by in-memory
// links.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"gvisor.dev/inet/ipsim/cmd"
	"gvisor.dev/inet/ipsim/config"
	"gvisor.dev/inet/pkg/log"
)

var (
	configPath = flag.String("config", "", "path to the TOML network configuration; the built-in two host network is used if empty")
	logLevel   = flag.String("log-level", "", "log level, overrides log_level")
	logFormat  = flag.String("log-format", "", "log format, 'text' or 'json', overrides log_format")
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(new(cmd.Run), "")
	subcommands.Register(new(cmd.DHCP), "")
	subcommands.Register(new(cmd.Resolve), "")
	subcommands.Register(new(cmd.UDP), "")
	flag.Parse()

	conf, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(int(subcommands.ExitUsageError))
	}
	log.SetTarget(newEmitter(conf.LogFormat, os.Stderr))
	log.SetLevel(conf.Level())

	os.Exit(int(subcommands.Execute(context.Background(), conf)))
}

func loadConfig() (*config.Config, error) {
	var (
		conf *config.Config
		err  error
	)
	if *configPath != "" {
		conf, err = config.Load(*configPath)
	} else {
		conf, err = config.Parse(config.Default)
	}
	if err != nil {
		return nil, err
	}
	if *logLevel != "" {
		conf.LogLevel = *logLevel
	}
	if *logFormat != "" {
		conf.LogFormat = *logFormat
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func newEmitter(format string, w io.Writer) log.Emitter {
	if format == "json" {
		return log.JSONEmitter{Writer: &log.Writer{Next: w}}
	}
	return log.GoogleEmitter{Writer: &log.Writer{Next: w}}
}
