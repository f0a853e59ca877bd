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

// Package config holds the configuration of an ipsim network. It is read
// from a TOML file:
//
//	log_level = "info"
//	log_format = "text"
//
//	[[host]]
//	name = "server"
//	  [[host.interface]]
//	  name = "eth0"
//	  link = "lan"
//	  mac = "02:00:00:00:00:01"
//	  config = "addr=192.168.3.1 dhcp-server"
//
//	[[host]]
//	name = "client"
//	  [[host.interface]]
//	  name = "eth0"
//	  link = "lan"
//	  mac = "02:00:00:00:00:02"
//	  config = "dhcp"
//
// Interfaces naming the same link are connected by a pipe. A link must join
// exactly two interfaces, except LoopbackLink which gives each interface its
// own loop-back device.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gvisor.dev/inet/pkg/log"
	"gvisor.dev/inet/pkg/tcpip"
)

// LoopbackLink is the link name of loop-back interfaces.
const LoopbackLink = "loopback"

// DefaultMTU is the MTU of Ethernet interfaces that do not set one.
const DefaultMTU = 1500

// Config is the configuration of a simulated network.
type Config struct {
	// LogLevel is one of "warning", "info" or "debug".
	LogLevel string `toml:"log_level"`

	// LogFormat is "text" or "json".
	LogFormat string `toml:"log_format"`

	// MetricsAddr is the listen address of the Prometheus endpoint. Empty
	// disables it.
	MetricsAddr string `toml:"metrics_addr"`

	// DHCP tunes the DHCP layer of every host.
	DHCP DHCP `toml:"dhcp"`

	Hosts []Host `toml:"host"`
}

// DHCP holds DHCP timers. Zero values select the defaults of package dhcp.
type DHCP struct {
	RetryDelay time.Duration `toml:"retry_delay"`
	LeaseTime  time.Duration `toml:"lease_time"`
}

// Host is one network stack.
type Host struct {
	Name       string      `toml:"name"`
	Interfaces []Interface `toml:"interface"`
	Routes     []Route     `toml:"route"`
}

// Interface is a NIC of a host.
type Interface struct {
	Name string `toml:"name"`
	Link string `toml:"link"`
	MAC  string `toml:"mac"`
	MTU  uint32 `toml:"mtu"`

	// Config is applied with ipv4.State.Config.
	Config string `toml:"config"`
}

// LinkMTU returns the MTU of the interface, DefaultMTU if unset.
func (i *Interface) LinkMTU() uint32 {
	if i.MTU == 0 {
		return DefaultMTU
	}
	return i.MTU
}

// Route is a static route of a host.
type Route struct {
	Network   string `toml:"network"`
	Mask      string `toml:"mask"`
	Gateway   string `toml:"gateway"`
	Interface string `toml:"interface"`
}

// Default is the network used when no configuration file is given: a DHCP
// server and a DHCP client sharing one link.
const Default = `
log_level = "info"
log_format = "text"

[[host]]
name = "server"
  [[host.interface]]
  name = "eth0"
  link = "lan"
  mac = "02:00:00:00:00:01"
  config = "addr=192.168.3.1 dhcp-server"

[[host]]
name = "client"
  [[host.interface]]
  name = "eth0"
  link = "lan"
  mac = "02:00:00:00:00:02"
  config = "dhcp"
`

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	var c Config
	md, err := toml.DecodeFile(path, &c)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := c.check(md); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &c, nil
}

// Parse decodes and validates a configuration.
func Parse(data string) (*Config, error) {
	var c Config
	md, err := toml.Decode(data, &c)
	if err != nil {
		return nil, err
	}
	if err := c.check(md); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) check(md toml.MetaData) error {
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	return c.Validate()
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	if len(c.Hosts) == 0 {
		return fmt.Errorf("no hosts")
	}

	hosts := make(map[string]bool)
	links := make(map[string][]string)
	mtus := make(map[string]uint32)
	for _, h := range c.Hosts {
		if h.Name == "" {
			return fmt.Errorf("host without a name")
		}
		if hosts[h.Name] {
			return fmt.Errorf("duplicate host %q", h.Name)
		}
		hosts[h.Name] = true

		ifaces := make(map[string]bool)
		for _, i := range h.Interfaces {
			where := fmt.Sprintf("host %q interface %q", h.Name, i.Name)
			if i.Name == "" {
				return fmt.Errorf("host %q: interface without a name", h.Name)
			}
			if ifaces[i.Name] {
				return fmt.Errorf("%s: duplicate interface", where)
			}
			ifaces[i.Name] = true
			if i.Link == "" {
				return fmt.Errorf("%s: no link", where)
			}
			if i.Link == LoopbackLink {
				continue
			}
			if _, err := tcpip.ParseMACAddress(i.MAC); err != nil {
				return fmt.Errorf("%s: %w", where, err)
			}
			if mtu, ok := mtus[i.Link]; ok && mtu != i.LinkMTU() {
				return fmt.Errorf("%s: MTU %d differs from the %d of link %q", where, i.LinkMTU(), mtu, i.Link)
			}
			mtus[i.Link] = i.LinkMTU()
			links[i.Link] = append(links[i.Link], h.Name+"/"+i.Name)
		}

		for _, r := range h.Routes {
			where := fmt.Sprintf("host %q route %s/%s", h.Name, r.Network, r.Mask)
			for _, a := range []string{r.Network, r.Mask} {
				if _, err := tcpip.ParseAddress(a); err != nil {
					return fmt.Errorf("%s: %w", where, err)
				}
			}
			if r.Gateway != "" {
				if _, err := tcpip.ParseAddress(r.Gateway); err != nil {
					return fmt.Errorf("%s: %w", where, err)
				}
			}
			if !ifaces[r.Interface] {
				return fmt.Errorf("%s: unknown interface %q", where, r.Interface)
			}
		}
	}
	for name, members := range links {
		if len(members) != 2 {
			return fmt.Errorf("link %q joins %d interfaces (%s), want 2", name, len(members), strings.Join(members, ", "))
		}
	}
	return nil
}

// Host returns the host with the given name.
func (c *Config) Host(name string) (*Host, bool) {
	for i := range c.Hosts {
		if c.Hosts[i].Name == name {
			return &c.Hosts[i], true
		}
	}
	return nil, false
}

// Level returns the parsed log level.
func (c *Config) Level() log.Level {
	l, _ := log.ParseLevel(c.LogLevel)
	return l
}
