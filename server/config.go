//go:build linux

// File: server/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"fmt"
	"net"
	"strconv"

	"github.com/BurntSushi/toml"
	"golang.org/x/sys/unix"
)

// Config holds the configurable parameters of the echo server.
type Config struct {
	// ListenAddr is the IPv4 host:port to bind. An empty host binds all
	// interfaces; port 0 lets the kernel pick one.
	ListenAddr string `toml:"listen_addr"`

	// Backlog is the listen(2) backlog.
	Backlog int `toml:"backlog"`

	// ReadBufferSize is the per-connection read buffer size in bytes.
	ReadBufferSize int `toml:"read_buffer_size"`
}

// DefaultConfig returns a baseline configuration.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:     "127.0.0.1:8080",
		Backlog:        128,
		ReadBufferSize: 4096,
	}
}

// LoadConfig reads a TOML file over the defaults, so partial files only
// override the keys they set.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// sockaddr parses ListenAddr into a bindable IPv4 socket address.
func (c *Config) sockaddr() (*unix.SockaddrInet4, error) {
	host, portStr, err := net.SplitHostPort(c.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("parse listen addr %q: %w", c.ListenAddr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return nil, fmt.Errorf("parse listen addr %q: bad port %q", c.ListenAddr, portStr)
	}
	ip := net.IPv4zero
	if host != "" {
		ip = net.ParseIP(host)
		if ip == nil || ip.To4() == nil {
			return nil, fmt.Errorf("parse listen addr %q: not an IPv4 host", c.ListenAddr)
		}
	}
	sa := &unix.SockaddrInet4{Port: port}
	copy(sa.Addr[:], ip.To4())
	return sa, nil
}
