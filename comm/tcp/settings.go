/*
   minihpl - Distributed dense linear system solver
   Copyright (C) 2012-2014  Casey Marshall

   This program is free software: you can redistribute it and/or modify
   it under the terms of the GNU Affero General Public License as published by
   the Free Software Foundation, version 3.

   This program is distributed in the hope that it will be useful,
   but WITHOUT ANY WARRANTY; without even the implied warranty of
   MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
   GNU Affero General Public License for more details.

   You should have received a copy of the GNU Affero General Public License
   along with this program.  If not, see <http://www.gnu.org/licenses/>.
*/

package tcp

import (
	"fmt"
	"net"

	"github.com/pkg/errors"
)

// Settings holds the addresses and timeouts of a networked process group.
// The group size is the number of configured addresses; rank r listens on
// Addrs[r].
type Settings struct {
	Version              string   `toml:"version"`
	Net                  netType  `toml:"net"`
	Addrs                []string `toml:"addrs"`
	DialTimeoutSecs      int      `toml:"dialTimeoutSecs"`
	HandshakeTimeoutSecs int      `toml:"handshakeTimeoutSecs"`
}

type netType string

const (
	NetworkDefault = netType("")
	NetworkTCP     = netType("tcp")
	NetworkUnix    = netType("unix")
)

// String implements the fmt.Stringer interface.
func (n netType) String() string {
	if n == "" {
		return string(NetworkTCP)
	}
	return string(n)
}

func (n netType) Resolve(addr string) (net.Addr, error) {
	switch n {
	case NetworkDefault, NetworkTCP:
		return net.ResolveTCPAddr("tcp", addr)
	case NetworkUnix:
		return net.ResolveUnixAddr("unix", addr)
	}
	return nil, errors.Errorf("don't know how to resolve network %q address %q", n, addr)
}

const (
	DefaultVersion              = "1.0"
	DefaultDialTimeoutSecs      = 30
	DefaultHandshakeTimeoutSecs = 60
)

var defaultSettings = Settings{
	Version:              DefaultVersion,
	DialTimeoutSecs:      DefaultDialTimeoutSecs,
	HandshakeTimeoutSecs: DefaultHandshakeTimeoutSecs,
}

// DefaultSettings returns default group settings, with no addresses.
func DefaultSettings() *Settings {
	settings := defaultSettings
	return &settings
}

// Size returns the number of ranks in the group.
func (s *Settings) Size() int {
	return len(s.Addrs)
}

// Addr returns the resolved listen address of rank.
func (s *Settings) Addr(rank int) (net.Addr, error) {
	if rank < 0 || rank >= len(s.Addrs) {
		return nil, errors.Errorf("rank %d outside group of %d", rank, len(s.Addrs))
	}
	return s.Net.Resolve(s.Addrs[rank])
}

// Resolve checks that every configured address can be resolved. Use Resolve
// after decoding from TOML.
func (s *Settings) Resolve() error {
	seen := make(map[string]int)
	for i, addr := range s.Addrs {
		_, err := s.Net.Resolve(addr)
		if err != nil {
			return errors.Wrapf(err, "invalid net %q addr %q for rank %d", s.Net, addr, i)
		}
		if j, ok := seen[addr]; ok {
			return errors.Errorf("ranks %d and %d share address %q", j, i, addr)
		}
		seen[addr] = i
	}
	if s.DialTimeoutSecs <= 0 {
		return errors.Errorf("invalid dialTimeoutSecs %d", s.DialTimeoutSecs)
	}
	if s.HandshakeTimeoutSecs <= 0 {
		return errors.Errorf("invalid handshakeTimeoutSecs %d", s.HandshakeTimeoutSecs)
	}
	return nil
}

func (s *Settings) String() string {
	return fmt.Sprintf("%s %v", s.Net, s.Addrs)
}
