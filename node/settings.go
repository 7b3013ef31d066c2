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

package node

import (
	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"minihpl/comm/tcp"
	"minihpl/hpl"
	"minihpl/metrics"
	"minihpl/results"
)

var ErrInvalidSettings = errors.New("invalid settings")

const (
	DefaultLogLevel = "INFO"

	DriverLevelDB  = "leveldb"
	DriverPostgres = "postgres"
)

type ErrorsConfig struct {
	SentryDSN     string `toml:"sentryDSN"`
	BugsnagAPIKey string `toml:"bugsnagAPIKey"`
}

type Settings struct {
	N                 int     `toml:"n"`
	NB                int     `toml:"nb"`
	SingularThreshold float64 `toml:"singularThreshold"`
	MaxMemoryMB       int     `toml:"maxMemoryMB"`
	Verify            string  `toml:"verify"`

	Group tcp.Settings `toml:"group"`

	Metrics *metrics.Settings `toml:"metrics"`
	Results *results.Settings `toml:"results"`
	Errors  ErrorsConfig      `toml:"errors"`

	LogFile  string `toml:"logfile"`
	LogLevel string `toml:"loglevel"`
}

func DefaultSettings() Settings {
	return Settings{
		NB:                hpl.DefaultNB,
		SingularThreshold: hpl.DefaultThreshold,
		Verify:            string(hpl.VerifyRegenerate),
		Group:             *tcp.DefaultSettings(),
		LogLevel:          DefaultLogLevel,
	}
}

// ParseSettings decodes the [hpl] document in data over the defaults.
func ParseSettings(data string) (*Settings, error) {
	var doc struct {
		HPL Settings `toml:"hpl"`
	}
	doc.HPL = DefaultSettings()
	_, err := toml.Decode(data, &doc)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidSettings, err.Error())
	}
	return &doc.HPL, nil
}

// Resolve validates the settings and fills in defaults for optional
// sections that are present. Use Resolve after decoding and after applying
// command-line overrides.
func (s *Settings) Resolve() error {
	if s.N < 0 {
		return errors.Wrapf(ErrInvalidSettings, "n=%d must not be negative", s.N)
	}
	if s.NB <= 0 {
		return errors.Wrapf(ErrInvalidSettings, "nb=%d must be positive", s.NB)
	}
	if s.SingularThreshold <= 0 {
		return errors.Wrapf(ErrInvalidSettings, "singularThreshold=%g must be positive", s.SingularThreshold)
	}
	if s.MaxMemoryMB < 0 {
		return errors.Wrapf(ErrInvalidSettings, "maxMemoryMB=%d must not be negative", s.MaxMemoryMB)
	}
	if _, err := hpl.ParseVerifyStrategy(s.Verify); err != nil {
		return errors.Wrap(ErrInvalidSettings, err.Error())
	}
	if len(s.Group.Addrs) > 0 {
		if err := s.Group.Resolve(); err != nil {
			return errors.Wrap(ErrInvalidSettings, err.Error())
		}
	}
	if s.Metrics != nil {
		defaults := metrics.DefaultSettings()
		if s.Metrics.MetricsAddr == "" {
			s.Metrics.MetricsAddr = defaults.MetricsAddr
		}
		if s.Metrics.MetricsPath == "" {
			s.Metrics.MetricsPath = defaults.MetricsPath
		}
	}
	if s.Results != nil {
		switch s.Results.Driver {
		case DriverLevelDB, DriverPostgres:
		default:
			return errors.Wrapf(ErrInvalidSettings, "results driver %q not supported", s.Results.Driver)
		}
		if s.Results.DSN == "" {
			return errors.Wrapf(ErrInvalidSettings, "results driver %q requires a dsn", s.Results.Driver)
		}
	}
	return nil
}

// Params returns the solver parameters described by the settings.
func (s *Settings) Params() hpl.Params {
	return hpl.Params{
		N:              s.N,
		NB:             s.NB,
		Threshold:      s.SingularThreshold,
		MaxMemoryBytes: int64(s.MaxMemoryMB) << 20,
		Verify:         hpl.VerifyStrategy(s.Verify),
	}
}
