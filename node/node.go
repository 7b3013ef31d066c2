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

// Package node runs one process of the solver: it loads settings, joins the
// process group, runs the solver and publishes the result.
package node

import (
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/tomb.v2"

	"minihpl/comm"
	"minihpl/comm/mem"
	"minihpl/comm/tcp"
	"minihpl/hpl"
	"minihpl/metrics"
	"minihpl/results"
	"minihpl/results/leveldb"
	"minihpl/results/postgres"
)

type Node struct {
	settings  *Settings
	logWriter io.WriteCloser
	monitor   *metrics.Monitor
	ledger    results.Store
}

func NewNode(settings *Settings) (*Node, error) {
	if settings == nil {
		defaults := DefaultSettings()
		settings = &defaults
	}
	err := settings.Resolve()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &Node{settings: settings}, nil
}

// DialResults opens the run ledger described by s.
func DialResults(s *results.Settings) (results.Store, error) {
	switch s.Driver {
	case DriverLevelDB:
		return leveldb.Open(s.DSN)
	case DriverPostgres:
		return postgres.Dial(s.DSN)
	}
	return nil, errors.Wrapf(ErrInvalidSettings, "results driver %q not supported", s.Driver)
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

// Start opens the log.
func (n *Node) Start() {
	n.openLog()
}

func (n *Node) openLog() {
	defer func() {
		level, err := log.ParseLevel(strings.ToLower(n.settings.LogLevel))
		if err != nil {
			log.Warningf("invalid LogLevel=%q: %v", n.settings.LogLevel, err)
			return
		}
		log.SetLevel(level)
	}()

	n.logWriter = nopCloser{os.Stderr}
	if n.settings.LogFile != "" {
		f, err := os.OpenFile(n.settings.LogFile, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
		if err != nil {
			log.Errorf("failed to open LogFile=%q: %v", n.settings.LogFile, err)
		} else {
			n.logWriter = f
		}
	}
	log.SetOutput(n.logWriter)
	log.Debug("log opened")
}

func (n *Node) closeLog() {
	log.SetOutput(os.Stderr)
	if n.logWriter != nil {
		n.logWriter.Close()
	}
}

func (n *Node) LogRotate() {
	w := n.logWriter
	n.openLog()
	if w != nil {
		w.Close()
	}
}

// Monitor returns the HTTP monitor, or nil if none is running.
func (n *Node) Monitor() *metrics.Monitor {
	return n.monitor
}

func (n *Node) startMonitor() error {
	if n.settings.Metrics == nil || n.monitor != nil {
		return nil
	}
	m := metrics.NewMonitor(n.settings.Metrics)
	err := m.Start()
	if err != nil {
		return errors.WithStack(err)
	}
	n.monitor = m
	return nil
}

func (n *Node) checkLayout(procs int) error {
	_, err := hpl.NewLayout(n.settings.N, n.settings.NB, procs)
	return errors.WithStack(err)
}

// Run joins the networked process group as rank and solves the configured
// system. The report is returned on rank 0 only.
func (n *Node) Run(rank int) (*hpl.Report, error) {
	procs := n.settings.Group.Size()
	if procs == 0 {
		return nil, errors.Wrap(ErrInvalidSettings, "no group addresses configured")
	}
	err := n.checkLayout(procs)
	if err != nil {
		return nil, err
	}
	if rank == 0 {
		if err = n.startMonitor(); err != nil {
			return nil, err
		}
	}

	peer, err := tcp.Dial(&n.settings.Group, &comm.Hello{
		Version: n.settings.Group.Version,
		Rank:    rank,
		Size:    procs,
		N:       n.settings.N,
		NB:      n.settings.NB,
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	group := comm.NewGroup(peer)
	defer group.Close()

	report, err := hpl.Run(group, n.settings.Params())
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if report != nil {
		n.publish(report)
	}
	return report, nil
}

// RunLocal solves the configured system with procs ranks in this process.
func (n *Node) RunLocal(procs int) (*hpl.Report, error) {
	if procs <= 0 {
		return nil, errors.Wrapf(ErrInvalidSettings, "local process count %d must be positive", procs)
	}
	err := n.checkLayout(procs)
	if err != nil {
		return nil, err
	}
	if err = n.startMonitor(); err != nil {
		return nil, err
	}

	groups := mem.NewGroup(procs)
	var report *hpl.Report
	var t tomb.Tomb
	t.Go(func() error {
		for _, g := range groups {
			g := g
			t.Go(func() error {
				defer g.Close()
				r, err := hpl.Run(g, n.settings.Params())
				if err != nil {
					return errors.WithStack(err)
				}
				if g.Rank() == 0 {
					report = r
				}
				return nil
			})
		}
		return nil
	})
	err = t.Wait()
	if err != nil {
		return nil, err
	}
	n.publish(report)
	return report, nil
}

// publish records report in the ledger and on the monitor, if configured.
// Failures are logged; the run itself has already succeeded.
func (n *Node) publish(report *hpl.Report) {
	if n.monitor != nil {
		n.monitor.SetReport(report)
	}
	if n.settings.Results == nil {
		return
	}
	rec, err := results.NewRecord(report)
	if err != nil {
		log.Errorf("cannot create run record: %+v", err)
		return
	}
	if n.ledger == nil {
		n.ledger, err = DialResults(n.settings.Results)
		if err != nil {
			log.Errorf("cannot open results ledger: %+v", err)
			return
		}
	}
	err = n.ledger.Append(rec)
	if err != nil {
		log.Errorf("cannot record run %s: %+v", rec.ID, err)
		return
	}
	log.WithField("id", rec.ID).Info("run recorded")
}

func (n *Node) Stop() {
	if n.monitor != nil {
		n.monitor.Stop()
		n.monitor = nil
	}
	if n.ledger != nil {
		if err := n.ledger.Close(); err != nil {
			log.Warningf("failed to close results ledger: %v", err)
		}
		n.ledger = nil
	}
	n.closeLog()
}

// ExitCode maps a run error to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return comm.ExitOK
	}
	var ae *comm.AbortError
	switch {
	case errors.As(err, &ae):
		return ae.Code
	case errors.Is(err, ErrInvalidSettings),
		errors.Is(err, hpl.ErrInvalidLayout),
		errors.Is(err, hpl.ErrPartialBlocks),
		errors.Is(err, tcp.ErrIncompatiblePeer),
		errors.Is(err, tcp.ErrRemoteRejectedHello):
		return comm.ExitConfig
	case errors.Is(err, hpl.ErrResource):
		return comm.ExitResource
	}
	return comm.ExitComm
}
