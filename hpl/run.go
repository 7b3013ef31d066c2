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

package hpl

import (
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"minihpl/comm"
)

// Params configures one solver run.
type Params struct {
	N  int
	NB int

	// Generator defines the system; nil selects DiagDominant{N}.
	Generator Generator

	// Threshold is the singular pivot threshold; zero selects
	// DefaultThreshold.
	Threshold float64

	// MaxMemoryBytes limits local storage per rank; zero is unlimited.
	MaxMemoryBytes int64

	Verify VerifyStrategy
}

// DefaultNB is the block size used when none is given.
const DefaultNB = 64

// Run solves the system described by params on every rank of group. It
// returns the report on rank 0 and nil on the other ranks.
//
// A layout error is returned before any communication takes place, so every
// rank reports it independently. Resource and singularity failures abort the
// whole group and are returned as *comm.AbortError.
func Run(group *comm.Group, params Params) (*Report, error) {
	rank := group.Rank()
	if params.NB == 0 {
		params.NB = DefaultNB
	}
	layout, err := NewLayout(params.N, params.NB, group.Size())
	if err != nil {
		return nil, errors.WithStack(err)
	}
	gen := params.Generator
	if gen == nil {
		gen = DiagDominant{N: params.N}
	}
	strategy, err := ParseVerifyStrategy(string(params.Verify))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	logger := log.WithFields(log.Fields{"rank": rank, "label": "run"})
	report := &Report{
		Started:   time.Now(),
		N:         layout.N,
		NB:        layout.NB,
		Procs:     layout.P,
		LocalRows: layout.LocalRows(),
		Verify:    strategy,
	}

	sys, err := NewSystem(layout, rank, params.MaxMemoryBytes)
	if err != nil {
		return nil, group.Abort(comm.ExitResource, err)
	}
	sys.Load(gen)
	var orig *System
	if strategy == VerifyRetain {
		remaining := int64(0)
		if params.MaxMemoryBytes > 0 {
			remaining = params.MaxMemoryBytes - sys.Bytes()
			if remaining <= 0 {
				return nil, group.Abort(comm.ExitResource,
					errors.Wrapf(ErrResource, "no memory left to retain the original system"))
			}
		}
		orig, err = sys.Clone(remaining)
		if err != nil {
			return nil, group.Abort(comm.ExitResource, err)
		}
	}
	logger.WithFields(log.Fields{"layout": layout, "localRows": layout.LocalRows()}).Info("system loaded")

	engine := NewEngine(sys, group, params.Threshold)
	err = group.Barrier()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	start := time.Now()
	err = engine.Factor()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	err = group.Barrier()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	report.Elimination = time.Since(start)
	recordPhase("factor", report.Elimination)
	logger.WithField("elapsed", report.Elimination).Info("factorization complete")

	x, err := engine.Solve()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	report.Total = time.Since(start)
	recordPhase("solve", report.Total-report.Elimination)

	verifyStart := time.Now()
	if orig == nil {
		sys.Load(gen)
		orig = sys
	}
	res, err := Verify(orig, group, x)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	recordPhase("verify", time.Since(verifyStart))
	if rank != 0 {
		return nil, nil
	}

	report.GFLOPS = GFLOPS(layout.N, report.Elimination)
	report.Residual = *res
	logger.WithFields(log.Fields{
		"residual": res.Normalized,
		"passed":   res.Passed,
	}).Info("verification complete")
	return report, nil
}
