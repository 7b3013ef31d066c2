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
	"bytes"
	"sync"
	"time"

	"github.com/pkg/errors"
	gc "gopkg.in/check.v1"

	"minihpl/comm"
	"minihpl/comm/mem"
)

type RunSuite struct{}

var _ = gc.Suite(&RunSuite{})

func runAll(size int, params Params) ([]*Report, []error) {
	groups := mem.NewGroup(size)
	reports := make([]*Report, size)
	errs := make([]error, size)
	var wg sync.WaitGroup
	for rank, g := range groups {
		wg.Add(1)
		go func(rank int, g *comm.Group) {
			defer wg.Done()
			reports[rank], errs[rank] = Run(g, params)
		}(rank, g)
	}
	wg.Wait()
	for _, g := range groups {
		g.Close()
	}
	return reports, errs
}

func (s *RunSuite) TestRun(c *gc.C) {
	reports, errs := runAll(2, Params{N: 64, NB: 16})
	for rank, err := range errs {
		c.Assert(err, gc.IsNil, gc.Commentf("rank %d", rank))
	}
	c.Assert(reports[1], gc.IsNil)
	r := reports[0]
	c.Assert(r, gc.NotNil)
	c.Assert(r.N, gc.Equals, 64)
	c.Assert(r.NB, gc.Equals, 16)
	c.Assert(r.Procs, gc.Equals, 2)
	c.Assert(r.LocalRows, gc.Equals, 32)
	c.Assert(r.Verify, gc.Equals, VerifyRegenerate)
	c.Assert(r.Total >= r.Elimination, gc.Equals, true)
	c.Assert(r.Passed, gc.Equals, true)
	c.Assert(r.XNorm > 0, gc.Equals, true)
}

func (s *RunSuite) TestDefaultBlockSize(c *gc.C) {
	reports, errs := runAll(1, Params{N: 128})
	c.Assert(errs[0], gc.IsNil)
	c.Assert(reports[0].NB, gc.Equals, DefaultNB)
}

func (s *RunSuite) TestRetainMatchesRegenerate(c *gc.C) {
	regen, errs := runAll(2, Params{N: 64, NB: 8, Verify: VerifyRegenerate})
	c.Assert(errs[0], gc.IsNil)
	retain, errs := runAll(2, Params{N: 64, NB: 8, Verify: VerifyRetain})
	c.Assert(errs[0], gc.IsNil)
	c.Assert(retain[0].Verify, gc.Equals, VerifyRetain)
	c.Assert(retain[0].Residual, gc.Equals, regen[0].Residual)
}

func (s *RunSuite) TestPartialBlocks(c *gc.C) {
	_, errs := runAll(3, Params{N: 128, NB: 32})
	for _, err := range errs {
		c.Assert(errors.Is(err, ErrPartialBlocks), gc.Equals, true)
		c.Assert(errors.Is(err, comm.ErrAborted), gc.Equals, false)
	}
}

func (s *RunSuite) TestUnknownStrategy(c *gc.C) {
	_, errs := runAll(1, Params{N: 8, NB: 8, Verify: "guess"})
	c.Assert(errs[0], gc.ErrorMatches, `unknown verification strategy "guess"`)
}

func (s *RunSuite) TestMemoryLimit(c *gc.C) {
	l, err := NewLayout(64, 16, 2)
	c.Assert(err, gc.IsNil)
	for _, tc := range []struct {
		limit    int64
		strategy VerifyStrategy
		fail     bool
	}{
		{Footprint(l, 1) - 1, VerifyRegenerate, true},
		{Footprint(l, 1), VerifyRegenerate, false},
		{Footprint(l, 1), VerifyRetain, true},
		{Footprint(l, 2), VerifyRetain, false},
	} {
		_, errs := runAll(2, Params{N: 64, NB: 16, MaxMemoryBytes: tc.limit, Verify: tc.strategy})
		for rank, err := range errs {
			comment := gc.Commentf("limit %d %s rank %d: %v", tc.limit, tc.strategy, rank, err)
			if !tc.fail {
				c.Assert(err, gc.IsNil, comment)
				continue
			}
			var ae *comm.AbortError
			c.Assert(errors.As(err, &ae), gc.Equals, true, comment)
			c.Assert(ae.Code, gc.Equals, comm.ExitResource)
		}
	}
}

func (s *RunSuite) TestReport(c *gc.C) {
	r := &Report{
		N: 1024, NB: 64, Procs: 4, LocalRows: 256,
		Elimination: 2 * time.Second,
		Total:       2500 * time.Millisecond,
		GFLOPS:      GFLOPS(1024, 2*time.Second),
		Residual: Residual{
			ResidualNorm: 1.5e-13,
			MatrixNorm:   1.5e3,
			XNorm:        9.8e-4,
			Normalized:   0.45,
			Passed:       true,
		},
	}
	c.Assert(r.GFLOPS > 0.35 && r.GFLOPS < 0.36, gc.Equals, true, gc.Commentf("%v", r.GFLOPS))
	var buf bytes.Buffer
	_, err := r.WriteTo(&buf)
	c.Assert(err, gc.IsNil)
	out := buf.String()
	c.Assert(out, gc.Matches, `(?s).*N\s+= 1024\n.*NB\s+= 64\n.*Processes\s+= 4\n.*`)
	c.Assert(out, gc.Matches, `(?s).*Elimination time\s+= 2\.0000 s\n.*Total time\s+= 2\.5000 s\n.*`)
	c.Assert(out, gc.Matches, `(?s).*Normalized resid\. = 4\.50e-01\n.*PASSED \(r < 16\).*`)

	r.Passed = false
	c.Assert(r.Status(), gc.Equals, "FAILED (r >= 16)")
	c.Assert(GFLOPS(1024, 0), gc.Equals, 0.0)
}
