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

package comm_test

import (
	"sync"

	"github.com/pkg/errors"
	gc "gopkg.in/check.v1"

	"minihpl/comm"
	"minihpl/comm/mem"
)

type GroupSuite struct{}

var _ = gc.Suite(&GroupSuite{})

// runGroup runs f concurrently on every rank of an in-process group of the
// given size and returns each rank's error.
func runGroup(size int, f func(g *comm.Group) error) []error {
	groups := mem.NewGroup(size)
	errs := make([]error, size)
	var wg sync.WaitGroup
	for i, g := range groups {
		wg.Add(1)
		go func(i int, g *comm.Group) {
			defer wg.Done()
			errs[i] = f(g)
		}(i, g)
	}
	wg.Wait()
	for _, g := range groups {
		g.Close()
	}
	return errs
}

func assertNoErrors(c *gc.C, errs []error) {
	for rank, err := range errs {
		c.Assert(err, gc.IsNil, gc.Commentf("rank %d", rank))
	}
}

func (s *GroupSuite) TestAllreduceMaxLoc(c *gc.C) {
	for size := 1; size <= 5; size++ {
		results := make([]comm.Candidate, size)
		errs := runGroup(size, func(g *comm.Group) error {
			cand := comm.Candidate{Value: float64(g.Rank() % 3), Index: 10 + g.Rank()}
			if g.Rank() == 1 {
				cand = comm.NoCandidate
			}
			var err error
			results[g.Rank()], err = g.AllreduceMaxLoc(cand)
			return err
		})
		assertNoErrors(c, errs)
		want := comm.Candidate{Value: 0, Index: 10}
		if size > 2 {
			want = comm.Candidate{Value: 2, Index: 12}
		}
		for rank := range results {
			c.Assert(results[rank], gc.Equals, want, gc.Commentf("size %d rank %d", size, rank))
		}
	}
}

func (s *GroupSuite) TestAllreduceTieBreak(c *gc.C) {
	results := make([]comm.Candidate, 4)
	errs := runGroup(4, func(g *comm.Group) error {
		var err error
		results[g.Rank()], err = g.AllreduceMaxLoc(comm.Candidate{Value: 7, Index: 40 - g.Rank()})
		return err
	})
	assertNoErrors(c, errs)
	for _, r := range results {
		c.Assert(r, gc.Equals, comm.Candidate{Value: 7, Index: 37})
	}
}

func (s *GroupSuite) TestBcastEveryRoot(c *gc.C) {
	for size := 1; size <= 7; size++ {
		for root := 0; root < size; root++ {
			bufs := make([][]float64, size)
			errs := runGroup(size, func(g *comm.Group) error {
				buf := make([]float64, 3)
				if g.Rank() == root {
					buf = []float64{float64(root), 1.5, -2}
				}
				bufs[g.Rank()] = buf
				return g.Bcast(root, buf)
			})
			assertNoErrors(c, errs)
			for rank, buf := range bufs {
				c.Assert(buf, gc.DeepEquals, []float64{float64(root), 1.5, -2},
					gc.Commentf("size %d root %d rank %d", size, root, rank))
			}
		}
	}
}

func (s *GroupSuite) TestSendrecv(c *gc.C) {
	got := make([][]float64, 4)
	errs := runGroup(4, func(g *comm.Group) error {
		peer := g.Rank() ^ 1
		send := []float64{float64(g.Rank()), float64(g.Rank() * 10)}
		got[g.Rank()] = make([]float64, 2)
		return g.Sendrecv(peer, send, got[g.Rank()])
	})
	assertNoErrors(c, errs)
	for rank, buf := range got {
		peer := rank ^ 1
		c.Assert(buf, gc.DeepEquals, []float64{float64(peer), float64(peer * 10)})
	}

	errs = runGroup(1, func(g *comm.Group) error {
		recv := make([]float64, 1)
		err := g.Sendrecv(0, []float64{4}, recv)
		c.Check(recv, gc.DeepEquals, []float64{4})
		return err
	})
	assertNoErrors(c, errs)
}

func (s *GroupSuite) TestReduceMax(c *gc.C) {
	var result []float64
	errs := runGroup(3, func(g *comm.Group) error {
		vals := []float64{float64(g.Rank()), float64(-g.Rank())}
		r, err := g.ReduceMax(0, vals)
		if g.Rank() == 0 {
			result = r
		} else {
			c.Check(r, gc.IsNil)
		}
		return err
	})
	assertNoErrors(c, errs)
	c.Assert(result, gc.DeepEquals, []float64{2, 0})
}

func (s *GroupSuite) TestBarrier(c *gc.C) {
	errs := runGroup(4, func(g *comm.Group) error {
		for i := 0; i < 3; i++ {
			if err := g.Barrier(); err != nil {
				return err
			}
		}
		return nil
	})
	assertNoErrors(c, errs)
}

func (s *GroupSuite) TestAbortReachesBlockedRanks(c *gc.C) {
	errs := runGroup(4, func(g *comm.Group) error {
		if g.Rank() == 2 {
			return g.Abort(comm.ExitSingular, errors.New("zero pivot"))
		}
		return g.Barrier()
	})
	for rank, err := range errs {
		c.Assert(errors.Is(err, comm.ErrAborted), gc.Equals, true, gc.Commentf("rank %d: %v", rank, err))
		var ae *comm.AbortError
		c.Assert(errors.As(err, &ae), gc.Equals, true)
		c.Assert(ae.Rank, gc.Equals, 2)
		c.Assert(ae.Code, gc.Equals, comm.ExitSingular)
	}
}

func (s *GroupSuite) TestAbortIsSticky(c *gc.C) {
	errs := runGroup(2, func(g *comm.Group) error {
		if g.Rank() == 0 {
			g.Abort(comm.ExitResource, errors.New("out of memory"))
		} else if err := g.Barrier(); !errors.Is(err, comm.ErrAborted) {
			return errors.Errorf("expected abort, got %v", err)
		}
		_, err := g.AllreduceMaxLoc(comm.NoCandidate)
		c.Check(g.Aborted(), gc.NotNil)
		return err
	})
	for _, err := range errs {
		var ae *comm.AbortError
		c.Assert(errors.As(err, &ae), gc.Equals, true)
		c.Assert(ae.Code, gc.Equals, comm.ExitResource)
	}
}
