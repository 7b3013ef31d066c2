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
	"math"
	"math/rand"
	"sync"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	gc "gopkg.in/check.v1"

	"minihpl/comm"
	"minihpl/comm/mem"
)

type rankResult struct {
	sys    *System
	pivots []int
	x      []float64
	res    *Residual
	err    error
}

// solve factors, solves and verifies gen on an in-process group of size
// ranks.
func solve(layout Layout, gen Generator) []rankResult {
	groups := mem.NewGroup(layout.P)
	results := make([]rankResult, layout.P)
	var wg sync.WaitGroup
	for rank, g := range groups {
		wg.Add(1)
		go func(r *rankResult, rank int, g *comm.Group) {
			defer wg.Done()
			r.sys, r.err = NewSystem(layout, rank, 0)
			if r.err != nil {
				return
			}
			r.sys.Load(gen)
			e := NewEngine(r.sys, g, 0)
			r.err = e.Factor()
			r.pivots = e.Pivots()
			if r.err != nil {
				return
			}
			r.x, r.err = e.Solve()
			if r.err != nil {
				return
			}
			r.sys.Load(gen)
			r.res, r.err = Verify(r.sys, g, r.x)
		}(&results[rank], rank, g)
	}
	wg.Wait()
	for _, g := range groups {
		g.Close()
	}
	return results
}

func randomDense(seed int64, n int) *Dense {
	rnd := rand.New(rand.NewSource(seed))
	rows := make([][]float64, n)
	rhs := make([]float64, n)
	for i := range rows {
		rows[i] = make([]float64, n)
		for j := range rows[i] {
			rows[i][j] = rnd.Float64()*2 - 1
		}
		rhs[i] = rnd.Float64()*2 - 1
	}
	return &Dense{Rows: rows, RHS: rhs}
}

func referenceSolve(c *gc.C, gen *Dense) []float64 {
	n := len(gen.Rows)
	a := mat.NewDense(n, n, nil)
	for i, row := range gen.Rows {
		a.SetRow(i, row)
	}
	var x mat.VecDense
	err := x.SolveVec(a, mat.NewVecDense(n, gen.RHS))
	c.Assert(err, gc.IsNil)
	return x.RawVector().Data
}

type GeneratorSuite struct{}

var _ = gc.Suite(&GeneratorSuite{})

// The diagonal outweighs its row only while 8N-4 > N(N-1), i.e. up to N=8.
func (s *GeneratorSuite) TestDiagonallyDominant(c *gc.C) {
	for n := 1; n <= 8; n++ {
		gen := DiagDominant{N: n}
		for i := 0; i < n; i++ {
			var off float64
			for j := 0; j < n; j++ {
				if j != i {
					off += math.Abs(gen.A(i, j))
				}
			}
			c.Assert(math.Abs(gen.A(i, i)) > off, gc.Equals, true, gc.Commentf("N=%d row %d", n, i))
		}
	}
}

func (s *GeneratorSuite) TestFormula(c *gc.C) {
	gen := DiagDominant{N: 4}
	c.Assert(gen.A(0, 0), gc.Equals, 4.25)
	c.Assert(gen.A(3, 3), gc.Equals, 5.75)
	c.Assert(gen.A(1, 2), gc.Equals, 1.0)
	c.Assert(gen.A(2, 1), gc.Equals, 1.0)
	c.Assert(gen.B(3), gc.Equals, 1.0)
}

func (s *GeneratorSuite) TestIdempotent(c *gc.C) {
	l, err := NewLayout(96, 8, 3)
	c.Assert(err, gc.IsNil)
	gen := DiagDominant{N: l.N}
	for rank := 0; rank < l.P; rank++ {
		s1, err := NewSystem(l, rank, 0)
		c.Assert(err, gc.IsNil)
		s2, err := NewSystem(l, rank, 0)
		c.Assert(err, gc.IsNil)
		s1.Load(gen)
		s2.Load(gen)
		for li := 0; li < l.LocalRows(); li++ {
			for j, v := range s1.Row(li) {
				c.Assert(math.Float64bits(v), gc.Equals, math.Float64bits(s2.Get(li, j)))
			}
			c.Assert(s1.RHS(li), gc.Equals, s2.RHS(li))
		}
	}
}

func (s *GeneratorSuite) TestLoadOwnedRowsOnly(c *gc.C) {
	l, err := NewLayout(8, 2, 2)
	c.Assert(err, gc.IsNil)
	sys, err := NewSystem(l, 1, 0)
	c.Assert(err, gc.IsNil)
	sys.Load(DiagDominant{N: 8})
	row, rhs, ok := sys.GlobalRow(2)
	c.Assert(ok, gc.Equals, true)
	c.Assert(row[2], gc.Equals, 8+5.0/8)
	c.Assert(rhs, gc.Equals, 1.0)
	_, _, ok = sys.GlobalRow(0)
	c.Assert(ok, gc.Equals, false)
}

func (s *GeneratorSuite) TestNewDense(c *gc.C) {
	_, err := NewDense([][]float64{{1, 2}, {3}}, []float64{1, 1})
	c.Assert(err, gc.ErrorMatches, "row 1 has 1 columns, expected 2")
	_, err = NewDense([][]float64{{1}}, []float64{1, 1})
	c.Assert(err, gc.NotNil)
	d, err := NewDense([][]float64{{1, 2}, {3, 4}}, []float64{5, 6})
	c.Assert(err, gc.IsNil)
	c.Assert(d.A(1, 0), gc.Equals, 3.0)
}

type EngineSuite struct{}

var _ = gc.Suite(&EngineSuite{})

func (s *EngineSuite) TestRoundTrip(c *gc.C) {
	for _, tc := range []struct{ n, nb, p int }{
		{128, 32, 1}, {128, 32, 2}, {192, 32, 3}, {128, 32, 4}, {256, 64, 4},
	} {
		l, err := NewLayout(tc.n, tc.nb, tc.p)
		c.Assert(err, gc.IsNil)
		results := solve(l, DiagDominant{N: tc.n})
		for rank, r := range results {
			c.Assert(r.err, gc.IsNil, gc.Commentf("%v rank %d", l, rank))
			c.Assert(r.x, gc.DeepEquals, results[0].x)
		}
		res := results[0].res
		c.Assert(res, gc.NotNil)
		c.Logf("%v: r=%g", l, res.Normalized)
		c.Assert(res.Passed, gc.Equals, true, gc.Commentf("%v: r=%g", l, res.Normalized))
		for _, r := range results[1:] {
			c.Assert(r.res, gc.IsNil)
		}
	}
}

func (s *EngineSuite) TestMatchesReferenceSolver(c *gc.C) {
	gen := randomDense(42, 48)
	want := referenceSolve(c, gen)
	for _, p := range []int{1, 2, 3} {
		l, err := NewLayout(48, 4, p)
		c.Assert(err, gc.IsNil)
		results := solve(l, gen)
		c.Assert(results[0].err, gc.IsNil)
		c.Assert(floats.EqualApprox(results[0].x, want, 1e-9), gc.Equals, true,
			gc.Commentf("P=%d x=%v want=%v", p, results[0].x, want))
		c.Assert(results[0].res.Passed, gc.Equals, true)
	}
}

func (s *EngineSuite) TestPivotsIndependentOfDistribution(c *gc.C) {
	gen := randomDense(7, 32)
	var first []int
	for _, tc := range []struct{ nb, p int }{{32, 1}, {4, 2}, {2, 4}, {8, 4}, {1, 8}} {
		l, err := NewLayout(32, tc.nb, tc.p)
		c.Assert(err, gc.IsNil)
		results := solve(l, gen)
		for rank, r := range results {
			c.Assert(r.err, gc.IsNil)
			c.Assert(r.pivots, gc.HasLen, 32)
			c.Assert(r.pivots, gc.DeepEquals, results[0].pivots, gc.Commentf("%v rank %d", l, rank))
		}
		if first == nil {
			first = results[0].pivots
			continue
		}
		c.Assert(results[0].pivots, gc.DeepEquals, first, gc.Commentf("%v", l))
	}
}

func (s *EngineSuite) TestPivotTieBreak(c *gc.C) {
	// Column 0 has equal magnitudes in rows 1 and 3; the lower index wins.
	gen, err := NewDense([][]float64{
		{1, 0, 0, 0},
		{-4, 1, 0, 0},
		{2, 0, 1, 0},
		{4, 0, 0, 1},
	}, []float64{1, 2, 3, 4})
	c.Assert(err, gc.IsNil)
	for _, p := range []int{1, 2, 4} {
		l, err := NewLayout(4, 4/p, p)
		c.Assert(err, gc.IsNil)
		results := solve(l, gen)
		c.Assert(results[0].err, gc.IsNil)
		c.Assert(results[0].pivots[0], gc.Equals, 1, gc.Commentf("P=%d", p))
	}
}

func (s *EngineSuite) TestSingularAtStep(c *gc.C) {
	const n, k = 12, 5
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = make([]float64, n)
		for j := range rows[i] {
			if j == k {
				continue
			}
			if i == j {
				rows[i][j] = 4
			} else {
				rows[i][j] = float64((i+2*j)%5) / 10
			}
		}
	}
	gen, err := NewDense(rows, make([]float64, n))
	c.Assert(err, gc.IsNil)
	for _, p := range []int{1, 2, 3} {
		l, err := NewLayout(n, 2, p)
		c.Assert(err, gc.IsNil)
		for rank, r := range solve(l, gen) {
			var ae *comm.AbortError
			c.Assert(errors.As(r.err, &ae), gc.Equals, true, gc.Commentf("P=%d rank %d: %v", p, rank, r.err))
			c.Assert(ae.Code, gc.Equals, comm.ExitSingular)
			c.Assert(r.err, gc.ErrorMatches, ".*near-zero pivot at step 5 .*")
			c.Assert(r.pivots, gc.HasLen, k+1)
			// A rank still waiting on the pivot row may learn of the abort
			// from a peer before checking the pivot itself.
			if ae.Rank == rank {
				var se *SingularError
				c.Assert(errors.As(r.err, &se), gc.Equals, true)
				c.Assert(se.Step, gc.Equals, k)
			}
		}
	}
}

func (s *EngineSuite) TestSwapAcrossRanks(c *gc.C) {
	gen := randomDense(3, 12)
	l, err := NewLayout(12, 2, 3)
	c.Assert(err, gc.IsNil)
	for _, tc := range []struct{ k, pivot int }{{0, 1}, {1, 2}, {4, 9}, {3, 11}, {6, 6}} {
		groups := mem.NewGroup(l.P)
		systems := make([]*System, l.P)
		errs := make([]error, l.P)
		var wg sync.WaitGroup
		for rank, g := range groups {
			systems[rank], err = NewSystem(l, rank, 0)
			c.Assert(err, gc.IsNil)
			systems[rank].Load(gen)
			wg.Add(1)
			go func(rank int, g *comm.Group) {
				defer wg.Done()
				errs[rank] = NewEngine(systems[rank], g, 0).exchange(tc.k, tc.pivot)
			}(rank, g)
		}
		wg.Wait()
		for _, g := range groups {
			g.Close()
		}
		for rank := range errs {
			c.Assert(errs[rank], gc.IsNil)
		}

		globalRow := func(gi int) ([]float64, float64) {
			row, rhs, ok := systems[l.Owner(gi)].GlobalRow(gi)
			c.Assert(ok, gc.Equals, true)
			return row, rhs
		}
		for gi := 0; gi < l.N; gi++ {
			src := gi
			switch gi {
			case tc.k:
				src = tc.pivot
			case tc.pivot:
				src = tc.k
			}
			row, rhs := globalRow(gi)
			c.Assert(row, gc.DeepEquals, gen.Rows[src], gc.Commentf("k=%d pivot=%d row %d", tc.k, tc.pivot, gi))
			c.Assert(rhs, gc.Equals, gen.RHS[src])
		}
	}
}

func (s *EngineSuite) TestMultipliersStored(c *gc.C) {
	gen, err := NewDense([][]float64{
		{2, 1},
		{1, 3},
	}, []float64{3, 4})
	c.Assert(err, gc.IsNil)
	l, err := NewLayout(2, 1, 2)
	c.Assert(err, gc.IsNil)
	groups := mem.NewGroup(2)
	systems := make([]*System, 2)
	var wg sync.WaitGroup
	for rank, g := range groups {
		systems[rank], err = NewSystem(l, rank, 0)
		c.Assert(err, gc.IsNil)
		systems[rank].Load(gen)
		wg.Add(1)
		go func(rank int, g *comm.Group) {
			defer wg.Done()
			c.Check(NewEngine(systems[rank], g, 0).Factor(), gc.IsNil)
		}(rank, g)
	}
	wg.Wait()
	for _, g := range groups {
		g.Close()
	}
	row, rhs, ok := systems[1].GlobalRow(1)
	c.Assert(ok, gc.Equals, true)
	c.Assert(row, gc.DeepEquals, []float64{0.5, 2.5})
	c.Assert(rhs, gc.Equals, 2.5)
	row, _, _ = systems[0].GlobalRow(0)
	c.Assert(row, gc.DeepEquals, []float64{2, 1})
}
