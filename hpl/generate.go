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

import "github.com/pkg/errors"

// Generator defines the entries of a global augmented system [A|b].
// Implementations must be deterministic.
type Generator interface {
	A(gi, gj int) float64
	B(gi int) float64
}

// DiagDominant is the benchmark test system. The diagonal is
// N + (2gi+1)/N, every other entry is (gi+gj+1)/N and b is all ones.
type DiagDominant struct {
	N int
}

func (g DiagDominant) A(gi, gj int) float64 {
	if gi == gj {
		return float64(g.N) + float64(gi+gj+1)/float64(g.N)
	}
	return float64(gi+gj+1) / float64(g.N)
}

func (g DiagDominant) B(gi int) float64 {
	return 1
}

// Dense is an explicitly given system.
type Dense struct {
	Rows [][]float64
	RHS  []float64
}

// NewDense checks that rows is square and matches rhs.
func NewDense(rows [][]float64, rhs []float64) (*Dense, error) {
	for i, row := range rows {
		if len(row) != len(rows) {
			return nil, errors.Errorf("row %d has %d columns, expected %d", i, len(row), len(rows))
		}
	}
	if len(rhs) != len(rows) {
		return nil, errors.Errorf("rhs has %d entries, expected %d", len(rhs), len(rows))
	}
	return &Dense{Rows: rows, RHS: rhs}, nil
}

func (g *Dense) A(gi, gj int) float64 { return g.Rows[gi][gj] }

func (g *Dense) B(gi int) float64 { return g.RHS[gi] }
