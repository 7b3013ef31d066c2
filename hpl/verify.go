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

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/floats"

	"minihpl/comm"
)

// Epsilon is the unit roundoff of float64.
const Epsilon = 0x1p-52

// PassThreshold is the normalized residual below which a solution passes.
const PassThreshold = 16

// VerifyStrategy selects how the original operator is recovered for
// verification once factorization has overwritten it.
type VerifyStrategy string

const (
	// VerifyRegenerate reloads the generator into the factored storage.
	VerifyRegenerate = VerifyStrategy("regenerate")
	// VerifyRetain keeps a pristine copy made before factorization.
	VerifyRetain = VerifyStrategy("retain")
)

// ParseVerifyStrategy parses a strategy name. The empty string selects
// VerifyRegenerate.
func ParseVerifyStrategy(s string) (VerifyStrategy, error) {
	switch VerifyStrategy(s) {
	case "", VerifyRegenerate:
		return VerifyRegenerate, nil
	case VerifyRetain:
		return VerifyRetain, nil
	}
	return "", errors.Errorf("unknown verification strategy %q", s)
}

// Residual holds the infinity norms of a verified solution.
type Residual struct {
	ResidualNorm float64 `json:"residualNorm"`
	MatrixNorm   float64 `json:"matrixNorm"`
	XNorm        float64 `json:"xNorm"`
	Normalized   float64 `json:"normalized"`
	Passed       bool    `json:"passed"`
}

// Verify computes the normalized residual of x against the original system
// sys. The result is returned on rank 0 only; other ranks get nil.
func Verify(sys *System, group *comm.Group, x []float64) (*Residual, error) {
	n := sys.layout.N
	if len(x) != n {
		return nil, errors.Errorf("solution has %d entries, expected %d", len(x), n)
	}
	xv := blas64.Vector{N: n, Inc: 1, Data: x}
	var resNorm, aNorm float64
	for li := 0; li < sys.rows; li++ {
		row := blas64.Vector{N: n, Inc: 1, Data: sys.Row(li)}
		resNorm = math.Max(resNorm, math.Abs(blas64.Dot(row, xv)-sys.rhs[li]))
		aNorm = math.Max(aNorm, blas64.Asum(row))
	}

	maxima, err := group.ReduceMax(0, []float64{resNorm, aNorm})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if group.Rank() != 0 {
		return nil, nil
	}

	res := &Residual{
		ResidualNorm: maxima[0],
		MatrixNorm:   maxima[1],
		XNorm:        floats.Norm(x, math.Inf(1)),
	}
	res.Normalized = res.ResidualNorm / (res.MatrixNorm * res.XNorm * float64(n) * Epsilon)
	res.Passed = res.Normalized < PassThreshold
	normalizedResidual.Set(res.Normalized)
	return res, nil
}
