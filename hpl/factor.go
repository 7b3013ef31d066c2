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
	"fmt"
	"math"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/blas/blas64"

	"minihpl/comm"
)

// DefaultThreshold is the pivot magnitude below which the system is treated
// as singular.
const DefaultThreshold = 1e-14

// SingularError reports a pivot too small to divide by.
type SingularError struct {
	Step  int
	Pivot float64
}

func (e *SingularError) Error() string {
	return fmt.Sprintf("near-zero pivot at step %d (|pivot|=%.2e): matrix is singular or ill-conditioned",
		e.Step, math.Abs(e.Pivot))
}

// Engine factors a distributed System in place and solves it. Every rank of
// the group runs its own Engine in lockstep.
type Engine struct {
	sys       *System
	group     *comm.Group
	threshold float64
	pivots    []int
}

// NewEngine returns an Engine over sys. A non-positive threshold selects
// DefaultThreshold.
func NewEngine(sys *System, group *comm.Group, threshold float64) *Engine {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	registerMetrics()
	return &Engine{
		sys:       sys,
		group:     group,
		threshold: threshold,
	}
}

func (e *Engine) log(label string) *log.Entry {
	return log.WithFields(log.Fields{"label": label, "rank": e.sys.rank})
}

// Pivots returns the global index of the pivot row selected at each step.
func (e *Engine) Pivots() []int {
	return e.pivots
}

// Factor performs Gaussian elimination with partial pivoting. On return the
// owned rows hold U on and above the diagonal and the multipliers below it,
// and the right-hand side has been transformed alongside.
func (e *Engine) Factor() error {
	n := e.sys.layout.N
	e.pivots = make([]int, 0, n)
	for k := 0; k < n; k++ {
		err := e.step(k)
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) step(k int) error {
	l := e.sys.layout
	best, err := e.group.AllreduceMaxLoc(e.localCandidate(k))
	if err != nil {
		return errors.WithStack(err)
	}
	if best.IsZero() {
		return e.group.Abort(comm.ExitSingular, &SingularError{Step: k})
	}
	e.pivots = append(e.pivots, best.Index)

	err = e.exchange(k, best.Index)
	if err != nil {
		return errors.WithStack(err)
	}

	kOwner := l.Owner(k)
	if e.sys.rank == kOwner {
		e.sys.pack(l.LocalIndex(k), e.sys.pivot)
	}
	err = e.group.Bcast(kOwner, e.sys.pivot)
	if err != nil {
		return errors.WithStack(err)
	}

	// Every rank holds the same pivot row, so every rank reaches the same
	// verdict here.
	pivot := e.sys.pivot[k]
	if !(math.Abs(pivot) >= e.threshold) {
		return e.group.Abort(comm.ExitSingular, &SingularError{Step: k, Pivot: pivot})
	}

	e.update(k, pivot)
	eliminationSteps.WithLabelValues(fmt.Sprint(e.sys.rank)).Inc()
	e.log("factor").WithFields(log.Fields{"step": k, "pivot": best.Index, "value": pivot}).Debug()
	return nil
}

// localCandidate returns the largest magnitude in column k among owned rows
// at or below k. Ties go to the first such row, which has the lowest global
// index.
func (e *Engine) localCandidate(k int) comm.Candidate {
	li := e.sys.layout.FirstLocal(e.sys.rank, k)
	i := blas64.Iamax(e.sys.column(li, k))
	if i < 0 {
		return comm.NoCandidate
	}
	li += i
	return comm.Candidate{
		Value: math.Abs(e.sys.Get(li, k)),
		Index: e.sys.layout.GlobalIndex(e.sys.rank, li),
	}
}

func (e *Engine) exchange(k, pivot int) error {
	l := e.sys.layout
	switch classifyExchange(l, e.sys.rank, k, pivot) {
	case exchangeSameOwner:
		e.sys.swapRows(l.LocalIndex(k), l.LocalIndex(pivot))
		rowSwaps.WithLabelValues("local").Inc()
	case exchangeKOwner:
		return e.swapRemote(l.LocalIndex(k), l.Owner(pivot))
	case exchangePivotOwner:
		return e.swapRemote(l.LocalIndex(pivot), l.Owner(k))
	}
	return nil
}

// swapRemote replaces local row li with the row held by peer, which receives
// row li in turn.
func (e *Engine) swapRemote(li, peer int) error {
	e.sys.pack(li, e.sys.scratch)
	err := e.group.Sendrecv(peer, e.sys.scratch, e.sys.pivot)
	if err != nil {
		return errors.WithStack(err)
	}
	e.sys.unpack(li, e.sys.pivot)
	rowSwaps.WithLabelValues("remote").Inc()
	return nil
}

// update eliminates column k from every owned row below k, leaving the
// multiplier in its place.
func (e *Engine) update(k int, pivot float64) {
	n := e.sys.layout.N
	prow := blas64.Vector{N: n - k, Inc: 1, Data: e.sys.pivot[k:n]}
	for li := e.sys.layout.FirstLocal(e.sys.rank, k+1); li < e.sys.rows; li++ {
		row := e.sys.Row(li)
		factor := row[k] / pivot
		blas64.Axpy(-factor, prow, blas64.Vector{N: n - k, Inc: 1, Data: row[k:n]})
		e.sys.rhs[li] -= factor * e.sys.pivot[n]
		row[k] = factor
	}
}

// Solve back-substitutes the factored system. The solution is returned on
// every rank.
func (e *Engine) Solve() ([]float64, error) {
	l := e.sys.layout
	n := l.N
	x := make([]float64, n)
	for k := n - 1; k >= 0; k-- {
		owner := l.Owner(k)
		var xk float64
		if e.sys.rank == owner {
			li := l.LocalIndex(k)
			row := e.sys.Row(li)
			s := e.sys.rhs[li] - blas64.Dot(
				blas64.Vector{N: n - k - 1, Inc: 1, Data: row[k+1:]},
				blas64.Vector{N: n - k - 1, Inc: 1, Data: x[k+1:]})
			xk = s / row[k]
		}
		xk, err := e.group.BcastScalar(owner, xk)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		x[k] = xk
	}
	return x, nil
}
