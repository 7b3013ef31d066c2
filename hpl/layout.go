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

// Package hpl solves a dense linear system Ax = b by Gaussian elimination
// with partial pivoting, with the rows of [A|b] distributed block-cyclically
// over the ranks of a comm.Group.
package hpl

import (
	"fmt"

	"github.com/pkg/errors"
)

var ErrInvalidLayout = errors.New("invalid layout")

var ErrPartialBlocks = errors.New("problem size is not a multiple of NB*P")

// Layout maps global row indices to (owner rank, local offset) pairs.
// Consecutive blocks of NB rows are dealt to ranks in round-robin order.
type Layout struct {
	N, NB, P int
}

// NewLayout returns the layout of an n-row system over p ranks with block
// size nb. n must be a multiple of nb*p.
func NewLayout(n, nb, p int) (Layout, error) {
	if n <= 0 || nb <= 0 || p <= 0 {
		return Layout{}, errors.Wrapf(ErrInvalidLayout, "N=%d NB=%d P=%d must be positive", n, nb, p)
	}
	if n%(nb*p) != 0 {
		return Layout{}, errors.Wrapf(ErrPartialBlocks, "N=%d, NB=%d, P=%d: N must be a multiple of NB*P=%d", n, nb, p, nb*p)
	}
	return Layout{N: n, NB: nb, P: p}, nil
}

// Owner returns the rank that owns global row gi.
func (l Layout) Owner(gi int) int {
	return (gi / l.NB) % l.P
}

// LocalIndex returns the offset of global row gi in its owner's storage.
func (l Layout) LocalIndex(gi int) int {
	return gi/(l.NB*l.P)*l.NB + gi%l.NB
}

// GlobalIndex is the inverse of (Owner, LocalIndex).
func (l Layout) GlobalIndex(rank, li int) int {
	return (li/l.NB*l.P+rank)*l.NB + li%l.NB
}

// FirstLocal returns the number of rows owned by rank whose global index is
// below gi. Owned rows are stored in ascending global order, so rows
// FirstLocal(rank, gi) through LocalRows()-1 are exactly those at or after gi.
func (l Layout) FirstLocal(rank, gi int) int {
	cycle := l.NB * l.P
	rem := gi%cycle - rank*l.NB
	if rem < 0 {
		rem = 0
	} else if rem > l.NB {
		rem = l.NB
	}
	return gi/cycle*l.NB + rem
}

// LocalRows returns the number of rows owned by each rank.
func (l Layout) LocalRows() int {
	return l.N / l.NB / l.P * l.NB
}

func (l Layout) String() string {
	return fmt.Sprintf("N=%d NB=%d P=%d", l.N, l.NB, l.P)
}
