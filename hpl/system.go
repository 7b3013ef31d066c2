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
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/blas/blas64"
)

var ErrResource = errors.New("insufficient memory for local storage")

const float64Size = 8

// System is one rank's share of the augmented matrix [A|b]: LocalRows() full
// rows of A stored row-major, their right-hand side entries, and the pivot
// and scratch rows used during elimination.
type System struct {
	layout  Layout
	rank    int
	rows    int
	cells   []float64
	rhs     []float64
	pivot   []float64
	scratch []float64
}

// Footprint returns the bytes needed for copies of a rank's [A|b] plus the
// pivot and scratch rows.
func Footprint(layout Layout, copies int) int64 {
	rows := int64(layout.LocalRows())
	n := int64(layout.N)
	return (rows*n+rows)*float64Size*int64(copies) + 2*(n+1)*float64Size
}

// NewSystem allocates the local storage of rank. If maxBytes is positive and
// the storage would exceed it, ErrResource is returned and nothing is
// allocated.
func NewSystem(layout Layout, rank int, maxBytes int64) (*System, error) {
	if rank < 0 || rank >= layout.P {
		return nil, errors.Wrapf(ErrInvalidLayout, "rank %d outside %v", rank, layout)
	}
	rows, n := layout.LocalRows(), layout.N
	if need := Footprint(layout, 1); maxBytes > 0 && need > maxBytes {
		return nil, errors.Wrapf(ErrResource, "rank %d needs %d bytes, limit is %d", rank, need, maxBytes)
	}
	return &System{
		layout:  layout,
		rank:    rank,
		rows:    rows,
		cells:   make([]float64, rows*n),
		rhs:     make([]float64, rows),
		pivot:   make([]float64, n+1),
		scratch: make([]float64, n+1),
	}, nil
}

// Load fills the owned rows of [A|b] from gen.
func (s *System) Load(gen Generator) {
	n := s.layout.N
	for li := 0; li < s.rows; li++ {
		gi := s.layout.GlobalIndex(s.rank, li)
		row := s.Row(li)
		for j := 0; j < n; j++ {
			row[j] = gen.A(gi, j)
		}
		s.rhs[li] = gen.B(gi)
	}
}

// Clone returns a copy of the owned [A|b], subject to the same memory limit
// as NewSystem.
func (s *System) Clone(maxBytes int64) (*System, error) {
	need := int64(len(s.cells)+len(s.rhs)) * float64Size
	if maxBytes > 0 && need > maxBytes {
		return nil, errors.Wrapf(ErrResource, "rank %d needs %d more bytes, %d available", s.rank, need, maxBytes)
	}
	c := &System{
		layout: s.layout,
		rank:   s.rank,
		rows:   s.rows,
		cells:  make([]float64, len(s.cells)),
		rhs:    make([]float64, len(s.rhs)),
	}
	copy(c.cells, s.cells)
	copy(c.rhs, s.rhs)
	return c, nil
}

// Bytes returns the size of the allocated storage.
func (s *System) Bytes() int64 {
	return int64(len(s.cells)+len(s.rhs)+len(s.pivot)+len(s.scratch)) * float64Size
}

func (s *System) Layout() Layout { return s.layout }

func (s *System) Rank() int { return s.rank }

func (s *System) LocalRows() int { return s.rows }

// Row returns local row li of A. The slice aliases the storage.
func (s *System) Row(li int) []float64 {
	n := s.layout.N
	return s.cells[li*n : (li+1)*n : (li+1)*n]
}

// RHS returns the right-hand side entry of local row li.
func (s *System) RHS(li int) float64 {
	return s.rhs[li]
}

// Get returns the value at local row li, column j.
func (s *System) Get(li, j int) float64 {
	return s.cells[li*s.layout.N+j]
}

// Set sets the value at local row li, column j.
func (s *System) Set(li, j int, v float64) {
	s.cells[li*s.layout.N+j] = v
}

// GlobalRow returns a copy of global row gi and its right-hand side entry.
// ok is false if gi is not owned by this rank.
func (s *System) GlobalRow(gi int) (row []float64, rhs float64, ok bool) {
	if gi < 0 || gi >= s.layout.N || s.layout.Owner(gi) != s.rank {
		return nil, 0, false
	}
	li := s.layout.LocalIndex(gi)
	row = make([]float64, s.layout.N)
	copy(row, s.Row(li))
	return row, s.rhs[li], true
}

// pack copies local row li and its right-hand side into buf.
func (s *System) pack(li int, buf []float64) {
	n := s.layout.N
	copy(buf[:n], s.Row(li))
	buf[n] = s.rhs[li]
}

// unpack overwrites local row li and its right-hand side from buf.
func (s *System) unpack(li int, buf []float64) {
	n := s.layout.N
	copy(s.Row(li), buf[:n])
	s.rhs[li] = buf[n]
}

func (s *System) swapRows(li1, li2 int) {
	n := s.layout.N
	blas64.Swap(
		blas64.Vector{N: n, Inc: 1, Data: s.Row(li1)},
		blas64.Vector{N: n, Inc: 1, Data: s.Row(li2)})
	s.rhs[li1], s.rhs[li2] = s.rhs[li2], s.rhs[li1]
}

// column returns the strided view of column j over local rows li..end.
func (s *System) column(li, j int) blas64.Vector {
	n := s.layout.N
	if li >= s.rows {
		return blas64.Vector{N: 0, Inc: n}
	}
	return blas64.Vector{N: s.rows - li, Inc: n, Data: s.cells[li*n+j:]}
}

// String returns the owned rows as [A|b], labelled by global index.
func (s *System) String() string {
	buf := bytes.NewBuffer(nil)
	for li := 0; li < s.rows; li++ {
		fmt.Fprintf(buf, "%4d | ", s.layout.GlobalIndex(s.rank, li))
		for _, v := range s.Row(li) {
			fmt.Fprintf(buf, "%g ", v)
		}
		fmt.Fprintf(buf, "| %g\n", s.rhs[li])
	}
	return buf.String()
}
