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

package comm

// Candidate is a (magnitude, global row index) pair competing to become the
// pivot of an elimination step.
type Candidate struct {
	Value float64
	Index int
}

// NoCandidate is contributed by a rank that owns no eligible row. It loses
// against every real candidate.
var NoCandidate = Candidate{Value: -1, Index: -1}

// IsZero reports whether c is the empty candidate.
func (c Candidate) IsZero() bool {
	return c.Index < 0
}

// Combine returns the winner of a and b: the larger Value, and on equal
// Values the lower Index. Combine is commutative and associative, so the
// result of a reduction does not depend on the order ranks are folded in.
func Combine(a, b Candidate) Candidate {
	switch {
	case a.IsZero():
		return b
	case b.IsZero():
		return a
	case a.Value > b.Value:
		return a
	case b.Value > a.Value:
		return b
	case a.Index <= b.Index:
		return a
	}
	return b
}
