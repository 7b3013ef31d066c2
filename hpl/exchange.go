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

type exchangeCase int

const (
	// exchangeNone: this rank owns neither row, or no swap is needed.
	exchangeNone exchangeCase = iota
	exchangeSameOwner
	exchangeKOwner
	exchangePivotOwner
)

func (c exchangeCase) String() string {
	switch c {
	case exchangeNone:
		return "none"
	case exchangeSameOwner:
		return "same-owner"
	case exchangeKOwner:
		return "k-owner"
	case exchangePivotOwner:
		return "pivot-owner"
	}
	return "unknown"
}

// classifyExchange returns this rank's part in swapping global rows k and
// pivot.
func classifyExchange(l Layout, rank, k, pivot int) exchangeCase {
	if pivot == k {
		return exchangeNone
	}
	kOwner, pOwner := l.Owner(k), l.Owner(pivot)
	switch {
	case rank == kOwner && rank == pOwner:
		return exchangeSameOwner
	case rank == kOwner:
		return exchangeKOwner
	case rank == pOwner:
		return exchangePivotOwner
	}
	return exchangeNone
}
