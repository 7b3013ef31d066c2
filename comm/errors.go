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

import (
	"fmt"

	"github.com/pkg/errors"
)

// Process exit statuses. Each fatal condition terminates the whole group
// with its own status.
const (
	ExitOK       = 0
	ExitConfig   = 1
	ExitSingular = 2
	ExitResource = 3
	ExitComm     = 4
)

var ErrAborted = errors.New("process group aborted")

var ErrDesync = errors.New("process group out of step")

var ErrClosed = errors.New("transport closed")

// AbortError is returned by every group operation once the group has been
// aborted, locally or by a remote rank.
type AbortError struct {
	Rank int
	Code int
	Err  error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("process group aborted by rank %d (status %d): %v", e.Rank, e.Code, e.Err)
}

func (e *AbortError) Unwrap() error { return e.Err }

func (e *AbortError) Is(target error) bool {
	return target == ErrAborted
}
