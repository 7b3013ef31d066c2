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
	"sync"

	"github.com/pkg/errors"
)

// Inbox queues messages received by one rank, per source rank. Delivery
// never blocks, so a rank can always finish sending before it receives.
type Inbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queues [][]Msg
	errs   []error
	abort  *AbortError
	closed bool
}

func NewInbox(size int) *Inbox {
	b := &Inbox{
		queues: make([][]Msg, size),
		errs:   make([]error, size),
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Deliver enqueues msg as received from rank src. An Abort message latches
// the inbox into the aborted state instead of being queued.
func (b *Inbox) Deliver(src int, msg Msg) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := msg.(*Abort); ok {
		if b.abort == nil {
			b.abort = &AbortError{Rank: src, Code: m.Code, Err: errors.New(m.Reason)}
		}
	} else {
		b.queues[src] = append(b.queues[src], msg)
	}
	b.cond.Broadcast()
}

// Fail records that nothing more will arrive from src.
func (b *Inbox) Fail(src int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.errs[src] == nil {
		b.errs[src] = err
	}
	b.cond.Broadcast()
}

// Close wakes every pending Next call with ErrClosed.
func (b *Inbox) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cond.Broadcast()
}

// Next blocks until a message from src is available. Messages already queued
// from src are returned before an abort or a failure is reported.
func (b *Inbox) Next(src int) (Msg, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for {
		if q := b.queues[src]; len(q) > 0 {
			msg := q[0]
			q[0] = nil
			b.queues[src] = q[1:]
			return msg, nil
		}
		switch {
		case b.abort != nil:
			return nil, b.abort
		case b.errs[src] != nil:
			return nil, b.errs[src]
		case b.closed:
			return nil, errors.WithStack(ErrClosed)
		}
		b.cond.Wait()
	}
}
