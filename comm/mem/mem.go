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

// Package mem provides an in-process transport: every rank of the group is a
// goroutine in the same OS process. Messages are copied through the wire
// codec, so ranks never share buffers.
package mem

import (
	"bytes"
	"sync"

	"github.com/pkg/errors"

	"minihpl/comm"
)

type world struct {
	mu      sync.Mutex
	inboxes []*comm.Inbox
	closed  []bool
}

type transport struct {
	w    *world
	rank int
}

// NewTransports returns the size transports of one in-process group, indexed
// by rank.
func NewTransports(size int) []comm.Transport {
	w := &world{
		inboxes: make([]*comm.Inbox, size),
		closed:  make([]bool, size),
	}
	for i := range w.inboxes {
		w.inboxes[i] = comm.NewInbox(size)
	}
	ts := make([]comm.Transport, size)
	for i := range ts {
		ts[i] = &transport{w: w, rank: i}
	}
	return ts
}

// NewGroup returns the size Groups of one in-process group, indexed by rank.
func NewGroup(size int) []*comm.Group {
	var groups []*comm.Group
	for _, t := range NewTransports(size) {
		groups = append(groups, comm.NewGroup(t))
	}
	return groups
}

func (t *transport) Rank() int { return t.rank }

func (t *transport) Size() int { return len(t.w.inboxes) }

func (t *transport) Send(dst int, msg comm.Msg) error {
	if dst < 0 || dst >= len(t.w.inboxes) {
		return errors.Errorf("no such rank %d", dst)
	}
	t.w.mu.Lock()
	closed := t.w.closed[dst]
	t.w.mu.Unlock()
	if closed {
		return errors.Wrapf(comm.ErrClosed, "rank %d", dst)
	}
	var buf bytes.Buffer
	err := comm.WriteMsgDirect(&buf, msg)
	if err != nil {
		return errors.WithStack(err)
	}
	cp, err := comm.ReadMsg(&buf)
	if err != nil {
		return errors.WithStack(err)
	}
	t.w.inboxes[dst].Deliver(t.rank, cp)
	return nil
}

func (t *transport) Recv(src int) (comm.Msg, error) {
	if src < 0 || src >= len(t.w.inboxes) {
		return nil, errors.Errorf("no such rank %d", src)
	}
	return t.w.inboxes[t.rank].Next(src)
}

func (t *transport) Close() error {
	t.w.mu.Lock()
	t.w.closed[t.rank] = true
	t.w.mu.Unlock()
	for i, inbox := range t.w.inboxes {
		if i != t.rank {
			inbox.Fail(t.rank, errors.Wrapf(comm.ErrClosed, "rank %d", t.rank))
		}
	}
	t.w.inboxes[t.rank].Close()
	return nil
}
