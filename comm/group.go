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

// Package comm provides the message-passing process group used by the
// distributed solver: point-to-point transports, collective operations built
// on top of them, and the group-wide abort.
//
// Every rank runs the same sequence of collective calls. A Group is driven by
// a single goroutine and is not safe for concurrent use.
package comm

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/tomb.v2"
)

// Transport moves messages between the ranks of a fixed-size group. Send must
// not wait for the destination to receive.
type Transport interface {
	Rank() int
	Size() int
	Send(dst int, msg Msg) error
	Recv(src int) (Msg, error)
	Close() error
}

// Tag identifies the collective operation a Vector message belongs to.
type Tag int

const (
	TagBcast = Tag(iota + 1)
	TagExchange
	TagReduce
)

func (t Tag) String() string {
	switch t {
	case TagBcast:
		return "bcast"
	case TagExchange:
		return "exchange"
	case TagReduce:
		return "reduce"
	}
	return fmt.Sprintf("tag(%d)", int(t))
}

// Group runs collective operations over a Transport.
type Group struct {
	t       Transport
	rank    int
	size    int
	aborted *AbortError
}

func NewGroup(t Transport) *Group {
	registerMetrics()
	return &Group{
		t:    t,
		rank: t.Rank(),
		size: t.Size(),
	}
}

func (g *Group) Rank() int { return g.rank }

func (g *Group) Size() int { return g.size }

func (g *Group) Close() error {
	return g.t.Close()
}

func (g *Group) log(label string) *log.Entry {
	return log.WithFields(log.Fields{"rank": g.rank, "label": label})
}

// Aborted returns the abort that ended the group, if any.
func (g *Group) Aborted() *AbortError {
	return g.aborted
}

func (g *Group) fail(err error) error {
	var ae *AbortError
	if errors.As(err, &ae) {
		if g.aborted == nil {
			g.aborted = ae
			g.log("abort").WithField("origin", ae.Rank).Errorf("group aborted: %v", ae.Err)
		}
		return g.aborted
	}
	return err
}

func (g *Group) send(dst int, msg Msg) error {
	err := g.t.Send(dst, msg)
	if err != nil {
		return g.fail(errors.Wrapf(err, "rank %d: send %v to rank %d", g.rank, msg.MsgType(), dst))
	}
	recordSend(g.rank, msg)
	return nil
}

func (g *Group) recv(src int, want MsgType) (Msg, error) {
	msg, err := g.t.Recv(src)
	if err != nil {
		return nil, g.fail(errors.Wrapf(err, "rank %d: receive %v from rank %d", g.rank, want, src))
	}
	if msg.MsgType() != want {
		return nil, errors.Wrapf(ErrDesync, "rank %d: expected %v from rank %d, got %v", g.rank, want, src, msg.MsgType())
	}
	return msg, nil
}

func (g *Group) recvVector(src int, tag Tag, buf []float64) error {
	msg, err := g.recv(src, MsgTypeVector)
	if err != nil {
		return err
	}
	v := msg.(*Vector)
	if v.Tag != tag || len(v.Data) != len(buf) {
		return errors.Wrapf(ErrDesync, "rank %d: expected %v vector of %d from rank %d, got %v",
			g.rank, tag, len(buf), src, v)
	}
	copy(buf, v.Data)
	return nil
}

// AllreduceMaxLoc combines every rank's candidate with Combine and returns
// the winner, identically, on every rank.
func (g *Group) AllreduceMaxLoc(c Candidate) (Candidate, error) {
	if g.aborted != nil {
		return NoCandidate, g.aborted
	}
	defer recordCollective("allreduce_maxloc", time.Now())
	if g.size == 1 {
		return c, nil
	}
	if g.rank != 0 {
		if err := g.send(0, &CandidateMsg{c}); err != nil {
			return NoCandidate, err
		}
		msg, err := g.recv(0, MsgTypeCandidate)
		if err != nil {
			return NoCandidate, err
		}
		return msg.(*CandidateMsg).Candidate, nil
	}
	acc := c
	for src := 1; src < g.size; src++ {
		msg, err := g.recv(src, MsgTypeCandidate)
		if err != nil {
			return NoCandidate, err
		}
		acc = Combine(acc, msg.(*CandidateMsg).Candidate)
	}
	for dst := 1; dst < g.size; dst++ {
		if err := g.send(dst, &CandidateMsg{acc}); err != nil {
			return NoCandidate, err
		}
	}
	return acc, nil
}

// Bcast replaces buf on every rank with root's buf, along a binomial tree.
func (g *Group) Bcast(root int, buf []float64) error {
	if g.aborted != nil {
		return g.aborted
	}
	defer recordCollective("bcast", time.Now())
	vr := (g.rank - root + g.size) % g.size
	mask := 1
	for mask < g.size {
		if vr&mask != 0 {
			src := (g.rank - mask + g.size) % g.size
			if err := g.recvVector(src, TagBcast, buf); err != nil {
				return err
			}
			break
		}
		mask <<= 1
	}
	for mask >>= 1; mask > 0; mask >>= 1 {
		if vr+mask < g.size {
			dst := (g.rank + mask) % g.size
			if err := g.send(dst, &Vector{Tag: TagBcast, Data: buf}); err != nil {
				return err
			}
		}
	}
	return nil
}

// BcastScalar returns root's v on every rank.
func (g *Group) BcastScalar(root int, v float64) (float64, error) {
	buf := []float64{v}
	err := g.Bcast(root, buf)
	return buf[0], err
}

// Sendrecv sends send to peer and overwrites recv with what peer sends back.
// Both directions proceed concurrently, so two ranks exchanging with each
// other never wait on one another to send first.
func (g *Group) Sendrecv(peer int, send, recv []float64) error {
	if g.aborted != nil {
		return g.aborted
	}
	defer recordCollective("sendrecv", time.Now())
	if peer == g.rank {
		copy(recv, send)
		return nil
	}
	var t tomb.Tomb
	t.Go(func() error {
		return g.t.Send(peer, &Vector{Tag: TagExchange, Data: send})
	})
	t.Go(func() error {
		msg, err := g.t.Recv(peer)
		if err != nil {
			return err
		}
		v, ok := msg.(*Vector)
		if !ok || v.Tag != TagExchange || len(v.Data) != len(recv) {
			return errors.Wrapf(ErrDesync, "rank %d: expected exchange vector of %d from rank %d, got %v",
				g.rank, len(recv), peer, msg)
		}
		copy(recv, v.Data)
		return nil
	})
	err := t.Wait()
	if err != nil {
		return g.fail(errors.Wrapf(err, "rank %d: exchange with rank %d", g.rank, peer))
	}
	recordSend(g.rank, &Vector{Tag: TagExchange, Data: send})
	return nil
}

// ReduceMax computes the element-wise maximum of vals over all ranks. The
// result is returned on root only; other ranks receive nil.
func (g *Group) ReduceMax(root int, vals []float64) ([]float64, error) {
	if g.aborted != nil {
		return nil, g.aborted
	}
	defer recordCollective("reduce_max", time.Now())
	if g.rank != root {
		return nil, g.send(root, &Vector{Tag: TagReduce, Data: vals})
	}
	result := make([]float64, len(vals))
	copy(result, vals)
	buf := make([]float64, len(vals))
	for src := 0; src < g.size; src++ {
		if src == root {
			continue
		}
		if err := g.recvVector(src, TagReduce, buf); err != nil {
			return nil, err
		}
		for i, v := range buf {
			if v > result[i] {
				result[i] = v
			}
		}
	}
	return result, nil
}

// Barrier returns once every rank has entered it.
func (g *Group) Barrier() error {
	if g.aborted != nil {
		return g.aborted
	}
	defer recordCollective("barrier", time.Now())
	if g.rank != 0 {
		if err := g.send(0, &Barrier{}); err != nil {
			return err
		}
		_, err := g.recv(0, MsgTypeBarrier)
		return err
	}
	for src := 1; src < g.size; src++ {
		if _, err := g.recv(src, MsgTypeBarrier); err != nil {
			return err
		}
	}
	for dst := 1; dst < g.size; dst++ {
		if err := g.send(dst, &Barrier{}); err != nil {
			return err
		}
	}
	return nil
}

// Abort terminates the whole group: every other rank is told to stop with
// the given exit code, and every later operation on g fails with the
// returned *AbortError. Abort is not a local error return; callers must stop
// issuing collective calls and exit with the code.
func (g *Group) Abort(code int, cause error) error {
	if g.aborted != nil {
		return g.aborted
	}
	ae := &AbortError{Rank: g.rank, Code: code, Err: cause}
	msg := &Abort{Code: code, Reason: cause.Error()}
	for dst := 0; dst < g.size; dst++ {
		if dst == g.rank {
			continue
		}
		if err := g.t.Send(dst, msg); err != nil {
			g.log("abort").WithField("peer", dst).Warningf("cannot notify rank of abort: %v", err)
		}
	}
	g.aborted = ae
	recordAbort(code)
	g.log("abort").WithField("code", code).Errorf("aborting process group: %v", cause)
	return ae
}
