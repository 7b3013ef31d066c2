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

// Package tcp provides a comm.Transport over a fully connected mesh of
// stream connections, one per pair of ranks.
package tcp

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/tomb.v2"

	"minihpl/comm"
)

const keepAlivePeriod = 30 * time.Second

const (
	DIAL   = "dial"
	ACCEPT = "accept"
	READ   = "read"
	SEND   = "send"
)

var ErrRemoteRejectedHello = errors.New("remote rejected hello")

// ErrIncompatiblePeer is returned when a peer was configured for a different
// group or problem.
var ErrIncompatiblePeer = errors.New("incompatible peer")

const dialRetryInterval = 250 * time.Millisecond

// Peer is one rank's end of the connection mesh. It implements
// comm.Transport.
type Peer struct {
	settings *Settings
	hello    *comm.Hello
	inbox    *comm.Inbox

	conns []net.Conn
	wmu   []sync.Mutex

	muDie sync.Mutex
	t     tomb.Tomb
}

var _ comm.Transport = (*Peer)(nil)

func (p *Peer) log(label string) *log.Entry {
	return log.WithFields(log.Fields{"label": label, "rank": p.hello.Rank})
}

func (p *Peer) logConn(label string, conn net.Conn) *log.Entry {
	return p.log(label).WithField("remoteAddr", conn.RemoteAddr())
}

func (p *Peer) logConnFields(label string, conn net.Conn, fields log.Fields) *log.Entry {
	return p.logConn(label, conn).WithFields(fields)
}

func (p *Peer) logConnErr(label string, conn net.Conn, err error) *log.Entry {
	return p.logConnFields(label, conn, log.Fields{"error": fmt.Sprintf("%+v", err)})
}

// Dial joins the process group described by settings as hello.Rank. It
// listens on the rank's own address, accepts connections from every higher
// rank and dials every lower rank. Dial returns once a connection to every
// other rank has completed the handshake.
func Dial(settings *Settings, hello *comm.Hello) (*Peer, error) {
	size := settings.Size()
	if hello.Size != size {
		return nil, errors.Errorf("hello size %d does not match %d configured addresses", hello.Size, size)
	}
	if hello.Rank < 0 || hello.Rank >= size {
		return nil, errors.Errorf("rank %d outside group of %d", hello.Rank, size)
	}
	p := &Peer{
		settings: settings,
		hello:    hello,
		inbox:    comm.NewInbox(size),
		conns:    make([]net.Conn, size),
		wmu:      make([]sync.Mutex, size),
	}

	ln, err := net.Listen(settings.Net.String(), settings.Addrs[hello.Rank])
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer ln.Close()
	p.log(ACCEPT).Infof("listening on %v", ln.Addr())

	deadline := time.Now().Add(time.Duration(settings.DialTimeoutSecs) * time.Second)
	if dl, ok := ln.(interface{ SetDeadline(time.Time) error }); ok {
		dl.SetDeadline(deadline)
	}

	var t tomb.Tomb
	var mu sync.Mutex
	register := func(rank int, conn net.Conn) error {
		mu.Lock()
		defer mu.Unlock()
		if p.conns[rank] != nil {
			return errors.Wrapf(ErrIncompatiblePeer, "duplicate connection from rank %d", rank)
		}
		if tc, ok := conn.(*net.TCPConn); ok {
			tc.SetKeepAlive(true)
			tc.SetKeepAlivePeriod(keepAlivePeriod)
		}
		p.conns[rank] = conn
		return nil
	}
	t.Go(func() error {
		for pending := size - hello.Rank - 1; pending > 0; pending-- {
			conn, err := ln.Accept()
			if err != nil {
				return errors.Wrapf(err, "waiting for %d higher ranks", pending)
			}
			remote, err := p.handshake(conn, ACCEPT, -1)
			if err == nil {
				err = register(remote.Rank, conn)
			}
			if err != nil {
				conn.Close()
				return errors.WithStack(err)
			}
			p.logConn(ACCEPT, conn).WithField("peer", remote.Rank).Info("connected")
		}
		return nil
	})
	t.Go(func() error {
		for rank := 0; rank < hello.Rank; rank++ {
			conn, err := p.dial(rank, deadline, t.Dying())
			if err != nil {
				// Unblock the accept loop.
				ln.Close()
				return errors.WithStack(err)
			}
			_, err = p.handshake(conn, DIAL, rank)
			if err == nil {
				err = register(rank, conn)
			}
			if err != nil {
				conn.Close()
				return errors.WithStack(err)
			}
			p.logConn(DIAL, conn).WithField("peer", rank).Info("connected")
		}
		return nil
	})
	err = t.Wait()
	if err != nil {
		p.closeConns()
		return nil, errors.WithStack(err)
	}

	p.t.Go(func() error {
		<-p.t.Dying()
		p.closeConns()
		return nil
	})
	for rank, conn := range p.conns {
		if conn == nil {
			continue
		}
		rank, conn := rank, conn
		p.t.Go(func() error {
			return p.readLoop(rank, conn)
		})
	}
	return p, nil
}

func (p *Peer) dial(rank int, deadline time.Time, dying <-chan struct{}) (net.Conn, error) {
	addr := p.settings.Addrs[rank]
	for {
		conn, err := net.DialTimeout(p.settings.Net.String(), addr, time.Until(deadline))
		if err == nil {
			return conn, nil
		}
		if time.Now().Add(dialRetryInterval).After(deadline) {
			return nil, errors.Wrapf(err, "cannot reach rank %d at %q", rank, addr)
		}
		p.log(DIAL).WithField("peer", rank).Debugf("retrying: %v", err)
		select {
		case <-dying:
			return nil, errors.Wrapf(err, "gave up on rank %d", rank)
		case <-time.After(dialRetryInterval):
		}
	}
}

func (p *Peer) remoteHello(conn net.Conn, role string) (*comm.Hello, error) {
	var remote *comm.Hello
	w := bufio.NewWriter(conn)

	var t tomb.Tomb
	t.Go(func() error {
		p.logConnFields(role, conn, log.Fields{"hello": p.hello}).Debug("writing hello")
		err := comm.WriteMsgDirect(w, p.hello)
		if err != nil {
			return errors.WithStack(err)
		}
		return errors.WithStack(w.Flush())
	})
	t.Go(func() error {
		msg, err := comm.ReadMsg(conn)
		if err != nil {
			return errors.WithStack(err)
		}
		h, ok := msg.(*comm.Hello)
		if !ok {
			return errors.Errorf("expected remote hello, got %+v", msg)
		}
		remote = h
		return nil
	})
	err := t.Wait()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return remote, nil
}

func (p *Peer) ackHello(conn net.Conn) error {
	w := bufio.NewWriter(conn)

	var t tomb.Tomb
	t.Go(func() error {
		err := comm.WriteString(w, comm.RemoteConfigPassed)
		if err != nil {
			return errors.WithStack(err)
		}
		return errors.WithStack(w.Flush())
	})
	t.Go(func() error {
		status, err := comm.ReadString(conn)
		if err != nil {
			return errors.WithStack(err)
		}
		if status != comm.RemoteConfigPassed {
			reason, err := comm.ReadString(conn)
			if err != nil {
				return errors.Wrapf(ErrRemoteRejectedHello, "remote rejected hello: %v", err)
			}
			return errors.Wrap(ErrRemoteRejectedHello, reason)
		}
		return nil
	})
	return t.Wait()
}

// checkHello returns a non-empty reason if remote cannot join this group.
// expect is the rank a dialed peer must have, or -1 for an accepted one.
func (p *Peer) checkHello(remote *comm.Hello, expect int) string {
	local := p.hello
	switch {
	case remote.Version != local.Version:
		return fmt.Sprintf("mismatched version %q, expected %q", remote.Version, local.Version)
	case remote.Size != local.Size:
		return fmt.Sprintf("mismatched group size %d, expected %d", remote.Size, local.Size)
	case remote.N != local.N:
		return fmt.Sprintf("mismatched problem size %d, expected %d", remote.N, local.N)
	case remote.NB != local.NB:
		return fmt.Sprintf("mismatched block size %d, expected %d", remote.NB, local.NB)
	case expect >= 0 && remote.Rank != expect:
		return fmt.Sprintf("unexpected rank %d, expected %d", remote.Rank, expect)
	case expect < 0 && (remote.Rank <= local.Rank || remote.Rank >= local.Size):
		return fmt.Sprintf("unexpected rank %d, expected one above %d", remote.Rank, local.Rank)
	}
	return ""
}

func (p *Peer) handshake(conn net.Conn, role string, expect int) (*comm.Hello, error) {
	timeout := time.Duration(p.settings.HandshakeTimeoutSecs) * time.Second
	err := conn.SetDeadline(time.Now().Add(timeout))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer conn.SetDeadline(time.Time{})

	remote, err := p.remoteHello(conn, role)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	p.logConnFields(role, conn, log.Fields{"remoteHello": remote}).Debug()

	if failResp := p.checkHello(remote, expect); failResp != "" {
		p.logConnFields(role, conn, log.Fields{"remoteHello": remote}).Error(failResp)
		w := bufio.NewWriter(conn)
		err = comm.WriteString(w, comm.RemoteConfigFailed)
		if err == nil {
			err = comm.WriteString(w, failResp)
		}
		if err == nil {
			err = w.Flush()
		}
		if err != nil {
			p.logConnErr(role, conn, err).Warning("cannot send rejection")
		}
		return nil, errors.Wrapf(ErrIncompatiblePeer, "cannot join group: %v", failResp)
	}

	err = p.ackHello(conn)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return remote, nil
}

func (p *Peer) isDying() bool {
	select {
	case <-p.t.Dying():
		return true
	default:
		return false
	}
}

func (p *Peer) readLoop(src int, conn net.Conn) error {
	r := bufio.NewReader(conn)
	for {
		msg, err := comm.ReadMsg(r)
		if err != nil {
			if p.isDying() {
				return nil
			}
			p.logConnErr(READ, conn, err).WithField("peer", src).Debug("connection lost")
			p.inbox.Fail(src, errors.Wrapf(err, "connection to rank %d", src))
			return nil
		}
		p.inbox.Deliver(src, msg)
	}
}

func (p *Peer) closeConns() {
	for _, conn := range p.conns {
		if conn != nil {
			conn.Close()
		}
	}
}

// Rank implements comm.Transport.
func (p *Peer) Rank() int { return p.hello.Rank }

// Size implements comm.Transport.
func (p *Peer) Size() int { return p.hello.Size }

// Send writes msg to rank dst. Writes to a single peer are serialized; the
// peer's reader drains the connection continuously, so Send does not wait on
// the remote rank posting a receive.
func (p *Peer) Send(dst int, msg comm.Msg) error {
	if dst == p.hello.Rank || dst < 0 || dst >= len(p.conns) {
		return errors.Errorf("rank %d cannot send to rank %d", p.hello.Rank, dst)
	}
	if p.isDying() {
		return errors.WithStack(comm.ErrClosed)
	}
	p.wmu[dst].Lock()
	defer p.wmu[dst].Unlock()
	err := comm.WriteMsg(p.conns[dst], msg)
	if err != nil {
		p.logConnErr(SEND, p.conns[dst], err).WithField("peer", dst).Debug()
		return errors.Wrapf(err, "send to rank %d", dst)
	}
	return nil
}

// Recv implements comm.Transport.
func (p *Peer) Recv(src int) (comm.Msg, error) {
	return p.inbox.Next(src)
}

// Close shuts down every connection in the mesh.
func (p *Peer) Close() error {
	// This lock prevents goroutines from panicking the tomb after the kill.
	p.muDie.Lock()
	p.t.Kill(nil)
	p.muDie.Unlock()
	p.inbox.Close()
	return p.t.Wait()
}
