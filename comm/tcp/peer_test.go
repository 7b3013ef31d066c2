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

package tcp

import (
	"net"
	"sync"
	"testing"

	"github.com/pkg/errors"
	gc "gopkg.in/check.v1"

	"minihpl/comm"
)

func Test(t *testing.T) { gc.TestingT(t) }

type PeerSuite struct{}

var _ = gc.Suite(&PeerSuite{})

func freeAddrs(c *gc.C, n int) []string {
	var addrs []string
	for i := 0; i < n; i++ {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		c.Assert(err, gc.IsNil)
		addrs = append(addrs, ln.Addr().String())
		ln.Close()
	}
	return addrs
}

func testSettings(c *gc.C, n int) *Settings {
	settings := DefaultSettings()
	settings.Addrs = freeAddrs(c, n)
	settings.DialTimeoutSecs = 10
	settings.HandshakeTimeoutSecs = 10
	c.Assert(settings.Resolve(), gc.IsNil)
	return settings
}

func dialAll(settings *Settings, hellos []*comm.Hello) ([]*Peer, []error) {
	peers := make([]*Peer, len(hellos))
	errs := make([]error, len(hellos))
	var wg sync.WaitGroup
	for i := range hellos {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			peers[i], errs[i] = Dial(settings, hellos[i])
		}(i)
	}
	wg.Wait()
	return peers, errs
}

func hellos(size, n, nb int) []*comm.Hello {
	var result []*comm.Hello
	for rank := 0; rank < size; rank++ {
		result = append(result, &comm.Hello{Version: DefaultVersion, Rank: rank, Size: size, N: n, NB: nb})
	}
	return result
}

func (s *PeerSuite) TestMeshCollectives(c *gc.C) {
	settings := testSettings(c, 3)
	peers, errs := dialAll(settings, hellos(3, 48, 8))
	for rank, err := range errs {
		c.Assert(err, gc.IsNil, gc.Commentf("rank %d", rank))
	}

	results := make([]comm.Candidate, 3)
	bufs := make([][]float64, 3)
	errs = make([]error, 3)
	var wg sync.WaitGroup
	for i, p := range peers {
		wg.Add(1)
		go func(i int, g *comm.Group) {
			defer wg.Done()
			var err error
			results[i], err = g.AllreduceMaxLoc(comm.Candidate{Value: float64(i), Index: i})
			if err != nil {
				errs[i] = err
				return
			}
			bufs[i] = make([]float64, 48)
			if i == 1 {
				for j := range bufs[i] {
					bufs[i][j] = float64(j) / 3
				}
			}
			if err = g.Bcast(1, bufs[i]); err != nil {
				errs[i] = err
				return
			}
			recv := make([]float64, 2)
			if i < 2 {
				err = g.Sendrecv(1-i, []float64{float64(i), 1}, recv)
				c.Check(recv, gc.DeepEquals, []float64{float64(1 - i), 1})
			}
			if err == nil {
				err = g.Barrier()
			}
			errs[i] = err
		}(i, comm.NewGroup(p))
	}
	wg.Wait()
	for i := range peers {
		c.Assert(errs[i], gc.IsNil, gc.Commentf("rank %d", i))
		c.Assert(results[i], gc.Equals, comm.Candidate{Value: 2, Index: 2})
		c.Assert(bufs[i], gc.DeepEquals, bufs[1])
	}
	for _, p := range peers {
		c.Assert(p.Close(), gc.IsNil)
	}
}

func (s *PeerSuite) TestAbortAcrossMesh(c *gc.C) {
	settings := testSettings(c, 3)
	peers, errs := dialAll(settings, hellos(3, 48, 8))
	for rank, err := range errs {
		c.Assert(err, gc.IsNil, gc.Commentf("rank %d", rank))
	}
	defer func() {
		for _, p := range peers {
			p.Close()
		}
	}()

	errs = make([]error, 3)
	var wg sync.WaitGroup
	for i, p := range peers {
		wg.Add(1)
		go func(i int, g *comm.Group) {
			defer wg.Done()
			if i == 0 {
				errs[i] = g.Abort(comm.ExitSingular, errors.New("zero pivot at step 5"))
				return
			}
			errs[i] = g.Bcast(0, make([]float64, 4))
		}(i, comm.NewGroup(p))
	}
	wg.Wait()
	for i, err := range errs {
		var ae *comm.AbortError
		c.Assert(errors.As(err, &ae), gc.Equals, true, gc.Commentf("rank %d: %v", i, err))
		c.Assert(ae.Code, gc.Equals, comm.ExitSingular)
		c.Assert(ae.Rank, gc.Equals, 0)
	}
}

func (s *PeerSuite) TestMismatchedProblem(c *gc.C) {
	settings := testSettings(c, 2)
	hs := hellos(2, 48, 8)
	hs[1].N = 64
	_, errs := dialAll(settings, hs)
	for rank, err := range errs {
		c.Assert(err, gc.NotNil, gc.Commentf("rank %d", rank))
		c.Assert(errors.Is(err, ErrIncompatiblePeer), gc.Equals, true, gc.Commentf("rank %d: %v", rank, err))
	}
}

func (s *PeerSuite) TestSingleRank(c *gc.C) {
	settings := testSettings(c, 1)
	p, err := Dial(settings, hellos(1, 8, 8)[0])
	c.Assert(err, gc.IsNil)
	c.Assert(p.Size(), gc.Equals, 1)
	c.Assert(p.Close(), gc.IsNil)
}

func (s *PeerSuite) TestSettings(c *gc.C) {
	settings := DefaultSettings()
	settings.Addrs = []string{"127.0.0.1:7000", "127.0.0.1:7000"}
	c.Assert(settings.Resolve(), gc.ErrorMatches, ".*share address.*")

	settings.Addrs = []string{"127.0.0.1:7000", "127.0.0.1:7001"}
	c.Assert(settings.Resolve(), gc.IsNil)
	c.Assert(settings.Size(), gc.Equals, 2)
	_, err := settings.Addr(2)
	c.Assert(err, gc.NotNil)

	settings.Net = "carrier-pigeon"
	c.Assert(settings.Resolve(), gc.NotNil)
}
