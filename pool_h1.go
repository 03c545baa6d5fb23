// Copyright 2023-2025 The Httpconn Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package httpconn

import "github.com/relaylabs/httpconn/transport"

// h1Pool pools HTTP/1.x connections. active holds every connection this
// pool has ever bound and not yet discarded, in bind order. Without
// pipelining, a connection is only reachable via poll while it's also
// in free (handed out exclusively, the way a single in-flight request
// per connection requires); with pipelining, poll instead scans active
// directly for any connection with spare outstanding-request headroom,
// so a connection stays pollable by concurrent waiters for as long as
// it has capacity, mirroring how h2Pool.poll treats its conns.
type h1Pool struct {
	ver             Version
	maxSize         int
	pipelining      bool
	pipeliningLimit int64

	active []*connection
	free   []*connection // unused when pipelining is enabled
}

func newH1Pool(ver Version, maxSize int, pipelining bool, pipeliningLimit int64) *h1Pool {
	return &h1Pool{
		ver:             ver,
		maxSize:         maxSize,
		pipelining:      pipelining,
		pipeliningLimit: pipeliningLimit,
	}
}

func (p *h1Pool) version() Version { return p.ver }

func (p *h1Pool) mayCreate(connCount int) bool {
	return connCount < p.maxSize
}

// poll returns a connection to hand a waiter. With pipelining enabled it
// defers to pollPipelined, which never removes the connection from the
// pool. Otherwise it pops the free list: plain keep-alive pops the
// most-recently-recycled connection (LIFO, to keep a "warm" subset of
// the pool busy and let the rest go idle/close).
func (p *h1Pool) poll() *connection {
	if p.pipelining {
		return p.pollPipelined()
	}
	for len(p.free) > 0 {
		last := len(p.free) - 1
		c := p.free[last]
		p.free = p.free[:last]
		if c.Valid() {
			return c
		}
		// Stale free-list entries aren't expected (recycle checks
		// validity), but skip defensively rather than hand out a dead
		// connection.
		p.removeActive(c)
	}
	return nil
}

// pollPipelined returns the first active connection with spare
// outstanding-request capacity, without removing it: createStream does
// the real admission check, and the connection remains available to the
// next concurrent poll as long as it has headroom.
func (p *h1Pool) pollPipelined() *connection {
	for _, c := range p.active {
		if !c.Valid() || c.h1 == nil {
			continue
		}
		limit := c.h1.limit
		if limit < 1 {
			limit = 1
		}
		if c.h1.outstanding.Load() < limit {
			return c
		}
	}
	return nil
}

func (p *h1Pool) recycle(c *connection) {
	if c.h1 != nil {
		c.h1.outstanding.Add(-1)
	}
	if p.pipelining {
		// Already reachable via pollPipelined whenever it has headroom;
		// no free-list bookkeeping needed.
		return
	}
	if !c.Valid() {
		p.removeActive(c)
		return
	}
	p.free = append(p.free, c)
}

func (p *h1Pool) discard(c *connection) {
	p.removeActive(c)
	for i, f := range p.free {
		if f == c {
			p.free = append(p.free[:i], p.free[i+1:]...)
			break
		}
	}
}

func (p *h1Pool) removeActive(c *connection) {
	for i, e := range p.active {
		if e == c {
			p.active = append(p.active[:i], p.active[i+1:]...)
			return
		}
	}
}

func (p *h1Pool) createStream(c *connection) (Stream, error) {
	state := c.h1
	if state == nil {
		return nil, ErrStreamUnavailable
	}
	limit := state.limit
	if limit < 1 {
		limit = 1
	}
	for {
		cur := state.outstanding.Load()
		if cur >= limit {
			return nil, ErrStreamUnavailable
		}
		if state.outstanding.CompareAndSwap(cur, cur+1) {
			break
		}
	}
	return &streamHandle{conn: c}, nil
}

func (p *h1Pool) bind(ch transport.Channel, exec Executor) *connection {
	limit := int64(1)
	if p.pipelining {
		limit = p.pipeliningLimit
		if limit < 1 {
			limit = 1
		}
	}
	c := newConnection(p.ver, ch, exec)
	c.h1 = &h1ConnState{limit: limit}
	p.active = append(p.active, c)
	return c
}

func (p *h1Pool) closeAll() {
	for _, c := range p.active {
		c.closeSilently()
	}
	p.active = nil
	p.free = nil
}
