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

// h2Pool pools HTTP/2 connections. Unlike h1Pool it does not hand out
// exclusive ownership of a connection on poll: several waiters can be
// bound to the same connection concurrently, each taking one stream
// slot, so poll just returns any connection with spare capacity and
// createStream does the real admission check.
type h2Pool struct {
	maxSize         int
	configuredLimit int64 // <1 means unbounded; see SPEC_FULL.md §10 item 2
	h2              transport.H2Binder
	windowSize      int32

	conns []*connection
}

func newH2Pool(maxSize int, configuredLimit int64, binder transport.H2Binder, windowSize int32) *h2Pool {
	return &h2Pool{
		maxSize:         maxSize,
		configuredLimit: configuredLimit,
		h2:              binder,
		windowSize:      windowSize,
	}
}

func (p *h2Pool) version() Version { return VersionHTTP2 }

func (p *h2Pool) mayCreate(connCount int) bool {
	return connCount < p.maxSize
}

// poll returns the first connection that isn't known to be saturated.
// createStream re-checks and enforces the real limit; this is just a
// cheap pre-filter so queue.go doesn't have to special-case H2.
func (p *h2Pool) poll() *connection {
	for _, c := range p.conns {
		if !c.Valid() {
			continue
		}
		state := c.h2
		if state == nil {
			continue
		}
		if state.discardOnIdle.Load() {
			continue
		}
		limit := p.effectiveLimit(state)
		if state.activeStreams.Load() < limit {
			return c
		}
	}
	return nil
}

// effectiveLimit prefers the peer's advertised SETTINGS value (recorded
// into state.limit once known) over the statically configured limit; a
// configured limit below 1 is treated as unbounded.
func (p *h2Pool) effectiveLimit(state *h2ConnState) int64 {
	if peer := state.limit.Load(); peer > 0 {
		return peer
	}
	if p.configuredLimit < 1 {
		return 1<<63 - 1
	}
	return p.configuredLimit
}

// recycle releases one stream's slot back to c. It never removes c from
// conns on its own — an H2 connection is never checked out exclusively
// the way an H1 connection is — except when c was already marked
// discardOnIdle (a GOAWAY or reset arrived while streams were still
// outstanding) and this was the last one, in which case the deferred
// removal from discard finally happens here.
func (p *h2Pool) recycle(c *connection) {
	if c.h2 == nil {
		return
	}
	remaining := c.h2.activeStreams.Add(-1)
	if c.h2.discardOnIdle.Load() && remaining <= 0 {
		p.remove(c)
	}
}

func (p *h2Pool) discard(c *connection) {
	if c.h2 != nil {
		c.h2.discardOnIdle.Store(true)
	}
	if c.h2 == nil || c.h2.activeStreams.Load() == 0 {
		p.remove(c)
	}
}

func (p *h2Pool) remove(c *connection) {
	for i, e := range p.conns {
		if e == c {
			p.conns = append(p.conns[:i], p.conns[i+1:]...)
			return
		}
	}
}

func (p *h2Pool) createStream(c *connection) (Stream, error) {
	state := c.h2
	if state == nil {
		return nil, ErrStreamUnavailable
	}
	limit := p.effectiveLimit(state)
	for {
		cur := state.activeStreams.Load()
		if cur >= limit {
			return nil, ErrStreamUnavailable
		}
		if state.activeStreams.CompareAndSwap(cur, cur+1) {
			break
		}
	}
	id := state.nextStreamID.Add(2)
	return &streamHandle{conn: c, id: id}, nil
}

func (p *h2Pool) bind(ch transport.Channel, exec Executor) *connection {
	c := newConnection(VersionHTTP2, ch, exec)
	c.h2 = &h2ConnState{}
	if p.h2 != nil {
		if session, err := p.h2.Bind(ch, p.windowSize); err == nil {
			if max := session.MaxConcurrentStreams(); max > 0 {
				c.h2.limit.Store(int64(max))
			}
		}
	}
	p.conns = append(p.conns, c)
	return c
}

func (p *h2Pool) closeAll() {
	for _, c := range p.conns {
		c.closeSilently()
	}
	p.conns = nil
}
