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

import (
	"sync/atomic"
	"time"

	"github.com/relaylabs/httpconn/internal/clock"
	"github.com/relaylabs/httpconn/transport"
)

// Connection is the public view of a live channel handed to a Waiter. It
// is a thin, read-mostly façade over the pool-owned *connection.
type Connection interface {
	// Version is the protocol version fixed at creation time.
	Version() Version
	// Valid reports whether the connection is still usable. Once false,
	// it stays false (the transition is monotonic).
	Valid() bool
	// UseCount is the number of streams created over this connection's
	// lifetime so far.
	UseCount() int64
}

// Stream is a logical request/response exchange over a Connection. For
// HTTP/1.x it is the connection's sole (or, with pipelining, next)
// in-flight exchange; for HTTP/2 it is one of potentially many
// concurrent exchanges multiplexed over the same connection.
type Stream interface {
	Connection() Connection
	// Release reports that this exchange has finished, returning its
	// slot to the pool. The caller — whatever above this package parses
	// the response and knows how the exchange ended — decides reuse:
	// true if the connection is still in a reusable state (e.g. no
	// Connection: close, no framing error), false otherwise. For H1 this
	// decides the whole connection's fate, since a connection has at
	// most one (or, with pipelining, a bounded few) exchange at a time.
	// For H2, a single stream's outcome never indicts the rest of the
	// multiplexed connection; only a connection-wide event (GOAWAY,
	// reset, idle timeout) does that, through a separate path.
	Release(reuse bool)
}

// connection is the pool-owned representation of a live channel. Exactly
// one of h1 or h2 is non-nil, selected by version.
type connection struct {
	version  Version
	channel  transport.Channel
	executor Executor

	valid    atomic.Bool
	useCount atomic.Int64

	// lifecycle is installed by the owning OriginQueue once the
	// connection is bound; it is invoked (off the connection's executor
	// is not guaranteed) with reuse=true when a stream ends cleanly and
	// the connection should go back in the pool, or reuse=false when it
	// should be discarded.
	lifecycle atomic.Pointer[func(reuse bool)]

	h1 *h1ConnState
	h2 *h2ConnState

	idle *transport.IdleSupervisor
}

func newConnection(version Version, ch transport.Channel, exec Executor) *connection {
	c := &connection{version: version, channel: ch, executor: exec}
	c.valid.Store(true)
	return c
}

func (c *connection) Version() Version           { return c.version }
func (c *connection) Valid() bool                { return c.valid.Load() }
func (c *connection) UseCount() int64            { return c.useCount.Load() }
func (c *connection) Executor() Executor         { return c.executor }
func (c *connection) Channel() transport.Channel { return c.channel }

// invalidate marks the connection unusable and fires its close path
// exactly once. It is monotonic: once invalid, later calls are no-ops.
// This is the "asynchronous close path" spec.md §4.2 refers to: a
// connection going invalid (idle timeout, reset, GOAWAY) always
// notifies its lifecycle callback with reuse=false, which is how the
// owning OriginQueue eventually reconciles conn_count for a connection
// that was never explicitly recycled or discarded by deliver.
func (c *connection) invalidate() {
	if c.valid.CompareAndSwap(true, false) {
		if c.idle != nil {
			c.idle.Stop()
		}
		c.closeExecutor()
		c.notifyLifecycle(false)
	}
}

// closeExecutor tears down c's owning executor in its own goroutine,
// once the connection has gone invalid, so that goroutine doesn't block
// forever on an empty task queue. It can't close synchronously here:
// OriginQueue.close tears down every connection in a pool while holding
// its own mutex, and draining the executor inline could run a queued
// callback that re-enters that same mutex.
func (c *connection) closeExecutor() {
	if ce, ok := c.executor.(interface{ close() }); ok {
		go ce.close()
	}
}

// startIdleTimeout arms an idle supervisor for this connection, if
// timeout is positive. The supervisor invalidates the connection (which
// fires the lifecycle callback with reuse=false, just like a peer reset)
// when it expires without an intervening touchIdle call.
func (c *connection) startIdleTimeout(src clock.Source, timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	c.idle = transport.NewIdleSupervisor(src, timeout, c.invalidate)
	c.idle.Start()
}

// touchIdle resets this connection's idle countdown, if it has one. Call
// it whenever the connection sees activity (a stream is created, or
// handed back to the pool).
func (c *connection) touchIdle() {
	if c.idle != nil {
		c.idle.Touch()
	}
}

// setLifecycle installs the reuse/discard callback. It may only be
// called once, by the OriginQueue that owns this connection.
func (c *connection) setLifecycle(fn func(reuse bool)) {
	c.lifecycle.Store(&fn)
}

// notifyLifecycle invokes the installed lifecycle callback, if any. It is
// called by streamFinished when a stream is released, and by invalidate
// when the connection goes invalid.
func (c *connection) notifyLifecycle(reuse bool) {
	if fn := c.lifecycle.Load(); fn != nil {
		(*fn)(reuse)
	}
}

// streamFinished is the connection-level half of Stream.Release. H1
// routes reuse straight through: the connection and the stream share a
// fate. H2 always reports reuse=true up to the lifecycle callback — the
// per-stream slot it frees (pool.recycle, via h2Pool.recycle decrementing
// activeStreams) is independent of whether this one exchange succeeded;
// a bad exchange doesn't get to tear down streams it shares the
// connection with. Discarding the whole H2 connection only ever happens
// through invalidate (idle timeout, GOAWAY, reset).
func (c *connection) streamFinished(reuse bool) {
	if c.h2 != nil {
		c.notifyLifecycle(true)
		return
	}
	c.notifyLifecycle(reuse)
}

// use records that a stream was just created, returning the use count as
// observed immediately before this call (so callers can detect "this is
// the first stream ever created on this connection").
func (c *connection) use() int64 {
	return c.useCount.Add(1) - 1
}

// closeSilently marks the connection invalid and closes its channel
// without firing the lifecycle callback. It exists only for
// OriginQueue.close: tearing down every connection in a pool while the
// queue's own mutex is held would deadlock if the lifecycle callback
// tried to re-enter the queue.
func (c *connection) closeSilently() {
	c.valid.Store(false)
	if c.idle != nil {
		c.idle.Stop()
	}
	c.closeExecutor()
	_ = c.channel.Close()
}

// h1ConnState tracks HTTP/1.x-specific admission state: how many requests
// are currently outstanding on the connection and how many are allowed to
// be outstanding at once (1 without pipelining, pipeliningLimit with it).
type h1ConnState struct {
	outstanding atomic.Int64
	limit       int64
}

// h2ConnState tracks HTTP/2-specific admission state.
type h2ConnState struct {
	activeStreams atomic.Int64
	nextStreamID  atomic.Uint32
	// limit is the peer's advertised SETTINGS concurrent-stream value,
	// or 0 if unknown. h2Pool.effectiveLimit falls back to the locally
	// configured multiplexing limit (already clamped; see Config) when
	// it is 0.
	limit         atomic.Int64
	discardOnIdle atomic.Bool
}

// streamHandle is the concrete Stream implementation.
type streamHandle struct {
	conn *connection
	id   uint32
}

func (s *streamHandle) Connection() Connection { return s.conn }
func (s *streamHandle) Release(reuse bool)     { s.conn.streamFinished(reuse) }
