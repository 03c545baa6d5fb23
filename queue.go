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
	"context"
	"sync"

	"github.com/relaylabs/httpconn/transport"
)

// connectRequest carries everything a connector needs to drive one
// connection attempt and report the outcome back to the OriginQueue that
// requested it.
type connectRequest struct {
	queue   *OriginQueue
	exec    Executor
	waiter  *Waiter
	ctx     context.Context
	version Version
}

// connector drives a single connection attempt: dialing, TLS/ALPN or
// cleartext upgrade negotiation, and reporting the result back into the
// owning queue via its onHandshake*/onNegotiated*/onBoundDirect methods.
// It is implemented by *Connector; the indirection exists so queue_test.go
// can substitute a fake.
type connector interface {
	connect(req connectRequest)
}

// OriginQueue holds all per-origin state: the active pool, the count of
// connections live or mid-creation, and the FIFO of waiters that could
// not be served immediately. Every public method takes mu, making the
// queue a short, serialized critical section; see SPEC_FULL.md §5.
type OriginQueue struct {
	key OriginKey

	tlsHelper transport.TLSHelper
	cfg       *Config
	conn      connector
	metrics   transport.Metrics
	onRemove  func()
	logOpts   transport.PipelineOptions

	mu sync.Mutex

	pool         pool      // +checklocks:mu
	connCount    int       // +checklocks:mu
	waiters      []*Waiter // +checklocks:mu
	fallbackDone bool      // +checklocks:mu
	endpoint     any       // +checklocks:mu
}

func newOriginQueue(key OriginKey, cfg *Config, initial pool, tlsHelper transport.TLSHelper, conn connector, metrics transport.Metrics, onRemove func()) *OriginQueue {
	q := &OriginQueue{
		key:       key,
		tlsHelper: tlsHelper,
		cfg:       cfg,
		conn:      conn,
		metrics:   metrics,
		onRemove:  onRemove,
		pool:      initial,
		logOpts: transport.PipelineOptions{
			LogActivity:    cfg.LogActivity,
			ActivityLogger: cfg.ActivityLogger,
		},
	}
	q.endpoint = metrics.CreateEndpoint(key.PeerHost, key.Port, cfg.MaxPoolSize)
	return q
}

// acquire is the sole entry point for a new waiter. It never blocks: it
// either delivers an idle connection, starts creating one, enqueues the
// waiter, or fails it immediately with a pool-too-busy error.
func (q *OriginQueue) acquire(w *Waiter) {
	q.mu.Lock()
	if c := q.pool.poll(); c != nil {
		q.mu.Unlock()
		q.hopDeliver(c, w)
		return
	}
	if q.pool.mayCreate(q.connCount) {
		q.mu.Unlock()
		q.createConnection(w)
		return
	}
	if q.cfg.MaxWaitQueueSize < 0 || len(q.waiters) < q.cfg.MaxWaitQueueSize {
		w.Metric = q.metrics.EnqueueRequest(q.endpoint)
		q.waiters = append(q.waiters, w)
		q.mu.Unlock()
		return
	}
	q.mu.Unlock()
	w.handleFailure(newError(KindAdmission, ErrPoolTooBusy))
}

// hopDeliver dispatches deliver onto c's owning executor, so delivery
// (and the user callbacks it triggers) never runs inline on the caller
// of acquire/recycle/drainPending.
func (q *OriginQueue) hopDeliver(c *connection, w *Waiter) {
	c.Executor().Execute(func() { q.deliver(c, w) })
}

// deliver runs on the target connection's executor. It re-validates the
// connection and the waiter before doing any real work, since both may
// have changed state between being matched and this callback running.
func (q *OriginQueue) deliver(c *connection, w *Waiter) {
	if !c.Valid() {
		// The pool never learns about this directly; invalidation's own
		// close path will eventually call connectionClosed.
		q.acquire(w)
		return
	}
	if w.IsCancelled() {
		q.recycle(c)
		return
	}
	q.deliverBound(c, w)
	q.drainPending()
}

// deliverBound attempts to create a stream on an already-bound
// connection. A failure here is never terminal for the waiter — it
// means the pool raced the connection into exhaustion (e.g. an H2 peer
// lowered its concurrency limit), so acquisition restarts instead.
func (q *OriginQueue) deliverBound(c *connection, w *Waiter) {
	q.mu.Lock()
	stream, err := q.pool.createStream(c)
	q.mu.Unlock()
	if err != nil {
		q.acquire(w)
		return
	}
	c.touchIdle()
	if pre := c.use(); pre == 0 {
		w.handleConnection(c)
	}
	w.handleStream(stream)
}

// recycle returns a connection to the pool for reuse and then drains
// whatever waiters can now be served.
func (q *OriginQueue) recycle(c *connection) {
	c.touchIdle()
	q.mu.Lock()
	q.pool.recycle(c)
	q.mu.Unlock()
	q.drainPending()
}

// drainPending discards cancelled waiters at the head of the queue,
// then matches live waiters to available connections one at a time,
// stopping as soon as either side runs dry.
func (q *OriginQueue) drainPending() {
	for {
		q.mu.Lock()
		q.discardCancelledLocked()
		if len(q.waiters) == 0 {
			q.mu.Unlock()
			return
		}
		c := q.pool.poll()
		if c == nil {
			q.mu.Unlock()
			return
		}
		w := q.waiters[0]
		q.waiters = q.waiters[1:]
		q.metrics.DequeueRequest(q.endpoint, w.Metric)
		q.mu.Unlock()
		q.hopDeliver(c, w)
	}
}

// discardCancelledLocked drops cancelled waiters from the head of the
// queue, releasing their metric tokens. Callers must hold mu.
func (q *OriginQueue) discardCancelledLocked() {
	for len(q.waiters) > 0 && q.waiters[0].IsCancelled() {
		stale := q.waiters[0]
		q.waiters = q.waiters[1:]
		q.metrics.DequeueRequest(q.endpoint, stale.Metric)
	}
}

// nextLiveWaiterLocked pops waiters until it finds one that has not
// been cancelled, or the queue runs out. Callers must hold mu.
func (q *OriginQueue) nextLiveWaiterLocked() *Waiter {
	for len(q.waiters) > 0 {
		w := q.waiters[0]
		q.waiters = q.waiters[1:]
		q.metrics.DequeueRequest(q.endpoint, w.Metric)
		if !w.IsCancelled() {
			return w
		}
	}
	return nil
}

// connectionClosed accounts for a connection leaving the pool, whether
// by clean close, reset, or failed creation. Exactly one call to this
// method corresponds to each increment of connCount.
func (q *OriginQueue) connectionClosed() {
	q.mu.Lock()
	q.connCount--
	w := q.nextLiveWaiterLocked()
	if w != nil {
		q.mu.Unlock()
		q.createConnection(w)
		return
	}
	empty := q.connCount == 0 && len(q.waiters) == 0
	q.mu.Unlock()
	if empty {
		q.remove()
	}
}

func (q *OriginQueue) remove() {
	if q.onRemove != nil {
		q.onRemove()
	}
}

// createConnection increments connCount, picks an executor to own the
// new connection, validates the TLS helper if this origin uses TLS, and
// hands off to the connector. The critical section is released before
// the connector does any I/O.
func (q *OriginQueue) createConnection(w *Waiter) {
	q.mu.Lock()
	q.connCount++
	version := q.pool.version()
	q.mu.Unlock()

	if q.key.TLS && q.tlsHelper != nil {
		if err := q.tlsHelper.Validate(); err != nil {
			q.connectionClosed()
			w.handleFailure(newError(KindConfiguration, err))
			return
		}
	}

	// A fresh dedicated executor per connection is the Go-idiomatic
	// analogue of "pick the waiter's context if present, else create
	// one": there is no ambient notion of "current event-loop context"
	// to reuse, so every connection gets its own serialized dispatcher.
	exec := newSerialExecutor()

	dialCtx := context.Background()
	if w.Context != nil {
		dialCtx = w.Context
	}

	q.conn.connect(connectRequest{queue: q, exec: exec, waiter: w, ctx: dialCtx, version: version})
}

// completeConnection installs the reuse/discard lifecycle callback on a
// freshly bound connection and delivers it to the waiter that triggered
// its creation.
func (q *OriginQueue) completeConnection(c *connection, w *Waiter) {
	c.startIdleTimeout(q.cfg.Clock, q.cfg.IdleTimeout)
	q.logOpts.LogTransition(c.Channel().ID(), "", "bound")
	c.setLifecycle(func(reuse bool) {
		if reuse {
			q.logOpts.LogTransition(c.Channel().ID(), "active", "idle")
			q.recycle(c)
			return
		}
		q.logOpts.LogTransition(c.Channel().ID(), "active", "closed")
		q.mu.Lock()
		q.pool.discard(c)
		q.mu.Unlock()
		// Every increment of connCount (in createConnection) is paired
		// with exactly one connectionClosed call; a discarded connection
		// is how that pairing completes for one that was never recycled.
		q.connectionClosed()
	})
	q.deliver(c, w)
}

// failConnection releases the conn_count slot reserved by createConnection
// and fails the waiter that was waiting on this attempt.
func (q *OriginQueue) failConnection(w *Waiter, kind Kind, cause error) {
	q.connectionClosed()
	w.handleFailure(newError(kind, cause))
}

// fallbackToH1Locked replaces the active pool with an H1 pool, unless a
// fallback has already happened on this queue. Pool replacement happens
// at most once per origin; the first negotiation outcome fixes the
// pool type, and later calls (e.g. a second waiter racing the same
// negotiation result) are no-ops.
func (q *OriginQueue) fallbackToH1Locked(ver Version) {
	if q.fallbackDone {
		return
	}
	q.fallbackDone = true
	q.pool = newH1Pool(ver, q.cfg.MaxPoolSize, q.cfg.Pipelining, q.cfg.PipeliningLimit)
}

// onHandshakeSuccessTLS is called by the connector after a TLS
// handshake completes. If ALPN chose h2 the channel binds to the
// existing (H2) pool; any other outcome triggers fallback to H1.
func (q *OriginQueue) onHandshakeSuccessTLS(ch transport.Channel, negotiated string, exec Executor, w *Waiter) {
	q.mu.Lock()
	if negotiated != "h2" {
		ver := VersionHTTP11
		if negotiated == "http/1.0" {
			ver = VersionHTTP10
		}
		q.fallbackToH1Locked(ver)
	}
	c := q.pool.bind(ch, exec)
	q.mu.Unlock()
	q.completeConnection(c, w)
}

// onHandshakeFailure is called by the connector when the TLS handshake
// itself fails. The channel is closed and the waiter fails with a
// security error; the conn_count slot is released.
func (q *OriginQueue) onHandshakeFailure(ch transport.Channel, cause error, w *Waiter) {
	_ = ch.Close()
	q.failConnection(w, KindSecurity, cause)
}

// onCleartextUpgradeRefused is called when the origin answered a
// cleartext H2 upgrade request with an ordinary HTTP/1.1 response
// instead of 101. This is not an error: the same channel is reused as
// an H1 connection.
func (q *OriginQueue) onCleartextUpgradeRefused(ch transport.Channel, exec Executor, w *Waiter) {
	q.mu.Lock()
	q.fallbackToH1Locked(VersionHTTP11)
	c := q.pool.bind(ch, exec)
	q.mu.Unlock()
	q.completeConnection(c, w)
}

// onNegotiatedH2 is called when a cleartext upgrade request received a
// 101 Switching Protocols response: the channel becomes an H2
// connection without ever needing TLS.
func (q *OriginQueue) onNegotiatedH2(ch transport.Channel, exec Executor, w *Waiter) {
	q.mu.Lock()
	c := q.pool.bind(ch, exec)
	q.mu.Unlock()
	q.completeConnection(c, w)
}

// onBoundDirect is called for paths with no negotiation step at all:
// plaintext H2 without the upgrade dance, and plain HTTP/1.x.
func (q *OriginQueue) onBoundDirect(ch transport.Channel, exec Executor, w *Waiter) {
	q.mu.Lock()
	c := q.pool.bind(ch, exec)
	q.mu.Unlock()
	q.completeConnection(c, w)
}

// close tears down the queue: every connection in the pool is closed
// and every still-pending waiter fails with a lifecycle error. Called
// by the ConnectionManager at shutdown.
func (q *OriginQueue) close() {
	q.mu.Lock()
	waiters := q.waiters
	q.waiters = nil
	q.pool.closeAll()
	q.metrics.CloseEndpoint(q.key.PeerHost, q.key.Port, q.endpoint)
	q.mu.Unlock()
	for _, w := range waiters {
		w.handleFailure(newError(KindLifecycle, ErrManagerClosed))
	}
}
