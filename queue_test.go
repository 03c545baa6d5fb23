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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaylabs/httpconn/internal/clock/clocktest"
	"github.com/relaylabs/httpconn/internal/httpconntest"
	"github.com/relaylabs/httpconn/transport"
)

// fakeConnector binds every connection attempt directly, bypassing any
// real dial/TLS/upgrade dance, so OriginQueue's own bookkeeping can be
// tested in isolation from Connector.
type fakeConnector struct {
	mu    sync.Mutex
	binds int
}

func (c *fakeConnector) connect(req connectRequest) {
	c.mu.Lock()
	c.binds++
	c.mu.Unlock()
	ch, _ := httpconntest.NewFakeChannelPair()
	req.queue.onBoundDirect(ch, req.exec, req.waiter)
}

func newTestQueue(t *testing.T, maxPoolSize, maxWaitQueue int) (*OriginQueue, *fakeConnector) {
	t.Helper()
	cfg := &Config{MaxPoolSize: maxPoolSize, MaxWaitQueueSize: maxWaitQueue, KeepAlive: true}
	conn := &fakeConnector{}
	initial := newH1Pool(VersionHTTP11, maxPoolSize, false, 0)
	q := newOriginQueue(OriginKey{PeerHost: "example.test", Port: 80}, cfg, initial, nil, conn, transport.NoopMetrics{}, nil)
	return q, conn
}

func TestQueue_Saturation(t *testing.T) {
	t.Parallel()
	q, _ := newTestQueue(t, 2, 1)

	var streams [3]chan Stream
	var fails [3]chan error
	for i := 0; i < 3; i++ {
		streams[i] = make(chan Stream, 1)
		fails[i] = make(chan error, 1)
		w := &Waiter{
			OnStream:  func(s Stream) { streams[i] <- s },
			OnFailure: func(err error) { fails[i] <- err },
		}
		q.acquire(w)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-streams[i]:
		case err := <-fails[i]:
			require.NoError(t, err, "waiter %d", i)
		case <-time.After(time.Second):
			t.Fatalf("waiter %d never served", i)
		}
	}

	q.mu.Lock()
	queued := len(q.waiters)
	q.mu.Unlock()
	require.Equal(t, 1, queued, "third waiter should be enqueued, not served or failed")

	failCh := make(chan error, 1)
	w4 := &Waiter{
		OnFailure: func(err error) { failCh <- err },
		OnStream:  func(Stream) { t.Error("fourth waiter should not be served") },
	}
	q.acquire(w4)
	select {
	case err := <-failCh:
		require.ErrorIs(t, err, ErrPoolTooBusy)
	case <-time.After(time.Second):
		t.Fatal("fourth waiter never failed")
	}
}

func TestQueue_PipeliningServesConcurrentWaitersOnSameConnection(t *testing.T) {
	t.Parallel()
	cfg := &Config{MaxPoolSize: 1, MaxWaitQueueSize: -1, KeepAlive: true, Pipelining: true, PipeliningLimit: 2}
	conn := &fakeConnector{}
	initial := newH1Pool(VersionHTTP11, 1, true, 2)
	q := newOriginQueue(OriginKey{PeerHost: "example.test", Port: 80}, cfg, initial, nil, conn, transport.NoopMetrics{}, nil)

	streamCh := make(chan Stream, 2)
	w1 := &Waiter{OnStream: func(s Stream) { streamCh <- s }}
	q.acquire(w1)
	var first *connection
	select {
	case s := <-streamCh:
		first = s.Connection().(*connection)
	case <-time.After(time.Second):
		t.Fatal("first waiter never served")
	}

	w2 := &Waiter{OnStream: func(s Stream) { streamCh <- s }}
	q.acquire(w2)
	select {
	case s := <-streamCh:
		require.Same(t, first, s.Connection().(*connection),
			"pipelining should multiplex a second waiter onto the same connection while headroom remains")
	case <-time.After(time.Second):
		t.Fatal("second waiter never served")
	}
	require.Equal(t, 1, conn.binds, "pipelining must not dial a second connection while the first still has headroom")
}

func TestQueue_H2StreamReleaseFreesSlotWithoutDiscardingConnection(t *testing.T) {
	t.Parallel()
	binder := &httpconntest.FakeH2Binder{Session: &httpconntest.FakeH2Session{MaxStreams: 1}}
	cfg := &Config{HTTP2MaxPoolSize: 1, MaxWaitQueueSize: -1, KeepAlive: true}
	conn := &fakeConnector{}
	initial := newH2Pool(1, -1, binder, 0)
	q := newOriginQueue(OriginKey{TLS: true, PeerHost: "example.test", Port: 443}, cfg, initial, nil, conn, transport.NoopMetrics{}, nil)

	streamCh := make(chan Stream, 2)
	w1 := &Waiter{OnStream: func(s Stream) { streamCh <- s }}
	q.acquire(w1)
	var first Stream
	select {
	case s := <-streamCh:
		first = s
	case <-time.After(time.Second):
		t.Fatal("first waiter never served")
	}

	w2 := &Waiter{OnStream: func(s Stream) { streamCh <- s }}
	q.acquire(w2)
	q.mu.Lock()
	queued := len(q.waiters)
	q.mu.Unlock()
	require.Equal(t, 1, queued, "the lone H2 connection is at its one-stream limit; the second waiter must queue")

	first.Release(false) // this exchange ended badly, but one stream's fate isn't the connection's

	select {
	case s := <-streamCh:
		require.Same(t, first.Connection(), s.Connection(),
			"releasing a stream must free its slot on the same connection, not force a fresh dial")
	case <-time.After(time.Second):
		t.Fatal("second waiter never served after the first stream released its slot")
	}
	require.True(t, first.Connection().Valid(), "one stream's reuse=false must not invalidate the whole H2 connection")
	require.Equal(t, 1, conn.binds, "the existing connection should have been reused, not re-dialed")
}

func TestQueue_CancelDuringQueue(t *testing.T) {
	t.Parallel()
	q, _ := newTestQueue(t, 1, -1)

	var streams [5]Stream
	var waiters [5]*Waiter
	served := make(chan int, 5)
	for i := 0; i < 5; i++ {
		idx := i
		waiters[i] = &Waiter{
			OnStream: func(s Stream) {
				streams[idx] = s
				served <- idx
			},
		}
	}

	q.acquire(waiters[0])
	select {
	case idx := <-served:
		require.Equal(t, 0, idx)
	case <-time.After(time.Second):
		t.Fatal("first waiter never served")
	}
	for i := 1; i < 5; i++ {
		q.acquire(waiters[i])
	}

	waiters[1].Cancel()
	waiters[3].Cancel()

	streams[0].Release(true) // recycle: drains pending, should skip cancelled #1 and serve #2

	select {
	case idx := <-served:
		require.Equal(t, 2, idx)
	case <-time.After(time.Second):
		t.Fatal("waiter 2 never served after recycle")
	}

	streams[2].Release(true) // should skip cancelled #3 and serve #4

	select {
	case idx := <-served:
		require.Equal(t, 4, idx)
	case <-time.After(time.Second):
		t.Fatal("waiter 4 never served after second recycle")
	}
}

func TestQueue_ConnectionClosedWhileIdle(t *testing.T) {
	t.Parallel()
	q, conn := newTestQueue(t, 1, -1)

	streamCh := make(chan Stream, 1)
	w1 := &Waiter{OnStream: func(s Stream) { streamCh <- s }}
	q.acquire(w1)
	var first *connection
	var firstStream Stream
	select {
	case s := <-streamCh:
		firstStream = s
		first = s.Connection().(*connection)
	case <-time.After(time.Second):
		t.Fatal("first waiter never served")
	}

	firstStream.Release(true) // recycle into the free list, now idle

	first.invalidate() // simulate the peer closing the idle connection

	w2 := &Waiter{OnStream: func(s Stream) { streamCh <- s }}
	q.acquire(w2)

	select {
	case s := <-streamCh:
		require.NotSame(t, first, s.Connection().(*connection))
	case <-time.After(time.Second):
		t.Fatal("second waiter never served a fresh connection")
	}

	require.Equal(t, 2, conn.binds, "a stale idle connection must trigger a fresh dial, not be handed out")
}

func TestQueue_IdleTimeoutInvalidatesConnection(t *testing.T) {
	t.Parallel()
	fakeClock := clocktest.NewFakeSource()
	cfg := &Config{MaxPoolSize: 1, MaxWaitQueueSize: -1, KeepAlive: true, IdleTimeout: time.Minute, Clock: fakeClock}
	conn := &fakeConnector{}
	initial := newH1Pool(VersionHTTP11, 1, false, 0)
	q := newOriginQueue(OriginKey{PeerHost: "example.test", Port: 80}, cfg, initial, nil, conn, transport.NoopMetrics{}, nil)

	streamCh := make(chan Stream, 1)
	w1 := &Waiter{OnStream: func(s Stream) { streamCh <- s }}
	q.acquire(w1)
	var first *connection
	var firstStream Stream
	select {
	case s := <-streamCh:
		firstStream = s
		first = s.Connection().(*connection)
	case <-time.After(time.Second):
		t.Fatal("first waiter never served")
	}

	firstStream.Release(true) // recycle into the free list, idle clock starts ticking
	require.True(t, first.Valid())

	fakeClock.Advance(time.Minute + time.Second)
	require.Eventually(t, func() bool { return !first.Valid() }, time.Second, time.Millisecond,
		"idle timeout should invalidate the connection")

	w2 := &Waiter{OnStream: func(s Stream) { streamCh <- s }}
	q.acquire(w2)
	select {
	case s := <-streamCh:
		require.NotSame(t, first, s.Connection().(*connection), "idle timeout must trigger a fresh connection")
	case <-time.After(time.Second):
		t.Fatal("second waiter never served after idle timeout")
	}
	require.Equal(t, 2, conn.binds)
}
