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
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaylabs/httpconn/internal/httpconntest"
	"github.com/relaylabs/httpconn/transport"
)

func newTLSTestQueue(t *testing.T, maxH1, maxH2 int) *OriginQueue {
	t.Helper()
	cfg := &Config{MaxPoolSize: maxH1, HTTP2MaxPoolSize: maxH2, MaxWaitQueueSize: -1, KeepAlive: true}
	initial := newH2Pool(maxH2, -1, nil, 0)
	return newOriginQueue(OriginKey{TLS: true, PeerHost: "example.test", Port: 443}, cfg, initial, nil, nil, transport.NoopMetrics{}, nil)
}

func TestConnector_ALPNChoosesH2(t *testing.T) {
	t.Parallel()
	q := newTLSTestQueue(t, 5, 1)
	q.connCount = 1 // createConnection already reserved this slot

	ch, _ := httpconntest.NewFakeChannelPair()
	streamCh := make(chan Stream, 1)
	w := &Waiter{OnStream: func(s Stream) { streamCh <- s }}

	q.onHandshakeSuccessTLS(ch, "h2", newSerialExecutor(), w)

	select {
	case s := <-streamCh:
		require.Equal(t, VersionHTTP2, s.Connection().Version())
	case <-time.After(time.Second):
		t.Fatal("waiter never received a stream")
	}
	require.False(t, q.fallbackDone, "negotiating h2 must not trigger fallback")
}

func TestConnector_ALPNFallsBackToH1(t *testing.T) {
	t.Parallel()
	q := newTLSTestQueue(t, 5, 1)
	q.connCount = 1

	chA, _ := httpconntest.NewFakeChannelPair()
	streamA := make(chan Stream, 1)
	wA := &Waiter{OnStream: func(s Stream) { streamA <- s }}
	q.onHandshakeSuccessTLS(chA, "http/1.1", newSerialExecutor(), wA)

	var connA Connection
	select {
	case s := <-streamA:
		connA = s.Connection()
		require.Equal(t, VersionHTTP11, connA.Version())
	case <-time.After(time.Second):
		t.Fatal("first waiter never received a stream")
	}
	require.True(t, q.fallbackDone)

	// A second waiter on the same origin gets its own distinct H1
	// connection (up to max_pool_size), not the first one.
	q.mu.Lock()
	q.connCount++
	q.mu.Unlock()
	chB, _ := httpconntest.NewFakeChannelPair()
	streamB := make(chan Stream, 1)
	wB := &Waiter{OnStream: func(s Stream) { streamB <- s }}
	q.onHandshakeSuccessTLS(chB, "http/1.1", newSerialExecutor(), wB)

	select {
	case s := <-streamB:
		require.Equal(t, VersionHTTP11, s.Connection().Version())
		require.NotSame(t, connA.(*connection), s.Connection().(*connection))
	case <-time.After(time.Second):
		t.Fatal("second waiter never received a stream")
	}
}

func newCleartextTestQueue(t *testing.T) (*OriginQueue, *Connector) {
	t.Helper()
	cfg := &Config{MaxPoolSize: 5, HTTP2MaxPoolSize: 1, MaxWaitQueueSize: -1, KeepAlive: true, HTTP2ClearTextUpgrade: true}
	initial := newH2Pool(1, -1, nil, 0)
	q := newOriginQueue(OriginKey{PeerHost: "example.test", Port: 80}, cfg, initial, nil, nil, transport.NoopMetrics{}, nil)
	conn := newConnector(cfg, nil, nil, nil, nil)
	return q, conn
}

func TestConnector_CleartextUpgradeAccepted(t *testing.T) {
	t.Parallel()
	q, conn := newCleartextTestQueue(t)
	q.connCount = 1

	client, server := httpconntest.NewFakeChannelPair()
	go func() {
		buf := make([]byte, 4096)
		_, _ = server.Read(buf)
		_, _ = server.Write([]byte("HTTP/1.1 101 Switching Protocols\r\nUpgrade: h2c\r\nConnection: Upgrade\r\n\r\n"))
	}()

	streamCh := make(chan Stream, 1)
	w := &Waiter{OnStream: func(s Stream) { streamCh <- s }}
	req := connectRequest{queue: q, exec: newSerialExecutor(), waiter: w, ctx: context.Background(), version: VersionHTTP2}

	conn.runCleartextUpgrade(client, req)

	select {
	case s := <-streamCh:
		require.Equal(t, VersionHTTP2, s.Connection().Version())
	case <-time.After(time.Second):
		t.Fatal("waiter never received a stream after a 101 response")
	}
}

func TestConnector_CleartextUpgradeRefused(t *testing.T) {
	t.Parallel()
	q, conn := newCleartextTestQueue(t)
	q.connCount = 1

	client, server := httpconntest.NewFakeChannelPair()
	go func() {
		buf := make([]byte, 4096)
		_, _ = server.Read(buf)
		_, _ = server.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n"))
	}()

	streamCh := make(chan Stream, 1)
	w := &Waiter{OnStream: func(s Stream) { streamCh <- s }}
	req := connectRequest{queue: q, exec: newSerialExecutor(), waiter: w, ctx: context.Background(), version: VersionHTTP2}

	conn.runCleartextUpgrade(client, req)

	select {
	case s := <-streamCh:
		require.Equal(t, VersionHTTP11, s.Connection().Version())
		require.Same(t, client, s.Connection().(*connection).Channel(), "a refused upgrade must reuse the same channel as an H1 connection")
	case <-time.After(time.Second):
		t.Fatal("waiter never received an H1 stream after a refused upgrade")
	}
	require.True(t, q.fallbackDone)
}

// TestCleartextUpgrade_PeerClosesBeforeResponding resolves spec.md §9's
// second open question: when the peer closes the socket before ever
// responding to the upgrade request, no upgrade handler survives to
// drive the next step, so the connector itself must reconcile
// conn_count rather than leaking the slot forever.
func TestCleartextUpgrade_PeerClosesBeforeResponding(t *testing.T) {
	t.Parallel()
	q, conn := newCleartextTestQueue(t)
	q.connCount = 1

	client, server := httpconntest.NewFakeChannelPair()
	go func() {
		buf := make([]byte, 4096)
		_, _ = server.Read(buf)
		_ = server.Close()
	}()

	failCh := make(chan error, 1)
	w := &Waiter{
		OnFailure: func(err error) { failCh <- err },
		OnStream:  func(Stream) { t.Error("must not succeed when the peer vanishes mid-upgrade") },
	}
	req := connectRequest{queue: q, exec: newSerialExecutor(), waiter: w, ctx: context.Background(), version: VersionHTTP2}

	conn.runCleartextUpgrade(client, req)

	select {
	case err := <-failCh:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter never failed after the peer closed mid-upgrade")
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	require.Equal(t, 0, q.connCount, "the reserved slot must be released, not leaked")
}
