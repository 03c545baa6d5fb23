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

// Package httpconntest provides fakes for the transport package's
// collaborator interfaces, for use in tests of the pool/queue/connector
// state machine without any real sockets or TLS.
package httpconntest

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"sync/atomic"

	"github.com/relaylabs/httpconn/transport"
)

// FakeChannel is a transport.Channel backed by an in-memory net.Pipe
// side, with a settable negotiated protocol so tests can simulate ALPN
// outcomes without a real TLS handshake.
type FakeChannel struct {
	net.Conn
	id       uint64
	protocol atomic.Pointer[string]
}

var fakeChannelIDs atomic.Uint64 //nolint:gochecknoglobals

// NewFakeChannelPair returns two ends of an in-memory connection: the
// client end as a *FakeChannel (what the connector sees), and the
// server end as a plain net.Conn a test can use to play the role of the
// origin (writing canned responses, closing early, and so on).
func NewFakeChannelPair() (*FakeChannel, net.Conn) {
	client, server := net.Pipe()
	return &FakeChannel{Conn: client, id: fakeChannelIDs.Add(1)}, server
}

func (c *FakeChannel) ID() uint64 { return c.id }

func (c *FakeChannel) NegotiatedProtocol() string {
	if p := c.protocol.Load(); p != nil {
		return *p
	}
	return ""
}

// SetNegotiatedProtocol fixes the value NegotiatedProtocol reports,
// simulating an ALPN outcome.
func (c *FakeChannel) SetNegotiatedProtocol(protocol string) {
	c.protocol.Store(&protocol)
}

// FakeDialer returns a preconfigured net.Conn (or error) for every dial,
// ignoring the requested address. Set Err to make every dial fail.
type FakeDialer struct {
	Conn func() (net.Conn, error)
	Err  error
}

func (d *FakeDialer) DialContext(context.Context, string, string) (net.Conn, error) {
	if d.Err != nil {
		return nil, d.Err
	}
	if d.Conn != nil {
		return d.Conn()
	}
	return nil, errors.New("httpconntest: FakeDialer has no Conn configured")
}

// FakeChannelProvider hands out channels from a queue of preconfigured
// results, one per call to Connect, in order. It is meant to drive
// Connector tests that need full control over what channel (and which
// negotiated protocol) a dial produces.
type FakeChannelProvider struct {
	results []fakeConnectResult
	next    int
}

type fakeConnectResult struct {
	channel transport.Channel
	err     error
}

// NewFakeChannelProvider builds a provider with no queued results; use
// Push to add them before the code under test calls Connect.
func NewFakeChannelProvider() *FakeChannelProvider {
	return &FakeChannelProvider{}
}

// Push queues a successful Connect result.
func (p *FakeChannelProvider) Push(ch transport.Channel) {
	p.results = append(p.results, fakeConnectResult{channel: ch})
}

// PushError queues a failed Connect result.
func (p *FakeChannelProvider) PushError(err error) {
	p.results = append(p.results, fakeConnectResult{err: err})
}

func (p *FakeChannelProvider) Connect(context.Context, transport.Dialer, string) (transport.Channel, error) {
	if p.next >= len(p.results) {
		return nil, errors.New("httpconntest: FakeChannelProvider exhausted")
	}
	r := p.results[p.next]
	p.next++
	return r.channel, r.err
}

// FakeTLSHelper returns a fixed *tls.Config (or error) for every
// CreateEngine call, and a fixed Validate result.
type FakeTLSHelper struct {
	Config      *tls.Config
	CreateErr   error
	ValidateErr error
}

func (h *FakeTLSHelper) Validate() error { return h.ValidateErr }

func (h *FakeTLSHelper) CreateEngine(string, uint16, string, bool) (*tls.Config, error) {
	if h.CreateErr != nil {
		return nil, h.CreateErr
	}
	return h.Config, nil
}

// FakeH2Session is a transport.H2Session with fields a test can set
// directly instead of driving a real HTTP/2 connection preface.
type FakeH2Session struct {
	MaxStreams  uint32
	CanTakeMore bool
	CloseErr    error
	ClosedCount atomic.Int64
}

func (s *FakeH2Session) MaxConcurrentStreams() uint32 { return s.MaxStreams }
func (s *FakeH2Session) CanTakeNewRequest() bool      { return s.CanTakeMore }
func (s *FakeH2Session) Close() error {
	s.ClosedCount.Add(1)
	return s.CloseErr
}

// FakeH2Binder returns a fixed *FakeH2Session (or error) for every Bind
// call.
type FakeH2Binder struct {
	Session *FakeH2Session
	Err     error
}

func (b *FakeH2Binder) Bind(transport.Channel, int32) (transport.H2Session, error) {
	if b.Err != nil {
		return nil, b.Err
	}
	return b.Session, nil
}

// FakeMetrics records every call for assertions, and is safe for
// concurrent use.
type FakeMetrics struct {
	endpoints atomic.Int64
	enqueued  atomic.Int64
	dequeued  atomic.Int64
	closed    atomic.Bool
}

func (m *FakeMetrics) CreateEndpoint(string, uint16, int) any {
	m.endpoints.Add(1)
	return nil
}

func (m *FakeMetrics) CloseEndpoint(string, uint16, any) {
	m.endpoints.Add(-1)
}

func (m *FakeMetrics) EnqueueRequest(any) any {
	m.enqueued.Add(1)
	return nil
}

func (m *FakeMetrics) DequeueRequest(any, any) {
	m.dequeued.Add(1)
}

func (m *FakeMetrics) Close() {
	m.closed.Store(true)
}

// OpenEndpoints returns the number of endpoints currently registered.
func (m *FakeMetrics) OpenEndpoints() int64 { return m.endpoints.Load() }

// Closed reports whether Close has been called.
func (m *FakeMetrics) Closed() bool { return m.closed.Load() }
