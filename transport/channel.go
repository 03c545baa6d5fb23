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

package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"
)

// ProxyOptions configures use of an HTTP CONNECT proxy for reaching an
// origin. A nil *ProxyOptions means "connect directly".
type ProxyOptions struct {
	Addr     string
	Username string
	Password string
}

// ChannelProvider establishes a Channel to a remote address, optionally
// through a proxy. There are two implementations: direct and proxied;
// selection happens one layer up, in NewConnectionManager, which picks
// one provider for the whole manager based on its ProxyOptions.
type ChannelProvider interface {
	Connect(ctx context.Context, dialer Dialer, addr string) (Channel, error)
}

// Direct connects straight to addr.
var Direct ChannelProvider = directProvider{}

type directProvider struct{}

func (directProvider) Connect(ctx context.Context, dialer Dialer, addr string) (Channel, error) {
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return newChannel(conn), nil
}

// Proxied connects through an HTTP CONNECT proxy described by opts.
func Proxied(opts ProxyOptions) ChannelProvider {
	return proxiedProvider{opts: opts}
}

type proxiedProvider struct {
	opts ProxyOptions
}

func (p proxiedProvider) Connect(ctx context.Context, dialer Dialer, addr string) (Channel, error) {
	conn, err := dialer.DialContext(ctx, "tcp", p.opts.Addr)
	if err != nil {
		return nil, fmt.Errorf("dial proxy %s: %w", p.opts.Addr, err)
	}
	if err := connectTunnel(ctx, conn, addr, p.opts); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return newChannel(conn), nil
}

func connectTunnel(ctx context.Context, conn net.Conn, addr string, opts ProxyOptions) error {
	req := fmt.Sprintf("CONNECT %s HTTP/1.1\r\nHost: %s\r\n", addr, addr)
	if opts.Username != "" {
		req += fmt.Sprintf("Proxy-Authorization: Basic %s\r\n", basicAuth(opts.Username, opts.Password))
	}
	req += "\r\n"
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
		defer func() { _ = conn.SetDeadline(time.Time{}) }() //nolint:revive // best-effort reset
	}
	if _, err := conn.Write([]byte(req)); err != nil {
		return fmt.Errorf("write CONNECT request: %w", err)
	}
	status, err := readStatusLine(conn)
	if err != nil {
		return fmt.Errorf("read CONNECT response: %w", err)
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("proxy refused CONNECT, status %d", status)
	}
	return nil
}

func basicAuth(username, password string) string {
	return base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
}

func readStatusLine(conn net.Conn) (int, error) {
	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode, nil
}

// channel is the default Channel implementation, a thin wrapper around
// net.Conn that adds an identity and records the negotiated ALPN
// protocol, if any.
type channel struct {
	net.Conn
	id       uint64
	protocol string
}

var channelIDs atomic.Uint64

func newChannel(conn net.Conn) *channel {
	id := channelIDs.Add(1)
	ch := &channel{Conn: conn, id: id}
	if tlsConn, ok := conn.(*tls.Conn); ok {
		ch.protocol = tlsConn.ConnectionState().NegotiatedProtocol
	}
	return ch
}

func (c *channel) ID() uint64                 { return c.id }
func (c *channel) NegotiatedProtocol() string { return c.protocol }

// WrapTLS rewraps a plain channel's connection as a *tls.Conn-backed
// channel after a successful handshake, preserving its identity.
func WrapTLS(ch Channel, tlsConn *tls.Conn) Channel {
	id := ch.ID()
	return &channel{Conn: tlsConn, id: id, protocol: tlsConn.ConnectionState().NegotiatedProtocol}
}
