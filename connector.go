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
	"bufio"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/relaylabs/httpconn/transport"
)

// Connector runs one connection attempt: dial, then either a TLS/ALPN
// handshake or a cleartext H2 upgrade dance (or neither), reporting the
// outcome back to the OriginQueue that asked for it. It implements the
// small state machine from SPEC_FULL.md §4 (Dialing → TlsHandshake →
// Negotiating → Bound | Failed) as a sequence of direct calls rather
// than an explicit state type, since each step's next action depends
// only on the previous step's result and never needs to be resumed
// later.
type Connector struct {
	dialer   transport.Dialer
	channels transport.ChannelProvider
	tls      transport.TLSHelper
	h2       transport.H2Binder

	useALPN          bool
	forceSNI         bool
	clearTextUpgrade bool
	windowSize       int32
	initialSettings  string
}

func newConnector(cfg *Config, dialer transport.Dialer, channels transport.ChannelProvider, tlsHelper transport.TLSHelper, h2Binder transport.H2Binder) *Connector {
	return &Connector{
		dialer:           dialer,
		channels:         channels,
		tls:              tlsHelper,
		h2:               h2Binder,
		useALPN:          cfg.UseALPN,
		forceSNI:         cfg.ForceSNI,
		clearTextUpgrade: cfg.HTTP2ClearTextUpgrade,
		windowSize:       cfg.HTTP2ConnectionWindowSize,
		initialSettings:  cfg.InitialSettings,
	}
}

// connect implements the connector interface consumed by OriginQueue.
// It runs in its own goroutine: the queue's critical section is
// released before any I/O happens here, per SPEC_FULL.md §5.
func (c *Connector) connect(req connectRequest) {
	go c.run(req)
}

func (c *Connector) run(req connectRequest) {
	key := req.queue.key
	addr := net.JoinHostPort(key.PeerHost, fmt.Sprintf("%d", key.Port))

	ch, err := c.channels.Connect(req.ctx, c.dialer, addr)
	if err != nil {
		req.queue.failConnection(req.waiter, KindTransport, err)
		return
	}

	if key.TLS {
		c.runTLS(ch, req)
		return
	}

	if req.version == VersionHTTP2 && c.clearTextUpgrade {
		c.runCleartextUpgrade(ch, req)
		return
	}

	req.queue.onBoundDirect(ch, req.exec, req.waiter)
}

// runTLS performs the handshake and inspects the ALPN result. The
// negotiated protocol, not the waiter's preferred version, decides
// which pool the channel ends up bound to (see OriginQueue.
// onHandshakeSuccessTLS).
func (c *Connector) runTLS(ch transport.Channel, req connectRequest) {
	key := req.queue.key
	sni := ""
	if c.forceSNI {
		sni = key.PeerHost
	}
	tlsCfg, err := c.tls.CreateEngine(key.PeerHost, key.Port, sni, c.useALPN)
	if err != nil {
		req.queue.onHandshakeFailure(ch, err, req.waiter)
		return
	}
	tlsConn := tls.Client(ch, tlsCfg)
	if err := tlsConn.HandshakeContext(req.ctx); err != nil {
		req.queue.onHandshakeFailure(ch, err, req.waiter)
		return
	}
	bound := transport.WrapTLS(ch, tlsConn)
	req.queue.onHandshakeSuccessTLS(bound, bound.NegotiatedProtocol(), req.exec, req.waiter)
}

// runCleartextUpgrade sends an HTTP/1.1 Upgrade: h2c request and
// inspects the response. A 101 means the peer agreed to speak H2 on
// this channel; anything else is a transparent fallback to H1 on the
// same channel. If the peer closes (or otherwise fails to respond to)
// the upgrade request, no upgrade handler survives to drive the next
// step, so this method reconciles conn_count itself by calling
// failConnection directly — see SPEC_FULL.md §10 item 5.
func (c *Connector) runCleartextUpgrade(ch transport.Channel, req connectRequest) {
	key := req.queue.key
	host := key.PeerHost
	if key.Port != 80 {
		host = net.JoinHostPort(key.PeerHost, fmt.Sprintf("%d", key.Port))
	}
	request := fmt.Sprintf(
		"GET / HTTP/1.1\r\nHost: %s\r\nConnection: Upgrade, HTTP2-Settings\r\nUpgrade: h2c\r\nHTTP2-Settings: %s\r\n\r\n",
		host, c.initialSettingsBase64(),
	)
	if deadline, ok := req.ctx.Deadline(); ok {
		_ = ch.SetDeadline(deadline)
		defer func() { _ = ch.SetDeadline(time.Time{}) }() //nolint:revive // best-effort reset
	}
	if _, err := ch.Write([]byte(request)); err != nil {
		_ = ch.Close()
		req.queue.failConnection(req.waiter, KindTransport, err)
		return
	}
	status, err := readUpgradeResponse(ch)
	if err != nil {
		_ = ch.Close()
		req.queue.failConnection(req.waiter, KindTransport, err)
		return
	}
	if status == http.StatusSwitchingProtocols {
		req.queue.onNegotiatedH2(ch, req.exec, req.waiter)
		return
	}
	req.queue.onCleartextUpgradeRefused(ch, req.exec, req.waiter)
}

func (c *Connector) initialSettingsBase64() string {
	if c.initialSettings != "" {
		return c.initialSettings
	}
	return "AAAAAAAAAAA="
}

// readUpgradeResponse reads the status line (and, for a refused
// upgrade, the full response) off conn. Real H1 wire framing beyond
// this is out of scope; any bytes the origin pipelines immediately
// after a refused upgrade's response are not preserved for replay,
// which is an accepted limitation of the CONNECT/upgrade stub (see
// SPEC_FULL.md §10).
func readUpgradeResponse(conn net.Conn) (int, error) {
	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode, nil
}
