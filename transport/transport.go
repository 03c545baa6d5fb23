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

// Package transport defines the collaborator interfaces that the pool
// and queue state machine in the parent package consumes: the thing that
// opens sockets, the thing that does TLS, the thing that turns a bound
// channel into an HTTP/2 session, and the metrics sink. None of these
// implement HTTP wire framing or request/response handling; that remains
// the caller's responsibility, layered on top of a Stream.
package transport

import (
	"context"
	"net"
)

// Channel is a bound network connection, already past TCP connect (and,
// if applicable, past TLS handshake and/or HTTP upgrade). It is the unit
// the pool wraps as a logical Connection.
type Channel interface {
	net.Conn
	// ID uniquely identifies this channel for the lifetime of the
	// process. Dispatch doesn't key off it — inbound events are
	// delivered to a connection's owning Executor instead (see
	// connection.go) — but it gives log correlation a stable handle
	// (PipelineOptions.LogTransition) and test fakes an identity to
	// assert against.
	ID() uint64
	// NegotiatedProtocol returns the ALPN-negotiated protocol ("h2",
	// "http/1.1", or "") if this channel went through a TLS handshake
	// with ALPN, else "".
	NegotiatedProtocol() string
}

// Dialer opens the raw network connection to an address, before any TLS
// or protocol-specific setup. It corresponds to the "Transport"
// collaborator in the design: channel_type/configure are folded into
// DialContext's use of network/address, since Go's net.Dialer already
// covers that surface.
type Dialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// DialerFunc adapts a function to a Dialer.
type DialerFunc func(ctx context.Context, network, addr string) (net.Conn, error)

func (f DialerFunc) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	return f(ctx, network, addr)
}

// NetDialer returns a Dialer backed by a *net.Dialer with sensible
// client defaults.
func NetDialer() Dialer {
	return DialerFunc((&net.Dialer{}).DialContext)
}
