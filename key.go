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

import "fmt"

// OriginKey identifies a remote HTTP endpoint: whether it is reached over
// TLS, its port, and its peer hostname (the name used for dialing and for
// SNI, as opposed to the Host header, which callers may override). Two
// acquisitions with an identical key share one OriginQueue.
type OriginKey struct {
	TLS      bool
	Port     uint16
	PeerHost string
}

func (k OriginKey) String() string {
	scheme := "http"
	if k.TLS {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, k.PeerHost, k.Port)
}

// Version identifies an HTTP protocol version used on a connection.
type Version int

const (
	// VersionHTTP2 requests (and, absent fallback, guarantees) HTTP/2.
	VersionHTTP2 Version = iota
	// VersionHTTP11 requests HTTP/1.1.
	VersionHTTP11
	// VersionHTTP10 requests HTTP/1.0 (no persistent connections unless
	// negotiated via a non-standard keep-alive header, which this
	// package does not attempt to detect; HTTP/1.0 connections are
	// pooled the same as HTTP/1.1 ones once established).
	VersionHTTP10
)

func (v Version) String() string {
	switch v {
	case VersionHTTP2:
		return "HTTP/2"
	case VersionHTTP11:
		return "HTTP/1.1"
	case VersionHTTP10:
		return "HTTP/1.0"
	default:
		return "unknown"
	}
}

// IsHTTP1 reports whether v is one of the HTTP/1.x versions.
func (v Version) IsHTTP1() bool {
	return v == VersionHTTP11 || v == VersionHTTP10
}
