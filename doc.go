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

// Package httpconn manages pools of client connections to HTTP origins.
// A ConnectionManager holds one OriginQueue per (scheme, host, port)
// origin, per usage class (ordinary requests vs. long-lived upgrades),
// and decides for each acquisition whether to hand back an idle
// connection, create a new one, or queue the caller.
//
// Protocol selection and negotiation — TLS-ALPN, cleartext H2 upgrade,
// and fallback from an assumed-H2 pool to HTTP/1.x when a peer turns out
// not to speak H2 — are handled transparently; callers only see a
// Waiter's OnConnection/OnStream/OnFailure callbacks.
//
// Wire framing, TLS engine internals, and per-connection HTTP/2 stream
// multiplexing are out of scope here and live in the transport
// subpackage's collaborator interfaces, or above this package entirely.
package httpconn
