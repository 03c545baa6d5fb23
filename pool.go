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

import "github.com/relaylabs/httpconn/transport"

// pool is the pooling strategy for one protocol version. HTTP/1.x and
// HTTP/2 have fundamentally different admission rules, so the OriginQueue
// delegates to whichever variant is currently active; see fallback in
// queue.go for how a queue can swap from an h2Pool to an h1Pool mid-flight.
//
// Every method here runs inside the owning OriginQueue's critical
// section; none of the pool variants do their own locking.
type pool interface {
	version() Version
	// mayCreate reports whether a new connection can be created given
	// connCount, the count of connections that exist or are mid-creation.
	mayCreate(connCount int) bool
	// poll returns an idle, admissible connection, or nil.
	poll() *connection
	// recycle returns a connection the pool should consider for reuse.
	recycle(c *connection)
	// discard removes a connection from the pool without making it
	// available for reuse.
	discard(c *connection)
	// createStream attempts to create a new stream on c. It fails if c
	// has no spare capacity right now (callers re-enter acquisition on
	// failure rather than treating it as terminal).
	createStream(c *connection) (Stream, error)
	// bind wraps a freshly connected channel as a pool connection and
	// adds it to the outstanding set.
	bind(ch transport.Channel, exec Executor) *connection
	// closeAll closes every connection the pool knows about.
	closeAll()
}
