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
	"sync/atomic"
)

// Waiter is an opaque request for a connection-plus-stream. Callers build
// one, populate the result callbacks, and submit it to a
// ConnectionManager. OnStream and OnFailure are mutually exclusive and
// each fires at most once; OnConnection fires at most once, and only for
// the waiter that happens to be the first to create a stream on a given
// connection.
type Waiter struct {
	// Context, if non-nil, is the context used to dial (and negotiate)
	// any connection created to satisfy this waiter. It does not choose
	// the connection's executor (every new connection gets its own), and
	// its cancellation does not cancel the waiter; only Cancel does.
	Context context.Context //nolint:containedctx

	// PreferredVersion records the version passed to AcquireForRequest
	// (always VersionHTTP11 for AcquireForUpgrade). The queue does not
	// read it: a new connection's version comes from the origin queue's
	// current pool.
	PreferredVersion Version

	// Metric is an opaque token set by the OriginQueue while this waiter
	// is enqueued, to pass to the metrics collaborator on dequeue.
	Metric any

	// OnConnection is called at most once, the first time a stream is
	// created on a connection this waiter ends up owning.
	OnConnection func(Connection)
	// OnStream is called exactly once on success.
	OnStream func(Stream)
	// OnFailure is called exactly once on terminal failure.
	OnFailure func(error)

	cancelled atomic.Bool
	delivered atomic.Bool
}

// Cancel marks the waiter as cancelled. Cancellation is observed lazily:
// a queue drains cancelled waiters only when it next dequeues, and a
// connection already in flight for a cancelled waiter is recycled rather
// than wasted.
func (w *Waiter) Cancel() {
	w.cancelled.Store(true)
}

// IsCancelled reports whether Cancel has been called.
func (w *Waiter) IsCancelled() bool {
	return w.cancelled.Load()
}

// handleConnection invokes OnConnection if set.
func (w *Waiter) handleConnection(conn Connection) {
	if w.OnConnection != nil {
		w.OnConnection(conn)
	}
}

// handleStream invokes OnStream exactly once.
func (w *Waiter) handleStream(stream Stream) {
	if !w.delivered.CompareAndSwap(false, true) {
		return
	}
	if w.OnStream != nil {
		w.OnStream(stream)
	}
}

// handleFailure invokes OnFailure exactly once.
func (w *Waiter) handleFailure(err error) {
	if !w.delivered.CompareAndSwap(false, true) {
		return
	}
	if w.OnFailure != nil {
		w.OnFailure(err)
	}
}
