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

import "sync"

// Executor runs callbacks for exactly one connection, one at a time, in
// submission order. Every connection is bound to exactly one Executor for
// its lifetime, and all delivery to a Waiter hops through the target
// connection's Executor rather than running inline on the caller's
// goroutine, so user callbacks always observe a stable, single-threaded
// view of their connection.
type Executor interface {
	// Execute schedules fn to run on this executor. While the executor
	// is open, Execute does not wait for fn to run; a closed
	// serialExecutor runs fn inline instead.
	Execute(fn func())
}

// serialExecutor is the default Executor: a single goroutine draining a
// buffered queue of callbacks, modeling the "event-loop context" the
// design assumes without requiring an actual event loop. Its lifetime is
// tied to the connection it serves: connection.closeExecutor calls close
// once that connection goes invalid, so the goroutine doesn't outlive it.
type serialExecutor struct {
	mu     sync.Mutex
	tasks  chan func()
	done   chan struct{}
	closed bool
}

func newSerialExecutor() *serialExecutor {
	e := &serialExecutor{
		tasks: make(chan func(), 64),
		done:  make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *serialExecutor) run() {
	defer close(e.done)
	for fn := range e.tasks {
		fn()
	}
}

// Execute enqueues fn to run on the executor's goroutine. Once close has
// run, fn runs inline instead of being silently dropped: a poll can
// still race a connection going invalid and hand out a task for it just
// after teardown starts.
func (e *serialExecutor) Execute(fn func()) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		fn()
		return
	}
	e.tasks <- fn
	e.mu.Unlock()
}

// close stops accepting new work and waits for the goroutine to drain the
// queue of work already submitted. Safe to call more than once.
func (e *serialExecutor) close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.tasks)
	e.mu.Unlock()
	<-e.done
}
