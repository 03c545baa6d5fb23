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

// Metrics is the reporting collaborator. Implementations are expected to
// be safe for concurrent use, or to do their own internal serialization;
// the core never synchronizes around calls into this interface.
type Metrics interface {
	// CreateEndpoint registers a new origin and returns an opaque token
	// used in subsequent calls.
	CreateEndpoint(host string, port uint16, maxSize int) any
	// CloseEndpoint unregisters an origin.
	CloseEndpoint(host string, port uint16, endpoint any)
	// EnqueueRequest records that a waiter was added to an origin's wait
	// queue, returning an opaque per-waiter token.
	EnqueueRequest(endpoint any) any
	// DequeueRequest records that a waiter left the wait queue, whether
	// by being served or discarded for cancellation.
	DequeueRequest(endpoint, waiter any)
	// Close releases any resources held by the metrics sink.
	Close()
}

// NoopMetrics is a Metrics implementation that does nothing.
type NoopMetrics struct{}

func (NoopMetrics) CreateEndpoint(string, uint16, int) any { return nil }
func (NoopMetrics) CloseEndpoint(string, uint16, any)      {}
func (NoopMetrics) EnqueueRequest(any) any                 { return nil }
func (NoopMetrics) DequeueRequest(any, any)                {}
func (NoopMetrics) Close()                                 {}
