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

// Package registry holds the concurrent maps a ConnectionManager keeps
// one of per usage class: OriginKey to *OriginQueue, so a request-style
// and an upgrade-style acquisition for the same origin never share a
// pool. Inbound I/O events (a reset, an idle timeout firing, a GOAWAY)
// aren't looked up here by channel identity; they're dispatched straight
// to their connection's owning Executor (see connection.go, executor.go),
// which already serializes callbacks for that connection without a
// shared map in the path.
package registry

import "sync"

// Map is a concurrent key to value registry (in this module, OriginKey to
// *OriginQueue). The zero value is ready to use.
type Map[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]V
}

// Put associates key with value, replacing any prior association.
func (r *Map[K, V]) Put(key K, value V) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.m == nil {
		r.m = make(map[K]V)
	}
	r.m[key] = value
}

// Get returns the value associated with key, if any.
func (r *Map[K, V]) Get(key K) (V, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.m[key]
	return v, ok
}

// GetOrCreate returns the existing value for key, or calls create and
// stores its result if none exists yet. create is called at most once
// per miss, under the registry's write lock, so two concurrent misses
// for the same key never both construct a value.
func (r *Map[K, V]) GetOrCreate(key K, create func() V) V {
	r.mu.RLock()
	v, ok := r.m[key]
	r.mu.RUnlock()
	if ok {
		return v
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.m[key]; ok {
		return v
	}
	v = create()
	if r.m == nil {
		r.m = make(map[K]V)
	}
	r.m[key] = v
	return v
}

// Delete removes the association for key, if any.
func (r *Map[K, V]) Delete(key K) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.m, key)
}

// Len returns the number of entries currently registered.
func (r *Map[K, V]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.m)
}

// Values returns a snapshot slice of all registered values. The snapshot
// is safe to use after concurrent Put/Delete calls return.
func (r *Map[K, V]) Values() []V {
	r.mu.RLock()
	defer r.mu.RUnlock()
	values := make([]V, 0, len(r.m))
	for _, v := range r.m {
		values = append(values, v)
	}
	return values
}
