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
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/relaylabs/httpconn/internal/registry"
	"github.com/relaylabs/httpconn/transport"
)

// ConnectionManager is the top-level entry point: it holds one registry
// of OriginQueues per usage class (request vs. upgrade) and routes a
// Waiter to the right one. The split exists because upgrade-style
// traffic pins HTTP/1.1 and must never share a pool with request-level
// traffic that may be running H2.
type ConnectionManager struct {
	cfg *Config

	dialer   transport.Dialer
	channels transport.ChannelProvider
	tls      transport.TLSHelper
	h2       transport.H2Binder
	metrics  transport.Metrics

	requestRegistry registry.Map[OriginKey, *OriginQueue]
	upgradeRegistry registry.Map[OriginKey, *OriginQueue]

	closed atomic.Bool
}

// NewConnectionManager builds a manager from the given options. Dialer,
// channel provider, H2 binder, and metrics collaborators all default to
// production implementations unless overridden.
func NewConnectionManager(opts ...Option) *ConnectionManager {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt.apply(cfg)
	}
	cfg.applyDefaults()

	m := &ConnectionManager{cfg: cfg}

	m.dialer = cfg.Dialer
	if m.dialer == nil {
		m.dialer = transport.NetDialer()
	}
	m.h2 = cfg.H2Binder
	if m.h2 == nil {
		m.h2 = transport.NewDefaultH2Binder()
	}
	m.metrics = cfg.Metrics
	if m.metrics == nil {
		m.metrics = transport.NoopMetrics{}
	}
	m.tls = &transport.StaticTLSHelper{Base: cfg.TLSConfig}

	m.channels = cfg.ChannelProvider
	if m.channels == nil {
		if cfg.ProxyOptions != nil {
			m.channels = transport.Proxied(*cfg.ProxyOptions)
		} else {
			m.channels = transport.Direct
		}
	}

	return m
}

// AcquireForRequest routes w to the request-registry queue for
// (tls, port, peerHost), creating that queue if it doesn't exist yet.
// Pipelining without keep-alive is rejected synchronously: the check
// happens on every call, not once at construction, since Config is
// shared across origins and this combination is only ever meaningful
// together (SPEC_FULL.md §10 item 1).
func (m *ConnectionManager) AcquireForRequest(key OriginKey, version Version, w *Waiter) {
	if m.closed.Load() {
		w.handleFailure(newError(KindLifecycle, ErrManagerClosed))
		return
	}
	if m.cfg.Pipelining && !m.cfg.KeepAlive {
		w.handleFailure(newError(KindConfiguration, ErrPipeliningRequiresKeepAlive))
		return
	}
	w.PreferredVersion = version
	q := m.requestRegistry.GetOrCreate(key, func() *OriginQueue {
		return m.newQueue(&m.requestRegistry, key, version)
	})
	q.acquire(w)
}

// AcquireForUpgrade routes w to the upgrade-registry queue for
// (tls, port, peerHost). Upgrade connections are always HTTP/1.1.
func (m *ConnectionManager) AcquireForUpgrade(key OriginKey, w *Waiter) {
	if m.closed.Load() {
		w.handleFailure(newError(KindLifecycle, ErrManagerClosed))
		return
	}
	w.PreferredVersion = VersionHTTP11
	q := m.upgradeRegistry.GetOrCreate(key, func() *OriginQueue {
		return m.newQueue(&m.upgradeRegistry, key, VersionHTTP11)
	})
	q.acquire(w)
}

// newQueue builds an OriginQueue whose initial pool variant matches
// version: H2Pool if version is VersionHTTP2, H1Pool otherwise. Once
// created, the pool variant may still change exactly once via fallback
// (see OriginQueue.fallbackToH1Locked).
func (m *ConnectionManager) newQueue(reg *registry.Map[OriginKey, *OriginQueue], key OriginKey, version Version) *OriginQueue {
	var initial pool
	if version == VersionHTTP2 {
		initial = newH2Pool(m.cfg.HTTP2MaxPoolSize, m.cfg.HTTP2MultiplexingLimit, m.h2, m.cfg.HTTP2ConnectionWindowSize)
	} else {
		pipeliningLimit := m.cfg.PipeliningLimit
		initial = newH1Pool(version, m.cfg.MaxPoolSize, m.cfg.Pipelining, pipeliningLimit)
	}

	conn := newConnector(m.cfg, m.dialer, m.channels, m.tls, m.h2)

	return newOriginQueue(key, m.cfg, initial, m.tls, conn, m.metrics, func() {
		reg.Delete(key)
	})
}

// Close closes every queue in both registries concurrently, then the
// metrics collaborator. Closing a queue closes all its connections and
// fails any waiters still pending with a lifecycle error. Close is
// idempotent: calling it more than once is a no-op after the first.
func (m *ConnectionManager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	var g errgroup.Group
	for _, q := range m.requestRegistry.Values() {
		q := q
		g.Go(func() error {
			q.close()
			return nil
		})
	}
	for _, q := range m.upgradeRegistry.Values() {
		q := q
		g.Go(func() error {
			q.close()
			return nil
		})
	}
	err := g.Wait()
	m.metrics.Close()
	return err
}
