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
	"crypto/tls"
	"log"
	"time"

	"github.com/relaylabs/httpconn/internal/clock"
	"github.com/relaylabs/httpconn/transport"
)

// Option customizes a ConnectionManager's Config. Options are applied in
// the order given to NewConnectionManager.
type Option interface {
	apply(*Config)
}

type optionFunc func(*Config)

func (f optionFunc) apply(cfg *Config) {
	f(cfg)
}

// Config is the immutable configuration shared by every OriginQueue a
// ConnectionManager creates. It is built once, via Options, and never
// mutated afterward — only http2MultiplexingLimit's clamp is computed
// once and then read by every H2Pool, matching the source's
// once-at-construction behavior (SPEC_FULL.md §10 item 2).
type Config struct {
	KeepAlive       bool
	Pipelining      bool
	PipeliningLimit int64

	MaxPoolSize      int
	MaxWaitQueueSize int

	HTTP2MaxPoolSize          int
	HTTP2MultiplexingLimit    int64
	HTTP2ConnectionWindowSize int32
	HTTP2ClearTextUpgrade     bool
	InitialSettings           string

	UseALPN  bool
	ForceSNI bool

	TryUseCompression bool

	LogActivity    bool
	ActivityLogger *log.Logger

	IdleTimeout time.Duration

	MaxInitialLineLength     int
	MaxHeaderSize            int
	MaxChunkSize             int
	DecoderInitialBufferSize int

	TLSConfig    *tls.Config
	ProxyOptions *transport.ProxyOptions

	// Dialer, ChannelProvider, H2Binder, and Metrics default to
	// production implementations in NewConnectionManager; tests override
	// them to substitute fakes.
	Dialer          transport.Dialer
	ChannelProvider transport.ChannelProvider
	H2Binder        transport.H2Binder
	Metrics         transport.Metrics

	// Clock drives idle-timeout supervision. Defaults to clock.Real();
	// tests override it with a fake so idle timeouts fire deterministically.
	Clock clock.Source
}

func defaultConfig() *Config {
	return &Config{
		KeepAlive:                 true,
		MaxPoolSize:               5,
		MaxWaitQueueSize:          -1,
		HTTP2MaxPoolSize:          1,
		HTTP2MultiplexingLimit:    -1,
		HTTP2ConnectionWindowSize: 1 << 20,
		UseALPN:                   true,
		MaxInitialLineLength:      4096,
		MaxHeaderSize:             8192,
		MaxChunkSize:              8192,
		DecoderInitialBufferSize:  128,
	}
}

// applyDefaults backfills any field an Option left at its zero value
// (NewConnectionManager starts from defaultConfig(), so this mostly
// matters for callers constructing a *Config by hand, e.g. in tests) and
// performs the one-time http2MultiplexingLimit clamp: a configured value
// below 1 means "unbounded", i.e. defer entirely to the peer's advertised
// SETTINGS value (see spec.md §9 open question #3; SPEC_FULL.md §10 item
// 2 keeps the source's behavior rather than special-casing exactly-zero).
func (cfg *Config) applyDefaults() {
	d := defaultConfig()
	if cfg.MaxPoolSize == 0 {
		cfg.MaxPoolSize = d.MaxPoolSize
	}
	if cfg.HTTP2MaxPoolSize == 0 {
		cfg.HTTP2MaxPoolSize = d.HTTP2MaxPoolSize
	}
	if cfg.HTTP2ConnectionWindowSize == 0 {
		cfg.HTTP2ConnectionWindowSize = d.HTTP2ConnectionWindowSize
	}
	if cfg.MaxInitialLineLength == 0 {
		cfg.MaxInitialLineLength = d.MaxInitialLineLength
	}
	if cfg.MaxHeaderSize == 0 {
		cfg.MaxHeaderSize = d.MaxHeaderSize
	}
	if cfg.MaxChunkSize == 0 {
		cfg.MaxChunkSize = d.MaxChunkSize
	}
	if cfg.DecoderInitialBufferSize == 0 {
		cfg.DecoderInitialBufferSize = d.DecoderInitialBufferSize
	}
	if cfg.HTTP2MultiplexingLimit < 1 {
		cfg.HTTP2MultiplexingLimit = -1
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
}

// WithKeepAlive controls whether connections are reused after a
// response completes. Defaults to true.
func WithKeepAlive(enabled bool) Option {
	return optionFunc(func(cfg *Config) { cfg.KeepAlive = enabled })
}

// WithPipelining allows multiple in-flight requests per H1 connection.
// It is illegal to enable pipelining without keep-alive; that
// combination is rejected at AcquireForRequest time, not here, since
// options can be applied in either order.
func WithPipelining(enabled bool, limit int64) Option {
	return optionFunc(func(cfg *Config) {
		cfg.Pipelining = enabled
		cfg.PipeliningLimit = limit
	})
}

// WithMaxPoolSize sets the H1 per-origin connection cap.
func WithMaxPoolSize(n int) Option {
	return optionFunc(func(cfg *Config) { cfg.MaxPoolSize = n })
}

// WithMaxWaitQueueSize sets the cap on pending waiters per origin. A
// negative value (the default) means unbounded.
func WithMaxWaitQueueSize(n int) Option {
	return optionFunc(func(cfg *Config) { cfg.MaxWaitQueueSize = n })
}

// WithHTTP2MaxPoolSize sets the H2 per-origin connection cap (typically
// 1: most servers are happy multiplexing arbitrarily many streams over
// a single H2 connection).
func WithHTTP2MaxPoolSize(n int) Option {
	return optionFunc(func(cfg *Config) { cfg.HTTP2MaxPoolSize = n })
}

// WithHTTP2MultiplexingLimit caps concurrent streams per H2 connection.
// A value below 1 means "unbounded" — defer to the peer's SETTINGS.
func WithHTTP2MultiplexingLimit(n int64) Option {
	return optionFunc(func(cfg *Config) { cfg.HTTP2MultiplexingLimit = n })
}

// WithHTTP2ConnectionWindowSize sets the H2 connection-level flow
// control window that is passed to the H2Binder when binding a session.
// transport.DefaultH2Binder does not apply it: sessions it binds use the
// http2 package's default window.
func WithHTTP2ConnectionWindowSize(n int32) Option {
	return optionFunc(func(cfg *Config) { cfg.HTTP2ConnectionWindowSize = n })
}

// WithHTTP2ClearTextUpgrade controls whether a plaintext origin
// requested at VersionHTTP2 goes through the h2c upgrade dance (true)
// or is assumed to speak H2 directly with no negotiation (false).
func WithHTTP2ClearTextUpgrade(enabled bool) Option {
	return optionFunc(func(cfg *Config) { cfg.HTTP2ClearTextUpgrade = enabled })
}

// WithALPN controls whether TLS connections negotiate the protocol via
// ALPN. Defaults to true.
func WithALPN(enabled bool) Option {
	return optionFunc(func(cfg *Config) { cfg.UseALPN = enabled })
}

// WithForceSNI sets the TLS ServerName to the peer host even when it is
// a literal IP address. crypto/tls never places an IP literal in the SNI
// extension, so no SNI is sent to an IP peer either way; for IP peers
// the setting only changes which name the server certificate is
// verified against.
func WithForceSNI(enabled bool) Option {
	return optionFunc(func(cfg *Config) { cfg.ForceSNI = enabled })
}

// WithCompression records the TryUseCompression setting. This package
// does not decompress responses itself and no component in it reads the
// setting.
func WithCompression(enabled bool) Option {
	return optionFunc(func(cfg *Config) { cfg.TryUseCompression = enabled })
}

// WithLogActivity enables one log line per connection lifecycle
// transition, written to logger. A nil logger disables the probe even
// if enabled is true.
func WithLogActivity(enabled bool, logger *log.Logger) Option {
	return optionFunc(func(cfg *Config) {
		cfg.LogActivity = enabled
		cfg.ActivityLogger = logger
	})
}

// WithIdleTimeout closes connections that see no activity for d. A
// zero or negative duration disables idle supervision (the default).
func WithIdleTimeout(d time.Duration) Option {
	return optionFunc(func(cfg *Config) { cfg.IdleTimeout = d })
}

// WithMaxInitialLineLength bounds the H1 request/status line length a
// decoder will accept.
func WithMaxInitialLineLength(n int) Option {
	return optionFunc(func(cfg *Config) { cfg.MaxInitialLineLength = n })
}

// WithMaxHeaderSize bounds total H1 header size.
func WithMaxHeaderSize(n int) Option {
	return optionFunc(func(cfg *Config) { cfg.MaxHeaderSize = n })
}

// WithMaxChunkSize bounds H1 chunked-encoding chunk size.
func WithMaxChunkSize(n int) Option {
	return optionFunc(func(cfg *Config) { cfg.MaxChunkSize = n })
}

// WithDecoderInitialBufferSize sets the initial buffer size for the H1
// decoder.
func WithDecoderInitialBufferSize(n int) Option {
	return optionFunc(func(cfg *Config) { cfg.DecoderInitialBufferSize = n })
}

// WithProxyOptions routes connections through an HTTP CONNECT proxy.
// Every connection the manager opens, plaintext or TLS, is tunnelled
// through the proxy with CONNECT; plaintext origins are not exempted.
func WithProxyOptions(opts transport.ProxyOptions) Option {
	return optionFunc(func(cfg *Config) { cfg.ProxyOptions = &opts })
}

// WithTLSConfig sets the base *tls.Config cloned for every TLS
// connection this manager makes.
func WithTLSConfig(tlsCfg *tls.Config) Option {
	return optionFunc(func(cfg *Config) { cfg.TLSConfig = tlsCfg })
}

// WithInitialSettings sets the base64-encoded HTTP2-Settings header
// value sent with a cleartext upgrade request.
func WithInitialSettings(settings string) Option {
	return optionFunc(func(cfg *Config) { cfg.InitialSettings = settings })
}

// WithDialer overrides the Dialer used to open raw connections.
func WithDialer(d transport.Dialer) Option {
	return optionFunc(func(cfg *Config) { cfg.Dialer = d })
}

// WithChannelProvider overrides channel establishment entirely,
// bypassing the manager's direct/proxied selection based on
// ProxyOptions. Primarily useful in tests.
func WithChannelProvider(p transport.ChannelProvider) Option {
	return optionFunc(func(cfg *Config) { cfg.ChannelProvider = p })
}

// WithH2Binder overrides how a bound channel becomes an HTTP/2 session.
func WithH2Binder(b transport.H2Binder) Option {
	return optionFunc(func(cfg *Config) { cfg.H2Binder = b })
}

// WithMetrics installs a Metrics collaborator. Defaults to a no-op
// sink.
func WithMetrics(m transport.Metrics) Option {
	return optionFunc(func(cfg *Config) { cfg.Metrics = m })
}

// WithClock overrides the time source used for idle-timeout supervision.
// Defaults to the real clock; tests substitute a fake.
func WithClock(src clock.Source) Option {
	return optionFunc(func(cfg *Config) { cfg.Clock = src })
}
