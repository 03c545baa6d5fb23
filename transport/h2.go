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

import (
	"fmt"

	"golang.org/x/net/http2"
)

// H2Binder turns a bound Channel into an HTTP/2 client session. Actual
// per-request framing is out of scope here (it belongs to the caller's
// RoundTripper); this binder exists only so the pool can learn the
// peer's advertised concurrent-stream limit and detect when the session
// has gone away.
type H2Binder interface {
	Bind(ch Channel, windowSize int32) (H2Session, error)
}

// H2Session is a bound HTTP/2 client connection.
type H2Session interface {
	// MaxConcurrentStreams returns the peer's advertised SETTINGS value,
	// or 0 if not yet known.
	MaxConcurrentStreams() uint32
	// CanTakeNewRequest reports whether the session is healthy enough to
	// admit another stream.
	CanTakeNewRequest() bool
	Close() error
}

// DefaultH2Binder binds using golang.org/x/net/http2's client transport,
// which performs the actual HTTP/2 connection preface and SETTINGS
// exchange.
type DefaultH2Binder struct {
	Transport *http2.Transport
}

func NewDefaultH2Binder() *DefaultH2Binder {
	return &DefaultH2Binder{Transport: &http2.Transport{}}
}

func (b *DefaultH2Binder) Bind(ch Channel, windowSize int32) (H2Session, error) {
	tr := b.Transport
	if tr == nil {
		tr = &http2.Transport{}
	}
	if windowSize > 0 {
		tr.MaxReadFrameSize = 0 // keep default; window size governs flow control, not frame size
	}
	clientConn, err := tr.NewClientConn(ch)
	if err != nil {
		return nil, fmt.Errorf("bind http/2 session: %w", err)
	}
	return &h2Session{conn: clientConn}, nil
}

type h2Session struct {
	conn *http2.ClientConn
}

func (s *h2Session) MaxConcurrentStreams() uint32 {
	return s.conn.State().MaxConcurrentStreams
}

func (s *h2Session) CanTakeNewRequest() bool {
	return s.conn.CanTakeNewRequest()
}

func (s *h2Session) Close() error {
	return s.conn.Close()
}
