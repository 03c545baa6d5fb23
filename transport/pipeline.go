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
	"log"
	"time"

	"github.com/relaylabs/httpconn/internal/clock"
)

// PipelineOptions mirrors the handler chain the Connector installs on a
// channel: an optional logging probe, HTTP/1.x decoder limits, an
// optional response decompressor, and an optional idle-timeout
// supervisor. Actual framing/decompression is out of scope for this
// module (see SPEC_FULL.md §10); these fields exist so a caller layering
// real codecs on top of a Channel can honor the same configuration knobs
// the pool admission logic was told about.
type PipelineOptions struct {
	LogActivity    bool
	ActivityLogger *log.Logger

	TryUseCompression bool

	MaxInitialLineLength     int
	MaxHeaderSize            int
	MaxChunkSize             int
	DecoderInitialBufferSize int

	IdleTimeout time.Duration
}

// LogTransition writes one line describing a connection lifecycle
// transition, if LogActivity is set and an ActivityLogger was supplied.
// It is a no-op otherwise, matching the teacher's restraint around
// observability hooks that have no backing implementation yet.
func (o PipelineOptions) LogTransition(channelID uint64, from, to string) {
	if !o.LogActivity || o.ActivityLogger == nil {
		return
	}
	o.ActivityLogger.Printf("conn %d: %s -> %s", channelID, from, to)
}

// IdleSupervisor closes a connection after it has gone unused for a
// configured duration. It is driven by a clock.Source so tests can
// advance time deterministically instead of sleeping.
type IdleSupervisor struct {
	src     clock.Source
	timeout time.Duration
	onIdle  func()

	timer clock.Timer
	stop  chan struct{}
}

// NewIdleSupervisor returns a supervisor that calls onIdle after timeout
// elapses with no intervening Touch call. It does nothing until Start is
// called; a zero timeout means "disabled" and Start becomes a no-op.
func NewIdleSupervisor(src clock.Source, timeout time.Duration, onIdle func()) *IdleSupervisor {
	return &IdleSupervisor{src: src, timeout: timeout, onIdle: onIdle, stop: make(chan struct{})}
}

// Start begins the idle countdown.
func (s *IdleSupervisor) Start() {
	if s.timeout <= 0 {
		return
	}
	s.timer = s.src.NewTimer(s.timeout)
	go s.run()
}

func (s *IdleSupervisor) run() {
	for {
		select {
		case <-s.timer.Chan():
			s.onIdle()
			return
		case <-s.stop:
			s.timer.Stop()
			return
		}
	}
}

// Touch resets the idle countdown; call it whenever the connection sees
// activity.
func (s *IdleSupervisor) Touch() {
	if s.timeout <= 0 || s.timer == nil {
		return
	}
	s.timer.Reset(s.timeout)
}

// Stop cancels the countdown permanently.
func (s *IdleSupervisor) Stop() {
	if s.timeout <= 0 {
		return
	}
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
}
