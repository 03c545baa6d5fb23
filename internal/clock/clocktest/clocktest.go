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

// Package clocktest adapts github.com/jonboulle/clockwork's fake clock to
// the clock.Source interface. Compatibility between Go interfaces is
// shallow: methods returning another interface type are compared
// nominally, so each clockwork.Ticker/Timer result must be re-boxed as a
// clock.Ticker/clock.Timer rather than relying on structural identity.
package clocktest

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/relaylabs/httpconn/internal/clock"
)

// FakeSource is a manually-advanceable clock.Source, for driving
// idle-timeout and wait-queue tests deterministically.
type FakeSource interface {
	clock.Source
	Advance(d time.Duration)
	BlockUntilContext(ctx context.Context, waiters int) error
}

// NewFakeSource creates a new FakeSource backed by clockwork.
func NewFakeSource() FakeSource {
	return fakeSource{clockwork.NewFakeClock()}
}

type fakeSource struct {
	clockwork.FakeClock
}

var _ FakeSource = fakeSource{}

// blockUntilContexter is implemented by clockwork's concrete FakeClock but
// not exposed on the clockwork.FakeClock interface itself.
type blockUntilContexter interface {
	BlockUntilContext(ctx context.Context, waiters int) error
}

// BlockUntilContext forwards to the underlying clockwork implementation.
func (f fakeSource) BlockUntilContext(ctx context.Context, waiters int) error {
	return f.FakeClock.(blockUntilContexter).BlockUntilContext(ctx, waiters)
}

// NewTicker re-boxes the clockwork.Ticker as a clock.Ticker; see the
// package comment for why this re-boxing is necessary.
func (f fakeSource) NewTicker(d time.Duration) clock.Ticker {
	return f.FakeClock.NewTicker(d)
}

// NewTimer re-boxes the clockwork.Timer as a clock.Timer.
func (f fakeSource) NewTimer(d time.Duration) clock.Timer {
	timer := f.FakeClock.NewTimer(d)
	if d == 0 {
		// Reproduces pre-1.23 timer behavior; clockwork doesn't fire
		// zero-duration fake timers until the next Advance otherwise.
		// See https://github.com/jonboulle/clockwork/issues/98.
		if !timer.Stop() {
			<-timer.Chan()
		}
	}
	return timer
}

// AfterFunc re-boxes the clockwork.Timer returned by AfterFunc.
func (f fakeSource) AfterFunc(d time.Duration, fn func()) clock.Timer {
	return f.FakeClock.AfterFunc(d, fn)
}
