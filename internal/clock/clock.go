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

// Package clock provides a time source abstraction compatible with
// github.com/jonboulle/clockwork, so that idle-timeout supervision can be
// driven by a fake clock in tests without pulling clockwork into
// production code paths.
package clock

import "time"

// Source is a time source used by the idle-timeout supervisor. It is
// structurally compatible with clockwork.Clock.
type Source interface {
	After(d time.Duration) <-chan time.Time
	Sleep(d time.Duration)
	Now() time.Time
	Since(t time.Time) time.Duration
	NewTicker(d time.Duration) Ticker
	NewTimer(d time.Duration) Timer
	AfterFunc(d time.Duration, f func()) Timer
}

// Ticker covers the behavior of a [time.Ticker].
type Ticker interface {
	Chan() <-chan time.Time
	Reset(d time.Duration)
	Stop()
}

// Timer covers the behavior of a [time.Timer].
type Timer interface {
	Chan() <-chan time.Time
	Reset(d time.Duration) bool
	Stop() bool
}

// Real returns a Source backed directly by the time package.
func Real() Source {
	return realSource{}
}

type realSource struct{}

func (realSource) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (realSource) Sleep(d time.Duration)                  { time.Sleep(d) }
func (realSource) Now() time.Time                         { return time.Now() }
func (realSource) Since(t time.Time) time.Duration        { return time.Since(t) }

func (realSource) NewTicker(d time.Duration) Ticker {
	return realTicker{time.NewTicker(d)}
}

func (realSource) NewTimer(d time.Duration) Timer {
	return realTimer{time.NewTimer(d)}
}

func (realSource) AfterFunc(d time.Duration, f func()) Timer {
	return realTimer{time.AfterFunc(d, f)}
}

type realTicker struct{ *time.Ticker }

func (r realTicker) Chan() <-chan time.Time { return r.C }

type realTimer struct{ *time.Timer }

func (r realTimer) Chan() <-chan time.Time { return r.C }
