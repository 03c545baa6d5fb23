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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaylabs/httpconn/internal/httpconntest"
)

func TestH2Pool_MayCreate(t *testing.T) {
	t.Parallel()
	p := newH2Pool(1, -1, nil, 0)
	require.True(t, p.mayCreate(0))
	require.False(t, p.mayCreate(1))
}

func TestH2Pool_PeerLimitOverridesConfigured(t *testing.T) {
	t.Parallel()
	binder := &httpconntest.FakeH2Binder{Session: &httpconntest.FakeH2Session{MaxStreams: 2}}
	p := newH2Pool(1, 100, binder, 0)
	ch, _ := httpconntest.NewFakeChannelPair()
	c := p.bind(ch, newSerialExecutor())

	_, err := p.createStream(c)
	require.NoError(t, err)
	_, err = p.createStream(c)
	require.NoError(t, err)
	_, err = p.createStream(c)
	require.ErrorIs(t, err, ErrStreamUnavailable, "peer-advertised limit of 2 should win over the configured limit of 100")
}

func TestH2Pool_ConfiguredLimitUnboundedBelowOne(t *testing.T) {
	t.Parallel()
	p := newH2Pool(1, 0, nil, 0)
	ch, _ := httpconntest.NewFakeChannelPair()
	c := p.bind(ch, newSerialExecutor())

	for i := 0; i < 10; i++ {
		_, err := p.createStream(c)
		require.NoError(t, err, "a configured limit below 1 means unbounded when the peer limit is unknown")
	}
}

func TestH2Pool_SingleConnectionServesConcurrentAcquires(t *testing.T) {
	t.Parallel()
	p := newH2Pool(1, -1, nil, 0)
	ch, _ := httpconntest.NewFakeChannelPair()
	c := p.bind(ch, newSerialExecutor())

	require.Same(t, c, p.poll())
	_, err := p.createStream(c)
	require.NoError(t, err)
	require.Same(t, c, p.poll(), "a second acquire should reuse the same connection, not create a new one")
}

func TestH2Pool_RecycleFreesStreamSlot(t *testing.T) {
	t.Parallel()
	binder := &httpconntest.FakeH2Binder{Session: &httpconntest.FakeH2Session{MaxStreams: 1}}
	p := newH2Pool(1, -1, binder, 0)
	ch, _ := httpconntest.NewFakeChannelPair()
	c := p.bind(ch, newSerialExecutor())

	_, err := p.createStream(c)
	require.NoError(t, err)
	require.Nil(t, p.poll(), "the one stream slot is taken")

	p.recycle(c)
	require.Same(t, c, p.poll(), "recycling the finished stream must free its slot for a new one")
}

func TestH2Pool_DiscardDefersUntilStreamsDrain(t *testing.T) {
	t.Parallel()
	p := newH2Pool(1, -1, nil, 0)
	ch, _ := httpconntest.NewFakeChannelPair()
	c := p.bind(ch, newSerialExecutor())
	_, err := p.createStream(c)
	require.NoError(t, err)

	p.discard(c)
	require.Nil(t, p.poll(), "a discarded connection must stop taking new streams immediately")

	p.recycle(c) // the last outstanding stream finishing completes the deferred removal
	require.Len(t, p.conns, 0)
}
