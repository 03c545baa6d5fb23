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

func newFakeH1Conn(t *testing.T, p *h1Pool) *connection {
	t.Helper()
	ch, _ := httpconntest.NewFakeChannelPair()
	return p.bind(ch, newSerialExecutor())
}

func TestH1Pool_MayCreate(t *testing.T) {
	t.Parallel()
	p := newH1Pool(VersionHTTP11, 2, false, 0)
	require.True(t, p.mayCreate(0))
	require.True(t, p.mayCreate(1))
	require.False(t, p.mayCreate(2))
}

func TestH1Pool_PlainKeepAliveIsLIFO(t *testing.T) {
	t.Parallel()
	p := newH1Pool(VersionHTTP11, 3, false, 0)
	a := newFakeH1Conn(t, p)
	b := newFakeH1Conn(t, p)
	p.recycle(a)
	p.recycle(b)
	require.Same(t, b, p.poll(), "plain keep-alive should pop most-recently-recycled first")
	require.Same(t, a, p.poll())
	require.Nil(t, p.poll())
}

func TestH1Pool_PipeliningPollKeepsConnectionUntilSaturated(t *testing.T) {
	t.Parallel()
	p := newH1Pool(VersionHTTP11, 3, true, 2)
	a := newFakeH1Conn(t, p)

	require.Same(t, a, p.poll(), "a freshly bound connection must be pollable before any stream completes")
	_, err := p.createStream(a)
	require.NoError(t, err)

	require.Same(t, a, p.poll(), "one outstanding stream out of a limit of two still leaves headroom")
	_, err = p.createStream(a)
	require.NoError(t, err)

	require.Nil(t, p.poll(), "a saturated connection must not be handed out again")

	b := newFakeH1Conn(t, p)
	require.Same(t, b, p.poll(), "a second connection becomes pollable once it exists")

	p.recycle(a)
	require.Same(t, a, p.poll(), "recycling one outstanding stream frees headroom again")
}

func TestH1Pool_CreateStreamWithoutPipelining(t *testing.T) {
	t.Parallel()
	p := newH1Pool(VersionHTTP11, 1, false, 0)
	c := newFakeH1Conn(t, p)

	_, err := p.createStream(c)
	require.NoError(t, err)

	_, err = p.createStream(c)
	require.ErrorIs(t, err, ErrStreamUnavailable, "without pipelining only one outstanding request is allowed")

	p.recycle(c)
	_, err = p.createStream(c)
	require.NoError(t, err, "recycle should release the one outstanding slot")
}

func TestH1Pool_CreateStreamWithPipelining(t *testing.T) {
	t.Parallel()
	p := newH1Pool(VersionHTTP11, 1, true, 2)
	c := newFakeH1Conn(t, p)

	_, err := p.createStream(c)
	require.NoError(t, err)
	_, err = p.createStream(c)
	require.NoError(t, err)
	_, err = p.createStream(c)
	require.ErrorIs(t, err, ErrStreamUnavailable, "pipelining limit of 2 should reject a third concurrent request")
}

func TestH1Pool_DiscardRemovesFromFreeList(t *testing.T) {
	t.Parallel()
	p := newH1Pool(VersionHTTP11, 2, false, 0)
	c := newFakeH1Conn(t, p)
	p.recycle(c)
	p.discard(c)
	require.Nil(t, p.poll(), "a discarded connection must not be handed out again")
}
