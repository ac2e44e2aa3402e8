// Copyright 2021 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package tracewire

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tinylib/msgp/msgp"
)

func TestArrayPrefixSize(t *testing.T) {
	require.Equal(t, 1, arrayPrefixSize(0))
	require.Equal(t, 1, arrayPrefixSize(15))
	require.Equal(t, 3, arrayPrefixSize(16))
	require.Equal(t, 3, arrayPrefixSize(65535))
	require.Equal(t, 5, arrayPrefixSize(65536))
}

func TestPutArrayHeader(t *testing.T) {
	for _, n := range []int{0, 1, 15, 16, 255, 65535, 65536, 1 << 20} {
		width := arrayPrefixSize(n)
		buf := make([]byte, width)
		putArrayHeader(buf, 0, width, n)

		want := msgp.AppendArrayHeader(nil, uint32(n))
		require.Equal(t, want, buf, "n=%d", n)
	}
}

func TestPutArray32(t *testing.T) {
	buf := make([]byte, payloadPrefix)
	putArray32(buf, 0, 12345)

	sz, rest, err := msgp.ReadArrayHeaderBytes(buf)
	require.NoError(t, err)
	require.Equal(t, uint32(12345), sz)
	require.Empty(t, rest)
}

func TestNumberOf(t *testing.T) {
	n, err := NumberOf(int(-7))
	require.NoError(t, err)
	require.Equal(t, int64(-7), n.Value())

	n, err = NumberOf(int64(42))
	require.NoError(t, err)
	require.Equal(t, uint64(42), n.Value())

	n, err = NumberOf(uint64(1) << 63)
	require.NoError(t, err)
	require.Equal(t, uint64(1)<<63, n.Value())

	n, err = NumberOf(3.5)
	require.NoError(t, err)
	require.Equal(t, 3.5, n.Value())

	_, err = NumberOf("nope")
	require.ErrorIs(t, err, ErrUnhandledType)
}

func TestAppendNumber(t *testing.T) {
	buf := appendNumber(nil, Int64(-5))
	i, _, err := msgp.ReadInt64Bytes(buf)
	require.NoError(t, err)
	require.Equal(t, int64(-5), i)

	buf = appendNumber(nil, Uint64(5))
	u, _, err := msgp.ReadUint64Bytes(buf)
	require.NoError(t, err)
	require.Equal(t, uint64(5), u)

	buf = appendNumber(nil, Float64(1.25))
	f, _, err := msgp.ReadFloat64Bytes(buf)
	require.NoError(t, err)
	require.Equal(t, 1.25, f)
}
