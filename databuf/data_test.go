// Copyright 2025 The packetd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package databuf

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDataWriteBytesRoundtrip(t *testing.T) {
	d := New(NewPool(8))
	d.Write([]byte("hello "))
	d.Write([]byte("world"))
	require.Equal(t, "hello world", string(d.Bytes()))
	require.Equal(t, 11, d.Len())
}

func TestDataPushShiftConcatPreservesBytes(t *testing.T) {
	pool := NewPool(4)
	x := New(pool)
	x.Write([]byte("abcdefgh"))

	y := New(pool)
	y.Write([]byte("ijklmnop"))

	x.Push(y)
	require.Equal(t, "abcdefghijklmnop", string(x.Bytes()))

	out := x.Shift(5)
	require.Equal(t, "abcde", string(out.Bytes()))
	require.Equal(t, "fghijklmnop", string(x.Bytes()))

	rest := x.Shift(x.Len())
	var all bytes.Buffer
	all.Write(out.Bytes())
	all.Write(rest.Bytes())
	require.Equal(t, "abcdefghijklmnop", all.String())
}

func TestDataShiftWhile(t *testing.T) {
	d := New(NewPool(4))
	d.Write([]byte("   leading spaces then text"))

	spaces := d.ShiftWhile(func(b byte) bool { return b == ' ' })
	require.Equal(t, "   ", string(spaces.Bytes()))
	require.Equal(t, "leading spaces then text", string(d.Bytes()))
}

func TestDataRangeSharesChunksNoCopy(t *testing.T) {
	d := New(NewPool(16))
	d.Write([]byte("0123456789"))

	r := d.Range(2, 5)
	require.Equal(t, "234", string(r.Bytes()))
	require.Equal(t, "0123456789", string(d.Bytes()))
}

func TestDataViewCountStaysBoundedByChunks(t *testing.T) {
	d := New(NewPool(4))
	for i := 0; i < 10; i++ {
		d.Write([]byte{byte('a' + i)})
	}
	require.Equal(t, 10, d.Len())
	require.LessOrEqual(t, d.ViewCount(), 3)
}

func TestDataIndexByte(t *testing.T) {
	d := New(NewPool(4))
	d.Write([]byte("ab\r\ncd"))
	require.Equal(t, 2, d.IndexByte('\r'))
	require.Equal(t, -1, d.IndexByte('z'))
}
