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

package ringlist

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRingFIFOOrder(t *testing.T) {
	r := New[int](3)
	require.True(t, r.PushBack(1))
	require.True(t, r.PushBack(2))
	require.True(t, r.PushBack(3))
	require.True(t, r.Full())
	require.False(t, r.PushBack(4))

	v, ok := r.PopFront()
	require.True(t, ok)
	require.Equal(t, 1, v)
	require.True(t, r.PushBack(4))

	var got []int
	r.Range(func(v int) bool { got = append(got, v); return true })
	require.Equal(t, []int{2, 3, 4}, got)
}

func TestRingWrapsIndicesAfterManyCycles(t *testing.T) {
	r := New[uint16](4)
	for i := uint16(0); i < 100; i++ {
		r.PushBack(i)
		v, ok := r.PopFront()
		require.True(t, ok)
		require.Equal(t, i, v)
	}
	require.Equal(t, 0, r.Len())
}

func TestRingFrontDoesNotRemove(t *testing.T) {
	r := New[string](2)
	r.PushBack("a")
	v, ok := r.Front()
	require.True(t, ok)
	require.Equal(t, "a", v)
	require.Equal(t, 1, r.Len())
}
