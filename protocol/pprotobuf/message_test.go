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

package pprotobuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageScalarRoundTrip(t *testing.T) {
	m := NewMessage()
	m.SetVarint(1, 123)
	m.SetZigZag(2, -5)
	m.SetFixed32(3, 0xdeadbeef)
	m.SetFixed64(4, 0x0102030405060708)
	m.SetBytes(5, []byte{1, 2, 3})
	m.SetString(6, "hi")

	buf := Marshal(m)
	got, err := Unmarshal(buf)
	require.NoError(t, err)

	v, ok := got.Uint64(1)
	require.True(t, ok)
	assert.Equal(t, uint64(123), v)

	z, ok := got.SintZigZag(2)
	require.True(t, ok)
	assert.Equal(t, int64(-5), z)

	f32, ok := got.Fixed32(3)
	require.True(t, ok)
	assert.Equal(t, uint32(0xdeadbeef), f32)

	f64, ok := got.Fixed64(4)
	require.True(t, ok)
	assert.Equal(t, uint64(0x0102030405060708), f64)

	b, ok := got.Bytes(5)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, b)

	s, ok := got.String(6)
	require.True(t, ok)
	assert.Equal(t, "hi", s)
}

func TestMessageNestedMessage(t *testing.T) {
	inner := NewMessage()
	inner.SetString(1, "nested")

	outer := NewMessage()
	outer.SetMessage(10, inner)

	got, err := Unmarshal(Marshal(outer))
	require.NoError(t, err)

	nested, ok, err := got.Message(10)
	require.NoError(t, err)
	require.True(t, ok)
	s, ok := nested.String(1)
	require.True(t, ok)
	assert.Equal(t, "nested", s)
}

func TestMessageRepeatedFieldKeepsAllOccurrences(t *testing.T) {
	m := NewMessage()
	m.SetVarint(1, 1)
	m.SetVarint(1, 2)
	m.SetVarint(1, 3)

	got, err := Unmarshal(Marshal(m))
	require.NoError(t, err)

	require.Len(t, got.fields[1], 3)
	last, ok := got.Uint64(1)
	require.True(t, ok)
	assert.Equal(t, uint64(3), last)
}

func TestMessageUnsetFieldReturnsFalse(t *testing.T) {
	m := NewMessage()
	_, ok := m.Uint64(99)
	assert.False(t, ok)
}

func TestMessageFieldOrderPreservedAcrossEncode(t *testing.T) {
	m := NewMessage()
	m.SetVarint(5, 1)
	m.SetVarint(2, 2)
	m.SetVarint(8, 3)

	got, err := Unmarshal(Marshal(m))
	require.NoError(t, err)
	assert.Equal(t, []int32{5, 2, 8}, got.order)
}
