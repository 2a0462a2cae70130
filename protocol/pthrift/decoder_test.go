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

package pthrift

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxgate/fluxd/databuf"
)

func feedAll(t *testing.T, d *Decoder, chunks ...[]byte) {
	t.Helper()
	for _, c := range chunks {
		require.NoError(t, d.Feed(databuf.FromBytes(c)))
	}
}

func TestDecoderCall(t *testing.T) {
	rec := &recorder{}
	d := NewDecoder(Config{}, rec)
	feedAll(t, d, buildMessage(messageTypeCall, "getUser", 17, []byte("struct-bytes")))

	events := rec.take()
	require.Len(t, events, 3)
	assert.Equal(t, uint32(17), events[0].StreamID)
	assert.Equal(t, "CALL", events[0].Head.Attrs[attrMessageType])
	assert.Equal(t, "getUser", events[0].Head.Attrs[attrMethodName])
	assert.Equal(t, "struct-bytes", string(events[1].Data.Bytes()))
}

func TestDecoderReplyWithEmptyBody(t *testing.T) {
	rec := &recorder{}
	d := NewDecoder(Config{}, rec)
	feedAll(t, d, buildMessage(messageTypeReply, "ping", 3, nil))

	events := rec.take()
	require.Len(t, events, 2)
	assert.Equal(t, "REPLY", events[0].Head.Attrs[attrMessageType])
}

func TestDecoderSplitAcrossFeeds(t *testing.T) {
	frame := buildMessage(messageTypeCall, "longMethodName", 42, []byte("payload-goes-here"))
	rec := &recorder{}
	d := NewDecoder(Config{}, rec)
	feedAll(t, d, frame[:6], frame[6:20], frame[20:])

	events := rec.take()
	require.Len(t, events, 3)
	assert.Equal(t, uint32(42), events[0].StreamID)
	assert.Equal(t, "payload-goes-here", string(events[1].Data.Bytes()))
}

func TestDecoderTwoMessagesOnOneConnection(t *testing.T) {
	rec := &recorder{}
	d := NewDecoder(Config{}, rec)
	feedAll(t, d,
		buildMessage(messageTypeCall, "a", 1, []byte("x")),
		buildMessage(messageTypeCall, "b", 2, []byte("y")),
	)

	events := rec.take()
	require.Len(t, events, 6)
	assert.Equal(t, uint32(1), events[0].StreamID)
	assert.Equal(t, uint32(2), events[3].StreamID)
}

func TestDecoderNonStrictMessageRejected(t *testing.T) {
	rec := &recorder{}
	d := NewDecoder(Config{}, rec)
	frame := buildMessage(messageTypeCall, "x", 1, nil)
	frame[4] = 0x00
	err := d.Feed(databuf.FromBytes(frame))
	assert.Error(t, err)
}
