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

package pbgp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxgate/fluxd/databuf"
	"github.com/fluxgate/fluxd/event"
)

func feedAll(t *testing.T, d *Decoder, chunks ...[]byte) {
	t.Helper()
	for _, c := range chunks {
		require.NoError(t, d.Feed(databuf.FromBytes(c)))
	}
}

func TestDecoderKeepalive(t *testing.T) {
	rec := &recorder{}
	d := NewDecoder(Config{}, rec)
	feedAll(t, d, buildMessage(typeKeepalive, nil))

	events := rec.take()
	require.Len(t, events, 2)
	assert.Equal(t, event.KindMessageStart, events[0].Kind)
	assert.Equal(t, "KEEPALIVE", events[0].Head.Attrs[attrMessageType])
	assert.Equal(t, event.KindMessageEnd, events[1].Kind)
}

func TestDecoderOpen(t *testing.T) {
	body := buildOpenBody(4, 65001, 180, [4]byte{10, 0, 0, 1}, 0)

	rec := &recorder{}
	d := NewDecoder(Config{}, rec)
	feedAll(t, d, buildMessage(typeOpen, body))

	events := rec.take()
	require.Len(t, events, 2)
	assert.Equal(t, "OPEN", events[0].Head.Attrs[attrMessageType])
	assert.Equal(t, "4", events[0].Head.Attrs[attrVersion])
	assert.Equal(t, "65001", events[0].Head.Attrs[attrMyAS])
	assert.Equal(t, "180", events[0].Head.Attrs[attrHoldTime])
	assert.Equal(t, "10.0.0.1", events[0].Head.Attrs[attrRouterID])
}

func TestDecoderUpdateBodyPassedThroughOpaquely(t *testing.T) {
	body := []byte{0x00, 0x00, 0x00, 0x00} // no withdrawn routes, no path attrs

	rec := &recorder{}
	d := NewDecoder(Config{}, rec)
	feedAll(t, d, buildMessage(typeUpdate, body))

	events := rec.take()
	require.Len(t, events, 3)
	assert.Equal(t, "UPDATE", events[0].Head.Attrs[attrMessageType])
	assert.Equal(t, body, events[1].Data.Bytes())
}

func TestDecoderNotification(t *testing.T) {
	body := []byte{2, 1} // error code 2 (OPEN message error), subcode 1

	rec := &recorder{}
	d := NewDecoder(Config{}, rec)
	feedAll(t, d, buildMessage(typeNotification, body))

	events := rec.take()
	require.Len(t, events, 2)
	assert.Equal(t, "2", events[0].Head.Attrs[attrErrorCode])
	assert.Equal(t, "1", events[0].Head.Attrs[attrErrorSubcode])
}

func TestDecoderSplitAcrossFeeds(t *testing.T) {
	msg := buildMessage(typeUpdate, []byte{0x00, 0x00, 0x00, 0x00, 'x', 'y', 'z'})
	rec := &recorder{}
	d := NewDecoder(Config{}, rec)
	feedAll(t, d, msg[:10], msg[10:20], msg[20:])

	events := rec.take()
	require.Len(t, events, 3)
	assert.Equal(t, "UPDATE", events[0].Head.Attrs[attrMessageType])
}

func TestDecoderTwoMessagesOnOneConnection(t *testing.T) {
	rec := &recorder{}
	d := NewDecoder(Config{}, rec)
	feedAll(t, d,
		buildMessage(typeKeepalive, nil),
		buildMessage(typeKeepalive, nil),
	)

	events := rec.take()
	require.Len(t, events, 4)
	for _, e := range events {
		assert.Equal(t, uint32(0), e.StreamID)
	}
}

func TestDecoderOversizedMessageRejected(t *testing.T) {
	rec := &recorder{}
	d := NewDecoder(Config{MaxMessageLength: 20}, rec)
	body := make([]byte, 100)
	err := d.Feed(databuf.FromBytes(buildMessage(typeUpdate, body)))
	assert.Error(t, err)
}

func TestDecoderTruncatedOpenBodyErrors(t *testing.T) {
	rec := &recorder{}
	d := NewDecoder(Config{}, rec)
	err := d.Feed(databuf.FromBytes(buildMessage(typeOpen, []byte{4, 0})))
	assert.Error(t, err)
}
