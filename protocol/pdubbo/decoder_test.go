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

package pdubbo

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

func TestDecoderRequest(t *testing.T) {
	rec := &recorder{}
	d := NewDecoder(Config{}, rec)
	feedAll(t, d, buildFrame(flagRequest|flagTwoWay|2, 0, 99, []byte("hessian2-bytes")))

	events := rec.take()
	require.Len(t, events, 3)
	assert.Equal(t, "true", events[0].Head.Attrs[attrRequest])
	assert.Equal(t, "true", events[0].Head.Attrs[attrTwoWay])
	assert.Equal(t, "2", events[0].Head.Attrs[attrSerializationID])
	assert.Equal(t, uint32(99), events[0].StreamID)
	assert.Equal(t, "hessian2-bytes", string(events[1].Data.Bytes()))
}

func TestDecoderResponseStatus(t *testing.T) {
	rec := &recorder{}
	d := NewDecoder(Config{}, rec)
	feedAll(t, d, buildFrame(2, statusServiceError, 99, nil))

	events := rec.take()
	require.Len(t, events, 2)
	assert.Equal(t, "false", events[0].Head.Attrs[attrRequest])
	assert.Equal(t, "SERVICE_ERROR", events[0].Head.Attrs[attrStatus])
	assert.Equal(t, event.KindMessageEnd, events[1].Kind)
}

func TestDecoderBadMagicRejected(t *testing.T) {
	rec := &recorder{}
	d := NewDecoder(Config{}, rec)
	bad := buildFrame(flagRequest, 0, 1, nil)
	bad[0] = 0x00
	err := d.Feed(databuf.FromBytes(bad))
	assert.Error(t, err)
}

func TestDecoderSplitAcrossFeeds(t *testing.T) {
	frame := buildFrame(flagRequest|flagTwoWay, 0, 5, []byte("body"))
	rec := &recorder{}
	d := NewDecoder(Config{}, rec)
	feedAll(t, d, frame[:10], frame[10:])

	events := rec.take()
	require.Len(t, events, 3)
	assert.Equal(t, "body", string(events[1].Data.Bytes()))
}

func TestDecoderTwoFramesOnOneConnection(t *testing.T) {
	rec := &recorder{}
	d := NewDecoder(Config{}, rec)
	feedAll(t, d,
		buildFrame(flagRequest, 0, 1, []byte("a")),
		buildFrame(flagRequest, 0, 2, []byte("b")),
	)

	events := rec.take()
	require.Len(t, events, 6)
	assert.Equal(t, uint32(1), events[0].StreamID)
	assert.Equal(t, uint32(2), events[3].StreamID)
}
