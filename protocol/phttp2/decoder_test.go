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

package phttp2

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxgate/fluxd/databuf"
	"github.com/fluxgate/fluxd/event"
)

func newTestCodec(cfg Config) (*Codec, *recorder, *bufWriter) {
	rec := &recorder{}
	w := &bufWriter{}
	c := NewCodec(cfg, rec, w, func(error) {})
	return c, rec, w
}

func feedAll(t *testing.T, c *Codec, chunks ...[]byte) {
	t.Helper()
	for _, chunk := range chunks {
		require.NoError(t, c.Decoder.Feed(databuf.FromBytes(chunk)))
	}
}

func TestDecoderHTTP2Get(t *testing.T) {
	// A HEADERS frame carrying both END_HEADERS and END_STREAM opens and
	// immediately closes the message — no Data event in between.
	c, rec, _ := newTestCodec(Config{})
	feedAll(t, c, buildFrame(1, frameHeaders, flagEndHeaders|flagEndStream,
		buildHeadersFramePayload(0, map[string]string{
			":method": "GET",
			":scheme": "https",
			":path":   "/",
		}),
	))

	events := rec.take()
	require.Len(t, events, 2)
	assert.Equal(t, event.KindMessageStart, events[0].Kind)
	assert.Equal(t, "GET", events[0].Head.Attrs[":method"])
	assert.Equal(t, event.KindMessageEnd, events[1].Kind)
	assert.Nil(t, events[1].Tail)
}

func TestDecoderMultipleStreamsInterleaved(t *testing.T) {
	c, rec, _ := newTestCodec(Config{})
	feedAll(t, c,
		buildFrame(1, frameHeaders, flagEndHeaders, buildHeadersFramePayload(0, map[string]string{
			":method": "POST", ":path": "/api1",
		})),
		buildFrame(3, frameHeaders, flagEndHeaders, buildHeadersFramePayload(0, map[string]string{
			":method": "POST", ":path": "/api2",
		})),
		buildFrame(1, frameData, 0, []byte("part1")),
		buildFrame(3, frameData, flagEndStream, []byte("part2")),
		buildFrame(1, frameData, flagEndStream, []byte("part3")),
	)

	events := rec.take()
	var stream1Body bytes.Buffer
	var stream3Ended bool
	for _, e := range events {
		if e.Kind == event.KindData && e.StreamID == 1 {
			stream1Body.Write(e.Data.Bytes())
		}
		if e.Kind == event.KindMessageEnd && e.StreamID == 3 {
			stream3Ended = true
		}
	}
	assert.Equal(t, "part1part3", stream1Body.String())
	assert.True(t, stream3Ended)
}

func TestDecoderContinuationAccumulates(t *testing.T) {
	c, rec, _ := newTestCodec(Config{})
	feedAll(t, c,
		buildFrame(1, frameHeaders, 0, buildHeadersFramePayload(0, map[string]string{
			":method": "HEAD",
		})),
		buildFrame(1, frameContinuation, flagEndHeaders, buildHeadersFramePayload(0, map[string]string{
			":path": "/status",
		})),
		buildFrame(1, frameData, flagEndStream, []byte("hello")),
	)

	events := rec.take()
	require.True(t, len(events) >= 1)
	head := events[0].Head
	assert.Equal(t, "HEAD", head.Attrs[":method"])
	assert.Equal(t, "/status", head.Attrs[":path"])
}

func TestDecoderPaddedAndPriorityHeaders(t *testing.T) {
	c, rec, _ := newTestCodec(Config{})
	payload := buildHeadersFramePayload(4, map[string]string{
		":method": "PUT",
		":path":   "/files/1",
	})
	// splice in a 5-byte priority block right after the pad-length byte,
	// matching RFC 7540 §6.2's PADDED|PRIORITY layout.
	padded := append([]byte{payload[0]}, append([]byte{0x80, 0x00, 0x00, 0x01, 0xFF}, payload[1:]...)...)
	feedAll(t, c, buildFrame(1, frameHeaders, flagEndHeaders|flagPadded|flagPriority, padded))

	events := rec.take()
	require.Len(t, events, 1)
	assert.Equal(t, "PUT", events[0].Head.Attrs[":method"])
	assert.Equal(t, "/files/1", events[0].Head.Attrs[":path"])
}

func TestDecoderTrailers(t *testing.T) {
	c, rec, _ := newTestCodec(Config{})
	feedAll(t, c,
		buildFrame(1, frameHeaders, flagEndHeaders, buildHeadersFramePayload(0, map[string]string{
			":status": "200",
		})),
		buildFrame(1, frameData, 0, []byte("OK")),
		buildFrame(1, frameHeaders, flagEndHeaders|flagEndStream, buildHeadersFramePayload(0, map[string]string{
			"grpc-status": "0",
		})),
	)

	events := rec.take()
	last := events[len(events)-1]
	require.Equal(t, event.KindMessageEnd, last.Kind)
	require.NotNil(t, last.Tail)
	assert.Equal(t, "0", last.Tail.Attrs["grpc-status"])
}

func TestDecoderRSTStream(t *testing.T) {
	c, rec, _ := newTestCodec(Config{})
	feedAll(t, c,
		buildFrame(1, frameHeaders, flagEndHeaders, buildHeadersFramePayload(0, map[string]string{
			":method": "DELETE", ":path": "/resource",
		})),
		buildFrame(1, frameRSTStream, 0, []byte{0x00, 0x00, 0x00, 0x08}),
	)
	events := rec.take()
	last := events[len(events)-1]
	assert.Equal(t, event.KindStreamEnd, last.Kind)
	assert.Equal(t, event.ErrConnectionReset, last.Err)
}

func TestDecoderFlowControlWindowUpdate(t *testing.T) {
	// A 100 KiB body against a default 65535-byte connection/stream
	// window requires several DATA frames with a WINDOW_UPDATE crediting
	// the decoder back up once it's drained past half the window.
	cfg := Config{ConnectionWindowSize: defaultInitialWindowSize, StreamWindowSize: defaultInitialWindowSize}
	c, rec, w := newTestCodec(cfg)
	feedAll(t, c, buildFrame(1, frameHeaders, flagEndHeaders, buildHeadersFramePayload(0, map[string]string{
		":method": "GET", ":path": "/large",
	})))

	chunk := bytes.Repeat([]byte("a"), 16000)
	total := 0
	for total < 100*1024 {
		feedAll(t, c, buildFrame(1, frameData, 0, chunk))
		total += len(chunk)
	}
	feedAll(t, c, buildFrame(1, frameData, flagEndStream, nil))

	rec.take()
	out := w.bytes()
	sawWindowUpdate := false
	for i := 0; i+headerLength <= len(out); {
		fh := parseFrameHeader(out[i:])
		if fh.typ == frameWindowUpdate {
			sawWindowUpdate = true
		}
		i += headerLength + int(fh.length)
	}
	assert.True(t, sawWindowUpdate, "expected at least one WINDOW_UPDATE once the recv window drained past half")
}

func TestDecoderHeaderOrderViolationRejected(t *testing.T) {
	c, rec, _ := newTestCodec(Config{})
	var buf bytes.Buffer
	buf.WriteByte(0x40)
	buf.WriteByte(byte(len("content-type")))
	buf.WriteString("content-type")
	buf.WriteByte(byte(len("text/plain")))
	buf.WriteString("text/plain")
	buf.WriteByte(0x40)
	buf.WriteByte(byte(len(":method")))
	buf.WriteString(":method")
	buf.WriteByte(byte(len("GET")))
	buf.WriteString("GET")

	err := c.Decoder.Feed(databuf.FromBytes(buildFrame(1, frameHeaders, flagEndHeaders, buf.Bytes())))
	assert.Error(t, err)
	_ = rec.take()
}
