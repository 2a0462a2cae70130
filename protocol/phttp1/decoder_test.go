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

package phttp1

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxgate/fluxd/databuf"
	"github.com/fluxgate/fluxd/event"
)

func feedAll(t *testing.T, d *Decoder, chunks ...string) {
	t.Helper()
	for _, c := range chunks {
		require.NoError(t, d.Feed(databuf.FromBytes([]byte(c))))
	}
}

func TestDecoderSimpleGetRequest(t *testing.T) {
	rec := &recorder{}
	d := NewDecoder(Config{}, rec)
	feedAll(t, d, "GET /widgets HTTP/1.1\r\nHost: example.com\r\n\r\n")

	events := rec.take()
	require.Len(t, events, 2)
	assert.Equal(t, event.KindMessageStart, events[0].Kind)
	assert.Equal(t, "GET", events[0].Head.Attrs[attrMethod])
	assert.Equal(t, "/widgets", events[0].Head.Attrs[attrPath])
	assert.Equal(t, "example.com", events[0].Head.Attrs["host"])
	rl, ok := events[0].Head.Extra.(*RequestLine)
	require.True(t, ok)
	assert.Equal(t, "GET", rl.Method)
	assert.Equal(t, event.KindMessageEnd, events[1].Kind)
}

func TestDecoderContentLengthBody(t *testing.T) {
	rec := &recorder{}
	d := NewDecoder(Config{}, rec)
	feedAll(t, d, "POST /items HTTP/1.1\r\nHost: h\r\nContent-Length: 5\r\n\r\nhello")

	events := rec.take()
	require.Len(t, events, 3)
	assert.Equal(t, event.KindData, events[1].Kind)
	assert.Equal(t, "hello", string(events[1].Data.Bytes()))
	assert.Equal(t, event.KindMessageEnd, events[2].Kind)
}

func TestDecoderBodySplitAcrossFeeds(t *testing.T) {
	rec := &recorder{}
	d := NewDecoder(Config{}, rec)
	feedAll(t, d, "POST /items HTTP/1.1\r\nContent-Length: 10\r\n\r\n", "abcde", "fghij")

	events := rec.take()
	var body strings.Builder
	for _, e := range events {
		if e.Kind == event.KindData {
			body.Write(e.Data.Bytes())
		}
	}
	assert.Equal(t, "abcdefghij", body.String())
}

func TestDecoderChunkedBody(t *testing.T) {
	rec := &recorder{}
	d := NewDecoder(Config{}, rec)
	feedAll(t, d,
		"POST /stream HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n"+
			"5\r\nhello\r\n"+
			"6\r\n world\r\n"+
			"0\r\n\r\n")

	events := rec.take()
	var body strings.Builder
	var sawEnd bool
	for _, e := range events {
		if e.Kind == event.KindData {
			body.Write(e.Data.Bytes())
		}
		if e.Kind == event.KindMessageEnd {
			sawEnd = true
		}
	}
	assert.Equal(t, "hello world", body.String())
	assert.True(t, sawEnd)
}

func TestDecoderChunkedTrailers(t *testing.T) {
	rec := &recorder{}
	d := NewDecoder(Config{}, rec)
	feedAll(t, d,
		"POST /stream HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n"+
			"2\r\nok\r\n"+
			"0\r\nX-Checksum: abc123\r\n\r\n")

	events := rec.take()
	last := events[len(events)-1]
	require.Equal(t, event.KindMessageEnd, last.Kind)
	require.NotNil(t, last.Tail)
	assert.Equal(t, "abc123", last.Tail.Attrs["x-checksum"])
}

func TestDecoderResponseRole(t *testing.T) {
	rec := &recorder{}
	d := NewDecoder(Config{}, rec)
	feedAll(t, d, "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nOK")

	events := rec.take()
	require.Len(t, events, 3)
	assert.Equal(t, "200", events[0].Head.Attrs[attrStatus])
	sl, ok := events[0].Head.Extra.(*StatusLine)
	require.True(t, ok)
	assert.Equal(t, "OK", sl.Reason)
	assert.Equal(t, "OK", string(events[1].Data.Bytes()))
}

func TestDecoderNoBodyStatusCodes(t *testing.T) {
	rec := &recorder{}
	d := NewDecoder(Config{}, rec)
	// A 204 carrying a stale Content-Length must not be read as a body.
	feedAll(t, d, "HTTP/1.1 204 No Content\r\nContent-Length: 5\r\n\r\n")

	events := rec.take()
	require.Len(t, events, 2)
	assert.Equal(t, event.KindMessageStart, events[0].Kind)
	assert.Equal(t, event.KindMessageEnd, events[1].Kind)
}

func TestDecoderMultipleMessagesOnOneConnection(t *testing.T) {
	rec := &recorder{}
	d := NewDecoder(Config{}, rec)
	feedAll(t, d,
		"GET /a HTTP/1.1\r\nHost: h\r\n\r\n",
		"GET /b HTTP/1.1\r\nHost: h\r\n\r\n",
	)

	events := rec.take()
	require.Len(t, events, 4)
	assert.Equal(t, "/a", events[0].Head.Attrs[attrPath])
	assert.Equal(t, "/b", events[2].Head.Attrs[attrPath])
}

func TestDecoderNoBodyDefault(t *testing.T) {
	rec := &recorder{}
	d := NewDecoder(Config{}, rec)
	feedAll(t, d, "GET / HTTP/1.1\r\nHost: h\r\n\r\n")

	events := rec.take()
	require.Len(t, events, 2)
	assert.Equal(t, event.KindMessageEnd, events[1].Kind)
}

func TestDecoderMalformedChunkSizeRejected(t *testing.T) {
	rec := &recorder{}
	d := NewDecoder(Config{}, rec)
	err := d.Feed(databuf.FromBytes([]byte(
		"POST /x HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\nZZ\r\n")))
	assert.Error(t, err)
}
