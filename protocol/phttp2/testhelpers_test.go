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
	"sync"

	"github.com/fluxgate/fluxd/databuf"
	"github.com/fluxgate/fluxd/event"
)

// buildFrame assembles one raw HTTP/2 frame: a 9-byte header followed by
// payload.
func buildFrame(streamID uint32, frameType, flags uint8, payload []byte) []byte {
	b := make([]byte, headerLength)
	putFrameHeader(b, uint32(len(payload)), frameType, flags, streamID)
	return append(b, payload...)
}

// buildHeadersFramePayload HPACK-encodes headers as literal fields with
// incremental indexing (no Huffman, so the raw bytes are trivial to
// reason about by hand), pseudo-headers first as RFC 7541 requires.
func buildHeadersFramePayload(padLen int, headers map[string]string) []byte {
	var buf bytes.Buffer
	if padLen > 0 {
		buf.WriteByte(byte(padLen))
	}

	writeField := func(name, value string) {
		buf.WriteByte(0x40) // literal header field with incremental indexing, new name
		buf.WriteByte(byte(len(name)))
		buf.WriteString(name)
		buf.WriteByte(byte(len(value)))
		buf.WriteString(value)
	}

	remaining := make(map[string]string, len(headers))
	for k, v := range headers {
		remaining[k] = v
	}
	for _, name := range pseudoHeaderOrder {
		if v, ok := remaining[name]; ok {
			writeField(name, v)
			delete(remaining, name)
		}
	}
	for name, v := range remaining {
		writeField(name, v)
	}

	if padLen > 0 {
		buf.Write(make([]byte, padLen))
	}
	return buf.Bytes()
}

// recorder is a filter.Receiver that appends every Event it sees, for
// test assertions.
type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) Accept(e event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.Kind == event.KindData {
		body := append([]byte(nil), e.Data.Bytes()...)
		e.Data.Close()
		r.events = append(r.events, event.Event{Kind: e.Kind, StreamID: e.StreamID, Data: databuf.FromBytes(body)})
		return
	}
	r.events = append(r.events, e)
}

func (r *recorder) take() []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.events
	r.events = nil
	return out
}

// bufWriter is a Writer that appends every write to an in-memory buffer.
type bufWriter struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (w *bufWriter) Write(p []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	return nil
}

func (w *bufWriter) bytes() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]byte(nil), w.buf.Bytes()...)
}
