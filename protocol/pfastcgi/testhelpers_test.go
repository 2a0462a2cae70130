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

package pfastcgi

import (
	"bytes"
	"encoding/binary"
	"sync"

	"github.com/fluxgate/fluxd/databuf"
	"github.com/fluxgate/fluxd/event"
)

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

func buildRecord(recType uint8, requestID uint16, content []byte, padLen int) []byte {
	var hdr [headerLength]byte
	hdr[0] = protocolVersion1
	hdr[1] = recType
	binary.BigEndian.PutUint16(hdr[2:4], requestID)
	binary.BigEndian.PutUint16(hdr[4:6], uint16(len(content)))
	hdr[6] = byte(padLen)
	hdr[7] = 0
	out := append(hdr[:], content...)
	out = append(out, make([]byte, padLen)...)
	return out
}
