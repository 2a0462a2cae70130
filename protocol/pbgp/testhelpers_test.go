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

func buildMessage(msgType uint8, body []byte) []byte {
	var hdr [headerLength]byte
	for i := range hdr[:markerLen] {
		hdr[i] = 0xff
	}
	binary.BigEndian.PutUint16(hdr[markerLen:markerLen+2], uint16(headerLength+len(body)))
	hdr[markerLen+2] = msgType
	return append(hdr[:], body...)
}

func buildOpenBody(version uint8, myAS, holdTime uint16, routerID [4]byte, optParamLen uint8) []byte {
	body := make([]byte, 10)
	body[0] = version
	binary.BigEndian.PutUint16(body[1:3], myAS)
	binary.BigEndian.PutUint16(body[3:5], holdTime)
	copy(body[5:9], routerID[:])
	body[9] = optParamLen
	return body
}
