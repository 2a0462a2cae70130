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

func buildMessage(msgType uint8, name string, seqID int32, body []byte) []byte {
	var envelope bytes.Buffer
	var word0 [4]byte
	binary.BigEndian.PutUint32(word0[:], version1|uint32(msgType)&typeMask)
	envelope.Write(word0[:])

	var nameLen [4]byte
	binary.BigEndian.PutUint32(nameLen[:], uint32(len(name)))
	envelope.Write(nameLen[:])
	envelope.WriteString(name)

	var seqBuf [4]byte
	binary.BigEndian.PutUint32(seqBuf[:], uint32(seqID))
	envelope.Write(seqBuf[:])

	envelope.Write(body)

	var lenBuf [frameLengthSize]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(envelope.Len()))
	return append(lenBuf[:], envelope.Bytes()...)
}
