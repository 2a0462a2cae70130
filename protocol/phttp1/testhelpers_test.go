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
	"bytes"
	"sync"

	"github.com/fluxgate/fluxd/databuf"
	"github.com/fluxgate/fluxd/event"
)

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

func (w *bufWriter) String() string {
	return string(w.bytes())
}
