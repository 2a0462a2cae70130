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
	"sync"

	"github.com/fluxgate/fluxd/filter"
	"github.com/fluxgate/fluxd/internal/scarce"
)

// NewConn builds the Decoder/Encoder pair for one HTTP/2 connection,
// owning the stream table, connection flow-control window and guard
// mutex the two directions must share. Callers that only need one
// direction (a test harness feeding canned frames, say) can still call
// NewDecoder/NewEncoder directly with their own state; NewConn exists so
// a listener driving a real socket never has to assemble that shared
// state by hand.
func NewConn(cfg Config, w Writer, out filter.Receiver, onError func(error)) (*Decoder, *Encoder) {
	cfg = cfg.withDefaults()
	streams := scarce.NewTable()
	conn := newConnFlow(int64(cfg.ConnectionWindowSize))
	var mu sync.Mutex

	enc := NewEncoder(cfg, w, streams, conn, &mu, onError)
	dec := NewDecoder(cfg, out, enc, streams, conn, &mu)
	return dec, enc
}
