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

// Codec is one HTTP/2 connection's full duplex pair: a Decoder fed raw
// inbound bytes (satisfying netio.Feeder) and an Encoder that turns
// outbound events into frames on w (satisfying filter.Receiver). The two
// halves share one stream table, one connection-level flow-control
// window and one guard mutex, constructed once here so neither half
// ever drifts from the other's view of a stream.
type Codec struct {
	Decoder *Decoder
	Encoder *Encoder
}

// NewCodec wires a Decoder/Encoder pair for one connection. out receives
// the Decoder's inbound events (typically a Pipeline's input); w is the
// connection's outbound byte sink; onError is invoked if the Encoder
// hits a write failure or cannot satisfy an outbound event (the caller
// tears the connection down the same way an inbound Decoder error
// would).
func NewCodec(cfg Config, out filter.Receiver, w Writer, onError func(error)) *Codec {
	cfg = cfg.withDefaults()
	mu := &sync.Mutex{}
	streams := scarce.NewTable()
	conn := newConnFlow(int64(cfg.ConnectionWindowSize))

	enc := NewEncoder(cfg, w, streams, conn, mu, onError)
	dec := NewDecoder(cfg, out, enc, streams, conn, mu)
	return &Codec{Decoder: dec, Encoder: enc}
}
