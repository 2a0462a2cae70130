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

	"github.com/fluxgate/fluxd/databuf"
	"github.com/fluxgate/fluxd/event"
)

// streamState tracks one HTTP/2 stream's decode-side progress and flow
// control windows. It plays the role the original streamDecoder played,
// generalized from "accumulate until a complete Request/Response, then
// archive" to "accumulate until a complete header block, then forward a
// MessageStart/MessageEnd downstream and keep the stream open for
// further Data/trailers."
type streamState struct {
	id uint32

	headerBuf    bytes.Buffer // accumulates HEADERS+CONTINUATION fragments
	sawHeaders   bool         // a header block has already opened this message
	endStream    bool         // END_STREAM seen; no more Data/trailers expected
	pendingEnd   bool         // END_STREAM was set on the most recent HEADERS frame

	recvWindow int64 // this connection's credit for data this stream may still send us
	sendWindow int64 // our credit to send data on this stream, debited per DATA frame

	queued       databuf.Data // queued outbound body bytes blocked on sendWindow, encode side
	endPending   bool         // outbound MessageEnd(nil) seen; final DATA frame carries END_STREAM
	trailPending *event.Tail  // outbound MessageEnd(tail) seen; emitted once queued drains
}

func newStreamState(id uint32, initialRecv, initialSend int64) *streamState {
	return &streamState{id: id, recvWindow: initialRecv, sendWindow: initialSend}
}

// debitSend reduces the stream's send window by n, used before emitting
// a DATA frame; callers must not send more than sendWindow allows.
func (s *streamState) debitSend(n int64) { s.sendWindow -= n }

// creditSend applies a WINDOW_UPDATE increment from the peer.
func (s *streamState) creditSend(n int64) { s.sendWindow += n }

// debitRecv reduces the stream's receive window as inbound DATA arrives.
func (s *streamState) debitRecv(n int64) { s.recvWindow -= n }

// creditRecv restores the receive window by n after we emit our own
// WINDOW_UPDATE.
func (s *streamState) creditRecv(n int64) { s.recvWindow += n }
