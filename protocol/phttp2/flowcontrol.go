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

// connFlow tracks the connection-wide flow-control windows alongside
// each stream's own (stream.go's streamState.recvWindow/sendWindow).
// DATA frames debit both the connection and stream windows at once;
// WINDOW_UPDATE frames with StreamID 0 credit only the connection
// window.
type connFlow struct {
	recvWindow int64
	sendWindow int64
	max        int64
}

func newConnFlow(max int64) *connFlow {
	return &connFlow{recvWindow: max, sendWindow: max, max: max}
}

// shouldCredit reports whether window has fallen below half of max, the
// conventional threshold for emitting a WINDOW_UPDATE, and the delta
// needed to refill it back to max.
func shouldCredit(window, max int64) (delta uint32, ok bool) {
	if max <= 0 || window >= max/2 {
		return 0, false
	}
	return uint32(max - window), true
}

// maxSendChunk returns how many of n pending bytes may be sent right now
// given the smaller of the connection and stream send windows, and
// whether the full amount was accommodated.
func maxSendChunk(n int, connWindow, streamWindow int64) (send int, complete bool) {
	avail := connWindow
	if streamWindow < avail {
		avail = streamWindow
	}
	if avail <= 0 {
		return 0, false
	}
	if int64(n) <= avail {
		return n, true
	}
	return int(avail), false
}
