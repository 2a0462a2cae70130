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

// Package deframer implements the byte-level state machine base that
// every binary protocol decoder in the engine embeds. It absorbs the
// "what if a frame boundary falls in the middle of a chunk" problem once,
// the way protocol/phttp2/stream.go absorbs it for one protocol by hand.
package deframer

import (
	"github.com/fluxgate/fluxd/databuf"
)

// Mode selects how the next span of bytes is consumed.
type Mode uint8

const (
	// ModeByteScan calls Hooks.OnState once per byte.
	ModeByteScan Mode = iota
	// ModeFillBuffer accumulates exactly N bytes into a caller buffer,
	// then calls Hooks.OnState(state, -1) once.
	ModeFillBuffer
	// ModeFillData accumulates exactly N bytes into a databuf.Data, then
	// calls Hooks.OnState(state, -1) once.
	ModeFillData
	// ModePassThrough hands chunks to Hooks.OnPass as they arrive without
	// byte-level inspection, for bodies of known length.
	ModePassThrough
)

// StateDone is a sentinel on_state return meaning "stop scanning, an
// error occurred." Protocol code typically defines its own named states
// starting at 0; -1 is reserved by the deframer for this purpose.
const StateDone int = -1

// Hooks are the subclass callbacks a concrete protocol decoder supplies.
type Hooks interface {
	// OnState is called once per scanned byte in ModeByteScan (with the
	// byte value) or once after a fill/fill-data completes (with b=-1).
	// It returns the next state, or StateDone on protocol error.
	OnState(state int, b int) (next int, err error)

	// OnPass is called with each chunk of pass-through body bytes as they
	// arrive; err aborts the stream.
	OnPass(d databuf.Data) error

	// OnStreamEnd is invoked when a StreamEnd arrives while the decoder is
	// mid-message; the subclass reports a protocol error through its own
	// channel (e.g. emitting event.StreamEnd{ProtocolError}).
	OnStreamEnd()
}

// request describes what the deframer should do to satisfy the current
// mode before calling back into Hooks.OnState.
type request struct {
	mode   Mode
	n      int // remaining bytes needed for Fill*/PassThrough modes
	buf    []byte
	bufOff int // bytes already written into buf
}

// Deframer drives Hooks across successive Data events, carrying partial
// buffer fills across event boundaries.
type Deframer struct {
	hooks Hooks
	state int

	req       request
	fillData  databuf.Data
	midMsg    bool // true while inside a message, for the StreamEnd discipline
	errored   bool
}

// New creates a Deframer starting at state 0 in byte-scan mode.
func New(hooks Hooks) *Deframer {
	return &Deframer{hooks: hooks, req: request{mode: ModeByteScan}}
}

// State returns the current state value (for tests/diagnostics).
func (d *Deframer) State() int { return d.state }

// SetMidMessage marks whether the decoder currently sits inside a message,
// so a StreamEnd arriving now must be reported as a protocol error. Codecs
// call this right after MessageStart/MessageEnd.
func (d *Deframer) SetMidMessage(v bool) { d.midMsg = v }

// RequestFillBuffer switches to ModeFillBuffer for the next n bytes,
// delivered into buf (len(buf) must be >= n).
func (d *Deframer) RequestFillBuffer(n int, buf []byte) {
	d.req = request{mode: ModeFillBuffer, n: n, buf: buf, bufOff: 0}
}

// RequestFillData switches to ModeFillData for the next n bytes.
func (d *Deframer) RequestFillData(n int) {
	d.req = request{mode: ModeFillData, n: n}
	d.fillData = databuf.Data{}
}

// RequestPassThrough switches to ModePassThrough for the next n bytes.
func (d *Deframer) RequestPassThrough(n int) {
	d.req = request{mode: ModePassThrough, n: n}
}

// RequestByteScan switches back to per-byte scanning.
func (d *Deframer) RequestByteScan() {
	d.req = request{mode: ModeByteScan}
}

// Errored reports whether the deframer has hit a terminal protocol error
// and should not be fed further Data.
func (d *Deframer) Errored() bool { return d.errored }

// Feed consumes one Data event, driving Hooks according to the current
// mode, and returns an error if Hooks reported a protocol violation.
// Feeding the same logical input split at any byte boundary must yield
// the same sequence of OnState return values — callers never need to
// buffer a whole frame themselves.
func (d *Deframer) Feed(in databuf.Data) error {
	if d.errored {
		return nil
	}
	for in.Len() > 0 {
		switch d.req.mode {
		case ModeByteScan:
			b := in.Shift(1).Bytes()[0]
			next, err := d.hooks.OnState(d.state, int(b))
			if err != nil || next == StateDone {
				d.errored = true
				return err
			}
			d.state = next

		case ModeFillBuffer:
			n := d.req.n
			if n > in.Len() {
				n = in.Len()
			}
			chunk := in.Shift(n)
			copy(d.req.buf[d.req.bufOff:], chunk.Bytes())
			d.req.bufOff += n
			d.req.n -= n
			if d.req.n > 0 {
				continue // exhausted `in`, wait for more Data
			}
			next, err := d.hooks.OnState(d.state, -1)
			if err != nil || next == StateDone {
				d.errored = true
				return err
			}
			d.state = next

		case ModeFillData:
			n := d.req.n
			if n > in.Len() {
				n = in.Len()
			}
			chunk := in.Shift(n)
			d.fillData.Push(chunk)
			d.req.n -= n
			if d.req.n > 0 {
				continue
			}
			next, err := d.hooks.OnState(d.state, -1)
			if err != nil || next == StateDone {
				d.errored = true
				return err
			}
			d.state = next

		case ModePassThrough:
			n := d.req.n
			if n > in.Len() {
				n = in.Len()
			}
			chunk := in.Shift(n)
			d.req.n -= n
			if err := d.hooks.OnPass(chunk); err != nil {
				d.errored = true
				return err
			}
			if d.req.n == 0 {
				d.req.mode = ModeByteScan
			}
		}
	}
	return nil
}

// TakeFillData returns and clears the Data accumulated by the most recent
// ModeFillData completion. Call this from within OnState(state, -1).
func (d *Deframer) TakeFillData() databuf.Data {
	out := d.fillData
	d.fillData = databuf.Data{}
	return out
}

// StreamEnded notifies the deframer that the transport ended. Any
// buffered partial fill is discarded; if mid-message, Hooks.OnStreamEnd
// is invoked so the codec can surface a protocol error.
func (d *Deframer) StreamEnded() {
	if d.fillData.Len() > 0 {
		d.fillData.Close()
		d.fillData = databuf.Data{}
	}
	if d.midMsg {
		d.hooks.OnStreamEnd()
	}
}
