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

package pprotobuf

import (
	"encoding/binary"

	"github.com/fluxgate/fluxd/databuf"
	"github.com/fluxgate/fluxd/deframer"
	"github.com/fluxgate/fluxd/event"
	"github.com/fluxgate/fluxd/filter"
)

const (
	stateFrameHeaderFilled = iota
	stateFrameBodyFilled
)

const maxFillChunk = 64 * 1024

// Decoder turns a stream of length-delimited protobuf messages into
// event.Event values, one MessageStart, Data?, MessageEnd span per
// message (no Data for an empty body). The message body is passed through opaquely as raw bytes;
// callers that need field-level access call Unmarshal on it.
type Decoder struct {
	cfg Config
	out filter.Receiver
	df  *deframer.Deframer

	hdr [frameHeaderLen]byte

	msgLen    int
	remaining int
	body      databuf.Data

	streamID uint32
}

// NewDecoder constructs a Decoder that emits events to out.
func NewDecoder(cfg Config, out filter.Receiver) *Decoder {
	cfg = cfg.withDefaults()
	d := &Decoder{cfg: cfg, out: out}
	d.df = deframer.New(d)
	d.df.RequestFillBuffer(frameHeaderLen, d.hdr[:])
	return d
}

// Feed drives the decoder with the next span of inbound bytes.
func (d *Decoder) Feed(in databuf.Data) error {
	return d.df.Feed(in)
}

func (d *Decoder) OnPass(data databuf.Data) error {
	data.Close()
	return nil
}

func (d *Decoder) OnStreamEnd() {
	d.out.Accept(event.StreamEnd(0, event.ErrProtocolError))
}

func (d *Decoder) OnState(state int, b int) (int, error) {
	switch state {
	case stateFrameHeaderFilled:
		return d.onHeaderFilled()
	case stateFrameBodyFilled:
		return d.onBodyFilled()
	default:
		return deframer.StateDone, newError("unknown decoder state %d", state)
	}
}

func (d *Decoder) onHeaderFilled() (int, error) {
	compressed := d.hdr[0] != 0
	d.msgLen = int(binary.BigEndian.Uint32(d.hdr[1:5]))
	if d.msgLen < 0 || d.msgLen > d.cfg.MaxMessageLength {
		return deframer.StateDone, newError("message length %d out of bounds", d.msgLen)
	}
	d.remaining = d.msgLen
	d.body = databuf.Data{}
	d.streamID++

	attrs := map[string]string{attrCompressed: boolString(compressed)}
	d.out.Accept(event.MessageStart(d.streamID, &event.Head{Protocol: PROTO, Attrs: attrs}))
	d.df.SetMidMessage(true)

	if d.remaining == 0 {
		return d.finish()
	}
	d.df.RequestFillData(clampChunk(d.remaining))
	return stateFrameBodyFilled, nil
}

func (d *Decoder) onBodyFilled() (int, error) {
	chunk := d.df.TakeFillData()
	d.body.Push(chunk)
	d.remaining -= chunk.Len()
	if d.remaining > 0 {
		d.df.RequestFillData(clampChunk(d.remaining))
		return stateFrameBodyFilled, nil
	}
	return d.finish()
}

func (d *Decoder) finish() (int, error) {
	if d.body.Len() > 0 {
		d.out.Accept(event.DataEvent(d.streamID, d.body))
	} else {
		d.body.Close()
	}
	d.body = databuf.Data{}
	d.out.Accept(event.MessageEnd(d.streamID, nil))
	d.df.SetMidMessage(false)

	d.df.RequestFillBuffer(frameHeaderLen, d.hdr[:])
	return stateFrameHeaderFilled, nil
}

func clampChunk(remaining int) int {
	if remaining > maxFillChunk {
		return maxFillChunk
	}
	return remaining
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
