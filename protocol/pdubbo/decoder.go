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

package pdubbo

import (
	"encoding/binary"
	"strconv"

	"github.com/fluxgate/fluxd/databuf"
	"github.com/fluxgate/fluxd/deframer"
	"github.com/fluxgate/fluxd/event"
	"github.com/fluxgate/fluxd/filter"
)

const (
	stateHeaderFilled = iota
	stateBodyFilled
)

const maxFillChunk = 64 * 1024

// Decoder turns a stream of Dubbo frames into event.Event values, one
// MessageStart..Data?..MessageEnd span per frame.
type Decoder struct {
	cfg Config
	out filter.Receiver
	df  *deframer.Deframer

	hdr [headerLength]byte

	bodyLen   int
	remaining int
	body      databuf.Data
}

// NewDecoder constructs a Decoder that emits events to out.
func NewDecoder(cfg Config, out filter.Receiver) *Decoder {
	cfg = cfg.withDefaults()
	d := &Decoder{cfg: cfg, out: out}
	d.df = deframer.New(d)
	d.df.RequestFillBuffer(headerLength, d.hdr[:])
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
	case stateHeaderFilled:
		return d.onHeaderFilled()
	case stateBodyFilled:
		return d.onBodyFilled()
	default:
		return deframer.StateDone, newError("unknown decoder state %d", state)
	}
}

func (d *Decoder) onHeaderFilled() (int, error) {
	if d.hdr[0] != magicHigh || d.hdr[1] != magicLow {
		return deframer.StateDone, newError("bad magic %#x%#x", d.hdr[0], d.hdr[1])
	}
	d.bodyLen = int(binary.BigEndian.Uint32(d.hdr[12:16]))
	if d.bodyLen < 0 || d.bodyLen > d.cfg.MaxBodyLength {
		return deframer.StateDone, newError("body length %d exceeds max_body_length", d.bodyLen)
	}
	d.remaining = d.bodyLen
	d.body = databuf.Data{}
	if d.bodyLen == 0 {
		return d.emit(databuf.Data{})
	}
	d.df.RequestFillData(clampChunk(d.remaining))
	return stateBodyFilled, nil
}

func (d *Decoder) onBodyFilled() (int, error) {
	chunk := d.df.TakeFillData()
	d.body.Push(chunk)
	d.remaining -= chunk.Len()
	if d.remaining > 0 {
		d.df.RequestFillData(clampChunk(d.remaining))
		return stateBodyFilled, nil
	}
	body := d.body
	d.body = databuf.Data{}
	return d.emit(body)
}

func clampChunk(remaining int) int {
	if remaining > maxFillChunk {
		return maxFillChunk
	}
	return remaining
}

func (d *Decoder) emit(body databuf.Data) (int, error) {
	flag := d.hdr[2]
	status := d.hdr[3]
	requestID := binary.BigEndian.Uint64(d.hdr[4:12])

	attrs := map[string]string{
		attrRequest:         boolStr(flag&flagRequest != 0),
		attrTwoWay:          boolStr(flag&flagTwoWay != 0),
		attrEvent:           boolStr(flag&flagEvent != 0),
		attrSerializationID: strconv.Itoa(int(flag & serializationMask)),
	}
	if flag&flagRequest == 0 {
		attrs[attrStatus] = statusName(status)
	}

	// Dubbo's request ID is a 64-bit sequence counter; StreamID is 32
	// bits, so this keeps only the low bits. Not an issue for the normal
	// case of one counter per client connection, where the truncation
	// can only collide after ~4 billion in-flight requests.
	streamID := uint32(requestID)
	head := &event.Head{Protocol: PROTO, Attrs: attrs}
	d.out.Accept(event.MessageStart(streamID, head))
	d.df.SetMidMessage(true)
	if !body.Empty() {
		d.out.Accept(event.DataEvent(streamID, body))
	} else {
		body.Close()
	}
	d.out.Accept(event.MessageEnd(streamID, nil))
	d.df.SetMidMessage(false)

	d.df.RequestFillBuffer(headerLength, d.hdr[:])
	return stateHeaderFilled, nil
}

func boolStr(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
