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
	"encoding/binary"

	"github.com/fluxgate/fluxd/databuf"
	"github.com/fluxgate/fluxd/deframer"
	"github.com/fluxgate/fluxd/event"
	"github.com/fluxgate/fluxd/filter"
)

const (
	stateFrameLenFilled = iota
	stateFramePayloadFilled
)

const maxFillChunk = 64 * 1024

// Decoder turns a stream of framed-transport Thrift messages into
// event.Event values, one MessageStart, Data?, MessageEnd span per
// message (no Data for an empty body).
type Decoder struct {
	cfg Config
	out filter.Receiver
	df  *deframer.Deframer

	lenBuf [frameLengthSize]byte

	frameLen  int
	remaining int
	frame     databuf.Data
}

// NewDecoder constructs a Decoder that emits events to out.
func NewDecoder(cfg Config, out filter.Receiver) *Decoder {
	cfg = cfg.withDefaults()
	d := &Decoder{cfg: cfg, out: out}
	d.df = deframer.New(d)
	d.df.RequestFillBuffer(frameLengthSize, d.lenBuf[:])
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
	case stateFrameLenFilled:
		return d.onFrameLenFilled()
	case stateFramePayloadFilled:
		return d.onFramePayloadFilled()
	default:
		return deframer.StateDone, newError("unknown decoder state %d", state)
	}
}

func (d *Decoder) onFrameLenFilled() (int, error) {
	d.frameLen = int(binary.BigEndian.Uint32(d.lenBuf[:]))
	if d.frameLen <= 0 || d.frameLen > d.cfg.MaxFrameLength {
		return deframer.StateDone, newError("frame length %d out of bounds", d.frameLen)
	}
	d.remaining = d.frameLen
	d.frame = databuf.Data{}
	d.df.RequestFillData(clampChunk(d.remaining))
	return stateFramePayloadFilled, nil
}

func (d *Decoder) onFramePayloadFilled() (int, error) {
	chunk := d.df.TakeFillData()
	d.frame.Push(chunk)
	d.remaining -= chunk.Len()
	if d.remaining > 0 {
		d.df.RequestFillData(clampChunk(d.remaining))
		return stateFramePayloadFilled, nil
	}
	frame := d.frame
	d.frame = databuf.Data{}
	return d.emit(frame)
}

func clampChunk(remaining int) int {
	if remaining > maxFillChunk {
		return maxFillChunk
	}
	return remaining
}

func (d *Decoder) emit(frame databuf.Data) (int, error) {
	buf := frame.Bytes()

	header, body, err := parseEnvelope(buf)
	if err != nil {
		frame.Close()
		return deframer.StateDone, err
	}

	attrs := map[string]string{
		attrMessageType: messageTypeName(header.messageType),
		attrMethodName:  header.methodName,
	}
	streamID := uint32(header.seqID)

	head := &event.Head{Protocol: PROTO, Attrs: attrs}
	d.out.Accept(event.MessageStart(streamID, head))
	d.df.SetMidMessage(true)
	if len(body) > 0 {
		d.out.Accept(event.DataEvent(streamID, databuf.FromBytes(body)))
	}
	frame.Close()
	d.out.Accept(event.MessageEnd(streamID, nil))
	d.df.SetMidMessage(false)

	d.df.RequestFillBuffer(frameLengthSize, d.lenBuf[:])
	return stateFrameLenFilled, nil
}

type envelope struct {
	messageType uint8
	methodName  string
	seqID       int32
}

// parseEnvelope reads a strict TBinaryProtocol message header (version
// + type, method name, sequence id) off the front of buf and returns
// the remaining bytes as the unparsed struct body.
func parseEnvelope(buf []byte) (envelope, []byte, error) {
	if len(buf) < 4 {
		return envelope{}, nil, newError("frame too short for message header")
	}
	word0 := binary.BigEndian.Uint32(buf[0:4])
	if word0&0x80000000 == 0 {
		return envelope{}, nil, newError("non-strict (unversioned) TBinaryProtocol messages are not supported")
	}
	if word0&versionMask != version1 {
		return envelope{}, nil, newError("unsupported TBinaryProtocol version %#x", word0&versionMask)
	}
	msgType := uint8(word0 & typeMask)
	buf = buf[4:]

	if len(buf) < 4 {
		return envelope{}, nil, newError("frame too short for method name length")
	}
	nameLen := int(int32(binary.BigEndian.Uint32(buf[0:4])))
	buf = buf[4:]
	if nameLen < 0 || nameLen > len(buf) {
		return envelope{}, nil, newError("method name length %d out of bounds", nameLen)
	}
	name := string(buf[:nameLen])
	buf = buf[nameLen:]

	if len(buf) < 4 {
		return envelope{}, nil, newError("frame too short for sequence id")
	}
	seqID := int32(binary.BigEndian.Uint32(buf[0:4]))
	buf = buf[4:]

	return envelope{messageType: msgType, methodName: name, seqID: seqID}, buf, nil
}
