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

package pbgp

import (
	"encoding/binary"
	"fmt"
	"net"

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

// Decoder turns a stream of BGP-4 messages into event.Event values, one
// MessageStart..Data..MessageEnd span per message. BGP has no in-band
// request/response correlation (one TCP session processes messages
// strictly in order), so every message is emitted on StreamID 0, the
// same always-zero convention protocol/phttp1 uses for its
// single-message-in-flight-at-a-time wire.
type Decoder struct {
	cfg Config
	out filter.Receiver
	df  *deframer.Deframer

	hdr [headerLength]byte

	msgType   uint8
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
	totalLen := int(binary.BigEndian.Uint16(d.hdr[markerLen : markerLen+2]))
	if totalLen < minMessageLength || totalLen > d.cfg.MaxMessageLength {
		return deframer.StateDone, newError("message length %d out of bounds", totalLen)
	}
	d.msgType = d.hdr[markerLen+2]
	d.bodyLen = totalLen - headerLength
	d.remaining = d.bodyLen
	d.body = databuf.Data{}

	if d.remaining == 0 {
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
	buf := body.Bytes()
	attrs := map[string]string{attrMessageType: typeName(d.msgType)}

	switch d.msgType {
	case typeOpen:
		if err := parseOpenFields(buf, attrs); err != nil {
			body.Close()
			return deframer.StateDone, err
		}
	case typeNotification:
		if err := parseNotificationFields(buf, attrs); err != nil {
			body.Close()
			return deframer.StateDone, err
		}
	}

	head := &event.Head{Protocol: PROTO, Attrs: attrs}
	d.out.Accept(event.MessageStart(0, head))
	d.df.SetMidMessage(true)
	if body.Len() > 0 {
		d.out.Accept(event.DataEvent(0, body))
	} else {
		body.Close()
	}
	d.out.Accept(event.MessageEnd(0, nil))
	d.df.SetMidMessage(false)

	d.df.RequestFillBuffer(headerLength, d.hdr[:])
	return stateHeaderFilled, nil
}

// parseOpenFields extracts OPEN's fixed leading fields (version, my AS,
// hold time, BGP identifier, optional parameters length) into attrs.
// The optional parameters themselves stay in the opaque body.
func parseOpenFields(buf []byte, attrs map[string]string) error {
	const fixedLen = 1 + 2 + 2 + 4 + 1
	if len(buf) < fixedLen {
		return newError("OPEN body too short: %d bytes", len(buf))
	}
	attrs[attrVersion] = fmt.Sprintf("%d", buf[0])
	attrs[attrMyAS] = fmt.Sprintf("%d", binary.BigEndian.Uint16(buf[1:3]))
	attrs[attrHoldTime] = fmt.Sprintf("%d", binary.BigEndian.Uint16(buf[3:5]))
	attrs[attrRouterID] = net.IP(buf[5:9]).String()
	attrs[attrOptParams] = fmt.Sprintf("%d", buf[9])
	return nil
}

// parseNotificationFields extracts NOTIFICATION's error code and
// subcode into attrs; any trailing error data stays in the opaque body.
func parseNotificationFields(buf []byte, attrs map[string]string) error {
	if len(buf) < 2 {
		return newError("NOTIFICATION body too short: %d bytes", len(buf))
	}
	attrs[attrErrorCode] = fmt.Sprintf("%d", buf[0])
	attrs[attrErrorSubcode] = fmt.Sprintf("%d", buf[1])
	return nil
}
