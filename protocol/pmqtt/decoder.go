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

package pmqtt

import (
	"strconv"

	"github.com/fluxgate/fluxd/databuf"
	"github.com/fluxgate/fluxd/deframer"
	"github.com/fluxgate/fluxd/event"
	"github.com/fluxgate/fluxd/filter"
)

const (
	stateTypeByte = iota
	stateRemainingLenByte
	statePayloadFilled
)

const maxFillChunk = 64 * 1024

// Decoder turns a stream of MQTT control packets into event.Event
// values, one MessageStart..Data?..MessageEnd span per packet.
type Decoder struct {
	cfg Config
	out filter.Receiver
	df  *deframer.Deframer

	typ         uint8
	flags       uint8
	remLen      uint32
	remLenShift uint

	payload          databuf.Data
	payloadRemaining int
}

// NewDecoder constructs a Decoder that emits events to out.
func NewDecoder(cfg Config, out filter.Receiver) *Decoder {
	cfg = cfg.withDefaults()
	d := &Decoder{cfg: cfg, out: out}
	d.df = deframer.New(d)
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
	case stateTypeByte:
		d.typ = uint8(b) >> 4
		d.flags = uint8(b) & 0x0f
		d.remLen = 0
		d.remLenShift = 0
		return stateRemainingLenByte, nil

	case stateRemainingLenByte:
		d.remLen |= uint32(b&0x7f) << d.remLenShift
		if b&0x80 != 0 {
			d.remLenShift += 7
			if d.remLenShift > 21 {
				return deframer.StateDone, newError("remaining length varint exceeds 4 bytes")
			}
			return stateRemainingLenByte, nil
		}
		if int(d.remLen) > d.cfg.MaxPacketSize {
			return deframer.StateDone, newError("remaining length %d exceeds max_packet_size", d.remLen)
		}
		d.payload = databuf.Data{}
		d.payloadRemaining = int(d.remLen)
		if d.payloadRemaining == 0 {
			return d.decodePacket(databuf.Data{})
		}
		d.df.RequestFillData(clampChunk(d.payloadRemaining))
		return statePayloadFilled, nil

	case statePayloadFilled:
		chunk := d.df.TakeFillData()
		d.payload.Push(chunk)
		d.payloadRemaining -= chunk.Len()
		if d.payloadRemaining > 0 {
			d.df.RequestFillData(clampChunk(d.payloadRemaining))
			return statePayloadFilled, nil
		}
		payload := d.payload
		d.payload = databuf.Data{}
		return d.decodePacket(payload)

	default:
		return deframer.StateDone, newError("unknown decoder state %d", state)
	}
}

func clampChunk(remaining int) int {
	if remaining > maxFillChunk {
		return maxFillChunk
	}
	return remaining
}

// decodePacket parses one complete control packet's variable header and
// payload, then emits MessageStart/Data?/MessageEnd.
func (d *Decoder) decodePacket(payload databuf.Data) (int, error) {
	raw := payload.Bytes()
	payload.Close()

	attrs := map[string]string{attrType: typeName(d.typ)}
	var streamID uint32
	var body []byte

	switch d.typ {
	case typeCONNECT:
		rest, err := parseConnect(raw, attrs)
		if err != nil {
			return deframer.StateDone, err
		}
		body = rest

	case typeCONNACK:
		if len(raw) < 2 {
			return deframer.StateDone, newError("truncated CONNACK")
		}
		attrs["mqtt.session_present"] = boolStr(raw[0]&0x01 != 0)
		attrs[attrReturnCod] = strconv.Itoa(int(raw[1]))

	case typePUBLISH:
		qos := (d.flags >> 1) & 0x03
		attrs[attrQoS] = strconv.Itoa(int(qos))
		attrs[attrDup] = boolStr(d.flags&0x08 != 0)
		attrs[attrRetain] = boolStr(d.flags&0x01 != 0)
		topic, rest, err := readUTF8String(raw)
		if err != nil {
			return deframer.StateDone, newError("PUBLISH topic: %v", err)
		}
		attrs[attrTopic] = topic
		if qos > 0 {
			if len(rest) < 2 {
				return deframer.StateDone, newError("truncated PUBLISH packet id")
			}
			streamID = uint32(rest[0])<<8 | uint32(rest[1])
			rest = rest[2:]
		}
		body = rest

	case typeSUBSCRIBE, typeUNSUBSCRIBE:
		if len(raw) < 2 {
			return deframer.StateDone, newError("truncated %s packet id", typeName(d.typ))
		}
		streamID = uint32(raw[0])<<8 | uint32(raw[1])
		body = raw[2:]

	case typeSUBACK:
		if len(raw) < 2 {
			return deframer.StateDone, newError("truncated SUBACK packet id")
		}
		streamID = uint32(raw[0])<<8 | uint32(raw[1])
		body = raw[2:] // per-topic return codes, left as raw payload

	case typePUBACK, typePUBREC, typePUBREL, typePUBCOMP, typeUNSUBACK:
		if len(raw) < 2 {
			return deframer.StateDone, newError("truncated %s packet id", typeName(d.typ))
		}
		streamID = uint32(raw[0])<<8 | uint32(raw[1])

	case typePINGREQ, typePINGRESP, typeDISCONNECT:
		// no variable header

	default:
		return deframer.StateDone, newError("unsupported control packet type %d", d.typ)
	}

	head := &event.Head{Protocol: PROTO, Attrs: attrs}
	d.out.Accept(event.MessageStart(streamID, head))
	d.df.SetMidMessage(true)
	if len(body) > 0 {
		d.out.Accept(event.DataEvent(streamID, databuf.FromBytes(body)))
	}
	d.out.Accept(event.MessageEnd(streamID, nil))
	d.df.SetMidMessage(false)

	return stateTypeByte, nil
}

// parseConnect parses the CONNECT variable header (protocol name,
// level, connect flags, keep-alive) and payload (client ID, optional
// will topic/message, optional username/password), returning whatever
// bytes remain after every flagged field (normally none).
func parseConnect(raw []byte, attrs map[string]string) ([]byte, error) {
	proto, rest, err := readUTF8String(raw)
	if err != nil {
		return nil, newError("CONNECT protocol name: %v", err)
	}
	if len(rest) < 4 {
		return nil, newError("truncated CONNECT variable header")
	}
	level := rest[0]
	flags := rest[1]
	keepAlive := uint16(rest[2])<<8 | uint16(rest[3])
	rest = rest[4:]

	attrs["mqtt.protocol_name"] = proto
	attrs["mqtt.protocol_level"] = strconv.Itoa(int(level))
	attrs["mqtt.clean_session"] = boolStr(flags&0x02 != 0)
	attrs["mqtt.keep_alive"] = strconv.Itoa(int(keepAlive))

	clientID, rest, err := readUTF8String(rest)
	if err != nil {
		return nil, newError("CONNECT client id: %v", err)
	}
	attrs[attrClientID] = clientID

	if flags&0x04 != 0 {
		willTopic, r2, err := readUTF8String(rest)
		if err != nil {
			return nil, newError("CONNECT will topic: %v", err)
		}
		rest = r2
		attrs["mqtt.will_topic"] = willTopic

		willMessage, r3, err := readUTF8String(rest)
		if err != nil {
			return nil, newError("CONNECT will message: %v", err)
		}
		rest = r3
		attrs["mqtt.will_message"] = willMessage
	}
	if flags&0x80 != 0 {
		username, r2, err := readUTF8String(rest)
		if err != nil {
			return nil, newError("CONNECT username: %v", err)
		}
		rest = r2
		attrs["mqtt.username"] = username
	}
	if flags&0x40 != 0 {
		password, r2, err := readUTF8String(rest)
		if err != nil {
			return nil, newError("CONNECT password: %v", err)
		}
		rest = r2
		attrs["mqtt.password"] = password
	}
	return rest, nil
}

func readUTF8String(b []byte) (string, []byte, error) {
	if len(b) < 2 {
		return "", nil, newError("truncated string length prefix")
	}
	n := int(b[0])<<8 | int(b[1])
	b = b[2:]
	if len(b) < n {
		return "", nil, newError("truncated string content")
	}
	return string(b[:n]), b[n:], nil
}

func boolStr(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
