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
	"bytes"
	"strconv"

	"github.com/fluxgate/fluxd/event"
)

// Writer is the byte sink an Encoder serializes control packets into.
type Writer interface {
	Write(p []byte) error
}

var reverseTypeName = func() map[string]uint8 {
	m := make(map[string]uint8, len(typeNames))
	for t, name := range typeNames {
		m[name] = t
	}
	return m
}()

// Encoder turns outbound event.Event values into MQTT control packets.
// MQTT has no mid-packet chunking at the wire level, so an Encoder
// buffers every Data chunk belonging to one message and writes the
// whole packet, remaining-length prefix included, on MessageEnd.
type Encoder struct {
	w       Writer
	onError func(error)

	streamID uint32
	attrs    map[string]string
	body     bytes.Buffer
}

// NewEncoder constructs an Encoder writing to w.
func NewEncoder(w Writer, onError func(error)) *Encoder {
	return &Encoder{w: w, onError: onError}
}

// Accept implements filter.Receiver.
func (en *Encoder) Accept(e event.Event) {
	var err error
	switch e.Kind {
	case event.KindMessageStart:
		err = en.startMessage(e)
	case event.KindData:
		en.body.Write(e.Data.Bytes())
		e.Data.Close()
	case event.KindMessageEnd:
		err = en.flush()
	case event.KindStreamEnd:
		// no connection-level frame to emit here
	}
	if err != nil && en.onError != nil {
		en.onError(err)
	}
}

func (en *Encoder) startMessage(e event.Event) error {
	if e.Head == nil {
		return newError("MessageStart with nil Head")
	}
	en.attrs = e.Head.Attrs
	en.streamID = e.StreamID
	en.body.Reset()
	return nil
}

func (en *Encoder) flush() error {
	typ, ok := reverseTypeName[en.attrs[attrType]]
	if !ok {
		return newError("unknown mqtt.type %q", en.attrs[attrType])
	}

	var varHeader bytes.Buffer
	var flags byte

	switch typ {
	case typeCONNECT:
		writeUTF8String(&varHeader, nonEmpty(en.attrs["mqtt.protocol_name"], "MQTT"))
		level, _ := strconv.Atoi(en.attrs["mqtt.protocol_level"])
		varHeader.WriteByte(byte(level))

		var connFlags byte
		if en.attrs["mqtt.clean_session"] == "true" {
			connFlags |= 0x02
		}
		_, hasWill := en.attrs["mqtt.will_topic"]
		if hasWill {
			connFlags |= 0x04
		}
		if _, ok := en.attrs["mqtt.username"]; ok {
			connFlags |= 0x80
		}
		if _, ok := en.attrs["mqtt.password"]; ok {
			connFlags |= 0x40
		}
		varHeader.WriteByte(connFlags)

		keepAlive, _ := strconv.Atoi(en.attrs["mqtt.keep_alive"])
		varHeader.WriteByte(byte(keepAlive >> 8))
		varHeader.WriteByte(byte(keepAlive))

		writeUTF8String(&varHeader, en.attrs[attrClientID])
		if hasWill {
			writeUTF8String(&varHeader, en.attrs["mqtt.will_topic"])
			writeUTF8String(&varHeader, en.attrs["mqtt.will_message"])
		}
		if u, ok := en.attrs["mqtt.username"]; ok {
			writeUTF8String(&varHeader, u)
		}
		if p, ok := en.attrs["mqtt.password"]; ok {
			writeUTF8String(&varHeader, p)
		}

	case typeCONNACK:
		var b0 byte
		if en.attrs["mqtt.session_present"] == "true" {
			b0 = 0x01
		}
		rc, _ := strconv.Atoi(en.attrs[attrReturnCod])
		varHeader.WriteByte(b0)
		varHeader.WriteByte(byte(rc))

	case typePUBLISH:
		writeUTF8String(&varHeader, en.attrs[attrTopic])
		qos, _ := strconv.Atoi(en.attrs[attrQoS])
		if qos > 0 {
			varHeader.WriteByte(byte(en.streamID >> 8))
			varHeader.WriteByte(byte(en.streamID))
		}
		flags |= byte(qos&0x03) << 1
		if en.attrs[attrDup] == "true" {
			flags |= 0x08
		}
		if en.attrs[attrRetain] == "true" {
			flags |= 0x01
		}

	case typeSUBSCRIBE, typeUNSUBSCRIBE, typeSUBACK,
		typePUBACK, typePUBREC, typePUBCOMP, typeUNSUBACK:
		varHeader.WriteByte(byte(en.streamID >> 8))
		varHeader.WriteByte(byte(en.streamID))

	case typePUBREL:
		varHeader.WriteByte(byte(en.streamID >> 8))
		varHeader.WriteByte(byte(en.streamID))
		flags = 0x02 // PUBREL's fixed-header flags are fixed at 0b0010

	case typePINGREQ, typePINGRESP, typeDISCONNECT:
		// no variable header

	default:
		return newError("unsupported control packet type %d", typ)
	}

	remaining := varHeader.Len() + en.body.Len()
	var out bytes.Buffer
	out.WriteByte(typ<<4 | flags)
	writeRemainingLength(&out, remaining)
	out.Write(varHeader.Bytes())
	out.Write(en.body.Bytes())

	err := en.w.Write(out.Bytes())
	en.attrs = nil
	en.streamID = 0
	en.body.Reset()
	return err
}

func writeRemainingLength(buf *bytes.Buffer, n int) {
	for {
		b := byte(n % 128)
		n /= 128
		if n > 0 {
			b |= 0x80
		}
		buf.WriteByte(b)
		if n == 0 {
			return
		}
	}
}

func writeUTF8String(buf *bytes.Buffer, s string) {
	buf.WriteByte(byte(len(s) >> 8))
	buf.WriteByte(byte(len(s)))
	buf.WriteString(s)
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
