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
	"google.golang.org/protobuf/encoding/protowire"
)

// field is one decoded (or to-be-encoded) protobuf field occurrence.
// Repeated fields and unknown schemas both show up as multiple field
// entries under the same number, mirroring the per-field-number record
// list a schemaless protobuf reader keeps.
type field struct {
	wireType byte
	varint   uint64 // VARINT, I32, I64 raw bits
	bytes    []byte // LEN payload
}

// Message is a schemaless protobuf message: a multimap from field
// number to every occurrence seen on the wire, each still tagged with
// its wire type. It lets a filter inspect or rebuild a message without
// a generated descriptor, at the cost of not knowing a field's intended
// Go type until a caller asks for one.
type Message struct {
	fields map[int32][]field
	order  []int32 // first-seen field order, for deterministic re-encoding
}

// NewMessage returns an empty Message ready for Set* calls.
func NewMessage() *Message {
	return &Message{fields: make(map[int32][]field)}
}

func (m *Message) append(num int32, f field) {
	if _, ok := m.fields[num]; !ok {
		m.order = append(m.order, num)
	}
	m.fields[num] = append(m.fields[num], f)
}

// Unmarshal decodes buf into a fresh Message. It does not require a
// schema: every varint, fixed32, fixed64 and length-delimited field is
// kept keyed by its wire number and wire type; group fields are skipped.
func Unmarshal(buf []byte) (*Message, error) {
	m := NewMessage()
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, newError("invalid field tag: %v", protowire.ParseError(n))
		}
		buf = buf[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return nil, newError("invalid varint field %d: %v", num, protowire.ParseError(n))
			}
			m.append(int32(num), field{wireType: wireVarint, varint: v})
			buf = buf[n:]
		case protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(buf)
			if n < 0 {
				return nil, newError("invalid fixed32 field %d: %v", num, protowire.ParseError(n))
			}
			m.append(int32(num), field{wireType: wireFixed32, varint: uint64(v)})
			buf = buf[n:]
		case protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(buf)
			if n < 0 {
				return nil, newError("invalid fixed64 field %d: %v", num, protowire.ParseError(n))
			}
			m.append(int32(num), field{wireType: wireFixed64, varint: v})
			buf = buf[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return nil, newError("invalid length-delimited field %d: %v", num, protowire.ParseError(n))
			}
			cp := make([]byte, len(v))
			copy(cp, v)
			m.append(int32(num), field{wireType: wireBytes, bytes: cp})
			buf = buf[n:]
		case protowire.StartGroupType, protowire.EndGroupType:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return nil, newError("invalid group field %d: %v", num, protowire.ParseError(n))
			}
			buf = buf[n:]
		default:
			return nil, newError("unsupported wire type %d on field %d", typ, num)
		}
	}
	return m, nil
}

// Marshal encodes m back into protobuf wire format, fields in
// first-seen order and each field's occurrences in append order.
func Marshal(m *Message) []byte {
	var buf []byte
	for _, num := range m.order {
		for _, f := range m.fields[num] {
			switch f.wireType {
			case wireVarint:
				buf = protowire.AppendTag(buf, protowire.Number(num), protowire.VarintType)
				buf = protowire.AppendVarint(buf, f.varint)
			case wireFixed32:
				buf = protowire.AppendTag(buf, protowire.Number(num), protowire.Fixed32Type)
				buf = protowire.AppendFixed32(buf, uint32(f.varint))
			case wireFixed64:
				buf = protowire.AppendTag(buf, protowire.Number(num), protowire.Fixed64Type)
				buf = protowire.AppendFixed64(buf, f.varint)
			case wireBytes:
				buf = protowire.AppendTag(buf, protowire.Number(num), protowire.BytesType)
				buf = protowire.AppendBytes(buf, f.bytes)
			}
		}
	}
	return buf
}

// WireType reports the wire type of field's last occurrence, or false
// if the field was never set.
func (m *Message) WireType(field int32) (byte, bool) {
	fs, ok := m.fields[field]
	if !ok || len(fs) == 0 {
		return 0, false
	}
	return fs[len(fs)-1].wireType, true
}

func (m *Message) lastVarint(num int32) (uint64, bool) {
	fs, ok := m.fields[num]
	if !ok || len(fs) == 0 {
		return 0, false
	}
	return fs[len(fs)-1].varint, true
}

func (m *Message) lastBytes(num int32) ([]byte, bool) {
	fs, ok := m.fields[num]
	if !ok || len(fs) == 0 {
		return nil, false
	}
	return fs[len(fs)-1].bytes, true
}

// Uint64 returns field as a VARINT-encoded unsigned integer.
func (m *Message) Uint64(field int32) (uint64, bool) { return m.lastVarint(field) }

// Int64 returns field as a VARINT-encoded signed integer (two's
// complement, not zig-zag).
func (m *Message) Int64(field int32) (int64, bool) {
	v, ok := m.lastVarint(field)
	return int64(v), ok
}

// Bool returns field as a VARINT-encoded boolean.
func (m *Message) Bool(field int32) (bool, bool) {
	v, ok := m.lastVarint(field)
	return v != 0, ok
}

// SintZigZag returns field decoded as a zig-zag-encoded signed integer
// (protobuf's sint32/sint64).
func (m *Message) SintZigZag(field int32) (int64, bool) {
	v, ok := m.lastVarint(field)
	if !ok {
		return 0, false
	}
	return protowire.DecodeZigZag(v), ok
}

// Fixed32 returns field as a fixed-width 32-bit value.
func (m *Message) Fixed32(field int32) (uint32, bool) {
	v, ok := m.lastVarint(field)
	return uint32(v), ok
}

// Fixed64 returns field as a fixed-width 64-bit value.
func (m *Message) Fixed64(field int32) (uint64, bool) { return m.lastVarint(field) }

// Bytes returns field's length-delimited payload.
func (m *Message) Bytes(field int32) ([]byte, bool) { return m.lastBytes(field) }

// String returns field's length-delimited payload decoded as UTF-8.
func (m *Message) String(field int32) (string, bool) {
	b, ok := m.lastBytes(field)
	if !ok {
		return "", false
	}
	return string(b), ok
}

// Message returns field's length-delimited payload decoded as a nested
// Message. ok is false if field was never set; err reports a malformed
// nested payload.
func (m *Message) Message(field int32) (nested *Message, ok bool, err error) {
	b, ok := m.lastBytes(field)
	if !ok {
		return nil, false, nil
	}
	nested, err = Unmarshal(b)
	return nested, true, err
}

// SetVarint appends a VARINT occurrence of field.
func (m *Message) SetVarint(field int32, v uint64) { m.append(field, fieldVal(wireVarint, v, nil)) }

// SetZigZag appends a VARINT occurrence of field holding v zig-zag
// encoded, for protobuf's sint32/sint64.
func (m *Message) SetZigZag(field int32, v int64) {
	m.append(field, fieldVal(wireVarint, protowire.EncodeZigZag(v), nil))
}

// SetFixed32 appends a fixed-width 32-bit occurrence of field.
func (m *Message) SetFixed32(field int32, v uint32) {
	m.append(field, fieldVal(wireFixed32, uint64(v), nil))
}

// SetFixed64 appends a fixed-width 64-bit occurrence of field.
func (m *Message) SetFixed64(field int32, v uint64) {
	m.append(field, fieldVal(wireFixed64, v, nil))
}

// SetBytes appends a length-delimited occurrence of field.
func (m *Message) SetBytes(field int32, v []byte) { m.append(field, fieldVal(wireBytes, 0, v)) }

// SetString appends a length-delimited occurrence of field holding the
// UTF-8 bytes of v.
func (m *Message) SetString(field int32, v string) { m.SetBytes(field, []byte(v)) }

// SetMessage appends a length-delimited occurrence of field holding the
// marshaled bytes of nested.
func (m *Message) SetMessage(field int32, nested *Message) { m.SetBytes(field, Marshal(nested)) }

func fieldVal(wireType byte, v uint64, b []byte) field {
	return field{wireType: wireType, varint: v, bytes: b}
}
