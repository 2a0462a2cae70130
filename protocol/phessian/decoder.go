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

package phessian

import (
	"encoding/binary"
	"math"
)

// Decoder decodes a sequence of values out of one logical RPC body.
// Construct one per body; class layouts and back-references are only
// valid within the body that defined them.
type Decoder struct {
	cfg     Config
	classes *classCache
	seen    []Value
}

// NewDecoder constructs a Decoder.
func NewDecoder(cfg Config) *Decoder {
	cfg = cfg.withDefaults()
	return &Decoder{cfg: cfg, classes: newClassCache(cfg.ClassCacheSize)}
}

// Decode reads one value starting at buf[0] and returns it along with
// the number of bytes consumed.
func (d *Decoder) Decode(buf []byte) (Value, int, error) {
	if len(buf) == 0 {
		return Value{}, 0, newError("empty buffer")
	}
	tag := buf[0]
	switch tag {
	case tagNull:
		return Null(), 1, nil
	case tagTrue:
		return Bool(true), 1, nil
	case tagFalse:
		return Bool(false), 1, nil
	case tagInt:
		_, n, err := d.decodeFixed(buf, 1, 4)
		if err != nil {
			return Value{}, 0, err
		}
		return Int(int32(binary.BigEndian.Uint32(buf[1:5]))), n, nil
	case tagLong:
		_, n, err := d.decodeFixed(buf, 1, 8)
		if err != nil {
			return Value{}, 0, err
		}
		return Long(int64(binary.BigEndian.Uint64(buf[1:9]))), n, nil
	case tagDouble:
		_, n, err := d.decodeFixed(buf, 1, 8)
		if err != nil {
			return Value{}, 0, err
		}
		bits := binary.BigEndian.Uint64(buf[1:9])
		return Double(math.Float64frombits(bits)), n, nil
	case tagString:
		return d.decodeString(buf)
	case tagBinary:
		return d.decodeBinary(buf)
	case tagList:
		return d.decodeList(buf)
	case tagMap:
		return d.decodeMap(buf)
	case tagRef:
		return d.decodeRef(buf)
	case tagClassDef:
		return d.decodeClassDef(buf)
	case tagObject:
		return d.decodeObject(buf)
	default:
		return Value{}, 0, newError("unknown tag %#x", tag)
	}
}

func (d *Decoder) decodeFixed(buf []byte, off, n int) ([]byte, int, error) {
	if len(buf) < off+n {
		return nil, 0, newError("truncated value, need %d bytes", off+n)
	}
	return buf[off : off+n], off + n, nil
}

func readUint32(buf []byte, off int) (int, int, error) {
	if len(buf) < off+4 {
		return 0, 0, newError("truncated length prefix")
	}
	return int(binary.BigEndian.Uint32(buf[off : off+4])), off + 4, nil
}

func (d *Decoder) decodeString(buf []byte) (Value, int, error) {
	n, off, err := readUint32(buf, 1)
	if err != nil {
		return Value{}, 0, err
	}
	if n < 0 || len(buf) < off+n {
		return Value{}, 0, newError("truncated string of length %d", n)
	}
	return String(string(buf[off : off+n])), off + n, nil
}

func (d *Decoder) decodeBinary(buf []byte) (Value, int, error) {
	n, off, err := readUint32(buf, 1)
	if err != nil {
		return Value{}, 0, err
	}
	if n < 0 || len(buf) < off+n {
		return Value{}, 0, newError("truncated binary of length %d", n)
	}
	out := append([]byte(nil), buf[off:off+n]...)
	return Binary(out), off + n, nil
}

func (d *Decoder) decodeList(buf []byte) (Value, int, error) {
	count, off, err := readUint32(buf, 1)
	if err != nil {
		return Value{}, 0, err
	}
	if count < 0 {
		return Value{}, 0, newError("negative list count")
	}
	items := make([]Value, 0, count)
	for i := 0; i < count; i++ {
		v, n, err := d.Decode(buf[off:])
		if err != nil {
			return Value{}, 0, err
		}
		items = append(items, v)
		off += n
	}
	result := List(items)
	d.seen = append(d.seen, result)
	return result, off, nil
}

func (d *Decoder) decodeMap(buf []byte) (Value, int, error) {
	count, off, err := readUint32(buf, 1)
	if err != nil {
		return Value{}, 0, err
	}
	if count < 0 {
		return Value{}, 0, newError("negative map pair count")
	}
	entries := make([]MapEntry, 0, count)
	for i := 0; i < count; i++ {
		k, n, err := d.Decode(buf[off:])
		if err != nil {
			return Value{}, 0, err
		}
		off += n
		v, n, err := d.Decode(buf[off:])
		if err != nil {
			return Value{}, 0, err
		}
		off += n
		entries = append(entries, MapEntry{Key: k, Value: v})
	}
	result := Map(entries)
	d.seen = append(d.seen, result)
	return result, off, nil
}

func (d *Decoder) decodeRef(buf []byte) (Value, int, error) {
	idx, off, err := readUint32(buf, 1)
	if err != nil {
		return Value{}, 0, err
	}
	if idx < 0 || idx >= len(d.seen) {
		return Value{}, 0, newError("ref index %d out of range", idx)
	}
	return d.seen[idx], off, nil
}

func (d *Decoder) decodeClassDef(buf []byte) (Value, int, error) {
	classIdx, off, err := readUint32(buf, 1)
	if err != nil {
		return Value{}, 0, err
	}
	nameLen, off2, err := readUint32(buf, off)
	if err != nil {
		return Value{}, 0, err
	}
	off = off2
	if len(buf) < off+nameLen {
		return Value{}, 0, newError("truncated class name")
	}
	className := string(buf[off : off+nameLen])
	off += nameLen

	fieldCount, off2, err := readUint32(buf, off)
	if err != nil {
		return Value{}, 0, err
	}
	off = off2
	fields := make([]string, 0, fieldCount)
	for i := 0; i < fieldCount; i++ {
		fnLen, off2, err := readUint32(buf, off)
		if err != nil {
			return Value{}, 0, err
		}
		off = off2
		if len(buf) < off+fnLen {
			return Value{}, 0, newError("truncated field name")
		}
		fields = append(fields, string(buf[off:off+fnLen]))
		off += fnLen
	}

	d.classes.put(classIdx, classDef{className: className, fields: fields})

	values := make([]Value, 0, len(fields))
	for range fields {
		v, n, err := d.Decode(buf[off:])
		if err != nil {
			return Value{}, 0, err
		}
		values = append(values, v)
		off += n
	}

	result := Object(className, fields, values)
	d.seen = append(d.seen, result)
	return result, off, nil
}

func (d *Decoder) decodeObject(buf []byte) (Value, int, error) {
	classIdx, off, err := readUint32(buf, 1)
	if err != nil {
		return Value{}, 0, err
	}
	def, ok := d.classes.get(classIdx)
	if !ok {
		return Value{}, 0, newError("object references unknown class index %d", classIdx)
	}
	values := make([]Value, 0, len(def.fields))
	for range def.fields {
		v, n, err := d.Decode(buf[off:])
		if err != nil {
			return Value{}, 0, err
		}
		values = append(values, v)
		off += n
	}
	result := Object(def.className, def.fields, values)
	d.seen = append(d.seen, result)
	return result, off, nil
}
