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

import "bytes"

// Compact-protocol element type codes (TCompactProtocol.Types).
const (
	compactTypeStop        = 0
	compactTypeBooleanTrue = 1
	compactTypeBooleanFalse = 2
	compactTypeByte        = 3
	compactTypeI16         = 4
	compactTypeI32         = 5
	compactTypeI64         = 6
	compactTypeDouble      = 7
	compactTypeBinary      = 8
	compactTypeList        = 9
	compactTypeSet         = 10
	compactTypeMap         = 11
	compactTypeStruct      = 12
)

func writeUvarint(buf *bytes.Buffer, v uint64) {
	for v >= 0x80 {
		buf.WriteByte(byte(v) | 0x80)
		v >>= 7
	}
	buf.WriteByte(byte(v))
}

func readUvarint(buf []byte) (uint64, int, error) {
	var v uint64
	var shift uint
	for i := 0; i < len(buf); i++ {
		b := buf[i]
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, i + 1, nil
		}
		shift += 7
		if shift >= 64 {
			return 0, 0, newError("varint overflow")
		}
	}
	return 0, 0, newError("truncated varint")
}

// writeCompactMapBegin writes a compact-protocol map header. The
// Apache Thrift compact protocol special-cases an empty map: it writes
// only the zero-size varint and never writes the key/value type byte
// that follows a non-empty map's size, since there are no elements
// whose types that byte would describe.
func writeCompactMapBegin(buf *bytes.Buffer, size int, keyType, valueType byte) {
	writeUvarint(buf, uint64(size))
	if size == 0 {
		return
	}
	buf.WriteByte(keyType<<4 | valueType)
}

// readCompactMapBegin reads a compact-protocol map header written by
// writeCompactMapBegin, including its empty-map special case.
func readCompactMapBegin(buf []byte) (size int, keyType, valueType byte, consumed int, err error) {
	sz, n, err := readUvarint(buf)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	if sz == 0 {
		return 0, 0, 0, n, nil
	}
	if len(buf) < n+1 {
		return 0, 0, 0, 0, newError("truncated map type byte")
	}
	typeByte := buf[n]
	return int(sz), typeByte >> 4, typeByte & 0x0f, n + 1, nil
}
