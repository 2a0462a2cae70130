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

// Encoder serializes Values using the same class-definition caching
// scheme Decoder expects to read back: the first instance of a given
// class name writes its field layout inline, every later instance of
// that class just references it by index.
type Encoder struct {
	classes map[string]int
	next    int
}

// NewEncoder constructs an Encoder. Like Decoder, its class-index
// assignments are only valid for the one body being built; construct
// a new Encoder per outbound RPC body.
func NewEncoder() *Encoder {
	return &Encoder{classes: make(map[string]int)}
}

// Encode appends the wire form of v to dst and returns the result.
func (en *Encoder) Encode(dst []byte, v Value) []byte {
	switch v.Kind {
	case KindNull:
		return append(dst, tagNull)
	case KindBool:
		if v.Bool {
			return append(dst, tagTrue)
		}
		return append(dst, tagFalse)
	case KindInt:
		dst = append(dst, tagInt)
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(v.Int))
		return append(dst, b[:]...)
	case KindLong:
		dst = append(dst, tagLong)
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(v.Long))
		return append(dst, b[:]...)
	case KindDouble:
		dst = append(dst, tagDouble)
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], math.Float64bits(v.Double))
		return append(dst, b[:]...)
	case KindString:
		dst = append(dst, tagString)
		dst = appendLenPrefixed(dst, []byte(v.Str))
		return dst
	case KindBinary:
		dst = append(dst, tagBinary)
		dst = appendLenPrefixed(dst, v.Bytes)
		return dst
	case KindList:
		dst = append(dst, tagList)
		dst = appendUint32(dst, len(v.List))
		for _, item := range v.List {
			dst = en.Encode(dst, item)
		}
		return dst
	case KindMap:
		dst = append(dst, tagMap)
		dst = appendUint32(dst, len(v.Map))
		for _, entry := range v.Map {
			dst = en.Encode(dst, entry.Key)
			dst = en.Encode(dst, entry.Value)
		}
		return dst
	case KindObject:
		return en.encodeObject(dst, v)
	default:
		return append(dst, tagNull)
	}
}

func (en *Encoder) encodeObject(dst []byte, v Value) []byte {
	if idx, ok := en.classes[v.ClassName]; ok {
		dst = append(dst, tagObject)
		dst = appendUint32(dst, idx)
		for _, fv := range v.Values {
			dst = en.Encode(dst, fv)
		}
		return dst
	}

	idx := en.next
	en.next++
	en.classes[v.ClassName] = idx

	dst = append(dst, tagClassDef)
	dst = appendUint32(dst, idx)
	dst = appendLenPrefixed(dst, []byte(v.ClassName))
	dst = appendUint32(dst, len(v.Fields))
	for _, f := range v.Fields {
		dst = appendLenPrefixed(dst, []byte(f))
	}
	for _, fv := range v.Values {
		dst = en.Encode(dst, fv)
	}
	return dst
}

func appendUint32(dst []byte, n int) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(n))
	return append(dst, b[:]...)
}

func appendLenPrefixed(dst []byte, p []byte) []byte {
	dst = appendUint32(dst, len(p))
	return append(dst, p...)
}
