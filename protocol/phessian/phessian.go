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

// Package phessian decodes the Hessian 2.0-style self-describing value
// format Dubbo most commonly uses to serialize its RPC call/result
// bodies (the opaque bytes pdubbo hands off rather than parsing
// itself). Values are dispatched on a single leading tag byte; compound
// values (object instances) that repeat the same class layout cache
// that layout in a bounded LRU.
//
// This codec's tag bytes are its own compact scheme, not a byte-exact
// reimplementation of the Java Hessian 2.0 wire grammar's compact
// integer/string/list encodings — those pack type information across
// wide, context-dependent tag ranges that aren't worth reproducing
// here when all that's needed is a faithful decode/encode round trip
// for RPC argument and result values.
package phessian

import (
	"github.com/pkg/errors"
)

func newError(format string, args ...any) error {
	return errors.Errorf("phessian: "+format, args...)
}

// Tag bytes. Chosen to dispatch on a single leading byte, mirroring
// the RESP/Hessian "type byte first" idiom.
const (
	tagNull = 0xc0
	tagTrue = 0xc1
	tagFalse = 0xc2
	tagInt    = 0xc3 // 4 bytes, big-endian, two's complement
	tagLong   = 0xc4 // 8 bytes, big-endian, two's complement
	tagDouble = 0xc5 // 8 bytes, IEEE 754 big-endian
	tagString = 0xc6 // 4-byte length prefix + UTF-8 bytes
	tagBinary = 0xc7 // 4-byte length prefix + raw bytes
	tagList   = 0xc8 // 4-byte count + that many values
	tagMap    = 0xc9 // 4-byte pair count + that many key/value pairs
	tagRef    = 0xca // 4-byte index into the decoder's seen-object table
	tagClassDef = 0xcb // class name + field names, then an object instance
	tagObject   = 0xcc // class-cache index, then field values in class order
)

// defaultClassCacheSize bounds how many distinct object layouts a
// Decoder remembers before evicting the least recently used one.
const defaultClassCacheSize = 256

// Config configures a Decoder.
type Config struct {
	ClassCacheSize int `config:"class_cache_size"`
}

func (c Config) withDefaults() Config {
	if c.ClassCacheSize <= 0 {
		c.ClassCacheSize = defaultClassCacheSize
	}
	return c
}
