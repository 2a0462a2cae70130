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

// Package pprotobuf decodes protobuf-encoded message bodies carried over
// a gRPC-style length-delimited frame: a 1-byte compressed flag followed
// by a 4-byte big-endian message length. The framed body is itself a
// sequence of tag-prefixed protobuf fields (wire types 0/1/2/5);
// message.go decodes those fields generically, keyed by field number.
package pprotobuf

import (
	"github.com/pkg/errors"
)

const PROTO = "Protobuf"

func newError(format string, args ...any) error {
	return errors.Errorf("pprotobuf: "+format, args...)
}

// Protobuf wire types (field key low 3 bits).
const (
	wireVarint  = 0
	wireFixed64 = 1
	wireBytes   = 2
	wireFixed32 = 5
)

var wireTypeNames = map[byte]string{
	wireVarint:  "VARINT",
	wireFixed64: "I64",
	wireBytes:   "LEN",
	wireFixed32: "I32",
}

func wireTypeName(t byte) string {
	if n, ok := wireTypeNames[t]; ok {
		return n
	}
	return "UNKNOWN"
}

const (
	// frameHeaderLen is the gRPC-style length-delimited message frame:
	// 1 compressed-flag byte, then a 4-byte big-endian message length.
	frameHeaderLen = 5

	// defaultMaxMessageLength bounds one frame so a corrupt or
	// non-framed peer can't make the decoder allocate an unbounded
	// buffer from a garbage length prefix.
	defaultMaxMessageLength = 16 << 20
)

// Config configures one direction's Decoder.
type Config struct {
	MaxMessageLength int `config:"max_message_length"`
}

func (c Config) withDefaults() Config {
	if c.MaxMessageLength <= 0 {
		c.MaxMessageLength = defaultMaxMessageLength
	}
	return c
}

// Attribute keys stashed in event.Head.Attrs.
const (
	attrCompressed = "protobuf.compressed"
)
