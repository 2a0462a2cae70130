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

// Package pthrift is an Apache Thrift framed-transport codec: a 4-byte
// big-endian frame length prefix followed by that many bytes of a
// TBinaryProtocol-encoded message. The strict TBinaryProtocol message
// envelope (version+type, method name, sequence id) is parsed out of
// the frame; the struct payload that follows is passed through
// opaquely, the same deferred-body-decode choice pdubbo makes for its
// Hessian2 payload.
package pthrift

import (
	"github.com/pkg/errors"
)

const PROTO = "Thrift"

func newError(format string, args ...any) error {
	return errors.Errorf("pthrift: "+format, args...)
}

// TBinaryProtocol strict-mode message header: the top two bytes of the
// first word are 0x8001 (the strict-mode marker plus VERSION_1), and the
// low byte of that same word carries the message type.
const (
	versionMask uint32 = 0xffff0000
	version1    uint32 = 0x80010000
	typeMask    uint32 = 0x000000ff
)

// Message types (Thrift TMessageType).
const (
	messageTypeCall      = 1
	messageTypeReply     = 2
	messageTypeException = 3
	messageTypeOneway    = 4
)

var messageTypeNames = map[uint8]string{
	messageTypeCall:      "CALL",
	messageTypeReply:     "REPLY",
	messageTypeException: "EXCEPTION",
	messageTypeOneway:    "ONEWAY",
}

func messageTypeName(t uint8) string {
	if n, ok := messageTypeNames[t]; ok {
		return n
	}
	return "UNKNOWN"
}

const (
	frameLengthSize = 4

	// defaultMaxFrameLength bounds one frame so a corrupt or
	// non-framed-transport peer can't make the decoder allocate an
	// unbounded buffer from a garbage length prefix.
	defaultMaxFrameLength = 16 << 20
)

// Config configures one direction's Decoder.
type Config struct {
	MaxFrameLength int `config:"max_frame_length"`
}

func (c Config) withDefaults() Config {
	if c.MaxFrameLength <= 0 {
		c.MaxFrameLength = defaultMaxFrameLength
	}
	return c
}

// Attribute keys stashed in event.Head.Attrs.
const (
	attrMessageType = "thrift.message_type"
	attrMethodName  = "thrift.method_name"
)
