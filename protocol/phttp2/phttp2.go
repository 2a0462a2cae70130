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

// Package phttp2 is the HTTP/2 worked example: a full duplex frame codec
// built on deframer.Deframer, emitting and consuming event.Event instead
// of archiving one-shot request/response records. Frame layout, flag
// bits and the CONTINUATION accumulation strategy are grounded on the
// original packet-sniffing decoder's streamDecoder; this version adds a
// FrameEncoder (the original only ever decoded), per-stream/per-connection
// flow control, and GOAWAY/RST_STREAM error surfacing.
package phttp2

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

const PROTO = "HTTP/2"

func newError(format string, args ...any) error {
	return errors.Errorf("phttp2: "+format, args...)
}

// Pseudo-header names. Pseudo-headers must appear before regular
// headers in encoder output and are rejected if duplicated or found
// after a regular header on decode.
const (
	headerMethod    = ":method"
	headerScheme    = ":scheme"
	headerPath      = ":path"
	headerAuthority = ":authority"
	headerStatus    = ":status"
)

var pseudoHeaderOrder = []string{headerMethod, headerScheme, headerAuthority, headerPath, headerStatus}

// Frame types (RFC 7540 §6).
const (
	frameData         uint8 = 0x0
	frameHeaders      uint8 = 0x1
	framePriority     uint8 = 0x2
	frameRSTStream    uint8 = 0x3
	frameSettings     uint8 = 0x4
	framePushPromise  uint8 = 0x5
	framePing         uint8 = 0x6
	frameGoAway       uint8 = 0x7
	frameWindowUpdate uint8 = 0x8
	frameContinuation uint8 = 0x9
)

// Frame flags.
const (
	flagEndStream  uint8 = 0x1
	flagAck        uint8 = 0x1 // SETTINGS/PING
	flagEndHeaders uint8 = 0x4
	flagPadded     uint8 = 0x8
	flagPriority   uint8 = 0x20
)

// headerLength is the fixed 9-byte frame header size.
const headerLength = 9

// maxPayloadSize is the largest payload length expressible in the 24-bit
// Length field, and the ceiling this codec enforces for max_frame_size.
const maxPayloadSize = 0xFFFFFF

const headerMask = 0x7fffffff

// Error codes (RFC 7540 §7), used on RST_STREAM/GOAWAY.
const (
	errCodeNoError            uint32 = 0x0
	errCodeProtocolError      uint32 = 0x1
	errCodeInternalError      uint32 = 0x2
	errCodeFlowControlError   uint32 = 0x3
	errCodeSettingsTimeout    uint32 = 0x4
	errCodeStreamClosed       uint32 = 0x5
	errCodeFrameSizeError     uint32 = 0x6
	errCodeRefusedStream      uint32 = 0x7
	errCodeCancel             uint32 = 0x8
	errCodeCompressionError   uint32 = 0x9
	errCodeConnectError       uint32 = 0xa
	errCodeEnhanceYourCalm    uint32 = 0xb
	errCodeInadequateSecurity uint32 = 0xc
	errCodeHTTP11Required     uint32 = 0xd
)

// SETTINGS identifiers (RFC 7540 §6.5.2) relevant to this codec.
const (
	settingsHeaderTableSize      uint16 = 0x1
	settingsMaxConcurrentStreams uint16 = 0x3
	settingsInitialWindowSize    uint16 = 0x4
	settingsMaxFrameSize         uint16 = 0x5
	settingsMaxHeaderListSize    uint16 = 0x6
)

// defaultInitialWindowSize is RFC 7540's default per-stream/connection
// flow-control window before any SETTINGS exchange.
const defaultInitialWindowSize = 65535

// defaultMaxConcurrentStreams bounds the per-connection stream table,
// matching the original decoder's eviction threshold.
const defaultMaxConcurrentStreams = 100

// Config configures one HTTP/2 connection's Decoder/Encoder pair.
// protocol.New and protocol.NewEncoder pass the zero value, so the
// defaults apply there.
type Config struct {
	ConnectionWindowSize int `config:"connection_window_size"`
	StreamWindowSize     int `config:"stream_window_size"`
	MaxConcurrentStreams int `config:"max_concurrent_streams"`
	MaxFrameSize         int `config:"max_frame_size"`
	MaxHeaderListSize    int `config:"max_header_list_size"`
}

// withDefaults fills unset fields with RFC 7540 defaults.
func (c Config) withDefaults() Config {
	if c.ConnectionWindowSize <= 0 {
		c.ConnectionWindowSize = defaultInitialWindowSize
	}
	if c.StreamWindowSize <= 0 {
		c.StreamWindowSize = defaultInitialWindowSize
	}
	if c.MaxConcurrentStreams <= 0 {
		c.MaxConcurrentStreams = defaultMaxConcurrentStreams
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = maxPayloadSize
	}
	if c.MaxHeaderListSize <= 0 {
		c.MaxHeaderListSize = 1 << 20
	}
	return c
}

// frameHeader is the parsed 9-byte frame prefix.
type frameHeader struct {
	length   uint32
	typ      uint8
	flags    uint8
	streamID uint32
}

func parseFrameHeader(b []byte) frameHeader {
	return frameHeader{
		length:   uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2]),
		typ:      b[3],
		flags:    b[4],
		streamID: binary.BigEndian.Uint32(b[5:9]) & headerMask,
	}
}

func putFrameHeader(b []byte, length uint32, typ, flags uint8, streamID uint32) {
	b[0] = byte(length >> 16)
	b[1] = byte(length >> 8)
	b[2] = byte(length)
	b[3] = typ
	b[4] = flags
	binary.BigEndian.PutUint32(b[5:9], streamID&headerMask)
}
