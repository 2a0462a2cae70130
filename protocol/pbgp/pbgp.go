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

// Package pbgp is a BGP-4 message codec: a 19-byte fixed header (a
// 16-byte marker, a 2-byte total message length, and a 1-byte message
// type) followed by length-19 bytes of type-specific body, carried
// over a long-lived TCP session. OPEN and NOTIFICATION carry a handful
// of fixed leading fields that are parsed eagerly into attributes;
// UPDATE and KEEPALIVE bodies are passed through opaquely, the same
// deferred-body-decode choice pdubbo and pthrift make for their own
// opaque payloads.
package pbgp

import (
	"github.com/pkg/errors"
)

const PROTO = "BGP"

func newError(format string, args ...any) error {
	return errors.Errorf("pbgp: "+format, args...)
}

const markerLen = 16

// Message types (RFC 4271 4.1).
const (
	typeOpen         = 1
	typeUpdate       = 2
	typeNotification = 3
	typeKeepalive    = 4
	typeRouteRefresh = 5
)

var typeNames = map[uint8]string{
	typeOpen:         "OPEN",
	typeUpdate:       "UPDATE",
	typeNotification: "NOTIFICATION",
	typeKeepalive:    "KEEPALIVE",
	typeRouteRefresh: "ROUTE-REFRESH",
}

func typeName(t uint8) string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return "UNKNOWN"
}

var reverseTypeNames = func() map[string]uint8 {
	m := make(map[string]uint8, len(typeNames))
	for k, v := range typeNames {
		m[v] = k
	}
	return m
}()

const (
	headerLength = markerLen + 2 + 1 // marker + length + type

	// minMessageLength is the smallest legal total message length: a
	// bare header with no body (KEEPALIVE).
	minMessageLength = headerLength

	// defaultMaxMessageLength matches RFC 4271's classic (non-extended)
	// message size ceiling.
	defaultMaxMessageLength = 4096
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
	attrMessageType = "bgp.type"

	// OPEN fields.
	attrVersion   = "bgp.open.version"
	attrMyAS      = "bgp.open.my_as"
	attrHoldTime  = "bgp.open.hold_time"
	attrRouterID  = "bgp.open.router_id"
	attrOptParams = "bgp.open.opt_param_len"

	// NOTIFICATION fields.
	attrErrorCode    = "bgp.notification.error_code"
	attrErrorSubcode = "bgp.notification.error_subcode"
)
