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

// Package pdubbo is an Apache Dubbo RPC wire codec: a fixed 16-byte
// header (2-byte magic, 1 flag byte, 1 status byte, 8-byte request ID,
// 4-byte body length) followed by that many bytes of serialized body.
// The request ID correlates a request with its response, so it becomes
// event.Event's StreamID.
package pdubbo

import (
	"github.com/pkg/errors"
)

const PROTO = "Dubbo"

func newError(format string, args ...any) error {
	return errors.Errorf("pdubbo: "+format, args...)
}

// magic is Dubbo's fixed 2-byte frame marker.
const (
	magicHigh = 0xda
	magicLow  = 0xbb
)

// Flag bits (byte index 2 of the header).
const (
	flagRequest      = 0x80 // 1 = request, 0 = response
	flagTwoWay       = 0x40 // request only: expects a response
	flagEvent        = 0x20 // event frame (e.g. heartbeat), not a normal call
	serializationMask = 0x1f
)

// Response status codes (byte index 3 of the header, response only).
const (
	statusOK                = 20
	statusClientTimeout     = 30
	statusServerTimeout     = 31
	statusBadRequest        = 40
	statusBadResponse       = 50
	statusServiceNotFound   = 60
	statusServiceError      = 70
	statusServerError       = 80
	statusClientError       = 90
	statusServerThreadpoolExhausted = 100
)

const headerLength = 16

// maxBodyLength bounds one frame's declared body length; Dubbo itself
// defaults this negotiation to 8MB.
const maxBodyLength = 8 << 20

// Config configures one direction's Decoder. protocol.New passes the
// zero value, so the defaults apply there.
type Config struct {
	MaxBodyLength int `config:"max_body_length"`
}

func (c Config) withDefaults() Config {
	if c.MaxBodyLength <= 0 {
		c.MaxBodyLength = maxBodyLength
	}
	return c
}

// Attribute keys stashed in event.Head.Attrs.
const (
	attrRequest        = "dubbo.request"
	attrTwoWay         = "dubbo.two_way"
	attrEvent          = "dubbo.event"
	attrSerializationID = "dubbo.serialization_id"
	attrStatus         = "dubbo.status"
)

func statusName(s byte) string {
	switch s {
	case statusOK:
		return "OK"
	case statusClientTimeout:
		return "CLIENT_TIMEOUT"
	case statusServerTimeout:
		return "SERVER_TIMEOUT"
	case statusBadRequest:
		return "BAD_REQUEST"
	case statusBadResponse:
		return "BAD_RESPONSE"
	case statusServiceNotFound:
		return "SERVICE_NOT_FOUND"
	case statusServiceError:
		return "SERVICE_ERROR"
	case statusServerError:
		return "SERVER_ERROR"
	case statusClientError:
		return "CLIENT_ERROR"
	case statusServerThreadpoolExhausted:
		return "SERVER_THREADPOOL_EXHAUSTED"
	default:
		return "UNKNOWN"
	}
}
