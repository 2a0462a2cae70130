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

// Package phttp1 is the HTTP/1.1 codec: a line-oriented deframer.Deframer
// state machine emitting and consuming event.Event. Unlike phttp2,
// HTTP/1 has no stream multiplexing, so every event this codec produces
// or consumes carries StreamID 0; a decoder handles one request or
// response at a time, end to end, before the next start line arrives.
package phttp1

import (
	"github.com/pkg/errors"
)

const PROTO = "HTTP/1.1"

func newError(format string, args ...any) error {
	return errors.Errorf("phttp1: "+format, args...)
}

// Config configures one direction's Decoder. protocol.New passes the
// zero value, so the defaults apply there.
type Config struct {
	// MaxHeaderBytes bounds the accumulated start-line + header block
	// before a message is rejected as malformed or abusive.
	MaxHeaderBytes int `config:"max_header_bytes"`
}

const defaultMaxHeaderBytes = 1 << 20

func (c Config) withDefaults() Config {
	if c.MaxHeaderBytes <= 0 {
		c.MaxHeaderBytes = defaultMaxHeaderBytes
	}
	return c
}

// RequestLine carries the exact method/target/proto an inbound request
// line decoded to, stashed in event.Head.Extra so an Encoder can
// reproduce it verbatim on replay.
type RequestLine struct {
	Method string
	Target string
	Proto  string
}

// StatusLine carries the exact proto/status-code/reason-phrase an
// inbound status line decoded to.
type StatusLine struct {
	Proto      string
	StatusCode int
	Reason     string
}

// Pseudo-attribute keys stashed in event.Head.Attrs alongside the header
// fields, mirroring phttp2's pseudo-header convention so filters that
// don't care about the protocol-specific Extra struct can still read
// the request/response line through the flat attribute bag.
const (
	attrMethod = ":method"
	attrPath   = ":path"
	attrStatus = ":status"
)
