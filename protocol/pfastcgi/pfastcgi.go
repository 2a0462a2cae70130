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

// Package pfastcgi is a FastCGI record codec: an 8-byte header (version,
// type, 2-byte request ID, 2-byte content length, 1 byte padding
// length, 1 reserved byte) followed by contentLength bytes of record
// body and paddingLength bytes of ignorable padding. A FastCGI
// connection multiplexes independent requests by request ID, mapped
// onto event.Event's StreamID the way phttp2 maps HTTP/2's stream ID.
package pfastcgi

import (
	"github.com/pkg/errors"
)

const PROTO = "FastCGI"

func newError(format string, args ...any) error {
	return errors.Errorf("pfastcgi: "+format, args...)
}

const protocolVersion1 = 1

// Record types (FastCGI spec §3.3).
const (
	typeBeginRequest    = 1
	typeAbortRequest    = 2
	typeEndRequest      = 3
	typeParams          = 4
	typeStdin           = 5
	typeStdout          = 6
	typeStderr          = 7
	typeData            = 8
	typeGetValues       = 9
	typeGetValuesResult = 10
	typeUnknownType     = 11
)

var typeNames = map[uint8]string{
	typeBeginRequest:    "BEGIN_REQUEST",
	typeAbortRequest:    "ABORT_REQUEST",
	typeEndRequest:      "END_REQUEST",
	typeParams:          "PARAMS",
	typeStdin:           "STDIN",
	typeStdout:          "STDOUT",
	typeStderr:          "STDERR",
	typeData:            "DATA",
	typeGetValues:       "GET_VALUES",
	typeGetValuesResult: "GET_VALUES_RESULT",
	typeUnknownType:     "UNKNOWN_TYPE",
}

func typeName(t uint8) string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return "UNKNOWN"
}

// Roles carried by a BEGIN_REQUEST body's first 2 bytes.
const (
	roleResponder uint16 = 1
	roleAuthorizer uint16 = 2
	roleFilter     uint16 = 3
)

func roleName(r uint16) string {
	switch r {
	case roleResponder:
		return "RESPONDER"
	case roleAuthorizer:
		return "AUTHORIZER"
	case roleFilter:
		return "FILTER"
	default:
		return "UNKNOWN"
	}
}

const headerLength = 8

// maxContentLength is the protocol's own ceiling (a uint16 field).
const maxContentLength = 0xffff

// Config configures one direction's Decoder. protocol.New passes the
// zero value.
type Config struct{}

func (c Config) withDefaults() Config { return c }

// Attribute keys stashed in event.Head.Attrs.
const (
	attrRecordType = "fastcgi.type"
	attrRole       = "fastcgi.role"
	attrKeepConn   = "fastcgi.keep_conn"
	attrAppStatus  = "fastcgi.app_status"
	attrProtoStat  = "fastcgi.protocol_status"
)
